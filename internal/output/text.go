package output

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// FormatText writes a human readable summary of the report
func FormatText(report *Report, writer io.Writer) error {
	var b strings.Builder

	fmt.Fprintf(&b, "%s %s", report.AppName, report.Version)
	if report.Origin != "" {
		fmt.Fprintf(&b, " (%s)", report.Origin)
	}
	b.WriteString("\n")

	if install := report.Install; install != nil {
		fmt.Fprintf(&b, "\nInstalled generation %s in %s\n", install.Generation, install.Duration.Round(time.Millisecond))
		fmt.Fprintf(&b, "  %d of %d assets cached\n", len(install.Cached), len(install.Cached)+len(install.Failed))
		for _, failure := range install.Failed {
			fmt.Fprintf(&b, "  ⚠️  %s: %v\n", failure.URL, failure.Err)
		}
	}

	if activate := report.Activate; activate != nil {
		fmt.Fprintf(&b, "\nActivated generation %s\n", activate.Generation)
		for _, name := range activate.Deleted {
			fmt.Fprintf(&b, "  deleted %s\n", name)
		}
		for _, failure := range activate.Failed {
			fmt.Fprintf(&b, "  ⚠️  could not delete %s: %v\n", failure.Generation, failure.Err)
		}
	}

	if info := report.Cache; info != nil {
		fmt.Fprintf(&b, "\nGeneration: %s\n", info.GenerationID)
		fmt.Fprintf(&b, "State:      %s\n", info.State)
		fmt.Fprintf(&b, "Entries:    %s\n", humanize.Comma(int64(info.EntryCount)))
		fmt.Fprintf(&b, "Size:       %s\n", humanize.Bytes(uint64(info.Bytes)))
	}

	_, err := io.WriteString(writer, b.String())
	return err
}
