package output

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/Jake-Mok-Nelson/offline-cache/internal/lifecycle"
)

// Report is the result of a CLI cache operation
type Report struct {
	AppName   string                    `json:"app_name"`
	Version   string                    `json:"version"`
	Origin    string                    `json:"origin"`
	Generated time.Time                 `json:"generated"`
	Install   *lifecycle.InstallReport  `json:"install,omitempty"`
	Activate  *lifecycle.ActivateReport `json:"activate,omitempty"`
	Cache     *lifecycle.Info           `json:"cache,omitempty"`
	Summary   Summary                   `json:"summary"`
}

// Summary provides aggregate statistics about the operation
type Summary struct {
	Cached             int   `json:"cached"`
	Failed             int   `json:"failed"`
	GenerationsDeleted int   `json:"generations_deleted"`
	Entries            int   `json:"entries"`
	Bytes              int64 `json:"bytes"`
}

// FormatJSON writes the report as JSON to the writer
func FormatJSON(report *Report, writer io.Writer, pretty bool) error {
	var data []byte
	var err error

	if pretty {
		data, err = json.MarshalIndent(report, "", "  ")
	} else {
		data, err = json.Marshal(report)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	_, err = writer.Write(data)
	if err != nil {
		return fmt.Errorf("failed to write JSON: %w", err)
	}

	_, err = writer.Write([]byte("\n"))
	return err
}

// BuildReport assembles a report from whichever lifecycle results are present
func BuildReport(config *lifecycle.Config, install *lifecycle.InstallReport, activate *lifecycle.ActivateReport, info *lifecycle.Info) *Report {
	report := &Report{
		Generated: time.Now().UTC(),
		Install:   install,
		Activate:  activate,
		Cache:     info,
	}
	if config != nil {
		report.AppName = config.AppName
		report.Version = config.Version
		if config.Origin != nil {
			report.Origin = config.Origin.String()
		}
	}
	report.Summary = calculateSummary(report)
	return report
}

func calculateSummary(report *Report) Summary {
	var summary Summary
	if report.Install != nil {
		summary.Cached = len(report.Install.Cached)
		summary.Failed = len(report.Install.Failed)
	}
	if report.Activate != nil {
		summary.GenerationsDeleted = len(report.Activate.Deleted)
	}
	if report.Cache != nil {
		summary.Entries = report.Cache.EntryCount
		summary.Bytes = report.Cache.Bytes
	}
	return summary
}
