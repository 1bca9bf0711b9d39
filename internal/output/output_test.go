package output

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/Jake-Mok-Nelson/offline-cache/internal/lifecycle"
)

func sampleReport() *Report {
	origin, _ := url.Parse("http://localhost:3000")
	config := &lifecycle.Config{AppName: "app", Version: "v2", Origin: origin}
	install := &lifecycle.InstallReport{
		Generation: "app-v2",
		Cached:     []string{"http://localhost:3000/", "http://localhost:3000/app.css"},
		Failed:     []lifecycle.AssetFailure{{URL: "http://localhost:3000/missing.js", Err: errors.New("status 404")}},
		Duration:   1500 * time.Millisecond,
	}
	activate := &lifecycle.ActivateReport{Generation: "app-v2", Deleted: []string{"app-v1"}}
	info := &lifecycle.Info{GenerationID: "app-v2", EntryCount: 2, Bytes: 2048, State: lifecycle.StateActive}
	return BuildReport(config, install, activate, info)
}

func TestBuildReport_Summary(t *testing.T) {
	report := sampleReport()

	want := Summary{Cached: 2, Failed: 1, GenerationsDeleted: 1, Entries: 2, Bytes: 2048}
	if report.Summary != want {
		t.Errorf("Expected summary %+v, got %+v", want, report.Summary)
	}
	if report.Origin != "http://localhost:3000" {
		t.Errorf("Expected origin to be recorded, got %q", report.Origin)
	}
}

func TestBuildReport_InfoOnly(t *testing.T) {
	report := BuildReport(nil, nil, nil, &lifecycle.Info{GenerationID: "app-v1", EntryCount: 3})
	if report.Summary.Entries != 3 || report.Summary.Cached != 0 {
		t.Errorf("Unexpected summary: %+v", report.Summary)
	}
}

func TestFormatJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := FormatJSON(sampleReport(), &buf, false); err != nil {
		t.Fatalf("FormatJSON failed: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("Output is not valid JSON: %v", err)
	}
	cache, ok := decoded["cache"].(map[string]any)
	if !ok {
		t.Fatalf("Expected cache object, got %v", decoded["cache"])
	}
	if cache["generationId"] != "app-v2" {
		t.Errorf("Expected generationId app-v2, got %v", cache["generationId"])
	}
	if cache["state"] != "active" {
		t.Errorf("Expected state active, got %v", cache["state"])
	}
}

func TestFormatJSON_Pretty(t *testing.T) {
	var buf bytes.Buffer
	if err := FormatJSON(sampleReport(), &buf, true); err != nil {
		t.Fatalf("FormatJSON failed: %v", err)
	}
	if !strings.Contains(buf.String(), "\n  \"app_name\": \"app\"") {
		t.Errorf("Expected indented output, got:\n%s", buf.String())
	}
}

func TestFormatText(t *testing.T) {
	var buf bytes.Buffer
	if err := FormatText(sampleReport(), &buf); err != nil {
		t.Fatalf("FormatText failed: %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"app v2 (http://localhost:3000)",
		"Installed generation app-v2 in 1.5s",
		"2 of 3 assets cached",
		"missing.js: status 404",
		"deleted app-v1",
		"State:      active",
		"Size:       2.0 kB",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected output to contain %q, got:\n%s", want, out)
		}
	}
}
