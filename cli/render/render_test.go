package render

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"json", FormatJSON, false},
		{"JSON", FormatJSON, false},
		{"Table", FormatTable, false},
		{"yaml", FormatYAML, false},
		{"", "", false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseFormat(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	_, err := ParseFormat("csv")
	if err == nil || !strings.Contains(err.Error(), "json, table, or yaml") {
		t.Errorf("error should list valid formats, got %v", err)
	}
}

func render(t *testing.T, format Format, noColor bool, data any) string {
	t.Helper()
	var buf bytes.Buffer
	if err := NewRendererWithWriter(format, noColor, &buf).Render(data); err != nil {
		t.Fatalf("Render: %v", err)
	}
	return buf.String()
}

func TestRender_Encoders(t *testing.T) {
	data := map[string]string{"run_id": "r1"}

	if got := render(t, FormatJSON, false, data); got != "{\n  \"run_id\": \"r1\"\n}\n" {
		t.Errorf("json = %q", got)
	}
	if got := render(t, FormatYAML, false, data); got != "run_id: r1\n" {
		t.Errorf("yaml = %q", got)
	}
	if render(t, FormatJSON, true, data) != render(t, FormatJSON, false, data) {
		t.Error("--no-color changed json output")
	}
}

func TestRender_UnknownFormat(t *testing.T) {
	var buf bytes.Buffer
	if err := NewRendererWithWriter("xml", false, &buf).Render(1); err == nil {
		t.Error("expected error for unknown format")
	}
}

type row struct {
	EventType string    `json:"event_type"`
	RunID     string    `json:"run_id,omitempty"`
	Tags      []string  `json:"tags"`
	At        time.Time `json:"at"`
	hidden    int
}

func TestRender_TableRows(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	data := []*row{
		{EventType: "worker_heartbeat", RunID: "r1", Tags: []string{"a", "b"}, At: at},
		{EventType: "done", At: at},
	}
	got := render(t, FormatTable, true, data)
	lines := strings.Split(strings.TrimRight(got, "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("want header and 2 rows, got %q", got)
	}
	if lines[0] != "event_type        run_id  tags       at" {
		t.Errorf("header = %q", lines[0])
	}
	if lines[1] != "worker_heartbeat  r1      [2 items]  2026-03-01T12:00:00Z" {
		t.Errorf("row 1 = %q", lines[1])
	}
	if !strings.HasPrefix(lines[2], "done              ") || !strings.Contains(lines[2], "[]") {
		t.Errorf("row 2 = %q", lines[2])
	}
}

func TestRender_TableHeaderStyle(t *testing.T) {
	data := []row{{EventType: "done"}}
	plain := render(t, FormatTable, true, data)
	if strings.Contains(plain, "\x1b[") {
		t.Errorf("--no-color output has escape codes: %q", plain)
	}
	styled := render(t, FormatTable, false, data)
	_, plainBody, _ := strings.Cut(plain, "\n")
	_, styledBody, _ := strings.Cut(styled, "\n")
	if plainBody != styledBody {
		t.Errorf("styling should only touch the header:\n%q\n%q", plainBody, styledBody)
	}
}

func TestRender_TableEmpty(t *testing.T) {
	if got := render(t, FormatTable, false, []row{}); got != "(no results)\n" {
		t.Errorf("got %q", got)
	}
}

func TestRender_TableFields(t *testing.T) {
	got := render(t, FormatTable, false, &row{EventType: "report", RunID: "r9"})
	for _, want := range []string{"event_type:  report", "run_id:", "r9", "tags:"} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in %q", want, got)
		}
	}
	if strings.Contains(got, "hidden") {
		t.Errorf("unexported field rendered: %q", got)
	}
}

func TestRender_TableMapKeysSorted(t *testing.T) {
	got := render(t, FormatTable, true, []map[string]any{
		{"zeta": 1, "alpha": "x"},
		{"alpha": "y"},
	})
	lines := strings.Split(strings.TrimRight(got, "\n"), "\n")
	if lines[0] != "alpha  zeta" {
		t.Errorf("header = %q", lines[0])
	}
	if strings.TrimRight(lines[2], " ") != "y" {
		t.Errorf("missing key should render empty, got %q", lines[2])
	}
}
