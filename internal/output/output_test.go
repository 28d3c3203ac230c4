// internal/output/output_test.go
// Unit tests for report formatters

package output

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aspnmy/mirapipe/internal/models"
)

func sampleReport() *models.ScanReport {
	return models.BuildReport("run-1", "127.0.0.1", time.Now().Add(-1500*time.Millisecond), map[int]models.Outcome{
		22:   models.Open(),
		81:   models.Closed(),
		443:  models.TLSNegotiated("TLSv1.3"),
		8443: models.TLSSuspected("tls: unknown certificate authority"),
		9999: models.ConnectError("i/o timeout"),
	})
}

func sampleResult() *models.ProbeResult {
	return &models.ProbeResult{
		Target:    models.Target{Host: "127.0.0.1", Port: 443},
		Outcome:   models.TLSNegotiated("TLSv1.3"),
		Latency:   2500 * time.Microsecond,
		Timestamp: time.Now(),
	}
}

func TestConsoleFormatter_Report(t *testing.T) {
	var buf bytes.Buffer
	f := NewConsoleFormatter(&buf, false, false)

	if err := f.WriteReport(sampleReport()); err != nil {
		t.Fatalf("WriteReport() error = %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"Scan of 127.0.0.1",
		"Ports: 5 | Open: 1 | TLS: 1 | Maybe TLS: 1 | Errors: 1 | Closed: 1",
		"PORT", "STATE", "DETAIL",
		"TLSv1.3", "maybe-tls", "i/o timeout",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "\x1b[") {
		t.Error("uncoloured output contains escape sequences")
	}
}

func TestConsoleFormatter_NoOpenPorts(t *testing.T) {
	var buf bytes.Buffer
	f := NewConsoleFormatter(&buf, false, false)

	report := models.BuildReport("run-2", "localhost", time.Now(), map[int]models.Outcome{
		1: models.Closed(),
		2: models.Closed(),
	})
	if err := f.WriteReport(report); err != nil {
		t.Fatalf("WriteReport() error = %v", err)
	}
	if !strings.Contains(buf.String(), "No open ports found") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestConsoleFormatter_Stream(t *testing.T) {
	tests := []struct {
		name    string
		verbose bool
		want    string
	}{
		{"verbose", true, "Port 443: Open (TLSv1.3)\n"},
		{"quiet", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			f := NewConsoleFormatter(&buf, false, tt.verbose)
			if err := f.Write(sampleResult()); err != nil {
				t.Fatalf("Write() error = %v", err)
			}
			if buf.String() != tt.want {
				t.Errorf("Write() output = %q, want %q", buf.String(), tt.want)
			}
		})
	}
}

func TestJSONLFormatter(t *testing.T) {
	var buf bytes.Buffer
	f := NewJSONLFormatter(&buf)

	if err := f.Write(sampleResult()); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := f.WriteReport(sampleReport()); err != nil {
		t.Fatalf("WriteReport() error = %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	var lines []map[string]interface{}
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		var m map[string]interface{}
		if err := json.Unmarshal(scanner.Bytes(), &m); err != nil {
			t.Fatalf("line %q is not JSON: %v", scanner.Text(), err)
		}
		lines = append(lines, m)
	}
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}

	result := lines[0]
	if result["type"] != "result" || result["outcome"] != "tls" || result["detail"] != "TLSv1.3" {
		t.Errorf("result line = %v", result)
	}
	if result["latency_ms"] != 2.5 {
		t.Errorf("latency_ms = %v, want 2.5", result["latency_ms"])
	}

	report := lines[1]
	if report["type"] != "report" || report["run_id"] != "run-1" {
		t.Errorf("report line = %v", report)
	}
	if _, ok := report["closed"]; ok {
		t.Error("JSONL report should not list closed ports")
	}
	counts := report["counts"].(map[string]interface{})
	if counts["total"] != float64(5) || counts["errors"] != float64(1) {
		t.Errorf("counts = %v", counts)
	}
}

func TestJSONFormatter(t *testing.T) {
	var buf bytes.Buffer
	f := NewJSONFormatter(&buf)

	if err := f.Write(sampleResult()); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if buf.Len() != 0 {
		t.Error("JSON formatter should not stream results")
	}
	if err := f.WriteReport(sampleReport()); err != nil {
		t.Fatalf("WriteReport() error = %v", err)
	}

	var doc struct {
		Type   string              `json:"type"`
		Open   []int               `json:"open"`
		Closed []int               `json:"closed"`
		TLS    []models.PortDetail `json:"tls"`
	}
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if doc.Type != "report" || len(doc.Open) != 1 || doc.Open[0] != 22 {
		t.Errorf("doc = %+v", doc)
	}
	if len(doc.Closed) != 1 || doc.Closed[0] != 81 {
		t.Errorf("closed = %v, want [81]", doc.Closed)
	}
	if len(doc.TLS) != 1 || doc.TLS[0] != (models.PortDetail{Port: 443, Detail: "TLSv1.3"}) {
		t.Errorf("tls = %v", doc.TLS)
	}
}

func TestNew(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		opts    Options
		wantErr error
	}{
		{"default console", Options{}, nil},
		{"console", Options{Format: "console", Color: true}, nil},
		{"json stdout", Options{Format: "json", Stdout: &bytes.Buffer{}}, nil},
		{"jsonl file", Options{Format: "jsonl", File: filepath.Join(dir, "nested", "scan.jsonl")}, nil},
		{"json file", Options{Format: "json", File: filepath.Join(dir, "scan.json")}, nil},
		{"unknown", Options{Format: "xml"}, ErrInvalidFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := New(tt.opts)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("New() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if err := f.Close(); err != nil {
				t.Errorf("Close() error = %v", err)
			}
		})
	}
}

func TestJSONLFileFormatter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "scan.jsonl")
	f, err := NewJSONLFileFormatter(path)
	if err != nil {
		t.Fatalf("NewJSONLFileFormatter() error = %v", err)
	}

	mf := NewMultiFormatter(f, NewJSONFormatter(&bytes.Buffer{}))
	if err := mf.Write(sampleResult()); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := mf.WriteReport(sampleReport()); err != nil {
		t.Fatalf("WriteReport() error = %v", err)
	}
	if err := mf.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if err := mf.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if n := bytes.Count(data, []byte("\n")); n != 2 {
		t.Errorf("file has %d lines, want 2", n)
	}
}
