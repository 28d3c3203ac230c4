// pkg/logger/logger_test.go
// Tests for the logger facade

package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "debug", Format: "json"}, &buf)

	l.Debug("probe finished", String("target", "localhost:443"), Int("port", 443))
	_ = l.Sync()

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if entry["msg"] != "probe finished" {
		t.Errorf("msg = %v, want %q", entry["msg"], "probe finished")
	}
	if entry["level"] != "DEBUG" {
		t.Errorf("level = %v, want DEBUG", entry["level"])
	}
	if entry["target"] != "localhost:443" {
		t.Errorf("target = %v", entry["target"])
	}
}

func TestNew_LevelFiltering(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		wantOut bool
	}{
		{name: "info drops debug", level: "info", wantOut: false},
		{name: "debug keeps debug", level: "debug", wantOut: true},
		{name: "unknown level falls back to info", level: "chatty", wantOut: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			l := New(Config{Level: tt.level, Format: "console"}, &buf)
			l.Debug("hidden?")
			_ = l.Sync()

			if got := buf.Len() > 0; got != tt.wantOut {
				t.Errorf("wrote output = %v, want %v (%q)", got, tt.wantOut, buf.String())
			}
		})
	}
}

func TestSetAndNamed(t *testing.T) {
	var buf bytes.Buffer
	Set(New(Config{Level: "info", Format: "console"}, &buf))
	defer Set(nil)

	Named("channel.server").Info("listening")
	Info("top level")

	out := buf.String()
	if !strings.Contains(out, "channel.server") {
		t.Errorf("named logger output missing name: %q", out)
	}
	if !strings.Contains(out, "top level") {
		t.Errorf("global helper output missing: %q", out)
	}
}

func TestL_NopBeforeInit(t *testing.T) {
	Set(nil)
	if L() == nil {
		t.Fatal("L() returned nil before Init")
	}
	// Must not panic.
	Info("nobody hears this")
}
