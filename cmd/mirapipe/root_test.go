// cmd/mirapipe/root_test.go
// Tests for flag override collection

package main

import (
	"testing"
	"time"

	"github.com/aspnmy/mirapipe/internal/core"
)

func TestCollectOverrides(t *testing.T) {
	cmd := newScanCmd()
	if err := cmd.ParseFlags([]string{"-p", "80-90", "--workers", "32", "--tls-timeout", "2s", "--tls-probe=false"}); err != nil {
		t.Fatalf("ParseFlags() error = %v", err)
	}

	got := collectOverrides(cmd.Flags())
	want := map[string]interface{}{
		"scan.ports":       "80-90",
		"scan.workers":     32,
		"scan.tls_timeout": 2 * time.Second,
		"scan.tls_probe":   false,
	}
	if len(got) != len(want) {
		t.Fatalf("overrides = %v, want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("overrides[%q] = %v, want %v", k, got[k], v)
		}
	}
}

func TestCollectOverrides_LoadsIntoConfig(t *testing.T) {
	cmd := newConnectCmd()
	if err := cmd.ParseFlags([]string{"-m", "ping", "--dial-timeout", "750ms", "--certstore", t.TempDir()}); err != nil {
		t.Fatalf("ParseFlags() error = %v", err)
	}

	cfg, err := core.Load("", collectOverrides(cmd.Flags()))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Channel.Message != "ping" {
		t.Errorf("message = %q, want ping", cfg.Channel.Message)
	}
	if cfg.Channel.ConnectTimeout != 750*time.Millisecond {
		t.Errorf("connect timeout = %v, want 750ms", cfg.Channel.ConnectTimeout)
	}
	if cfg.Scan.ConnectTimeout != core.Default().Scan.ConnectTimeout {
		t.Error("dial-timeout must not touch scan.connect_timeout")
	}
}

func TestFlagKeysAreRegistered(t *testing.T) {
	registered := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		for name := range flagKeys {
			if c.Flags().Lookup(name) != nil || rootCmd.PersistentFlags().Lookup(name) != nil {
				registered[name] = true
			}
		}
	}
	for name := range flagKeys {
		if !registered[name] {
			t.Errorf("flag %q is mapped but never registered", name)
		}
	}
}
