// internal/models/report_test.go
// Tests for scan report aggregation

package models

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"
)

func TestBuildReport_Tallies(t *testing.T) {
	outcomes := map[int]Outcome{
		2003: Closed(),
		2001: Open(),
		2005: TLSNegotiated("TLSv1.3"),
		2002: Closed(),
		2004: TLSSuspected("tls: first record does not look like a TLS handshake"),
		2006: ConnectError("i/o timeout"),
		2007: TLSHandshakeError("EOF"),
	}

	r := BuildReport("run-1", "localhost", time.Now(), outcomes)

	want := Counts{Total: 7, Open: 1, Closed: 2, TLS: 1, TLSSuspected: 1, Errors: 2}
	if got := r.Counts(); got != want {
		t.Errorf("Counts() = %+v, want %+v", got, want)
	}
	if !reflect.DeepEqual(r.Closed, []int{2002, 2003}) {
		t.Errorf("Closed = %v, want sorted [2002 2003]", r.Closed)
	}
	if !reflect.DeepEqual(r.Errors, []PortDetail{{2006, "i/o timeout"}, {2007, "EOF"}}) {
		t.Errorf("Errors = %v", r.Errors)
	}
	if r.TLS[0].Detail != "TLSv1.3" {
		t.Errorf("TLS detail = %q", r.TLS[0].Detail)
	}
}

func TestBuildReport_CopiesOutcomes(t *testing.T) {
	outcomes := map[int]Outcome{80: Open()}
	r := BuildReport("run-1", "localhost", time.Now(), outcomes)

	outcomes[81] = Open()
	if len(r.Outcomes) != 1 {
		t.Errorf("report changed after source map mutation: %v", r.Outcomes)
	}
}

func TestScanReport_Details(t *testing.T) {
	r := BuildReport("run-1", "example.com", time.Now(), map[int]Outcome{
		443: TLSNegotiated("TLSv1.2"),
		22:  Open(),
		23:  Closed(),
	})

	details := r.Details()
	if len(details) != 2 {
		t.Fatalf("Details() len = %d, want 2 (closed ports are skipped)", len(details))
	}
	if details[0].Target.Port != 22 || details[1].Target.Port != 443 {
		t.Errorf("Details() order = %d,%d, want 22,443", details[0].Target.Port, details[1].Target.Port)
	}
	if details[1].Target.Host != "example.com" {
		t.Errorf("detail host = %q", details[1].Target.Host)
	}
}

func TestOutcomeKind_String(t *testing.T) {
	tests := []struct {
		kind OutcomeKind
		want string
	}{
		{OutcomeOpen, "open"},
		{OutcomeClosed, "closed"},
		{OutcomeConnectError, "error"},
		{OutcomeTLSNegotiated, "tls"},
		{OutcomeTLSSuspected, "maybe-tls"},
		{OutcomeTLSHandshakeError, "tls-error"},
		{OutcomeKind(0), "OutcomeKind(0)"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.kind.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOutcome_JSON(t *testing.T) {
	b, err := json.Marshal(TLSNegotiated("TLSv1.3"))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(b) != `{"kind":"tls","detail":"TLSv1.3"}` {
		t.Errorf("json = %s", b)
	}

	if _, err := json.Marshal(Outcome{}); err == nil {
		t.Error("zero outcome kind should not marshal")
	}
}

func TestTarget_Address(t *testing.T) {
	tests := []struct {
		target Target
		want   string
	}{
		{Target{Host: "localhost", Port: 5000}, "localhost:5000"},
		{Target{Host: "::1", Port: 443}, "[::1]:443"},
	}
	for _, tt := range tests {
		if got := tt.target.Address(); got != tt.want {
			t.Errorf("Address() = %q, want %q", got, tt.want)
		}
	}
}
