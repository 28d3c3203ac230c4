// internal/models/types.go
// Core data models for the scanner

package models

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Target is one (host, port) pair to probe
type Target struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Address returns the target as "host:port", bracketing IPv6 literals
func (t Target) Address() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// String returns human-readable target info
func (t Target) String() string {
	return t.Address()
}

// OutcomeKind is the closed set of probe classifications
type OutcomeKind uint8

const (
	// OutcomeOpen: TCP connect succeeded, no TLS observed
	OutcomeOpen OutcomeKind = iota + 1
	// OutcomeClosed: connection refused
	OutcomeClosed
	// OutcomeConnectError: any other socket-level failure
	OutcomeConnectError
	// OutcomeTLSNegotiated: TCP and TLS handshake both succeeded
	OutcomeTLSNegotiated
	// OutcomeTLSSuspected: handshake failed with a TLS protocol error
	OutcomeTLSSuspected
	// OutcomeTLSHandshakeError: handshake failed with a plain I/O error
	OutcomeTLSHandshakeError
)

// String returns the stable name of the kind
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeOpen:
		return "open"
	case OutcomeClosed:
		return "closed"
	case OutcomeConnectError:
		return "error"
	case OutcomeTLSNegotiated:
		return "tls"
	case OutcomeTLSSuspected:
		return "maybe-tls"
	case OutcomeTLSHandshakeError:
		return "tls-error"
	}
	return fmt.Sprintf("OutcomeKind(%d)", uint8(k))
}

// Valid reports whether k is one of the declared kinds
func (k OutcomeKind) Valid() bool {
	return k >= OutcomeOpen && k <= OutcomeTLSHandshakeError
}

// MarshalText implements encoding.TextMarshaler
func (k OutcomeKind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("invalid outcome kind %d", uint8(k))
	}
	return []byte(k.String()), nil
}

// Outcome is the classification of one probed target. Detail carries the
// negotiated TLS version for OutcomeTLSNegotiated and the error text for the
// failure kinds; it is empty for Open and Closed.
type Outcome struct {
	Kind   OutcomeKind `json:"kind"`
	Detail string      `json:"detail,omitempty"`
}

// Open is a successful TCP connect without TLS
func Open() Outcome { return Outcome{Kind: OutcomeOpen} }

// Closed is a refused connection
func Closed() Outcome { return Outcome{Kind: OutcomeClosed} }

// ConnectError is a socket failure other than refusal
func ConnectError(detail string) Outcome {
	return Outcome{Kind: OutcomeConnectError, Detail: detail}
}

// TLSNegotiated records a completed handshake and its protocol version
func TLSNegotiated(version string) Outcome {
	return Outcome{Kind: OutcomeTLSNegotiated, Detail: version}
}

// TLSSuspected records a TLS-protocol handshake failure
func TLSSuspected(detail string) Outcome {
	return Outcome{Kind: OutcomeTLSSuspected, Detail: detail}
}

// TLSHandshakeError records a non-TLS I/O failure during the handshake
func TLSHandshakeError(detail string) Outcome {
	return Outcome{Kind: OutcomeTLSHandshakeError, Detail: detail}
}

// String renders the outcome as "kind" or "kind: detail"
func (o Outcome) String() string {
	if o.Detail == "" {
		return o.Kind.String()
	}
	return o.Kind.String() + ": " + o.Detail
}

// IsError reports whether the outcome belongs in the error listing
func (o Outcome) IsError() bool {
	return o.Kind == OutcomeConnectError || o.Kind == OutcomeTLSHandshakeError
}

// ProbeResult is the single record a probe produces for its target
type ProbeResult struct {
	Target    Target        `json:"target"`
	Outcome   Outcome       `json:"outcome"`
	Latency   time.Duration `json:"latency"`
	Timestamp time.Time     `json:"timestamp"`
}

// RunState is the lifecycle of a scan run
type RunState int32

const (
	RunNotStarted RunState = iota
	RunScanning
	RunCompleted
)

func (s RunState) String() string {
	switch s {
	case RunNotStarted:
		return "not-started"
	case RunScanning:
		return "scanning"
	case RunCompleted:
		return "completed"
	}
	return "unknown"
}

// Progress represents scan progress
type Progress struct {
	RunID     string        `json:"run_id"`
	Total     int64         `json:"total"`
	Processed int64         `json:"processed"`
	Elapsed   time.Duration `json:"elapsed"`
}
