// internal/scanner/interface.go
// Probe interfaces and scanner errors

package scanner

import (
	"context"
	"net"

	"github.com/aspnmy/mirapipe/internal/models"
)

// Prober classifies a single target. Implementations must be safe for
// concurrent use and must always return within their own timeout.
type Prober interface {
	Probe(ctx context.Context, target models.Target) models.ProbeResult
}

// ProberFunc adapts a function to the Prober interface
type ProberFunc func(ctx context.Context, target models.Target) models.ProbeResult

// Probe calls f(ctx, target)
func (f ProberFunc) Probe(ctx context.Context, target models.Target) models.ProbeResult {
	return f(ctx, target)
}

// DialFunc opens a network connection; net.Dialer.DialContext satisfies it
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

func defaultDial() DialFunc {
	d := &net.Dialer{
		KeepAlive: -1, // Disable keep-alive for scanning
	}
	return d.DialContext
}

// Observer receives every final per-target result as soon as it is known.
// It is called from worker goroutines and must be safe for concurrent use.
type Observer func(result models.ProbeResult)

// ErrNoPortProber is returned when a coordinator is built without a TCP prober
var ErrNoPortProber = &ScannerError{Message: "port prober is required"}

// ScannerError represents a scanner-specific error
type ScannerError struct {
	Message string
	Cause   error
}

func (e *ScannerError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ScannerError) Unwrap() error {
	return e.Cause
}
