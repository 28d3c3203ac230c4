// internal/scanner/tcp.go
// TCP connect probe

package scanner

import (
	"context"
	"errors"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/aspnmy/mirapipe/internal/models"
	"github.com/aspnmy/mirapipe/internal/telemetry"
	"github.com/aspnmy/mirapipe/pkg/logger"
)

// DefaultConnectTimeout bounds one TCP connect attempt
const DefaultConnectTimeout = time.Second

// TCPProber performs one connect attempt per target
type TCPProber struct {
	dial    DialFunc
	timeout time.Duration
}

// NewTCPProber creates a TCP prober. A non-positive timeout selects the default.
func NewTCPProber(timeout time.Duration) *TCPProber {
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	return &TCPProber{dial: defaultDial(), timeout: timeout}
}

// WithDialer replaces the dial function, for tests and custom transports
func (p *TCPProber) WithDialer(dial DialFunc) *TCPProber {
	p.dial = dial
	return p
}

// Probe dials the target once. The connection is closed immediately on success.
func (p *TCPProber) Probe(ctx context.Context, target models.Target) models.ProbeResult {
	ctx, span := telemetry.Tracer().Start(ctx, "probe.tcp",
		trace.WithAttributes(attribute.String("target", target.Address())))
	defer span.End()

	dialCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	conn, err := p.dial(dialCtx, "tcp", target.Address())
	result := models.ProbeResult{
		Target:    target,
		Latency:   time.Since(start),
		Timestamp: time.Now(),
	}

	if err != nil {
		result.Outcome = classifyConnectError(err)
	} else {
		_ = conn.Close()
		result.Outcome = models.Open()
	}

	span.SetAttributes(attribute.String("outcome", result.Outcome.Kind.String()))
	logger.Debug("tcp probe finished",
		logger.String("target", target.Address()),
		logger.Stringer("outcome", result.Outcome),
		logger.Duration("latency", result.Latency),
	)

	return result
}

// classifyConnectError maps refusal to Closed and everything else to ConnectError
func classifyConnectError(err error) models.Outcome {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return models.Closed()
	}
	// Windows reports WSAECONNREFUSED, which is not syscall.ECONNREFUSED
	msg := err.Error()
	if strings.Contains(msg, "connection refused") || strings.Contains(msg, "actively refused") {
		return models.Closed()
	}
	return models.ConnectError(msg)
}
