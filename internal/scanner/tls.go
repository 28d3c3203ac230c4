// internal/scanner/tls.go
// TLS handshake probe for ports that accepted a TCP connection

package scanner

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/aspnmy/mirapipe/internal/models"
	"github.com/aspnmy/mirapipe/internal/telemetry"
	"github.com/aspnmy/mirapipe/pkg/logger"
)

// DefaultTLSTimeout bounds dial plus handshake of one TLS probe
const DefaultTLSTimeout = 3 * time.Second

// captureLimit caps how many bytes of each direction are kept for echo detection
const captureLimit = 16 * 1024

// TLSProber attempts a client handshake without presenting a certificate
type TLSProber struct {
	dial    DialFunc
	timeout time.Duration
	rootCAs *x509.CertPool // nil means the system trust store
}

// NewTLSProber creates a TLS prober. rootCAs may be nil.
func NewTLSProber(timeout time.Duration, rootCAs *x509.CertPool) *TLSProber {
	if timeout <= 0 {
		timeout = DefaultTLSTimeout
	}
	return &TLSProber{dial: defaultDial(), timeout: timeout, rootCAs: rootCAs}
}

// WithDialer replaces the dial function
func (p *TLSProber) WithDialer(dial DialFunc) *TLSProber {
	p.dial = dial
	return p
}

// Probe opens a fresh connection and performs a TLS handshake using
// target.Host as server name. A peer that answers with something that is not
// TLS at all (a banner, an echo of our ClientHello) yields Open.
func (p *TLSProber) Probe(ctx context.Context, target models.Target) models.ProbeResult {
	ctx, span := telemetry.Tracer().Start(ctx, "probe.tls",
		trace.WithAttributes(attribute.String("target", target.Address())))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	result := models.ProbeResult{Target: target}
	result.Outcome = p.handshake(ctx, target)
	result.Latency = time.Since(start)
	result.Timestamp = time.Now()

	span.SetAttributes(attribute.String("outcome", result.Outcome.Kind.String()))
	logger.Debug("tls probe finished",
		logger.String("target", target.Address()),
		logger.Stringer("outcome", result.Outcome),
	)

	return result
}

func (p *TLSProber) handshake(ctx context.Context, target models.Target) models.Outcome {
	raw, err := p.dial(ctx, "tcp", target.Address())
	if err != nil {
		return models.TLSHandshakeError(err.Error())
	}

	rec := &recordingConn{Conn: raw}
	conn := tls.Client(rec, &tls.Config{
		ServerName: target.Host,
		RootCAs:    p.rootCAs,
	})
	defer conn.Close()

	if err := conn.HandshakeContext(ctx); err != nil {
		if rec.echoed() {
			return models.Open()
		}
		return classifyHandshakeError(err)
	}

	return models.TLSNegotiated(VersionName(conn.ConnectionState().Version))
}

// classifyHandshakeError separates TLS-protocol failures (the peer spoke TLS
// but the handshake did not complete) from plain I/O failures.
func classifyHandshakeError(err error) models.Outcome {
	var (
		recordErr   tls.RecordHeaderError
		verifyErr   *tls.CertificateVerificationError
		unknownCA   x509.UnknownAuthorityError
		hostnameErr x509.HostnameError
		invalidErr  x509.CertificateInvalidError
		alertErr    tls.AlertError
		opErr       *net.OpError
	)

	switch {
	case errors.As(err, &recordErr):
		// The first bytes from the peer are not a TLS record: not a TLS service.
		return models.Open()
	case errors.As(err, &verifyErr),
		errors.As(err, &unknownCA),
		errors.As(err, &hostnameErr),
		errors.As(err, &invalidErr),
		errors.As(err, &alertErr):
		return models.TLSSuspected(err.Error())
	case errors.As(err, &opErr) && (opErr.Op == "remote error" || opErr.Op == "local error"):
		return models.TLSSuspected(err.Error())
	case strings.HasPrefix(err.Error(), "tls: "):
		return models.TLSSuspected(err.Error())
	}
	return models.TLSHandshakeError(err.Error())
}

// VersionName renders a TLS protocol version the way OpenSSL does ("TLSv1.3")
func VersionName(v uint16) string {
	switch v {
	case tls.VersionTLS13:
		return "TLSv1.3"
	case tls.VersionTLS12:
		return "TLSv1.2"
	case tls.VersionTLS11:
		return "TLSv1.1"
	case tls.VersionTLS10:
		return "TLSv1"
	case tls.VersionSSL30: //nolint:staticcheck // reported, never negotiated
		return "SSLv3"
	}
	return fmt.Sprintf("0x%04x", v)
}

// recordingConn keeps the first bytes written and read so a peer that merely
// reflects the ClientHello can be told apart from a TLS server.
type recordingConn struct {
	net.Conn
	mu       sync.Mutex
	sent     []byte
	received []byte
}

func (c *recordingConn) Write(b []byte) (int, error) {
	c.mu.Lock()
	c.sent = appendCapped(c.sent, b)
	c.mu.Unlock()
	return c.Conn.Write(b)
}

func (c *recordingConn) Read(b []byte) (int, error) {
	n, err := c.Conn.Read(b)
	if n > 0 {
		c.mu.Lock()
		c.received = appendCapped(c.received, b[:n])
		c.mu.Unlock()
	}
	return n, err
}

func (c *recordingConn) echoed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.received) > 0 && bytes.HasPrefix(c.sent, c.received)
}

func appendCapped(dst, src []byte) []byte {
	if room := captureLimit - len(dst); room < len(src) {
		if room <= 0 {
			return dst
		}
		src = src[:room]
	}
	return append(dst, src...)
}
