// internal/channel/client.go
// Mutual-TLS client

package channel

import (
	"context"
	"crypto/tls"
	"net"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/aspnmy/mirapipe/internal/telemetry"
	"github.com/aspnmy/mirapipe/pkg/logger"
)

// Default client timeouts
const (
	DefaultConnectTimeout   = 5 * time.Second
	DefaultHandshakeTimeout = 5 * time.Second
)

// DialFunc opens a TCP connection; net.Dialer.DialContext satisfies it
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// ClientConfig holds client configuration
type ClientConfig struct {
	ConnectTimeout   time.Duration
	HandshakeTimeout time.Duration
	Dial             DialFunc // nil uses net.Dialer
}

// Client connects to a mutual-TLS server. It holds at most one session;
// connecting again closes the previous one.
type Client struct {
	config ClientConfig

	mu      sync.Mutex
	state   SessionState
	session *Session
}

// NewClient creates a client
func NewClient(cfg ClientConfig) *Client {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.Dial == nil {
		cfg.Dial = (&net.Dialer{}).DialContext
	}
	return &Client{config: cfg, state: StateDisconnected}
}

// State returns the state of the current or most recent connection attempt
func (c *Client) State() SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateConnected && c.session != nil && c.session.State() != StateConnected {
		return StateDisconnected
	}
	return c.state
}

// Connect loads cred, dials host:port and performs the handshake, verifying
// the server certificate against host. Credential problems are reported
// before any network I/O. The socket is closed on every failure path.
//
// With TLS 1.3 the server checks the client certificate after the client has
// finished its side of the handshake, so a rejected client certificate is not
// seen here: Connect succeeds, the server's alert arrives afterwards, and the
// next Receive on the session (or a Send made after the alert) returns an
// error matching ErrHandshake.
func (c *Client) Connect(ctx context.Context, host string, port int, cred Credential) (*Session, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	ctx, span := telemetry.Tracer().Start(ctx, "channel.connect",
		trace.WithAttributes(attribute.String("addr", addr)))
	defer span.End()

	c.beginAttempt()

	session, err := c.connect(ctx, host, addr, cred)
	c.finishAttempt(session)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn("Connection failed", logger.String("addr", addr), logger.Err(err))
		return nil, err
	}

	logger.Info("Connected",
		logger.String("addr", addr),
		logger.String("tls_version", session.TLSVersion()),
		logger.String("peer", session.PeerCommonName()),
	)
	return session, nil
}

func (c *Client) connect(ctx context.Context, host, addr string, cred Credential) (*Session, error) {
	cfg, err := LoadCredential(cred, RoleClient)
	if err != nil {
		return nil, err
	}
	cfg.ServerName = host

	dialCtx, cancel := context.WithTimeout(ctx, c.config.ConnectTimeout)
	raw, err := c.config.Dial(dialCtx, "tcp", addr)
	cancel()
	if err != nil {
		return nil, newError(KindConnect, "dial", addr, err)
	}

	conn := tls.Client(raw, cfg)
	hsCtx, cancel := context.WithTimeout(ctx, c.config.HandshakeTimeout)
	defer cancel()
	if err := conn.HandshakeContext(hsCtx); err != nil {
		_ = raw.Close()
		return nil, newError(KindHandshake, "handshake", addr, err)
	}

	return newSession(conn), nil
}

func (c *Client) beginAttempt() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil {
		_ = c.session.Close()
		c.session = nil
	}
	c.state = StateConnecting
}

func (c *Client) finishAttempt(s *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.session = s
	if s == nil {
		c.state = StateDisconnected
		return
	}
	c.state = StateConnected
}

// Close closes the current session, if any
func (c *Client) Close() error {
	c.mu.Lock()
	s := c.session
	c.session = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	if s == nil {
		return nil
	}
	return s.Close()
}
