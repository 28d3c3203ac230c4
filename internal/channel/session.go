// internal/channel/session.go
// Authenticated byte stream over one TLS connection

package channel

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultMaxMessage is the read size used when a caller passes maxBytes <= 0
const DefaultMaxMessage = 1024

// SessionState is the observable lifecycle of a session
type SessionState int32

const (
	StateDisconnected SessionState = iota
	StateConnecting
	StateConnected
)

func (s SessionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	}
	return fmt.Sprintf("SessionState(%d)", int32(s))
}

// Session is an established mutual-TLS connection. It is owned by one
// goroutine; Send and Receive must not be called concurrently.
type Session struct {
	conn      *tls.Conn
	state     atomic.Int32
	closeOnce sync.Once
	closeErr  error
	onClose   func(*Session)
}

func newSession(conn *tls.Conn) *Session {
	s := &Session{conn: conn}
	s.state.Store(int32(StateConnected))
	return s
}

// State returns Connected until Close is called, Disconnected after
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// LocalAddr returns the local network address
func (s *Session) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

// RemoteAddr returns the peer's network address
func (s *Session) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// TLSVersion returns the negotiated protocol version, e.g. "TLSv1.3"
func (s *Session) TLSVersion() string {
	return versionName(s.conn.ConnectionState().Version)
}

// PeerCommonName returns the subject CN of the verified peer certificate
func (s *Session) PeerCommonName() string {
	certs := s.conn.ConnectionState().PeerCertificates
	if len(certs) == 0 {
		return ""
	}
	return certs[0].Subject.CommonName
}

// Send writes the whole payload
func (s *Session) Send(ctx context.Context, payload []byte) error {
	if s.State() != StateConnected {
		return ErrSessionClosed
	}
	defer bindDeadline(ctx, s.conn.SetWriteDeadline)()

	if _, err := s.conn.Write(payload); err != nil {
		return s.classify("send", err)
	}
	return nil
}

// Receive blocks until data arrives and returns at most maxBytes of it.
// It returns io.EOF once the peer has closed the stream. There is no framing:
// one Receive may return part of a Send or several of them.
func (s *Session) Receive(ctx context.Context, maxBytes int) ([]byte, error) {
	if s.State() != StateConnected {
		return nil, ErrSessionClosed
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxMessage
	}
	defer bindDeadline(ctx, s.conn.SetReadDeadline)()

	buf := make([]byte, maxBytes)
	n, err := s.conn.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}
	if err == nil {
		return nil, io.ErrNoProgress
	}
	if errors.Is(err, io.EOF) {
		return nil, io.EOF
	}
	return nil, s.classify("receive", err)
}

// Close releases the connection. It is safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateDisconnected))
		s.closeErr = s.conn.Close()
		if s.onClose != nil {
			s.onClose(s)
		}
	})
	return s.closeErr
}

// classify surfaces a late mutual-auth rejection as a handshake error. With
// TLS 1.3 the server verifies the client certificate after the client has
// already finished its side, so the alert shows up on the first read.
func (s *Session) classify(op string, err error) error {
	var (
		alert tls.AlertError
		opErr *net.OpError
	)
	if errors.As(err, &alert) || (errors.As(err, &opErr) && opErr.Op == "remote error") {
		return newError(KindHandshake, op, s.conn.RemoteAddr().String(), err)
	}
	return err
}

// bindDeadline applies ctx's deadline to the connection and interrupts the
// pending I/O if ctx is cancelled. The returned func undoes both.
func bindDeadline(ctx context.Context, set func(time.Time) error) func() {
	if d, ok := ctx.Deadline(); ok {
		_ = set(d)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = set(time.Now())
	})
	return func() {
		stop()
		_ = set(time.Time{})
	}
}

// Exchange sends payload and waits for one reply of at most maxBytes
func Exchange(ctx context.Context, s *Session, payload []byte, maxBytes int) ([]byte, error) {
	if err := s.Send(ctx, payload); err != nil {
		return nil, err
	}
	return s.Receive(ctx, maxBytes)
}

func versionName(v uint16) string {
	switch v {
	case tls.VersionTLS13:
		return "TLSv1.3"
	case tls.VersionTLS12:
		return "TLSv1.2"
	}
	return fmt.Sprintf("0x%04x", v)
}
