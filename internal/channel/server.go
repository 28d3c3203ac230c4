// internal/channel/server.go
// Mutual-TLS server: listener lifecycle, per-connection handshake, handlers

package channel

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/aspnmy/mirapipe/internal/telemetry"
	"github.com/aspnmy/mirapipe/pkg/logger"
	"github.com/aspnmy/mirapipe/pkg/ratelimit"
)

// Handler serves one authenticated session. The server closes the session
// after ServeSession returns.
type Handler interface {
	ServeSession(ctx context.Context, s *Session)
}

// HandlerFunc adapts a function to the Handler interface
type HandlerFunc func(ctx context.Context, s *Session)

// ServeSession calls f(ctx, s)
func (f HandlerFunc) ServeSession(ctx context.Context, s *Session) {
	f(ctx, s)
}

// ServerConfig holds server configuration
type ServerConfig struct {
	HandshakeTimeout time.Duration

	// Handshake failures are logged at most once per FailureLogEvery after
	// a burst of FailureLogBurst.
	FailureLogEvery time.Duration
	FailureLogBurst int
}

// Server accepts mutual-TLS connections on one listener until Shutdown is
// called or the context given to Listen is cancelled.
type Server struct {
	ln        net.Listener
	tlsConfig *tls.Config
	config    ServerConfig
	log       *zap.Logger
	failures  *ratelimit.Limiter

	closing   atomic.Bool
	closeOnce sync.Once
	closeErr  error
	stopCtx   func() bool

	// base is cancelled when Shutdown gives up waiting; every handshake and
	// handler started by Serve derives from it.
	base       context.Context
	cancelBase context.CancelFunc
	forced     bool // guarded by mu

	wg       sync.WaitGroup
	mu       sync.Mutex
	sessions map[*Session]struct{}
}

// Listen loads cred for the server role and binds addr. Credential problems
// are reported before the socket is opened.
func Listen(ctx context.Context, addr string, cred Credential, cfg ServerConfig) (*Server, error) {
	tlsConfig, err := LoadCredential(cred, RoleServer)
	if err != nil {
		return nil, err
	}

	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.FailureLogEvery <= 0 {
		cfg.FailureLogEvery = time.Second
	}
	if cfg.FailureLogBurst <= 0 {
		cfg.FailureLogBurst = 5
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	s := &Server{
		ln:        ln,
		tlsConfig: tlsConfig,
		config:    cfg,
		log:       logger.Named("channel.server"),
		failures:  ratelimit.New(ratelimit.Config{Every: cfg.FailureLogEvery, Burst: cfg.FailureLogBurst}),
		sessions:  make(map[*Session]struct{}),
	}
	s.base, s.cancelBase = context.WithCancel(context.Background())
	s.stopCtx = context.AfterFunc(ctx, func() { _ = s.closeListener() })

	s.log.Info("Listening", zap.String("addr", ln.Addr().String()))
	return s, nil
}

// Addr returns the bound address
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Accept waits for the next client that completes the handshake. Clients
// that fail it are logged and skipped. Accept returns ErrServerClosed once
// the server is stopped and ctx.Err() if ctx is done first.
func (s *Server) Accept(ctx context.Context) (*Session, error) {
	for {
		raw, err := s.acceptRaw(ctx)
		if err != nil {
			return nil, err
		}
		if session, ok := s.handshake(ctx, raw); ok {
			return session, nil
		}
	}
}

// Serve runs the accept loop, handing each session to h on its own
// goroutine. It returns ErrServerClosed after Shutdown.
func (s *Server) Serve(ctx context.Context, h Handler) error {
	for {
		raw, err := s.acceptRaw(ctx)
		if err != nil {
			return err
		}

		s.mu.Lock()
		if s.closing.Load() {
			s.mu.Unlock()
			_ = raw.Close()
			return ErrServerClosed
		}
		s.wg.Add(1)
		s.mu.Unlock()

		go func() {
			defer s.wg.Done()

			connCtx, cancel := context.WithCancel(ctx)
			defer cancel()
			stop := context.AfterFunc(s.base, cancel)
			defer stop()

			session, ok := s.handshake(connCtx, raw)
			if !ok {
				return
			}
			defer session.Close()
			h.ServeSession(connCtx, session)
		}()
	}
}

// Shutdown stops accepting and waits for running handlers. If ctx expires
// first, handler contexts are cancelled, open sessions are closed, sessions
// whose handshake completes later are refused, and ctx.Err() is returned.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.closeListener()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return err
	case <-ctx.Done():
		s.mu.Lock()
		s.forced = true
		open := make([]*Session, 0, len(s.sessions))
		for session := range s.sessions {
			open = append(open, session)
		}
		s.mu.Unlock()

		s.cancelBase()
		for _, session := range open {
			_ = session.Close()
		}
		<-done
		return ctx.Err()
	}
}

func (s *Server) closeListener() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closing.Store(true)
		s.mu.Unlock()

		s.stopCtx()
		s.closeErr = s.ln.Close()
		s.log.Info("Listener closed", zap.String("addr", s.ln.Addr().String()))
	})
	return s.closeErr
}

// deadliner is implemented by *net.TCPListener
type deadliner interface {
	SetDeadline(t time.Time) error
}

func (s *Server) acceptRaw(ctx context.Context) (net.Conn, error) {
	if dl, ok := s.ln.(deadliner); ok {
		stop := context.AfterFunc(ctx, func() { _ = dl.SetDeadline(time.Now()) })
		defer func() {
			if stop() {
				return
			}
			_ = dl.SetDeadline(time.Time{})
		}()
	}

	for {
		raw, err := s.ln.Accept()
		if err == nil {
			return raw, nil
		}
		if s.closing.Load() {
			return nil, ErrServerClosed
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			// Left over from an earlier Accept whose context ended.
			if dl, ok := s.ln.(deadliner); ok {
				_ = dl.SetDeadline(time.Time{})
			}
			continue
		}
		return nil, err
	}
}

// handshake completes the server side of the handshake on raw. The raw
// connection is closed when it fails.
func (s *Server) handshake(ctx context.Context, raw net.Conn) (*Session, bool) {
	remote := raw.RemoteAddr().String()
	ctx, span := telemetry.Tracer().Start(ctx, "channel.accept",
		trace.WithAttributes(attribute.String("remote", remote)))
	defer span.End()

	conn := tls.Server(raw, s.tlsConfig)
	hsCtx, cancel := context.WithTimeout(ctx, s.config.HandshakeTimeout)
	defer cancel()

	if err := conn.HandshakeContext(hsCtx); err != nil {
		_ = raw.Close()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if ok, suppressed := s.failures.Allow(); ok {
			s.log.Warn("Handshake failed",
				zap.String("remote", remote),
				zap.Error(err),
				zap.Int64("suppressed", suppressed),
			)
		}
		return nil, false
	}

	session := newSession(conn)
	if !s.track(session) {
		_ = conn.Close()
		s.log.Warn("Session refused, server shut down", zap.String("remote", remote))
		return nil, false
	}

	s.log.Info("Connected by",
		zap.String("remote", remote),
		zap.String("peer", session.PeerCommonName()),
		zap.String("tls_version", session.TLSVersion()),
	)
	return session, true
}

// track registers session for forced shutdown. It reports false once
// Shutdown has already closed the open sessions.
func (s *Server) track(session *Session) bool {
	s.mu.Lock()
	if s.forced {
		s.mu.Unlock()
		return false
	}
	session.onClose = func(closed *Session) {
		s.mu.Lock()
		delete(s.sessions, closed)
		s.mu.Unlock()
	}
	s.sessions[session] = struct{}{}
	s.mu.Unlock()
	return true
}

// FailureStats reports how many handshake failures were logged or suppressed
func (s *Server) FailureStats() ratelimit.Stats {
	return s.failures.GetStats()
}
