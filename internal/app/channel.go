// internal/app/channel.go
// Mutual-TLS server and client commands

package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aspnmy/mirapipe/internal/channel"
	"github.com/aspnmy/mirapipe/internal/core"
	"github.com/aspnmy/mirapipe/internal/target"
	"github.com/aspnmy/mirapipe/pkg/logger"
)

// shutdownGrace bounds how long in-flight sessions may run after a stop
const shutdownGrace = 10 * time.Second

// ServerCredential returns the server identity from the channel config
func ServerCredential(cfg *core.Config) channel.Credential {
	ch := cfg.Channel
	return channel.Credential{
		CertificatePath:    ch.CertPath(ch.ServerCert),
		PrivateKeyPassword: ch.Password,
		TrustAnchorPath:    ch.CertPath(ch.CA),
	}
}

// ClientCredential returns the client identity from the channel config
func ClientCredential(cfg *core.Config) channel.Credential {
	ch := cfg.Channel
	return channel.Credential{
		CertificatePath:    ch.CertPath(ch.ClientCert),
		PrivateKeyPassword: ch.Password,
		TrustAnchorPath:    ch.CertPath(ch.CA),
	}
}

// ServeApp runs the acknowledgment server
type ServeApp struct {
	config    *core.Config
	serverCfg channel.ServerConfig
	handler   channel.Handler

	// ready, if set, receives the bound address once listening
	ready func(addr string)
}

// NewServeApp creates the server application
func NewServeApp(cfg *core.Config, serverCfg channel.ServerConfig, handler channel.Handler) *ServeApp {
	return &ServeApp{config: cfg, serverCfg: serverCfg, handler: handler}
}

// OnReady registers a callback for the bound address
func (app *ServeApp) OnReady(fn func(addr string)) {
	app.ready = fn
}

// Run listens on the configured address and serves until ctx is done, then
// drains in-flight sessions.
func (app *ServeApp) Run(ctx context.Context) error {
	srv, err := channel.Listen(ctx, app.config.Channel.Listen, ServerCredential(app.config), app.serverCfg)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	if app.ready != nil {
		app.ready(srv.Addr().String())
	}

	serveErr := srv.Serve(ctx, app.handler)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server shutdown incomplete", logger.Err(err))
	}

	stats := srv.FailureStats()
	logger.Info("Server stopped",
		logger.Int64("handshake_failures", stats.Allowed+stats.Suppressed),
	)

	if errors.Is(serveErr, channel.ErrServerClosed) || errors.Is(serveErr, context.Canceled) {
		return nil
	}
	return serveErr
}

// Reply is what the connect command got back from the server
type Reply struct {
	Server     string
	TLSVersion string
	PeerName   string
	Payload    []byte
}

// ConnectApp sends one message to a server and returns its reply
type ConnectApp struct {
	config *core.Config
	client *channel.Client
}

// NewConnectApp creates the client application
func NewConnectApp(cfg *core.Config, client *channel.Client) *ConnectApp {
	return &ConnectApp{config: cfg, client: client}
}

// Send connects to server ("host:port" or an http(s) URL), sends message
// and waits for one reply. The session is closed before returning.
func (app *ConnectApp) Send(ctx context.Context, server string, message []byte) (*Reply, error) {
	host, port, err := target.ParseServerAddress(server)
	if err != nil {
		return nil, err
	}

	session, err := app.client.Connect(ctx, host, port, ClientCredential(app.config))
	if err != nil {
		return nil, err
	}
	defer app.client.Close()

	payload, err := channel.Exchange(ctx, session, message, app.config.Channel.MaxMessage)
	if err != nil {
		return nil, fmt.Errorf("exchange with %s failed: %w", session.RemoteAddr(), err)
	}

	return &Reply{
		Server:     session.RemoteAddr().String(),
		TLSVersion: session.TLSVersion(),
		PeerName:   session.PeerCommonName(),
		Payload:    payload,
	}, nil
}
