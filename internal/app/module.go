// internal/app/module.go
// fx modules wiring the scan and channel applications

package app

import (
	"fmt"
	"os"

	"go.uber.org/fx"

	"github.com/aspnmy/mirapipe/internal/channel"
	"github.com/aspnmy/mirapipe/internal/core"
	"github.com/aspnmy/mirapipe/internal/output"
	"github.com/aspnmy/mirapipe/internal/scanner"
)

// ScanModule provides the scan application for fx injection.
var ScanModule = fx.Module("scan",
	fx.Provide(
		ProvideTCPProber,
		ProvideTLSProber,
		ProvideCoordinator,
		ProvideFormatters,
		ProvideScanApp,
	),
)

// ChannelModule provides the mutual-TLS server and client applications.
var ChannelModule = fx.Module("channel",
	fx.Provide(
		ProvideServerConfig,
		ProvideHandler,
		ProvideChannelClient,
		NewServeApp,
		NewConnectApp,
	),
)

// ProvideTCPProber creates the port prober from the scan timeouts.
func ProvideTCPProber(cfg *core.Config) *scanner.TCPProber {
	return scanner.NewTCPProber(cfg.Scan.ConnectTimeout)
}

// ProvideTLSProber creates the TLS prober. Scanned services are not expected
// to chain to any particular root, so the system pool is used.
func ProvideTLSProber(cfg *core.Config) *scanner.TLSProber {
	return scanner.NewTLSProber(cfg.Scan.TLSTimeout, nil)
}

// ProvideCoordinator wires the probers into a coordinator. TLS probing is
// left out when scan.tls_probe is off.
func ProvideCoordinator(cfg *core.Config, tcp *scanner.TCPProber, tlsProber *scanner.TLSProber) (*scanner.Coordinator, error) {
	var second scanner.Prober
	if cfg.Scan.TLSProbe {
		second = tlsProber
	}
	coord, err := scanner.NewCoordinator(tcp, second, cfg.Scan.Workers)
	if err != nil {
		return nil, fmt.Errorf("failed to create coordinator: %w", err)
	}
	return coord, nil
}

// ProvideFormatters builds the report formatter selected by the output config.
func ProvideFormatters(cfg *core.Config) ([]output.Formatter, error) {
	f, err := output.New(output.Options{
		Format:  cfg.Output.Format,
		File:    cfg.Output.File,
		Color:   cfg.Output.Color,
		Verbose: cfg.Output.Verbose,
		Stdout:  os.Stdout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create formatter: %w", err)
	}
	return []output.Formatter{f}, nil
}

// ProvideScanApp assembles a ScanApp from its injected dependencies.
func ProvideScanApp(cfg *core.Config, coord *scanner.Coordinator, formatters []output.Formatter) *ScanApp {
	return NewScanApp(ScanDeps{
		Config:      cfg,
		Coordinator: coord,
		Formatters:  formatters,
	})
}

// ProvideServerConfig extracts the server settings from Config.
func ProvideServerConfig(cfg *core.Config) channel.ServerConfig {
	return channel.ServerConfig{HandshakeTimeout: cfg.Channel.HandshakeTimeout}
}

// ProvideHandler returns the acknowledgment handler.
func ProvideHandler(cfg *core.Config) channel.Handler {
	return &channel.AckHandler{MaxMessage: cfg.Channel.MaxMessage}
}

// ProvideChannelClient creates the mutual-TLS client.
func ProvideChannelClient(cfg *core.Config) *channel.Client {
	return channel.NewClient(channel.ClientConfig{
		ConnectTimeout:   cfg.Channel.ConnectTimeout,
		HandshakeTimeout: cfg.Channel.HandshakeTimeout,
	})
}

// NewScan builds the scan application the way the CLI does.
func NewScan(cfg *core.Config) (*ScanApp, error) {
	var a *ScanApp
	app := fx.New(
		fx.NopLogger,
		fx.Supply(cfg),
		ScanModule,
		fx.Populate(&a),
	)
	if err := app.Err(); err != nil {
		return nil, err
	}
	return a, nil
}

// NewServe builds the server application.
func NewServe(cfg *core.Config) (*ServeApp, error) {
	var a *ServeApp
	app := fx.New(
		fx.NopLogger,
		fx.Supply(cfg),
		ChannelModule,
		fx.Populate(&a),
	)
	if err := app.Err(); err != nil {
		return nil, err
	}
	return a, nil
}

// NewConnect builds the client application.
func NewConnect(cfg *core.Config) (*ConnectApp, error) {
	var a *ConnectApp
	app := fx.New(
		fx.NopLogger,
		fx.Supply(cfg),
		ChannelModule,
		fx.Populate(&a),
	)
	if err := app.Err(); err != nil {
		return nil, err
	}
	return a, nil
}
