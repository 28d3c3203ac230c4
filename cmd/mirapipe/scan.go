// cmd/mirapipe/scan.go
// scan command: TCP/TLS port scan of one host

package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aspnmy/mirapipe/internal/app"
	"github.com/aspnmy/mirapipe/internal/core"
	"github.com/aspnmy/mirapipe/pkg/logger"
)

func newScanCmd() *cobra.Command {
	d := core.Default()

	cmd := &cobra.Command{
		Use:   "scan [host]",
		Short: "Scan a host for open TCP ports and TLS services",
		Example: `  mirapipe scan localhost
  mirapipe scan 192.168.1.10 -p 1-1024 --workers 512
  mirapipe scan example.com -p 443 -o json --output-file scan.json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			scanApp, err := app.NewScan(cfg)
			if err != nil {
				return fmt.Errorf("failed to build scanner: %w", err)
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := scanApp.Shutdown(shutdownCtx); err != nil {
					logger.Error("Error during shutdown", logger.Err(err))
				}
			}()

			_, err = scanApp.Run(ctx, cfg.Scan.Host, cfg.Scan.Ports)
			if errors.Is(err, app.ErrScanInterrupted) {
				logger.Warn("Scan interrupted, report is partial", logger.Err(err))
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringP("ports", "p", d.Scan.Ports, `port or range, "<port>" or "<low>-<high>"`)
	cmd.Flags().IntP("workers", "w", d.Scan.Workers, "concurrent probes")
	cmd.Flags().Duration("connect-timeout", d.Scan.ConnectTimeout, "TCP connect timeout per port")
	cmd.Flags().Duration("tls-timeout", d.Scan.TLSTimeout, "TLS handshake timeout per open port")
	cmd.Flags().Bool("tls-probe", d.Scan.TLSProbe, "probe open ports for TLS")
	cmd.Flags().StringP("output", "o", d.Output.Format, "report format: console, json, jsonl")
	cmd.Flags().String("output-file", "", "write the report to a file instead of stdout")
	cmd.Flags().Bool("color", d.Output.Color, "colour console output")

	return cmd
}
