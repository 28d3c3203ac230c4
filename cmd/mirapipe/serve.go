// cmd/mirapipe/serve.go
// serve command: mutual-TLS acknowledgment server

package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aspnmy/mirapipe/internal/app"
	"github.com/aspnmy/mirapipe/internal/core"
)

func newServeCmd() *cobra.Command {
	d := core.Default().Channel

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the mutual-TLS acknowledgment server",
		Long: `Accepts clients presenting a certificate signed by the trust anchor,
logs every message they send and answers each with "Message received".
Runs until SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			serveApp, err := app.NewServe(cfg)
			if err != nil {
				return err
			}
			return serveApp.Run(ctx)
		},
	}

	cmd.Flags().String("listen", d.Listen, "address to listen on")
	cmd.Flags().String("cert", d.ServerCert, "server certificate and key bundle (PEM)")
	channelFlags(cmd.Flags())

	return cmd
}
