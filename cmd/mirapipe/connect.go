// cmd/mirapipe/connect.go
// connect command: send one message over mutual TLS

package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aspnmy/mirapipe/internal/app"
	"github.com/aspnmy/mirapipe/internal/core"
)

func newConnectCmd() *cobra.Command {
	d := core.Default().Channel

	cmd := &cobra.Command{
		Use:   "connect [host:port | https://host:port]",
		Short: "Send one message to a mutual-TLS server and print the reply",
		Example: `  mirapipe connect
  mirapipe connect localhost:5000 -m "ping"
  mirapipe connect https://10.0.0.5:5000 --certstore /etc/mirapipe`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			server := cfg.Channel.Server
			if len(args) > 0 {
				server = args[0]
			}

			connectApp, err := app.NewConnect(cfg)
			if err != nil {
				return err
			}
			reply, err := connectApp.Send(ctx, server, []byte(cfg.Channel.Message))
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Connected to %s (%s, peer %q)\n", reply.Server, reply.TLSVersion, reply.PeerName)
			fmt.Fprintf(cmd.OutOrStdout(), "Received: %s\n", reply.Payload)
			return nil
		},
	}

	cmd.Flags().String("client-cert", d.ClientCert, "client certificate and key bundle (PEM)")
	cmd.Flags().StringP("message", "m", d.Message, "message to send")
	cmd.Flags().Duration("dial-timeout", d.ConnectTimeout, "TCP connect timeout")
	channelFlags(cmd.Flags())

	return cmd
}
