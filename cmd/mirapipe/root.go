// cmd/mirapipe/root.go
// Root command, config loading and flag overrides

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/aspnmy/mirapipe/internal/core"
	"github.com/aspnmy/mirapipe/internal/telemetry"
	"github.com/aspnmy/mirapipe/pkg/logger"
)

var (
	cfgFile      string
	verbose      bool
	cfg          *core.Config
	otelShutdown func(context.Context) error
)

// flagKeys maps command-line flags to the configuration keys they override.
// Only flags set explicitly take part, so file and env values survive.
var flagKeys = map[string]string{
	"ports":             "scan.ports",
	"workers":           "scan.workers",
	"connect-timeout":   "scan.connect_timeout",
	"tls-timeout":       "scan.tls_timeout",
	"tls-probe":         "scan.tls_probe",
	"output":            "output.format",
	"output-file":       "output.file",
	"color":             "output.color",
	"certstore":         "channel.certstore",
	"listen":            "channel.listen",
	"cert":              "channel.server_cert",
	"client-cert":       "channel.client_cert",
	"ca":                "channel.ca",
	"password":          "channel.password",
	"dial-timeout":      "channel.connect_timeout",
	"handshake-timeout": "channel.handshake_timeout",
	"max-message":       "channel.max_message",
	"message":           "channel.message",
	"log-level":         "log.level",
	"log-format":        "log.format",
	"log-file":          "log.file",
}

var rootCmd = &cobra.Command{
	Use:   "mirapipe",
	Short: "TCP/TLS port scanner and mutual-TLS message channel",
	Long: `mirapipe scans a host for open TCP ports and probes each open port
for TLS. It also runs a mutual-TLS server that acknowledges every message,
and a client that sends one message and prints the reply.

Configuration priority: defaults < config file < MIRAPIPE_* env < flags.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}

		overrides := collectOverrides(cmd.Flags())
		if verbose {
			overrides["log.level"] = "debug"
			overrides["output.verbose"] = true
		}
		if cmd.Name() == "scan" && len(args) > 0 {
			overrides["scan.host"] = args[0]
		}

		var err error
		cfg, err = core.Load(cfgFile, overrides)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if err := logger.Init(logger.Config{
			Level:  cfg.Log.Level,
			Format: cfg.Log.Format,
			File:   cfg.Log.File,
		}); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		core.Print(cfg)

		otelShutdown, err = telemetry.Init(context.Background(), &cfg.Telemetry, verbose)
		if err != nil {
			return fmt.Errorf("failed to init telemetry: %w", err)
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		_ = logger.Sync()
		if otelShutdown != nil {
			return otelShutdown(context.Background())
		}
		return nil
	},
}

// Execute runs the root command and exits non-zero on failure
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (YAML)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging and per-port output")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "console", "log format: console, json")
	rootCmd.PersistentFlags().String("log-file", "", "log file (stderr when empty)")

	rootCmd.AddCommand(newScanCmd(), newServeCmd(), newConnectCmd(), newVersionCmd())
}

// collectOverrides turns every explicitly set flag into a config override
func collectOverrides(flags *pflag.FlagSet) map[string]interface{} {
	overrides := make(map[string]interface{})
	flags.Visit(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok {
			return
		}

		var (
			v   interface{}
			err error
		)
		switch f.Value.Type() {
		case "int":
			v, err = flags.GetInt(f.Name)
		case "bool":
			v, err = flags.GetBool(f.Name)
		case "duration":
			v, err = flags.GetDuration(f.Name)
		default:
			v = f.Value.String()
		}
		if err == nil {
			overrides[key] = v
		}
	})
	return overrides
}

// channelFlags registers the trust material flags shared by serve and connect
func channelFlags(flags *pflag.FlagSet) {
	d := core.Default().Channel
	flags.String("certstore", d.CertStore, "directory relative certificate paths are resolved against")
	flags.String("ca", d.CA, "trust anchor (CA certificate) PEM")
	flags.String("password", d.Password, "private key password")
	flags.Duration("handshake-timeout", d.HandshakeTimeout, "TLS handshake timeout")
	flags.Int("max-message", d.MaxMessage, "maximum bytes read per message")
}
