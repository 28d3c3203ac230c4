// internal/core/config.go
// Configuration management using Koanf

package core

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/aspnmy/mirapipe/internal/target"
	"github.com/aspnmy/mirapipe/pkg/logger"
)

// EnvPrefix is the prefix of environment overrides, e.g. MIRAPIPE_SCAN_WORKERS
const EnvPrefix = "MIRAPIPE_"

var (
	config *Config
	mu     sync.RWMutex
)

// Config represents the complete application configuration
type Config struct {
	Scan      ScanConfig      `koanf:"scan"`
	Channel   ChannelConfig   `koanf:"channel"`
	Output    OutputConfig    `koanf:"output"`
	Log       LogConfig       `koanf:"log"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

// ScanConfig contains port scanner settings
type ScanConfig struct {
	Host           string        `koanf:"host"`
	Ports          string        `koanf:"ports"` // "<port>" or "<low>-<high>"
	Workers        int           `koanf:"workers"`
	ConnectTimeout time.Duration `koanf:"connect_timeout"`
	TLSTimeout     time.Duration `koanf:"tls_timeout"`
	TLSProbe       bool          `koanf:"tls_probe"` // probe open ports for TLS
}

// ChannelConfig contains mutual-TLS client/server settings
type ChannelConfig struct {
	CertStore        string        `koanf:"certstore"` // base dir for relative paths
	Listen           string        `koanf:"listen"`
	Server           string        `koanf:"server"`
	ServerCert       string        `koanf:"server_cert"`
	ClientCert       string        `koanf:"client_cert"`
	CA               string        `koanf:"ca"`
	Password         string        `koanf:"password"`
	ConnectTimeout   time.Duration `koanf:"connect_timeout"`
	HandshakeTimeout time.Duration `koanf:"handshake_timeout"`
	MaxMessage       int           `koanf:"max_message"`
	Message          string        `koanf:"message"`
}

// OutputConfig contains report output settings
type OutputConfig struct {
	Format  string `koanf:"format"` // console, json, jsonl
	File    string `koanf:"file"`   // destination, stdout when empty
	Color   bool   `koanf:"color"`
	Verbose bool   `koanf:"verbose"` // stream every finished port
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json, console
	File   string `koanf:"file"`
}

// TelemetryConfig holds OpenTelemetry settings
type TelemetryConfig struct {
	Enabled      bool   `koanf:"enabled"`
	OTLPEndpoint string `koanf:"otlp_endpoint"`
}

// Default returns the built-in configuration. Channel paths are relative to
// the certstore directory.
func Default() Config {
	return Config{
		Scan: ScanConfig{
			Host:           "localhost",
			Ports:          "2000-3000",
			Workers:        256,
			ConnectTimeout: time.Second,
			TLSTimeout:     3 * time.Second,
			TLSProbe:       true,
		},
		Channel: ChannelConfig{
			CertStore:        "certstore",
			Listen:           "localhost:5000",
			Server:           "localhost:5000",
			ServerCert:       "server.pem",
			ClientCert:       "client.pem",
			CA:               "ca.pem",
			Password:         "123456",
			ConnectTimeout:   5 * time.Second,
			HandshakeTimeout: 5 * time.Second,
			MaxMessage:       1024,
			Message:          "Hello, World!",
		},
		Output: OutputConfig{
			Format: "console",
			Color:  true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load builds the configuration from, in increasing priority: built-in
// defaults, the YAML file at configPath (optional), MIRAPIPE_* environment
// variables and finally overrides (flat "section.key" map from the CLI).
func Load(configPath string, overrides map[string]interface{}) (*Config, error) {
	k := koanf.New(".")

	// 1. Defaults
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Config file
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// 3. Environment, MIRAPIPE_SCAN_CONNECT_TIMEOUT -> scan.connect_timeout
	envProvider := env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "_", ".", 1)
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. CLI overrides
	if len(overrides) > 0 {
		if err := k.Load(confmap.Provider(overrides, "."), nil); err != nil {
			return nil, fmt.Errorf("failed to load overrides: %w", err)
		}
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	mu.Lock()
	config = cfg
	mu.Unlock()

	return cfg, nil
}

// Validate performs validation on loaded config
func Validate(cfg *Config) error {
	if err := target.ValidateHost(cfg.Scan.Host); err != nil {
		return fmt.Errorf("scan.host: %w", err)
	}
	if _, _, err := target.ParsePortSpec(cfg.Scan.Ports); err != nil {
		return fmt.Errorf("scan.ports: %w", err)
	}

	if cfg.Scan.Workers < 1 || cfg.Scan.Workers > 10000 {
		return fmt.Errorf("invalid scan.workers: %d (must be between 1 and 10000)", cfg.Scan.Workers)
	}

	timeouts := map[string]time.Duration{
		"scan.connect_timeout":      cfg.Scan.ConnectTimeout,
		"scan.tls_timeout":          cfg.Scan.TLSTimeout,
		"channel.connect_timeout":   cfg.Channel.ConnectTimeout,
		"channel.handshake_timeout": cfg.Channel.HandshakeTimeout,
	}
	for name, d := range timeouts {
		if d < 10*time.Millisecond || d > 5*time.Minute {
			return fmt.Errorf("invalid %s: %v (must be between 10ms and 5m)", name, d)
		}
	}

	if cfg.Channel.MaxMessage < 1 || cfg.Channel.MaxMessage > 1<<20 {
		return fmt.Errorf("invalid channel.max_message: %d (must be between 1 and 1048576)", cfg.Channel.MaxMessage)
	}

	switch cfg.Output.Format {
	case "console", "json", "jsonl":
	default:
		return fmt.Errorf("invalid output.format: %s (must be console, json or jsonl)", cfg.Output.Format)
	}

	return nil
}

// Get returns the last loaded configuration, or the defaults
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()

	if config == nil {
		cfg := Default()
		return &cfg
	}
	return config
}

// CertPath resolves name against the certstore directory unless it is
// already absolute or explicitly relative to the working directory.
func (c ChannelConfig) CertPath(name string) string {
	if name == "" || filepath.IsAbs(name) || strings.HasPrefix(name, "."+string(filepath.Separator)) {
		return name
	}
	return filepath.Join(c.CertStore, name)
}

// Print logs the effective configuration at debug level
func Print(cfg *Config) {
	logger.Debug("Configuration",
		logger.String("scan.host", cfg.Scan.Host),
		logger.String("scan.ports", cfg.Scan.Ports),
		logger.Int("scan.workers", cfg.Scan.Workers),
		logger.Duration("scan.connect_timeout", cfg.Scan.ConnectTimeout),
		logger.Duration("scan.tls_timeout", cfg.Scan.TLSTimeout),
		logger.String("channel.certstore", cfg.Channel.CertStore),
		logger.String("output.format", cfg.Output.Format),
		logger.Bool("output.verbose", cfg.Output.Verbose),
		logger.Bool("telemetry.enabled", cfg.Telemetry.Enabled),
	)
}
