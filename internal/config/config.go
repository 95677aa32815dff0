package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"hubcast.dev/go/hubcast/internal/protocol"
)

// DefaultPort is the well-known relay port
const DefaultPort = 28627

// Config represents the hubcast configuration file
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Limits    LimitsConfig    `toml:"limits"`
	Discovery DiscoveryConfig `toml:"discovery"`
	Web       WebConfig       `toml:"web"`
	Logging   LoggingConfig   `toml:"logging"`
	Client    ClientConfig    `toml:"client"`
}

// ServerConfig contains relay server settings
type ServerConfig struct {
	BindAddr       string        `toml:"bind_addr"`
	Port           int           `toml:"port"`
	Framing        string        `toml:"framing"`          // length, block
	MaxMessageSize int           `toml:"max_message_size"` // bytes per frame
	PollTimeout    time.Duration `toml:"poll_timeout"`
	SendQueueSize  int           `toml:"send_queue_size"` // frames buffered per peer
	WriteTimeout   time.Duration `toml:"write_timeout"`
	ShutdownGrace  time.Duration `toml:"shutdown_grace"`
	MaxPeers       int           `toml:"max_peers"` // 0 = derived from the descriptor limit
	ShowPorts      bool          `toml:"show_ports"`
}

// LimitsConfig contains connection and message rate limits
type LimitsConfig struct {
	MaxConnectionsPerIP int     `toml:"max_connections_per_ip"`
	ConnectionsPerSec   float64 `toml:"connections_per_sec"`
	ConnectionBurst     int     `toml:"connection_burst"`
	IPConnectionsPerSec float64 `toml:"ip_connections_per_sec"`
	IPConnectionBurst   int     `toml:"ip_connection_burst"`
	MessagesPerSec      float64 `toml:"messages_per_sec"`
	MessageBurst        int     `toml:"message_burst"`
}

// DiscoveryConfig contains LAN discovery settings
type DiscoveryConfig struct {
	MDNS     bool   `toml:"mdns"`
	Instance string `toml:"instance"` // defaults to the hostname
}

// WebConfig contains the HTTP status and WebSocket gateway settings
type WebConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // text, json
	File   string `toml:"file"`   // used while the console owns the terminal
}

// ClientConfig contains settings for hubcast join
type ClientConfig struct {
	Server      string        `toml:"server"`
	DialTimeout time.Duration `toml:"dial_timeout"`
	ExitToken   string        `toml:"exit_token"`
}

// Default returns a config with sensible defaults
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			BindAddr:       "0.0.0.0",
			Port:           DefaultPort,
			Framing:        string(protocol.FramingLength),
			MaxMessageSize: protocol.MaxMessageSize,
			PollTimeout:    500 * time.Millisecond,
			SendQueueSize:  64,
			WriteTimeout:   5 * time.Second,
			ShutdownGrace:  time.Second,
			MaxPeers:       0,
		},
		Limits: LimitsConfig{
			MaxConnectionsPerIP: 16,
			ConnectionsPerSec:   20,
			ConnectionBurst:     40,
			IPConnectionsPerSec: 5,
			IPConnectionBurst:   10,
			MessagesPerSec:      20,
			MessageBurst:        40,
		},
		Discovery: DiscoveryConfig{
			MDNS: false,
		},
		Web: WebConfig{
			Enabled: false,
			Addr:    "127.0.0.1:28628",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Client: ClientConfig{
			DialTimeout: 10 * time.Second,
			ExitToken:   protocol.DefaultExitToken,
		},
	}
}

// Load loads the configuration from the default config file, then applies
// HUBCAST_* environment overrides.
func Load() (*Config, error) {
	paths, err := GetPaths()
	if err != nil {
		return nil, fmt.Errorf("get paths: %w", err)
	}

	return LoadFrom(paths.ConfigFile)
}

// LoadFrom loads the configuration from a specific file, then applies
// HUBCAST_* environment overrides.
func LoadFrom(path string) (*Config, error) {
	cfg, err := ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ReadFile reads a config file over the defaults without consulting the environment
func ReadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if no config file exists
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}

// Save saves the configuration to the default config file
func (c *Config) Save() error {
	paths, err := GetPaths()
	if err != nil {
		return fmt.Errorf("get paths: %w", err)
	}

	return c.SaveTo(paths.ConfigFile)
}

// SaveTo saves the configuration to a specific file
func (c *Config) SaveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create config file: %w", err)
	}
	defer f.Close()

	return c.Encode(f)
}

// Encode writes the configuration as TOML
func (c *Config) Encode(w io.Writer) error {
	if err := toml.NewEncoder(w).Encode(c); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return nil
}

// ListenAddr returns the host:port the relay listens on
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddr, c.Server.Port)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}

	if _, err := protocol.ParseFraming(c.Server.Framing); err != nil {
		return fmt.Errorf("invalid framing: %w", err)
	}

	if c.Server.MaxMessageSize < 1 || c.Server.MaxMessageSize > 1<<20 {
		return fmt.Errorf("invalid max message size: %d", c.Server.MaxMessageSize)
	}

	if c.Server.PollTimeout <= 0 {
		return fmt.Errorf("poll timeout must be positive: %s", c.Server.PollTimeout)
	}

	if c.Server.SendQueueSize < 1 {
		return fmt.Errorf("invalid send queue size: %d", c.Server.SendQueueSize)
	}

	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("write timeout must be positive: %s", c.Server.WriteTimeout)
	}

	if c.Server.MaxPeers < 0 {
		return fmt.Errorf("invalid max peers: %d", c.Server.MaxPeers)
	}

	if c.Limits.ConnectionsPerSec <= 0 || c.Limits.IPConnectionsPerSec <= 0 || c.Limits.MessagesPerSec <= 0 {
		return fmt.Errorf("rate limits must be positive")
	}

	// A zero burst makes the limiter refuse everything
	if c.Limits.ConnectionBurst < 1 {
		return fmt.Errorf("invalid connection burst: %d", c.Limits.ConnectionBurst)
	}
	if c.Limits.IPConnectionBurst < 1 {
		return fmt.Errorf("invalid per-host connection burst: %d", c.Limits.IPConnectionBurst)
	}
	if c.Limits.MessageBurst < 1 {
		return fmt.Errorf("invalid message burst: %d", c.Limits.MessageBurst)
	}

	if c.Web.Enabled && c.Web.Addr == "" {
		return fmt.Errorf("web gateway enabled without an address")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	if c.Client.ExitToken == "" {
		return fmt.Errorf("exit token must not be empty")
	}

	return nil
}
