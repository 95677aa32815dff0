package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is the prefix for environment overrides (HUBCAST_PORT, ...)
const EnvPrefix = "HUBCAST"

// envOverrides mirrors the settings that can be overridden from the
// environment. Pointer fields stay nil when the variable is unset.
type envOverrides struct {
	BindAddr       *string        `envconfig:"BIND_ADDR"`
	Port           *int           `envconfig:"PORT"`
	Framing        *string        `envconfig:"FRAMING"`
	MaxMessageSize *int           `envconfig:"MAX_MESSAGE_SIZE"`
	PollTimeout    *time.Duration `envconfig:"POLL_TIMEOUT"`
	SendQueueSize  *int           `envconfig:"SEND_QUEUE_SIZE"`
	WriteTimeout   *time.Duration `envconfig:"WRITE_TIMEOUT"`
	MaxPeers       *int           `envconfig:"MAX_PEERS"`
	IPConnRate     *float64       `envconfig:"IP_CONNECTIONS_PER_SEC"`
	IPConnBurst    *int           `envconfig:"IP_CONNECTION_BURST"`
	MDNS           *bool          `envconfig:"MDNS"`
	WebEnabled     *bool          `envconfig:"WEB_ENABLED"`
	WebAddr        *string        `envconfig:"WEB_ADDR"`
	LogLevel       *string        `envconfig:"LOG_LEVEL"`
	LogFormat      *string        `envconfig:"LOG_FORMAT"`
	LogFile        *string        `envconfig:"LOG_FILE"`
	ClientServer   *string        `envconfig:"SERVER"`
}

// LoadDotEnv loads KEY=VALUE pairs from a .env file into the process
// environment. Variables that are already set win. A missing file is not an error.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat env file: %w", err)
	}

	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

// ApplyEnv overlays HUBCAST_* environment variables onto the config
func (c *Config) ApplyEnv() error {
	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}

	set(&c.Server.BindAddr, env.BindAddr)
	set(&c.Server.Port, env.Port)
	set(&c.Server.Framing, env.Framing)
	set(&c.Server.MaxMessageSize, env.MaxMessageSize)
	set(&c.Server.PollTimeout, env.PollTimeout)
	set(&c.Server.SendQueueSize, env.SendQueueSize)
	set(&c.Server.WriteTimeout, env.WriteTimeout)
	set(&c.Server.MaxPeers, env.MaxPeers)
	set(&c.Limits.IPConnectionsPerSec, env.IPConnRate)
	set(&c.Limits.IPConnectionBurst, env.IPConnBurst)
	set(&c.Discovery.MDNS, env.MDNS)
	set(&c.Web.Enabled, env.WebEnabled)
	set(&c.Web.Addr, env.WebAddr)
	set(&c.Logging.Level, env.LogLevel)
	set(&c.Logging.Format, env.LogFormat)
	set(&c.Logging.File, env.LogFile)
	set(&c.Client.Server, env.ClientServer)

	return nil
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}
