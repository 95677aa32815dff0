package cli

import (
	"io"

	"github.com/spf13/cobra"

	"hubcast.dev/go/hubcast/internal/config"
	"hubcast.dev/go/hubcast/internal/logging"
)

var (
	version    = "dev"
	cfgFile    string
	verboseLog bool
)

func SetVersion(v string) {
	version = v
}

// RootCmd is the root command, exported for documentation generation
var RootCmd = &cobra.Command{
	Use:   "hubcast",
	Short: "Broadcast text relay for the local network",
	Long: `hubcast - Broadcast text relay for the local network

Run a relay with "hubcast serve" and connect to it from other machines with
"hubcast join". Every line a peer sends is relayed to all other peers,
tagged with the sender's address.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// For internal use, keep an alias
var rootCmd = RootCmd

func Execute() error {
	return RootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $HOME/.config/hubcast/config.toml)")
	rootCmd.PersistentFlags().BoolVarP(&verboseLog, "verbose", "v", false, "verbose output")
}

// loadConfig reads the .env file, the config file and HUBCAST_* overrides,
// in that order of increasing precedence
func loadConfig() (*config.Config, error) {
	paths, err := config.GetPaths()
	if err != nil {
		return nil, err
	}

	if err := config.LoadDotEnv(paths.EnvFile); err != nil {
		return nil, err
	}

	path := cfgFile
	if path == "" {
		path = paths.ConfigFile
	}

	cfg, err := config.LoadFrom(path)
	if err != nil {
		return nil, err
	}

	if verboseLog {
		cfg.Logging.Level = "debug"
	}

	return cfg, nil
}

// setupLogging routes records to the surface through the sink. The text
// or JSON handler only writes when a log file is configured, since the
// surface already shows every record.
func setupLogging(cfg *config.Config, sink logging.Sink) (*logging.LogBuffer, func() error, error) {
	return logging.Setup(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
		Output: io.Discard,
		Sink:   sink,
	})
}
