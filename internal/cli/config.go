package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"hubcast.dev/go/hubcast/internal/config"
	"hubcast.dev/go/hubcast/internal/tui"
)

var configForce bool

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configInitCmd.Flags().BoolVarP(&configForce, "force", "f", false, "overwrite an existing config file without asking")
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the hubcast config file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file with the default settings",
	Args:  cobra.NoArgs,
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the configuration after the config file, the .env file and
HUBCAST_* environment overrides have been applied.`,
	Args: cobra.NoArgs,
	RunE: runConfigShow,
}

func configPath() (string, error) {
	if cfgFile != "" {
		return cfgFile, nil
	}
	paths, err := config.GetPaths()
	if err != nil {
		return "", err
	}
	if err := paths.EnsureDirectories(); err != nil {
		return "", err
	}
	return paths.ConfigFile, nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path, err := configPath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(path); err == nil && !configForce {
		ok, err := tui.Confirm(fmt.Sprintf("%s exists. Overwrite?", path), false)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(cmd.OutOrStdout(), "Aborted")
			return nil
		}
	}

	if err := config.Default().SaveTo(path); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return cfg.Encode(cmd.OutOrStdout())
}
