package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"hubcast.dev/go/hubcast/internal/service"
)

var serviceLogLines int

func init() {
	rootCmd.AddCommand(serviceCmd)
	serviceCmd.AddCommand(serviceInstallCmd, serviceUninstallCmd, serviceStartCmd, serviceStopCmd, serviceStatusCmd, serviceLogsCmd)
	serviceLogsCmd.Flags().IntVarP(&serviceLogLines, "lines", "n", 50, "number of lines to show")
}

var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Run the relay as a background user service",
	Long: `Install the relay as a per-user background service (systemd on Linux,
launchd on macOS). The service runs "hubcast serve --plain" with the config
file given by --config, or the default one.`,
}

var serviceInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Install and enable the service",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfgFile
		if path != "" {
			abs, err := filepath.Abs(path)
			if err != nil {
				return fmt.Errorf("resolve config path: %w", err)
			}
			path = abs
		}

		if err := service.NewInstaller().Install(service.ServeArgs(path)); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Service installed. Start it with: hubcast service start")
		return nil
	},
}

var serviceUninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Stop and remove the service",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := service.NewInstaller().Uninstall(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Service removed")
		return nil
	},
}

var serviceStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the service",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return service.NewInstaller().Start()
	},
}

var serviceStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the service",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return service.NewInstaller().Stop()
	},
}

var serviceStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the service is installed and running",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := service.NewInstaller().Status()
		if err != nil {
			return err
		}
		printServiceStatus(cmd, status)
		return nil
	},
}

var serviceLogsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show recent service output",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		inst := service.NewInstaller()
		if !inst.IsInstalled() {
			return service.ErrNotInstalled
		}
		out, err := inst.Logs(serviceLogLines)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), out)
		return nil
	},
}

func printServiceStatus(cmd *cobra.Command, status service.Status) {
	out := cmd.OutOrStdout()
	if !status.Installed {
		fmt.Fprintln(out, "Service:    not installed")
		return
	}

	state := "stopped"
	if status.Running {
		state = "running"
	}
	fmt.Fprintf(out, "Service:    %s\n", state)
	if status.PID > 0 {
		fmt.Fprintf(out, "PID:        %d\n", status.PID)
	}
	if status.Uptime > 0 {
		fmt.Fprintf(out, "Uptime:     %s\n", formatDuration(status.Uptime))
	}
}
