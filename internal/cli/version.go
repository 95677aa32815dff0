package cli

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"
)

var (
	// Set via ldflags
	commit    = "unknown"
	buildDate = "unknown"

	versionFull bool
)

// SetBuildInfo sets build information from ldflags
func SetBuildInfo(c, d string) {
	commit = c
	buildDate = d
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVar(&versionFull, "full", false, "print commit, build date and dependencies")
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run:   runVersion,
}

func runVersion(cmd *cobra.Command, args []string) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "hubcast version %s\n", version)

	if !versionFull {
		return
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "  Commit:     %s\n", buildSetting("vcs.revision", commit))
	fmt.Fprintf(out, "  Built:      %s\n", buildSetting("vcs.time", buildDate))
	fmt.Fprintf(out, "  Go version: %s\n", runtime.Version())
	fmt.Fprintf(out, "  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, "  Dependencies:")
	for _, dep := range info.Deps {
		if dep.Replace != nil {
			fmt.Fprintf(out, "    %s => %s %s\n", dep.Path, dep.Replace.Path, dep.Replace.Version)
		} else {
			fmt.Fprintf(out, "    %s %s\n", dep.Path, dep.Version)
		}
	}
}

// buildSetting prefers the ldflags value, then the VCS stamp in the binary
func buildSetting(key, ldflag string) string {
	if ldflag != "unknown" {
		return ldflag
	}

	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			if setting.Key != key {
				continue
			}
			if key == "vcs.revision" && len(setting.Value) > 8 {
				return setting.Value[:8]
			}
			return setting.Value
		}
	}
	return "unknown"
}
