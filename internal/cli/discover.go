package cli

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"hubcast.dev/go/hubcast/internal/discovery"
)

var discoverTimeout time.Duration

func init() {
	rootCmd.AddCommand(discoverCmd)
	discoverCmd.Flags().DurationVar(&discoverTimeout, "timeout", discovery.BrowseTimeout, "how long to listen for answers")
}

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "List relays advertised on the local network",
	Long: `Browse mDNS for relays started with --mdns and list them.

Examples:
  hubcast discover
  hubcast discover --timeout 10s`,
	Args: cobra.NoArgs,
	RunE: runDiscover,
}

func runDiscover(cmd *cobra.Command, args []string) error {
	services, err := discovery.Browse(cmd.Context(), discoverTimeout)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(services) == 0 {
		fmt.Fprintln(out, "No hubcast servers found")
		return nil
	}

	table := newTable(out, "Instance", "Address", "Framing", "IPs")
	for _, s := range services {
		ips := lo.Map(s.IPs, func(ip net.IP, _ int) string { return ip.String() })
		table.Append([]string{s.Instance, s.Address(), string(s.Framing), strings.Join(ips, ", ")})
	}
	table.Render()
	return nil
}
