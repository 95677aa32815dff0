package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"hubcast.dev/go/hubcast/internal/relay"
)

var (
	statusAddr string
	statusJSON bool
)

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVar(&statusAddr, "addr", "", "web gateway address (default from config)")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print the raw status JSON")
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show a running relay's peers and counters",
	Long: `Query the web gateway of a running relay and print its listeners,
connected peers and traffic counters. The relay must run with --web.

Examples:
  hubcast status
  hubcast status --addr 192.168.4.32:28628`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	addr := cfg.Web.Addr
	if statusAddr != "" {
		addr = statusAddr
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()

	raw, err := fetchStatus(ctx, addr)
	if err != nil {
		return err
	}

	if statusJSON {
		_, err := cmd.OutOrStdout().Write(append(raw, '\n'))
		return err
	}

	var status relay.Status
	if err := json.Unmarshal(raw, &status); err != nil {
		return fmt.Errorf("decode status: %w", err)
	}

	renderStatus(cmd.OutOrStdout(), status, time.Now())
	return nil
}

// fetchStatus returns the body of GET /api/status
func fetchStatus(ctx context.Context, addr string) ([]byte, error) {
	url := addr
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = "http://" + url
	}
	url = strings.TrimSuffix(url, "/") + "/api/status"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query relay at %s: %w", addr, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read status: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("relay at %s answered %s", addr, resp.Status)
	}
	return body, nil
}

func renderStatus(w io.Writer, status relay.Status, now time.Time) {
	fmt.Fprintf(w, "Listening:  %s\n", strings.Join(status.Listen, ", "))
	if status.Metrics != nil {
		fmt.Fprintf(w, "Uptime:     %s\n", status.Metrics.Uptime)
	}
	fmt.Fprintf(w, "Peers:      %d\n", len(status.Peers))
	if status.Limiter.BlockedIPs > 0 {
		fmt.Fprintf(w, "Blocked:    %d IPs\n", status.Limiter.BlockedIPs)
	}

	if len(status.Peers) > 0 {
		fmt.Fprintln(w)
		table := newTable(w, "Handle", "Peer", "Remote", "State", "Connected", "Queued")
		table.AppendBulk(lo.Map(status.Peers, func(p relay.PeerInfo, _ int) []string {
			return []string{
				strconv.FormatUint(uint64(p.Handle), 10),
				p.Addr,
				p.Remote,
				p.State,
				formatDuration(now.Sub(p.ConnectedAt)),
				strconv.Itoa(p.Queued),
			}
		}))
		table.Render()
	}

	if status.Metrics == nil {
		return
	}

	c := status.Metrics.Counters
	fmt.Fprintln(w)
	table := newTable(w, "Counter", "Value")
	table.AppendBulk([][]string{
		{"peers accepted", strconv.FormatInt(c.PeersAccepted, 10)},
		{"peers rejected", strconv.FormatInt(c.PeersRejected, 10)},
		{"disconnects", strconv.FormatInt(c.Disconnects, 10)},
		{"messages received", strconv.FormatInt(c.MessagesReceived, 10)},
		{"broadcasts", strconv.FormatInt(c.Broadcasts, 10)},
		{"deliveries", strconv.FormatInt(c.Deliveries, 10)},
		{"delivery failures", strconv.FormatInt(c.DeliveryFailures, 10)},
		{"queue overflows", strconv.FormatInt(c.QueueOverflows, 10)},
		{"rate limit drops", strconv.FormatInt(c.RateLimitDrops, 10)},
		{"bytes received", strconv.FormatInt(c.BytesReceived, 10)},
		{"bytes sent", strconv.FormatInt(c.BytesSent, 10)},
	})
	table.Render()
}

// newTable returns a borderless left-aligned table
func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	return table
}

func formatDuration(d time.Duration) string {
	if d < 0 {
		return "0s"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		hours := int(d.Hours())
		mins := int(d.Minutes()) % 60
		if mins > 0 {
			return fmt.Sprintf("%dh %dm", hours, mins)
		}
		return fmt.Sprintf("%dh", hours)
	}
	return fmt.Sprintf("%dd", int(d.Hours()/24))
}
