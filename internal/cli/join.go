package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"hubcast.dev/go/hubcast/internal/client"
	"hubcast.dev/go/hubcast/internal/config"
	"hubcast.dev/go/hubcast/internal/discovery"
	"hubcast.dev/go/hubcast/internal/logging"
	"hubcast.dev/go/hubcast/internal/protocol"
	"hubcast.dev/go/hubcast/internal/tui"
)

const (
	addressPrompt = "Enter the server IP: "
	sendPrompt    = "SEND: "
)

var (
	joinDiscover bool
	joinFraming  string
	joinPlain    bool
)

// errQuit ends the join loop when the exit token is typed at the address prompt
var errQuit = errors.New("quit")

func init() {
	rootCmd.AddCommand(joinCmd)
	joinCmd.Flags().BoolVar(&joinDiscover, "discover", false, "find a relay on the local network via mDNS")
	joinCmd.Flags().StringVar(&joinFraming, "framing", "", "wire framing: length or block")
	joinCmd.Flags().BoolVar(&joinPlain, "plain", false, "use a plain line console instead of the full-screen one")
}

var joinCmd = &cobra.Command{
	Use:   "join [address]",
	Short: "Connect to a relay and chat",
	Long: `Connect to a relay and exchange lines with every other peer.

The address is an IPv4 address, a hostname, either of those with :port, or
a ws:// URL for a relay's web gateway. Without an address you are prompted
for one, and after leaving a server you are prompted again. Type /exit to
leave a server, or at the address prompt to quit.

Examples:
  hubcast join 192.168.4.32
  hubcast join 192.168.4.32:9000
  hubcast join --discover
  hubcast join ws://192.168.4.32:28628/ws`,
	Args: cobra.MaximumNArgs(1),
	RunE: runJoin,
}

func runJoin(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("framing") {
		cfg.Server.Framing = joinFraming
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	framing, err := protocol.ParseFraming(cfg.Server.Framing)
	if err != nil {
		return err
	}

	var surface tui.Surface
	if joinPlain {
		surface = tui.NewLineConsole(nil, nil, addressPrompt)
	} else {
		surface = tui.Open(addressPrompt)
	}
	defer surface.Close()

	_, closeLog, err := setupLogging(cfg, func(entry logging.LogEntry) {
		surface.Println(entry.Line())
	})
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	j := &joiner{
		surface: surface,
		cfg:     cfg,
		opts: client.Options{
			Framing:        framing,
			MaxMessageSize: cfg.Server.MaxMessageSize,
			DialTimeout:    cfg.Client.DialTimeout,
		},
	}

	target := cfg.Client.Server
	if len(args) == 1 {
		target = args[0]
	}

	if joinDiscover {
		surface.Println("Searching the local network for a hubcast server...")
		svc, err := discovery.FindFirst(ctx, discovery.BrowseTimeout)
		if err != nil {
			return err
		}
		surface.Println(fmt.Sprintf("Found %s at %s", svc.Instance, svc.Address()))
		j.opts.Framing = svc.Framing
		target = svc.Address()
	}

	if target != "" {
		addr, err := client.ParseServerAddr(target, config.DefaultPort)
		if err != nil {
			return err
		}
		return quietExit(j.connect(ctx, addr))
	}

	return quietExit(j.loop(ctx))
}

// quietExit maps user-initiated exits to a clean return
func quietExit(err error) error {
	switch {
	case err == nil,
		errors.Is(err, errQuit),
		errors.Is(err, io.EOF),
		errors.Is(err, tui.ErrInterrupted),
		errors.Is(err, context.Canceled):
		return nil
	}
	return err
}

// joiner drives the prompt, connect and chat cycle on one surface
type joiner struct {
	surface tui.Surface
	cfg     *config.Config
	opts    client.Options
}

// loop prompts for a server, chats until the session ends and prompts again
func (j *joiner) loop(ctx context.Context) error {
	for {
		addr, err := j.promptAddress(ctx)
		if err != nil {
			return err
		}
		if err := j.connect(ctx, addr); err != nil {
			return err
		}
	}
}

// promptAddress reads lines until one parses as a server address
func (j *joiner) promptAddress(ctx context.Context) (string, error) {
	j.surface.SetPrompt(addressPrompt)
	for {
		if lc, ok := j.surface.(*tui.LineConsole); ok {
			lc.Prompt()
		}

		line, err := j.surface.Next(ctx)
		if err != nil {
			return "", err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == j.cfg.Client.ExitToken {
			return "", errQuit
		}

		addr, err := client.ParseServerAddr(line, config.DefaultPort)
		if err != nil {
			j.surface.Println(fmt.Sprintf("The server IP %q is not valid. Please enter the IP of the server formatted like so: 192.168.4.32", line))
			continue
		}
		return addr, nil
	}
}

// connect dials addr and runs one chat session. A failed dial or a lost
// connection is reported on the surface and is not an error; only input
// loss and cancellation end the caller's loop.
func (j *joiner) connect(ctx context.Context, addr string) error {
	j.surface.Println(fmt.Sprintf("Attempting to connect to %s...", addr))

	c, err := client.Dial(ctx, addr, j.opts)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		j.surface.Println(fmt.Sprintf("Connection attempt to the server hosted at %s failed: %v", addr, err))
		return nil
	}

	j.surface.Println(fmt.Sprintf("Connection to %s successful! Type %q to leave.", addr, j.cfg.Client.ExitToken))
	j.surface.SetPrompt(sendPrompt)

	sess := &client.Session{
		Client:    c,
		Input:     j.surface,
		Output:    j.surface.Println,
		ExitToken: j.cfg.Client.ExitToken,
	}
	err = sess.Run(ctx)
	j.surface.Println(fmt.Sprintf("You have left server %s", addr))

	switch {
	case err == nil, errors.Is(err, client.ErrConnectionLost):
		return ctx.Err()
	default:
		return err
	}
}
