package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"hubcast.dev/go/hubcast/internal/config"
	"hubcast.dev/go/hubcast/internal/discovery"
	"hubcast.dev/go/hubcast/internal/logging"
	"hubcast.dev/go/hubcast/internal/protocol"
	"hubcast.dev/go/hubcast/internal/relay"
	"hubcast.dev/go/hubcast/internal/tui"
)

var (
	serveBind      string
	servePort      int
	serveFraming   string
	serveMaxPeers  int
	serveShowPorts bool
	serveWeb       bool
	serveWebAddr   string
	serveMDNS      bool
	serveQR        bool
	servePlain     bool
)

// errStopServing ends the serve group when the operator leaves
var errStopServing = errors.New("operator stopped the relay")

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveBind, "bind", "", "address to bind (default from config, 0.0.0.0)")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "port to listen on (default from config, 28627)")
	serveCmd.Flags().StringVar(&serveFraming, "framing", "", "wire framing: length or block")
	serveCmd.Flags().IntVar(&serveMaxPeers, "max-peers", 0, "maximum connected peers (0 = derived from the descriptor limit)")
	serveCmd.Flags().BoolVar(&serveShowPorts, "show-ports", false, "include source ports in peer addresses")
	serveCmd.Flags().BoolVar(&serveWeb, "web", false, "enable the HTTP status API and WebSocket gateway")
	serveCmd.Flags().StringVar(&serveWebAddr, "web-addr", "", "address for the web gateway")
	serveCmd.Flags().BoolVar(&serveMDNS, "mdns", false, "advertise the relay on the local network via mDNS")
	serveCmd.Flags().BoolVar(&serveQR, "qr", false, "print the join address as a QR code")
	serveCmd.Flags().BoolVar(&servePlain, "plain", false, "use a plain line console instead of the full-screen one")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a broadcast relay",
	Long: `Run a broadcast relay on this machine.

Every line a connected peer sends is relayed to all other peers. Lines typed
at the SERVER prompt are sent to everyone as (SERVER) messages. Type /exit
to notify peers and shut the relay down.

Examples:
  hubcast serve
  hubcast serve --port 9000 --show-ports
  hubcast serve --web --mdns --qr`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyServeFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	framing, err := protocol.ParseFraming(cfg.Server.Framing)
	if err != nil {
		return err
	}

	var surface tui.Surface
	if servePlain {
		surface = tui.NewLineConsole(nil, nil, "SERVER: ")
	} else {
		surface = tui.Open("SERVER: ")
	}
	defer surface.Close()

	logs, closeLog, err := setupLogging(cfg, func(entry logging.LogEntry) {
		surface.Println(entry.Line())
	})
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := relay.New(relayOptions(cfg, surface.Println))

	ln, err := relay.Listen(ctx, cfg.ListenAddr(), framing, cfg.Server.MaxMessageSize)
	if err != nil {
		return err
	}
	listeners := []relay.Listener{ln}

	if cfg.Web.Enabled {
		gw := relay.NewWebGateway(cfg.Web.Addr, cfg.Server.MaxMessageSize, srv.Status, logs)
		if err := gw.Start(ctx); err != nil {
			ln.Close()
			return err
		}
		listeners = append(listeners, gw)
	}

	port := cfg.Server.Port
	if tcp, ok := ln.Addr().(*net.TCPAddr); ok {
		port = tcp.Port
	}

	if cfg.Discovery.MDNS {
		adv, err := discovery.Advertise(cfg.Discovery.Instance, port, framing)
		if err != nil {
			slog.Warn("mDNS advertisement failed", "error", err)
		} else {
			defer adv.Stop()
		}
	}

	showBanner(surface, cfg, ln.Addr(), port)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(gctx, listeners...)
	})
	g.Go(func() error {
		err := srv.RunOperator(gctx, surface, cfg.Client.ExitToken)
		switch {
		case errors.Is(err, relay.ErrOperatorExit), errors.Is(err, tui.ErrInterrupted):
			return errStopServing
		case err == nil:
			// Input is gone; keep relaying until a signal arrives
			<-gctx.Done()
			return nil
		case gctx.Err() != nil:
			return nil
		default:
			return err
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errStopServing) {
		return err
	}
	return nil
}

func applyServeFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("bind") {
		cfg.Server.BindAddr = serveBind
	}
	if flags.Changed("port") {
		cfg.Server.Port = servePort
	}
	if flags.Changed("framing") {
		cfg.Server.Framing = serveFraming
	}
	if flags.Changed("max-peers") {
		cfg.Server.MaxPeers = serveMaxPeers
	}
	if flags.Changed("show-ports") {
		cfg.Server.ShowPorts = serveShowPorts
	}
	if flags.Changed("web") {
		cfg.Web.Enabled = serveWeb
	}
	if flags.Changed("web-addr") {
		cfg.Web.Addr = serveWebAddr
		cfg.Web.Enabled = true
	}
	if flags.Changed("mdns") {
		cfg.Discovery.MDNS = serveMDNS
	}
}

// relayOptions maps the config onto relay options. A zero max_peers is
// replaced by a capacity derived from the process descriptor limit.
func relayOptions(cfg *config.Config, onEnvelope func(string)) relay.Options {
	maxPeers := cfg.Server.MaxPeers
	if maxPeers == 0 {
		limit, err := relay.DescriptorLimit()
		if err != nil {
			slog.Debug("Descriptor limit unavailable", "error", err)
		}
		maxPeers = relay.CapacityFromLimit(limit)
	}

	connCfg := relay.DefaultConnectionLimiterConfig()
	connCfg.MaxConnectionsPerIP = int32(cfg.Limits.MaxConnectionsPerIP)
	connCfg.ConnectionsPerSec = cfg.Limits.ConnectionsPerSec
	connCfg.ConnectionBurst = cfg.Limits.ConnectionBurst
	connCfg.IPConnectionsPerSec = cfg.Limits.IPConnectionsPerSec
	connCfg.IPConnectionBurst = cfg.Limits.IPConnectionBurst

	msgCfg := relay.DefaultMessageLimiterConfig()
	msgCfg.PeerMessagesPerSec = cfg.Limits.MessagesPerSec
	msgCfg.PeerBurst = cfg.Limits.MessageBurst

	return relay.Options{
		PollTimeout:    cfg.Server.PollTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		ShutdownGrace:  cfg.Server.ShutdownGrace,
		SendQueueSize:  cfg.Server.SendQueueSize,
		MaxPeers:       maxPeers,
		MaxMessageSize: cfg.Server.MaxMessageSize,
		ShowPorts:      cfg.Server.ShowPorts,
		ConnLimiter:    relay.NewConnectionLimiter(connCfg),
		MsgLimiter:     relay.NewMessageLimiter(msgCfg),
		OnEnvelope:     onEnvelope,
	}
}

func showBanner(surface tui.Surface, cfg *config.Config, bound net.Addr, port int) {
	addrs := joinAddresses(bound, port)

	var content strings.Builder
	fmt.Fprintf(&content, "Listening on %s\n", bound)
	for _, a := range addrs {
		fmt.Fprintf(&content, "Join with:    hubcast join %s\n", a)
	}
	if cfg.Web.Enabled {
		fmt.Fprintf(&content, "Web gateway:  http://%s\n", cfg.Web.Addr)
	}
	fmt.Fprintf(&content, "Type %s to close the relay", cfg.Client.ExitToken)

	for _, line := range strings.Split(tui.Box("hubcast relay", content.String()), "\n") {
		if line != "" {
			surface.Println(line)
		}
	}

	if serveQR && len(addrs) > 0 {
		qr, err := qrcode.New(addrs[0], qrcode.Medium)
		if err != nil {
			slog.Warn("Could not render QR code", "error", err)
			return
		}
		for _, line := range strings.Split(qr.ToSmallString(false), "\n") {
			surface.Println(line)
		}
	}
}

// joinAddresses lists the host:port values other machines can dial. A
// wildcard bind expands to every non-loopback interface address.
func joinAddresses(bound net.Addr, port int) []string {
	host := ""
	if tcp, ok := bound.(*net.TCPAddr); ok && tcp.IP != nil && !tcp.IP.IsUnspecified() {
		host = tcp.IP.String()
	}
	if host != "" {
		return []string{net.JoinHostPort(host, strconv.Itoa(port))}
	}

	ips, err := localIPv4s()
	if err != nil || len(ips) == 0 {
		return []string{net.JoinHostPort("127.0.0.1", strconv.Itoa(port))}
	}

	addrs := make([]string, 0, len(ips))
	for _, ip := range ips {
		addrs = append(addrs, net.JoinHostPort(ip.String(), strconv.Itoa(port)))
	}
	return addrs
}

// localIPv4s returns the IPv4 addresses of interfaces that are up
func localIPv4s() ([]net.IP, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("get interfaces: %w", err)
	}

	var ips []net.IP
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && ipnet.IP.To4() != nil && !ipnet.IP.IsLoopback() {
				ips = append(ips, ipnet.IP.To4())
			}
		}
	}
	return ips, nil
}
