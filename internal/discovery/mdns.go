// Package discovery advertises a running relay on the local network and
// finds relays advertised by others.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/grandcat/zeroconf"
	"github.com/samber/lo"

	"hubcast.dev/go/hubcast/internal/protocol"
)

const (
	// ServiceType is the mDNS service type for hubcast relays
	ServiceType = "_hubcast._tcp"

	// Domain is the mDNS domain
	Domain = "local."

	// BrowseTimeout is how long a browse listens for answers by default
	BrowseTimeout = 5 * time.Second

	txtVersion = "1"
)

// ErrNotFound is returned when no relay answered a browse
var ErrNotFound = errors.New("no hubcast server found on the local network")

// Service is a relay found on the network
type Service struct {
	Instance string
	ID       string
	Host     string
	Port     int
	Framing  protocol.Framing
	IPs      []net.IP
}

// Address returns host:port suitable for dialing
func (s Service) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// Advertisement is a registered mDNS record for a running relay
type Advertisement struct {
	ID       string
	Instance string
	server   *zeroconf.Server
}

// Advertise registers the relay listening on port. An empty instance name
// uses the sanitized hostname.
func Advertise(instance string, port int, framing protocol.Framing) (*Advertisement, error) {
	if instance == "" {
		instance = hostnameInstance()
	}
	id := uuid.NewString()
	txt := TXTRecords(id, framing)

	// nil interfaces = all
	server, err := zeroconf.Register(instance, ServiceType, Domain, port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("register mDNS service: %w", err)
	}

	slog.Info("mDNS service registered",
		"instance", instance,
		"port", port,
		"id", id)

	return &Advertisement{ID: id, Instance: instance, server: server}, nil
}

// Stop withdraws the advertisement
func (a *Advertisement) Stop() {
	if a != nil && a.server != nil {
		a.server.Shutdown()
		slog.Debug("mDNS advertisement stopped", "instance", a.Instance)
	}
}

// TXTRecords builds the TXT payload announced for a relay
func TXTRecords(id string, framing protocol.Framing) []string {
	if framing == "" {
		framing = protocol.FramingLength
	}
	return []string{
		"id=" + id,
		"v=" + txtVersion,
		"framing=" + string(framing),
	}
}

// ParseEntry converts a browse answer into a Service. Entries from other
// protocol versions or without an id are rejected.
func ParseEntry(entry *zeroconf.ServiceEntry) (Service, bool) {
	if entry == nil {
		return Service{}, false
	}

	txt := parseTXT(entry.Text)
	if txt["v"] != txtVersion || txt["id"] == "" {
		return Service{}, false
	}

	framing, err := protocol.ParseFraming(txt["framing"])
	if err != nil {
		return Service{}, false
	}

	// Prefer IPv4 for the host
	host := strings.TrimSuffix(entry.HostName, ".")
	if len(entry.AddrIPv4) > 0 {
		host = entry.AddrIPv4[0].String()
	} else if len(entry.AddrIPv6) > 0 {
		host = entry.AddrIPv6[0].String()
	}
	if host == "" || entry.Port == 0 {
		return Service{}, false
	}

	ips := make([]net.IP, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	ips = append(ips, entry.AddrIPv4...)
	ips = append(ips, entry.AddrIPv6...)

	return Service{
		Instance: entry.Instance,
		ID:       txt["id"],
		Host:     host,
		Port:     entry.Port,
		Framing:  framing,
		IPs:      ips,
	}, true
}

// Browse collects relays answering within timeout, one per server id
func Browse(ctx context.Context, timeout time.Duration) ([]Service, error) {
	var found []Service
	err := browse(ctx, timeout, func(s Service) bool {
		found = append(found, s)
		return true
	})
	if err != nil {
		return nil, err
	}
	return lo.UniqBy(found, func(s Service) string { return s.ID }), nil
}

// FindFirst returns the first relay that answers within timeout
func FindFirst(ctx context.Context, timeout time.Duration) (Service, error) {
	var first Service
	var ok bool
	err := browse(ctx, timeout, func(s Service) bool {
		first, ok = s, true
		return false
	})
	if err != nil {
		return Service{}, err
	}
	if !ok {
		return Service{}, ErrNotFound
	}
	return first, nil
}

// browse feeds parsed services to fn until fn returns false or time runs out
func browse(ctx context.Context, timeout time.Duration, fn func(Service) bool) error {
	if timeout <= 0 {
		timeout = BrowseTimeout
	}

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return fmt.Errorf("create mDNS resolver: %w", err)
	}

	browseCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(browseCtx, ServiceType, Domain, entries); err != nil {
		return fmt.Errorf("browse %s: %w", ServiceType, err)
	}

	// The resolver closes entries once browseCtx is done
	for entry := range entries {
		s, ok := ParseEntry(entry)
		if !ok {
			continue
		}
		slog.Debug("mDNS found server", "instance", s.Instance, "addr", s.Address())
		if !fn(s) {
			cancel()
			break
		}
	}

	// Drain so the resolver goroutine can exit
	for range entries {
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}

func parseTXT(records []string) map[string]string {
	out := make(map[string]string, len(records))
	for _, r := range records {
		k, v, ok := strings.Cut(r, "=")
		if !ok {
			continue
		}
		out[k] = v
	}
	return out
}

func hostnameInstance() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "hubcast"
	}
	return SanitizeInstance(hostname)
}

// SanitizeInstance reduces a hostname to the characters safe in an mDNS
// instance label
func SanitizeInstance(name string) string {
	var sanitized strings.Builder
	for _, c := range strings.ToLower(name) {
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '-' {
			sanitized.WriteRune(c)
		}
	}

	if sanitized.Len() == 0 {
		return "hubcast"
	}
	return sanitized.String()
}
