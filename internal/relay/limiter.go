package relay

import (
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Admission errors returned by ConnectionLimiter.AllowConnection
var (
	ErrHostBlocked    = errors.New("host temporarily blocked")
	ErrAcceptRate     = errors.New("accept rate exceeded")
	ErrTooManyPeers   = errors.New("connection limit reached")
	ErrHostLimit      = errors.New("per-host connection limit reached")
	ErrHostAcceptRate = errors.New("per-host accept rate exceeded")
)

// staleHostAge is how long a host with past violations is remembered
const staleHostAge = 10 * time.Minute

// ConnectionLimiterConfig holds configuration for the connection limiter
type ConnectionLimiterConfig struct {
	MaxConnections      int32         // Max total connections (0 = unlimited)
	ConnectionsPerSec   float64       // New connections per second globally
	ConnectionBurst     int           // Burst allowance
	MaxConnectionsPerIP int32         // Max connections per IP (0 = unlimited)
	IPConnectionsPerSec float64       // New connections per second per IP
	IPConnectionBurst   int           // Burst per IP
	MaxFailuresPerIP    int32         // Protocol violations before temp ban
	FailureWindow       time.Duration // Window for counting violations
	BlockDuration       time.Duration // How long to block after violations
}

// DefaultConnectionLimiterConfig returns defaults sized for a chat relay
func DefaultConnectionLimiterConfig() *ConnectionLimiterConfig {
	return &ConnectionLimiterConfig{
		MaxConnections:      0, // the registry bounds the total
		ConnectionsPerSec:   20,
		ConnectionBurst:     40,
		MaxConnectionsPerIP: 16,
		IPConnectionsPerSec: 5,
		IPConnectionBurst:   10,
		MaxFailuresPerIP:    5,
		FailureWindow:       time.Minute,
		BlockDuration:       5 * time.Minute,
	}
}

// ConnectionLimiter decides whether an accepted connection may be
// registered. It runs before the peer is announced to anyone. Admission
// happens on the multiplex loop; Stats may be read from anywhere.
type ConnectionLimiter struct {
	cfg    ConnectionLimiterConfig
	accept *rate.Limiter

	mu     sync.Mutex
	active int32
	hosts  map[string]*hostState
}

// hostState is everything the limiter knows about one remote IP
type hostState struct {
	active       int32
	accept       *rate.Limiter
	failures     int32
	lastFailure  time.Time
	blockedUntil time.Time
}

// ConnectionLimiterStats holds connection limiter statistics
type ConnectionLimiterStats struct {
	CurrentConnections int32 `json:"current_connections"`
	MaxConnections     int32 `json:"max_connections"`
	BlockedIPs         int   `json:"blocked_ips"`
}

// NewConnectionLimiter creates a limiter. A nil config uses the defaults.
func NewConnectionLimiter(config *ConnectionLimiterConfig) *ConnectionLimiter {
	if config == nil {
		config = DefaultConnectionLimiterConfig()
	}

	return &ConnectionLimiter{
		cfg:    *config,
		accept: rate.NewLimiter(rate.Limit(config.ConnectionsPerSec), config.ConnectionBurst),
		hosts:  make(map[string]*hostState),
	}
}

// AllowConnection admits or rejects a new connection from remoteAddr.
// Every nil return must be paired with a ReleaseConnection.
func (cl *ConnectionLimiter) AllowConnection(remoteAddr net.Addr) error {
	now := time.Now()

	cl.mu.Lock()
	defer cl.mu.Unlock()

	host := cl.host(extractIP(remoteAddr))

	if now.Before(host.blockedUntil) {
		return ErrHostBlocked
	}
	if !cl.accept.AllowN(now, 1) {
		return ErrAcceptRate
	}
	if cl.cfg.MaxConnections > 0 && cl.active >= cl.cfg.MaxConnections {
		return ErrTooManyPeers
	}
	if cl.cfg.MaxConnectionsPerIP > 0 && host.active >= cl.cfg.MaxConnectionsPerIP {
		return ErrHostLimit
	}
	if !host.accept.AllowN(now, 1) {
		return ErrHostAcceptRate
	}

	cl.active++
	host.active++
	return nil
}

// ReleaseConnection gives back the slot taken by an admitted connection
func (cl *ConnectionLimiter) ReleaseConnection(remoteAddr net.Addr) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if cl.active > 0 {
		cl.active--
	}
	if host, ok := cl.hosts[extractIP(remoteAddr)]; ok && host.active > 0 {
		host.active--
	}
}

// RecordFailure counts a protocol violation such as an oversized frame.
// MaxFailuresPerIP violations within FailureWindow block the host.
func (cl *ConnectionLimiter) RecordFailure(remoteAddr net.Addr) {
	now := time.Now()
	ip := extractIP(remoteAddr)

	cl.mu.Lock()
	defer cl.mu.Unlock()

	host := cl.host(ip)
	if now.Sub(host.lastFailure) > cl.cfg.FailureWindow {
		host.failures = 0
	}
	host.failures++
	host.lastFailure = now

	if cl.cfg.MaxFailuresPerIP > 0 && host.failures >= cl.cfg.MaxFailuresPerIP {
		host.blockedUntil = now.Add(cl.cfg.BlockDuration)
		slog.Warn("Host blocked after repeated protocol violations",
			"ip", ip,
			"failures", host.failures,
			"blocked_until", host.blockedUntil.Format(time.RFC3339))
		host.failures = 0
	}
}

// Stats returns current connection limiter statistics
func (cl *ConnectionLimiter) Stats() ConnectionLimiterStats {
	now := time.Now()

	cl.mu.Lock()
	defer cl.mu.Unlock()

	blocked := 0
	for _, host := range cl.hosts {
		if now.Before(host.blockedUntil) {
			blocked++
		}
	}

	return ConnectionLimiterStats{
		CurrentConnections: cl.active,
		MaxConnections:     cl.cfg.MaxConnections,
		BlockedIPs:         blocked,
	}
}

// Cleanup forgets hosts with no connections, no running block and no
// recent violations. The multiplex loop calls it periodically.
func (cl *ConnectionLimiter) Cleanup() {
	now := time.Now()

	cl.mu.Lock()
	defer cl.mu.Unlock()

	for ip, host := range cl.hosts {
		if host.active > 0 || now.Before(host.blockedUntil) {
			continue
		}
		if !host.lastFailure.IsZero() && now.Sub(host.lastFailure) <= staleHostAge {
			continue
		}
		delete(cl.hosts, ip)
	}
}

// host returns the state for ip, creating it. Callers hold mu.
func (cl *ConnectionLimiter) host(ip string) *hostState {
	if h, ok := cl.hosts[ip]; ok {
		return h
	}
	h := &hostState{
		accept: rate.NewLimiter(rate.Limit(cl.cfg.IPConnectionsPerSec), cl.cfg.IPConnectionBurst),
	}
	cl.hosts[ip] = h
	return h
}
