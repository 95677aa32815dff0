// Package relay implements the broadcast relay: a single multiplex loop
// that owns the peer registry, accepts connections, reads frames and fans
// every message out to all other peers.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/lo"

	"hubcast.dev/go/hubcast/internal/protocol"
)

// ErrServerClosed is returned by Announce once the multiplex loop has stopped
var ErrServerClosed = errors.New("relay: server closed")

// ErrResourceExhausted marks accept failures caused by descriptor or memory limits
var ErrResourceExhausted = errors.New("resource exhausted")

const (
	// DefaultSendQueueSize is the number of frames buffered per peer
	DefaultSendQueueSize = 64

	// DefaultWriteTimeout bounds a single frame write
	DefaultWriteTimeout = 5 * time.Second

	// DefaultShutdownGrace is how long writers may flush on shutdown
	DefaultShutdownGrace = time.Second

	// CleanupInterval is how often limiter state is pruned
	CleanupInterval = time.Minute

	// descriptorReserve is kept free for listeners, log files and the web gateway
	descriptorReserve = 32
)

// Options configures a Server
type Options struct {
	PollTimeout    time.Duration
	WriteTimeout   time.Duration
	ShutdownGrace  time.Duration
	SendQueueSize  int
	MaxPeers       int // 0 = unlimited
	MaxMessageSize int
	ShowPorts      bool // include the source port in display addresses

	ConnLimiter *ConnectionLimiter
	MsgLimiter  *MessageLimiter
	Metrics     *Metrics

	// OnEnvelope receives every line the relay broadcasts, for the console
	OnEnvelope func(line string)
}

// DefaultOptions returns the relay defaults
func DefaultOptions() Options {
	return Options{
		PollTimeout:    DefaultPollTimeout,
		WriteTimeout:   DefaultWriteTimeout,
		ShutdownGrace:  DefaultShutdownGrace,
		SendQueueSize:  DefaultSendQueueSize,
		MaxMessageSize: protocol.MaxMessageSize,
	}
}

// Server is the broadcast relay
type Server struct {
	opts        Options
	registry    *Registry
	mux         *Multiplexer
	metrics     *Metrics
	connLimiter *ConnectionLimiter
	msgLimiter  *MessageLimiter

	// loop-owned
	closing     bool
	lastCleanup time.Time

	serving     atomic.Bool
	done        chan struct{}
	doneOnce    sync.Once
	peersView   atomic.Pointer[[]PeerInfo]
	listenAddrs atomic.Pointer[[]string]
}

// Status is the public view of a running relay
type Status struct {
	Listen  []string               `json:"listen"`
	Peers   []PeerInfo             `json:"peers"`
	Limiter ConnectionLimiterStats `json:"limiter"`
	Metrics *MetricsSnapshot       `json:"metrics"`
}

// New creates a relay server. Zero option values take their defaults.
func New(opts Options) *Server {
	def := DefaultOptions()
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = def.PollTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = def.WriteTimeout
	}
	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = def.ShutdownGrace
	}
	if opts.SendQueueSize <= 0 {
		opts.SendQueueSize = def.SendQueueSize
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = def.MaxMessageSize
	}
	if opts.ConnLimiter == nil {
		opts.ConnLimiter = NewConnectionLimiter(nil)
	}
	if opts.MsgLimiter == nil {
		opts.MsgLimiter = NewMessageLimiter(nil)
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics()
	}

	s := &Server{
		opts:        opts,
		registry:    NewRegistry(opts.MaxPeers, opts.SendQueueSize),
		mux:         NewMultiplexer(0),
		metrics:     opts.Metrics,
		connLimiter: opts.ConnLimiter,
		msgLimiter:  opts.MsgLimiter,
		lastCleanup: time.Now(),
		done:        make(chan struct{}),
	}
	s.publish()
	return s
}

// CapacityFromLimit derives a peer capacity from a descriptor limit,
// leaving room for listeners and files. A zero limit yields 0 (unlimited).
func CapacityFromLimit(limit uint64) int {
	switch {
	case limit == 0:
		return 0
	case limit <= 2*descriptorReserve:
		return int(limit / 2)
	case limit-descriptorReserve > math.MaxInt32:
		return math.MaxInt32
	default:
		return int(limit - descriptorReserve)
	}
}

// Serve runs the multiplex loop over the given listeners until ctx is
// cancelled or the multiplexer fails. On return every peer is closed.
// A cancelled context is a clean shutdown and returns nil.
func (s *Server) Serve(ctx context.Context, listeners ...Listener) error {
	if !s.serving.CompareAndSwap(false, true) {
		return errors.New("relay: server already serving")
	}
	defer s.doneOnce.Do(func() { close(s.done) })

	addrs := lo.Map(listeners, func(l Listener, _ int) string { return l.Addr().String() })
	s.listenAddrs.Store(&addrs)

	for _, l := range listeners {
		s.mux.AddListener(l)
		slog.Info("Relay listening", "addr", l.Addr().String())
	}

	var err error
	for {
		events, werr := s.mux.Wait(ctx, s.opts.PollTimeout)
		if werr != nil {
			if ctx.Err() == nil {
				err = werr
				slog.Error("Multiplexer failed", "error", werr)
				s.metrics.RecordError("poll", werr.Error(), "")
			}
			break
		}

		s.dispatch(events)
		s.housekeeping()
	}

	s.shutdown()
	return err
}

// Done is closed when Serve returns
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// Metrics returns the server's metrics collector
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Peers returns the peers registered at the last loop iteration
func (s *Server) Peers() []PeerInfo {
	if v := s.peersView.Load(); v != nil {
		return slices.Clone(*v)
	}
	return nil
}

// Status returns a snapshot for the status endpoint
func (s *Server) Status() Status {
	var listen []string
	if v := s.listenAddrs.Load(); v != nil {
		listen = slices.Clone(*v)
	}
	peers := s.Peers()

	return Status{
		Listen:  listen,
		Peers:   peers,
		Limiter: s.connLimiter.Stats(),
		Metrics: s.metrics.Snapshot(func() GaugeMetrics {
			limit, _ := DescriptorLimit()
			return GaugeMetrics{
				ConnectedPeers:  len(peers),
				TrackedHandles:  s.mux.Tracked(),
				Listeners:       s.mux.Listeners(),
				DescriptorLimit: int(min(limit, math.MaxInt32)),
			}
		}),
	}
}

// dispatch handles one batch of readiness events in order
func (s *Server) dispatch(events []Event) {
	for _, ev := range events {
		switch ev.Kind {
		case EventAccept:
			s.handleAccept(ev)
		case EventRead:
			s.handleRead(ev)
		case EventAnnounce:
			s.handleAnnounce(ev)
		}
	}
}

// housekeeping runs on every wake, including timeouts
func (s *Server) housekeeping() {
	if time.Since(s.lastCleanup) < CleanupInterval {
		return
	}
	s.lastCleanup = time.Now()
	s.connLimiter.Cleanup()
}

// publish stores an immutable copy of the registry for concurrent readers
func (s *Server) publish() {
	infos := lo.Map(s.registry.Snapshot(), func(p *Peer, _ int) PeerInfo { return p.Info() })
	s.peersView.Store(&infos)
}

// shutdown stops accepting, lets writers flush briefly, then closes every peer
func (s *Server) shutdown() {
	s.closing = true
	s.mux.CloseListeners()

	peers := s.registry.Snapshot()
	for _, p := range peers {
		p.flush()
	}
	deadline := time.Now().Add(s.opts.ShutdownGrace)
	for _, p := range peers {
		p.waitWriter(time.Until(deadline))
	}

	for _, p := range peers {
		s.connLimiter.ReleaseConnection(p.RemoteAddr())
	}
	closed := s.registry.Clear()
	s.mux.Close()
	s.publish()

	slog.Info("Relay stopped", "peers_closed", closed)
}
