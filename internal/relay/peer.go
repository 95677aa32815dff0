package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrQueueFull is returned when a peer's outgoing queue has no room
	ErrQueueFull = errors.New("send queue full")

	// ErrPeerClosed is returned when delivering to a peer that is closing
	ErrPeerClosed = errors.New("peer closed")
)

// Handle identifies a peer for as long as it is registered. Handles are
// allocated in increasing order and never reused.
type Handle uint64

// NoHandle excludes nobody from a broadcast
const NoHandle Handle = 0

func (h Handle) String() string {
	return fmt.Sprintf("#%d", uint64(h))
}

// PeerState represents the lifecycle state of a peer
type PeerState int32

const (
	PeerStateConnected PeerState = iota
	PeerStateClosed
)

func (s PeerState) String() string {
	switch s {
	case PeerStateConnected:
		return "connected"
	case PeerStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Peer represents a connected remote endpoint
type Peer struct {
	Handle      Handle
	Addr        string // display address, fixed at accept
	ConnectedAt time.Time

	conn   Conn
	out    chan []byte
	ctx    context.Context
	cancel context.CancelFunc
	state  atomic.Int32

	closeOnce  sync.Once
	closeErr   error
	drainOnce  sync.Once
	drain      chan struct{}
	writerDone chan struct{}
}

// PeerInfo is the public view of a peer
type PeerInfo struct {
	Handle      Handle    `json:"handle"`
	Addr        string    `json:"addr"`
	Remote      string    `json:"remote"`
	State       string    `json:"state"`
	ConnectedAt time.Time `json:"connected_at"`
	Queued      int       `json:"queued"`
}

// writeHook observes every frame a peer writer finishes, successfully or not
type writeHook func(p *Peer, size int, took time.Duration, err error)

func newPeer(h Handle, conn Conn, addr string, queueSize int) *Peer {
	if queueSize < 1 {
		queueSize = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Peer{
		Handle:      h,
		Addr:        addr,
		ConnectedAt: time.Now(),
		conn:        conn,
		out:         make(chan []byte, queueSize),
		ctx:         ctx,
		cancel:      cancel,
		drain:       make(chan struct{}),
	}
}

// RemoteAddr returns the transport address of the peer
func (p *Peer) RemoteAddr() net.Addr {
	return p.conn.RemoteAddr()
}

// State returns the current lifecycle state
func (p *Peer) State() PeerState {
	return PeerState(p.state.Load())
}

// Closed reports whether the peer's connection has been closed
func (p *Peer) Closed() bool {
	return p.State() == PeerStateClosed
}

// Info returns a snapshot of the peer for status output
func (p *Peer) Info() PeerInfo {
	remote := ""
	if addr := p.conn.RemoteAddr(); addr != nil {
		remote = addr.String()
	}
	return PeerInfo{
		Handle:      p.Handle,
		Addr:        p.Addr,
		Remote:      remote,
		State:       p.State().String(),
		ConnectedAt: p.ConnectedAt,
		Queued:      len(p.out),
	}
}

// enqueue hands a frame to the writer without blocking
func (p *Peer) enqueue(frame []byte) error {
	if p.Closed() {
		return ErrPeerClosed
	}
	select {
	case p.out <- frame:
		return nil
	default:
		return ErrQueueFull
	}
}

// startWriter launches the goroutine that drains the outgoing queue
func (p *Peer) startWriter(timeout time.Duration, hook writeHook) {
	p.writerDone = make(chan struct{})
	go p.writeLoop(timeout, hook)
}

func (p *Peer) writeLoop(timeout time.Duration, hook writeHook) {
	defer close(p.writerDone)

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-p.drain:
			p.flushQueue(timeout, hook)
			return
		case frame := <-p.out:
			if !p.write(frame, timeout, hook) {
				return
			}
		}
	}
}

// flushQueue writes whatever is still queued, stopping at the first failure
func (p *Peer) flushQueue(timeout time.Duration, hook writeHook) {
	for {
		select {
		case frame := <-p.out:
			if !p.write(frame, timeout, hook) {
				return
			}
		default:
			return
		}
	}
}

// write sends one frame under a deadline. A failed or short write leaves
// the stream unusable, so the connection is closed and the next read fails.
func (p *Peer) write(frame []byte, timeout time.Duration, hook writeHook) bool {
	if timeout > 0 {
		p.conn.SetWriteDeadline(time.Now().Add(timeout))
	}
	start := time.Now()
	err := p.conn.WriteFrame(frame)
	if err != nil && p.ctx.Err() != nil {
		// closed underneath us; nothing to report
		return false
	}
	if hook != nil {
		hook(p, len(frame), time.Since(start), err)
	}
	if err != nil {
		p.close()
		return false
	}
	return true
}

// flush asks the writer to send what is queued and stop
func (p *Peer) flush() {
	p.drainOnce.Do(func() { close(p.drain) })
}

// waitWriter waits up to timeout for the writer goroutine to exit
func (p *Peer) waitWriter(timeout time.Duration) bool {
	if p.writerDone == nil {
		return true
	}
	if timeout <= 0 {
		select {
		case <-p.writerDone:
			return true
		default:
			return false
		}
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-p.writerDone:
		return true
	case <-timer.C:
		return false
	}
}

// kick closes the connection from the send side. The peer stays registered
// until the lifecycle handler sees its read fail.
func (p *Peer) kick() {
	p.close()
}

// close closes the connection exactly once
func (p *Peer) close() error {
	p.closeOnce.Do(func() {
		p.state.Store(int32(PeerStateClosed))
		p.cancel()
		p.closeErr = p.conn.Close()
	})
	return p.closeErr
}
