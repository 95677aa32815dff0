package relay

import (
	"context"
	"errors"
	"net"
	"slices"
	"sync"
	"time"
)

// ErrMultiplexerClosed is wrapped in a PollError when Wait runs on a closed multiplexer
var ErrMultiplexerClosed = errors.New("multiplexer closed")

const (
	// DefaultPollTimeout bounds every Wait so the loop can observe shutdown
	DefaultPollTimeout = 500 * time.Millisecond

	defaultEventBuffer = 256
	maxEventsPerWait   = 128

	acceptBackoffMin = 5 * time.Millisecond
	acceptBackoffMax = time.Second
)

// EventKind classifies a readiness event
type EventKind int

const (
	// EventAccept carries a newly accepted connection or an accept error
	EventAccept EventKind = iota
	// EventRead carries one frame, or the error that ended a peer's stream
	EventRead
	// EventAnnounce carries an operator message
	EventAnnounce
	// eventListenerFailed reports a listener that stopped outside shutdown
	eventListenerFailed
)

func (k EventKind) String() string {
	switch k {
	case EventAccept:
		return "accept"
	case EventRead:
		return "read"
	case EventAnnounce:
		return "announce"
	case eventListenerFailed:
		return "listener_failed"
	default:
		return "unknown"
	}
}

// Event is one readiness notification
type Event struct {
	Kind   EventKind
	Handle Handle // EventRead
	Conn   Conn   // EventAccept
	Data   []byte // EventRead
	Text   string // EventAnnounce
	Err    error

	listener Listener
	done     chan struct{}
}

// PollError reports a failure of the multiplexer itself. The multiplex
// loop cannot continue after one.
type PollError struct {
	Op  string
	Err error
}

func (e *PollError) Error() string {
	return "multiplexer " + e.Op + ": " + e.Err.Error()
}

func (e *PollError) Unwrap() error {
	return e.Err
}

// Multiplexer turns blocking accepts and reads into a stream of readiness
// events consumed by a single loop. It owns no peer state: each tracked
// connection has one reader goroutine doing one bounded frame read at a
// time, and each listener has one accept goroutine.
type Multiplexer struct {
	events chan Event
	done   chan struct{}
	wg     sync.WaitGroup

	mu        sync.Mutex
	closed    bool
	listeners []Listener
	tracked   map[Handle]struct{}
}

// NewMultiplexer creates a multiplexer whose event queue holds bufferSize events
func NewMultiplexer(bufferSize int) *Multiplexer {
	if bufferSize <= 0 {
		bufferSize = defaultEventBuffer
	}
	return &Multiplexer{
		events:  make(chan Event, bufferSize),
		done:    make(chan struct{}),
		tracked: make(map[Handle]struct{}),
	}
}

// AddListener starts watching a listener for new connections
func (m *Multiplexer) AddListener(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		l.Close()
		return
	}
	m.listeners = append(m.listeners, l)
	m.wg.Add(1)
	go m.acceptLoop(l)
}

// Track starts watching a registered peer for inbound frames
func (m *Multiplexer) Track(p *Peer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.tracked[p.Handle] = struct{}{}
	m.wg.Add(1)
	go m.readLoop(p)
}

// Tracked returns the number of peer handles being watched
func (m *Multiplexer) Tracked() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tracked)
}

// Listeners returns the number of listeners being watched
func (m *Multiplexer) Listeners() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.listeners)
}

// Post queues an event from outside the multiplexer, such as an operator
// message. It returns false once the multiplexer is closed.
func (m *Multiplexer) Post(ev Event) bool {
	return m.post(ev)
}

func (m *Multiplexer) post(ev Event) bool {
	select {
	case <-m.done:
		return false
	default:
	}
	select {
	case m.events <- ev:
		return true
	case <-m.done:
		return false
	}
}

// Wait blocks until at least one event is ready, the timeout expires or
// ctx is cancelled. A timeout yields no events and no error. Accept events
// are ordered ahead of the rest; everything else keeps arrival order.
func (m *Multiplexer) Wait(ctx context.Context, timeout time.Duration) ([]Event, error) {
	if timeout <= 0 {
		timeout = DefaultPollTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var first Event
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-m.done:
		return nil, &PollError{Op: "wait", Err: ErrMultiplexerClosed}
	case <-timer.C:
		return nil, nil
	case first = <-m.events:
	}

	events := []Event{first}
collect:
	for len(events) < maxEventsPerWait {
		select {
		case ev := <-m.events:
			events = append(events, ev)
		default:
			break collect
		}
	}

	ready := events[:0]
	for _, ev := range events {
		if ev.Kind != eventListenerFailed {
			ready = append(ready, ev)
			continue
		}
		if remaining := m.dropListener(ev.listener); remaining == 0 {
			for _, pending := range ready {
				if pending.Kind == EventAccept && pending.Conn != nil {
					pending.Conn.Close()
				}
			}
			return nil, &PollError{Op: "accept", Err: ev.Err}
		}
	}

	slices.SortStableFunc(ready, func(a, b Event) int {
		return acceptRank(a) - acceptRank(b)
	})
	return ready, nil
}

func acceptRank(ev Event) int {
	if ev.Kind == EventAccept {
		return 0
	}
	return 1
}

// CloseListeners stops accepting on every listener
func (m *Multiplexer) CloseListeners() {
	m.mu.Lock()
	listeners := m.listeners
	m.listeners = nil
	m.mu.Unlock()

	for _, l := range listeners {
		l.Close()
	}
}

// Close stops the multiplexer and waits for its goroutines. Tracked peer
// connections must already be closed so their readers can return.
func (m *Multiplexer) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.done)
	m.mu.Unlock()

	m.CloseListeners()
	m.wg.Wait()
	m.discardPending()
	return nil
}

// discardPending empties the event queue, closing connections that were
// accepted but never dispatched. Call only after every producer stopped.
func (m *Multiplexer) discardPending() {
	for {
		select {
		case ev := <-m.events:
			if ev.Kind == EventAccept && ev.Conn != nil {
				ev.Conn.Close()
			}
		default:
			return
		}
	}
}

func (m *Multiplexer) isClosed() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}

func (m *Multiplexer) dropListener(l Listener) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = slices.DeleteFunc(m.listeners, func(x Listener) bool { return x == l })
	return len(m.listeners)
}

func (m *Multiplexer) untrack(h Handle) {
	m.mu.Lock()
	delete(m.tracked, h)
	m.mu.Unlock()
}

// acceptLoop accepts connections until the listener is closed. Transient
// errors are reported and retried with exponential backoff.
func (m *Multiplexer) acceptLoop(l Listener) {
	defer m.wg.Done()

	var delay time.Duration
	for {
		conn, err := l.Accept()
		if err != nil {
			if m.isClosed() {
				return
			}
			if errors.Is(err, net.ErrClosed) {
				m.post(Event{Kind: eventListenerFailed, Err: err, listener: l})
				return
			}

			if delay == 0 {
				delay = acceptBackoffMin
			} else {
				delay = min(delay*2, acceptBackoffMax)
			}
			if !m.post(Event{Kind: EventAccept, Err: err, listener: l}) {
				return
			}

			select {
			case <-time.After(delay):
			case <-m.done:
				return
			}
			continue
		}

		delay = 0
		if !m.post(Event{Kind: EventAccept, Conn: conn, listener: l}) {
			conn.Close()
			return
		}
	}
}

// readLoop reads one frame at a time from a peer until its stream ends.
// The final event carries the error that ended it.
func (m *Multiplexer) readLoop(p *Peer) {
	defer m.wg.Done()
	defer m.untrack(p.Handle)

	for !p.Closed() {
		data, err := p.conn.ReadFrame()
		if !m.post(Event{Kind: EventRead, Handle: p.Handle, Data: data, Err: err}) {
			return
		}
		if err != nil {
			return
		}
	}

	m.post(Event{Kind: EventRead, Handle: p.Handle, Err: net.ErrClosed})
}
