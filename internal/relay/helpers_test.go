package relay

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"hubcast.dev/go/hubcast/internal/protocol"
)

// fakeConn is an in-memory Conn that records writes
type fakeConn struct {
	remote net.Addr

	mu         sync.Mutex
	written    [][]byte
	writeErr   error
	closeCount int
	closed     chan struct{}
}

func newFakeConn(ip string, port int) *fakeConn {
	return &fakeConn{
		remote: &net.TCPAddr{IP: net.ParseIP(ip), Port: port},
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadFrame() ([]byte, error) {
	<-c.closed
	return nil, net.ErrClosed
}

func (c *fakeConn) WriteFrame(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.written = append(c.written, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) RemoteAddr() net.Addr { return c.remote }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeCount++
	if c.closeCount == 1 {
		close(c.closed)
	}
	return nil
}

func (c *fakeConn) Written() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.written))
	for i, w := range c.written {
		out[i] = string(w)
	}
	return out
}

func (c *fakeConn) Closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCount
}

// pipeListener hands out in-memory connections
type pipeListener struct {
	conns chan Conn
	done  chan struct{}
	once  sync.Once
}

func newPipeListener() *pipeListener {
	return &pipeListener{
		conns: make(chan Conn),
		done:  make(chan struct{}),
	}
}

func (l *pipeListener) Accept() (Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.done:
		return nil, net.ErrClosed
	}
}

func (l *pipeListener) Close() error {
	l.once.Do(func() { close(l.done) })
	return nil
}

func (l *pipeListener) Addr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 28627}
}

// addrConn overrides the remote address of a net.Pipe end
type addrConn struct {
	net.Conn
	remote net.Addr
}

func (c addrConn) RemoteAddr() net.Addr { return c.remote }

// testPeer is the client side of a piped connection
type testPeer struct {
	t      *testing.T
	conn   net.Conn
	framer protocol.Codec
	lines  chan string
}

// dial connects a peer that reads continuously
func (l *pipeListener) dial(t *testing.T, ip string) *testPeer {
	p := l.dialSilent(t, ip)
	go p.readLoop()
	return p
}

// dialSilent connects a peer that never reads
func (l *pipeListener) dialSilent(t *testing.T, ip string) *testPeer {
	t.Helper()
	return l.dialFraming(t, ip, protocol.FramingLength)
}

// dialFraming connects a non-reading peer that speaks the given framing
func (l *pipeListener) dialFraming(t *testing.T, ip string, framing protocol.Framing) *testPeer {
	t.Helper()
	client, server := net.Pipe()
	remote := &net.TCPAddr{IP: net.ParseIP(ip), Port: 40000}

	select {
	case l.conns <- NewStreamConn(addrConn{Conn: server, remote: remote}, framing, 0):
	case <-time.After(2 * time.Second):
		t.Fatalf("listener did not accept %s", ip)
	}

	t.Cleanup(func() { client.Close() })
	return &testPeer{
		t:      t,
		conn:   client,
		framer: protocol.NewCodec(framing, client, client, 0),
		lines:  make(chan string, 64),
	}
}

func (p *testPeer) readLoop() {
	defer close(p.lines)
	for {
		data, err := p.framer.ReadFrame()
		if err != nil {
			return
		}
		p.lines <- string(data)
	}
}

func (p *testPeer) send(text string) {
	p.t.Helper()
	if err := p.framer.WriteFrame([]byte(text)); err != nil {
		p.t.Fatalf("send %q: %v", text, err)
	}
}

func (p *testPeer) expect(want string) {
	p.t.Helper()
	select {
	case got, ok := <-p.lines:
		if !ok {
			p.t.Fatalf("connection closed while waiting for %q", want)
		}
		if got != want {
			p.t.Fatalf("expected %q, got %q", want, got)
		}
	case <-time.After(2 * time.Second):
		p.t.Fatalf("timed out waiting for %q", want)
	}
}

func (p *testPeer) expectNothing(d time.Duration) {
	p.t.Helper()
	select {
	case got, ok := <-p.lines:
		if ok {
			p.t.Errorf("unexpected line %q", got)
		}
	case <-time.After(d):
	}
}

func (p *testPeer) expectClosed() {
	p.t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-p.lines:
			if !ok {
				return
			}
		case <-deadline:
			p.t.Fatal("connection was not closed")
		}
	}
}

func (p *testPeer) close() {
	p.conn.Close()
}

// startServer runs a relay over a pipe listener until the test ends
func startServer(t *testing.T, opts Options) (*Server, *pipeListener) {
	t.Helper()
	srv := New(opts)
	ln := newPipeListener()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx, ln) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errCh:
			if err != nil && !errors.Is(err, context.Canceled) {
				t.Errorf("Serve returned %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return srv, ln
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.PollTimeout = 50 * time.Millisecond
	opts.WriteTimeout = time.Second
	opts.ShutdownGrace = 100 * time.Millisecond
	return opts
}

// waitFor polls cond until it holds or the deadline passes
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
