package relay

import (
	"context"
	"fmt"
	"net"
	"time"

	"hubcast.dev/go/hubcast/internal/protocol"
)

// Conn is one framed peer connection
type Conn interface {
	// ReadFrame blocks until one whole frame has arrived. A clean end of
	// stream is reported as io.EOF.
	ReadFrame() ([]byte, error)
	WriteFrame(data []byte) error
	SetWriteDeadline(t time.Time) error
	RemoteAddr() net.Addr
	Close() error
}

// Listener yields framed peer connections
type Listener interface {
	Accept() (Conn, error)
	Close() error
	Addr() net.Addr
}

// streamConn frames a byte stream with a protocol codec
type streamConn struct {
	net.Conn
	codec protocol.Codec
}

// NewStreamConn wraps a byte-stream connection with the given framing
func NewStreamConn(c net.Conn, framing protocol.Framing, maxSize int) Conn {
	return &streamConn{
		Conn:  c,
		codec: protocol.NewCodec(framing, c, c, maxSize),
	}
}

func (c *streamConn) ReadFrame() ([]byte, error) {
	return c.codec.ReadFrame()
}

func (c *streamConn) WriteFrame(data []byte) error {
	return c.codec.WriteFrame(data)
}

// streamListener accepts TCP connections and frames them
type streamListener struct {
	net.Listener
	framing protocol.Framing
	maxSize int
}

// NewStreamListener wraps a net.Listener so accepted connections are framed
func NewStreamListener(l net.Listener, framing protocol.Framing, maxSize int) Listener {
	return &streamListener{
		Listener: l,
		framing:  framing,
		maxSize:  maxSize,
	}
}

// Listen opens a TCP listener on addr
func Listen(ctx context.Context, addr string, framing protocol.Framing, maxSize int) (Listener, error) {
	lc := net.ListenConfig{KeepAlive: 30 * time.Second}
	l, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	return NewStreamListener(l, framing, maxSize), nil
}

func (l *streamListener) Accept() (Conn, error) {
	c, err := l.Listener.Accept()
	if err != nil {
		if isResourceExhausted(err) {
			return nil, fmt.Errorf("%w: %w", ErrResourceExhausted, err)
		}
		return nil, err
	}
	return NewStreamConn(c, l.framing, l.maxSize), nil
}

// displayAddress renders the identity shown to other peers
func displayAddress(addr net.Addr, withPort bool) string {
	if addr == nil {
		return "unknown"
	}
	if withPort {
		return addr.String()
	}
	return extractIP(addr)
}

// extractIP extracts the IP address from a net.Addr
func extractIP(addr net.Addr) string {
	switch v := addr.(type) {
	case *net.TCPAddr:
		return v.IP.String()
	case *net.UDPAddr:
		return v.IP.String()
	default:
		// Fallback: try to parse as "host:port"
		host, _, err := net.SplitHostPort(addr.String())
		if err != nil {
			return addr.String()
		}
		return host
	}
}
