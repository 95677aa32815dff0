// Package client connects to a hubcast relay and exchanges framed text lines.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"hubcast.dev/go/hubcast/internal/protocol"
)

var (
	// ErrConnectionLost is returned once the server side of the stream is gone
	ErrConnectionLost = errors.New("connection to server lost")

	// ErrMessageTooLarge is returned by Send for input longer than one frame
	ErrMessageTooLarge = errors.New("message too large")
)

// DefaultDialTimeout bounds connection setup
const DefaultDialTimeout = 10 * time.Second

// Options configures a Client
type Options struct {
	Framing        protocol.Framing
	MaxMessageSize int
	DialTimeout    time.Duration
}

// frameConn is one framed connection to the relay
type frameConn interface {
	ReadFrame() ([]byte, error)
	WriteFrame(data []byte) error
	Close() error
}

// Client is a connection to a relay
type Client struct {
	conn    frameConn
	remote  string
	maxSize int

	mu     sync.Mutex // serializes writes
	closed atomic.Bool
}

// Dial connects to a relay. addr is host:port for TCP, or a ws:// or wss://
// URL for the web gateway.
func Dial(ctx context.Context, addr string, opts Options) (*Client, error) {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = DefaultDialTimeout
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = protocol.MaxMessageSize
	}

	var conn frameConn
	var err error
	if isWebSocketURL(addr) {
		conn, err = dialWebSocket(ctx, addr, opts)
	} else {
		conn, err = dialStream(ctx, addr, opts)
	}
	if err != nil {
		return nil, err
	}

	return &Client{
		conn:    conn,
		remote:  addr,
		maxSize: opts.MaxMessageSize,
	}, nil
}

func dialStream(ctx context.Context, addr string, opts Options) (frameConn, error) {
	d := net.Dialer{Timeout: opts.DialTimeout}
	c, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", addr, err)
	}
	return &streamConn{
		Conn:  c,
		Codec: protocol.NewCodec(opts.Framing, c, c, opts.MaxMessageSize),
	}, nil
}

func dialWebSocket(ctx context.Context, url string, opts Options) (frameConn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: opts.DialTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", url, err)
	}
	conn.SetReadLimit(int64(opts.MaxMessageSize))
	return &wsConn{conn: conn}, nil
}

// RemoteAddr returns the address that was dialed
func (c *Client) RemoteAddr() string {
	return c.remote
}

// MaxMessageSize returns the largest line Send accepts
func (c *Client) MaxMessageSize() int {
	return c.maxSize
}

// Send writes one line to the relay. Lines longer than one frame are
// rejected without writing anything.
func (c *Client) Send(text string) error {
	if len(text) > c.maxSize {
		return fmt.Errorf("%d bytes, limit %d: %w", len(text), c.maxSize, ErrMessageTooLarge)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.conn.WriteFrame([]byte(text)); err != nil {
		if c.closed.Load() {
			return net.ErrClosed
		}
		return fmt.Errorf("%w: %w", ErrConnectionLost, err)
	}
	return nil
}

// Receive blocks for the next line from the relay
func (c *Client) Receive() (string, error) {
	data, err := c.conn.ReadFrame()
	if err != nil {
		if c.closed.Load() {
			return "", net.ErrClosed
		}
		return "", fmt.Errorf("%w: %w", ErrConnectionLost, err)
	}
	return protocol.Clean(data), nil
}

// Close closes the connection. A blocked Receive returns net.ErrClosed.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.conn.Close()
}

func isWebSocketURL(addr string) bool {
	return strings.HasPrefix(addr, "ws://") || strings.HasPrefix(addr, "wss://")
}

// streamConn frames a TCP connection
type streamConn struct {
	net.Conn
	protocol.Codec
}

// wsConn frames a WebSocket connection, one message per frame
type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) ReadFrame() ([]byte, error) {
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("read message: %w", err)
		}
		if msgType == websocket.TextMessage || msgType == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (c *wsConn) WriteFrame(data []byte) error {
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return c.conn.Close()
}
