package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"hubcast.dev/go/hubcast/internal/logging"
	"hubcast.dev/go/hubcast/internal/protocol"
)

const (
	// wsCloseWait bounds the close handshake sent to a WebSocket peer
	wsCloseWait = time.Second

	// wsHandoffTimeout bounds how long an upgraded peer waits for the loop
	wsHandoffTimeout = 5 * time.Second
)

// WebGateway serves the status API and accepts WebSocket peers. It is a
// Listener: upgraded connections join the same relay as TCP peers, one
// WebSocket message per frame.
type WebGateway struct {
	addr     string
	maxSize  int
	server   *http.Server
	listener net.Listener
	upgrader websocket.Upgrader

	status func() Status
	logs   *logging.LogBuffer

	conns     chan Conn
	done      chan struct{}
	closeOnce sync.Once
}

// NewWebGateway creates a gateway bound to addr. status is served on
// /api/status; logs may be nil.
func NewWebGateway(addr string, maxSize int, status func() Status, logs *logging.LogBuffer) *WebGateway {
	if maxSize <= 0 {
		maxSize = protocol.MaxMessageSize
	}
	g := &WebGateway{
		addr:    addr,
		maxSize: maxSize,
		status:  status,
		logs:    logs,
		conns:   make(chan Conn),
		done:    make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // any origin may join
			},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", g.handleStatus)
	mux.HandleFunc("/api/metrics", g.handleMetrics)
	mux.HandleFunc("/api/peers", g.handlePeers)
	mux.HandleFunc("/api/logs", g.handleLogs)
	mux.HandleFunc("/ws", g.handleWebSocket)

	g.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	return g
}

// Start binds the HTTP listener and serves in the background
func (g *WebGateway) Start(ctx context.Context) error {
	var lc net.ListenConfig
	l, err := lc.Listen(ctx, "tcp", g.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", g.addr, err)
	}
	g.listener = l

	go func() {
		if err := g.server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Web gateway failed", "error", err)
			g.Close()
		}
	}()

	slog.Info("Web gateway listening", "addr", l.Addr().String())
	return nil
}

// Accept returns the next upgraded WebSocket peer
func (g *WebGateway) Accept() (Conn, error) {
	select {
	case c := <-g.conns:
		return c, nil
	case <-g.done:
		return nil, net.ErrClosed
	}
}

// Close stops the HTTP server and rejects further upgrades
func (g *WebGateway) Close() error {
	var err error
	g.closeOnce.Do(func() {
		close(g.done)
		err = g.server.Close()
	})
	return err
}

// Addr returns the bound HTTP address
func (g *WebGateway) Addr() net.Addr {
	if g.listener != nil {
		return g.listener.Addr()
	}
	addr, _ := net.ResolveTCPAddr("tcp", g.addr)
	return addr
}

func (g *WebGateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("WebSocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	ws.SetReadLimit(int64(g.maxSize))

	conn := &wsConn{conn: ws}

	timer := time.NewTimer(wsHandoffTimeout)
	defer timer.Stop()

	select {
	case g.conns <- conn:
	case <-g.done:
		conn.Close()
	case <-timer.C:
		slog.Warn("WebSocket peer not accepted in time", "remote", r.RemoteAddr)
		conn.Close()
	}
}

func (g *WebGateway) handleStatus(w http.ResponseWriter, r *http.Request) {
	g.jsonResponse(w, g.status())
}

func (g *WebGateway) handleMetrics(w http.ResponseWriter, r *http.Request) {
	g.jsonResponse(w, g.status().Metrics)
}

func (g *WebGateway) handlePeers(w http.ResponseWriter, r *http.Request) {
	g.jsonResponse(w, g.status().Peers)
}

func (g *WebGateway) handleLogs(w http.ResponseWriter, r *http.Request) {
	if g.logs == nil {
		g.jsonResponse(w, []logging.LogEntry{})
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			g.errorResponse(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	g.jsonResponse(w, g.logs.Recent(limit))
}

func (g *WebGateway) jsonResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Debug("Encode response failed", "error", err)
	}
}

func (g *WebGateway) errorResponse(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// wsConn adapts a WebSocket connection to Conn
type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) ReadFrame() ([]byte, error) {
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			switch {
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				return nil, io.EOF
			case errors.Is(err, websocket.ErrReadLimit):
				return nil, fmt.Errorf("read message: %w", protocol.ErrMessageTooLarge)
			default:
				return nil, fmt.Errorf("read message: %w", err)
			}
		}
		if msgType == websocket.TextMessage || msgType == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (c *wsConn) WriteFrame(data []byte) error {
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

func (c *wsConn) SetWriteDeadline(t time.Time) error {
	return c.conn.SetWriteDeadline(t)
}

func (c *wsConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *wsConn) Close() error {
	c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
		time.Now().Add(wsCloseWait),
	)
	return c.conn.Close()
}
