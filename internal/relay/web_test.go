package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"hubcast.dev/go/hubcast/internal/logging"
)

func startGateway(t *testing.T, logs *logging.LogBuffer) (*Server, *WebGateway) {
	t.Helper()
	srv := New(testOptions())
	gw := NewWebGateway("127.0.0.1:0", 0, srv.Status, logs)

	ctx, cancel := context.WithCancel(context.Background())
	if err := gw.Start(ctx); err != nil {
		cancel()
		t.Fatalf("Start: %v", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx, gw) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errCh:
			if err != nil {
				t.Errorf("Serve returned %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return srv, gw
}

func dialWS(t *testing.T, gw *WebGateway) *websocket.Conn {
	t.Helper()
	url := "ws://" + gw.Addr().String() + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func expectWS(t *testing.T, conn *websocket.Conn, want string) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("waiting for %q: %v", want, err)
	}
	if string(data) != want {
		t.Fatalf("expected %q, got %q", want, string(data))
	}
}

func getJSON(t *testing.T, gw *WebGateway, path string, v any) int {
	t.Helper()
	resp, err := http.Get("http://" + gw.Addr().String() + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func TestWebGatewayRelay(t *testing.T) {
	srv, gw := startGateway(t, nil)

	a := dialWS(t, gw)
	expectWS(t, a, "peer joined: 127.0.0.1")

	b := dialWS(t, gw)
	expectWS(t, a, "peer joined: 127.0.0.1")
	expectWS(t, b, "peer joined: 127.0.0.1")

	if err := a.WriteMessage(websocket.TextMessage, []byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	expectWS(t, b, "127.0.0.1: hello")

	if err := srv.Announce(context.Background(), "maintenance"); err != nil {
		t.Fatalf("Announce: %v", err)
	}
	expectWS(t, a, "(SERVER): maintenance")
	expectWS(t, b, "(SERVER): maintenance")
}

func TestWebGatewayOversizedMessage(t *testing.T) {
	_, gw := startGateway(t, nil)

	a := dialWS(t, gw)
	expectWS(t, a, "peer joined: 127.0.0.1")
	b := dialWS(t, gw)
	expectWS(t, a, "peer joined: 127.0.0.1")
	expectWS(t, b, "peer joined: 127.0.0.1")

	big := strings.Repeat("x", 4000)
	if err := b.WriteMessage(websocket.TextMessage, []byte(big)); err != nil {
		t.Fatalf("write: %v", err)
	}
	expectWS(t, a, "peer left: 127.0.0.1")
}

func TestWebGatewayStatus(t *testing.T) {
	srv, gw := startGateway(t, nil)

	a := dialWS(t, gw)
	expectWS(t, a, "peer joined: 127.0.0.1")
	waitFor(t, "peer to register", func() bool { return len(srv.Peers()) == 1 })

	var status Status
	if code := getJSON(t, gw, "/api/status", &status); code != http.StatusOK {
		t.Fatalf("status: got HTTP %d", code)
	}
	if len(status.Peers) != 1 || status.Peers[0].Addr != "127.0.0.1" {
		t.Errorf("Peers: got %+v", status.Peers)
	}
	if status.Metrics == nil || status.Metrics.Counters.PeersAccepted != 1 {
		t.Errorf("Metrics: got %+v", status.Metrics)
	}

	var peers []PeerInfo
	if code := getJSON(t, gw, "/api/peers", &peers); code != http.StatusOK || len(peers) != 1 {
		t.Errorf("peers: HTTP %d, %d peers", code, len(peers))
	}

	var metrics MetricsSnapshot
	if code := getJSON(t, gw, "/api/metrics", &metrics); code != http.StatusOK {
		t.Errorf("metrics: got HTTP %d", code)
	}
	if metrics.Gauges.Listeners != 1 {
		t.Errorf("Listeners gauge: got %d, want 1", metrics.Gauges.Listeners)
	}
}

func TestWebGatewayLogs(t *testing.T) {
	logs := logging.NewLogBuffer(10)
	logs.Add(logging.LogEntry{Timestamp: time.Now(), Level: "INFO", Message: "Relay listening"})
	logs.Add(logging.LogEntry{Timestamp: time.Now(), Level: "WARN", Message: "Send failed"})
	_, gw := startGateway(t, logs)

	var entries []logging.LogEntry
	if code := getJSON(t, gw, "/api/logs?limit=1", &entries); code != http.StatusOK {
		t.Fatalf("logs: got HTTP %d", code)
	}
	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(entries))
	}

	if code := getJSON(t, gw, "/api/logs?limit=abc", &entries); code != http.StatusBadRequest {
		t.Errorf("Invalid limit: got HTTP %d, want 400", code)
	}
}
