package relay

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"time"

	"hubcast.dev/go/hubcast/internal/protocol"
)

// handleAccept registers a newly accepted connection and announces it
func (s *Server) handleAccept(ev Event) {
	if ev.Err != nil {
		s.metrics.AcceptErrors.Add(1)
		s.metrics.RecordError("accept", ev.Err.Error(), "")
		if errors.Is(ev.Err, ErrResourceExhausted) {
			slog.Error("Accept failed, out of resources", "error", ev.Err)
		} else {
			slog.Warn("Accept failed", "error", ev.Err)
		}
		return
	}

	conn := ev.Conn
	remote := conn.RemoteAddr()

	if s.closing {
		conn.Close()
		return
	}

	// Check connection limits BEFORE the peer becomes visible
	if err := s.connLimiter.AllowConnection(remote); err != nil {
		slog.Warn("Connection rejected by limiter", "remote", remote.String(), "reason", err)
		s.metrics.PeersRejected.Add(1)
		s.metrics.RecordError("connection_limited", err.Error(), remote.String())
		conn.Close()
		return
	}

	addr := displayAddress(remote, s.opts.ShowPorts)
	peer, err := s.registry.Add(conn, addr)
	if err != nil {
		s.connLimiter.ReleaseConnection(remote)
		slog.Error("Cannot register peer", "addr", addr, "error", err)
		s.metrics.PeersRejected.Add(1)
		s.metrics.RecordError("registry", err.Error(), addr)
		conn.Close()
		return
	}

	peer.startWriter(s.opts.WriteTimeout, s.onWrite)
	s.mux.Track(peer)
	s.metrics.PeersAccepted.Add(1)

	slog.Info("Peer connected",
		"addr", addr,
		"handle", peer.Handle.String(),
		"peers", s.registry.Len())

	s.broadcast(protocol.Joined(addr), NoHandle)
	s.publish()
}

// handleRead classifies the outcome of one read on a peer
func (s *Server) handleRead(ev Event) {
	peer, ok := s.registry.Get(ev.Handle)
	if !ok {
		// Stale event for a peer that is already gone
		return
	}

	if ev.Err != nil {
		s.logReadFailure(peer, ev.Err)
		s.disconnect(peer)
		return
	}

	s.metrics.RecordMessageReceived(len(ev.Data))

	text := protocol.Clean(ev.Data)
	if text == "" {
		return
	}

	if err := s.msgLimiter.Allow(peer.Handle); err != nil {
		s.metrics.RateLimitDrops.Add(1)
		drops := s.msgLimiter.RecordDrop(peer.Handle)
		slog.Warn("Message rate limited",
			"addr", peer.Addr,
			"error", err,
			"drops", drops)

		if s.msgLimiter.ShouldDisconnect(drops) {
			slog.Warn("Too many rate limit drops, disconnecting peer",
				"addr", peer.Addr,
				"drops", drops)
			s.disconnect(peer)
		}
		return
	}

	s.broadcast(protocol.Chat(peer.Addr, text), peer.Handle)
}

func (s *Server) logReadFailure(peer *Peer, err error) {
	switch {
	case errors.Is(err, io.EOF):
		slog.Info("Peer closed connection", "addr", peer.Addr, "handle", peer.Handle.String())
	case errors.Is(err, protocol.ErrMessageTooLarge):
		slog.Warn("Peer sent oversized frame", "addr", peer.Addr, "error", err)
		s.metrics.RecordError("oversized_frame", err.Error(), peer.Addr)
		s.connLimiter.RecordFailure(peer.RemoteAddr())
	case errors.Is(err, net.ErrClosed) || peer.Closed():
		slog.Debug("Peer connection closed locally", "addr", peer.Addr)
	default:
		slog.Warn("Receive failed", "addr", peer.Addr, "error", err)
		s.metrics.RecordError("receive", err.Error(), peer.Addr)
	}
}

// disconnect removes a peer, closing its handle, and tells everyone else
func (s *Server) disconnect(peer *Peer) {
	if _, err := s.registry.Remove(peer.Handle); err != nil {
		return
	}

	s.connLimiter.ReleaseConnection(peer.RemoteAddr())
	s.msgLimiter.RemovePeer(peer.Handle)
	s.metrics.Disconnects.Add(1)

	slog.Info("Peer disconnected",
		"addr", peer.Addr,
		"handle", peer.Handle.String(),
		"peers", s.registry.Len())

	s.broadcast(protocol.Left(peer.Addr), NoHandle)
	s.publish()
}

// onWrite runs on peer writer goroutines after every frame
func (s *Server) onWrite(p *Peer, size int, took time.Duration, err error) {
	if err == nil {
		s.metrics.RecordDelivery(size, took)
		return
	}
	s.metrics.DeliveryFailures.Add(1)
	s.metrics.RecordError("send", err.Error(), p.Addr)
	slog.Warn("Send failed", "addr", p.Addr, "handle", p.Handle.String(), "error", err)
}
