package relay

import (
	"errors"
	"log/slog"

	"hubcast.dev/go/hubcast/internal/protocol"
)

// Delivery summarizes one broadcast
type Delivery struct {
	Queued int
	Failed int
}

// broadcast queues env for every registered peer except exclude, in
// registry order. A failure for one peer is logged and skipped; a peer
// whose queue is full is kicked so its next read fails. Peers are never
// removed here.
func (s *Server) broadcast(env protocol.Envelope, exclude Handle) Delivery {
	if s.closing {
		return Delivery{}
	}

	line := protocol.Truncate(env.String(), s.opts.MaxMessageSize)
	if s.opts.OnEnvelope != nil {
		s.opts.OnEnvelope(line)
	}
	frame := []byte(line)

	var d Delivery
	for _, p := range s.registry.All() {
		if p.Handle == exclude {
			continue
		}

		if err := p.enqueue(frame); err != nil {
			d.Failed++
			s.metrics.DeliveryFailures.Add(1)
			s.metrics.RecordError("send", err.Error(), p.Addr)

			if errors.Is(err, ErrQueueFull) {
				s.metrics.QueueOverflows.Add(1)
				slog.Warn("Send queue full, disconnecting peer",
					"addr", p.Addr,
					"handle", p.Handle.String())
				p.kick()
			} else {
				slog.Debug("Skipping closed peer", "addr", p.Addr, "error", err)
			}
			continue
		}
		d.Queued++
	}

	s.metrics.Broadcasts.Add(1)
	slog.Debug("Broadcast",
		"kind", env.Kind.String(),
		"from", env.From,
		"queued", d.Queued,
		"failed", d.Failed)
	return d
}
