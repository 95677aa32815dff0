package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"

	"hubcast.dev/go/hubcast/internal/protocol"
)

// ErrOperatorExit is returned by RunOperator when the operator types the exit token
var ErrOperatorExit = errors.New("operator requested shutdown")

// ClosingNotice is broadcast before the operator shuts the relay down
const ClosingNotice = "server is closing"

// OperatorInput yields lines typed by the local operator. Next blocks until
// a line is available; io.EOF means the input is gone for good.
type OperatorInput interface {
	Next(ctx context.Context) (string, error)
}

// Announce broadcasts text to every peer as a server message. It is safe to
// call from any goroutine and returns once the multiplex loop has sent it
// to the peers' queues.
func (s *Server) Announce(ctx context.Context, text string) error {
	done := make(chan struct{})
	if !s.mux.Post(Event{Kind: EventAnnounce, Text: text, done: done}) {
		return ErrServerClosed
	}

	select {
	case <-done:
		return nil
	case <-s.done:
		return ErrServerClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) handleAnnounce(ev Event) {
	defer close(ev.done)
	s.broadcast(protocol.Operator(ev.Text), NoHandle)
}

// RunOperator relays operator lines until the input ends, ctx is cancelled
// or the exit token is typed. On the exit token the closing notice is
// broadcast and ErrOperatorExit is returned; the caller then cancels Serve.
func (s *Server) RunOperator(ctx context.Context, in OperatorInput, exitToken string) error {
	if exitToken == "" {
		exitToken = protocol.DefaultExitToken
	}

	for {
		line, err := in.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				slog.Debug("Operator input closed")
				return nil
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if line == exitToken {
			if err := s.Announce(ctx, ClosingNotice); err != nil {
				slog.Warn("Could not announce shutdown", "error", err)
			}
			return ErrOperatorExit
		}

		if err := s.Announce(ctx, protocol.Truncate(line, s.opts.MaxMessageSize)); err != nil {
			return err
		}
	}
}
