package client

import (
	"context"
	"errors"
	"fmt"
	"net"

	"golang.org/x/sync/errgroup"

	"hubcast.dev/go/hubcast/internal/protocol"
)

// errLeft ends a session when the user types the exit token
var errLeft = errors.New("left server")

// LineSource yields lines typed by the user. io.EOF ends the session.
type LineSource interface {
	Next(ctx context.Context) (string, error)
}

// Session pumps lines between a user and a relay until one side ends it
type Session struct {
	Client    *Client
	Input     LineSource
	Output    func(line string)
	ExitToken string
}

// Run relays until the exit token is typed, the input ends, the server
// goes away or ctx is cancelled. It returns ErrConnectionLost when the
// server closed the connection and nil for every user-initiated exit.
// The client is closed on return.
func (s *Session) Run(ctx context.Context) error {
	exit := s.ExitToken
	if exit == "" {
		exit = protocol.DefaultExitToken
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-gctx.Done()
		return s.Client.Close()
	})

	g.Go(func() error {
		for {
			line, err := s.Client.Receive()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return nil
				}
				s.Output(ErrConnectionLost.Error())
				return err
			}
			s.Output(line)
		}
	})

	g.Go(func() error {
		for {
			line, err := s.Input.Next(gctx)
			if err != nil {
				if gctx.Err() != nil {
					return nil
				}
				// input gone; leave the server
				return errLeft
			}

			if line == exit {
				return errLeft
			}
			if line == "" {
				continue
			}

			if err := s.Client.Send(line); err != nil {
				if errors.Is(err, ErrMessageTooLarge) {
					s.Output(fmt.Sprintf("LOG: Could not send message: %v", err))
					continue
				}
				if errors.Is(err, net.ErrClosed) {
					return nil
				}
				return err
			}
		}
	})

	err := g.Wait()
	switch {
	case errors.Is(err, errLeft):
		return nil
	case err != nil:
		return err
	default:
		return nil
	}
}
