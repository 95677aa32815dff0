package relay

import (
	"errors"
	"fmt"
	"iter"
	"slices"
)

var (
	// ErrRegistryFull is returned when the registry is at capacity
	ErrRegistryFull = errors.New("peer registry full")

	// ErrNoSuchPeer is returned when removing a handle that is not registered
	ErrNoSuchPeer = errors.New("no such peer")
)

// Registry is the ordered set of connected peers. It is not safe for
// concurrent use: the multiplex loop owns it.
type Registry struct {
	peers     []*Peer
	pos       map[Handle]int
	last      Handle
	maxPeers  int
	queueSize int
}

// NewRegistry creates a registry. maxPeers <= 0 means no limit beyond
// what the process can open; queueSize is the outgoing queue of each peer.
func NewRegistry(maxPeers, queueSize int) *Registry {
	return &Registry{
		pos:       make(map[Handle]int),
		maxPeers:  maxPeers,
		queueSize: queueSize,
	}
}

// Add registers a newly accepted connection under a fresh handle
func (r *Registry) Add(conn Conn, addr string) (*Peer, error) {
	if r.maxPeers > 0 && len(r.peers) >= r.maxPeers {
		return nil, fmt.Errorf("%w: %d peers", ErrRegistryFull, len(r.peers))
	}

	r.last++
	p := newPeer(r.last, conn, addr, r.queueSize)
	r.pos[p.Handle] = len(r.peers)
	r.peers = append(r.peers, p)
	return p, nil
}

// Len returns the number of registered peers
func (r *Registry) Len() int {
	return len(r.peers)
}

// At returns the peer at index i
func (r *Registry) At(i int) *Peer {
	return r.peers[i]
}

// Get looks up a peer by handle
func (r *Registry) Get(h Handle) (*Peer, bool) {
	i, ok := r.pos[h]
	if !ok {
		return nil, false
	}
	return r.peers[i], true
}

// IndexOf returns the current index of h, or -1
func (r *Registry) IndexOf(h Handle) int {
	if i, ok := r.pos[h]; ok {
		return i
	}
	return -1
}

// RemoveAt closes the peer at index i and erases it. Every later entry
// shifts down by one, so a caller walking indices must not advance its
// cursor after removing the current entry.
func (r *Registry) RemoveAt(i int) (*Peer, error) {
	if i < 0 || i >= len(r.peers) {
		return nil, fmt.Errorf("index %d: %w", i, ErrNoSuchPeer)
	}

	p := r.peers[i]
	p.close()

	r.peers = slices.Delete(r.peers, i, i+1)
	delete(r.pos, p.Handle)
	for j := i; j < len(r.peers); j++ {
		r.pos[r.peers[j].Handle] = j
	}
	return p, nil
}

// Remove closes and erases the peer with handle h. Removing a handle that
// is not registered returns ErrNoSuchPeer and changes nothing.
func (r *Registry) Remove(h Handle) (*Peer, error) {
	i, ok := r.pos[h]
	if !ok {
		return nil, fmt.Errorf("handle %s: %w", h, ErrNoSuchPeer)
	}
	return r.RemoveAt(i)
}

// All iterates peers in registry order. The consumer may remove peers
// while iterating: each peer registered when iteration started is yielded
// exactly once unless it was removed before being reached. Peers added
// during iteration are not yielded.
func (r *Registry) All() iter.Seq2[int, *Peer] {
	return func(yield func(int, *Peer) bool) {
		handles := make([]Handle, len(r.peers))
		for i, p := range r.peers {
			handles[i] = p.Handle
		}

		for _, h := range handles {
			i, ok := r.pos[h]
			if !ok {
				continue
			}
			if !yield(i, r.peers[i]) {
				return
			}
		}
	}
}

// Snapshot returns a copy of the registered peers in order
func (r *Registry) Snapshot() []*Peer {
	return slices.Clone(r.peers)
}

// Clear closes every peer and empties the registry. It returns the number
// of peers closed.
func (r *Registry) Clear() int {
	n := len(r.peers)
	for _, p := range r.peers {
		p.close()
	}
	r.peers = nil
	clear(r.pos)
	return n
}
