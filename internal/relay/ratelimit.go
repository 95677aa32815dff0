package relay

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// MessageLimiterConfig defines rate limits for relayed messages
type MessageLimiterConfig struct {
	PeerMessagesPerSec   float64 // Messages per second per peer
	PeerBurst            int     // Burst allowance per peer
	GlobalMessagesPerSec float64 // Messages per second across all peers
	GlobalBurst          int

	MaxDrops   int           // Consecutive drops before the peer is disconnected
	DropWindow time.Duration // Drops older than this are forgotten
}

// DefaultMessageLimiterConfig returns sensible defaults
func DefaultMessageLimiterConfig() *MessageLimiterConfig {
	return &MessageLimiterConfig{
		PeerMessagesPerSec:   20,
		PeerBurst:            40,
		GlobalMessagesPerSec: 500,
		GlobalBurst:          1000,
		MaxDrops:             100,
		DropWindow:           time.Minute,
	}
}

// MessageLimiter throttles inbound messages per peer and globally
type MessageLimiter struct {
	config *MessageLimiterConfig
	global *rate.Limiter
	peers  sync.Map // Handle -> *peerLimit
}

type peerLimit struct {
	limiter   *rate.Limiter
	mu        sync.Mutex
	drops     int
	firstDrop time.Time
}

// NewMessageLimiter creates a new message limiter
func NewMessageLimiter(config *MessageLimiterConfig) *MessageLimiter {
	if config == nil {
		config = DefaultMessageLimiterConfig()
	}

	return &MessageLimiter{
		config: config,
		global: rate.NewLimiter(rate.Limit(config.GlobalMessagesPerSec), config.GlobalBurst),
	}
}

// Allow reports whether a message from h may be relayed. The peer's own
// bucket is checked first so a flooding peer cannot drain the global one.
// A nil return also clears the peer's drop streak.
func (ml *MessageLimiter) Allow(h Handle) error {
	pl := ml.getPeerLimit(h)
	if !pl.limiter.Allow() {
		return fmt.Errorf("peer rate limit exceeded")
	}

	if !ml.global.Allow() {
		return fmt.Errorf("global rate limit exceeded")
	}

	pl.mu.Lock()
	pl.drops = 0
	pl.mu.Unlock()
	return nil
}

// RecordDrop counts a dropped message and returns the peer's current streak
func (ml *MessageLimiter) RecordDrop(h Handle) int {
	pl := ml.getPeerLimit(h)
	pl.mu.Lock()
	defer pl.mu.Unlock()

	if pl.drops == 0 || time.Since(pl.firstDrop) > ml.config.DropWindow {
		pl.drops = 0
		pl.firstDrop = time.Now()
	}
	pl.drops++
	return pl.drops
}

// ShouldDisconnect reports whether a drop streak warrants disconnecting
func (ml *MessageLimiter) ShouldDisconnect(drops int) bool {
	return ml.config.MaxDrops > 0 && drops > ml.config.MaxDrops
}

// RemovePeer cleans up limiter state for a disconnected peer
func (ml *MessageLimiter) RemovePeer(h Handle) {
	ml.peers.Delete(h)
}

func (ml *MessageLimiter) getPeerLimit(h Handle) *peerLimit {
	if v, ok := ml.peers.Load(h); ok {
		return v.(*peerLimit)
	}

	pl := &peerLimit{
		limiter: rate.NewLimiter(rate.Limit(ml.config.PeerMessagesPerSec), ml.config.PeerBurst),
	}
	actual, _ := ml.peers.LoadOrStore(h, pl)
	return actual.(*peerLimit)
}
