package relay

import (
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics collects operational counters for the relay
type Metrics struct {
	startTime time.Time

	// Counters (use atomic for lock-free updates)
	PeersAccepted    atomic.Int64
	PeersRejected    atomic.Int64
	Disconnects      atomic.Int64
	AcceptErrors     atomic.Int64
	MessagesReceived atomic.Int64
	Broadcasts       atomic.Int64
	Deliveries       atomic.Int64
	DeliveryFailures atomic.Int64
	QueueOverflows   atomic.Int64
	RateLimitDrops   atomic.Int64
	BytesReceived    atomic.Int64
	BytesSent        atomic.Int64

	// Error tracking (ring buffer)
	errorsMu   sync.RWMutex
	errors     []ErrorEntry
	errorIndex int

	// Write latency samples (ring buffer)
	latencyMu    sync.RWMutex
	writeLatency []time.Duration
	latencyIndex int
}

// ErrorEntry records an error event
type ErrorEntry struct {
	Time    time.Time `json:"time"`
	Type    string    `json:"type"`
	Message string    `json:"message"`
	Peer    string    `json:"peer,omitempty"`
}

// MetricsSnapshot is a point-in-time view of all metrics
type MetricsSnapshot struct {
	Timestamp    time.Time      `json:"timestamp"`
	Uptime       string         `json:"uptime"`
	UptimeSec    float64        `json:"uptime_sec"`
	System       SystemMetrics  `json:"system"`
	Counters     CounterMetrics `json:"counters"`
	Gauges       GaugeMetrics   `json:"gauges"`
	Latency      LatencyMetrics `json:"latency"`
	RecentErrors []ErrorEntry   `json:"recent_errors"`
}

// SystemMetrics contains runtime information
type SystemMetrics struct {
	GoVersion    string  `json:"go_version"`
	NumCPU       int     `json:"num_cpu"`
	NumGoroutine int     `json:"num_goroutine"`
	MemAllocMB   float64 `json:"mem_alloc_mb"`
	MemSysMB     float64 `json:"mem_sys_mb"`
	NumGC        uint32  `json:"num_gc"`
}

// CounterMetrics contains cumulative counters
type CounterMetrics struct {
	PeersAccepted    int64 `json:"peers_accepted"`
	PeersRejected    int64 `json:"peers_rejected"`
	Disconnects      int64 `json:"disconnects"`
	AcceptErrors     int64 `json:"accept_errors"`
	MessagesReceived int64 `json:"messages_received"`
	Broadcasts       int64 `json:"broadcasts"`
	Deliveries       int64 `json:"deliveries"`
	DeliveryFailures int64 `json:"delivery_failures"`
	QueueOverflows   int64 `json:"queue_overflows"`
	RateLimitDrops   int64 `json:"rate_limit_drops"`
	BytesReceived    int64 `json:"bytes_received"`
	BytesSent        int64 `json:"bytes_sent"`
}

// GaugeMetrics contains current state values
type GaugeMetrics struct {
	ConnectedPeers  int `json:"connected_peers"`
	TrackedHandles  int `json:"tracked_handles"`
	Listeners       int `json:"listeners"`
	DescriptorLimit int `json:"descriptor_limit,omitempty"`
}

// LatencyMetrics summarizes recent frame write durations
type LatencyMetrics struct {
	WriteAvgMs float64 `json:"write_avg_ms"`
	WriteP95Ms float64 `json:"write_p95_ms"`
	WriteMaxMs float64 `json:"write_max_ms"`
}

const (
	maxErrorEntries   = 100
	maxLatencySamples = 100
)

// NewMetrics creates a new metrics collector
func NewMetrics() *Metrics {
	return &Metrics{
		startTime:    time.Now(),
		errors:       make([]ErrorEntry, maxErrorEntries),
		writeLatency: make([]time.Duration, maxLatencySamples),
	}
}

// RecordMessageReceived records an inbound frame
func (m *Metrics) RecordMessageReceived(size int) {
	m.MessagesReceived.Add(1)
	m.BytesReceived.Add(int64(size))
}

// RecordDelivery records a frame written to a peer
func (m *Metrics) RecordDelivery(size int, took time.Duration) {
	m.Deliveries.Add(1)
	m.BytesSent.Add(int64(size))

	m.latencyMu.Lock()
	m.writeLatency[m.latencyIndex] = took
	m.latencyIndex = (m.latencyIndex + 1) % maxLatencySamples
	m.latencyMu.Unlock()
}

// RecordError records an error event
func (m *Metrics) RecordError(errType, message, peer string) {
	entry := ErrorEntry{
		Time:    time.Now(),
		Type:    errType,
		Message: message,
		Peer:    peer,
	}

	m.errorsMu.Lock()
	m.errors[m.errorIndex] = entry
	m.errorIndex = (m.errorIndex + 1) % maxErrorEntries
	m.errorsMu.Unlock()
}

// RecentErrors returns recorded errors, newest first
func (m *Metrics) RecentErrors() []ErrorEntry {
	m.errorsMu.RLock()
	defer m.errorsMu.RUnlock()

	recent := make([]ErrorEntry, 0, maxErrorEntries)
	for i := 0; i < maxErrorEntries; i++ {
		idx := (m.errorIndex - 1 - i + maxErrorEntries) % maxErrorEntries
		if !m.errors[idx].Time.IsZero() {
			recent = append(recent, m.errors[idx])
		}
	}
	return recent
}

// Snapshot returns a point-in-time view of all metrics
func (m *Metrics) Snapshot(gaugeProvider func() GaugeMetrics) *MetricsSnapshot {
	now := time.Now()
	uptime := now.Sub(m.startTime)

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	var gauges GaugeMetrics
	if gaugeProvider != nil {
		gauges = gaugeProvider()
	}

	return &MetricsSnapshot{
		Timestamp: now,
		Uptime:    uptime.Round(time.Second).String(),
		UptimeSec: uptime.Seconds(),
		System: SystemMetrics{
			GoVersion:    runtime.Version(),
			NumCPU:       runtime.NumCPU(),
			NumGoroutine: runtime.NumGoroutine(),
			MemAllocMB:   float64(memStats.Alloc) / 1024 / 1024,
			MemSysMB:     float64(memStats.Sys) / 1024 / 1024,
			NumGC:        memStats.NumGC,
		},
		Counters: CounterMetrics{
			PeersAccepted:    m.PeersAccepted.Load(),
			PeersRejected:    m.PeersRejected.Load(),
			Disconnects:      m.Disconnects.Load(),
			AcceptErrors:     m.AcceptErrors.Load(),
			MessagesReceived: m.MessagesReceived.Load(),
			Broadcasts:       m.Broadcasts.Load(),
			Deliveries:       m.Deliveries.Load(),
			DeliveryFailures: m.DeliveryFailures.Load(),
			QueueOverflows:   m.QueueOverflows.Load(),
			RateLimitDrops:   m.RateLimitDrops.Load(),
			BytesReceived:    m.BytesReceived.Load(),
			BytesSent:        m.BytesSent.Load(),
		},
		Gauges:       gauges,
		Latency:      m.latencyStats(),
		RecentErrors: m.RecentErrors(),
	}
}

func (m *Metrics) latencyStats() LatencyMetrics {
	m.latencyMu.RLock()
	valid := slices.DeleteFunc(slices.Clone(m.writeLatency), func(d time.Duration) bool { return d <= 0 })
	m.latencyMu.RUnlock()

	if len(valid) == 0 {
		return LatencyMetrics{}
	}
	slices.Sort(valid)

	var total time.Duration
	for _, d := range valid {
		total += d
	}
	p95 := valid[min(len(valid)-1, len(valid)*95/100)]

	return LatencyMetrics{
		WriteAvgMs: ms(total / time.Duration(len(valid))),
		WriteP95Ms: ms(p95),
		WriteMaxMs: ms(valid[len(valid)-1]),
	}
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
