package metrics

import "sync"

// Event counter names used across the relay. Drop reasons are prefixed so they
// group together in scrape output.
const (
	ClientConnected    = "client_connected"
	ClientDisconnected = "client_disconnected"
	PresenceBroadcast  = "presence_broadcast"
	EnvelopeRouted     = "envelope_routed"
	PairCreated        = "pair_created"
	PairEnded          = "pair_ended"

	DropMalformedFrame   = "drop_malformed_frame"
	DropUnknownRecipient = "drop_unknown_recipient"
	DropRateLimited      = "drop_rate_limited"
	DropSendQueueFull    = "drop_send_queue_full"
	DropTooManyClients   = "drop_too_many_clients"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// Counters exist so routing and drop decisions stay observable and testable
// without pulling a full metrics backend into the relay core.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	if m.m == nil {
		m.m = make(map[string]uint64)
	}
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
