package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Collector holds process-wide pipeline counters readable as a
// point-in-time snapshot. All mutation is atomic; it is the only state
// shared across destination workers. The prometheus vars in this
// package mirror the same counts for scraping.
type Collector struct {
	eventsProcessed    atomic.Uint64
	eventsFailed       atomic.Uint64
	eventsDeduplicated atomic.Uint64
	eventsUnroutable   atomic.Uint64
	batchesSent        atomic.Uint64
	bytesIn            atomic.Uint64
	bytesOut           atomic.Uint64

	mu           sync.RWMutex
	destinations map[string]*destStats
}

type destStats struct {
	queueDepth          atomic.Int64
	lastSuccessAt       atomic.Int64 // unix nanos, 0 until first success
	consecutiveFailures atomic.Int64
	deadBatches         atomic.Uint64
}

// NewCollector creates a collector with gauges registered for the
// given destination names.
func NewCollector(destinations []string) *Collector {
	c := &Collector{destinations: make(map[string]*destStats, len(destinations))}
	for _, name := range destinations {
		c.destinations[name] = &destStats{}
	}
	return c
}

func (c *Collector) dest(name string) *destStats {
	c.mu.RLock()
	s, ok := c.destinations[name]
	c.mu.RUnlock()
	if ok {
		return s
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok = c.destinations[name]; ok {
		return s
	}
	s = &destStats{}
	c.destinations[name] = s
	return s
}

// EventProcessed counts an event accepted and routed.
func (c *Collector) EventProcessed() {
	c.eventsProcessed.Add(1)
}

// EventFailed counts an event that reached terminal failure at some
// destination.
func (c *Collector) EventFailed(n int) {
	c.eventsFailed.Add(uint64(n))
}

// EventDeduplicated counts a submission suppressed by the dedup window.
func (c *Collector) EventDeduplicated() {
	c.eventsDeduplicated.Add(1)
}

// EventUnroutable counts an event that matched no destination.
func (c *Collector) EventUnroutable() {
	c.eventsUnroutable.Add(1)
	EventsUnroutable.Inc()
}

// BatchSent records a successful delivery and its byte accounting.
func (c *Collector) BatchSent(destination string, bytesIn, bytesOut int) {
	c.batchesSent.Add(1)
	c.bytesIn.Add(uint64(bytesIn))
	c.bytesOut.Add(uint64(bytesOut))

	s := c.dest(destination)
	s.lastSuccessAt.Store(time.Now().UnixNano())
	s.consecutiveFailures.Store(0)

	BatchesSent.WithLabelValues(destination).Inc()
	BytesIn.Add(float64(bytesIn))
	BytesOut.Add(float64(bytesOut))
}

// DeliveryFailed bumps the destination's consecutive failure count.
func (c *Collector) DeliveryFailed(destination string) {
	c.dest(destination).consecutiveFailures.Add(1)
}

// BatchDead records a batch that reached terminal failure.
func (c *Collector) BatchDead(destination string, events int) {
	c.dest(destination).deadBatches.Add(1)
	c.EventFailed(events)
	DeadBatches.WithLabelValues(destination).Inc()
}

// SetQueueDepth records the current routed-event queue depth for a
// destination.
func (c *Collector) SetQueueDepth(destination string, depth int) {
	c.dest(destination).queueDepth.Store(int64(depth))
	DestinationQueueDepth.WithLabelValues(destination).Set(float64(depth))
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	EventsProcessed    uint64                         `json:"events_processed"`
	EventsFailed       uint64                         `json:"events_failed"`
	EventsDeduplicated uint64                         `json:"events_deduplicated"`
	EventsUnroutable   uint64                         `json:"events_unroutable"`
	BatchesSent        uint64                         `json:"batches_sent"`
	BytesIn            uint64                         `json:"bytes_in"`
	BytesOut           uint64                         `json:"bytes_out"`
	Destinations       map[string]DestinationSnapshot `json:"destinations"`
}

// DestinationSnapshot is the per-destination view inside a Snapshot.
type DestinationSnapshot struct {
	QueueDepth          int64     `json:"queue_depth"`
	LastSuccessAt       time.Time `json:"last_success_at"`
	ConsecutiveFailures int64     `json:"consecutive_failures"`
	DeadBatches         uint64    `json:"dead_batches"`
}

// Snapshot assembles a consistent read of every counter. Counters are
// monotonic, so each individual load is exact; the snapshot can never
// show a value that later decreases.
func (c *Collector) Snapshot() Snapshot {
	snap := Snapshot{
		EventsProcessed:    c.eventsProcessed.Load(),
		EventsFailed:       c.eventsFailed.Load(),
		EventsDeduplicated: c.eventsDeduplicated.Load(),
		EventsUnroutable:   c.eventsUnroutable.Load(),
		BatchesSent:        c.batchesSent.Load(),
		BytesIn:            c.bytesIn.Load(),
		BytesOut:           c.bytesOut.Load(),
		Destinations:       make(map[string]DestinationSnapshot),
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	for name, s := range c.destinations {
		ds := DestinationSnapshot{
			QueueDepth:          s.queueDepth.Load(),
			ConsecutiveFailures: s.consecutiveFailures.Load(),
			DeadBatches:         s.deadBatches.Load(),
		}
		if ns := s.lastSuccessAt.Load(); ns > 0 {
			ds.LastSuccessAt = time.Unix(0, ns).UTC()
		}
		snap.Destinations[name] = ds
	}
	return snap
}
