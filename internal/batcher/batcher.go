package batcher

import (
	"context"
	"time"

	"eventrelay/internal/logger"
	"eventrelay/internal/metrics"
	"eventrelay/internal/models"
)

// Batcher accumulates routed events for one destination and seals
// batches on whichever bound triggers first: event count or elapsed
// time since the first insert. Sealed batches are handed to the out
// channel; a new batch starts accepting inserts while the sealed one
// is still in flight.
//
// State machine: EMPTY (no open batch) -> ACCUMULATING (first insert
// starts the timeout timer) -> SEALED (handed off, reset to EMPTY).
type Batcher struct {
	destination string
	maxSize     int
	timeout     time.Duration

	in  <-chan models.RoutedEvent
	out chan<- *models.Batch
}

// Config holds batcher wiring for one destination.
type Config struct {
	Destination string
	MaxSize     int
	Timeout     time.Duration
	In          <-chan models.RoutedEvent
	Out         chan<- *models.Batch
}

// New creates a Batcher.
func New(cfg Config) *Batcher {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 100
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Second
	}
	return &Batcher{
		destination: cfg.Destination,
		maxSize:     cfg.MaxSize,
		timeout:     cfg.Timeout,
		in:          cfg.In,
		out:         cfg.Out,
	}
}

// Run consumes routed events until the context is cancelled or the in
// channel closes, then force-seals any open batch and closes out so
// the delivery side can drain. Run blocks; callers start it in its own
// goroutine.
func (b *Batcher) Run(ctx context.Context) {
	log := logger.WithComponent("batcher").With().
		Str("destination", b.destination).Logger()

	var batch *models.Batch
	timer := time.NewTimer(b.timeout)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()
	defer close(b.out)

	seal := func(trigger string) {
		if batch == nil || batch.Len() == 0 {
			return
		}
		batch.Seal()
		log.Debug().
			Str("batch_id", batch.ID).
			Int("events", batch.Len()).
			Str("trigger", trigger).
			Msg("batch sealed")
		metrics.BatchesSealed.WithLabelValues(b.destination, trigger).Inc()
		b.out <- batch
		batch = nil
	}

	for {
		select {
		case <-ctx.Done():
			// Graceful drain: hand off whatever accumulated so no
			// event is silently lost on shutdown.
			seal("shutdown")
			return

		case <-timer.C:
			seal("timeout")

		case re, ok := <-b.in:
			if !ok {
				seal("shutdown")
				return
			}

			if batch == nil {
				batch = models.NewBatch(b.destination)
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(b.timeout)
			}

			batch.Append(re)
			if batch.Len() >= b.maxSize {
				seal("count")
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
			}
		}
	}
}
