package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"eventrelay/internal/batcher"
	"eventrelay/internal/config"
	"eventrelay/internal/deadletter"
	"eventrelay/internal/dedup"
	"eventrelay/internal/logger"
	"eventrelay/internal/metrics"
	"eventrelay/internal/models"
	"eventrelay/internal/ratelimit"
	"eventrelay/internal/redact"
	"eventrelay/internal/router"
	"eventrelay/internal/sender"
)

// Submit errors
var (
	// ErrBackpressure means the intake queue is full; the producer
	// must retry later or drop.
	ErrBackpressure = errors.New("backpressure: intake queue full")

	// ErrShuttingDown means intake is closed for draining.
	ErrShuttingDown = errors.New("shutting_down: intake rejected")
)

// BatchSender delivers one sealed batch and reports the final attempt
// plus pre/post-compression byte counts.
type BatchSender interface {
	Send(ctx context.Context, batch *models.Batch) (*models.DeliveryAttempt, int, int)
}

// Orchestrator owns the intake queue and wires redaction, routing,
// batching, and delivery per destination. One worker pair (batcher +
// deliverer) runs per destination so a slow endpoint never starves the
// others; the metrics collector is the only state shared across them.
type Orchestrator struct {
	cfg      *config.Config
	redactor *redact.Redactor
	table    *router.Table
	dedupe   dedup.Store
	col      *metrics.Collector
	dead     *deadletter.Store

	intake chan *models.Event
	queues map[string]chan models.RoutedEvent

	newSender func(d *models.Destination) BatchSender

	mu       sync.RWMutex
	draining bool
	started  bool

	cancel    context.CancelFunc
	stopStats chan struct{}
	wg        sync.WaitGroup
}

// Option customizes orchestrator construction, mainly for tests.
type Option func(*Orchestrator)

// WithDedupStore overrides the idempotency window store.
func WithDedupStore(s dedup.Store) Option {
	return func(o *Orchestrator) { o.dedupe = s }
}

// WithDeadLetterStore overrides the dead-batch store.
func WithDeadLetterStore(s *deadletter.Store) Option {
	return func(o *Orchestrator) { o.dead = s }
}

// WithSenderFactory overrides per-destination sender construction.
func WithSenderFactory(f func(d *models.Destination) BatchSender) Option {
	return func(o *Orchestrator) { o.newSender = f }
}

// New constructs an Orchestrator from validated configuration. No
// goroutines run until Start.
func New(cfg *config.Config, opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		cfg: cfg,
		redactor: redact.New(redact.Config{
			MaxFieldLen:  cfg.Redaction.MaxFieldLen,
			LongFieldLen: cfg.Redaction.LongFieldLen,
			LongFields:   cfg.Redaction.LongFields,
		}),
		table: router.New(router.Config{
			General:       cfg.Routing.General,
			ErrorAlert:    cfg.Routing.ErrorAlert,
			Subscriptions: cfg.Subscriptions(),
			All:           cfg.DestinationNames(),
		}),
		col:    metrics.NewCollector(cfg.DestinationNames()),
		intake: make(chan *models.Event, cfg.Intake.QueueSize),
		queues: make(map[string]chan models.RoutedEvent, len(cfg.Destinations)),
	}

	for _, name := range cfg.DestinationNames() {
		o.queues[name] = make(chan models.RoutedEvent, cfg.Intake.DestQueue)
	}

	for _, opt := range opts {
		opt(o)
	}

	if o.dedupe == nil {
		if cfg.Intake.RedisURL != "" {
			store, err := dedup.NewRedisStore(cfg.Intake.RedisURL, cfg.Intake.DedupWindow)
			if err != nil {
				return nil, fmt.Errorf("failed to initialize dedup store: %w", err)
			}
			o.dedupe = store
		} else {
			o.dedupe = dedup.NewMemoryStore(cfg.Intake.DedupWindow)
		}
	}

	if o.dead == nil {
		var pub deadletter.Publisher
		if len(cfg.DeadLetter.KafkaBrokers) > 0 && cfg.DeadLetter.KafkaTopic != "" {
			p, err := deadletter.NewKafkaPublisher(cfg.DeadLetter.KafkaBrokers, cfg.DeadLetter.KafkaTopic)
			if err != nil {
				return nil, fmt.Errorf("failed to initialize dead-letter publisher: %w", err)
			}
			pub = p
		}
		o.dead = deadletter.NewStore(cfg.DeadLetter.MaxRecords, pub)
	}

	if o.newSender == nil {
		o.newSender = func(d *models.Destination) BatchSender {
			return sender.New(sender.Config{
				Destination: d,
				Limiter:     ratelimit.New(d.RateLimit),
			})
		}
	}

	return o, nil
}

// Start launches the intake loop and one batcher plus deliverer per
// destination.
func (o *Orchestrator) Start() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started {
		return
	}
	o.started = true

	ctx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	o.stopStats = make(chan struct{})

	log := logger.WithComponent("orchestrator")
	log.Info().
		Int("destinations", len(o.cfg.Destinations)).
		Int("intake_queue", cap(o.intake)).
		Msg("pipeline starting")

	for i := range o.cfg.Destinations {
		d := &o.cfg.Destinations[i]
		sealed := make(chan *models.Batch, 16)

		b := batcher.New(batcher.Config{
			Destination: d.Name,
			MaxSize:     d.MaxBatchSize,
			Timeout:     d.BatchTimeout,
			In:          o.queues[d.Name],
			Out:         sealed,
		})

		o.wg.Add(2)
		go func() {
			defer o.wg.Done()
			b.Run(ctx)
		}()
		go func() {
			defer o.wg.Done()
			o.deliveryLoop(ctx, d, sealed)
		}()

		log.Info().
			Str("destination", d.Name).
			Str("url", d.RedactedURL()).
			Int("max_batch_size", d.MaxBatchSize).
			Dur("batch_timeout", d.BatchTimeout).
			Msg("destination worker started")
	}

	o.wg.Add(2)
	go func() {
		defer o.wg.Done()
		o.intakeLoop(ctx)
	}()
	go func() {
		defer o.wg.Done()
		o.reportStats(ctx)
	}()
}

// Submit enqueues an event for delivery. It never blocks beyond the
// queue insert: a full queue returns ErrBackpressure immediately, and
// a draining pipeline returns ErrShuttingDown.
func (o *Orchestrator) Submit(e *models.Event) error {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if o.draining {
		metrics.SubmitTotal.WithLabelValues("shutting_down").Inc()
		return ErrShuttingDown
	}

	select {
	case o.intake <- e:
		metrics.SubmitTotal.WithLabelValues("accepted").Inc()
		return nil
	default:
		metrics.SubmitTotal.WithLabelValues("backpressure").Inc()
		return ErrBackpressure
	}
}

// intakeLoop drains the shared submission queue: dedup, redact, route,
// fan out to destination queues. It exits when the intake channel
// closes during shutdown, then closes the destination queues so the
// batchers seal and drain.
func (o *Orchestrator) intakeLoop(ctx context.Context) {
	log := logger.WithComponent("intake")

	defer func() {
		for _, q := range o.queues {
			close(q)
		}
	}()

	for e := range o.intake {
		seen, err := o.dedupe.Seen(ctx, e.IdempotencyKey)
		if err != nil {
			// Fail open: a broken dedup backend must not stop
			// delivery, at worst a duplicate goes out.
			log.Warn().Err(err).Msg("dedup check failed, continuing")
		}
		if seen {
			o.col.EventDeduplicated()
			metrics.SubmitTotal.WithLabelValues("duplicate").Inc()
			continue
		}

		e = o.redactor.Redact(e)

		assignments := o.table.Route(e)
		if len(assignments) == 0 {
			o.col.EventUnroutable()
			log.Warn().
				Str("event_id", e.ID).
				Str("event_type", string(e.Type)).
				Str("severity", string(e.Severity)).
				Msg("event matched no destination")
			continue
		}

		for _, a := range assignments {
			q := o.queues[a.Destination]
			q <- models.RoutedEvent{Event: e, Escalate: a.Escalate}
			o.col.SetQueueDepth(a.Destination, len(q))
		}
		o.col.EventProcessed()
	}
}

// deliveryLoop consumes sealed batches for one destination in FIFO
// order. Delivery I/O happens only here, off the intake path.
func (o *Orchestrator) deliveryLoop(ctx context.Context, d *models.Destination, sealed <-chan *models.Batch) {
	log := logger.WithDestination(d.Name)
	snd := o.newSender(d)

	for batch := range sealed {
		o.col.SetQueueDepth(d.Name, len(o.queues[d.Name]))

		attempt, bytesIn, bytesOut := snd.Send(ctx, batch)
		switch attempt.Outcome {
		case models.OutcomeSuccess:
			o.col.BatchSent(d.Name, bytesIn, bytesOut)

		case models.OutcomeTerminalFailure:
			o.col.DeliveryFailed(d.Name)
			o.col.BatchDead(d.Name, batch.Len())

			rec := deadletter.FromAttempt(batch, attempt)
			pubCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			o.dead.Add(pubCtx, rec)
			cancel()

			log.Error().
				Str("batch_id", batch.ID).
				Int("events", batch.Len()).
				Int("attempts", attempt.AttemptNumber).
				Str("reason", attempt.Err).
				Msg("batch dead-lettered")
		}
	}
}

// reportStats refreshes queue-depth gauges periodically.
func (o *Orchestrator) reportStats(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-o.stopStats:
			return
		case <-ticker.C:
			metrics.IntakeQueueDepth.Set(float64(len(o.intake)))
			for name, q := range o.queues {
				o.col.SetQueueDepth(name, len(q))
			}
		}
	}
}

// Shutdown stops intake, force-seals accumulating batches, and waits
// for outstanding deliveries up to the context deadline. Batches still
// undelivered at the deadline are logged with their queue so nothing
// disappears silently.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	if o.draining {
		o.mu.Unlock()
		return nil
	}
	o.draining = true
	started := o.started
	close(o.intake)
	o.mu.Unlock()

	log := logger.WithComponent("orchestrator")
	log.Info().Msg("draining pipeline")

	if !started {
		return o.dedupe.Close()
	}

	// Batchers and deliverers exit through their closed channels,
	// which is the graceful path; the stats reporter just stops.
	close(o.stopStats)

	drained := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(drained)
	}()

	var err error
	select {
	case <-drained:
		log.Info().Msg("pipeline drained")
		o.cancel()
	case <-ctx.Done():
		err = ctx.Err()
		for name, q := range o.queues {
			if depth := len(q); depth > 0 {
				log.Error().
					Str("destination", name).
					Int("undelivered_events", depth).
					Msg("drain timeout expired with events still queued")
			}
		}
		// Abort any in-flight attempt that outlived the drain window.
		o.cancel()
	}

	if cerr := o.dedupe.Close(); err == nil {
		err = cerr
	}
	if cerr := o.dead.Close(); err == nil && cerr != nil {
		err = cerr
	}
	return err
}

// Collector exposes the metrics collector for the observability
// surface.
func (o *Orchestrator) Collector() *metrics.Collector {
	return o.col
}

// DeadLetters exposes the dead-batch store for inspection.
func (o *Orchestrator) DeadLetters() *deadletter.Store {
	return o.dead
}
