package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"eventrelay/internal/compress"
	"eventrelay/internal/logger"
	"eventrelay/internal/metrics"
	"eventrelay/internal/models"
	"eventrelay/internal/ratelimit"
)

// Sender errors
var (
	ErrRetriesExhausted = errors.New("retry budget exhausted")
	ErrTerminalRejected = errors.New("destination rejected batch permanently")
)

// Envelope is the wire format POSTed to a destination. When Compressed
// is true the body is zstd-encoded and carries a Content-Encoding
// header; the flag survives inside the decoded body so receivers can
// account for it.
type Envelope struct {
	BatchID    string      `json:"batch_id"`
	Compressed bool        `json:"compressed"`
	Escalated  bool        `json:"escalated,omitempty"`
	Events     []WireEvent `json:"events"`
}

// WireEvent is the destination-facing event encoding.
type WireEvent struct {
	ID        string         `json:"id"`
	EventType string         `json:"event_type"`
	Severity  string         `json:"severity"`
	Payload   map[string]any `json:"payload"`
	CreatedAt string         `json:"created_at"`
}

// Sender delivers sealed batches to one destination with bounded
// exponential-backoff retry. One sender is owned by one destination
// worker and invoked serially, which is what preserves FIFO batch
// order per destination.
type Sender struct {
	dest    *models.Destination
	client  *http.Client
	limiter ratelimit.Limiter
	signer  *Signer

	// Hooks for tests; default to time.Now and context-aware sleep.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// Config holds sender wiring for one destination.
type Config struct {
	Destination *models.Destination
	Limiter     ratelimit.Limiter
	Client      *http.Client

	// Sleep overrides the inter-attempt wait, letting tests observe
	// the backoff schedule without real delays.
	Sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Sender for a destination.
func New(cfg Config) *Sender {
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	limiter := cfg.Limiter
	if limiter == nil {
		limiter = ratelimit.New(cfg.Destination.RateLimit)
	}

	sleep := cfg.Sleep
	if sleep == nil {
		sleep = func(ctx context.Context, d time.Duration) error {
			select {
			case <-time.After(d):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	var signer *Signer
	if cfg.Destination.SigningSecret != "" {
		signer = NewSigner(cfg.Destination.SigningSecret)
	}

	return &Sender{
		dest:    cfg.Destination,
		client:  client,
		limiter: limiter,
		signer:  signer,
		now:     time.Now,
		sleep:   sleep,
	}
}

// Send delivers one sealed batch, retrying per the destination's
// policy. The returned attempt is always final: success after an
// acknowledgment, terminal_failure after a permanent rejection or an
// exhausted retry budget. BytesIn/BytesOut report the pre- and
// post-compression body sizes of the delivered request.
func (s *Sender) Send(ctx context.Context, batch *models.Batch) (*models.DeliveryAttempt, int, int) {
	log := logger.WithComponent("sender").With().
		Str("destination", s.dest.Name).
		Str("batch_id", batch.ID).Logger()

	body, rawLen, compressed := s.encodeBody(batch)

	var last *models.DeliveryAttempt
	for attempt := 1; attempt <= s.dest.Retry.MaxAttempts; attempt++ {
		// A throttled attempt is deferred, not spent: the limiter
		// wait happens before the attempt is counted.
		if !s.limiter.Allow() {
			metrics.RateLimitWaits.WithLabelValues(s.dest.Name).Inc()
			if err := s.limiter.Wait(ctx); err != nil {
				return s.finishTerminal(batch, attempt, 0, err), rawLen, len(body)
			}
		}

		start := s.now()
		status, err := s.deliver(ctx, body, compressed, batch)
		duration := time.Since(start)
		metrics.DeliveryDuration.WithLabelValues(s.dest.Name).Observe(duration.Seconds())

		last = &models.DeliveryAttempt{
			BatchID:       batch.ID,
			Destination:   s.dest.Name,
			AttemptNumber: attempt,
			StartedAt:     start,
			HTTPStatus:    status,
			Outcome:       classify(status, err),
		}
		if err != nil {
			last.Err = err.Error()
		}
		metrics.DeliveryAttempts.WithLabelValues(s.dest.Name, string(last.Outcome)).Inc()

		switch last.Outcome {
		case models.OutcomeSuccess:
			log.Debug().
				Int("attempt", attempt).
				Int("events", batch.Len()).
				Int("status", status).
				Dur("duration", duration).
				Msg("batch delivered")
			return last, rawLen, len(body)

		case models.OutcomeTerminalFailure:
			log.Error().
				Int("attempt", attempt).
				Int("status", status).
				Err(err).
				Msg("destination rejected batch permanently")
			return last, rawLen, len(body)
		}

		// Retryable: schedule the next attempt, unless the budget is
		// spent, in which case the outcome is forced terminal.
		if attempt == s.dest.Retry.MaxAttempts {
			break
		}

		delay := s.backoffDelay(attempt)
		last.NextRetryAt = start.Add(delay)

		log.Warn().
			Int("attempt", attempt).
			Int("status", status).
			Dur("backoff", delay).
			Err(err).
			Msg("retrying batch delivery")

		if err := s.sleep(ctx, delay); err != nil {
			return s.finishTerminal(batch, attempt, status, err), rawLen, len(body)
		}
	}

	last.Outcome = models.OutcomeTerminalFailure
	if last.Err == "" {
		last.Err = ErrRetriesExhausted.Error()
	}
	log.Error().
		Int("attempts", s.dest.Retry.MaxAttempts).
		Msg("batch delivery failed after all retries")
	return last, rawLen, len(body)
}

func (s *Sender) finishTerminal(batch *models.Batch, attempt, status int, err error) *models.DeliveryAttempt {
	return &models.DeliveryAttempt{
		BatchID:       batch.ID,
		Destination:   s.dest.Name,
		AttemptNumber: attempt,
		StartedAt:     s.now(),
		HTTPStatus:    status,
		Outcome:       models.OutcomeTerminalFailure,
		Err:           err.Error(),
	}
}

// backoffDelay computes the wait after a given failed attempt:
// min(max_delay, base_delay * multiplier^(attempt-1)).
func (s *Sender) backoffDelay(attempt int) time.Duration {
	p := s.dest.Retry
	d := time.Duration(float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1)))
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// encodeBody marshals the wire envelope and compresses it when that
// reduces size. The compressed flag inside the body matches the
// Content-Encoding header on the request.
func (s *Sender) encodeBody(batch *models.Batch) (body []byte, rawLen int, compressed bool) {
	raw, err := json.Marshal(s.envelope(batch, false))
	if err != nil {
		// Unreachable with scalar payloads; keep the batch moving.
		raw = []byte(fmt.Sprintf(`{"batch_id":%q,"compressed":false,"events":[]}`, batch.ID))
	}

	if _, ok := compress.Compress(raw); !ok {
		metrics.CompressionSkipped.Inc()
		return raw, len(raw), false
	}

	// Compression wins: re-encode with the flag set so body and
	// header agree, then compress the flagged form.
	flagged, _ := json.Marshal(s.envelope(batch, true))
	out, ok := compress.Compress(flagged)
	if !ok {
		metrics.CompressionSkipped.Inc()
		return flagged, len(flagged), false
	}
	return out, len(flagged), true
}

func (s *Sender) envelope(batch *models.Batch, compressed bool) Envelope {
	env := Envelope{
		BatchID:    batch.ID,
		Compressed: compressed,
		Escalated:  batch.Escalated,
		Events:     make([]WireEvent, 0, batch.Len()),
	}
	for _, e := range batch.Events {
		env.Events = append(env.Events, WireEvent{
			ID:        e.ID,
			EventType: string(e.Type),
			Severity:  string(e.Severity),
			Payload:   e.Payload,
			CreatedAt: e.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	return env
}

// deliver performs a single HTTP POST and returns the response status.
func (s *Sender) deliver(ctx context.Context, body []byte, compressed bool, batch *models.Batch) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.dest.TransportURL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Relay-Batch", batch.ID)
	if compressed {
		req.Header.Set("Content-Encoding", compress.Encoding)
	}
	if s.signer != nil {
		req.Header.Set(SignatureHeader, s.signer.Sign(body))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	// Drain so the connection can be reused.
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	return resp.StatusCode, nil
}

// classify maps an attempt result onto the delivery outcome taxonomy.
// Acknowledgment (any 2xx) is success; network failures, timeouts,
// rate-limit rejections, and server-side errors are retryable; other
// client errors mean the request is permanently invalid for this
// destination.
func classify(status int, err error) models.Outcome {
	if err != nil {
		return models.OutcomeRetryableFailure
	}

	switch {
	case status >= 200 && status < 300:
		return models.OutcomeSuccess
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return models.OutcomeRetryableFailure
	case status >= 500:
		return models.OutcomeRetryableFailure
	default:
		return models.OutcomeTerminalFailure
	}
}
