package deadletter

import (
	"context"
	"sync"
	"time"

	"eventrelay/internal/logger"
	"eventrelay/internal/models"
)

// Record describes one batch that reached terminal failure. Records
// are inspectable by operators; a dead batch is surfaced, never
// silently dropped.
type Record struct {
	BatchID     string    `json:"batch_id"`
	Destination string    `json:"destination"`
	Events      int       `json:"events"`
	Attempts    int       `json:"attempts"`
	Reason      string    `json:"reason"`
	HTTPStatus  int       `json:"http_status,omitempty"`
	FailedAt    time.Time `json:"failed_at"`

	// EventIDs allow manual recovery against the producer's records.
	EventIDs []string `json:"event_ids"`
}

// Publisher forwards dead-batch records to an external sink for
// durable recovery, e.g. a Kafka dead-letter topic.
type Publisher interface {
	Publish(ctx context.Context, rec Record) error
	Close() error
}

// Store keeps the most recent dead-batch records in a bounded ring and
// optionally forwards each record to a Publisher.
type Store struct {
	mu      sync.Mutex
	records []Record
	max     int
	pub     Publisher
}

// NewStore creates a dead-letter store holding up to max records.
func NewStore(max int, pub Publisher) *Store {
	if max <= 0 {
		max = 1000
	}
	return &Store{max: max, pub: pub}
}

// FromAttempt builds a record for a terminally failed batch.
func FromAttempt(batch *models.Batch, attempt *models.DeliveryAttempt) Record {
	ids := make([]string, 0, batch.Len())
	for _, e := range batch.Events {
		ids = append(ids, e.ID)
	}
	return Record{
		BatchID:     batch.ID,
		Destination: batch.Destination,
		Events:      batch.Len(),
		Attempts:    attempt.AttemptNumber,
		Reason:      attempt.Err,
		HTTPStatus:  attempt.HTTPStatus,
		FailedAt:    time.Now().UTC(),
		EventIDs:    ids,
	}
}

// Add records a dead batch. Publisher errors are logged, not
// propagated: the in-memory record already preserves the failure for
// inspection.
func (s *Store) Add(ctx context.Context, rec Record) {
	s.mu.Lock()
	s.records = append(s.records, rec)
	if len(s.records) > s.max {
		s.records = s.records[len(s.records)-s.max:]
	}
	s.mu.Unlock()

	if s.pub != nil {
		if err := s.pub.Publish(ctx, rec); err != nil {
			log := logger.WithComponent("deadletter")
			log.Error().
				Err(err).
				Str("batch_id", rec.BatchID).
				Str("destination", rec.Destination).
				Msg("failed to publish dead-letter record")
		}
	}
}

// List returns the stored records, oldest first.
func (s *Store) List() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Close closes the publisher, if any.
func (s *Store) Close() error {
	if s.pub != nil {
		return s.pub.Close()
	}
	return nil
}
