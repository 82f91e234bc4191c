package models

import (
	"time"

	"github.com/google/uuid"
)

// Batch is an ordered accumulation of events bound for one
// destination. A batch is owned by exactly one batcher until sealed,
// then handed verbatim to the sender.
type Batch struct {
	ID          string    `json:"batch_id"`
	Destination string    `json:"destination"`
	Events      []*Event  `json:"events"`
	OpenedAt    time.Time `json:"opened_at"`

	// Rough pre-compression byte size, updated on every append.
	ByteSizeEstimate int `json:"byte_size_estimate"`

	// Set when any routed event in the batch carried the escalation
	// flag. Surfaces on the wire envelope.
	Escalated bool `json:"escalated,omitempty"`

	sealed bool
}

// NewBatch opens a batch for a destination.
func NewBatch(destination string) *Batch {
	return &Batch{
		ID:          uuid.New().String(),
		Destination: destination,
		OpenedAt:    time.Now().UTC(),
	}
}

// Append adds an event in arrival order. Appending to a sealed batch
// is a programming error and is ignored.
func (b *Batch) Append(re RoutedEvent) {
	if b.sealed {
		return
	}
	b.Events = append(b.Events, re.Event)
	b.ByteSizeEstimate += re.Event.SizeEstimate()
	if re.Escalate {
		b.Escalated = true
	}
}

// Seal closes the batch to further inserts.
func (b *Batch) Seal() {
	b.sealed = true
}

// Sealed reports whether the batch has been handed to the sender.
func (b *Batch) Sealed() bool {
	return b.sealed
}

// Len returns the number of events in the batch.
func (b *Batch) Len() int {
	return len(b.Events)
}
