package models

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// EventType identifies the kind of internal occurrence an event describes.
type EventType string

const (
	TypeExecutionCompleted EventType = "execution_completed"
	TypePushDetected       EventType = "push_detected"
	TypeSignalGenerated    EventType = "signal_generated"
	TypeFormSubmitted      EventType = "form_submitted"
	TypeErrorRaised        EventType = "error_raised"
)

// Severity represents event severity levels.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Event is a single immutable record destined for one or more webhook
// destinations. Payload values are scalars only (strings, numbers,
// booleans); nothing downstream needs to walk nested structures.
type Event struct {
	// Unique identifier for the event
	ID string `json:"id"`

	// Kind of occurrence
	Type EventType `json:"event_type"`

	// Severity level
	Severity Severity `json:"severity"`

	// Flat field map; scalar values only
	Payload map[string]any `json:"payload"`

	// Timestamp when the event was created
	CreatedAt time.Time `json:"created_at"`

	// Derived from event type plus payload content, used to suppress
	// duplicate submissions inside the dedup window
	IdempotencyKey string `json:"idempotency_key"`
}

// Validation errors
var (
	ErrEmptyID         = errors.New("event ID cannot be empty")
	ErrInvalidType     = errors.New("invalid event type")
	ErrInvalidSeverity = errors.New("invalid severity level")
	ErrZeroCreatedAt   = errors.New("created_at cannot be zero")
	ErrNonScalarField  = errors.New("payload values must be strings, numbers, or booleans")
	ErrTooManyFields   = errors.New("too many payload fields")
)

const MaxPayloadFields = 64

// NewEvent builds an event with a generated ID, a UTC creation time,
// and a derived idempotency key. The payload map is copied so the
// caller cannot mutate the event afterwards.
func NewEvent(t EventType, sev Severity, payload map[string]any) *Event {
	copied := make(map[string]any, len(payload))
	for k, v := range payload {
		copied[k] = v
	}
	return &Event{
		ID:             uuid.New().String(),
		Type:           t,
		Severity:       sev,
		Payload:        copied,
		CreatedAt:      time.Now().UTC(),
		IdempotencyKey: IdempotencyKey(t, copied),
	}
}

// IdempotencyKey derives a stable key from the event type and payload
// content. Fields are folded in sorted order so two payloads with the
// same entries always hash identically.
func IdempotencyKey(t EventType, payload map[string]any) string {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	h.Write([]byte(t))
	for _, k := range keys {
		fmt.Fprintf(h, "|%s=%v", k, payload[k])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Validate checks the event has all required fields and valid values.
func (e *Event) Validate() error {
	if e.ID == "" {
		return ErrEmptyID
	}

	if !e.Type.IsValid() {
		return ErrInvalidType
	}

	if !e.Severity.IsValid() {
		return ErrInvalidSeverity
	}

	if e.CreatedAt.IsZero() {
		return ErrZeroCreatedAt
	}

	if len(e.Payload) > MaxPayloadFields {
		return ErrTooManyFields
	}

	for k, v := range e.Payload {
		switch v.(type) {
		case string, bool,
			int, int8, int16, int32, int64,
			uint, uint8, uint16, uint32, uint64,
			float32, float64:
		default:
			return fmt.Errorf("%w: field %q", ErrNonScalarField, k)
		}
	}

	return nil
}

// Clone returns a deep copy of the event. The redaction stage works on
// copies so the original submission is never mutated.
func (e *Event) Clone() *Event {
	payload := make(map[string]any, len(e.Payload))
	for k, v := range e.Payload {
		payload[k] = v
	}
	dup := *e
	dup.Payload = payload
	return &dup
}

// SizeEstimate is a rough byte count of the rendered payload, used for
// batch size accounting. It does not need to match the wire encoding
// exactly.
func (e *Event) SizeEstimate() int {
	n := len(e.ID) + len(e.Type) + len(e.Severity) + 32
	for k, v := range e.Payload {
		n += len(k) + len(fmt.Sprintf("%v", v)) + 6
	}
	return n
}

// IsValid checks if the event type is one of the enumerated kinds.
func (t EventType) IsValid() bool {
	switch t {
	case TypeExecutionCompleted, TypePushDetected, TypeSignalGenerated,
		TypeFormSubmitted, TypeErrorRaised:
		return true
	default:
		return false
	}
}

// IsValid checks if the severity level is valid.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	default:
		return false
	}
}

// RoutedEvent pairs an event with the routing decision for one
// destination. Escalate is set when the router marks the assignment as
// an escalated error alert.
type RoutedEvent struct {
	Event    *Event
	Escalate bool
}
