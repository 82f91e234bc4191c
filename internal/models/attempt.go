package models

import "time"

// Outcome classifies the result of one delivery attempt.
type Outcome string

const (
	OutcomeSuccess          Outcome = "success"
	OutcomeRetryableFailure Outcome = "retryable_failure"
	OutcomeTerminalFailure  Outcome = "terminal_failure"
)

// DeliveryAttempt records one try to send one sealed batch to one
// destination. Once the outcome is success or terminal_failure no
// further attempts are created for that batch.
type DeliveryAttempt struct {
	BatchID       string    `json:"batch_id"`
	Destination   string    `json:"destination"`
	AttemptNumber int       `json:"attempt_number"`
	StartedAt     time.Time `json:"started_at"`
	Outcome       Outcome   `json:"outcome"`

	// Zero when the attempt failed before an HTTP response.
	HTTPStatus int `json:"http_status,omitempty"`

	// Set only for retryable failures with retry budget remaining.
	NextRetryAt time.Time `json:"next_retry_at,omitempty"`

	Err string `json:"error,omitempty"`
}

// Final reports whether the attempt ended delivery for its batch.
func (a *DeliveryAttempt) Final() bool {
	return a.Outcome == OutcomeSuccess || a.Outcome == OutcomeTerminalFailure
}
