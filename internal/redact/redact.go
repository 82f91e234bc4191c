package redact

import (
	"fmt"

	"eventrelay/internal/models"
)

// Default field length limits. Long fields are free-text descriptions
// that tolerate a higher bound.
const (
	DefaultMaxFieldLen = 256
	DefaultLongFieldLen = 512
)

// Redactor enforces per-field length limits on event payloads before
// anything downstream sees them. It never fails: non-string values and
// unknown fields pass through unchanged.
type Redactor struct {
	maxLen     int
	longLen    int
	longFields map[string]bool
}

// Config holds redactor limits.
type Config struct {
	MaxFieldLen  int
	LongFieldLen int
	LongFields   []string
}

// New creates a Redactor. Zero limits fall back to the defaults.
func New(cfg Config) *Redactor {
	if cfg.MaxFieldLen <= 0 {
		cfg.MaxFieldLen = DefaultMaxFieldLen
	}
	if cfg.LongFieldLen <= 0 {
		cfg.LongFieldLen = DefaultLongFieldLen
	}

	long := make(map[string]bool, len(cfg.LongFields))
	for _, f := range cfg.LongFields {
		long[f] = true
	}

	return &Redactor{
		maxLen:     cfg.MaxFieldLen,
		longLen:    cfg.LongFieldLen,
		longFields: long,
	}
}

// Redact returns a copy of the event with over-length string fields
// truncated. The input event is never mutated.
func (r *Redactor) Redact(e *models.Event) *models.Event {
	out := e.Clone()
	for k, v := range out.Payload {
		s, ok := v.(string)
		if !ok {
			continue
		}

		limit := r.maxLen
		if r.longFields[k] {
			limit = r.longLen
		}

		if len(s) > limit {
			out.Payload[k] = Truncate(s, limit)
		}
	}
	return out
}

// Truncate shortens s to exactly limit bytes, ending with an explicit
// marker carrying the omitted byte count so consumers can detect loss.
func Truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}

	// The marker length depends on the digit count of the omitted
	// total, which depends on the marker length. One extra pass
	// settles it.
	omitted := len(s) - limit
	for i := 0; i < 2; i++ {
		marker := fmt.Sprintf("…(+%d bytes)", omitted)
		keep := limit - len(marker)
		if keep < 0 {
			keep = 0
			marker = marker[:limit]
		}
		if len(s)-keep == omitted || keep == 0 {
			return s[:keep] + marker
		}
		omitted = len(s) - keep
	}

	marker := fmt.Sprintf("…(+%d bytes)", omitted)
	keep := limit - len(marker)
	return s[:keep] + marker
}
