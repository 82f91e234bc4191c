package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"eventrelay/internal/models"
	"eventrelay/internal/orchestrator"
)

var errInvalidTimestamp = errors.New("invalid timestamp format, expected RFC3339")

// EventsHandler accepts producer submissions over HTTP and maps submit
// outcomes onto status codes: 202 accepted, 429 backpressure, 503
// shutting down.
type EventsHandler struct {
	orch *orchestrator.Orchestrator

	// Max request body size (default 1MB)
	maxBodySize int64
}

// NewEventsHandler creates the producer-facing handler.
func NewEventsHandler(orch *orchestrator.Orchestrator, maxBodySize int64) *EventsHandler {
	if maxBodySize <= 0 {
		maxBodySize = 1 << 20
	}
	return &EventsHandler{orch: orch, maxBodySize: maxBodySize}
}

// SubmitRequest is the incoming JSON payload (single or batch).
type SubmitRequest struct {
	Event  *EventInput  `json:"event,omitempty"`
	Events []EventInput `json:"events,omitempty"`
}

// EventInput is the producer-facing event format. Timestamp is
// optional; submission time is used when absent.
type EventInput struct {
	EventType string         `json:"event_type"`
	Severity  string         `json:"severity"`
	Payload   map[string]any `json:"payload"`
	Timestamp string         `json:"timestamp,omitempty"`
}

// SubmitResponse reports per-event results.
type SubmitResponse struct {
	Accepted int           `json:"accepted"`
	Rejected int           `json:"rejected"`
	Errors   []SubmitError `json:"errors,omitempty"`
}

// SubmitError describes a rejection for a specific event.
type SubmitError struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// ServeHTTP handles POST /v1/events.
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	contentType := r.Header.Get("Content-Type")
	if contentType != "" && !strings.HasPrefix(contentType, "application/json") {
		writeError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	inputs, err := parseBody(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(inputs) == 0 {
		writeError(w, http.StatusBadRequest, "no events provided")
		return
	}

	resp := SubmitResponse{}
	status := http.StatusAccepted

	for i, in := range inputs {
		e, buildErr := buildEvent(in)
		if buildErr != nil {
			resp.Rejected++
			resp.Errors = append(resp.Errors, SubmitError{Index: i, Error: buildErr.Error()})
			continue
		}

		switch submitErr := h.orch.Submit(e); {
		case submitErr == nil:
			resp.Accepted++
		case errors.Is(submitErr, orchestrator.ErrBackpressure):
			resp.Rejected++
			resp.Errors = append(resp.Errors, SubmitError{Index: i, Error: "backpressure"})
			status = http.StatusTooManyRequests
		case errors.Is(submitErr, orchestrator.ErrShuttingDown):
			resp.Rejected++
			resp.Errors = append(resp.Errors, SubmitError{Index: i, Error: "shutting_down"})
			status = http.StatusServiceUnavailable
		default:
			resp.Rejected++
			resp.Errors = append(resp.Errors, SubmitError{Index: i, Error: submitErr.Error()})
		}
	}

	if resp.Accepted == 0 && status == http.StatusAccepted {
		status = http.StatusBadRequest
	}
	if status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", "1")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

func parseBody(body []byte) ([]EventInput, error) {
	var req SubmitRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, errors.New("invalid JSON payload")
	}

	if req.Event != nil {
		return []EventInput{*req.Event}, nil
	}
	return req.Events, nil
}

func buildEvent(in EventInput) (*models.Event, error) {
	e := models.NewEvent(models.EventType(in.EventType), models.Severity(in.Severity), in.Payload)

	if in.Timestamp != "" {
		ts, err := time.Parse(time.RFC3339, in.Timestamp)
		if err != nil {
			return nil, errInvalidTimestamp
		}
		e.CreatedAt = ts.UTC()
	}

	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
