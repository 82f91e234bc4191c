package handlers

import (
	"encoding/json"
	"net/http"

	"eventrelay/internal/deadletter"
	"eventrelay/internal/metrics"
)

// SnapshotHandler serves the collector's point-in-time counters as
// JSON for external polling.
func SnapshotHandler(col *metrics.Collector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(col.Snapshot())
	}
}

// DeadLetterHandler lists dead-batch records for manual inspection.
func DeadLetterHandler(store *deadletter.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(struct {
			Records []deadletter.Record `json:"records"`
		}{Records: store.List()})
	}
}

// HealthHandler reports liveness.
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}
