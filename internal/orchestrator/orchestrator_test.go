package orchestrator

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventrelay/internal/compress"
	"eventrelay/internal/config"
	"eventrelay/internal/models"
	"eventrelay/internal/sender"
)

func testConfig(destinations ...models.Destination) *config.Config {
	cfg := &config.Config{
		Intake: config.IntakeConfig{
			QueueSize:   100,
			DestQueue:   64,
			DedupWindow: time.Minute,
		},
		Redaction: config.RedactionConfig{
			MaxFieldLen:  256,
			LongFieldLen: 512,
			LongFields:   []string{"description"},
		},
		DeadLetter:   config.DeadLetterConfig{MaxRecords: 100},
		DrainTimeout: 5 * time.Second,
		Destinations: destinations,
	}
	if len(destinations) > 0 {
		cfg.Routing.General = destinations[0].Name
		cfg.Routing.ErrorAlert = destinations[len(destinations)-1].Name
	}
	return cfg
}

func testDest(name, url string) models.Destination {
	return models.Destination{
		Name:         name,
		TransportURL: url,
		RateLimit:    models.RateLimit{Events: 10000, Per: time.Minute},
		MaxBatchSize: 10,
		BatchTimeout: 100 * time.Millisecond,
		Retry: models.RetryPolicy{
			MaxAttempts: 3,
			BaseDelay:   10 * time.Millisecond,
			MaxDelay:    time.Second,
			Multiplier:  2,
		},
	}
}

// capture records delivered envelopes for one httptest destination.
type capture struct {
	mu        sync.Mutex
	envelopes []sender.Envelope
}

func (c *capture) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if r.Header.Get("Content-Encoding") == compress.Encoding {
			var err error
			body, err = compress.Decompress(body)
			if err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
		}
		var env sender.Envelope
		if err := json.Unmarshal(body, &env); err == nil {
			c.mu.Lock()
			c.envelopes = append(c.envelopes, env)
			c.mu.Unlock()
		}
		w.WriteHeader(http.StatusOK)
	}
}

func (c *capture) events() []sender.WireEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []sender.WireEvent
	for _, env := range c.envelopes {
		out = append(out, env.Events...)
	}
	return out
}

func submitEvent(t *testing.T, o *Orchestrator, typ models.EventType, sev models.Severity, payload map[string]any) *models.Event {
	t.Helper()
	e := models.NewEvent(typ, sev, payload)
	require.NoError(t, o.Submit(e))
	return e
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestSubmit_Backpressure(t *testing.T) {
	// Not started: nothing consumes the intake queue.
	cfg := testConfig(testDest("only", "https://example.com/hook"))
	o, err := New(cfg)
	require.NoError(t, err)

	accepted, pressured := 0, 0
	for i := 0; i < 150; i++ {
		e := models.NewEvent(models.TypeFormSubmitted, models.SeverityLow, map[string]any{"i": i})
		switch submitErr := o.Submit(e); submitErr {
		case nil:
			accepted++
		case ErrBackpressure:
			pressured++
		default:
			t.Fatalf("unexpected error: %v", submitErr)
		}
	}

	assert.Equal(t, 100, accepted, "queue capacity accepted")
	assert.Equal(t, 50, pressured, "overflow rejected immediately")
}

func TestSubmit_RejectedDuringDrain(t *testing.T) {
	cfg := testConfig(testDest("only", "https://example.com/hook"))
	o, err := New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, o.Shutdown(ctx))

	e := models.NewEvent(models.TypeFormSubmitted, models.SeverityLow, map[string]any{})
	assert.ErrorIs(t, o.Submit(e), ErrShuttingDown)
}

func TestPipeline_EndToEnd(t *testing.T) {
	sink := &capture{}
	srv := httptest.NewServer(sink.handler())
	defer srv.Close()

	cfg := testConfig(testDest("general", srv.URL))
	o, err := New(cfg)
	require.NoError(t, err)
	o.Start()

	e := submitEvent(t, o, models.TypeFormSubmitted, models.SeverityLow, map[string]any{"form": "contact"})

	waitFor(t, func() bool { return len(sink.events()) == 1 }, "event not delivered")
	got := sink.events()[0]
	assert.Equal(t, e.ID, got.ID)
	assert.Equal(t, "form_submitted", got.EventType)

	snap := o.Collector().Snapshot()
	assert.Equal(t, uint64(1), snap.EventsProcessed)
	assert.Equal(t, uint64(1), snap.BatchesSent)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, o.Shutdown(ctx))
}

func TestPipeline_CriticalFansOutToAllDestinations(t *testing.T) {
	capA, capB := &capture{}, &capture{}
	srvA := httptest.NewServer(capA.handler())
	defer srvA.Close()
	srvB := httptest.NewServer(capB.handler())
	defer srvB.Close()

	cfg := testConfig(testDest("general", srvA.URL), testDest("error-alerts", srvB.URL))
	o, err := New(cfg)
	require.NoError(t, err)
	o.Start()
	defer shutdown(t, o)

	submitEvent(t, o, models.TypeErrorRaised, models.SeverityCritical, map[string]any{"code": 500})

	waitFor(t, func() bool {
		return len(capA.events()) == 1 && len(capB.events()) == 1
	}, "critical event must reach every destination")

	// The error-alert destination sees the escalation flag.
	capB.mu.Lock()
	escalated := capB.envelopes[0].Escalated
	capB.mu.Unlock()
	assert.True(t, escalated)
}

func TestPipeline_RedactsBeforeDelivery(t *testing.T) {
	sink := &capture{}
	srv := httptest.NewServer(sink.handler())
	defer srv.Close()

	cfg := testConfig(testDest("general", srv.URL))
	o, err := New(cfg)
	require.NoError(t, err)
	o.Start()
	defer shutdown(t, o)

	long := make([]byte, 2000)
	for i := range long {
		long[i] = 'd'
	}
	submitEvent(t, o, models.TypeFormSubmitted, models.SeverityLow, map[string]any{"description": string(long)})

	waitFor(t, func() bool { return len(sink.events()) == 1 }, "event not delivered")

	desc := sink.events()[0].Payload["description"].(string)
	assert.Len(t, desc, 512, "long field truncated to its limit on the wire")
}

func TestPipeline_DeduplicatesWithinWindow(t *testing.T) {
	sink := &capture{}
	srv := httptest.NewServer(sink.handler())
	defer srv.Close()

	cfg := testConfig(testDest("general", srv.URL))
	o, err := New(cfg)
	require.NoError(t, err)
	o.Start()
	defer shutdown(t, o)

	payload := map[string]any{"task": "same"}
	submitEvent(t, o, models.TypeExecutionCompleted, models.SeverityLow, payload)
	submitEvent(t, o, models.TypeExecutionCompleted, models.SeverityLow, payload)

	waitFor(t, func() bool { return len(sink.events()) >= 1 }, "event not delivered")
	time.Sleep(300 * time.Millisecond)

	assert.Len(t, sink.events(), 1, "duplicate idempotency key delivers once")
	assert.Equal(t, uint64(1), o.Collector().Snapshot().EventsDeduplicated)
}

func TestPipeline_UnroutableCounted(t *testing.T) {
	cfg := testConfig(testDest("general", "https://example.com/hook"))
	cfg.Routing.General = ""
	cfg.Routing.ErrorAlert = ""

	o, err := New(cfg)
	require.NoError(t, err)
	o.Start()
	defer shutdown(t, o)

	submitEvent(t, o, models.TypeFormSubmitted, models.SeverityLow, map[string]any{})

	waitFor(t, func() bool {
		return o.Collector().Snapshot().EventsUnroutable == 1
	}, "unroutable event must be counted")
}

func TestPipeline_TerminalFailureDeadLetters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	cfg := testConfig(testDest("general", srv.URL))
	o, err := New(cfg)
	require.NoError(t, err)
	o.Start()
	defer shutdown(t, o)

	submitEvent(t, o, models.TypeFormSubmitted, models.SeverityLow, map[string]any{"x": 1})

	waitFor(t, func() bool { return o.DeadLetters().Len() == 1 }, "rejected batch must be dead-lettered")

	recs := o.DeadLetters().List()
	assert.Equal(t, "general", recs[0].Destination)
	assert.Equal(t, 1, recs[0].Events)
	assert.Equal(t, http.StatusBadRequest, recs[0].HTTPStatus)

	snap := o.Collector().Snapshot()
	assert.Equal(t, uint64(1), snap.EventsFailed)
	assert.Equal(t, uint64(1), snap.Destinations["general"].DeadBatches)
	assert.GreaterOrEqual(t, snap.Destinations["general"].ConsecutiveFailures, int64(1))
}

func TestPipeline_ShutdownDrainsAccumulatingBatch(t *testing.T) {
	sink := &capture{}
	srv := httptest.NewServer(sink.handler())
	defer srv.Close()

	d := testDest("general", srv.URL)
	d.BatchTimeout = time.Minute // a timer flush will not happen in time
	cfg := testConfig(d)

	o, err := New(cfg)
	require.NoError(t, err)
	o.Start()

	submitEvent(t, o, models.TypeFormSubmitted, models.SeverityLow, map[string]any{"x": 1})
	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, o.Shutdown(ctx))

	assert.Len(t, sink.events(), 1, "accumulating batch force-sealed and delivered on drain")
}

func TestPipeline_SlowDestinationDoesNotStarveOthers(t *testing.T) {
	fast := &capture{}
	fastSrv := httptest.NewServer(fast.handler())
	defer fastSrv.Close()

	slowSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer slowSrv.Close()

	slow := testDest("error-alerts", slowSrv.URL)
	cfg := testConfig(testDest("general", fastSrv.URL), slow)

	o, err := New(cfg)
	require.NoError(t, err)
	o.Start()
	defer shutdown(t, o)

	// general gets form events; error-alerts gets error events.
	submitEvent(t, o, models.TypeErrorRaised, models.SeverityLow, map[string]any{"code": 500})
	start := time.Now()
	submitEvent(t, o, models.TypeFormSubmitted, models.SeverityLow, map[string]any{"x": 1})

	waitFor(t, func() bool { return len(fast.events()) == 1 }, "fast destination blocked by slow one")
	assert.Less(t, time.Since(start), 450*time.Millisecond,
		"fast delivery completed while the slow destination was still busy")
}

func shutdown(t *testing.T, o *Orchestrator) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, o.Shutdown(ctx))
}
