package deadletter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventrelay/internal/models"
)

type stubPublisher struct {
	mu   sync.Mutex
	recs []Record
	fail bool
}

func (p *stubPublisher) Publish(ctx context.Context, rec Record) error {
	if p.fail {
		return errors.New("broker unavailable")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recs = append(p.recs, rec)
	return nil
}

func (p *stubPublisher) Close() error { return nil }

func deadRecord(i int) Record {
	return Record{
		BatchID:     fmt.Sprintf("batch-%d", i),
		Destination: "test-dest",
		Events:      3,
		Attempts:    3,
		Reason:      "retry budget exhausted",
		FailedAt:    time.Now().UTC(),
	}
}

func TestStore_AddAndList(t *testing.T) {
	s := NewStore(10, nil)
	ctx := context.Background()

	s.Add(ctx, deadRecord(1))
	s.Add(ctx, deadRecord(2))

	recs := s.List()
	require.Len(t, recs, 2)
	assert.Equal(t, "batch-1", recs[0].BatchID, "oldest first")
	assert.Equal(t, "batch-2", recs[1].BatchID)
}

func TestStore_BoundedRing(t *testing.T) {
	s := NewStore(3, nil)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		s.Add(ctx, deadRecord(i))
	}

	recs := s.List()
	require.Len(t, recs, 3, "oldest records roll off")
	assert.Equal(t, "batch-3", recs[0].BatchID)
	assert.Equal(t, "batch-5", recs[2].BatchID)
}

func TestStore_ForwardsToPublisher(t *testing.T) {
	pub := &stubPublisher{}
	s := NewStore(10, pub)

	s.Add(context.Background(), deadRecord(1))

	require.Len(t, pub.recs, 1)
	assert.Equal(t, "batch-1", pub.recs[0].BatchID)
}

func TestStore_PublisherFailureKeepsRecord(t *testing.T) {
	pub := &stubPublisher{fail: true}
	s := NewStore(10, pub)

	s.Add(context.Background(), deadRecord(1))

	assert.Equal(t, 1, s.Len(), "in-memory record survives a publish failure")
}

func TestFromAttempt(t *testing.T) {
	b := models.NewBatch("test-dest")
	e := models.NewEvent(models.TypeErrorRaised, models.SeverityHigh, map[string]any{"code": 500})
	b.Append(models.RoutedEvent{Event: e})
	b.Seal()

	attempt := &models.DeliveryAttempt{
		BatchID:       b.ID,
		Destination:   "test-dest",
		AttemptNumber: 3,
		Outcome:       models.OutcomeTerminalFailure,
		HTTPStatus:    502,
		Err:           "retry budget exhausted",
	}

	rec := FromAttempt(b, attempt)
	assert.Equal(t, b.ID, rec.BatchID)
	assert.Equal(t, 1, rec.Events)
	assert.Equal(t, 3, rec.Attempts)
	assert.Equal(t, 502, rec.HTTPStatus)
	assert.Equal(t, []string{e.ID}, rec.EventIDs)
	assert.False(t, rec.FailedAt.IsZero())
}

func TestNewKafkaPublisher_Validation(t *testing.T) {
	_, err := NewKafkaPublisher(nil, "topic")
	assert.Error(t, err)

	_, err = NewKafkaPublisher([]string{"localhost:9092"}, "")
	assert.Error(t, err)

	p, err := NewKafkaPublisher([]string{"localhost:9092"}, "relay.deadletter")
	require.NoError(t, err)
	require.NoError(t, p.Close())

	err = p.Publish(context.Background(), deadRecord(1))
	assert.ErrorIs(t, err, ErrPublisherClosed)
}
