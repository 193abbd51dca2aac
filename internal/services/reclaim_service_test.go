package services

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/GoDuraStore/go-dura-store/models"
)

func seedExpired(t *testing.T, repo *fakeRecordRepo, identity string, n int, expiredAt time.Time) {
	t.Helper()
	for i := 0; i < n; i++ {
		created := expiredAt.Add(-time.Hour - time.Duration(n-i)*time.Second)
		err := repo.Upsert(context.Background(), &models.Record{
			Identity:       identity,
			Key:            fmt.Sprintf("expired-%04d", i),
			Value:          []byte("v"),
			TTLMs:          time.Hour.Milliseconds(),
			CreatedAt:      created,
			ExpiresAt:      created.Add(time.Hour),
			LastAccessedAt: created,
		})
		assert.NoError(t, err)
	}
}

func reclaimConfig(batchSize int) models.ReclaimConfig {
	return models.ReclaimConfig{
		BatchSize:    batchSize,
		SoonInterval: time.Second,
		IdleInterval: time.Hour,
		RetryBackoff: 5 * time.Minute,
	}
}

func TestReclaimService_NothingToDo(t *testing.T) {
	records := newFakeRecordRepo()
	events := &fakeRateEventRepo{}
	svc := NewReclaimService(records, events, nil, reclaimConfig(400), 32, nil, testLogger())

	outcome, err := svc.Run(context.Background(), "tenant-1", time.Now().UTC(), 1)
	assert.NoError(t, err)
	assert.Equal(t, 0, outcome.Deleted)
	assert.False(t, outcome.BacklogLeft)
}

func TestReclaimService_DeletesExpiredKeepsLive(t *testing.T) {
	records := newFakeRecordRepo()
	events := &fakeRateEventRepo{}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	seedExpired(t, records, "tenant-1", 5, now)
	err := records.Upsert(context.Background(), &models.Record{
		Identity:       "tenant-1",
		Key:            "live",
		Value:          []byte("v"),
		TTLMs:          time.Hour.Milliseconds(),
		CreatedAt:      now,
		ExpiresAt:      now.Add(time.Hour),
		LastAccessedAt: now,
	})
	assert.NoError(t, err)

	svc := NewReclaimService(records, events, nil, reclaimConfig(400), 32, nil, testLogger())

	outcome, err := svc.Run(context.Background(), "tenant-1", now, 1)
	assert.NoError(t, err)
	assert.Equal(t, 5, outcome.Deleted)
	assert.False(t, outcome.BacklogLeft)
	assert.Equal(t, []string{"live"}, records.keys("tenant-1"))
}

// A backlog bigger than one batch is worked down across successive runs,
// oldest expiry first, each run reporting that more work remains until the
// final one drains it.
func TestReclaimService_BoundedBatchesDrainBacklog(t *testing.T) {
	records := newFakeRecordRepo()
	events := &fakeRateEventRepo{}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	seedExpired(t, records, "tenant-1", 1000, now)

	svc := NewReclaimService(records, events, nil, reclaimConfig(400), 32, nil, testLogger())

	outcome, err := svc.Run(context.Background(), "tenant-1", now, 1)
	assert.NoError(t, err)
	assert.Equal(t, 400, outcome.Deleted)
	assert.True(t, outcome.BacklogLeft)

	outcome, err = svc.Run(context.Background(), "tenant-1", now, 1)
	assert.NoError(t, err)
	assert.Equal(t, 400, outcome.Deleted)
	assert.True(t, outcome.BacklogLeft)

	outcome, err = svc.Run(context.Background(), "tenant-1", now, 1)
	assert.NoError(t, err)
	assert.Equal(t, 200, outcome.Deleted)
	assert.False(t, outcome.BacklogLeft)

	assert.Empty(t, records.keys("tenant-1"))
}

func TestReclaimService_ArchivesBeforeDeleting(t *testing.T) {
	records := newFakeRecordRepo()
	events := &fakeRateEventRepo{}
	sink := &fakeSink{}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	seedExpired(t, records, "tenant-1", 3, now)

	svc := NewReclaimService(records, events, sink, reclaimConfig(400), 32, nil, testLogger())

	outcome, err := svc.Run(context.Background(), "tenant-1", now, 1)
	assert.NoError(t, err)
	assert.Equal(t, 3, outcome.Deleted)
	assert.Equal(t, 3, outcome.Archived)
	assert.NotEmpty(t, outcome.BatchID)

	assert.Len(t, sink.batches, 1)
	assert.Equal(t, outcome.BatchID, sink.batches[0].BatchID)
	assert.Len(t, sink.batches[0].Records, 3)
}

// When the sink fails nothing may be deleted; the pass is abandoned and the
// same records are re-selected on the next run.
func TestReclaimService_SinkFailureAbortsWithoutDeleting(t *testing.T) {
	records := newFakeRecordRepo()
	events := &fakeRateEventRepo{}
	sink := &fakeSink{failErr: fmt.Errorf("cold storage down")}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	seedExpired(t, records, "tenant-1", 3, now)

	svc := NewReclaimService(records, events, sink, reclaimConfig(400), 32, nil, testLogger())

	_, err := svc.Run(context.Background(), "tenant-1", now, 1)
	assert.ErrorIs(t, err, models.ErrArchiveSink)
	assert.Len(t, records.keys("tenant-1"), 3)

	// Sink recovered: the retry archives and deletes the same batch.
	sink.failErr = nil
	outcome, err := svc.Run(context.Background(), "tenant-1", now, 1)
	assert.NoError(t, err)
	assert.Equal(t, 3, outcome.Deleted)
	assert.Equal(t, 3, outcome.Archived)
	assert.Empty(t, records.keys("tenant-1"))
}

func TestReclaimService_BatchIDDeterministicPerRun(t *testing.T) {
	records := newFakeRecordRepo()
	events := &fakeRateEventRepo{}
	svc := NewReclaimService(records, events, nil, reclaimConfig(400), 32, nil, testLogger())

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	first := svc.batchID("tenant-1", now)
	second := svc.batchID("tenant-1", now)
	assert.Equal(t, first, second)

	// Different run timestamp, different id.
	assert.NotEqual(t, first, svc.batchID("tenant-1", now.Add(time.Millisecond)))
}

func TestReclaimService_ReclaimsStaleRateEvents(t *testing.T) {
	records := newFakeRecordRepo()
	events := &fakeRateEventRepo{}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	stale := now.Add(-2 * time.Minute)
	events.events = append(events.events,
		models.RateWindowEvent{Identity: "tenant-1", ClientID: "a", Timestamp: stale, WindowMs: 60000, ExpiresAt: stale.Add(time.Minute)},
		models.RateWindowEvent{Identity: "tenant-1", ClientID: "b", Timestamp: stale, WindowMs: 60000, ExpiresAt: stale.Add(time.Minute)},
		models.RateWindowEvent{Identity: "tenant-1", ClientID: "a", Timestamp: now, WindowMs: 60000, ExpiresAt: now.Add(time.Minute)},
	)

	svc := NewReclaimService(records, events, nil, reclaimConfig(400), 32, nil, testLogger())

	outcome, err := svc.Run(context.Background(), "tenant-1", now, 1)
	assert.NoError(t, err)
	assert.Equal(t, 2, outcome.StaleEvents)
	assert.False(t, outcome.BacklogLeft)
	assert.Len(t, events.events, 1)
}

func TestReclaimService_FailureEmitsEventWithAttemptCount(t *testing.T) {
	records := newFakeRecordRepo()
	records.failOn = "count_expired"
	events := &fakeRateEventRepo{}
	bus := newFakeEventBus()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	svc := NewReclaimService(records, events, nil, reclaimConfig(400), 32, bus, testLogger())

	_, err := svc.Run(context.Background(), "tenant-1", now, 3)
	assert.ErrorIs(t, err, models.ErrTransientStorage)

	select {
	case event := <-bus.published:
		assert.Equal(t, "reclamation.failed", event.Type)
		var payload models.ReclamationFailedPayload
		assert.NoError(t, json.Unmarshal(event.Payload, &payload))
		assert.Equal(t, "tenant-1", payload.Identity)
		assert.Equal(t, int64(3), payload.Attempts)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for failure event")
	}
}

// The batch budget spans both phases of a pass: records deleted first,
// stale rate events only with whatever budget remains, so one wake never
// deletes more than BatchSize rows in total.
func TestReclaimService_BatchBudgetSharedWithRateEvents(t *testing.T) {
	records := newFakeRecordRepo()
	events := &fakeRateEventRepo{}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	seedExpired(t, records, "tenant-1", 5, now)
	stale := now.Add(-2 * time.Minute)
	for i := 0; i < 3; i++ {
		events.events = append(events.events, models.RateWindowEvent{
			Identity:  "tenant-1",
			ClientID:  "a",
			Timestamp: stale,
			WindowMs:  60000,
			ExpiresAt: stale.Add(time.Minute),
		})
	}

	svc := NewReclaimService(records, events, nil, reclaimConfig(5), 32, nil, testLogger())

	// Records consume the whole budget; the stale events wait their turn.
	outcome, err := svc.Run(context.Background(), "tenant-1", now, 1)
	assert.NoError(t, err)
	assert.Equal(t, 5, outcome.Deleted)
	assert.Equal(t, 0, outcome.StaleEvents)
	assert.True(t, outcome.BacklogLeft)
	assert.Len(t, events.events, 3)

	outcome, err = svc.Run(context.Background(), "tenant-1", now, 1)
	assert.NoError(t, err)
	assert.Equal(t, 0, outcome.Deleted)
	assert.Equal(t, 3, outcome.StaleEvents)
	assert.False(t, outcome.BacklogLeft)
	assert.Empty(t, events.events)
}

func TestReclaimService_SuccessEmitsCompletionEvent(t *testing.T) {
	records := newFakeRecordRepo()
	events := &fakeRateEventRepo{}
	bus := newFakeEventBus()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	seedExpired(t, records, "tenant-1", 2, now)

	svc := NewReclaimService(records, events, nil, reclaimConfig(400), 32, bus, testLogger())

	_, err := svc.Run(context.Background(), "tenant-1", now, 1)
	assert.NoError(t, err)

	select {
	case event := <-bus.published:
		assert.Equal(t, "reclamation.completed", event.Type)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for completion event")
	}
}
