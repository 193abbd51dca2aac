package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/GoDuraStore/go-dura-store/models"
)

func testLogger() models.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeRecordRepo is an in-memory RecordRepository keyed exactly like the
// real table: (identity, key).
type fakeRecordRepo struct {
	mu      sync.Mutex
	rows    map[string]map[string]models.Record
	failOn  string
	touches []string
}

func newFakeRecordRepo() *fakeRecordRepo {
	return &fakeRecordRepo{rows: make(map[string]map[string]models.Record)}
}

func (f *fakeRecordRepo) fail(op string) error {
	if f.failOn == op {
		return fmt.Errorf("injected %s failure", op)
	}
	return nil
}

func (f *fakeRecordRepo) GetByKey(_ context.Context, identity, key string) (*models.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("get"); err != nil {
		return nil, err
	}
	row, ok := f.rows[identity][key]
	if !ok {
		return nil, nil
	}
	copied := row
	return &copied, nil
}

func (f *fakeRecordRepo) Upsert(_ context.Context, record *models.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("upsert"); err != nil {
		return err
	}
	if f.rows[record.Identity] == nil {
		f.rows[record.Identity] = make(map[string]models.Record)
	}
	f.rows[record.Identity][record.Key] = *record
	return nil
}

func (f *fakeRecordRepo) Touch(_ context.Context, identity, key string, accessedAt time.Time, newExpiresAt *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("touch"); err != nil {
		return err
	}
	row, ok := f.rows[identity][key]
	if !ok {
		return nil
	}
	row.LastAccessedAt = accessedAt
	row.AccessCount++
	if newExpiresAt != nil {
		row.ExpiresAt = *newExpiresAt
	}
	f.rows[identity][key] = row
	f.touches = append(f.touches, key)
	return nil
}

func (f *fakeRecordRepo) Delete(_ context.Context, identity, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("delete"); err != nil {
		return err
	}
	delete(f.rows[identity], key)
	return nil
}

func (f *fakeRecordRepo) DeleteKeys(_ context.Context, identity string, keys []string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("delete_keys"); err != nil {
		return 0, err
	}
	deleted := 0
	for _, key := range keys {
		if _, ok := f.rows[identity][key]; ok {
			delete(f.rows[identity], key)
			deleted++
		}
	}
	return deleted, nil
}

func (f *fakeRecordRepo) Count(_ context.Context, identity string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("count"); err != nil {
		return 0, err
	}
	return len(f.rows[identity]), nil
}

func (f *fakeRecordRepo) CountExpired(_ context.Context, identity string, now time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("count_expired"); err != nil {
		return 0, err
	}
	count := 0
	for _, row := range f.rows[identity] {
		if row.Expired(now) {
			count++
		}
	}
	return count, nil
}

func (f *fakeRecordRepo) SelectExpired(_ context.Context, identity string, now time.Time, limit int) ([]models.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("select_expired"); err != nil {
		return nil, err
	}
	var expired []models.Record
	for _, row := range f.rows[identity] {
		if row.Expired(now) {
			expired = append(expired, row)
		}
	}
	sort.Slice(expired, func(i, j int) bool {
		return expired[i].ExpiresAt.Before(expired[j].ExpiresAt)
	})
	if len(expired) > limit {
		expired = expired[:limit]
	}
	return expired, nil
}

func (f *fakeRecordRepo) SelectEvictionVictims(_ context.Context, identity string, limit int) ([]models.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("select_victims"); err != nil {
		return nil, err
	}
	var victims []models.Record
	for _, row := range f.rows[identity] {
		victims = append(victims, row)
	}
	sort.Slice(victims, func(i, j int) bool {
		if !victims[i].LastAccessedAt.Equal(victims[j].LastAccessedAt) {
			return victims[i].LastAccessedAt.Before(victims[j].LastAccessedAt)
		}
		return victims[i].CreatedAt.Before(victims[j].CreatedAt)
	})
	if len(victims) > limit {
		victims = victims[:limit]
	}
	return victims, nil
}

func (f *fakeRecordRepo) keys(identity string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for key := range f.rows[identity] {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// fakeRateEventRepo is an in-memory RateEventRepository.
type fakeRateEventRepo struct {
	mu      sync.Mutex
	events  []models.RateWindowEvent
	failOn  string
	inserts int
}

func (f *fakeRateEventRepo) fail(op string) error {
	if f.failOn == op {
		return fmt.Errorf("injected %s failure", op)
	}
	return nil
}

func (f *fakeRateEventRepo) Insert(_ context.Context, event *models.RateWindowEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("insert"); err != nil {
		return err
	}
	f.inserts++
	f.events = append(f.events, *event)
	return nil
}

func (f *fakeRateEventRepo) CountSince(_ context.Context, identity, clientID string, since time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("count_since"); err != nil {
		return 0, err
	}
	count := 0
	for _, e := range f.events {
		if e.Identity == identity && e.ClientID == clientID && e.Timestamp.After(since) {
			count++
		}
	}
	return count, nil
}

func (f *fakeRateEventRepo) OldestSince(_ context.Context, identity, clientID string, since time.Time) (*models.RateWindowEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var oldest *models.RateWindowEvent
	for i := range f.events {
		e := f.events[i]
		if e.Identity != identity || e.ClientID != clientID || !e.Timestamp.After(since) {
			continue
		}
		if oldest == nil || e.Timestamp.Before(oldest.Timestamp) {
			copied := e
			oldest = &copied
		}
	}
	return oldest, nil
}

func (f *fakeRateEventRepo) CountStale(_ context.Context, identity string, now time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("count_stale"); err != nil {
		return 0, err
	}
	count := 0
	for _, e := range f.events {
		if e.Identity == identity && !now.Before(e.ExpiresAt) {
			count++
		}
	}
	return count, nil
}

func (f *fakeRateEventRepo) DeleteStale(_ context.Context, identity string, now time.Time, limit int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("delete_stale"); err != nil {
		return 0, err
	}
	var stale []int
	for i, e := range f.events {
		if e.Identity == identity && !now.Before(e.ExpiresAt) {
			stale = append(stale, i)
		}
	}
	sort.Slice(stale, func(i, j int) bool {
		return f.events[stale[i]].ExpiresAt.Before(f.events[stale[j]].ExpiresAt)
	})
	if len(stale) > limit {
		stale = stale[:limit]
	}
	remove := make(map[int]bool, len(stale))
	for _, i := range stale {
		remove[i] = true
	}
	kept := f.events[:0]
	for i := range f.events {
		if !remove[i] {
			kept = append(kept, f.events[i])
		}
	}
	deleted := len(f.events) - len(kept)
	f.events = kept
	return deleted, nil
}

// fakeSink records archived batches; optionally fails.
type fakeSink struct {
	mu      sync.Mutex
	batches []models.ArchiveBatch
	failErr error
}

func (f *fakeSink) Archive(_ context.Context, batch *models.ArchiveBatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return f.failErr
	}
	f.batches = append(f.batches, *batch)
	return nil
}

func (f *fakeSink) Close() error { return nil }

// fakeEventBus captures published events on a channel so tests can wait for
// the async publish without sleeping.
type fakeEventBus struct {
	published chan models.Event
}

func newFakeEventBus() *fakeEventBus {
	return &fakeEventBus{published: make(chan models.Event, 16)}
}

func (f *fakeEventBus) Publish(_ context.Context, event models.Event) error {
	f.published <- event
	return nil
}

func (f *fakeEventBus) Subscribe(string, models.EventHandler) (models.SubscriptionID, error) {
	return 0, nil
}

func (f *fakeEventBus) Unsubscribe(string, models.SubscriptionID) {}

func (f *fakeEventBus) Close() error { return nil }
