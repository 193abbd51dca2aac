package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/GoDuraStore/go-dura-store/models"
)

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func TestRecordService_PutAppliesDefaultTTL(t *testing.T) {
	repo := newFakeRecordRepo()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := NewRecordService(repo, models.StoreConfig{
		ExpiryMode: models.ExpiryModeFixed,
		DefaultTTL: time.Hour,
	}, testLogger()).WithClock(fixedClock(base))

	err := svc.Put(context.Background(), "tenant-1", "session", []byte("v"), 0)
	assert.NoError(t, err)

	row, err := repo.GetByKey(context.Background(), "tenant-1", "session")
	assert.NoError(t, err)
	assert.NotNil(t, row)
	assert.Equal(t, base.Add(time.Hour), row.ExpiresAt)
	assert.Equal(t, time.Hour.Milliseconds(), row.TTLMs)
}

func TestRecordService_PutRejectsEmptyKey(t *testing.T) {
	svc := NewRecordService(newFakeRecordRepo(), models.StoreConfig{DefaultTTL: time.Hour}, testLogger())

	err := svc.Put(context.Background(), "tenant-1", "", []byte("v"), time.Minute)
	assert.Error(t, err)
}

func TestRecordService_PutOverwritesExisting(t *testing.T) {
	repo := newFakeRecordRepo()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := NewRecordService(repo, models.StoreConfig{DefaultTTL: time.Hour}, testLogger()).
		WithClock(fixedClock(base))

	assert.NoError(t, svc.Put(context.Background(), "tenant-1", "k", []byte("old"), time.Minute))
	assert.NoError(t, svc.Put(context.Background(), "tenant-1", "k", []byte("new"), 2*time.Minute))

	value, found, err := svc.Get(context.Background(), "tenant-1", "k")
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("new"), value)

	count, err := repo.Count(context.Background(), "tenant-1")
	assert.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRecordService_GetMiss(t *testing.T) {
	svc := NewRecordService(newFakeRecordRepo(), models.StoreConfig{DefaultTTL: time.Hour}, testLogger())

	value, found, err := svc.Get(context.Background(), "tenant-1", "nope")
	assert.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, value)
}

// A record whose expiry passed must read as absent even while its row still
// exists, regardless of whether the reclaimer has run.
func TestRecordService_GetExpiredReadsAsAbsent(t *testing.T) {
	repo := newFakeRecordRepo()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	svc := NewRecordService(repo, models.StoreConfig{
		ExpiryMode: models.ExpiryModeFixed,
		DefaultTTL: time.Hour,
	}, testLogger()).WithClock(func() time.Time { return now })

	assert.NoError(t, svc.Put(context.Background(), "tenant-1", "k", []byte("v"), time.Minute))

	now = base.Add(time.Minute) // exactly at expiry: expired
	value, found, err := svc.Get(context.Background(), "tenant-1", "k")
	assert.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, value)

	// The physical row is still there; deletion belongs to the reclaimer.
	row, err := repo.GetByKey(context.Background(), "tenant-1", "k")
	assert.NoError(t, err)
	assert.NotNil(t, row)
}

func TestRecordService_SlidingModeExtendsExpiryOnRead(t *testing.T) {
	repo := newFakeRecordRepo()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	svc := NewRecordService(repo, models.StoreConfig{
		ExpiryMode: models.ExpiryModeSliding,
		DefaultTTL: time.Hour,
	}, testLogger()).WithClock(func() time.Time { return now })

	assert.NoError(t, svc.Put(context.Background(), "tenant-1", "k", []byte("v"), 10*time.Minute))

	now = base.Add(9 * time.Minute)
	_, found, err := svc.Get(context.Background(), "tenant-1", "k")
	assert.NoError(t, err)
	assert.True(t, found)

	// Expiry slid to read time + original TTL.
	row, err := repo.GetByKey(context.Background(), "tenant-1", "k")
	assert.NoError(t, err)
	assert.Equal(t, now.Add(10*time.Minute), row.ExpiresAt)

	// The record stays alive past its original deadline.
	now = base.Add(15 * time.Minute)
	_, found, err = svc.Get(context.Background(), "tenant-1", "k")
	assert.NoError(t, err)
	assert.True(t, found)
}

func TestRecordService_FixedModeDoesNotExtendExpiry(t *testing.T) {
	repo := newFakeRecordRepo()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	svc := NewRecordService(repo, models.StoreConfig{
		ExpiryMode: models.ExpiryModeFixed,
		DefaultTTL: time.Hour,
	}, testLogger()).WithClock(func() time.Time { return now })

	assert.NoError(t, svc.Put(context.Background(), "tenant-1", "k", []byte("v"), 10*time.Minute))

	now = base.Add(9 * time.Minute)
	_, found, err := svc.Get(context.Background(), "tenant-1", "k")
	assert.NoError(t, err)
	assert.True(t, found)

	row, err := repo.GetByKey(context.Background(), "tenant-1", "k")
	assert.NoError(t, err)
	assert.Equal(t, base.Add(10*time.Minute), row.ExpiresAt)

	now = base.Add(11 * time.Minute)
	_, found, err = svc.Get(context.Background(), "tenant-1", "k")
	assert.NoError(t, err)
	assert.False(t, found)
}

// Losing the access-time update must not fail the read itself.
func TestRecordService_TouchFailureDoesNotFailGet(t *testing.T) {
	repo := newFakeRecordRepo()
	repo.failOn = "touch"
	svc := NewRecordService(repo, models.StoreConfig{
		ExpiryMode: models.ExpiryModeFixed,
		DefaultTTL: time.Hour,
	}, testLogger())

	assert.NoError(t, svc.Put(context.Background(), "tenant-1", "k", []byte("v"), time.Hour))

	value, found, err := svc.Get(context.Background(), "tenant-1", "k")
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("v"), value)
}

func TestRecordService_DeleteIsIdempotent(t *testing.T) {
	repo := newFakeRecordRepo()
	svc := NewRecordService(repo, models.StoreConfig{DefaultTTL: time.Hour}, testLogger())

	assert.NoError(t, svc.Put(context.Background(), "tenant-1", "k", []byte("v"), time.Hour))
	assert.NoError(t, svc.Delete(context.Background(), "tenant-1", "k"))
	assert.NoError(t, svc.Delete(context.Background(), "tenant-1", "k"))

	_, found, err := svc.Get(context.Background(), "tenant-1", "k")
	assert.NoError(t, err)
	assert.False(t, found)
}
