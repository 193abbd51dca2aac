package services

import (
	"context"
	"fmt"
	"time"

	"github.com/GoDuraStore/go-dura-store/internal/repositories"
	"github.com/GoDuraStore/go-dura-store/models"
)

// RecordService implements the keyed record store: put/get/delete with the
// lazy-expiry read contract. Callers never observe a logically expired
// value, whether or not physical deletion has run yet.
type RecordService struct {
	repo   repositories.RecordRepository
	config models.StoreConfig
	logger models.Logger
	now    func() time.Time
}

func NewRecordService(
	repo repositories.RecordRepository,
	config models.StoreConfig,
	logger models.Logger,
) *RecordService {
	return &RecordService{
		repo:   repo,
		config: config,
		logger: logger,
		now:    time.Now,
	}
}

// WithClock overrides the time source. Used by tests.
func (s *RecordService) WithClock(now func() time.Time) *RecordService {
	s.now = now
	return s
}

// EffectiveTTL resolves a caller-supplied TTL against the configured default.
func (s *RecordService) EffectiveTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return s.config.DefaultTTL
	}
	return ttl
}

// Put stores value under key with the given TTL. A zero TTL falls back to
// the configured default.
func (s *RecordService) Put(ctx context.Context, identity, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return fmt.Errorf("key cannot be empty")
	}
	ttl = s.EffectiveTTL(ttl)

	now := s.now().UTC()
	record := &models.Record{
		Identity:       identity,
		Key:            key,
		Value:          value,
		TTLMs:          ttl.Milliseconds(),
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
		LastAccessedAt: now,
	}

	if err := s.repo.Upsert(ctx, record); err != nil {
		return err
	}
	return nil
}

// Get returns the value for key, or found=false on a miss. A record whose
// expiry has passed is treated as absent regardless of whether the reclaimer
// has deleted it yet. In sliding-expiry mode a successful read extends the
// expiry by the record's original TTL.
func (s *RecordService) Get(ctx context.Context, identity, key string) ([]byte, bool, error) {
	record, err := s.repo.GetByKey(ctx, identity, key)
	if err != nil {
		return nil, false, err
	}
	if record == nil {
		return nil, false, nil
	}

	now := s.now().UTC()
	if record.Expired(now) {
		// Logically absent; physical deletion is the reclaimer's job.
		return nil, false, nil
	}

	var newExpiry *time.Time
	if s.config.ExpiryMode == models.ExpiryModeSliding {
		extended := now.Add(time.Duration(record.TTLMs) * time.Millisecond)
		newExpiry = &extended
	}

	if err := s.repo.Touch(ctx, identity, key, now, newExpiry); err != nil {
		// The read itself succeeded; losing one access-time update does not
		// justify failing the caller.
		s.logger.Warn("failed to update record access time",
			"identity", identity,
			"key", key,
			"error", err)
	}

	return record.Value, true, nil
}

// Delete removes key. Idempotent.
func (s *RecordService) Delete(ctx context.Context, identity, key string) error {
	return s.repo.Delete(ctx, identity, key)
}

// Count reports the number of physical rows for the identity.
func (s *RecordService) Count(ctx context.Context, identity string) (int, error) {
	return s.repo.Count(ctx, identity)
}
