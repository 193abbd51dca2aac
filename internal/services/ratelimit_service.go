package services

import (
	"context"
	"fmt"
	"time"

	"github.com/GoDuraStore/go-dura-store/events"
	"github.com/GoDuraStore/go-dura-store/internal/repositories"
	"github.com/GoDuraStore/go-dura-store/internal/util"
	"github.com/GoDuraStore/go-dura-store/models"
)

// RateLimitService is the sliding-window counter: the record-store
// primitives applied to a counting workload. Events inside the window are
// counted on every check; stale events are reclaimed by the batch reclaimer
// via their synthetic expiry.
type RateLimitService struct {
	repo     repositories.RateEventRepository
	config   models.RateLimitConfig
	eventBus models.EventBus
	logger   models.Logger
	now      func() time.Time
}

func NewRateLimitService(
	repo repositories.RateEventRepository,
	config models.RateLimitConfig,
	eventBus models.EventBus,
	logger models.Logger,
) *RateLimitService {
	return &RateLimitService{
		repo:     repo,
		config:   config,
		eventBus: eventBus,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock overrides the time source. Used by tests.
func (s *RateLimitService) WithClock(now func() time.Time) *RateLimitService {
	s.now = now
	return s
}

// EffectiveWindow resolves a caller-supplied window against the configured
// default.
func (s *RateLimitService) EffectiveWindow(window time.Duration) time.Duration {
	if window <= 0 {
		return s.config.DefaultWindow
	}
	return window
}

// CheckAndRecord counts the client's events inside the sliding window. If
// the count is under the limit a new event is recorded and the call is
// allowed; otherwise it is denied and nothing is written.
func (s *RateLimitService) CheckAndRecord(ctx context.Context, identity, clientID string, limit int, window time.Duration) (models.RateLimitResult, error) {
	if clientID == "" {
		return models.RateLimitResult{}, fmt.Errorf("client id cannot be empty")
	}
	if limit <= 0 {
		limit = s.config.DefaultLimit
	}
	window = s.EffectiveWindow(window)

	now := s.now().UTC()
	since := now.Add(-window)

	count, err := s.repo.CountSince(ctx, identity, clientID, since)
	if err != nil {
		return models.RateLimitResult{}, err
	}

	// resetAt is when the oldest counted event leaves the window, freeing
	// a slot.
	resetAt := now.Add(window)
	if oldest, err := s.repo.OldestSince(ctx, identity, clientID, since); err == nil && oldest != nil {
		resetAt = oldest.Timestamp.Add(window)
	}

	if count >= limit {
		util.PublishEventAsync(s.eventBus, s.logger, util.NewEvent(
			events.EventRateLimitDenied,
			models.RateLimitDeniedPayload{
				Identity: identity,
				ClientID: clientID,
				Limit:    limit,
				ResetAt:  resetAt,
			},
		))

		return models.RateLimitResult{
			Allowed:   false,
			Remaining: 0,
			ResetAt:   resetAt,
		}, nil
	}

	event := &models.RateWindowEvent{
		Identity:  identity,
		ClientID:  clientID,
		Timestamp: now,
		WindowMs:  window.Milliseconds(),
		ExpiresAt: now.Add(window),
	}
	if err := s.repo.Insert(ctx, event); err != nil {
		return models.RateLimitResult{}, err
	}

	return models.RateLimitResult{
		Allowed:   true,
		Remaining: limit - count - 1,
		ResetAt:   resetAt,
	}, nil
}
