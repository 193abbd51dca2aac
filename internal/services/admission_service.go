package services

import (
	"context"
	"fmt"

	"github.com/GoDuraStore/go-dura-store/events"
	"github.com/GoDuraStore/go-dura-store/internal/repositories"
	"github.com/GoDuraStore/go-dura-store/internal/util"
	"github.com/GoDuraStore/go-dura-store/models"
)

// AdmissionService enforces the per-identity capacity ceiling. It runs
// synchronously after every put and evicts least-recently-accessed records
// down to a target below the ceiling, so a single subsequent insert does not
// immediately re-trigger eviction.
type AdmissionService struct {
	repo     repositories.RecordRepository
	config   models.StoreConfig
	eventBus models.EventBus
	logger   models.Logger
}

func NewAdmissionService(
	repo repositories.RecordRepository,
	config models.StoreConfig,
	eventBus models.EventBus,
	logger models.Logger,
) *AdmissionService {
	return &AdmissionService{
		repo:     repo,
		config:   config,
		eventBus: eventBus,
		logger:   logger,
	}
}

// Enforce checks the capacity bound for identity and evicts if it is
// exceeded. Returns the number of evicted records. Eviction order is
// last_accessed_at ascending, ties broken by created_at ascending. The pass
// self-limits to the overage it measured; it never loops over an unbounded
// working set.
func (s *AdmissionService) Enforce(ctx context.Context, identity string) (int, error) {
	if s.config.MaxCapacity <= 0 {
		return 0, nil
	}

	count, err := s.repo.Count(ctx, identity)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", models.ErrTransientStorage, err)
	}
	if count <= s.config.MaxCapacity {
		return 0, nil
	}

	target := int(float64(s.config.MaxCapacity) * s.config.EvictionTargetRatio)
	if target >= s.config.MaxCapacity {
		return 0, fmt.Errorf("%w: eviction target %d not below capacity %d",
			models.ErrCapacityConfig, target, s.config.MaxCapacity)
	}
	// At small capacities the ratio truncates to zero; never evict the
	// record that was just written.
	if target < 1 {
		target = 1
	}

	toEvict := count - target
	victims, err := s.repo.SelectEvictionVictims(ctx, identity, toEvict)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", models.ErrTransientStorage, err)
	}

	keys := make([]string, 0, len(victims))
	for i := range victims {
		keys = append(keys, victims[i].Key)
	}

	evicted, err := s.repo.DeleteKeys(ctx, identity, keys)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", models.ErrTransientStorage, err)
	}

	s.logger.Debug("evicted records over capacity",
		"identity", identity,
		"evicted", evicted,
		"count", count,
		"capacity", s.config.MaxCapacity)

	util.PublishEventAsync(s.eventBus, s.logger, util.NewEvent(
		events.EventRecordsEvicted,
		models.RecordsEvictedPayload{
			Identity: identity,
			Evicted:  evicted,
			Count:    count,
			Capacity: s.config.MaxCapacity,
		},
	))

	return evicted, nil
}
