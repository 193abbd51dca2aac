package services

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/GoDuraStore/go-dura-store/events"
	"github.com/GoDuraStore/go-dura-store/internal/archive"
	"github.com/GoDuraStore/go-dura-store/internal/repositories"
	"github.com/GoDuraStore/go-dura-store/internal/util"
	"github.com/GoDuraStore/go-dura-store/models"
)

// ReclaimOutcome reports what one reclamation pass accomplished and whether
// a backlog remains.
type ReclaimOutcome struct {
	Deleted     int
	StaleEvents int
	Archived    int
	BacklogLeft bool
	BatchID     string
}

// ReclaimService is the batch reclaimer. One run selects expired records in
// a bounded batch, optionally archives them, deletes them, and reports
// whether more work remains. Every run recomputes the backlog from the
// store, so re-running after a crash between any two steps is safe:
// already-deleted records are simply not re-selected.
type ReclaimService struct {
	records    repositories.RecordRepository
	rateEvents repositories.RateEventRepository
	sink       archive.Sink
	config     models.ReclaimConfig
	shardCount int
	eventBus   models.EventBus
	logger     models.Logger
}

func NewReclaimService(
	records repositories.RecordRepository,
	rateEvents repositories.RateEventRepository,
	sink archive.Sink,
	config models.ReclaimConfig,
	shardCount int,
	eventBus models.EventBus,
	logger models.Logger,
) *ReclaimService {
	if shardCount <= 0 {
		shardCount = 1
	}
	return &ReclaimService{
		records:    records,
		rateEvents: rateEvents,
		sink:       sink,
		config:     config,
		shardCount: shardCount,
		eventBus:   eventBus,
		logger:     logger,
	}
}

// Run executes one reclamation pass for identity at the given time. The
// service holds no per-identity state: attempt is the identity's consecutive
// failure count including this run, tracked by its scheduler on the actor's
// own thread. On error the pass is abandoned without deleting anything
// archival covered; the caller reschedules with backoff and the next wake
// recomputes the same work from scratch.
func (s *ReclaimService) Run(ctx context.Context, identity string, now time.Time, attempt int64) (ReclaimOutcome, error) {
	started := time.Now()

	outcome, err := s.reclaimRecords(ctx, identity, now)
	if err != nil {
		s.reportFailure(ctx, identity, now, attempt, err)
		return ReclaimOutcome{}, err
	}

	stale, staleBacklog, err := s.reclaimRateEvents(ctx, identity, now, outcome.Deleted)
	if err != nil {
		s.reportFailure(ctx, identity, now, attempt, err)
		return ReclaimOutcome{}, err
	}
	outcome.StaleEvents = stale
	outcome.BacklogLeft = outcome.BacklogLeft || staleBacklog

	s.logger.Debug("reclamation pass complete",
		"identity", identity,
		"deleted", outcome.Deleted,
		"stale_events", outcome.StaleEvents,
		"archived", outcome.Archived,
		"backlog_left", outcome.BacklogLeft)

	util.PublishEventAsync(s.eventBus, s.logger, util.NewEvent(
		events.EventReclamationCompleted,
		models.ReclamationCompletedPayload{
			Identity:     identity,
			Deleted:      outcome.Deleted,
			StaleEvents:  outcome.StaleEvents,
			Archived:     outcome.Archived,
			BacklogLeft:  outcome.BacklogLeft,
			DurationMs:   time.Since(started).Milliseconds(),
			ArchiveBatch: outcome.BatchID,
		},
	))

	return outcome, nil
}

func (s *ReclaimService) reclaimRecords(ctx context.Context, identity string, now time.Time) (ReclaimOutcome, error) {
	expiredCount, err := s.records.CountExpired(ctx, identity, now)
	if err != nil {
		return ReclaimOutcome{}, fmt.Errorf("%w: %w", models.ErrTransientStorage, err)
	}
	if expiredCount == 0 {
		return ReclaimOutcome{}, nil
	}

	batch, err := s.records.SelectExpired(ctx, identity, now, s.config.BatchSize)
	if err != nil {
		return ReclaimOutcome{}, fmt.Errorf("%w: %w", models.ErrTransientStorage, err)
	}

	outcome := ReclaimOutcome{
		BacklogLeft: expiredCount > s.config.BatchSize,
	}

	// Archive must complete before any deletion. A crash after this point
	// re-archives the batch on the next run; both sinks tolerate duplicate
	// batch ids and duplicate record keys are harmless downstream.
	if s.sink != nil && len(batch) > 0 {
		batchID := s.batchID(identity, now)
		archiveBatch := &models.ArchiveBatch{
			BatchID: batchID,
			Records: batch,
		}
		if err := s.sink.Archive(ctx, archiveBatch); err != nil {
			return ReclaimOutcome{}, fmt.Errorf("%w: %w", models.ErrArchiveSink, err)
		}
		outcome.Archived = len(batch)
		outcome.BatchID = batchID
	}

	keys := make([]string, 0, len(batch))
	for i := range batch {
		keys = append(keys, batch[i].Key)
	}

	deleted, err := s.records.DeleteKeys(ctx, identity, keys)
	if err != nil {
		return ReclaimOutcome{}, fmt.Errorf("%w: %w", models.ErrTransientStorage, err)
	}
	outcome.Deleted = deleted

	return outcome, nil
}

// reclaimRateEvents shares the record phase's batch budget: one wake
// deletes at most BatchSize rows across both phases, keeping the
// per-invocation bound intact.
func (s *ReclaimService) reclaimRateEvents(ctx context.Context, identity string, now time.Time, spent int) (int, bool, error) {
	staleCount, err := s.rateEvents.CountStale(ctx, identity, now)
	if err != nil {
		return 0, false, fmt.Errorf("%w: %w", models.ErrTransientStorage, err)
	}
	if staleCount == 0 {
		return 0, false, nil
	}

	budget := s.config.BatchSize - spent
	if budget <= 0 {
		return 0, true, nil
	}

	deleted, err := s.rateEvents.DeleteStale(ctx, identity, now, budget)
	if err != nil {
		return 0, false, fmt.Errorf("%w: %w", models.ErrTransientStorage, err)
	}

	return deleted, staleCount > budget, nil
}

// batchID derives a deterministic archive batch id from the reclamation-run
// timestamp and the identity's shard index.
func (s *ReclaimService) batchID(identity string, now time.Time) string {
	h := fnv.New32a()
	h.Write([]byte(identity))
	shard := h.Sum32() % uint32(s.shardCount)
	return fmt.Sprintf("%d-%d", now.UnixMilli(), shard)
}

func (s *ReclaimService) reportFailure(ctx context.Context, identity string, now time.Time, attempt int64, cause error) {
	s.logger.Error("reclamation pass failed",
		"identity", identity,
		"attempts", attempt,
		"error", cause)

	payload := models.ReclamationFailedPayload{
		Identity: identity,
		Reason:   cause.Error(),
		Attempts: attempt,
	}

	// Age of the oldest un-reclaimed record, best effort.
	if oldest, err := s.records.SelectExpired(ctx, identity, now, 1); err == nil && len(oldest) > 0 {
		payload.OldestExpiry = oldest[0].ExpiresAt.UTC().Format(time.RFC3339Nano)
	}

	util.PublishEventAsync(s.eventBus, s.logger, util.NewEvent(
		events.EventReclamationFailed,
		payload,
	))
}
