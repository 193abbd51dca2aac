package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/GoDuraStore/go-dura-store/internal/repositories"
	"github.com/GoDuraStore/go-dura-store/internal/services"
	"github.com/GoDuraStore/go-dura-store/models"
)

// Scheduler owns the single pending wake for one actor identity. The wake
// time is persisted before the in-process timer is armed, so a restart can
// rearm it; delivery is at-least-once and a wake with nothing to reclaim is
// a harmless no-op, which is why no cancel operation exists. Pulling a wake
// forward with EnsureScheduled is the only way to supersede one.
//
// All methods are invoked from the owning actor's single thread of
// execution; the timer callback only enqueues a wake message back into that
// thread, so no internal locking is needed.
type Scheduler struct {
	identity string
	repo     repositories.SchedulerRepository
	reclaim  *services.ReclaimService
	config   models.ReclaimConfig
	logger   models.Logger

	// wake enqueues an OnWake invocation into the actor's mailbox.
	wake func()

	timer   *time.Timer
	pending *time.Time

	// failures counts consecutive failed reclamation passes for this
	// identity. Lives here rather than in the shared reclaim service so
	// identities never observe each other's counts.
	failures int64

	now func() time.Time
}

func New(
	identity string,
	repo repositories.SchedulerRepository,
	reclaim *services.ReclaimService,
	config models.ReclaimConfig,
	wake func(),
	logger models.Logger,
) *Scheduler {
	return &Scheduler{
		identity: identity,
		repo:     repo,
		reclaim:  reclaim,
		config:   config,
		wake:     wake,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock overrides the time source. Used by tests.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// EnsureScheduled guarantees a wake at or before at. No wake pending:
// schedule one. Wake pending at a time <= at: no-op. Wake pending later
// than at: pull it forward. A wake never slips later than requested.
func (s *Scheduler) EnsureScheduled(ctx context.Context, at time.Time) error {
	if s.pending != nil && !s.pending.After(at) {
		return nil
	}

	if err := s.repo.SetNextWake(ctx, s.identity, at); err != nil {
		// An un-scheduled actor never self-heals, so arm the in-memory
		// timer anyway; the wake itself will re-persist on reschedule.
		s.arm(at)
		return fmt.Errorf("%w: %w", models.ErrScheduling, err)
	}

	s.arm(at)
	return nil
}

// OnWake is the single entry point the actor invokes when the timer fires.
// It runs one reclamation pass and always reschedules before returning:
// soon while a backlog remains, with backoff after a failure, and at the
// idle cadence once drained. The scheduler self-perpetuates for the actor's
// lifetime; it is the only mechanism guaranteeing eventual reclamation of
// records nobody reads again.
func (s *Scheduler) OnWake(ctx context.Context) {
	s.pending = nil
	now := s.now().UTC()

	outcome, err := s.reclaim.Run(ctx, s.identity, now, s.failures+1)

	var next time.Time
	switch {
	case err != nil:
		s.failures++
		next = now.Add(s.config.RetryBackoff)
	case outcome.BacklogLeft:
		s.failures = 0
		next = now.Add(s.config.SoonInterval)
	default:
		s.failures = 0
		next = now.Add(s.config.IdleInterval)
	}

	if err := s.EnsureScheduled(ctx, next); err != nil {
		s.logger.Error("failed to persist next wake",
			"identity", s.identity,
			"next_wake", next,
			"error", err)
	}
}

// Recover rearms the timer from persisted state after the actor was revived.
// A past-due wake fires immediately.
func (s *Scheduler) Recover(ctx context.Context) error {
	state, err := s.repo.Get(ctx, s.identity)
	if err != nil {
		return fmt.Errorf("%w: %w", models.ErrScheduling, err)
	}
	if state == nil || state.NextWake == nil {
		return nil
	}

	s.arm(*state.NextWake)
	return nil
}

// Pending returns the currently armed wake time, or nil.
func (s *Scheduler) Pending() *time.Time {
	if s.pending == nil {
		return nil
	}
	target := *s.pending
	return &target
}

// Stop halts the in-process timer. The persisted wake survives and is
// rearmed by Recover when the actor is next revived.
func (s *Scheduler) Stop() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.pending = nil
}

func (s *Scheduler) arm(at time.Time) {
	delay := time.Until(at)
	if delay < 0 {
		delay = 0
	}

	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(delay, s.wake)

	target := at
	s.pending = &target
}
