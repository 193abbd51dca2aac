package actor

import (
	"context"
	"sync"
	"time"

	"github.com/GoDuraStore/go-dura-store/internal/scheduler"
	"github.com/GoDuraStore/go-dura-store/internal/services"
	"github.com/GoDuraStore/go-dura-store/models"
)

// task is one serialized unit of work for an actor.
type task struct {
	ctx  context.Context
	fn   func(ctx context.Context) error
	errC chan error
}

// Actor is the single logical thread of execution for one identity. All
// record, admission, rate-limit and reclamation work for the identity runs
// on its loop goroutine, so none of the services need internal locks. After
// IdleTimeout without traffic the goroutine stops; persisted state,
// including any pending wake, survives and is recovered on revival.
type Actor struct {
	identity  string
	config    models.ActorConfig
	records   *services.RecordService
	admission *services.AdmissionService
	rate      *services.RateLimitService
	sched     *scheduler.Scheduler
	logger    models.Logger

	mailbox  chan task
	wakeCh   chan struct{}
	stopping chan struct{}
	closed   chan struct{}
	done     chan struct{}
	stop     sync.Once
	stopReq  sync.Once

	// sendMu fences enqueues against shutdown: once stopped is set no new
	// task can enter the mailbox, so the drain loop sees every task.
	sendMu  sync.RWMutex
	stopped bool

	// onStop reports the pending wake (if any) back to the registry so a
	// dormant actor can be revived in time to honor it.
	onStop func(identity string, pendingWake *time.Time)
}

func newActor(
	identity string,
	config models.ActorConfig,
	records *services.RecordService,
	admission *services.AdmissionService,
	rate *services.RateLimitService,
	sched func(identity string, wake func()) *scheduler.Scheduler,
	onStop func(identity string, pendingWake *time.Time),
	logger models.Logger,
) *Actor {
	a := &Actor{
		identity:  identity,
		config:    config,
		records:   records,
		admission: admission,
		rate:      rate,
		logger:    logger,
		mailbox:   make(chan task, config.MailboxSize),
		wakeCh:    make(chan struct{}, 1),
		stopping:  make(chan struct{}),
		closed:    make(chan struct{}),
		done:      make(chan struct{}),
		onStop:    onStop,
	}
	a.sched = sched(identity, a.enqueueWake)
	return a
}

// start recovers any persisted wake and runs the serialized loop.
func (a *Actor) start() {
	go func() {
		defer close(a.done)

		ctx := context.Background()
		if err := a.sched.Recover(ctx); err != nil {
			a.logger.Error("failed to recover scheduler state",
				"identity", a.identity,
				"error", err)
		}
		a.run(ctx)
	}()
}

func (a *Actor) run(ctx context.Context) {
	idle := time.NewTimer(a.config.IdleTimeout)
	defer idle.Stop()

	for {
		select {
		case t := <-a.mailbox:
			resetTimer(idle, a.config.IdleTimeout)
			t.errC <- t.fn(t.ctx)

		case <-a.wakeCh:
			resetTimer(idle, a.config.IdleTimeout)
			a.sched.OnWake(ctx)

		case <-idle.C:
			a.shutdown()
			return

		case <-a.stopping:
			a.shutdown()
			return
		}
	}
}

// requestStop asks the loop goroutine to shut down and returns immediately.
// The full shutdown sequence, including the scheduler teardown, runs on the
// loop itself so scheduler state stays single-threaded; callers wait on
// done for completion.
func (a *Actor) requestStop() {
	a.stopReq.Do(func() { close(a.stopping) })
}

func (a *Actor) shutdown() {
	a.stop.Do(func() {
		// Closing first unblocks any sender waiting on a full mailbox;
		// taking the write lock then waits out in-flight enqueues, so the
		// drain below sees every task that made it in.
		close(a.closed)
		a.sendMu.Lock()
		a.stopped = true
		a.sendMu.Unlock()

		pending := a.sched.Pending()
		a.sched.Stop()

		// Reply to any sender that raced the shutdown; the registry will
		// respawn the actor and the sender retries.
		for {
			select {
			case t := <-a.mailbox:
				t.errC <- models.ErrActorClosed
			default:
				if a.onStop != nil {
					a.onStop(a.identity, pending)
				}
				return
			}
		}
	})
}

// enqueueWake coalesces timer fires into at most one queued wake.
func (a *Actor) enqueueWake() {
	select {
	case a.wakeCh <- struct{}{}:
	default:
	}
}

// invoke runs fn on the actor's loop and waits for its result.
func (a *Actor) invoke(ctx context.Context, fn func(ctx context.Context) error) error {
	t := task{
		ctx:  ctx,
		fn:   fn,
		errC: make(chan error, 1),
	}

	a.sendMu.RLock()
	if a.stopped {
		a.sendMu.RUnlock()
		return models.ErrActorClosed
	}

	select {
	case a.mailbox <- t:
		a.sendMu.RUnlock()
	case <-a.closed:
		a.sendMu.RUnlock()
		return models.ErrActorClosed
	case <-ctx.Done():
		a.sendMu.RUnlock()
		return ctx.Err()
	}

	select {
	case err := <-t.errC:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Put stores a record and then synchronously enforces the capacity bound.
// Admission and scheduling failures do not fail the put: the caller's
// contract covers only the store operation it invoked.
func (a *Actor) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return a.invoke(ctx, func(ctx context.Context) error {
		if err := a.records.Put(ctx, a.identity, key, value, ttl); err != nil {
			return err
		}

		if _, err := a.admission.Enforce(ctx, a.identity); err != nil {
			a.logger.Warn("admission control failed after put",
				"identity", a.identity,
				"key", key,
				"error", err)
		}

		a.ensureWakeBy(ctx, a.records.EffectiveTTL(ttl))
		return nil
	})
}

func (a *Actor) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var (
		value []byte
		found bool
	)
	err := a.invoke(ctx, func(ctx context.Context) error {
		var err error
		value, found, err = a.records.Get(ctx, a.identity, key)
		return err
	})
	return value, found, err
}

func (a *Actor) Delete(ctx context.Context, key string) error {
	return a.invoke(ctx, func(ctx context.Context) error {
		return a.records.Delete(ctx, a.identity, key)
	})
}

func (a *Actor) CheckRateLimit(ctx context.Context, clientID string, limit int, window time.Duration) (models.RateLimitResult, error) {
	var result models.RateLimitResult
	err := a.invoke(ctx, func(ctx context.Context) error {
		var err error
		result, err = a.rate.CheckAndRecord(ctx, a.identity, clientID, limit, window)
		if err == nil {
			a.ensureWakeBy(ctx, a.rate.EffectiveWindow(window))
		}
		return err
	})
	return result, err
}

// ensureWakeBy pulls the pending wake forward to when the newest record or
// event expires, so reclamation runs no later than the earliest new expiry.
func (a *Actor) ensureWakeBy(ctx context.Context, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	at := time.Now().UTC().Add(ttl)
	if err := a.sched.EnsureScheduled(ctx, at); err != nil {
		a.logger.Warn("failed to schedule reclamation wake",
			"identity", a.identity,
			"at", at,
			"error", err)
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
