package actor

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/GoDuraStore/go-dura-store/internal/repositories"
	"github.com/GoDuraStore/go-dura-store/internal/scheduler"
	"github.com/GoDuraStore/go-dura-store/internal/services"
	"github.com/GoDuraStore/go-dura-store/models"
)

// Registry routes each identity to its single live actor. It is a sharded
// map, not a global lock: identities hash to independent shards and actors
// for different identities run fully in parallel, sharing nothing.
//
// The registry also supervises dormancy: when an actor idles out while a
// wake is still persisted, a revival timer respawns it in time to honor the
// wake, and startup recovery rearms revivals for every identity with a
// pending wake so wakes survive process restarts.
type Registry struct {
	config    models.ActorConfig
	records   *services.RecordService
	admission *services.AdmissionService
	rate      *services.RateLimitService
	reclaim   *services.ReclaimService
	schedRepo repositories.SchedulerRepository
	reclaimCf models.ReclaimConfig
	logger    models.Logger

	shards []*registryShard
	closed bool
	mu     sync.RWMutex
}

type registryShard struct {
	mu       sync.Mutex
	actors   map[string]*Actor
	revivals map[string]*time.Timer
}

func NewRegistry(
	config models.ActorConfig,
	records *services.RecordService,
	admission *services.AdmissionService,
	rate *services.RateLimitService,
	reclaim *services.ReclaimService,
	schedRepo repositories.SchedulerRepository,
	reclaimCf models.ReclaimConfig,
	logger models.Logger,
) *Registry {
	shardCount := config.ShardCount
	if shardCount <= 0 {
		shardCount = 32
	}

	shards := make([]*registryShard, shardCount)
	for i := range shards {
		shards[i] = &registryShard{
			actors:   make(map[string]*Actor),
			revivals: make(map[string]*time.Timer),
		}
	}

	return &Registry{
		config:    config,
		records:   records,
		admission: admission,
		rate:      rate,
		reclaim:   reclaim,
		schedRepo: schedRepo,
		reclaimCf: reclaimCf,
		logger:    logger,
		shards:    shards,
	}
}

func (r *Registry) shardFor(identity string) *registryShard {
	h := fnv.New32a()
	h.Write([]byte(identity))
	return r.shards[h.Sum32()%uint32(len(r.shards))]
}

// actorFor returns the live actor for identity, spawning one if needed.
func (r *Registry) actorFor(identity string) (*Actor, error) {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return nil, models.ErrActorClosed
	}
	r.mu.RUnlock()

	shard := r.shardFor(identity)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	if a, ok := shard.actors[identity]; ok {
		select {
		case <-a.closed:
			// Raced an idle shutdown; fall through and respawn.
		default:
			return a, nil
		}
	}

	if timer, ok := shard.revivals[identity]; ok {
		timer.Stop()
		delete(shard.revivals, identity)
	}

	a := newActor(
		identity,
		r.config,
		r.records,
		r.admission,
		r.rate,
		func(id string, wake func()) *scheduler.Scheduler {
			return scheduler.New(id, r.schedRepo, r.reclaim, r.reclaimCf, wake, r.logger)
		},
		r.handleStop,
		r.logger,
	)
	shard.actors[identity] = a
	a.start()

	return a, nil
}

// handleStop removes an idled actor and, when it still had a wake armed,
// schedules its revival so the durable wake outlives the goroutine.
func (r *Registry) handleStop(identity string, pendingWake *time.Time) {
	shard := r.shardFor(identity)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	if a, ok := shard.actors[identity]; ok {
		select {
		case <-a.closed:
			delete(shard.actors, identity)
		default:
			// A fresh actor already replaced the stopping one.
			return
		}
	}

	if pendingWake == nil {
		return
	}

	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return
	}

	r.scheduleRevivalLocked(shard, identity, *pendingWake)
}

func (r *Registry) scheduleRevivalLocked(shard *registryShard, identity string, at time.Time) {
	if timer, ok := shard.revivals[identity]; ok {
		timer.Stop()
	}

	delay := time.Until(at)
	if delay < 0 {
		delay = 0
	}

	shard.revivals[identity] = time.AfterFunc(delay, func() {
		// Spawning recovers persisted scheduler state; a past-due wake
		// fires immediately.
		if _, err := r.actorFor(identity); err != nil && !errors.Is(err, models.ErrActorClosed) {
			r.logger.Error("failed to revive actor for pending wake",
				"identity", identity,
				"error", err)
		}
	})
}

// RecoverPending scans persisted scheduler state at startup and schedules
// revival for every identity with a pending wake, making wakes survive
// process restarts with at-least-once delivery. When registries share the
// scheduler table (one per namespace), match routes each identity to
// exactly one registry; a nil match accepts everything.
func (r *Registry) RecoverPending(ctx context.Context, match func(identity string) bool) error {
	states, err := r.schedRepo.ListPending(ctx)
	if err != nil {
		return err
	}

	recovered := 0
	for i := range states {
		state := states[i]
		if state.NextWake == nil {
			continue
		}
		if match != nil && !match(state.Identity) {
			continue
		}
		recovered++

		shard := r.shardFor(state.Identity)
		shard.mu.Lock()
		if _, live := shard.actors[state.Identity]; !live {
			r.scheduleRevivalLocked(shard, state.Identity, *state.NextWake)
		}
		shard.mu.Unlock()
	}

	r.logger.Info("recovered pending wakes", "identities", recovered)
	return nil
}

// Invoke-style entry points. A request that races an idle shutdown simply
// respawns the actor and retries.

func (r *Registry) Put(ctx context.Context, identity, key string, value []byte, ttl time.Duration) error {
	return r.withActor(ctx, identity, func(a *Actor) error {
		return a.Put(ctx, key, value, ttl)
	})
}

func (r *Registry) Get(ctx context.Context, identity, key string) ([]byte, bool, error) {
	var (
		value []byte
		found bool
	)
	err := r.withActor(ctx, identity, func(a *Actor) error {
		var err error
		value, found, err = a.Get(ctx, key)
		return err
	})
	return value, found, err
}

func (r *Registry) Delete(ctx context.Context, identity, key string) error {
	return r.withActor(ctx, identity, func(a *Actor) error {
		return a.Delete(ctx, key)
	})
}

func (r *Registry) CheckRateLimit(ctx context.Context, identity, clientID string, limit int, window time.Duration) (models.RateLimitResult, error) {
	var result models.RateLimitResult
	err := r.withActor(ctx, identity, func(a *Actor) error {
		var err error
		result, err = a.CheckRateLimit(ctx, clientID, limit, window)
		return err
	})
	return result, err
}

func (r *Registry) withActor(ctx context.Context, identity string, fn func(a *Actor) error) error {
	for {
		a, err := r.actorFor(identity)
		if err != nil {
			return err
		}

		err = fn(a)
		if errors.Is(err, models.ErrActorClosed) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				continue
			}
		}
		return err
	}
}

// Close stops every live actor and revival timer. Persisted wakes remain
// in the store for the next process to recover.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	// Collect under the shard locks, stop outside them: each actor's
	// shutdown runs on its own loop goroutine and re-enters the shard via
	// handleStop to unregister itself.
	var live []*Actor
	for _, shard := range r.shards {
		shard.mu.Lock()
		for identity, timer := range shard.revivals {
			timer.Stop()
			delete(shard.revivals, identity)
		}
		for _, a := range shard.actors {
			live = append(live, a)
		}
		shard.mu.Unlock()
	}

	for _, a := range live {
		a.requestStop()
	}
	for _, a := range live {
		<-a.done
	}
}
