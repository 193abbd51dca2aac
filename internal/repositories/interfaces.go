package repositories

import (
	"context"
	"time"

	"github.com/GoDuraStore/go-dura-store/models"
)

// RecordRepository owns the keyed-record schema for one table shared by all
// identities. Every method recomputes from persisted state; nothing is
// cached, so wake-triggered reclamation and caller requests may interleave
// in any order.
type RecordRepository interface {
	// GetByKey returns the record or nil when no row exists. Expiry is not
	// checked here; the lazy-expiry read contract lives in the service layer.
	GetByKey(ctx context.Context, identity, key string) (*models.Record, error)

	// Upsert inserts or overwrites a record by (identity, key).
	Upsert(ctx context.Context, record *models.Record) error

	// Touch updates last-access bookkeeping and, in sliding-expiry mode,
	// the expiry itself.
	Touch(ctx context.Context, identity, key string, accessedAt time.Time, newExpiresAt *time.Time) error

	// Delete removes a record. Idempotent: deleting a missing key is not an
	// error.
	Delete(ctx context.Context, identity, key string) error

	// DeleteKeys removes a batch of records and reports how many rows went
	// away. Already-deleted keys simply do not count.
	DeleteKeys(ctx context.Context, identity string, keys []string) (int, error)

	// Count returns the number of physical rows for the identity, expired
	// or not.
	Count(ctx context.Context, identity string) (int, error)

	// CountExpired returns how many records are logically expired at now.
	CountExpired(ctx context.Context, identity string, now time.Time) (int, error)

	// SelectExpired returns up to limit expired records ordered by
	// expires_at ascending. Oldest-first ordering is a correctness
	// requirement: each reclamation batch strictly shrinks the oldest
	// backlog, guaranteeing forward progress.
	SelectExpired(ctx context.Context, identity string, now time.Time, limit int) ([]models.Record, error)

	// SelectEvictionVictims returns up to limit records ordered by
	// last_accessed_at ascending, ties broken by created_at ascending.
	SelectEvictionVictims(ctx context.Context, identity string, limit int) ([]models.Record, error)
}

// SchedulerRepository persists the single pending wake per identity.
type SchedulerRepository interface {
	// Get returns the scheduler row or nil when the identity has never
	// scheduled a wake.
	Get(ctx context.Context, identity string) (*models.SchedulerState, error)

	// SetNextWake overwrites (never appends) the pending wake.
	SetNextWake(ctx context.Context, identity string, at time.Time) error

	// ListPending returns every identity with a non-null next_wake, used by
	// startup recovery to rearm timers.
	ListPending(ctx context.Context) ([]models.SchedulerState, error)
}

// RateEventRepository persists sliding-window counter events.
type RateEventRepository interface {
	Insert(ctx context.Context, event *models.RateWindowEvent) error

	// CountSince counts a client's events with ts > since.
	CountSince(ctx context.Context, identity, clientID string, since time.Time) (int, error)

	// OldestSince returns the client's oldest event with ts > since, or nil.
	OldestSince(ctx context.Context, identity, clientID string, since time.Time) (*models.RateWindowEvent, error)

	// CountStale counts events whose synthetic expiry has passed.
	CountStale(ctx context.Context, identity string, now time.Time) (int, error)

	// DeleteStale removes up to limit stale events, oldest expiry first,
	// and reports how many rows went away.
	DeleteStale(ctx context.Context, identity string, now time.Time, limit int) (int, error)
}
