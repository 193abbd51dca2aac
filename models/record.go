package models

import (
	"time"

	"github.com/uptrace/bun"
)

// ExpiryMode controls whether a successful read or overwrite extends a
// record's expiry by its original TTL.
type ExpiryMode string

const (
	// ExpiryModeFixed never extends expiry after creation (cache-style).
	ExpiryModeFixed ExpiryMode = "fixed"

	// ExpiryModeSliding extends expiry by the original TTL on every
	// successful get and put (session-style).
	ExpiryModeSliding ExpiryMode = "sliding"
)

func (m ExpiryMode) Valid() bool {
	return m == ExpiryModeFixed || m == ExpiryModeSliding
}

// Record is a keyed, expiring value owned by one actor identity.
// Invariant: ExpiresAt > CreatedAt.
type Record struct {
	bun.BaseModel `bun:"table:records"`

	Identity       string    `bun:"identity,pk" json:"identity"`
	Key            string    `bun:"key,pk" json:"key"`
	Value          []byte    `bun:"value" json:"value"`
	TTLMs          int64     `bun:"ttl_ms" json:"ttl_ms"`
	CreatedAt      time.Time `bun:"created_at" json:"created_at"`
	ExpiresAt      time.Time `bun:"expires_at" json:"expires_at"`
	LastAccessedAt time.Time `bun:"last_accessed_at" json:"last_accessed_at"`
	AccessCount    int64     `bun:"access_count" json:"access_count"`
}

// Expired reports whether the record is logically expired at now.
// Callers must treat expired records as absent even before physical deletion.
func (r *Record) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// SchedulerState holds the single pending wake for one actor identity.
// At most one row per identity exists; rescheduling overwrites, never appends.
type SchedulerState struct {
	bun.BaseModel `bun:"table:scheduler_state"`

	Identity string     `bun:"identity,pk" json:"identity"`
	NextWake *time.Time `bun:"next_wake" json:"next_wake"`
}

// RateWindowEvent is a Record variant specialized for counting: no value,
// keyed by (identity, client, timestamp). ExpiresAt is the synthetic expiry
// Timestamp + WindowMs, materialized at insert so the batch reclaimer can
// treat stale events exactly like expired records.
type RateWindowEvent struct {
	bun.BaseModel `bun:"table:rate_window_events"`

	ID        int64     `bun:"id,pk,autoincrement" json:"id"`
	Identity  string    `bun:"identity" json:"identity"`
	ClientID  string    `bun:"client_id" json:"client_id"`
	Timestamp time.Time `bun:"ts" json:"ts"`
	WindowMs  int64     `bun:"window_ms" json:"window_ms"`
	ExpiresAt time.Time `bun:"expires_at" json:"expires_at"`
}

// RateLimitResult is returned by the sliding-window counter.
type RateLimitResult struct {
	Allowed   bool      `json:"allowed"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// ArchiveBatch is the unit written to a cold-storage sink before the
// corresponding records are deleted. BatchID is derived deterministically
// from (reclamation-run timestamp, shard index) so that a crash between
// archive and delete re-archives under the same id and duplicate writes
// stay harmless downstream.
type ArchiveBatch struct {
	BatchID string   `json:"batch_id"`
	Records []Record `json:"records"`
}
