package models

import "errors"

// Reclamation error taxonomy. Reclamation-internal failures are always
// converted into retry-later outcomes and never propagate to caller-facing
// operations, which carry their own store-operation errors.
var (
	// ErrTransientStorage marks a momentarily unavailable underlying store.
	// Nothing was deleted; the next scheduled wake retries the same work.
	ErrTransientStorage = errors.New("transient storage error")

	// ErrSerialization marks a single record whose value cannot be read
	// back. The record is skipped and logged; the batch continues.
	ErrSerialization = errors.New("record serialization error")

	// ErrScheduling marks a failure to persist or arm a wake. Retried with
	// backoff: an un-scheduled actor never self-heals.
	ErrScheduling = errors.New("wake scheduling error")

	// ErrArchiveSink marks a failed archival write. The batch is abandoned
	// before any deletion and retried whole at the next wake.
	ErrArchiveSink = errors.New("archive sink error")

	// ErrCapacityConfig marks an invalid admission-control configuration.
	ErrCapacityConfig = errors.New("invalid capacity configuration")

	// ErrActorClosed is returned for requests sent to a stopped registry.
	ErrActorClosed = errors.New("actor registry closed")
)
