package godurastore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"

	"github.com/GoDuraStore/go-dura-store/internal/actor"
	"github.com/GoDuraStore/go-dura-store/internal/archive"
	"github.com/GoDuraStore/go-dura-store/models"
)

// ---------------------------------
// INITIALISATION
// ---------------------------------

// Store is the embeddable durable record store. It owns the database
// connection, the event bus, the archive sink and one actor registry per
// namespace. All operations on the same identity are serialized through
// that identity's actor; operations on different identities run in
// parallel.
type Store struct {
	Config *models.Config

	logger   models.Logger
	db       bun.IDB
	sink     archive.Sink
	eventBus models.EventBus

	defaultRegistry *actor.Registry
	namespaces      map[string]*Namespace
}

// New wires the full store from configuration. It connects to the database
// and the event bus transport but does not touch the schema; call
// RunMigrations before first use, then Recover to rearm pending wakes from
// a previous process.
func New(config *models.Config) (*Store, error) {
	logger := InitLogger(config)

	db, err := InitDatabase(config)
	if err != nil {
		return nil, fmt.Errorf("failed to init database: %w", err)
	}

	eventBus, err := InitEventBus(config)
	if err != nil {
		return nil, fmt.Errorf("failed to init event bus: %w", err)
	}

	sink, err := InitArchiveSink(config, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to init archive sink: %w", err)
	}

	store := &Store{
		Config:     config,
		logger:     logger,
		db:         db,
		sink:       sink,
		eventBus:   eventBus,
		namespaces: make(map[string]*Namespace),
	}
	store.defaultRegistry = initRegistry(config, config.Store, db, sink, eventBus, logger)

	for name, options := range config.Namespaces {
		storeConfig, err := namespaceStoreConfig(config.Store, options)
		if err != nil {
			return nil, fmt.Errorf("namespace %q: %w", name, err)
		}

		store.namespaces[name] = &Namespace{
			name:     name,
			registry: initRegistry(config, storeConfig, db, sink, eventBus, logger),
		}
	}

	return store, nil
}

// ---------------------------------
// MIGRATIONS
// ---------------------------------

func (s *Store) RunMigrations(ctx context.Context) error {
	return RunStoreMigrations(ctx, s.logger, s.Config, s.db)
}

func (s *Store) DropMigrations(ctx context.Context) error {
	return DropStoreMigrations(ctx, s.logger, s.Config, s.db)
}

// ---------------------------------
// RECOVERY
// ---------------------------------

// Recover scans persisted scheduler state and rearms every pending wake,
// across the default namespace and all configured ones. Run it once at
// startup after migrations.
func (s *Store) Recover(ctx context.Context) error {
	// Registries share the scheduler table, so each one filters the scan
	// to the identities it owns: namespaced identities carry their prefix,
	// everything else belongs to the default registry.
	if err := s.defaultRegistry.RecoverPending(ctx, func(identity string) bool {
		for name := range s.namespaces {
			if strings.HasPrefix(identity, name+"/") {
				return false
			}
		}
		return true
	}); err != nil {
		return fmt.Errorf("failed to recover pending wakes: %w", err)
	}

	for name, ns := range s.namespaces {
		prefix := name + "/"
		if err := ns.registry.RecoverPending(ctx, func(identity string) bool {
			return strings.HasPrefix(identity, prefix)
		}); err != nil {
			return fmt.Errorf("failed to recover namespace %q: %w", name, err)
		}
	}
	return nil
}

// ---------------------------------
// OPERATIONS
// ---------------------------------

// Put stores value under (identity, key) with the given TTL. A zero TTL
// uses the configured default. The write, the capacity check and the wake
// scheduling all run on the identity's actor before Put returns.
func (s *Store) Put(ctx context.Context, identity, key string, value []byte, ttl time.Duration) error {
	return s.defaultRegistry.Put(ctx, identity, key, value, ttl)
}

// Get returns the record value, or found=false when the record is missing
// or already expired. In sliding mode a hit extends the record's lifetime.
func (s *Store) Get(ctx context.Context, identity, key string) ([]byte, bool, error) {
	return s.defaultRegistry.Get(ctx, identity, key)
}

// Delete removes a record. Deleting a missing record is not an error.
func (s *Store) Delete(ctx context.Context, identity, key string) error {
	return s.defaultRegistry.Delete(ctx, identity, key)
}

// CheckRateLimit applies a sliding-window counter for clientID under the
// identity and records the request when admitted.
func (s *Store) CheckRateLimit(ctx context.Context, identity, clientID string, limit int, window time.Duration) (models.RateLimitResult, error) {
	return s.defaultRegistry.CheckRateLimit(ctx, identity, clientID, limit, window)
}

// ---------------------------------
// NAMESPACES
// ---------------------------------

// Namespace is a view of the store with its own record-store configuration
// (TTL, expiry mode, capacity). Identities in different namespaces never
// collide.
type Namespace struct {
	name     string
	registry *actor.Registry
}

// Namespace returns the named view. The namespace must have been declared
// in the configuration; unknown names panic, matching the panic-on-invalid
// convention of config validation.
func (s *Store) Namespace(name string) *Namespace {
	ns, ok := s.namespaces[name]
	if !ok {
		panic("unknown namespace: " + name)
	}
	return ns
}

func (n *Namespace) identity(identity string) string {
	return n.name + "/" + identity
}

func (n *Namespace) Put(ctx context.Context, identity, key string, value []byte, ttl time.Duration) error {
	return n.registry.Put(ctx, n.identity(identity), key, value, ttl)
}

func (n *Namespace) Get(ctx context.Context, identity, key string) ([]byte, bool, error) {
	return n.registry.Get(ctx, n.identity(identity), key)
}

func (n *Namespace) Delete(ctx context.Context, identity, key string) error {
	return n.registry.Delete(ctx, n.identity(identity), key)
}

func (n *Namespace) CheckRateLimit(ctx context.Context, identity, clientID string, limit int, window time.Duration) (models.RateLimitResult, error) {
	return n.registry.CheckRateLimit(ctx, n.identity(identity), clientID, limit, window)
}

// ---------------------------------
// ACCESSORS / SHUTDOWN
// ---------------------------------

// EventBus exposes the telemetry bus so host applications can subscribe to
// reclamation, eviction and rate-limit events.
func (s *Store) EventBus() models.EventBus {
	return s.eventBus
}

// DB exposes the underlying connection, mainly for tests and host-side
// migrations tooling.
func (s *Store) DB() bun.IDB {
	return s.db
}

// Close stops all actors and revival timers, closes the event bus and the
// archive sink. Persisted wakes stay in the database for the next process.
func (s *Store) Close() error {
	s.defaultRegistry.Close()
	for _, ns := range s.namespaces {
		ns.registry.Close()
	}

	if s.sink != nil {
		if err := s.sink.Close(); err != nil {
			s.logger.Warn("failed to close archive sink", "error", err)
		}
	}

	if err := s.eventBus.Close(); err != nil {
		return fmt.Errorf("failed to close event bus: %w", err)
	}

	return nil
}
