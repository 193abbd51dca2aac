package godurastore

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/go-viper/mapstructure/v2"
	"github.com/uptrace/bun"

	"github.com/GoDuraStore/go-dura-store/events"
	"github.com/GoDuraStore/go-dura-store/internal/actor"
	"github.com/GoDuraStore/go-dura-store/internal/archive"
	internalbootstrap "github.com/GoDuraStore/go-dura-store/internal/bootstrap"
	internalevents "github.com/GoDuraStore/go-dura-store/internal/events"
	"github.com/GoDuraStore/go-dura-store/internal/migrations"
	internalrepositories "github.com/GoDuraStore/go-dura-store/internal/repositories"
	internalservices "github.com/GoDuraStore/go-dura-store/internal/services"
	"github.com/GoDuraStore/go-dura-store/models"
)

// InitLogger initializes the logger based on configuration
func InitLogger(config *models.Config) models.Logger {
	return internalbootstrap.InitLogger(internalbootstrap.LoggerOptions{Level: config.Logger.Level})
}

// InitDatabase creates a Bun DB connection based on provider
func InitDatabase(config *models.Config) (bun.IDB, error) {
	return internalbootstrap.InitDatabase(config.Database, config.Logger.Level)
}

// InitEventBus creates an event bus based on the configuration
func InitEventBus(config *models.Config) (models.EventBus, error) {
	// Default to gochannel if not specified
	provider := config.EventBus.Provider
	if provider == "" {
		provider = events.ProviderGoChannel.String()
	}

	eventBusConfig := config.EventBus
	eventBusConfig.Provider = provider
	if provider == events.ProviderGoChannel.String() && eventBusConfig.GoChannel == nil {
		eventBusConfig.GoChannel = &models.GoChannelConfig{
			BufferSize: 100,
		}
	}

	logger := watermill.NewStdLogger(false, false)

	pubsub, err := internalevents.InitWatermillProvider(&eventBusConfig, logger)
	if err != nil {
		return nil, err
	}

	return internalevents.NewEventBus(config, logger, pubsub), nil
}

// InitArchiveSink creates the archive sink, or nil when archival is disabled.
func InitArchiveSink(config *models.Config, logger models.Logger) (archive.Sink, error) {
	return archive.NewSink(config.Archive, logger)
}

// namespaceStoreConfig overlays the raw option map for a namespace onto the
// base store configuration. Unknown keys are rejected so a typo in a host
// application's config file fails loudly at startup instead of silently
// using defaults.
func namespaceStoreConfig(base models.StoreConfig, options map[string]any) (models.StoreConfig, error) {
	resolved := base

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      &resolved,
		ErrorUnused: true,
		DecodeHook:  mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return resolved, err
	}

	if err := decoder.Decode(options); err != nil {
		return resolved, fmt.Errorf("invalid namespace options: %w", err)
	}

	return resolved, nil
}

// initRegistry builds the full service stack for one namespace and wraps it
// in an actor registry. All namespaces share the database connection, the
// archive sink and the event bus; the store configuration is what differs.
func initRegistry(
	config *models.Config,
	storeConfig models.StoreConfig,
	db bun.IDB,
	sink archive.Sink,
	eventBus models.EventBus,
	logger models.Logger,
) *actor.Registry {
	recordRepo := internalrepositories.NewBunRecordRepository(db)
	schedulerRepo := internalrepositories.NewBunSchedulerRepository(db)
	rateEventRepo := internalrepositories.NewBunRateEventRepository(db)

	recordService := internalservices.NewRecordService(recordRepo, storeConfig, logger)
	admissionService := internalservices.NewAdmissionService(recordRepo, storeConfig, eventBus, logger)
	rateLimitService := internalservices.NewRateLimitService(rateEventRepo, config.RateLimit, eventBus, logger)
	reclaimService := internalservices.NewReclaimService(
		recordRepo,
		rateEventRepo,
		sink,
		config.Reclaim,
		config.Actors.ShardCount,
		eventBus,
		logger,
	)

	return actor.NewRegistry(
		config.Actors,
		recordService,
		admissionService,
		rateLimitService,
		reclaimService,
		schedulerRepo,
		config.Reclaim,
		logger,
	)
}

// RunStoreMigrations applies the record store schema for the configured
// database provider.
func RunStoreMigrations(ctx context.Context, logger models.Logger, config *models.Config, db bun.IDB) error {
	return migrations.RunStoreMigrations(ctx, logger, config.Logger.Level, config.Database.Provider, db)
}

// DropStoreMigrations rolls back the record store schema.
func DropStoreMigrations(ctx context.Context, logger models.Logger, config *models.Config, db bun.IDB) error {
	return migrations.DropStoreMigrations(ctx, logger, config.Logger.Level, config.Database.Provider, db)
}
