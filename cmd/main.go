package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	godurastore "github.com/GoDuraStore/go-dura-store"
	godurastoreconfig "github.com/GoDuraStore/go-dura-store/config"
	godurastoreevents "github.com/GoDuraStore/go-dura-store/events"
	godurastoremodels "github.com/GoDuraStore/go-dura-store/models"
)

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// Run GoDuraStore in standalone mode: a durable record store daemon whose
// actors keep reclaiming expired records as long as the process lives.
func main() {
	err := godotenv.Load()
	if err != nil {
		env := os.Getenv("GO_ENV")
		if env != "production" {
			log.Fatal("No .env file found", "error", err)
			return
		}
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	tomlConfig := loadConfigFromFile()

	storeConfig := godurastoreconfig.NewConfig(
		godurastoreconfig.WithAppName(tomlConfig.AppName),
		godurastoreconfig.WithLogger(tomlConfig.Logger),
		godurastoreconfig.WithDatabase(tomlConfig.Database),
		godurastoreconfig.WithStore(tomlConfig.Store),
		godurastoreconfig.WithReclaim(tomlConfig.Reclaim),
		godurastoreconfig.WithRateLimit(tomlConfig.RateLimit),
		godurastoreconfig.WithArchive(tomlConfig.Archive),
		godurastoreconfig.WithActors(tomlConfig.Actors),
		godurastoreconfig.WithEventBus(tomlConfig.EventBus),
	)
	for name, options := range tomlConfig.Namespaces {
		godurastoreconfig.WithNamespace(name, options)(storeConfig)
	}

	store, err := godurastore.New(storeConfig)
	if err != nil {
		logger.Error("Failed to initialize store", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	if err := store.RunMigrations(ctx); err != nil {
		logger.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	if err := store.Recover(ctx); err != nil {
		logger.Error("Failed to recover pending wakes", "error", err)
		os.Exit(1)
	}

	subscribeTelemetry(store, logger)

	logger.Info("GoDuraStore standalone daemon running")

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-shutdownChan
	logger.Info("Shutdown signal received", "signal", sig.String())

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := store.Close(); err != nil {
			logger.Error("Failed to close store", "error", err)
		}
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		logger.Error("Shutdown timed out")
	}
}

// subscribeTelemetry logs the store's event stream so operators can watch
// reclamation, eviction and rate limiting without extra tooling.
func subscribeTelemetry(store *godurastore.Store, logger *slog.Logger) {
	if _, err := store.EventBus().Subscribe(godurastoreevents.EventReclamationFailed, func(_ context.Context, event godurastoremodels.Event) error {
		payload, err := godurastoreevents.DecodePayload[godurastoremodels.ReclamationFailedPayload](event)
		if err != nil {
			return err
		}
		logger.Warn("Reclamation failed", "identity", payload.Identity, "reason", payload.Reason, "attempts", payload.Attempts)
		return nil
	}); err != nil {
		logger.Warn("Failed to subscribe to store events", "type", godurastoreevents.EventReclamationFailed, "error", err)
	}

	for _, eventType := range []string{
		godurastoreevents.EventReclamationCompleted,
		godurastoreevents.EventRecordsEvicted,
		godurastoreevents.EventRateLimitDenied,
	} {
		if _, err := store.EventBus().Subscribe(eventType, func(_ context.Context, event godurastoremodels.Event) error {
			logger.Info("store event", "type", event.Type, "payload", string(event.Payload))
			return nil
		}); err != nil {
			logger.Warn("Failed to subscribe to store events", "type", eventType, "error", err)
		}
	}
}

// loadConfigFromFile attempts to load configuration from TOML file if it exists
func loadConfigFromFile() godurastoremodels.Config {
	configPath := getEnv("GO_DURA_STORE_CONFIG_PATH", "config.toml")
	var config godurastoremodels.Config

	if _, err := os.Stat(configPath); err != nil {
		// File doesn't exist, return empty config - will use env vars and defaults
		return config
	}

	if _, err := toml.DecodeFile(configPath, &config); err != nil {
		slog.Warn("Failed to parse TOML config file, will use environment variables and defaults", "path", configPath, "error", err)
	}

	return config
}
