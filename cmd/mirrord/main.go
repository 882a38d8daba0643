// Mirror Core - virtual-entity synchronization runtime.
//
// mirrord hosts the entity runtime: it opens the configured persistence
// backend, connects the event bus and the optional history recorder,
// and keeps declared entities synchronized across restarts. The link to
// an external consumer is wired by the embedding application; standing
// alone, mirrord keeps state durable and serves the discovery surface.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/mirrorstate/mirror-core/migrations"

	"github.com/mirrorstate/mirror-core/internal/entity"
	"github.com/mirrorstate/mirror-core/internal/infrastructure/bus"
	"github.com/mirrorstate/mirror-core/internal/infrastructure/config"
	"github.com/mirrorstate/mirror-core/internal/infrastructure/history"
	"github.com/mirrorstate/mirror-core/internal/infrastructure/logging"
	"github.com/mirrorstate/mirror-core/internal/infrastructure/storage"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for
// testability. Returning an error allows main to handle exit codes
// consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Mirror Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open the persistence backend
	backend, err := storage.Open(ctx, cfg.Storage, cfg.App.Name, log)
	if err != nil {
		return fmt.Errorf("opening storage backend: %w", err)
	}
	defer func() {
		log.Info("closing storage backend")
		if closeErr := backend.Close(); closeErr != nil {
			log.Error("error closing storage backend", "error", closeErr)
		}
	}()
	log.Info("storage backend opened", "engine", cfg.Storage.Engine)

	// Connect the event bus. Without a broker the runtime runs on an
	// in-process bus: scheduler bindings still work, nothing leaves
	// the process.
	var eventBus entity.Bus
	if cfg.Bus.Enabled {
		client, connErr := bus.Connect(cfg.Bus)
		if connErr != nil {
			return fmt.Errorf("connecting event bus: %w", connErr)
		}
		client.SetLogger(log)
		defer func() {
			log.Info("disconnecting event bus")
			if closeErr := client.Close(); closeErr != nil {
				log.Error("error closing event bus", "error", closeErr)
			}
		}()
		log.Info("event bus connected",
			"broker", fmt.Sprintf("%s:%d", cfg.Bus.Broker.Host, cfg.Bus.Broker.Port),
			"client_id", cfg.Bus.Broker.ClientID,
		)
		eventBus = client
	} else {
		log.Info("event bus disabled, using in-process bus")
		eventBus = bus.NewMemory()
	}

	// Connect the history recorder (optional)
	var recorder entity.Recorder
	if cfg.History.Enabled {
		histClient, connErr := history.Connect(cfg.History)
		if connErr != nil {
			return fmt.Errorf("connecting history recorder: %w", connErr)
		}
		histClient.SetOnError(func(err error) {
			log.Error("history write error", "error", err)
		})
		defer func() {
			log.Info("closing history recorder")
			if closeErr := histClient.Close(); closeErr != nil {
				log.Error("error closing history recorder", "error", closeErr)
			}
		}()
		log.Info("history recorder connected",
			"url", cfg.History.URL,
			"org", cfg.History.Org,
			"bucket", cfg.History.Bucket,
		)
		recorder = histClient
	} else {
		log.Info("history recorder disabled")
	}

	// Build the entity runtime
	runtime := entity.NewRuntime(entity.Options{
		AppName: cfg.App.Name,
		Backend: backend,
		Bus:     eventBus,
		History: recorder,
		Logger:  log,
	})
	defer func() {
		log.Info("stopping entity runtime")
		runtime.Flush()
		runtime.Close()
	}()

	// Storage is reachable: load persisted entity state
	runtime.SetReady(ctx)
	log.Info("initialisation complete, waiting for shutdown signal",
		"discovery_hash", runtime.Hash(),
	)

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order:
	// 1. Entity runtime (flush queued writes)
	// 2. History recorder (if enabled)
	// 3. Event bus (if connected)
	// 4. Storage backend

	log.Info("Mirror Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses MIRROR_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("MIRROR_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
