// SenseCraft Core - device session and transport daemon
//
// sensecraftd loads config entries from its SQLite store, keeps one live
// session per SenseCraft device (cloud, Jetson, SSCMA vision, Watcher and
// reCamera gimbal) and republishes device traffic on the event bus.
//
// Usage:
//
//	sensecraftd                 run the daemon
//	sensecraftd token <subject> print an API bearer token
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/nerrad567/sensecraft-core/internal/api"
	"github.com/nerrad567/sensecraft-core/internal/auth"
	"github.com/nerrad567/sensecraft-core/internal/entry"
	"github.com/nerrad567/sensecraft-core/internal/eventbus"
	"github.com/nerrad567/sensecraft-core/internal/infrastructure/config"
	"github.com/nerrad567/sensecraft-core/internal/infrastructure/database"
	"github.com/nerrad567/sensecraft-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/sensecraft-core/internal/infrastructure/logging"
	"github.com/nerrad567/sensecraft-core/internal/ingress"
	"github.com/nerrad567/sensecraft-core/internal/session"
	"github.com/nerrad567/sensecraft-core/internal/telemetry"
	"github.com/nerrad567/sensecraft-core/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"
	shutdownTimeout   = 15 * time.Second
)

func main() {
	// A missing .env is normal outside development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Error: loading .env: %v\n", err)
		os.Exit(1)
	}

	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := printToken(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires every component and blocks until ctx is cancelled.
// Deferred closes run in reverse start order.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting sensecraft-core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath, "level", cfg.Logging.Level)

	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	// The bus outlives ctx so shutdown events still drain.
	busCtx, stopBus := context.WithCancel(context.Background())
	bus := eventbus.New(log.Logger)
	busDone := make(chan struct{})
	go func() {
		defer close(busDone)
		bus.Run(busCtx)
	}()
	defer func() {
		stopBus()
		<-busDone
	}()

	checks := map[string]api.HealthChecker{"database": db}

	if cfg.InfluxDB.Enabled {
		influxClient, connErr := influxdb.Connect(ctx, cfg.InfluxDB)
		if connErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", connErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		detach := telemetry.New(influxClient, log).Attach(bus)
		defer detach()
		checks["influxdb"] = influxClient
		log.Info("telemetry enabled", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	pool := ingress.NewPool(ingress.Options{
		Host:        cfg.Ingress.Host,
		MaxBodySize: cfg.Ingress.MaxBodySize,
		ReadTimeout: time.Duration(cfg.Ingress.ReadTimeout) * time.Second,
		Logger:      log,
	})
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if closeErr := pool.Close(closeCtx); closeErr != nil {
			log.Error("error closing ingress", "error", closeErr)
		}
	}()
	push, err := pool.Get(cfg.Ingress.Port)
	if err != nil {
		return fmt.Errorf("starting ingress: %w", err)
	}

	deps := session.Deps{
		Bus:       bus,
		Logger:    log,
		Ingress:   push,
		Transport: cfg.Transport,
		Watcher:   cfg.Watcher,
		Cloud:     cfg.Cloud,
	}.WithDefaults()

	manager := entry.NewManager(entry.NewSQLiteRepository(db.DB), deps, entry.ManagerOptions{Logger: log})
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if closeErr := manager.Close(closeCtx); closeErr != nil {
			log.Error("error unloading sessions", "error", closeErr)
		}
	}()
	if seedErr := manager.Seed(ctx, cfg.Entries); seedErr != nil {
		return fmt.Errorf("seeding entries: %w", seedErr)
	}
	// Failed entries stay in setup_error and can be reloaded over the API.
	if setupErr := manager.SetupAll(ctx); setupErr != nil {
		log.Warn("some entries failed to set up", "error", setupErr)
	}

	srv, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Security: cfg.Security,
		Logger:   log,
		Manager:  manager,
		Events:   bus,
		Checks:   checks,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := srv.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := srv.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")
	return nil
}

// printToken prints a bearer token for the API signed with the configured secret.
func printToken(args []string) error {
	if len(args) != 1 || args[0] == "" {
		return errors.New("usage: sensecraftd token <subject>")
	}
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	ttl := time.Duration(cfg.Security.JWT.AccessTokenTTL) * time.Minute
	token, err := auth.GenerateToken(args[0], cfg.Security.JWT.Secret, ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}
	fmt.Println(token)
	return nil
}

// getConfigPath returns SENSECRAFT_CONFIG or the default path.
func getConfigPath() string {
	if path := os.Getenv("SENSECRAFT_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
