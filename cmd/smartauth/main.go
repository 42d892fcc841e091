// SmartAuth - credential and session authority for the SmartCity platform.
//
// This binary serves the citizen and employee auth endpoints and consumes the
// citizen onboarding feed from the message bus.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	_ "github.com/nerrad567/smartauth/migrations"

	"github.com/nerrad567/smartauth/internal/api"
	"github.com/nerrad567/smartauth/internal/audit"
	"github.com/nerrad567/smartauth/internal/auth"
	"github.com/nerrad567/smartauth/internal/bridge"
	"github.com/nerrad567/smartauth/internal/directory"
	"github.com/nerrad567/smartauth/internal/infrastructure/config"
	"github.com/nerrad567/smartauth/internal/infrastructure/database"
	"github.com/nerrad567/smartauth/internal/infrastructure/influxdb"
	"github.com/nerrad567/smartauth/internal/infrastructure/logging"
	"github.com/nerrad567/smartauth/internal/infrastructure/mqtt"
	"github.com/nerrad567/smartauth/internal/mail"
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
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires every component and blocks until ctx is cancelled or a
// background worker fails.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting SmartAuth",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
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

	// Open database
	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	checks := map[string]api.HealthChecker{"database": db}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
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
		checks["influxdb"] = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Build auth services and the citizen directory client
	manager, coordinator := newAuth(cfg, db, log)
	citizens := directory.New(cfg.Directory)

	// Onboarding bridge (if enabled). It connects to MQTT on its own loop.
	var onboarding *bridge.Bridge
	if cfg.Bridge.Enabled {
		deps := bridge.Deps{
			Connect:       mqttConnector(cfg.MQTT, log),
			Registrations: coordinator,
			Directory:     citizens,
			Mailer:        mail.NewSMTPSender(cfg.Mail),
			Config:        bridge.ConfigFrom(cfg),
			Logger:        log.Logger,
		}
		if influxClient != nil {
			deps.Metrics = influxClient
		}
		onboarding = bridge.New(deps)
		checks["bridge"] = onboarding
	} else {
		log.Info("onboarding bridge disabled")
	}

	// Start HTTP API
	apiDeps := api.Deps{
		Config:        cfg.API,
		Service:       cfg.Service,
		Logger:        log,
		Sessions:      manager,
		Registrations: coordinator,
		Directory:     citizens,
		Audit:         audit.NewSQLiteRepository(db.DB),
		Checks:        checks,
		Version:       version,
	}
	if influxClient != nil {
		apiDeps.Metrics = influxClient
	}
	server, err := api.New(apiDeps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	// Background workers. Deferred closes run in reverse order on return:
	// API server, InfluxDB, database.
	g, gctx := errgroup.WithContext(ctx)
	if onboarding != nil {
		g.Go(func() error { return onboarding.Run(gctx) })
	}
	if interval := cfg.Registration.SweepInterval(); interval > 0 {
		g.Go(func() error {
			sweepLoop(gctx, interval, manager, coordinator, log)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	log.Info("initialisation complete, waiting for shutdown signal")
	if err := g.Wait(); err != nil {
		return fmt.Errorf("background worker: %w", err)
	}

	log.Info("shutdown signal received, cleaning up")
	log.Info("SmartAuth stopped")
	return nil
}

// newAuth builds the session manager and registration coordinator over db.
func newAuth(cfg *config.Config, db *database.DB, log *logging.Logger) (*auth.Manager, *auth.Coordinator) {
	accounts := auth.NewAccountRepository(db.DB)
	employees := auth.NewEmployeeRepository(db.DB)
	manager := auth.NewManager(auth.ManagerDeps{
		Accounts:         accounts,
		Sessions:         auth.NewSessionRepository(db.DB),
		Employees:        employees,
		EmployeeSessions: auth.NewEmployeeSessionRepository(db.DB),
		Logger:           log.With("component", "sessions").Logger,
	})
	coordinator := auth.NewCoordinator(auth.CoordinatorDeps{
		Accounts:  accounts,
		Pending:   auth.NewPendingRepository(db.DB),
		Employees: employees,
		Registrar: auth.NewRegistrar(db.DB),
		Tokens:    manager,
		Policy: auth.RegistrationPolicy{
			AllowRootBootstrap:  cfg.Registration.AllowRootBootstrap,
			RootBootstrapAlways: cfg.Registration.RootBootstrapAlways,
			PendingCodeTTL:      cfg.Registration.PendingCodeTTL(),
		},
		Logger: log.With("component", "registration").Logger,
	})
	return manager, coordinator
}

// mqttConnector opens a fresh broker session for each bridge attempt.
func mqttConnector(cfg config.MQTTConfig, log *logging.Logger) bridge.Connector {
	return func(ctx context.Context) (bridge.Subscriber, error) {
		client, err := mqtt.Connect(ctx, cfg)
		if err != nil {
			return nil, err
		}
		client.SetLogger(log)
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.Broker.Host, cfg.Broker.Port),
			"client_id", cfg.Broker.ClientID,
		)
		return client, nil
	}
}

// purger is the housekeeping surface of the auth layer.
type purger interface {
	PurgeExpiredSessions(ctx context.Context) (int64, error)
}

type pendingPurger interface {
	PurgeStalePending(ctx context.Context) (int64, error)
}

// sweepLoop deletes expired sessions and stale codes every interval.
func sweepLoop(ctx context.Context, interval time.Duration, sessions purger, pending pendingPurger, log *logging.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep(ctx, sessions, pending, log)
		}
	}
}

func sweep(ctx context.Context, sessions purger, pending pendingPurger, log *logging.Logger) {
	if n, err := sessions.PurgeExpiredSessions(ctx); err != nil {
		log.Warn("session sweep failed", "error", err)
	} else if n > 0 {
		log.Info("expired sessions purged", "count", n)
	}
	if n, err := pending.PurgeStalePending(ctx); err != nil {
		log.Warn("pending code sweep failed", "error", err)
	} else if n > 0 {
		log.Info("stale registration codes purged", "count", n)
	}
}

// getConfigPath returns the configuration file path.
// Uses SMARTAUTH_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("SMARTAUTH_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
