// Lattice - oneM2M resource middleware
//
// This is the main entry point for the Lattice CSE. It wires the resource
// store, access oracle, discovery engine, transit forwarder, and dispatch
// core together, then exposes them through the HTTP, WebSocket, and MQTT
// bindings.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/wrenware/lattice/migrations"

	"github.com/wrenware/lattice/internal/addressing"
	"github.com/wrenware/lattice/internal/api"
	mqttbinding "github.com/wrenware/lattice/internal/bindings/mqtt"
	"github.com/wrenware/lattice/internal/discovery"
	"github.com/wrenware/lattice/internal/dispatch"
	"github.com/wrenware/lattice/internal/infrastructure/config"
	"github.com/wrenware/lattice/internal/infrastructure/database"
	"github.com/wrenware/lattice/internal/infrastructure/influxdb"
	"github.com/wrenware/lattice/internal/infrastructure/logging"
	"github.com/wrenware/lattice/internal/infrastructure/mqtt"
	"github.com/wrenware/lattice/internal/onem2m"
	"github.com/wrenware/lattice/internal/resource"
	"github.com/wrenware/lattice/internal/security"
	"github.com/wrenware/lattice/internal/stats"
	"github.com/wrenware/lattice/internal/store"
	"github.com/wrenware/lattice/internal/transit"
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

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Lattice",
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

	// Open database and bring the schema up to date
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
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

	// Resource store and first-start root seeding
	st := store.NewSQLiteStore(db.DB)
	if seedErr := seedCSEBase(ctx, st, cfg.CSE); seedErr != nil {
		return fmt.Errorf("seeding CSE base: %w", seedErr)
	}

	// Access oracle and discovery engine
	oracle := security.NewEvaluator(st, cfg.CSE.AdminOriginator, cfg.CSE.ID)
	engine := discovery.New(st, oracle, true)
	engine.SetLogger(log)
	engine.SetMaxLevel(cfg.CSE.MaxDiscoveryLevel)

	// Transit forwarder for federation peers
	forwarder := transit.NewHTTPForwarder(st, cfg.Registrar.Peers)
	forwarder.SetLogger(log)

	schedule, err := dispatch.ParseSchedule(cfg.CSE.Schedule)
	if err != nil {
		return fmt.Errorf("parsing schedule: %w", err)
	}

	// Stats collector, optionally exporting to InfluxDB
	var exporter stats.Exporter
	if cfg.InfluxDB.Enabled {
		influxClient, connErr := influxdb.Connect(cfg.InfluxDB)
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
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
		exporter = influxClient
	} else {
		log.Info("InfluxDB disabled")
	}
	collector := stats.NewCollector(exporter)

	// Dispatch core
	dispatcher, err := dispatch.New(dispatch.Deps{
		Store:     st,
		Oracle:    oracle,
		Discovery: engine,
		Forwarder: forwarder,
		Local: addressing.Local{
			CSEID:        cfg.CSE.ID,
			SPID:         cfg.CSE.SPID,
			ResourceName: cfg.CSE.ResourceName,
			ResourceID:   cfg.CSE.ResourceID,
		},
		Schedule: schedule,
		Logger:   log,
		Stats:    collector,
		Notifier: dispatch.NewHTTPNotifier(),
	})
	if err != nil {
		return fmt.Errorf("building dispatcher: %w", err)
	}

	// HTTP and WebSocket front end
	server, err := api.New(api.Deps{
		Config:     cfg.API,
		WS:         cfg.WebSocket,
		Security:   cfg.Security,
		Logger:     log,
		Dispatcher: dispatcher,
		Stats:      collector,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("building API server: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()
	log.Info("API server started", "host", cfg.API.Host, "port", cfg.API.Port)

	// MQTT front end (optional)
	if cfg.MQTT.Enabled {
		mqttClient, connErr := mqtt.Connect(cfg.MQTT)
		if connErr != nil {
			return fmt.Errorf("connecting to MQTT: %w", connErr)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		binding, bindErr := mqttbinding.New(mqttbinding.Deps{
			Client:     mqttClient,
			Dispatcher: dispatcher,
			Logger:     log,
			CSEID:      cfg.CSE.ID,
		})
		if bindErr != nil {
			return fmt.Errorf("building MQTT binding: %w", bindErr)
		}
		if startErr := binding.Start(); startErr != nil {
			return fmt.Errorf("starting MQTT binding: %w", startErr)
		}
		defer func() {
			if closeErr := binding.Close(); closeErr != nil {
				log.Error("error closing MQTT binding", "error", closeErr)
			}
		}()
	} else {
		log.Info("MQTT binding disabled")
	}

	// Verify infrastructure is healthy before declaring readiness
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("health check failed: database: %w", err)
	}
	if err := server.HealthCheck(ctx); err != nil {
		return fmt.Errorf("health check failed: api: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. MQTT binding, then MQTT client (if enabled)
	// 2. API server
	// 3. InfluxDB (if enabled)
	// 4. Database

	log.Info("Lattice stopped")
	return nil
}

// seedCSEBase creates the root resource on first start. An existing root
// is left untouched so restarts never reset it.
func seedCSEBase(ctx context.Context, st store.Store, cfg config.CSEConfig) error {
	_, err := st.Get(ctx, cfg.ResourceID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, onem2m.ErrNotFound) {
		return err
	}

	root := resource.NewCSEBase(cfg.ResourceID, cfg.ResourceName, cfg.ID)
	res := root.Resource()
	res.SRN = cfg.ResourceName
	return st.Create(ctx, res)
}

// getConfigPath returns the configuration file path.
// Uses LATTICE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("LATTICE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
