// fleetsim - fleet OTA/DFU update simulator
//
// fleetsim models a fleet of gateway nodes and their battery powered
// endpoints, accepts firmware artifacts on per-node OTA channels, and
// simulates endpoint DFU under battery and backlog constraints.
//
// The simulator is driven over HTTP (chi), optionally over MQTT, and
// reports every change to a SQLite journal, WebSocket subscribers and,
// when enabled, InfluxDB.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/fleetsim/internal/api"
	"github.com/nerrad567/fleetsim/internal/fleet"
	"github.com/nerrad567/fleetsim/internal/infrastructure/config"
	"github.com/nerrad567/fleetsim/internal/infrastructure/database"
	"github.com/nerrad567/fleetsim/internal/infrastructure/influxdb"
	"github.com/nerrad567/fleetsim/internal/infrastructure/logging"
	"github.com/nerrad567/fleetsim/internal/infrastructure/mqtt"
	"github.com/nerrad567/fleetsim/internal/journal"
	"github.com/nerrad567/fleetsim/internal/scenario"
	"github.com/nerrad567/fleetsim/internal/simulator"
	"github.com/nerrad567/fleetsim/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/fleetsim.yaml"

// healthCheckTimeout bounds the startup health check.
const healthCheckTimeout = 5 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting fleetsim",
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

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	components := make(map[string]api.HealthChecker)

	// Artifact journal: SQLite when enabled, otherwise process memory.
	var (
		db      *database.DB
		entries journal.Repository
	)
	if cfg.Database.Enabled {
		db, err = openDatabase(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		log.Info("database ready", "path", db.Path())
		entries = journal.NewSQLiteRepository(db.DB)
		components["database"] = db
	} else {
		log.Info("database disabled, journal kept in memory")
		entries = journal.NewMemoryRepository()
	}

	// InfluxDB (optional)
	var recorder simulator.Recorder
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
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
		recorder = influxClient
		components["influxdb"] = influxClient
	} else {
		log.Info("InfluxDB disabled")
	}

	registry := fleet.NewRegistry()
	registry.SetLogger(log.With("component", "fleet"))

	svc := simulator.New(registry, simulator.Options{
		Journal:  entries,
		Recorder: recorder,
		Logger:   log.With("component", "simulator"),
	})

	hub := api.NewHub(cfg.WebSocket, log.With("component", "websocket"))
	go hub.Run(ctx)
	svc.SetBroadcaster(hub)

	// MQTT (optional)
	var bridge *simulator.Bridge
	if cfg.MQTT.Enabled {
		mqttClient, connErr := mqtt.Connect(ctx, cfg.MQTT)
		if connErr != nil {
			return fmt.Errorf("connecting to MQTT: %w", connErr)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.With("component", "mqtt"))
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

		//nolint:gosec // G115: qos validated to 0-2 by config.Validate
		bridge = simulator.NewBridge(mqttClient, svc, byte(cfg.MQTT.QoS), log.With("component", "bridge"))
		svc.SetPublisher(bridge)
		components["mqtt"] = mqttClient
	} else {
		log.Info("MQTT disabled")
	}

	if err := seedAndListen(ctx, svc, bridge); err != nil {
		return err
	}
	log.Info("fleet seeded",
		"nodes", registry.NodeCount(),
		"endpoints", registry.EndpointCount(),
	)

	loader := scenarioLoader(cfg.Simulation)
	if cfg.Simulation.RunScenariosOnStart {
		if err := runStartupScenarios(ctx, svc, loader, cfg.Simulation.ReseedAfterScenarios, log); err != nil {
			return err
		}
	}

	server, err := api.New(api.Deps{
		Config:               cfg.API,
		WS:                   cfg.WebSocket,
		Logger:               log.With("component", "api"),
		Simulator:            svc,
		Journal:              entries,
		Scenarios:            loader,
		ReseedAfterScenarios: cfg.Simulation.ReseedAfterScenarios,
		DB:                   db,
		Components:           components,
		ExternalHub:          hub,
		Version:              version,
	})
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

	if err := healthCheck(ctx, components); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred closes run in reverse: API, MQTT, InfluxDB, database.
	log.Info("fleetsim stopped")
	return nil
}

// openDatabase opens the journal database and applies the embedded migrations.
func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*database.DB, error) {
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Path,
		WALMode:     cfg.WALMode,
		BusyTimeout: cfg.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx, migrations.Source()); err != nil {
		db.Close() //nolint:errcheck // migration error takes precedence
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}

// seedAndListen seeds the fleet, then subscribes the bridge to OTA ingress.
// Retained artifacts are delivered on subscribe and need their nodes to exist.
// bridge may be nil when MQTT is disabled.
func seedAndListen(ctx context.Context, svc *simulator.Service, bridge *simulator.Bridge) error {
	if err := svc.Init(ctx); err != nil {
		return fmt.Errorf("seeding fleet: %w", err)
	}
	if bridge == nil {
		return nil
	}
	if err := bridge.Start(ctx); err != nil {
		return fmt.Errorf("starting MQTT bridge: %w", err)
	}
	return nil
}

// scenarioLoader returns the scenario source named by cfg.
func scenarioLoader(cfg config.SimulationConfig) api.ScenarioLoader {
	if cfg.ScenarioDir == "" {
		return scenario.Defaults
	}
	dir := cfg.ScenarioDir
	return func() ([]*scenario.Scenario, error) {
		return scenario.LoadDirectory(dir)
	}
}

// runStartupScenarios runs every loaded scenario once and logs the outcome.
// Failing scenarios are reported but do not stop startup.
func runStartupScenarios(ctx context.Context, svc *simulator.Service, load api.ScenarioLoader, reseed bool, log *logging.Logger) error {
	scenarios, err := load()
	if err != nil {
		return fmt.Errorf("loading scenarios: %w", err)
	}

	runner := scenario.NewRunner(svc, log.With("component", "scenario"))
	passed := 0
	for _, res := range runner.RunAll(ctx, scenarios) {
		if res.Passed {
			passed++
			continue
		}
		log.Warn("scenario failed", "id", res.ID, "name", res.Name)
	}
	log.Info("startup scenarios complete", "total", len(scenarios), "passed", passed)

	if reseed {
		if err := svc.Init(ctx); err != nil {
			return fmt.Errorf("reseeding fleet: %w", err)
		}
	}
	return nil
}

// getConfigPath returns the configuration file path.
// Uses FLEETSIM_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("FLEETSIM_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies every enabled component responds.
func healthCheck(ctx context.Context, components map[string]api.HealthChecker) error {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	for name, c := range components {
		if err := c.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}
