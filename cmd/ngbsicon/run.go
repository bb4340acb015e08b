package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/api"
	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/broadcast"
	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/clients"
	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/device"
	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/discovery"
	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/infrastructure/config"
	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/infrastructure/database"
	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/infrastructure/influxdb"
	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/infrastructure/logging"
	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/infrastructure/metrics"
	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/infrastructure/mqtt"
	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/pairing"
	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/poller"
	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/thermostat"
	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/migrations"

	bridge "github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/bridges/ngbs"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the bridge until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig(true)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
}

// run is the bridge lifecycle, separated from the command for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context, cfg *config.Config) error {
	log := logging.New(cfg.Logging, version)
	defer log.Close() //nolint:errcheck // nothing left to log to
	log.Info("starting NGBS Icon bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
		"bridge_id", cfg.Bridge.ID,
	)

	// Open database
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
	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	registry := device.NewRegistry(device.NewSQLiteRepository(db.DB))
	registry.SetLogger(log)
	if refreshErr := registry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading device registry: %w", refreshErr)
	}
	log.Info("device registry initialised", "devices", registry.GetDeviceCount())

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT,
		mqtt.WithLogger(log),
		mqtt.WithOnConnect(func() { log.Info("MQTT session established") }),
		mqtt.WithOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) }),
	)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
		"topic_prefix", mqttClient.Topics().Prefix(),
	)

	// Telemetry is optional.
	influxClient, err := influxdb.Connect(cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
	case err != nil:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	m := metrics.New()

	// Controller plumbing: one client per address, shared by every device
	// on it; the poller refreshes them and fans results out.
	dialOpts := controllerOptions(cfg.Controllers)
	clientRegistry := clients.NewWithOptions(dialOpts,
		clients.WithLogger(log),
		clients.WithObserver(m.SetConnections),
	)
	broadcaster := broadcast.New()
	broadcaster.SetLogger(log)

	p, err := poller.New(poller.Config{
		Registry:  clientRegistry,
		Publisher: broadcaster,
		Interval:  cfg.Bridge.PollInterval,
		Observer:  m,
		Logger:    log,
	})
	if err != nil {
		return fmt.Errorf("creating poller: %w", err)
	}
	p.Start(ctx)
	defer func() {
		log.Info("stopping poller")
		p.Stop()
	}()

	bridgeOpts := bridge.Options{
		BridgeID:       cfg.Bridge.ID,
		Version:        version,
		HealthInterval: cfg.Bridge.HealthInterval,
		SettleDelay:    cfg.Bridge.SettleDelay,
		MQTTClient:     mqttClient,
		Store:          registry,
		Feeds: map[thermostat.Kind]thermostat.Feed{
			thermostat.KindThermostat:       thermostat.NewBroadcastFeed(clientRegistry, broadcaster),
			thermostat.KindModbusThermostat: thermostat.NewPollFeed(p, clientRegistry, log),
		},
		Connections: clientRegistry,
		Observer:    m,
		Logger:      log,
	}
	if influxClient != nil {
		bridgeOpts.Recorder = influxClient
		bridgeOpts.Commands = influxClient
	}
	b, err := bridge.NewBridge(bridgeOpts)
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}
	if err := b.Start(ctx); err != nil {
		return fmt.Errorf("starting bridge: %w", err)
	}
	defer func() {
		log.Info("stopping bridge")
		b.Stop()
	}()

	// HTTP API (optional)
	if cfg.API.Enabled {
		srv, err := newAPIServer(cfg, log, registry, b, clientRegistry, m, mqttClient)
		if err != nil {
			return err
		}
		if err := srv.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API server disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order: API, bridge, poller, InfluxDB,
	// MQTT, database.
	return nil
}

// newAPIServer wires the HTTP API to the running bridge.
func newAPIServer(cfg *config.Config, log *logging.Logger, registry *device.Registry, b *bridge.Bridge,
	clientRegistry *clients.Registry, m *metrics.Metrics, mqttClient *mqtt.Client) (*api.Server, error) {
	catalog, err := pairing.LoadCatalog()
	if err != nil {
		return nil, fmt.Errorf("loading pairing messages: %w", err)
	}
	scanner := newScanner(cfg, log)

	srv, err := api.New(api.Deps{
		Config:   cfg.API,
		Logger:   log,
		Registry: registry,
		Bridge:   b,
		NewSession: func(kind thermostat.Kind) (*pairing.Session, error) {
			return pairing.NewSession(pairing.Config{
				Kind:       kind,
				Registry:   clientRegistry,
				Discoverer: scanner,
				Catalog:    catalog,
				Locale:     cfg.Locale,
				Logger:     log,
			})
		},
		Discoverer:   scanner,
		Metrics:      m.Handler(),
		ScanObserver: m,
		MQTT:         mqttClient,
		Version:      version,
	})
	if err != nil {
		return nil, fmt.Errorf("creating API server: %w", err)
	}
	return srv, nil
}

// newScanner builds the controller discovery scanner from config.
func newScanner(cfg *config.Config, log discovery.Logger) *discovery.Scanner {
	return discovery.New(discovery.Config{
		Options:      controllerOptions(cfg.Controllers),
		BatchSize:    cfg.Discovery.BatchSize,
		ProbeTimeout: cfg.Discovery.ProbeTimeout,
		Logger:       log,
	})
}

// healthCheck verifies all infrastructure connections are healthy.
// influxClient may be nil when telemetry is disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
