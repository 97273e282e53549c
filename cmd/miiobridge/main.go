// Gray Logic miio bridge
//
// This is the entry point for the miio bridge, which exposes Xiaomi Miio
// devices to Gray Logic over MQTT. Device control goes through a long-lived
// python-miio helper process; the bridge owns the device inventory, validates
// every call against the capability schemas the library reports, and
// acknowledges each command on the bus.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/gray-logic-miio/internal/bridges/miio"
	"github.com/nerrad567/gray-logic-miio/internal/device"
	"github.com/nerrad567/gray-logic-miio/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-miio/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-miio/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-miio/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-miio/internal/infrastructure/mqtt"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const defaultConfigPath = "configs/miio-bridge.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the bridge together and blocks until ctx is cancelled or the
// MQTT client gives up reconnecting. Deferred cleanups run in reverse start
// order.
func run(parent context.Context) error {
	ctx, cancel := context.WithCancelCause(parent)
	defer cancel(nil)

	log := logging.Default()
	log.Info("starting miio bridge",
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
	log.Info("configuration loaded", "path", configPath, "bridge_id", cfg.Bridge.ID)

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
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", db.Path())

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB, cfg.Bridge.ID)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection", "stats", influxClient.Stats())
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	library, err := startLibrary(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("stopping miio helper")
		if stopErr := library.Stop(); stopErr != nil {
			log.Error("error stopping miio helper", "error", stopErr)
		}
	}()

	bridge, err := miio.NewBridge(miio.BridgeOptions{
		Library:   library,
		Serialize: cfg.Library.Serialize,
		Logger:    log.Component("bridge"),
	})
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}

	// The type set is fixed for the life of the process.
	registry, err := bridge.LoadRegistry(ctx)
	if err != nil {
		return fmt.Errorf("loading device types: %w", err)
	}
	log.Info("device types loaded", "types", registry.Len())

	factory := device.NewFactory(registry)
	catalog, err := loadCatalog(ctx, cfg, db, factory, log)
	if err != nil {
		return err
	}

	invoker := device.NewInvoker(registry, bridge)
	invoker.SetLogger(log.Component("invoker"))
	if influxClient != nil {
		invoker.SetRecorder(influxClient)
	}

	will, err := json.Marshal(miio.NewLWTMessage(cfg.Bridge.ID))
	if err != nil {
		return fmt.Errorf("encoding MQTT will: %w", err)
	}
	mqttClient, err := mqtt.Connect(cfg.MQTT, &mqtt.Will{
		Topic:    miio.HealthTopic(),
		Payload:  will,
		QoS:      1,
		Retained: true,
	})
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log.Component("mqtt"))
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	service, err := miio.NewService(miio.ServiceOptions{
		BridgeID:       cfg.Bridge.ID,
		Version:        version,
		MQTT:           &mqttBridgeAdapter{client: mqttClient},
		Devices:        catalog,
		Invoker:        invoker,
		Registry:       registry,
		Bridge:         bridge,
		Library:        library,
		HealthInterval: cfg.GetHealthInterval(),
		Workers:        cfg.Bridge.Workers,
		QueueSize:      cfg.Bridge.QueueSize,
		CommandTimeout: cfg.GetCommandTimeout(),
		Logger:         log.Component("service"),
	})
	if err != nil {
		return fmt.Errorf("creating command service: %w", err)
	}
	if err := service.Start(ctx); err != nil {
		return fmt.Errorf("starting command service: %w", err)
	}
	defer service.Stop()

	// A reconnect may follow a will publication, so restore the retained
	// health status.
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
		service.RefreshCounts()
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	// Without a broker the bridge is unreachable; exit so the service
	// manager restarts it with fresh connections.
	mqttClient.SetOnGiveUp(func(err error) {
		cancel(err)
	})

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	if cause := context.Cause(ctx); errors.Is(cause, mqtt.ErrReconnectExhausted) {
		log.Error("shutting down", "error", cause, "stats", service.Stats(), "mqtt", mqttClient.Stats())
		return fmt.Errorf("mqtt: %w", cause)
	}
	log.Info("shutdown signal received, cleaning up", "stats", service.Stats(), "mqtt", mqttClient.Stats())
	return nil
}

// getConfigPath returns MIIO_BRIDGE_CONFIG if set, otherwise the default.
func getConfigPath() string {
	if path := os.Getenv(config.EnvPrefix + "CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// startLibrary launches the python-miio helper and waits for it to answer.
func startLibrary(ctx context.Context, cfg *config.Config, log *logging.Logger) (*miio.PythonLibrary, error) {
	library := miio.NewPythonLibrary(miio.PythonConfig{
		Python:              cfg.Library.Python,
		HelperPath:          cfg.Library.HelperPath,
		PythonPath:          cfg.Library.PythonPath,
		StartupTimeout:      cfg.GetStartupTimeout(),
		RestartDelay:        cfg.GetRestartDelay(),
		MaxRestartAttempts:  cfg.Library.MaxRestartAttempts,
		HealthCheckInterval: cfg.Library.HealthCheckInterval,
	}, log.Component("miio-helper"))

	log.Info("starting miio helper", "python", cfg.Library.Python)
	if err := library.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting miio helper library: %w", err)
	}
	return library, nil
}

// loadCatalog mirrors the inventory file into the database and warms the
// device cache.
func loadCatalog(ctx context.Context, cfg *config.Config, db *database.DB, factory *device.Factory, log *logging.Logger) (*device.Catalog, error) {
	catalog := device.NewCatalog(device.NewSQLiteRepository(db.DB, factory))
	catalog.SetLogger(log.Component("catalog"))

	if cfg.DevicesFile != "" {
		devices, err := factory.LoadInventory(cfg.DevicesFile)
		if err != nil {
			return nil, fmt.Errorf("loading device inventory: %w", err)
		}
		created, updated, err := catalog.Import(ctx, devices)
		if err != nil {
			return nil, fmt.Errorf("importing device inventory: %w", err)
		}
		log.Info("device inventory imported",
			"path", cfg.DevicesFile,
			"created", created,
			"updated", updated,
		)
	}

	if err := catalog.RefreshCache(ctx); err != nil {
		return nil, fmt.Errorf("loading devices: %w", err)
	}
	log.Info("device catalog ready", "devices", catalog.GetDeviceCount())
	return catalog, nil
}

// healthCheck verifies the infrastructure connections. influxClient may be
// nil when telemetry is disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := db.HealthCheck(checkCtx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := mqttClient.HealthCheck(checkCtx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(checkCtx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to the command
// service's MQTTClient interface, whose handlers do not return errors.
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}
