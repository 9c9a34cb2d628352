// SSCMA Core - host daemon for SSCMA edge-AI cameras.
//
// It reaches one device over a serial port or an MQTT broker, keeps the
// device state machine running, records events to SQLite and InfluxDB,
// and serves a REST and WebSocket API for local dashboards.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/sscma-core/migrations"

	"github.com/nerrad567/sscma-core/internal/api"
	"github.com/nerrad567/sscma-core/internal/device"
	"github.com/nerrad567/sscma-core/internal/history"
	"github.com/nerrad567/sscma-core/internal/infrastructure/config"
	"github.com/nerrad567/sscma-core/internal/infrastructure/database"
	"github.com/nerrad567/sscma-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/sscma-core/internal/infrastructure/logging"
	"github.com/nerrad567/sscma-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/sscma-core/internal/protocol"
	"github.com/nerrad567/sscma-core/internal/telemetry"
	"github.com/nerrad567/sscma-core/internal/transport"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
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

// run is the application logic, separated from main for testability.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting SSCMA Core",
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

	// Observers are appended as each sink comes up.
	var observers device.Observers
	state := &deviceState{}

	var db *database.DB
	var repo history.Repository
	if cfg.History.Enabled {
		db, err = openHistory(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		sqliteRepo := history.NewSQLiteRepository(db.DB)
		repo = sqliteRepo
		observers = append(observers, history.NewRecorder(sqliteRepo, history.RecorderOptions{
			StoreImages: cfg.History.StoreImages,
			Logger:      log,
		}))
	} else {
		log.Info("history disabled")
	}

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
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
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
		observers = append(observers, telemetry.NewRecorder(influxClient, state))
	} else {
		log.Info("InfluxDB disabled")
	}

	var hub *api.Hub
	if cfg.API.Enabled {
		hub = api.NewHub(cfg.WebSocket, log)
		observers = append(observers, hub)
	}

	var mqttClient *mqtt.Client
	if cfg.Device.Transport == config.TransportMQTT {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
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
	}

	link, err := newTransport(cfg, mqttClient, log)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := link.Disconnect(); closeErr != nil {
			log.Error("error closing device link", "error", closeErr)
		}
	}()

	metrics, err := protocol.NewMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}
	engine := protocol.NewClient(link, protocol.Options{
		Timeout:        cfg.Protocol.Timeout,
		TryCount:       cfg.Protocol.TryCount,
		MaxFrameSize:   cfg.Protocol.MaxFrameSize,
		EventQueueSize: cfg.Protocol.EventQueueSize,
		Logger:         log,
		Metrics:        metrics,
	})
	link.SetOnReceive(engine.HandleBytes)

	dev := device.New(engine, link, device.Options{
		Timeout:         cfg.Protocol.Timeout,
		IdentityTimeout: cfg.Protocol.IdentityTimeout,
		Heartbeat:       cfg.Health.Heartbeat,
		Keepalive:       cfg.Health.Keepalive,
		RetryDelay:      cfg.Health.RetryDelay,
		Observer:        observers,
		Logger:          log,
	})
	state.dev = dev

	if startErr := dev.Start(ctx); startErr != nil {
		return fmt.Errorf("starting device: %w", startErr)
	}
	defer func() {
		log.Info("stopping device")
		dev.Stop()
	}()
	log.Info("device started", "transport", cfg.Device.Transport, "status", dev.Status().String())

	if cfg.API.Enabled {
		deps := api.Deps{
			Config:   cfg.API,
			WS:       cfg.WebSocket,
			Logger:   log,
			Device:   dev,
			Engine:   engine,
			Gatherer: prometheus.DefaultGatherer,
			Hub:      hub,
			Version:  version,
		}
		// Interface fields stay nil when the backing client is absent.
		if repo != nil {
			deps.History = repo
			deps.DB = db
		}
		if mqttClient != nil {
			deps.MQTT = mqttClient
		}

		srv, srvErr := api.New(deps)
		if srvErr != nil {
			return fmt.Errorf("creating API server: %w", srvErr)
		}
		if startErr := srv.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse: API, device, link, MQTT, InfluxDB, database.
	log.Info("SSCMA Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses SSCMA_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("SSCMA_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// openHistory opens the SQLite store, applies migrations and prunes old rows.
func openHistory(ctx context.Context, cfg *config.Config, log *logging.Logger) (*database.DB, error) {
	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	log.Info("database connected", "path", cfg.Database.Path)

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database migrations complete")

	if cfg.History.RetentionDays > 0 {
		retention := time.Duration(cfg.History.RetentionDays) * 24 * time.Hour
		pruned, err := history.NewSQLiteRepository(db.DB).Prune(ctx, retention)
		if err != nil {
			log.Warn("history prune failed", "error", err)
		} else if pruned > 0 {
			log.Info("history pruned", "rows", pruned, "retention_days", cfg.History.RetentionDays)
		}
	}
	return db, nil
}

// newTransport builds the byte link selected by device.transport.
func newTransport(cfg *config.Config, broker *mqtt.Client, log *logging.Logger) (transport.Transport, error) {
	switch cfg.Device.Transport {
	case config.TransportMQTT:
		link, err := transport.NewMQTT(broker, transport.MQTTOptions{
			ClientID: cfg.Device.ClientID,
			Topics:   mqtt.Topics{Prefix: cfg.Device.TopicPrefix},
			QoS:      byte(cfg.MQTT.QoS),
			Logger:   log,
		})
		if err != nil {
			return nil, fmt.Errorf("creating MQTT transport: %w", err)
		}
		log.Info("device link over MQTT", "rx", link.RxTopic(), "tx", link.TxTopic())
		return link, nil
	case config.TransportSerial:
		log.Info("device link over serial",
			"port", cfg.Device.Serial.Port,
			"baud_rate", cfg.Device.Serial.BaudRate,
		)
		return transport.NewSerial(cfg.Device.Serial, log), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Device.Transport)
	}
}

// deviceState lets sinks created before the device read its snapshot.
type deviceState struct {
	dev *device.Device
}

func (s *deviceState) Snapshot() device.State {
	if s.dev == nil {
		return device.State{}
	}
	return s.dev.Snapshot()
}

// healthCheck verifies the infrastructure connections that are in use.
// Nil clients are skipped.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
