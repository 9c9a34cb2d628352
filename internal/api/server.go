package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/sscma-core/internal/device"
	"github.com/nerrad567/sscma-core/internal/history"
	"github.com/nerrad567/sscma-core/internal/infrastructure/config"
	"github.com/nerrad567/sscma-core/internal/infrastructure/logging"
	"github.com/nerrad567/sscma-core/internal/protocol"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// DeviceController is the device surface the API drives.
// *device.Device satisfies it.
type DeviceController interface {
	Snapshot() device.State
	Info(ctx context.Context, skipCache bool) (*device.Info, error)
	Model(ctx context.Context, skipCache bool) (*device.ModelInfo, error)
	WiFi(ctx context.Context, skipCache bool) (*device.WiFiInfo, error)
	MQTT(ctx context.Context, skipCache bool) (*device.MQTTInfo, error)
	Sample(ctx context.Context, count int) (json.RawMessage, error)
	Invoke(ctx context.Context, count int, filter, show bool) (json.RawMessage, error)
	Break(ctx context.Context) error
	Reset(ctx context.Context) error
	TScore(ctx context.Context) (int, error)
	SetTScore(ctx context.Context, value int) error
	TIoU(ctx context.Context) (int, error)
	SetTIoU(ctx context.Context, value int) error
	SetWiFi(ctx context.Context, ssid, password string, enc device.Encryption) error
	SetMQTTServer(ctx context.Context, server device.MQTTServer) error
	SetMQTTPubSub(ctx context.Context, pubsub device.MQTTPubSub) error
}

// EngineStats reports protocol engine counters. *protocol.Client satisfies it.
type EngineStats interface {
	Stats() protocol.Stats
}

// DBStats reports connection pool statistics. *database.DB satisfies it.
type DBStats interface {
	Stats() sql.DBStats
}

// BrokerStatus reports the broker connection. *mqtt.Client satisfies it.
type BrokerStatus interface {
	IsConnected() bool
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config config.APIConfig
	WS     config.WebSocketConfig
	Logger *logging.Logger
	Device DeviceController

	// History serves /history endpoints. Optional.
	History history.Repository

	// Engine, DB and MQTT feed the system summary. Optional.
	Engine EngineStats
	DB     DBStats
	MQTT   BrokerStatus

	// Gatherer serves /metrics. Defaults to the Prometheus default registry.
	Gatherer prometheus.Gatherer

	// Hub is shared with the device as an observer. If nil, the server creates its own.
	Hub *Hub

	Version string
}

// Server is the HTTP API server for the SSCMA host.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	logger    *logging.Logger
	device    DeviceController
	history   history.Repository
	engine    EngineStats
	db        DBStats
	mqtt      BrokerStatus
	gatherer  prometheus.Gatherer
	version   string
	startTime time.Time
	server    *http.Server
	hub       *Hub
	cancel    context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Device == nil {
		return nil, fmt.Errorf("device is required")
	}
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	return &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		logger:    deps.Logger,
		device:    deps.Device,
		history:   deps.History,
		engine:    deps.Engine,
		db:        deps.DB,
		mqtt:      deps.MQTT,
		gatherer:  gatherer,
		version:   deps.Version,
		startTime: time.Now(),
		hub:       deps.Hub,
	}, nil
}

// Hub returns the WebSocket hub. It is nil until Start when none was injected.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins listening for HTTP connections in a background goroutine.
// The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
	}
	go s.hub.Run(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.Timeouts.ReadTimeout(),
		ReadHeaderTimeout: s.cfg.Timeouts.ReadTimeout(),
		WriteTimeout:      s.cfg.Timeouts.WriteTimeout(),
		IdleTimeout:       s.cfg.Timeouts.IdleTimeout(),
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
