package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"attendance-bridge/internal/config"
	"attendance-bridge/internal/logging"
)

// Server represents the HTTP API server
type Server struct {
	logger     logrus.FieldLogger
	router     *mux.Router
	httpServer *http.Server
	handlers   *Handlers
	events     *EventHub
	listener   net.Listener
}

// ServerConfig holds API server specific configuration
type ServerConfig struct {
	Port         int    `mapstructure:"port"`
	Host         string `mapstructure:"host"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
	IdleTimeout  int    `mapstructure:"idle_timeout"`
}

// DefaultServerConfig returns default API server configuration
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:         8081,
		Host:         "127.0.0.1",
		ReadTimeout:  30,
		WriteTimeout: 120,
		IdleTimeout:  120,
	}
}

// ServerConfigFrom derives the server settings from the bridge configuration
func ServerConfigFrom(cfg config.APIConfig) *ServerConfig {
	serverCfg := DefaultServerConfig()
	if cfg.Host != "" {
		serverCfg.Host = cfg.Host
	}
	serverCfg.Port = cfg.Port
	return serverCfg
}

// NewServer creates a new API server instance. store may be nil, in which
// case only live device reads are served.
func NewServer(cfg *config.Config, serverCfg *ServerConfig, devices DeviceService, store Store, version string, logger logrus.FieldLogger) (*Server, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger = logging.NewServiceLogger(logger, "api")

	handlers, err := NewHandlers(cfg, logger, devices, store, version)
	if err != nil {
		return nil, err
	}

	server := &Server{
		logger:   logger,
		router:   mux.NewRouter(),
		handlers: handlers,
		events:   NewEventHub(logger),
	}

	server.setupMiddleware()
	server.setupRoutes()

	server.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", serverCfg.Host, serverCfg.Port),
		Handler:      server.router,
		ReadTimeout:  time.Duration(serverCfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(serverCfg.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(serverCfg.IdleTimeout) * time.Second,
	}

	return server, nil
}

// Events returns the hub streaming events to /api/v1/events subscribers
func (s *Server) Events() *EventHub {
	return s.events
}

// Handler returns the routed HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Listen binds the server address. Start calls it when it has not been
// called yet; calling it first lets callers learn the bound port.
func (s *Server) Listen() (net.Addr, error) {
	if s.listener != nil {
		return s.listener.Addr(), nil
	}
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	s.listener = listener
	return listener.Addr(), nil
}

// Start serves requests until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	addr, err := s.Listen()
	if err != nil {
		return err
	}

	s.logger.WithField("addr", addr.String()).Info("Starting API server")

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		return s.Shutdown()
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// hijacked websocket connections are not tracked by the http server
	s.events.Close()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.WithError(err).Error("Error during server shutdown")
		return err
	}

	s.logger.Info("API server shutdown complete")
	return nil
}

func (s *Server) setupMiddleware() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.recoveryMiddleware)
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/health", s.handlers.HealthCheck).Methods(http.MethodGet)
	api.HandleFunc("/devices", s.handlers.ListDevices).Methods(http.MethodGet)
	api.HandleFunc("/devices/{id}/users", s.handlers.DeviceUsers).Methods(http.MethodGet)
	api.HandleFunc("/devices/{id}/attendance", s.handlers.DeviceAttendance).Methods(http.MethodGet)
	api.HandleFunc("/sync", s.handlers.TriggerSync).Methods(http.MethodPost)
	api.HandleFunc("/events", s.events.HandleEvents).Methods(http.MethodGet)

	s.router.NotFoundHandler = http.HandlerFunc(s.handlers.NotFound)
	s.router.MethodNotAllowedHandler = http.HandlerFunc(s.handlers.MethodNotAllowed)
}
