package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"attendance-bridge/internal/api"
	"attendance-bridge/internal/config"
	"attendance-bridge/internal/database"
	"attendance-bridge/internal/logging"
	"attendance-bridge/internal/protocol"
	"attendance-bridge/internal/queue"
)

// Manager coordinates all bridge components and services
type Manager struct {
	mu     sync.RWMutex
	config *config.Config
	logger logrus.FieldLogger

	// Core components
	database   *database.DB
	syncer     *Syncer
	redisQueue *queue.RedisQueue
	forwarder  *queue.Forwarder

	// API server
	apiServer *api.Server

	// State
	isRunning   bool
	startTime   time.Time
	version     string
	syncRuns    int
	lastSyncAt  time.Time
	forwarded   int
	lastForward error

	cancel context.CancelFunc
}

// ManagerOption is a functional option for configuring the Manager
type ManagerOption func(*Manager)

// WithVersion sets the version for the manager
func WithVersion(version string) ManagerOption {
	return func(m *Manager) {
		m.version = version
	}
}

// WithLogger replaces the logger built from the configuration
func WithLogger(logger logrus.FieldLogger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a new bridge manager
func NewManager(cfg *config.Config, opts ...ManagerOption) (*Manager, error) {
	m := &Manager{
		config:  cfg,
		version: "unknown",
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.logger == nil {
		logger := logging.Initialize(cfg.LogLevel)
		if cfg.LogFile != "" {
			if err := logging.SetupFileLogging(logger, cfg.LogFile); err != nil {
				return nil, fmt.Errorf("failed to set up file logging: %w", err)
			}
		}
		m.logger = logger
	}

	if err := m.initializeComponents(); err != nil {
		m.Close()
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}

	return m, nil
}

func (m *Manager) initializeComponents() error {
	m.logger.WithField("devices", len(m.config.Devices)).Info("Initializing bridge components")

	db, err := database.Open(m.config.DatabasePath, m.config.EncryptionKey)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	m.database = db

	var publishers []queue.Publisher
	if m.config.Redis.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		redisQueue, err := queue.NewRedisQueue(ctx, m.config.Redis, m.logger)
		if err != nil {
			return err
		}
		m.redisQueue = redisQueue
		m.forwarder = queue.NewForwarder(db, redisQueue, 0, m.logger)
		publishers = append(publishers, redisQueue)
		m.logger.WithField("queue", redisQueue.Name()).Info("Publishing attendance to Redis")
	}

	if m.config.API.Enabled {
		server, err := api.NewServer(m.config, api.ServerConfigFrom(m.config.API), &deviceServiceWrapper{manager: m}, db, m.version, m.logger)
		if err != nil {
			return fmt.Errorf("failed to initialize API server: %w", err)
		}
		m.apiServer = server
		publishers = append(publishers, &eventPublisher{hub: server.Events()})
	}

	var publisher queue.Publisher
	switch len(publishers) {
	case 0:
	case 1:
		publisher = publishers[0]
	default:
		publisher = fanoutPublisher(publishers)
	}
	m.syncer = NewSyncer(m.config, db, publisher, m.logger)

	return nil
}

// Syncer returns the device syncer
func (m *Manager) Syncer() *Syncer {
	return m.syncer
}

// Database returns the bridge database
func (m *Manager) Database() *database.DB {
	return m.database
}

// APIServer returns the API server, or nil when the API is disabled
func (m *Manager) APIServer() *api.Server {
	return m.apiServer
}

// Start runs the API server and the periodic sync until ctx is cancelled
// or Stop is called.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.isRunning {
		m.mu.Unlock()
		return fmt.Errorf("bridge manager is already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.isRunning = true
	m.startTime = time.Now()
	m.mu.Unlock()
	defer cancel()

	m.logger.Info("Starting bridge manager")

	if err := m.syncer.RegisterDevices(); err != nil {
		m.shutdown()
		return fmt.Errorf("failed to register devices: %w", err)
	}

	var wg sync.WaitGroup

	if m.apiServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.apiServer.Start(ctx); err != nil {
				m.logger.WithError(err).Error("API server stopped with error")
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		m.syncLoop(ctx)
	}()

	m.logger.Info("Bridge manager started successfully")

	<-ctx.Done()
	wg.Wait()

	return m.shutdown()
}

// Stop gracefully stops all bridge components and services
func (m *Manager) Stop() error {
	m.mu.RLock()
	cancel := m.cancel
	m.mu.RUnlock()

	m.logger.Info("Stopping bridge manager")
	if cancel != nil {
		cancel()
	}
	return nil
}

func (m *Manager) syncLoop(ctx context.Context) {
	m.RunSync(ctx)

	ticker := time.NewTicker(m.config.Sync.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.RunSync(ctx)
		}
	}
}

// RunSync syncs every device once and forwards new punches
func (m *Manager) RunSync(ctx context.Context) []Result {
	results := m.syncer.SyncAll(ctx)
	m.finishSync(ctx)
	return results
}

// SyncDevice syncs one device and forwards new punches
func (m *Manager) SyncDevice(ctx context.Context, id string) (Result, error) {
	result, err := m.syncer.SyncDevice(ctx, id)
	m.finishSync(ctx)
	return result, err
}

func (m *Manager) finishSync(ctx context.Context) {
	forwarded, err := m.forward(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncRuns++
	m.lastSyncAt = time.Now()
	m.forwarded += forwarded
	m.lastForward = err
}

func (m *Manager) forward(ctx context.Context) (int, error) {
	if m.forwarder == nil {
		return 0, nil
	}
	n, err := m.forwarder.Forward(ctx)
	if err != nil {
		logging.LogServiceError(m.logger, err, "queue", "forward_punches", true)
	}
	return n, err
}

func (m *Manager) shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.isRunning {
		return nil
	}

	m.logger.Info("Shutting down bridge manager")
	m.isRunning = false

	if err := m.closeLocked(); err != nil {
		return err
	}

	m.logger.Info("Bridge manager shutdown completed successfully")
	return nil
}

// Close releases the database and queue connections of a manager that was
// never started. Start releases them itself on shutdown.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeLocked()
}

func (m *Manager) closeLocked() error {
	var errs []error

	if m.redisQueue != nil {
		if err := m.redisQueue.Close(); err != nil {
			m.logger.WithError(err).Error("Failed to close queue")
			errs = append(errs, fmt.Errorf("queue close: %w", err))
		}
		m.redisQueue = nil
	}

	if m.database != nil {
		if err := m.database.Close(); err != nil {
			m.logger.WithError(err).Error("Failed to close database")
			errs = append(errs, fmt.Errorf("database close: %w", err))
		}
		m.database = nil
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown completed with errors: %v", errs)
	}
	return nil
}

// IsRunning returns true if the bridge manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isRunning
}

// GetUptime returns the uptime of the bridge manager
func (m *Manager) GetUptime() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.uptimeLocked()
}

func (m *Manager) uptimeLocked() time.Duration {
	if !m.isRunning {
		return 0
	}
	return time.Since(m.startTime)
}

// GetStats returns statistics about the bridge manager
func (m *Manager) GetStats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := map[string]interface{}{
		"isRunning": m.isRunning,
		"uptime":    m.uptimeLocked(),
		"version":   m.version,
		"devices":   len(m.config.Devices),
		"syncRuns":  m.syncRuns,
		"forwarded": m.forwarded,
	}

	if m.isRunning {
		stats["startTime"] = m.startTime
	}
	if !m.lastSyncAt.IsZero() {
		stats["lastSyncAt"] = m.lastSyncAt
		stats["lastResults"] = m.syncer.LastResults()
	}
	if m.lastForward != nil {
		stats["forwardError"] = m.lastForward.Error()
	}

	if m.database != nil {
		if pending, err := m.database.UnpublishedCount(); err == nil {
			stats["unpublishedPunches"] = pending
		}
	}

	if m.redisQueue != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if length, err := m.redisQueue.Length(ctx); err == nil {
			stats["queueLength"] = length
		}
	}

	return stats
}

// deviceServiceWrapper adapts the manager to api.DeviceService
type deviceServiceWrapper struct {
	manager *Manager
}

func (w *deviceServiceWrapper) Devices() []config.DeviceConfig {
	return w.manager.syncer.Devices()
}

func (w *deviceServiceWrapper) Users(ctx context.Context, id string) ([]protocol.UserRecord, error) {
	return w.manager.syncer.Users(ctx, id)
}

func (w *deviceServiceWrapper) AttendanceLogs(ctx context.Context, id string) ([]protocol.AttendanceRecord, error) {
	return w.manager.syncer.AttendanceLogs(ctx, id)
}

func (w *deviceServiceWrapper) Sync(ctx context.Context, id string) ([]api.SyncResult, error) {
	if id == "" {
		return toAPIResults(w.manager.RunSync(ctx)), nil
	}
	result, err := w.manager.SyncDevice(ctx, id)
	return toAPIResults([]Result{result}), err
}

func (w *deviceServiceWrapper) LastResults() []api.SyncResult {
	return toAPIResults(w.manager.syncer.LastResults())
}

func toAPIResults(results []Result) []api.SyncResult {
	converted := make([]api.SyncResult, 0, len(results))
	for _, r := range results {
		converted = append(converted, api.SyncResult{
			DeviceID:   r.DeviceID,
			Name:       r.Name,
			Brand:      r.Brand,
			DeviceName: r.DeviceName,
			Success:    r.Success,
			Users:      r.Users,
			Punches:    r.Punches,
			NewPunches: r.NewPunches,
			Error:      r.Error,
			DurationMs: r.Duration.Milliseconds(),
			SyncedAt:   r.SyncedAt,
		})
	}
	return converted
}

// eventPublisher streams sync results to API event subscribers
type eventPublisher struct {
	hub *api.EventHub
}

func (p *eventPublisher) Publish(ctx context.Context, message *queue.Message) error {
	p.hub.Broadcast(api.Event{
		ID:        message.ID,
		Type:      message.Type,
		DeviceID:  message.DeviceID,
		Timestamp: message.Timestamp,
		Data:      message.Data,
	})
	return nil
}

// fanoutPublisher hands every message to each publisher in turn
type fanoutPublisher []queue.Publisher

func (f fanoutPublisher) Publish(ctx context.Context, message *queue.Message) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
