package bridge

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"attendance-bridge/internal/adapters/biometric"
	"attendance-bridge/internal/attendance"
	"attendance-bridge/internal/config"
	"attendance-bridge/internal/database"
	"attendance-bridge/internal/logging"
	"attendance-bridge/internal/protocol"
	"attendance-bridge/internal/queue"
	"attendance-bridge/internal/transport"
)

var (
	ErrUnknownDevice    = errors.New("unknown device")
	ErrUnsupportedBrand = errors.New("unsupported device brand")
)

// Store is the persistence the syncer writes to
type Store interface {
	UpsertDevice(device *database.Device) error
	SetDeviceStatus(id, status, errorMessage string) error
	MarkDeviceSynced(id string, at time.Time) error
	ReplaceDeviceUsers(deviceID string, users []protocol.UserRecord) error
	InsertPunches(punches []attendance.Punch) (int, error)
}

// Result is the outcome of syncing one device
type Result struct {
	DeviceID   string        `json:"device_id"`
	Name       string        `json:"name"`
	Brand      string        `json:"brand"`
	DeviceName string        `json:"device_name"`
	Success    bool          `json:"success"`
	Users      int           `json:"users"`
	Punches    int           `json:"punches"`
	NewPunches int           `json:"new_punches"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`
	SyncedAt   time.Time     `json:"synced_at"`
}

// Syncer reads users and punches from every configured terminal. Devices
// are synced in parallel; jobs on the same device are serialised.
type Syncer struct {
	devices    []config.DeviceConfig
	options    biometric.Options
	store      Store
	publisher  queue.Publisher
	maxWorkers int
	logger     logrus.FieldLogger

	locks   map[string]*sync.Mutex
	locksMu sync.Mutex

	results   map[string]Result
	resultsMu sync.RWMutex
}

// NewSyncer creates a syncer over the configured devices. store and
// publisher may be nil.
func NewSyncer(cfg *config.Config, store Store, publisher queue.Publisher, logger logrus.FieldLogger) *Syncer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Syncer{
		devices:    append([]config.DeviceConfig(nil), cfg.Devices...),
		options:    cfg.DriverOptions(logger),
		store:      store,
		publisher:  publisher,
		maxWorkers: cfg.Sync.MaxWorkers,
		logger:     logging.NewServiceLogger(logger, "sync"),
		locks:      make(map[string]*sync.Mutex),
		results:    make(map[string]Result),
	}
}

// Devices returns the configured devices
func (s *Syncer) Devices() []config.DeviceConfig {
	return append([]config.DeviceConfig(nil), s.devices...)
}

// Device looks up a configured device
func (s *Syncer) Device(id string) (config.DeviceConfig, bool) {
	for _, d := range s.devices {
		if d.ID == id {
			return d, true
		}
	}
	return config.DeviceConfig{}, false
}

// RegisterDevices records every configured device in the store
func (s *Syncer) RegisterDevices() error {
	if s.store == nil {
		return nil
	}
	for _, d := range s.devices {
		err := s.store.UpsertDevice(&database.Device{
			ID:      d.ID,
			Name:    d.Name,
			Brand:   d.Brand,
			IP:      d.IP,
			Port:    d.Port,
			CommKey: d.Key,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// SyncAll syncs every device, at most maxWorkers at a time. One device
// failing never stops the others; each outcome is in the result list,
// ordered like the configuration.
func (s *Syncer) SyncAll(ctx context.Context) []Result {
	results := make([]Result, len(s.devices))

	var g errgroup.Group
	g.SetLimit(s.maxWorkers)

	for i, d := range s.devices {
		i, id := i, d.ID
		g.Go(func() error {
			results[i], _ = s.SyncDevice(ctx, id)
			return nil
		})
	}
	g.Wait()

	failed := 0
	for _, r := range results {
		if !r.Success {
			failed++
		}
	}
	s.logger.WithFields(logrus.Fields{
		"devices": len(results),
		"failed":  failed,
	}).Info("Device sync completed")

	return results
}

// SyncDevice reads one device's users and attendance log and stores them.
func (s *Syncer) SyncDevice(ctx context.Context, id string) (Result, error) {
	start := time.Now()
	result := Result{DeviceID: id, SyncedAt: start}

	device, ok := s.Device(id)
	if !ok {
		err := fmt.Errorf("%w: %s", ErrUnknownDevice, id)
		result.Error = err.Error()
		return result, err
	}
	result.Name = device.Name
	result.Brand = device.Brand

	var users []protocol.UserRecord
	var records []protocol.AttendanceRecord

	err := s.withDriver(ctx, device, func(driver biometric.Driver) error {
		result.DeviceName = driver.DeviceName()

		var err error
		if users, err = driver.Users(ctx); err != nil {
			return fmt.Errorf("failed to read users: %w", err)
		}
		if records, err = driver.AttendanceLogs(ctx); err != nil {
			return fmt.Errorf("failed to read attendance log: %w", err)
		}
		return nil
	})

	if err == nil {
		result.Users = len(users)
		result.Punches = len(records)
		err = s.persist(device, users, records, &result)
	}

	result.Duration = time.Since(start)
	if err != nil {
		result.Error = err.Error()
		s.recordFailure(device, err)
	} else {
		result.Success = true
		s.logger.WithFields(logrus.Fields{
			"device_id":   id,
			"users":       result.Users,
			"punches":     result.Punches,
			"new_punches": result.NewPunches,
			"duration":    result.Duration.String(),
		}).Info("Device synced")
	}

	s.resultsMu.Lock()
	s.results[id] = result
	s.resultsMu.Unlock()

	s.publish(ctx, result, err)
	return result, err
}

func (s *Syncer) persist(device config.DeviceConfig, users []protocol.UserRecord, records []protocol.AttendanceRecord, result *Result) error {
	if s.store == nil {
		return nil
	}

	if err := s.store.ReplaceDeviceUsers(device.ID, users); err != nil {
		logging.LogStorageError(s.logger, err, "replace_users", true)
		return err
	}

	inserted, err := s.store.InsertPunches(attendance.FromRecords(device.ID, records))
	if err != nil {
		logging.LogStorageError(s.logger, err, "insert_punches", true)
		return err
	}
	result.NewPunches = inserted

	if err := s.store.MarkDeviceSynced(device.ID, result.SyncedAt); err != nil {
		logging.LogStorageError(s.logger, err, "mark_synced", true)
		return err
	}
	return nil
}

func (s *Syncer) recordFailure(device config.DeviceConfig, err error) {
	se := logging.LogDeviceError(s.logger, err, device.ID, device.Brand, "sync")

	if s.store == nil {
		return
	}
	status := database.DeviceStatusError
	if se.Context.Category == logging.ErrorCategoryNetwork || errors.Is(err, transport.ErrTimeout) {
		status = database.DeviceStatusOffline
	}
	if storeErr := s.store.SetDeviceStatus(device.ID, status, err.Error()); storeErr != nil {
		logging.LogStorageError(s.logger, storeErr, "set_device_status", true)
	}
}

func (s *Syncer) publish(ctx context.Context, result Result, syncErr error) {
	if s.publisher == nil {
		return
	}
	message := queue.SyncMessage(result.DeviceID, result.Users, result.NewPunches, syncErr)
	if err := s.publisher.Publish(ctx, message); err != nil {
		logging.LogServiceError(s.logger, err, "queue", "publish_sync_result", true)
	}
}

// Users reads the live user table of a device
func (s *Syncer) Users(ctx context.Context, id string) ([]protocol.UserRecord, error) {
	var users []protocol.UserRecord
	err := s.withDeviceID(ctx, id, func(driver biometric.Driver) error {
		var err error
		users, err = driver.Users(ctx)
		return err
	})
	return users, err
}

// AttendanceLogs reads the live attendance log of a device
func (s *Syncer) AttendanceLogs(ctx context.Context, id string) ([]protocol.AttendanceRecord, error) {
	var records []protocol.AttendanceRecord
	err := s.withDeviceID(ctx, id, func(driver biometric.Driver) error {
		var err error
		records, err = driver.AttendanceLogs(ctx)
		return err
	})
	return records, err
}

// Ping connects to a device and returns the name it reports
func (s *Syncer) Ping(ctx context.Context, id string) (string, error) {
	var name string
	err := s.withDeviceID(ctx, id, func(driver biometric.Driver) error {
		name = driver.DeviceName()
		return nil
	})
	return name, err
}

// AddUser writes a new user to a device
func (s *Syncer) AddUser(ctx context.Context, id string, user protocol.UserRecord) error {
	return s.withDeviceID(ctx, id, func(driver biometric.Driver) error {
		return driver.AddUser(ctx, user)
	})
}

// UpdateUser rewrites the user stored under pin
func (s *Syncer) UpdateUser(ctx context.Context, id string, pin int, user protocol.UserRecord) error {
	return s.withDeviceID(ctx, id, func(driver biometric.Driver) error {
		return driver.UpdateUser(ctx, pin, user)
	})
}

// DeleteUser removes the user stored under pin
func (s *Syncer) DeleteUser(ctx context.Context, id string, pin int) error {
	return s.withDeviceID(ctx, id, func(driver biometric.Driver) error {
		return driver.DeleteUser(ctx, pin)
	})
}

// LastResults returns the most recent outcome per device, ordered by id
func (s *Syncer) LastResults() []Result {
	s.resultsMu.RLock()
	defer s.resultsMu.RUnlock()

	results := make([]Result, 0, len(s.results))
	for _, r := range s.results {
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].DeviceID < results[j].DeviceID })
	return results
}

func (s *Syncer) withDeviceID(ctx context.Context, id string, fn func(biometric.Driver) error) error {
	device, ok := s.Device(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}
	return s.withDriver(ctx, device, fn)
}

// withDriver holds the device lock for a whole connect/fn/disconnect cycle
func (s *Syncer) withDriver(ctx context.Context, device config.DeviceConfig, fn func(biometric.Driver) error) error {
	lock := s.lock(device.ID)
	lock.Lock()
	defer lock.Unlock()

	options := s.options
	options.Logger = logging.NewDeviceLogger(s.options.Logger, device.ID, device.Brand)

	driver, ok := biometric.NewDriver(device.Brand, options)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnsupportedBrand, device.Brand)
	}

	if err := driver.Connect(ctx, device.Endpoint()); err != nil {
		return err
	}
	defer driver.Disconnect()

	return fn(driver)
}

func (s *Syncer) lock(id string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	lock, exists := s.locks[id]
	if !exists {
		lock = &sync.Mutex{}
		s.locks[id] = lock
	}
	return lock
}
