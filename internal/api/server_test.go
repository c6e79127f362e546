package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"attendance-bridge/internal/adapters/biometric"
	"attendance-bridge/internal/attendance"
	"attendance-bridge/internal/config"
	"attendance-bridge/internal/database"
	"attendance-bridge/internal/protocol"
	"attendance-bridge/internal/transport"
)

// MockDeviceService is a mock implementation of DeviceService
type MockDeviceService struct {
	mock.Mock
	devices []config.DeviceConfig
}

func (m *MockDeviceService) Devices() []config.DeviceConfig {
	return m.devices
}

func (m *MockDeviceService) Users(ctx context.Context, id string) ([]protocol.UserRecord, error) {
	args := m.Called(ctx, id)
	users, _ := args.Get(0).([]protocol.UserRecord)
	return users, args.Error(1)
}

func (m *MockDeviceService) AttendanceLogs(ctx context.Context, id string) ([]protocol.AttendanceRecord, error) {
	args := m.Called(ctx, id)
	records, _ := args.Get(0).([]protocol.AttendanceRecord)
	return records, args.Error(1)
}

func (m *MockDeviceService) Sync(ctx context.Context, id string) ([]SyncResult, error) {
	args := m.Called(ctx, id)
	results, _ := args.Get(0).([]SyncResult)
	return results, args.Error(1)
}

func (m *MockDeviceService) LastResults() []SyncResult {
	args := m.Called()
	results, _ := args.Get(0).([]SyncResult)
	return results
}

type fakeStore struct {
	pingErr error
	devices []*database.Device
	users   []protocol.UserRecord
	punches []attendance.Punch
	filter  database.PunchFilter
}

func (f *fakeStore) Ping() error { return f.pingErr }

func (f *fakeStore) ListDevices() ([]*database.Device, error) { return f.devices, nil }

func (f *fakeStore) GetDeviceUsers(deviceID string) ([]protocol.UserRecord, error) {
	return f.users, nil
}

func (f *fakeStore) GetPunches(filter database.PunchFilter) ([]attendance.Punch, error) {
	f.filter = filter
	return f.punches, nil
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Timezone = "UTC"
	cfg.Devices = []config.DeviceConfig{
		{ID: "front", Name: "Front Door", Brand: "zkteco", IP: "10.0.0.10", Port: 4370},
		{ID: "back", Name: "Back Door", Brand: "fingertec", IP: "10.0.0.11", Port: 4370},
	}
	return cfg
}

func newTestServer(t *testing.T, devices *MockDeviceService, store Store) *Server {
	t.Helper()
	cfg := testConfig()
	devices.devices = cfg.Devices

	logger, _ := test.NewNullLogger()
	server, err := NewServer(cfg, DefaultServerConfig(), devices, store, "test-version", logger)
	require.NoError(t, err)
	return server
}

func serve(server *Server, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func TestHealthCheck(t *testing.T) {
	devices := &MockDeviceService{}
	devices.On("LastResults").Return([]SyncResult{{DeviceID: "front", Success: true}})
	server := newTestServer(t, devices, &fakeStore{})

	w := serve(server, http.MethodGet, "/api/v1/health", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	var response HealthResponse
	decode(t, w, &response)
	assert.Equal(t, HealthStatusHealthy, response.Status)
	assert.Equal(t, "test-version", response.Version)
	assert.Equal(t, "ok", response.Database)
	assert.Equal(t, 2, response.Devices)
	assert.Equal(t, 0, response.FailedDevices)
}

func TestHealthCheckDegraded(t *testing.T) {
	devices := &MockDeviceService{}
	devices.On("LastResults").Return([]SyncResult{
		{DeviceID: "back", Success: false, Error: "timed out"},
		{DeviceID: "front", Success: true},
	})
	server := newTestServer(t, devices, nil)

	w := serve(server, http.MethodGet, "/api/v1/health", "")

	assert.Equal(t, http.StatusOK, w.Code)
	var response HealthResponse
	decode(t, w, &response)
	assert.Equal(t, HealthStatusDegraded, response.Status)
	assert.Equal(t, 1, response.FailedDevices)
	assert.Equal(t, "disabled", response.Database)
}

func TestHealthCheckDatabaseDown(t *testing.T) {
	devices := &MockDeviceService{}
	devices.On("LastResults").Return(nil)
	server := newTestServer(t, devices, &fakeStore{pingErr: errors.New("disk I/O error")})

	w := serve(server, http.MethodGet, "/api/v1/health", "")

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	var response HealthResponse
	decode(t, w, &response)
	assert.Equal(t, HealthStatusUnhealthy, response.Status)
}

func TestListDevices(t *testing.T) {
	syncedAt := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	store := &fakeStore{devices: []*database.Device{
		{ID: "front", Status: database.DeviceStatusOnline, LastSyncAt: &syncedAt},
	}}
	devices := &MockDeviceService{}
	devices.On("LastResults").Return([]SyncResult{{DeviceID: "back", Success: false, Error: "refused"}})
	server := newTestServer(t, devices, store)

	w := serve(server, http.MethodGet, "/api/v1/devices", "")
	require.Equal(t, http.StatusOK, w.Code)

	var response DevicesResponse
	decode(t, w, &response)
	require.Equal(t, 2, response.Count)

	assert.Equal(t, "front", response.Devices[0].ID)
	assert.Equal(t, database.DeviceStatusOnline, response.Devices[0].Status)
	require.NotNil(t, response.Devices[0].LastSyncAt)
	assert.True(t, syncedAt.Equal(*response.Devices[0].LastSyncAt))

	assert.Equal(t, "back", response.Devices[1].ID)
	assert.Equal(t, database.DeviceStatusError, response.Devices[1].Status)
	assert.Equal(t, "refused", response.Devices[1].LastError)
}

func TestDeviceUsersLive(t *testing.T) {
	devices := &MockDeviceService{}
	devices.On("Users", mock.Anything, "front").Return([]protocol.UserRecord{
		{EmployeeCode: 42, Name: "Alice", Privilege: protocol.PrivilegeAdmin, Role: "admin", CardID: 1001},
	}, nil)
	server := newTestServer(t, devices, nil)

	w := serve(server, http.MethodGet, "/api/v1/devices/front/users", "")
	require.Equal(t, http.StatusOK, w.Code)

	var response UsersResponse
	decode(t, w, &response)
	assert.Equal(t, "front", response.DeviceID)
	assert.Equal(t, SourceLive, response.Source)
	require.Len(t, response.Users, 1)

	user := response.Users[0]
	for _, key := range []string{"employee_code", "name", "privilege", "role", "card_id", "group_id"} {
		assert.Contains(t, user, key)
	}
	assert.Equal(t, "Alice", user["name"])
	assert.EqualValues(t, 42, user["employee_code"])
	devices.AssertExpectations(t)
}

func TestDeviceUsersStored(t *testing.T) {
	store := &fakeStore{users: []protocol.UserRecord{{EmployeeCode: 7, Name: "Stored"}}}
	server := newTestServer(t, &MockDeviceService{}, store)

	w := serve(server, http.MethodGet, "/api/v1/devices/back/users?source=stored", "")
	require.Equal(t, http.StatusOK, w.Code)

	var response UsersResponse
	decode(t, w, &response)
	assert.Equal(t, SourceStored, response.Source)
	assert.Equal(t, 1, response.Count)
}

func TestDeviceUsersErrors(t *testing.T) {
	tests := []struct {
		name     string
		target   string
		err      error
		status   int
		code     ErrorCode
		callsDev bool
	}{
		{"unknown device", "/api/v1/devices/nope/users", nil, http.StatusNotFound, ErrorCodeDeviceNotFound, false},
		{"stored without database", "/api/v1/devices/front/users?source=stored", nil, http.StatusServiceUnavailable, ErrorCodeServiceUnavailable, false},
		{"bad source", "/api/v1/devices/front/users?source=cache", nil, http.StatusBadRequest, ErrorCodeValidationFailed, false},
		{"timeout", "/api/v1/devices/front/users", fmt.Errorf("read: %w", transport.ErrTimeout), http.StatusGatewayTimeout, ErrorCodeTimeout, true},
		{"rejected", "/api/v1/devices/front/users", fmt.Errorf("connect: %w", biometric.ErrAuthRejected), http.StatusBadGateway, ErrorCodeDeviceRejected, true},
		{"unreachable", "/api/v1/devices/front/users", errors.New("connection refused"), http.StatusBadGateway, ErrorCodeDeviceUnreachable, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			devices := &MockDeviceService{}
			if tt.callsDev {
				devices.On("Users", mock.Anything, "front").Return(nil, tt.err)
			}
			server := newTestServer(t, devices, nil)

			w := serve(server, http.MethodGet, tt.target, "")

			assert.Equal(t, tt.status, w.Code)
			var response ErrorResponse
			decode(t, w, &response)
			assert.Equal(t, string(tt.code), response.Code)
			assert.Equal(t, tt.status, response.Status)
			assert.NotEmpty(t, response.RequestID)
			devices.AssertExpectations(t)
		})
	}
}

func TestDeviceAttendanceLive(t *testing.T) {
	day := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	devices := &MockDeviceService{}
	devices.On("AttendanceLogs", mock.Anything, "front").Return([]protocol.AttendanceRecord{
		{EmployeeCode: 42, Timestamp: day.Add(17*time.Hour + 30*time.Minute), Direction: protocol.PunchCheckOut},
		{EmployeeCode: 42, Timestamp: day.Add(9*time.Hour + 30*time.Minute), Direction: protocol.PunchCheckIn},
		{EmployeeCode: 42, Timestamp: day.Add(9*time.Hour + 31*time.Minute), Direction: protocol.PunchCheckIn},
		{EmployeeCode: 43, Timestamp: day.Add(8*time.Hour + 55*time.Minute), Direction: protocol.PunchCheckIn},
		{EmployeeCode: 42, Timestamp: day.Add(-15 * time.Hour), Direction: protocol.PunchCheckIn},
	}, nil)
	server := newTestServer(t, devices, nil)

	w := serve(server, http.MethodGet, "/api/v1/devices/front/attendance?from=2024-03-04&to=2024-03-04&employee=42&summary=true", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var response AttendanceResponse
	decode(t, w, &response)
	require.Equal(t, 3, response.Count)
	assert.True(t, response.Punches[0].Timestamp.Equal(day.Add(9*time.Hour+30*time.Minute)))
	assert.Equal(t, "Check-In", response.Punches[0].Punch)
	assert.NotEmpty(t, response.Punches[0].ID)

	require.Len(t, response.Summary, 1)
	summary := response.Summary[0]
	assert.Equal(t, 42, summary.EmployeeCode)
	assert.Equal(t, "2024-03-04", summary.Date)
	assert.Equal(t, 2, summary.Punches)
	assert.True(t, summary.Late)
	assert.False(t, summary.MissingPunch)
	assert.Equal(t, 8*time.Hour, summary.Worked)
}

func TestDeviceAttendanceStored(t *testing.T) {
	ts := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	store := &fakeStore{punches: []attendance.Punch{
		{ID: "pch_1", DeviceID: "back", EmployeeCode: 43, Timestamp: ts},
	}}
	server := newTestServer(t, &MockDeviceService{}, store)

	w := serve(server, http.MethodGet, "/api/v1/devices/back/attendance?source=stored&from=2024-03-04T00:00:00Z&employee=43", "")
	require.Equal(t, http.StatusOK, w.Code)

	var response AttendanceResponse
	decode(t, w, &response)
	assert.Equal(t, SourceStored, response.Source)
	assert.Equal(t, 1, response.Count)
	assert.Empty(t, response.Summary)

	assert.Equal(t, "back", store.filter.DeviceID)
	assert.Equal(t, 43, store.filter.EmployeeCode)
	assert.True(t, store.filter.Since.Equal(time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)))
	assert.True(t, store.filter.Until.IsZero())
}

func TestDeviceAttendanceInvalidQuery(t *testing.T) {
	server := newTestServer(t, &MockDeviceService{}, nil)

	for _, target := range []string{
		"/api/v1/devices/front/attendance?from=yesterday",
		"/api/v1/devices/front/attendance?to=2024-13-01",
		"/api/v1/devices/front/attendance?employee=abc",
		"/api/v1/devices/front/attendance?employee=-1",
	} {
		w := serve(server, http.MethodGet, target, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, target)
	}
}

func TestTriggerSync(t *testing.T) {
	devices := &MockDeviceService{}
	devices.On("Sync", mock.Anything, "").Return([]SyncResult{
		{DeviceID: "front", Success: true, Users: 2, Punches: 10, NewPunches: 4},
		{DeviceID: "back", Success: false, Error: "timed out"},
	}, nil)
	devices.On("Sync", mock.Anything, "front").Return([]SyncResult{{DeviceID: "front", Success: true}}, nil)
	server := newTestServer(t, devices, nil)

	w := serve(server, http.MethodPost, "/api/v1/sync", "")
	require.Equal(t, http.StatusOK, w.Code)
	var all SyncResponse
	decode(t, w, &all)
	assert.Equal(t, 1, all.Succeeded)
	assert.Equal(t, 1, all.Failed)
	assert.Len(t, all.Results, 2)

	w = serve(server, http.MethodPost, "/api/v1/sync", `{"device_id":"front"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var one SyncResponse
	decode(t, w, &one)
	assert.Equal(t, 1, one.Succeeded)

	devices.AssertExpectations(t)
}

func TestTriggerSyncErrors(t *testing.T) {
	devices := &MockDeviceService{}
	server := newTestServer(t, devices, nil)

	w := serve(server, http.MethodPost, "/api/v1/sync", `{"device_id":"ghost"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = serve(server, http.MethodPost, "/api/v1/sync", `{not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	devices.AssertNotCalled(t, "Sync", mock.Anything, mock.Anything)
}

func TestRouting(t *testing.T) {
	server := newTestServer(t, &MockDeviceService{}, nil)

	w := serve(server, http.MethodGet, "/api/v1/nothing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	w = serve(server, http.MethodGet, "/api/v1/sync", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestRequestIDPropagation(t *testing.T) {
	devices := &MockDeviceService{}
	devices.On("LastResults").Return(nil)
	server := newTestServer(t, devices, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "req_fixed")
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	assert.Equal(t, "req_fixed", w.Header().Get("X-Request-ID"))
}

func TestRecoveryMiddleware(t *testing.T) {
	devices := &MockDeviceService{}
	devices.On("Users", mock.Anything, "front").Run(func(mock.Arguments) {
		panic("driver exploded")
	}).Return(nil, nil)

	logger, hook := test.NewNullLogger()
	cfg := testConfig()
	devices.devices = cfg.Devices
	server, err := NewServer(cfg, DefaultServerConfig(), devices, nil, "test-version", logger)
	require.NoError(t, err)

	w := serve(server, http.MethodGet, "/api/v1/devices/front/users", "")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var response ErrorResponse
	decode(t, w, &response)
	assert.Equal(t, string(ErrorCodeInternalError), response.Code)

	var recovered bool
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.ErrorLevel && entry.Message == "Panic recovered in HTTP handler" {
			recovered = true
		}
	}
	assert.True(t, recovered)
}

func TestNewServerInvalidShift(t *testing.T) {
	cfg := testConfig()
	cfg.Sync.Shift.Start = "25:00"

	_, err := NewServer(cfg, DefaultServerConfig(), &MockDeviceService{}, nil, "v", nil)
	assert.Error(t, err)
}

func TestServerStartShutdown(t *testing.T) {
	devices := &MockDeviceService{}
	devices.On("LastResults").Return(nil)

	serverCfg := DefaultServerConfig()
	serverCfg.Port = 0
	cfg := testConfig()
	devices.devices = cfg.Devices
	logger, _ := test.NewNullLogger()
	server, err := NewServer(cfg, serverCfg, devices, nil, "v", logger)
	require.NoError(t, err)

	addr, err := server.Listen()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Start(ctx) }()

	resp, err := http.Get(fmt.Sprintf("http://%s/api/v1/health", addr.String()))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestServerConfigFrom(t *testing.T) {
	serverCfg := ServerConfigFrom(config.APIConfig{Enabled: true, Port: 9090})
	assert.Equal(t, "127.0.0.1", serverCfg.Host)
	assert.Equal(t, 9090, serverCfg.Port)

	serverCfg = ServerConfigFrom(config.APIConfig{Host: "0.0.0.0", Port: 8081})
	assert.Equal(t, "0.0.0.0", serverCfg.Host)
}
