package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"attendance-bridge/internal/adapters/biometric"
	"attendance-bridge/internal/attendance"
	"attendance-bridge/internal/config"
	"attendance-bridge/internal/database"
	"attendance-bridge/internal/protocol"
	"attendance-bridge/internal/transport"
)

// DeviceService talks to terminals on behalf of the API. Each call opens
// and closes its own device session.
type DeviceService interface {
	Devices() []config.DeviceConfig
	Users(ctx context.Context, id string) ([]protocol.UserRecord, error)
	AttendanceLogs(ctx context.Context, id string) ([]protocol.AttendanceRecord, error)
	Sync(ctx context.Context, id string) ([]SyncResult, error)
	LastResults() []SyncResult
}

// Store serves data persisted by earlier syncs
type Store interface {
	Ping() error
	ListDevices() ([]*database.Device, error)
	GetDeviceUsers(deviceID string) ([]protocol.UserRecord, error)
	GetPunches(filter database.PunchFilter) ([]attendance.Punch, error)
}

// Handlers contains the HTTP handlers for the API
type Handlers struct {
	logger    logrus.FieldLogger
	devices   DeviceService
	store     Store
	shift     attendance.Shift
	dedupe    time.Duration
	location  *time.Location
	version   string
	startTime time.Time
}

// NewHandlers creates a new handlers instance
func NewHandlers(cfg *config.Config, logger logrus.FieldLogger, devices DeviceService, store Store, version string) (*Handlers, error) {
	shift, err := cfg.Sync.Shift.Shift()
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	return &Handlers{
		logger:    logger,
		devices:   devices,
		store:     store,
		shift:     shift,
		dedupe:    cfg.Sync.DedupeWindow,
		location:  loc,
		version:   version,
		startTime: time.Now(),
	}, nil
}

// HealthCheck handles GET /api/v1/health
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    HealthStatusHealthy,
		Timestamp: time.Now().UTC(),
		Version:   h.version,
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Database:  "disabled",
		Devices:   len(h.devices.Devices()),
		LastSync:  h.devices.LastResults(),
	}

	for _, result := range response.LastSync {
		if !result.Success {
			response.FailedDevices++
		}
	}
	if response.FailedDevices > 0 {
		response.Status = HealthStatusDegraded
	}

	status := http.StatusOK
	if h.store != nil {
		response.Database = "ok"
		if err := h.store.Ping(); err != nil {
			h.logger.WithError(err).Error("Database health check failed")
			response.Database = err.Error()
			response.Status = HealthStatusUnhealthy
			status = http.StatusServiceUnavailable
		}
	}

	h.writeJSONResponse(w, response, status)
}

// ListDevices handles GET /api/v1/devices
func (h *Handlers) ListDevices(w http.ResponseWriter, r *http.Request) {
	stored := make(map[string]*database.Device)
	if h.store != nil {
		devices, err := h.store.ListDevices()
		if err != nil {
			h.writeErrorResponse(w, r, ErrorCodeDatabaseError, "failed to list devices")
			return
		}
		for _, d := range devices {
			stored[d.ID] = d
		}
	}

	last := make(map[string]SyncResult)
	for _, result := range h.devices.LastResults() {
		last[result.DeviceID] = result
	}

	configured := h.devices.Devices()
	infos := make([]DeviceInfo, 0, len(configured))
	for _, d := range configured {
		info := DeviceInfo{
			ID:     d.ID,
			Name:   d.Name,
			Brand:  d.Brand,
			IP:     d.IP,
			Port:   d.Port,
			Status: database.DeviceStatusUnknown,
		}
		if record, ok := stored[d.ID]; ok {
			info.Status = record.Status
			info.LastError = record.LastError
			info.LastSyncAt = record.LastSyncAt
		} else if result, ok := last[d.ID]; ok {
			info.Status = database.DeviceStatusOnline
			if !result.Success {
				info.Status = database.DeviceStatusError
				info.LastError = result.Error
			} else {
				syncedAt := result.SyncedAt
				info.LastSyncAt = &syncedAt
			}
		}
		infos = append(infos, info)
	}

	h.writeJSONResponse(w, DevicesResponse{Devices: infos, Count: len(infos)}, http.StatusOK)
}

// DeviceUsers handles GET /api/v1/devices/{id}/users
func (h *Handlers) DeviceUsers(w http.ResponseWriter, r *http.Request) {
	id, ok := h.deviceID(w, r)
	if !ok {
		return
	}
	source, ok := h.source(w, r)
	if !ok {
		return
	}

	var users []protocol.UserRecord
	var err error
	if source == SourceStored {
		users, err = h.store.GetDeviceUsers(id)
		if err != nil {
			h.writeErrorResponse(w, r, ErrorCodeDatabaseError, "failed to load users")
			return
		}
	} else {
		users, err = h.devices.Users(r.Context(), id)
		if err != nil {
			h.writeDeviceError(w, r, id, err)
			return
		}
	}

	rendered := make([]map[string]interface{}, 0, len(users))
	for _, u := range users {
		rendered = append(rendered, u.Map())
	}

	h.writeJSONResponse(w, UsersResponse{
		DeviceID: id,
		Source:   source,
		Count:    len(rendered),
		Users:    rendered,
	}, http.StatusOK)
}

// DeviceAttendance handles GET /api/v1/devices/{id}/attendance.
//
// Query parameters: source (live|stored), from and to (RFC3339 or
// YYYY-MM-DD, to is exclusive and a bare date covers the whole day),
// employee, and summary=true to add per-day shift summaries.
func (h *Handlers) DeviceAttendance(w http.ResponseWriter, r *http.Request) {
	id, ok := h.deviceID(w, r)
	if !ok {
		return
	}
	source, ok := h.source(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	filter := database.PunchFilter{DeviceID: id}

	var err error
	if filter.Since, err = h.parseTime(query.Get("from"), false); err != nil {
		h.writeErrorResponse(w, r, ErrorCodeInvalidFormat, fmt.Sprintf("invalid from: %v", err))
		return
	}
	if filter.Until, err = h.parseTime(query.Get("to"), true); err != nil {
		h.writeErrorResponse(w, r, ErrorCodeInvalidFormat, fmt.Sprintf("invalid to: %v", err))
		return
	}
	if v := query.Get("employee"); v != "" {
		code, err := strconv.Atoi(v)
		if err != nil || code <= 0 {
			h.writeErrorResponse(w, r, ErrorCodeInvalidFormat, "employee must be a positive integer")
			return
		}
		filter.EmployeeCode = code
	}
	summary, _ := strconv.ParseBool(query.Get("summary"))

	var punches []attendance.Punch
	if source == SourceStored {
		punches, err = h.store.GetPunches(filter)
		if err != nil {
			h.writeErrorResponse(w, r, ErrorCodeDatabaseError, "failed to load punches")
			return
		}
	} else {
		records, err := h.devices.AttendanceLogs(r.Context(), id)
		if err != nil {
			h.writeDeviceError(w, r, id, err)
			return
		}
		punches = filterPunches(attendance.FromRecords(id, records), filter)
	}

	response := AttendanceResponse{
		DeviceID: id,
		Source:   source,
		Count:    len(punches),
		Punches:  make([]PunchInfo, 0, len(punches)),
	}
	for _, p := range punches {
		response.Punches = append(response.Punches, PunchInfo{
			ID:           p.ID,
			EmployeeCode: p.EmployeeCode,
			Timestamp:    p.Timestamp,
			Direction:    p.Direction,
			Punch:        protocol.DirectionName(p.Direction),
			VerifyMode:   p.VerifyMode,
		})
	}
	if summary {
		response.Summary = attendance.Summarise(attendance.Dedupe(punches, h.dedupe), h.shift, h.location)
	}

	h.writeJSONResponse(w, response, http.StatusOK)
}

// TriggerSync handles POST /api/v1/sync. An empty body syncs every device.
func (h *Handlers) TriggerSync(w http.ResponseWriter, r *http.Request) {
	var request SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil && !errors.Is(err, io.EOF) {
		h.writeErrorResponse(w, r, ErrorCodeInvalidJSON, "request body must be JSON")
		return
	}

	request.DeviceID = strings.TrimSpace(request.DeviceID)
	if request.DeviceID != "" && !h.known(request.DeviceID) {
		h.writeErrorResponse(w, r, ErrorCodeDeviceNotFound, fmt.Sprintf("device %q is not configured", request.DeviceID))
		return
	}

	results, err := h.devices.Sync(r.Context(), request.DeviceID)
	if err != nil && len(results) == 0 {
		h.writeDeviceError(w, r, request.DeviceID, err)
		return
	}

	response := SyncResponse{Results: results}
	for _, result := range results {
		if result.Success {
			response.Succeeded++
		} else {
			response.Failed++
		}
	}

	h.writeJSONResponse(w, response, http.StatusOK)
}

// NotFound answers unknown routes with a JSON error
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	h.writeErrorResponse(w, r, ErrorCodeNotFound, "route not found")
}

// MethodNotAllowed answers known routes called with the wrong method
func (h *Handlers) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	response := NewErrorResponse(ErrorCodeValidationFailed, "method not allowed", r, requestIDFrom(r))
	response.Status = http.StatusMethodNotAllowed
	h.writeJSONResponse(w, response, http.StatusMethodNotAllowed)
}

func (h *Handlers) deviceID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := mux.Vars(r)["id"]
	if !h.known(id) {
		h.writeErrorResponse(w, r, ErrorCodeDeviceNotFound, fmt.Sprintf("device %q is not configured", id))
		return "", false
	}
	return id, true
}

func (h *Handlers) known(id string) bool {
	for _, d := range h.devices.Devices() {
		if d.ID == id {
			return true
		}
	}
	return false
}

func (h *Handlers) source(w http.ResponseWriter, r *http.Request) (string, bool) {
	source := strings.ToLower(r.URL.Query().Get("source"))
	switch source {
	case "", SourceLive:
		return SourceLive, true
	case SourceStored:
		if h.store == nil {
			h.writeErrorResponse(w, r, ErrorCodeServiceUnavailable, "stored data is not available")
			return "", false
		}
		return SourceStored, true
	default:
		h.writeErrorResponse(w, r, ErrorCodeValidationFailed, fmt.Sprintf("unknown source %q", source))
		return "", false
	}
}

// parseTime accepts RFC3339 or a bare date in the configured timezone. A
// bare date used as an upper bound moves to the start of the next day.
func (h *Handlers) parseTime(value string, upper bool) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation("2006-01-02", value, h.location)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected RFC3339 or YYYY-MM-DD, got %q", value)
	}
	if upper {
		t = t.AddDate(0, 0, 1)
	}
	return t, nil
}

func filterPunches(punches []attendance.Punch, filter database.PunchFilter) []attendance.Punch {
	kept := make([]attendance.Punch, 0, len(punches))
	for _, p := range punches {
		if filter.EmployeeCode > 0 && p.EmployeeCode != filter.EmployeeCode {
			continue
		}
		if !filter.Since.IsZero() && p.Timestamp.Before(filter.Since) {
			continue
		}
		if !filter.Until.IsZero() && !p.Timestamp.Before(filter.Until) {
			continue
		}
		kept = append(kept, p)
	}
	attendance.Sort(kept)
	return kept
}

// writeDeviceError maps a device failure onto an HTTP error
func (h *Handlers) writeDeviceError(w http.ResponseWriter, r *http.Request, deviceID string, err error) {
	code := ErrorCodeDeviceUnreachable
	switch {
	case errors.Is(err, transport.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		code = ErrorCodeTimeout
	case errors.Is(err, biometric.ErrHandshakeRejected),
		errors.Is(err, biometric.ErrAuthRejected),
		errors.Is(err, biometric.ErrRejected),
		errors.Is(err, biometric.ErrUnsupported):
		code = ErrorCodeDeviceRejected
	case errors.Is(err, biometric.ErrInvalidEndpoint):
		code = ErrorCodeInternalError
	}

	response := NewErrorResponse(code, err.Error(), r, requestIDFrom(r))
	if deviceID != "" {
		response.AddDetail("device_id", deviceID)
	}
	h.logError(r, response)
	h.writeJSONResponse(w, response, response.Status)
}

func (h *Handlers) writeErrorResponse(w http.ResponseWriter, r *http.Request, code ErrorCode, message string) {
	response := NewErrorResponse(code, message, r, requestIDFrom(r))
	h.logError(r, response)
	h.writeJSONResponse(w, response, response.Status)
}

func (h *Handlers) logError(r *http.Request, response *ErrorResponse) {
	entry := h.logger.WithFields(logrus.Fields{
		"error_code":  response.Code,
		"message":     response.Message,
		"status_code": response.Status,
		"path":        response.Path,
		"method":      response.Method,
		"request_id":  response.RequestID,
	})
	if response.Status >= http.StatusInternalServerError {
		entry.Error("API error response")
		return
	}
	entry.Warn("API error response")
}

func (h *Handlers) writeJSONResponse(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.WithError(err).Error("Failed to encode JSON response")
	}
}
