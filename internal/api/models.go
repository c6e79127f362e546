package api

import (
	"net/http"
	"time"

	"attendance-bridge/internal/attendance"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status        string       `json:"status"`
	Timestamp     time.Time    `json:"timestamp"`
	Version       string       `json:"version"`
	Uptime        string       `json:"uptime"`
	Database      string       `json:"database"`
	Devices       int          `json:"devices"`
	FailedDevices int          `json:"failed_devices"`
	LastSync      []SyncResult `json:"last_sync,omitempty"`
}

// DeviceInfo is one configured terminal and its last known state
type DeviceInfo struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Brand      string     `json:"brand"`
	IP         string     `json:"ip"`
	Port       int        `json:"port"`
	Status     string     `json:"status"`
	LastError  string     `json:"last_error,omitempty"`
	LastSyncAt *time.Time `json:"last_sync_at,omitempty"`
}

// DevicesResponse lists configured terminals
type DevicesResponse struct {
	Devices []DeviceInfo `json:"devices"`
	Count   int          `json:"count"`
}

// UsersResponse is a device's user table
type UsersResponse struct {
	DeviceID string                   `json:"device_id"`
	Source   string                   `json:"source"`
	Count    int                      `json:"count"`
	Users    []map[string]interface{} `json:"users"`
}

// PunchInfo is one attendance log entry
type PunchInfo struct {
	ID           string    `json:"id"`
	EmployeeCode int       `json:"employee_code"`
	Timestamp    time.Time `json:"timestamp"`
	Direction    int       `json:"direction"`
	Punch        string    `json:"punch"`
	VerifyMode   int       `json:"verify_mode"`
}

// AttendanceResponse is a device's attendance log, optionally summarised
type AttendanceResponse struct {
	DeviceID string                  `json:"device_id"`
	Source   string                  `json:"source"`
	Count    int                     `json:"count"`
	Punches  []PunchInfo             `json:"punches"`
	Summary  []attendance.DaySummary `json:"summary,omitempty"`
}

// SyncRequest selects the device to sync; empty means all devices
type SyncRequest struct {
	DeviceID string `json:"device_id"`
}

// SyncResult is the outcome of syncing one device
type SyncResult struct {
	DeviceID   string    `json:"device_id"`
	Name       string    `json:"name"`
	Brand      string    `json:"brand"`
	DeviceName string    `json:"device_name,omitempty"`
	Success    bool      `json:"success"`
	Users      int       `json:"users"`
	Punches    int       `json:"punches"`
	NewPunches int       `json:"new_punches"`
	Error      string    `json:"error,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	SyncedAt   time.Time `json:"synced_at"`
}

// SyncResponse reports a sync run
type SyncResponse struct {
	Results   []SyncResult `json:"results"`
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
}

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error     string            `json:"error"`
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Details   map[string]string `json:"details,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	RequestID string            `json:"requestId,omitempty"`
	Path      string            `json:"path,omitempty"`
	Method    string            `json:"method,omitempty"`
	Status    int               `json:"status"`
}

// ErrorCode represents standardized error codes
type ErrorCode string

const (
	ErrorCodeValidationFailed   ErrorCode = "VALIDATION_FAILED"
	ErrorCodeInvalidJSON        ErrorCode = "INVALID_JSON"
	ErrorCodeInvalidFormat      ErrorCode = "INVALID_FORMAT"
	ErrorCodeNotFound           ErrorCode = "NOT_FOUND"
	ErrorCodeDeviceNotFound     ErrorCode = "DEVICE_NOT_FOUND"
	ErrorCodeDeviceUnreachable  ErrorCode = "DEVICE_UNREACHABLE"
	ErrorCodeDeviceRejected     ErrorCode = "DEVICE_REJECTED"
	ErrorCodeInternalError      ErrorCode = "INTERNAL_ERROR"
	ErrorCodeDatabaseError      ErrorCode = "DATABASE_ERROR"
	ErrorCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	ErrorCodeTimeout            ErrorCode = "TIMEOUT"
)

// HTTPStatusMapping maps error codes to HTTP status codes
var HTTPStatusMapping = map[ErrorCode]int{
	ErrorCodeValidationFailed: http.StatusBadRequest,
	ErrorCodeInvalidJSON:      http.StatusBadRequest,
	ErrorCodeInvalidFormat:    http.StatusBadRequest,

	ErrorCodeNotFound:       http.StatusNotFound,
	ErrorCodeDeviceNotFound: http.StatusNotFound,

	ErrorCodeInternalError: http.StatusInternalServerError,
	ErrorCodeDatabaseError: http.StatusInternalServerError,

	ErrorCodeDeviceUnreachable: http.StatusBadGateway,
	ErrorCodeDeviceRejected:    http.StatusBadGateway,

	ErrorCodeServiceUnavailable: http.StatusServiceUnavailable,

	ErrorCodeTimeout: http.StatusGatewayTimeout,
}

// GetHTTPStatus returns the appropriate HTTP status code for an error code
func (ec ErrorCode) GetHTTPStatus() int {
	if status, exists := HTTPStatusMapping[ec]; exists {
		return status
	}
	return http.StatusInternalServerError
}

// NewErrorResponse creates a standardized error response
func NewErrorResponse(code ErrorCode, message string, r *http.Request, requestID string) *ErrorResponse {
	response := &ErrorResponse{
		Error:     "true",
		Code:      string(code),
		Message:   message,
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
		Status:    code.GetHTTPStatus(),
	}

	if r != nil {
		response.Path = r.URL.Path
		response.Method = r.Method
	}

	return response
}

// AddDetail adds a detail to the error response
func (er *ErrorResponse) AddDetail(key, value string) *ErrorResponse {
	if er.Details == nil {
		er.Details = make(map[string]string)
	}
	er.Details[key] = value
	return er
}

// Health status values
const (
	HealthStatusHealthy   = "healthy"
	HealthStatusDegraded  = "degraded"
	HealthStatusUnhealthy = "unhealthy"
)

// Data sources for device reads
const (
	SourceLive   = "live"
	SourceStored = "stored"
)
