package logging

import (
	"errors"
	"fmt"
	"net"
	"runtime"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrorCategory represents different categories of errors for classification
type ErrorCategory string

const (
	// Socket level failures: refused, unreachable, timed out
	ErrorCategoryNetwork ErrorCategory = "network"
	// The terminal answered but refused or could not serve the request
	ErrorCategoryHardware ErrorCategory = "hardware"
	// Malformed frames and records
	ErrorCategoryProtocol ErrorCategory = "protocol"
	// Database errors
	ErrorCategoryStorage ErrorCategory = "storage"
	ErrorCategoryConfig  ErrorCategory = "config"
	ErrorCategoryService ErrorCategory = "service"
	ErrorCategoryUnknown ErrorCategory = "unknown"
)

// ErrorSeverity represents the severity level of an error
type ErrorSeverity string

const (
	ErrorSeverityCritical ErrorSeverity = "critical"
	ErrorSeverityHigh     ErrorSeverity = "high"
	ErrorSeverityMedium   ErrorSeverity = "medium"
	ErrorSeverityLow      ErrorSeverity = "low"
	ErrorSeverityInfo     ErrorSeverity = "info"
)

// ErrorContext provides additional context for error logging
type ErrorContext struct {
	Category    ErrorCategory          `json:"category"`
	Severity    ErrorSeverity          `json:"severity"`
	Component   string                 `json:"component"`
	Operation   string                 `json:"operation"`
	DeviceID    string                 `json:"device_id,omitempty"`
	Brand       string                 `json:"brand,omitempty"`
	Recoverable bool                   `json:"recoverable"`
	RetryCount  int                    `json:"retry_count,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// StructuredError represents a structured error with context
type StructuredError struct {
	Err       error        `json:"error"`
	Context   ErrorContext `json:"context"`
	Timestamp time.Time    `json:"timestamp"`
	Stack     string       `json:"stack,omitempty"`
}

// Error implements the error interface
func (se *StructuredError) Error() string {
	if se.Err != nil {
		return se.Err.Error()
	}
	return "unknown error"
}

// Unwrap returns the underlying error
func (se *StructuredError) Unwrap() error {
	return se.Err
}

// NewStructuredError creates a new structured error with context
func NewStructuredError(err error, context ErrorContext) *StructuredError {
	structuredErr := &StructuredError{
		Err:       err,
		Context:   context,
		Timestamp: time.Now(),
	}

	// stack traces only for errors someone will have to chase
	if context.Severity == ErrorSeverityCritical || context.Severity == ErrorSeverityHigh {
		structuredErr.Stack = captureStackTrace()
	}

	return structuredErr
}

// LogStructuredError logs a structured error with appropriate level and context
func LogStructuredError(logger logrus.FieldLogger, structuredErr *StructuredError) {
	if logger == nil || structuredErr == nil {
		return
	}

	entry := logger.WithFields(logrus.Fields{
		"error_category": structuredErr.Context.Category,
		"error_severity": structuredErr.Context.Severity,
		"component":      structuredErr.Context.Component,
		"operation":      structuredErr.Context.Operation,
		"recoverable":    structuredErr.Context.Recoverable,
	})

	if structuredErr.Context.DeviceID != "" {
		entry = entry.WithField("device_id", structuredErr.Context.DeviceID)
	}
	if structuredErr.Context.Brand != "" {
		entry = entry.WithField("brand", structuredErr.Context.Brand)
	}
	if structuredErr.Context.RetryCount > 0 {
		entry = entry.WithField("retry_count", structuredErr.Context.RetryCount)
	}
	for key, value := range structuredErr.Context.Metadata {
		entry = entry.WithField(fmt.Sprintf("meta_%s", key), value)
	}
	if structuredErr.Stack != "" {
		entry = entry.WithField("stack_trace", structuredErr.Stack)
	}

	switch structuredErr.Context.Severity {
	case ErrorSeverityCritical, ErrorSeverityHigh:
		entry.Error(structuredErr.Error())
	case ErrorSeverityMedium, ErrorSeverityLow:
		entry.Warn(structuredErr.Error())
	case ErrorSeverityInfo:
		entry.Info(structuredErr.Error())
	default:
		entry.Error(structuredErr.Error())
	}
}

// LogDeviceError classifies and logs a failure talking to a terminal.
// Unreachable devices are routine and logged at medium severity; protocol
// violations are high.
func LogDeviceError(logger logrus.FieldLogger, err error, deviceID, brand, operation string) *StructuredError {
	category := ClassifyError(err)

	severity := ErrorSeverityMedium
	switch category {
	case ErrorCategoryProtocol:
		severity = ErrorSeverityHigh
	case ErrorCategoryHardware:
		severity = ErrorSeverityMedium
	}

	structuredErr := NewStructuredError(err, ErrorContext{
		Category:    category,
		Severity:    severity,
		Component:   "device",
		Operation:   operation,
		DeviceID:    deviceID,
		Brand:       brand,
		Recoverable: category != ErrorCategoryProtocol,
	})
	LogStructuredError(logger, structuredErr)
	return structuredErr
}

// LogStorageError logs database/storage-related errors
func LogStorageError(logger logrus.FieldLogger, err error, operation string, recoverable bool) {
	severity := ErrorSeverityHigh
	if !recoverable {
		severity = ErrorSeverityCritical
	}

	LogStructuredError(logger, NewStructuredError(err, ErrorContext{
		Category:    ErrorCategoryStorage,
		Severity:    severity,
		Component:   "database",
		Operation:   operation,
		Recoverable: recoverable,
	}))
}

// LogServiceError logs service/application-related errors
func LogServiceError(logger logrus.FieldLogger, err error, serviceName, operation string, recoverable bool) {
	severity := ErrorSeverityMedium
	if !recoverable {
		severity = ErrorSeverityHigh
	}

	LogStructuredError(logger, NewStructuredError(err, ErrorContext{
		Category:    ErrorCategoryService,
		Severity:    severity,
		Component:   serviceName,
		Operation:   operation,
		Recoverable: recoverable,
	}))
}

func captureStackTrace() string {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

var categoryKeywords = []struct {
	category ErrorCategory
	keywords []string
}{
	{ErrorCategoryNetwork, []string{
		"connection refused", "connection reset", "timed out", "timeout",
		"network is unreachable", "no route to host", "no such host",
		"dial tcp", "broken pipe", "connection closed", "eof",
	}},
	{ErrorCategoryProtocol, []string{
		"checksum", "magic", "short packet", "payload too large",
		"response too large", "malformed",
	}},
	{ErrorCategoryHardware, []string{
		"rejected", "not supported", "not connected", "device",
	}},
	{ErrorCategoryStorage, []string{
		"database", "sqlite", "sql", "constraint", "disk", "no space left",
	}},
	{ErrorCategoryConfig, []string{
		"config", "invalid", "missing", "yaml",
	}},
}

// ClassifyError attempts to classify an error based on its type and message
func ClassifyError(err error) ErrorCategory {
	if err == nil {
		return ErrorCategoryUnknown
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrorCategoryNetwork
	}

	errMsg := strings.ToLower(err.Error())
	for _, group := range categoryKeywords {
		for _, keyword := range group.keywords {
			if strings.Contains(errMsg, keyword) {
				return group.category
			}
		}
	}

	return ErrorCategoryUnknown
}
