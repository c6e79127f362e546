package logging

import (
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStructuredError(t *testing.T) {
	err := errors.New("test error")
	context := ErrorContext{
		Category:    ErrorCategoryHardware,
		Severity:    ErrorSeverityHigh,
		Component:   "device",
		Operation:   "connect",
		Recoverable: true,
	}

	structuredErr := NewStructuredError(err, context)

	assert.Equal(t, err, structuredErr.Err)
	assert.Equal(t, context, structuredErr.Context)
	assert.False(t, structuredErr.Timestamp.IsZero())
	assert.NotEmpty(t, structuredErr.Stack)

	low := NewStructuredError(err, ErrorContext{Severity: ErrorSeverityLow})
	assert.Empty(t, low.Stack)
}

func TestStructuredErrorUnwrap(t *testing.T) {
	sentinel := errors.New("sentinel")
	structuredErr := NewStructuredError(fmt.Errorf("wrapped: %w", sentinel), ErrorContext{})

	assert.Equal(t, "wrapped: sentinel", structuredErr.Error())
	assert.ErrorIs(t, structuredErr, sentinel)

	assert.Equal(t, "unknown error", (&StructuredError{}).Error())
}

func TestLogStructuredError(t *testing.T) {
	logger, hook := test.NewNullLogger()

	structuredErr := NewStructuredError(errors.New("insert failed"), ErrorContext{
		Category:  ErrorCategoryStorage,
		Severity:  ErrorSeverityMedium,
		Component: "database",
		Operation: "insert",
		DeviceID:  "front-door",
		Metadata:  map[string]interface{}{"table": "attendance_punches"},
	})
	LogStructuredError(logger, structuredErr)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.WarnLevel, entry.Level)
	assert.Equal(t, "insert failed", entry.Message)
	assert.Equal(t, ErrorCategoryStorage, entry.Data["error_category"])
	assert.Equal(t, "front-door", entry.Data["device_id"])
	assert.Equal(t, "attendance_punches", entry.Data["meta_table"])

	// nil inputs are ignored
	LogStructuredError(nil, structuredErr)
	LogStructuredError(logger, nil)
	assert.Len(t, hook.Entries, 1)
}

func TestLogDeviceError(t *testing.T) {
	logger, hook := test.NewNullLogger()

	se := LogDeviceError(logger, errors.New("checksum mismatch"), "front-door", "zkteco", "users")
	assert.Equal(t, ErrorCategoryProtocol, se.Context.Category)
	assert.Equal(t, ErrorSeverityHigh, se.Context.Severity)
	assert.False(t, se.Context.Recoverable)
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
	assert.Equal(t, "zkteco", hook.LastEntry().Data["brand"])

	se = LogDeviceError(logger, errors.New("dial tcp 10.0.0.1:4370: connection refused"), "front-door", "zkteco", "connect")
	assert.Equal(t, ErrorCategoryNetwork, se.Context.Category)
	assert.True(t, se.Context.Recoverable)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestLogStorageAndServiceErrors(t *testing.T) {
	logger, hook := test.NewNullLogger()

	LogStorageError(logger, errors.New("disk full"), "save", false)
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
	assert.Equal(t, ErrorSeverityCritical, hook.LastEntry().Data["error_severity"])

	LogServiceError(logger, errors.New("publish failed"), "queue", "publish", true)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Equal(t, "queue", hook.LastEntry().Data["component"])
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "deadline" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

var _ net.Error = timeoutError{}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err      error
		expected ErrorCategory
	}{
		{nil, ErrorCategoryUnknown},
		{errors.New("dial tcp 192.168.1.201:4370: connect: connection refused"), ErrorCategoryNetwork},
		{errors.New("timed out waiting for device: i/o timeout"), ErrorCategoryNetwork},
		{fmt.Errorf("read: %w", timeoutError{}), ErrorCategoryNetwork},
		{errors.New("checksum mismatch"), ErrorCategoryProtocol},
		{errors.New("bad magic"), ErrorCategoryProtocol},
		{errors.New("device rejected command: PREPARE_DATA"), ErrorCategoryHardware},
		{errors.New("add user: operation not supported by device family"), ErrorCategoryHardware},
		{errors.New("sqlite: constraint failed"), ErrorCategoryStorage},
		{errors.New("invalid configuration"), ErrorCategoryConfig},
		{errors.New("something odd"), ErrorCategoryUnknown},
	}

	for _, tt := range tests {
		name := "nil"
		if tt.err != nil {
			name = tt.err.Error()
		}
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ClassifyError(tt.err))
		})
	}
}

func BenchmarkClassifyError(b *testing.B) {
	err := errors.New("device rejected command: DELETE_USER answered with ACK_ERROR")
	for i := 0; i < b.N; i++ {
		ClassifyError(err)
	}
}
