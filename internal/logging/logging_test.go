package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitialize(t *testing.T) {
	logger := Initialize("debug")
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())

	logger = Initialize("nonsense")
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
}

func TestInitializeWritesServiceFields(t *testing.T) {
	logger := Initialize("info")
	var buf bytes.Buffer
	logger.SetOutput(&buf)

	NewDeviceLogger(logger, "front-door", "zkteco").Info("Connected")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "Connected", line["message"])
	assert.Equal(t, "info", line["level"])
	assert.Equal(t, "attendance-bridge", line["service"])
	assert.Equal(t, "front-door", line["device_id"])
	assert.Equal(t, "zkteco", line["brand"])
	assert.Equal(t, "device", line["component"])
	assert.Contains(t, line, "timestamp")
}

func TestSetupFileLogging(t *testing.T) {
	logger := Initialize("info")
	logFile := filepath.Join(t.TempDir(), "logs", "bridge.log")

	require.NoError(t, SetupFileLogging(logger, logFile))
	logger.Info("hello")

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")

	assert.NoError(t, SetupFileLogging(logger, ""))
}

func TestNewServiceLogger(t *testing.T) {
	entry := NewServiceLogger(logrus.New(), "sync")
	assert.Equal(t, "sync", entry.Data["service"])
	assert.Equal(t, "service", entry.Data["component"])

	entry = NewContextLogger(logrus.New(), logrus.Fields{"a": 1})
	assert.Equal(t, 1, entry.Data["a"])
}
