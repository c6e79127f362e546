package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// Version is stamped into every log line; overridden at build time.
var Version = "dev"

// Initialize sets up structured logging with the specified level
func Initialize(logLevel string) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(strings.ToLower(logLevel))
	if err != nil {
		level = logrus.InfoLevel
		logger.WithError(err).Warn("Invalid log level, defaulting to info")
	}
	logger.SetLevel(level)

	logger.SetFormatter(&serviceFormatter{
		Formatter: &logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		},
		fields: logrus.Fields{
			"service": "attendance-bridge",
			"version": Version,
		},
	})

	logger.SetOutput(os.Stdout)

	return logger
}

// serviceFormatter adds the service fields to every entry
type serviceFormatter struct {
	logrus.Formatter
	fields logrus.Fields
}

func (f *serviceFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	for k, v := range f.fields {
		if _, exists := entry.Data[k]; !exists {
			entry.Data[k] = v
		}
	}
	return f.Formatter.Format(entry)
}

// SetupFileLogging configures logging to write to a file in addition to stdout
func SetupFileLogging(logger *logrus.Logger, logFile string) error {
	if logFile == "" {
		return nil
	}

	logDir := filepath.Dir(logFile)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return err
	}

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return err
	}

	logger.SetOutput(io.MultiWriter(os.Stdout, file))
	logger.WithField("log_file", logFile).Info("File logging enabled")

	return nil
}

// NewContextLogger creates a logger with additional context fields
func NewContextLogger(logger logrus.FieldLogger, fields logrus.Fields) *logrus.Entry {
	return logger.WithFields(fields)
}

// NewDeviceLogger creates a logger for one attendance terminal
func NewDeviceLogger(logger logrus.FieldLogger, deviceID, brand string) *logrus.Entry {
	return logger.WithFields(logrus.Fields{
		"component": "device",
		"device_id": deviceID,
		"brand":     brand,
	})
}

// NewServiceLogger creates a logger for internal services
func NewServiceLogger(logger logrus.FieldLogger, serviceName string) *logrus.Entry {
	return logger.WithFields(logrus.Fields{
		"component": "service",
		"service":   serviceName,
	})
}
