package biometric

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"attendance-bridge/internal/protocol"
)

// NotAvailable is reported as the device name of a disconnected driver.
const NotAvailable = "N/A"

var (
	ErrInvalidEndpoint   = errors.New("invalid device endpoint")
	ErrNotConnected      = errors.New("device not connected")
	ErrHandshakeRejected = errors.New("device rejected connection")
	ErrAuthRejected      = errors.New("device rejected comm key")
	ErrRejected          = errors.New("device rejected command")
	ErrUnsupported       = errors.New("operation not supported by device family")
	ErrResponseTooLarge  = errors.New("device response too large")
)

// Driver is the uniform contract over terminal hardware families.
type Driver interface {
	// Brand returns the canonical brand this driver speaks for
	Brand() string

	// Connect opens a session and performs the handshake. Connecting an
	// already connected driver replaces the existing session.
	Connect(ctx context.Context, endpoint Endpoint) error

	// Disconnect ends the session. It never fails; problems sending the
	// exit command are logged.
	Disconnect()

	// IsConnected reports whether a handshake succeeded and the session is live
	IsConnected() bool

	// DeviceName returns the family label, or NotAvailable when disconnected
	DeviceName() string

	// Users reads the user table. A disconnected driver returns an empty list.
	Users(ctx context.Context) ([]protocol.UserRecord, error)

	// AttendanceLogs reads the punch log. A disconnected driver returns an empty list.
	AttendanceLogs(ctx context.Context) ([]protocol.AttendanceRecord, error)

	// User management
	AddUser(ctx context.Context, user protocol.UserRecord) error
	UpdateUser(ctx context.Context, pin int, user protocol.UserRecord) error
	DeleteUser(ctx context.Context, pin int) error

	// LastError describes the most recent failure, empty when none
	LastError() string
}

// Endpoint identifies a terminal on the network.
type Endpoint struct {
	IP   string `json:"ip" mapstructure:"ip"`
	Port int    `json:"port" mapstructure:"port"`
	Key  string `json:"-" mapstructure:"key"`
}

// Validate checks the connection preconditions.
func (e Endpoint) Validate() error {
	if e.IP == "" {
		return ErrInvalidEndpoint
	}
	if e.Port <= 0 || e.Port > 65535 {
		return ErrInvalidEndpoint
	}
	return nil
}

// Options tune a driver instance.
type Options struct {
	// Timeout bounds dialing and every read
	Timeout time.Duration
	// Policy controls handshake retries
	Policy ConnectionPolicy
	// Location is the timezone punch timestamps are recorded in
	Location *time.Location
	Logger   logrus.FieldLogger
}

// DefaultOptions returns options with a 5 second timeout and a single
// connection attempt.
func DefaultOptions() Options {
	return Options{
		Timeout:  5 * time.Second,
		Policy:   DefaultConnectionPolicy(),
		Location: time.Local,
		Logger:   logrus.StandardLogger(),
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Timeout <= 0 {
		o.Timeout = d.Timeout
	}
	if o.Policy.MaxAttempts <= 0 {
		o.Policy.MaxAttempts = d.Policy.MaxAttempts
	}
	if o.Location == nil {
		o.Location = d.Location
	}
	if o.Logger == nil {
		o.Logger = d.Logger
	}
	return o
}
