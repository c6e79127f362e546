package biometric

import (
	"context"

	"attendance-bridge/internal/protocol"
)

const (
	BrandZKTeco = "zkteco"

	zktecoLabel           = "ZKTeco Device"
	zktecoUsersQuery      = "C:1:SELECT * FROM USER"
	zktecoAttendanceQuery = "C:1:SELECT * FROM ATTLOG"
)

// ZKTecoDriver speaks to ZKTeco terminals (and ESSL rebadges). Resources
// are requested with pseudo-SQL queries; user writes go out as
// USER_WRITE_REQUEST and DELETE_USER commands.
type ZKTecoDriver struct {
	terminal *terminal
}

// NewZKTecoDriver creates a disconnected ZKTeco driver.
func NewZKTecoDriver(options Options) *ZKTecoDriver {
	return &ZKTecoDriver{terminal: newTerminal(BrandZKTeco, zktecoLabel, options)}
}

func (z *ZKTecoDriver) Brand() string { return BrandZKTeco }

func (z *ZKTecoDriver) Connect(ctx context.Context, endpoint Endpoint) error {
	return z.terminal.connect(ctx, endpoint)
}

func (z *ZKTecoDriver) Disconnect() { z.terminal.disconnect() }

func (z *ZKTecoDriver) IsConnected() bool { return z.terminal.isConnected() }

func (z *ZKTecoDriver) DeviceName() string { return z.terminal.deviceName() }

func (z *ZKTecoDriver) LastError() string { return z.terminal.lastError() }

// Users reads the terminal's user table.
func (z *ZKTecoDriver) Users(ctx context.Context) ([]protocol.UserRecord, error) {
	return z.terminal.users(ctx, zktecoUsersQuery)
}

// AttendanceLogs reads every punch stored on the terminal.
func (z *ZKTecoDriver) AttendanceLogs(ctx context.Context) ([]protocol.AttendanceRecord, error) {
	return z.terminal.attendance(ctx, zktecoAttendanceQuery)
}

// AddUser writes a new user record.
func (z *ZKTecoDriver) AddUser(ctx context.Context, user protocol.UserRecord) error {
	return z.terminal.writeUser(ctx, user)
}

// UpdateUser overwrites the record stored under pin.
func (z *ZKTecoDriver) UpdateUser(ctx context.Context, pin int, user protocol.UserRecord) error {
	user.EmployeeCode = pin
	return z.terminal.writeUser(ctx, user)
}

// DeleteUser removes the user stored under pin.
func (z *ZKTecoDriver) DeleteUser(ctx context.Context, pin int) error {
	return z.terminal.deleteUser(ctx, pin)
}
