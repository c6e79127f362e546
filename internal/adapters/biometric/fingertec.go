package biometric

import (
	"context"
	"fmt"

	"attendance-bridge/internal/protocol"
)

const (
	BrandFingertec = "fingertec"

	fingertecLabel           = "Fingertec Device"
	fingertecUsersQuery      = "GET_USERS"
	fingertecAttendanceQuery = "GET_ATTLOG"
)

// FingertecDriver speaks to Fingertec terminals, which name resources with
// literal command strings. The family's user write commands are not known,
// so user management reports ErrUnsupported without sending anything.
type FingertecDriver struct {
	terminal *terminal
}

// NewFingertecDriver creates a disconnected Fingertec driver.
func NewFingertecDriver(options Options) *FingertecDriver {
	return &FingertecDriver{terminal: newTerminal(BrandFingertec, fingertecLabel, options)}
}

func (f *FingertecDriver) Brand() string { return BrandFingertec }

func (f *FingertecDriver) Connect(ctx context.Context, endpoint Endpoint) error {
	return f.terminal.connect(ctx, endpoint)
}

func (f *FingertecDriver) Disconnect() { f.terminal.disconnect() }

func (f *FingertecDriver) IsConnected() bool { return f.terminal.isConnected() }

func (f *FingertecDriver) DeviceName() string { return f.terminal.deviceName() }

func (f *FingertecDriver) LastError() string { return f.terminal.lastError() }

func (f *FingertecDriver) Users(ctx context.Context) ([]protocol.UserRecord, error) {
	return f.terminal.users(ctx, fingertecUsersQuery)
}

func (f *FingertecDriver) AttendanceLogs(ctx context.Context) ([]protocol.AttendanceRecord, error) {
	return f.terminal.attendance(ctx, fingertecAttendanceQuery)
}

func (f *FingertecDriver) AddUser(ctx context.Context, user protocol.UserRecord) error {
	return f.unsupported("add user")
}

func (f *FingertecDriver) UpdateUser(ctx context.Context, pin int, user protocol.UserRecord) error {
	return f.unsupported("update user")
}

func (f *FingertecDriver) DeleteUser(ctx context.Context, pin int) error {
	return f.unsupported("delete user")
}

func (f *FingertecDriver) unsupported(op string) error {
	if !f.terminal.isConnected() {
		return f.terminal.record(ErrNotConnected)
	}
	return f.terminal.record(fmt.Errorf("%s: %w", op, ErrUnsupported))
}
