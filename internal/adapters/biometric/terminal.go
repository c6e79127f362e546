package biometric

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus"

	"attendance-bridge/internal/protocol"
	"attendance-bridge/internal/transport"
)

// maxResponseSize caps the bytes collected for a single data request.
const maxResponseSize = 16 << 20

// authTicks is the tick value mixed into the AUTH comm key.
const authTicks = 50

// errCommKeyFormat fails a handshake without retrying.
var errCommKeyFormat = errors.New("comm key must be numeric")

// terminal carries the session state and request/response plumbing shared
// by every hardware family. Drivers compose it and add their own queries.
type terminal struct {
	brand     string
	label     string
	options   Options
	logger    logrus.FieldLogger
	session   *transport.Session
	endpoint  Endpoint
	connected bool
	lastErr   error
	mutex     sync.Mutex
}

func newTerminal(brand, label string, options Options) *terminal {
	options = options.withDefaults()
	return &terminal{
		brand:   brand,
		label:   label,
		options: options,
		logger:  options.Logger.WithField("brand", brand),
		session: transport.NewSession(options.Timeout),
	}
}

func (t *terminal) connect(ctx context.Context, endpoint Endpoint) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if err := endpoint.Validate(); err != nil {
		return t.fail(fmt.Errorf("%w: %q port %d", err, endpoint.IP, endpoint.Port))
	}

	if t.connected || t.session.IsOpen() {
		t.logger.WithField("ip", t.endpoint.IP).Info("Closing existing device session before reconnecting")
		t.closeLocked()
	}

	t.endpoint = endpoint
	logger := t.logger.WithFields(logrus.Fields{"ip": endpoint.IP, "port": endpoint.Port})
	logger.Info("Connecting to device")

	err := t.options.Policy.Run(ctx, logger, func() error {
		err := t.handshake(ctx, endpoint)
		if errors.Is(err, errCommKeyFormat) {
			return backoff.Permanent(err)
		}
		return err
	})
	if err != nil {
		return t.fail(err)
	}

	t.connected = true
	t.lastErr = nil
	logger.WithField("session_id", t.session.SessionID()).Info("Connected to device successfully")
	return nil
}

// handshake opens the socket, sends CONNECT and answers an AUTH challenge
// when the terminal asks for the comm key. On failure the socket is closed.
func (t *terminal) handshake(ctx context.Context, endpoint Endpoint) error {
	if err := t.session.Open(ctx, endpoint.IP, endpoint.Port); err != nil {
		return err
	}

	resp, err := t.session.Exchange(protocol.CmdConnect, nil)
	if err != nil {
		t.session.Close()
		return fmt.Errorf("failed to read connect response: %w", err)
	}

	switch resp.Command {
	case protocol.CmdAckOK:
		t.session.SetSessionID(resp.SessionID)
		return nil

	case protocol.CmdAckUnauth:
		t.session.SetSessionID(resp.SessionID)
		if err := t.authenticate(endpoint.Key, resp.SessionID); err != nil {
			t.session.Close()
			return err
		}
		return nil

	default:
		t.session.Close()
		return fmt.Errorf("%w: response %s", ErrHandshakeRejected, protocol.CommandName(resp.Command))
	}
}

func (t *terminal) authenticate(key string, sessionID uint16) error {
	numeric, err := protocol.ParseCommKey(key)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrAuthRejected, errCommKeyFormat)
	}

	resp, err := t.session.Exchange(protocol.CmdAuth, protocol.MakeCommKey(numeric, uint32(sessionID), authTicks))
	if err != nil {
		return fmt.Errorf("failed to read auth response: %w", err)
	}
	if resp.Command != protocol.CmdAckOK {
		return fmt.Errorf("%w: response %s", ErrAuthRejected, protocol.CommandName(resp.Command))
	}
	return nil
}

func (t *terminal) disconnect() {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.closeLocked()
}

// closeLocked sends EXIT when connected, then always closes the socket.
func (t *terminal) closeLocked() {
	if t.connected {
		if err := t.session.Request(protocol.CmdExit, nil); err != nil {
			t.logger.WithError(err).Warn("Failed to send exit command to device")
		}
	}
	if err := t.session.Close(); err != nil {
		t.logger.WithError(err).Debug("Error closing device socket")
	}
	if t.connected {
		t.logger.WithField("ip", t.endpoint.IP).Info("Disconnected from device")
	}
	t.connected = false
}

func (t *terminal) isConnected() bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.connected
}

func (t *terminal) deviceName() string {
	if !t.isConnected() {
		return NotAvailable
	}
	return t.label
}

func (t *terminal) lastError() string {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if t.lastErr == nil {
		return ""
	}
	return t.lastErr.Error()
}

// fail records err as the last error and returns it. Callers hold the mutex.
func (t *terminal) fail(err error) error {
	t.lastErr = err
	return err
}

func (t *terminal) record(err error) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.fail(err)
}

// dropLocked records a transport failure and tears the session down; the
// driver goes back to disconnected.
func (t *terminal) dropLocked(err error) error {
	t.logger.WithError(err).WithField("ip", t.endpoint.IP).Error("Device session failed")
	t.session.Close()
	t.connected = false
	return t.fail(err)
}

// readData issues PREPARE_DATA with query and collects the payload of the
// response. Data arrives either in DATA packets closed by an ACK_OK
// trailer, or directly in an ACK_OK. ok is false when the driver is not
// connected.
func (t *terminal) readData(ctx context.Context, query string) (data []byte, ok bool, err error) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if !t.connected {
		return nil, false, nil
	}

	if err := t.session.Request(protocol.CmdPrepareData, []byte(query)); err != nil {
		return nil, true, t.dropLocked(err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, true, t.dropLocked(err)
		}

		pkt, err := t.session.ReadPacket()
		if err != nil {
			return nil, true, t.dropLocked(err)
		}

		switch pkt.Command {
		case protocol.CmdData:
			data = append(data, pkt.Payload...)
		case protocol.CmdPrepareData:
			// size announcement, data follows
		case protocol.CmdAckOK:
			data = append(data, pkt.Payload...)
			t.logger.WithFields(logrus.Fields{"query": query, "bytes": len(data)}).Debug("Device data received")
			return data, true, nil
		default:
			return nil, true, t.fail(fmt.Errorf("%w: %q answered with %s", ErrRejected, query, protocol.CommandName(pkt.Command)))
		}

		if len(data) > maxResponseSize {
			return nil, true, t.dropLocked(fmt.Errorf("%w: more than %d bytes", ErrResponseTooLarge, maxResponseSize))
		}
	}
}

func (t *terminal) users(ctx context.Context, query string) ([]protocol.UserRecord, error) {
	data, ok, err := t.readData(ctx, query)
	if !ok {
		return []protocol.UserRecord{}, nil
	}
	if err != nil {
		return []protocol.UserRecord{}, err
	}
	return protocol.DecodeUserRecords(data), nil
}

func (t *terminal) attendance(ctx context.Context, query string) ([]protocol.AttendanceRecord, error) {
	data, ok, err := t.readData(ctx, query)
	if !ok {
		return []protocol.AttendanceRecord{}, nil
	}
	if err != nil {
		return []protocol.AttendanceRecord{}, err
	}
	return protocol.DecodeAttendanceRecords(data, t.options.Location), nil
}

// command sends one write command and expects ACK_OK.
func (t *terminal) command(ctx context.Context, command uint16, payload []byte) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if !t.connected {
		return t.fail(ErrNotConnected)
	}
	if err := ctx.Err(); err != nil {
		return t.fail(err)
	}

	resp, err := t.session.Exchange(command, payload)
	if err != nil {
		return t.dropLocked(err)
	}
	if resp.Command != protocol.CmdAckOK {
		return t.fail(fmt.Errorf("%w: %s answered with %s", ErrRejected, protocol.CommandName(command), protocol.CommandName(resp.Command)))
	}
	return nil
}

func (t *terminal) writeUser(ctx context.Context, user protocol.UserRecord) error {
	if !t.isConnected() {
		return t.record(ErrNotConnected)
	}
	payload, err := protocol.EncodeUserRecord(user)
	if err != nil {
		return t.record(err)
	}
	if err := t.command(ctx, protocol.CmdUserWriteRequest, payload); err != nil {
		return err
	}
	t.logger.WithField("employee_code", user.EmployeeCode).Info("User written to device")
	return nil
}

func (t *terminal) deleteUser(ctx context.Context, pin int) error {
	if pin <= 0 || pin > 0xFFFF {
		return t.record(fmt.Errorf("employee code %d out of range", pin))
	}
	payload := make([]byte, 2)
	binary.LittleEndian.PutUint16(payload, uint16(pin))
	if err := t.command(ctx, protocol.CmdDeleteUser, payload); err != nil {
		return err
	}
	t.logger.WithField("employee_code", pin).Info("User deleted from device")
	return nil
}
