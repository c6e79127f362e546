package simulator

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"

	"attendance-bridge/internal/protocol"
)

// Config describes how a simulated terminal behaves.
type Config struct {
	// SessionID handed out on CONNECT
	SessionID uint16
	// CommKey, when non-zero, makes CONNECT answer ACK_UNAUTH and require AUTH
	CommKey uint32
	// RejectConnect answers CONNECT with ACK_ERROR
	RejectConnect bool
	// ChunkSize splits data responses into DATA packets of at most this many bytes
	ChunkSize int
	// DataInAck returns data directly inside the ACK_OK instead of DATA packets
	DataInAck bool
	// CountPrefix puts the 01 00 00 00 prefix in front of record data
	CountPrefix bool
	// UsersQueries and AttendanceQueries list the PREPARE_DATA strings accepted
	UsersQueries      []string
	AttendanceQueries []string
	Users             []protocol.UserRecord
	Attendance        []protocol.AttendanceRecord
}

// DefaultConfig answers the queries of both supported families.
func DefaultConfig() Config {
	return Config{
		SessionID:         777,
		ChunkSize:         1024,
		CountPrefix:       true,
		UsersQueries:      []string{"C:1:SELECT * FROM USER", "GET_USERS"},
		AttendanceQueries: []string{"C:1:SELECT * FROM ATTLOG", "GET_ATTLOG"},
	}
}

// Terminal is an in-process attendance terminal speaking the wire
// protocol over TCP. It is used for tests and for bench work without
// hardware.
type Terminal struct {
	config   Config
	logger   logrus.FieldLogger
	listener net.Listener
	users    map[int]protocol.UserRecord
	commands []uint16
	mutex    sync.Mutex
	wg       sync.WaitGroup
	done     chan struct{}
	stop     sync.Once
}

// NewTerminal creates a terminal that is not yet listening.
func NewTerminal(config Config, logger logrus.FieldLogger) *Terminal {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	users := make(map[int]protocol.UserRecord, len(config.Users))
	for _, u := range config.Users {
		users[u.EmployeeCode] = u
	}
	return &Terminal{
		config: config,
		logger: logger.WithField("component", "simulator"),
		users:  users,
		done:   make(chan struct{}),
	}
}

// Start listens on addr ("127.0.0.1:0" picks a free port) and serves
// connections until ctx is done or Close is called.
func (t *Terminal) Start(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	t.listener = listener

	t.wg.Add(1)
	go t.acceptLoop()

	go func() {
		select {
		case <-ctx.Done():
			listener.Close()
		case <-t.done:
		}
	}()

	t.logger.WithField("addr", listener.Addr().String()).Info("Simulated terminal listening")
	return nil
}

// Port returns the TCP port the terminal listens on.
func (t *Terminal) Port() int {
	if t.listener == nil {
		return 0
	}
	return t.listener.Addr().(*net.TCPAddr).Port
}

// Close stops listening and waits for open connections to finish. It is
// safe to call more than once.
func (t *Terminal) Close() error {
	t.stop.Do(func() { close(t.done) })

	var err error
	if t.listener != nil {
		err = t.listener.Close()
	}
	t.wg.Wait()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Commands returns the command codes received so far, in order.
func (t *Terminal) Commands() []uint16 {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return append([]uint16(nil), t.commands...)
}

// Users returns the current user table sorted by employee code.
func (t *Terminal) Users() []protocol.UserRecord {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	users := make([]protocol.UserRecord, 0, len(t.users))
	for _, u := range t.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].EmployeeCode < users[j].EmployeeCode })
	return users
}

func (t *Terminal) acceptLoop() {
	defer t.wg.Done()
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			return
		}
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			defer conn.Close()
			t.serve(conn)
		}()
	}
}

// serve handles one client connection until EXIT or EOF.
func (t *Terminal) serve(conn net.Conn) {
	var sessionID uint16
	authenticated := t.config.CommKey == 0

	for {
		req, err := readPacket(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				t.logger.WithError(err).Debug("Simulated terminal read failed")
			}
			return
		}

		t.mutex.Lock()
		t.commands = append(t.commands, req.Command)
		t.mutex.Unlock()

		reply := func(cmd uint16, payload []byte) error {
			buf, err := protocol.EncodePacket(cmd, sessionID, req.ReplyID, payload)
			if err != nil {
				return err
			}
			_, err = conn.Write(buf)
			return err
		}

		switch req.Command {
		case protocol.CmdConnect:
			if t.config.RejectConnect {
				reply(protocol.CmdAckError, nil)
				continue
			}
			sessionID = t.config.SessionID
			if !authenticated {
				err = reply(protocol.CmdAckUnauth, nil)
			} else {
				err = reply(protocol.CmdAckOK, nil)
			}

		case protocol.CmdAuth:
			expected := protocol.MakeCommKey(t.config.CommKey, uint32(sessionID), 50)
			if bytes.Equal(expected, req.Payload) {
				authenticated = true
				err = reply(protocol.CmdAckOK, nil)
			} else {
				err = reply(protocol.CmdAckUnauth, nil)
			}

		case protocol.CmdExit:
			reply(protocol.CmdAckOK, nil)
			return

		default:
			if !authenticated {
				err = reply(protocol.CmdAckUnauth, nil)
				break
			}
			err = t.handleRequest(req, reply)
		}

		if err != nil {
			t.logger.WithError(err).Debug("Simulated terminal write failed")
			return
		}
	}
}

func (t *Terminal) handleRequest(req *protocol.Packet, reply func(uint16, []byte) error) error {
	switch req.Command {
	case protocol.CmdPrepareData:
		data, ok := t.data(string(req.Payload))
		if !ok {
			return reply(protocol.CmdAckError, nil)
		}
		return t.sendData(data, reply)

	case protocol.CmdUserWriteRequest:
		users := protocol.DecodeUserRecords(req.Payload)
		if len(users) != 1 {
			return reply(protocol.CmdAckError, nil)
		}
		t.mutex.Lock()
		t.users[users[0].EmployeeCode] = users[0]
		t.mutex.Unlock()
		return reply(protocol.CmdAckOK, nil)

	case protocol.CmdDeleteUser:
		if len(req.Payload) < 2 {
			return reply(protocol.CmdAckError, nil)
		}
		pin := int(binary.LittleEndian.Uint16(req.Payload))
		t.mutex.Lock()
		_, exists := t.users[pin]
		delete(t.users, pin)
		t.mutex.Unlock()
		if !exists {
			return reply(protocol.CmdAckError, nil)
		}
		return reply(protocol.CmdAckOK, nil)

	default:
		return reply(protocol.CmdAckError, []byte("unknown command "+strconv.Itoa(int(req.Command))))
	}
}

// data renders the records a query asks for.
func (t *Terminal) data(query string) ([]byte, bool) {
	var buf []byte
	if t.config.CountPrefix {
		buf = append(buf, 0x01, 0x00, 0x00, 0x00)
	}

	switch {
	case contains(t.config.UsersQueries, query):
		for _, u := range t.Users() {
			record, err := protocol.EncodeUserRecord(u)
			if err != nil {
				continue
			}
			buf = append(buf, record...)
		}
	case contains(t.config.AttendanceQueries, query):
		for _, a := range t.config.Attendance {
			record, err := protocol.EncodeAttendanceRecord(a)
			if err != nil {
				continue
			}
			buf = append(buf, record...)
		}
	default:
		return nil, false
	}
	return buf, true
}

func (t *Terminal) sendData(data []byte, reply func(uint16, []byte) error) error {
	if t.config.DataInAck {
		return reply(protocol.CmdAckOK, data)
	}

	chunk := t.config.ChunkSize
	if chunk <= 0 || chunk > protocol.MaxPayload {
		chunk = protocol.MaxPayload
	}
	for len(data) > 0 {
		n := chunk
		if n > len(data) {
			n = len(data)
		}
		if err := reply(protocol.CmdData, data[:n]); err != nil {
			return err
		}
		data = data[n:]
	}
	return reply(protocol.CmdAckOK, nil)
}

func readPacket(r io.Reader) (*protocol.Packet, error) {
	header := make([]byte, protocol.HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	h := protocol.DecodeHeader(header)
	buf := make([]byte, protocol.HeaderSize+int(h.Length))
	copy(buf, header)
	if _, err := io.ReadFull(r, buf[protocol.HeaderSize:]); err != nil {
		return nil, err
	}
	return protocol.DecodePacket(buf)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
