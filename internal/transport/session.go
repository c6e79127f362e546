package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"attendance-bridge/internal/protocol"
)

// DefaultTimeout bounds dialing and every read when no timeout is given.
const DefaultTimeout = 5 * time.Second

var (
	ErrClosed  = errors.New("session is not open")
	ErrNoData  = errors.New("no data received")
	ErrTimeout = errors.New("timed out waiting for device")
)

// Session owns one TCP connection to one terminal. It is not safe for
// concurrent use; a driver serialises its own calls.
type Session struct {
	conn      net.Conn
	timeout   time.Duration
	sessionID uint16
	replyID   uint16
	mutex     sync.Mutex
}

// NewSession creates an unopened session using timeout for dial and reads.
func NewSession(timeout time.Duration) *Session {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Session{timeout: timeout}
}

// Open dials host:port. Any previously open connection is closed first.
func (s *Session) Open(ctx context.Context, host string, port int) error {
	s.Close()

	dialer := net.Dialer{Timeout: s.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return fmt.Errorf("failed to connect to %s:%d: %w", host, port, classify(err))
	}

	if tcp, ok := conn.(*net.TCPConn); ok {
		tcp.SetKeepAlive(true)
		tcp.SetKeepAlivePeriod(6 * time.Second)
	}

	s.mutex.Lock()
	s.conn = conn
	s.sessionID = 0
	s.replyID = 0
	s.mutex.Unlock()

	return nil
}

// IsOpen reports whether the session holds a connection.
func (s *Session) IsOpen() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.conn != nil
}

// Close closes the connection. It is safe to call more than once.
func (s *Session) Close() error {
	s.mutex.Lock()
	conn := s.conn
	s.conn = nil
	s.sessionID = 0
	s.replyID = 0
	s.mutex.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close()
}

// SessionID returns the id assigned by the device, 0 before the handshake.
func (s *Session) SessionID() uint16 {
	return s.sessionID
}

// SetSessionID adopts the session id handed out by the device.
func (s *Session) SetSessionID(id uint16) {
	s.sessionID = id
}

// ReplyID returns the reply id the next request will carry.
func (s *Session) ReplyID() uint16 {
	return s.replyID
}

// nextReplyID hands out the current reply id and advances the counter.
// The first request of a session (CONNECT) carries 0; on wrap the counter
// skips 0 so ids are never reused within a session.
func (s *Session) nextReplyID() uint16 {
	id := s.replyID
	s.replyID++
	if s.replyID == 0 {
		s.replyID = 1
	}
	return id
}

// Send writes the whole buffer, retrying short writes.
func (s *Session) Send(b []byte) error {
	conn := s.current()
	if conn == nil {
		return ErrClosed
	}

	if err := conn.SetWriteDeadline(time.Now().Add(s.timeout)); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}

	for len(b) > 0 {
		n, err := conn.Write(b)
		if err != nil {
			return fmt.Errorf("failed to write packet: %w", classify(err))
		}
		if n == 0 {
			return fmt.Errorf("failed to write packet: %w", io.ErrShortWrite)
		}
		b = b[n:]
	}
	return nil
}

// Receive performs a single bounded read of at most max bytes. Zero bytes,
// a closed connection and a timeout are all errors.
func (s *Session) Receive(max int) ([]byte, error) {
	conn := s.current()
	if conn == nil {
		return nil, ErrClosed
	}

	if err := conn.SetReadDeadline(time.Now().Add(s.timeout)); err != nil {
		return nil, fmt.Errorf("failed to set read deadline: %w", err)
	}

	buf := make([]byte, max)
	n, err := conn.Read(buf)
	if n == 0 {
		if err == nil {
			err = ErrNoData
		}
		return nil, fmt.Errorf("failed to read from device: %w", classify(err))
	}
	return buf[:n], nil
}

// ReadPacket reads exactly one packet: the fixed header, then as many
// payload bytes as the header declares. The checksum is verified.
func (s *Session) ReadPacket() (*protocol.Packet, error) {
	conn := s.current()
	if conn == nil {
		return nil, ErrClosed
	}

	if err := conn.SetReadDeadline(time.Now().Add(s.timeout)); err != nil {
		return nil, fmt.Errorf("failed to set read deadline: %w", err)
	}

	header := make([]byte, protocol.HeaderSize)
	if _, err := io.ReadFull(conn, header); err != nil {
		return nil, fmt.Errorf("failed to read packet header: %w", classify(err))
	}

	h := protocol.DecodeHeader(header)
	if h.Magic != protocol.Magic {
		return nil, fmt.Errorf("failed to read packet header: %w", protocol.ErrBadMagic)
	}

	buf := make([]byte, protocol.HeaderSize+int(h.Length))
	copy(buf, header)
	if _, err := io.ReadFull(conn, buf[protocol.HeaderSize:]); err != nil {
		return nil, fmt.Errorf("failed to read packet payload: %w", classify(err))
	}

	return protocol.DecodePacket(buf)
}

// Request sends command with the current session id and the next reply id.
func (s *Session) Request(command uint16, payload []byte) error {
	buf, err := protocol.EncodePacket(command, s.sessionID, s.nextReplyID(), payload)
	if err != nil {
		return err
	}
	return s.Send(buf)
}

// Exchange sends one request and reads the first response packet.
func (s *Session) Exchange(command uint16, payload []byte) (*protocol.Packet, error) {
	if err := s.Request(command, payload); err != nil {
		return nil, err
	}
	return s.ReadPacket()
}

func (s *Session) current() net.Conn {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.conn
}

// classify maps network timeouts onto ErrTimeout while keeping the cause.
func classify(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}
