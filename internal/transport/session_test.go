package transport

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attendance-bridge/internal/protocol"
)

// listen starts a one-connection server running handle and returns its port.
func listen(t *testing.T, handle func(net.Conn)) int {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		handle(conn)
	}()

	return ln.Addr().(*net.TCPAddr).Port
}

func TestSessionExchangeReadsFragmentedPacket(t *testing.T) {
	payload := make([]byte, 300)
	for i := range payload {
		payload[i] = byte(i)
	}

	port := listen(t, func(conn net.Conn) {
		header := make([]byte, protocol.HeaderSize)
		if _, err := io.ReadFull(conn, header); err != nil {
			return
		}
		req := protocol.DecodeHeader(header)

		resp, _ := protocol.EncodePacket(protocol.CmdAckOK, 99, req.ReplyID, payload)
		// deliver in small pieces to exercise the full-frame read
		for len(resp) > 0 {
			n := 7
			if n > len(resp) {
				n = len(resp)
			}
			conn.Write(resp[:n])
			resp = resp[n:]
			time.Sleep(time.Millisecond)
		}
	})

	s := NewSession(2 * time.Second)
	require.NoError(t, s.Open(context.Background(), "127.0.0.1", port))
	defer s.Close()

	pkt, err := s.Exchange(protocol.CmdConnect, nil)
	require.NoError(t, err)
	assert.Equal(t, protocol.CmdAckOK, pkt.Command)
	assert.Equal(t, uint16(99), pkt.SessionID)
	assert.Equal(t, uint16(0), pkt.ReplyID, "first request carries reply id 0")
	assert.Equal(t, payload, pkt.Payload)
	assert.Equal(t, uint16(1), s.ReplyID())
}

func TestSessionRejectsCorruptPacket(t *testing.T) {
	port := listen(t, func(conn net.Conn) {
		resp, _ := protocol.EncodePacket(protocol.CmdAckOK, 1, 0, []byte{1, 2, 3})
		resp[len(resp)-1] ^= 0xFF
		conn.Write(resp)
		time.Sleep(100 * time.Millisecond)
	})

	s := NewSession(time.Second)
	require.NoError(t, s.Open(context.Background(), "127.0.0.1", port))
	defer s.Close()

	_, err := s.ReadPacket()
	assert.ErrorIs(t, err, protocol.ErrChecksumMismatch)
}

func TestSessionReadTimeout(t *testing.T) {
	done := make(chan struct{})
	port := listen(t, func(conn net.Conn) { <-done })
	defer close(done)

	s := NewSession(100 * time.Millisecond)
	require.NoError(t, s.Open(context.Background(), "127.0.0.1", port))
	defer s.Close()

	start := time.Now()
	_, err := s.ReadPacket()
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)

	_, err = s.Receive(16)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestSessionReceiveClosedConnection(t *testing.T) {
	port := listen(t, func(conn net.Conn) {})

	s := NewSession(time.Second)
	require.NoError(t, s.Open(context.Background(), "127.0.0.1", port))
	defer s.Close()

	_, err := s.Receive(16)
	assert.Error(t, err)
}

func TestSessionOpenRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	s := NewSession(time.Second)
	assert.Error(t, s.Open(context.Background(), "127.0.0.1", port))
	assert.False(t, s.IsOpen())
}

func TestSessionCloseIdempotent(t *testing.T) {
	s := NewSession(0)
	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())

	assert.ErrorIs(t, s.Send([]byte{1}), ErrClosed)
	_, err := s.Receive(1)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.ReadPacket()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestReplyIDNeverReused(t *testing.T) {
	s := NewSession(0)
	s.replyID = 0xFFFF
	assert.Equal(t, uint16(0xFFFF), s.nextReplyID())
	assert.Equal(t, uint16(1), s.nextReplyID())
}
