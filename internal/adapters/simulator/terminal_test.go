package simulator

import (
	"context"
	"fmt"
	"net"
	"runtime"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attendance-bridge/internal/protocol"
)

func newTestTerminal() *Terminal {
	logger, _ := test.NewNullLogger()
	return NewTerminal(DefaultConfig(), logger)
}

func TestCloseReleasesGoroutines(t *testing.T) {
	before := runtime.NumGoroutine()

	term := newTestTerminal()
	require.NoError(t, term.Start(context.Background(), "127.0.0.1:0"))
	require.NoError(t, term.Close())
	assert.NoError(t, term.Close(), "second close is harmless")

	assert.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before
	}, 2*time.Second, 10*time.Millisecond)
}

func TestContextStopsListening(t *testing.T) {
	term := newTestTerminal()
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, term.Start(ctx, "127.0.0.1:0"))
	addr := fmt.Sprintf("127.0.0.1:%d", term.Port())

	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	conn.Close()

	cancel()
	assert.Eventually(t, func() bool {
		c, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err == nil {
			c.Close()
			return false
		}
		return true
	}, 2*time.Second, 20*time.Millisecond)

	assert.NoError(t, term.Close())
}

func TestConnectHandshake(t *testing.T) {
	term := newTestTerminal()
	require.NoError(t, term.Start(context.Background(), "127.0.0.1:0"))
	defer term.Close()

	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", term.Port()), time.Second)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(2 * time.Second))

	request, err := protocol.EncodePacket(protocol.CmdConnect, 0, 0, nil)
	require.NoError(t, err)
	_, err = conn.Write(request)
	require.NoError(t, err)

	resp, err := readPacket(conn)
	require.NoError(t, err)
	assert.Equal(t, uint16(protocol.CmdAckOK), resp.Command)
	assert.Equal(t, uint16(777), resp.SessionID)
	assert.Equal(t, []uint16{protocol.CmdConnect}, term.Commands())
}
