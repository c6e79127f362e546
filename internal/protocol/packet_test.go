package protocol

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecksum(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected uint16
	}{
		{"empty", nil, 0},
		{"single word", []byte{0x01, 0x02}, 0x0201},
		{"odd trailing byte", []byte{0x01, 0x02, 0x03}, 0x0204},
		{"wraps at 65536", []byte{0xFF, 0xFF, 0x02, 0x00}, 0x0001},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Checksum(tt.input))
		})
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	payloads := [][]byte{
		nil,
		[]byte("C:1:SELECT * FROM USER"),
		{0x00},
		make([]byte, 1000),
	}

	for _, payload := range payloads {
		buf, err := EncodePacket(CmdPrepareData, 777, 42, payload)
		require.NoError(t, err)
		require.Len(t, buf, HeaderSize+len(payload))

		h := DecodeHeader(buf)
		require.NotNil(t, h)
		assert.Equal(t, Magic, h.Magic)
		assert.Equal(t, StartMarker, h.Start)
		assert.Equal(t, CmdPrepareData, h.Command)
		assert.Equal(t, uint16(777), h.SessionID)
		assert.Equal(t, uint16(42), h.ReplyID)
		assert.Equal(t, uint16(len(payload)), h.Length)

		core := make([]byte, 8)
		binary.LittleEndian.PutUint16(core[0:2], h.Command)
		binary.LittleEndian.PutUint16(core[2:4], h.SessionID)
		binary.LittleEndian.PutUint16(core[4:6], h.ReplyID)
		binary.LittleEndian.PutUint16(core[6:8], h.Length)
		core = append(core, buf[HeaderSize:]...)
		assert.Equal(t, h.Checksum, Checksum(core))

		pkt, err := DecodePacket(buf)
		require.NoError(t, err)
		assert.Equal(t, len(payload), len(pkt.Payload))
	}
}

func TestDecodeHeaderLengthGuard(t *testing.T) {
	for n := 0; n < HeaderSize; n++ {
		assert.Nil(t, DecodeHeader(make([]byte, n)), "length %d", n)
	}
	assert.NotNil(t, DecodeHeader(make([]byte, HeaderSize)))
}

func TestDecodePacketRejectsCorruption(t *testing.T) {
	buf, err := EncodePacket(CmdData, 1, 2, []byte{1, 2, 3, 4})
	require.NoError(t, err)

	corrupt := append([]byte(nil), buf...)
	corrupt[HeaderSize] ^= 0xFF
	_, err = DecodePacket(corrupt)
	assert.ErrorIs(t, err, ErrChecksumMismatch)

	badMagic := append([]byte(nil), buf...)
	badMagic[0] = 0
	_, err = DecodePacket(badMagic)
	assert.ErrorIs(t, err, ErrBadMagic)

	_, err = DecodePacket(buf[:HeaderSize+2])
	assert.ErrorIs(t, err, ErrShortPacket)

	_, err = DecodePacket(buf[:10])
	assert.ErrorIs(t, err, ErrShortPacket)
}

func TestEncodePacketTooLarge(t *testing.T) {
	_, err := EncodePacket(CmdData, 0, 0, make([]byte, MaxPayload+1))
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestCommandName(t *testing.T) {
	assert.Equal(t, "ACK_OK", CommandName(CmdAckOK))
	assert.Equal(t, "PREPARE_DATA", CommandName(CmdPrepareData))
	assert.Equal(t, "UNKNOWN", CommandName(4242))
}
