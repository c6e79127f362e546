package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Wire framing constants
const (
	// HeaderSize is the fixed length of a packet header, magic included.
	HeaderSize = 16
	// MaxPayload is the largest payload a single packet can carry.
	MaxPayload = 0xFFFF
	// StartMarker is the fixed value of the field following the magic.
	StartMarker uint16 = 1
)

// Magic prefixes every packet on the wire.
var Magic = [4]byte{0x50, 0x50, 0x82, 0x7D}

var (
	ErrShortPacket      = errors.New("packet shorter than header")
	ErrBadMagic         = errors.New("packet magic mismatch")
	ErrChecksumMismatch = errors.New("packet checksum mismatch")
	ErrPayloadTooLarge  = errors.New("payload exceeds maximum packet size")
)

// Header is the decoded 16-byte packet header.
type Header struct {
	Magic     [4]byte
	Start     uint16
	Checksum  uint16
	SessionID uint16
	ReplyID   uint16
	Command   uint16
	Length    uint16
}

// Packet is a header together with its payload.
type Packet struct {
	Header
	Payload []byte
}

// Checksum sums b as little-endian 16-bit words modulo 65536. An odd
// trailing byte is the low byte of a final word.
func Checksum(b []byte) uint16 {
	var sum uint16
	for len(b) > 1 {
		sum += binary.LittleEndian.Uint16(b)
		b = b[2:]
	}
	if len(b) == 1 {
		sum += uint16(b[0])
	}
	return sum
}

// coreBuffer lays out command, session id, reply id and payload length
// followed by the payload. This is the buffer the checksum covers.
func coreBuffer(command, sessionID, replyID uint16, payload []byte) []byte {
	core := make([]byte, 8+len(payload))
	binary.LittleEndian.PutUint16(core[0:2], command)
	binary.LittleEndian.PutUint16(core[2:4], sessionID)
	binary.LittleEndian.PutUint16(core[4:6], replyID)
	binary.LittleEndian.PutUint16(core[6:8], uint16(len(payload)))
	copy(core[8:], payload)
	return core
}

// EncodePacket builds the wire representation of a packet.
func EncodePacket(command, sessionID, replyID uint16, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}

	checksum := Checksum(coreBuffer(command, sessionID, replyID, payload))

	buf := make([]byte, HeaderSize+len(payload))
	copy(buf[0:4], Magic[:])
	binary.LittleEndian.PutUint16(buf[4:6], StartMarker)
	binary.LittleEndian.PutUint16(buf[6:8], checksum)
	binary.LittleEndian.PutUint16(buf[8:10], sessionID)
	binary.LittleEndian.PutUint16(buf[10:12], replyID)
	binary.LittleEndian.PutUint16(buf[12:14], command)
	binary.LittleEndian.PutUint16(buf[14:16], uint16(len(payload)))
	copy(buf[HeaderSize:], payload)

	return buf, nil
}

// DecodeHeader decodes the header fields of b. It returns nil when fewer
// than HeaderSize bytes are supplied and performs no integrity checks.
func DecodeHeader(b []byte) *Header {
	if len(b) < HeaderSize {
		return nil
	}

	h := &Header{
		Start:     binary.LittleEndian.Uint16(b[4:6]),
		Checksum:  binary.LittleEndian.Uint16(b[6:8]),
		SessionID: binary.LittleEndian.Uint16(b[8:10]),
		ReplyID:   binary.LittleEndian.Uint16(b[10:12]),
		Command:   binary.LittleEndian.Uint16(b[12:14]),
		Length:    binary.LittleEndian.Uint16(b[14:16]),
	}
	copy(h.Magic[:], b[0:4])
	return h
}

// Verify recomputes the checksum over the header fields and payload and
// reports whether it matches the transmitted one.
func (h *Header) Verify(payload []byte) bool {
	return Checksum(coreBuffer(h.Command, h.SessionID, h.ReplyID, payload)) == h.Checksum
}

// DecodePacket decodes and verifies a complete packet. Bytes beyond the
// declared payload length are ignored.
func DecodePacket(b []byte) (*Packet, error) {
	h := DecodeHeader(b)
	if h == nil {
		return nil, fmt.Errorf("%w: got %d bytes", ErrShortPacket, len(b))
	}
	if h.Magic != Magic {
		return nil, fmt.Errorf("%w: % x", ErrBadMagic, h.Magic)
	}

	end := HeaderSize + int(h.Length)
	if len(b) < end {
		return nil, fmt.Errorf("%w: payload declares %d bytes, have %d", ErrShortPacket, h.Length, len(b)-HeaderSize)
	}

	payload := make([]byte, h.Length)
	copy(payload, b[HeaderSize:end])

	if !h.Verify(payload) {
		return nil, fmt.Errorf("%w: command %d reply %d", ErrChecksumMismatch, h.Command, h.ReplyID)
	}

	return &Packet{Header: *h, Payload: payload}, nil
}

// IsAck reports whether the packet acknowledges a request.
func (p *Packet) IsAck() bool {
	return p.Command == CmdAckOK
}

func (p *Packet) String() string {
	return fmt.Sprintf("%s session=%d reply=%d len=%d", CommandName(p.Command), p.SessionID, p.ReplyID, p.Length)
}
