package protocol

import (
	"encoding/binary"
	"strconv"
)

// MakeCommKey derives the 4-byte AUTH payload from a terminal comm key
// (numeric password), the session id and a tick value.
func MakeCommKey(key, sessionID uint32, ticks uint8) []byte {
	var k uint32
	for i := 0; i < 32; i++ {
		if key&(1<<uint(i)) != 0 {
			k |= 1 << uint(31-i)
		}
	}
	k += sessionID
	k ^= 0x4F534B5A // "ZKSO"
	k = (k&0xFFFF)<<16 | k>>16

	t := uint32(ticks)
	k = (k & 0xFF00FFFF) ^ (t | t<<8 | t<<16 | t<<24)

	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, k)
	return buf
}

// ParseCommKey converts a configured comm key string to its numeric form.
// An empty key is 0.
func ParseCommKey(key string) (uint32, error) {
	if key == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(key, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}
