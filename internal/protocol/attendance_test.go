package protocol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeEncoding(t *testing.T) {
	times := []time.Time{
		time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 2, 29, 8, 59, 30, 0, time.UTC),
		time.Date(2031, 12, 31, 23, 59, 59, 0, time.UTC),
	}

	for _, in := range times {
		assert.True(t, in.Equal(DecodeTime(EncodeTime(in), time.UTC)), in.String())
	}

	assert.Equal(t, uint32(0), EncodeTime(time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func TestAttendanceRecordRoundTrip(t *testing.T) {
	loc := time.FixedZone("UTC+7", 7*3600)
	in := []AttendanceRecord{
		{EmployeeCode: 42, Timestamp: time.Date(2024, 5, 6, 8, 1, 0, 0, loc), Direction: PunchCheckIn, VerifyMode: 1},
		{EmployeeCode: 42, Timestamp: time.Date(2024, 5, 6, 17, 3, 10, 0, loc), Direction: PunchCheckOut, VerifyMode: 1},
	}

	payload := []byte{0x01, 0x00, 0x00, 0x00}
	for _, r := range in {
		buf, err := EncodeAttendanceRecord(r)
		require.NoError(t, err)
		require.Len(t, buf, AttendanceRecordSize)
		payload = append(payload, buf...)
	}

	out := DecodeAttendanceRecords(payload, loc)
	require.Len(t, out, 2)
	for i := range in {
		assert.Equal(t, in[i].EmployeeCode, out[i].EmployeeCode)
		assert.True(t, in[i].Timestamp.Equal(out[i].Timestamp))
		assert.Equal(t, in[i].Direction, out[i].Direction)
		assert.Equal(t, in[i].VerifyMode, out[i].VerifyMode)
	}
}

func TestDecodeAttendanceRecordsDropsZeroEmployee(t *testing.T) {
	assert.Empty(t, DecodeAttendanceRecords(make([]byte, AttendanceRecordSize), nil))
	assert.Empty(t, DecodeAttendanceRecords(nil, nil))
}

func TestDirectionName(t *testing.T) {
	assert.Equal(t, "Check-In", DirectionName(PunchCheckIn))
	assert.Equal(t, "OT-Out", DirectionName(PunchOvertimeOut))
	assert.Equal(t, "Unknown", DirectionName(99))
}

func TestMakeCommKey(t *testing.T) {
	a := MakeCommKey(0, 100, 50)
	b := MakeCommKey(123456, 100, 50)
	assert.Len(t, a, 4)
	assert.NotEqual(t, a, b)
	assert.Equal(t, b, MakeCommKey(123456, 100, 50))

	key, err := ParseCommKey("")
	require.NoError(t, err)
	assert.Equal(t, uint32(0), key)

	_, err = ParseCommKey("abc")
	assert.Error(t, err)
}
