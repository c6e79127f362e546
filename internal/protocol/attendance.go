package protocol

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"time"

	binarypack "github.com/canhlinh/go-binary-pack"
)

// AttendanceRecordSize is the fixed width of one attendance log record.
const AttendanceRecordSize = 40

// Punch direction codes
const (
	PunchCheckIn     = 0
	PunchCheckOut    = 1
	PunchBreakOut    = 2
	PunchBreakIn     = 3
	PunchOvertimeIn  = 4
	PunchOvertimeOut = 5
)

// uid, user id, verify mode, packed time, direction, reserved
var attendanceRecordFormat = []string{"H", "24s", "B", "4s", "B", "8s"}

// AttendanceRecord is one punch read from a terminal's attendance log.
type AttendanceRecord struct {
	EmployeeCode int       `json:"employee_code"`
	Timestamp    time.Time `json:"timestamp"`
	Direction    int       `json:"direction"`
	VerifyMode   int       `json:"verify_mode"`
}

// DirectionName returns a readable label for a punch direction code.
func DirectionName(direction int) string {
	switch direction {
	case PunchCheckIn:
		return "Check-In"
	case PunchCheckOut:
		return "Check-Out"
	case PunchBreakOut:
		return "Break-Out"
	case PunchBreakIn:
		return "Break-In"
	case PunchOvertimeIn:
		return "OT-In"
	case PunchOvertimeOut:
		return "OT-Out"
	default:
		return "Unknown"
	}
}

// DecodeAttendanceRecords decodes back-to-back 40-byte attendance records.
// Timestamps are interpreted in loc, or UTC when loc is nil.
func DecodeAttendanceRecords(payload []byte, loc *time.Location) []AttendanceRecord {
	if loc == nil {
		loc = time.UTC
	}
	data := StripRecordPrefix(payload, AttendanceRecordSize)
	records := []AttendanceRecord{}

	for offset := 0; offset+AttendanceRecordSize <= len(data); offset += AttendanceRecordSize {
		record, err := decodeAttendanceRecord(data[offset:offset+AttendanceRecordSize], loc)
		if err != nil {
			log.WithError(err).WithField("offset", offset).Warn("Skipping malformed attendance record")
			continue
		}
		if record.EmployeeCode <= 0 {
			continue
		}
		records = append(records, record)
	}

	return records
}

func decodeAttendanceRecord(chunk []byte, loc *time.Location) (AttendanceRecord, error) {
	values, err := new(binarypack.BinaryPack).UnPack(attendanceRecordFormat, chunk)
	if err != nil {
		return AttendanceRecord{}, fmt.Errorf("unpack attendance record: %w", err)
	}

	uid, ok1 := values[0].(int)
	userID, ok2 := values[1].(string)
	verify, ok3 := values[2].(int)
	packed, ok4 := values[3].(string)
	direction, ok5 := values[4].(int)
	if !(ok1 && ok2 && ok3 && ok4 && ok5) || len(packed) != 4 {
		return AttendanceRecord{}, fmt.Errorf("unexpected field types in attendance record")
	}

	code, err := strconv.Atoi(CleanText(userID))
	if err != nil {
		code = uid
	}

	return AttendanceRecord{
		EmployeeCode: code,
		Timestamp:    DecodeTime(binary.LittleEndian.Uint32([]byte(packed)), loc),
		Direction:    direction,
		VerifyMode:   verify,
	}, nil
}

// EncodeAttendanceRecord packs r into the 40-byte attendance layout.
func EncodeAttendanceRecord(r AttendanceRecord) ([]byte, error) {
	if r.EmployeeCode <= 0 || r.EmployeeCode > 0xFFFF {
		return nil, fmt.Errorf("employee code %d out of range", r.EmployeeCode)
	}

	packed := make([]byte, 4)
	binary.LittleEndian.PutUint32(packed, EncodeTime(r.Timestamp))

	values := []interface{}{
		r.EmployeeCode,
		strconv.Itoa(r.EmployeeCode),
		r.VerifyMode,
		string(packed),
		r.Direction,
		"",
	}

	buf, err := new(binarypack.BinaryPack).Pack(attendanceRecordFormat, values)
	if err != nil {
		return nil, fmt.Errorf("pack attendance record: %w", err)
	}
	return buf, nil
}

// EncodeTime packs a wall-clock time into the terminal's 32-bit time
// representation. Years before 2000 are not representable.
func EncodeTime(t time.Time) uint32 {
	v := ((uint32(t.Year())-2000)*12*31+(uint32(t.Month())-1)*31+uint32(t.Day())-1)*(24*60*60) +
		(uint32(t.Hour())*60+uint32(t.Minute()))*60 + uint32(t.Second())
	return v
}

// DecodeTime unpacks the terminal's 32-bit time representation in loc.
func DecodeTime(v uint32, loc *time.Location) time.Time {
	second := int(v % 60)
	v /= 60
	minute := int(v % 60)
	v /= 60
	hour := int(v % 24)
	v /= 24
	day := int(v%31) + 1
	v /= 31
	month := time.Month(v%12 + 1)
	v /= 12
	year := int(v) + 2000

	return time.Date(year, month, day, hour, minute, second, 0, loc)
}
