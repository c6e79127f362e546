// Package attendance turns raw punches read from terminals into per-day
// attendance summaries.
package attendance

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"time"

	"attendance-bridge/internal/protocol"
)

// Punch is an attendance record tagged with the device it was read from.
type Punch struct {
	ID           string    `json:"id"`
	DeviceID     string    `json:"device_id"`
	EmployeeCode int       `json:"employee_code"`
	Timestamp    time.Time `json:"timestamp"`
	Direction    int       `json:"direction"`
	VerifyMode   int       `json:"verify_mode"`
}

// PunchID returns a deterministic id for a punch so re-reading the same
// log does not create duplicates downstream.
func PunchID(deviceID string, employeeCode int, timestamp time.Time) string {
	hasher := sha256.New()
	hasher.Write([]byte(deviceID))
	hasher.Write([]byte(strconv.Itoa(employeeCode)))
	hasher.Write([]byte(timestamp.UTC().Format(time.RFC3339)))
	hash := hex.EncodeToString(hasher.Sum(nil))

	prefix := deviceID
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return fmt.Sprintf("pch_%s_%s", prefix, hash[:16])
}

// FromRecords tags records read from deviceID.
func FromRecords(deviceID string, records []protocol.AttendanceRecord) []Punch {
	punches := make([]Punch, 0, len(records))
	for _, r := range records {
		punches = append(punches, Punch{
			ID:           PunchID(deviceID, r.EmployeeCode, r.Timestamp),
			DeviceID:     deviceID,
			EmployeeCode: r.EmployeeCode,
			Timestamp:    r.Timestamp,
			Direction:    r.Direction,
			VerifyMode:   r.VerifyMode,
		})
	}
	return punches
}

// Sort orders punches by time, then employee code.
func Sort(punches []Punch) {
	sort.SliceStable(punches, func(i, j int) bool {
		if !punches[i].Timestamp.Equal(punches[j].Timestamp) {
			return punches[i].Timestamp.Before(punches[j].Timestamp)
		}
		return punches[i].EmployeeCode < punches[j].EmployeeCode
	})
}

// Dedupe drops punches of the same employee that fall within window of the
// previously kept punch. Employees often scan twice in a row; only the
// first scan counts. The result is in chronological order and the input is
// left untouched.
func Dedupe(punches []Punch, window time.Duration) []Punch {
	sorted := append([]Punch(nil), punches...)
	Sort(sorted)

	if window <= 0 {
		return sorted
	}

	lastKept := make(map[int]time.Time)
	kept := make([]Punch, 0, len(sorted))
	for _, p := range sorted {
		if last, seen := lastKept[p.EmployeeCode]; seen && p.Timestamp.Sub(last) < window {
			continue
		}
		lastKept[p.EmployeeCode] = p.Timestamp
		kept = append(kept, p)
	}
	return kept
}
