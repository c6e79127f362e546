package protocol

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	binarypack "github.com/canhlinh/go-binary-pack"
	"github.com/sirupsen/logrus"
)

const (
	// UserRecordSize is the fixed width of one user record.
	UserRecordSize = 72

	// PrivilegeAdmin marks an administrator on the terminal.
	PrivilegeAdmin = 14

	RoleAdmin = "Admin"
	RoleUser  = "User"
)

// recordPrefix is an optional record-count prefix some firmware puts in
// front of a data payload.
var recordPrefix = []byte{0x01, 0x00, 0x00, 0x00}

// pin, privilege, password, name, card, group, timezones, secondary pin
var userRecordFormat = []string{"H", "B", "8s", "24s", "8s", "B", "24s", "4s"}

var log logrus.FieldLogger = logrus.StandardLogger()

// SetLogger replaces the logger used to report malformed records.
func SetLogger(l logrus.FieldLogger) {
	if l != nil {
		log = l
	}
}

// UserRecord is a user entry stored on a terminal.
type UserRecord struct {
	EmployeeCode int    `json:"employee_code"`
	Privilege    int    `json:"privilege"`
	Role         string `json:"role"`
	Name         string `json:"name"`
	CardID       int    `json:"card_id"`
	GroupID      int    `json:"group_id"`
}

// Map renders the record with the keys used by the admin tooling.
func (u UserRecord) Map() map[string]interface{} {
	return map[string]interface{}{
		"employee_code": u.EmployeeCode,
		"name":          u.Name,
		"privilege":     u.Privilege,
		"role":          u.Role,
		"card_id":       u.CardID,
		"group_id":      u.GroupID,
	}
}

// RoleFor maps a terminal privilege level onto a role name.
func RoleFor(privilege int) string {
	if privilege == PrivilegeAdmin {
		return RoleAdmin
	}
	return RoleUser
}

// StripRecordPrefix drops the 01 00 00 00 count prefix in front of
// records of the given size. A payload that is already an exact multiple
// of the record size keeps its leading bytes, since they belong to the
// first record.
func StripRecordPrefix(payload []byte, recordSize int) []byte {
	if !bytes.HasPrefix(payload, recordPrefix) {
		return payload
	}
	if recordSize > 0 && len(payload)%recordSize == 0 {
		return payload
	}
	return payload[len(recordPrefix):]
}

// DecodeUserRecords decodes back-to-back 72-byte user records. Records
// with a zero pin or an empty name are dropped; trailing bytes that do not
// form a whole record are ignored.
func DecodeUserRecords(payload []byte) []UserRecord {
	data := StripRecordPrefix(payload, UserRecordSize)
	users := []UserRecord{}

	for offset := 0; offset+UserRecordSize <= len(data); offset += UserRecordSize {
		user, err := decodeUserRecord(data[offset : offset+UserRecordSize])
		if err != nil {
			log.WithError(err).WithField("offset", offset).Warn("Skipping malformed user record")
			continue
		}
		if user.EmployeeCode <= 0 || user.Name == "" {
			continue
		}
		users = append(users, user)
	}

	return users
}

func decodeUserRecord(chunk []byte) (UserRecord, error) {
	values, err := new(binarypack.BinaryPack).UnPack(userRecordFormat, chunk)
	if err != nil {
		return UserRecord{}, fmt.Errorf("unpack user record: %w", err)
	}

	pin, ok1 := values[0].(int)
	privilege, ok2 := values[1].(int)
	name, ok3 := values[3].(string)
	card, ok4 := values[4].(string)
	group, ok5 := values[5].(int)
	if !(ok1 && ok2 && ok3 && ok4 && ok5) {
		return UserRecord{}, fmt.Errorf("unexpected field types in user record")
	}

	cardID, _ := strconv.Atoi(CleanText(card))

	return UserRecord{
		EmployeeCode: pin,
		Privilege:    privilege,
		Role:         RoleFor(privilege),
		Name:         CleanText(name),
		CardID:       cardID,
		GroupID:      group,
	}, nil
}

// EncodeUserRecord packs u into the 72-byte layout used for user writes.
func EncodeUserRecord(u UserRecord) ([]byte, error) {
	if u.EmployeeCode <= 0 || u.EmployeeCode > 0xFFFF {
		return nil, fmt.Errorf("employee code %d out of range", u.EmployeeCode)
	}
	if u.Privilege < 0 || u.Privilege > 0xFF || u.GroupID < 0 || u.GroupID > 0xFF {
		return nil, fmt.Errorf("privilege %d or group %d out of range", u.Privilege, u.GroupID)
	}

	card := ""
	if u.CardID > 0 {
		card = strconv.Itoa(u.CardID)
	}

	values := []interface{}{
		u.EmployeeCode,
		u.Privilege,
		"",
		fixed(u.Name, 24),
		fixed(card, 8),
		u.GroupID,
		"",
		"",
	}

	buf, err := new(binarypack.BinaryPack).Pack(userRecordFormat, values)
	if err != nil {
		return nil, fmt.Errorf("pack user record: %w", err)
	}
	return buf, nil
}

// CleanText removes control characters (0x00-0x1F, 0x7F) and surrounding
// whitespace from a fixed-width text field.
func CleanText(s string) string {
	s = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7F {
			return -1
		}
		return r
	}, s)
	return strings.TrimFunc(s, unicode.IsSpace)
}

// fixed truncates s to at most n bytes.
func fixed(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
