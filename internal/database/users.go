package database

import (
	"fmt"

	"attendance-bridge/internal/protocol"
)

// ReplaceDeviceUsers swaps the stored user table of a device for users.
func (db *DB) ReplaceDeviceUsers(deviceID string, users []protocol.UserRecord) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM device_users WHERE device_id = ?", deviceID); err != nil {
		return fmt.Errorf("failed to clear users of device %s: %w", deviceID, err)
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO device_users (device_id, employee_code, name, privilege, role, card_id, group_id, synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare user insert: %w", err)
	}
	defer stmt.Close()

	for _, u := range users {
		if _, err := stmt.Exec(deviceID, u.EmployeeCode, u.Name, u.Privilege, u.Role, u.CardID, u.GroupID); err != nil {
			return fmt.Errorf("failed to store user %d of device %s: %w", u.EmployeeCode, deviceID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit users of device %s: %w", deviceID, err)
	}
	return nil
}

// GetDeviceUsers returns the stored users of a device ordered by employee code
func (db *DB) GetDeviceUsers(deviceID string) ([]protocol.UserRecord, error) {
	rows, err := db.conn.Query(`
		SELECT employee_code, name, privilege, role, card_id, group_id
		FROM device_users
		WHERE device_id = ?
		ORDER BY employee_code
	`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query users of device %s: %w", deviceID, err)
	}
	defer rows.Close()

	users := []protocol.UserRecord{}
	for rows.Next() {
		var u protocol.UserRecord
		if err := rows.Scan(&u.EmployeeCode, &u.Name, &u.Privilege, &u.Role, &u.CardID, &u.GroupID); err != nil {
			return nil, fmt.Errorf("failed to scan user row: %w", err)
		}
		users = append(users, u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating user rows: %w", err)
	}
	return users, nil
}
