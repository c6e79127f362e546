package database

import (
	"fmt"
)

// migrate runs database migrations to create the required schema
func (db *DB) migrate() error {
	migrations := []string{
		createDevicesTable,
		createDeviceUsersTable,
		createAttendancePunchesTable,
		createIndexes,
	}

	for i, migration := range migrations {
		if _, err := db.conn.Exec(migration); err != nil {
			return fmt.Errorf("failed to run migration %d: %w", i+1, err)
		}
	}

	return nil
}

const createDevicesTable = `
CREATE TABLE IF NOT EXISTS devices (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    brand TEXT NOT NULL,
    ip TEXT NOT NULL,
    port INTEGER NOT NULL,
    comm_key TEXT, -- Encrypted
    status TEXT NOT NULL DEFAULT 'unknown' CHECK (status IN ('unknown', 'online', 'offline', 'error')),
    last_error TEXT,
    last_sync_at DATETIME NULL,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);`

const createDeviceUsersTable = `
CREATE TABLE IF NOT EXISTS device_users (
    device_id TEXT NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
    employee_code INTEGER NOT NULL,
    name TEXT NOT NULL,
    privilege INTEGER NOT NULL DEFAULT 0,
    role TEXT NOT NULL,
    card_id INTEGER NOT NULL DEFAULT 0,
    group_id INTEGER NOT NULL DEFAULT 0,
    synced_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (device_id, employee_code)
);`

const createAttendancePunchesTable = `
CREATE TABLE IF NOT EXISTS attendance_punches (
    id TEXT PRIMARY KEY,
    device_id TEXT NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
    employee_code INTEGER NOT NULL,
    timestamp DATETIME NOT NULL,
    direction INTEGER NOT NULL DEFAULT 0,
    verify_mode INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    published_at DATETIME NULL,
    retry_count INTEGER DEFAULT 0
);`

const createIndexes = `
CREATE INDEX IF NOT EXISTS idx_punches_device_timestamp ON attendance_punches(device_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_punches_employee ON attendance_punches(employee_code, timestamp);
CREATE INDEX IF NOT EXISTS idx_punches_published_at ON attendance_punches(published_at);
`
