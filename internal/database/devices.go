package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrDeviceNotFound is returned when no device has the requested id
var ErrDeviceNotFound = errors.New("device not found")

// UpsertDevice stores a device definition, encrypting its comm key. Status
// and sync bookkeeping of an existing row are preserved.
func (db *DB) UpsertDevice(device *Device) error {
	var commKey sql.NullString
	if device.CommKey != "" {
		encrypted, err := db.Encrypt([]byte(device.CommKey))
		if err != nil {
			return fmt.Errorf("failed to encrypt comm key for device %s: %w", device.ID, err)
		}
		commKey = sql.NullString{String: encrypted, Valid: true}
	}

	query := `
		INSERT INTO devices (id, name, brand, ip, port, comm_key, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			brand = excluded.brand,
			ip = excluded.ip,
			port = excluded.port,
			comm_key = excluded.comm_key,
			updated_at = CURRENT_TIMESTAMP
	`

	_, err := db.conn.Exec(query, device.ID, device.Name, device.Brand, device.IP, device.Port, commKey)
	if err != nil {
		return fmt.Errorf("failed to upsert device %s: %w", device.ID, err)
	}

	return nil
}

const deviceColumns = `id, name, brand, ip, port, comm_key, status, last_error, last_sync_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (db *DB) scanDevice(row rowScanner) (*Device, error) {
	device := &Device{}
	var commKey, lastError sql.NullString
	var lastSync sql.NullTime

	if err := row.Scan(
		&device.ID,
		&device.Name,
		&device.Brand,
		&device.IP,
		&device.Port,
		&commKey,
		&device.Status,
		&lastError,
		&lastSync,
		&device.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if commKey.Valid {
		decrypted, err := db.Decrypt(commKey.String)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt comm key for device %s: %w", device.ID, err)
		}
		device.CommKey = string(decrypted)
	}
	if lastError.Valid {
		device.LastError = lastError.String
	}
	if lastSync.Valid {
		device.LastSyncAt = &lastSync.Time
	}

	return device, nil
}

// GetDevice retrieves one device
func (db *DB) GetDevice(id string) (*Device, error) {
	row := db.conn.QueryRow("SELECT "+deviceColumns+" FROM devices WHERE id = ?", id)
	device, err := db.scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
		}
		return nil, fmt.Errorf("failed to get device %s: %w", id, err)
	}
	return device, nil
}

// ListDevices returns every device ordered by id
func (db *DB) ListDevices() ([]*Device, error) {
	rows, err := db.conn.Query("SELECT " + deviceColumns + " FROM devices ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query devices: %w", err)
	}
	defer rows.Close()

	var devices []*Device
	for rows.Next() {
		device, err := db.scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan device row: %w", err)
		}
		devices = append(devices, device)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating device rows: %w", err)
	}

	return devices, nil
}

// SetDeviceStatus records the outcome of the last contact with a device
func (db *DB) SetDeviceStatus(id, status, errorMessage string) error {
	var errorMsg sql.NullString
	if errorMessage != "" {
		errorMsg = sql.NullString{String: errorMessage, Valid: true}
	}

	result, err := db.conn.Exec(`
		UPDATE devices
		SET status = ?, last_error = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, status, errorMsg, id)
	if err != nil {
		return fmt.Errorf("failed to set status for device %s: %w", id, err)
	}

	return expectRow(result, id)
}

// MarkDeviceSynced records a successful sync
func (db *DB) MarkDeviceSynced(id string, at time.Time) error {
	result, err := db.conn.Exec(`
		UPDATE devices
		SET status = ?, last_error = NULL, last_sync_at = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, DeviceStatusOnline, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark device %s synced: %w", id, err)
	}

	return expectRow(result, id)
}

// DeleteDevice removes a device with its users and punches
func (db *DB) DeleteDevice(id string) error {
	result, err := db.conn.Exec("DELETE FROM devices WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete device %s: %w", id, err)
	}
	return expectRow(result, id)
}

func expectRow(result sql.Result, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	return nil
}
