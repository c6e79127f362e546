package database

import (
	"fmt"
	"strings"

	"attendance-bridge/internal/attendance"
)

// InsertPunches stores punches, skipping ids already present. It returns
// how many were new.
func (db *DB) InsertPunches(punches []attendance.Punch) (int, error) {
	if len(punches) == 0 {
		return 0, nil
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR IGNORE INTO attendance_punches (id, device_id, employee_code, timestamp, direction, verify_mode)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare punch insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, p := range punches {
		result, err := stmt.Exec(p.ID, p.DeviceID, p.EmployeeCode, p.Timestamp.UTC(), p.Direction, p.VerifyMode)
		if err != nil {
			return 0, fmt.Errorf("failed to insert punch %s: %w", p.ID, err)
		}
		if n, _ := result.RowsAffected(); n > 0 {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit punches: %w", err)
	}
	return inserted, nil
}

// GetPunches returns punches matching filter in chronological order
func (db *DB) GetPunches(filter PunchFilter) ([]attendance.Punch, error) {
	var where []string
	var args []interface{}

	if filter.DeviceID != "" {
		where = append(where, "device_id = ?")
		args = append(args, filter.DeviceID)
	}
	if filter.EmployeeCode > 0 {
		where = append(where, "employee_code = ?")
		args = append(args, filter.EmployeeCode)
	}
	if !filter.Since.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, filter.Since.UTC())
	}
	if !filter.Until.IsZero() {
		where = append(where, "timestamp < ?")
		args = append(args, filter.Until.UTC())
	}

	query := "SELECT id, device_id, employee_code, timestamp, direction, verify_mode FROM attendance_punches"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp ASC, employee_code ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	return db.queryPunches(query, args...)
}

// GetUnpublishedPunches returns up to limit punches not yet published
func (db *DB) GetUnpublishedPunches(limit int) ([]attendance.Punch, error) {
	return db.queryPunches(`
		SELECT id, device_id, employee_code, timestamp, direction, verify_mode
		FROM attendance_punches
		WHERE published_at IS NULL
		ORDER BY timestamp ASC
		LIMIT ?
	`, limit)
}

func (db *DB) queryPunches(query string, args ...interface{}) ([]attendance.Punch, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query punches: %w", err)
	}
	defer rows.Close()

	punches := []attendance.Punch{}
	for rows.Next() {
		var p attendance.Punch
		if err := rows.Scan(&p.ID, &p.DeviceID, &p.EmployeeCode, &p.Timestamp, &p.Direction, &p.VerifyMode); err != nil {
			return nil, fmt.Errorf("failed to scan punch row: %w", err)
		}
		punches = append(punches, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating punch rows: %w", err)
	}
	return punches, nil
}

// MarkPunchesPublished marks punches as delivered to the queue
func (db *DB) MarkPunchesPublished(ids []string) error {
	return db.updatePunches("published_at = CURRENT_TIMESTAMP", ids)
}

// IncrementPunchRetry counts a failed delivery attempt
func (db *DB) IncrementPunchRetry(ids []string) error {
	return db.updatePunches("retry_count = retry_count + 1", ids)
}

func (db *DB) updatePunches(set string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	query := fmt.Sprintf("UPDATE attendance_punches SET %s WHERE id IN (%s)", set, generatePlaceholders(len(ids)))
	if _, err := db.conn.Exec(query, args...); err != nil {
		return fmt.Errorf("failed to update punches: %w", err)
	}
	return nil
}

// UnpublishedCount returns the number of punches waiting to be published
func (db *DB) UnpublishedCount() (int, error) {
	var count int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM attendance_punches WHERE published_at IS NULL").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count unpublished punches: %w", err)
	}
	return count, nil
}
