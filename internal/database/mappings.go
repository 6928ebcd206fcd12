package database

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"ardrive-sync/internal/model"
)

// Drive mapping operations

const mappingColumns = `id, remote_drive_id, drive_name, privacy, local_folder_path,
	is_active, last_sync_time, last_metadata_sync_at, exclude_patterns, max_file_size,
	sync_direction, upload_priority, created_at, updated_at`

func (s *SQLiteStore) CreateDriveMapping(m *model.DriveMapping) error {
	_, err := s.db.Exec(`
		INSERT INTO drive_mappings (`+mappingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.RemoteDriveID, m.DriveName, string(m.Privacy), m.LocalFolderPath,
		m.IsActive, nullTime(m.LastSyncTime), nullTime(m.LastMetadataSyncAt),
		strings.Join(m.Settings.ExcludePatterns, "\n"), m.Settings.MaxFileSize,
		string(m.Settings.Direction), m.Settings.UploadPriority,
		m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("creating drive mapping: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DriveMappingByID(id string) (*model.DriveMapping, error) {
	row := s.db.QueryRow(`SELECT `+mappingColumns+` FROM drive_mappings WHERE id = ?`, id)
	m, err := scanMapping(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding drive mapping: %w", err)
	}
	return m, nil
}

func (s *SQLiteStore) ActiveDriveMappings() ([]*model.DriveMapping, error) {
	return s.queryMappings(`SELECT ` + mappingColumns + ` FROM drive_mappings WHERE is_active = 1 ORDER BY created_at`)
}

func (s *SQLiteStore) ListDriveMappings() ([]*model.DriveMapping, error) {
	return s.queryMappings(`SELECT ` + mappingColumns + ` FROM drive_mappings ORDER BY created_at`)
}

func (s *SQLiteStore) queryMappings(query string, args ...any) ([]*model.DriveMapping, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing drive mappings: %w", err)
	}
	defer rows.Close()

	var result []*model.DriveMapping
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning drive mapping: %w", err)
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

// RemoveDriveMapping deletes a mapping. Foreign keys cascade the delete to
// every per-file and per-folder record that references it.
func (s *SQLiteStore) RemoveDriveMapping(id string) error {
	res, err := s.db.Exec(`DELETE FROM drive_mappings WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("removing drive mapping: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("removing drive mapping: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("drive mapping %s not found", id)
	}
	return nil
}

func (s *SQLiteStore) SetDriveMappingActive(id string, active bool) error {
	_, err := s.db.Exec(`UPDATE drive_mappings SET is_active = ?, updated_at = ? WHERE id = ?`,
		active, time.Now(), id)
	if err != nil {
		return fmt.Errorf("updating drive mapping active flag: %w", err)
	}
	return nil
}

func (s *SQLiteStore) TouchDriveMappingSync(id string, at time.Time) error {
	_, err := s.db.Exec(`UPDATE drive_mappings SET last_sync_time = ?, updated_at = ? WHERE id = ?`,
		at, at, id)
	if err != nil {
		return fmt.Errorf("updating drive mapping sync time: %w", err)
	}
	return nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanMapping(row scanner) (*model.DriveMapping, error) {
	var (
		m             model.DriveMapping
		privacy       string
		direction     string
		lastSync      sql.NullTime
		lastMetaSync  sql.NullTime
		excludeJoined string
	)
	err := row.Scan(&m.ID, &m.RemoteDriveID, &m.DriveName, &privacy, &m.LocalFolderPath,
		&m.IsActive, &lastSync, &lastMetaSync, &excludeJoined, &m.Settings.MaxFileSize,
		&direction, &m.Settings.UploadPriority, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	m.Privacy = model.Privacy(privacy)
	m.Settings.Direction = model.SyncDirection(direction)
	if lastSync.Valid {
		t := lastSync.Time
		m.LastSyncTime = &t
	}
	if lastMetaSync.Valid {
		t := lastMetaSync.Time
		m.LastMetadataSyncAt = &t
	}
	if excludeJoined != "" {
		m.Settings.ExcludePatterns = strings.Split(excludeJoined, "\n")
	}
	return &m, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
