package database

import (
	"database/sql"
	"errors"
	"fmt"

	"ardrive-sync/internal/model"
)

// Version lineage operations

const versionColumns = `id, mapping_id, file_hash, file_path, file_size, data_tx_id,
	metadata_tx_id, version, parent_version, change_type, is_latest, created_at`

// AddFileVersion appends a new version to a file's lineage in a single
// transaction: the current latest version (if any) is demoted, and v is
// inserted with is_latest=1 and the next monotonic version number. Version
// and ParentVersion on v are assigned here, not by the caller.
func (s *SQLiteStore) AddFileVersion(v *model.FileVersion) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	var current int
	err = tx.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM file_versions
		WHERE mapping_id = ? AND file_path = ?`, v.MappingID, v.FilePath).Scan(&current)
	if err != nil {
		return fmt.Errorf("reading current version: %w", err)
	}

	if current > 0 {
		_, err = tx.Exec(`UPDATE file_versions SET is_latest = 0
			WHERE mapping_id = ? AND file_path = ? AND is_latest = 1`, v.MappingID, v.FilePath)
		if err != nil {
			return fmt.Errorf("demoting previous version: %w", err)
		}
	}

	v.Version = current + 1
	v.ParentVersion = current
	v.IsLatest = true

	_, err = tx.Exec(`INSERT INTO file_versions (`+versionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.MappingID, v.FileHash, v.FilePath, v.FileSize, v.DataTxID, v.MetadataTxID,
		v.Version, v.ParentVersion, string(v.ChangeType), v.IsLatest, v.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting file version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LatestFileVersion(mappingID, filePath string) (*model.FileVersion, error) {
	row := s.db.QueryRow(`SELECT `+versionColumns+` FROM file_versions
		WHERE mapping_id = ? AND file_path = ? AND is_latest = 1`, mappingID, filePath)
	v, err := scanVersion(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding latest version: %w", err)
	}
	return v, nil
}

func (s *SQLiteStore) FileVersions(mappingID, filePath string) ([]*model.FileVersion, error) {
	rows, err := s.db.Query(`SELECT `+versionColumns+` FROM file_versions
		WHERE mapping_id = ? AND file_path = ? ORDER BY version`, mappingID, filePath)
	if err != nil {
		return nil, fmt.Errorf("listing file versions: %w", err)
	}
	defer rows.Close()

	var result []*model.FileVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning file version: %w", err)
		}
		result = append(result, v)
	}
	return result, rows.Err()
}

func scanVersion(row scanner) (*model.FileVersion, error) {
	var (
		v          model.FileVersion
		changeType string
	)
	err := row.Scan(&v.ID, &v.MappingID, &v.FileHash, &v.FilePath, &v.FileSize,
		&v.DataTxID, &v.MetadataTxID, &v.Version, &v.ParentVersion, &changeType,
		&v.IsLatest, &v.CreatedAt)
	if err != nil {
		return nil, err
	}
	v.ChangeType = model.ChangeType(changeType)
	return &v, nil
}
