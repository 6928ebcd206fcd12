package database

import (
	"fmt"
	"time"

	"ardrive-sync/internal/model"
)

// Operation journal and re-scan dedupe

func (s *SQLiteStore) RecordFolderOperation(rec *model.FolderOperationRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO folder_operations (id, mapping_id, operation, old_path, new_path, detected_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.MappingID, rec.Operation, rec.OldPath, rec.NewPath, rec.DetectedAt)
	if err != nil {
		return fmt.Errorf("recording folder operation: %w", err)
	}
	return nil
}

func (s *SQLiteStore) FolderOperations(mappingID string, limit int) ([]*model.FolderOperationRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, mapping_id, operation, old_path, new_path, detected_at
		FROM folder_operations WHERE mapping_id = ?
		ORDER BY detected_at DESC LIMIT ?`, mappingID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing folder operations: %w", err)
	}
	defer rows.Close()

	var result []*model.FolderOperationRecord
	for rows.Next() {
		var rec model.FolderOperationRecord
		err := rows.Scan(&rec.ID, &rec.MappingID, &rec.Operation, &rec.OldPath,
			&rec.NewPath, &rec.DetectedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning folder operation: %w", err)
		}
		result = append(result, &rec)
	}
	return result, rows.Err()
}

func (s *SQLiteStore) RecordFileOperation(rec *model.FileOperationRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO file_operations (id, mapping_id, operation, from_path, to_path, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.MappingID, rec.Operation, rec.FromPath, rec.ToPath, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("recording file operation: %w", err)
	}
	return nil
}

// MarkProcessed records that the content at localPath was uploaded. Keyed
// by (mapping, path, hash): a changed file hashes differently and is not
// considered processed.
func (s *SQLiteStore) MarkProcessed(mappingID, localPath, contentHash string, at time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO processed_files (mapping_id, local_path, content_hash, processed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(mapping_id, local_path, content_hash) DO UPDATE SET
			processed_at = excluded.processed_at`,
		mappingID, localPath, contentHash, at)
	if err != nil {
		return fmt.Errorf("marking file processed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) IsProcessed(mappingID, localPath, contentHash string) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(1) FROM processed_files
		WHERE mapping_id = ? AND local_path = ? AND content_hash = ?`,
		mappingID, localPath, contentHash).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking processed file: %w", err)
	}
	return n > 0, nil
}
