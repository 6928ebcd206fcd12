package database

import (
	"database/sql"
	"errors"
	"fmt"

	"ardrive-sync/internal/model"
)

// Metadata cache operations

const metadataColumns = `file_id, mapping_id, parent_folder_id, name, path, entry_type,
	size, last_modified, remote_data_tx_id, remote_meta_tx_id, content_hash, local_path,
	local_file_exists, sync_status, sync_preference, download_priority, last_error`

// UpsertFileMetadata inserts or updates a metadata record keyed by file_id.
// The sticky fields (sync_status, sync_preference, download_priority) keep
// their stored value when the incoming value is the zero/default one, so a
// metadata re-scan never knocks a file out of 'downloading' or clears a
// user's preference.
func (s *SQLiteStore) UpsertFileMetadata(rec *model.FileMetadataRecord) error {
	if rec.SyncStatus == "" {
		rec.SyncStatus = model.StatusPending
	}
	if rec.SyncPreference == "" {
		rec.SyncPreference = model.PreferenceAuto
	}

	_, err := s.db.Exec(`
		INSERT INTO drive_metadata_cache (`+metadataColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(file_id) DO UPDATE SET
			mapping_id        = excluded.mapping_id,
			parent_folder_id  = excluded.parent_folder_id,
			name              = excluded.name,
			path              = excluded.path,
			entry_type        = excluded.entry_type,
			size              = excluded.size,
			last_modified     = excluded.last_modified,
			remote_data_tx_id = excluded.remote_data_tx_id,
			remote_meta_tx_id = excluded.remote_meta_tx_id,
			content_hash      = excluded.content_hash,
			local_path        = excluded.local_path,
			local_file_exists = excluded.local_file_exists,
			last_error        = excluded.last_error,
			sync_status = CASE WHEN excluded.sync_status = 'pending'
				THEN drive_metadata_cache.sync_status ELSE excluded.sync_status END,
			sync_preference = CASE WHEN excluded.sync_preference = 'auto'
				THEN drive_metadata_cache.sync_preference ELSE excluded.sync_preference END,
			download_priority = CASE WHEN excluded.download_priority = 0
				THEN drive_metadata_cache.download_priority ELSE excluded.download_priority END`,
		rec.FileID, rec.MappingID, rec.ParentFolderID, rec.Name, rec.Path, string(rec.Type),
		rec.Size, rec.LastModified, rec.RemoteDataTxID, rec.RemoteMetaTxID, rec.ContentHash,
		rec.LocalPath, rec.LocalFileExists, string(rec.SyncStatus), string(rec.SyncPreference),
		rec.DownloadPriority, rec.LastError)
	if err != nil {
		return fmt.Errorf("upserting file metadata: %w", err)
	}
	return nil
}

func (s *SQLiteStore) FileMetadataByFileID(fileID string) (*model.FileMetadataRecord, error) {
	row := s.db.QueryRow(`SELECT `+metadataColumns+` FROM drive_metadata_cache WHERE file_id = ?`, fileID)
	rec, err := scanMetadata(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding file metadata: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) FileMetadataByLocalPath(mappingID, localPath string) (*model.FileMetadataRecord, error) {
	row := s.db.QueryRow(`SELECT `+metadataColumns+` FROM drive_metadata_cache
		WHERE mapping_id = ? AND local_path = ?`, mappingID, localPath)
	rec, err := scanMetadata(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding file metadata by local path: %w", err)
	}
	return rec, nil
}

// FilesByStatus is served by idx_metadata_mapping_status; building the
// download or upload queue does not walk the whole cache.
func (s *SQLiteStore) FilesByStatus(mappingID string, status model.SyncStatus) ([]*model.FileMetadataRecord, error) {
	rows, err := s.db.Query(`SELECT `+metadataColumns+` FROM drive_metadata_cache
		WHERE mapping_id = ? AND sync_status = ? ORDER BY path`, mappingID, string(status))
	if err != nil {
		return nil, fmt.Errorf("listing files by status: %w", err)
	}
	defer rows.Close()

	var result []*model.FileMetadataRecord
	for rows.Next() {
		rec, err := scanMetadata(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning file metadata: %w", err)
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

func (s *SQLiteStore) SetFileSyncStatus(fileID string, status model.SyncStatus, lastError string) error {
	res, err := s.db.Exec(`UPDATE drive_metadata_cache SET sync_status = ?, last_error = ? WHERE file_id = ?`,
		string(status), lastError, fileID)
	if err != nil {
		return fmt.Errorf("updating file sync status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating file sync status: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("file metadata %s not found", fileID)
	}
	return nil
}

func scanMetadata(row scanner) (*model.FileMetadataRecord, error) {
	var (
		rec        model.FileMetadataRecord
		entryType  string
		lastMod    sql.NullTime
		status     string
		preference string
	)
	err := row.Scan(&rec.FileID, &rec.MappingID, &rec.ParentFolderID, &rec.Name, &rec.Path,
		&entryType, &rec.Size, &lastMod, &rec.RemoteDataTxID, &rec.RemoteMetaTxID,
		&rec.ContentHash, &rec.LocalPath, &rec.LocalFileExists, &status, &preference,
		&rec.DownloadPriority, &rec.LastError)
	if err != nil {
		return nil, err
	}
	rec.Type = model.EntryType(entryType)
	rec.SyncStatus = model.SyncStatus(status)
	rec.SyncPreference = model.SyncPreference(preference)
	if lastMod.Valid {
		rec.LastModified = lastMod.Time
	}
	return &rec, nil
}
