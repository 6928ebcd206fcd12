package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ardrive-sync/internal/model"
)

// Upload history operations

const uploadColumns = `id, mapping_id, local_path, file_name, file_size, status, progress,
	upload_method, data_tx_id, metadata_tx_id, error, created_at, completed_at`

func (s *SQLiteStore) CreateUploadRecord(rec *model.UploadRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO uploads (`+uploadColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.MappingID, rec.LocalPath, rec.FileName, rec.FileSize, string(rec.Status),
		rec.Progress, rec.UploadMethod, rec.DataTxID, rec.MetadataTxID, rec.Error,
		rec.CreatedAt, nullTime(rec.CompletedAt))
	if err != nil {
		return fmt.Errorf("creating upload record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateUploadProgress(id string, status model.TransferStatus, progress int) error {
	_, err := s.db.Exec(`UPDATE uploads SET status = ?, progress = ? WHERE id = ?`,
		string(status), progress, id)
	if err != nil {
		return fmt.Errorf("updating upload progress: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CompleteUpload(id, dataTxID, metadataTxID string, at time.Time) error {
	_, err := s.db.Exec(`UPDATE uploads SET status = ?, progress = 100,
		data_tx_id = ?, metadata_tx_id = ?, error = '', completed_at = ? WHERE id = ?`,
		string(model.TransferCompleted), dataTxID, metadataTxID, at, id)
	if err != nil {
		return fmt.Errorf("completing upload: %w", err)
	}
	return nil
}

func (s *SQLiteStore) FailUpload(id string, status model.TransferStatus, errMsg string, at time.Time) error {
	_, err := s.db.Exec(`UPDATE uploads SET status = ?, error = ?, completed_at = ? WHERE id = ?`,
		string(status), errMsg, at, id)
	if err != nil {
		return fmt.Errorf("failing upload: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UploadByID(id string) (*model.UploadRecord, error) {
	row := s.db.QueryRow(`SELECT `+uploadColumns+` FROM uploads WHERE id = ?`, id)
	rec, err := scanUpload(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding upload: %w", err)
	}
	return rec, nil
}

// ActiveUploads returns uploads that are not in a terminal state, oldest
// first, for queue restoration after a restart.
func (s *SQLiteStore) ActiveUploads() ([]*model.UploadRecord, error) {
	return s.queryUploads(`SELECT `+uploadColumns+` FROM uploads
		WHERE status IN (?, ?) ORDER BY created_at`,
		string(model.TransferPending), string(model.TransferUploading))
}

func (s *SQLiteStore) UploadsByMapping(mappingID string, limit int) ([]*model.UploadRecord, error) {
	return s.queryUploads(`SELECT `+uploadColumns+` FROM uploads
		WHERE mapping_id = ? ORDER BY created_at DESC LIMIT ?`, mappingID, limit)
}

func (s *SQLiteStore) queryUploads(query string, args ...any) ([]*model.UploadRecord, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing uploads: %w", err)
	}
	defer rows.Close()

	var result []*model.UploadRecord
	for rows.Next() {
		rec, err := scanUpload(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning upload: %w", err)
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

func scanUpload(row scanner) (*model.UploadRecord, error) {
	var (
		rec       model.UploadRecord
		status    string
		completed sql.NullTime
	)
	err := row.Scan(&rec.ID, &rec.MappingID, &rec.LocalPath, &rec.FileName, &rec.FileSize,
		&status, &rec.Progress, &rec.UploadMethod, &rec.DataTxID, &rec.MetadataTxID,
		&rec.Error, &rec.CreatedAt, &completed)
	if err != nil {
		return nil, err
	}
	rec.Status = model.TransferStatus(status)
	if completed.Valid {
		t := completed.Time
		rec.CompletedAt = &t
	}
	return &rec, nil
}

// Download history operations

const downloadColumns = `id, mapping_id, file_id, local_path, file_name, file_size, status,
	progress, priority, is_cancelled, data_tx_id, error, created_at, completed_at`

func (s *SQLiteStore) CreateDownloadRecord(rec *model.DownloadRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO downloads (`+downloadColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.MappingID, rec.FileID, rec.LocalPath, rec.FileName, rec.FileSize,
		string(rec.Status), rec.Progress, rec.Priority, rec.IsCancelled, rec.DataTxID,
		rec.Error, rec.CreatedAt, nullTime(rec.CompletedAt))
	if err != nil {
		return fmt.Errorf("creating download record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateDownloadProgress(id string, status model.TransferStatus, progress int) error {
	_, err := s.db.Exec(`UPDATE downloads SET status = ?, progress = ? WHERE id = ?`,
		string(status), progress, id)
	if err != nil {
		return fmt.Errorf("updating download progress: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CompleteDownload(id string, at time.Time) error {
	_, err := s.db.Exec(`UPDATE downloads SET status = ?, progress = 100, error = '',
		completed_at = ? WHERE id = ?`,
		string(model.TransferCompleted), at, id)
	if err != nil {
		return fmt.Errorf("completing download: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CancelDownload(id string) error {
	_, err := s.db.Exec(`UPDATE downloads SET status = ?, is_cancelled = 1 WHERE id = ?`,
		string(model.TransferCancelled), id)
	if err != nil {
		return fmt.Errorf("cancelling download: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ActiveDownloads() ([]*model.DownloadRecord, error) {
	rows, err := s.db.Query(`SELECT `+downloadColumns+` FROM downloads
		WHERE status IN (?, ?) ORDER BY priority DESC, created_at`,
		string(model.TransferPending), string(model.TransferDownloading))
	if err != nil {
		return nil, fmt.Errorf("listing active downloads: %w", err)
	}
	defer rows.Close()

	var result []*model.DownloadRecord
	for rows.Next() {
		rec, err := scanDownload(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning download: %w", err)
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

func scanDownload(row scanner) (*model.DownloadRecord, error) {
	var (
		rec       model.DownloadRecord
		status    string
		completed sql.NullTime
	)
	err := row.Scan(&rec.ID, &rec.MappingID, &rec.FileID, &rec.LocalPath, &rec.FileName,
		&rec.FileSize, &status, &rec.Progress, &rec.Priority, &rec.IsCancelled,
		&rec.DataTxID, &rec.Error, &rec.CreatedAt, &completed)
	if err != nil {
		return nil, err
	}
	rec.Status = model.TransferStatus(status)
	if completed.Valid {
		t := completed.Time
		rec.CompletedAt = &t
	}
	return &rec, nil
}
