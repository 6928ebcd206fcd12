package database

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"ardrive-sync/internal/model"
)

// Folder topology operations

const folderColumns = `id, mapping_id, folder_path, relative_path, parent_path,
	remote_folder_id, is_deleted`

func (s *SQLiteStore) UpsertFolderEntry(e *model.FolderStructureEntry) error {
	_, err := s.db.Exec(`
		INSERT INTO folder_structure (`+folderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(folder_path, mapping_id) DO UPDATE SET
			relative_path    = excluded.relative_path,
			parent_path      = excluded.parent_path,
			remote_folder_id = CASE WHEN excluded.remote_folder_id = ''
				THEN folder_structure.remote_folder_id ELSE excluded.remote_folder_id END,
			is_deleted       = excluded.is_deleted`,
		e.ID, e.MappingID, e.FolderPath, e.RelativePath, e.ParentPath,
		e.RemoteFolderID, e.IsDeleted)
	if err != nil {
		return fmt.Errorf("upserting folder entry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) FolderEntryByPath(mappingID, folderPath string) (*model.FolderStructureEntry, error) {
	row := s.db.QueryRow(`SELECT `+folderColumns+` FROM folder_structure
		WHERE mapping_id = ? AND folder_path = ?`, mappingID, folderPath)
	e, err := scanFolder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding folder entry: %w", err)
	}
	return e, nil
}

func (s *SQLiteStore) FolderEntries(mappingID string, includeDeleted bool) ([]*model.FolderStructureEntry, error) {
	query := `SELECT ` + folderColumns + ` FROM folder_structure WHERE mapping_id = ?`
	if !includeDeleted {
		query += ` AND is_deleted = 0`
	}
	query += ` ORDER BY folder_path`

	rows, err := s.db.Query(query, mappingID)
	if err != nil {
		return nil, fmt.Errorf("listing folder entries: %w", err)
	}
	defer rows.Close()

	var result []*model.FolderStructureEntry
	for rows.Next() {
		e, err := scanFolder(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning folder entry: %w", err)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// MarkFolderDeleted soft-deletes the entry so rename and move detection can
// still consult its remote folder ID and children.
func (s *SQLiteStore) MarkFolderDeleted(mappingID, folderPath string) error {
	_, err := s.db.Exec(`UPDATE folder_structure SET is_deleted = 1
		WHERE mapping_id = ? AND folder_path = ?`, mappingID, folderPath)
	if err != nil {
		return fmt.Errorf("marking folder deleted: %w", err)
	}
	return nil
}

// MoveFolderSubtree rewrites the folder entry at oldPath and every
// descendant entry (and cached file metadata under them) to live under
// newPath, all in one transaction. Relative paths are recomputed against
// the mapping's local root.
func (s *SQLiteStore) MoveFolderSubtree(mappingID, oldPath, newPath string) error {
	mapping, err := s.DriveMappingByID(mappingID)
	if err != nil {
		return err
	}
	if mapping == nil {
		return fmt.Errorf("drive mapping %s not found", mappingID)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.Query(`SELECT id, folder_path, parent_path FROM folder_structure
		WHERE mapping_id = ? AND (folder_path = ? OR folder_path LIKE ?)`,
		mappingID, oldPath, oldPath+string(filepath.Separator)+"%")
	if err != nil {
		return fmt.Errorf("selecting folder subtree: %w", err)
	}

	type folderRow struct {
		id, folderPath, parentPath string
	}
	var folders []folderRow
	for rows.Next() {
		var f folderRow
		if err := rows.Scan(&f.id, &f.folderPath, &f.parentPath); err != nil {
			rows.Close()
			return fmt.Errorf("scanning folder subtree: %w", err)
		}
		folders = append(folders, f)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("selecting folder subtree: %w", err)
	}

	for _, f := range folders {
		moved := newPath + f.folderPath[len(oldPath):]
		parent := f.parentPath
		if parent == oldPath || strings.HasPrefix(parent, oldPath+string(filepath.Separator)) {
			parent = newPath + parent[len(oldPath):]
		} else if f.folderPath == oldPath {
			parent = filepath.Dir(newPath)
		}
		rel, err := filepath.Rel(mapping.LocalFolderPath, moved)
		if err != nil {
			return fmt.Errorf("computing relative path for %s: %w", moved, err)
		}
		_, err = tx.Exec(`UPDATE folder_structure SET folder_path = ?, relative_path = ?,
			parent_path = ?, is_deleted = 0 WHERE id = ?`,
			moved, filepath.ToSlash(rel), parent, f.id)
		if err != nil {
			return fmt.Errorf("moving folder entry %s: %w", f.folderPath, err)
		}
	}

	// Files cached under the subtree follow their folders.
	fileRows, err := tx.Query(`SELECT file_id, local_path FROM drive_metadata_cache
		WHERE mapping_id = ? AND local_path LIKE ?`,
		mappingID, oldPath+string(filepath.Separator)+"%")
	if err != nil {
		return fmt.Errorf("selecting files under subtree: %w", err)
	}

	type fileRow struct {
		id, localPath string
	}
	var files []fileRow
	for fileRows.Next() {
		var f fileRow
		if err := fileRows.Scan(&f.id, &f.localPath); err != nil {
			fileRows.Close()
			return fmt.Errorf("scanning file under subtree: %w", err)
		}
		files = append(files, f)
	}
	fileRows.Close()
	if err := fileRows.Err(); err != nil {
		return fmt.Errorf("selecting files under subtree: %w", err)
	}

	for _, f := range files {
		moved := newPath + f.localPath[len(oldPath):]
		rel, err := filepath.Rel(mapping.LocalFolderPath, moved)
		if err != nil {
			return fmt.Errorf("computing relative path for %s: %w", moved, err)
		}
		_, err = tx.Exec(`UPDATE drive_metadata_cache SET local_path = ?, path = ? WHERE file_id = ?`,
			moved, filepath.ToSlash(rel), f.id)
		if err != nil {
			return fmt.Errorf("moving file metadata %s: %w", f.localPath, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func scanFolder(row scanner) (*model.FolderStructureEntry, error) {
	var e model.FolderStructureEntry
	err := row.Scan(&e.ID, &e.MappingID, &e.FolderPath, &e.RelativePath, &e.ParentPath,
		&e.RemoteFolderID, &e.IsDeleted)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
