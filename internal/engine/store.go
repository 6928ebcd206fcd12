package engine

import (
	"time"

	"ardrive-sync/internal/model"
)

// Store is the durable state the engine reads and writes. Implementations
// must serialize writes (a single writer connection or equivalent); the
// engine does not retry store failures; a write error is fatal for the
// operation that issued it.
type Store interface {
	// Drive mappings

	// CreateDriveMapping registers a new drive mapping. Fails if the
	// (remoteDriveID, localFolderPath) pair is already mapped.
	CreateDriveMapping(m *model.DriveMapping) error

	// DriveMappingByID returns a mapping, or nil if not found.
	DriveMappingByID(id string) (*model.DriveMapping, error)

	// ActiveDriveMappings returns all mappings with IsActive=true.
	ActiveDriveMappings() ([]*model.DriveMapping, error)

	// ListDriveMappings returns all mappings, active or not.
	ListDriveMappings() ([]*model.DriveMapping, error)

	// RemoveDriveMapping deletes a mapping and cascades to all of its
	// per-file and per-folder records.
	RemoveDriveMapping(id string) error

	// SetDriveMappingActive toggles a mapping without removing history.
	SetDriveMappingActive(id string, active bool) error

	// TouchDriveMappingSync updates LastSyncTime.
	TouchDriveMappingSync(id string, at time.Time) error

	// Metadata cache

	// UpsertFileMetadata inserts or updates a record keyed by FileID.
	// Sticky fields (SyncStatus, SyncPreference, DownloadPriority) are
	// preserved on conflict unless the incoming value is more specific
	// than the default, so a re-scan never resets in-progress state.
	UpsertFileMetadata(rec *model.FileMetadataRecord) error

	// FileMetadataByFileID returns a record, or nil if not found.
	FileMetadataByFileID(fileID string) (*model.FileMetadataRecord, error)

	// FileMetadataByLocalPath returns the record for a local path within a
	// mapping, or nil.
	FileMetadataByLocalPath(mappingID, localPath string) (*model.FileMetadataRecord, error)

	// FilesByStatus returns records for one mapping and status. Backed by
	// an index on (mapping_id, sync_status) so queue construction does not
	// load the whole cache.
	FilesByStatus(mappingID string, status model.SyncStatus) ([]*model.FileMetadataRecord, error)

	// SetFileSyncStatus moves a record to the given status, recording a
	// last error when status is error.
	SetFileSyncStatus(fileID string, status model.SyncStatus, lastError string) error

	// Uploads

	CreateUploadRecord(rec *model.UploadRecord) error
	UpdateUploadProgress(id string, status model.TransferStatus, progress int) error
	CompleteUpload(id, dataTxID, metadataTxID string, at time.Time) error
	FailUpload(id string, status model.TransferStatus, errMsg string, at time.Time) error
	UploadByID(id string) (*model.UploadRecord, error)
	ActiveUploads() ([]*model.UploadRecord, error)
	UploadsByMapping(mappingID string, limit int) ([]*model.UploadRecord, error)

	// Downloads

	CreateDownloadRecord(rec *model.DownloadRecord) error
	UpdateDownloadProgress(id string, status model.TransferStatus, progress int) error
	CompleteDownload(id string, at time.Time) error
	CancelDownload(id string) error
	ActiveDownloads() ([]*model.DownloadRecord, error)

	// Folder topology

	// UpsertFolderEntry inserts or updates an entry keyed by
	// (MappingID, FolderPath).
	UpsertFolderEntry(e *model.FolderStructureEntry) error
	FolderEntryByPath(mappingID, folderPath string) (*model.FolderStructureEntry, error)
	FolderEntries(mappingID string, includeDeleted bool) ([]*model.FolderStructureEntry, error)

	// MarkFolderDeleted soft-deletes a folder entry, preserving it for
	// rename and move detection.
	MarkFolderDeleted(mappingID, folderPath string) error

	// MoveFolderSubtree rewrites the paths of a folder entry and all of
	// its descendants from oldPath to newPath.
	MoveFolderSubtree(mappingID, oldPath, newPath string) error

	// Version lineage

	// AddFileVersion demotes the current latest version for the file path
	// and inserts v with IsLatest=true and the next monotonic version
	// number, in one transaction.
	AddFileVersion(v *model.FileVersion) error
	LatestFileVersion(mappingID, filePath string) (*model.FileVersion, error)
	FileVersions(mappingID, filePath string) ([]*model.FileVersion, error)

	// Operation journal and dedupe

	RecordFolderOperation(rec *model.FolderOperationRecord) error
	FolderOperations(mappingID string, limit int) ([]*model.FolderOperationRecord, error)
	RecordFileOperation(rec *model.FileOperationRecord) error

	// MarkProcessed records that content at a local path was uploaded.
	MarkProcessed(mappingID, localPath, contentHash string, at time.Time) error
	// IsProcessed reports whether that exact content was already uploaded,
	// letting re-scans skip work.
	IsProcessed(mappingID, localPath, contentHash string) (bool, error)

	Close() error
}
