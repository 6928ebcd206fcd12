package model

import "time"

// Privacy marks whether a drive's contents are publicly readable on the
// storage network.
type Privacy string

const (
	PrivacyPublic  Privacy = "public"
	PrivacyPrivate Privacy = "private"
)

// SyncDirection controls which way a drive mapping moves data.
type SyncDirection string

const (
	DirectionUpload        SyncDirection = "upload"
	DirectionDownload      SyncDirection = "download"
	DirectionBidirectional SyncDirection = "bidirectional"
)

// SyncStatus is the per-file synchronization state kept in the metadata cache.
type SyncStatus string

const (
	StatusSynced      SyncStatus = "synced"
	StatusDownloading SyncStatus = "downloading"
	StatusQueued      SyncStatus = "queued"
	StatusCloudOnly   SyncStatus = "cloud_only"
	StatusPending     SyncStatus = "pending"
	StatusError       SyncStatus = "error"
)

// SyncPreference is a user-chosen override for where a file's content lives.
type SyncPreference string

const (
	PreferenceAuto        SyncPreference = "auto"
	PreferenceAlwaysLocal SyncPreference = "always_local"
	PreferenceCloudOnly   SyncPreference = "cloud_only"
)

// TransferStatus is the lifecycle state of an upload or download record.
// Completed, failed and cancelled are terminal.
type TransferStatus string

const (
	TransferPending     TransferStatus = "pending"
	TransferUploading   TransferStatus = "uploading"
	TransferDownloading TransferStatus = "downloading"
	TransferCompleted   TransferStatus = "completed"
	TransferFailed      TransferStatus = "failed"
	TransferCancelled   TransferStatus = "cancelled"
)

// EntryType distinguishes files from folders in the metadata cache.
type EntryType string

const (
	EntryFile   EntryType = "file"
	EntryFolder EntryType = "folder"
)

// ChangeType records why a new file version was created.
type ChangeType string

const (
	ChangeCreate ChangeType = "create"
	ChangeUpdate ChangeType = "update"
	ChangeRename ChangeType = "rename"
	ChangeMove   ChangeType = "move"
)

// SyncSettings are the per-drive tunables supplied by configuration.
// The engine treats them as read-only input.
type SyncSettings struct {
	ExcludePatterns []string
	MaxFileSize     int64
	Direction       SyncDirection
	UploadPriority  int
}

// DriveMapping pairs one remote drive with one local folder.
// Unique on (RemoteDriveID, LocalFolderPath). All per-file and per-folder
// records reference a mapping and are removed with it.
type DriveMapping struct {
	ID                 string // UUID
	RemoteDriveID      string
	DriveName          string
	Privacy            Privacy
	LocalFolderPath    string
	IsActive           bool
	LastSyncTime       *time.Time
	LastMetadataSyncAt *time.Time
	Settings           SyncSettings
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// FileMetadataRecord is one entry in the drive metadata cache. Upserted by
// FileID; sticky fields (SyncStatus, SyncPreference, DownloadPriority)
// survive re-scan upserts unless the incoming value is more specific than
// the default.
type FileMetadataRecord struct {
	FileID           string // unique
	MappingID        string
	ParentFolderID   string
	Name             string
	Path             string // drive-relative path
	Type             EntryType
	Size             int64
	LastModified     time.Time
	RemoteDataTxID   string
	RemoteMetaTxID   string
	ContentHash      string
	LocalPath        string
	LocalFileExists  bool
	SyncStatus       SyncStatus
	SyncPreference   SyncPreference
	DownloadPriority int
	LastError        string
}

// UploadRecord is the durable history row for one upload attempt.
// At most one record per queue instance holds TransferUploading at a time.
type UploadRecord struct {
	ID           string // UUID
	MappingID    string
	LocalPath    string
	FileName     string
	FileSize     int64
	Status       TransferStatus
	Progress     int // 0-100
	UploadMethod string
	DataTxID     string
	MetadataTxID string
	Error        string
	CreatedAt    time.Time
	CompletedAt  *time.Time
}

// DownloadRecord mirrors UploadRecord for the inbound direction.
type DownloadRecord struct {
	ID          string // UUID
	MappingID   string
	FileID      string
	LocalPath   string
	FileName    string
	FileSize    int64
	Status      TransferStatus
	Progress    int // 0-100
	Priority    int
	IsCancelled bool
	DataTxID    string
	Error       string
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// FolderStructureEntry is the folder topology cache. Folders are
// soft-deleted (IsDeleted) so rename/move detection can consult history.
// Unique on (FolderPath, MappingID).
type FolderStructureEntry struct {
	ID             string // UUID
	MappingID      string
	FolderPath     string // absolute local path
	RelativePath   string // drive-relative path
	ParentPath     string
	RemoteFolderID string
	IsDeleted      bool
}

// FileVersion is one link in a file's version lineage. Exactly one version
// per (MappingID, FilePath) has IsLatest=true; the store demotes the prior
// latest before inserting a new one.
type FileVersion struct {
	ID            string // UUID
	MappingID     string
	FileHash      string
	FilePath      string
	FileSize      int64
	DataTxID      string
	MetadataTxID  string
	Version       int // monotonic per file path
	ParentVersion int // 0 for the first version
	ChangeType    ChangeType
	IsLatest      bool
	CreatedAt     time.Time
}

// FolderOperationRecord persists a confirmed folder classification for the
// query surface.
type FolderOperationRecord struct {
	ID         string // UUID
	MappingID  string
	Operation  string // rename, move, rename_and_move, delete, new
	OldPath    string
	NewPath    string
	DetectedAt time.Time
}

// FileOperationRecord journals a file-level consequence of a confirmed
// folder operation (or a direct file event).
type FileOperationRecord struct {
	ID        string // UUID
	MappingID string
	Operation string
	FromPath  string
	ToPath    string
	CreatedAt time.Time
}
