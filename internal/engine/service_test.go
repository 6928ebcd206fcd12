package engine_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"ardrive-sync/internal/engine"
	"ardrive-sync/internal/model"
	"ardrive-sync/internal/testutil"
)

// fastServiceConfig keeps tick and stability intervals in the millisecond
// range so event-to-synced round trips finish quickly.
func fastServiceConfig() engine.ServiceConfig {
	return engine.ServiceConfig{
		Queue:             engine.QueueConfig{TickInterval: time.Millisecond},
		Detector:          engine.DetectorConfig{DetectionWindow: 50 * time.Millisecond},
		StabilityAttempts: 2,
		StabilityInterval: time.Millisecond,
	}
}

type serviceFixture struct {
	store   engine.Store
	remote  *testutil.StubRemote
	service *engine.Service
	mapping *model.DriveMapping
	root    string
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	root := t.TempDir()
	store := testutil.NewTestStore(t)
	mapping := testutil.NewTestMapping(t, store, "m1", root)
	remote := testutil.NewStubRemote()

	svc := engine.NewService(store, remote, fastServiceConfig(), fastPolicy(), nil, nil, nil, nil)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(svc.Close)

	return &serviceFixture{
		store:   store,
		remote:  remote,
		service: svc,
		mapping: mapping,
		root:    root,
	}
}

func (f *serviceFixture) waitForStatus(t *testing.T, localPath string, status model.SyncStatus) *model.FileMetadataRecord {
	t.Helper()
	var rec *model.FileMetadataRecord
	waitFor(t, 5*time.Second, func() bool {
		var err error
		rec, err = f.store.FileMetadataByLocalPath(f.mapping.ID, localPath)
		return err == nil && rec != nil && rec.SyncStatus == status
	}, "file never reached status "+string(status))
	return rec
}

func TestService_FileUploadRoundTrip(t *testing.T) {
	f := newServiceFixture(t)

	path := writeTestFile(t, f.root, "report.txt", "quarterly numbers")
	f.service.OnFileAdded(path)

	rec := f.waitForStatus(t, path, model.StatusSynced)

	if rec.RemoteDataTxID != "data-tx-1" || rec.RemoteMetaTxID != "meta-tx-1" {
		t.Errorf("remote tx IDs = (%s, %s), want (data-tx-1, meta-tx-1)", rec.RemoteDataTxID, rec.RemoteMetaTxID)
	}
	if rec.ContentHash == "" {
		t.Error("ContentHash not recorded")
	}

	t.Run("upload record is completed", func(t *testing.T) {
		uploads, err := f.store.UploadsByMapping(f.mapping.ID, 10)
		if err != nil {
			t.Fatalf("UploadsByMapping() error = %v", err)
		}
		if len(uploads) != 1 {
			t.Fatalf("len(uploads) = %d, want 1", len(uploads))
		}
		if uploads[0].Status != model.TransferCompleted {
			t.Errorf("upload status = %s, want %s", uploads[0].Status, model.TransferCompleted)
		}
		if uploads[0].CompletedAt == nil {
			t.Error("CompletedAt not set")
		}
	})

	t.Run("version lineage starts at 1", func(t *testing.T) {
		v, err := f.store.LatestFileVersion(f.mapping.ID, rec.Path)
		if err != nil {
			t.Fatalf("LatestFileVersion() error = %v", err)
		}
		if v == nil {
			t.Fatal("no version recorded")
		}
		if v.Version != 1 {
			t.Errorf("Version = %d, want 1", v.Version)
		}
		if v.ChangeType != model.ChangeCreate {
			t.Errorf("ChangeType = %s, want %s", v.ChangeType, model.ChangeCreate)
		}
	})

	t.Run("content is marked processed", func(t *testing.T) {
		done, err := f.store.IsProcessed(f.mapping.ID, path, rec.ContentHash)
		if err != nil {
			t.Fatalf("IsProcessed() error = %v", err)
		}
		if !done {
			t.Error("IsProcessed() = false after successful upload")
		}
	})

	t.Run("same content is not re-queued", func(t *testing.T) {
		f.service.OnFileChanged(path)
		time.Sleep(50 * time.Millisecond)
		if got := f.remote.Uploads(); len(got) != 1 {
			t.Errorf("remote uploads = %d, want 1 (dedupe by content hash)", len(got))
		}
	})
}

func TestService_ChangedFileGetsNewVersion(t *testing.T) {
	f := newServiceFixture(t)

	path := writeTestFile(t, f.root, "notes.txt", "draft one")
	f.service.OnFileAdded(path)
	f.waitForStatus(t, path, model.StatusSynced)

	if err := os.WriteFile(path, []byte("draft two"), 0o644); err != nil {
		t.Fatalf("rewriting file: %v", err)
	}
	f.service.OnFileChanged(path)

	rec, _ := f.store.FileMetadataByLocalPath(f.mapping.ID, path)
	waitFor(t, 5*time.Second, func() bool {
		v, err := f.store.LatestFileVersion(f.mapping.ID, rec.Path)
		return err == nil && v != nil && v.Version == 2
	}, "second version never recorded")

	v, err := f.store.LatestFileVersion(f.mapping.ID, rec.Path)
	if err != nil {
		t.Fatalf("LatestFileVersion() error = %v", err)
	}
	if v.ChangeType != model.ChangeUpdate {
		t.Errorf("ChangeType = %s, want %s", v.ChangeType, model.ChangeUpdate)
	}
	if v.ParentVersion != 1 {
		t.Errorf("ParentVersion = %d, want 1", v.ParentVersion)
	}

	versions, err := f.store.FileVersions(f.mapping.ID, rec.Path)
	if err != nil {
		t.Fatalf("FileVersions() error = %v", err)
	}
	if len(versions) != 2 {
		t.Fatalf("len(versions) = %d, want 2", len(versions))
	}
	if versions[0].IsLatest || !versions[1].IsLatest {
		t.Error("is_latest flag not moved to the newest version")
	}
}

func TestService_RemovedFileBecomesCloudOnly(t *testing.T) {
	f := newServiceFixture(t)

	path := writeTestFile(t, f.root, "report.txt", "content")
	f.service.OnFileAdded(path)
	f.waitForStatus(t, path, model.StatusSynced)

	if err := os.Remove(path); err != nil {
		t.Fatalf("removing file: %v", err)
	}
	f.service.OnFileRemoved(path)

	rec := f.waitForStatus(t, path, model.StatusCloudOnly)
	if rec.RemoteDataTxID == "" {
		t.Error("remote content reference lost on local delete")
	}
}

func TestService_ExcludedAndForeignPathsIgnored(t *testing.T) {
	root := t.TempDir()
	store := testutil.NewTestStore(t)
	m := &model.DriveMapping{
		ID:              "m1",
		RemoteDriveID:   "drive-m1",
		DriveName:       "drive",
		Privacy:         model.PrivacyPublic,
		LocalFolderPath: root,
		IsActive:        true,
		Settings: model.SyncSettings{
			Direction:       model.DirectionBidirectional,
			ExcludePatterns: []string{"*.tmp"},
		},
	}
	if err := store.CreateDriveMapping(m); err != nil {
		t.Fatalf("CreateDriveMapping() error = %v", err)
	}

	remote := testutil.NewStubRemote()
	svc := engine.NewService(store, remote, fastServiceConfig(), fastPolicy(), nil, nil, nil, nil)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(svc.Close)

	svc.OnFileAdded(writeTestFile(t, root, "scratch.tmp", "x"))
	svc.OnFileAdded(filepath.Join(t.TempDir(), "outside.txt"))

	time.Sleep(50 * time.Millisecond)
	if got := remote.Uploads(); len(got) != 0 {
		t.Errorf("remote uploads = %v, want none", got)
	}
	if got := len(svc.Queue().Items()); got != 0 {
		t.Errorf("queued items = %d, want 0", got)
	}
}

func TestService_NewFolderUpload(t *testing.T) {
	f := newServiceFixture(t)

	path := makeFolder(t, f.root, "projects")
	f.service.OnFolderAdded(path)

	waitFor(t, 5*time.Second, func() bool {
		entry, err := f.store.FolderEntryByPath(f.mapping.ID, path)
		return err == nil && entry != nil && entry.RemoteFolderID != ""
	}, "folder never got a remote ID")

	entry, _ := f.store.FolderEntryByPath(f.mapping.ID, path)
	if entry.RemoteFolderID != "folder-tx-1" {
		t.Errorf("RemoteFolderID = %s, want folder-tx-1", entry.RemoteFolderID)
	}
	if got := f.remote.Folders(); len(got) != 1 || got[0] != "projects" {
		t.Errorf("remote folders = %v, want [projects]", got)
	}
}

func TestService_FolderRenameMovesSubtree(t *testing.T) {
	f := newServiceFixture(t)

	oldPath := makeFolder(t, f.root, "projects")
	f.service.OnFolderAdded(oldPath)
	waitFor(t, 5*time.Second, func() bool {
		entry, err := f.store.FolderEntryByPath(f.mapping.ID, oldPath)
		return err == nil && entry != nil && entry.RemoteFolderID != ""
	}, "folder never got a remote ID")

	newPath := filepath.Join(f.root, "archive")
	if err := os.Rename(oldPath, newPath); err != nil {
		t.Fatalf("renaming folder: %v", err)
	}
	f.service.OnFolderRemoved(oldPath)
	f.service.OnFolderAdded(newPath)

	t.Run("topology entry follows the rename", func(t *testing.T) {
		entry, err := f.store.FolderEntryByPath(f.mapping.ID, newPath)
		if err != nil {
			t.Fatalf("FolderEntryByPath() error = %v", err)
		}
		if entry == nil {
			t.Fatal("no entry at the new path")
		}
		if entry.RemoteFolderID != "folder-tx-1" {
			t.Errorf("RemoteFolderID = %s, want folder-tx-1 (no re-upload on rename)", entry.RemoteFolderID)
		}

		old, err := f.store.FolderEntryByPath(f.mapping.ID, oldPath)
		if err != nil {
			t.Fatalf("FolderEntryByPath() error = %v", err)
		}
		if old != nil {
			t.Error("entry still present at the old path")
		}
	})

	t.Run("operation is journaled", func(t *testing.T) {
		ops, err := f.store.FolderOperations(f.mapping.ID, 10)
		if err != nil {
			t.Fatalf("FolderOperations() error = %v", err)
		}
		if len(ops) != 1 {
			t.Fatalf("len(ops) = %d, want 1", len(ops))
		}
		if ops[0].Operation != "rename" {
			t.Errorf("Operation = %s, want rename", ops[0].Operation)
		}
		if ops[0].OldPath != oldPath || ops[0].NewPath != newPath {
			t.Errorf("paths = %s -> %s, want %s -> %s", ops[0].OldPath, ops[0].NewPath, oldPath, newPath)
		}
	})
}

func TestService_ConfirmedFolderDeleteIsSoft(t *testing.T) {
	f := newServiceFixture(t)

	path := makeFolder(t, f.root, "projects")
	f.service.OnFolderAdded(path)
	waitFor(t, 5*time.Second, func() bool {
		entry, err := f.store.FolderEntryByPath(f.mapping.ID, path)
		return err == nil && entry != nil && entry.RemoteFolderID != ""
	}, "folder never got a remote ID")

	if err := os.RemoveAll(path); err != nil {
		t.Fatalf("removing folder: %v", err)
	}
	f.service.OnFolderRemoved(path)

	waitFor(t, 5*time.Second, func() bool {
		entries, err := f.store.FolderEntries(f.mapping.ID, true)
		if err != nil || len(entries) != 1 {
			return false
		}
		return entries[0].IsDeleted
	}, "folder delete never confirmed")

	// Soft delete: excluded from the live view, retained in the full view.
	live, err := f.store.FolderEntries(f.mapping.ID, false)
	if err != nil {
		t.Fatalf("FolderEntries() error = %v", err)
	}
	if len(live) != 0 {
		t.Errorf("live entries = %d after delete, want 0", len(live))
	}
}

func TestService_RequestDownload(t *testing.T) {
	seed := func(t *testing.T, f *serviceFixture, fileID string) *model.FileMetadataRecord {
		t.Helper()
		rec := &model.FileMetadataRecord{
			FileID:         fileID,
			MappingID:      f.mapping.ID,
			Name:           "remote.txt",
			Path:           "remote.txt",
			Type:           model.EntryFile,
			Size:           11,
			RemoteDataTxID: "data-tx-99",
			LocalPath:      filepath.Join(f.root, "remote.txt"),
			SyncStatus:     model.StatusCloudOnly,
		}
		if err := f.store.UpsertFileMetadata(rec); err != nil {
			t.Fatalf("UpsertFileMetadata() error = %v", err)
		}
		return rec
	}

	t.Run("fetches content and marks the file synced", func(t *testing.T) {
		f := newServiceFixture(t)
		rec := seed(t, f, "file-1")

		if err := f.service.RequestDownload(context.Background(), rec.FileID, 5); err != nil {
			t.Fatalf("RequestDownload() error = %v", err)
		}

		if got := f.remote.Downloads(); len(got) != 1 || got[0] != "data-tx-99" {
			t.Errorf("remote downloads = %v, want [data-tx-99]", got)
		}
		after, _ := f.store.FileMetadataByFileID(rec.FileID)
		if after.SyncStatus != model.StatusSynced {
			t.Errorf("SyncStatus = %s, want %s", after.SyncStatus, model.StatusSynced)
		}
	})

	t.Run("transport failure classifies and marks the file errored", func(t *testing.T) {
		f := newServiceFixture(t)
		rec := seed(t, f, "file-2")
		f.remote.Err = errors.New("request timed out")

		err := f.service.RequestDownload(context.Background(), rec.FileID, 0)
		if err == nil {
			t.Fatal("RequestDownload() error = nil, want timeout")
		}
		var syncErr *engine.SyncError
		if !errors.As(err, &syncErr) || syncErr.Code != engine.CodeNetworkTimeout {
			t.Errorf("error = %v, want %s", err, engine.CodeNetworkTimeout)
		}
		after, _ := f.store.FileMetadataByFileID(rec.FileID)
		if after.SyncStatus != model.StatusError {
			t.Errorf("SyncStatus = %s, want %s", after.SyncStatus, model.StatusError)
		}
	})

	t.Run("unknown file", func(t *testing.T) {
		f := newServiceFixture(t)
		if err := f.service.RequestDownload(context.Background(), "missing", 0); err == nil {
			t.Error("RequestDownload() error = nil for unknown file")
		}
	})
}
