package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"ardrive-sync/internal/fs"
	"ardrive-sync/internal/model"
)

// RemoteStorage is the external upload/download collaborator. Uploads may
// fail transiently; retry is the queue's responsibility, not the remote's.
type RemoteStorage interface {
	// UploadFile stores a file under the given remote parent folder and
	// returns the data and metadata transaction IDs.
	UploadFile(ctx context.Context, localPath, parentRemoteFolderID string) (dataTxID, metadataTxID string, err error)

	// CreateFolder creates a remote folder entry and returns its metadata
	// transaction ID.
	CreateFolder(ctx context.Context, name, parentRemoteFolderID string) (metadataTxID string, err error)

	// DownloadFile fetches content by its data transaction ID into destPath.
	DownloadFile(ctx context.Context, remoteDataTxID, destPath string) error
}

// ServiceConfig bundles the engine tunables.
type ServiceConfig struct {
	Queue             QueueConfig
	Detector          DetectorConfig
	StabilityAttempts int
	StabilityInterval time.Duration
}

// activeMapping pairs a drive mapping with its compiled exclude matcher.
type activeMapping struct {
	mapping *model.DriveMapping
	exclude *fs.ExcludeMatcher
}

// Service is the reconciliation engine: it turns filesystem events into
// queued uploads, folder-operation classifications and durable state
// transitions. One Service instance serves all active drive mappings of a
// profile concurrently.
type Service struct {
	store  Store
	remote RemoteStorage
	policy *RetryPolicy
	logger Logger
	clock  Clock
	idgen  IDGenerator
	events *Broadcaster

	verifier *StabilityVerifier
	detector *FolderOperationDetector
	queue    *UploadQueue

	mu       sync.RWMutex
	mappings map[string]*activeMapping // mapping ID -> mapping

	ctx    context.Context
	cancel context.CancelFunc
}

// NewService wires the engine components. The caller owns store and remote
// lifecycles; the Service owns its detector and queue and releases them in
// Close.
func NewService(store Store, remote RemoteStorage, cfg ServiceConfig, policy *RetryPolicy, clock Clock, idgen IDGenerator, logger Logger, events *Broadcaster) *Service {
	if policy == nil {
		policy = DefaultRetryPolicy()
	}
	if clock == nil {
		clock = RealClock{}
	}
	if idgen == nil {
		idgen = UUIDGenerator{}
	}
	if logger == nil {
		logger = NewNopLogger()
	}
	if events == nil {
		events = NewBroadcaster()
	}

	s := &Service{
		store:    store,
		remote:   remote,
		policy:   policy,
		logger:   logger,
		clock:    clock,
		idgen:    idgen,
		events:   events,
		mappings: make(map[string]*activeMapping),
	}

	s.verifier = NewStabilityVerifier(cfg.StabilityAttempts, cfg.StabilityInterval, logger)
	s.detector = NewFolderOperationDetector(cfg.Detector, clock, logger, s.confirmFolderDelete, s.priorFolderSnapshot)
	s.queue = NewUploadQueue(cfg.Queue, s.performUpload, policy, clock, logger, events)
	s.queue.SetCompletionHandlers(s.uploadCompleted, s.uploadFailed)

	return s
}

// Start loads active drive mappings and begins queue processing.
func (s *Service) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	if err := s.ReloadMappings(); err != nil {
		return fmt.Errorf("loading drive mappings: %w", err)
	}

	s.queue.Start(s.ctx)
	s.logger.Info("sync engine started", "mappings", len(s.mappings))
	return nil
}

// Close stops the queue and detector. Safe to call more than once.
func (s *Service) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	s.queue.Close()
	s.detector.Close()
}

// Queue exposes the live upload queue for cancel/retry/clear operations.
func (s *Service) Queue() *UploadQueue { return s.queue }

// Events exposes the progress/event stream.
func (s *Service) Events() *Broadcaster { return s.events }

// ReloadMappings refreshes the active mapping set from the store.
func (s *Service) ReloadMappings() error {
	mappings, err := s.store.ActiveDriveMappings()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.mappings = make(map[string]*activeMapping, len(mappings))
	for _, m := range mappings {
		s.mappings[m.ID] = &activeMapping{
			mapping: m,
			exclude: fs.NewExcludeMatcher(m.Settings.ExcludePatterns),
		}
	}
	return nil
}

// mappingForPath resolves the active mapping whose local folder contains
// path. With nested mappings the longest matching root wins.
func (s *Service) mappingForPath(path string) *activeMapping {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *activeMapping
	for _, am := range s.mappings {
		root := am.mapping.LocalFolderPath
		if path != root && !isUnderRoot(path, root) {
			continue
		}
		if best == nil || len(root) > len(best.mapping.LocalFolderPath) {
			best = am
		}
	}
	return best
}

func isUnderRoot(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !filepath.IsAbs(rel) && rel != "." && !hasDotDotPrefix(rel)
}

func hasDotDotPrefix(rel string) bool {
	return rel == ".." || len(rel) > 2 && rel[:3] == ".."+string(filepath.Separator)
}

// Filesystem event surface. The watcher collaborator calls these.

// OnFileAdded handles a newly observed file.
func (s *Service) OnFileAdded(path string) {
	s.handleFileEvent(path)
}

// OnFileChanged handles a modification to a known file.
func (s *Service) OnFileChanged(path string) {
	s.handleFileEvent(path)
}

// OnFileRemoved handles a local file deletion. The remote store is
// append-only, so delete is a local-only concept: the record flips to
// cloud_only rather than being removed.
func (s *Service) OnFileRemoved(path string) {
	am := s.mappingForPath(path)
	if am == nil {
		return
	}

	rec, err := s.store.FileMetadataByLocalPath(am.mapping.ID, path)
	if err != nil {
		s.logger.Error("looking up removed file", "path", path, "error", err)
		return
	}
	if rec == nil {
		return
	}

	if err := s.store.SetFileSyncStatus(rec.FileID, model.StatusCloudOnly, ""); err != nil {
		s.logger.Error("marking file cloud-only", "path", path, "error", err)
		return
	}
	s.journalFileOp(am.mapping.ID, "delete", path, "")
	s.publishStatus(rec.FileID, path, model.StatusCloudOnly)
}

// OnFolderAdded classifies a folder add against pending deletes and acts
// on the verdict.
func (s *Service) OnFolderAdded(path string) {
	am := s.mappingForPath(path)
	if am == nil {
		return
	}
	if am.exclude.Match(s.relPath(am, path)) {
		return
	}

	c := s.detector.HandleFolderAdded(path)
	s.applyFolderClassification(am, c)
}

// OnFolderRemoved arms the detection window for a folder delete. Nothing
// is committed until the window expires unchallenged.
func (s *Service) OnFolderRemoved(path string) {
	if s.mappingForPath(path) == nil {
		return
	}
	s.detector.HandleFolderRemoved(path)
}

// handleFileEvent gates a file through exclusion, size limits, stability
// verification and content dedupe, then queues it for upload.
func (s *Service) handleFileEvent(path string) {
	am := s.mappingForPath(path)
	if am == nil {
		return
	}
	rel := s.relPath(am, path)
	if am.exclude.Match(rel) {
		s.logger.Debug("file excluded", "path", path)
		return
	}
	if am.mapping.Settings.Direction == model.DirectionDownload {
		return
	}

	info, err := os.Stat(path)
	if err != nil {
		s.logger.Error("stat failed for changed file", "path", path, "error", err)
		return
	}
	if info.IsDir() {
		return
	}
	if max := am.mapping.Settings.MaxFileSize; max > 0 && info.Size() > max {
		s.logger.Warn("file exceeds max sync size, skipping", "path", path, "size", info.Size(), "max", max)
		return
	}

	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	digest, stable, err := s.verifier.WaitForStable(ctx, path)
	if err != nil {
		s.logger.Error("stability check failed", "path", path, "error", err)
		return
	}
	if !stable {
		s.logger.Warn("file not confirmed stable, uploading last observed content", "path", path)
	}

	processed, err := s.store.IsProcessed(am.mapping.ID, path, digest)
	if err != nil {
		s.logger.Error("dedupe lookup failed", "path", path, "error", err)
		return
	}
	if processed {
		s.logger.Debug("content already uploaded, skipping", "path", path)
		return
	}

	if err := s.enqueueFile(am, path, rel, digest, info); err != nil {
		s.logger.Error("queueing file upload", "path", path, "error", err)
	}
}

// enqueueFile upserts the metadata record, creates the durable upload row
// and adds the live queue item.
func (s *Service) enqueueFile(am *activeMapping, path, rel, digest string, info os.FileInfo) error {
	fileID := ""
	if existing, err := s.store.FileMetadataByLocalPath(am.mapping.ID, path); err != nil {
		return fmt.Errorf("metadata lookup: %w", err)
	} else if existing != nil {
		fileID = existing.FileID
	} else {
		fileID = s.idgen.New()
	}

	rec := &model.FileMetadataRecord{
		FileID:          fileID,
		MappingID:       am.mapping.ID,
		Name:            info.Name(),
		Path:            rel,
		Type:            model.EntryFile,
		Size:            info.Size(),
		LastModified:    info.ModTime(),
		ContentHash:     digest,
		LocalPath:       path,
		LocalFileExists: true,
		SyncStatus:      model.StatusQueued,
		SyncPreference:  model.PreferenceAuto,
	}
	if err := s.store.UpsertFileMetadata(rec); err != nil {
		return fmt.Errorf("upserting metadata: %w", err)
	}

	uploadID := s.idgen.New()
	upload := &model.UploadRecord{
		ID:           uploadID,
		MappingID:    am.mapping.ID,
		LocalPath:    path,
		FileName:     info.Name(),
		FileSize:     info.Size(),
		Status:       model.TransferPending,
		UploadMethod: "data",
		CreatedAt:    s.clock.Now(),
	}
	if err := s.store.CreateUploadRecord(upload); err != nil {
		return fmt.Errorf("creating upload record: %w", err)
	}

	s.queue.Add(UploadItem{
		ID:             uploadID,
		MappingID:      am.mapping.ID,
		LocalPath:      path,
		FileName:       info.Name(),
		FileSize:       info.Size(),
		ParentFolderID: s.remoteParentFor(am, path),
	})
	s.publishStatus(fileID, path, model.StatusQueued)
	return nil
}

// applyFolderClassification commits the consequences of a detector verdict
// for an added folder.
func (s *Service) applyFolderClassification(am *activeMapping, c FolderClassification) {
	mappingID := am.mapping.ID

	switch c.Operation {
	case FolderOpNew:
		entry := &model.FolderStructureEntry{
			ID:           s.idgen.New(),
			MappingID:    mappingID,
			FolderPath:   c.NewPath,
			RelativePath: s.relPath(am, c.NewPath),
			ParentPath:   filepath.Dir(c.NewPath),
		}
		if err := s.store.UpsertFolderEntry(entry); err != nil {
			s.logger.Error("recording new folder", "path", c.NewPath, "error", err)
			return
		}
		// A folder item: zero size, basename == name. Sorted before files.
		uploadID := s.idgen.New()
		upload := &model.UploadRecord{
			ID:           uploadID,
			MappingID:    mappingID,
			LocalPath:    c.NewPath,
			FileName:     filepath.Base(c.NewPath),
			Status:       model.TransferPending,
			UploadMethod: "folder",
			CreatedAt:    s.clock.Now(),
		}
		if err := s.store.CreateUploadRecord(upload); err != nil {
			s.logger.Error("creating folder upload record", "path", c.NewPath, "error", err)
			return
		}
		s.queue.Add(UploadItem{
			ID:             uploadID,
			MappingID:      mappingID,
			LocalPath:      c.NewPath,
			FileName:       filepath.Base(c.NewPath),
			ParentFolderID: s.remoteParentFor(am, c.NewPath),
		})

	case FolderOpRename, FolderOpMove, FolderOpRenameAndMove:
		if err := s.store.MoveFolderSubtree(mappingID, c.OldPath, c.NewPath); err != nil {
			s.logger.Error("moving folder subtree", "old", c.OldPath, "new", c.NewPath, "error", err)
			return
		}
		s.journalFolderOp(mappingID, c)
		s.journalFileOp(mappingID, string(c.Operation), c.OldPath, c.NewPath)
		s.events.Publish(Event{
			Type:      EventFolderOperation,
			Path:      c.NewPath,
			OldPath:   c.OldPath,
			Operation: c.Operation,
			At:        c.DetectedAt,
		})
	}
}

// confirmFolderDelete is the detector's confirmation callback: the
// detection window elapsed, the folder is really gone.
func (s *Service) confirmFolderDelete(snap FolderSnapshot) {
	am := s.mappingForPath(snap.Path)
	if am == nil {
		return
	}
	mappingID := am.mapping.ID

	if err := s.store.MarkFolderDeleted(mappingID, snap.Path); err != nil {
		s.logger.Error("soft-deleting folder", "path", snap.Path, "error", err)
		return
	}
	s.journalFolderOp(mappingID, FolderClassification{
		Operation:  FolderOpDelete,
		OldPath:    snap.Path,
		DetectedAt: s.clock.Now(),
	})
	s.events.Publish(Event{
		Type:      EventFolderOperation,
		Path:      snap.Path,
		Operation: FolderOpDelete,
		At:        s.clock.Now(),
	})
}

// priorFolderSnapshot rebuilds a best-effort snapshot for a deleted folder
// from the topology cache, so content comparison can survive the delete.
func (s *Service) priorFolderSnapshot(path string) (FolderSnapshot, bool) {
	am := s.mappingForPath(path)
	if am == nil {
		return FolderSnapshot{}, false
	}
	entry, err := s.store.FolderEntryByPath(am.mapping.ID, path)
	if err != nil || entry == nil {
		return FolderSnapshot{}, false
	}
	return FolderSnapshot{
		Path:           entry.FolderPath,
		Name:           filepath.Base(entry.FolderPath),
		ParentPath:     entry.ParentPath,
		RemoteFolderID: entry.RemoteFolderID,
	}, true
}

// performUpload is the queue's upload collaborator call.
func (s *Service) performUpload(ctx context.Context, item UploadItem) (*UploadResult, error) {
	if err := s.store.UpdateUploadProgress(item.ID, model.TransferUploading, 0); err != nil {
		return nil, fmt.Errorf("recording upload start: %w", err)
	}

	if item.isFolder() {
		metaTx, err := s.remote.CreateFolder(ctx, item.FileName, item.ParentFolderID)
		if err != nil {
			return nil, err
		}
		return &UploadResult{MetadataTxID: metaTx}, nil
	}

	dataTx, metaTx, err := s.remote.UploadFile(ctx, item.LocalPath, item.ParentFolderID)
	if err != nil {
		return nil, err
	}
	return &UploadResult{DataTxID: dataTx, MetadataTxID: metaTx}, nil
}

// uploadCompleted records a successful upload: durable upload row, metadata
// transition to synced, version lineage, dedupe marker.
func (s *Service) uploadCompleted(item UploadItem, res *UploadResult) {
	now := s.clock.Now()
	if err := s.store.CompleteUpload(item.ID, res.DataTxID, res.MetadataTxID, now); err != nil {
		s.logger.Error("recording upload completion", "id", item.ID, "error", err)
		return
	}

	am := s.mappingForPath(item.LocalPath)
	if am == nil {
		return
	}

	if item.isFolder() {
		s.completeFolderUpload(am, item, res)
		s.touchMapping(am.mapping.ID, now)
		return
	}

	rec, err := s.store.FileMetadataByLocalPath(item.MappingID, item.LocalPath)
	if err != nil || rec == nil {
		s.logger.Error("metadata record missing after upload", "path", item.LocalPath, "error", err)
		return
	}

	rec.RemoteDataTxID = res.DataTxID
	rec.RemoteMetaTxID = res.MetadataTxID
	rec.SyncStatus = model.StatusSynced
	rec.LastError = ""
	if err := s.store.UpsertFileMetadata(rec); err != nil {
		s.logger.Error("updating metadata after upload", "path", item.LocalPath, "error", err)
		return
	}

	change := model.ChangeCreate
	if latest, err := s.store.LatestFileVersion(item.MappingID, rec.Path); err == nil && latest != nil {
		change = model.ChangeUpdate
	}
	version := &model.FileVersion{
		ID:           s.idgen.New(),
		MappingID:    item.MappingID,
		FileHash:     rec.ContentHash,
		FilePath:     rec.Path,
		FileSize:     item.FileSize,
		DataTxID:     res.DataTxID,
		MetadataTxID: res.MetadataTxID,
		ChangeType:   change,
		CreatedAt:    now,
	}
	if err := s.store.AddFileVersion(version); err != nil {
		s.logger.Error("recording file version", "path", rec.Path, "error", err)
	}

	if err := s.store.MarkProcessed(item.MappingID, item.LocalPath, rec.ContentHash, now); err != nil {
		s.logger.Error("marking content processed", "path", item.LocalPath, "error", err)
	}

	s.touchMapping(am.mapping.ID, now)
	s.publishStatus(rec.FileID, item.LocalPath, model.StatusSynced)
}

// completeFolderUpload stores the remote folder ID on the topology entry so
// children can reference their parent.
func (s *Service) completeFolderUpload(am *activeMapping, item UploadItem, res *UploadResult) {
	entry, err := s.store.FolderEntryByPath(item.MappingID, item.LocalPath)
	if err != nil || entry == nil {
		s.logger.Error("folder entry missing after upload", "path", item.LocalPath, "error", err)
		return
	}
	entry.RemoteFolderID = res.MetadataTxID
	if err := s.store.UpsertFolderEntry(entry); err != nil {
		s.logger.Error("updating folder entry after upload", "path", item.LocalPath, "error", err)
	}
}

// uploadFailed records a terminal upload failure.
func (s *Service) uploadFailed(item UploadItem, cause *SyncError) {
	status := model.TransferFailed
	if cause.Code == CodeSyncCancelled {
		status = model.TransferCancelled
	}
	if err := s.store.FailUpload(item.ID, status, cause.UserMessage, s.clock.Now()); err != nil {
		s.logger.Error("recording upload failure", "id", item.ID, "error", err)
	}

	rec, err := s.store.FileMetadataByLocalPath(item.MappingID, item.LocalPath)
	if err != nil || rec == nil {
		return
	}
	if err := s.store.SetFileSyncStatus(rec.FileID, model.StatusError, cause.UserMessage); err != nil {
		s.logger.Error("marking file errored", "path", item.LocalPath, "error", err)
		return
	}
	s.publishStatus(rec.FileID, item.LocalPath, model.StatusError)
}

// RequestDownload fetches remote content into place for a cached file and
// records the transfer. Cancellation is cooperative via the store flag.
func (s *Service) RequestDownload(ctx context.Context, fileID string, priority int) error {
	rec, err := s.store.FileMetadataByFileID(fileID)
	if err != nil {
		return fmt.Errorf("metadata lookup: %w", err)
	}
	if rec == nil {
		return fmt.Errorf("no cached metadata for file %s", fileID)
	}
	if rec.RemoteDataTxID == "" {
		return fmt.Errorf("file %s has no remote content", fileID)
	}

	dl := &model.DownloadRecord{
		ID:        s.idgen.New(),
		MappingID: rec.MappingID,
		FileID:    rec.FileID,
		LocalPath: rec.LocalPath,
		FileName:  rec.Name,
		FileSize:  rec.Size,
		Status:    model.TransferPending,
		Priority:  priority,
		DataTxID:  rec.RemoteDataTxID,
		CreatedAt: s.clock.Now(),
	}
	if err := s.store.CreateDownloadRecord(dl); err != nil {
		return fmt.Errorf("creating download record: %w", err)
	}

	if err := s.store.SetFileSyncStatus(rec.FileID, model.StatusDownloading, ""); err != nil {
		return fmt.Errorf("marking file downloading: %w", err)
	}
	if err := s.store.UpdateDownloadProgress(dl.ID, model.TransferDownloading, 0); err != nil {
		return fmt.Errorf("recording download start: %w", err)
	}

	if err := s.remote.DownloadFile(ctx, rec.RemoteDataTxID, rec.LocalPath); err != nil {
		cause := Classify(err)
		if ferr := s.store.UpdateDownloadProgress(dl.ID, model.TransferFailed, 0); ferr != nil {
			s.logger.Error("recording download failure", "id", dl.ID, "error", ferr)
		}
		_ = s.store.SetFileSyncStatus(rec.FileID, model.StatusError, cause.UserMessage)
		return cause
	}

	now := s.clock.Now()
	if err := s.store.CompleteDownload(dl.ID, now); err != nil {
		s.logger.Error("recording download completion", "id", dl.ID, "error", err)
	}
	if err := s.store.SetFileSyncStatus(rec.FileID, model.StatusSynced, ""); err != nil {
		return fmt.Errorf("marking file synced: %w", err)
	}
	s.publishStatus(rec.FileID, rec.LocalPath, model.StatusSynced)
	return nil
}

// remoteParentFor resolves the remote folder ID of a path's parent from
// the topology cache, empty when the parent is the drive root or not yet
// uploaded.
func (s *Service) remoteParentFor(am *activeMapping, path string) string {
	parent := filepath.Dir(path)
	if parent == am.mapping.LocalFolderPath {
		return ""
	}
	entry, err := s.store.FolderEntryByPath(am.mapping.ID, parent)
	if err != nil || entry == nil {
		return ""
	}
	return entry.RemoteFolderID
}

func (s *Service) relPath(am *activeMapping, path string) string {
	rel, err := filepath.Rel(am.mapping.LocalFolderPath, path)
	if err != nil {
		return path
	}
	return rel
}

func (s *Service) touchMapping(mappingID string, at time.Time) {
	if err := s.store.TouchDriveMappingSync(mappingID, at); err != nil {
		s.logger.Error("updating mapping sync time", "mapping", mappingID, "error", err)
	}
}

func (s *Service) journalFolderOp(mappingID string, c FolderClassification) {
	rec := &model.FolderOperationRecord{
		ID:         s.idgen.New(),
		MappingID:  mappingID,
		Operation:  string(c.Operation),
		OldPath:    c.OldPath,
		NewPath:    c.NewPath,
		DetectedAt: c.DetectedAt,
	}
	if err := s.store.RecordFolderOperation(rec); err != nil {
		s.logger.Error("journaling folder operation", "op", rec.Operation, "error", err)
	}
}

func (s *Service) journalFileOp(mappingID, op, from, to string) {
	rec := &model.FileOperationRecord{
		ID:        s.idgen.New(),
		MappingID: mappingID,
		Operation: op,
		FromPath:  from,
		ToPath:    to,
		CreatedAt: s.clock.Now(),
	}
	if err := s.store.RecordFileOperation(rec); err != nil {
		s.logger.Error("journaling file operation", "op", op, "error", err)
	}
}

func (s *Service) publishStatus(fileID, path string, status model.SyncStatus) {
	s.events.Publish(Event{
		Type:   EventStatusChange,
		ItemID: fileID,
		Path:   path,
		Status: status,
		At:     s.clock.Now(),
	})
}
