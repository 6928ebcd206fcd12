package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"ardrive-sync/internal/config"
	"ardrive-sync/internal/database"
	"ardrive-sync/internal/engine"
	"ardrive-sync/internal/model"
	"ardrive-sync/internal/remote"
	"ardrive-sync/internal/watcher"
)

// SyncApp is the application layer between the CLI and the sync engine.
// It constructs all dependencies from config, exposes high-level operations
// that accept raw string arguments, and manages the store lifecycle on Close.
type SyncApp struct {
	cfg     *config.Config
	store   engine.Store
	gateway engine.RemoteStorage
	service *engine.Service
	watch   *watcher.Watcher
	logFile *os.File
	logger  engine.Logger
}

// NewSyncApp creates a fully wired SyncApp from the given config.
// The caller must call Close when done.
func NewSyncApp(ctx context.Context, cfg *config.Config) (*SyncApp, error) {
	profile := cfg.Profile
	if profile == "" {
		profile = "default"
	}

	store, err := database.NewStoreFromConfig(cfg.Database, profile)
	if err != nil {
		return nil, fmt.Errorf("creating store: %w", err)
	}

	gateway, err := remote.NewGatewayFromConfig(ctx, cfg.Gateway)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("creating gateway: %w", err)
	}

	runID := time.Now().UTC().Format("20060102T150405Z")
	slogger, logFile, err := newLogger(cfg.LogDir, runID)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	policy := retryPolicyFromConfig(cfg.Sync)

	svc := engine.NewService(store, gateway, engine.ServiceConfig{
		Queue: engine.QueueConfig{
			TickInterval: cfg.Sync.QueueInterval.Duration(),
			MaxRetries:   cfg.Sync.MaxRetries,
		},
		Detector: engine.DetectorConfig{
			DetectionWindow: cfg.Sync.DetectionWindow.Duration(),
			SweepInterval:   cfg.Sync.SweepInterval.Duration(),
		},
		StabilityAttempts: cfg.Sync.StabilityAttempts,
		StabilityInterval: cfg.Sync.StabilityInterval.Duration(),
	}, policy, engine.RealClock{}, engine.UUIDGenerator{}, logger, engine.NewBroadcaster())

	w, err := watcher.New(svc, logger)
	if err != nil {
		store.Close()
		logFile.Close()
		return nil, fmt.Errorf("creating watcher: %w", err)
	}

	return &SyncApp{
		cfg:     cfg,
		store:   store,
		gateway: gateway,
		service: svc,
		watch:   w,
		logFile: logFile,
		logger:  logger,
	}, nil
}

// retryPolicyFromConfig builds the retry policy from the [sync] section.
// Unset values keep the engine defaults.
func retryPolicyFromConfig(sc config.SyncConfig) *engine.RetryPolicy {
	policy := engine.DefaultRetryPolicy()
	if sc.MaxRetries > 0 {
		policy.MaxRetries = sc.MaxRetries
	}
	if d := sc.InitialDelay.Duration(); d > 0 {
		policy.InitialDelay = d
	}
	if d := sc.MaxDelay.Duration(); d > 0 {
		policy.MaxDelay = d
	}
	if sc.BackoffMultiplier > 0 {
		policy.Multiplier = sc.BackoffMultiplier
	}
	return policy
}

// Service exposes the engine for event subscription.
func (a *SyncApp) Service() *engine.Service { return a.service }

// AddDrive registers a new drive mapping for the given remote drive and
// local folder. The folder must exist.
func (a *SyncApp) AddDrive(remoteDriveID, driveName, localPath string, privacy model.Privacy, direction model.SyncDirection) (*model.DriveMapping, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return nil, fmt.Errorf("local folder: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("local path is not a directory: %s", localPath)
	}

	now := time.Now()
	m := &model.DriveMapping{
		ID:              engine.UUIDGenerator{}.New(),
		RemoteDriveID:   remoteDriveID,
		DriveName:       driveName,
		Privacy:         privacy,
		LocalFolderPath: localPath,
		IsActive:        true,
		Settings: model.SyncSettings{
			ExcludePatterns: a.cfg.Sync.ExcludePatterns,
			MaxFileSize:     a.cfg.Sync.MaxFileSize,
			Direction:       direction,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.store.CreateDriveMapping(m); err != nil {
		return nil, err
	}
	return m, nil
}

// RemoveDrive deletes a mapping and all of its sync state.
func (a *SyncApp) RemoveDrive(id string) error {
	return a.store.RemoveDriveMapping(id)
}

// SetDriveActive pauses or resumes a mapping without losing history.
func (a *SyncApp) SetDriveActive(id string, active bool) error {
	if err := a.store.SetDriveMappingActive(id, active); err != nil {
		return err
	}
	return a.service.ReloadMappings()
}

// ListDrives returns all drive mappings.
func (a *SyncApp) ListDrives() ([]*model.DriveMapping, error) {
	return a.store.ListDriveMappings()
}

// ensureDrives registers mappings declared in the config file, skipping
// pairs that already exist.
func (a *SyncApp) ensureDrives() error {
	if len(a.cfg.Drives) == 0 {
		return nil
	}

	existing, err := a.store.ListDriveMappings()
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(existing))
	for _, m := range existing {
		known[m.RemoteDriveID+"\x00"+m.LocalFolderPath] = true
	}

	for _, d := range a.cfg.Drives {
		if known[d.RemoteDriveID+"\x00"+d.LocalFolderPath] {
			continue
		}
		direction := model.SyncDirection(d.Direction)
		if direction == "" {
			direction = model.DirectionBidirectional
		}
		privacy := model.Privacy(d.Privacy)
		if privacy == "" {
			privacy = model.PrivacyPublic
		}
		if _, err := a.AddDrive(d.RemoteDriveID, d.DriveName, d.LocalFolderPath, privacy, direction); err != nil {
			return fmt.Errorf("registering drive %s: %w", d.DriveName, err)
		}
	}
	return nil
}

// Run starts the engine and the filesystem watcher and blocks until ctx is
// cancelled.
func (a *SyncApp) Run(ctx context.Context) error {
	if err := a.ensureDrives(); err != nil {
		return err
	}

	if err := a.service.Start(ctx); err != nil {
		return err
	}

	mappings, err := a.store.ActiveDriveMappings()
	if err != nil {
		return err
	}
	for _, m := range mappings {
		if err := a.watch.AddRoot(m.LocalFolderPath); err != nil {
			a.logger.Warn("failed to watch drive root", "path", m.LocalFolderPath, "error", err)
		}
	}

	if err := a.watch.Start(); err != nil {
		return err
	}

	<-ctx.Done()
	return a.watch.Stop()
}

// DriveStatus is a per-status file count summary for one mapping.
type DriveStatus struct {
	Mapping *model.DriveMapping
	Counts  map[model.SyncStatus]int
}

// Status returns sync state summaries for all mappings.
func (a *SyncApp) Status() ([]*DriveStatus, error) {
	mappings, err := a.store.ListDriveMappings()
	if err != nil {
		return nil, err
	}

	statuses := []model.SyncStatus{
		model.StatusSynced, model.StatusDownloading, model.StatusQueued,
		model.StatusCloudOnly, model.StatusPending, model.StatusError,
	}

	var result []*DriveStatus
	for _, m := range mappings {
		ds := &DriveStatus{Mapping: m, Counts: make(map[model.SyncStatus]int)}
		for _, st := range statuses {
			recs, err := a.store.FilesByStatus(m.ID, st)
			if err != nil {
				return nil, err
			}
			ds.Counts[st] = len(recs)
		}
		result = append(result, ds)
	}
	return result, nil
}

// QueueItems returns a snapshot of the live upload queue.
func (a *SyncApp) QueueItems() []engine.UploadItem {
	return a.service.Queue().Items()
}

// CancelUpload cancels a pending queue item.
func (a *SyncApp) CancelUpload(id string) error {
	if !a.service.Queue().Cancel(id) {
		return fmt.Errorf("no pending upload with id %s", id)
	}
	return nil
}

// RetryUpload requeues a failed item with a fresh retry budget.
func (a *SyncApp) RetryUpload(id string) error {
	if !a.service.Queue().Retry(id) {
		return fmt.Errorf("no failed upload with id %s", id)
	}
	return nil
}

// ClearCompleted drops completed items from the live queue.
func (a *SyncApp) ClearCompleted() int {
	return a.service.Queue().ClearCompleted()
}

// UploadHistory returns recent durable upload records for a mapping.
func (a *SyncApp) UploadHistory(mappingID string, limit int) ([]*model.UploadRecord, error) {
	return a.store.UploadsByMapping(mappingID, limit)
}

// FolderOperations returns recent confirmed folder operations for a mapping.
func (a *SyncApp) FolderOperations(mappingID string, limit int) ([]*model.FolderOperationRecord, error) {
	return a.store.FolderOperations(mappingID, limit)
}

// Download fetches remote content for a cached file into its local path.
func (a *SyncApp) Download(ctx context.Context, fileID string, priority int) error {
	return a.service.RequestDownload(ctx, fileID, priority)
}

// Close releases the engine, store and log file.
func (a *SyncApp) Close() error {
	a.service.Close()

	var firstErr error
	if err := a.store.Close(); err != nil {
		firstErr = fmt.Errorf("closing store: %w", err)
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}
