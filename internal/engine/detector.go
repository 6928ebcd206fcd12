package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// FolderOp classifies what a delete/add event pair on folders actually was.
type FolderOp string

const (
	FolderOpRename        FolderOp = "rename"
	FolderOpMove          FolderOp = "move"
	FolderOpRenameAndMove FolderOp = "rename_and_move"
	FolderOpDelete        FolderOp = "delete"
	FolderOpNew           FolderOp = "new"
)

// similarityThreshold is the minimum children-set similarity (percent) for
// a different-parent, different-name pair to classify as rename_and_move.
const similarityThreshold = 80.0

// FolderSnapshot captures a folder's identity and content fingerprint at a
// point in time. Delete-side snapshots are best-effort: the directory is
// unreadable once deleted, so content fields are zero unless a prior
// snapshot was supplied.
type FolderSnapshot struct {
	Path           string
	Name           string
	ParentPath     string
	Timestamp      time.Time
	FileCount      int
	Children       []string // immediate children basenames, sorted
	TotalSize      int64
	ContentHash    string // hash over the sorted children list
	RemoteFolderID string
}

// FolderClassification is the detector's verdict for one folder event.
type FolderClassification struct {
	Operation  FolderOp
	OldPath    string
	NewPath    string
	OldName    string
	NewName    string
	DetectedAt time.Time
}

// DetectorConfig carries the detector's timing knobs. Zero values select
// the defaults.
type DetectorConfig struct {
	DetectionWindow time.Duration // how long a delete stays pending (default 2s)
	RecentOpTTL     time.Duration // how long classifications are cached (default 10s)
	SweepInterval   time.Duration // stale-pending sweep cadence (default 60s)
}

func (c DetectorConfig) withDefaults() DetectorConfig {
	if c.DetectionWindow <= 0 {
		c.DetectionWindow = 2 * time.Second
	}
	if c.RecentOpTTL <= 0 {
		c.RecentOpTTL = 10 * time.Second
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
	return c
}

type pendingDelete struct {
	snapshot FolderSnapshot
	timer    *time.Timer
}

type recentOperation struct {
	classification FolderClassification
	expiresAt      time.Time
}

// FolderOperationDetector disambiguates folder delete+add event pairs into
// rename, move, rename-and-move, genuine delete or genuine new.
//
// A delete arms a timer for the detection window; an add within the window
// is compared against every pending delete and the first non-"new" match
// wins (first-match, not best-match: when two pending deletes both
// plausibly match one add, iteration order decides). A delete whose timer
// fires unchallenged is confirmed via the confirm callback, the only point
// at which the engine commits to the folder being gone. A background sweep
// force-confirms pending deletes older than twice the window in case the
// timer or the matching add was lost.
//
// All timers are owned by the instance and cancelled by Close.
type FolderOperationDetector struct {
	cfg    DetectorConfig
	clock  Clock
	logger Logger

	// confirm is invoked with the original snapshot when a delete is
	// confirmed as genuine.
	confirm func(FolderSnapshot)

	// prior, when set, supplies a pre-delete snapshot (e.g. from the folder
	// topology cache) so content comparison can work across a delete.
	prior func(path string) (FolderSnapshot, bool)

	mu      sync.Mutex
	pending map[string]*pendingDelete
	recent  map[string]recentOperation

	sweepDone chan struct{}
	sweepWG   sync.WaitGroup
	closed    bool
}

// NewFolderOperationDetector creates a detector and starts its sweep loop.
// confirm may be nil; prior may be nil.
func NewFolderOperationDetector(cfg DetectorConfig, clock Clock, logger Logger, confirm func(FolderSnapshot), prior func(string) (FolderSnapshot, bool)) *FolderOperationDetector {
	if clock == nil {
		clock = RealClock{}
	}
	if logger == nil {
		logger = NewNopLogger()
	}
	d := &FolderOperationDetector{
		cfg:       cfg.withDefaults(),
		clock:     clock,
		logger:    logger,
		confirm:   confirm,
		prior:     prior,
		pending:   make(map[string]*pendingDelete),
		recent:    make(map[string]recentOperation),
		sweepDone: make(chan struct{}),
	}

	d.sweepWG.Add(1)
	go d.sweepLoop()

	return d
}

// HandleFolderRemoved registers a delete event for path. Any existing
// pending delete for the same path is replaced and its timer cancelled.
func (d *FolderOperationDetector) HandleFolderRemoved(path string) {
	snapshot := d.snapshotForDelete(path)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}

	if existing, ok := d.pending[path]; ok {
		existing.timer.Stop()
	}

	pd := &pendingDelete{snapshot: snapshot}
	pd.timer = time.AfterFunc(d.cfg.DetectionWindow, func() {
		d.confirmDelete(path)
	})
	d.pending[path] = pd

	d.logger.Debug("folder delete pending", "path", path, "window", d.cfg.DetectionWindow)
}

// HandleFolderAdded registers an add event for path and returns its
// classification. If the add matches a pending delete, that delete's timer
// is cancelled and its entry removed; at most one pending delete is
// consumed per add.
func (d *FolderOperationDetector) HandleFolderAdded(path string) FolderClassification {
	newSnap := snapshotFolder(path, d.clock.Now())

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock.Now()
	for oldPath, pd := range d.pending {
		op := classifyPair(pd.snapshot, newSnap)
		if op == FolderOpNew {
			continue
		}

		pd.timer.Stop()
		delete(d.pending, oldPath)

		c := FolderClassification{
			Operation:  op,
			OldPath:    oldPath,
			NewPath:    path,
			OldName:    pd.snapshot.Name,
			NewName:    newSnap.Name,
			DetectedAt: now,
		}
		d.cacheLocked(c)
		d.logger.Info("folder operation detected", "op", string(op), "old", oldPath, "new", path)
		return c
	}

	c := FolderClassification{
		Operation:  FolderOpNew,
		NewPath:    path,
		NewName:    newSnap.Name,
		DetectedAt: now,
	}
	d.cacheLocked(c)
	return c
}

// RecentOperation returns the cached classification for path, if one was
// produced within the TTL. Both the old and new path of a classification
// resolve to it, so duplicate downstream consumers get a consistent answer.
func (d *FolderOperationDetector) RecentOperation(path string) (FolderClassification, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	entry, ok := d.recent[path]
	if !ok {
		return FolderClassification{}, false
	}
	if d.clock.Now().After(entry.expiresAt) {
		delete(d.recent, path)
		return FolderClassification{}, false
	}
	return entry.classification, true
}

// PendingDeleteCount reports how many deletes are awaiting confirmation.
func (d *FolderOperationDetector) PendingDeleteCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Close cancels all pending timers and stops the sweep loop. Pending
// deletes are dropped without confirmation.
func (d *FolderOperationDetector) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for path, pd := range d.pending {
		pd.timer.Stop()
		delete(d.pending, path)
	}
	d.mu.Unlock()

	close(d.sweepDone)
	d.sweepWG.Wait()
}

// confirmDelete finalizes a pending delete: the detection window elapsed
// with no matching add.
func (d *FolderOperationDetector) confirmDelete(path string) {
	d.mu.Lock()
	pd, ok := d.pending[path]
	if !ok || d.closed {
		d.mu.Unlock()
		return
	}
	delete(d.pending, path)

	c := FolderClassification{
		Operation:  FolderOpDelete,
		OldPath:    path,
		OldName:    pd.snapshot.Name,
		DetectedAt: d.clock.Now(),
	}
	d.cacheLocked(c)
	snapshot := pd.snapshot
	d.mu.Unlock()

	d.logger.Info("folder delete confirmed", "path", path)
	if d.confirm != nil {
		d.confirm(snapshot)
	}
}

// sweepLoop force-confirms pending deletes older than twice the detection
// window, guarding against a dropped add event leaving a delete pending
// forever.
func (d *FolderOperationDetector) sweepLoop() {
	defer d.sweepWG.Done()

	ticker := time.NewTicker(d.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.sweepStale()
		case <-d.sweepDone:
			return
		}
	}
}

func (d *FolderOperationDetector) sweepStale() {
	cutoff := d.clock.Now().Add(-2 * d.cfg.DetectionWindow)

	d.mu.Lock()
	var stale []string
	for path, pd := range d.pending {
		if pd.snapshot.Timestamp.Before(cutoff) {
			stale = append(stale, path)
		}
	}
	d.mu.Unlock()

	for _, path := range stale {
		d.logger.Warn("force-confirming stale pending delete", "path", path)
		d.confirmDelete(path)
	}
}

// cacheLocked stores a classification under both of its paths.
// Caller holds d.mu.
func (d *FolderOperationDetector) cacheLocked(c FolderClassification) {
	entry := recentOperation{
		classification: c,
		expiresAt:      d.clock.Now().Add(d.cfg.RecentOpTTL),
	}
	if c.OldPath != "" {
		d.recent[c.OldPath] = entry
	}
	if c.NewPath != "" {
		d.recent[c.NewPath] = entry
	}
}

// snapshotForDelete builds the best snapshot available for a just-deleted
// folder: the prior-snapshot source if configured, otherwise identity-only
// fields derived from the path.
func (d *FolderOperationDetector) snapshotForDelete(path string) FolderSnapshot {
	if d.prior != nil {
		if snap, ok := d.prior(path); ok {
			snap.Timestamp = d.clock.Now()
			return snap
		}
	}
	return FolderSnapshot{
		Path:       path,
		Name:       filepath.Base(path),
		ParentPath: filepath.Dir(path),
		Timestamp:  d.clock.Now(),
	}
}

// snapshotFolder builds a full content snapshot for an existing folder:
// sorted immediate children, file count, total size and a fingerprint over
// the sorted children list. Unreadable directories degrade to identity-only.
func snapshotFolder(path string, now time.Time) FolderSnapshot {
	snap := FolderSnapshot{
		Path:       path,
		Name:       filepath.Base(path),
		ParentPath: filepath.Dir(path),
		Timestamp:  now,
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return snap
	}

	children := make([]string, 0, len(entries))
	for _, e := range entries {
		children = append(children, e.Name())
		if info, err := e.Info(); err == nil && !e.IsDir() {
			snap.FileCount++
			snap.TotalSize += info.Size()
		}
	}
	sort.Strings(children)
	snap.Children = children
	snap.ContentHash = hashChildren(children)
	return snap
}

// hashChildren fingerprints a sorted children list.
func hashChildren(children []string) string {
	if len(children) == 0 {
		return ""
	}
	h := sha256.Sum256([]byte(strings.Join(children, "\x00")))
	return hex.EncodeToString(h[:])
}

// classifyPair applies the classification rule to an old (deleted) and new
// (added) snapshot:
//
//	same parent + different name            -> rename
//	different parent + same name            -> move
//	different parent + different name       -> rename_and_move, but only if
//	    the content hashes match or the children-set similarity exceeds the
//	    threshold; otherwise new
//
// Same parent + same name never reaches this comparison: it would not have
// produced two distinct events.
func classifyPair(old, new FolderSnapshot) FolderOp {
	sameParent := old.ParentPath == new.ParentPath
	sameName := old.Name == new.Name

	switch {
	case sameParent && !sameName:
		return FolderOpRename
	case !sameParent && sameName:
		return FolderOpMove
	case !sameParent && !sameName:
		if old.ContentHash != "" && old.ContentHash == new.ContentHash {
			return FolderOpRenameAndMove
		}
		if childrenSimilarity(old.Children, new.Children) > similarityThreshold {
			return FolderOpRenameAndMove
		}
		return FolderOpNew
	default:
		return FolderOpNew
	}
}

// childrenSimilarity is a Dice-style overlap score in percent:
// 2*|intersection| / (|a|+|b|) * 100.
func childrenSimilarity(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	set := make(map[string]bool, len(a))
	for _, name := range a {
		set[name] = true
	}
	intersection := 0
	for _, name := range b {
		if set[name] {
			intersection++
		}
	}
	return 200 * float64(intersection) / float64(len(a)+len(b))
}
