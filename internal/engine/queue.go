package engine

import (
	"context"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"ardrive-sync/internal/model"
)

const defaultTickInterval = time.Second

// UploadItem is one unit of live queue work. The queue map is independent
// of the durable store: the store is for history and UI queries, this is
// the work queue.
type UploadItem struct {
	ID             string
	MappingID      string
	LocalPath      string
	FileName       string
	FileSize       int64
	ParentFolderID string // remote folder the item is created under
	Status         model.TransferStatus
	Error          string
	Attempts       int
	NextAttemptAt  time.Time
	EnqueuedAt     time.Time
}

// isFolder reports whether the item represents a folder creation rather
// than a file upload: zero size and a path whose basename is the item name.
func (it *UploadItem) isFolder() bool {
	return it.FileSize == 0 && filepath.Base(it.LocalPath) == it.FileName
}

// UploadResult carries the receipt from the remote storage collaborator.
type UploadResult struct {
	DataTxID     string
	MetadataTxID string
}

// UploadFunc hands an item to the external upload collaborator. It must
// not be called for more than one item at a time per queue instance.
type UploadFunc func(ctx context.Context, item UploadItem) (*UploadResult, error)

// QueueConfig carries the queue's tunables. Zero values select defaults.
type QueueConfig struct {
	TickInterval time.Duration // processing cadence (default 1s)
	MaxRetries   int           // per-item retry budget (default from policy)
}

// UploadQueue holds pending work in memory and processes it one item at a
// time: each tick, if nothing is uploading, the pending items are sorted
// folder-before-file and parent-before-child and exactly the first one is
// handed to the upload collaborator. The next tick cannot start another
// item until that call returns.
type UploadQueue struct {
	cfg    QueueConfig
	policy *RetryPolicy
	clock  Clock
	logger Logger
	events *Broadcaster
	upload UploadFunc

	// onCompleted and onFailed run outside the queue lock after an item
	// reaches a terminal state. The service uses them to write the outcome
	// to the durable store.
	onCompleted func(item UploadItem, res *UploadResult)
	onFailed    func(item UploadItem, cause *SyncError)

	mu        sync.Mutex
	items     map[string]*UploadItem
	uploading string // ID of the in-flight item, or ""

	done   chan struct{}
	wg     sync.WaitGroup
	closed bool
}

// NewUploadQueue creates a queue. upload is required; policy defaults to
// DefaultRetryPolicy; events, onCompleted and onFailed may be nil.
func NewUploadQueue(cfg QueueConfig, upload UploadFunc, policy *RetryPolicy, clock Clock, logger Logger, events *Broadcaster) *UploadQueue {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaultTickInterval
	}
	if policy == nil {
		policy = DefaultRetryPolicy()
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = policy.MaxRetries
	}
	if clock == nil {
		clock = RealClock{}
	}
	if logger == nil {
		logger = NewNopLogger()
	}
	return &UploadQueue{
		cfg:    cfg,
		policy: policy,
		clock:  clock,
		logger: logger,
		events: events,
		upload: upload,
		items:  make(map[string]*UploadItem),
		done:   make(chan struct{}),
	}
}

// SetCompletionHandlers installs the terminal-state hooks. Must be called
// before Start.
func (q *UploadQueue) SetCompletionHandlers(onCompleted func(UploadItem, *UploadResult), onFailed func(UploadItem, *SyncError)) {
	q.onCompleted = onCompleted
	q.onFailed = onFailed
}

// Start launches the processing loop. The loop stops when ctx is done or
// Close is called.
func (q *UploadQueue) Start(ctx context.Context) {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		ticker := time.NewTicker(q.cfg.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				q.processTick(ctx)
			case <-ctx.Done():
				return
			case <-q.done:
				return
			}
		}
	}()
}

// Close stops the processing loop. An in-flight upload call is allowed to
// finish; no new item is started afterwards.
func (q *UploadQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	close(q.done)
	q.wg.Wait()
}

// Add enqueues an item as pending. O(1).
func (q *UploadQueue) Add(item UploadItem) {
	item.Status = model.TransferPending
	if item.EnqueuedAt.IsZero() {
		item.EnqueuedAt = q.clock.Now()
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.items[item.ID] = &item
	q.logger.Debug("upload queued", "id", item.ID, "path", item.LocalPath)
}

// Remove drops an item from the live map regardless of state. O(1).
func (q *UploadQueue) Remove(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.items, id)
}

// Cancel marks a pending item failed with a cancellation message and
// removes it from the live map. Cancelling an item that is already
// uploading is not handled at this layer; that must be negotiated with the
// upload collaborator.
func (q *UploadQueue) Cancel(id string) bool {
	q.mu.Lock()
	item, ok := q.items[id]
	if !ok || item.Status != model.TransferPending {
		q.mu.Unlock()
		return false
	}
	cancelled := *item
	cancelled.Status = model.TransferFailed
	cancelled.Error = "upload cancelled by user"
	delete(q.items, id)
	q.mu.Unlock()

	q.logger.Info("upload cancelled", "id", id, "path", cancelled.LocalPath)
	if q.onFailed != nil {
		q.onFailed(cancelled, NewSyncError(CodeSyncCancelled, nil))
	}
	return true
}

// Retry resets a failed item to pending and clears its error. The item's
// remembered backoff is dropped too, so a failure after a manual retry
// backs off from the initial delay rather than the stale maximum.
func (q *UploadQueue) Retry(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.items[id]
	if !ok || item.Status != model.TransferFailed {
		return false
	}
	item.Status = model.TransferPending
	item.Error = ""
	item.Attempts = 0
	item.NextAttemptAt = time.Time{}
	q.policy.ResetRetryDelay(id)
	return true
}

// ClearCompleted purges terminal successes from the live map. Their
// durable records remain in the store.
func (q *UploadQueue) ClearCompleted() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	cleared := 0
	for id, item := range q.items {
		if item.Status == model.TransferCompleted {
			delete(q.items, id)
			cleared++
		}
	}
	return cleared
}

// Items returns a snapshot of the live map.
func (q *UploadQueue) Items() []UploadItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]UploadItem, 0, len(q.items))
	for _, item := range q.items {
		out = append(out, *item)
	}
	return out
}

// Item returns a snapshot of one item.
func (q *UploadQueue) Item(id string) (UploadItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.items[id]
	if !ok {
		return UploadItem{}, false
	}
	return *item, true
}

// processTick runs one scheduling round: pick the first sorted ready item
// and upload it, synchronously, so at most one item is in flight.
func (q *UploadQueue) processTick(ctx context.Context) {
	q.mu.Lock()
	if q.uploading != "" {
		q.mu.Unlock()
		return
	}

	now := q.clock.Now()
	var ready []*UploadItem
	for _, item := range q.items {
		if item.Status == model.TransferPending && !now.Before(item.NextAttemptAt) {
			ready = append(ready, item)
		}
	}
	if len(ready) == 0 {
		q.mu.Unlock()
		return
	}

	SortUploadBatch(ready)
	next := ready[0]
	next.Status = model.TransferUploading
	next.Attempts++
	q.uploading = next.ID
	snapshot := *next
	q.mu.Unlock()

	q.publishProgress(snapshot, 0)
	q.logger.Info("upload started", "id", snapshot.ID, "path", snapshot.LocalPath, "attempt", snapshot.Attempts)

	res, err := q.upload(ctx, snapshot)
	if err != nil {
		q.handleFailure(snapshot, err)
		return
	}
	q.handleSuccess(snapshot, res)
}

func (q *UploadQueue) handleSuccess(snapshot UploadItem, res *UploadResult) {
	q.mu.Lock()
	if item, ok := q.items[snapshot.ID]; ok {
		item.Status = model.TransferCompleted
		item.Error = ""
		snapshot = *item
	}
	q.uploading = ""
	q.mu.Unlock()

	q.policy.ResetRetryDelay(snapshot.ID)
	q.publishProgress(snapshot, 100)
	q.logger.Info("upload completed", "id", snapshot.ID, "path", snapshot.LocalPath)

	if q.onCompleted != nil {
		q.onCompleted(snapshot, res)
	}
}

func (q *UploadQueue) handleFailure(snapshot UploadItem, err error) {
	cause := Classify(err)
	retry := q.policy.ShouldRetry(cause, snapshot.Attempts, q.cfg.MaxRetries)

	q.mu.Lock()
	item, ok := q.items[snapshot.ID]
	if ok {
		if retry {
			item.Status = model.TransferPending
			item.Error = cause.Message
			item.NextAttemptAt = q.clock.Now().Add(q.policy.RetryDelay(item.ID, item.Attempts))
		} else {
			item.Status = model.TransferFailed
			item.Error = cause.UserMessage
		}
		snapshot = *item
	}
	q.uploading = ""
	q.mu.Unlock()

	if retry {
		q.logger.Warn("upload failed, will retry", "id", snapshot.ID, "code", string(cause.Code), "attempt", snapshot.Attempts)
		return
	}

	q.logger.Error("upload failed", "id", snapshot.ID, "code", string(cause.Code), "error", cause.Message)
	if q.onFailed != nil {
		q.onFailed(snapshot, cause)
	}
}

func (q *UploadQueue) publishProgress(item UploadItem, progress int) {
	if q.events == nil {
		return
	}
	q.events.Publish(Event{
		Type:     EventUploadProgress,
		ItemID:   item.ID,
		Path:     item.LocalPath,
		Progress: progress,
		Message:  string(item.Status),
		At:       q.clock.Now(),
	})
}

// SortUploadBatch orders a processing batch in place so that parent
// folders and their metadata exist remotely before children are submitted:
// folders before files; folders by path depth then lexicographically;
// files grouped by parent directory, then by name.
func SortUploadBatch(items []*UploadItem) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		aFolder, bFolder := a.isFolder(), b.isFolder()

		if aFolder != bFolder {
			return aFolder
		}
		if aFolder {
			aDepth := pathDepth(a.LocalPath)
			bDepth := pathDepth(b.LocalPath)
			if aDepth != bDepth {
				return aDepth < bDepth
			}
			return a.LocalPath < b.LocalPath
		}

		aParent := filepath.Dir(a.LocalPath)
		bParent := filepath.Dir(b.LocalPath)
		if aParent != bParent {
			return aParent < bParent
		}
		return a.FileName < b.FileName
	})
}

func pathDepth(path string) int {
	return strings.Count(filepath.ToSlash(filepath.Clean(path)), "/")
}
