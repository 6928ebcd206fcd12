package engine_test

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"ardrive-sync/internal/engine"
	"ardrive-sync/internal/testutil"
)

// testWindow keeps detection tests fast without racing the real timers.
const testWindow = 50 * time.Millisecond

func newTestDetector(t *testing.T, confirm func(engine.FolderSnapshot), prior func(string) (engine.FolderSnapshot, bool)) *engine.FolderOperationDetector {
	t.Helper()
	d := engine.NewFolderOperationDetector(engine.DetectorConfig{
		DetectionWindow: testWindow,
		RecentOpTTL:     time.Second,
	}, nil, nil, confirm, prior)
	t.Cleanup(d.Close)
	return d
}

func makeFolder(t *testing.T, parent, name string, files ...string) string {
	t.Helper()
	path := filepath.Join(parent, name)
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatalf("creating folder: %v", err)
	}
	for _, f := range files {
		if err := os.WriteFile(filepath.Join(path, f), []byte(f), 0o644); err != nil {
			t.Fatalf("creating file: %v", err)
		}
	}
	return path
}

func TestFolderOperationDetector_Classification(t *testing.T) {
	t.Run("same parent different name is a rename", func(t *testing.T) {
		root := t.TempDir()
		d := newTestDetector(t, nil, nil)

		d.HandleFolderRemoved(filepath.Join(root, "photos"))
		newPath := makeFolder(t, root, "pictures", "a.jpg")

		c := d.HandleFolderAdded(newPath)
		if c.Operation != engine.FolderOpRename {
			t.Errorf("Operation = %s, want %s", c.Operation, engine.FolderOpRename)
		}
		if c.OldName != "photos" || c.NewName != "pictures" {
			t.Errorf("names = %s -> %s, want photos -> pictures", c.OldName, c.NewName)
		}
		if d.PendingDeleteCount() != 0 {
			t.Error("pending delete was not consumed by the matching add")
		}
	})

	t.Run("different parent same name is a move", func(t *testing.T) {
		root := t.TempDir()
		makeFolder(t, root, "archive")
		d := newTestDetector(t, nil, nil)

		d.HandleFolderRemoved(filepath.Join(root, "photos"))
		newPath := makeFolder(t, filepath.Join(root, "archive"), "photos")

		c := d.HandleFolderAdded(newPath)
		if c.Operation != engine.FolderOpMove {
			t.Errorf("Operation = %s, want %s", c.Operation, engine.FolderOpMove)
		}
	})

	t.Run("different parent and name needs content evidence", func(t *testing.T) {
		root := t.TempDir()
		makeFolder(t, root, "archive")
		d := newTestDetector(t, nil, nil)

		d.HandleFolderRemoved(filepath.Join(root, "photos"))
		newPath := makeFolder(t, filepath.Join(root, "archive"), "pictures", "a.jpg")

		// No prior snapshot, so the delete side has no content; the pair
		// cannot be distinguished from a genuinely new folder.
		c := d.HandleFolderAdded(newPath)
		if c.Operation != engine.FolderOpNew {
			t.Errorf("Operation = %s, want %s", c.Operation, engine.FolderOpNew)
		}
	})

	t.Run("matching content hash upgrades to rename_and_move", func(t *testing.T) {
		root := t.TempDir()
		makeFolder(t, root, "archive")
		oldPath := filepath.Join(root, "photos")
		newPath := makeFolder(t, filepath.Join(root, "archive"), "pictures", "a.jpg", "b.jpg")

		prior := func(path string) (engine.FolderSnapshot, bool) {
			if path != oldPath {
				return engine.FolderSnapshot{}, false
			}
			// What the topology cache knew about the folder before it went away.
			snap := engine.FolderSnapshot{
				Path:       oldPath,
				Name:       "photos",
				ParentPath: root,
				Children:   []string{"a.jpg", "b.jpg"},
			}
			snap.ContentHash = childrenHash("a.jpg", "b.jpg")
			return snap, true
		}
		d := newTestDetector(t, nil, prior)

		d.HandleFolderRemoved(oldPath)
		c := d.HandleFolderAdded(newPath)
		if c.Operation != engine.FolderOpRenameAndMove {
			t.Errorf("Operation = %s, want %s", c.Operation, engine.FolderOpRenameAndMove)
		}
	})

	t.Run("high children overlap upgrades to rename_and_move", func(t *testing.T) {
		root := t.TempDir()
		makeFolder(t, root, "archive")
		oldPath := filepath.Join(root, "photos")
		// 9 of 10 children shared: similarity 2*9/20 = 90%.
		newPath := makeFolder(t, filepath.Join(root, "archive"), "pictures",
			"a", "b", "c", "d", "e", "f", "g", "h", "i", "extra")

		prior := func(path string) (engine.FolderSnapshot, bool) {
			return engine.FolderSnapshot{
				Path:        oldPath,
				Name:        "photos",
				ParentPath:  root,
				Children:    []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"},
				ContentHash: "stale-hash-that-will-not-match",
			}, path == oldPath
		}
		d := newTestDetector(t, nil, prior)

		d.HandleFolderRemoved(oldPath)
		c := d.HandleFolderAdded(newPath)
		if c.Operation != engine.FolderOpRenameAndMove {
			t.Errorf("Operation = %s, want %s", c.Operation, engine.FolderOpRenameAndMove)
		}
	})

	t.Run("add with no pending delete is new", func(t *testing.T) {
		root := t.TempDir()
		d := newTestDetector(t, nil, nil)

		c := d.HandleFolderAdded(makeFolder(t, root, "fresh"))
		if c.Operation != engine.FolderOpNew {
			t.Errorf("Operation = %s, want %s", c.Operation, engine.FolderOpNew)
		}
	})
}

// childrenHash mirrors the snapshot fingerprint: SHA-256 over the sorted
// children joined with NUL.
func childrenHash(children ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(children, "\x00")))
	return hex.EncodeToString(sum[:])
}

func TestFolderOperationDetector_DeleteConfirmation(t *testing.T) {
	t.Run("unchallenged delete is confirmed once after the window", func(t *testing.T) {
		root := t.TempDir()

		var mu sync.Mutex
		var confirmed []engine.FolderSnapshot
		confirm := func(s engine.FolderSnapshot) {
			mu.Lock()
			confirmed = append(confirmed, s)
			mu.Unlock()
		}
		d := newTestDetector(t, confirm, nil)

		path := filepath.Join(root, "photos")
		d.HandleFolderRemoved(path)

		if d.PendingDeleteCount() != 1 {
			t.Fatalf("PendingDeleteCount() = %d, want 1", d.PendingDeleteCount())
		}

		time.Sleep(4 * testWindow)

		mu.Lock()
		defer mu.Unlock()
		if len(confirmed) != 1 {
			t.Fatalf("confirm called %d times, want 1", len(confirmed))
		}
		if confirmed[0].Path != path {
			t.Errorf("confirmed path = %s, want %s", confirmed[0].Path, path)
		}
		if d.PendingDeleteCount() != 0 {
			t.Error("PendingDeleteCount() != 0 after confirmation")
		}
	})

	t.Run("matching add inside the window cancels confirmation", func(t *testing.T) {
		root := t.TempDir()

		var mu sync.Mutex
		calls := 0
		d := newTestDetector(t, func(engine.FolderSnapshot) {
			mu.Lock()
			calls++
			mu.Unlock()
		}, nil)

		d.HandleFolderRemoved(filepath.Join(root, "photos"))
		d.HandleFolderAdded(makeFolder(t, root, "pictures"))

		time.Sleep(4 * testWindow)

		mu.Lock()
		defer mu.Unlock()
		if calls != 0 {
			t.Errorf("confirm called %d times after a matching add, want 0", calls)
		}
	})

	t.Run("repeated delete of the same path replaces the pending entry", func(t *testing.T) {
		root := t.TempDir()
		d := newTestDetector(t, nil, nil)

		path := filepath.Join(root, "photos")
		d.HandleFolderRemoved(path)
		d.HandleFolderRemoved(path)

		if d.PendingDeleteCount() != 1 {
			t.Errorf("PendingDeleteCount() = %d, want 1", d.PendingDeleteCount())
		}
	})

	t.Run("close drops pending deletes without confirming", func(t *testing.T) {
		root := t.TempDir()

		var mu sync.Mutex
		calls := 0
		d := engine.NewFolderOperationDetector(engine.DetectorConfig{DetectionWindow: testWindow}, nil, nil,
			func(engine.FolderSnapshot) {
				mu.Lock()
				calls++
				mu.Unlock()
			}, nil)

		d.HandleFolderRemoved(filepath.Join(root, "photos"))
		d.Close()

		time.Sleep(4 * testWindow)

		mu.Lock()
		defer mu.Unlock()
		if calls != 0 {
			t.Errorf("confirm called %d times after Close, want 0", calls)
		}
	})
}

func TestFolderOperationDetector_StaleSweep(t *testing.T) {
	root := t.TempDir()

	// An hour-long window keeps the per-delete timer out of the picture;
	// only the sweep can confirm. The stub clock controls staleness.
	clock := testutil.FixedClock()

	var mu sync.Mutex
	var confirmed []engine.FolderSnapshot
	d := engine.NewFolderOperationDetector(engine.DetectorConfig{
		DetectionWindow: time.Hour,
		SweepInterval:   10 * time.Millisecond,
	}, clock, nil,
		func(s engine.FolderSnapshot) {
			mu.Lock()
			confirmed = append(confirmed, s)
			mu.Unlock()
		}, nil)
	t.Cleanup(d.Close)

	path := filepath.Join(root, "photos")
	d.HandleFolderRemoved(path)

	// A fresh pending delete survives several sweep cycles untouched.
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	if len(confirmed) != 0 {
		mu.Unlock()
		t.Fatalf("confirm called %d times before the delete went stale, want 0", len(confirmed))
	}
	mu.Unlock()
	if d.PendingDeleteCount() != 1 {
		t.Fatalf("PendingDeleteCount() = %d, want 1", d.PendingDeleteCount())
	}

	// Past twice the window the delete counts as lost and the next sweep
	// must force-confirm it.
	clock.Advance(3 * time.Hour)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(confirmed)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Give further sweeps a chance to double-confirm before asserting.
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(confirmed) != 1 {
		t.Fatalf("confirm called %d times, want exactly 1", len(confirmed))
	}
	if confirmed[0].Path != path {
		t.Errorf("confirmed path = %s, want %s", confirmed[0].Path, path)
	}
	if d.PendingDeleteCount() != 0 {
		t.Error("PendingDeleteCount() != 0 after the sweep")
	}
}

func TestFolderOperationDetector_RecentOperation(t *testing.T) {
	t.Run("classification is cached under both paths", func(t *testing.T) {
		root := t.TempDir()
		d := newTestDetector(t, nil, nil)

		oldPath := filepath.Join(root, "photos")
		d.HandleFolderRemoved(oldPath)
		newPath := makeFolder(t, root, "pictures")
		d.HandleFolderAdded(newPath)

		for _, path := range []string{oldPath, newPath} {
			c, ok := d.RecentOperation(path)
			if !ok {
				t.Fatalf("RecentOperation(%s) not found", path)
			}
			if c.Operation != engine.FolderOpRename {
				t.Errorf("RecentOperation(%s) op = %s, want %s", path, c.Operation, engine.FolderOpRename)
			}
		}
	})

	t.Run("cache entries expire after the TTL", func(t *testing.T) {
		root := t.TempDir()
		d := engine.NewFolderOperationDetector(engine.DetectorConfig{
			DetectionWindow: testWindow,
			RecentOpTTL:     10 * time.Millisecond,
		}, nil, nil, nil, nil)
		t.Cleanup(d.Close)

		path := makeFolder(t, root, "fresh")
		d.HandleFolderAdded(path)

		time.Sleep(30 * time.Millisecond)

		if _, ok := d.RecentOperation(path); ok {
			t.Error("RecentOperation() found an entry past its TTL")
		}
	})

	t.Run("unknown path reports no operation", func(t *testing.T) {
		d := newTestDetector(t, nil, nil)
		if _, ok := d.RecentOperation("/never/seen"); ok {
			t.Error("RecentOperation() = true for unknown path")
		}
	})
}
