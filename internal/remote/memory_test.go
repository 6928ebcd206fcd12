package remote

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeLocal(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing local file: %v", err)
	}
	return path
}

func TestMemoryGateway_UploadFile(t *testing.T) {
	t.Run("data transaction ID is the content digest", func(t *testing.T) {
		g := NewMemoryGateway()
		path := writeLocal(t, t.TempDir(), "a.txt", "hello world")

		dataTx, metaTx, err := g.UploadFile(context.Background(), path, "")
		if err != nil {
			t.Fatalf("UploadFile() error = %v", err)
		}

		sum := sha256.Sum256([]byte("hello world"))
		if want := hex.EncodeToString(sum[:]); dataTx != want {
			t.Errorf("dataTx = %s, want %s", dataTx, want)
		}
		if metaTx == "" || metaTx == dataTx {
			t.Errorf("metaTx = %s, want a distinct non-empty ID", metaTx)
		}
	})

	t.Run("metadata payload describes the entry", func(t *testing.T) {
		g := NewMemoryGateway()
		path := writeLocal(t, t.TempDir(), "a.txt", "hello world")

		dataTx, metaTx, err := g.UploadFile(context.Background(), path, "parent-folder-1")
		if err != nil {
			t.Fatalf("UploadFile() error = %v", err)
		}

		var meta EntryMetadata
		if err := json.Unmarshal(g.Metadata(metaTx), &meta); err != nil {
			t.Fatalf("decoding metadata: %v", err)
		}
		if meta.Name != "a.txt" || meta.EntryType != "file" {
			t.Errorf("metadata = %s/%s, want a.txt/file", meta.Name, meta.EntryType)
		}
		if meta.ParentFolderID != "parent-folder-1" {
			t.Errorf("ParentFolderID = %s, want parent-folder-1", meta.ParentFolderID)
		}
		if meta.DataTxID != dataTx {
			t.Errorf("DataTxID = %s, want %s", meta.DataTxID, dataTx)
		}
		if meta.Size != int64(len("hello world")) {
			t.Errorf("Size = %d, want %d", meta.Size, len("hello world"))
		}
	})

	t.Run("re-uploading identical content yields the same transactions", func(t *testing.T) {
		g := NewMemoryGateway()
		dir := t.TempDir()
		a := writeLocal(t, dir, "a.txt", "same bytes")

		dataTx1, metaTx1, err := g.UploadFile(context.Background(), a, "parent")
		if err != nil {
			t.Fatalf("UploadFile() error = %v", err)
		}
		dataTx2, metaTx2, err := g.UploadFile(context.Background(), a, "parent")
		if err != nil {
			t.Fatalf("UploadFile() retry error = %v", err)
		}
		if dataTx1 != dataTx2 || metaTx1 != metaTx2 {
			t.Errorf("retry produced (%s, %s), want (%s, %s)", dataTx2, metaTx2, dataTx1, metaTx1)
		}
	})

	t.Run("same content under a different name is a new metadata entry", func(t *testing.T) {
		g := NewMemoryGateway()
		dir := t.TempDir()
		a := writeLocal(t, dir, "a.txt", "same bytes")
		b := writeLocal(t, dir, "b.txt", "same bytes")

		dataTx1, metaTx1, _ := g.UploadFile(context.Background(), a, "")
		dataTx2, metaTx2, _ := g.UploadFile(context.Background(), b, "")

		if dataTx1 != dataTx2 {
			t.Errorf("data transactions differ for identical content: %s vs %s", dataTx1, dataTx2)
		}
		if metaTx1 == metaTx2 {
			t.Error("metadata transactions collide for differently named entries")
		}
	})

	t.Run("missing local file", func(t *testing.T) {
		g := NewMemoryGateway()
		_, _, err := g.UploadFile(context.Background(), filepath.Join(t.TempDir(), "gone.txt"), "")
		if err == nil {
			t.Error("UploadFile() error = nil for missing file")
		}
	})
}

func TestMemoryGateway_CreateFolder(t *testing.T) {
	g := NewMemoryGateway()

	tx1, err := g.CreateFolder(context.Background(), "photos", "")
	if err != nil {
		t.Fatalf("CreateFolder() error = %v", err)
	}
	tx2, err := g.CreateFolder(context.Background(), "photos", "")
	if err != nil {
		t.Fatalf("CreateFolder() retry error = %v", err)
	}
	if tx1 != tx2 {
		t.Errorf("retry produced %s, want %s", tx2, tx1)
	}

	other, _ := g.CreateFolder(context.Background(), "photos", "some-parent")
	if other == tx1 {
		t.Error("folders under different parents share a transaction ID")
	}
}

func TestMemoryGateway_DownloadFile(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		g := NewMemoryGateway()
		dir := t.TempDir()
		src := writeLocal(t, dir, "a.txt", "round trip payload")

		dataTx, _, err := g.UploadFile(context.Background(), src, "")
		if err != nil {
			t.Fatalf("UploadFile() error = %v", err)
		}

		dest := filepath.Join(dir, "restored.txt")
		if err := g.DownloadFile(context.Background(), dataTx, dest); err != nil {
			t.Fatalf("DownloadFile() error = %v", err)
		}
		got, err := os.ReadFile(dest)
		if err != nil {
			t.Fatalf("reading restored file: %v", err)
		}
		if string(got) != "round trip payload" {
			t.Errorf("restored content = %q, want %q", got, "round trip payload")
		}
	})

	t.Run("unknown transaction", func(t *testing.T) {
		g := NewMemoryGateway()
		err := g.DownloadFile(context.Background(), "no-such-tx", filepath.Join(t.TempDir(), "out"))
		if err == nil {
			t.Fatal("DownloadFile() error = nil for unknown transaction")
		}
		if !strings.Contains(err.Error(), "transaction not found") {
			t.Errorf("error = %v, want transaction not found", err)
		}
	})
}
