package remote

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"ardrive-sync/internal/engine"
)

// FileSystemGateway stores transactions as files under a root directory:
//
//	<root>/
//	  data/
//	    <txID>        (content, named by SHA-256)
//	  metadata/
//	    <txID>.json   (entry metadata)
//
// It exists for local development and tests that want persistence without
// network access.
type FileSystemGateway struct {
	root        string
	dataDir     string
	metadataDir string
}

// NewFileSystemGateway creates a gateway rooted at the given path.
func NewFileSystemGateway(root string) (*FileSystemGateway, error) {
	dataDir := filepath.Join(root, "data")
	metadataDir := filepath.Join(root, "metadata")

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := os.MkdirAll(metadataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create metadata directory: %w", err)
	}

	return &FileSystemGateway{
		root:        root,
		dataDir:     dataDir,
		metadataDir: metadataDir,
	}, nil
}

func (g *FileSystemGateway) UploadFile(ctx context.Context, localPath, parentRemoteFolderID string) (string, string, error) {
	dataTxID, size, err := hashLocalFile(localPath)
	if err != nil {
		return "", "", err
	}

	destPath := filepath.Join(g.dataDir, dataTxID)
	// Content already stored under this ID means the bytes are identical;
	// skip the copy.
	if _, err := os.Stat(destPath); os.IsNotExist(err) {
		if err := g.copyFile(localPath, destPath); err != nil {
			return "", "", err
		}
	} else if err != nil {
		return "", "", fmt.Errorf("checking existing transaction: %w", err)
	}

	meta := EntryMetadata{
		Name:           filepath.Base(localPath),
		EntryType:      "file",
		ParentFolderID: parentRemoteFolderID,
		DataTxID:       dataTxID,
		Size:           size,
		CreatedAt:      time.Now(),
	}
	metaTxID, err := g.writeMetadata(meta)
	if err != nil {
		return "", "", err
	}

	return dataTxID, metaTxID, nil
}

func (g *FileSystemGateway) CreateFolder(ctx context.Context, name, parentRemoteFolderID string) (string, error) {
	return g.writeMetadata(EntryMetadata{
		Name:           name,
		EntryType:      "folder",
		ParentFolderID: parentRemoteFolderID,
		CreatedAt:      time.Now(),
	})
}

func (g *FileSystemGateway) DownloadFile(ctx context.Context, remoteDataTxID, destPath string) error {
	srcPath := filepath.Join(g.dataDir, remoteDataTxID)
	src, err := os.Open(srcPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("transaction not found: %s", remoteDataTxID)
		}
		return fmt.Errorf("opening transaction: %w", err)
	}
	defer src.Close()

	dest, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("creating %s: %w", destPath, err)
	}
	defer dest.Close()

	if _, err := io.Copy(dest, src); err != nil {
		return fmt.Errorf("writing %s: %w", destPath, err)
	}
	return nil
}

// writeMetadata stores the entry under its derived transaction ID.
// Existing transactions are left untouched.
func (g *FileSystemGateway) writeMetadata(meta EntryMetadata) (string, error) {
	metaTxID := metadataTxID(meta)
	destPath := filepath.Join(g.metadataDir, metaTxID+".json")

	if _, err := os.Stat(destPath); err == nil {
		return metaTxID, nil
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("checking existing metadata: %w", err)
	}

	encoded, err := encodeMetadata(meta)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(destPath, encoded, 0o644); err != nil {
		return "", fmt.Errorf("writing metadata transaction: %w", err)
	}
	return metaTxID, nil
}

// copyFile writes src to destPath via a temp file and rename so partially
// written content never appears under a transaction ID.
func (g *FileSystemGateway) copyFile(src, destPath string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer in.Close()

	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := io.Copy(tmpFile, in); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	success = true
	return nil
}

// Compile-time check that FileSystemGateway implements engine.RemoteStorage.
var _ engine.RemoteStorage = (*FileSystemGateway)(nil)
