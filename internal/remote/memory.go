package remote

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"ardrive-sync/internal/engine"
)

// MemoryGateway is an in-memory implementation of the engine.RemoteStorage
// interface, useful for testing. It is safe for concurrent use.
type MemoryGateway struct {
	data     map[string][]byte // data tx ID -> content
	metadata map[string][]byte // metadata tx ID -> encoded EntryMetadata
	mu       sync.RWMutex
}

// NewMemoryGateway creates an empty in-memory gateway.
func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{
		data:     make(map[string][]byte),
		metadata: make(map[string][]byte),
	}
}

func (g *MemoryGateway) UploadFile(ctx context.Context, localPath, parentRemoteFolderID string) (string, string, error) {
	content, err := os.ReadFile(localPath)
	if err != nil {
		return "", "", fmt.Errorf("reading %s: %w", localPath, err)
	}

	dataTxID, _, err := hashReader(bytes.NewReader(content))
	if err != nil {
		return "", "", err
	}

	meta := EntryMetadata{
		Name:           filepath.Base(localPath),
		EntryType:      "file",
		ParentFolderID: parentRemoteFolderID,
		DataTxID:       dataTxID,
		Size:           int64(len(content)),
		CreatedAt:      time.Now(),
	}
	metaTxID := metadataTxID(meta)
	encoded, err := encodeMetadata(meta)
	if err != nil {
		return "", "", err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	// Transactions are immutable; re-storing the same ID is a no-op.
	g.data[dataTxID] = content
	g.metadata[metaTxID] = encoded
	return dataTxID, metaTxID, nil
}

func (g *MemoryGateway) CreateFolder(ctx context.Context, name, parentRemoteFolderID string) (string, error) {
	meta := EntryMetadata{
		Name:           name,
		EntryType:      "folder",
		ParentFolderID: parentRemoteFolderID,
		CreatedAt:      time.Now(),
	}
	metaTxID := metadataTxID(meta)
	encoded, err := encodeMetadata(meta)
	if err != nil {
		return "", err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.metadata[metaTxID] = encoded
	return metaTxID, nil
}

func (g *MemoryGateway) DownloadFile(ctx context.Context, remoteDataTxID, destPath string) error {
	g.mu.RLock()
	content, ok := g.data[remoteDataTxID]
	g.mu.RUnlock()
	if !ok {
		return fmt.Errorf("transaction not found: %s", remoteDataTxID)
	}

	if err := os.WriteFile(destPath, content, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", destPath, err)
	}
	return nil
}

// Metadata returns a stored metadata transaction payload, or nil.
func (g *MemoryGateway) Metadata(txID string) []byte {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.metadata[txID]
}

// Compile-time check that MemoryGateway implements engine.RemoteStorage.
var _ engine.RemoteStorage = (*MemoryGateway)(nil)
