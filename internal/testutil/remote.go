package testutil

import (
	"context"
	"fmt"
	"sync"
)

// StubRemote is a scriptable engine.RemoteStorage for tests. By default
// every call succeeds with deterministic transaction IDs; set Err to make
// calls fail.
type StubRemote struct {
	mu sync.Mutex

	// Err, when non-nil, is returned by every call.
	Err error

	uploads   []string // local paths, in call order
	folders   []string // folder names, in call order
	downloads []string // data tx IDs, in call order
}

func NewStubRemote() *StubRemote {
	return &StubRemote{}
}

func (r *StubRemote) UploadFile(ctx context.Context, localPath, parentRemoteFolderID string) (string, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return "", "", r.Err
	}
	r.uploads = append(r.uploads, localPath)
	n := len(r.uploads)
	return fmt.Sprintf("data-tx-%d", n), fmt.Sprintf("meta-tx-%d", n), nil
}

func (r *StubRemote) CreateFolder(ctx context.Context, name, parentRemoteFolderID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return "", r.Err
	}
	r.folders = append(r.folders, name)
	return fmt.Sprintf("folder-tx-%d", len(r.folders)), nil
}

func (r *StubRemote) DownloadFile(ctx context.Context, remoteDataTxID, destPath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.downloads = append(r.downloads, remoteDataTxID)
	return nil
}

// Uploads returns the local paths uploaded so far, in call order.
func (r *StubRemote) Uploads() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.uploads...)
}

// Folders returns the folder names created so far, in call order.
func (r *StubRemote) Folders() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.folders...)
}

// Downloads returns the data transaction IDs downloaded so far.
func (r *StubRemote) Downloads() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.downloads...)
}
