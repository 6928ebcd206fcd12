// Package remote implements storage gateways for the content-addressed,
// append-only network the engine uploads to. Transactions are immutable:
// a file upload produces a data transaction (the content, addressed by its
// SHA-256) and a metadata transaction (the entry describing it). Writing
// the same content twice yields the same transaction IDs, so retries and
// re-uploads are idempotent.
package remote

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// EntryMetadata is the payload of a metadata transaction.
type EntryMetadata struct {
	Name           string    `json:"name"`
	EntryType      string    `json:"entryType"` // "file" or "folder"
	ParentFolderID string    `json:"parentFolderId,omitempty"`
	DataTxID       string    `json:"dataTxId,omitempty"`
	Size           int64     `json:"size,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// hashReader returns the hex SHA-256 of everything read from r and the
// number of bytes read.
func hashReader(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// hashLocalFile returns the hex SHA-256 of the file at path and its size.
func hashLocalFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	return hashReader(f)
}

// metadataTxID derives the metadata transaction ID from the entry itself.
// Two identical entries produce the same ID, which is what makes gateway
// writes idempotent. CreatedAt is excluded from the derivation for the
// same reason.
func metadataTxID(meta EntryMetadata) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s\x00%d",
		meta.Name, meta.EntryType, meta.ParentFolderID, meta.DataTxID, meta.Size)
	return hex.EncodeToString(h.Sum(nil))
}

func encodeMetadata(meta EntryMetadata) ([]byte, error) {
	data, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encoding entry metadata: %w", err)
	}
	return data, nil
}
