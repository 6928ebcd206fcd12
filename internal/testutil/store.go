package testutil

import (
	"testing"
	"time"

	"ardrive-sync/internal/database"
	"ardrive-sync/internal/engine"
	"ardrive-sync/internal/model"
)

// NewTestStore creates an in-memory SQLite store with all migrations
// applied. The store is automatically closed when the test completes.
func NewTestStore(t *testing.T) engine.Store {
	t.Helper()

	store, err := database.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

// NewTestMapping creates and stores a drive mapping for tests.
func NewTestMapping(t *testing.T, store engine.Store, id, localRoot string) *model.DriveMapping {
	t.Helper()

	m := &model.DriveMapping{
		ID:              id,
		RemoteDriveID:   "drive-" + id,
		DriveName:       "test drive " + id,
		Privacy:         model.PrivacyPublic,
		LocalFolderPath: localRoot,
		IsActive:        true,
		Settings: model.SyncSettings{
			Direction: model.DirectionBidirectional,
		},
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := store.CreateDriveMapping(m); err != nil {
		t.Fatalf("failed to create drive mapping: %v", err)
	}
	return m
}
