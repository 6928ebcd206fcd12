package migrations

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func TestMigrateUp_FreshDatabase(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	tables := []string{
		"drive_mappings", "drive_metadata_cache", "uploads", "downloads",
		"folder_structure", "file_versions", "folder_operations",
		"file_operations", "processed_files", "schema_migrations",
	}
	for _, table := range tables {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("Table %s was not created: %v", table, err)
		}
	}
}

func TestCheckDBMigrationStatus_FreshDatabase(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	err := CheckDBMigrationStatus(db)
	if err == nil {
		t.Error("CheckDBMigrationStatus() expected error for fresh database, got nil")
	}

	if err.Error() != "database has no schema version (needs migration)" {
		t.Errorf("CheckDBMigrationStatus() error = %q, want error about needing migration", err.Error())
	}
}

func TestCheckDBMigrationStatus_AfterMigration(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	if err := CheckDBMigrationStatus(db); err != nil {
		t.Errorf("CheckDBMigrationStatus() after migration returned error: %v", err)
	}
}

func TestMigrateUp_Idempotent(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	if err := MigrateUp(db); err != nil {
		t.Fatalf("First MigrateUp() failed: %v", err)
	}

	if err := MigrateUp(db); err != nil {
		t.Errorf("Second MigrateUp() failed: %v (should be idempotent)", err)
	}

	if err := CheckDBMigrationStatus(db); err != nil {
		t.Errorf("CheckDBMigrationStatus() after double migration returned error: %v", err)
	}
}

func TestForeignKeyConstraints(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	// A metadata row referencing a missing mapping must be rejected.
	_, err := db.Exec(`
		INSERT INTO drive_metadata_cache (file_id, mapping_id, name, path, entry_type)
		VALUES ('f1', 'missing-mapping', 'a.txt', 'a.txt', 'file')
	`)
	if err == nil {
		t.Error("Expected foreign key constraint violation, but insert succeeded")
	}
}

func TestSchema_MappingPairUnique(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	insert := `INSERT INTO drive_mappings
		(id, remote_drive_id, drive_name, privacy, local_folder_path, is_active, created_at, updated_at)
		VALUES (?, 'drive-1', 'drive', 'public', '/home/user/drive', 1, datetime('now'), datetime('now'))`

	if _, err := db.Exec(insert, "m1"); err != nil {
		t.Fatalf("Failed to insert first mapping: %v", err)
	}
	if _, err := db.Exec(insert, "m2"); err == nil {
		t.Error("Expected unique constraint violation for duplicate (remote, local) pair, but insert succeeded")
	}
}

func TestSchema_ProcessedFilesKey(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	if _, err := db.Exec(`INSERT INTO drive_mappings
		(id, remote_drive_id, drive_name, privacy, local_folder_path, is_active, created_at, updated_at)
		VALUES ('m1', 'drive-1', 'drive', 'public', '/a', 1, datetime('now'), datetime('now'))`); err != nil {
		t.Fatalf("Failed to insert mapping: %v", err)
	}

	insert := `INSERT INTO processed_files (mapping_id, local_path, content_hash, processed_at)
		VALUES ('m1', '/a/x.txt', ?, datetime('now'))`

	if _, err := db.Exec(insert, "hash-1"); err != nil {
		t.Fatalf("Failed to insert processed marker: %v", err)
	}
	if _, err := db.Exec(insert, "hash-1"); err == nil {
		t.Error("Expected primary key violation for duplicate marker, but insert succeeded")
	}
	// Same path, different content: a distinct marker.
	if _, err := db.Exec(insert, "hash-2"); err != nil {
		t.Errorf("Insert with new content hash failed: %v", err)
	}
}

// openTestDB opens an in-memory SQLite database for testing.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("Failed to enable foreign keys: %v", err)
	}

	return db
}
