package db

import (
	"testing"
)

func tableExists(t *testing.T, database *DB, name string) bool {
	t.Helper()

	var count int
	err := database.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&count)
	if err != nil {
		t.Fatalf("Failed to query sqlite_master: %v", err)
	}
	return count > 0
}

func TestMigrateUpCreatesSchema(t *testing.T) {
	database := newTestDB(t)

	for _, table := range []string{"users", "locations", "daily_summaries", "hourly_summaries"} {
		if !tableExists(t, database, table) {
			t.Errorf("expected table %q after migration", table)
		}
	}
}

func TestMigrateVersion(t *testing.T) {
	database := newTestDB(t)

	migrationsFS, err := getMigrationsFS()
	if err != nil {
		t.Fatalf("getMigrationsFS failed: %v", err)
	}

	version, dirty, err := database.MigrateVersion(migrationsFS)
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}
	if dirty {
		t.Error("expected clean migration state")
	}
	if version == 0 {
		t.Error("expected non-zero schema version after NewDB")
	}
}

func TestMigrateUpIdempotent(t *testing.T) {
	database := newTestDB(t)

	migrationsFS, err := getMigrationsFS()
	if err != nil {
		t.Fatalf("getMigrationsFS failed: %v", err)
	}

	// NewDB already migrated; a second MigrateUp is a no-op.
	if err := database.MigrateUp(migrationsFS); err != nil {
		t.Fatalf("second MigrateUp failed: %v", err)
	}
}

func TestMigrateDownDropsSchema(t *testing.T) {
	database := newTestDB(t)

	migrationsFS, err := getMigrationsFS()
	if err != nil {
		t.Fatalf("getMigrationsFS failed: %v", err)
	}

	if err := database.MigrateDown(migrationsFS); err != nil {
		t.Fatalf("MigrateDown failed: %v", err)
	}
	if tableExists(t, database, "locations") {
		t.Error("expected locations table to be dropped")
	}
}
