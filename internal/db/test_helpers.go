package db

import (
	"testing"
	"time"
)

// Helper functions for creating pointer values
func floatPtr(f float64) *float64 {
	return &f
}

// newTestDB creates a fully migrated database in a temp directory.
func newTestDB(t *testing.T) *DB {
	t.Helper()

	database, err := NewDB(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("NewDB failed: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

// createTestUser inserts an active user and returns it.
func createTestUser(t *testing.T, database *DB, name, phone string) *User {
	t.Helper()

	u := &User{Name: name, Phone: phone, IsActive: true}
	if err := database.CreateUser(u); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	return u
}

// insertTestLocation inserts a single location and returns it.
func insertTestLocation(t *testing.T, database *DB, userID int64, lat, lon float64, at time.Time, speed *float64) *Location {
	t.Helper()

	loc := &Location{
		UserID:    userID,
		Latitude:  lat,
		Longitude: lon,
		Timestamp: at,
		Speed:     speed,
	}
	if err := database.InsertLocation(loc); err != nil {
		t.Fatalf("InsertLocation failed: %v", err)
	}
	return loc
}
