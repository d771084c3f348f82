package db

import (
	"database/sql"
	"fmt"
	"time"
)

// Location is one timestamped GPS observation for a user. Rows are
// immutable once written; only the retention cleanup removes them.
type Location struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
	Speed     *float64  `json:"speed,omitempty"`
	Accuracy  *float64  `json:"accuracy,omitempty"`
}

const locationColumns = "id, user_id, latitude, longitude, timestamp, speed, accuracy"

// InsertLocation persists a single location and sets its ID.
func (db *DB) InsertLocation(loc *Location) error {
	result, err := db.Exec(
		`INSERT INTO locations (user_id, latitude, longitude, timestamp, speed, accuracy)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		loc.UserID, loc.Latitude, loc.Longitude, unixFloat(loc.Timestamp), loc.Speed, loc.Accuracy,
	)
	if err != nil {
		return fmt.Errorf("failed to insert location: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert ID: %w", err)
	}
	loc.ID = id
	return nil
}

// InsertLocations persists a batch of locations in one transaction.
func (db *DB) InsertLocations(locs []Location) error {
	if len(locs) == 0 {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO locations (user_id, latitude, longitude, timestamp, speed, accuracy)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := range locs {
		loc := &locs[i]
		result, err := stmt.Exec(loc.UserID, loc.Latitude, loc.Longitude,
			unixFloat(loc.Timestamp), loc.Speed, loc.Accuracy)
		if err != nil {
			return fmt.Errorf("failed to insert location batch: %w", err)
		}
		if id, err := result.LastInsertId(); err == nil {
			loc.ID = id
		}
	}

	return tx.Commit()
}

// LatestLocationForUser returns the most recent location for a user by
// timestamp, or nil when the user has no locations.
func (db *DB) LatestLocationForUser(userID int64) (*Location, error) {
	row := db.QueryRow(
		`SELECT `+locationColumns+` FROM locations
		 WHERE user_id = ? ORDER BY timestamp DESC LIMIT 1`, userID)

	loc, err := scanLocation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest location: %w", err)
	}
	return loc, nil
}

// LocationsInRange returns a user's locations with timestamp in
// [start, end), ordered ascending by timestamp.
func (db *DB) LocationsInRange(userID int64, start, end time.Time) ([]Location, error) {
	rows, err := db.Query(
		`SELECT `+locationColumns+` FROM locations
		 WHERE user_id = ? AND timestamp >= ? AND timestamp < ?
		 ORDER BY timestamp ASC`,
		userID, unixFloat(start), unixFloat(end))
	if err != nil {
		return nil, fmt.Errorf("failed to query locations in range: %w", err)
	}
	defer rows.Close()

	return collectLocations(rows)
}

// RecentLocationsForUser returns a user's most recent locations,
// newest first.
func (db *DB) RecentLocationsForUser(userID int64, limit int) ([]Location, error) {
	rows, err := db.Query(
		`SELECT `+locationColumns+` FROM locations
		 WHERE user_id = ? ORDER BY timestamp DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent locations: %w", err)
	}
	defer rows.Close()

	return collectLocations(rows)
}

// LatestLocationPerUser returns the single most recent location of
// every user that has at least one location.
func (db *DB) LatestLocationPerUser() ([]Location, error) {
	rows, err := db.Query(
		`SELECT ` + locationColumns + ` FROM locations
		 WHERE id IN (
			SELECT id FROM locations l
			WHERE timestamp = (SELECT MAX(timestamp) FROM locations WHERE user_id = l.user_id)
		 )
		 ORDER BY user_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest locations: %w", err)
	}
	defer rows.Close()

	return collectLocations(rows)
}

// DeleteLocationsBefore permanently removes all locations with
// timestamp strictly before cutoff, across all users. Returns the
// number of rows deleted.
func (db *DB) DeleteLocationsBefore(cutoff time.Time) (int64, error) {
	result, err := db.Exec(`DELETE FROM locations WHERE timestamp < ?`, unixFloat(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to delete old locations: %w", err)
	}
	return result.RowsAffected()
}

// scanner abstracts *sql.Row and *sql.Rows for location scanning.
type scanner interface {
	Scan(dest ...any) error
}

func scanLocation(s scanner) (*Location, error) {
	var loc Location
	var ts float64
	var speed, accuracy sql.NullFloat64

	if err := s.Scan(&loc.ID, &loc.UserID, &loc.Latitude, &loc.Longitude,
		&ts, &speed, &accuracy); err != nil {
		return nil, err
	}

	loc.Timestamp = timeFromUnix(ts)
	if speed.Valid {
		loc.Speed = &speed.Float64
	}
	if accuracy.Valid {
		loc.Accuracy = &accuracy.Float64
	}
	return &loc, nil
}

func collectLocations(rows *sql.Rows) ([]Location, error) {
	var locations []Location
	for rows.Next() {
		loc, err := scanLocation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan location: %w", err)
		}
		locations = append(locations, *loc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return locations, nil
}
