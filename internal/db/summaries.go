package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrDuplicateSummary is returned when a daily summary already exists
// for the same (user, date). Callers treat this as "already exists"
// and re-fetch the winning row.
var ErrDuplicateSummary = errors.New("daily summary already exists for user and date")

// DailySummary is the immutable per-day rollup of one user's
// locations. Created once by the aggregator and never recomputed.
type DailySummary struct {
	ID                int64     `json:"id"`
	UserID            int64     `json:"user_id"`
	Date              time.Time `json:"date"`
	TotalLocations    int       `json:"total_locations"`
	FirstLocationTime time.Time `json:"first_location_time"`
	LastLocationTime  time.Time `json:"last_location_time"`
	TotalDistanceKm   float64   `json:"total_distance_km"`
	AverageSpeed      *float64  `json:"average_speed,omitempty"`
	MaxSpeed          *float64  `json:"max_speed,omitempty"`
	MinLatitude       float64   `json:"min_latitude"`
	MaxLatitude       float64   `json:"max_latitude"`
	MinLongitude      float64   `json:"min_longitude"`
	MaxLongitude      float64   `json:"max_longitude"`

	// HourlySummaries is populated when the summary is fetched with
	// its hourly breakdown.
	HourlySummaries []HourlySummary `json:"hourly_summaries,omitempty"`
}

// HourlySummary is the per-UTC-hour slice of a daily summary. Only
// hours with at least one location produce a row.
type HourlySummary struct {
	ID                int64     `json:"id"`
	DailySummaryID    int64     `json:"daily_summary_id"`
	UserID            int64     `json:"user_id"`
	Hour              int       `json:"hour"`
	LocationCount     int       `json:"location_count"`
	DistanceKm        float64   `json:"distance_km"`
	AverageSpeed      *float64  `json:"average_speed,omitempty"`
	FirstLocationTime time.Time `json:"first_location_time"`
	LastLocationTime  time.Time `json:"last_location_time"`
	MinLatitude       float64   `json:"min_latitude"`
	MaxLatitude       float64   `json:"max_latitude"`
	MinLongitude      float64   `json:"min_longitude"`
	MaxLongitude      float64   `json:"max_longitude"`
}

const dailySummaryColumns = `id, user_id, date, total_locations, first_location_time,
	last_location_time, total_distance_km, average_speed, max_speed,
	min_latitude, max_latitude, min_longitude, max_longitude`

const hourlySummaryColumns = `id, daily_summary_id, user_id, hour, location_count,
	distance_km, average_speed, first_location_time, last_location_time,
	min_latitude, max_latitude, min_longitude, max_longitude`

// CreateDailySummary inserts a new daily summary and sets its ID. A
// UNIQUE(user_id, date) violation yields ErrDuplicateSummary.
func (db *DB) CreateDailySummary(s *DailySummary) error {
	result, err := db.Exec(
		`INSERT INTO daily_summaries (
			user_id, date, total_locations, first_location_time,
			last_location_time, total_distance_km, average_speed, max_speed,
			min_latitude, max_latitude, min_longitude, max_longitude
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.UserID, dateString(s.Date), s.TotalLocations,
		unixFloat(s.FirstLocationTime), unixFloat(s.LastLocationTime),
		s.TotalDistanceKm, s.AverageSpeed, s.MaxSpeed,
		s.MinLatitude, s.MaxLatitude, s.MinLongitude, s.MaxLongitude)
	if err != nil {
		if isUniqueConstraintErr(err) {
			return ErrDuplicateSummary
		}
		return fmt.Errorf("failed to create daily summary: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert ID: %w", err)
	}
	s.ID = id
	return nil
}

// DailySummaryExists reports whether a daily summary exists for the
// user and date.
func (db *DB) DailySummaryExists(userID int64, date time.Time) (bool, error) {
	var count int
	err := db.QueryRow(
		`SELECT COUNT(*) FROM daily_summaries WHERE user_id = ? AND date = ?`,
		userID, dateString(date)).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check daily summary existence: %w", err)
	}
	return count > 0, nil
}

// DailySummaryByUserDate returns the daily summary for (user, date),
// or nil when none exists. When includeHourly is set the hourly
// breakdown is attached, ordered by hour.
func (db *DB) DailySummaryByUserDate(userID int64, date time.Time, includeHourly bool) (*DailySummary, error) {
	row := db.QueryRow(
		`SELECT `+dailySummaryColumns+` FROM daily_summaries
		 WHERE user_id = ? AND date = ?`,
		userID, dateString(date))

	s, err := scanDailySummary(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query daily summary: %w", err)
	}

	if includeHourly {
		hourly, err := db.HourlySummariesForDaily(s.ID)
		if err != nil {
			return nil, err
		}
		s.HourlySummaries = hourly
	}
	return s, nil
}

// DailySummariesForUser returns a user's daily summaries with date in
// [from, to], newest first. Hourly breakdowns are not attached.
func (db *DB) DailySummariesForUser(userID int64, from, to time.Time) ([]DailySummary, error) {
	rows, err := db.Query(
		`SELECT `+dailySummaryColumns+` FROM daily_summaries
		 WHERE user_id = ? AND date >= ? AND date <= ?
		 ORDER BY date DESC`,
		userID, dateString(from), dateString(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query daily summaries: %w", err)
	}
	defer rows.Close()

	var summaries []DailySummary
	for rows.Next() {
		s, err := scanDailySummary(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan daily summary: %w", err)
		}
		summaries = append(summaries, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return summaries, nil
}

// InsertHourlySummaries persists all hourly summaries of one daily
// summary in a single transaction.
func (db *DB) InsertHourlySummaries(summaries []HourlySummary) error {
	if len(summaries) == 0 {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO hourly_summaries (
			daily_summary_id, user_id, hour, location_count, distance_km,
			average_speed, first_location_time, last_location_time,
			min_latitude, max_latitude, min_longitude, max_longitude
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := range summaries {
		hs := &summaries[i]
		result, err := stmt.Exec(
			hs.DailySummaryID, hs.UserID, hs.Hour, hs.LocationCount, hs.DistanceKm,
			hs.AverageSpeed, unixFloat(hs.FirstLocationTime), unixFloat(hs.LastLocationTime),
			hs.MinLatitude, hs.MaxLatitude, hs.MinLongitude, hs.MaxLongitude)
		if err != nil {
			return fmt.Errorf("failed to insert hourly summary for hour %d: %w", hs.Hour, err)
		}
		if id, err := result.LastInsertId(); err == nil {
			hs.ID = id
		}
	}

	return tx.Commit()
}

// HourlySummariesForDaily returns the hourly summaries belonging to a
// daily summary, ordered by hour.
func (db *DB) HourlySummariesForDaily(dailySummaryID int64) ([]HourlySummary, error) {
	rows, err := db.Query(
		`SELECT `+hourlySummaryColumns+` FROM hourly_summaries
		 WHERE daily_summary_id = ? ORDER BY hour ASC`, dailySummaryID)
	if err != nil {
		return nil, fmt.Errorf("failed to query hourly summaries: %w", err)
	}
	defer rows.Close()

	var summaries []HourlySummary
	for rows.Next() {
		var hs HourlySummary
		var first, last float64
		var avgSpeed sql.NullFloat64

		if err := rows.Scan(&hs.ID, &hs.DailySummaryID, &hs.UserID, &hs.Hour,
			&hs.LocationCount, &hs.DistanceKm, &avgSpeed, &first, &last,
			&hs.MinLatitude, &hs.MaxLatitude, &hs.MinLongitude, &hs.MaxLongitude); err != nil {
			return nil, fmt.Errorf("failed to scan hourly summary: %w", err)
		}

		hs.FirstLocationTime = timeFromUnix(first)
		hs.LastLocationTime = timeFromUnix(last)
		if avgSpeed.Valid {
			hs.AverageSpeed = &avgSpeed.Float64
		}
		summaries = append(summaries, hs)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return summaries, nil
}

func scanDailySummary(s scanner) (*DailySummary, error) {
	var ds DailySummary
	var date string
	var first, last float64
	var avgSpeed, maxSpeed sql.NullFloat64

	if err := s.Scan(&ds.ID, &ds.UserID, &date, &ds.TotalLocations, &first, &last,
		&ds.TotalDistanceKm, &avgSpeed, &maxSpeed,
		&ds.MinLatitude, &ds.MaxLatitude, &ds.MinLongitude, &ds.MaxLongitude); err != nil {
		return nil, err
	}

	parsed, err := time.ParseInLocation("2006-01-02", date, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("failed to parse summary date %q: %w", date, err)
	}
	ds.Date = parsed
	ds.FirstLocationTime = timeFromUnix(first)
	ds.LastLocationTime = timeFromUnix(last)
	if avgSpeed.Valid {
		ds.AverageSpeed = &avgSpeed.Float64
	}
	if maxSpeed.Valid {
		ds.MaxSpeed = &maxSpeed.Float64
	}
	return &ds, nil
}
