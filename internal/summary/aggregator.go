// Package summary turns a user's raw location history into immutable
// per-day and per-hour statistical rollups, and owns the batch and
// retention machinery around them.
package summary

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/waypoint-data/waypoint.report/internal/db"
	"github.com/waypoint-data/waypoint.report/internal/geo"
)

// ErrNoData is returned when aggregation is requested for a
// (user, date) with no locations in range. No summary row is created.
var ErrNoData = errors.New("no locations found for user and date")

// PointStore is the raw-location surface the aggregation machinery
// consumes. *db.DB satisfies it.
type PointStore interface {
	LocationsInRange(userID int64, start, end time.Time) ([]db.Location, error)
	DeleteLocationsBefore(cutoff time.Time) (int64, error)
}

// SummaryStore persists and retrieves daily and hourly summaries.
// *db.DB satisfies it.
type SummaryStore interface {
	DailySummaryByUserDate(userID int64, date time.Time, includeHourly bool) (*db.DailySummary, error)
	CreateDailySummary(s *db.DailySummary) error
	InsertHourlySummaries(summaries []db.HourlySummary) error
}

// UserDirectory enumerates the users eligible for batch aggregation.
// *db.DB satisfies it.
type UserDirectory interface {
	ActiveUserIDs() ([]int64, error)
}

// Aggregator produces daily summaries with their hourly breakdowns.
type Aggregator struct {
	points    PointStore
	summaries SummaryStore
}

// NewAggregator returns an Aggregator over the given stores.
func NewAggregator(points PointStore, summaries SummaryStore) *Aggregator {
	return &Aggregator{points: points, summaries: summaries}
}

// AggregateDay creates the daily summary and its hourly summaries for
// one user and one UTC calendar day. Summaries are create-once: if one
// already exists for (user, date) it is returned unchanged, even if
// more locations for that day have arrived since. A day with no
// locations yields ErrNoData and leaves nothing behind.
//
// The existence check is a fast path, not the correctness guarantee:
// two concurrent calls can both pass it, so a storage uniqueness
// conflict on insert is converted back into "already exists" by
// re-fetching the winning row.
func (a *Aggregator) AggregateDay(userID int64, date time.Time) (*db.DailySummary, error) {
	day := startOfDayUTC(date)

	existing, err := a.summaries.DailySummaryByUserDate(userID, day, true)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		log.Printf("Daily summary already exists for user %d on %s", userID, day.Format("2006-01-02"))
		return existing, nil
	}

	locations, err := a.points.LocationsInRange(userID, day, day.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch locations for user %d: %w", userID, err)
	}
	if len(locations) == 0 {
		return nil, fmt.Errorf("user %d on %s: %w", userID, day.Format("2006-01-02"), ErrNoData)
	}

	stats := computeSegment(locations)

	daily := &db.DailySummary{
		UserID:            userID,
		Date:              day,
		TotalLocations:    len(locations),
		FirstLocationTime: stats.first,
		LastLocationTime:  stats.last,
		TotalDistanceKm:   stats.distanceKm,
		AverageSpeed:      stats.averageSpeed,
		MaxSpeed:          stats.maxSpeed,
		MinLatitude:       stats.minLat,
		MaxLatitude:       stats.maxLat,
		MinLongitude:      stats.minLon,
		MaxLongitude:      stats.maxLon,
	}

	if err := a.summaries.CreateDailySummary(daily); err != nil {
		if errors.Is(err, db.ErrDuplicateSummary) {
			// A concurrent trigger won the insert race; return its row.
			winner, ferr := a.summaries.DailySummaryByUserDate(userID, day, true)
			if ferr != nil {
				return nil, ferr
			}
			if winner != nil {
				return winner, nil
			}
		}
		return nil, err
	}

	hourly := buildHourlySummaries(locations, daily.ID, userID)
	if err := a.summaries.InsertHourlySummaries(hourly); err != nil {
		return nil, fmt.Errorf("failed to persist hourly summaries for user %d: %w", userID, err)
	}
	daily.HourlySummaries = hourly

	log.Printf("Daily summary created for user %d on %s: %d locations, %.3f km",
		userID, day.Format("2006-01-02"), daily.TotalLocations, daily.TotalDistanceKm)

	return daily, nil
}

// segmentStats holds the rollup of one ordered run of locations.
type segmentStats struct {
	distanceKm   float64
	averageSpeed *float64
	maxSpeed     *float64
	first, last  time.Time
	minLat       float64
	maxLat       float64
	minLon       float64
	maxLon       float64
}

// computeSegment rolls up an ordered, non-empty run of locations.
// Distance chains every consecutive pair in the run. Speed statistics
// cover every location that carries a speed value; max speed stays nil
// unless some location reports a strictly positive speed. The bounding
// box is the independent min/max of latitude and longitude, so a
// single location yields a valid degenerate box and zero distance.
func computeSegment(locations []db.Location) segmentStats {
	first := locations[0]
	stats := segmentStats{
		first:  first.Timestamp,
		last:   first.Timestamp,
		minLat: first.Latitude,
		maxLat: first.Latitude,
		minLon: first.Longitude,
		maxLon: first.Longitude,
	}

	var speedSum float64
	var speedCount int
	var maxSpeed float64

	for i := range locations {
		loc := &locations[i]

		if i > 0 {
			prev := &locations[i-1]
			stats.distanceKm += geo.DistanceKm(prev.Latitude, prev.Longitude,
				loc.Latitude, loc.Longitude)
		}

		if loc.Speed != nil {
			speedSum += *loc.Speed
			speedCount++
			if *loc.Speed > maxSpeed {
				maxSpeed = *loc.Speed
			}
		}

		if loc.Timestamp.Before(stats.first) {
			stats.first = loc.Timestamp
		}
		if loc.Timestamp.After(stats.last) {
			stats.last = loc.Timestamp
		}
		if loc.Latitude < stats.minLat {
			stats.minLat = loc.Latitude
		}
		if loc.Latitude > stats.maxLat {
			stats.maxLat = loc.Latitude
		}
		if loc.Longitude < stats.minLon {
			stats.minLon = loc.Longitude
		}
		if loc.Longitude > stats.maxLon {
			stats.maxLon = loc.Longitude
		}
	}

	if speedCount > 0 {
		avg := speedSum / float64(speedCount)
		stats.averageSpeed = &avg
	}
	if maxSpeed > 0 {
		stats.maxSpeed = &maxSpeed
	}
	return stats
}

// buildHourlySummaries groups an ordered day of locations by the UTC
// hour field of each timestamp and rolls up each non-empty group in
// increasing hour order. Locations keep their original order within a
// group, so each hourly distance chains only the consecutive pairs
// inside that hour; a pair straddling an hour boundary contributes to
// the daily total but to neither hourly bucket.
func buildHourlySummaries(locations []db.Location, dailySummaryID, userID int64) []db.HourlySummary {
	byHour := make(map[int][]db.Location)
	for _, loc := range locations {
		hour := loc.Timestamp.UTC().Hour()
		byHour[hour] = append(byHour[hour], loc)
	}

	hours := make([]int, 0, len(byHour))
	for hour := range byHour {
		hours = append(hours, hour)
	}
	sort.Ints(hours)

	summaries := make([]db.HourlySummary, 0, len(hours))
	for _, hour := range hours {
		group := byHour[hour]
		stats := computeSegment(group)

		summaries = append(summaries, db.HourlySummary{
			DailySummaryID:    dailySummaryID,
			UserID:            userID,
			Hour:              hour,
			LocationCount:     len(group),
			DistanceKm:        stats.distanceKm,
			AverageSpeed:      stats.averageSpeed,
			FirstLocationTime: stats.first,
			LastLocationTime:  stats.last,
			MinLatitude:       stats.minLat,
			MaxLatitude:       stats.maxLat,
			MinLongitude:      stats.minLon,
			MaxLongitude:      stats.maxLon,
		})
	}
	return summaries
}

// startOfDayUTC truncates a time to UTC midnight of its calendar day.
func startOfDayUTC(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
