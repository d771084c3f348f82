package summary

import (
	"fmt"
	"log"
	"time"

	"github.com/waypoint-data/waypoint.report/internal/timeutil"
)

// DefaultRetentionDays is the number of trailing days of raw
// locations kept when no explicit retention window is configured.
const DefaultRetentionDays = 7

// Cleaner bulk-deletes raw locations older than a retention window.
// It knows nothing about summaries; scheduling must ensure the
// aggregator has processed a day before its locations are deleted, or
// that day will forever report NoData.
type Cleaner struct {
	points PointStore
	clock  timeutil.Clock
}

// NewCleaner returns a Cleaner over the given point store.
func NewCleaner(points PointStore, clock timeutil.Clock) *Cleaner {
	return &Cleaner{points: points, clock: clock}
}

// CleanupOlderThan permanently deletes every location with timestamp
// strictly before today(UTC) minus daysToKeep, across all users.
// Failures are safe to retry on the next scheduled run: the cutoff
// recomputes each time and undeleted rows remain eligible.
func (c *Cleaner) CleanupOlderThan(daysToKeep int) (int64, error) {
	if daysToKeep <= 0 {
		return 0, fmt.Errorf("daysToKeep must be positive, got %d", daysToKeep)
	}

	cutoff := startOfDayUTC(c.clock.Now()).AddDate(0, 0, -daysToKeep)

	log.Printf("Cleaning up locations older than %s", cutoff.Format("2006-01-02"))

	deleted, err := c.points.DeleteLocationsBefore(cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up old locations: %w", err)
	}

	log.Printf("Old locations cleanup completed: %d rows deleted", deleted)
	return deleted, nil
}

// Cutoff returns the deletion cutoff that CleanupOlderThan would use
// right now for the given window.
func (c *Cleaner) Cutoff(daysToKeep int) time.Time {
	return startOfDayUTC(c.clock.Now()).AddDate(0, 0, -daysToKeep)
}
