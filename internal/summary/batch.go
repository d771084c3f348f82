package summary

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

// RunReport summarizes one batch aggregation run.
type RunReport struct {
	RunID       string        `json:"run_id"`
	Date        time.Time     `json:"date"`
	Processed   int           `json:"processed"`
	Skipped     int           `json:"skipped"`
	Failed      int           `json:"failed"`
	FailedUsers []int64       `json:"failed_users,omitempty"`
	Duration    time.Duration `json:"duration"`
}

// BatchDriver applies the Aggregator to every active user for a
// target day.
type BatchDriver struct {
	aggregator *Aggregator
	users      UserDirectory
}

// NewBatchDriver returns a BatchDriver over the given aggregator and
// user directory.
func NewBatchDriver(aggregator *Aggregator, users UserDirectory) *BatchDriver {
	return &BatchDriver{aggregator: aggregator, users: users}
}

// ProcessDay aggregates the given day for every active user. A NoData
// result is logged and skipped; any other per-user failure is logged
// and isolated so the remaining users still run. There is no retry
// within the run: a failed user's summary is simply absent until the
// next run, which re-attempts it naturally since no summary exists
// yet.
//
// Cancelling ctx stops the run between users; summaries already
// committed remain valid and final (no cross-user transaction spans
// the batch).
func (b *BatchDriver) ProcessDay(ctx context.Context, date time.Time) (*RunReport, error) {
	day := startOfDayUTC(date)
	start := time.Now()

	report := &RunReport{
		RunID: uuid.NewString(),
		Date:  day,
	}

	userIDs, err := b.users.ActiveUserIDs()
	if err != nil {
		return report, fmt.Errorf("failed to enumerate active users: %w", err)
	}

	log.Printf("[batch %s] processing %s for %d active users",
		report.RunID, day.Format("2006-01-02"), len(userIDs))

	for _, userID := range userIDs {
		if err := ctx.Err(); err != nil {
			report.Duration = time.Since(start)
			return report, fmt.Errorf("batch run aborted: %w", err)
		}

		_, err := b.aggregator.AggregateDay(userID, day)
		switch {
		case errors.Is(err, ErrNoData):
			report.Skipped++
			log.Printf("[batch %s] no locations for user %d on %s, skipped",
				report.RunID, userID, day.Format("2006-01-02"))
		case err != nil:
			report.Failed++
			report.FailedUsers = append(report.FailedUsers, userID)
			log.Printf("[batch %s] aggregation failed for user %d: %v",
				report.RunID, userID, err)
		default:
			report.Processed++
		}
	}

	report.Duration = time.Since(start)
	log.Printf("[batch %s] done: %d processed, %d skipped, %d failed in %v",
		report.RunID, report.Processed, report.Skipped, report.Failed, report.Duration)

	return report, nil
}
