package summary

import (
	"context"
	"log"
	"time"

	"github.com/waypoint-data/waypoint.report/internal/timeutil"
)

// Worker owns the daily aggregation cycle: it sleeps until the next
// UTC midnight, aggregates yesterday for all active users, then runs
// the retention cleanup. Cleanup deliberately runs after aggregation
// so a day's locations are always summarized before they become
// eligible for deletion.
type Worker struct {
	Batch         *BatchDriver
	Cleaner       *Cleaner
	RetentionDays int
	Clock         timeutil.Clock
	RetryDelay    time.Duration // wait before one retry after a failed run
	StopChan      chan struct{}
}

// NewWorker returns a Worker with the standard one-hour retry delay.
func NewWorker(batch *BatchDriver, cleaner *Cleaner, retentionDays int, clock timeutil.Clock) *Worker {
	return &Worker{
		Batch:         batch,
		Cleaner:       cleaner,
		RetentionDays: retentionDays,
		Clock:         clock,
		RetryDelay:    time.Hour,
		StopChan:      make(chan struct{}),
	}
}

// Start runs the worker loop in a goroutine.
func (w *Worker) Start() {
	go w.run()
}

// Stop requests the worker to stop.
func (w *Worker) Stop() {
	close(w.StopChan)
}

func (w *Worker) run() {
	for {
		next := nextMidnightUTC(w.Clock.Now())
		log.Printf("[summary-worker] next run scheduled at %s UTC", next.Format("2006-01-02 15:04:05"))

		timer := w.Clock.NewTimer(w.Clock.Until(next))
		select {
		case <-w.StopChan:
			timer.Stop()
			return
		case <-timer.C():
		}

		if err := w.RunOnce(context.Background()); err != nil {
			log.Printf("[summary-worker] run failed: %v (retrying in %v)", err, w.RetryDelay)

			retry := w.Clock.NewTimer(w.RetryDelay)
			select {
			case <-w.StopChan:
				retry.Stop()
				return
			case <-retry.C():
			}
			if err := w.RunOnce(context.Background()); err != nil {
				log.Printf("[summary-worker] retry failed: %v (next attempt at midnight)", err)
			}
		}
	}
}

// RunOnce aggregates yesterday (UTC) for all active users and then
// deletes locations outside the retention window. Safe to call
// repeatedly: aggregation is create-once and the cleanup cutoff
// recomputes each call.
func (w *Worker) RunOnce(ctx context.Context) error {
	yesterday := startOfDayUTC(w.Clock.Now()).AddDate(0, 0, -1)

	log.Printf("[summary-worker] starting daily summary processing for %s", yesterday.Format("2006-01-02"))
	report, err := w.Batch.ProcessDay(ctx, yesterday)
	if err != nil {
		return err
	}
	log.Printf("[summary-worker] run %s complete: %d processed, %d skipped, %d failed",
		report.RunID, report.Processed, report.Skipped, report.Failed)

	if _, err := w.Cleaner.CleanupOlderThan(w.RetentionDays); err != nil {
		return err
	}
	return nil
}

// nextMidnightUTC returns the first UTC midnight strictly after t.
func nextMidnightUTC(t time.Time) time.Time {
	return startOfDayUTC(t).AddDate(0, 0, 1)
}
