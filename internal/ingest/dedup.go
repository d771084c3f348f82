// Package ingest gates which incoming location pings are worth
// persisting. A ping that sits within 30 meters of the user's latest
// stored point while reporting a speed of exactly zero is coalesced
// into that point instead of creating a near-duplicate row.
package ingest

import (
	"fmt"

	"github.com/waypoint-data/waypoint.report/internal/db"
	"github.com/waypoint-data/waypoint.report/internal/geo"
)

// CoalesceRadiusMeters is the distance below which a stationary ping
// is treated as a duplicate of the previous one.
const CoalesceRadiusMeters = 30.0

// PointStore is the persistence surface the filter needs.
type PointStore interface {
	LatestLocationForUser(userID int64) (*db.Location, error)
	InsertLocation(loc *db.Location) error
}

// Decision reports what the filter did with a candidate ping.
type Decision struct {
	// Persisted is true when the candidate was written as a new row.
	Persisted bool

	// CoalescedWith is the prior point the candidate was folded into
	// when Persisted is false.
	CoalescedWith *db.Location
}

// Filter applies the deduplication rule at ingestion time.
type Filter struct {
	store PointStore
}

// NewFilter returns a Filter backed by the given store.
func NewFilter(store PointStore) *Filter {
	return &Filter{store: store}
}

// Decide persists the candidate unless it is within
// CoalesceRadiusMeters of the user's most recent point AND reports a
// speed of exactly zero. A candidate with no speed value is always
// persisted, even when stationary by distance alone; only an explicit
// zero triggers coalescing.
//
// The fetch-then-insert sequence is not atomic. Two concurrent pings
// for the same user may both persist; duplicate points are harmless,
// so this race is tolerated rather than serialized.
func (f *Filter) Decide(candidate *db.Location) (Decision, error) {
	last, err := f.store.LatestLocationForUser(candidate.UserID)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to fetch latest location for user %d: %w", candidate.UserID, err)
	}

	if last != nil && candidate.Speed != nil && *candidate.Speed == 0 {
		distance := geo.DistanceMeters(last.Latitude, last.Longitude,
			candidate.Latitude, candidate.Longitude)
		if distance < CoalesceRadiusMeters {
			return Decision{Persisted: false, CoalescedWith: last}, nil
		}
	}

	if err := f.store.InsertLocation(candidate); err != nil {
		return Decision{}, fmt.Errorf("failed to persist location for user %d: %w", candidate.UserID, err)
	}
	return Decision{Persisted: true}, nil
}
