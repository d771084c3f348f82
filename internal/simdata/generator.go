// Package simdata generates synthetic GPS trails for demos and load
// testing. A generated day models a field agent who starts at the
// office at 09:00 UTC, drives between customer sites with a lunch
// stop, and heads back around 17:00 UTC.
package simdata

import (
	"math/rand"
	"time"

	"github.com/waypoint-data/waypoint.report/internal/db"
)

type waypoint struct {
	lat, lon float64
}

// Stops around central Andijan. Index 0 is the office, index 5 the
// lunch spot, the rest are customer sites.
var stops = []waypoint{
	{40.7821, 72.3442},
	{40.7900, 72.3550},
	{40.7950, 72.3600},
	{40.7750, 72.3350},
	{40.7680, 72.3450},
	{40.7870, 72.3620},
	{40.7780, 72.3300},
	{40.7820, 72.3500},
}

type leg struct {
	from, to int // stop indices; from == to means stationary
	minutes  int
}

// The daily schedule, 09:00 to 17:00 UTC.
var schedule = []leg{
	{0, 0, 30}, // office
	{0, 1, 30},
	{1, 1, 40},
	{1, 2, 20},
	{2, 2, 30},
	{2, 5, 15},
	{5, 5, 60}, // lunch
	{5, 3, 25},
	{3, 3, 50},
	{3, 4, 20},
	{4, 4, 45},
	{4, 6, 20},
	{6, 6, 50},
	{6, 0, 45}, // back to the office
}

// Generator produces deterministic-shaped but randomly jittered
// location trails.
type Generator struct {
	rng *rand.Rand
}

func NewGenerator(seed int64) *Generator {
	return &Generator{rng: rand.New(rand.NewSource(seed))}
}

// GenerateDay returns one working day of points for the user, starting
// at 09:00 UTC on the given date.
func (g *Generator) GenerateDay(userID int64, date time.Time) []db.Location {
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	current := day.Add(9 * time.Hour)

	var points []db.Location
	for _, l := range schedule {
		if l.from == l.to {
			points = append(points, g.stationarySegment(userID, stops[l.from], current, l.minutes)...)
		} else {
			points = append(points, g.drivingSegment(userID, stops[l.from], stops[l.to], current, l.minutes)...)
		}
		current = current.Add(time.Duration(l.minutes) * time.Minute)
	}
	return points
}

// stationarySegment emits one point per minute with speed 0, jittered
// roughly +/-20m around the stop.
func (g *Generator) stationarySegment(userID int64, at waypoint, start time.Time, minutes int) []db.Location {
	points := make([]db.Location, 0, minutes)
	for i := 0; i < minutes; i++ {
		speed := 0.0
		accuracy := float64(5 + g.rng.Intn(10))
		points = append(points, db.Location{
			UserID:    userID,
			Latitude:  at.lat + g.jitter(0.0002),
			Longitude: at.lon + g.jitter(0.0002),
			Timestamp: start.Add(time.Duration(i) * time.Minute),
			Speed:     &speed,
			Accuracy:  &accuracy,
		})
	}
	return points
}

// drivingSegment interpolates between two stops at two points per
// minute with speeds of 20-60 km/h.
func (g *Generator) drivingSegment(userID int64, from, to waypoint, start time.Time, minutes int) []db.Location {
	total := minutes * 2
	points := make([]db.Location, 0, total)
	for i := 0; i < total; i++ {
		progress := float64(i) / float64(total)
		speed := float64(20 + g.rng.Intn(40))
		accuracy := float64(5 + g.rng.Intn(15))
		points = append(points, db.Location{
			UserID:    userID,
			Latitude:  lerp(from.lat, to.lat, progress) + g.jitter(0.0001),
			Longitude: lerp(from.lon, to.lon, progress) + g.jitter(0.0001),
			Timestamp: start.Add(time.Duration(i) * 30 * time.Second),
			Speed:     &speed,
			Accuracy:  &accuracy,
		})
	}
	return points
}

func (g *Generator) jitter(magnitude float64) float64 {
	return g.rng.Float64()*2*magnitude - magnitude
}

func lerp(start, end, progress float64) float64 {
	return start + (end-start)*progress
}
