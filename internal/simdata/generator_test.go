package simdata

import (
	"testing"
	"time"
)

func TestGenerateDayCoversWorkingHours(t *testing.T) {
	g := NewGenerator(42)
	date := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)

	points := g.GenerateDay(7, date)
	if len(points) == 0 {
		t.Fatal("expected points, got none")
	}

	first := points[0].Timestamp
	want := date.Add(9 * time.Hour)
	if !first.Equal(want) {
		t.Errorf("first point at %v, want %v", first, want)
	}

	for i, p := range points {
		if p.UserID != 7 {
			t.Fatalf("point %d has user %d, want 7", i, p.UserID)
		}
		if p.Timestamp.Before(date) || !p.Timestamp.Before(date.AddDate(0, 0, 1)) {
			t.Fatalf("point %d timestamp %v outside generated day", i, p.Timestamp)
		}
		if p.Speed == nil {
			t.Fatalf("point %d missing speed", i)
		}
		if p.Accuracy == nil {
			t.Fatalf("point %d missing accuracy", i)
		}
	}

	// The day ends with a drive, so the last point carries speed.
	last := points[len(points)-1]
	if *last.Speed < 20 || *last.Speed >= 60 {
		t.Errorf("final driving speed %v outside [20, 60)", *last.Speed)
	}
}

func TestGenerateDayMixesStationaryAndDriving(t *testing.T) {
	g := NewGenerator(1)
	points := g.GenerateDay(1, time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC))

	var still, moving int
	for _, p := range points {
		if *p.Speed == 0 {
			still++
		} else {
			moving++
		}
	}
	if still == 0 || moving == 0 {
		t.Fatalf("expected both stationary and driving points, got still=%d moving=%d", still, moving)
	}
}

func TestGenerateDayTimestampsNonDecreasing(t *testing.T) {
	g := NewGenerator(99)
	points := g.GenerateDay(3, time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC))

	for i := 1; i < len(points); i++ {
		if points[i].Timestamp.Before(points[i-1].Timestamp) {
			t.Fatalf("timestamp regression at %d: %v before %v", i, points[i].Timestamp, points[i-1].Timestamp)
		}
	}
}
