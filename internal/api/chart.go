package api

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// showSummaryChart renders an HTML bar chart of a user's daily summary:
// per-hour distance travelled and point count. This is a quick
// debugging view, not part of the JSON API surface.
func (s *Server) showSummaryChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Content-Type", "application/json")
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	userID, date, ok := s.parseUserDate(w, r)
	if !ok {
		return
	}

	daily, err := s.db.DailySummaryByUserDate(userID, date, true)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve summary: %v", err))
		return
	}
	if daily == nil {
		w.Header().Set("Content-Type", "application/json")
		s.writeJSONError(w, http.StatusNotFound, "No summary for that user and date")
		return
	}

	hours := make([]string, 24)
	distances := make([]opts.BarData, 24)
	counts := make([]opts.BarData, 24)
	for h := 0; h < 24; h++ {
		hours[h] = fmt.Sprintf("%02d:00", h)
		distances[h] = opts.BarData{Value: 0.0}
		counts[h] = opts.BarData{Value: 0}
	}
	for _, hs := range daily.HourlySummaries {
		if hs.Hour < 0 || hs.Hour > 23 {
			continue
		}
		distances[hs.Hour] = opts.BarData{Value: hs.DistanceKm}
		counts[hs.Hour] = opts.BarData{Value: hs.LocationCount}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "720px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("Daily Activity: user %d", userID),
			Subtitle: fmt.Sprintf("%s, %.2f km over %d points", daily.Date.Format(dateLayout), daily.TotalDistanceKm, daily.TotalLocations),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Hour (UTC)"}),
	)
	bar.SetXAxis(hours).
		AddSeries("distance (km)", distances,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		).
		AddSeries("points", counts)

	var buf bytes.Buffer
	if err := bar.Render(&buf); err != nil {
		w.Header().Set("Content-Type", "application/json")
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("render error: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
