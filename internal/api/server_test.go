package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/waypoint-data/waypoint.report/internal/db"
	"github.com/waypoint-data/waypoint.report/internal/ingest"
	"github.com/waypoint-data/waypoint.report/internal/simdata"
	"github.com/waypoint-data/waypoint.report/internal/summary"
	"github.com/waypoint-data/waypoint.report/internal/units"
)

func floatPtr(f float64) *float64 { return &f }

// setupTestServer builds a Server over a fresh database.
func setupTestServer(t *testing.T, speedUnits string) (*Server, *db.DB) {
	t.Helper()

	database, err := db.NewDB(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	filter := ingest.NewFilter(database)
	aggregator := summary.NewAggregator(database, database)
	batch := summary.NewBatchDriver(aggregator, database)
	hub := NewLocationHub()
	sim := simdata.NewGenerator(1)

	server := NewServer(database, filter, aggregator, batch, hub, sim, speedUnits, summary.DefaultRetentionDays)
	return server, database
}

func createUser(t *testing.T, database *db.DB, name, phone string) *db.User {
	t.Helper()

	u := &db.User{Name: name, Phone: phone, IsActive: true}
	if err := database.CreateUser(u); err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}
	return u
}

func postJSON(t *testing.T, server *Server, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("Failed to marshal request body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	w := httptest.NewRecorder()
	server.ServeMux().ServeHTTP(w, req)
	return w
}

func get(t *testing.T, server *Server, path string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	server.ServeMux().ServeHTTP(w, req)
	return w
}

func TestCreateAndListUsers(t *testing.T) {
	server, _ := setupTestServer(t, units.KMPH)

	w := postJSON(t, server, "/api/users", map[string]string{
		"name": "Alice", "phone": "+998901234567",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("got status %d, want 201: %s", w.Code, w.Body.String())
	}

	var created db.User
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if created.ID == 0 || created.Name != "Alice" {
		t.Errorf("unexpected created user: %+v", created)
	}

	// Duplicate phone conflicts.
	w = postJSON(t, server, "/api/users", map[string]string{
		"name": "Impostor", "phone": "+998901234567",
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("got status %d for duplicate phone, want 409", w.Code)
	}

	w = get(t, server, "/api/users")
	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", w.Code)
	}
	var users []db.User
	if err := json.Unmarshal(w.Body.Bytes(), &users); err != nil {
		t.Fatalf("Failed to decode users: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("got %d users, want 1", len(users))
	}
}

func TestIngestLocation(t *testing.T) {
	server, database := setupTestServer(t, units.KMPH)
	user := createUser(t, database, "Alice", "+998901234567")

	body := map[string]interface{}{
		"user_id":   user.ID,
		"latitude":  40.7821,
		"longitude": 72.3442,
		"timestamp": time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC),
		"speed":     12.5,
	}
	w := postJSON(t, server, "/api/locations", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("got status %d, want 201: %s", w.Code, w.Body.String())
	}

	var resp ingestResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Saved != 1 || len(resp.Locations) != 1 {
		t.Fatalf("expected one persisted location, got %+v", resp)
	}
	if resp.Locations[0].ID == 0 {
		t.Error("expected stored location to carry its ID")
	}
}

func TestIngestLocationBatch(t *testing.T) {
	server, database := setupTestServer(t, units.KMPH)
	user := createUser(t, database, "Alice", "+998901234567")

	base := time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC)
	batch := []map[string]interface{}{
		{"user_id": user.ID, "latitude": 40.7821, "longitude": 72.3442,
			"timestamp": base, "speed": 5},
		{"user_id": user.ID, "latitude": 40.7900, "longitude": 72.3550,
			"timestamp": base.Add(time.Minute), "speed": 5},
	}
	w := postJSON(t, server, "/api/locations", batch)
	if w.Code != http.StatusCreated {
		t.Fatalf("got status %d, want 201: %s", w.Code, w.Body.String())
	}

	var resp ingestResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Saved != 2 || resp.Coalesced != 0 {
		t.Fatalf("got saved=%d coalesced=%d, want 2 and 0", resp.Saved, resp.Coalesced)
	}
}

func TestIngestLocationCoalescesStationaryDuplicate(t *testing.T) {
	server, database := setupTestServer(t, units.KMPH)
	user := createUser(t, database, "Alice", "+998901234567")

	first := map[string]interface{}{
		"user_id":   user.ID,
		"latitude":  40.7821,
		"longitude": 72.3442,
		"timestamp": time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC),
		"speed":     0,
	}
	if w := postJSON(t, server, "/api/locations", first); w.Code != http.StatusCreated {
		t.Fatalf("got status %d for first point, want 201", w.Code)
	}

	// Same spot a minute later, still stationary: coalesced.
	second := map[string]interface{}{
		"user_id":   user.ID,
		"latitude":  40.7821,
		"longitude": 72.3442,
		"timestamp": time.Date(2026, 3, 5, 9, 1, 0, 0, time.UTC),
		"speed":     0,
	}
	w := postJSON(t, server, "/api/locations", second)
	if w.Code != http.StatusOK {
		t.Fatalf("got status %d for coalesced point, want 200", w.Code)
	}
	var resp ingestResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Saved != 0 || resp.Coalesced != 1 {
		t.Errorf("got saved=%d coalesced=%d, want stationary duplicate coalesced", resp.Saved, resp.Coalesced)
	}
}

func TestIngestLocationValidation(t *testing.T) {
	server, database := setupTestServer(t, units.KMPH)
	user := createUser(t, database, "Alice", "+998901234567")

	// Unknown user
	w := postJSON(t, server, "/api/locations", map[string]interface{}{
		"user_id": 9999, "latitude": 40.78, "longitude": 72.34,
	})
	if w.Code != http.StatusNotFound {
		t.Errorf("got status %d for unknown user, want 404", w.Code)
	}

	// Latitude out of range
	w = postJSON(t, server, "/api/locations", map[string]interface{}{
		"user_id": user.ID, "latitude": 91.0, "longitude": 72.34,
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("got status %d for bad latitude, want 400", w.Code)
	}
}

func seedDay(t *testing.T, database *db.DB, userID int64, day time.Time) {
	t.Helper()

	points := []db.Location{
		{UserID: userID, Latitude: 40.7821, Longitude: 72.3442,
			Timestamp: day.Add(9 * time.Hour), Speed: floatPtr(5)},
		{UserID: userID, Latitude: 40.7900, Longitude: 72.3550,
			Timestamp: day.Add(9*time.Hour + 10*time.Minute), Speed: floatPtr(5)},
		{UserID: userID, Latitude: 40.7950, Longitude: 72.3600,
			Timestamp: day.Add(11*time.Hour + 30*time.Minute), Speed: floatPtr(20)},
	}
	if err := database.InsertLocations(points); err != nil {
		t.Fatalf("Failed to seed locations: %v", err)
	}
}

func TestGenerateAndFetchSummary(t *testing.T) {
	server, database := setupTestServer(t, units.KMPH)
	user := createUser(t, database, "Alice", "+998901234567")
	day := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
	seedDay(t, database, user.ID, day)

	// No summary yet.
	w := get(t, server, fmt.Sprintf("/api/summaries?user_id=%d&date=2026-03-05", user.ID))
	if w.Code != http.StatusNotFound {
		t.Fatalf("got status %d before generation, want 404", w.Code)
	}

	w = postJSON(t, server, fmt.Sprintf("/api/summaries/generate?user_id=%d&date=2026-03-05", user.ID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("got status %d from generate, want 200: %s", w.Code, w.Body.String())
	}

	var generated db.DailySummary
	if err := json.Unmarshal(w.Body.Bytes(), &generated); err != nil {
		t.Fatalf("Failed to decode summary: %v", err)
	}
	if generated.TotalLocations != 3 {
		t.Errorf("got %d locations, want 3", generated.TotalLocations)
	}
	if len(generated.HourlySummaries) != 2 {
		t.Errorf("got %d hourly summaries, want 2", len(generated.HourlySummaries))
	}
	if generated.AverageSpeed == nil || math.Abs(*generated.AverageSpeed-10.0) > 0.01 {
		t.Errorf("got average speed %v, want 10.0 km/h", generated.AverageSpeed)
	}

	// Now it is fetchable.
	w = get(t, server, fmt.Sprintf("/api/summaries?user_id=%d&date=2026-03-05", user.ID))
	if w.Code != http.StatusOK {
		t.Fatalf("got status %d after generation, want 200", w.Code)
	}
}

func TestGenerateSummaryNoData(t *testing.T) {
	server, database := setupTestServer(t, units.KMPH)
	user := createUser(t, database, "Alice", "+998901234567")

	w := postJSON(t, server, fmt.Sprintf("/api/summaries/generate?user_id=%d&date=2026-03-05", user.ID), nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("got status %d for empty day, want 404: %s", w.Code, w.Body.String())
	}
}

func TestSummarySpeedUnitConversion(t *testing.T) {
	server, database := setupTestServer(t, units.MPH)
	user := createUser(t, database, "Alice", "+998901234567")
	day := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
	seedDay(t, database, user.ID, day)

	w := postJSON(t, server, fmt.Sprintf("/api/summaries/generate?user_id=%d&date=2026-03-05", user.ID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("got status %d from generate, want 200", w.Code)
	}

	var s db.DailySummary
	if err := json.Unmarshal(w.Body.Bytes(), &s); err != nil {
		t.Fatalf("Failed to decode summary: %v", err)
	}
	// 20 km/h max is about 12.43 mph.
	if s.MaxSpeed == nil || math.Abs(*s.MaxSpeed-20.0*0.621371) > 0.01 {
		t.Errorf("got max speed %v, want ~12.43 mph", s.MaxSpeed)
	}
}

func TestSummariesRange(t *testing.T) {
	server, database := setupTestServer(t, units.KMPH)
	user := createUser(t, database, "Alice", "+998901234567")

	for i := 0; i < 3; i++ {
		day := time.Date(2026, 3, 5+i, 0, 0, 0, 0, time.UTC)
		seedDay(t, database, user.ID, day)
		w := postJSON(t, server, fmt.Sprintf("/api/summaries/generate?user_id=%d&date=%s",
			user.ID, day.Format("2006-01-02")), nil)
		if w.Code != http.StatusOK {
			t.Fatalf("generate for %v failed: %d", day, w.Code)
		}
	}

	w := get(t, server, fmt.Sprintf("/api/summaries/range?user_id=%d&from=2026-03-05&to=2026-03-06", user.ID))
	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200: %s", w.Code, w.Body.String())
	}
	var summaries []db.DailySummary
	if err := json.Unmarshal(w.Body.Bytes(), &summaries); err != nil {
		t.Fatalf("Failed to decode summaries: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("got %d summaries, want 2", len(summaries))
	}

	// Inverted range is rejected.
	w = get(t, server, fmt.Sprintf("/api/summaries/range?user_id=%d&from=2026-03-06&to=2026-03-05", user.ID))
	if w.Code != http.StatusBadRequest {
		t.Errorf("got status %d for inverted range, want 400", w.Code)
	}
}

func TestProcessDayEndpoint(t *testing.T) {
	server, database := setupTestServer(t, units.KMPH)
	alice := createUser(t, database, "Alice", "+998901234567")
	createUser(t, database, "Bob", "+998907654321")
	day := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
	seedDay(t, database, alice.ID, day)

	w := postJSON(t, server, "/api/process_day?date=2026-03-05", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200: %s", w.Code, w.Body.String())
	}

	var report summary.RunReport
	if err := json.Unmarshal(w.Body.Bytes(), &report); err != nil {
		t.Fatalf("Failed to decode report: %v", err)
	}
	if report.Processed != 1 || report.Skipped != 1 {
		t.Errorf("got processed=%d skipped=%d, want 1 and 1", report.Processed, report.Skipped)
	}
}

func TestSimulateEndpoint(t *testing.T) {
	server, database := setupTestServer(t, units.KMPH)
	user := createUser(t, database, "Alice", "+998901234567")

	w := postJSON(t, server, fmt.Sprintf("/api/simulate?user_id=%d&date=2026-03-05", user.ID), nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("got status %d, want 201: %s", w.Code, w.Body.String())
	}

	// The generated day aggregates cleanly.
	w = postJSON(t, server, fmt.Sprintf("/api/summaries/generate?user_id=%d&date=2026-03-05", user.ID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("got status %d from generate, want 200", w.Code)
	}
	var s db.DailySummary
	if err := json.Unmarshal(w.Body.Bytes(), &s); err != nil {
		t.Fatalf("Failed to decode summary: %v", err)
	}
	if s.TotalLocations == 0 || s.TotalDistanceKm <= 0 {
		t.Errorf("expected a populated summary, got %+v", s)
	}
}

func TestLatestLocations(t *testing.T) {
	server, database := setupTestServer(t, units.KMPH)
	user := createUser(t, database, "Alice", "+998901234567")
	day := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
	seedDay(t, database, user.ID, day)

	w := get(t, server, "/api/locations/latest")
	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", w.Code)
	}
	var locs []db.Location
	if err := json.Unmarshal(w.Body.Bytes(), &locs); err != nil {
		t.Fatalf("Failed to decode locations: %v", err)
	}
	if len(locs) != 1 {
		t.Fatalf("got %d locations, want 1", len(locs))
	}
	if !locs[0].Timestamp.Equal(day.Add(11*time.Hour + 30*time.Minute)) {
		t.Errorf("got %v, want the newest point", locs[0].Timestamp)
	}
}

func TestUserLocations(t *testing.T) {
	server, database := setupTestServer(t, units.KMPH)
	user := createUser(t, database, "Alice", "+998901234567")
	day := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
	seedDay(t, database, user.ID, day)

	w := get(t, server, fmt.Sprintf("/api/users/%d/locations?limit=2", user.ID))
	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", w.Code)
	}
	var locs []db.Location
	if err := json.Unmarshal(w.Body.Bytes(), &locs); err != nil {
		t.Fatalf("Failed to decode locations: %v", err)
	}
	if len(locs) != 2 {
		t.Fatalf("got %d locations, want 2", len(locs))
	}

	w = get(t, server, "/api/users/notanumber/locations")
	if w.Code != http.StatusBadRequest {
		t.Errorf("got status %d for bad user id, want 400", w.Code)
	}
}

func TestShowUser(t *testing.T) {
	server, database := setupTestServer(t, units.KMPH)
	user := createUser(t, database, "Alice", "+998901234567")

	w := get(t, server, fmt.Sprintf("/api/users/%d", user.ID))
	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", w.Code)
	}

	w = get(t, server, "/api/users/9999")
	if w.Code != http.StatusNotFound {
		t.Errorf("got status %d for missing user, want 404", w.Code)
	}
}

func TestShowConfig(t *testing.T) {
	server, _ := setupTestServer(t, units.MPH)

	w := get(t, server, "/api/config")
	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", w.Code)
	}
	var config map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &config); err != nil {
		t.Fatalf("Failed to decode config: %v", err)
	}
	if config["units"] != "mph" {
		t.Errorf("got units %v, want mph", config["units"])
	}
}

func TestSummaryChart(t *testing.T) {
	server, database := setupTestServer(t, units.KMPH)
	user := createUser(t, database, "Alice", "+998901234567")
	day := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
	seedDay(t, database, user.ID, day)

	postJSON(t, server, fmt.Sprintf("/api/summaries/generate?user_id=%d&date=2026-03-05", user.ID), nil)

	w := get(t, server, fmt.Sprintf("/api/summaries/chart?user_id=%d&date=2026-03-05", user.ID))
	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/html; charset=utf-8" {
		t.Errorf("got content type %q, want text/html", ct)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	server, _ := setupTestServer(t, units.KMPH)

	w := get(t, server, "/api/process_day?date=2026-03-05")
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("got status %d for GET process_day, want 405", w.Code)
	}

	req := httptest.NewRequest(http.MethodDelete, "/api/locations", nil)
	rec := httptest.NewRecorder()
	server.ServeMux().ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("got status %d for DELETE locations, want 405", rec.Code)
	}
}
