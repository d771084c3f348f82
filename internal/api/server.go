package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/waypoint-data/waypoint.report/internal/db"
	"github.com/waypoint-data/waypoint.report/internal/ingest"
	"github.com/waypoint-data/waypoint.report/internal/summary"
	"github.com/waypoint-data/waypoint.report/internal/units"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

const dateLayout = "2006-01-02"

// Simulator generates a synthetic day of location points for a user.
type Simulator interface {
	GenerateDay(userID int64, date time.Time) []db.Location
}

type Server struct {
	db            *db.DB
	filter        *ingest.Filter
	aggregator    *summary.Aggregator
	batch         *summary.BatchDriver
	hub           *LocationHub
	sim           Simulator
	units         string
	retentionDays int
}

func NewServer(database *db.DB, filter *ingest.Filter, aggregator *summary.Aggregator, batch *summary.BatchDriver, hub *LocationHub, sim Simulator, speedUnits string, retentionDays int) *Server {
	return &Server{
		db:            database,
		filter:        filter,
		aggregator:    aggregator,
		batch:         batch,
		hub:           hub,
		sim:           sim,
		units:         speedUnits,
		retentionDays: retentionDays,
	}
}

// convertSpeedPtr applies unit conversion to an optional speed value.
// Speeds are stored in km/h.
func (s *Server) convertSpeedPtr(speed *float64) *float64 {
	if speed == nil {
		return nil
	}
	converted := units.ConvertSpeed(*speed, s.units)
	return &converted
}

// convertSummarySpeeds applies unit conversion to the speed fields of
// a daily summary and its hourly breakdown.
func (s *Server) convertSummarySpeeds(summary *db.DailySummary) {
	summary.AverageSpeed = s.convertSpeedPtr(summary.AverageSpeed)
	summary.MaxSpeed = s.convertSpeedPtr(summary.MaxSpeed)
	for i := range summary.HourlySummaries {
		summary.HourlySummaries[i].AverageSpeed = s.convertSpeedPtr(summary.HourlySummaries[i].AverageSpeed)
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400 && statusCode < 500:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 500:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// WebSocket upgrades need the raw ResponseWriter so the
		// connection can be hijacked.
		if strings.HasPrefix(r.URL.Path, "/ws/") {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/locations", s.ingestLocations)
	mux.HandleFunc("/api/locations/latest", s.listLatestLocations)
	mux.HandleFunc("/api/users", s.handleUsers)
	mux.HandleFunc("/api/users/", s.handleUserSubtree)
	mux.HandleFunc("/api/summaries", s.showSummary)
	mux.HandleFunc("/api/summaries/range", s.listSummaries)
	mux.HandleFunc("/api/summaries/generate", s.generateSummary)
	mux.HandleFunc("/api/summaries/chart", s.showSummaryChart)
	mux.HandleFunc("/api/process_day", s.processDay)
	mux.HandleFunc("/api/simulate", s.simulateDay)
	mux.HandleFunc("/api/config", s.showConfig)
	mux.HandleFunc("/ws/locations", s.hub.serveWS)
	return mux
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// locationRequest is the ingestion payload for a single GPS point.
type locationRequest struct {
	UserID    int64     `json:"user_id"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
	Speed     *float64  `json:"speed,omitempty"`
	Accuracy  *float64  `json:"accuracy,omitempty"`
}

type ingestResponse struct {
	Saved     int           `json:"saved"`
	Coalesced int           `json:"coalesced"`
	Locations []db.Location `json:"locations,omitempty"`
}

// ingestLocations accepts a single ping or a JSON array of pings. Each
// ping runs through the dedup filter independently; persisted pings
// are broadcast to the realtime hub.
func (s *Server) ingestLocations(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	var reqs []locationRequest
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '[' {
		err = json.Unmarshal(body, &reqs)
	} else {
		var single locationRequest
		if err = json.Unmarshal(body, &single); err == nil {
			reqs = []locationRequest{single}
		}
	}
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(reqs) == 0 {
		s.writeJSONError(w, http.StatusBadRequest, "No locations in request")
		return
	}

	for i := range reqs {
		req := &reqs[i]
		if req.Latitude < -90 || req.Latitude > 90 || req.Longitude < -180 || req.Longitude > 180 {
			s.writeJSONError(w, http.StatusBadRequest, "Coordinates out of range")
			return
		}
		if req.Timestamp.IsZero() {
			req.Timestamp = time.Now().UTC()
		}
		exists, err := s.db.UserExists(req.UserID)
		if err != nil {
			s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to look up user: %v", err))
			return
		}
		if !exists {
			s.writeJSONError(w, http.StatusNotFound, fmt.Sprintf("Unknown user %d", req.UserID))
			return
		}
	}

	var resp ingestResponse
	for _, req := range reqs {
		loc := db.Location{
			UserID:    req.UserID,
			Latitude:  req.Latitude,
			Longitude: req.Longitude,
			Timestamp: req.Timestamp.UTC(),
			Speed:     req.Speed,
			Accuracy:  req.Accuracy,
		}

		decision, err := s.filter.Decide(&loc)
		if err != nil {
			s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to ingest location: %v", err))
			return
		}
		if decision.Persisted {
			resp.Saved++
			resp.Locations = append(resp.Locations, loc)
			s.hub.BroadcastLocation(&loc)
		} else {
			resp.Coalesced++
		}
	}

	if resp.Saved > 0 {
		w.WriteHeader(http.StatusCreated)
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write response")
		return
	}
}

func (s *Server) listLatestLocations(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	locations, err := s.db.LatestLocationPerUser()
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve locations: %v", err))
		return
	}

	for i := range locations {
		locations[i].Speed = s.convertSpeedPtr(locations[i].Speed)
	}

	if err := json.NewEncoder(w).Encode(locations); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write locations")
		return
	}
}

type createUserRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	switch r.Method {
	case http.MethodGet:
		users, err := s.db.ListUsers()
		if err != nil {
			s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve users: %v", err))
			return
		}
		if err := json.NewEncoder(w).Encode(users); err != nil {
			s.writeJSONError(w, http.StatusInternalServerError, "Failed to write users")
		}
	case http.MethodPost:
		var req createUserRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if req.Name == "" || req.Phone == "" {
			s.writeJSONError(w, http.StatusBadRequest, "Name and phone are required")
			return
		}
		user := db.User{Name: req.Name, Phone: req.Phone, IsActive: true}
		err := s.db.CreateUser(&user)
		if errors.Is(err, db.ErrDuplicatePhone) {
			s.writeJSONError(w, http.StatusConflict, "Phone number already registered")
			return
		}
		if err != nil {
			s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to create user: %v", err))
			return
		}
		w.WriteHeader(http.StatusCreated)
		if err := json.NewEncoder(w).Encode(user); err != nil {
			s.writeJSONError(w, http.StatusInternalServerError, "Failed to write user")
		}
	default:
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleUserSubtree dispatches /api/users/{id} and
// /api/users/{id}/locations.
func (s *Server) handleUserSubtree(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/users/")
	idPart, tail, _ := strings.Cut(rest, "/")
	userID, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "Invalid user id")
		return
	}

	switch tail {
	case "":
		s.showUser(w, userID)
	case "locations":
		s.listUserLocations(w, r, userID)
	default:
		s.writeJSONError(w, http.StatusNotFound, "Not found")
	}
}

func (s *Server) showUser(w http.ResponseWriter, userID int64) {
	user, err := s.db.UserByID(userID)
	if errors.Is(err, db.ErrUserNotFound) {
		s.writeJSONError(w, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve user: %v", err))
		return
	}
	if err := json.NewEncoder(w).Encode(user); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write user")
	}
}

func (s *Server) listUserLocations(w http.ResponseWriter, r *http.Request, userID int64) {
	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	locations, err := s.db.RecentLocationsForUser(userID, limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve locations: %v", err))
		return
	}

	for i := range locations {
		locations[i].Speed = s.convertSpeedPtr(locations[i].Speed)
	}

	if err := json.NewEncoder(w).Encode(locations); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write locations")
	}
}

// parseUserDate extracts the user_id and date query parameters shared
// by the summary endpoints.
func (s *Server) parseUserDate(w http.ResponseWriter, r *http.Request) (int64, time.Time, bool) {
	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "Invalid 'user_id' parameter")
		return 0, time.Time{}, false
	}

	date, err := time.ParseInLocation(dateLayout, r.URL.Query().Get("date"), time.UTC)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "Invalid 'date' parameter, expected YYYY-MM-DD")
		return 0, time.Time{}, false
	}
	return userID, date, true
}

func (s *Server) showSummary(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	userID, date, ok := s.parseUserDate(w, r)
	if !ok {
		return
	}

	daily, err := s.db.DailySummaryByUserDate(userID, date, true)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve summary: %v", err))
		return
	}
	if daily == nil {
		s.writeJSONError(w, http.StatusNotFound, "No summary for that user and date")
		return
	}

	s.convertSummarySpeeds(daily)
	if err := json.NewEncoder(w).Encode(daily); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write summary")
	}
}

func (s *Server) listSummaries(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "Invalid 'user_id' parameter")
		return
	}
	from, err := time.ParseInLocation(dateLayout, r.URL.Query().Get("from"), time.UTC)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "Invalid 'from' parameter, expected YYYY-MM-DD")
		return
	}
	to, err := time.ParseInLocation(dateLayout, r.URL.Query().Get("to"), time.UTC)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "Invalid 'to' parameter, expected YYYY-MM-DD")
		return
	}
	if to.Before(from) {
		s.writeJSONError(w, http.StatusBadRequest, "'to' must not be before 'from'")
		return
	}

	summaries, err := s.db.DailySummariesForUser(userID, from, to)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve summaries: %v", err))
		return
	}

	for i := range summaries {
		s.convertSummarySpeeds(&summaries[i])
	}

	if err := json.NewEncoder(w).Encode(summaries); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write summaries")
	}
}

func (s *Server) generateSummary(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	userID, date, ok := s.parseUserDate(w, r)
	if !ok {
		return
	}

	daily, err := s.aggregator.AggregateDay(userID, date)
	if errors.Is(err, summary.ErrNoData) {
		s.writeJSONError(w, http.StatusNotFound, "No location data for that user and date")
		return
	}
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to generate summary: %v", err))
		return
	}

	s.convertSummarySpeeds(daily)
	if err := json.NewEncoder(w).Encode(daily); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write summary")
	}
}

func (s *Server) processDay(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	date, err := time.ParseInLocation(dateLayout, r.URL.Query().Get("date"), time.UTC)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "Invalid 'date' parameter, expected YYYY-MM-DD")
		return
	}

	report, err := s.batch.ProcessDay(r.Context(), date)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to process day: %v", err))
		return
	}

	if err := json.NewEncoder(w).Encode(report); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write report")
	}
}

func (s *Server) simulateDay(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	userID, date, ok := s.parseUserDate(w, r)
	if !ok {
		return
	}

	exists, err := s.db.UserExists(userID)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to look up user: %v", err))
		return
	}
	if !exists {
		s.writeJSONError(w, http.StatusNotFound, "Unknown user")
		return
	}

	points := s.sim.GenerateDay(userID, date)
	if err := s.db.InsertLocations(points); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to insert simulated locations: %v", err))
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"user_id":  userID,
		"date":     date.Format(dateLayout),
		"inserted": len(points),
	})
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	config := map[string]interface{}{
		"units":           s.units,
		"retention_days":  s.retentionDays,
		"coalesce_radius": ingest.CoalesceRadiusMeters,
	}

	if err := json.NewEncoder(w).Encode(config); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write config")
		return
	}
}
