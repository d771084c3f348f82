package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/waypoint-data/waypoint.report/internal/api"
	"github.com/waypoint-data/waypoint.report/internal/db"
	"github.com/waypoint-data/waypoint.report/internal/ingest"
	"github.com/waypoint-data/waypoint.report/internal/simdata"
	"github.com/waypoint-data/waypoint.report/internal/summary"
	"github.com/waypoint-data/waypoint.report/internal/timeutil"
	"github.com/waypoint-data/waypoint.report/internal/units"
)

var (
	listen        = flag.String("listen", ":8080", "Listen address")
	dbPath        = flag.String("db", "waypoint.db", "Path to the SQLite database file")
	speedUnits    = flag.String("units", units.KMPH, "Speed units for API responses (mps, mph, kmph)")
	retentionDays = flag.Int("retention-days", summary.DefaultRetentionDays, "Days of raw locations to keep")
	disableWorker = flag.Bool("disable-worker", false, "Disable the midnight summary worker")
)

func main() {
	flag.Parse()

	// The migrate subcommand manages the schema and exits.
	if flag.Arg(0) == "migrate" {
		db.RunMigrateCommand(flag.Args()[1:], *dbPath)
		return
	}

	if *listen == "" {
		log.Fatal("Listen address is required")
	}
	if !units.IsValid(*speedUnits) {
		log.Fatalf("Invalid units %q, expected one of: %s", *speedUnits, units.GetValidUnitsString())
	}
	if *retentionDays <= 0 {
		log.Fatalf("Retention days must be positive, got %d", *retentionDays)
	}

	database, err := db.NewDB(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer database.Close()

	clock := timeutil.RealClock{}
	filter := ingest.NewFilter(database)
	aggregator := summary.NewAggregator(database, database)
	batch := summary.NewBatchDriver(aggregator, database)
	cleaner := summary.NewCleaner(database, clock)
	hub := api.NewLocationHub()
	sim := simdata.NewGenerator(time.Now().UnixNano())

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// WebSocket hub routine
	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.Run(ctx)
		log.Print("websocket hub routine terminated")
	}()

	// Midnight summary worker
	if *disableWorker {
		log.Print("summary worker disabled")
	} else {
		worker := summary.NewWorker(batch, cleaner, *retentionDays, clock)
		worker.Start()
		defer worker.Stop()
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()

		// mount the admin debugging routes
		database.AttachAdminRoutes(mux)

		server := api.NewServer(database, filter, aggregator, batch, hub, sim, *speedUnits, *retentionDays)
		apiMux := server.ServeMux()
		mux.Handle("/api/", apiMux)
		mux.Handle("/ws/", apiMux)

		httpServer := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			log.Printf("listening on %s", *listen)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}

		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
