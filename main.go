package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/junction-data/crossing.report/internal/api"
	"github.com/junction-data/crossing.report/internal/config"
	"github.com/junction-data/crossing.report/internal/db"
	"github.com/junction-data/crossing.report/internal/report"
	"github.com/junction-data/crossing.report/internal/version"
	"github.com/junction-data/crossing.report/internal/vision/detect"
	"github.com/junction-data/crossing.report/internal/vision/pipeline"
	"github.com/junction-data/crossing.report/internal/vision/zones"
)

var (
	detectionsPath = flag.String("detections", "", "Path to the per-frame detection log (JSONL)")
	zonesPath      = flag.String("zones", "", "Path to the zone geometry calibration file (JSON)")
	configPath     = flag.String("config", "", "Optional session config file (JSON)")
	dbPath         = flag.String("db", "crossing.db", "SQLite database path (empty to disable persistence)")
	reportDir      = flag.String("reports", "", "Directory for post-run report artifacts (empty to disable)")
	listen         = flag.String("listen", "", "HTTP listen address for the live API (empty to disable)")
	frameWidth     = flag.Int("width", 1920, "Frame width in pixels")
	frameHeight    = flag.Int("height", 1080, "Frame height in pixels")
	verbose        = flag.Bool("v", false, "Enable diagnostic logging")
	showVersion    = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("crossing.report %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}

	if *detectionsPath == "" {
		log.Fatal("-detections is required")
	}
	if *zonesPath == "" {
		log.Fatal("-zones is required")
	}
	if *frameWidth <= 0 || *frameHeight <= 0 {
		log.Fatal("-width and -height must be positive")
	}

	if *verbose {
		pipeline.SetLegacyLogger(os.Stderr)
	} else {
		pipeline.SetLogWriters(os.Stderr, nil, nil)
	}

	// Config and geometry problems are fatal: a session must not start with
	// inputs that would corrupt every frame.
	cfg := config.DefaultSessionConfig()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadSessionConfig(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}

	zoneSet, err := zones.LoadSet(*zonesPath, cfg.GetZonePriorityOrder())
	if err != nil {
		log.Fatalf("failed to load zone geometry: %v", err)
	}

	src, err := detect.NewReplaySource(*detectionsPath)
	if err != nil {
		log.Fatalf("failed to open detection log: %v", err)
	}
	defer src.Close()

	var sink pipeline.Sink
	var database *db.DB
	if *dbPath != "" {
		database, err = db.Open(*dbPath)
		if err != nil {
			log.Fatalf("failed to open database: %v", err)
		}
		defer database.Close()
		sink = db.NewSessionSink(database)
	}

	session := pipeline.NewSession(cfg, zoneSet, *frameWidth, *frameHeight, sink)
	if database != nil {
		if err := database.StartSession(session.ID()); err != nil {
			log.Fatalf("failed to record session start: %v", err)
		}
	}
	log.Printf("session %s: replaying %s", session.ID(), *detectionsPath)

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Optional live API server
	if *listen != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()

			server := &http.Server{
				Addr:    *listen,
				Handler: api.NewServer(session).ServeMux(),
			}

			go func() {
				log.Printf("serving live API on %s", *listen)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatalf("failed to start server: %v", err)
				}
			}()

			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Printf("HTTP server shutdown error: %v", err)
			}
		}()
	}

	// Replay loop
	frames, runErr := pipeline.Run(ctx, session, src)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Printf("replay stopped after %d frames: %v", frames, runErr)
	}
	summary := session.Finalize()
	stop() // release the signal handler and shut the API server down
	wg.Wait()

	if database != nil {
		if err := database.FinishSession(summary); err != nil {
			log.Printf("failed to record session end: %v", err)
		}
	}

	if *reportDir != "" {
		if path, err := report.WriteCountsChart(*reportDir, summary); err != nil {
			log.Printf("counts chart: %v", err)
		} else {
			log.Printf("wrote %s", path)
		}
		trails, labels := session.Trails()
		if path, err := report.WriteTrajectoryPlot(*reportDir, summary.SessionID, zoneSet, trails, labels, *frameWidth, *frameHeight); err != nil {
			log.Printf("trajectory plot: %v", err)
		} else {
			log.Printf("wrote %s", path)
		}
	}

	printSummary(summary)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		os.Exit(1)
	}
}

func printSummary(s pipeline.Summary) {
	fmt.Printf("\nSession %s\n", s.SessionID)
	fmt.Printf("  frames:   %d processed, %d dropped (%.1fs)\n",
		s.FramesProcessed, s.FramesDropped, s.Elapsed.Seconds())
	fmt.Printf("  tracks:   %d created, %d lost, %d counted\n",
		s.TracksCreated, s.TracksLost, s.TracksCounted)
	if s.DetectionsRejected > 0 {
		fmt.Printf("  rejected: %d malformed detections\n", s.DetectionsRejected)
	}
	fmt.Printf("  counts:   N=%d S=%d E=%d W=%d (total %d)\n",
		s.Counts.ByZone[zones.ZoneNorth], s.Counts.ByZone[zones.ZoneSouth],
		s.Counts.ByZone[zones.ZoneEast], s.Counts.ByZone[zones.ZoneWest],
		s.Counts.Total)
	for _, zone := range zones.CanonicalOrder {
		perClass := s.Counts.ByClass[zone]
		if len(perClass) == 0 {
			continue
		}
		fmt.Printf("  %s by class:%s\n", zone, perClassLine(perClass))
	}
}

// perClassLine formats a per-class tally in alphabetical class order so the
// summary is identical run to run.
func perClassLine(perClass map[string]int64) string {
	classes := make([]string, 0, len(perClass))
	for class := range perClass {
		classes = append(classes, class)
	}
	sort.Strings(classes)

	var b strings.Builder
	for _, class := range classes {
		fmt.Fprintf(&b, " %s=%d", class, perClass[class])
	}
	return b.String()
}
