package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"
)

func main() {
	cmd := "serve"
	args := os.Args[1:]
	if len(args) > 0 {
		cmd = args[0]
		args = args[1:]
	}

	cfg := LoadConfig()
	appliedTimeout := ConfigureExternalHTTPClient(cfg.HTTPTimeoutSeconds)
	log.Printf("HTTP timeout: %s", appliedTimeout)

	switch cmd {
	case "parse":
		cmdParse(cfg, args)
	case "ratings":
		cmdRatings(cfg, args)
	case "notes":
		cmdNotes(cfg, args)
	case "links":
		cmdLinks(cfg, args)
	case "clean-notes":
		cmdCleanNotes(cfg, args)
	case "serve":
		cmdServe(cfg)
	default:
		fmt.Fprintf(os.Stderr, "Usage: %s [parse|ratings|notes|links|clean-notes|serve] [flags]\n", os.Args[0])
		os.Exit(2)
	}
}

func openDB(cfg Config) *sql.DB {
	db, err := InitDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to init database: %v", err)
	}
	return db
}

func recordAndLog(db *sql.DB, result RunResult, startedAt time.Time) {
	if _, err := RecordRun(db, result, startedAt, time.Now()); err != nil {
		log.Printf("Failed to record run: %v", err)
	}
	log.Print(result.Summary())
}

func cmdParse(cfg Config, args []string) {
	fs := flag.NewFlagSet("parse", flag.ExitOnError)
	in := fs.String("in", "crewhu_notifications.json", "notification export JSON")
	out := fs.String("out", "crewhu_surveys_clean.json", "clean survey JSON output")
	dryRun := fs.Bool("dry-run", false, "preview without writing the output file")
	fs.Parse(args)

	result, err := RunParse(*in, *out, *dryRun, logSink{})
	if err != nil {
		log.Fatalf("Parse failed: %v", err)
	}
	log.Print(result.Summary())
}

func cmdRatings(cfg Config, args []string) {
	fs := flag.NewFlagSet("ratings", flag.ExitOnError)
	csvPath := fs.String("csv", "", "survey history CSV")
	dryRun := fs.Bool("dry-run", false, "simulate without mutating tickets")
	fs.Parse(args)
	if *csvPath == "" {
		log.Fatal("ratings: -csv is required")
	}

	cfg.RequireCredentials()
	db := openDB(cfg)
	defer db.Close()

	rows, err := ReadCSVRows(*csvPath)
	if err != nil {
		log.Fatalf("Failed to read CSV: %v", err)
	}
	ratings, skipped := LoadRatingRows(rows)
	if skipped > 0 {
		log.Printf("Skipped %d rows with invalid ticket numbers", skipped)
	}

	startedAt := time.Now()
	result := RunRatings(NewCWClient(cfg), ratings, *dryRun, logSink{}, nil)
	result.Total += skipped
	result.Skipped += skipped
	recordAndLog(db, result, startedAt)
}

func cmdNotes(cfg Config, args []string) {
	fs := flag.NewFlagSet("notes", flag.ExitOnError)
	in := fs.String("in", "crewhu_surveys_clean.json", "clean survey JSON")
	dryRun := fs.Bool("dry-run", false, "simulate without mutating tickets")
	fs.Parse(args)

	cfg.RequireCredentials()
	db := openDB(cfg)
	defer db.Close()

	records, err := ReadSurveyRecords(*in)
	if err != nil {
		log.Fatalf("Failed to read surveys: %v", err)
	}

	startedAt := time.Now()
	result := RunNotes(NewCWClient(cfg), records, *dryRun, logSink{}, nil)
	recordAndLog(db, result, startedAt)
}

func cmdLinks(cfg Config, args []string) {
	fs := flag.NewFlagSet("links", flag.ExitOnError)
	csvPath := fs.String("csv", "", "survey history CSV")
	in := fs.String("in", "crewhu_notifications.json", "notification export JSON")
	dryRun := fs.Bool("dry-run", false, "simulate without mutating tickets")
	fs.Parse(args)
	if *csvPath == "" {
		log.Fatal("links: -csv is required")
	}

	cfg.RequireCredentials()
	db := openDB(cfg)
	defer db.Close()

	rows, err := ReadCSVRows(*csvPath)
	if err != nil {
		log.Fatalf("Failed to read CSV: %v", err)
	}
	tickets, skipped := LoadTicketSet(rows)
	log.Printf("Loaded %d tickets from CSV (%d rows skipped)", len(tickets), skipped)

	notifications, err := ReadNotifications(*in)
	if err != nil {
		log.Fatalf("Failed to read notifications: %v", err)
	}

	startedAt := time.Now()
	result := RunLinks(NewCWClient(cfg), tickets, notifications, *dryRun, logSink{}, nil)
	recordAndLog(db, result, startedAt)
}

func cmdCleanNotes(cfg Config, args []string) {
	fs := flag.NewFlagSet("clean-notes", flag.ExitOnError)
	in := fs.String("in", "crewhu_surveys_clean.json", "clean survey JSON")
	dryRun := fs.Bool("dry-run", false, "list deletions without performing them")
	fs.Parse(args)

	cfg.RequireCredentials()
	db := openDB(cfg)
	defer db.Close()

	records, err := ReadSurveyRecords(*in)
	if err != nil {
		log.Fatalf("Failed to read surveys: %v", err)
	}

	startedAt := time.Now()
	result := RunCleanNotes(NewCWClient(cfg), records, *dryRun, logSink{}, nil)
	recordAndLog(db, result, startedAt)
}

func cmdServe(cfg Config) {
	db := openDB(cfg)
	defer db.Close()

	if err := os.MkdirAll(cfg.UploadDir, 0755); err != nil {
		log.Fatalf("Failed to create upload dir: %v", err)
	}

	StartSyncScheduler(cfg, db)

	server := NewServer(cfg, db)
	log.Printf("Starting Crewhu sync server on %s", cfg.ListenAddr)
	if err := http.ListenAndServe(cfg.ListenAddr, server.Handler()); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
