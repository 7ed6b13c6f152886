package main

import (
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// StartSyncScheduler starts a cron-based scheduler that periodically runs
// the full sync (parse, ratings, notes) against the configured input
// files and posts the tally to Slack when a channel is configured.
// The schedule is a standard 5-field cron expression (minute hour
// day-of-month month day-of-week), e.g. "0 7 * * 1" (Mondays 7am).
func StartSyncScheduler(cfg Config, db *sql.DB) {
	schedule := strings.TrimSpace(cfg.SyncSchedule)
	if schedule == "" {
		log.Println("Scheduled sync disabled (sync_schedule not set)")
		return
	}
	if cfg.SyncCSVPath == "" && cfg.SyncEmailPath == "" {
		log.Println("Scheduled sync disabled: neither sync_csv_path nor sync_email_path is set")
		return
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(schedule)
	if err != nil {
		log.Printf("Invalid sync_schedule '%s': %v - scheduled sync disabled", schedule, err)
		return
	}

	log.Printf("Sync scheduled (cron: %s) csv=%s emails=%s dry_run=%v",
		schedule, cfg.SyncCSVPath, cfg.SyncEmailPath, cfg.SyncDryRun)

	go func() {
		for {
			now := time.Now()
			next := sched.Next(now)
			wait := next.Sub(now)
			log.Printf("Next sync at %s (in %s)", next.Format("Mon Jan 2 15:04"), wait.Round(time.Minute))

			time.Sleep(wait)

			summary := runScheduledSync(cfg, db)
			log.Printf("Scheduled sync complete: %s", summary)

			if cfg.SlackChannelID != "" {
				if err := PostRunSummary(cfg, "Crewhu sync complete:\n"+summary); err != nil {
					log.Printf("Sync summary post error: %v", err)
				}
			}
		}
	}()
}

// runScheduledSync runs the unattended pipeline and returns a tally
// summary. Each stage's tally is persisted like an interactive run.
func runScheduledSync(cfg Config, db *sql.DB) string {
	if ok, missing := cfg.ValidateCredentials(); !ok {
		return "missing credentials: " + strings.Join(missing, ", ")
	}
	client := NewCWClient(cfg)
	sink := logSink{}
	var lines []string

	record := func(result RunResult, startedAt time.Time) {
		if _, err := RecordRun(db, result, startedAt, time.Now()); err != nil {
			log.Printf("Failed to record run: %v", err)
		}
		lines = append(lines, result.Summary())
	}

	var surveys []SurveyRecord
	if cfg.SyncEmailPath != "" {
		notifications, err := ReadNotifications(cfg.SyncEmailPath)
		if err != nil {
			lines = append(lines, fmt.Sprintf("parse failed: %v", err))
		} else {
			var stats IndexStats
			surveys, stats = BuildSurveyIndex(notifications)
			lines = append(lines, fmt.Sprintf("parse complete: scanned=%d extracted=%d skipped=%d",
				stats.Scanned, stats.Extracted, stats.Skipped))
		}
	}

	if cfg.SyncCSVPath != "" {
		rows, err := ReadCSVRows(cfg.SyncCSVPath)
		if err != nil {
			lines = append(lines, fmt.Sprintf("ratings failed: %v", err))
		} else {
			ratings, _ := LoadRatingRows(rows)
			startedAt := time.Now()
			record(RunRatings(client, ratings, cfg.SyncDryRun, sink, nil), startedAt)
		}
	}

	if len(surveys) > 0 {
		startedAt := time.Now()
		record(RunNotes(client, surveys, cfg.SyncDryRun, sink, nil), startedAt)
	}

	if len(lines) == 0 {
		return "nothing to do"
	}
	return strings.Join(lines, "\n")
}
