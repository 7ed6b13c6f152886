package main

import (
	"fmt"
	"strings"
)

// Outcome classifies what a run did to one ticket. Every entry point
// reports the same three counters.
type Outcome string

const (
	OutcomeUpdated Outcome = "updated"
	OutcomeSkipped Outcome = "skipped"
	OutcomeError   Outcome = "error"
)

// TicketOutcome is the per-ticket result of one reconciliation step.
// DeleteErrors surfaces the non-transactional NoteReplace hazard: a
// delete that succeeded before a failed create leaves the ticket without
// an automation note until the next run posts one.
type TicketOutcome struct {
	TicketID     int
	Outcome      Outcome
	Reason       string
	NotesDeleted int
	DeleteErrors []string
	DryRun       bool
}

// RunResult is the tally every run entry point produces. A dry run
// produces the same classification counts as a live run against the same
// backend state, with zero mutating calls.
type RunResult struct {
	Mode    string
	DryRun  bool
	Total   int
	Updated int
	Skipped int
	Errors  int
	Stopped bool
	Tickets []TicketOutcome
}

func (r *RunResult) record(t TicketOutcome) {
	t.DryRun = r.DryRun
	switch t.Outcome {
	case OutcomeUpdated:
		r.Updated++
	case OutcomeSkipped:
		r.Skipped++
	case OutcomeError:
		r.Errors++
	}
	r.Tickets = append(r.Tickets, t)
}

// Summary returns the human-readable tally line.
func (r RunResult) Summary() string {
	s := fmt.Sprintf("%s complete: total=%d updated=%d skipped=%d errors=%d",
		r.Mode, r.Total, r.Updated, r.Skipped, r.Errors)
	if r.DryRun {
		s += " (dry run)"
	}
	if r.Stopped {
		s += " (stopped early)"
	}
	return s
}

// stopRequested checks the cooperative stop channel between tickets. It
// never interrupts an in-flight remote call.
func stopRequested(stop <-chan struct{}) bool {
	if stop == nil {
		return false
	}
	select {
	case <-stop:
		return true
	default:
		return false
	}
}

func stepProgress(i, total int) int {
	if total == 0 {
		return 100
	}
	return 10 + i*85/total
}

// RunRatings writes mapped rating labels into the "Latest Crewhu Rating"
// custom field, one ticket at a time. Unmapped labels are skipped, never
// attempted against the API.
func RunRatings(client *CWClient, rows []RatingRow, dryRun bool, sink ProgressSink, stop <-chan struct{}) RunResult {
	result := RunResult{Mode: "ratings", DryRun: dryRun, Total: len(rows)}
	sink.Publish(fmt.Sprintf("Starting ratings update for %d rows", len(rows)), 0, "info")

	for i, row := range rows {
		if stopRequested(stop) {
			result.Stopped = true
			break
		}
		progress := stepProgress(i, len(rows))

		value, ok := MapRating(row.RatingLabel)
		if !ok {
			sink.Publish(fmt.Sprintf("Ticket %d: rating '%s' not mapped, skipping", row.TicketID, row.RatingLabel), progress, "info")
			result.record(TicketOutcome{TicketID: row.TicketID, Outcome: OutcomeSkipped, Reason: "rating not mapped: " + row.RatingLabel})
			continue
		}

		if dryRun {
			sink.Publish(fmt.Sprintf("[DRY RUN] Ticket %d: would set rating to %s", row.TicketID, value), progress, "info")
			result.record(TicketOutcome{TicketID: row.TicketID, Outcome: OutcomeUpdated, Reason: "would set rating to " + value})
			continue
		}

		if err := client.PatchTicketRating(row.TicketID, value); err != nil {
			sink.Publish(fmt.Sprintf("Ticket %d: %v", row.TicketID, err), progress, "warning")
			result.record(TicketOutcome{TicketID: row.TicketID, Outcome: OutcomeError, Reason: err.Error()})
			continue
		}
		sink.Publish(fmt.Sprintf("Ticket %d: updated rating to %s", row.TicketID, value), progress, "info")
		result.record(TicketOutcome{TicketID: row.TicketID, Outcome: OutcomeUpdated, Reason: "set rating to " + value})
	}

	sink.Publish(result.Summary(), 100, "success")
	return result
}

// RunNotes replaces the automation note on each surveyed ticket: existing
// automation-authored notes are deleted first, then the new internal note
// is posted. The two phases are not transactional; a create failure after
// a successful delete is reported through DeleteErrors/NotesDeleted on an
// error outcome, and the next run is the recovery path.
func RunNotes(client *CWClient, records []SurveyRecord, dryRun bool, sink ProgressSink, stop <-chan struct{}) RunResult {
	result := RunResult{Mode: "notes", DryRun: dryRun, Total: len(records)}
	sink.Publish(fmt.Sprintf("Starting notes posting for %d surveys", len(records)), 0, "info")

	for i, record := range records {
		if stopRequested(stop) {
			result.Stopped = true
			break
		}
		progress := stepProgress(i, len(records))

		if record.TicketNumber == 0 {
			result.record(TicketOutcome{Outcome: OutcomeSkipped, Reason: "missing ticket number"})
			continue
		}

		outcome := replaceAutomationNote(client, record, dryRun, sink, progress)
		result.record(outcome)
	}

	sink.Publish(result.Summary(), 100, "success")
	return result
}

func replaceAutomationNote(client *CWClient, record SurveyRecord, dryRun bool, sink ProgressSink, progress int) TicketOutcome {
	ticketID := record.TicketNumber
	outcome := TicketOutcome{TicketID: ticketID}
	noteText := record.Summary + "\n\nCustomer feedback:\n" + strings.TrimSpace(record.CustomerFeedback)

	// Delete phase. Fetching is read-only so it runs even under dry-run,
	// which lets a dry run report exactly which notes a live run would
	// remove. A fetch failure does not block the create phase.
	notes, err := client.GetTicketNotes(ticketID)
	if err != nil {
		outcome.DeleteErrors = append(outcome.DeleteErrors, err.Error())
		sink.Publish(fmt.Sprintf("Ticket %d: failed to fetch notes: %v", ticketID, err), progress, "warning")
	}
	for _, note := range notes {
		if !IsAutomationNote(note.Text) {
			continue
		}
		if dryRun {
			sink.Publish(fmt.Sprintf("[DRY RUN] Ticket %d: would delete old note %d", ticketID, note.ID), progress, "info")
			outcome.NotesDeleted++
			continue
		}
		if err := client.DeleteTicketNote(ticketID, note.ID); err != nil {
			outcome.DeleteErrors = append(outcome.DeleteErrors, fmt.Sprintf("note %d: %v", note.ID, err))
			sink.Publish(fmt.Sprintf("Ticket %d: failed to delete note %d: %v", ticketID, note.ID, err), progress, "warning")
			continue
		}
		outcome.NotesDeleted++
		sink.Publish(fmt.Sprintf("Ticket %d: deleted old note %d", ticketID, note.ID), progress, "info")
	}

	// Create phase.
	if dryRun {
		sink.Publish(fmt.Sprintf("[DRY RUN] Ticket %d: would post internal note", ticketID), progress, "info")
		outcome.Outcome = OutcomeUpdated
		outcome.Reason = "would post internal note"
		return outcome
	}
	if err := client.PostTicketNote(ticketID, noteText); err != nil {
		sink.Publish(fmt.Sprintf("Ticket %d: %v", ticketID, err), progress, "warning")
		outcome.Outcome = OutcomeError
		outcome.Reason = err.Error()
		return outcome
	}
	sink.Publish(fmt.Sprintf("Ticket %d: posted internal note", ticketID), progress, "info")
	outcome.Outcome = OutcomeUpdated
	outcome.Reason = "posted internal note"
	return outcome
}

// RunLinks writes each ticket's survey link into its Crewhu custom field.
// Field selection prefers the exact "Latest Crewhu Survey" caption, falls
// back to any caption containing "crewhu", and takes the last qualifying
// slot on ties.
func RunLinks(client *CWClient, tickets []int, notifications []RawNotification, dryRun bool, sink ProgressSink, stop <-chan struct{}) RunResult {
	result := RunResult{Mode: "links", DryRun: dryRun, Total: len(tickets)}
	sink.Publish(fmt.Sprintf("Starting link update for %d tickets", len(tickets)), 0, "info")

	for i, ticketID := range tickets {
		if stopRequested(stop) {
			result.Stopped = true
			break
		}
		progress := stepProgress(i, len(tickets))

		link, ok := SurveyLinkForTicket(ticketID, notifications)
		if !ok {
			sink.Publish(fmt.Sprintf("Ticket %d: no survey link found", ticketID), progress, "info")
			result.record(TicketOutcome{TicketID: ticketID, Outcome: OutcomeSkipped, Reason: "no survey link"})
			continue
		}

		ticket, err := client.GetTicket(ticketID)
		if err != nil {
			sink.Publish(fmt.Sprintf("Ticket %d: %v", ticketID, err), progress, "warning")
			result.record(TicketOutcome{TicketID: ticketID, Outcome: OutcomeError, Reason: err.Error()})
			continue
		}

		fieldIndex, ok := SelectCrewhuField(ticket.CustomFields)
		if !ok {
			sink.Publish(fmt.Sprintf("Ticket %d: no Crewhu custom field", ticketID), progress, "info")
			result.record(TicketOutcome{TicketID: ticketID, Outcome: OutcomeSkipped, Reason: "no crewhu field"})
			continue
		}

		if dryRun {
			sink.Publish(fmt.Sprintf("[DRY RUN] Ticket %d: would set field %d to %s", ticketID, fieldIndex, link), progress, "info")
			result.record(TicketOutcome{TicketID: ticketID, Outcome: OutcomeUpdated, Reason: "would set link " + link})
			continue
		}

		if err := client.PatchTicketFieldValue(ticketID, fieldIndex, link); err != nil {
			sink.Publish(fmt.Sprintf("Ticket %d: %v", ticketID, err), progress, "warning")
			result.record(TicketOutcome{TicketID: ticketID, Outcome: OutcomeError, Reason: err.Error()})
			continue
		}
		sink.Publish(fmt.Sprintf("Ticket %d: updated Crewhu field with %s", ticketID, link), progress, "info")
		result.record(TicketOutcome{TicketID: ticketID, Outcome: OutcomeUpdated, Reason: "set link " + link})
	}

	sink.Publish(result.Summary(), 100, "success")
	return result
}

// RunCleanNotes deletes automation notes for every surveyed ticket
// without posting replacements.
func RunCleanNotes(client *CWClient, records []SurveyRecord, dryRun bool, sink ProgressSink, stop <-chan struct{}) RunResult {
	result := RunResult{Mode: "clean-notes", DryRun: dryRun, Total: len(records)}
	sink.Publish(fmt.Sprintf("Starting note cleanup for %d tickets", len(records)), 0, "info")

	for i, record := range records {
		if stopRequested(stop) {
			result.Stopped = true
			break
		}
		progress := stepProgress(i, len(records))
		ticketID := record.TicketNumber
		if ticketID == 0 {
			result.record(TicketOutcome{Outcome: OutcomeSkipped, Reason: "missing ticket number"})
			continue
		}

		notes, err := client.GetTicketNotes(ticketID)
		if err != nil {
			sink.Publish(fmt.Sprintf("Ticket %d: %v", ticketID, err), progress, "warning")
			result.record(TicketOutcome{TicketID: ticketID, Outcome: OutcomeError, Reason: err.Error()})
			continue
		}

		outcome := TicketOutcome{TicketID: ticketID}
		for _, note := range notes {
			if !IsAutomationNote(note.Text) {
				continue
			}
			if dryRun {
				sink.Publish(fmt.Sprintf("[DRY RUN] Ticket %d: would delete note %d", ticketID, note.ID), progress, "info")
				outcome.NotesDeleted++
				continue
			}
			if err := client.DeleteTicketNote(ticketID, note.ID); err != nil {
				outcome.DeleteErrors = append(outcome.DeleteErrors, fmt.Sprintf("note %d: %v", note.ID, err))
				sink.Publish(fmt.Sprintf("Ticket %d: failed to delete note %d: %v", ticketID, note.ID, err), progress, "warning")
				continue
			}
			outcome.NotesDeleted++
			sink.Publish(fmt.Sprintf("Ticket %d: deleted note %d", ticketID, note.ID), progress, "info")
		}

		switch {
		case len(outcome.DeleteErrors) > 0:
			outcome.Outcome = OutcomeError
			outcome.Reason = strings.Join(outcome.DeleteErrors, "; ")
		case outcome.NotesDeleted > 0:
			outcome.Outcome = OutcomeUpdated
			outcome.Reason = fmt.Sprintf("deleted %d notes", outcome.NotesDeleted)
		default:
			outcome.Outcome = OutcomeSkipped
			outcome.Reason = "no automation notes"
		}
		result.record(outcome)
	}

	sink.Publish(result.Summary(), 100, "success")
	return result
}

// ParseResult is the tally for the extraction entry point.
type ParseResult struct {
	TotalEmails int
	Extracted   int
	Skipped     int
	DryRun      bool
}

func (r ParseResult) Summary() string {
	s := fmt.Sprintf("parse complete: scanned=%d extracted=%d skipped=%d", r.TotalEmails, r.Extracted, r.Skipped)
	if r.DryRun {
		s += " (dry run)"
	}
	return s
}

// RunParse extracts surveys from a notification export and writes the
// clean survey JSON. A missing or unparseable input file aborts the run;
// per-email failures are counted, never fatal. Dry run previews the
// extraction without writing the output file.
func RunParse(inputPath, outputPath string, dryRun bool, sink ProgressSink) (ParseResult, error) {
	sink.Publish("Starting email parsing", 0, "info")

	notifications, err := ReadNotifications(inputPath)
	if err != nil {
		sink.Publish(err.Error(), 100, "error")
		return ParseResult{}, err
	}
	sink.Publish(fmt.Sprintf("Loaded %d emails", len(notifications)), 10, "info")

	records, stats := BuildSurveyIndex(notifications)

	if !dryRun {
		if err := WriteSurveyRecords(outputPath, records); err != nil {
			sink.Publish(err.Error(), 100, "error")
			return ParseResult{}, err
		}
	}

	result := ParseResult{
		TotalEmails: stats.Scanned,
		Extracted:   stats.Extracted,
		Skipped:     stats.Skipped,
		DryRun:      dryRun,
	}
	sink.Publish(result.Summary(), 100, "success")
	return result, nil
}
