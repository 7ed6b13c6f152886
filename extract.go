package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Crewhu sends two sentence shapes. "Review" emails:
//
//	Jane from Acme gave a Positive rating to Bob for Speed on ticket# 42 (Fixed printer).
//
// "Woohoo" emails put the employee at the end:
//
//	Jane from Acme gave a Positive Rating for Speed on ticket# 42 (Fixed printer) to your colleague Bob.
var (
	reviewPattern = regexp.MustCompile(
		`(?i)(?P<customer>.*?) from (?P<company>.*?) gave a (?P<rating>.*?) rating to (?P<employee>.*?) for (?P<categories>.*?) on ticket# (?P<ticket_id>\d+)\s*\((?P<ticket_desc>.*?)\)`)
	woohooPattern = regexp.MustCompile(
		`(?i)(?P<customer>.*?) from (?P<company>.*?) gave a (?P<rating>.*?) Rating for (?P<categories>.*?) on ticket# (?P<ticket_id>\d+)\s*\((?P<ticket_desc>.*?)\) to your colleague (?P<employee>.+?)\.?$`)
	feedbackPattern = regexp.MustCompile(
		`(?is)Customer feedback:\s*(?:"(?P<quote>.*?)"|(?P<none>No feedback provided))`)
)

// NoFeedbackSentinel is recorded when a notification carries no quoted
// customer feedback.
const NoFeedbackSentinel = "No feedback provided."

// ExtractSurvey derives a SurveyRecord from one notification. The second
// return is false when the notification is not a parsable rating email.
//
// Gating accepts either "rating" in the subject or "gave a" in the body,
// so bodies exported without a matching subject line still qualify.
func ExtractSurvey(n RawNotification) (SurveyRecord, bool) {
	subject := n.SubjectText()
	body := n.BodyText()

	if !strings.Contains(strings.ToLower(subject), "rating") &&
		!strings.Contains(strings.ToLower(body), "gave a") {
		return SurveyRecord{}, false
	}

	// Scan line by line so boilerplate like "EXTERNAL EMAIL" banners can't
	// bleed into the lazy capture groups. First line matching either
	// pattern wins; Review is tried before Woohoo on each line.
	var fields map[string]string
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if m := matchGroups(reviewPattern, line); m != nil {
			fields = m
			break
		}
		if m := matchGroups(woohooPattern, line); m != nil {
			fields = m
			break
		}
	}
	if fields == nil {
		return SurveyRecord{}, false
	}

	// The ticket_id group is digit-only by construction.
	ticketID, err := strconv.Atoi(fields["ticket_id"])
	if err != nil {
		return SurveyRecord{}, false
	}

	customer := strings.TrimSpace(fields["customer"])
	company := strings.TrimSpace(fields["company"])
	rating := strings.TrimSpace(fields["rating"])
	employee := strings.TrimSuffix(strings.TrimSpace(fields["employee"]), ".")
	categories := strings.TrimSpace(fields["categories"])
	ticketDesc := strings.TrimSpace(fields["ticket_desc"])

	// The feedback block can span lines, so it is matched against the whole
	// body rather than line by line.
	feedback := NoFeedbackSentinel
	if m := matchGroups(feedbackPattern, body); m != nil && m["quote"] != "" {
		feedback = strings.TrimSpace(m["quote"])
	}

	// Canonical summary. The word "just" is inserted deliberately; neither
	// source sentence contains it, and the note-replacement pass relies on
	// "just gave a" to spot its own notes later.
	summary := fmt.Sprintf("%s from %s just gave a %s rating to %s for %s on ticket# %d (%s).",
		customer, company, rating, employee, categories, ticketID, ticketDesc)

	return SurveyRecord{
		TicketNumber:     ticketID,
		Summary:          summary,
		CustomerFeedback: feedback,
	}, true
}

func matchGroups(re *regexp.Regexp, s string) map[string]string {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return nil
	}
	groups := make(map[string]string)
	for i, name := range re.SubexpNames() {
		if name != "" {
			groups[name] = m[i]
		}
	}
	return groups
}

// IndexStats counts what BuildSurveyIndex did with its input.
type IndexStats struct {
	Scanned   int
	Extracted int
	Skipped   int
}

// BuildSurveyIndex runs the extractor over every notification in order and
// keeps one record per ticket number. Dedup is last-write-wins: a later
// successful match replaces an earlier one for the same ticket, but a
// non-match never erases a stored record. Output is sorted ascending by
// ticket number.
func BuildSurveyIndex(notifications []RawNotification) ([]SurveyRecord, IndexStats) {
	stats := IndexStats{Scanned: len(notifications)}
	byTicket := make(map[int]SurveyRecord)

	for _, n := range notifications {
		record, ok := ExtractSurvey(n)
		if !ok {
			stats.Skipped++
			continue
		}
		byTicket[record.TicketNumber] = record
	}

	records := make([]SurveyRecord, 0, len(byTicket))
	for _, r := range byTicket {
		records = append(records, r)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].TicketNumber < records[j].TicketNumber
	})
	stats.Extracted = len(records)
	return records, stats
}

// ReadNotifications loads a JSON array of notification records. Outlook
// exports are UTF-8 with a BOM, which encoding/json rejects, so the BOM is
// stripped first.
func ReadNotifications(path string) ([]RawNotification, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	var notifications []RawNotification
	if err := json.Unmarshal(data, &notifications); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return notifications, nil
}

// ReadSurveyRecords loads a previously written survey JSON file.
func ReadSurveyRecords(path string) ([]SurveyRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	var records []SurveyRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return records, nil
}

// WriteSurveyRecords writes the survey JSON file, pretty-printed.
func WriteSurveyRecords(path string, records []SurveyRecord) error {
	data, err := json.MarshalIndent(records, "", "    ")
	if err != nil {
		return fmt.Errorf("encoding surveys: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
