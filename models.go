package main

import (
	"strconv"
	"strings"
)

// RawNotification is one exported Crewhu notification email. Newer exports
// use Subject/FullBody; older ones use summary/full_clean_body.
type RawNotification struct {
	Subject  string `json:"Subject"`
	FullBody string `json:"FullBody"`

	LegacySubject string `json:"summary"`
	LegacyBody    string `json:"full_clean_body"`
}

// SubjectText returns the subject, falling back to the legacy field name.
func (n RawNotification) SubjectText() string {
	if n.Subject != "" {
		return n.Subject
	}
	return n.LegacySubject
}

// BodyText returns the full body, falling back to the legacy field name.
func (n RawNotification) BodyText() string {
	if n.FullBody != "" {
		return n.FullBody
	}
	return n.LegacyBody
}

// SurveyRecord is the normalized survey derived from one notification.
type SurveyRecord struct {
	TicketNumber     int    `json:"ticket_number"`
	Summary          string `json:"summary"`
	CustomerFeedback string `json:"customer_feedback"`
}

// RatingRow is one row of the survey-history CSV: a ticket plus the raw
// rating label. Labels map through RatingMap at write time; unmapped
// labels are skipped, never sent to the API.
type RatingRow struct {
	TicketID    int
	RatingLabel string
}

// RatingMap maps uppercased Crewhu rating labels to the value written into
// the "Latest Crewhu Rating" custom field.
var RatingMap = map[string]string{
	"AWESOME":  "Positive",
	"POSITIVE": "Positive",
	"NEGATIVE": "Negative",
}

// MapRating resolves a free-form rating label through RatingMap.
func MapRating(label string) (string, bool) {
	value, ok := RatingMap[strings.ToUpper(strings.TrimSpace(label))]
	return value, ok
}

// ParseTicketID canonicalizes a raw ticket-number cell. Survey exports
// sometimes render integers as floats ("497225.0"), so everything from the
// first '.' on is discarded. The remainder must be all digits; anything
// else is rejected rather than coerced.
func ParseTicketID(raw string) (int, bool) {
	s := strings.TrimSpace(raw)
	if idx := strings.Index(s, "."); idx >= 0 {
		s = s[:idx]
	}
	if s == "" {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	id, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return id, true
}

// IsAutomationNote reports whether a ticket note was produced by this
// automation. Ownership is recognized by content, not by author: any note
// carrying both marker phrases is considered ours and eligible for
// deletion before a replacement is posted. A hand-written note containing
// both phrases is indistinguishable and will be deleted too; that is
// accepted behavior, not a bug.
func IsAutomationNote(text string) bool {
	return strings.Contains(text, "just gave a") && strings.Contains(text, "Customer feedback:")
}
