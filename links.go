package main

import (
	"fmt"
	"regexp"
	"strings"
)

// Crewhu survey links as they appear in notification bodies. Email clients
// wrap links in angle brackets and sentences end with a period, so a
// matched link gets trailing '>' and '.' characters trimmed.
var surveyLinkPattern = regexp.MustCompile(`https://web\.crewhu\.com/#/managesurvey/form/[^\s<>"']+`)

// SurveyLinkForTicket finds the survey link for a ticket. Notifications
// are scanned in order; the first body containing both the literal
// "ticket# <n>" marker and a survey link wins (find-first, not
// find-best). Marker-bearing bodies without a link are passed over.
func SurveyLinkForTicket(ticketNumber int, notifications []RawNotification) (string, bool) {
	marker := fmt.Sprintf("ticket# %d", ticketNumber)

	for _, n := range notifications {
		body := n.BodyText()
		if !strings.Contains(body, marker) {
			continue
		}
		if match := surveyLinkPattern.FindString(body); match != "" {
			return strings.TrimRight(match, ">."), true
		}
	}
	return "", false
}
