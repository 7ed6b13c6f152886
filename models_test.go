package main

import "testing"

func TestParseTicketID(t *testing.T) {
	tests := []struct {
		input  string
		want   int
		wantOK bool
	}{
		{"497225", 497225, true},
		{"497225.0", 497225, true},
		{"12.34.56", 12, true},
		{"  42  ", 42, true},
		{"abc", 0, false},
		{"", 0, false},
		{"   ", 0, false},
		{".5", 0, false},
		{"-12", 0, false},
		{"12a", 0, false},
		{"4 2", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseTicketID(tt.input)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("ParseTicketID(%q) = (%d, %v), want (%d, %v)", tt.input, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestMapRating(t *testing.T) {
	tests := []struct {
		label  string
		want   string
		wantOK bool
	}{
		{"AWESOME", "Positive", true},
		{"awesome", "Positive", true},
		{" Awesome ", "Positive", true},
		{"POSITIVE", "Positive", true},
		{"NEGATIVE", "Negative", true},
		{"GOOD", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := MapRating(tt.label)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("MapRating(%q) = (%q, %v), want (%q, %v)", tt.label, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestIsAutomationNote(t *testing.T) {
	tests := []struct {
		name string
		text string
		want bool
	}{
		{
			name: "automation note",
			text: "Jane from Acme just gave a Positive rating to Bob for Speed on ticket# 42 (Fixed printer).\n\nCustomer feedback:\nGreat job",
			want: true,
		},
		{
			name: "only first marker",
			text: "Someone just gave a talk about printers",
			want: false,
		},
		{
			name: "only second marker",
			text: "Customer feedback: please call back",
			want: false,
		},
		{
			name: "empty",
			text: "",
			want: false,
		},
		{
			// Ownership is content-based: a hand-written note carrying both
			// phrases is treated as ours. Documented behavior.
			name: "manual note with both markers",
			text: "FYI the customer just gave a call. Customer feedback: unhappy",
			want: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsAutomationNote(tt.text); got != tt.want {
				t.Errorf("IsAutomationNote(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestRawNotificationLegacyFields(t *testing.T) {
	n := RawNotification{LegacySubject: "New Rating", LegacyBody: "the body"}
	if got := n.SubjectText(); got != "New Rating" {
		t.Errorf("SubjectText() = %q, want legacy subject", got)
	}
	if got := n.BodyText(); got != "the body" {
		t.Errorf("BodyText() = %q, want legacy body", got)
	}

	n = RawNotification{Subject: "S", FullBody: "B", LegacySubject: "old", LegacyBody: "old body"}
	if got := n.SubjectText(); got != "S" {
		t.Errorf("SubjectText() = %q, want modern subject to win", got)
	}
	if got := n.BodyText(); got != "B" {
		t.Errorf("BodyText() = %q, want modern body to win", got)
	}
}
