package main

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testConfig(baseURL string) Config {
	return Config{
		CWCompanyID:  "acme",
		CWPublicKey:  "pub",
		CWPrivateKey: "priv",
		CWClientID:   "client-123",
		CWAPIBase:    baseURL,
	}
}

func TestNewCWClientAuthHeaders(t *testing.T) {
	var gotAuth, gotClientID string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotClientID = r.Header.Get("clientId")
		w.Write([]byte(`{"id": 1}`))
	}))
	defer server.Close()

	client := NewCWClient(testConfig(server.URL))
	if _, err := client.GetTicket(1); err != nil {
		t.Fatalf("GetTicket: %v", err)
	}

	wantAuth := "Basic " + base64.StdEncoding.EncodeToString([]byte("acme+pub:priv"))
	if gotAuth != wantAuth {
		t.Errorf("Authorization = %q, want %q", gotAuth, wantAuth)
	}
	if gotClientID != "client-123" {
		t.Errorf("clientId = %q, want client-123", gotClientID)
	}
}

func TestGetTicket(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "GET" || r.URL.Path != "/service/tickets/42" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		w.Write([]byte(`{"id":42,"summary":"Printer down","customFields":[{"id":18,"caption":"Latest Crewhu Rating","value":"Positive"}]}`))
	}))
	defer server.Close()

	client := NewCWClient(testConfig(server.URL))
	ticket, err := client.GetTicket(42)
	if err != nil {
		t.Fatalf("GetTicket: %v", err)
	}
	if ticket.ID != 42 || len(ticket.CustomFields) != 1 {
		t.Errorf("ticket = %+v, want id 42 with one custom field", ticket)
	}
	if ticket.CustomFields[0].Caption != "Latest Crewhu Rating" {
		t.Errorf("caption = %q", ticket.CustomFields[0].Caption)
	}
}

func TestGetTicketNonSuccessIncludesTruncatedBody(t *testing.T) {
	long := make([]byte, 500)
	for i := range long {
		long[i] = 'x'
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(404)
		w.Write(long)
	}))
	defer server.Close()

	client := NewCWClient(testConfig(server.URL))
	_, err := client.GetTicket(42)
	if err == nil {
		t.Fatal("expected error on 404")
	}
	if len(err.Error()) > 300 {
		t.Errorf("error message not truncated: %d chars", len(err.Error()))
	}
}

func TestPatchTicketRatingPayload(t *testing.T) {
	var body []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "PATCH" || r.URL.Path != "/service/tickets/42" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(200)
	}))
	defer server.Close()

	client := NewCWClient(testConfig(server.URL))
	if err := client.PatchTicketRating(42, "Positive"); err != nil {
		t.Fatalf("PatchTicketRating: %v", err)
	}

	var patch []map[string]any
	if err := json.Unmarshal(body, &patch); err != nil {
		t.Fatalf("patch body not JSON: %v", err)
	}
	if len(patch) != 1 || patch[0]["op"] != "replace" || patch[0]["path"] != "customFields" {
		t.Fatalf("patch = %+v, want whole-array replace", patch)
	}
	fields := patch[0]["value"].([]any)
	field := fields[0].(map[string]any)
	if field["caption"] != "Latest Crewhu Rating" || field["value"] != "Positive" {
		t.Errorf("field = %+v", field)
	}
	if field["id"].(float64) != 18 {
		t.Errorf("field id = %v, want 18", field["id"])
	}
}

func TestPatchTicketFieldValuePayload(t *testing.T) {
	var body []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(204)
	}))
	defer server.Close()

	client := NewCWClient(testConfig(server.URL))
	if err := client.PatchTicketFieldValue(42, 3, "https://example.test/x"); err != nil {
		t.Fatalf("PatchTicketFieldValue: %v", err)
	}

	var patch []map[string]any
	if err := json.Unmarshal(body, &patch); err != nil {
		t.Fatalf("patch body not JSON: %v", err)
	}
	if patch[0]["path"] != "/customFields/3/value" {
		t.Errorf("path = %v, want /customFields/3/value", patch[0]["path"])
	}
	if patch[0]["value"] != "https://example.test/x" {
		t.Errorf("value = %v", patch[0]["value"])
	}
}

func TestPostTicketNote(t *testing.T) {
	var payload cwNotePayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" || r.URL.Path != "/service/tickets/42/notes" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&payload)
		w.WriteHeader(201)
	}))
	defer server.Close()

	client := NewCWClient(testConfig(server.URL))
	client.now = func() time.Time { return time.Date(2025, 11, 3, 12, 0, 0, 0, time.UTC) }

	if err := client.PostTicketNote(42, "note text"); err != nil {
		t.Fatalf("PostTicketNote: %v", err)
	}

	if payload.Text != "note text" {
		t.Errorf("Text = %q", payload.Text)
	}
	if payload.DetailDescriptionFlag || !payload.InternalAnalysisFlag || payload.ResolutionFlag {
		t.Errorf("flags = %+v, want internal analysis only", payload)
	}
	if payload.CreatedBy != "Crewhu API" {
		t.Errorf("CreatedBy = %q", payload.CreatedBy)
	}
	if payload.DateCreated != "2025-11-03T12:00:00Z" {
		t.Errorf("DateCreated = %q", payload.DateCreated)
	}
}

func TestPostTicketNoteNon201IsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200) // note creation must return 201
	}))
	defer server.Close()

	client := NewCWClient(testConfig(server.URL))
	if err := client.PostTicketNote(42, "x"); err == nil {
		t.Error("expected error for non-201 response")
	}
}

func TestDeleteTicketNote(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "DELETE" || r.URL.Path != "/service/tickets/42/notes/7" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(204)
	}))
	defer server.Close()

	client := NewCWClient(testConfig(server.URL))
	if err := client.DeleteTicketNote(42, 7); err != nil {
		t.Fatalf("DeleteTicketNote: %v", err)
	}
}

func TestSelectCrewhuField(t *testing.T) {
	tests := []struct {
		name   string
		fields []cwCustomField
		want   int
		wantOK bool
	}{
		{
			name:   "no fields",
			fields: nil,
			wantOK: false,
		},
		{
			name: "no crewhu field",
			fields: []cwCustomField{
				{Caption: "SLA"},
				{Caption: "Priority"},
			},
			wantOK: false,
		},
		{
			name: "exact caption preferred over contains",
			fields: []cwCustomField{
				{Caption: "Crewhu score"},
				{Caption: "Latest Crewhu Survey"},
				{Caption: "crewhu backup"},
			},
			want:   1,
			wantOK: true,
		},
		{
			name: "exact match is case-insensitive and trimmed",
			fields: []cwCustomField{
				{Caption: "  latest CREWHU survey "},
			},
			want:   0,
			wantOK: true,
		},
		{
			name: "last containing field wins",
			fields: []cwCustomField{
				{Caption: "Crewhu score"},
				{Caption: "SLA"},
				{Caption: "Old crewhu link"},
			},
			want:   2,
			wantOK: true,
		},
		{
			name: "last exact wins when several exist",
			fields: []cwCustomField{
				{Caption: "Latest Crewhu Survey"},
				{Caption: "latest crewhu survey"},
			},
			want:   1,
			wantOK: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := SelectCrewhuField(tt.fields)
			if ok != tt.wantOK || (ok && got != tt.want) {
				t.Errorf("SelectCrewhuField() = (%d, %v), want (%d, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("hello", 10); got != "hello" {
		t.Errorf("truncate short = %q", got)
	}
	if got := truncate("hello world", 5); got != "hello" {
		t.Errorf("truncate long = %q", got)
	}
}
