package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type cwTicket struct {
	ID           int             `json:"id"`
	Summary      string          `json:"summary"`
	CustomFields []cwCustomField `json:"customFields"`
}

type cwCustomField struct {
	ID               int    `json:"id"`
	Caption          string `json:"caption"`
	Type             string `json:"type"`
	EntryMethod      string `json:"entryMethod"`
	NumberOfDecimals int    `json:"numberOfDecimals"`
	Value            string `json:"value"`
}

type cwNote struct {
	ID   int    `json:"id"`
	Text string `json:"text"`
}

type cwPatchOp struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value"`
}

type cwNotePayload struct {
	Text                  string `json:"text"`
	DetailDescriptionFlag bool   `json:"detailDescriptionFlag"`
	InternalAnalysisFlag  bool   `json:"internalAnalysisFlag"`
	ResolutionFlag        bool   `json:"resolutionFlag"`
	CreatedBy             string `json:"createdBy"`
	DateCreated           string `json:"dateCreated"`
}

// Fixed descriptor for the rating-only write path, which replaces the
// whole customFields array rather than patching one slot.
var ratingFieldDescriptor = cwCustomField{
	ID:               18,
	Caption:          "Latest Crewhu Rating",
	Type:             "Text",
	EntryMethod:      "EntryField",
	NumberOfDecimals: 0,
}

// CWClient talks to the ConnectWise Manage REST API. Authentication is a
// static header set built once from the company/public/private keys and
// client ID; there is no per-request token refresh.
type CWClient struct {
	baseURL string
	headers http.Header
	http    *http.Client

	now func() time.Time
}

func NewCWClient(cfg Config) *CWClient {
	auth := base64.StdEncoding.EncodeToString(
		[]byte(cfg.CWCompanyID + "+" + cfg.CWPublicKey + ":" + cfg.CWPrivateKey))

	headers := http.Header{}
	headers.Set("Authorization", "Basic "+auth)
	headers.Set("clientId", cfg.CWClientID)
	headers.Set("Accept", "application/json")
	headers.Set("Content-Type", "application/json")

	return &CWClient{
		baseURL: cfg.CWAPIBase,
		headers: headers,
		http:    externalHTTPClient,
		now:     time.Now,
	}
}

func (c *CWClient) ticketURL(ticketID int) string {
	return fmt.Sprintf("%s/service/tickets/%d", c.baseURL, ticketID)
}

func (c *CWClient) notesURL(ticketID int) string {
	return fmt.Sprintf("%s/service/tickets/%d/notes", c.baseURL, ticketID)
}

func (c *CWClient) do(method, url string, payload any) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return 0, nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header = c.headers.Clone()

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("executing request: %w", err)
	}
	respBody, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("reading response: %w", err)
	}
	return resp.StatusCode, respBody, nil
}

// GetTicket fetches one ticket including its customFields.
func (c *CWClient) GetTicket(ticketID int) (cwTicket, error) {
	status, body, err := c.do("GET", c.ticketURL(ticketID), nil)
	if err != nil {
		return cwTicket{}, err
	}
	if status != 200 {
		return cwTicket{}, fmt.Errorf("GET ticket returned %d: %s", status, truncate(string(body), 200))
	}
	var ticket cwTicket
	if err := json.Unmarshal(body, &ticket); err != nil {
		return cwTicket{}, fmt.Errorf("parsing ticket: %w", err)
	}
	return ticket, nil
}

// PatchTicketFieldValue replaces the value of a single customFields slot.
func (c *CWClient) PatchTicketFieldValue(ticketID, fieldIndex int, value string) error {
	patch := []cwPatchOp{{
		Op:    "replace",
		Path:  fmt.Sprintf("/customFields/%d/value", fieldIndex),
		Value: value,
	}}
	status, body, err := c.do("PATCH", c.ticketURL(ticketID), patch)
	if err != nil {
		return err
	}
	if status != 200 && status != 204 {
		return fmt.Errorf("PATCH returned %d: %s", status, truncate(string(body), 200))
	}
	return nil
}

// PatchTicketRating writes the rating through the whole-array customFields
// replace with the fixed field descriptor.
func (c *CWClient) PatchTicketRating(ticketID int, ratingValue string) error {
	field := ratingFieldDescriptor
	field.Value = ratingValue
	patch := []cwPatchOp{{
		Op:    "replace",
		Path:  "customFields",
		Value: []cwCustomField{field},
	}}
	status, body, err := c.do("PATCH", c.ticketURL(ticketID), patch)
	if err != nil {
		return err
	}
	if status != 200 {
		return fmt.Errorf("PATCH returned %d: %s", status, truncate(string(body), 200))
	}
	return nil
}

// GetTicketNotes fetches all notes on a ticket.
func (c *CWClient) GetTicketNotes(ticketID int) ([]cwNote, error) {
	status, body, err := c.do("GET", c.notesURL(ticketID), nil)
	if err != nil {
		return nil, err
	}
	if status != 200 {
		return nil, fmt.Errorf("GET notes returned %d: %s", status, truncate(string(body), 200))
	}
	var notes []cwNote
	if err := json.Unmarshal(body, &notes); err != nil {
		return nil, fmt.Errorf("parsing notes: %w", err)
	}
	return notes, nil
}

// PostTicketNote creates an internal-analysis note. The flags pin the note
// to Internal Analysis only, never Discussion or Resolution.
func (c *CWClient) PostTicketNote(ticketID int, text string) error {
	payload := cwNotePayload{
		Text:                  text,
		DetailDescriptionFlag: false,
		InternalAnalysisFlag:  true,
		ResolutionFlag:        false,
		CreatedBy:             "Crewhu API",
		DateCreated:           c.now().UTC().Format(time.RFC3339),
	}
	status, body, err := c.do("POST", c.notesURL(ticketID), payload)
	if err != nil {
		return err
	}
	if status != 201 {
		return fmt.Errorf("POST note returned %d: %s", status, truncate(string(body), 200))
	}
	return nil
}

// DeleteTicketNote removes one note from a ticket.
func (c *CWClient) DeleteTicketNote(ticketID, noteID int) error {
	url := fmt.Sprintf("%s/%d", c.notesURL(ticketID), noteID)
	status, body, err := c.do("DELETE", url, nil)
	if err != nil {
		return err
	}
	if status != 200 && status != 204 {
		return fmt.Errorf("DELETE note returned %d: %s", status, truncate(string(body), 200))
	}
	return nil
}

// SelectCrewhuField picks the customFields slot to write a survey link
// into. An exact caption match "Latest Crewhu Survey" is preferred over a
// caption merely containing "crewhu"; within either tier, the last
// matching slot wins.
func SelectCrewhuField(fields []cwCustomField) (int, bool) {
	exact, contains := -1, -1
	for i, f := range fields {
		caption := normalizeCaption(f.Caption)
		if caption == "latest crewhu survey" {
			exact = i
		} else if containsFold(f.Caption, "crewhu") {
			contains = i
		}
	}
	if exact >= 0 {
		return exact, true
	}
	if contains >= 0 {
		return contains, true
	}
	return -1, false
}

func normalizeCaption(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), sub)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
