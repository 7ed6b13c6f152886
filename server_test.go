package main

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func testServer(t *testing.T) (*Server, Config) {
	t.Helper()
	cfg := Config{
		UploadDir: t.TempDir(),
	}
	db := testDB(t)
	return NewServer(cfg, db), cfg
}

func TestHandleStatus(t *testing.T) {
	srv, _ := testServer(t)

	req := httptest.NewRequest("GET", "/api/status", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		CredentialsValid bool     `json:"credentials_valid"`
		Missing          []string `json:"missing"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if body.CredentialsValid {
		t.Error("empty config reported valid credentials")
	}
	if len(body.Missing) != 4 {
		t.Errorf("missing = %v, want all four credentials", body.Missing)
	}
}

func TestHandleUploadAndFiles(t *testing.T) {
	srv, cfg := testServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "../../etc/emails.json")
	if err != nil {
		t.Fatalf("creating form file: %v", err)
	}
	part.Write([]byte(`[]`))
	mw.Close()

	req := httptest.NewRequest("POST", "/api/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("upload status = %d: %s", rec.Code, rec.Body.String())
	}
	var uploaded struct {
		Filename string `json:"filename"`
	}
	json.Unmarshal(rec.Body.Bytes(), &uploaded)
	if uploaded.Filename != "emails.json" {
		t.Errorf("filename = %q, want path-traversal stripped to base name", uploaded.Filename)
	}
	if _, err := os.Stat(filepath.Join(cfg.UploadDir, "emails.json")); err != nil {
		t.Errorf("uploaded file not in upload dir: %v", err)
	}

	req = httptest.NewRequest("GET", "/api/files", nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	var files []struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &files); err != nil {
		t.Fatalf("decoding files: %v", err)
	}
	if len(files) != 1 || files[0].Name != "emails.json" {
		t.Errorf("files = %v", files)
	}
}

func TestHandleUploadNoFile(t *testing.T) {
	srv, _ := testServer(t)

	req := httptest.NewRequest("POST", "/api/upload", strings.NewReader(""))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandleRunsEmpty(t *testing.T) {
	srv, _ := testServer(t)

	req := httptest.NewRequest("GET", "/api/runs", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	// No runs yet must encode as [], not null.
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Errorf("body = %q, want []", got)
	}
}

func TestHandleParseEmailsJobCompletes(t *testing.T) {
	srv, cfg := testServer(t)

	emails := `[{"Subject":"New Crewhu rating received","FullBody":"Jane from Acme gave a AWESOME rating to Bob for Speed on ticket# 42 (Fixed printer).\nCustomer feedback: \"Great job\""}]`
	if err := os.WriteFile(filepath.Join(cfg.UploadDir, "emails.json"), []byte(emails), 0644); err != nil {
		t.Fatalf("writing input: %v", err)
	}

	body := `{"session_id":"t1","input_file":"emails.json","dry_run":false}`
	req := httptest.NewRequest("POST", "/api/parse-emails", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("launch status = %d: %s", rec.Code, rec.Body.String())
	}

	result := waitForDone(t, srv.broker, "t1")
	if result.Mode != "parse" || result.Updated != 1 {
		t.Errorf("done result = %+v, want one extraction", result)
	}

	if _, err := os.Stat(filepath.Join(cfg.UploadDir, cleanSurveyFilename)); err != nil {
		t.Errorf("clean survey file not written: %v", err)
	}

	runs, err := ListRecentRuns(srv.db, 10)
	if err != nil || len(runs) != 1 {
		t.Fatalf("runs = %v, %v; want the job persisted", runs, err)
	}
	if runs[0].Mode != "parse" || runs[0].Updated != 1 {
		t.Errorf("persisted run = %+v", runs[0])
	}
}

func TestHandlePostNotesMissingCredentials(t *testing.T) {
	srv, cfg := testServer(t)

	if err := os.WriteFile(filepath.Join(cfg.UploadDir, cleanSurveyFilename), []byte(`[]`), 0644); err != nil {
		t.Fatalf("writing surveys: %v", err)
	}

	body := `{"session_id":"t2"}`
	req := httptest.NewRequest("POST", "/api/post-notes", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("launch status = %d", rec.Code)
	}

	// The job publishes an error event, then done; nothing is persisted.
	ch := srv.broker.Channel("t2")
	deadline := time.After(5 * time.Second)
	sawError := false
	for {
		select {
		case ev := <-ch:
			if ev.Type == "error" && strings.Contains(ev.Message, "Missing credentials") {
				sawError = true
			}
			if ev.Type == "done" {
				if !sawError {
					t.Error("no credential error event before done")
				}
				runs, _ := ListRecentRuns(srv.db, 10)
				if len(runs) != 0 {
					t.Errorf("aborted job was persisted: %v", runs)
				}
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for done event")
		}
	}
}

func TestHandlePostRatingsRequiresCSV(t *testing.T) {
	srv, _ := testServer(t)

	req := httptest.NewRequest("POST", "/api/post-ratings", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func waitForDone(t *testing.T, broker *ProgressBroker, sessionID string) RunResult {
	t.Helper()
	ch := broker.Channel(sessionID)
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Type != "done" {
				continue
			}
			var result RunResult
			if err := json.Unmarshal([]byte(ev.Message), &result); err != nil {
				t.Fatalf("decoding done payload: %v", err)
			}
			return result
		case <-deadline:
			t.Fatal("timed out waiting for done event")
			return RunResult{}
		}
	}
}

func TestJobRequestDefaults(t *testing.T) {
	var req jobRequest
	if req.session() != "default" {
		t.Errorf("session() = %q, want default", req.session())
	}
	if !req.dryRun() {
		t.Error("dryRun() must default to true")
	}

	live := false
	req.DryRun = &live
	if req.dryRun() {
		t.Error("explicit dry_run=false not honored")
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"emails.json", "emails.json"},
		{"../../etc/passwd", "passwd"},
		{`C:\Users\x\surveys.csv`, "surveys.csv"},
		{".", ""},
		{"/", ""},
	}
	for _, tt := range tests {
		if got := sanitizeFilename(tt.in); got != tt.want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
