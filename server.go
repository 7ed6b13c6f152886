package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const maxUploadBytes = 16 << 20 // 16MB

const cleanSurveyFilename = "crewhu_surveys_clean.json"

// Server is the web front-end: file upload, batch launch, and per-session
// progress streaming over SSE. Batches run in their own goroutine and
// publish to the session's progress channel; the SSE handler is just a
// drain and never feeds anything back into a batch.
type Server struct {
	cfg    Config
	db     *sql.DB
	broker *ProgressBroker
	mux    *http.ServeMux
}

func NewServer(cfg Config, db *sql.DB) *Server {
	s := &Server{
		cfg:    cfg,
		db:     db,
		broker: NewProgressBroker(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("POST /api/upload", s.handleUpload)
	mux.HandleFunc("GET /api/files", s.handleFiles)
	mux.HandleFunc("GET /api/runs", s.handleRuns)
	mux.HandleFunc("GET /api/stream/{session}", s.handleStream)
	mux.HandleFunc("POST /api/parse-emails", s.handleParseEmails)
	mux.HandleFunc("POST /api/post-ratings", s.handlePostRatings)
	mux.HandleFunc("POST /api/post-notes", s.handlePostNotes)
	mux.HandleFunc("POST /api/post-links", s.handlePostLinks)
	mux.HandleFunc("POST /api/clean-notes", s.handleCleanNotes)
	s.mux = mux
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	io.WriteString(w, indexPage)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	valid, missing := s.cfg.ValidateCredentials()
	writeJSON(w, http.StatusOK, map[string]any{
		"credentials_valid": valid,
		"missing":           missing,
	})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "No file provided"})
		return
	}
	defer file.Close()

	filename := sanitizeFilename(header.Filename)
	if filename == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "No file selected"})
		return
	}

	if err := os.MkdirAll(s.cfg.UploadDir, 0755); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	path := filepath.Join(s.cfg.UploadDir, filename)
	out, err := os.Create(path)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	defer out.Close()
	if _, err := io.Copy(out, file); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"filename": filename,
		"path":     path,
	})
}

func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	entries, err := os.ReadDir(s.cfg.UploadDir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}

	files := []map[string]any{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, map[string]any{
			"name":     entry.Name(),
			"size":     info.Size(),
			"modified": info.ModTime().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, files)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := ListRecentRuns(s.db, 50)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	if runs == nil {
		runs = []RunRecord{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// handleStream drains one session's progress channel as SSE. Idle
// connections get a keepalive every 30 seconds; a "done" event ends the
// stream.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session")
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := s.broker.Channel(sessionID)
	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case ev := <-ch:
			if err := writeSSE(w, ev); err != nil {
				return
			}
			flusher.Flush()
			if ev.Type == "done" {
				return
			}
		case <-keepalive.C:
			if err := writeSSE(w, ProgressEvent{Type: "keepalive"}); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func writeSSE(w io.Writer, ev ProgressEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

// jobRequest is the JSON body every batch-launch endpoint accepts.
// DryRun defaults to true so an accidental click never mutates tickets.
type jobRequest struct {
	SessionID string `json:"session_id"`
	InputFile string `json:"input_file"`
	CSVFile   string `json:"csv_file"`
	JSONFile  string `json:"json_file"`
	DryRun    *bool  `json:"dry_run"`
}

func (j jobRequest) session() string {
	if j.SessionID == "" {
		return "default"
	}
	return j.SessionID
}

func (j jobRequest) dryRun() bool {
	if j.DryRun == nil {
		return true
	}
	return *j.DryRun
}

func decodeJobRequest(w http.ResponseWriter, r *http.Request) (jobRequest, bool) {
	var req jobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid request body"})
		return jobRequest{}, false
	}
	return req, true
}

func (s *Server) uploadPath(name string) string {
	return filepath.Join(s.cfg.UploadDir, sanitizeFilename(name))
}

// requireClient validates credentials and builds the API client, publishing
// a terminal error event when a credential is missing.
func (s *Server) requireClient(sink ProgressSink) (*CWClient, bool) {
	if ok, missing := s.cfg.ValidateCredentials(); !ok {
		sink.Publish("Missing credentials: "+strings.Join(missing, ", "), 100, "error")
		return nil, false
	}
	return NewCWClient(s.cfg), true
}

// startJob launches a batch in its own goroutine and immediately responds.
// The batch's final tally is persisted and published as the "done" event.
func (s *Server) startJob(w http.ResponseWriter, sessionID string, job func(sink ProgressSink) (RunResult, bool)) {
	sink := sessionSink{broker: s.broker, sessionID: sessionID}

	go func() {
		startedAt := time.Now()
		result, ran := job(sink)
		if ran {
			if _, err := RecordRun(s.db, result, startedAt, time.Now()); err != nil {
				log.Printf("Failed to record run: %v", err)
			}
		}
		payload, _ := json.Marshal(result)
		s.broker.Publish(sessionID, ProgressEvent{Message: string(payload), Progress: 100, Type: "done"})
	}()

	writeJSON(w, http.StatusOK, map[string]any{"status": "started", "session_id": sessionID})
}

func (s *Server) handleParseEmails(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJobRequest(w, r)
	if !ok {
		return
	}
	if req.InputFile == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "No input file specified"})
		return
	}
	inputPath := s.uploadPath(req.InputFile)
	outputPath := filepath.Join(s.cfg.UploadDir, cleanSurveyFilename)

	s.startJob(w, req.session(), func(sink ProgressSink) (RunResult, bool) {
		parsed, err := RunParse(inputPath, outputPath, req.dryRun(), sink)
		if err != nil {
			return RunResult{Mode: "parse", DryRun: req.dryRun()}, false
		}
		// Parse has no remote side, but the tally is persisted in the same
		// shape: extracted maps to updated.
		return RunResult{
			Mode:    "parse",
			DryRun:  parsed.DryRun,
			Total:   parsed.TotalEmails,
			Updated: parsed.Extracted,
			Skipped: parsed.Skipped,
		}, true
	})
}

func (s *Server) handlePostRatings(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJobRequest(w, r)
	if !ok {
		return
	}
	if req.CSVFile == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "No CSV file specified"})
		return
	}
	csvPath := s.uploadPath(req.CSVFile)

	s.startJob(w, req.session(), func(sink ProgressSink) (RunResult, bool) {
		client, ok := s.requireClient(sink)
		if !ok {
			return RunResult{Mode: "ratings", DryRun: req.dryRun()}, false
		}
		rows, err := ReadCSVRows(csvPath)
		if err != nil {
			sink.Publish(err.Error(), 100, "error")
			return RunResult{Mode: "ratings", DryRun: req.dryRun()}, false
		}
		ratings, skipped := LoadRatingRows(rows)
		if skipped > 0 {
			sink.Publish(fmt.Sprintf("Skipped %d rows with invalid ticket numbers", skipped), 5, "info")
		}
		result := RunRatings(client, ratings, req.dryRun(), sink, nil)
		result.Total += skipped
		result.Skipped += skipped
		return result, true
	})
}

func (s *Server) handlePostNotes(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJobRequest(w, r)
	if !ok {
		return
	}
	jsonFile := req.JSONFile
	if jsonFile == "" {
		jsonFile = cleanSurveyFilename
	}
	jsonPath := s.uploadPath(jsonFile)

	s.startJob(w, req.session(), func(sink ProgressSink) (RunResult, bool) {
		client, ok := s.requireClient(sink)
		if !ok {
			return RunResult{Mode: "notes", DryRun: req.dryRun()}, false
		}
		records, err := ReadSurveyRecords(jsonPath)
		if err != nil {
			sink.Publish(err.Error(), 100, "error")
			return RunResult{Mode: "notes", DryRun: req.dryRun()}, false
		}
		return RunNotes(client, records, req.dryRun(), sink, nil), true
	})
}

func (s *Server) handlePostLinks(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJobRequest(w, r)
	if !ok {
		return
	}
	if req.CSVFile == "" || req.InputFile == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "CSV and email JSON files are both required"})
		return
	}
	csvPath := s.uploadPath(req.CSVFile)
	emailPath := s.uploadPath(req.InputFile)

	s.startJob(w, req.session(), func(sink ProgressSink) (RunResult, bool) {
		client, ok := s.requireClient(sink)
		if !ok {
			return RunResult{Mode: "links", DryRun: req.dryRun()}, false
		}
		rows, err := ReadCSVRows(csvPath)
		if err != nil {
			sink.Publish(err.Error(), 100, "error")
			return RunResult{Mode: "links", DryRun: req.dryRun()}, false
		}
		tickets, _ := LoadTicketSet(rows)
		notifications, err := ReadNotifications(emailPath)
		if err != nil {
			sink.Publish(err.Error(), 100, "error")
			return RunResult{Mode: "links", DryRun: req.dryRun()}, false
		}
		return RunLinks(client, tickets, notifications, req.dryRun(), sink, nil), true
	})
}

func (s *Server) handleCleanNotes(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJobRequest(w, r)
	if !ok {
		return
	}
	jsonFile := req.JSONFile
	if jsonFile == "" {
		jsonFile = cleanSurveyFilename
	}
	jsonPath := s.uploadPath(jsonFile)

	s.startJob(w, req.session(), func(sink ProgressSink) (RunResult, bool) {
		client, ok := s.requireClient(sink)
		if !ok {
			return RunResult{Mode: "clean-notes", DryRun: req.dryRun()}, false
		}
		records, err := ReadSurveyRecords(jsonPath)
		if err != nil {
			sink.Publish(err.Error(), 100, "error")
			return RunResult{Mode: "clean-notes", DryRun: req.dryRun()}, false
		}
		return RunCleanNotes(client, records, req.dryRun(), sink, nil), true
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// sanitizeFilename reduces an uploaded name to a safe base name.
func sanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" {
		return ""
	}
	return name
}

const indexPage = `<!DOCTYPE html>
<html>
<head><title>Crewhu - ConnectWise Sync</title></head>
<body>
<h1>Crewhu - ConnectWise Sync</h1>
<p>Upload a Crewhu notification export (JSON) or survey history (CSV), then
launch a job. All jobs default to dry run.</p>
<ul>
<li>POST /api/upload - multipart file upload</li>
<li>POST /api/parse-emails - {"session_id", "input_file", "dry_run"}</li>
<li>POST /api/post-ratings - {"session_id", "csv_file", "dry_run"}</li>
<li>POST /api/post-notes - {"session_id", "json_file", "dry_run"}</li>
<li>POST /api/post-links - {"session_id", "csv_file", "input_file", "dry_run"}</li>
<li>POST /api/clean-notes - {"session_id", "json_file", "dry_run"}</li>
<li>GET /api/stream/{session} - SSE progress</li>
<li>GET /api/status - credential check</li>
<li>GET /api/files - uploaded files</li>
<li>GET /api/runs - run history</li>
</ul>
</body>
</html>
`
