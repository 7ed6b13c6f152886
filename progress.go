package main

import (
	"log"
	"sync"
	"time"
)

// ProgressEvent is one status update from a running batch. It carries no
// business data; dropping events never affects reconciliation results.
type ProgressEvent struct {
	Message   string `json:"message"`
	Progress  int    `json:"progress"`
	Type      string `json:"type"` // "info", "success", "warning", "error", "done", "keepalive"
	Timestamp string `json:"timestamp"`
}

// ProgressSink receives status updates from a batch. A batch is the only
// writer to its sink; any number of observers may drain it.
type ProgressSink interface {
	Publish(message string, progress int, eventType string)
}

// logSink routes progress to the process log. Used by CLI runs, which
// have no streaming observer.
type logSink struct{}

func (logSink) Publish(message string, progress int, eventType string) {
	if eventType == "error" || eventType == "warning" {
		log.Printf("[%s] %s", eventType, message)
		return
	}
	log.Print(message)
}

// ProgressBroker hands out one buffered channel per session so the web
// layer can stream a batch's progress over SSE. The batch publishes,
// the SSE handler drains; if an observer falls behind, events are
// dropped rather than blocking the batch.
type ProgressBroker struct {
	mu       sync.Mutex
	sessions map[string]chan ProgressEvent
}

func NewProgressBroker() *ProgressBroker {
	return &ProgressBroker{sessions: make(map[string]chan ProgressEvent)}
}

// Channel returns the session's event channel, creating it on first use.
func (b *ProgressBroker) Channel(sessionID string) <-chan ProgressEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.channelLocked(sessionID)
}

func (b *ProgressBroker) channelLocked(sessionID string) chan ProgressEvent {
	ch, ok := b.sessions[sessionID]
	if !ok {
		ch = make(chan ProgressEvent, 256)
		b.sessions[sessionID] = ch
	}
	return ch
}

// Publish appends an event to the session's channel without blocking.
func (b *ProgressBroker) Publish(sessionID string, ev ProgressEvent) {
	if ev.Timestamp == "" {
		ev.Timestamp = time.Now().Format(time.RFC3339)
	}
	b.mu.Lock()
	ch := b.channelLocked(sessionID)
	b.mu.Unlock()

	select {
	case ch <- ev:
	default:
	}
}

// Close removes a session. Pending events are discarded.
func (b *ProgressBroker) Close(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sessions, sessionID)
}

// sessionSink adapts one broker session to the ProgressSink interface.
type sessionSink struct {
	broker    *ProgressBroker
	sessionID string
}

func (s sessionSink) Publish(message string, progress int, eventType string) {
	s.broker.Publish(s.sessionID, ProgressEvent{
		Message:  message,
		Progress: progress,
		Type:     eventType,
	})
}
