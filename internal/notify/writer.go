package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Event types carried through the events directory.
const (
	EventSessionEnded = "session_ended"
)

// Event is the payload written to an event file.
type Event struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id,omitempty"`
	Time      int64  `json:"time"`
}

// EventWriter writes event files to a shared directory.
type EventWriter struct {
	dir string
}

// NewEventWriter creates a writer that emits events into dir.
func NewEventWriter(dir string) *EventWriter {
	return &EventWriter{dir: dir}
}

// SessionEnded writes a session_ended event file.
// Safe to call concurrently.
func (w *EventWriter) SessionEnded(sessionID, userID string) error {
	evt := Event{
		Type:      EventSessionEnded,
		SessionID: sessionID,
		UserID:    userID,
		Time:      time.Now().UnixNano(),
	}
	return writeFile(w.dir, fmt.Sprintf("%d-%s.event", evt.Time, sanitizeID(sessionID)), evt)
}

// FileDispatcher writes each notification as a JSON file into an outbox
// directory for an external push worker.
type FileDispatcher struct {
	dir string
}

// NewFileDispatcher creates an outbox dispatcher writing into dir.
func NewFileDispatcher(dir string) *FileDispatcher {
	return &FileDispatcher{dir: dir}
}

// Deliver implements Dispatcher. The file name is derived from the trigger
// ID so a repeated delivery overwrites rather than duplicates.
func (d *FileDispatcher) Deliver(_ context.Context, _ string, n Notification) error {
	return writeFile(d.dir, sanitizeID(n.TriggerID)+".json", n)
}

// writeFile writes v to dir/name through a temp file and rename so readers
// never observe a partial file.
func writeFile(dir, name string, v any) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("notify: mkdir %s: %w", dir, err)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("notify: encode: %w", err)
	}
	tmp := filepath.Join(dir, "."+name+".tmp")
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("notify: write %s: %w", name, err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, name)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("notify: rename %s: %w", name, err)
	}
	return nil
}

// sanitizeID replaces characters unsafe for filenames.
func sanitizeID(id string) string {
	out := make([]byte, len(id))
	for i := 0; i < len(id); i++ {
		switch id[i] {
		case '/', ':', '\\':
			out[i] = '_'
		default:
			out[i] = id[i]
		}
	}
	return string(out)
}

var _ Dispatcher = (*FileDispatcher)(nil)
