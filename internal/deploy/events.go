package deploy

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Event is one deployment lifecycle record.
type Event struct {
	Timestamp  string `json:"timestamp"`
	Deployment string `json:"deployment"`
	Action     string `json:"action"` // "deployed", "destroyed", "failed"
	Template   string `json:"template,omitempty"`
	Error      string `json:"error,omitempty"`
}

// EventLog writes deployment events in JSON-lines format.
type EventLog struct {
	writer io.WriteCloser
	mu     sync.Mutex
}

// NewEventLog creates an event log appending to the specified file.
// If path is empty, event logging is disabled.
func NewEventLog(path string) (*EventLog, error) {
	if path == "" {
		return &EventLog{writer: nopWriteCloser{}}, nil
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create event log directory: %w", err)
		}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	return &EventLog{writer: file}, nil
}

// Log appends an event record.
func (el *EventLog) Log(event Event) error {
	el.mu.Lock()
	defer el.mu.Unlock()

	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	data = append(data, '\n')
	if _, err := el.writer.Write(data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (el *EventLog) Close() error {
	el.mu.Lock()
	defer el.mu.Unlock()
	return el.writer.Close()
}

// ReadEvents reads all events from the specified file. Malformed
// lines are skipped.
func ReadEvents(path string) ([]Event, error) {
	if path == "" {
		return nil, nil
	}

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open event log: %w", err)
	}
	defer file.Close()

	var events []Event
	decoder := json.NewDecoder(file)
	for {
		var event Event
		if err := decoder.Decode(&event); err != nil {
			// EOF or a truncated trailing record: stop here and
			// return what parsed cleanly.
			break
		}
		events = append(events, event)
	}
	return events, nil
}

type nopWriteCloser struct{}

func (nopWriteCloser) Write(p []byte) (int, error) { return len(p), nil }
func (nopWriteCloser) Close() error                { return nil }
