// Package logger records observer events in a JSON-Lines journal.
//
// The first line is a header object; every following line is an entry of
// the form [time_offset, event_type, payload].
package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/awattacker/observer/internal/model"
)

// JournalVersion is written into every header.
const JournalVersion = 1

const (
	EntryWindow = "window"
	EntryFile   = "file"
)

// JournalHeader is the first line of a journal.
type JournalHeader struct {
	Version   int               `json:"version"`
	Timestamp int64             `json:"timestamp"`
	Device    string            `json:"device,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
}

// JournalEntry is a single recorded event.
// Format: [time_offset, event_type, payload]
type JournalEntry struct {
	TimeOffset float64
	EventType  string
	Payload    json.RawMessage
}

// MarshalJSON implements custom JSON marshaling for JournalEntry.
func (e JournalEntry) MarshalJSON() ([]byte, error) {
	payload := e.Payload
	if payload == nil {
		payload = json.RawMessage("null")
	}
	return json.Marshal([]any{e.TimeOffset, e.EventType, payload})
}

// UnmarshalJSON implements custom JSON unmarshaling for JournalEntry.
func (e *JournalEntry) UnmarshalJSON(data []byte) error {
	var arr []json.RawMessage
	if err := json.Unmarshal(data, &arr); err != nil {
		return err
	}
	if len(arr) != 3 {
		return fmt.Errorf("invalid entry format: expected 3 elements, got %d", len(arr))
	}
	if err := json.Unmarshal(arr[0], &e.TimeOffset); err != nil {
		return fmt.Errorf("invalid time offset: %w", err)
	}
	if err := json.Unmarshal(arr[1], &e.EventType); err != nil {
		return fmt.Errorf("invalid event type: %w", err)
	}
	e.Payload = arr[2]
	return nil
}

// Journal appends events to a JSON-Lines file.
type Journal struct {
	writer    io.Writer
	file      *os.File // only set if we own the file
	startTime time.Time
	mu        sync.Mutex
}

// NewJournal creates a journal at filePath, truncating any previous content.
func NewJournal(filePath string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}
	file, err := os.Create(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create journal file: %w", err)
	}

	return &Journal{
		writer:    file,
		file:      file,
		startTime: time.Now(),
	}, nil
}

// NewJournalWithWriter creates a journal that writes to w.
func NewJournalWithWriter(w io.Writer) *Journal {
	return &Journal{
		writer:    w,
		startTime: time.Now(),
	}
}

// WriteHeader writes the header line. Call it once, before any entry.
func (j *Journal) WriteHeader(device string, env map[string]string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	header := JournalHeader{
		Version:   JournalVersion,
		Timestamp: j.startTime.Unix(),
		Device:    device,
		Env:       env,
	}

	data, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}

	if _, err := j.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	return nil
}

// RecordWindowEvent appends a window-state change.
func (j *Journal) RecordWindowEvent(event model.WindowEvent) error {
	return j.record(EntryWindow, event)
}

// RecordFile appends a completed transfer.
func (j *Journal) RecordFile(file *model.StoredFile) error {
	return j.record(EntryFile, file)
}

func (j *Journal) record(eventType string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	entry := JournalEntry{
		TimeOffset: time.Since(j.startTime).Seconds(),
		EventType:  eventType,
		Payload:    payload,
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	if _, err := j.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write entry: %w", err)
	}

	return nil
}

// Close closes the journal file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file != nil {
		return j.file.Close()
	}
	return nil
}

// StartTime returns the start time of the journal.
func (j *Journal) StartTime() time.Time {
	return j.startTime
}
