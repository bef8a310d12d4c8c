/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package logtest

import (
	"sync"
	"time"

	"github.com/ssgreg/logf"

	"github.com/acronis/go-ratekit/log"
)

// RecordedEntry is a logged message with its fields (including the ones added by With).
type RecordedEntry struct {
	Level  log.Level
	Time   time.Time
	Text   string
	Fields []log.Field
}

// FindField returns the first field with the key.
func (re *RecordedEntry) FindField(key string) (*log.Field, bool) {
	for i := range re.Fields {
		if re.Fields[i].Key == key {
			return &re.Fields[i], true
		}
	}
	return nil, false
}

var logfLevels = map[logf.Level]log.Level{
	logf.LevelError: log.LevelError,
	logf.LevelWarn:  log.LevelWarn,
	logf.LevelInfo:  log.LevelInfo,
	logf.LevelDebug: log.LevelDebug,
}

// entryStore is shared by a Recorder and all loggers derived from it.
type entryStore struct {
	mu      sync.Mutex
	entries []RecordedEntry
}

//nolint:gocritic // logf.EntryWriter passes entries by value
func (s *entryStore) WriteEntry(e logf.Entry) {
	fields := make([]log.Field, 0, len(e.DerivedFields)+len(e.Fields))
	fields = append(fields, e.Fields...)
	fields = append(fields, e.DerivedFields...)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, RecordedEntry{Level: logfLevels[e.Level], Time: e.Time, Text: e.Text, Fields: fields})
}

func (s *entryStore) snapshot() []RecordedEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RecordedEntry(nil), s.entries...)
}

// Recorder is a log.FieldLogger that keeps every entry at any level in memory.
type Recorder struct {
	*log.LogfAdapter
	store *entryStore
}

// NewRecorder creates a new Recorder.
func NewRecorder() *Recorder {
	store := &entryStore{}
	return &Recorder{LogfAdapter: &log.LogfAdapter{Logger: logf.NewLogger(logf.LevelDebug, store)}, store: store}
}

// With returns a logger with additional fields, its entries are recorded by r.
func (r *Recorder) With(fs ...log.Field) log.FieldLogger {
	return &Recorder{LogfAdapter: r.LogfAdapter.With(fs...).(*log.LogfAdapter), store: r.store}
}

// WithLevel returns a logger that drops entries below the level, the rest are recorded by r.
func (r *Recorder) WithLevel(level log.Level) log.FieldLogger {
	return &Recorder{LogfAdapter: r.LogfAdapter.WithLevel(level).(*log.LogfAdapter), store: r.store}
}

// Entries returns a copy of the recorded entries in the logging order.
func (r *Recorder) Entries() []RecordedEntry {
	return r.store.snapshot()
}

// FindEntry returns the first entry with the message.
func (r *Recorder) FindEntry(msg string) (RecordedEntry, bool) {
	for _, entry := range r.store.snapshot() {
		if entry.Text == msg {
			return entry, true
		}
	}
	return RecordedEntry{}, false
}

// CountEntries returns how many times the message was logged.
func (r *Recorder) CountEntries(msg string) int {
	n := 0
	for _, entry := range r.store.snapshot() {
		if entry.Text == msg {
			n++
		}
	}
	return n
}
