package testutil

import (
	"fmt"
	"sync"
)

// Entry is one record captured by RecordingLogger.
type Entry struct {
	Level  string
	Msg    string
	Fields map[string]any
}

// RecordingLogger is a logging.Logger that keeps every entry in memory.
type RecordingLogger struct {
	mu      sync.Mutex
	entries []Entry
}

// Debug records a debug entry.
func (l *RecordingLogger) Debug(msg string, args ...any) { l.add("debug", msg, args) }

// Info records an info entry.
func (l *RecordingLogger) Info(msg string, args ...any) { l.add("info", msg, args) }

// Warn records a warn entry.
func (l *RecordingLogger) Warn(msg string, args ...any) { l.add("warn", msg, args) }

// Error records an error entry.
func (l *RecordingLogger) Error(msg string, args ...any) { l.add("error", msg, args) }

func (l *RecordingLogger) add(level, msg string, args []any) {
	fields := make(map[string]any, len(args)/2)
	for i := 0; i+1 < len(args); i += 2 {
		fields[fmt.Sprint(args[i])] = args[i+1]
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, Entry{Level: level, Msg: msg, Fields: fields})
}

// Entries returns a copy of all captured entries.
func (l *RecordingLogger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Entry(nil), l.entries...)
}

// Find returns the entries with message msg.
func (l *RecordingLogger) Find(msg string) []Entry {
	var out []Entry
	for _, e := range l.Entries() {
		if e.Msg == msg {
			out = append(out, e)
		}
	}
	return out
}
