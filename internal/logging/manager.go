// Package logging captures the process log stream into a bounded
// in-memory ring so operators can tail recent entries over the HTTP
// API without shell access to the host.
package logging

import (
	"container/ring"
	"io"
	"log"
	"strings"
	"sync"
	"time"
)

// MaxBufferSize is the number of log entries kept in memory.
const MaxBufferSize = 10000

// Entry is one captured log line.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source,omitempty"`
	Message   string    `json:"message"`
}

// Manager buffers recent log entries. It implements io.Writer so it
// can sit in the stdlib logger's output path and tee every line into
// the ring on its way to the real destination.
type Manager struct {
	mu     sync.RWMutex
	buffer *ring.Ring
	out    io.Writer
}

// NewManager creates a manager forwarding to out after capturing.
func NewManager(out io.Writer) *Manager {
	return &Manager{
		buffer: ring.New(MaxBufferSize),
		out:    out,
	}
}

// Install routes the process-wide stdlib logger through a new manager.
// Call once at startup, before anything logs.
func Install() *Manager {
	m := NewManager(log.Writer())
	log.SetOutput(m)
	return m
}

// Write implements io.Writer. Each write is one log line; a leading
// "[Component]" tag, when present, becomes the entry's source.
func (m *Manager) Write(p []byte) (int, error) {
	source, message := parseLine(strings.TrimRight(string(p), "\n"))

	m.mu.Lock()
	m.buffer.Value = Entry{
		Timestamp: time.Now().UTC(),
		Source:    source,
		Message:   message,
	}
	m.buffer = m.buffer.Next()
	m.mu.Unlock()

	if m.out != nil {
		return m.out.Write(p)
	}
	return len(p), nil
}

// Recent returns up to limit buffered entries, oldest first,
// optionally filtered by source. Zero and oversized limits fall back
// to 100.
func (m *Manager) Recent(limit int, source string) []Entry {
	if limit <= 0 || limit > MaxBufferSize {
		limit = 100
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := make([]Entry, 0, limit)
	m.buffer.Do(func(v interface{}) {
		entry, ok := v.(Entry)
		if !ok {
			return
		}
		if source != "" && entry.Source != source {
			return
		}
		entries = append(entries, entry)
	})

	if len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries
}

// parseLine pulls the "[Component]" tag out of a rendered log line.
// Lines without one keep their full text and an empty source.
func parseLine(line string) (source, message string) {
	start := strings.Index(line, "[")
	if start >= 0 {
		if end := strings.Index(line[start:], "]"); end > 0 {
			return line[start+1 : start+end], strings.TrimSpace(line[start+end+1:])
		}
	}
	return "", line
}
