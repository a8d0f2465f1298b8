// Package journal implements the Session Journal: a buffered,
// append-only per-job event log.
package journal

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agentrt/agentrt/internal/storage"
	"github.com/agentrt/agentrt/pkg/types"
)

const (
	defaultFlushInterval = 500 * time.Millisecond
	defaultMaxBuffer     = 1000
)

var unsafeJobIDChars = regexp.MustCompile(`[^A-Za-z0-9_.\-]`)

func sanitizeJobID(jobID string) string {
	return unsafeJobIDChars.ReplaceAllString(filepath.Base(jobID), "_")
}

func journalPath(dir, jobID string) string {
	return filepath.Join(dir, sanitizeJobID(jobID)+".jsonl")
}

// Options configures a Writer.
type Options struct {
	FlushInterval time.Duration // 0 means defaultFlushInterval
	MaxBuffer     int           // 0 means defaultMaxBuffer
}

// Writer buffers events for one job and flushes them to its JSONL
// file periodically. Only the owning task should write to a given
// Writer (single-writer discipline).
type Writer struct {
	path      string
	interval  time.Duration
	maxBuffer int

	mu     sync.Mutex
	buffer []types.SessionEvent

	flushing sync.WaitGroup
	done     chan struct{}
	closed   bool
}

// New returns a Writer appending to dir/{sanitized jobID}.jsonl and
// starts its background flush loop.
func New(dir, jobID string, opts Options) *Writer {
	interval := opts.FlushInterval
	if interval <= 0 {
		interval = defaultFlushInterval
	}
	maxBuffer := opts.MaxBuffer
	if maxBuffer <= 0 {
		maxBuffer = defaultMaxBuffer
	}

	w := &Writer{
		path:      journalPath(dir, jobID),
		interval:  interval,
		maxBuffer: maxBuffer,
		done:      make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *Writer) loop() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.flush()
		case <-w.done:
			return
		}
	}
}

// Append buffers an event for the next periodic flush. If the buffer
// is at capacity, the oldest buffered event is dropped to protect
// against a persistently failing disk.
func (w *Writer) Append(event types.SessionEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buffer = append(w.buffer, event)
	if len(w.buffer) > w.maxBuffer {
		w.buffer = w.buffer[len(w.buffer)-w.maxBuffer:]
	}
}

// flush writes every buffered event to disk. On failure the
// unwritten events remain buffered (subject to the cap) so the next
// tick retries them.
func (w *Writer) flush() {
	w.mu.Lock()
	if len(w.buffer) == 0 {
		w.mu.Unlock()
		return
	}
	pending := w.buffer
	w.buffer = nil
	w.flushing.Add(1)
	w.mu.Unlock()
	defer w.flushing.Done()

	n := 0
	for _, event := range pending {
		if err := storage.AppendLine(w.path, event); err != nil {
			break
		}
		n++
	}
	if n >= len(pending) {
		return
	}

	// Partial failure: re-buffer the unwritten tail ahead of anything
	// appended concurrently, trimmed to the cap.
	w.mu.Lock()
	remaining := append(append([]types.SessionEvent{}, pending[n:]...), w.buffer...)
	if len(remaining) > w.maxBuffer {
		remaining = remaining[len(remaining)-w.maxBuffer:]
	}
	w.buffer = remaining
	w.mu.Unlock()
}

// Close waits for any in-flight flush, performs a final flush so no
// tail events are lost, then stops the background loop.
func (w *Writer) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.mu.Unlock()

	close(w.done)
	w.flushing.Wait()
	w.flush()
	w.flushing.Wait()
}

// GetHistory replays every event recorded for jobID, skipping
// malformed lines.
func GetHistory(dir, jobID string) ([]types.SessionEvent, error) {
	var events []types.SessionEvent
	err := storage.ReadLines(journalPath(dir, jobID), func(raw []byte) error {
		var e types.SessionEvent
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil // skip malformed line
		}
		events = append(events, e)
		return nil
	})
	return events, err
}

// SessionSummary describes one job's journal at a glance.
type SessionSummary struct {
	JobID        string
	EventCount   int
	LastActivity string // ISO 8601 UTC of the last event
	Status       string // running, completed, failed, unknown
}

// ListSessions returns a summary for every job journal under dir.
func ListSessions(ctx context.Context, dir string) ([]SessionSummary, error) {
	ids, err := listJournalFiles(dir)
	if err != nil {
		return nil, err
	}

	summaries := make([]SessionSummary, 0, len(ids))
	for _, jobID := range ids {
		events, err := GetHistory(dir, jobID)
		if err != nil || len(events) == 0 {
			summaries = append(summaries, SessionSummary{JobID: jobID, Status: "unknown"})
			continue
		}
		last := events[len(events)-1]
		summaries = append(summaries, SessionSummary{
			JobID:        jobID,
			EventCount:   len(events),
			LastActivity: last.Timestamp,
			Status:       statusFromLastEvent(last),
		})
	}
	return summaries, nil
}

func listJournalFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var ids []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(entry.Name(), ".jsonl"))
	}
	sort.Strings(ids)
	return ids, nil
}

func statusFromLastEvent(last types.SessionEvent) string {
	switch last.Type {
	case types.EventTaskEnd:
		var content types.TaskEndContent
		if err := json.Unmarshal(last.Content, &content); err == nil && content.Aborted {
			return "failed"
		}
		return "completed"
	case types.EventError:
		return "failed"
	case types.EventDone:
		return "completed"
	default:
		return "running"
	}
}
