// Package steering implements Steering Ingress: a filesystem
// mailbox letting an external actor inject instructions into a
// running task.
package steering

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
)

const archiveDirName = "archive"

var unsafeJobIDChars = regexp.MustCompile(`[^A-Za-z0-9_.\-]`)

func sanitizeJobID(jobID string) string {
	return unsafeJobIDChars.ReplaceAllString(filepath.Base(jobID), "_")
}

// Message is one steering instruction waiting in a job's mailbox.
type Message struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Mailbox is the filesystem-backed pending/archive store for one job.
// The store is the single source of truth; no in-memory queue
// survives a restart.
type Mailbox struct {
	root string // root/<jobID>/{pending,archive}

	mu        sync.Mutex
	cache     []Message
	cachedAt  time.Time
	cacheJob  string
	watcher   *fsnotify.Watcher
	watcherMu sync.Mutex
}

// New returns a Mailbox rooted at dir (one directory per job lives
// under it).
func New(dir string) *Mailbox {
	return &Mailbox{root: dir}
}

func (m *Mailbox) pendingDir(jobID string) string {
	return filepath.Join(m.root, sanitizeJobID(jobID), "pending")
}

func (m *Mailbox) archiveDir(jobID string) string {
	return filepath.Join(m.root, sanitizeJobID(jobID), archiveDirName)
}

// InjectMessage atomically writes a new pending message file for jobID.
func (m *Mailbox) InjectMessage(jobID, text string) (Message, error) {
	msg := Message{ID: ulid.Make().String(), Text: text, Timestamp: time.Now().UTC()}

	dir := m.pendingDir(jobID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return Message{}, fmt.Errorf("create pending dir: %w", err)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return Message{}, err
	}

	path := filepath.Join(dir, msg.ID+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return Message{}, fmt.Errorf("write steering message: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return Message{}, fmt.Errorf("rename steering message: %w", err)
	}

	m.invalidate(jobID)
	return msg, nil
}

// GetPendingMessages reads jobID's pending directory fresh from disk,
// sorted by timestamp ascending.
func (m *Mailbox) GetPendingMessages(jobID string) ([]Message, error) {
	dir := m.pendingDir(jobID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	messages := make([]Message, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		messages = append(messages, msg)
	}

	sort.Slice(messages, func(i, j int) bool {
		return messages[i].Timestamp.Before(messages[j].Timestamp)
	})
	return messages, nil
}

// CachedGetPendingMessages memoizes GetPendingMessages per job for
// maxAge. A successful InjectMessage/ArchiveMessage invalidates the
// cache for that job immediately.
func (m *Mailbox) CachedGetPendingMessages(jobID string, maxAge time.Duration) ([]Message, error) {
	m.mu.Lock()
	if m.cacheJob == jobID && time.Since(m.cachedAt) < maxAge {
		cached := m.cache
		m.mu.Unlock()
		return cached, nil
	}
	m.mu.Unlock()

	messages, err := m.GetPendingMessages(jobID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.cache = messages
	m.cachedAt = time.Now()
	m.cacheJob = jobID
	m.mu.Unlock()

	return messages, nil
}

// ArchiveMessage renames a pending message into the job's archive
// directory and invalidates the cache.
func (m *Mailbox) ArchiveMessage(jobID, messageID string) error {
	safeID := unsafeJobIDChars.ReplaceAllString(filepath.Base(messageID), "_")
	src := filepath.Join(m.pendingDir(jobID), safeID+".json")
	dstDir := m.archiveDir(jobID)
	if err := os.MkdirAll(dstDir, 0755); err != nil {
		return fmt.Errorf("create archive dir: %w", err)
	}

	if err := os.Rename(src, filepath.Join(dstDir, safeID+".json")); err != nil {
		return fmt.Errorf("archive steering message: %w", err)
	}

	m.invalidate(jobID)
	return nil
}

func (m *Mailbox) invalidate(jobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cacheJob == jobID {
		m.cache = nil
		m.cachedAt = time.Time{}
	}
}

// WatchInvalidation starts an fsnotify watch on jobID's pending
// directory so external writers (not going through InjectMessage)
// still invalidate the cache promptly. Returns a stop function. A
// watch failure (e.g. the directory not existing yet) is logged and
// treated as a no-op; polling callers still get fresh data on their
// next cache expiry.
func (m *Mailbox) WatchInvalidation(jobID string) (stop func(), err error) {
	dir := m.pendingDir(jobID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return func() {}, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Error().Err(err).Str("jobID", jobID).Msg("steering watcher unavailable")
		return func() {}, err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return func() {}, err
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case _, ok := <-watcher.Events:
				if !ok {
					return
				}
				m.invalidate(jobID)
			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Error().Err(werr).Str("jobID", jobID).Msg("steering watcher error")
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		watcher.Close()
	}, nil
}
