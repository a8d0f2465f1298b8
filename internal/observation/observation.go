// Package observation implements the Observation Store:
// append-only per-session and cross-session NDJSON logs of observation
// blocks.
package observation

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/oklog/ulid/v2"

	"github.com/agentrt/agentrt/internal/storage"
	"github.com/agentrt/agentrt/pkg/types"
)

// estimateTokens gives a rough token estimate (~4 characters/token),
// matching the heuristic used elsewhere in the runtime for budget
// accounting rather than exact tokenization.
func estimateTokens(text string) int {
	return len(text) / 4
}

var unsafeSessionChars = regexp.MustCompile(`[^A-Za-z0-9_.\-]`)

// sanitizeSessionID strips anything but word characters, dots, and
// dashes, preventing a session id from escaping the observations
// directory via "../" components.
func sanitizeSessionID(sessionID string) string {
	return unsafeSessionChars.ReplaceAllString(filepath.Base(sessionID), "_")
}

// Store persists observation blocks to per-session and cross-session
// NDJSON files under root.
type Store struct {
	root string
}

// New returns a Store rooted at dir (the "observations" directory).
func New(dir string) *Store {
	return &Store{root: dir}
}

func (s *Store) sessionPath(sessionID string) string {
	return filepath.Join(s.root, sanitizeSessionID(sessionID)+".jsonl")
}

func (s *Store) crossSessionPath() string {
	return filepath.Join(s.root, "cross-session.jsonl")
}

// Append atomically appends block to the appropriate file for its
// tier.
func (s *Store) Append(block types.ObservationBlock) error {
	if block.EstTokenCount == 0 && block.Text != "" {
		block.EstTokenCount = estimateTokens(block.Text)
	}

	var path string
	switch block.Tier {
	case types.TierCrossSession:
		path = s.crossSessionPath()
	default:
		if block.SessionID == "" {
			return fmt.Errorf("session-tier observation block requires a session id")
		}
		path = s.sessionPath(block.SessionID)
	}

	if err := os.MkdirAll(s.root, 0755); err != nil {
		return err
	}
	return storage.AppendLine(path, block)
}

// LoadSession returns every observation block recorded for sessionID,
// in append order. Malformed lines are skipped, not errored.
func (s *Store) LoadSession(sessionID string) ([]types.ObservationBlock, error) {
	return loadBlocks(s.sessionPath(sessionID))
}

// LoadCrossSession returns the most-recent limit cross-session blocks
// (limit <= 0 returns all of them).
func (s *Store) LoadCrossSession(limit int) ([]types.ObservationBlock, error) {
	all, err := loadBlocks(s.crossSessionPath())
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit >= len(all) {
		return all, nil
	}
	return all[len(all)-limit:], nil
}

func loadBlocks(path string) ([]types.ObservationBlock, error) {
	var blocks []types.ObservationBlock
	err := storage.ReadLines(path, func(raw []byte) error {
		var b types.ObservationBlock
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil // skip malformed line
		}
		blocks = append(blocks, b)
		return nil
	})
	return blocks, err
}

// BuildSessionContext concatenates a session's observation block text
// in order.
func (s *Store) BuildSessionContext(sessionID string) (string, error) {
	blocks, err := s.LoadSession(sessionID)
	if err != nil {
		return "", err
	}
	return concatBlocks(blocks), nil
}

// BuildCrossSessionContext concatenates every cross-session block's
// text in order.
func (s *Store) BuildCrossSessionContext() (string, error) {
	blocks, err := s.LoadCrossSession(0)
	if err != nil {
		return "", err
	}
	return concatBlocks(blocks), nil
}

func concatBlocks(blocks []types.ObservationBlock) string {
	out := ""
	for _, b := range blocks {
		out += b.Text + "\n"
	}
	return out
}

// GetSessionTokenCount sums the estimated token count of every block in
// a session.
func (s *Store) GetSessionTokenCount(sessionID string) (int, error) {
	blocks, err := s.LoadSession(sessionID)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, b := range blocks {
		total += b.EstTokenCount
	}
	return total, nil
}

// PruneOldSessions keeps only the keepN most-recently-modified session
// files, deleting the rest.
func (s *Store) PruneOldSessions(keepN int) error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	type fileInfo struct {
		path    string
		modTime int64
	}
	var files []fileInfo
	for _, e := range entries {
		if e.IsDir() || e.Name() == "cross-session.jsonl" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, fileInfo{filepath.Join(s.root, e.Name()), info.ModTime().UnixNano()})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].modTime > files[j].modTime })

	if keepN < 0 {
		keepN = 0
	}
	for i := keepN; i < len(files); i++ {
		os.Remove(files[i].path)
	}
	return nil
}

// NewBlockID generates a fresh observation block identifier.
func NewBlockID() string {
	return ulid.Make().String()
}
