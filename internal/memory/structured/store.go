// Package structured implements Structured Memory + Salience:
// CRUD over JSON-file memory items backed by a BM25+ ranked index with
// field boosts, fuzzy and prefix matching.
package structured

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/agentrt/agentrt/internal/storage"
	"github.com/agentrt/agentrt/pkg/types"
)

var unsafeIDChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// ErrInvalidID is returned when an item ID contains a path separator
// or parent-directory reference.
var ErrInvalidID = errors.New("structured: invalid item id")

func validateID(id string) error {
	if id == "" || strings.Contains(id, "..") || strings.ContainsAny(id, "/\\") || unsafeIDChars.MatchString(id) {
		return ErrInvalidID
	}
	return nil
}

const indexFileName = "bm25.json"

// Store owns the structured memory item files and their BM25+ index.
type Store struct {
	items     *storage.Storage // rooted at the items directory
	indexPath string

	mu    sync.Mutex
	index *Index
}

// New returns a Store with items under itemsDir and its serialized
// index under indexDir.
func New(itemsDir, indexDir string) *Store {
	return &Store{
		items:     storage.New(itemsDir),
		indexPath: filepath.Join(indexDir, indexFileName),
		index:     NewIndex(),
	}
}

// Load attempts to load a serialized index from disk; on any failure
// (missing file, corrupt JSON) it rebuilds the index from the items
// directory instead.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if idx, err := loadIndex(s.indexPath); err == nil {
		s.index = idx
		return nil
	}
	return s.rebuildLocked(ctx)
}

// CreateOptions are the caller-supplied fields for a new item.
type CreateOptions struct {
	Kind       types.MemoryKind
	Summary    string
	SessionID  string
	SourceKind types.SourceKind
	Tags       []string
	Category   string // derived from Kind+Tags when empty
}

// Create stamps an id and timestamps, zeroes access counters, persists
// the item, and indexes it.
func (s *Store) Create(ctx context.Context, opts CreateOptions) (types.MemoryItem, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	category := opts.Category
	if category == "" {
		category = types.DeriveCategory(opts.Kind, opts.Tags)
	}

	item := types.MemoryItem{
		ID:           ulid.Make().String(),
		Kind:         opts.Kind,
		Summary:      opts.Summary,
		SessionID:    opts.SessionID,
		SourceKind:   opts.SourceKind,
		CreatedAt:    now,
		LastAccessed: now,
		AccessCount:  0,
		Tags:         opts.Tags,
		Category:     category,
	}
	if err := s.CreateItem(item); err != nil {
		return types.MemoryItem{}, err
	}
	return item, nil
}

// CreateItem persists a fully-formed item (used by the Reflector,
// which stamps its own IDs and timestamps) and indexes it.
func (s *Store) CreateItem(item types.MemoryItem) error {
	if err := validateID(item.ID); err != nil {
		return err
	}
	if err := s.items.Put(context.Background(), []string{item.ID}, item); err != nil {
		return fmt.Errorf("persist memory item: %w", err)
	}

	s.mu.Lock()
	s.index.Add(toDocument(item))
	s.mu.Unlock()
	return nil
}

// Get reads an item, incrementing its access count and updating
// last_accessed, writing the change back before returning.
func (s *Store) Get(ctx context.Context, id string) (types.MemoryItem, error) {
	if err := validateID(id); err != nil {
		return types.MemoryItem{}, err
	}

	var item types.MemoryItem
	if err := s.items.Get(ctx, []string{id}, &item); err != nil {
		return types.MemoryItem{}, err
	}

	item.AccessCount++
	item.LastAccessed = time.Now().UTC().Format(time.RFC3339)
	if err := s.items.Put(ctx, []string{id}, item); err != nil {
		return types.MemoryItem{}, fmt.Errorf("update access stats: %w", err)
	}
	return item, nil
}

// Peek reads an item without updating its access stats.
func (s *Store) Peek(ctx context.Context, id string) (types.MemoryItem, error) {
	if err := validateID(id); err != nil {
		return types.MemoryItem{}, err
	}
	var item types.MemoryItem
	err := s.items.Get(ctx, []string{id}, &item)
	return item, err
}

// Update applies a partial update to an existing item; the id is
// immutable regardless of what partial contains.
func (s *Store) Update(ctx context.Context, id string, partial func(*types.MemoryItem)) (types.MemoryItem, error) {
	item, err := s.Peek(ctx, id)
	if err != nil {
		return types.MemoryItem{}, err
	}

	originalID := item.ID
	partial(&item)
	item.ID = originalID

	if err := s.items.Put(ctx, []string{id}, item); err != nil {
		return types.MemoryItem{}, fmt.Errorf("update memory item: %w", err)
	}

	s.mu.Lock()
	s.index.Add(toDocument(item))
	s.mu.Unlock()
	return item, nil
}

// Delete removes an item's file and its index entries.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	if err := s.items.Delete(ctx, []string{id}); err != nil {
		return err
	}

	s.mu.Lock()
	s.index.Remove(id)
	s.mu.Unlock()
	return nil
}

// Filter narrows List results; zero-value fields are wildcards. Tags
// is a conjunction: every listed tag must be present on the item.
type Filter struct {
	Kind     types.MemoryKind
	Category string
	Tags     []string
}

func (f Filter) matches(item types.MemoryItem) bool {
	if f.Kind != "" && item.Kind != f.Kind {
		return false
	}
	if f.Category != "" && item.Category != f.Category {
		return false
	}
	for _, want := range f.Tags {
		found := false
		for _, tag := range item.Tags {
			if tag == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// List returns every item matching filter, ordered by id for
// determinism. It reads each item file on demand rather than relying
// on the index.
func (s *Store) List(ctx context.Context, filter Filter) ([]types.MemoryItem, error) {
	ids, err := s.items.List(ctx, nil)
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)

	var out []types.MemoryItem
	for _, id := range ids {
		item, err := s.Peek(ctx, id)
		if err != nil {
			continue
		}
		if filter.matches(item) {
			out = append(out, item)
		}
	}
	return out, nil
}

// SearchItems returns items matching query, ranked by BM25+ score
// descending, without exposing scores.
func (s *Store) SearchItems(ctx context.Context, query string) ([]types.MemoryItem, error) {
	matches, err := s.SearchItemsWithScores(ctx, query)
	if err != nil {
		return nil, err
	}
	items := make([]types.MemoryItem, len(matches))
	for i, m := range matches {
		items[i] = m.Item
	}
	return items, nil
}

// ScoredItem pairs a memory item with its raw BM25+ score.
type ScoredItem struct {
	Item  types.MemoryItem
	Score float64
}

// SearchItemsWithScores runs the BM25+ query and resolves each
// matching ID to its full item, reading items not already cached from
// disk on demand.
func (s *Store) SearchItemsWithScores(ctx context.Context, query string) ([]ScoredItem, error) {
	s.mu.Lock()
	matches := s.index.Search(query)
	s.mu.Unlock()

	out := make([]ScoredItem, 0, len(matches))
	for _, m := range matches {
		item, err := s.Peek(ctx, m.ID)
		if err != nil {
			continue // item file vanished since indexing; skip rather than fail the whole query
		}
		out = append(out, ScoredItem{Item: item, Score: m.Score})
	}
	return out, nil
}

// RebuildIndex discards the in-memory index and rebuilds it by
// walking the items directory, then persists it to disk.
func (s *Store) RebuildIndex(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rebuildLocked(ctx)
}

func (s *Store) rebuildLocked(ctx context.Context) error {
	ids, err := s.items.List(ctx, nil)
	if err != nil {
		return err
	}

	idx := NewIndex()
	for _, id := range ids {
		var item types.MemoryItem
		if err := s.items.Get(ctx, []string{id}, &item); err != nil {
			continue
		}
		idx.Add(toDocument(item))
	}
	s.index = idx
	return saveIndex(s.indexPath, idx)
}

// Persist writes the current in-memory index to disk.
func (s *Store) Persist() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveIndex(s.indexPath, s.index)
}

// InvalidateIndex persists the current in-memory index, satisfying
// callers (the Reflector, the save-validation pipeline) that must
// invalidate the on-disk index whenever they create an item outside
// of a direct Store.Create call.
func (s *Store) InvalidateIndex() error {
	return s.Persist()
}

// Count returns the number of indexed items, used by the Memory
// Manager's index summary without opening item files.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.index.DocIDs)
}

func toDocument(item types.MemoryItem) document {
	return document{
		ID:       item.ID,
		Summary:  item.Summary,
		Tags:     strings.Join(item.Tags, " "),
		Category: item.Category,
	}
}

func loadIndex(path string) (*Index, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	idx := NewIndex()
	if err := json.Unmarshal(data, idx); err != nil {
		return nil, err
	}
	return idx, nil
}

func saveIndex(path string, idx *Index) error {
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(path, data)
}
