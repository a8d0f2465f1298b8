// Package memory implements the Memory Manager: a unified
// three-tier facade over a read-only long-term document, append-only
// daily notes, and the structured item store, plus the
// validation pipeline gating agent-initiated saves.
package memory

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agentrt/agentrt/internal/memory/structured"
	"github.com/agentrt/agentrt/pkg/types"
)

// SalienceWeights are the default composition weights for
// access/recency/relevance; they sum to 1.
var SalienceWeights = struct {
	Access    float64
	Recency   float64
	Relevance float64
}{Access: 0.3, Recency: 0.3, Relevance: 0.4}

const recencyHalfLifeDays = 7.0

// Manager is the facade over all three memory tiers.
type Manager struct {
	docPath         string
	dailyDir        string
	dailyArchiveDir string
	items           *structured.Store

	mu         sync.Mutex
	indexCache *IndexSummary
	saveCounts map[string]int // sessionID -> agent-initiated saves this process
}

// New returns a Manager. dailyDir holds one file per calendar day;
// dailyArchiveDir is a subdirectory of it.
func New(docPath, dailyDir, dailyArchiveDir string, items *structured.Store) *Manager {
	return &Manager{
		docPath:         docPath,
		dailyDir:        dailyDir,
		dailyArchiveDir: dailyArchiveDir,
		items:           items,
		saveCounts:      make(map[string]int),
	}
}

// IndexSummary counts items, categories, and daily notes without
// opening item files.
type IndexSummary struct {
	ItemCount         int
	CategoryCount     int
	EarliestDailyNote string // YYYY-MM-DD, empty if none
}

// GetMemoryIndex returns a cached summary, recomputing it only after
// the cache has been invalidated by a write.
func (m *Manager) GetMemoryIndex(ctx context.Context) (IndexSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.indexCache != nil {
		return *m.indexCache, nil
	}

	items, err := m.items.List(ctx, structured.Filter{})
	if err != nil {
		return IndexSummary{}, err
	}
	categories := make(map[string]bool)
	for _, item := range items {
		categories[item.Category] = true
	}

	dates, err := m.dailyNoteDates()
	if err != nil {
		return IndexSummary{}, err
	}
	earliest := ""
	if len(dates) > 0 {
		earliest = dates[len(dates)-1]
	}

	summary := IndexSummary{ItemCount: len(items), CategoryCount: len(categories), EarliestDailyNote: earliest}
	m.indexCache = &summary
	return summary, nil
}

func (m *Manager) invalidateIndexLocked() {
	m.indexCache = nil
}

// InvalidateIndex forces the next GetMemoryIndex call to recompute.
func (m *Manager) InvalidateIndex() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidateIndexLocked()
}

// LoadContext returns the lightweight progressive-context block: the
// long-term document body (if present) plus a one-line index summary.
// It never includes item content.
func (m *Manager) LoadContext(ctx context.Context) (string, error) {
	doc, err := m.readDocBody()
	if err != nil {
		return "", err
	}

	idx, err := m.GetMemoryIndex(ctx)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	if doc != "" {
		sb.WriteString(doc)
		sb.WriteString("\n\n")
	}
	sb.WriteString(fmt.Sprintf(
		"[MEMORY] %d items, %d categories: use memory_search / recall_context / memory_save",
		idx.ItemCount, idx.CategoryCount,
	))
	if idx.EarliestDailyNote != "" {
		sb.WriteString(fmt.Sprintf("; daily notes available since %s", idx.EarliestDailyNote))
	}
	return sb.String(), nil
}

func (m *Manager) readDocBody() (string, error) {
	data, err := os.ReadFile(m.docPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return string(data), nil
}

// RecallResult pairs an item with its composed salience score.
type RecallResult struct {
	Item  types.MemoryItem
	Score float64
}

// RecallMemory returns items ranked by salience (access x recency x
// BM25+ relevance), most salient first, limited to limit results
// (limit <= 0 means unlimited).
func (m *Manager) RecallMemory(ctx context.Context, query string, limit int) ([]RecallResult, error) {
	var scored []structured.ScoredItem
	var err error
	if strings.TrimSpace(query) == "" {
		items, listErr := m.items.List(ctx, structured.Filter{})
		if listErr != nil {
			return nil, listErr
		}
		scored = make([]structured.ScoredItem, len(items))
		for i, it := range items {
			scored[i] = structured.ScoredItem{Item: it, Score: 0}
		}
	} else {
		scored, err = m.items.SearchItemsWithScores(ctx, query)
		if err != nil {
			return nil, err
		}
	}

	maxScore := 0.0
	for _, s := range scored {
		if s.Score > maxScore {
			maxScore = s.Score
		}
	}

	hasQuery := strings.TrimSpace(query) != ""
	now := time.Now().UTC()
	results := make([]RecallResult, len(scored))
	for i, s := range scored {
		relevance := 1.0
		if hasQuery {
			if maxScore > 0 {
				relevance = s.Score / maxScore
			} else {
				relevance = 0
			}
		}
		results[i] = RecallResult{Item: s.Item, Score: salience(s.Item, relevance, now)}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].Item.LastAccessed != results[j].Item.LastAccessed {
			return results[i].Item.LastAccessed > results[j].Item.LastAccessed
		}
		return results[i].Item.ID < results[j].Item.ID
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func salience(item types.MemoryItem, relevance float64, now time.Time) float64 {
	accessWeight := math.Min(1, float64(item.AccessCount)/20)

	ageDays := 0.0
	if t, err := time.Parse(time.RFC3339, item.LastAccessed); err == nil {
		ageDays = now.Sub(t).Hours() / 24
	}
	recencyDecay := math.Exp(-ageDays / recencyHalfLifeDays)

	return SalienceWeights.Access*accessWeight + SalienceWeights.Recency*recencyDecay + SalienceWeights.Relevance*relevance
}

// DailyNote is one calendar day's note body.
type DailyNote struct {
	Date string // YYYY-MM-DD
	Body string
}

// RecallDailyNotes returns the N most recent day bodies, most recent
// date first.
func (m *Manager) RecallDailyNotes(days int) ([]DailyNote, error) {
	dates, err := m.dailyNoteDates()
	if err != nil {
		return nil, err
	}
	if days > 0 && len(dates) > days {
		dates = dates[:days]
	}

	notes := make([]DailyNote, 0, len(dates))
	for _, date := range dates {
		body, err := os.ReadFile(filepath.Join(m.dailyDir, date+".md"))
		if err != nil {
			continue
		}
		notes = append(notes, DailyNote{Date: date, Body: string(body)})
	}
	return notes, nil
}

// dailyNoteDates returns every day's date (filename stem) present in
// the daily directory, sorted descending (most recent first).
func (m *Manager) dailyNoteDates() ([]string, error) {
	entries, err := os.ReadDir(m.dailyDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var dates []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		dates = append(dates, strings.TrimSuffix(e.Name(), ".md"))
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	return dates, nil
}

// FullContext is the legacy all-three-tiers dump, retained for tests
// and batch use.
type FullContext struct {
	LongTermDocument string
	DailyNotes       []DailyNote
	Items            []types.MemoryItem
}

// LoadFullContext dumps every tier's content.
func (m *Manager) LoadFullContext(ctx context.Context) (FullContext, error) {
	doc, err := m.readDocBody()
	if err != nil {
		return FullContext{}, err
	}
	notes, err := m.RecallDailyNotes(0)
	if err != nil {
		return FullContext{}, err
	}
	items, err := m.items.List(ctx, structured.Filter{})
	if err != nil {
		return FullContext{}, err
	}
	return FullContext{LongTermDocument: doc, DailyNotes: notes, Items: items}, nil
}

// AppendDailyNote creates today's file if missing and appends text.
func (m *Manager) AppendDailyNote(text string) error {
	date := time.Now().UTC().Format("2006-01-02")
	path := filepath.Join(m.dailyDir, date+".md")

	if err := os.MkdirAll(m.dailyDir, 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteString(text + "\n"); err != nil {
		return err
	}

	m.InvalidateIndex()
	return nil
}

// ForgetItem deletes an item from structured memory and invalidates
// the index.
func (m *Manager) ForgetItem(ctx context.Context, id string) error {
	if err := m.items.Delete(ctx, id); err != nil {
		return err
	}
	m.InvalidateIndex()
	return nil
}

// ConsolidateDailyNotes moves notes older than olderThanDays into the
// archive subdirectory and appends a summary line to the long-term
// document, the only write the core ever makes to that document.
func (m *Manager) ConsolidateDailyNotes(olderThanDays int) (int, error) {
	dates, err := m.dailyNoteDates()
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -olderThanDays)
	moved := 0
	for _, date := range dates {
		day, err := time.Parse("2006-01-02", date)
		if err != nil || !day.Before(cutoff) {
			continue
		}
		src := filepath.Join(m.dailyDir, date+".md")
		if err := os.MkdirAll(m.dailyArchiveDir, 0755); err != nil {
			return moved, err
		}
		dst := filepath.Join(m.dailyArchiveDir, date+".md")
		if err := os.Rename(src, dst); err != nil {
			continue
		}
		moved++
	}

	if moved > 0 {
		if err := m.appendToLongTermDoc(fmt.Sprintf("Archived %d notes on %s", moved, time.Now().UTC().Format("2006-01-02"))); err != nil {
			return moved, err
		}
		m.InvalidateIndex()
	}
	return moved, nil
}

func (m *Manager) appendToLongTermDoc(line string) error {
	if err := os.MkdirAll(filepath.Dir(m.docPath), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(m.docPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(line + "\n")
	return err
}

var transientPatterns = []string{
	"is busy", "is waiting", "just now", "currently",
	"right now", "at the moment", "is typing", "is loading",
}

var nonWord = regexp.MustCompile(`[^a-z0-9]+`)

func wordSet(text string) map[string]bool {
	words := make(map[string]bool)
	for _, w := range strings.Fields(nonWord.ReplaceAllString(strings.ToLower(text), " ")) {
		if w != "" {
			words[w] = true
		}
	}
	return words
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	intersection := 0
	for w := range a {
		if b[w] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// SaveValidation is the outcome of the 5-gate pipeline.
type SaveValidation struct {
	Allowed       bool
	Reason        string
	ConflictingID string
}

const (
	minSaveLength                = 15
	duplicateJaccardThreshold    = 0.7
	contradictionJaccardLowBound = 0.2
	perSessionSaveCeiling        = 10
)

// ValidateSave runs the 5-gate pipeline for an agent-initiated save
// and, if it passes, increments the per-session save counter.
func (m *Manager) ValidateSave(ctx context.Context, sessionID, text string, tags []string) (SaveValidation, error) {
	if len([]rune(text)) < minSaveLength {
		return SaveValidation{Reason: "content shorter than the minimum save length"}, nil
	}

	lower := strings.ToLower(text)
	for _, p := range transientPatterns {
		if strings.Contains(lower, p) {
			return SaveValidation{Reason: "content describes a transient state, not a durable fact"}, nil
		}
	}

	existing, err := m.items.List(ctx, structured.Filter{})
	if err != nil {
		return SaveValidation{}, err
	}
	candidate := wordSet(text)

	for _, item := range existing {
		sim := jaccard(candidate, wordSet(item.Summary))
		if sim >= duplicateJaccardThreshold {
			return SaveValidation{Reason: "duplicate of an existing memory item", ConflictingID: item.ID}, nil
		}
	}

	for _, item := range existing {
		if !sameTags(tags, item.Tags) {
			continue
		}
		sim := jaccard(candidate, wordSet(item.Summary))
		if sim > contradictionJaccardLowBound && sim <= duplicateJaccardThreshold {
			return SaveValidation{Reason: "potentially contradicts an existing memory item with the same tags", ConflictingID: item.ID}, nil
		}
	}

	m.mu.Lock()
	count := m.saveCounts[sessionID]
	if count >= perSessionSaveCeiling {
		m.mu.Unlock()
		return SaveValidation{Reason: "per-session save ceiling reached"}, nil
	}
	m.saveCounts[sessionID] = count + 1
	m.mu.Unlock()

	return SaveValidation{Allowed: true}, nil
}

func sameTags(a, b []string) bool {
	if len(a) != len(b) || len(a) == 0 {
		return false
	}
	setA := make(map[string]bool, len(a))
	for _, t := range a {
		setA[t] = true
	}
	for _, t := range b {
		if !setA[t] {
			return false
		}
	}
	return true
}
