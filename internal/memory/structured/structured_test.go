package structured

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/agentrt/agentrt/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	dir := t.TempDir()
	return New(filepath.Join(dir, "items"), filepath.Join(dir, "index"))
}

func TestCreate_StampsIDAndTimestamps(t *testing.T) {
	s := newTestStore(t)
	item, err := s.Create(context.Background(), CreateOptions{
		Kind:    types.MemoryKindKnowledge,
		Summary: "the deploy pipeline uses blue-green rollout",
		Tags:    []string{"deploy"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, item.ID)
	assert.Equal(t, item.CreatedAt, item.LastAccessed)
	assert.Equal(t, 0, item.AccessCount)
	assert.Equal(t, "knowledge/deploy", item.Category)
}

func TestGet_IncrementsAccessCount(t *testing.T) {
	s := newTestStore(t)
	created, err := s.Create(context.Background(), CreateOptions{Kind: types.MemoryKindEvent, Summary: "deployed v2 to prod"})
	require.NoError(t, err)

	got, err := s.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.AccessCount)

	got2, err := s.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got2.AccessCount)
}

func TestUpdate_IDIsImmutable(t *testing.T) {
	s := newTestStore(t)
	created, err := s.Create(context.Background(), CreateOptions{Kind: types.MemoryKindSkill, Summary: "original"})
	require.NoError(t, err)

	updated, err := s.Update(context.Background(), created.ID, func(item *types.MemoryItem) {
		item.ID = "attempted-override"
		item.Summary = "revised"
	})
	require.NoError(t, err)
	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, "revised", updated.Summary)
}

func TestDelete_RemovesItemAndIndexEntry(t *testing.T) {
	s := newTestStore(t)
	created, err := s.Create(context.Background(), CreateOptions{Kind: types.MemoryKindKnowledge, Summary: "ephemeral fact about caching"})
	require.NoError(t, err)

	require.NoError(t, s.Delete(context.Background(), created.ID))

	_, err = s.Peek(context.Background(), created.ID)
	assert.Error(t, err)

	results, err := s.SearchItems(context.Background(), "caching")
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestCreate_RejectsPathTraversalID(t *testing.T) {
	s := newTestStore(t)
	err := s.CreateItem(types.MemoryItem{ID: "../escape", Summary: "x"})
	assert.ErrorIs(t, err, ErrInvalidID)
}

func TestList_FiltersByKindCategoryAndTags(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.Create(ctx, CreateOptions{Kind: types.MemoryKindSkill, Summary: "writes idiomatic Go", Tags: []string{"go", "backend"}})
	require.NoError(t, err)
	_, err = s.Create(ctx, CreateOptions{Kind: types.MemoryKindSkill, Summary: "writes idiomatic Python", Tags: []string{"python"}})
	require.NoError(t, err)
	_, err = s.Create(ctx, CreateOptions{Kind: types.MemoryKindEvent, Summary: "shipped release", Tags: []string{"go"}})
	require.NoError(t, err)

	skills, err := s.List(ctx, Filter{Kind: types.MemoryKindSkill})
	require.NoError(t, err)
	assert.Len(t, skills, 2)

	goTagged, err := s.List(ctx, Filter{Tags: []string{"go"}})
	require.NoError(t, err)
	assert.Len(t, goTagged, 2)

	goBackend, err := s.List(ctx, Filter{Tags: []string{"go", "backend"}})
	require.NoError(t, err)
	assert.Len(t, goBackend, 1)
}

func TestSearchItemsWithScores_BoostsTagsOverSummary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, CreateOptions{
		Kind:    types.MemoryKindKnowledge,
		Summary: "a note that happens to mention rollout in passing",
		Tags:    []string{"unrelated"},
	})
	require.NoError(t, err)

	tagged, err := s.Create(ctx, CreateOptions{
		Kind:    types.MemoryKindKnowledge,
		Summary: "a note about something else entirely",
		Tags:    []string{"rollout"},
	})
	require.NoError(t, err)

	results, err := s.SearchItemsWithScores(ctx, "rollout")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, tagged.ID, results[0].Item.ID, "tag match should outrank a bare summary mention due to the tags boost")
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestSearchItems_PrefixMatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.Create(ctx, CreateOptions{Kind: types.MemoryKindKnowledge, Summary: "the authentication module was rewritten"})
	require.NoError(t, err)

	results, err := s.SearchItems(ctx, "auth")
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestSearchItems_FuzzyMatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.Create(ctx, CreateOptions{Kind: types.MemoryKindKnowledge, Summary: "prefers concise explanations"})
	require.NoError(t, err)

	results, err := s.SearchItems(ctx, "conzise") // one-character edit away from "concise"
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestSearch_DeterministicOrderForFixedCorpus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := s.Create(ctx, CreateOptions{Kind: types.MemoryKindKnowledge, Summary: "recurring theme about testing practices"})
		require.NoError(t, err)
	}

	first, err := s.SearchItemsWithScores(ctx, "testing")
	require.NoError(t, err)
	second, err := s.SearchItemsWithScores(ctx, "testing")
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Item.ID, second[i].Item.ID)
		assert.Equal(t, first[i].Score, second[i].Score)
	}
}

func TestRebuildIndex_RestoresSearchabilityAfterIndexLoss(t *testing.T) {
	dir := t.TempDir()
	s := New(filepath.Join(dir, "items"), filepath.Join(dir, "index"))
	ctx := context.Background()
	_, err := s.Create(ctx, CreateOptions{Kind: types.MemoryKindKnowledge, Summary: "persisted across restarts"})
	require.NoError(t, err)

	fresh := New(filepath.Join(dir, "items"), filepath.Join(dir, "index"))
	require.NoError(t, fresh.RebuildIndex(ctx))

	results, err := fresh.SearchItems(ctx, "persisted")
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestLoad_PrefersSerializedIndexOverRebuild(t *testing.T) {
	dir := t.TempDir()
	s := New(filepath.Join(dir, "items"), filepath.Join(dir, "index"))
	ctx := context.Background()
	_, err := s.Create(ctx, CreateOptions{Kind: types.MemoryKindKnowledge, Summary: "indexed term alpha"})
	require.NoError(t, err)
	require.NoError(t, s.Persist())

	fresh := New(filepath.Join(dir, "items"), filepath.Join(dir, "index"))
	require.NoError(t, fresh.Load(ctx))
	assert.Equal(t, 1, fresh.Count())
}
