package observation

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/agentrt/agentrt/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAndLoadSession(t *testing.T) {
	s := New(t.TempDir())

	require.NoError(t, s.Append(types.ObservationBlock{ID: "1", SessionID: "sess-a", Tier: types.TierSession, Text: "first block", Start: 0, End: 10}))
	require.NoError(t, s.Append(types.ObservationBlock{ID: "2", SessionID: "sess-a", Tier: types.TierSession, Text: "second block", Start: 10, End: 20}))

	blocks, err := s.LoadSession("sess-a")
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	assert.Equal(t, "1", blocks[0].ID)
	assert.Equal(t, "2", blocks[1].ID)
}

func TestSanitizeSessionID_PreventsPathTraversal(t *testing.T) {
	s := New(t.TempDir())
	path := s.sessionPath("../../etc/passwd")
	assert.NotContains(t, path, "..")
}

func TestLoadSession_SkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	require.NoError(t, s.Append(types.ObservationBlock{ID: "1", SessionID: "sess-b", Tier: types.TierSession, Text: "ok"}))

	// Append a malformed line directly.
	path := s.sessionPath("sess-b")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	blocks, err := s.LoadSession("sess-b")
	require.NoError(t, err)
	assert.Len(t, blocks, 1)
}

func TestLoadCrossSession_ReturnsMostRecentLimit(t *testing.T) {
	s := New(t.TempDir())
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Append(types.ObservationBlock{ID: string(rune('a' + i)), Tier: types.TierCrossSession, Text: "fact"}))
	}

	blocks, err := s.LoadCrossSession(2)
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	assert.Equal(t, "d", blocks[0].ID)
	assert.Equal(t, "e", blocks[1].ID)
}

func TestGetSessionTokenCount(t *testing.T) {
	s := New(t.TempDir())
	require.NoError(t, s.Append(types.ObservationBlock{SessionID: "sess-c", Tier: types.TierSession, EstTokenCount: 10}))
	require.NoError(t, s.Append(types.ObservationBlock{SessionID: "sess-c", Tier: types.TierSession, EstTokenCount: 15}))

	count, err := s.GetSessionTokenCount("sess-c")
	require.NoError(t, err)
	assert.Equal(t, 25, count)
}

func TestPruneOldSessions_KeepsNewest(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	require.NoError(t, s.Append(types.ObservationBlock{SessionID: "old", Tier: types.TierSession, Text: "x"}))
	require.NoError(t, s.Append(types.ObservationBlock{SessionID: "new", Tier: types.TierSession, Text: "y"}))

	require.NoError(t, s.PruneOldSessions(1))

	_, err := os.Stat(filepath.Join(dir, "new.jsonl"))
	assert.NoError(t, err)
}
