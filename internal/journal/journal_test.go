package journal

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentrt/agentrt/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func textEvent(eventType types.SessionEventType, text string) types.SessionEvent {
	content, _ := json.Marshal(types.TextContent{Text: text})
	return types.SessionEvent{Type: eventType, Timestamp: time.Now().UTC().Format(time.RFC3339Nano), Content: content}
}

func TestAppend_FlushesPeriodically(t *testing.T) {
	dir := t.TempDir()
	w := New(dir, "job-1", Options{FlushInterval: 20 * time.Millisecond})
	defer w.Close()

	w.Append(textEvent(types.EventText, "hello"))

	require.Eventually(t, func() bool {
		events, err := GetHistory(dir, "job-1")
		return err == nil && len(events) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestClose_FlushesTailEvents(t *testing.T) {
	dir := t.TempDir()
	w := New(dir, "job-2", Options{FlushInterval: time.Hour})
	w.Append(textEvent(types.EventText, "one"))
	w.Append(textEvent(types.EventText, "two"))
	w.Close()

	events, err := GetHistory(dir, "job-2")
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestAppend_DropsOldestWhenBufferFull(t *testing.T) {
	dir := t.TempDir()
	w := New(dir, "job-3", Options{FlushInterval: time.Hour, MaxBuffer: 2})
	w.Append(textEvent(types.EventText, "first"))
	w.Append(textEvent(types.EventText, "second"))
	w.Append(textEvent(types.EventText, "third"))
	w.Close()

	events, err := GetHistory(dir, "job-3")
	require.NoError(t, err)
	require.Len(t, events, 2)

	var first, last types.TextContent
	require.NoError(t, json.Unmarshal(events[0].Content, &first))
	require.NoError(t, json.Unmarshal(events[1].Content, &last))
	assert.Equal(t, "second", first.Text)
	assert.Equal(t, "third", last.Text)
}

func TestGetHistory_SkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	path := journalPath(dir, "job-4")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	raw := `{"type":"text","timestamp":"2026-01-01T00:00:00Z","content":{"text":"ok"}}` + "\n" +
		`not json at all` + "\n" +
		`{"type":"done","timestamp":"2026-01-01T00:00:01Z"}` + "\n"
	require.NoError(t, os.WriteFile(path, []byte(raw), 0644))

	events, err := GetHistory(dir, "job-4")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, types.EventDone, events[1].Type)
}

func TestGetHistory_MissingFileReturnsEmpty(t *testing.T) {
	dir := t.TempDir()
	events, err := GetHistory(dir, "no-such-job")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestJobID_SanitizedAgainstPathTraversal(t *testing.T) {
	dir := t.TempDir()
	w := New(dir, "../../etc/passwd", Options{FlushInterval: time.Hour})
	w.Append(textEvent(types.EventText, "contained"))
	w.Close()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.NotContains(t, entries[0].Name(), "..")
}

func TestListSessions_DerivesStatusFromLastEvent(t *testing.T) {
	dir := t.TempDir()

	running := New(dir, "running-job", Options{FlushInterval: time.Hour})
	running.Append(textEvent(types.EventTaskStart, ""))
	running.Close()

	completed := New(dir, "completed-job", Options{FlushInterval: time.Hour})
	completed.Append(textEvent(types.EventTaskStart, ""))
	endContent, _ := json.Marshal(types.TaskEndContent{Aborted: false})
	completed.Append(types.SessionEvent{Type: types.EventTaskEnd, Timestamp: time.Now().UTC().Format(time.RFC3339Nano), Content: endContent})
	completed.Close()

	failed := New(dir, "failed-job", Options{FlushInterval: time.Hour})
	failed.Append(textEvent(types.EventTaskStart, ""))
	abortedContent, _ := json.Marshal(types.TaskEndContent{Aborted: true, Reason: "error"})
	failed.Append(types.SessionEvent{Type: types.EventTaskEnd, Timestamp: time.Now().UTC().Format(time.RFC3339Nano), Content: abortedContent})
	failed.Close()

	summaries, err := ListSessions(context.Background(), dir)
	require.NoError(t, err)

	byID := make(map[string]SessionSummary)
	for _, s := range summaries {
		byID[s.JobID] = s
	}
	require.Len(t, byID, 3)
	assert.Equal(t, "running", byID["running-job"].Status)
	assert.Equal(t, "completed", byID["completed-job"].Status)
	assert.Equal(t, "failed", byID["failed-job"].Status)
}
