package executor

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentrt/agentrt/internal/agent"
	"github.com/agentrt/agentrt/internal/router"
	"github.com/agentrt/agentrt/pkg/types"
)

func TestCapabilitiesFor_MapsResourceTypeToCapability(t *testing.T) {
	caps := capabilitiesFor(router.TaskClass{ResourceType: router.ResourceCoding, Complexity: router.ComplexitySimple})
	assert.Equal(t, []router.Capability{router.CapCoding}, caps)
}

func TestCapabilitiesFor_ComplexAddsLongRunning(t *testing.T) {
	caps := capabilitiesFor(router.TaskClass{ResourceType: router.ResourceReasoning, Complexity: router.ComplexityComplex})
	assert.Contains(t, caps, router.CapReasoning)
	assert.Contains(t, caps, router.CapLongRunning)
}

func TestLastDoneText_ReturnsFinalDoneEvent(t *testing.T) {
	history := []types.SessionEvent{
		{Type: types.EventText, Content: mustJSON(t, types.TextContent{Text: "thinking"})},
		{Type: types.EventDone, Content: mustJSON(t, types.DoneContent{Text: "first", FinishReason: "stop"})},
		{Type: types.EventToolCall, Content: mustJSON(t, types.ToolCallContent{CallID: "c1"})},
		{Type: types.EventDone, Content: mustJSON(t, types.DoneContent{Text: "final answer", FinishReason: "stop"})},
	}
	assert.Equal(t, "final answer", lastDoneText(history))
}

func TestLastDoneText_EmptyHistoryReturnsEmptyString(t *testing.T) {
	assert.Empty(t, lastDoneText(nil))
}

type fakeToolExecutor struct {
	called bool
	result types.ToolResultContent
}

func (f *fakeToolExecutor) Execute(ctx context.Context, call types.ToolCallContent) types.ToolResultContent {
	f.called = true
	return f.result
}

func TestAgentScopedExecutor_DeniesToolNotEnabledForAgent(t *testing.T) {
	base := &fakeToolExecutor{result: types.ToolResultContent{Output: "should not see this"}}
	scoped := &agentScopedExecutor{base: base, agent: &agent.Agent{
		Name:  "explore",
		Tools: map[string]bool{"read": true, "bash": false},
	}}

	result := scoped.Execute(context.Background(), types.ToolCallContent{CallID: "c1", ToolName: "bash"})
	require.True(t, result.Denied)
	assert.False(t, base.called)
}

func TestAgentScopedExecutor_DelegatesEnabledTool(t *testing.T) {
	base := &fakeToolExecutor{result: types.ToolResultContent{Output: "file contents"}}
	scoped := &agentScopedExecutor{base: base, agent: &agent.Agent{
		Name:  "explore",
		Tools: map[string]bool{"read": true},
	}}

	result := scoped.Execute(context.Background(), types.ToolCallContent{CallID: "c1", ToolName: "read"})
	assert.True(t, base.called)
	assert.Equal(t, "file contents", result.Output)
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}
