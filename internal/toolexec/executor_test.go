package toolexec

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentrt/agentrt/internal/permission"
	"github.com/agentrt/agentrt/internal/policy"
	"github.com/agentrt/agentrt/internal/storage"
	"github.com/agentrt/agentrt/internal/tool"
	"github.com/agentrt/agentrt/pkg/types"
)

func echoTool(id string) tool.Tool {
	return tool.NewBaseTool(id, "echoes its input", nil, func(ctx context.Context, input json.RawMessage, toolCtx *tool.Context) (*tool.Result, error) {
		return &tool.Result{Output: string(input)}, nil
	})
}

func newTestExecutor(t *testing.T, pol types.Policy) (*Executor, *tool.Registry) {
	dir := t.TempDir()
	registry := tool.NewRegistry(dir, storage.New(dir))
	registry.Register(echoTool("read"))
	return New(registry, policy.New(pol), dir, "test-agent"), registry
}

func TestExecute_RunsAllowedToolAndReturnsOutput(t *testing.T) {
	exec, _ := newTestExecutor(t, types.Policy{
		Filesystem: types.FilesystemPolicy{AllowedPrefixes: []string{"/tmp"}},
	})

	result := exec.Execute(context.Background(), types.ToolCallContent{
		CallID: "c1", ToolName: "read", Arguments: map[string]any{"path": "/tmp/x"},
	})
	assert.False(t, result.Denied)
	assert.Empty(t, result.Error)
	assert.Contains(t, result.Output, "/tmp/x")
}

func TestExecute_DeniedPathNeverReachesTool(t *testing.T) {
	exec, _ := newTestExecutor(t, types.Policy{
		Filesystem: types.FilesystemPolicy{
			AllowedPrefixes: []string{"/home/u/work"},
			DeniedPrefixes:  []string{"/home/u/.ssh"},
		},
	})

	result := exec.Execute(context.Background(), types.ToolCallContent{
		CallID: "c2", ToolName: "read", Arguments: map[string]any{"path": "/home/u/.ssh/id_rsa"},
	})
	require.True(t, result.Denied)
	assert.NotEmpty(t, result.Error)
	assert.Empty(t, result.Output)
}

func TestExecute_UnknownToolReturnsError(t *testing.T) {
	exec, _ := newTestExecutor(t, types.Policy{})

	result := exec.Execute(context.Background(), types.ToolCallContent{
		CallID: "c3", ToolName: "does-not-exist", Arguments: map[string]any{},
	})
	assert.False(t, result.Denied)
	assert.Contains(t, result.Error, "unknown tool")
}

func TestExecute_DoomLoopGuardDeniesRepeatedIdenticalCalls(t *testing.T) {
	dir := t.TempDir()
	registry := tool.NewRegistry(dir, storage.New(dir))
	registry.Register(echoTool("read"))
	detector := permission.NewDoomLoopDetector()
	exec := New(registry, policy.New(types.Policy{Filesystem: types.FilesystemPolicy{AllowedPrefixes: []string{"/tmp"}}}), dir, "test-agent",
		WithDoomLoopGuard(detector, permission.ActionDeny, "job-1"))

	call := types.ToolCallContent{CallID: "c1", ToolName: "read", Arguments: map[string]any{"path": "/tmp/x"}}
	for i := 0; i < permission.DoomLoopThreshold-1; i++ {
		result := exec.Execute(context.Background(), call)
		assert.False(t, result.Denied)
	}

	result := exec.Execute(context.Background(), call)
	require.True(t, result.Denied)
	assert.Contains(t, result.Error, "identical arguments")
}

func TestExecute_DoomLoopGuardDisabledWhenActionNotDeny(t *testing.T) {
	dir := t.TempDir()
	registry := tool.NewRegistry(dir, storage.New(dir))
	registry.Register(echoTool("read"))
	detector := permission.NewDoomLoopDetector()
	exec := New(registry, policy.New(types.Policy{Filesystem: types.FilesystemPolicy{AllowedPrefixes: []string{"/tmp"}}}), dir, "test-agent",
		WithDoomLoopGuard(detector, permission.ActionAsk, "job-1"))

	call := types.ToolCallContent{CallID: "c1", ToolName: "read", Arguments: map[string]any{"path": "/tmp/x"}}
	for i := 0; i < permission.DoomLoopThreshold+2; i++ {
		result := exec.Execute(context.Background(), call)
		assert.False(t, result.Denied)
	}
}

func TestExecute_DeniedShellCommandNeverRuns(t *testing.T) {
	exec, _ := newTestExecutor(t, types.Policy{
		Shell: types.ShellPolicy{Mode: types.ShellDenylist, DeniedCommands: []string{"rm"}},
	})
	// bash isn't registered in this fixture, but policy denial must short-circuit
	// before the "unknown tool" branch would otherwise be reached.
	result := exec.Execute(context.Background(), types.ToolCallContent{
		CallID: "c4", ToolName: "bash", Arguments: map[string]any{"command": "rm -rf /tmp/x"},
	})
	assert.True(t, result.Denied)
}
