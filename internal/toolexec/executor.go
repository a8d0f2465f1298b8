// Package toolexec is the execution boundary between a provider's
// tool-call intent and the registered tools in internal/tool: every
// call is authorized through the Policy Engine before it runs, so
// a denial never reaches the underlying tool.
package toolexec

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agentrt/agentrt/internal/permission"
	"github.com/agentrt/agentrt/internal/policy"
	"github.com/agentrt/agentrt/internal/tool"
	"github.com/agentrt/agentrt/pkg/types"
)

// Executor authorizes and runs one tool call, turning the result into
// the ToolResultContent the Orchestrator journals and ingests.
type Executor struct {
	registry *tool.Registry
	policy   *policy.Engine
	workDir  string
	agent    string

	doomLoop       *permission.DoomLoopDetector
	doomLoopAction permission.PermissionAction
	jobID          string
}

// Option configures an Executor beyond its required collaborators.
type Option func(*Executor)

// WithDoomLoopGuard enables repeated-identical-tool-call detection for
// the lifetime of jobID.
// action is the agent's configured AgentPermission.DoomLoop: ActionDeny
// rejects a detected loop outright, anything else (ActionAsk included,
// since there is no human to ask in this runtime) lets it proceed;
// callers that want a hard stop must configure ActionDeny.
func WithDoomLoopGuard(detector *permission.DoomLoopDetector, action permission.PermissionAction, jobID string) Option {
	return func(e *Executor) {
		e.doomLoop = detector
		e.doomLoopAction = action
		e.jobID = jobID
	}
}

// New returns an Executor backed by registry, gating every call
// through policy before dispatch.
func New(registry *tool.Registry, policyEngine *policy.Engine, workDir, agentName string, opts ...Option) *Executor {
	e := &Executor{registry: registry, policy: policyEngine, workDir: workDir, agent: agentName}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute authorizes call and, if allowed, runs the matching tool.
// It never returns an error: every outcome (denial, missing tool,
// execution failure, success) is represented in the returned
// ToolResultContent so callers can journal it uniformly.
func (e *Executor) Execute(ctx context.Context, call types.ToolCallContent) types.ToolResultContent {
	if e.doomLoop != nil && e.doomLoopAction == permission.ActionDeny {
		if e.doomLoop.Check(e.jobID, call.ToolName, call.Arguments) {
			return types.ToolResultContent{
				CallID: call.CallID,
				Denied: true,
				Error:  fmt.Sprintf("tool %q called with identical arguments %d times in a row; breaking the loop", call.ToolName, permission.DoomLoopThreshold),
			}
		}
	}

	auth := e.policy.NewToolAuthorizer().Authorize(call.ToolName, call.Arguments)
	if !auth.Allowed {
		return types.ToolResultContent{CallID: call.CallID, Denied: true, Error: auth.Reason}
	}

	t, ok := e.registry.Get(call.ToolName)
	if !ok {
		return types.ToolResultContent{CallID: call.CallID, Error: fmt.Sprintf("unknown tool %q", call.ToolName)}
	}

	args := call.Arguments
	if auth.Arguments != nil {
		args = auth.Arguments
	}
	input, err := json.Marshal(args)
	if err != nil {
		return types.ToolResultContent{CallID: call.CallID, Error: err.Error()}
	}

	toolCtx := &tool.Context{
		CallID:  call.CallID,
		Agent:   e.agent,
		WorkDir: e.workDir,
		AbortCh: ctx.Done(),
	}

	result, err := t.Execute(ctx, input, toolCtx)
	if err != nil {
		return types.ToolResultContent{CallID: call.CallID, Error: err.Error()}
	}
	return types.ToolResultContent{CallID: call.CallID, Output: result.Output}
}
