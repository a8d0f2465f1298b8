// Package executor provides task execution implementations.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/agentrt/agentrt/internal/agent"
	"github.com/agentrt/agentrt/internal/journal"
	"github.com/agentrt/agentrt/internal/orchestrator"
	"github.com/agentrt/agentrt/internal/permission"
	"github.com/agentrt/agentrt/internal/policy"
	"github.com/agentrt/agentrt/internal/provider"
	"github.com/agentrt/agentrt/internal/router"
	"github.com/agentrt/agentrt/internal/tool"
	"github.com/agentrt/agentrt/internal/toolexec"
	"github.com/agentrt/agentrt/pkg/types"
)

// SubagentExecutor implements tool.TaskExecutor (the task tool) by
// spawning a nested Orchestrator run per subtask, so a child agent
// loop goes through the same policy, journal, and compressor path as
// the parent instead of a bespoke mini-loop.
type SubagentExecutor struct {
	orchestrator     *orchestrator.Orchestrator
	providerRegistry *provider.Registry
	toolRegistry     *tool.Registry
	policyEngine     *policy.Engine
	agentRegistry    *agent.Registry
	doomLoop         *permission.DoomLoopDetector
	journalDir       string
	workDir          string

	modelsByProvider  map[string]string
	breakerCooldown   time.Duration
	defaultProviderID string
	defaultModelID    string
}

// SubagentExecutorConfig holds configuration for creating a SubagentExecutor.
type SubagentExecutorConfig struct {
	Orchestrator      *orchestrator.Orchestrator
	ProviderRegistry  *provider.Registry
	ToolRegistry      *tool.Registry
	PolicyEngine      *policy.Engine
	AgentRegistry     *agent.Registry
	JournalDir        string
	WorkDir           string
	ModelsByProvider   map[string]string // provider ID -> model ID, the candidate set a subtask may route across
	BreakerCooldown    time.Duration
	DefaultProviderID  string
	DefaultModelID     string
}

// NewSubagentExecutor creates a new SubagentExecutor.
func NewSubagentExecutor(cfg SubagentExecutorConfig) *SubagentExecutor {
	cooldown := cfg.BreakerCooldown
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &SubagentExecutor{
		orchestrator:      cfg.Orchestrator,
		providerRegistry:  cfg.ProviderRegistry,
		toolRegistry:      cfg.ToolRegistry,
		policyEngine:      cfg.PolicyEngine,
		agentRegistry:     cfg.AgentRegistry,
		doomLoop:          permission.NewDoomLoopDetector(),
		journalDir:        cfg.JournalDir,
		workDir:           cfg.WorkDir,
		modelsByProvider:  cfg.ModelsByProvider,
		breakerCooldown:   cooldown,
		defaultProviderID: cfg.DefaultProviderID,
		defaultModelID:    cfg.DefaultModelID,
	}
}

// ExecuteSubtask implements tool.TaskExecutor.ExecuteSubtask. It runs
// a child Orchestrator job scoped to agentName's own tool allowlist
// and returns its final text.
func (e *SubagentExecutor) ExecuteSubtask(
	ctx context.Context,
	parentSessionID string,
	agentName string,
	prompt string,
	opts tool.TaskOptions,
) (*tool.TaskResult, error) {
	agentConfig, err := e.agentRegistry.Get(agentName)
	if err != nil {
		return nil, fmt.Errorf("agent not found: %s: %w", agentName, err)
	}
	if !agentConfig.IsSubagent() {
		return nil, fmt.Errorf("agent %s cannot be used as subagent (mode: %s)", agentName, agentConfig.Mode)
	}

	jobID := ulid.Make().String()
	scoped := &agentScopedExecutor{
		base: toolexec.New(e.toolRegistry, e.policyEngine, e.workDir, agentName,
			toolexec.WithDoomLoopGuard(e.doomLoop, agentConfig.Permission.DoomLoop, jobID)),
		agent: agentConfig,
	}
	defer e.doomLoop.Clear(jobID)

	models := e.resolveModels(opts.Model)
	providers, infos := e.providerRegistry.BuildOrchestratorProviders(models, e.breakerCooldown, scoped)

	mandate := prompt
	if agentConfig.Prompt != "" {
		mandate = agentConfig.Prompt + "\n\n" + prompt
	}
	task := orchestrator.Task{JobID: jobID, Prompt: prompt, Mandate: mandate}
	routerTask := router.Task{RequiredCapabilities: capabilitiesFor(router.ClassifyTask(prompt))}

	providerName, runErr := e.orchestrator.Run(ctx, task, infos, providers, routerTask)
	if runErr != nil {
		return &tool.TaskResult{
			Output:    fmt.Sprintf("Error executing subtask: %s", runErr.Error()),
			SessionID: jobID,
			Error:     runErr.Error(),
			Metadata: map[string]any{
				"parentSessionID": parentSessionID,
				"agent":           agentName,
			},
		}, nil
	}

	history, histErr := journal.GetHistory(e.journalDir, jobID)
	output := ""
	if histErr == nil {
		output = lastDoneText(history)
	}

	return &tool.TaskResult{
		Output:    output,
		SessionID: jobID,
		AgentID:   agentName,
		Metadata: map[string]any{
			"parentSessionID": parentSessionID,
			"provider":        providerName,
		},
	}, nil
}

// resolveModels picks the provider/model candidate set a subtask may
// route across, honoring a model override when the agent config pins
// one.
func (e *SubagentExecutor) resolveModels(modelOption string) map[string]string {
	if len(e.modelsByProvider) > 0 {
		return e.modelsByProvider
	}
	modelID := e.defaultModelID
	switch modelOption {
	case "sonnet":
		modelID = "claude-sonnet-4-20250514"
	case "opus":
		modelID = "claude-opus-4-20250514"
	case "haiku":
		modelID = "claude-haiku-3-20240307"
	}
	return map[string]string{e.defaultProviderID: modelID}
}

// capabilitiesFor maps a classified task onto the Router's capability
// vocabulary; Complex tasks additionally require long-running support
// since subagents are themselves spawned for open-ended exploration.
func capabilitiesFor(class router.TaskClass) []router.Capability {
	var caps []router.Capability
	switch class.ResourceType {
	case router.ResourceReasoning:
		caps = append(caps, router.CapReasoning)
	case router.ResourceCoding:
		caps = append(caps, router.CapCoding)
	case router.ResourceCreative:
		caps = append(caps, router.CapCreative)
	case router.ResourceSearch:
		caps = append(caps, router.CapSearch)
	case router.ResourceData:
		caps = append(caps, router.CapStructured)
	}
	if class.Complexity == router.ComplexityComplex {
		caps = append(caps, router.CapLongRunning)
	}
	return caps
}

// lastDoneText returns the text of the final EventDone in history, the
// subtask's terminal output.
func lastDoneText(history []types.SessionEvent) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Type != types.EventDone {
			continue
		}
		var done types.DoneContent
		if err := json.Unmarshal(history[i].Content, &done); err != nil {
			return ""
		}
		return done.Text
	}
	return ""
}

// agentScopedExecutor narrows a base ToolExecutor to the tools
// agentName's configuration enables, denying anything else before it
// ever reaches the Policy Engine.
type agentScopedExecutor struct {
	base  provider.ToolExecutor
	agent *agent.Agent
}

func (s *agentScopedExecutor) Execute(ctx context.Context, call types.ToolCallContent) types.ToolResultContent {
	if !s.agent.ToolEnabled(call.ToolName) {
		return types.ToolResultContent{CallID: call.CallID, Denied: true, Error: fmt.Sprintf("tool %q is disabled for agent %q", call.ToolName, s.agent.Name)}
	}
	return s.base.Execute(ctx, call)
}
