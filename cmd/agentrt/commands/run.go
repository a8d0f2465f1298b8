package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"

	"github.com/agentrt/agentrt/internal/agent"
	"github.com/agentrt/agentrt/internal/audit"
	"github.com/agentrt/agentrt/internal/capsule"
	"github.com/agentrt/agentrt/internal/compressor"
	"github.com/agentrt/agentrt/internal/config"
	"github.com/agentrt/agentrt/internal/executor"
	"github.com/agentrt/agentrt/internal/journal"
	"github.com/agentrt/agentrt/internal/logging"
	"github.com/agentrt/agentrt/internal/mcp"
	"github.com/agentrt/agentrt/internal/memory"
	"github.com/agentrt/agentrt/internal/memory/structured"
	"github.com/agentrt/agentrt/internal/observation"
	"github.com/agentrt/agentrt/internal/orchestrator"
	"github.com/agentrt/agentrt/internal/policy"
	"github.com/agentrt/agentrt/internal/provider"
	"github.com/agentrt/agentrt/internal/reflector"
	"github.com/agentrt/agentrt/internal/router"
	"github.com/agentrt/agentrt/internal/steering"
	"github.com/agentrt/agentrt/internal/storage"
	"github.com/agentrt/agentrt/internal/tool"
	"github.com/agentrt/agentrt/internal/toolexec"
	"github.com/agentrt/agentrt/pkg/types"
)

var (
	runPrompt string
	runAgent  string
	runModel  string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Submit one task and run it to completion",
	RunE:  runRun,
}

func init() {
	runCmd.Flags().StringVar(&runPrompt, "prompt", "", "Task prompt (required)")
	runCmd.Flags().StringVar(&runAgent, "agent", "build", "Primary agent to run the task under")
	runCmd.Flags().StringVar(&runModel, "model", "", "Override model, \"provider/model\" format")
	runCmd.MarkFlagRequired("prompt")
}

// breakerCooldown bounds how long a provider's circuit stays open
// after it trips.
const breakerCooldown = 30 * time.Second

// failoverTokenCeiling bounds a handoff bundle's approximate size
// so a failover summary can't itself blow the next provider's
// context budget.
const failoverTokenCeiling = 4000

func runRun(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	dir, err := resolveWorkDir()
	if err != nil {
		return err
	}

	paths := config.GetPaths()
	if _, err := os.Stat(paths.Policy()); err != nil {
		return exitf(ExitConfigAbsent, "no policy file at %s: %v", paths.Policy(), err)
	}
	if err := paths.EnsurePaths(); err != nil {
		return exitf(ExitConfigAbsent, "preparing runtime directories: %v", err)
	}

	permCfg, err := loadPolicyFile(paths.Policy())
	if err != nil {
		return exitf(ExitConfigAbsent, "reading policy file: %v", err)
	}

	cfg, err := config.Load(dir)
	if err != nil {
		return exitf(ExitConfigAbsent, "loading configuration: %v", err)
	}

	policyEngine := policy.New(policy.FromConfig(permCfg))
	if _, err := policyEngine.ValidatePath(dir); err != nil {
		return exitf(ExitAuthorizationDenied, "working directory not authorized: %v", err)
	}

	capsuleKey := os.Getenv("AGENTRT_CAPSULE_KEY")
	if capsuleKey == "" {
		return exitf(ExitConfigAbsent, "AGENTRT_CAPSULE_KEY is not set")
	}

	providerRegistry, err := provider.InitializeProviders(ctx, cfg)
	if err != nil {
		return exitf(ExitProviderUnavailable, "initializing providers: %v", err)
	}
	if len(providerRegistry.List()) == 0 {
		return exitf(ExitProviderUnavailable, "no providers configured")
	}

	store := storage.New(dir)
	toolRegistry := tool.DefaultRegistry(dir, store)

	agentRegistry := agent.NewRegistry()
	for _, a := range agent.BuiltInAgents() {
		agentRegistry.Register(a)
	}
	agentRegistry.LoadFromConfig(convertAgentConfigs(cfg.Agent))
	toolRegistry.RegisterTaskTool(agentRegistry)

	mcpClient := connectMCPServers(ctx, cfg.MCP)
	defer mcpClient.Close()
	mcp.RegisterMCPTools(mcpClient, toolRegistry)

	topExecutor := toolexec.New(toolRegistry, policyEngine, dir, runAgent)

	modelsByProvider := defaultModelsByProvider(providerRegistry, runModel)
	orchProviders, providerInfos := providerRegistry.BuildOrchestratorProviders(modelsByProvider, breakerCooldown, topExecutor)
	if len(orchProviders) == 0 {
		return exitf(ExitProviderUnavailable, "no provider has a usable model configured")
	}

	routerMode := routerModeFromConfig(cfg.Router)
	rtr := router.New(routerMode)
	failover := router.NewFailoverController(rtr, failoverTokenCeiling)

	itemStore := structured.New(paths.MemoryItemsDir(), paths.MemoryIndexDir())
	memManager := memory.New(paths.MemoryDoc(), filepath.Join(paths.MemoryDir(), "daily"), paths.DailyArchiveDir(), itemStore)

	mailbox := steering.New(paths.SteeringDir())
	auditLog := audit.New(paths.Audit())
	capsuleManager := capsule.New([]byte(capsuleKey))
	obsStore := observation.New(paths.ObservationsDir())

	cheapProviderID, cheapModelID := cheapModel(providerRegistry, cfg)

	newCompressor := func(sessionID string) *compressor.Compressor {
		compress := func(ctx context.Context, sessionObservations string, chunk []string) (string, error) {
			return summarizeChunk(ctx, providerRegistry, cheapProviderID, cheapModelID, sessionObservations, chunk)
		}
		return compressor.New(sessionID, obsStore, compress, compressor.Config{
			SoftThresholdTokens: 6000,
			ChunkSize:           20,
			AsyncBuffer:         true,
		})
	}
	newReflector := func() *reflector.Reflector {
		reflect := func(ctx context.Context, observations string) (string, error) {
			p, err := providerRegistry.Get(cheapProviderID)
			if err != nil {
				return "", err
			}
			return provider.SimpleComplete(ctx, p, cheapModelID, reflector.BuildPrompt(observations), 2048)
		}
		return reflector.New(itemStore, obsStore, reflect)
	}

	orch := orchestrator.New(orchestrator.Dependencies{
		Router:         rtr,
		Failover:       failover,
		Policy:         policyEngine,
		Capsule:        capsuleManager,
		Memory:         memManager,
		Mailbox:        mailbox,
		AuditLog:       auditLog,
		JournalDir:     paths.SessionsDir(),
		NewCompressor:  newCompressor,
		NewReflector:   newReflector,
		SystemPreamble: systemPreamble(runAgent, agentRegistry),
	})

	subagentExecutor := executor.NewSubagentExecutor(executor.SubagentExecutorConfig{
		Orchestrator:      orch,
		ProviderRegistry:  providerRegistry,
		ToolRegistry:      toolRegistry,
		PolicyEngine:      policyEngine,
		AgentRegistry:     agentRegistry,
		JournalDir:        paths.SessionsDir(),
		WorkDir:           dir,
		ModelsByProvider:  modelsByProvider,
		BreakerCooldown:   breakerCooldown,
		DefaultProviderID: cheapProviderID,
		DefaultModelID:    cheapModelID,
	})
	toolRegistry.SetTaskExecutor(subagentExecutor)

	jobID := ulid.Make().String()
	task := orchestrator.Task{JobID: jobID, Prompt: runPrompt}
	routerTask := router.Task{RequiredCapabilities: capabilitiesFor(router.ClassifyTask(runPrompt))}

	providerName, err := orch.Run(ctx, task, providerInfos, orchProviders, routerTask)
	if err != nil {
		return exitf(ExitProviderUnavailable, "task failed: %v", err)
	}

	history, histErr := journal.GetHistory(paths.SessionsDir(), jobID)
	if histErr == nil {
		fmt.Println(finalText(history))
	}
	logging.Info().Str("jobID", jobID).Str("provider", providerName).Msg("task completed")
	return nil
}

func loadPolicyFile(path string) (*types.PermissionConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg types.PermissionConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func routerModeFromConfig(cfg *types.RouterConfig) router.Mode {
	if cfg == nil {
		return router.ModeRespectRanking
	}
	switch cfg.Mode {
	case "optimize_cost":
		return router.ModeOptimizeCost
	case "round_robin":
		return router.ModeRoundRobin
	case "provider_only":
		return router.ModeProviderOnly
	default:
		return router.ModeRespectRanking
	}
}

// defaultModelsByProvider picks one candidate model per registered
// provider: modelOverride (if set) pins a single provider/model pair,
// otherwise each provider's first advertised model is used.
func defaultModelsByProvider(registry *provider.Registry, modelOverride string) map[string]string {
	if modelOverride != "" {
		providerID, modelID := provider.ParseModelString(modelOverride)
		return map[string]string{providerID: modelID}
	}
	models := make(map[string]string)
	for _, p := range registry.List() {
		if ms := p.Models(); len(ms) > 0 {
			models[p.ID()] = ms[0].ID
		}
	}
	return models
}

// cheapModel picks the provider/model pair used for the Context
// Compressor's and Reflector's own cheap summarization calls,
// preferring the configured SmallModel.
func cheapModel(registry *provider.Registry, cfg *types.Config) (providerID, modelID string) {
	if cfg != nil && cfg.SmallModel != "" {
		return provider.ParseModelString(cfg.SmallModel)
	}
	for _, p := range registry.List() {
		if ms := p.Models(); len(ms) > 0 {
			return p.ID(), ms[0].ID
		}
	}
	return "", ""
}

func summarizeChunk(ctx context.Context, registry *provider.Registry, providerID, modelID, sessionObservations string, chunk []string) (string, error) {
	p, err := registry.Get(providerID)
	if err != nil {
		return "", err
	}
	prompt := fmt.Sprintf("Summarize the following conversation excerpt into a short observation block, preserving facts a future turn would need. Existing session context:\n%s\n\nExcerpt:\n%s", sessionObservations, joinLines(chunk))
	return provider.SimpleComplete(ctx, p, modelID, prompt, 1024)
}

func joinLines(lines []string) string {
	out := ""
	for _, l := range lines {
		out += l + "\n"
	}
	return out
}

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

func finalText(history []types.SessionEvent) string {
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

func systemPreamble(agentName string, registry *agent.Registry) string {
	a, err := registry.Get(agentName)
	if err != nil || a.Prompt == "" {
		return "You are an autonomous agent operating under a capability policy and a hash-chained audit log. Act carefully and report your results."
	}
	return a.Prompt
}

// connectMCPServers dials every configured MCP server and returns a
// client the caller wires into the tool registry via
// mcp.RegisterMCPTools. A server that fails to connect is logged and
// skipped rather than failing the whole task: MCP servers are an
// optional external tool bridge, not part of the core's required
// startup surface.
func connectMCPServers(ctx context.Context, servers map[string]types.MCPConfig) *mcp.Client {
	client := mcp.NewClient()
	for name, c := range servers {
		enabled := c.Enabled == nil || *c.Enabled
		mcpCfg := &mcp.Config{
			Enabled:     enabled,
			Type:        mcp.TransportType(c.Type),
			URL:         c.URL,
			Headers:     c.Headers,
			Command:     c.Command,
			Environment: c.Environment,
			Timeout:     c.Timeout,
		}
		if err := client.AddServer(ctx, name, mcpCfg); err != nil {
			logging.Warn().Str("server", name).Err(err).Msg("mcp server unavailable")
		}
	}
	return client
}

// convertAgentConfigs adapts the on-disk AgentConfig shape (pkg/types,
// shared with the rest of the config file) onto internal/agent's own
// AgentConfig, the shape LoadFromConfig expects. Per-agent permission
// overrides are intentionally not carried across: the on-disk
// PermissionConfig here is a filesystem/shell policy, while
// agent.AgentPermissionConfig is an allow/deny/ask vocabulary per
// category. The two don't correspond, and every tool call is gated by
// the Policy Engine regardless of the agent's declared defaults.
func convertAgentConfigs(cfgs map[string]types.AgentConfig) map[string]agent.AgentConfig {
	out := make(map[string]agent.AgentConfig, len(cfgs))
	for name, c := range cfgs {
		converted := agent.AgentConfig{
			Description: c.Description,
			Mode:        agent.Mode(c.Mode),
			Prompt:      c.Prompt,
			Tools:       c.Tools,
		}
		if c.Model != "" {
			providerID, modelID := provider.ParseModelString(c.Model)
			converted.Model = &agent.ModelRef{ProviderID: providerID, ModelID: modelID}
		}
		if c.Temperature != nil {
			converted.Temperature = *c.Temperature
		}
		if c.TopP != nil {
			converted.TopP = *c.TopP
		}
		out[name] = converted
	}
	return out
}
