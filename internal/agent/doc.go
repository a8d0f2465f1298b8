// Package agent declares the agent configurations the Execution Loop
// can run a task under: which tools an agent may call, which
// model it prefers, and the permission defaults it advertises for
// file edits, shell commands, web fetches, out-of-project paths, and
// repeated-call loops. It does not itself authorize anything (that is
// the Policy Engine's job via internal/toolexec); it only
// expresses the declared intent an operator configured per agent.
//
// # Built-in agents
//
//   - build: primary agent with full tool access, for tasks that write
//     code and change files.
//   - plan: primary agent restricted to read-only exploration, for
//     analysis tasks that must not mutate anything.
//   - general: subagent for general-purpose search and exploration,
//     invoked via the task tool rather than selected directly.
//   - explore: a faster subagent specialized for codebase exploration.
//
// # Modes
//
// ModePrimary agents can be selected to run a submitted task directly;
// ModeSubagent agents can only be spawned by another agent's task tool
// call (internal/executor); ModeAll agents can do either.
//
// # Tool access
//
// Agent.Tools maps tool-name patterns (exact names, "*", or a
// doublestar glob like "mcp_*") to enabled/disabled; Agent.ToolEnabled
// resolves a concrete tool ID against that map. A tool gated off here
// never reaches toolexec.Executor for this agent; one left on still
// passes through the Policy Engine and Intent Capsule drift check like
// any other call.
//
// # Permissions
//
// AgentPermission declares the agent's default stance (allow, deny,
// or ask) for Edit, Bash (per command pattern), WebFetch, ExternalDir,
// and DoomLoop. See internal/permission's package doc for how these
// values are actually (not) enforced in this runtime.
//
// # Registry
//
//	registry := agent.NewRegistry() // seeded with the built-ins
//	registry.Register(custom)
//	a, err := registry.Get("build")
//	primaries := registry.ListPrimary()
//	subagents := registry.ListSubagents()
//
// LoadFromConfig merges operator-supplied overrides (model, tools,
// permission defaults) onto the built-ins or adds wholly new agents:
//
//	registry.LoadFromConfig(map[string]agent.AgentConfig{
//	    "build": {Temperature: 0.7},
//	    "reviewer": {
//	        Description: "Read-only code reviewer",
//	        Mode:        agent.ModePrimary,
//	        Tools:       map[string]bool{"read": true, "glob": true, "grep": true},
//	    },
//	})
package agent
