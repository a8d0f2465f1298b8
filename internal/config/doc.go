// Package config provides configuration loading, merging, and path
// management for the agent runtime.
//
// # Configuration Loading
//
// Load(directory) merges configuration from three sources, in priority
// order (each later source overrides the ones before it):
//
//  1. Global config: GetPaths().Config() ("config" and "config.jsonc"
//     under the runtime's single root directory, see Path Management
//     below)
//  2. Project config: .agentrt/config.json / .agentrt/config.jsonc
//     under the directory Load was called with
//  3. Environment variable overrides (see below)
//
// There is no XDG-split, TypeScript-compatibility, or multi-directory
// project-discovery search: a project's config lives in exactly one
// place, under its own working directory's ".agentrt/" folder.
//
// # Supported Formats
//
// Both plain JSON and JSONC (JSON with comments) are accepted; a
// "config.jsonc" sibling file has its // and /* */ comments stripped
// with tidwall/jsonc before unmarshaling.
//
// # Configuration Merging
//
// mergeConfig performs a shallow merge per field: scalars (Model,
// SmallModel) are overwritten by the later source; maps (Provider,
// Agent, MCP) are merged key-by-key, so a project config can add or
// override individual providers/agents/MCP servers without repeating
// the global ones.
//
// # Environment Variable Overrides
//
// applyEnvOverrides reads provider API keys directly from the
// environment (ANTHROPIC_API_KEY, OPENAI_API_KEY, GOOGLE_API_KEY,
// AWS_ACCESS_KEY_ID, …) into the corresponding types.ProviderConfig
// entries; this happens after file-based merging so a .env or
// host-provided credential always wins over whatever a checked-in
// config file says.
//
// # Path Management
//
// Paths (paths.go) keeps all of a user's agent runtime state under one
// root directory rather than splitting it across the XDG Base
// Directory locations the way some CLIs do, so the policy file, the
// audit chain, the secrets vault, and session/memory/observation/
// steering state all live together under:
//
//   - Root:  $AGENTRT_HOME, or $XDG_CONFIG_HOME/agentrt, or
//     ~/.config/agentrt
//   - Cache: $XDG_CACHE_HOME/agentrt, or ~/.cache/agentrt
//   - State: Root/state
//
// keeping one user's runtime state as a single unit that can be backed
// up, inspected, or locked down together. EnsurePaths creates every
// subdirectory the rest of the
// core expects to exist (sessions, memory, observations, steering) up
// front.
//
// # Usage Example
//
//	cfg, err := config.Load(workDir)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	paths := config.GetPaths()
//	if err := paths.EnsurePaths(); err != nil {
//	    log.Fatal(err)
//	}
package config
