// Package policy implements the capability-based security policy that
// gates every filesystem and shell action an agent attempts (the Policy
// Engine). Decisions are local and synchronous; nothing here is
// retried, and validation never mutates filesystem state.
package policy

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/agentrt/agentrt/pkg/types"
)

// DeniedError reports why a validatePath or validateCommand call was
// rejected. Callers convert it into a synthetic tool result rather than
// an internal error.
type DeniedError struct {
	Reason string
}

func (e *DeniedError) Error() string { return e.Reason }

func deny(format string, args ...any) error {
	return &DeniedError{Reason: fmt.Sprintf(format, args...)}
}

// IsDenied reports whether err is a policy denial (as opposed to an I/O
// or parse failure).
func IsDenied(err error) bool {
	_, ok := err.(*DeniedError)
	return ok
}

// Engine evaluates a Policy against proposed filesystem and shell
// actions.
type Engine struct {
	policy types.Policy
	home   string
}

// New constructs an Engine bound to the given declarative policy.
func New(p types.Policy) *Engine {
	home, _ := os.UserHomeDir()
	return &Engine{policy: p, home: home}
}

// Policy returns the bound declarative policy.
func (e *Engine) Policy() types.Policy { return e.policy }

// FromConfig translates the on-disk PermissionConfig into
// the runtime Policy an Engine is constructed from. A nil cfg yields the
// zero Policy, which denies every filesystem prefix and, per ShellMode's
// zero value, every shell command.
func FromConfig(cfg *types.PermissionConfig) types.Policy {
	if cfg == nil {
		return types.Policy{}
	}
	mode := types.ShellMode(cfg.ShellMode)
	if mode == "" {
		mode = types.ShellDenyAll
	}
	return types.Policy{
		Filesystem: types.FilesystemPolicy{
			AllowedPrefixes: cfg.AllowedPaths,
			DeniedPrefixes:  cfg.DeniedPaths,
			FollowSymlinks:  cfg.FollowSymlinks,
		},
		Shell: types.ShellPolicy{
			Mode:            mode,
			AllowedCommands: cfg.AllowedCommands,
			DeniedCommands:  cfg.DeniedCommands,
			SplitChained:    cfg.SplitChained,
		},
	}
}

// ValidatePath resolves path to an absolute, canonical form and checks
// it against the filesystem policy. Denied prefixes are matched first
// (deny wins); the resolved path must then be prefix-matched by at
// least one allowed prefix. A nonexistent target is permitted, provided
// its lexical path passes.
func (e *Engine) ValidatePath(path string) (string, error) {
	resolved, err := e.resolve(path)
	if err != nil {
		return "", err
	}

	if prefix, ok := matchPrefix(resolved, e.policy.Filesystem.DeniedPrefixes); ok {
		return "", deny("path %q is explicitly denied (under %q)", resolved, prefix)
	}

	if len(e.policy.Filesystem.AllowedPrefixes) == 0 {
		return "", deny("path %q is not under any allowed prefix", resolved)
	}
	if _, ok := matchPrefix(resolved, e.policy.Filesystem.AllowedPrefixes); !ok {
		return "", deny("path %q is not under any allowed prefix", resolved)
	}

	return resolved, nil
}

// resolve expands ~, makes the path absolute, and (unless
// FollowSymlinks is disabled) dereferences a symlink target so the
// denial check applies to what will actually be read or written.
func (e *Engine) resolve(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if e.home == "" {
			return "", deny("cannot resolve ~ without a home directory")
		}
		path = filepath.Join(e.home, strings.TrimPrefix(path, "~"))
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(e.home, path)
	}
	path = filepath.Clean(path)

	if e.policy.Filesystem.FollowSymlinks {
		return path, nil
	}

	target, err := filepath.EvalSymlinks(path)
	if err != nil {
		if os.IsNotExist(err) {
			return path, nil
		}
		return "", fmt.Errorf("resolve symlink for %q: %w", path, err)
	}
	return target, nil
}

// matchPrefix reports whether path falls under any of prefixes, matched
// on full path components (so "/home/u/workshop" does not match prefix
// "/home/u/work").
func matchPrefix(path string, prefixes []string) (string, bool) {
	for _, prefix := range prefixes {
		clean := filepath.Clean(prefix)
		if path == clean {
			return prefix, true
		}
		if strings.HasPrefix(path, clean+string(filepath.Separator)) {
			return prefix, true
		}
	}
	return "", false
}

// ValidateCommand checks a shell command line against the shell policy.
func (e *Engine) ValidateCommand(command string) error {
	sp := e.policy.Shell

	if sp.Mode == types.ShellDenyAll {
		return deny("shell execution is disabled by policy")
	}

	if sp.Mode == types.ShellAllowlist && sp.SplitChained {
		segments, err := splitSegments(command)
		if err != nil {
			return fmt.Errorf("parse command: %w", err)
		}
		for _, seg := range segments {
			if contains(sp.DeniedCommands, seg.Program) {
				return deny("command %q is explicitly denied", seg.Program)
			}
			if !contains(sp.AllowedCommands, seg.Program) {
				return deny("command %q is not in the allowlist", seg.Program)
			}
		}
		return nil
	}

	base, err := baseCommand(command)
	if err != nil {
		return fmt.Errorf("parse command: %w", err)
	}

	switch sp.Mode {
	case types.ShellAllowlist:
		if contains(sp.DeniedCommands, base) {
			return deny("command %q is explicitly denied", base)
		}
		if !contains(sp.AllowedCommands, base) {
			return deny("command %q is not in the allowlist", base)
		}
	case types.ShellDenylist:
		if contains(sp.DeniedCommands, base) {
			return deny("command %q is explicitly denied", base)
		}
	default:
		return deny("unknown shell policy mode %q", sp.Mode)
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// AuthResult is the outcome of a ToolAuthorizationCallback invocation.
type AuthResult struct {
	Allowed   bool
	Reason    string
	Arguments map[string]any // possibly rewritten
}

// ToolAuthorizer maps tool names to the appropriate validator. Unknown
// tools default to allow; the audit log still records the call.
type ToolAuthorizer struct {
	engine *Engine
}

// NewToolAuthorizer returns the toolAuthorizationCallback bound to e.
func (e *Engine) NewToolAuthorizer() *ToolAuthorizer {
	return &ToolAuthorizer{engine: e}
}

// Authorize implements the per-invocation callback handed to a
// Provider: given a tool name and its argument map, it returns an
// allow/deny verdict.
func (a *ToolAuthorizer) Authorize(toolName string, args map[string]any) AuthResult {
	switch toolName {
	case "bash", "shell":
		cmd, _ := args["command"].(string)
		if cmd == "" {
			return AuthResult{Allowed: true, Arguments: args}
		}
		if err := a.engine.ValidateCommand(cmd); err != nil {
			return AuthResult{Allowed: false, Reason: err.Error()}
		}
		return AuthResult{Allowed: true, Arguments: args}

	case "read", "write", "edit", "glob", "grep", "ls", "list":
		key, path := pathArgument(args)
		if path == "" {
			return AuthResult{Allowed: true, Arguments: args}
		}
		resolved, err := a.engine.ValidatePath(path)
		if err != nil {
			return AuthResult{Allowed: false, Reason: err.Error()}
		}
		rewritten := cloneArgs(args)
		rewritten[key] = resolved
		return AuthResult{Allowed: true, Arguments: rewritten}

	default:
		return AuthResult{Allowed: true, Arguments: args}
	}
}

// pathArgument finds the path-bearing argument under any of the key
// spellings the registered tools use.
func pathArgument(args map[string]any) (string, string) {
	for _, key := range []string{"path", "file_path", "filePath"} {
		if v, ok := args[key].(string); ok && v != "" {
			return key, v
		}
	}
	return "", ""
}

func cloneArgs(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}
	return out
}
