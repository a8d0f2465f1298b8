package types

// ShellMode selects how validateCommand treats the allowed/denied lists
// enforced by the policy engine.
type ShellMode string

const (
	ShellAllowlist ShellMode = "allowlist"
	ShellDenylist  ShellMode = "denylist"
	ShellDenyAll   ShellMode = "deny_all"
)

// ActionCategory classifies the reversibility of a proposed action for
// drift-checking and policy flagging purposes.
type ActionCategory string

const (
	ActionReversible  ActionCategory = "reversible"
	ActionIrreversible ActionCategory = "irreversible"
	ActionAlwaysFlag  ActionCategory = "always_flag"
)

// FilesystemPolicy controls validatePath.
type FilesystemPolicy struct {
	AllowedPrefixes []string `json:"allowedPrefixes"`
	DeniedPrefixes  []string `json:"deniedPrefixes"`
	FollowSymlinks  bool     `json:"followSymlinks"`
}

// ShellPolicy controls validateCommand.
type ShellPolicy struct {
	Mode            ShellMode `json:"mode"`
	AllowedCommands []string  `json:"allowedCommands"`
	DeniedCommands  []string  `json:"deniedCommands"`
	SplitChained    bool      `json:"splitChained"`
}

// NetworkPolicy controls outbound network access by tools.
type NetworkPolicy struct {
	AllowedHosts []string `json:"allowedHosts"`
	DeniedHosts  []string `json:"deniedHosts"`
}

// Policy is the full declarative capability policy.
//
// Invariant: denial takes precedence over allowance; in ShellDenyAll, no
// command may execute.
type Policy struct {
	Filesystem FilesystemPolicy          `json:"filesystem"`
	Shell      ShellPolicy                `json:"shell"`
	Network    NetworkPolicy              `json:"network"`
	Categories map[string]ActionCategory  `json:"actionCategories,omitempty"`
}
