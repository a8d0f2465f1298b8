// Package permission provides the declarative per-agent permission
// vocabulary (internal/agent.AgentPermission) and the doom-loop guard
// used to break repeated-identical-tool-call cycles. The interactive
// ask/allow/deny flow this package used to drive for a human-attended
// CLI has no audience in an autonomous runtime: every tool call is now
// authorized synchronously by internal/policy through
// internal/toolexec, so this package only keeps the pieces that
// survive that shift: the action vocabulary and the loop guard.
package permission

// PermissionAction represents the action configured for a permission
// category. ActionAsk has no interactive handler in this runtime; it
// is treated as ActionAllow by anything that isn't the doom-loop guard
// (which only special-cases ActionDeny), so configuring ActionAsk is
// equivalent to leaving a category permissive.
type PermissionAction string

const (
	ActionAllow PermissionAction = "allow"
	ActionDeny  PermissionAction = "deny"
	ActionAsk   PermissionAction = "ask"
)

// PermissionType represents the category of permission being checked.
type PermissionType string

const (
	PermBash        PermissionType = "bash"
	PermEdit        PermissionType = "edit"
	PermWebFetch    PermissionType = "webfetch"
	PermExternalDir PermissionType = "external_directory"
	PermDoomLoop    PermissionType = "doom_loop"
)
