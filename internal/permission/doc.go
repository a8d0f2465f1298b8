// Package permission provides the declarative permission vocabulary
// agents are configured with (internal/agent.AgentPermission) and a
// doom-loop guard for repeated-identical-tool-call detection.
//
// # Permission actions
//
//   - Allow: the category is permitted
//   - Deny: the category is blocked
//   - Ask: no interactive handler exists in this runtime; treated the
//     same as Allow everywhere except the doom-loop guard, which only
//     special-cases Deny
//
// # Permission types
//
//   - Bash: command execution
//   - Edit: file modification
//   - WebFetch: external web resource access
//   - ExternalDir: operations outside the working directory
//   - DoomLoop: repeated-identical-tool-call detection
//
// Actual authorization of a tool call (path/command validation,
// allow/deny-prefix resolution) is internal/policy's job, invoked
// synchronously by internal/toolexec before a tool ever runs. This
// package only supplies the vocabulary internal/agent's declarative
// per-agent defaults are expressed in, plus the doom-loop detector:
//
//	detector := NewDoomLoopDetector()
//	if detector.Check(jobID, "bash", commandInput) {
//		// same tool + input called DoomLoopThreshold times in a row
//	}
package permission
