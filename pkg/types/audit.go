package types

// GenesisHash is the sentinel previousHash value for the first audit
// entry in a chain.
const GenesisHash = "genesis"

// AuditEntry is one hash-chained entry in the audit log.
//
// Invariants: entries[i].PreviousHash == entries[i-1].Hash; the backing
// file is append-only; Hash is SHA-256 over the canonical serialization
// of every field up to and including PreviousHash.
type AuditEntry struct {
	EntryID      int64          `json:"entryId"`
	JobID        string         `json:"jobId"`
	EventKind    string         `json:"eventKind"`
	Timestamp    string         `json:"timestamp"` // ISO 8601 UTC
	Provider     string         `json:"provider,omitempty"`
	ToolName     string         `json:"toolName,omitempty"`
	Parameters   map[string]any `json:"parameters,omitempty"`
	Result       string         `json:"result,omitempty"`
	PreviousHash string         `json:"previousHash"`
	Hash         string         `json:"hash"`
}

// Audit event kinds recorded by the Execution Loop and Policy Engine.
const (
	AuditEventPolicyAllow = "policy_allow"
	AuditEventPolicyDeny  = "policy_deny"
	AuditEventDriftDeny   = "drift_deny"
	AuditEventToolResult  = "tool_result"
	AuditEventTaskStart   = "task_start"
	AuditEventTaskEnd     = "task_end"
	AuditEventFailover    = "failover"
)
