package types

// ObservationTier identifies which compression tier an observation
// block belongs to.
type ObservationTier string

const (
	TierSession      ObservationTier = "session"
	TierCrossSession ObservationTier = "cross-session"
)

// ObservationBlock is a compressed summary of a contiguous range of
// session events.
//
// Invariants: blocks are append-only; End > Start for session blocks;
// the union of ranges across a session's blocks is monotonically
// increasing and non-overlapping.
type ObservationBlock struct {
	ID            string          `json:"id"`
	SessionID     string          `json:"sessionID"`
	CreatedAt     string          `json:"createdAt"` // ISO 8601 UTC
	Tier          ObservationTier `json:"tier"`
	Text          string          `json:"text"`
	Start         int             `json:"start"` // inclusive
	End           int             `json:"end"`   // exclusive
	EstTokenCount int             `json:"estTokenCount"`
}
