package types

// IntentCapsule is an HMAC-signed mandate bundle used to detect goal
// drift on every proposed action.
//
// Invariants: Signature verifies under the current signing key; any
// mutation of Mandate, AllowedCategories, MandateKeywords, or ExpiresAt
// invalidates the signature.
type IntentCapsule struct {
	ID                string   `json:"id"`
	Mandate           string   `json:"mandate"`
	MandateHash       string   `json:"mandateHash"`
	MandateKeywords   []string `json:"mandateKeywords"`
	AllowedCategories []string `json:"allowedActionCategories,omitempty"`
	IssuedAt          string   `json:"issuedAt"` // ISO 8601 UTC
	ExpiresAt         string   `json:"expiresAt,omitempty"`
	Signature         string   `json:"signature"`
}

// DriftVerdict is the result of checking a proposed action against a
// capsule's mandate.
type DriftVerdict struct {
	Consistent bool    `json:"consistent"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason,omitempty"`
}
