// Package capsule implements the Intent Capsule: an HMAC-signed
// mandate bundle used to detect goal drift on every proposed action.
package capsule

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/agentrt/agentrt/pkg/types"
)

// stopWords are dropped when extracting keywords from free text.
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"for": true, "with": true, "to": true, "of": true, "in": true, "on": true,
	"is": true, "are": true, "was": true, "were": true, "be": true, "this": true,
	"that": true, "it": true, "as": true, "at": true, "by": true, "from": true,
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// extractKeywords lowercases text, strips non-alphanumeric characters,
// and drops stop-words and tokens of length <= 2.
func extractKeywords(text string) []string {
	cleaned := nonAlnum.ReplaceAllString(strings.ToLower(text), " ")
	var keywords []string
	for _, tok := range strings.Fields(cleaned) {
		if len(tok) <= 2 || stopWords[tok] {
			continue
		}
		keywords = append(keywords, tok)
	}
	return keywords
}

// Manager issues and verifies Intent Capsules under a signing key
// supplied by the caller (it is never persisted by the manager).
type Manager struct {
	signingKey []byte
}

// New returns a Manager that signs capsules with signingKey.
func New(signingKey []byte) *Manager {
	return &Manager{signingKey: signingKey}
}

// CreateOptions configures Create.
type CreateOptions struct {
	AllowedCategories []string
	TTL               time.Duration // zero means no expiry
}

// Create issues a capsule for the given mandate text.
func (m *Manager) Create(mandate string, opts CreateOptions) types.IntentCapsule {
	hash := sha256.Sum256([]byte(mandate))
	now := time.Now().UTC()

	c := types.IntentCapsule{
		ID:                ulid.Make().String(),
		Mandate:           mandate,
		MandateHash:       hex.EncodeToString(hash[:]),
		MandateKeywords:   extractKeywords(mandate),
		AllowedCategories: opts.AllowedCategories,
		IssuedAt:          now.Format(time.RFC3339),
	}
	if opts.TTL > 0 {
		c.ExpiresAt = now.Add(opts.TTL).Format(time.RFC3339)
	}
	c.Signature = m.sign(c)
	return c
}

// sign computes the HMAC over the capsule's canonical serialization:
// JSON with the Signature field zeroed, fields in declaration order,
// the same scheme the audit log uses for its entry hashes.
func (m *Manager) sign(c types.IntentCapsule) string {
	c.Signature = ""
	data, _ := json.Marshal(c)
	mac := hmac.New(sha256.New, m.signingKey)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the HMAC and compares it in constant time,
// rejecting mismatched lengths outright.
func (m *Manager) Verify(c types.IntentCapsule) bool {
	expected := m.sign(c)
	got := c.Signature
	if len(expected) != len(got) {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(got))
}

func containsCategory(categories []string, kind string) bool {
	for _, c := range categories {
		if c == kind {
			return true
		}
	}
	return false
}

// CheckDrift evaluates whether a proposed action is consistent with a
// capsule's mandate.
func (m *Manager) CheckDrift(c types.IntentCapsule, actionKind, actionDetail string) types.DriftVerdict {
	if c.ExpiresAt != "" {
		if expires, err := time.Parse(time.RFC3339, c.ExpiresAt); err == nil {
			if time.Now().UTC().After(expires) {
				return types.DriftVerdict{Consistent: false, Confidence: 1.0, Reason: "capsule has expired"}
			}
		}
	}

	if len(c.AllowedCategories) > 0 && !containsCategory(c.AllowedCategories, actionKind) {
		return types.DriftVerdict{Consistent: false, Confidence: 0.8, Reason: "action category is not in the capsule's allowed set"}
	}

	actionKeywords := extractKeywords(actionDetail)
	if len(actionKeywords) == 0 {
		return types.DriftVerdict{Consistent: true, Confidence: 0.5, Reason: "no keywords extracted from action"}
	}

	mandateSet := make(map[string]bool, len(c.MandateKeywords))
	for _, k := range c.MandateKeywords {
		mandateSet[k] = true
	}

	overlapCount := 0
	for _, k := range actionKeywords {
		if mandateSet[k] {
			overlapCount++
		}
	}
	overlap := float64(overlapCount) / float64(len(actionKeywords))

	if overlap >= 0.1 {
		return types.DriftVerdict{Consistent: true, Confidence: overlap}
	}
	return types.DriftVerdict{Consistent: false, Confidence: 1 - overlap, Reason: "action keywords do not overlap with mandate"}
}
