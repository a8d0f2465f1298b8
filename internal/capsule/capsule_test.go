package capsule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreate_SignatureVerifies(t *testing.T) {
	m := New([]byte("signing-secret"))
	c := m.Create("refactor the billing module for clarity", CreateOptions{})

	assert.True(t, m.Verify(c))
	assert.NotEmpty(t, c.MandateKeywords)
	assert.Contains(t, c.MandateKeywords, "refactor")
	assert.NotContains(t, c.MandateKeywords, "the")
}

func TestVerify_MutationInvalidatesSignature(t *testing.T) {
	m := New([]byte("signing-secret"))
	c := m.Create("clean up the logging pipeline", CreateOptions{})

	mutated := c
	mutated.Mandate = "delete all production data"
	assert.False(t, m.Verify(mutated))

	mutated2 := c
	mutated2.ExpiresAt = "2099-01-01T00:00:00Z"
	assert.False(t, m.Verify(mutated2))

	mutated3 := c
	mutated3.AllowedCategories = []string{"irreversible"}
	assert.False(t, m.Verify(mutated3))
}

func TestCheckDrift_Expired(t *testing.T) {
	m := New([]byte("secret"))
	c := m.Create("investigate the outage", CreateOptions{TTL: -time.Hour})

	verdict := m.CheckDrift(c, "investigate", "investigate the outage further")
	assert.False(t, verdict.Consistent)
	assert.Equal(t, 1.0, verdict.Confidence)
}

func TestCheckDrift_MissingActionKindWhenCategoriesRequired(t *testing.T) {
	m := New([]byte("secret"))
	c := m.Create("refactor billing", CreateOptions{AllowedCategories: []string{"reversible"}})

	verdict := m.CheckDrift(c, "", "refactor billing module")
	assert.False(t, verdict.Consistent)
	assert.Equal(t, 0.8, verdict.Confidence)
}

func TestCheckDrift_NoKeywordsIsConsistentWithLowConfidence(t *testing.T) {
	m := New([]byte("secret"))
	c := m.Create("refactor billing", CreateOptions{})

	verdict := m.CheckDrift(c, "refactor", "a an of to")
	assert.True(t, verdict.Consistent)
	assert.Equal(t, 0.5, verdict.Confidence)
}

func TestCheckDrift_HighOverlapIsConsistent(t *testing.T) {
	m := New([]byte("secret"))
	c := m.Create("refactor the billing invoice pipeline", CreateOptions{})

	verdict := m.CheckDrift(c, "refactor", "refactor billing invoice code")
	require.True(t, verdict.Consistent)
	assert.Greater(t, verdict.Confidence, 0.1)
}

func TestCheckDrift_LowOverlapIsInconsistent(t *testing.T) {
	m := New([]byte("secret"))
	c := m.Create("refactor the billing invoice pipeline", CreateOptions{})

	verdict := m.CheckDrift(c, "delete", "delete all user accounts permanently now")
	assert.False(t, verdict.Consistent)
}
