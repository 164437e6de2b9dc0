package communication

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProtocolMatrix_SeededEntries(t *testing.T) {
	m := NewProtocolMatrix()

	p := m.Get("evidence-collection", "crypto-verification")
	assert.True(t, p.RequireEncryption)
	assert.True(t, p.RequireChecksum)
	assert.Contains(t, p.RequiredFields, "evidence_id")

	p = m.Get("security-scan", "risk-assessment")
	assert.True(t, p.RequireCompression)
}

func TestProtocolMatrix_UnknownPairFallsBackToGeneric(t *testing.T) {
	m := NewProtocolMatrix()
	p := m.Get("unknown-sender", "unknown-recipient")
	assert.False(t, p.RequireEncryption)
	assert.Equal(t, PriorityNormal, p.PriorityOverride)
}

func TestProtocolMatrix_SetOverridesEntry(t *testing.T) {
	m := NewProtocolMatrix()
	m.Set("a", "b", Protocol{RequireEncryption: true})
	assert.True(t, m.Get("a", "b").RequireEncryption)
}
