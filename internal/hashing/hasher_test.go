package hashing

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprint_Deterministic(t *testing.T) {
	a := Fingerprint("Mozilla/5.0|pt-BR|1920x1080|180|localhost|Linux x86_64")
	b := Fingerprint("Mozilla/5.0|pt-BR|1920x1080|180|localhost|Linux x86_64")
	c := Fingerprint("Mozilla/5.0|pt-BR|1366x768|180|localhost|Linux x86_64")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEmpty(t, a)
}

func TestIdentityHasher_NormalizesIdentity(t *testing.T) {
	h, err := NewIdentityHasher("")
	require.NoError(t, err)

	assert.Equal(t, h.Hash("user@x.com"), h.Hash("  USER@x.com "))
	assert.NotEqual(t, h.Hash("user@x.com"), h.Hash("other@x.com"))
	assert.Len(t, h.Hash("user@x.com"), 32)
	assert.NotContains(t, h.Hash("user@x.com"), "@")
}

func TestIdentityHasher_KeyChangesDigest(t *testing.T) {
	plain, err := NewIdentityHasher("")
	require.NoError(t, err)
	keyed, err := NewIdentityHasher("console-secret")
	require.NoError(t, err)

	assert.NotEqual(t, plain.Hash("user@x.com"), keyed.Hash("user@x.com"))
}

func TestIdentityHasher_RejectsLongKey(t *testing.T) {
	_, err := NewIdentityHasher(strings.Repeat("k", 65))
	assert.ErrorIs(t, err, ErrKeyTooLong)
}
