package domain

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMask_ShortInputsAreFullyMasked(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "1", "12", "123"} {
		got := Mask(in, 3)
		assert.Equal(t, strings.Repeat("*", len(in)), got, "input %q", in)
	}
}

func TestMask_KeepsSuffixAndLength(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "******789", Mask("123456789", TRNVisibleSuffix))
	assert.Equal(t, "****5678", Mask("12345678", IDVisibleSuffix))
	assert.Equal(t, "*2345", Mask("12345", IDVisibleSuffix))

	// Length is preserved in runes, not bytes.
	got := Mask("ñandú-1234", IDVisibleSuffix)
	assert.Equal(t, utf8.RuneCountInString("ñandú-1234"), utf8.RuneCountInString(got))
	assert.True(t, strings.HasSuffix(got, "1234"))
}

func TestPIIHasher_DeterministicAndTagged(t *testing.T) {
	t.Parallel()

	h := NewPIIHasher("")
	a1 := h.Digest("123-456-789")
	a2 := h.Digest("123-456-789")
	b := h.Digest("123-456-780")

	require.Equal(t, a1, a2)
	require.NotEqual(t, a1, b)
	assert.True(t, strings.HasPrefix(a1, "sha256:"))
	assert.Len(t, strings.TrimPrefix(a1, "sha256:"), 64)
	assert.NotContains(t, a1, "123-456-789")
}

func TestPIIHasher_KeyedDigestDiffersFromBare(t *testing.T) {
	t.Parallel()

	bare := NewPIIHasher("")
	keyed := NewPIIHasher("pepper")

	kd := keyed.Digest("A1234567")
	assert.True(t, strings.HasPrefix(kd, "hmac-sha256:"))
	assert.Equal(t, kd, keyed.Digest("A1234567"))
	assert.NotEqual(t, strings.TrimPrefix(bare.Digest("A1234567"), "sha256:"), strings.TrimPrefix(kd, "hmac-sha256:"))
}
