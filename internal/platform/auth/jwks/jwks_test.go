package jwks

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalParse_RoundTripsPublicKeys(t *testing.T) {
	t.Parallel()

	k1, err := GenerateRSAKeypair("kid-1")
	require.NoError(t, err)
	k2, err := GenerateRSAKeypair("kid-2")
	require.NoError(t, err)

	b, err := Marshal(k1, k2)
	require.NoError(t, err)
	keys, err := Parse(b)
	require.NoError(t, err)

	require.Len(t, keys, 2)
	assert.True(t, keys["kid-1"].Equal(&k1.Private.PublicKey))
	assert.True(t, keys["kid-2"].Equal(&k2.Private.PublicKey))
	assert.NotContains(t, string(b), `"d"`, "private exponent must not be published")
}

func TestParse_RejectsSetWithoutUsableKeys(t *testing.T) {
	t.Parallel()

	_, err := Parse([]byte(`{"keys":[{"kty":"EC","kid":"x","n":"a","e":"b"}]}`))
	assert.Error(t, err)
	_, err = Parse([]byte(`not json`))
	assert.Error(t, err)
}

func TestMint_SetsKidAndClaims(t *testing.T) {
	t.Parallel()

	kp, err := GenerateRSAKeypair("kid-1")
	require.NoError(t, err)
	now := time.Now().Truncate(time.Second)

	raw, err := Mint(kp, Claims{
		Issuer:    "iss",
		Audience:  []string{"aud"},
		Subject:   "admin-1",
		ExpiresAt: now.Add(time.Minute),
	})
	require.NoError(t, err)

	var rc jwt.RegisteredClaims
	tok, err := jwt.ParseWithClaims(raw, &rc, func(*jwt.Token) (any, error) {
		return &kp.Private.PublicKey, nil
	}, jwt.WithValidMethods([]string{"RS256"}))
	require.NoError(t, err)
	assert.Equal(t, "kid-1", tok.Header["kid"])
	assert.Equal(t, "admin-1", rc.Subject)
	assert.Equal(t, jwt.ClaimStrings{"aud"}, rc.Audience)
}
