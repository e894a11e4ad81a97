package jwks_testutil

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"time"

	"github.com/gocrave/runner-api/internal/platform/auth/jwks"
)

type Keypair = jwks.Keypair

func GenerateRSAKeypair(kid string) (Keypair, error) {
	return jwks.GenerateRSAKeypair(kid)
}

// NewRotatingJWKSServer returns a JWKS server whose key set can be swapped at runtime,
// plus the setter that swaps it.
func NewRotatingJWKSServer() (*httptest.Server, func(keys []Keypair)) {
	var doc atomic.Value // []byte
	doc.Store([]byte(`{"keys":[]}`))

	setKeys := func(keys []Keypair) {
		b, err := jwks.Marshal(keys...)
		if err != nil {
			panic(err)
		}
		doc.Store(b)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(doc.Load().([]byte))
	}))
	return srv, setKeys
}

// MintRS256JWT creates a signed JWT. aud may be a string or []string.
func MintRS256JWT(kp Keypair, iss string, aud any, sub string, now time.Time, expDelta time.Duration, nbfDelta *time.Duration) (string, error) {
	c := jwks.Claims{
		Issuer:    iss,
		Subject:   sub,
		IssuedAt:  now,
		ExpiresAt: now.Add(expDelta),
	}
	switch a := aud.(type) {
	case string:
		c.Audience = []string{a}
	case []string:
		c.Audience = a
	}
	if nbfDelta != nil {
		nbf := now.Add(*nbfDelta)
		c.NotBefore = &nbf
	}
	return jwks.Mint(kp, c)
}
