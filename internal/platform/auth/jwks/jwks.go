// Package jwks encodes and decodes RSA JSON Web Key Sets and mints RS256 tokens against
// them.
package jwks

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type Keypair struct {
	Kid     string
	Private *rsa.PrivateKey
}

func GenerateRSAKeypair(kid string) (Keypair, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return Keypair{}, err
	}
	return Keypair{Kid: kid, Private: priv}, nil
}

type set struct {
	Keys []key `json:"keys"`
}

type key struct {
	Kty string `json:"kty"`
	Use string `json:"use,omitempty"`
	Alg string `json:"alg,omitempty"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// Marshal returns the public halves of keys as a JWKS document.
func Marshal(keys ...Keypair) ([]byte, error) {
	out := set{Keys: make([]key, 0, len(keys))}
	enc := base64.RawURLEncoding
	for _, kp := range keys {
		pub := kp.Private.PublicKey
		out.Keys = append(out.Keys, key{
			Kty: "RSA",
			Use: "sig",
			Alg: "RS256",
			Kid: kp.Kid,
			N:   enc.EncodeToString(pub.N.Bytes()),
			E:   enc.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		})
	}
	return json.Marshal(out)
}

// Parse returns the RSA keys of a JWKS document by kid. Keys of other types, or without
// a kid, are skipped; a document with no usable key is an error.
func Parse(b []byte) (map[string]*rsa.PublicKey, error) {
	var s set
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, err
	}
	out := make(map[string]*rsa.PublicKey, len(s.Keys))
	for _, k := range s.Keys {
		if k.Kty != "RSA" || k.Kid == "" || k.N == "" || k.E == "" {
			continue
		}
		nb, err := base64.RawURLEncoding.DecodeString(k.N)
		if err != nil {
			return nil, fmt.Errorf("jwk %s: modulus: %w", k.Kid, err)
		}
		eb, err := base64.RawURLEncoding.DecodeString(k.E)
		if err != nil {
			return nil, fmt.Errorf("jwk %s: exponent: %w", k.Kid, err)
		}
		e := new(big.Int).SetBytes(eb)
		if !e.IsInt64() || e.Int64() <= 0 || e.Int64() > int64(^uint32(0)>>1) {
			return nil, fmt.Errorf("jwk %s: invalid exponent", k.Kid)
		}
		out[k.Kid] = &rsa.PublicKey{N: new(big.Int).SetBytes(nb), E: int(e.Int64())}
	}
	if len(out) == 0 {
		return nil, errors.New("no usable jwks keys")
	}
	return out, nil
}

// Claims are the registered claims a minted token carries.
type Claims struct {
	Issuer    string
	Audience  []string
	Subject   string
	IssuedAt  time.Time
	ExpiresAt time.Time
	NotBefore *time.Time
}

// Mint signs claims with kp using RS256 and sets the kid header.
func Mint(kp Keypair, c Claims) (string, error) {
	rc := jwt.RegisteredClaims{
		Issuer:    c.Issuer,
		Subject:   c.Subject,
		Audience:  jwt.ClaimStrings(c.Audience),
		ExpiresAt: jwt.NewNumericDate(c.ExpiresAt),
	}
	if !c.IssuedAt.IsZero() {
		rc.IssuedAt = jwt.NewNumericDate(c.IssuedAt)
	}
	if c.NotBefore != nil {
		rc.NotBefore = jwt.NewNumericDate(*c.NotBefore)
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, rc)
	tok.Header["kid"] = kp.Kid
	return tok.SignedString(kp.Private)
}
