package domain

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	MaskChar = '*'

	TRNVisibleSuffix = 3
	IDVisibleSuffix  = 4
)

// Mask replaces every rune of s except the last keep runes with MaskChar.
// The result always has the same rune length as s; inputs no longer than keep
// are masked entirely.
func Mask(s string, keep int) string {
	rs := []rune(s)
	if len(rs) <= keep {
		return strings.Repeat(string(MaskChar), len(rs))
	}
	cut := len(rs) - keep
	return strings.Repeat(string(MaskChar), cut) + string(rs[cut:])
}

// PIIHasher derives one-way, deterministic digests of sensitive identifiers.
//
// Identical inputs always produce identical digests so duplicate real-world IDs can be
// detected across runners. Without a key the digest is a bare SHA-256 and is open to
// dictionary attack on short numeric IDs; configuring a key switches to HMAC-SHA256,
// which stays deterministic but needs the key to brute force.
type PIIHasher struct {
	key []byte
}

func NewPIIHasher(key string) PIIHasher {
	if key == "" {
		return PIIHasher{}
	}
	return PIIHasher{key: []byte(key)}
}

// Algorithm is the tag prefixed to every digest.
func (h PIIHasher) Algorithm() string {
	if len(h.key) > 0 {
		return "hmac-sha256"
	}
	return "sha256"
}

// Digest returns "<algorithm>:<hex digest>" of s.
func (h PIIHasher) Digest(s string) string {
	var sum []byte
	if len(h.key) > 0 {
		mac := hmac.New(sha256.New, h.key)
		mac.Write([]byte(s))
		sum = mac.Sum(nil)
	} else {
		b := sha256.Sum256([]byte(s))
		sum = b[:]
	}
	return h.Algorithm() + ":" + hex.EncodeToString(sum)
}
