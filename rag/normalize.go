package rag

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

// cacheKeyPrefix namespaces engine results in shared cache backends.
const cacheKeyPrefix = "ragflow:result:"

// Normalize canonicalizes raw query text for cache keying: trim, lowercase,
// strip punctuation, collapse whitespace runs to single spaces. Queries that
// differ only in case, trailing punctuation or spacing normalize identically.
// Idempotent; an empty result is a valid degenerate key.
func Normalize(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range strings.ToLower(raw) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// KeyFingerprint captures the configuration values that change an answer, so
// the same text asked under a different strategy never collides in cache.
type KeyFingerprint struct {
	Intent       Intent
	Agents       []string
	ContextChars int
}

// CacheKey builds the namespaced cache key for a normalized query under the
// given fingerprint. The agent set is order-insensitive.
func CacheKey(normalized string, fp KeyFingerprint) string {
	agents := make([]string, len(fp.Agents))
	copy(agents, fp.Agents)
	sort.Strings(agents)

	h := sha256.New()
	h.Write([]byte(normalized))
	h.Write([]byte{0})
	h.Write([]byte(fp.Intent))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(agents, ",")))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(fp.ContextChars)))
	sum := h.Sum(nil)
	return cacheKeyPrefix + hex.EncodeToString(sum[:16])
}
