package rag

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercase", "Hello World", "hello world"},
		{"trailing punctuation", "what is the selector?", "what is the selector"},
		{"mixed punctuation and spacing", "Hello, World!  ", "hello world"},
		{"whitespace runs", "a   b\t\tc\n\nd", "a b c d"},
		{"leading and trailing space", "  trimmed  ", "trimmed"},
		{"digits kept", "top 10 results", "top 10 results"},
		{"only punctuation", "?!...", ""},
		{"empty", "", ""},
		{"unicode letters kept", "Caché Überblick", "caché überblick"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestNormalize_EquivalentQueriesCollapse(t *testing.T) {
	assert.Equal(t, Normalize("Hello, World!  "), Normalize("hello world"))
	assert.Equal(t, Normalize("Explain X?"), Normalize("explain x"))
	assert.Equal(t, Normalize("don't   panic"), Normalize("Dont panic!"))
}

func TestNormalize_Idempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := rapid.String().Draw(t, "s")
		once := Normalize(s)
		if twice := Normalize(once); twice != once {
			t.Fatalf("not idempotent: %q -> %q -> %q", s, once, twice)
		}
	})
}

func TestCacheKey(t *testing.T) {
	fp := KeyFingerprint{Intent: IntentExplain, Agents: []string{"vector", "memory"}, ContextChars: 120_000}

	key := CacheKey("explain x", fp)
	assert.True(t, strings.HasPrefix(key, "ragflow:result:"))
	assert.Equal(t, key, CacheKey("explain x", fp))

	// agent order does not matter
	swapped := KeyFingerprint{Intent: IntentExplain, Agents: []string{"memory", "vector"}, ContextChars: 120_000}
	assert.Equal(t, key, CacheKey("explain x", swapped))

	// any fingerprint change produces a different key
	assert.NotEqual(t, key, CacheKey("explain y", fp))
	assert.NotEqual(t, key, CacheKey("explain x", KeyFingerprint{Intent: IntentCode, Agents: fp.Agents, ContextChars: fp.ContextChars}))
	assert.NotEqual(t, key, CacheKey("explain x", KeyFingerprint{Intent: fp.Intent, Agents: fp.Agents, ContextChars: 60_000}))
	assert.NotEqual(t, key, CacheKey("explain x", KeyFingerprint{Intent: fp.Intent, Agents: []string{"vector"}, ContextChars: fp.ContextChars}))
}

func TestCacheKey_EmptyQueryIsValid(t *testing.T) {
	key := CacheKey("", KeyFingerprint{Intent: IntentGeneral, Agents: []string{"vector"}, ContextChars: 1})
	assert.True(t, strings.HasPrefix(key, "ragflow:result:"))
	assert.Len(t, key, len("ragflow:result:")+32)
}
