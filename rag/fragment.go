package rag

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// Agent names used by the built-in retrieval agents. The merger breaks
// score ties between duplicate fragments in this priority order.
const (
	AgentVector = "vector"
	AgentMemory = "memory"
	AgentCode   = "code"
)

// Fragment is a unit of retrieved content. Fragments are created by agents
// during a single request and discarded afterwards; only their identity is
// stable across runs.
type Fragment struct {
	// ID is the stable content identity, a pure function of
	// (Content, Source, SourceLabel, Position). Two fragments with equal
	// ID are the same content regardless of which agent produced them.
	ID string `json:"id"`

	// Content is the raw fragment text.
	Content string `json:"content"`

	// Source is the originating path or locator (file path, memory key).
	Source string `json:"source"`

	// SourceLabel names the collection or section the fragment came from.
	SourceLabel string `json:"source_label,omitempty"`

	// Position is the fragment's ordinal position within its source.
	Position int `json:"position"`

	// Agent names the retrieval agent that produced this instance.
	Agent string `json:"agent,omitempty"`

	// Score is the source-native relevance score in [0,1].
	Score float64 `json:"score"`

	// RerankScore is assigned by the re-ranker's expensive stage.
	RerankScore float64 `json:"rerank_score,omitempty"`

	// Timestamp is the content's creation or modification time when the
	// source knows it; the zero value means unknown and exempts the
	// fragment from temporal boosting.
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// FragmentID derives the stable identity for a piece of content. The hash
// covers content, source path, source label and ordinal position with
// explicit field separators, so identical inputs always map to the same
// identity and re-ingesting unchanged content never mints a new one.
func FragmentID(content, source, label string, position int) string {
	h := sha256.New()
	h.Write([]byte(content))
	h.Write([]byte{0})
	h.Write([]byte(source))
	h.Write([]byte{0})
	h.Write([]byte(label))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(position)))
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:16])
}

// NewFragment builds a Fragment with its identity precomputed and the score
// clamped to [0,1].
func NewFragment(content, source, label string, position int, agent string, score float64) Fragment {
	return Fragment{
		ID:          FragmentID(content, source, label, position),
		Content:     content,
		Source:      source,
		SourceLabel: label,
		Position:    position,
		Agent:       agent,
		Score:       clampScore(score),
	}
}

func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
