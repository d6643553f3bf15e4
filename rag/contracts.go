package rag

import (
	"context"
	"time"
)

// ====== External collaborator contracts ======
//
// The engine consumes its collaborators through these interfaces. Production
// deployments plug in real backends (a vector database, a memory service, an
// LLM gateway, a cross-encoder endpoint); MemoryVectorStore and
// TermOverlapScorer in this package are in-process implementations for tests
// and local use.

// VectorSearcher is the similarity-search capability of an external vector
// store. Hits come back ordered by descending score.
type VectorSearcher interface {
	Search(ctx context.Context, text string, limit int) ([]VectorHit, error)
}

// VectorHit is a single similarity-search result.
type VectorHit struct {
	Content string `json:"content"`
	// Source is the originating path or locator of the content.
	Source string `json:"source"`
	// Label names the collection the content belongs to.
	Label string `json:"label,omitempty"`
	// Position is the content's ordinal position within its source.
	Position int `json:"position"`
	// Score is the store's relevance score in [0,1].
	Score float64 `json:"score"`
	// Timestamp is the content's creation or modification time, zero when
	// the store does not track it.
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// VectorIndexer is an optional ingestion interface for VectorSearcher
// implementations that accept documents directly. Use type assertion to
// check support:
//
//	if ix, ok := store.(VectorIndexer); ok { ix.Index(ctx, fragments) }
type VectorIndexer interface {
	Index(ctx context.Context, fragments []Fragment) error
}

// MemorySearcher is the keyword/memory service contract. Implementations may
// ignore ctx; the memory agent enforces its own hard timeout around the call
// so a slow service can never stall the pipeline.
type MemorySearcher interface {
	Search(ctx context.Context, text string, limit int) ([]MemoryHit, error)
}

// MemoryHit is a single keyword/memory result. Memory services return
// unranked hits; the agent assigns a fixed source-native score.
type MemoryHit struct {
	Content   string    `json:"content"`
	Source    string    `json:"source"`
	Label     string    `json:"label,omitempty"`
	Position  int       `json:"position"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// CompletionProvider is the black-box text-completion service used for query
// decomposition, expansion and answer generation.
type CompletionProvider interface {
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// QueryDocPair is one (query, document) input to a cross-encoder.
type QueryDocPair struct {
	Query    string `json:"query"`
	Document string `json:"document"`
}

// CrossEncoderProvider scores query/document pairs with a paired relevance
// model. The returned slice has one score per pair, same order as the input.
type CrossEncoderProvider interface {
	Score(ctx context.Context, pairs []QueryDocPair) ([]float64, error)
}
