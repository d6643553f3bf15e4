package rag

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
)

// MemoryVectorStore is an in-process VectorSearcher backed by lexical BM25
// scoring, standing in for a real embedding store in tests, examples and
// the CLI demo. Scores are min-max normalized into [0,1] per query. The
// store also implements VectorIndexer so chunked corpora load directly.
type MemoryVectorStore struct {
	k1 float64
	b  float64

	mu     sync.Mutex
	docs   []memDoc
	byID   map[string]int
	idf    map[string]float64
	avgLen float64
	stale  bool
}

type memDoc struct {
	frag  Fragment
	freq  map[string]int
	terms int
}

var (
	_ VectorSearcher = (*MemoryVectorStore)(nil)
	_ VectorIndexer  = (*MemoryVectorStore)(nil)
)

// NewMemoryVectorStore creates an empty store with the standard BM25
// parameters (k1=1.5, b=0.75).
func NewMemoryVectorStore() *MemoryVectorStore {
	return &MemoryVectorStore{
		k1:   1.5,
		b:    0.75,
		byID: make(map[string]int),
		idf:  make(map[string]float64),
	}
}

// Index adds fragments to the store. A fragment whose identity is already
// indexed is skipped, so re-ingesting unchanged content is a no-op.
func (s *MemoryVectorStore) Index(ctx context.Context, fragments []Fragment) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range fragments {
		if _, exists := s.byID[f.ID]; exists {
			continue
		}
		terms := strings.Fields(Normalize(f.Content))
		freq := make(map[string]int, len(terms))
		for _, t := range terms {
			freq[t]++
		}
		s.byID[f.ID] = len(s.docs)
		s.docs = append(s.docs, memDoc{frag: f, freq: freq, terms: len(terms)})
		s.stale = true
	}
	return nil
}

// Search implements VectorSearcher. Hits come back ordered by descending
// normalized score; documents sharing no term with the query are omitted.
func (s *MemoryVectorStore) Search(ctx context.Context, text string, limit int) ([]VectorHit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stale {
		s.recompute()
	}
	if len(s.docs) == 0 {
		return nil, nil
	}

	queryTerms := strings.Fields(Normalize(text))
	type scored struct {
		idx   int
		score float64
	}
	matches := make([]scored, 0, len(s.docs))
	for i, doc := range s.docs {
		score := 0.0
		for _, qt := range queryTerms {
			tf, ok := doc.freq[qt]
			if !ok {
				continue
			}
			numerator := float64(tf) * (s.k1 + 1.0)
			denominator := float64(tf) + s.k1*(1.0-s.b+s.b*(float64(doc.terms)/s.avgLen))
			score += s.idf[qt] * (numerator / denominator)
		}
		if score > 0 {
			matches = append(matches, scored{idx: i, score: score})
		}
	}
	if len(matches) == 0 {
		return nil, nil
	}

	// Min-max normalize into [0,1]; a degenerate range means every match
	// is equally good.
	lo, hi := matches[0].score, matches[0].score
	for _, m := range matches[1:] {
		lo = math.Min(lo, m.score)
		hi = math.Max(hi, m.score)
	}
	for i := range matches {
		if hi == lo {
			matches[i].score = 1.0
		} else {
			matches[i].score = (matches[i].score - lo) / (hi - lo)
		}
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].score > matches[j].score })
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}

	hits := make([]VectorHit, 0, len(matches))
	for _, m := range matches {
		f := s.docs[m.idx].frag
		hits = append(hits, VectorHit{
			Content:   f.Content,
			Source:    f.Source,
			Label:     f.SourceLabel,
			Position:  f.Position,
			Score:     m.score,
			Timestamp: f.Timestamp,
		})
	}
	return hits, nil
}

// Len reports the number of indexed fragments.
func (s *MemoryVectorStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs)
}

// recompute rebuilds document statistics and IDF after ingestion. Caller
// holds the lock.
func (s *MemoryVectorStore) recompute() {
	totalLen := 0
	termDocCount := make(map[string]int)
	for _, doc := range s.docs {
		totalLen += doc.terms
		for term := range doc.freq {
			termDocCount[term]++
		}
	}
	if len(s.docs) > 0 {
		s.avgLen = float64(totalLen) / float64(len(s.docs))
	}

	n := float64(len(s.docs))
	s.idf = make(map[string]float64, len(termDocCount))
	for term, df := range termDocCount {
		s.idf[term] = math.Log((n-float64(df)+0.5)/(float64(df)+0.5) + 1.0)
	}
	s.stale = false
}
