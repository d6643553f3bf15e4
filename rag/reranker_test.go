package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/ragflow/config"
)

func rerankStrategy(topK int) RetrievalStrategy {
	return RetrievalStrategy{Intent: IntentGeneral, TopK: topK}
}

// candidateFragments builds n fragments with distinct identities; scoreFor
// maps the fragment index to its source-native score.
func candidateFragments(n int, scoreFor func(i int) float64) []Fragment {
	frags := make([]Fragment, 0, n)
	for i := 0; i < n; i++ {
		frags = append(frags, NewFragment(
			fmt.Sprintf("candidate text %d", i),
			fmt.Sprintf("docs/c%d.md", i),
			"vector", 0, AgentVector, scoreFor(i)))
	}
	return frags
}

func TestReranker_OrdersByModelScore(t *testing.T) {
	scorer := &scriptedScorer{
		score: func(pairs []QueryDocPair) ([]float64, error) {
			scores := make([]float64, len(pairs))
			for i, p := range pairs {
				// Reward the lexically last document so the model order
				// inverts the source-score order.
				if strings.Contains(p.Document, "text 3") {
					scores[i] = 0.95
				} else {
					scores[i] = 0.1
				}
			}
			return scores, nil
		},
	}
	r := NewReranker(scorer, config.DefaultRerankConfig(), nil)

	frags := candidateFragments(4, func(i int) float64 { return 0.9 - float64(i)*0.1 })
	out := r.Rerank(context.Background(), "query", frags, rerankStrategy(2))

	require.Len(t, out, 2)
	assert.Contains(t, out[0].Content, "text 3")
	assert.InDelta(t, 0.95, out[0].RerankScore, 1e-9)
	assert.InDelta(t, 0.1, out[1].RerankScore, 1e-9)
}

func TestReranker_BudgetBound(t *testing.T) {
	scorer := &scriptedScorer{}
	r := NewReranker(scorer, config.DefaultRerankConfig(), nil)

	frags := candidateFragments(520, func(i int) float64 { return float64(i%100) / 100 })
	out := r.Rerank(context.Background(), "query", frags, rerankStrategy(15))

	// max(50, 2*15) caps the expensive stage regardless of agent volume.
	assert.Equal(t, 50, scorer.scored())
	assert.Len(t, out, 15)
}

func TestReranker_WideTopKRaisesBound(t *testing.T) {
	scorer := &scriptedScorer{}
	r := NewReranker(scorer, config.DefaultRerankConfig(), nil)

	frags := candidateFragments(200, func(i int) float64 { return 0.5 })
	out := r.Rerank(context.Background(), "query", frags, rerankStrategy(40))

	assert.Equal(t, 80, scorer.scored())
	assert.Len(t, out, 40)
}

func TestReranker_BatchesPairs(t *testing.T) {
	scorer := &scriptedScorer{}
	r := NewReranker(scorer, config.DefaultRerankConfig(), nil)

	frags := candidateFragments(100, func(i int) float64 { return 0.5 })
	r.Rerank(context.Background(), "query", frags, rerankStrategy(50))

	assert.Equal(t, []int{32, 32, 32, 4}, scorer.batches)
}

func TestReranker_ScorerFailureKeepsPrefilterOrder(t *testing.T) {
	scorer := &scriptedScorer{
		score: func(pairs []QueryDocPair) ([]float64, error) {
			return nil, errors.New("model offline")
		},
	}
	r := NewReranker(scorer, config.DefaultRerankConfig(), nil)

	frags := candidateFragments(6, func(i int) float64 { return 0.9 - float64(i)*0.1 })
	out := r.Rerank(context.Background(), "query", frags, rerankStrategy(3))

	require.Len(t, out, 3)
	for i, f := range out {
		assert.Contains(t, f.Content, fmt.Sprintf("text %d", i))
		assert.InDelta(t, f.Score, f.RerankScore, 1e-9)
	}
}

func TestReranker_ScoreCountMismatchFallsBack(t *testing.T) {
	scorer := &scriptedScorer{
		score: func(pairs []QueryDocPair) ([]float64, error) {
			return []float64{0.5}, nil
		},
	}
	r := NewReranker(scorer, config.DefaultRerankConfig(), nil)

	frags := candidateFragments(4, func(i int) float64 { return 0.9 - float64(i)*0.1 })
	out := r.Rerank(context.Background(), "query", frags, rerankStrategy(4))

	require.Len(t, out, 4)
	assert.Contains(t, out[0].Content, "text 0")
}

func TestReranker_NilScorerKeepsPrefilterOrder(t *testing.T) {
	r := NewReranker(nil, config.DefaultRerankConfig(), nil)

	frags := candidateFragments(5, func(i int) float64 { return float64(i) / 10 })
	out := r.Rerank(context.Background(), "query", frags, rerankStrategy(2))

	require.Len(t, out, 2)
	assert.Contains(t, out[0].Content, "text 4")
	assert.InDelta(t, 0.4, out[0].RerankScore, 1e-9)
}

func TestReranker_SigmoidAppliedToLogits(t *testing.T) {
	scorer := &scriptedScorer{
		score: func(pairs []QueryDocPair) ([]float64, error) {
			scores := make([]float64, len(pairs))
			for i := range pairs {
				scores[i] = 4.0 - float64(i)*6.0 // logits: 4.0, -2.0
			}
			return scores, nil
		},
	}
	r := NewReranker(scorer, config.DefaultRerankConfig(), nil)

	frags := candidateFragments(2, func(i int) float64 { return 0.5 })
	out := r.Rerank(context.Background(), "query", frags, rerankStrategy(2))

	require.Len(t, out, 2)
	assert.InDelta(t, 0.982, out[0].RerankScore, 1e-3)
	assert.InDelta(t, 0.119, out[1].RerankScore, 1e-3)
}

func TestReranker_TruncatesDocumentsBeforeScoring(t *testing.T) {
	var maxDocLen int
	scorer := &scriptedScorer{
		score: func(pairs []QueryDocPair) ([]float64, error) {
			for _, p := range pairs {
				if n := len([]rune(p.Document)); n > maxDocLen {
					maxDocLen = n
				}
			}
			return make([]float64, len(pairs)), nil
		},
	}
	cfg := config.DefaultRerankConfig()
	cfg.DocCharLimit = 10
	r := NewReranker(scorer, cfg, nil)

	frags := []Fragment{NewFragment(strings.Repeat("x", 500), "docs/a.md", "vector", 0, AgentVector, 0.9)}
	r.Rerank(context.Background(), "query", frags, rerankStrategy(1))

	assert.LessOrEqual(t, maxDocLen, 10)
}

func TestReranker_EmptyInput(t *testing.T) {
	r := NewReranker(&scriptedScorer{}, config.DefaultRerankConfig(), nil)
	out := r.Rerank(context.Background(), "query", nil, rerankStrategy(10))
	assert.Empty(t, out)
}

func TestTermOverlapScorer_RanksRelevantDocsHigher(t *testing.T) {
	s := NewTermOverlapScorer()
	scores, err := s.Score(context.Background(), []QueryDocPair{
		{Query: "selector weight", Document: "The selector module assigns weight 0.3 to momentum"},
		{Query: "selector weight", Document: "Unrelated notes about release scheduling"},
		{Query: "selector weight", Document: ""},
	})
	require.NoError(t, err)
	require.Len(t, scores, 3)

	assert.Greater(t, scores[0], scores[1])
	assert.Zero(t, scores[2])
	for _, sc := range scores {
		assert.GreaterOrEqual(t, sc, 0.0)
		assert.LessOrEqual(t, sc, 1.0)
	}
}

func TestTermOverlapScorer_Deterministic(t *testing.T) {
	s := NewTermOverlapScorer()
	pairs := []QueryDocPair{{Query: "cache eviction policy", Document: "the cache evicts the oldest entry when full; eviction is lru"}}

	first, err := s.Score(context.Background(), pairs)
	require.NoError(t, err)
	second, err := s.Score(context.Background(), pairs)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "héllo", truncateRunes("héllo", 10))
	assert.Equal(t, "hél", truncateRunes("héllo", 3))
	assert.Equal(t, "", truncateRunes("", 5))
	assert.Equal(t, "héllo", truncateRunes("héllo", 0))
}
