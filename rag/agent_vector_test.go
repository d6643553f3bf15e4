package rag

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func vectorRequest(variants []string, threshold float64, budget int) *AgentRequest {
	return &AgentRequest{
		Query:    AnalyzedQuery{Raw: variants[0], Normalized: Normalize(variants[0])},
		Variants: variants,
		Strategy: RetrievalStrategy{
			Intent:           IntentGeneral,
			Agents:           []string{AgentVector},
			VectorBudget:     15,
			QualityThreshold: threshold,
			QualityBudget:    budget,
		},
	}
}

func TestVectorAgent_EarlyStop(t *testing.T) {
	// each variant yields 15 hits above the 0.8 threshold, so a budget of 30
	// must stop the agent after exactly two searches
	store := &scriptedVector{hits: func(text string, limit int) []VectorHit {
		hits := make([]VectorHit, 15)
		for i := range hits {
			hits[i] = VectorHit{
				Content:  fmt.Sprintf("%s doc %d", text, i),
				Source:   fmt.Sprintf("docs/%d.md", i),
				Position: i,
				Score:    0.9,
			}
		}
		return hits
	}}
	a := NewVectorAgent(store, zap.NewNop())

	frags, err := a.Retrieve(context.Background(), vectorRequest(
		[]string{"v1", "v2", "v3", "v4", "v5"}, 0.8, 30))

	require.NoError(t, err)
	assert.Equal(t, 2, store.searchCount(), "quality budget reached after two variants")
	assert.Len(t, frags, 30)
}

func TestVectorAgent_HardQueriesSearchAllVariants(t *testing.T) {
	store := &scriptedVector{hits: func(text string, limit int) []VectorHit {
		return []VectorHit{{Content: "weak " + text, Source: "s", Score: 0.2}}
	}}
	a := NewVectorAgent(store, zap.NewNop())

	frags, err := a.Retrieve(context.Background(), vectorRequest(
		[]string{"v1", "v2", "v3"}, 0.8, 30))

	require.NoError(t, err)
	assert.Equal(t, 3, store.searchCount())
	assert.Len(t, frags, 3)
}

func TestVectorAgent_ThresholdIsStrict(t *testing.T) {
	// scores exactly at the threshold do not count as high quality
	store := &scriptedVector{hits: func(text string, limit int) []VectorHit {
		hits := make([]VectorHit, 30)
		for i := range hits {
			hits[i] = VectorHit{Content: fmt.Sprintf("%s %d", text, i), Source: "s", Position: i, Score: 0.8}
		}
		return hits
	}}
	a := NewVectorAgent(store, zap.NewNop())

	_, err := a.Retrieve(context.Background(), vectorRequest([]string{"v1", "v2"}, 0.8, 30))

	require.NoError(t, err)
	assert.Equal(t, 2, store.searchCount())
}

func TestVectorAgent_FailedVariantSkipped(t *testing.T) {
	store := &scriptedVector{hits: func(text string, limit int) []VectorHit {
		return []VectorHit{{Content: text, Source: "s", Score: 0.5}}
	}}

	// first variant errors, rest succeed
	failing := &flakyVector{failFirst: true, inner: store}
	a := NewVectorAgent(failing, zap.NewNop())

	frags, err := a.Retrieve(context.Background(), vectorRequest([]string{"v1", "v2", "v3"}, 0.8, 30))

	require.NoError(t, err)
	assert.Len(t, frags, 2, "failed variant costs recall only")
}

func TestVectorAgent_AllVariantsFailedErrors(t *testing.T) {
	store := &scriptedVector{err: errors.New("store unreachable")}
	a := NewVectorAgent(store, zap.NewNop())

	frags, err := a.Retrieve(context.Background(), vectorRequest([]string{"v1", "v2"}, 0.8, 30))

	assert.Error(t, err)
	assert.Empty(t, frags)
}

func TestVectorAgent_CanceledContextReturnsPartial(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := &scriptedVector{hits: func(text string, limit int) []VectorHit {
		cancel() // cancel after the first search completes
		return []VectorHit{{Content: text, Source: "s", Score: 0.5}}
	}}
	a := NewVectorAgent(store, zap.NewNop())

	frags, err := a.Retrieve(ctx, vectorRequest([]string{"v1", "v2", "v3"}, 0.8, 30))

	require.NoError(t, err)
	assert.Len(t, frags, 1)
	assert.Equal(t, 1, store.searchCount())
}

// flakyVector fails its first call and delegates the rest.
type flakyVector struct {
	failFirst bool
	inner     VectorSearcher
}

func (f *flakyVector) Search(ctx context.Context, text string, limit int) ([]VectorHit, error) {
	if f.failFirst {
		f.failFirst = false
		return nil, errors.New("transient failure")
	}
	return f.inner.Search(ctx, text, limit)
}
