package rag

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// VectorAgent issues one similarity search per query variant against the
// vector store, accumulating fragments across variants. After each variant
// it counts fragments scoring above the strategy's quality threshold; once
// that count reaches the quality budget it stops issuing searches. Easy
// queries stop after one or two variants while hard ones explore them all,
// which makes this the pipeline's main latency lever.
type VectorAgent struct {
	store  VectorSearcher
	logger *zap.Logger
}

var _ RetrievalAgent = (*VectorAgent)(nil)

// NewVectorAgent builds a VectorAgent over the given store.
func NewVectorAgent(store VectorSearcher, logger *zap.Logger) *VectorAgent {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VectorAgent{
		store:  store,
		logger: logger.With(zap.String("component", "vector_agent")),
	}
}

// Name implements RetrievalAgent.
func (a *VectorAgent) Name() string { return AgentVector }

// Retrieve implements RetrievalAgent. A failed variant search costs recall,
// not the request; the agent only errors when every variant failed and
// nothing was retrieved.
func (a *VectorAgent) Retrieve(ctx context.Context, req *AgentRequest) ([]Fragment, error) {
	var (
		out         []Fragment
		highQuality int
		searched    int
		lastErr     error
	)

	for _, variant := range req.Variants {
		if ctx.Err() != nil {
			break
		}

		hits, err := a.store.Search(ctx, variant, req.Strategy.VectorBudget)
		if err != nil {
			lastErr = err
			a.logger.Warn("vector search failed",
				zap.String("variant", variant),
				zap.Error(err))
			continue
		}
		searched++

		for _, h := range hits {
			f := NewFragment(h.Content, h.Source, h.Label, h.Position, AgentVector, h.Score)
			f.Timestamp = h.Timestamp
			out = append(out, f)
			if f.Score > req.Strategy.QualityThreshold {
				highQuality++
			}
		}

		if highQuality >= req.Strategy.QualityBudget {
			a.logger.Debug("early stop",
				zap.Int("variants_searched", searched),
				zap.Int("variants_total", len(req.Variants)),
				zap.Int("high_quality", highQuality))
			break
		}
	}

	if len(out) == 0 && lastErr != nil {
		return nil, fmt.Errorf("vector search: %w", lastErr)
	}
	return out, nil
}
