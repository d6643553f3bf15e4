package rag

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/ragflow/config"
)

// MemoryAgent queries the external keyword/memory service under a hard
// timeout. The call runs in its own goroutine behind a select, so even an
// implementation that ignores ctx cannot stall the pipeline: expiry yields
// an empty result set, never an error. Memory services return unranked
// hits, so every fragment carries the configured fixed score.
type MemoryAgent struct {
	store   MemorySearcher
	timeout time.Duration
	score   float64
	logger  *zap.Logger
}

var _ RetrievalAgent = (*MemoryAgent)(nil)

// NewMemoryAgent builds a MemoryAgent over the given service.
func NewMemoryAgent(store MemorySearcher, cfg config.AgentsConfig, logger *zap.Logger) *MemoryAgent {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryAgent{
		store:   store,
		timeout: cfg.MemoryTimeout,
		score:   cfg.MemoryScore,
		logger:  logger.With(zap.String("component", "memory_agent")),
	}
}

// Name implements RetrievalAgent.
func (a *MemoryAgent) Name() string { return AgentMemory }

// Retrieve implements RetrievalAgent.
func (a *MemoryAgent) Retrieve(ctx context.Context, req *AgentRequest) ([]Fragment, error) {
	type result struct {
		hits []MemoryHit
		err  error
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	// buffered so a late-returning search never leaks the goroutine
	ch := make(chan result, 1)
	go func() {
		hits, err := a.store.Search(ctx, req.Query.Raw, req.Strategy.MemoryLimit)
		ch <- result{hits: hits, err: err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("memory search: %w", res.err)
		}
		out := make([]Fragment, 0, len(res.hits))
		for _, h := range res.hits {
			f := NewFragment(h.Content, h.Source, h.Label, h.Position, AgentMemory, a.score)
			f.Timestamp = h.Timestamp
			out = append(out, f)
		}
		return out, nil

	case <-ctx.Done():
		a.logger.Warn("memory search timed out, returning empty",
			zap.Duration("timeout", a.timeout))
		return nil, nil
	}
}
