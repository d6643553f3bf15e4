package rag

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// AgentRequest is the shared, read-only input to one retrieval fan-out.
type AgentRequest struct {
	// Query is the analyzed incoming query.
	Query AnalyzedQuery
	// Variants are the retrieval texts: the original query first, then
	// paraphrases and sub-queries.
	Variants []string
	// Strategy is the plan governing budgets and early stopping.
	Strategy RetrievalStrategy
}

// RetrievalAgent is one independent retrieval strategy over one source type.
// Implementations must be safe to run concurrently with other agents and
// must not share mutable state with them; each returns its own fragment
// slice for the merger to combine.
type RetrievalAgent interface {
	// Name identifies the agent and matches strategy agent-set entries.
	Name() string
	// Retrieve returns scored candidate fragments for the request.
	Retrieve(ctx context.Context, req *AgentRequest) ([]Fragment, error)
}

// runAgents fans out to every agent the strategy activates and collects all
// outputs. Each goroutine writes only its own slot; an agent error is logged
// and reported but never cancels siblings or the request.
func runAgents(ctx context.Context, agents []RetrievalAgent, req *AgentRequest, logger *zap.Logger, onFailure func(agent string)) [][]Fragment {
	active := make([]RetrievalAgent, 0, len(agents))
	for _, a := range agents {
		if req.Strategy.HasAgent(a.Name()) {
			active = append(active, a)
		}
	}

	outputs := make([][]Fragment, len(active))

	g, gctx := errgroup.WithContext(ctx)
	for i, agent := range active {
		i, agent := i, agent
		g.Go(func() error {
			frags, err := agent.Retrieve(gctx, req)
			if err != nil {
				logger.Warn("retrieval agent failed",
					zap.String("agent", agent.Name()),
					zap.Error(err))
				if onFailure != nil {
					onFailure(agent.Name())
				}
				return nil // collect every agent's outcome, never cancel siblings
			}
			outputs[i] = frags
			return nil
		})
	}
	_ = g.Wait()

	return outputs
}
