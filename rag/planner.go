package rag

import (
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/BaSui01/ragflow/config"
)

// RetrievalStrategy is the immutable per-query resource plan. It is the
// single source of truth for retrieval budgets; no agent decides its own.
type RetrievalStrategy struct {
	Intent Intent `json:"intent"`
	// Agents to activate, by name.
	Agents []string `json:"agents"`
	// VectorBudget is the candidate count per variant search.
	VectorBudget int `json:"vector_budget"`
	// MemoryLimit is the candidate count for the memory agent.
	MemoryLimit int `json:"memory_limit"`
	// TopK is the final candidate count after re-ranking.
	TopK int `json:"top_k"`
	// QualityThreshold marks a fragment as high quality.
	QualityThreshold float64 `json:"quality_threshold"`
	// QualityBudget is the high-quality count that stops further variant
	// searches.
	QualityBudget int `json:"quality_budget"`
	// MaxContextChars bounds the compressed context.
	MaxContextChars int `json:"max_context_chars"`
}

// HasAgent reports whether the strategy activates the named agent.
func (s RetrievalStrategy) HasAgent(name string) bool {
	for _, a := range s.Agents {
		if a == name {
			return true
		}
	}
	return false
}

// RerankBound is the ceiling on fragments entering the re-ranker's expensive
// stage: max(minCandidates, 2*TopK). It holds regardless of how many
// fragments the agents produced.
func (s RetrievalStrategy) RerankBound(minCandidates int) int {
	if bound := 2 * s.TopK; bound > minCandidates {
		return bound
	}
	return minCandidates
}

// Planner maps intent, query length and decomposition onto a
// RetrievalStrategy using the literal profile table from config.
type Planner struct {
	cfg    config.StrategyConfig
	logger *zap.Logger
}

// NewPlanner builds a Planner over the given profile table.
func NewPlanner(cfg config.StrategyConfig, logger *zap.Logger) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "planner")),
	}
}

// Plan computes the strategy for an analyzed query. Long or decomposed
// non-objective queries widen TopK and VectorBudget to the explain profile's
// values where those are larger; objective queries stay narrow since they
// target pinpoint lookups.
func (p *Planner) Plan(q AnalyzedQuery) RetrievalStrategy {
	profile := p.profileFor(q.Intent)

	s := RetrievalStrategy{
		Intent:           q.Intent,
		Agents:           profile.Agents,
		VectorBudget:     profile.VectorBudget,
		MemoryLimit:      profile.MemoryLimit,
		TopK:             profile.TopK,
		QualityThreshold: profile.QualityThreshold,
		QualityBudget:    profile.QualityBudget,
		MaxContextChars:  profile.MaxContextChars,
	}

	long := p.cfg.LongQueryChars > 0 && utf8.RuneCountInString(q.Raw) > p.cfg.LongQueryChars
	if (long || q.Decomposed) && q.Intent != IntentObjective {
		if p.cfg.Explain.TopK > s.TopK {
			s.TopK = p.cfg.Explain.TopK
		}
		if p.cfg.Explain.VectorBudget > s.VectorBudget {
			s.VectorBudget = p.cfg.Explain.VectorBudget
		}
	}

	p.logger.Debug("strategy planned",
		zap.String("intent", string(q.Intent)),
		zap.Strings("agents", s.Agents),
		zap.Int("top_k", s.TopK),
		zap.Int("vector_budget", s.VectorBudget))

	return s
}

func (p *Planner) profileFor(intent Intent) config.StrategyProfile {
	switch intent {
	case IntentCode:
		return p.cfg.Code
	case IntentStatus:
		return p.cfg.Status
	case IntentExplain:
		return p.cfg.Explain
	case IntentObjective:
		return p.cfg.Objective
	default:
		return p.cfg.General
	}
}
