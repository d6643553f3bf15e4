package rag

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/BaSui01/ragflow/config"
)

// Intent is the detected purpose of a query. The set is closed; anything the
// classifier cannot place lands on IntentGeneral.
type Intent string

const (
	IntentCode      Intent = "code"
	IntentExplain   Intent = "explain"
	IntentStatus    Intent = "status"
	IntentObjective Intent = "objective"
	IntentGeneral   Intent = "general"
)

// AnalyzedQuery is the classification and optional decomposition of one
// incoming query. Created per request and discarded with it.
type AnalyzedQuery struct {
	Raw        string   `json:"raw"`
	Normalized string   `json:"normalized"`
	Intent     Intent   `json:"intent"`
	SubQueries []string `json:"sub_queries,omitempty"`
	Decomposed bool     `json:"decomposed"`
}

// intentRule couples an intent with its trigger keywords over the normalized
// query text.
type intentRule struct {
	intent   Intent
	keywords []string
}

// intentRules is the literal classification table. Rules are evaluated in
// order and the first keyword hit wins, so classification is deterministic;
// specific vocabularies come before the broad explain markers.
var intentRules = []intentRule{
	{IntentCode, []string{
		"code", "function", "class", "method", "implement", "bug", "error",
		"stack trace", "refactor", "compile", "api", "module", "package",
	}},
	{IntentStatus, []string{
		"status", "progress", "current state", "running", "deployed",
		"health", "how far", "up to date",
	}},
	{IntentObjective, []string{
		"goal", "objective", "milestone", "roadmap", "which file",
		"where is", "what line", "parameter", "flag", "command",
	}},
	{IntentExplain, []string{
		"explain", "why", "how does", "how do", "what is", "describe",
		"understand", "walk through", "what causes",
	}},
}

// multiPartMarkers are conjunctions that join distinct questions. Together
// with the length gate they decide decomposition.
var multiPartMarkers = []string{
	" and also ", " as well as ", " and then ", " and what ", " and how ",
	" and why ", " and where ", "; ",
}

// ClassifyIntent classifies normalized query text against the rule table.
// No external calls; unmatched queries default to IntentGeneral.
func ClassifyIntent(normalized string) Intent {
	for _, rule := range intentRules {
		for _, kw := range rule.keywords {
			if strings.Contains(normalized, kw) {
				return rule.intent
			}
		}
	}
	return IntentGeneral
}

// Analyzer classifies intent and decides whether a query is split into
// sub-questions before retrieval.
type Analyzer struct {
	cfg       config.AnalyzerConfig
	completer CompletionProvider
	logger    *zap.Logger
}

// NewAnalyzer builds an Analyzer. completer may be nil, which disables
// decomposition entirely.
func NewAnalyzer(cfg config.AnalyzerConfig, completer CompletionProvider, logger *zap.Logger) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{
		cfg:       cfg,
		completer: completer,
		logger:    logger.With(zap.String("component", "analyzer")),
	}
}

// Analyze normalizes and classifies raw, then decomposes it into at most
// MaxSubQueries sub-questions when the decomposition gate opens. Malformed
// model output or a failed call falls back to the original query alone.
func (a *Analyzer) Analyze(ctx context.Context, raw string) AnalyzedQuery {
	q := AnalyzedQuery{
		Raw:        raw,
		Normalized: Normalize(raw),
	}
	q.Intent = ClassifyIntent(q.Normalized)

	if a.completer != nil && a.shouldDecompose(raw) {
		if subs := a.decompose(ctx, raw); len(subs) > 0 {
			q.SubQueries = subs
			q.Decomposed = true
		}
	}

	a.logger.Debug("query analyzed",
		zap.String("intent", string(q.Intent)),
		zap.Bool("decomposed", q.Decomposed),
		zap.Int("sub_queries", len(q.SubQueries)))

	return q
}

// shouldDecompose is the hard gate: a query below the length threshold with
// no multi-part markers never decomposes, keeping the common case free of
// model calls.
func (a *Analyzer) shouldDecompose(raw string) bool {
	if utf8.RuneCountInString(raw) > a.cfg.DecomposeMinChars {
		return true
	}
	if strings.Count(raw, "?") > 1 {
		return true
	}
	lower := strings.ToLower(raw)
	for _, marker := range multiPartMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

const decomposeMaxTokens = 256

func (a *Analyzer) decompose(ctx context.Context, raw string) []string {
	prompt := fmt.Sprintf(`Break the following question into at most %d self-contained sub-questions, one per line, ordered so earlier answers help later ones. Return only the sub-questions.

Question: %s`, a.cfg.MaxSubQueries, raw)

	ctx, cancel := context.WithTimeout(ctx, a.cfg.DecomposeTimeout)
	defer cancel()

	out, err := a.completer.Complete(ctx, prompt, decomposeMaxTokens)
	if err != nil {
		a.logger.Warn("decomposition failed, keeping original query", zap.Error(err))
		return nil
	}

	subs := parseNumberedLines(out, a.cfg.MaxSubQueries)
	if len(subs) < 2 {
		// one line back is not a decomposition
		return nil
	}
	return subs
}
