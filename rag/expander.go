package rag

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/ragflow/config"
)

// Expander widens retrieval recall with paraphrase variants of a query. The
// variants are only ever fed to retrieval, never shown to the user, and
// expansion is strictly best-effort: any failure skips it and the original
// query is used alone.
type Expander struct {
	cfg       config.ExpanderConfig
	completer CompletionProvider
	logger    *zap.Logger
}

// NewExpander builds an Expander. completer may be nil, which disables
// expansion.
func NewExpander(cfg config.ExpanderConfig, completer CompletionProvider, logger *zap.Logger) *Expander {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Expander{
		cfg:       cfg,
		completer: completer,
		logger:    logger.With(zap.String("component", "expander")),
	}
}

const expandMaxTokens = 256

// Expand returns the retrieval variants for query: the original first, then
// up to MaxExpansions deduplicated paraphrases. The returned slice is never
// empty and always starts with the original query.
func (e *Expander) Expand(ctx context.Context, query string) []string {
	variants := []string{query}
	if !e.cfg.Enabled || e.completer == nil || strings.TrimSpace(query) == "" {
		return variants
	}

	prompt := fmt.Sprintf(`Rewrite the following search query %d different ways to surface related material. Keep each rewrite short and self-contained, one per line. Return only the rewrites.

Query: %s`, e.cfg.MaxExpansions, query)

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	out, err := e.completer.Complete(ctx, prompt, expandMaxTokens)
	if err != nil {
		e.logger.Warn("query expansion failed, using original query", zap.Error(err))
		return variants
	}

	seen := map[string]struct{}{Normalize(query): {}}
	for _, p := range parseNumberedLines(out, e.cfg.MaxExpansions*2) {
		key := Normalize(p)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		variants = append(variants, p)
		if len(variants) > e.cfg.MaxExpansions {
			break
		}
	}

	e.logger.Debug("query expanded", zap.Int("variants", len(variants)))
	return variants
}
