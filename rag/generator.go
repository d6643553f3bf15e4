package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/ragflow/config"
)

// ErrGenerationUnavailable marks a failed answer generation call. Unlike
// retrieval failures this one is fatal to the request: by the time
// generation runs there is nothing left to degrade to.
var ErrGenerationUnavailable = errors.New("generation unavailable")

// Generator produces the final answer from the compressed context.
type Generator struct {
	cfg       config.LLMConfig
	completer CompletionProvider
	logger    *zap.Logger
}

// NewGenerator creates a generator over the completion service.
func NewGenerator(completer CompletionProvider, cfg config.LLMConfig, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{
		cfg:       cfg,
		completer: completer,
		logger:    logger.With(zap.String("component", "generator")),
	}
}

// Generate answers the query from the compressed context. An empty context
// still produces an answer attempt; the model is told no sources were found.
func (g *Generator) Generate(ctx context.Context, query string, intent Intent, cc CompressedContext) (string, error) {
	if g.completer == nil {
		return "", fmt.Errorf("%w: no completion provider", ErrGenerationUnavailable)
	}

	if g.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
	}

	out, err := g.completer.Complete(ctx, answerPrompt(query, intent, cc), g.cfg.MaxTokens)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrGenerationUnavailable, err)
	}
	answer := strings.TrimSpace(out)
	if answer == "" {
		return "", fmt.Errorf("%w: empty completion", ErrGenerationUnavailable)
	}

	g.logger.Debug("answer generated",
		zap.Int("context_chars", cc.Chars),
		zap.Int("answer_chars", len(answer)))
	return answer, nil
}

func answerPrompt(query string, intent Intent, cc CompressedContext) string {
	var b strings.Builder
	b.WriteString("You answer questions over a private knowledge base.\n\n")

	if cc.Text == "" {
		b.WriteString("No supporting documents were found for this question. ")
		b.WriteString("Answer from general knowledge when safe, say so explicitly, and keep the answer short.\n\n")
	} else {
		fmt.Fprintf(&b, "QUESTION INTENT: %s\n\nSOURCES:\n%s\n\n", intent, cc.Text)
		b.WriteString("Answer the question using only the sources above. ")
		b.WriteString("Cite sources inline as [Source N]. ")
		b.WriteString("When sources disagree, prefer the most recent. ")
		b.WriteString("When the sources do not contain the answer, say so explicitly.\n\n")
	}

	fmt.Fprintf(&b, "QUESTION: %s\n\nANSWER:", query)
	return b.String()
}
