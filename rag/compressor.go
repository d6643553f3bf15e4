package rag

import (
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"

	"github.com/BaSui01/ragflow/config"
)

// CompressedContext is the generation-ready context window.
type CompressedContext struct {
	// Text is the prompt-ready context block with numbered source headers.
	Text string
	// Included holds the fragments that made the cut, in rank order, with
	// the content exactly as it appears in Text.
	Included []Fragment
	// Chars is the content size counted against the budget.
	Chars int
	// TokenEstimate approximates the context size in model tokens.
	TokenEstimate int
}

// Compressor fits ranked fragments into a character budget. The first
// FullCount fragments and any fragment above FullScoreThreshold keep their
// full text; everything else is cut to SummaryChars. Fragments are taken in
// rank order and the first one that would overflow the budget ends the pass;
// nothing is ever appended partially.
type Compressor struct {
	cfg    config.CompressConfig
	logger *zap.Logger

	once    sync.Once
	enc     *tiktoken.Tiktoken
	initErr error
}

// NewCompressor creates a compressor. The tiktoken encoding loads lazily on
// first use; when it cannot load, token estimates fall back to a
// chars-per-token heuristic.
func NewCompressor(cfg config.CompressConfig, logger *zap.Logger) *Compressor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Compressor{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "compressor")),
	}
}

// Compress selects and truncates fragments to fit maxChars. Fragments keep
// their rank order; once included a fragment is never removed.
func (c *Compressor) Compress(frags []Fragment, maxChars int) CompressedContext {
	if len(frags) == 0 {
		return CompressedContext{}
	}

	var b strings.Builder
	included := make([]Fragment, 0, len(frags))
	size := 0

	for i, f := range frags {
		content := f.Content
		if i >= c.cfg.FullCount && f.RerankScore <= c.cfg.FullScoreThreshold {
			content = truncateRunes(content, c.cfg.SummaryChars)
		}
		n := utf8.RuneCountInString(content)
		if size+n > maxChars {
			break
		}

		fmt.Fprintf(&b, "[Source %d: %s] (score %.2f)\n%s\n\n", len(included)+1, f.Source, f.RerankScore, content)
		size += n
		f.Content = content
		included = append(included, f)
	}

	out := CompressedContext{
		Text:     strings.TrimRight(b.String(), "\n"),
		Included: included,
		Chars:    size,
	}
	out.TokenEstimate = c.tokenEstimate(out.Text)

	c.logger.Debug("compressed context",
		zap.Int("in_fragments", len(frags)),
		zap.Int("kept", len(included)),
		zap.Int("chars", size),
		zap.Int("token_estimate", out.TokenEstimate))
	return out
}

// tokenEstimate counts tokens with the configured tiktoken encoding,
// falling back to the usual four-chars-per-token heuristic when the
// encoding is unavailable.
func (c *Compressor) tokenEstimate(text string) int {
	if text == "" {
		return 0
	}
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding(c.cfg.TokenEncoding)
		if err != nil {
			c.initErr = fmt.Errorf("init tiktoken encoding %s: %w", c.cfg.TokenEncoding, err)
			c.logger.Debug("tokenizer unavailable, estimating by chars", zap.Error(c.initErr))
			return
		}
		c.enc = enc
	})
	if c.enc == nil {
		return len(text) / 4
	}
	return len(c.enc.Encode(text, nil, nil))
}
