package rag

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitedCompleter wraps a CompletionProvider with a token-bucket rate
// limit and a per-call timeout, so decomposition, expansion and generation
// bursts never exceed the provider's configured rate and no call blocks
// indefinitely.
type RateLimitedCompleter struct {
	provider CompletionProvider
	limiter  *rate.Limiter
	timeout  time.Duration
}

var _ CompletionProvider = (*RateLimitedCompleter)(nil)

// NewRateLimitedCompleter builds the wrapper. rps is the sustained request
// rate, burst the bucket size, timeout the per-call upper bound.
func NewRateLimitedCompleter(provider CompletionProvider, rps float64, burst int, timeout time.Duration) *RateLimitedCompleter {
	return &RateLimitedCompleter{
		provider: provider,
		limiter:  rate.NewLimiter(rate.Limit(rps), burst),
		timeout:  timeout,
	}
}

// Complete waits for a rate token, then forwards to the wrapped provider
// under the configured timeout.
func (c *RateLimitedCompleter) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("completion rate limit: %w", err)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	return c.provider.Complete(ctx, prompt, maxTokens)
}

// numberedPrefix matches leading enumeration ("1. ", "2) ") on model output lines.
var numberedPrefix = regexp.MustCompile(`^\d+[\.\)]\s*`)

// parseNumberedLines extracts up to max non-empty lines from model output,
// stripping enumeration prefixes, bullet dashes and surrounding quotes.
// Models answer list prompts in slightly different shapes; parsing is
// deliberately lenient so a formatting quirk never costs the whole stage.
func parseNumberedLines(raw string, max int) []string {
	out := make([]string, 0, max)
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		line = numberedPrefix.ReplaceAllString(line, "")
		line = strings.TrimPrefix(line, "- ")
		line = strings.Trim(line, `"`)
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, line)
		if len(out) >= max {
			break
		}
	}
	return out
}
