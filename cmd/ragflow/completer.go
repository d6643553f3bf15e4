package main

import (
	"context"
	"strings"
	"unicode/utf8"
)

// =============================================================================
// Offline completion backend
// =============================================================================

// extractiveCompleter stands in for a completion service so the query
// command runs without a model endpoint. Generation prompts are answered by
// quoting the top-ranked source block; the optional refinement prompts
// (decomposition, query expansion) get an empty completion, which the
// pipeline treats as "keep the original query".
type extractiveCompleter struct{}

const extractCharLimit = 600

func (extractiveCompleter) Complete(_ context.Context, prompt string, maxTokens int) (string, error) {
	if !strings.HasSuffix(prompt, "ANSWER:") {
		return "", nil
	}

	content, source, ok := topSourceBlock(prompt)
	if !ok {
		return "No supporting documents were found in the indexed corpus for this question.", nil
	}

	limit := extractCharLimit
	if maxTokens > 0 && maxTokens*4 < limit {
		limit = maxTokens * 4
	}
	answer := clipAtSentence(content, limit)
	if source != "" {
		answer += " [Source 1]"
	}
	return answer, nil
}

// topSourceBlock pulls the content and path of the highest-ranked source out
// of a generation prompt. Blocks arrive as
//
//	[Source 1: path] (score 0.83)
//	content...
//
// separated by blank lines and followed by the answering instructions.
func topSourceBlock(prompt string) (content, source string, ok bool) {
	const marker = "\nSOURCES:\n"
	i := strings.Index(prompt, marker)
	if i < 0 {
		return "", "", false
	}

	block := prompt[i+len(marker):]
	if j := strings.Index(block, "\n\nAnswer the question"); j >= 0 {
		block = block[:j]
	}

	nl := strings.Index(block, "\n")
	if nl < 0 || !strings.HasPrefix(block, "[Source 1: ") {
		return "", "", false
	}
	header := block[:nl]
	if k := strings.Index(header, "] (score"); k > len("[Source 1: ") {
		source = header[len("[Source 1: "):k]
	}

	body := block[nl+1:]
	if j := strings.Index(body, "\n[Source "); j >= 0 {
		body = body[:j]
	}
	content = strings.TrimSpace(body)
	return content, source, content != ""
}

// clipAtSentence cuts text to at most limit runes, preferring a sentence or
// line boundary in the second half of the window.
func clipAtSentence(text string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text
	}

	runes := []rune(text)
	for i := limit; i > limit/2; i-- {
		switch runes[i-1] {
		case '.', '!', '?', '\n':
			return strings.TrimSpace(string(runes[:i]))
		}
	}
	return strings.TrimSpace(string(runes[:limit])) + "..."
}
