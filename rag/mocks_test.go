package rag

import (
	"context"
	"sync"
	"time"
)

// Scripted collaborator doubles shared by the package tests.

type scriptedCompleter struct {
	mu      sync.Mutex
	respond func(prompt string) (string, error)
	prompts []string
}

func (s *scriptedCompleter) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	s.prompts = append(s.prompts, prompt)
	fn := s.respond
	s.mu.Unlock()

	if fn == nil {
		return "", nil
	}
	return fn(prompt)
}

func (s *scriptedCompleter) promptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.prompts)
}

func (s *scriptedCompleter) lastPrompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.prompts) == 0 {
		return ""
	}
	return s.prompts[len(s.prompts)-1]
}

type scriptedVector struct {
	mu      sync.Mutex
	hits    func(text string, limit int) []VectorHit
	err     error
	queries []string
}

func (s *scriptedVector) Search(ctx context.Context, text string, limit int) ([]VectorHit, error) {
	s.mu.Lock()
	s.queries = append(s.queries, text)
	s.mu.Unlock()

	if s.err != nil {
		return nil, s.err
	}
	if s.hits == nil {
		return nil, nil
	}
	return s.hits(text, limit), nil
}

func (s *scriptedVector) searchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queries)
}

// scriptedMemory deliberately ignores ctx when sleeping so tests prove the
// memory agent's hard timeout works against non-context-aware services.
type scriptedMemory struct {
	hits  []MemoryHit
	err   error
	delay time.Duration
}

func (s *scriptedMemory) Search(ctx context.Context, text string, limit int) ([]MemoryHit, error) {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.err != nil {
		return nil, s.err
	}
	if limit < len(s.hits) {
		return s.hits[:limit], nil
	}
	return s.hits, nil
}

type scriptedScorer struct {
	mu      sync.Mutex
	score   func(pairs []QueryDocPair) ([]float64, error)
	batches []int
}

func (s *scriptedScorer) Score(ctx context.Context, pairs []QueryDocPair) ([]float64, error) {
	s.mu.Lock()
	s.batches = append(s.batches, len(pairs))
	fn := s.score
	s.mu.Unlock()

	if fn == nil {
		return make([]float64, len(pairs)), nil
	}
	return fn(pairs)
}

func (s *scriptedScorer) scored() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.batches {
		total += n
	}
	return total
}
