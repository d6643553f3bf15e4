package rag

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/BaSui01/ragflow/config"
)

// Reranker orders merged fragments in two stages. Stage 1 is a cheap cut:
// fragments are sorted by their source-native score and only the best
// max(MinCandidates, 2*TopK) survive, which bounds stage-2 cost no matter
// how many fragments the agents produced. Stage 2 scores each survivor
// against the query through a CrossEncoderProvider in bounded batches.
type Reranker struct {
	cfg    config.RerankConfig
	scorer CrossEncoderProvider
	logger *zap.Logger
}

// NewReranker creates a re-ranker backed by the given relevance model.
// A nil scorer disables stage 2; stage-1 order stands.
func NewReranker(scorer CrossEncoderProvider, cfg config.RerankConfig, logger *zap.Logger) *Reranker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reranker{
		cfg:    cfg,
		scorer: scorer,
		logger: logger.With(zap.String("component", "reranker")),
	}
}

// Rerank orders fragments by relevance to the query and trims the list to
// the strategy's TopK. When the relevance model fails the stage-1 order is
// kept rather than failing the request. Every returned fragment carries a
// RerankScore: the model score when stage 2 ran, the source-native score
// otherwise.
func (r *Reranker) Rerank(ctx context.Context, query string, frags []Fragment, strategy RetrievalStrategy) []Fragment {
	if len(frags) == 0 {
		return frags
	}

	sort.SliceStable(frags, func(i, j int) bool { return frags[i].Score > frags[j].Score })
	if bound := strategy.RerankBound(r.cfg.MinCandidates); len(frags) > bound {
		frags = frags[:bound]
	}

	if r.scorer == nil {
		return truncateTopK(keepStageOneOrder(frags), strategy.TopK)
	}

	scores, err := r.scoreCandidates(ctx, query, frags)
	if err != nil {
		r.logger.Warn("relevance model unavailable, keeping pre-filter order", zap.Error(err))
		return truncateTopK(keepStageOneOrder(frags), strategy.TopK)
	}

	for i := range frags {
		frags[i].RerankScore = scores[i]
	}
	sort.SliceStable(frags, func(i, j int) bool { return frags[i].RerankScore > frags[j].RerankScore })

	out := truncateTopK(frags, strategy.TopK)
	r.logger.Debug("reranked",
		zap.Int("candidates", len(frags)),
		zap.Int("kept", len(out)))
	return out
}

// scoreCandidates runs the paired query/fragment scoring pass. Fragment text
// is capped at DocCharLimit runes per pair and pairs are submitted in
// BatchSize groups; the whole pass shares one timeout.
func (r *Reranker) scoreCandidates(ctx context.Context, query string, frags []Fragment) ([]float64, error) {
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	pairs := make([]QueryDocPair, len(frags))
	for i, f := range frags {
		pairs[i] = QueryDocPair{Query: query, Document: truncateRunes(f.Content, r.cfg.DocCharLimit)}
	}

	batchSize := r.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = len(pairs)
	}

	scores := make([]float64, len(pairs))
	for start := 0; start < len(pairs); start += batchSize {
		end := start + batchSize
		if end > len(pairs) {
			end = len(pairs)
		}
		batch, err := r.scorer.Score(ctx, pairs[start:end])
		if err != nil {
			return nil, fmt.Errorf("score batch at %d: %w", start, err)
		}
		if len(batch) != end-start {
			return nil, fmt.Errorf("scorer returned %d scores for %d pairs", len(batch), end-start)
		}
		copy(scores[start:], batch)
	}

	normalizeScores(scores)
	return scores, nil
}

// keepStageOneOrder stamps each fragment's RerankScore with its current
// score so downstream consumers see a uniform field regardless of whether
// stage 2 ran.
func keepStageOneOrder(frags []Fragment) []Fragment {
	for i := range frags {
		frags[i].RerankScore = frags[i].Score
	}
	return frags
}

func truncateTopK(frags []Fragment, topK int) []Fragment {
	if topK > 0 && len(frags) > topK {
		return frags[:topK]
	}
	return frags
}

// normalizeScores maps raw scorer output into [0,1]. Cross-encoder models
// emit unbounded logits, so any score outside the unit interval sends the
// whole set through a sigmoid; already-bounded scores pass unchanged.
func normalizeScores(scores []float64) {
	for _, s := range scores {
		if s < 0 || s > 1 {
			for i, raw := range scores {
				scores[i] = 1.0 / (1.0 + math.Exp(-raw))
			}
			return
		}
	}
}

// truncateRunes caps s at n runes, keeping multi-byte characters whole.
func truncateRunes(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// TermOverlapScorer is a deterministic lexical CrossEncoderProvider for
// deployments without a cross-encoder model. Each pair is scored by a blend
// of exact term overlap, term frequency and term proximity over normalized
// tokens. Scores stay in [0,1].
type TermOverlapScorer struct{}

var _ CrossEncoderProvider = (*TermOverlapScorer)(nil)

// NewTermOverlapScorer creates the lexical fallback scorer.
func NewTermOverlapScorer() *TermOverlapScorer {
	return &TermOverlapScorer{}
}

// Score implements CrossEncoderProvider.
func (s *TermOverlapScorer) Score(ctx context.Context, pairs []QueryDocPair) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	scores := make([]float64, len(pairs))
	for i, p := range pairs {
		scores[i] = lexicalScore(p.Query, p.Document)
	}
	return scores, nil
}

func lexicalScore(query, doc string) float64 {
	queryTerms := strings.Fields(Normalize(query))
	docTerms := strings.Fields(Normalize(doc))
	if len(queryTerms) == 0 || len(docTerms) == 0 {
		return 0
	}

	freq := make(map[string]int, len(docTerms))
	for _, t := range docTerms {
		freq[t]++
	}

	matched, occurrences := 0, 0
	for _, t := range queryTerms {
		if freq[t] > 0 {
			matched++
		}
		occurrences += freq[t]
	}
	overlap := float64(matched) / float64(len(queryTerms))
	density := math.Min(float64(occurrences)/float64(len(queryTerms)*3), 1.0)

	return overlap*0.4 + density*0.4 + proximityScore(queryTerms, docTerms)*0.2
}

// proximityScore rewards query terms that sit close together in the
// document: the smaller the minimum gap between matched positions, the
// higher the score. Documents with fewer than two matched positions score
// zero.
func proximityScore(queryTerms, docTerms []string) float64 {
	if len(queryTerms) <= 1 {
		return 1.0
	}
	wanted := make(map[string]struct{}, len(queryTerms))
	for _, t := range queryTerms {
		wanted[t] = struct{}{}
	}

	minSpan := len(docTerms)
	last := -1
	for i, t := range docTerms {
		if _, ok := wanted[t]; !ok {
			continue
		}
		if last >= 0 && i-last < minSpan {
			minSpan = i - last
		}
		last = i
	}
	if minSpan == len(docTerms) {
		return 0
	}
	return 1.0 / (1.0 + float64(minSpan)/10.0)
}
