package rag

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/ragflow/config"
)

// ErrEngineClosed is returned for operations on a closed engine.
var ErrEngineClosed = errors.New("engine closed")

// RAGResult is the final output of one query.
type RAGResult struct {
	RequestID  string        `json:"request_id"`
	Answer     string        `json:"answer"`
	Confidence int           `json:"confidence"`
	Sources    []string      `json:"sources"`
	Fragments  []Fragment    `json:"fragments,omitempty"`
	Intent     Intent        `json:"intent"`
	Decomposed bool          `json:"decomposed"`
	Retrieved  int           `json:"retrieved"`
	Used       int           `json:"used"`
	Latency    time.Duration `json:"latency"`
	CacheHit   bool          `json:"cache_hit"`
}

// Deps carries the external collaborators the engine orchestrates. Completer
// is required; everything else is optional and its absence simply disables
// the corresponding stage or agent.
type Deps struct {
	// Vector is the similarity-search store behind the vector agent.
	Vector VectorSearcher
	// Memory is the keyword/memory service behind the memory agent.
	Memory MemorySearcher
	// Completer is the text-completion service used for decomposition,
	// expansion and answer generation.
	Completer CompletionProvider
	// Scorer is the paired relevance model for re-ranking; nil falls back
	// to the lexical TermOverlapScorer.
	Scorer CrossEncoderProvider
	// Redis backs the second result-cache tier; nil with
	// cache.enable_redis set makes the engine open its own client.
	Redis *redis.Client
	// Metrics receives run records; nil disables export.
	Metrics MetricsSink
}

// Engine runs the adaptive retrieval pipeline. One Engine serves many
// concurrent queries; the result cache is the only state shared between
// them.
type Engine struct {
	cfg        config.Config
	logger     *zap.Logger
	tracer     trace.Tracer
	analyzer   *Analyzer
	expander   *Expander
	planner    *Planner
	agents     []RetrievalAgent
	booster    *TemporalBooster
	reranker   *Reranker
	compressor *Compressor
	generator  *Generator
	cache      *ResultCache
	monitor    *Monitor

	ownRedis *redis.Client
	closed   atomic.Bool
}

// NewEngine validates cfg and wires the pipeline.
func NewEngine(cfg config.Config, deps Deps, logger *zap.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Completer == nil {
		return nil, errors.New("completion provider is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	completer := CompletionProvider(NewRateLimitedCompleter(
		deps.Completer, cfg.LLM.RateLimitRPS, cfg.LLM.RateLimitBurst, 0))

	scorer := deps.Scorer
	if scorer == nil {
		scorer = NewTermOverlapScorer()
	}

	e := &Engine{
		cfg:        cfg,
		logger:     logger.With(zap.String("component", "engine")),
		tracer:     otel.Tracer("github.com/BaSui01/ragflow/rag"),
		analyzer:   NewAnalyzer(cfg.Analyzer, completer, logger),
		expander:   NewExpander(cfg.Expander, completer, logger),
		planner:    NewPlanner(cfg.Strategy, logger),
		booster:    NewTemporalBooster(cfg.Agents.TemporalHalfLifeDays, logger),
		reranker:   NewReranker(scorer, cfg.Rerank, logger),
		compressor: NewCompressor(cfg.Compress, logger),
		generator:  NewGenerator(completer, cfg.LLM, logger),
		monitor:    NewMonitor(deps.Metrics, logger),
	}

	if deps.Vector != nil {
		e.agents = append(e.agents, NewVectorAgent(deps.Vector, logger))
	}
	if deps.Memory != nil {
		e.agents = append(e.agents, NewMemoryAgent(deps.Memory, cfg.Agents, logger))
	}
	if cfg.Agents.CodeRoot != "" {
		e.agents = append(e.agents, NewCodeAgent(cfg.Agents, logger))
	}

	if cfg.Cache.Enabled {
		rdb := deps.Redis
		if rdb == nil && cfg.Cache.EnableRedis {
			rdb = NewRedisClient(cfg.Redis)
			e.ownRedis = rdb
		}
		e.cache = NewResultCache(cfg.Cache.Capacity, rdb, logger)
		e.cache.NotifyEvictions(e.monitor.CacheEviction)
	}

	e.logger.Info("engine ready",
		zap.Int("agents", len(e.agents)),
		zap.Bool("cache", e.cache != nil),
		zap.Bool("bypass", cfg.Engine.Disabled))
	return e, nil
}

// Query answers a single question through the full pipeline. Retrieval
// failures degrade the answer rather than failing it; only generation
// failure (or a closed engine) surfaces as an error.
func (e *Engine) Query(ctx context.Context, text string) (*RAGResult, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}
	start := time.Now()
	requestID := uuid.NewString()

	ctx, span := e.tracer.Start(ctx, "rag.query",
		trace.WithAttributes(attribute.String("rag.request_id", requestID)))
	defer span.End()

	if e.cfg.Engine.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Engine.RequestTimeout)
		defer cancel()
	}

	if e.cfg.Engine.Disabled {
		return e.bypass(ctx, text, start, requestID)
	}

	// stage wraps one pipeline step in a child span and clocks it; the
	// durations end up in the run record.
	stages := make(map[string]time.Duration, 6)
	stage := func(name string) func() {
		_, s := e.tracer.Start(ctx, "rag."+name)
		begin := time.Now()
		return func() {
			s.End()
			stages[name] = time.Since(begin)
		}
	}

	normalized := Normalize(text)
	intent := ClassifyIntent(normalized)

	// The fingerprint depends on intent, agent set and context budget only;
	// decomposition merely widens per-agent budgets. The key is therefore
	// known before any model call and cache hits stay cheap.
	prelim := e.planner.Plan(AnalyzedQuery{Raw: text, Normalized: normalized, Intent: intent})
	key := CacheKey(normalized, KeyFingerprint{
		Intent:       intent,
		Agents:       prelim.Agents,
		ContextChars: prelim.MaxContextChars,
	})

	if e.cache != nil {
		if hit, err := e.cache.Get(ctx, key); err == nil {
			span.SetAttributes(
				attribute.String("rag.intent", string(intent)),
				attribute.Bool("rag.cache_hit", true))
			result := &RAGResult{
				RequestID:  requestID,
				Answer:     hit.Answer,
				Confidence: hit.Confidence,
				Sources:    hit.Sources,
				Intent:     intent,
				Latency:    time.Since(start),
				CacheHit:   true,
			}
			e.monitor.Record(RunRecord{
				RequestID:  requestID,
				Query:      text,
				Intent:     intent,
				CacheHit:   true,
				Confidence: hit.Confidence,
				Elapsed:    result.Latency,
			})
			return result, nil
		}
	}

	done := stage("analyze")
	q := e.analyzer.Analyze(ctx, text)
	strategy := e.planner.Plan(q)
	done()

	done = stage("expand")
	variants := e.expander.Expand(ctx, q.Raw)
	variants = appendSubQueries(variants, q.SubQueries)
	done()

	done = stage("retrieve")
	req := &AgentRequest{Query: q, Variants: variants, Strategy: strategy}
	outputs := runAgents(ctx, e.agents, req, e.logger, e.monitor.AgentFailure)
	merged := MergeFragments(outputs)
	merged = e.booster.Boost(merged)
	done()

	done = stage("rerank")
	reranked := e.reranker.Rerank(ctx, q.Raw, merged, strategy)
	done()

	done = stage("compress")
	cc := e.compressor.Compress(reranked, strategy.MaxContextChars)
	done()

	done = stage("generate")
	answer, err := e.generator.Generate(ctx, q.Raw, q.Intent, cc)
	done()
	if err != nil {
		span.RecordError(err)
		e.monitor.Record(RunRecord{
			RequestID:  requestID,
			Query:      text,
			Intent:     q.Intent,
			Decomposed: q.Decomposed,
			Variants:   len(variants),
			Retrieved:  len(merged),
			Reranked:   len(reranked),
			Elapsed:    time.Since(start),
			Stages:     stages,
			Failed:     true,
		})
		return nil, err
	}

	confidence := min(100, 2*len(reranked))
	span.SetAttributes(
		attribute.String("rag.intent", string(q.Intent)),
		attribute.Bool("rag.cache_hit", false),
		attribute.Int("rag.retrieved", len(merged)),
		attribute.Int("rag.confidence", confidence))

	result := &RAGResult{
		RequestID:  requestID,
		Answer:     answer,
		Confidence: confidence,
		Sources:    citedSources(cc.Included),
		Fragments:  cc.Included,
		Intent:     q.Intent,
		Decomposed: q.Decomposed,
		Retrieved:  len(merged),
		Used:       len(cc.Included),
		Latency:    time.Since(start),
	}

	if e.cache != nil {
		e.cache.Set(ctx, key, &CachedAnswer{
			Answer:     answer,
			Confidence: confidence,
			Sources:    result.Sources,
		}, TTLForIntent(e.cfg.Cache, q.Intent))
	}

	e.monitor.Record(RunRecord{
		RequestID:     requestID,
		Query:         text,
		Intent:        q.Intent,
		Decomposed:    q.Decomposed,
		Variants:      len(variants),
		Retrieved:     len(merged),
		Reranked:      len(reranked),
		Used:          len(cc.Included),
		ContextChars:  cc.Chars,
		TokenEstimate: cc.TokenEstimate,
		Confidence:    confidence,
		Elapsed:       result.Latency,
		Stages:        stages,
	})
	return result, nil
}

// bypass answers without retrieval. Confidence is a fixed nominal 10: the
// answer is an attempt, not a supported one.
func (e *Engine) bypass(ctx context.Context, text string, start time.Time, requestID string) (*RAGResult, error) {
	answer, err := e.generator.Generate(ctx, text, IntentGeneral, CompressedContext{})
	if err != nil {
		e.monitor.Record(RunRecord{RequestID: requestID, Query: text, Intent: IntentGeneral, Elapsed: time.Since(start), Failed: true})
		return nil, err
	}

	result := &RAGResult{
		RequestID:  requestID,
		Answer:     answer,
		Confidence: 10,
		Intent:     IntentGeneral,
		Latency:    time.Since(start),
	}
	e.monitor.Record(RunRecord{RequestID: requestID, Query: text, Intent: IntentGeneral, Confidence: 10, Elapsed: result.Latency})
	return result, nil
}

// QueryBatch answers several queries with bounded concurrency. The first
// fatal error cancels the remaining queries; the returned slice holds the
// results completed by then, index-aligned with texts.
func (e *Engine) QueryBatch(ctx context.Context, texts []string) ([]*RAGResult, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}

	results := make([]*RAGResult, len(texts))
	g, ctx := errgroup.WithContext(ctx)
	limit := e.cfg.Engine.BatchConcurrency
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)

	for i, text := range texts {
		i, text := i, text
		g.Go(func() error {
			res, err := e.Query(ctx, text)
			if err != nil {
				return fmt.Errorf("query %d: %w", i, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// EngineStats combines monitor aggregates with cache occupancy.
type EngineStats struct {
	MonitorStats
	CacheSize      int    `json:"cache_size"`
	CacheCapacity  int    `json:"cache_capacity"`
	CacheEvictions uint64 `json:"cache_evictions"`
}

// Stats returns a point-in-time snapshot.
func (e *Engine) Stats() EngineStats {
	stats := EngineStats{MonitorStats: e.monitor.Snapshot()}
	if e.cache != nil {
		stats.CacheSize, stats.CacheCapacity, stats.CacheEvictions = e.cache.Stats()
	}
	return stats
}

// InvalidateCache drops every cached answer, local and Redis tiers both.
func (e *Engine) InvalidateCache(ctx context.Context) {
	if e.cache != nil {
		e.cache.Invalidate(ctx)
	}
}

// Close marks the engine closed and releases the Redis client it owns.
// In-flight queries finish; new ones fail with ErrEngineClosed.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	if e.ownRedis != nil {
		if err := e.ownRedis.Close(); err != nil {
			return fmt.Errorf("close redis: %w", err)
		}
	}
	return nil
}

// appendSubQueries adds decomposed sub-queries as extra retrieval variants,
// skipping any that normalize to an existing variant.
func appendSubQueries(variants, subQueries []string) []string {
	if len(subQueries) == 0 {
		return variants
	}
	seen := make(map[string]struct{}, len(variants))
	for _, v := range variants {
		seen[Normalize(v)] = struct{}{}
	}
	for _, sq := range subQueries {
		norm := Normalize(sq)
		if _, dup := seen[norm]; dup || norm == "" {
			continue
		}
		seen[norm] = struct{}{}
		variants = append(variants, sq)
	}
	return variants
}

// citedSources lists distinct source paths in citation order.
func citedSources(frags []Fragment) []string {
	sources := make([]string, 0, len(frags))
	seen := make(map[string]struct{}, len(frags))
	for _, f := range frags {
		if _, dup := seen[f.Source]; dup {
			continue
		}
		seen[f.Source] = struct{}{}
		sources = append(sources, f.Source)
	}
	return sources
}
