// Package ragflow provides a top-level convenience entry point for building
// the retrieval engine with minimal boilerplate.
//
// Usage:
//
//	import "github.com/BaSui01/ragflow"
//
//	engine, err := ragflow.New(ragflow.WithCompleter(myLLM))
//	engine, err := ragflow.New(
//		ragflow.WithCompleter(myLLM),
//		ragflow.WithVectorStore(myStore),
//		ragflow.WithConfig(cfg),
//	)
//
// This is a thin wrapper around [rag.NewEngine]; both produce identical
// results. Use this package when the defaults are enough and you prefer the
// shorter import path.
package ragflow

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/ragflow/config"
	"github.com/BaSui01/ragflow/rag"
)

// Version is the library version, overridden at build time in the ragflow
// binary.
const Version = "0.3.0"

// Option configures the engine created by [New].
type Option func(*options)

type options struct {
	cfg       *config.Config
	vector    rag.VectorSearcher
	memory    rag.MemorySearcher
	completer rag.CompletionProvider
	scorer    rag.CrossEncoderProvider
	redis     *redis.Client
	metrics   rag.MetricsSink
	logger    *zap.Logger
}

// WithConfig replaces the default configuration.
func WithConfig(cfg *config.Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithCompleter sets the completion service. Required.
func WithCompleter(c rag.CompletionProvider) Option {
	return func(o *options) { o.completer = c }
}

// WithVectorStore sets the similarity-search store behind the vector agent.
func WithVectorStore(v rag.VectorSearcher) Option {
	return func(o *options) { o.vector = v }
}

// WithMemory sets the keyword/memory service behind the memory agent.
func WithMemory(m rag.MemorySearcher) Option {
	return func(o *options) { o.memory = m }
}

// WithCrossEncoder sets the paired relevance model for re-ranking. Defaults
// to the lexical scorer.
func WithCrossEncoder(s rag.CrossEncoderProvider) Option {
	return func(o *options) { o.scorer = s }
}

// WithRedis sets the client backing the second result-cache tier.
func WithRedis(rdb *redis.Client) Option {
	return func(o *options) { o.redis = rdb }
}

// WithMetrics sets the sink that receives run records.
func WithMetrics(sink rag.MetricsSink) Option {
	return func(o *options) { o.metrics = sink }
}

// WithLogger sets a custom zap logger. Defaults to zap.NewNop().
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// New creates a [rag.Engine] with minimal configuration. At minimum a
// completion service must be given via [WithCompleter]; everything else
// falls back to defaults, with absent collaborators disabling their stage.
func New(opts ...Option) (*rag.Engine, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	if o.completer == nil {
		return nil, fmt.Errorf("completion provider is required: use WithCompleter")
	}

	cfg := o.cfg
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	return rag.NewEngine(*cfg, rag.Deps{
		Vector:    o.vector,
		Memory:    o.memory,
		Completer: o.completer,
		Scorer:    o.scorer,
		Redis:     o.redis,
		Metrics:   o.metrics,
	}, o.logger)
}
