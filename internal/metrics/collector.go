// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/BaSui01/ragflow/rag"
)

// =============================================================================
// Pipeline metrics collector
// =============================================================================

// Collector exports pipeline observations as Prometheus metrics. It
// implements rag.MetricsSink, so it plugs straight into rag.Deps.Metrics;
// all metrics register through promauto under the given namespace.
type Collector struct {
	// query metrics
	queriesTotal  *prometheus.CounterVec
	queryDuration *prometheus.HistogramVec
	stageDuration *prometheus.HistogramVec

	// pipeline shape metrics, labeled by intent
	fragmentsRetrieved *prometheus.HistogramVec
	fragmentsUsed      *prometheus.HistogramVec
	contextTokens      *prometheus.HistogramVec
	confidence         *prometheus.HistogramVec

	// failure and cache metrics
	generationFailures prometheus.Counter
	agentFailures      *prometheus.CounterVec
	cacheEvictions     prometheus.Counter

	logger *zap.Logger
}

var _ rag.MetricsSink = (*Collector)(nil)

// NewCollector creates a collector registered under namespace.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.queriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Total number of queries answered",
		},
		[]string{"intent", "cache"},
	)

	c.queryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "End-to-end query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"intent"},
	)

	c.stageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Per-stage pipeline duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"stage"},
	)

	c.fragmentsRetrieved = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fragments_retrieved",
			Help:      "Distinct fragments per query after merge and dedup",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		},
		[]string{"intent"},
	)

	c.fragmentsUsed = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fragments_used",
			Help:      "Fragments per query that made it into the context",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 8),
		},
		[]string{"intent"},
	)

	c.contextTokens = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "context_tokens",
			Help:      "Estimated tokens in the compressed context",
			Buckets:   prometheus.ExponentialBuckets(64, 2, 10),
		},
		[]string{"intent"},
	)

	c.confidence = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "answer_confidence",
			Help:      "Answer confidence on the 0-100 scale",
			Buckets:   prometheus.LinearBuckets(0, 10, 11),
		},
		[]string{"intent"},
	)

	c.generationFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_failures_total",
			Help:      "Total number of queries that failed at answer generation",
		},
	)

	c.agentFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_failures_total",
			Help:      "Total number of retrieval agent failures",
		},
		[]string{"agent"},
	)

	c.cacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Total number of local result cache evictions",
		},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// rag.MetricsSink implementation
// =============================================================================

// ObserveQuery records one finished query. Fragment, token and confidence
// histograms describe pipeline work, so cache hits and failed runs only
// count toward the query and failure counters.
func (c *Collector) ObserveQuery(rec rag.RunRecord) {
	cache := "miss"
	if rec.CacheHit {
		cache = "hit"
	}
	c.queriesTotal.WithLabelValues(string(rec.Intent), cache).Inc()
	c.queryDuration.WithLabelValues(string(rec.Intent)).Observe(rec.Elapsed.Seconds())

	for stage, d := range rec.Stages {
		c.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
	}

	if rec.Failed {
		c.generationFailures.Inc()
		return
	}
	if rec.CacheHit {
		return
	}

	intent := string(rec.Intent)
	c.fragmentsRetrieved.WithLabelValues(intent).Observe(float64(rec.Retrieved))
	c.fragmentsUsed.WithLabelValues(intent).Observe(float64(rec.Used))
	c.contextTokens.WithLabelValues(intent).Observe(float64(rec.TokenEstimate))
	c.confidence.WithLabelValues(intent).Observe(float64(rec.Confidence))
}

// ObserveAgentFailure counts a retrieval agent error.
func (c *Collector) ObserveAgentFailure(agent string) {
	c.agentFailures.WithLabelValues(agent).Inc()
}

// ObserveCacheEviction counts a local cache tier eviction.
func (c *Collector) ObserveCacheEviction() {
	c.cacheEvictions.Inc()
}
