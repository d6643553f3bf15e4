package rag

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// RunRecord is the per-query observability record, emitted after every
// Query call, cache hits included.
type RunRecord struct {
	RequestID     string                   `json:"request_id"`
	Query         string                   `json:"query"`
	Intent        Intent                   `json:"intent"`
	CacheHit      bool                     `json:"cache_hit"`
	Decomposed    bool                     `json:"decomposed"`
	Variants      int                      `json:"variants"`
	Retrieved     int                      `json:"retrieved"`
	Reranked      int                      `json:"reranked"`
	Used          int                      `json:"used"`
	ContextChars  int                      `json:"context_chars"`
	TokenEstimate int                      `json:"token_estimate"`
	Confidence    int                      `json:"confidence"`
	Elapsed       time.Duration            `json:"elapsed"`
	Stages        map[string]time.Duration `json:"stages,omitempty"`
	Failed        bool                     `json:"failed"`
}

// MetricsSink receives run records for export. Implementations must not
// block; the pipeline calls them inline.
type MetricsSink interface {
	ObserveQuery(rec RunRecord)
	ObserveAgentFailure(agent string)
	ObserveCacheEviction()
}

// MultiSink fans every observation out to several sinks, e.g. Prometheus
// collectors plus the run archive.
type MultiSink []MetricsSink

func (m MultiSink) ObserveQuery(rec RunRecord) {
	for _, s := range m {
		s.ObserveQuery(rec)
	}
}

func (m MultiSink) ObserveAgentFailure(agent string) {
	for _, s := range m {
		s.ObserveAgentFailure(agent)
	}
}

func (m MultiSink) ObserveCacheEviction() {
	for _, s := range m {
		s.ObserveCacheEviction()
	}
}

// MonitorStats is an aggregate snapshot of everything the monitor has seen.
type MonitorStats struct {
	Queries       uint64            `json:"queries"`
	CacheHits     uint64            `json:"cache_hits"`
	Failures      uint64            `json:"failures"`
	PerIntent     map[string]uint64 `json:"per_intent"`
	AgentFailures map[string]uint64 `json:"agent_failures"`
	AvgLatency    time.Duration     `json:"avg_latency"`
	AvgRetrieved  float64           `json:"avg_retrieved"`
	AvgReranked   float64           `json:"avg_reranked"`
}

// Monitor aggregates run records for stats reporting and mirrors each one
// to the structured log and an optional metrics sink.
type Monitor struct {
	logger *zap.Logger
	sink   MetricsSink

	mu            sync.Mutex
	queries       uint64
	cacheHits     uint64
	failures      uint64
	perIntent     map[Intent]uint64
	agentFailures map[string]uint64
	totalElapsed  time.Duration
	retrieved     uint64
	reranked      uint64
}

// NewMonitor creates a monitor. sink may be nil.
func NewMonitor(sink MetricsSink, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		logger:        logger.With(zap.String("component", "monitor")),
		sink:          sink,
		perIntent:     make(map[Intent]uint64),
		agentFailures: make(map[string]uint64),
	}
}

// Record logs and aggregates one finished query.
func (m *Monitor) Record(rec RunRecord) {
	fields := []zap.Field{
		zap.String("request_id", rec.RequestID),
		zap.String("query", rec.Query),
		zap.String("intent", string(rec.Intent)),
		zap.Bool("cache_hit", rec.CacheHit),
		zap.Bool("decomposed", rec.Decomposed),
		zap.Int("variants", rec.Variants),
		zap.Int("retrieved", rec.Retrieved),
		zap.Int("reranked", rec.Reranked),
		zap.Int("used", rec.Used),
		zap.Int("context_chars", rec.ContextChars),
		zap.Int("confidence", rec.Confidence),
		zap.Duration("elapsed", rec.Elapsed),
		zap.Bool("failed", rec.Failed),
	}
	if len(rec.Stages) > 0 {
		fields = append(fields, zap.Any("stages_ms", stageMillis(rec.Stages)))
	}
	m.logger.Info("query completed", fields...)

	m.mu.Lock()
	m.queries++
	if rec.CacheHit {
		m.cacheHits++
	}
	if rec.Failed {
		m.failures++
	}
	m.perIntent[rec.Intent]++
	m.totalElapsed += rec.Elapsed
	m.retrieved += uint64(rec.Retrieved)
	m.reranked += uint64(rec.Reranked)
	m.mu.Unlock()

	if m.sink != nil {
		m.sink.ObserveQuery(rec)
	}
}

// AgentFailure counts a retrieval agent that returned an error.
func (m *Monitor) AgentFailure(agent string) {
	m.mu.Lock()
	m.agentFailures[agent]++
	m.mu.Unlock()

	if m.sink != nil {
		m.sink.ObserveAgentFailure(agent)
	}
}

// CacheEviction forwards a local-tier cache eviction to the sink. The cache
// itself keeps the authoritative eviction count.
func (m *Monitor) CacheEviction() {
	if m.sink != nil {
		m.sink.ObserveCacheEviction()
	}
}

// stageMillis flattens per-stage durations for log output.
func stageMillis(stages map[string]time.Duration) map[string]int64 {
	ms := make(map[string]int64, len(stages))
	for name, d := range stages {
		ms[name] = d.Milliseconds()
	}
	return ms
}

// Snapshot returns a copy of the aggregates.
func (m *Monitor) Snapshot() MonitorStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := MonitorStats{
		Queries:       m.queries,
		CacheHits:     m.cacheHits,
		Failures:      m.failures,
		PerIntent:     make(map[string]uint64, len(m.perIntent)),
		AgentFailures: make(map[string]uint64, len(m.agentFailures)),
	}
	for intent, n := range m.perIntent {
		stats.PerIntent[string(intent)] = n
	}
	for agent, n := range m.agentFailures {
		stats.AgentFailures[agent] = n
	}
	if m.queries > 0 {
		stats.AvgLatency = m.totalElapsed / time.Duration(m.queries)
		stats.AvgRetrieved = float64(m.retrieved) / float64(m.queries)
		stats.AvgReranked = float64(m.reranked) / float64(m.queries)
	}
	return stats
}
