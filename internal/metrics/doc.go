/*
Package metrics exports the retrieval pipeline's run records as Prometheus
metrics.

# Overview

Collector implements rag.MetricsSink and registers its metrics through
promauto, so wiring it into rag.Deps.Metrics is all a deployment needs to
expose the pipeline on a Prometheus scrape endpoint. Metrics are isolated
per namespace.

# Metrics

  - queries_total{intent,cache}: answered queries, split by detected intent
    and cache hit/miss.
  - query_duration_seconds{intent}: end-to-end latency.
  - stage_duration_seconds{stage}: latency per pipeline stage (analyze,
    expand, retrieve, rerank, compress, generate).
  - fragments_retrieved / fragments_used: distinct fragments after merge
    versus fragments that made it into the final context.
  - context_tokens: estimated token size of the compressed context.
  - answer_confidence: confidence distribution on the 0-100 scale.
  - generation_failures_total, agent_failures_total{agent},
    cache_evictions_total: failure and cache pressure counters.
*/
package metrics
