/*
Package archive persists the retrieval pipeline's history to a relational
database: one row per answered query, plus a ledger of every fragment
identity the system has ever ingested.

# Overview

Archive implements rag.MetricsSink. Run records are queued and written by a
single background goroutine, so the pipeline never waits on the database;
when the queue is full, records are dropped and counted rather than applying
backpressure. The fragment ledger is written synchronously at ingest time
through an upsert keyed on the stable content identity, which makes
re-ingesting unchanged content an update instead of a new row.

Supported drivers are sqlite (pure Go), mysql and postgres, selected through
config.ArchiveConfig. Pool wraps the GORM handle with connection limits, a
background health check and transaction retry for transient failures such as
deadlocks and serialization conflicts.

# Schema

  - query_runs: one append-only row per query with intent, cache flag,
    pipeline shape counters, confidence and latency.
  - known_fragments: fragment identity ledger with first_seen, last_seen and
    seen_count.

Stats aggregates both tables for the stats command.
*/
package archive
