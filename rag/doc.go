// Package rag implements the adaptive multi-stage retrieval orchestration
// engine: per query it classifies intent, plans a retrieval strategy from a
// literal profile table, fans out to independent retrieval agents with
// budgeted early stopping, merges and deduplicates their fragments, re-ranks
// the survivors in two stages, compresses them into a bounded context window,
// and conditions a completion provider on the result. Repeat queries are
// answered from a TTL cache keyed on the normalized query plus the strategy
// fingerprint.
//
// External collaborators (vector search, keyword/memory search, text
// completion, cross-encoder scoring) are consumed through small interfaces;
// the package ships in-process reference implementations (MemoryVectorStore,
// TermOverlapScorer) so the pipeline runs and tests without external
// services.
//
// Entry point:
//
//	engine, err := rag.NewEngine(cfg, deps, logger)
//	result, err := engine.Query(ctx, "how does the selector weight momentum?")
package rag
