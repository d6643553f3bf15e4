/*
Package main is the ragflow executable.

# Overview

cmd/ragflow wraps the retrieval pipeline in a command line: query answers a
question against a locally indexed corpus, stats summarizes the archive
ledger, and migrate manages the archive schema. The query command is fully
offline; an extractive completion backend takes the place of a model
endpoint, so decomposition and expansion are skipped and the answer quotes
the top-ranked source.

# Commands

  - query    index a directory with the in-process vector store and run one
    query through the full pipeline, printing the answer, sources and
    confidence (or the whole result as JSON)
  - stats    aggregate the archive: run counts, cache hit rate, per-intent
    breakdown, fragment ledger size and the most recent runs
  - migrate  apply, roll back and inspect versioned archive schema
    migrations (up, down, status, version, goto, force, reset)
  - version  print the build-time Version, BuildTime and GitCommit

Configuration loads from YAML plus RAGFLOW_* environment overrides, and
logging, telemetry and the optional archive sink follow it.
*/
package main
