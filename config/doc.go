// Package config provides configuration management for ragflow.
//
// All tunables of the retrieval pipeline live here: cache TTLs per intent,
// per-intent retrieval strategy profiles, agent limits, re-ranking and
// compression bounds, and the ambient logging/telemetry settings. Loading
// follows the priority chain defaults → YAML file → environment variables.
package config
