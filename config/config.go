package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the complete ragflow configuration.
type Config struct {
	// Engine top-level pipeline settings
	Engine EngineConfig `yaml:"engine" env:"ENGINE"`

	// Cache result cache settings
	Cache CacheConfig `yaml:"cache" env:"CACHE"`

	// Redis optional second cache tier
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Analyzer intent detection and decomposition settings
	Analyzer AnalyzerConfig `yaml:"analyzer" env:"ANALYZER"`

	// Expander query expansion settings
	Expander ExpanderConfig `yaml:"expander" env:"EXPANDER"`

	// Strategy per-intent retrieval profiles
	Strategy StrategyConfig `yaml:"strategy" env:"STRATEGY"`

	// Agents retrieval agent limits
	Agents AgentsConfig `yaml:"agents" env:"AGENTS"`

	// Rerank two-stage re-ranking bounds
	Rerank RerankConfig `yaml:"rerank" env:"RERANK"`

	// Compress context compression bounds
	Compress CompressConfig `yaml:"compress" env:"COMPRESS"`

	// LLM completion service client settings
	LLM LLMConfig `yaml:"llm" env:"LLM"`

	// Archive optional run/identity ledger settings
	Archive ArchiveConfig `yaml:"archive" env:"ARCHIVE"`

	// Log logging configuration
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry OpenTelemetry configuration
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// EngineConfig configures the pipeline as a whole.
type EngineConfig struct {
	// Disabled skips retrieval entirely and generates directly from the query.
	Disabled bool `yaml:"disabled" env:"DISABLED"`
	// RequestTimeout bounds a single Query call end to end.
	RequestTimeout time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT"`
	// BatchConcurrency bounds concurrent queries inside QueryBatch.
	BatchConcurrency int `yaml:"batch_concurrency" env:"BATCH_CONCURRENCY"`
}

// CacheConfig configures the result cache.
//
// TTLs are chosen per intent: volatile intents (status) expire quickly,
// stable intents (explain) live longer. DefaultTTL applies to intents
// without an explicit entry.
type CacheConfig struct {
	// Enabled toggles the cache; disabled means every query runs the full pipeline.
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// Capacity is the max number of local entries before eviction.
	Capacity int `yaml:"capacity" env:"CAPACITY"`
	// DefaultTTL applies when no per-intent TTL is set.
	DefaultTTL time.Duration `yaml:"default_ttl" env:"DEFAULT_TTL"`
	// CodeTTL short-lived: code answers go stale as files change.
	CodeTTL time.Duration `yaml:"code_ttl" env:"CODE_TTL"`
	// StatusTTL short-lived: status answers reflect a moving target.
	StatusTTL time.Duration `yaml:"status_ttl" env:"STATUS_TTL"`
	// ExplainTTL long-lived: explanations are stable.
	ExplainTTL time.Duration `yaml:"explain_ttl" env:"EXPLAIN_TTL"`
	// ObjectiveTTL for objective/goal lookups.
	ObjectiveTTL time.Duration `yaml:"objective_ttl" env:"OBJECTIVE_TTL"`
	// GeneralTTL for unclassified queries.
	GeneralTTL time.Duration `yaml:"general_ttl" env:"GENERAL_TTL"`
	// EnableRedis adds a Redis tier below the local cache.
	EnableRedis bool `yaml:"enable_redis" env:"ENABLE_REDIS"`
}

// RedisConfig configures the optional Redis cache tier.
type RedisConfig struct {
	Addr         string `yaml:"addr" env:"ADDR"`
	Password     string `yaml:"password" env:"PASSWORD"`
	DB           int    `yaml:"db" env:"DB"`
	PoolSize     int    `yaml:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int    `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	// TLS connects with the hardened client TLS settings.
	TLS bool `yaml:"tls" env:"TLS"`
}

// AnalyzerConfig configures intent detection and query decomposition.
type AnalyzerConfig struct {
	// DecomposeMinChars is the hard gate: queries at or below this length are
	// never decomposed.
	DecomposeMinChars int `yaml:"decompose_min_chars" env:"DECOMPOSE_MIN_CHARS"`
	// MaxSubQueries caps decomposition output.
	MaxSubQueries int `yaml:"max_sub_queries" env:"MAX_SUB_QUERIES"`
	// DecomposeTimeout bounds the decomposition model call.
	DecomposeTimeout time.Duration `yaml:"decompose_timeout" env:"DECOMPOSE_TIMEOUT"`
}

// ExpanderConfig configures query expansion.
type ExpanderConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// MaxExpansions caps paraphrase count per query.
	MaxExpansions int `yaml:"max_expansions" env:"MAX_EXPANSIONS"`
	// Timeout bounds the expansion model call.
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// StrategyProfile is one row of the per-intent planning table: which agents
// run and under what budgets. The planner never lets an agent pick its own
// budget; this table is the single source of truth.
type StrategyProfile struct {
	// Agents to activate, by name (vector, memory, code).
	Agents []string `yaml:"agents" env:"AGENTS"`
	// VectorBudget is the per-variant candidate count for the vector agent.
	VectorBudget int `yaml:"vector_budget" env:"VECTOR_BUDGET"`
	// MemoryLimit is the candidate count for the memory agent.
	MemoryLimit int `yaml:"memory_limit" env:"MEMORY_LIMIT"`
	// TopK is the final candidate count after re-ranking.
	TopK int `yaml:"top_k" env:"TOP_K"`
	// QualityThreshold marks a fragment as high quality.
	QualityThreshold float64 `yaml:"quality_threshold" env:"QUALITY_THRESHOLD"`
	// QualityBudget is the high-quality count that triggers early stop.
	QualityBudget int `yaml:"quality_budget" env:"QUALITY_BUDGET"`
	// MaxContextChars bounds the compressed context.
	MaxContextChars int `yaml:"max_context_chars" env:"MAX_CONTEXT_CHARS"`
}

// StrategyConfig holds one profile per intent.
type StrategyConfig struct {
	Code      StrategyProfile `yaml:"code" env:"CODE"`
	Status    StrategyProfile `yaml:"status" env:"STATUS"`
	Explain   StrategyProfile `yaml:"explain" env:"EXPLAIN"`
	Objective StrategyProfile `yaml:"objective" env:"OBJECTIVE"`
	General   StrategyProfile `yaml:"general" env:"GENERAL"`

	// LongQueryChars marks queries that warrant wider retrieval: above this
	// length (or when decomposed) a non-objective query is widened to the
	// explain profile's TopK and VectorBudget where those are larger.
	// Non-positive disables the length trigger; decomposed queries still
	// widen.
	LongQueryChars int `yaml:"long_query_chars" env:"LONG_QUERY_CHARS"`
}

// AgentsConfig configures the retrieval agents.
type AgentsConfig struct {
	// MemoryTimeout is the hard timeout for the memory agent; expiry yields
	// an empty result, never an error.
	MemoryTimeout time.Duration `yaml:"memory_timeout" env:"MEMORY_TIMEOUT"`
	// MemoryScore is the source-native score assigned to memory hits, which
	// arrive unranked.
	MemoryScore float64 `yaml:"memory_score" env:"MEMORY_SCORE"`
	// CodeRoot is the directory the code agent scans.
	CodeRoot string `yaml:"code_root" env:"CODE_ROOT"`
	// CodeMaxFiles hard-caps the number of files scanned per query.
	CodeMaxFiles int `yaml:"code_max_files" env:"CODE_MAX_FILES"`
	// CodeExtensions filters scanned files.
	CodeExtensions []string `yaml:"code_extensions" env:"CODE_EXTENSIONS"`
	// CodeLimit caps fragments returned by the code agent.
	CodeLimit int `yaml:"code_limit" env:"CODE_LIMIT"`
	// TemporalHalfLifeDays controls recency decay: a fragment this many days
	// old keeps half its score.
	TemporalHalfLifeDays float64 `yaml:"temporal_half_life_days" env:"TEMPORAL_HALF_LIFE_DAYS"`
}

// RerankConfig configures the two-stage re-ranker.
type RerankConfig struct {
	// MinCandidates is the stage-1 floor; stage 2 scores at most
	// max(MinCandidates, 2*TopK) fragments.
	MinCandidates int `yaml:"min_candidates" env:"MIN_CANDIDATES"`
	// DocCharLimit truncates fragment text before model scoring.
	DocCharLimit int `yaml:"doc_char_limit" env:"DOC_CHAR_LIMIT"`
	// BatchSize is the pair count per model call.
	BatchSize int `yaml:"batch_size" env:"BATCH_SIZE"`
	// Timeout bounds the whole stage-2 scoring pass.
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// CompressConfig configures context compression.
type CompressConfig struct {
	// FullCount fragments are always included at full length.
	FullCount int `yaml:"full_count" env:"FULL_COUNT"`
	// FullScoreThreshold also grants full length to high-confidence fragments.
	FullScoreThreshold float64 `yaml:"full_score_threshold" env:"FULL_SCORE_THRESHOLD"`
	// SummaryChars truncates all other fragments.
	SummaryChars int `yaml:"summary_chars" env:"SUMMARY_CHARS"`
	// TokenEncoding names the tiktoken encoding used for token estimates.
	TokenEncoding string `yaml:"token_encoding" env:"TOKEN_ENCODING"`
}

// LLMConfig configures the completion service client.
type LLMConfig struct {
	// Timeout bounds the answer generation call.
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// MaxTokens for answer generation.
	MaxTokens int `yaml:"max_tokens" env:"MAX_TOKENS"`
	// RateLimitRPS caps completion calls per second across the pipeline.
	RateLimitRPS float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// RateLimitBurst is the limiter burst size.
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
}

// ArchiveConfig configures the optional run/identity ledger.
type ArchiveConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// Driver selects the database dialect: sqlite, mysql or postgres.
	Driver string `yaml:"driver" env:"DRIVER"`
	// DSN is the driver-specific connection string.
	DSN string `yaml:"dsn" env:"DSN"`
	// AutoMigrate creates the schema on open. Deployments that manage the
	// schema with the migrate command should disable it.
	AutoMigrate bool `yaml:"auto_migrate" env:"AUTO_MIGRATE"`
	// MaxOpenConns / MaxIdleConns / ConnMaxLifetime tune the pool.
	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
	// HealthCheckInterval for the pool's background ping; zero disables it.
	HealthCheckInterval time.Duration `yaml:"health_check_interval" env:"HEALTH_CHECK_INTERVAL"`
}

// LogConfig configures zap.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// Format: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// OutputPaths for the logger core.
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// EnableCaller annotates records with the call site.
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
}

// TelemetryConfig configures the OpenTelemetry SDK.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// Validate checks cross-field consistency of the configuration.
func (c *Config) Validate() error {
	var errs []string

	if c.Cache.Capacity <= 0 {
		errs = append(errs, "cache capacity must be positive")
	}
	if c.Analyzer.MaxSubQueries < 1 {
		errs = append(errs, "analyzer max_sub_queries must be at least 1")
	}
	if c.Expander.MaxExpansions < 0 {
		errs = append(errs, "expander max_expansions cannot be negative")
	}
	if c.Rerank.MinCandidates <= 0 {
		errs = append(errs, "rerank min_candidates must be positive")
	}
	if c.Rerank.DocCharLimit <= 0 {
		errs = append(errs, "rerank doc_char_limit must be positive")
	}
	if c.Compress.SummaryChars <= 0 {
		errs = append(errs, "compress summary_chars must be positive")
	}
	if c.Agents.TemporalHalfLifeDays <= 0 {
		errs = append(errs, "agents temporal_half_life_days must be positive")
	}
	if c.LLM.RateLimitRPS <= 0 {
		errs = append(errs, "llm rate_limit_rps must be positive")
	}
	for intent, p := range map[string]StrategyProfile{
		"code":      c.Strategy.Code,
		"status":    c.Strategy.Status,
		"explain":   c.Strategy.Explain,
		"objective": c.Strategy.Objective,
		"general":   c.Strategy.General,
	} {
		if p.TopK <= 0 {
			errs = append(errs, fmt.Sprintf("strategy %s top_k must be positive", intent))
		}
		if p.QualityThreshold < 0 || p.QualityThreshold > 1 {
			errs = append(errs, fmt.Sprintf("strategy %s quality_threshold must be in [0,1]", intent))
		}
		if p.MaxContextChars <= 0 {
			errs = append(errs, fmt.Sprintf("strategy %s max_context_chars must be positive", intent))
		}
	}
	if c.Archive.Enabled {
		switch strings.ToLower(c.Archive.Driver) {
		case "sqlite", "mysql", "postgres":
		default:
			errs = append(errs, fmt.Sprintf("archive driver %q not supported", c.Archive.Driver))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(errs, "; "))
	}
	return nil
}
