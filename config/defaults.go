// =============================================================================
// ragflow default configuration
// =============================================================================
// Sensible defaults for every knob. The per-intent strategy table below is
// the documented baseline; all cells can be overridden via YAML or env.
// =============================================================================
package config

import "time"

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Engine:    DefaultEngineConfig(),
		Cache:     DefaultCacheConfig(),
		Redis:     DefaultRedisConfig(),
		Analyzer:  DefaultAnalyzerConfig(),
		Expander:  DefaultExpanderConfig(),
		Strategy:  DefaultStrategyConfig(),
		Agents:    DefaultAgentsConfig(),
		Rerank:    DefaultRerankConfig(),
		Compress:  DefaultCompressConfig(),
		LLM:       DefaultLLMConfig(),
		Archive:   DefaultArchiveConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultEngineConfig returns default engine settings.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Disabled:         false,
		RequestTimeout:   2 * time.Minute,
		BatchConcurrency: 4,
	}
}

// DefaultCacheConfig returns default result cache settings.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled:      true,
		Capacity:     256,
		DefaultTTL:   15 * time.Minute,
		CodeTTL:      90 * time.Second,
		StatusTTL:    3 * time.Minute,
		ExplainTTL:   10 * time.Minute,
		ObjectiveTTL: 15 * time.Minute,
		GeneralTTL:   10 * time.Minute,
		EnableRedis:  false,
	}
}

// DefaultRedisConfig returns default Redis settings.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultAnalyzerConfig returns default analyzer settings.
func DefaultAnalyzerConfig() AnalyzerConfig {
	return AnalyzerConfig{
		DecomposeMinChars: 160,
		MaxSubQueries:     3,
		DecomposeTimeout:  10 * time.Second,
	}
}

// DefaultExpanderConfig returns default expander settings.
func DefaultExpanderConfig() ExpanderConfig {
	return ExpanderConfig{
		Enabled:       true,
		MaxExpansions: 4,
		Timeout:       10 * time.Second,
	}
}

// DefaultStrategyConfig returns the default per-intent planning table.
//
//	intent    | agents              | vec | mem | top_k | ctx chars
//	code      | vector,memory,code  |  15 |  10 |    15 |    90_000
//	status    | vector,memory       |   8 |  15 |    15 |    60_000
//	explain   | vector,memory       |  15 |  30 |    40 |   120_000
//	objective | vector,memory       |  10 |  15 |    12 |    60_000
//	general   | vector,memory       |  10 |  20 |    20 |    90_000
func DefaultStrategyConfig() StrategyConfig {
	return StrategyConfig{
		Code: StrategyProfile{
			Agents:           []string{"vector", "memory", "code"},
			VectorBudget:     15,
			MemoryLimit:      10,
			TopK:             15,
			QualityThreshold: 0.8,
			QualityBudget:    30,
			MaxContextChars:  90_000,
		},
		Status: StrategyProfile{
			Agents:           []string{"vector", "memory"},
			VectorBudget:     8,
			MemoryLimit:      15,
			TopK:             15,
			QualityThreshold: 0.8,
			QualityBudget:    30,
			MaxContextChars:  60_000,
		},
		Explain: StrategyProfile{
			Agents:           []string{"vector", "memory"},
			VectorBudget:     15,
			MemoryLimit:      30,
			TopK:             40,
			QualityThreshold: 0.8,
			QualityBudget:    30,
			MaxContextChars:  120_000,
		},
		Objective: StrategyProfile{
			Agents:           []string{"vector", "memory"},
			VectorBudget:     10,
			MemoryLimit:      15,
			TopK:             12,
			QualityThreshold: 0.8,
			QualityBudget:    30,
			MaxContextChars:  60_000,
		},
		General: StrategyProfile{
			Agents:           []string{"vector", "memory"},
			VectorBudget:     10,
			MemoryLimit:      20,
			TopK:             20,
			QualityThreshold: 0.8,
			QualityBudget:    30,
			MaxContextChars:  90_000,
		},
		LongQueryChars: 120,
	}
}

// DefaultAgentsConfig returns default agent limits.
func DefaultAgentsConfig() AgentsConfig {
	return AgentsConfig{
		MemoryTimeout:        2 * time.Second,
		MemoryScore:          0.6,
		CodeRoot:             ".",
		CodeMaxFiles:         200,
		CodeExtensions:       []string{".go", ".md", ".py", ".ts", ".txt"},
		CodeLimit:            15,
		TemporalHalfLifeDays: 7,
	}
}

// DefaultRerankConfig returns default re-ranking bounds.
func DefaultRerankConfig() RerankConfig {
	return RerankConfig{
		MinCandidates: 50,
		DocCharLimit:  1000,
		BatchSize:     32,
		Timeout:       20 * time.Second,
	}
}

// DefaultCompressConfig returns default compression bounds.
func DefaultCompressConfig() CompressConfig {
	return CompressConfig{
		FullCount:          10,
		FullScoreThreshold: 0.8,
		SummaryChars:       1500,
		TokenEncoding:      "cl100k_base",
	}
}

// DefaultLLMConfig returns default completion client settings.
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Timeout:        60 * time.Second,
		MaxTokens:      1024,
		RateLimitRPS:   5,
		RateLimitBurst: 10,
	}
}

// DefaultArchiveConfig returns default archive settings (disabled).
func DefaultArchiveConfig() ArchiveConfig {
	return ArchiveConfig{
		Enabled:             false,
		Driver:              "sqlite",
		DSN:                 "file:ragflow.db?mode=rwc",
		AutoMigrate:         true,
		MaxOpenConns:        25,
		MaxIdleConns:        5,
		ConnMaxLifetime:     5 * time.Minute,
		HealthCheckInterval: 30 * time.Second,
	}
}

// DefaultLogConfig returns default logging settings.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:        "info",
		Format:       "json",
		OutputPaths:  []string{"stdout"},
		EnableCaller: false,
	}
}

// DefaultTelemetryConfig returns default telemetry settings (disabled).
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "ragflow",
		SampleRate:   1.0,
	}
}
