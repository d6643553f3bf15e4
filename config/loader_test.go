// Loader and default configuration tests.
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- defaults ---

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, 256, cfg.Cache.Capacity)
	assert.Equal(t, 90*time.Second, cfg.Cache.CodeTTL)
	assert.Equal(t, 3*time.Minute, cfg.Cache.StatusTTL)
	assert.Equal(t, 10*time.Minute, cfg.Cache.ExplainTTL)
	assert.Equal(t, 15*time.Minute, cfg.Cache.DefaultTTL)

	assert.Equal(t, 160, cfg.Analyzer.DecomposeMinChars)
	assert.Equal(t, 3, cfg.Analyzer.MaxSubQueries)
	assert.Equal(t, 4, cfg.Expander.MaxExpansions)

	assert.Equal(t, []string{"vector", "memory", "code"}, cfg.Strategy.Code.Agents)
	assert.Equal(t, 15, cfg.Strategy.Code.TopK)
	assert.Equal(t, 0.8, cfg.Strategy.Code.QualityThreshold)
	assert.Equal(t, 30, cfg.Strategy.Code.QualityBudget)
	assert.Equal(t, 40, cfg.Strategy.Explain.TopK)
	assert.Equal(t, 120_000, cfg.Strategy.Explain.MaxContextChars)
	assert.Equal(t, 12, cfg.Strategy.Objective.TopK)

	assert.Equal(t, 2*time.Second, cfg.Agents.MemoryTimeout)
	assert.Equal(t, 0.6, cfg.Agents.MemoryScore)
	assert.Equal(t, 200, cfg.Agents.CodeMaxFiles)
	assert.Equal(t, float64(7), cfg.Agents.TemporalHalfLifeDays)

	assert.Equal(t, 50, cfg.Rerank.MinCandidates)
	assert.Equal(t, 1000, cfg.Rerank.DocCharLimit)
	assert.Equal(t, 10, cfg.Compress.FullCount)
	assert.Equal(t, 0.8, cfg.Compress.FullScoreThreshold)
	assert.Equal(t, 1500, cfg.Compress.SummaryChars)

	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.False(t, cfg.Telemetry.Enabled)
	assert.False(t, cfg.Archive.Enabled)
}

func TestDefaultConfigValidates(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

// --- loader ---

func TestLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 256, cfg.Cache.Capacity)
	assert.Equal(t, 160, cfg.Analyzer.DecomposeMinChars)
}

func TestLoader_LoadFromYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "ragflow.yaml")

	yamlContent := `
cache:
  capacity: 512
  code_ttl: 2m

strategy:
  explain:
    top_k: 25
    vector_budget: 20

agents:
  memory_timeout: 5s
  code_max_files: 100

llm:
  max_tokens: 2048
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0o644))

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)

	assert.Equal(t, 512, cfg.Cache.Capacity)
	assert.Equal(t, 2*time.Minute, cfg.Cache.CodeTTL)
	assert.Equal(t, 25, cfg.Strategy.Explain.TopK)
	assert.Equal(t, 20, cfg.Strategy.Explain.VectorBudget)
	assert.Equal(t, 5*time.Second, cfg.Agents.MemoryTimeout)
	assert.Equal(t, 100, cfg.Agents.CodeMaxFiles)
	assert.Equal(t, 2048, cfg.LLM.MaxTokens)

	// untouched sections keep their defaults
	assert.Equal(t, 3*time.Minute, cfg.Cache.StatusTTL)
	assert.Equal(t, 15, cfg.Strategy.Code.TopK)
}

func TestLoader_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/nonexistent/ragflow.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, 256, cfg.Cache.Capacity)
}

func TestLoader_MalformedYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "bad.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("cache: [not a map"), 0o644))

	_, err := NewLoader().WithConfigPath(configPath).Load()
	require.Error(t, err)
}

func TestLoader_EnvOverrides(t *testing.T) {
	t.Setenv("RAGFLOW_CACHE_CAPACITY", "64")
	t.Setenv("RAGFLOW_CACHE_CODE_TTL", "45s")
	t.Setenv("RAGFLOW_STRATEGY_CODE_TOP_K", "7")
	t.Setenv("RAGFLOW_AGENTS_CODE_EXTENSIONS", ".go, .rs")
	t.Setenv("RAGFLOW_ENGINE_DISABLED", "true")
	t.Setenv("RAGFLOW_LLM_RATE_LIMIT_RPS", "2.5")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 64, cfg.Cache.Capacity)
	assert.Equal(t, 45*time.Second, cfg.Cache.CodeTTL)
	assert.Equal(t, 7, cfg.Strategy.Code.TopK)
	assert.Equal(t, []string{".go", ".rs"}, cfg.Agents.CodeExtensions)
	assert.True(t, cfg.Engine.Disabled)
	assert.Equal(t, 2.5, cfg.LLM.RateLimitRPS)
}

func TestLoader_EnvPrefixOverride(t *testing.T) {
	t.Setenv("MYAPP_CACHE_CAPACITY", "42")

	cfg, err := NewLoader().WithEnvPrefix("MYAPP").Load()
	require.NoError(t, err)
	assert.Equal(t, 42, cfg.Cache.Capacity)
}

func TestLoader_CustomValidator(t *testing.T) {
	called := false
	_, err := NewLoader().WithValidator(func(c *Config) error {
		called = true
		return nil
	}).Load()
	require.NoError(t, err)
	assert.True(t, called)
}

// --- validation ---

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero cache capacity", func(c *Config) { c.Cache.Capacity = 0 }},
		{"zero top_k", func(c *Config) { c.Strategy.General.TopK = 0 }},
		{"threshold above one", func(c *Config) { c.Strategy.Code.QualityThreshold = 1.5 }},
		{"zero context budget", func(c *Config) { c.Strategy.Explain.MaxContextChars = 0 }},
		{"negative expansions", func(c *Config) { c.Expander.MaxExpansions = -1 }},
		{"zero half life", func(c *Config) { c.Agents.TemporalHalfLifeDays = 0 }},
		{"unknown archive driver", func(c *Config) {
			c.Archive.Enabled = true
			c.Archive.Driver = "oracle"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
