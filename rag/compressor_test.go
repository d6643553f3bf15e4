package rag

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/ragflow/config"
)

func compressConfig() config.CompressConfig {
	cfg := config.DefaultCompressConfig()
	cfg.TokenEncoding = "none" // tests stay offline
	return cfg
}

func rankedFragment(content, source string, rerankScore float64) Fragment {
	f := NewFragment(content, source, "vector", 0, AgentVector, rerankScore)
	f.RerankScore = rerankScore
	return f
}

func TestCompressor_TopRanksKeepFullLength(t *testing.T) {
	cfg := compressConfig()
	cfg.FullCount = 2
	cfg.SummaryChars = 10
	c := NewCompressor(cfg, nil)

	frags := []Fragment{
		rankedFragment(strings.Repeat("a", 40), "docs/0.md", 0.5),
		rankedFragment(strings.Repeat("b", 40), "docs/1.md", 0.5),
		rankedFragment(strings.Repeat("d", 40), "docs/2.md", 0.5),
		rankedFragment(strings.Repeat("e", 40), "docs/3.md", 0.5),
	}
	out := c.Compress(frags, 1000)

	require.Len(t, out.Included, 4)
	assert.Equal(t, 40, utf8.RuneCountInString(out.Included[0].Content))
	assert.Equal(t, 40, utf8.RuneCountInString(out.Included[1].Content))
	assert.Equal(t, 10, utf8.RuneCountInString(out.Included[2].Content))
	assert.Equal(t, 10, utf8.RuneCountInString(out.Included[3].Content))
	assert.Equal(t, 100, out.Chars)
}

func TestCompressor_HighScoreKeepsFullLength(t *testing.T) {
	cfg := compressConfig()
	cfg.FullCount = 1
	cfg.SummaryChars = 10
	c := NewCompressor(cfg, nil)

	frags := []Fragment{
		rankedFragment(strings.Repeat("a", 40), "docs/0.md", 0.5),
		rankedFragment(strings.Repeat("b", 40), "docs/1.md", 0.95),
		rankedFragment(strings.Repeat("d", 40), "docs/2.md", 0.8), // exactly at threshold: summarized
	}
	out := c.Compress(frags, 1000)

	require.Len(t, out.Included, 3)
	assert.Equal(t, 40, utf8.RuneCountInString(out.Included[1].Content))
	assert.Equal(t, 10, utf8.RuneCountInString(out.Included[2].Content))
}

func TestCompressor_DropsWholeFragmentOnOverflow(t *testing.T) {
	cfg := compressConfig()
	cfg.FullCount = 10
	c := NewCompressor(cfg, nil)

	frags := []Fragment{
		rankedFragment(strings.Repeat("a", 40), "docs/0.md", 0.5),
		rankedFragment(strings.Repeat("b", 40), "docs/1.md", 0.5),
		rankedFragment(strings.Repeat("d", 40), "docs/2.md", 0.5),
	}

	out := c.Compress(frags, 100)
	require.Len(t, out.Included, 2)
	assert.Equal(t, 80, out.Chars)
	assert.NotContains(t, out.Text, "ddd")

	// An exactly-full budget still admits the fragment.
	out = c.Compress(frags, 120)
	assert.Len(t, out.Included, 3)
}

func TestCompressor_OversizedLeadFragmentDropsEverything(t *testing.T) {
	c := NewCompressor(compressConfig(), nil)

	out := c.Compress([]Fragment{rankedFragment(strings.Repeat("a", 200), "docs/0.md", 0.9)}, 100)
	assert.Empty(t, out.Included)
	assert.Empty(t, out.Text)
	assert.Zero(t, out.Chars)
	assert.Zero(t, out.TokenEstimate)
}

func TestCompressor_NumbersSourcesInRankOrder(t *testing.T) {
	c := NewCompressor(compressConfig(), nil)

	out := c.Compress([]Fragment{
		rankedFragment("momentum weighting", "docs/a.md", 0.9),
		rankedFragment("release schedule", "docs/b.md", 0.4),
	}, 1000)

	first := strings.Index(out.Text, "[Source 1: docs/a.md]")
	second := strings.Index(out.Text, "[Source 2: docs/b.md]")
	require.GreaterOrEqual(t, first, 0)
	require.Greater(t, second, first)
}

func TestCompressor_TokenEstimateFallsBackToChars(t *testing.T) {
	c := NewCompressor(compressConfig(), nil)

	out := c.Compress([]Fragment{rankedFragment(strings.Repeat("a", 400), "docs/0.md", 0.9)}, 1000)
	assert.Equal(t, len(out.Text)/4, out.TokenEstimate)
	assert.Positive(t, out.TokenEstimate)
}

func TestCompressor_EmptyInput(t *testing.T) {
	c := NewCompressor(compressConfig(), nil)
	out := c.Compress(nil, 1000)
	assert.Empty(t, out.Included)
	assert.Empty(t, out.Text)
}

func TestProperty_CompressorBudgetLaws(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	c := NewCompressor(compressConfig(), nil)

	properties.Property("budget holds, included is a rank-order prefix, content never grows", prop.ForAll(
		func(lengths []int, budget int) bool {
			frags := make([]Fragment, len(lengths))
			for i, n := range lengths {
				frags[i] = rankedFragment(strings.Repeat("x", n), fmt.Sprintf("docs/%d.md", i), 0.5)
			}

			out := c.Compress(frags, budget)

			if out.Chars > budget {
				return false
			}
			if len(out.Included) > len(frags) {
				return false
			}
			for i, f := range out.Included {
				if f.ID != frags[i].ID {
					return false
				}
				if utf8.RuneCountInString(f.Content) > utf8.RuneCountInString(frags[i].Content) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(1, 50)),
		gen.IntRange(0, 200),
	))

	properties.TestingRun(t)
}
