package rag

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestMergeFragments_DedupKeepsHigherScore(t *testing.T) {
	shared := NewFragment("same content", "docs/a.md", "docs", 0, AgentVector, 0.5)
	better := NewFragment("same content", "docs/a.md", "docs", 0, AgentMemory, 0.9)
	other := NewFragment("other", "docs/b.md", "docs", 0, AgentVector, 0.7)

	merged := MergeFragments([][]Fragment{{shared, other}, {better}})

	require.Len(t, merged, 2)
	assert.Equal(t, better.ID, merged[0].ID)
	assert.Equal(t, 0.9, merged[0].Score)
	assert.Equal(t, AgentMemory, merged[0].Agent, "higher score wins regardless of agent")
}

func TestMergeFragments_TieBrokenByAgentPriority(t *testing.T) {
	fromCode := NewFragment("dup", "src/x.go", "code", 3, AgentCode, 0.6)
	fromMemory := NewFragment("dup", "src/x.go", "code", 3, AgentMemory, 0.6)
	fromVector := NewFragment("dup", "src/x.go", "code", 3, AgentVector, 0.6)

	merged := MergeFragments([][]Fragment{{fromCode}, {fromMemory}, {fromVector}})

	require.Len(t, merged, 1)
	assert.Equal(t, AgentVector, merged[0].Agent)
}

func TestMergeFragments_DescendingScoreOrder(t *testing.T) {
	a := NewFragment("a", "s", "", 0, AgentVector, 0.3)
	b := NewFragment("b", "s", "", 1, AgentVector, 0.9)
	c := NewFragment("c", "s", "", 2, AgentMemory, 0.6)

	merged := MergeFragments([][]Fragment{{a, b}, {c}})

	require.Len(t, merged, 3)
	assert.Equal(t, []string{"b", "c", "a"}, []string{merged[0].Content, merged[1].Content, merged[2].Content})
}

func TestMergeFragments_Empty(t *testing.T) {
	assert.Empty(t, MergeFragments(nil))
	assert.Empty(t, MergeFragments([][]Fragment{{}, nil}))
}

func TestMergeFragments_Deterministic(t *testing.T) {
	x := NewFragment("x", "s", "", 0, AgentVector, 0.8)
	y := NewFragment("y", "s", "", 1, AgentMemory, 0.6)
	z := NewFragment("z", "s", "", 2, AgentCode, 0.6)

	first := MergeFragments([][]Fragment{{x}, {y}, {z}})
	second := MergeFragments([][]Fragment{{x}, {y}, {z}})

	assert.Equal(t, first, second)
}

func TestMergeFragments_DedupInvariant(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		// a pool of identities smaller than the fragment count forces duplicates
		poolSize := rapid.IntRange(1, 10).Draw(t, "pool")
		count := rapid.IntRange(0, 60).Draw(t, "count")
		agentNames := []string{AgentVector, AgentMemory, AgentCode}

		outputs := make([][]Fragment, len(agentNames))
		best := make(map[string]float64)
		for i := 0; i < count; i++ {
			id := rapid.IntRange(0, poolSize-1).Draw(t, fmt.Sprintf("id%d", i))
			agent := agentNames[rapid.IntRange(0, 2).Draw(t, fmt.Sprintf("agent%d", i))]
			score := float64(rapid.IntRange(0, 100).Draw(t, fmt.Sprintf("score%d", i))) / 100

			f := NewFragment(fmt.Sprintf("content-%d", id), "pool", "", id, agent, score)
			slot := rapid.IntRange(0, 2).Draw(t, fmt.Sprintf("slot%d", i))
			outputs[slot] = append(outputs[slot], f)

			if cur, ok := best[f.ID]; !ok || score > cur {
				best[f.ID] = score
			}
		}

		merged := MergeFragments(outputs)

		seen := make(map[string]bool)
		for i, f := range merged {
			if seen[f.ID] {
				t.Fatalf("duplicate identity %s in merger output", f.ID)
			}
			seen[f.ID] = true

			if f.Score != best[f.ID] {
				t.Fatalf("identity %s kept score %v, want best %v", f.ID, f.Score, best[f.ID])
			}
			if i > 0 && merged[i-1].Score < f.Score {
				t.Fatalf("output not in descending score order at %d", i)
			}
		}
		if len(merged) != len(best) {
			t.Fatalf("merged %d identities, want %d", len(merged), len(best))
		}
	})
}
