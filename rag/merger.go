package rag

import "sort"

// agentPriority breaks score ties between duplicate fragments.
var agentPriority = map[string]int{
	AgentVector: 3,
	AgentMemory: 2,
	AgentCode:   1,
}

// MergeFragments unions the agents' outputs, deduplicates by stable content
// identity keeping the higher-scored instance of each duplicate (ties broken
// by agent priority, Vector > Memory > Code > others), then orders by
// descending score. That order is provisional and fully superseded by the
// re-ranker. The merge is order-independent: fan-out slots arrive in agent
// registration order whatever the completion order was, and the stable sort
// keeps insertion order for equal scores, so identical inputs always merge
// identically.
func MergeFragments(outputs [][]Fragment) []Fragment {
	index := make(map[string]int)
	merged := make([]Fragment, 0)

	for _, frags := range outputs {
		for _, f := range frags {
			if at, ok := index[f.ID]; ok {
				if betterDuplicate(f, merged[at]) {
					merged[at] = f
				}
				continue
			}
			index[f.ID] = len(merged)
			merged = append(merged, f)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	return merged
}

// betterDuplicate reports whether candidate should replace current as the
// kept instance of a duplicate identity.
func betterDuplicate(candidate, current Fragment) bool {
	if candidate.Score != current.Score {
		return candidate.Score > current.Score
	}
	return agentPriority[candidate.Agent] > agentPriority[current.Agent]
}
