package retrieval

import (
	"strconv"
	"testing"
)

func scorePtr(v float64) *float64 { return &v }

func TestMergeResultsFairness(t *testing.T) {
	// Scenario 2 from spec §8: two leaves, L1 scores 0.90..0.81,
	// L2 scores 0.70..0.61, min_per_leaf=3, max_total_results=8.
	var l1, l2 []QueryResult
	for i := 0; i < 10; i++ {
		l1 = append(l1, QueryResult{ID: "l1-" + strconv.Itoa(i), Score: scorePtr(0.90 - 0.01*float64(i))})
		l2 = append(l2, QueryResult{ID: "l2-" + strconv.Itoa(i), Score: scorePtr(0.70 - 0.01*float64(i))})
	}

	sub := []SubQueryResult{
		{NodeID: "n1", Results: l1},
		{NodeID: "n2", Results: l2},
	}

	cfg := MultiQueryConfig{MinPerLeaf: 3, MaxTotalResults: 8}
	merged := mergeResults(sub, cfg)

	if len(merged) != 8 {
		t.Fatalf("expected 8 results, got %d", len(merged))
	}

	var l2Count int
	for _, m := range merged {
		if len(m.Memory.ID) >= 2 && m.Memory.ID[:2] == "l2" {
			l2Count++
		}
	}
	if l2Count < 3 {
		t.Fatalf("expected at least 3 results from L2 (fairness floor), got %d", l2Count)
	}

	// The first 6 slots should hold the guaranteed top-3 from each leaf.
	top6 := map[string]bool{}
	for i := 0; i < 6; i++ {
		top6[merged[i].Memory.ID] = true
	}
	for i := 0; i < 3; i++ {
		if !top6["l1-"+strconv.Itoa(i)] || !top6["l2-"+strconv.Itoa(i)] {
			t.Fatalf("expected guaranteed top-3 of each leaf in the first 6 slots")
		}
	}
}

func TestMergeResultsNoDuplicates(t *testing.T) {
	shared := QueryResult{ID: "shared", Score: scorePtr(0.5)}
	higher := QueryResult{ID: "shared", Score: scorePtr(0.9)}

	sub := []SubQueryResult{
		{NodeID: "n1", Results: []QueryResult{shared}},
		{NodeID: "n2", Results: []QueryResult{higher}},
	}

	merged := mergeResults(sub, MultiQueryConfig{MinPerLeaf: 1, MaxTotalResults: 20})
	if len(merged) != 1 {
		t.Fatalf("expected collapse to 1 result, got %d", len(merged))
	}
	if merged[0].MaxScore != 0.9 {
		t.Fatalf("expected max score 0.9, got %v", merged[0].MaxScore)
	}
	if len(merged[0].Sources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(merged[0].Sources))
	}
}

func TestMergeResultsIdempotent(t *testing.T) {
	results := []QueryResult{
		{ID: "a", Score: scorePtr(0.8)},
		{ID: "b", Score: scorePtr(0.6)},
	}
	sub := []SubQueryResult{{NodeID: "n1", Results: results}}

	once := mergeResults(sub, MultiQueryConfig{MinPerLeaf: 2, MaxTotalResults: 10})

	subTwice := []SubQueryResult{
		{NodeID: "n1", Results: results},
		{NodeID: "n2", Results: results},
	}
	twice := mergeResults(subTwice, MultiQueryConfig{MinPerLeaf: 2, MaxTotalResults: 10})

	if len(once) != len(twice) {
		t.Fatalf("expected same result count, got %d vs %d", len(once), len(twice))
	}
	for i := range once {
		if once[i].Memory.ID != twice[i].Memory.ID {
			t.Fatalf("expected same ordering at index %d: %s vs %s", i, once[i].Memory.ID, twice[i].Memory.ID)
		}
	}
}
