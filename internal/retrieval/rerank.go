package retrieval

import (
	"context"
	"log/slog"
	"sort"
)

// selectResults implements the rerank-vs-vector-sort heuristic of spec
// §4.5: skip rerank for small or already-high-confidence candidate sets,
// otherwise invoke the cross-encoder and relabel the winning scores.
func selectResults(ctx context.Context, rerank RerankProvider, query string, candidates []QueryResult, limit int) []QueryResult {
	if !shouldUseRerank(candidates, limit) {
		return sortByVectorScore(candidates, limit)
	}

	documents := make([]string, len(candidates))
	for i, c := range candidates {
		documents[i] = c.Content
	}

	topN := limit
	pairs, err := rerank.Rerank(ctx, query, documents, &topN)
	if err != nil {
		slog.Warn("rerank call failed, falling back to vector sort",
			slog.String("op", "rerank"), slog.String("error", err.Error()))
		return sortByVectorScore(candidates, limit)
	}

	results := make([]QueryResult, 0, len(pairs))
	for _, p := range pairs {
		if p.Index < 0 || p.Index >= len(candidates) {
			continue
		}
		r := candidates[p.Index]
		score := p.Score
		r.Score = &score
		r.ScoreType = ScoreRerank
		results = append(results, r)
	}
	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

// shouldUseRerank implements the boundary conditions from spec §4.5 and
// seed scenarios 3/4 in §8.
func shouldUseRerank(candidates []QueryResult, limit int) bool {
	n := len(candidates)
	if n <= limit {
		return false
	}

	mean := meanScore(candidates)
	switch {
	case n >= 1 && n <= 15 && mean > 0.80:
		return false
	case n >= 16 && n <= 25 && mean > 0.85:
		return false
	default:
		return true
	}
}

func meanScore(candidates []QueryResult) float64 {
	var sum float64
	var count int
	for _, c := range candidates {
		if c.Score != nil {
			sum += *c.Score
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// sortByVectorScore sorts descending by score (missing scores treated as
// zero), stable so ties resolve by insertion order, then truncates.
func sortByVectorScore(candidates []QueryResult, limit int) []QueryResult {
	sorted := make([]QueryResult, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		return scoreOrZero(sorted[i]) > scoreOrZero(sorted[j])
	})
	if len(sorted) > limit {
		sorted = sorted[:limit]
	}
	return sorted
}

func scoreOrZero(r QueryResult) float64 {
	if r.Score == nil {
		return 0
	}
	return *r.Score
}
