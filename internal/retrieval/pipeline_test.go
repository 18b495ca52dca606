package retrieval

import (
	"context"
	"testing"
)

type constEmbed struct{ dim int }

func (c constEmbed) Encode(ctx context.Context, text string) ([]float32, error) {
	v := make([]float32, c.dim)
	v[0] = 1
	return v, nil
}
func (c constEmbed) Dimension() int { return c.dim }

func TestPipelineTrivialMatch(t *testing.T) {
	// Scenario 1 from spec §8: one memory, a query that matches it, no
	// rerank invoked because the candidate count is within limit.
	leafXML := `<queries><query><question>cats purr loudly today</question><need_expand>false</need_expand></query></queries>`
	chat := &scriptedChat{responses: []string{leafXML, "a synthesized answer"}}

	score := 0.95
	storage := &stubStorage{
		memories: map[string]*Memory{"M": {ID: "M", Content: "cats purr", Tags: nil, Vector: []float32{1, 0}}},
		byVector: func(vector []float32, limit int, threshold float64) []QueryResult {
			return []QueryResult{{ID: "M", Content: "cats purr", Score: &score, ScoreType: ScoreVector}}
		},
	}

	rerank := &stubRerank{}
	embed := constEmbed{dim: 2}

	cfg := DefaultConfig()
	cfg.SearchLimit = 5
	cfg.SimilarityThreshold = 0.3
	cfg.MultiQuery.CandidatesPerQuery = 5

	p := NewPipeline(storage, embed, rerank, chat, cfg)
	result, err := p.Query(context.Background(), "cats purr loudly", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(result.Results) != 1 || result.Results[0].ID != "M" {
		t.Fatalf("expected final list = [M], got %+v", result.Results)
	}
	if result.Results[0].ScoreType != ScoreVector {
		t.Fatalf("expected ScoreVector, got %v", result.Results[0].ScoreType)
	}
	if rerank.called {
		t.Fatal("expected no rerank call for a candidate count within limit")
	}
}

func TestPipelineAllLeavesEmptyNoSummaryCall(t *testing.T) {
	leafXML := `<queries><query><question>an unanswerable question here</question><need_expand>false</need_expand></query></queries>`
	chat := &scriptedChat{responses: []string{leafXML}}

	storage := &stubStorage{
		memories: map[string]*Memory{},
		byVector: func(vector []float32, limit int, threshold float64) []QueryResult { return nil },
	}

	cfg := DefaultConfig()
	p := NewPipeline(storage, constEmbed{dim: 2}, &stubRerank{}, chat, cfg)

	result, err := p.Query(context.Background(), "an unanswerable question here", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Summary != noResultsMessage {
		t.Fatalf("expected fixed empty-result message, got %q", result.Summary)
	}
	if len(chat.calls) != 1 {
		t.Fatalf("expected only the decomposition call, summarize must not run on empty results; got %d calls", len(chat.calls))
	}
}
