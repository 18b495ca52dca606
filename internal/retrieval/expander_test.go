package retrieval

import (
	"context"
	"testing"
)

type stubStorage struct {
	byVector func(vector []float32, limit int, threshold float64) []QueryResult
	memories map[string]*Memory
}

func (s *stubStorage) Count(ctx context.Context) (int, error) { return len(s.memories), nil }

func (s *stubStorage) SearchByVector(ctx context.Context, vector []float32, limit int, threshold float64, tr *TimeRange) ([]QueryResult, error) {
	return s.byVector(vector, limit, threshold), nil
}

func (s *stubStorage) FindMemoryByID(ctx context.Context, id string) (*Memory, error) {
	return s.memories[id], nil
}

func TestExpandLayer1EmptyReturnsEmpty(t *testing.T) {
	storage := &stubStorage{
		byVector: func(vector []float32, limit int, threshold float64) []QueryResult { return nil },
		memories: map[string]*Memory{},
	}
	e := NewExpander(storage)

	results, err := e.Expand(context.Background(), []float32{1, 0}, 5, 0.3, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected empty result set, got %d", len(results))
	}
}

func TestExpandTagOverlapGate(t *testing.T) {
	// Scenario 6 from spec §8: layer-1 result M has tags {a,b}; layer-2
	// candidates N1{a} and N2{c}; only N1 should survive.
	m := &Memory{ID: "M", Tags: []string{"a", "b"}, Vector: []float32{1, 0}}

	calls := 0
	storage := &stubStorage{
		memories: map[string]*Memory{"M": m},
		byVector: func(vector []float32, limit int, threshold float64) []QueryResult {
			calls++
			if calls == 1 {
				score := 0.9
				return []QueryResult{{ID: "M", Tags: []string{"a", "b"}, Score: &score}}
			}
			s1, s2 := 0.5, 0.5
			return []QueryResult{
				{ID: "N1", Tags: []string{"a"}, Score: &s1},
				{ID: "N2", Tags: []string{"c"}, Score: &s2},
			}
		},
	}

	e := NewExpander(storage)
	results, err := e.Expand(context.Background(), []float32{1, 0}, 5, 0.3, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var sawN1, sawN2 bool
	for _, r := range results {
		if r.ID == "N1" {
			sawN1 = true
		}
		if r.ID == "N2" {
			sawN2 = true
		}
	}
	if !sawN1 {
		t.Fatal("expected N1 (tag overlap with M) to survive the gate")
	}
	if sawN2 {
		t.Fatal("expected N2 (no tag overlap with M) to be filtered out")
	}
}
