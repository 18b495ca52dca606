package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Retrieval.SearchLimit != 10 {
		t.Fatalf("expected default search_limit 10, got %d", cfg.Retrieval.SearchLimit)
	}
	if cfg.Retrieval.Decomposition.MaxChildren != 4 {
		t.Fatalf("expected default max_children 4, got %d", cfg.Retrieval.Decomposition.MaxChildren)
	}
	if cfg.EmbeddingDimension != 1024 {
		t.Fatalf("expected default embedding_dimension 1024, got %d", cfg.EmbeddingDimension)
	}
}

func TestLoadOverridesFromTOMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
search_limit = 25
similarity_threshold = 0.4

[decomposition]
max_level = 2
max_total_leaves = 8
max_children = 3

[multi_query]
min_per_leaf = 1

[embed]
base_url = "https://example.test/v1"
model = "test-embed"
api_key = "secret"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Retrieval.SearchLimit != 25 {
		t.Fatalf("expected search_limit 25, got %d", cfg.Retrieval.SearchLimit)
	}
	if cfg.Retrieval.Decomposition.MaxLevel != 2 {
		t.Fatalf("expected max_level 2, got %d", cfg.Retrieval.Decomposition.MaxLevel)
	}
	if cfg.Embed.Model != "test-embed" {
		t.Fatalf("expected embed.model to be overridden, got %q", cfg.Embed.Model)
	}
}

func TestValidateRejectsOutOfRangeThreshold(t *testing.T) {
	cfg := AppConfig{EmbeddingDimension: 8}
	cfg.Retrieval.Decomposition.MaxLevel = 1
	cfg.Retrieval.Decomposition.MaxTotalLeaves = 1
	cfg.Retrieval.Decomposition.MaxChildren = 1
	cfg.Retrieval.SimilarityThreshold = 1.5

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error for a threshold outside [0,1]")
	}
}

func TestValidateRejectsNonPositiveDimension(t *testing.T) {
	cfg := AppConfig{EmbeddingDimension: 0}
	cfg.Retrieval.Decomposition.MaxLevel = 1
	cfg.Retrieval.Decomposition.MaxTotalLeaves = 1
	cfg.Retrieval.Decomposition.MaxChildren = 1

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error for a non-positive embedding dimension")
	}
}
