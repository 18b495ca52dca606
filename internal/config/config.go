// Package config loads the TOML configuration surface described in
// spec §4.8 and §6, plus the ambient storage/provider-registry fields a
// full CLI needs around the retrieval core.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/liliang-cn/memo/internal/provider"
	"github.com/liliang-cn/memo/internal/retrieval"
)

// ServiceConfig names one resolved provider endpoint.
type ServiceConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
	APIKey  string `mapstructure:"api_key"`
}

func (s ServiceConfig) Resolved() provider.ResolvedService {
	return provider.ResolvedService{APIKey: s.APIKey, Model: s.Model, BaseURL: s.BaseURL}
}

// AppConfig is the full configuration surface: the retrieval core's
// settings (spec §4.8), the storage location and dimension, and the
// provider registry resolved to one service per capability.
type AppConfig struct {
	Retrieval retrieval.Config `mapstructure:",squash"`

	DatabasePath       string  `mapstructure:"database_path"`
	EmbeddingDimension int     `mapstructure:"embedding_dimension"`
	DuplicateThreshold float64 `mapstructure:"duplicate_threshold"`

	Embed  ServiceConfig `mapstructure:"embed"`
	Rerank ServiceConfig `mapstructure:"rerank"`
	Chat   ServiceConfig `mapstructure:"chat"`
}

func defaults(v *viper.Viper) {
	d := retrieval.DefaultConfig()
	v.SetDefault("search_limit", d.SearchLimit)
	v.SetDefault("similarity_threshold", d.SimilarityThreshold)
	v.SetDefault("decomposition.max_level", d.Decomposition.MaxLevel)
	v.SetDefault("decomposition.max_total_leaves", d.Decomposition.MaxTotalLeaves)
	v.SetDefault("decomposition.max_children", d.Decomposition.MaxChildren)
	v.SetDefault("decomposition.strategy", d.Decomposition.Strategy)
	v.SetDefault("multi_query.candidates_per_query", d.MultiQuery.CandidatesPerQuery)
	v.SetDefault("multi_query.top_n_per_leaf", d.MultiQuery.TopNPerLeaf)
	v.SetDefault("multi_query.min_per_leaf", d.MultiQuery.MinPerLeaf)
	v.SetDefault("multi_query.max_total_results", d.MultiQuery.MaxTotalResults)

	v.SetDefault("database_path", defaultDatabasePath())
	v.SetDefault("embedding_dimension", 1024)
	v.SetDefault("duplicate_threshold", 0.95)
}

func defaultDatabasePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "memo.db"
	}
	return filepath.Join(home, ".config", "memo", "memo.db")
}

// Load reads configuration from path (if non-empty) or the default
// locations (~/.config/memo/config.toml, then ./config.toml; the first one
// found is used), applying §4.8 defaults for any missing optional section.
// A missing config file is not an error: every key takes its default.
func Load(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigType("toml")
	defaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		home, _ := os.UserHomeDir()
		v.AddConfigPath(filepath.Join(home, ".config", "memo"))
		v.AddConfigPath(".")
		v.SetConfigName("config")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate enforces the invariants implicit in spec §4.8's defaults.
func (c *AppConfig) Validate() error {
	if c.Retrieval.Decomposition.MaxLevel < 1 {
		return fmt.Errorf("decomposition.max_level must be >= 1")
	}
	if c.Retrieval.Decomposition.MaxTotalLeaves < 1 {
		return fmt.Errorf("decomposition.max_total_leaves must be >= 1")
	}
	if c.Retrieval.Decomposition.MaxChildren < 1 {
		return fmt.Errorf("decomposition.max_children must be >= 1")
	}
	if c.Retrieval.MultiQuery.MinPerLeaf < 0 {
		return fmt.Errorf("multi_query.min_per_leaf must be >= 0")
	}
	if c.Retrieval.SimilarityThreshold < 0 || c.Retrieval.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity_threshold must be in [0,1]")
	}
	if c.EmbeddingDimension <= 0 {
		return fmt.Errorf("embedding_dimension must be positive")
	}
	return nil
}
