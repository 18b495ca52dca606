package retrieval

// DecompositionConfig bounds the breadth-first query-decomposition tree.
type DecompositionConfig struct {
	MaxLevel       int    `mapstructure:"max_level"`
	MaxTotalLeaves int    `mapstructure:"max_total_leaves"`
	MaxChildren    int    `mapstructure:"max_children"`
	Strategy       string `mapstructure:"strategy"`
}

// MultiQueryConfig bounds per-leaf expansion and cross-leaf merge.
type MultiQueryConfig struct {
	CandidatesPerQuery int `mapstructure:"candidates_per_query"`
	TopNPerLeaf        int `mapstructure:"top_n_per_leaf"`
	MinPerLeaf         int `mapstructure:"min_per_leaf"`
	MaxTotalResults    int `mapstructure:"max_total_results"`
}

// Config is the full configuration surface consumed by the retrieval core,
// per spec §4.8.
type Config struct {
	SearchLimit         int                 `mapstructure:"search_limit"`
	SimilarityThreshold float64             `mapstructure:"similarity_threshold"`
	Decomposition       DecompositionConfig `mapstructure:"decomposition"`
	MultiQuery          MultiQueryConfig    `mapstructure:"multi_query"`
}

// DefaultConfig returns the defaults named in spec §4.8.
func DefaultConfig() Config {
	return Config{
		SearchLimit:         10,
		SimilarityThreshold: 0.35,
		Decomposition: DecompositionConfig{
			MaxLevel:       3,
			MaxTotalLeaves: 12,
			MaxChildren:    4,
			Strategy:       defaultDecomposeStrategy,
		},
		MultiQuery: MultiQueryConfig{
			CandidatesPerQuery: 50,
			TopNPerLeaf:        5,
			MinPerLeaf:         3,
			MaxTotalResults:    20,
		},
	}
}
