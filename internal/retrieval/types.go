// Package retrieval implements the query decomposition, multi-layer
// expansion, rerank selection, cross-leaf merge, and summarization pipeline
// that turns a natural-language query into a ranked set of memories.
package retrieval

import (
	"context"
	"strconv"
)

// ScoreType distinguishes a vector-similarity score from a cross-encoder
// rerank score. The two are never comparable.
type ScoreType int

const (
	ScoreVector ScoreType = iota
	ScoreRerank
)

func (t ScoreType) String() string {
	if t == ScoreRerank {
		return "rerank"
	}
	return "vector"
}

// Memory is a single stored note: content, tags, and its embedding.
type Memory struct {
	ID         string
	Content    string
	Tags       []string
	Vector     []float32
	SourceFile string
	CreatedAt  int64 // ms, UTC
	UpdatedAt  int64 // ms, UTC
}

// QueryResult is a memory surfaced by search, carrying an optional score.
type QueryResult struct {
	ID        string
	Content   string
	Tags      []string
	UpdatedAt int64
	Score     *float64
	ScoreType ScoreType
}

// TimeRange bounds updated_at inclusively on either side.
type TimeRange struct {
	After  *int64
	Before *int64
}

// TreeNode is one node of a decomposition tree.
type TreeNode struct {
	ID       string
	Query    string
	Children []string
}

// IsLeaf reports whether the node has no children.
func (n *TreeNode) IsLeaf() bool { return len(n.Children) == 0 }

// DecompositionTree is an arena of TreeNodes keyed by id, built once per
// user request.
type DecompositionTree struct {
	Nodes     map[string]*TreeNode
	idCounter int
}

// NewDecompositionTree returns an empty tree.
func NewDecompositionTree() *DecompositionTree {
	return &DecompositionTree{Nodes: make(map[string]*TreeNode)}
}

// AllocID returns a fresh, unique node id. Callers must invoke this only
// from the single-threaded post-join section of a BFS level so that id
// allocation stays deterministic despite parallel LLM calls.
func (t *DecompositionTree) AllocID() string {
	id := "node_" + strconv.Itoa(t.idCounter)
	t.idCounter++
	return id
}

// AddNode inserts a node and, if parentID is non-empty, links it as a
// child of that parent.
func (t *DecompositionTree) AddNode(node *TreeNode, parentID string) {
	t.Nodes[node.ID] = node
	if parentID != "" {
		if parent, ok := t.Nodes[parentID]; ok {
			parent.Children = append(parent.Children, node.ID)
		}
	}
}

// Leaves returns every node with no children.
func (t *DecompositionTree) Leaves() []*TreeNode {
	leaves := make([]*TreeNode, 0, len(t.Nodes))
	for _, n := range t.Nodes {
		if n.IsLeaf() {
			leaves = append(leaves, n)
		}
	}
	return leaves
}

// LeafCount returns the number of leaves currently in the tree.
func (t *DecompositionTree) LeafCount() int { return len(t.Leaves()) }

// SubQueryResult is the ordered result set produced by a single leaf.
type SubQueryResult struct {
	NodeID  string
	Results []QueryResult
}

// MergedResult is an id-keyed collapse of a memory across every leaf that
// surfaced it.
type MergedResult struct {
	Memory   QueryResult
	Sources  []string
	MaxScore float64
}

// EmbedProvider turns text into a fixed-dimension vector.
type EmbedProvider interface {
	Encode(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// RerankPair is one scored document returned by a RerankProvider, Index
// referring to the position of the document in the input slice.
type RerankPair struct {
	Index int
	Score float64
}

// RerankProvider scores documents against a query with a cross-encoder.
type RerankProvider interface {
	Rerank(ctx context.Context, query string, documents []string, topN *int) ([]RerankPair, error)
}

// ChatProvider performs a single-turn completion.
type ChatProvider interface {
	Chat(ctx context.Context, prompt string) (string, error)
}

// StorageBackend is the read-only surface the retrieval core requires of
// the vector table.
type StorageBackend interface {
	Count(ctx context.Context) (int, error)
	SearchByVector(ctx context.Context, vector []float32, limit int, threshold float64, tr *TimeRange) ([]QueryResult, error)
	FindMemoryByID(ctx context.Context, id string) (*Memory, error)
}

// Result is the user-facing output of one retrieval request.
type Result struct {
	Summary string
	Results []QueryResult
}

// normalizeText trims and collapses internal whitespace runs to a single
// space, the normalization every EmbedProvider call applies before
// encoding.
func normalizeText(s string) string {
	var b []byte
	inSpace := false
	start := true
	for i := 0; i < len(s); i++ {
		c := s[i]
		isSpace := c == ' ' || c == '\t' || c == '\n' || c == '\r'
		if isSpace {
			if !start {
				inSpace = true
			}
			continue
		}
		if inSpace {
			b = append(b, ' ')
			inSpace = false
		}
		b = append(b, c)
		start = false
	}
	return string(b)
}
