package retrieval

import (
	"context"
	"log/slog"
	"math"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"
)

const maxDepth = 3

// thresholdStep is the per-layer similarity increase. The original source
// leaves this step unspecified beyond "strictly increasing, ceiling 0.95";
// +0.05 is the documented choice here (design note, open question #1).
const thresholdStep = 0.05
const thresholdCeiling = 0.95

// Expander performs the multi-layer neighborhood walk described in
// spec §4.4: a seed-threshold ANN search followed by iterated,
// increasingly-strict, tag-gated branch expansions.
type Expander struct {
	storage StorageBackend
}

func NewExpander(storage StorageBackend) *Expander {
	return &Expander{storage: storage}
}

// expansionParams derives max_nodes, branch_limit and the threshold
// schedule from the caller's limit and seed threshold, per spec §4.4.
type expansionParams struct {
	maxNodes    int
	branchLimit int
	thresholds  []float64
}

func deriveParams(limit int, threshold float64) expansionParams {
	maxNodes := limit * 10
	if maxNodes < 50 {
		maxNodes = 50
	}

	branchLimit := int(math.Ceil(float64(maxNodes) / float64(maxDepth*2)))
	if branchLimit < 5 {
		branchLimit = 5
	}

	thresholds := make([]float64, maxDepth)
	t := threshold
	for i := 0; i < maxDepth; i++ {
		thresholds[i] = t
		t += thresholdStep
		if t > thresholdCeiling {
			t = thresholdCeiling
		}
	}

	return expansionParams{maxNodes: maxNodes, branchLimit: branchLimit, thresholds: thresholds}
}

// Expand runs the full multi-layer walk for one leaf's query vector and
// returns the deduplicated candidate set, unsorted and unranked.
func (e *Expander) Expand(ctx context.Context, queryVector []float32, limit int, threshold float64, tr *TimeRange) ([]QueryResult, error) {
	params := deriveParams(limit, threshold)

	visited := make(map[string]struct{})
	var allCandidates []QueryResult

	layer1, err := e.storage.SearchByVector(ctx, queryVector, params.branchLimit, params.thresholds[0], tr)
	if err != nil {
		return nil, err
	}
	if len(layer1) == 0 {
		return nil, nil
	}

	for _, r := range layer1 {
		if _, ok := visited[r.ID]; !ok {
			visited[r.ID] = struct{}{}
			allCandidates = append(allCandidates, r)
		}
	}

	memoryCache, _ := lru.New[string, *Memory](256)
	currentLayer := layer1

	for layerIdx := 1; layerIdx < maxDepth; layerIdx++ {
		if len(allCandidates) >= params.maxNodes || len(currentLayer) == 0 {
			break
		}

		nextLayer, err := e.expandLayer(ctx, currentLayer, params.thresholds[layerIdx], params.branchLimit, tr, memoryCache, visited, &allCandidates, params.maxNodes)
		if err != nil {
			return nil, err
		}
		currentLayer = nextLayer
	}

	return allCandidates, nil
}

// expandLayer fans a single layer of branch searches out in parallel, one
// per member of the previous layer, then folds their outputs into
// allCandidates in arrival order.
func (e *Expander) expandLayer(
	ctx context.Context,
	previousLayer []QueryResult,
	layerThreshold float64,
	branchLimit int,
	tr *TimeRange,
	memoryCache *lru.Cache[string, *Memory],
	visited map[string]struct{},
	allCandidates *[]QueryResult,
	maxNodes int,
) ([]QueryResult, error) {
	branchResults := make([][]QueryResult, len(previousLayer))
	g, gctx := errgroup.WithContext(ctx)

	for i, prev := range previousLayer {
		i, prev := i, prev
		g.Go(func() error {
			related, err := e.expandBranch(gctx, prev.ID, layerThreshold, branchLimit, tr, memoryCache)
			if err != nil {
				slog.Warn("branch search failed, treating as empty",
					slog.String("op", "expand"), slog.String("memory_id", prev.ID), slog.String("error", err.Error()))
				branchResults[i] = nil
				return nil
			}
			branchResults[i] = related
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, wrapError("expand", KindCancelled, err)
	}

	var nextLayer []QueryResult
	for _, related := range branchResults {
		for _, r := range related {
			if _, ok := visited[r.ID]; ok {
				continue
			}
			visited[r.ID] = struct{}{}
			*allCandidates = append(*allCandidates, r)
			nextLayer = append(nextLayer, r)
			if len(*allCandidates) >= maxNodes {
				return nextLayer, nil
			}
		}
	}
	return nextLayer, nil
}

// expandBranch resolves one previous-layer memory, searches its
// neighborhood, and applies the layer≥2 tag-overlap gate.
func (e *Expander) expandBranch(ctx context.Context, memoryID string, threshold float64, branchLimit int, tr *TimeRange, cache *lru.Cache[string, *Memory]) ([]QueryResult, error) {
	memory, err := e.lookupMemory(ctx, memoryID, cache)
	if err != nil {
		return nil, err
	}
	if memory == nil {
		return nil, nil
	}

	related, err := e.storage.SearchByVector(ctx, memory.Vector, branchLimit*2, threshold, tr)
	if err != nil {
		return nil, err
	}

	tagSet := make(map[string]struct{}, len(memory.Tags))
	for _, t := range memory.Tags {
		tagSet[t] = struct{}{}
	}

	filtered := related[:0:0]
	for _, r := range related {
		if hasTagOverlap(r.Tags, tagSet) {
			filtered = append(filtered, r)
		}
	}

	if len(filtered) > branchLimit {
		filtered = filtered[:branchLimit]
	}
	return filtered, nil
}

func (e *Expander) lookupMemory(ctx context.Context, id string, cache *lru.Cache[string, *Memory]) (*Memory, error) {
	if cache != nil {
		if m, ok := cache.Get(id); ok {
			return m, nil
		}
	}
	m, err := e.storage.FindMemoryByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if cache != nil && m != nil {
		cache.Add(id, m)
	}
	return m, nil
}

func hasTagOverlap(tags []string, set map[string]struct{}) bool {
	for _, t := range tags {
		if _, ok := set[t]; ok {
			return true
		}
	}
	return false
}
