package retrieval

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Pipeline wires storage, providers, and configuration into the full
// six-stage retrieval described in spec §2: decompose, embed each leaf,
// expand per leaf, rerank-or-sort, merge, summarize.
type Pipeline struct {
	storage  StorageBackend
	embed    EmbedProvider
	rerank   RerankProvider
	chat     ChatProvider
	cfg      Config
	expander *Expander
}

func NewPipeline(storage StorageBackend, embed EmbedProvider, rerank RerankProvider, chat ChatProvider, cfg Config) *Pipeline {
	return &Pipeline{
		storage:  storage,
		embed:    embed,
		rerank:   rerank,
		chat:     chat,
		cfg:      cfg,
		expander: NewExpander(storage),
	}
}

// Query runs the full pipeline for a single user query and time range.
func (p *Pipeline) Query(ctx context.Context, query string, tr *TimeRange) (*Result, error) {
	decomposer := NewDecomposer(p.chat, p.cfg.Decomposition)
	tree, err := decomposer.Decompose(ctx, query)
	if err != nil {
		if kind, ok := KindOf(err); ok && kind == KindDecompositionEmpty {
			return &Result{Summary: noResultsMessage}, nil
		}
		return nil, err
	}

	leaves := tree.Leaves()
	subResults, err := p.runLeaves(ctx, leaves, tr)
	if err != nil {
		return nil, err
	}

	var productive []SubQueryResult
	for _, sr := range subResults {
		if len(sr.Results) > 0 {
			productive = append(productive, sr)
		}
	}

	if len(productive) == 0 {
		return &Result{Summary: noResultsMessage}, nil
	}

	merged := mergeResults(productive, p.cfg.MultiQuery)

	finalResults := make([]QueryResult, len(merged))
	for i, m := range merged {
		finalResults[i] = m.Memory
	}

	summarizer := NewSummarizer(p.chat, "")
	summary := summarizer.Summarize(ctx, query, finalResults)

	return &Result{Summary: summary, Results: finalResults}, nil
}

// runLeaves embeds and expands every leaf in parallel, each leaf's
// failures isolated from its siblings per spec §5.
func (p *Pipeline) runLeaves(ctx context.Context, leaves []*TreeNode, tr *TimeRange) ([]SubQueryResult, error) {
	results := make([]SubQueryResult, len(leaves))
	g, gctx := errgroup.WithContext(ctx)

	for i, leaf := range leaves {
		i, leaf := i, leaf
		g.Go(func() error {
			res, err := p.runLeaf(gctx, leaf, tr)
			if err != nil {
				slog.Warn("leaf execution failed, continuing with empty results",
					slog.String("op", "leaf"), slog.String("node_id", leaf.ID), slog.String("error", err.Error()))
				results[i] = SubQueryResult{NodeID: leaf.ID}
				return nil
			}
			results[i] = SubQueryResult{NodeID: leaf.ID, Results: res}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, wrapError("pipeline", KindCancelled, err)
	}
	return results, nil
}

func (p *Pipeline) runLeaf(ctx context.Context, leaf *TreeNode, tr *TimeRange) ([]QueryResult, error) {
	vector, err := p.embed.Encode(ctx, normalizeText(leaf.Query))
	if err != nil {
		return nil, wrapError("leaf_encode", KindProviderTransport, err)
	}

	candidates, err := p.expander.Expand(ctx, vector, p.cfg.MultiQuery.CandidatesPerQuery, p.cfg.SimilarityThreshold, tr)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	return selectResults(ctx, p.rerank, leaf.Query, candidates, p.cfg.MultiQuery.TopNPerLeaf), nil
}
