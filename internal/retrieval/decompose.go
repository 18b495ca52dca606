package retrieval

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"
)

const defaultDecomposeStrategy = `Decompose the question along the 3-5 most relevant of these facets:
- core: what is the heart of the question
- why: why does this question arise
- how: how would it be addressed
- case: what concrete cases illustrate it
- note: what caveats apply`

const decomposeFramework = `You are a search query analyst. Break the user's question into independently searchable sub-questions.

Decomposition strategy:
<strategy>
%s
</strategy>

Question:
<user_query>
%s
</user_query>

Respond with exactly one <queries>...</queries> block and nothing else:

<queries>
  <query>
    <question>a complete, independently searchable sub-question</question>
    <need_expand>false</need_expand>
  </query>
</queries>

need_expand is "true" only if the sub-question is still broad enough to decompose further.`

const minSubQueryLen = 5
const maxSubQueryLen = 300

// queueEntry is one pending BFS item: a sub-question text plus the id of
// the tree node (if any) it was spawned from.
type queueEntry struct {
	parentID string
	text     string
	level    int
}

type xmlQueries struct {
	XMLName xml.Name    `xml:"queries"`
	Query   []xmlSubQry `xml:"query"`
}

type xmlSubQry struct {
	Question   string `xml:"question"`
	NeedExpand string `xml:"need_expand"`
}

// Decomposer builds a DecompositionTree from a user query via breadth-first
// LLM calls, one per queue entry per level, joined before node ids are
// allocated.
type Decomposer struct {
	chat ChatProvider
	cfg  DecompositionConfig
}

func NewDecomposer(chat ChatProvider, cfg DecompositionConfig) *Decomposer {
	return &Decomposer{chat: chat, cfg: cfg}
}

// Decompose runs the BFS and returns the built tree. If the root call
// yields zero valid sub-questions, it returns ErrEmptyDecomposition.
func (d *Decomposer) Decompose(ctx context.Context, query string) (*DecompositionTree, error) {
	tree := NewDecompositionTree()
	queue := []queueEntry{{text: query, level: 0}}

	// leafCount tracks the tree's leaf count as nodes are added, so the
	// max_total_leaves cap is enforced at addition time rather than only
	// gating future recursion. A parent stops being a leaf the moment its
	// first child is added; this is accounted for once per entry below so
	// replacing a leaf with its children never looks like pure growth.
	leafCount := tree.LeafCount()

	for level := 0; len(queue) > 0; level++ {
		subs, err := d.runLevel(ctx, queue)
		if err != nil {
			return nil, err
		}

		var next []queueEntry
		for i, entry := range queue {
			results := subs[i]
			if len(results) > d.cfg.MaxChildren {
				results = results[:d.cfg.MaxChildren]
			}
			if entry.parentID != "" && len(results) > 0 {
				leafCount--
			}
			for _, sq := range results {
				if leafCount >= d.cfg.MaxTotalLeaves {
					break
				}
				node := &TreeNode{ID: tree.AllocID(), Query: sq.question}
				tree.AddNode(node, entry.parentID)
				leafCount++
				if sq.needExpand && level+1 < d.cfg.MaxLevel && leafCount < d.cfg.MaxTotalLeaves {
					next = append(next, queueEntry{parentID: node.ID, text: sq.question, level: level + 1})
				}
			}
		}

		if level == 0 && len(tree.Nodes) == 0 {
			return nil, wrapError("decompose", KindDecompositionEmpty, ErrEmptyDecomposition)
		}
		queue = next
	}

	return tree, nil
}

type parsedSubQuery struct {
	question   string
	needExpand bool
}

// runLevel issues one chat call per queue entry in parallel and returns,
// per entry, the parsed sub-questions (empty slice on a malformed or
// failed call, which makes that entry's node a leaf).
func (d *Decomposer) runLevel(ctx context.Context, queue []queueEntry) ([][]parsedSubQuery, error) {
	out := make([][]parsedSubQuery, len(queue))
	g, gctx := errgroup.WithContext(ctx)

	for i, entry := range queue {
		i, entry := i, entry
		g.Go(func() error {
			subs, err := d.decomposeOne(gctx, entry.text)
			if err != nil {
				if errors.Is(gctx.Err(), context.Canceled) {
					return gctx.Err()
				}
				slog.Warn("decomposition node failed, treating as leaf",
					slog.String("op", "decompose"), slog.String("query", entry.text), slog.String("error", err.Error()))
				out[i] = nil
				return nil
			}
			out[i] = subs
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, wrapError("decompose", KindCancelled, err)
	}
	return out, nil
}

func (d *Decomposer) decomposeOne(ctx context.Context, query string) ([]parsedSubQuery, error) {
	prompt := fmt.Sprintf(decomposeFramework, d.cfg.Strategy, escapeXML(query))

	output, err := d.chat.Chat(ctx, prompt)
	if err != nil {
		return nil, wrapError("decompose", KindProviderTransport, err)
	}

	block, err := extractQueriesBlock(output)
	if err != nil {
		return nil, wrapError("decompose", KindProviderProtocol, err)
	}

	var parsed xmlQueries
	if err := xml.Unmarshal([]byte(block), &parsed); err != nil {
		return nil, wrapError("decompose", KindProviderProtocol, err)
	}

	subs := make([]parsedSubQuery, 0, len(parsed.Query))
	for _, q := range parsed.Query {
		if !isValidSubQuery(q.Question) {
			continue
		}
		subs = append(subs, parsedSubQuery{
			question:   strings.TrimSpace(q.Question),
			needExpand: strings.TrimSpace(q.NeedExpand) == "true",
		})
	}
	if len(subs) == 0 {
		return nil, fmt.Errorf("no valid sub-questions parsed from LLM output")
	}
	return subs, nil
}

func isValidSubQuery(q string) bool {
	n := len(strings.TrimSpace(q))
	return n >= minSubQueryLen && n <= maxSubQueryLen
}

// escapeXML escapes the five XML special characters in the order the
// original implementation does, so embedded entities never collide.
func escapeXML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	s = strings.ReplaceAll(s, "'", "&apos;")
	return s
}

// extractQueriesBlock returns the substring from "<queries>" to
// "</queries>" inclusive, tolerating whitespace and extraneous text
// outside the delimiters.
func extractQueriesBlock(output string) (string, error) {
	start := strings.Index(output, "<queries>")
	if start < 0 {
		return "", fmt.Errorf("LLM output missing <queries> tag")
	}
	endTag := "</queries>"
	endIdx := strings.Index(output, endTag)
	if endIdx < 0 {
		return "", fmt.Errorf("LLM output missing </queries> tag")
	}
	end := endIdx + len(endTag)
	return output[start:end], nil
}
