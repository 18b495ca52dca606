// Package output renders retrieval results either as a human-readable
// table or as the structured JSON shape from spec §6.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/liliang-cn/memo/internal/retrieval"
)

// ResultPayload is the exact user-facing shape spec §6 names: an optional
// summary followed by the ordered result list.
type ResultPayload struct {
	Summary string        `json:"summary,omitempty"`
	Results []resultEntry `json:"results"`
}

type resultEntry struct {
	ID        string   `json:"id"`
	Content   string   `json:"content"`
	Tags      []string `json:"tags"`
	UpdatedAt int64    `json:"updated_at"`
	Score     *float64 `json:"score,omitempty"`
	ScoreType string   `json:"score_type"`
}

func toPayload(r *retrieval.Result) ResultPayload {
	entries := make([]resultEntry, len(r.Results))
	for i, qr := range r.Results {
		entries[i] = resultEntry{
			ID: qr.ID, Content: qr.Content, Tags: qr.Tags, UpdatedAt: qr.UpdatedAt,
			Score: qr.Score, ScoreType: qr.ScoreType.String(),
		}
	}
	return ResultPayload{Summary: r.Summary, Results: entries}
}

// WriteJSON emits the exact {summary?, results} shape.
func WriteJSON(w io.Writer, r *retrieval.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(toPayload(r))
}

// WriteHuman renders a terminal-friendly table: summary first, then one
// line per result with a truncated id, score, tags, and content preview.
func WriteHuman(w io.Writer, r *retrieval.Result) {
	if r.Summary != "" {
		fmt.Fprintln(w, r.Summary)
		fmt.Fprintln(w)
	}
	if len(r.Results) == 0 {
		return
	}
	for i, qr := range r.Results {
		id := qr.ID
		if len(id) > 8 {
			id = id[:8]
		}
		score := "-"
		if qr.Score != nil {
			score = fmt.Sprintf("%.2f(%s)", *qr.Score, qr.ScoreType)
		}
		content := strings.ReplaceAll(qr.Content, "\n", " ")
		if len(content) > 80 {
			content = content[:77] + "..."
		}
		fmt.Fprintf(w, "%2d. [%s] %-16s %s  %s\n", i+1, id, score, strings.Join(qr.Tags, ","), content)
	}
}
