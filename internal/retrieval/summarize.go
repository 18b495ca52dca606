package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

const noResultsMessage = "no relevant memories found"

const defaultSummarizeStrategy = `Adapt the response style to the question type:
- factual (who/what/where) -> answer directly
- how-to (how) -> core method plus key details
- why -> conclusion then reasoning
- broad questions -> core, why, how, case, note in order
Prefer concision, favor higher-scored memories, write coherent prose.`

const summarizeFramework = `You are a knowledge synthesis assistant. Combine the relevant memories below into one answer to the user's question.

Synthesis strategy:
<strategy>
%s
</strategy>

Question:
<user_query>
%s
</user_query>

Relevant memories:
<memories>
%s
</memories>

Write the synthesized answer.`

// Summarizer renders the merged result list and the original query into a
// chat prompt and returns the provider's verbatim response.
type Summarizer struct {
	chat     ChatProvider
	strategy string
}

func NewSummarizer(chat ChatProvider, strategy string) *Summarizer {
	if strategy == "" {
		strategy = defaultSummarizeStrategy
	}
	return &Summarizer{chat: chat, strategy: strategy}
}

// Summarize returns the fixed empty-result message when results is empty.
// Otherwise it calls the chat provider; failure is non-fatal and yields an
// empty summary with the results still intact.
func (s *Summarizer) Summarize(ctx context.Context, query string, results []QueryResult) string {
	if len(results) == 0 {
		return noResultsMessage
	}

	prompt := fmt.Sprintf(summarizeFramework, s.strategy, escapeXML(query), buildMemoriesText(results))

	summary, err := s.chat.Chat(ctx, prompt)
	if err != nil {
		slog.Warn("summarization failed, returning results without summary",
			slog.String("op", "summarize"), slog.String("error", err.Error()))
		return ""
	}
	return summary
}

func buildMemoriesText(results []QueryResult) string {
	blocks := make([]string, len(results))
	for i, r := range results {
		label := "similarity"
		if r.ScoreType == ScoreRerank {
			label = "rerank"
		}
		score := 0.0
		if r.Score != nil {
			score = *r.Score
		}
		blocks[i] = fmt.Sprintf("[%d] (%s: %.2f)\n%s", i+1, label, score, r.Content)
	}
	return strings.Join(blocks, "\n\n---\n\n")
}
