package query

import (
	"fmt"
	"strings"

	"github.com/kalambet/kbase/internal/engine"
	"github.com/kalambet/kbase/internal/vector"
)

const defaultMaxContextTokens = 4000

const groundedSystemPrompt = "You are a knowledge base assistant. Answer the question using only the " +
	"provided context. If the context does not contain the answer, say so instead of guessing. " +
	"Be concise and cite the source filenames you relied on."

const ungroundedSystemPrompt = "You are a knowledge base assistant. No relevant documents were found " +
	"for this question. Answer from general knowledge and state clearly that the answer is not " +
	"based on the knowledge base."

// BuildPrompt assembles the chat messages for a query. Retrieved chunks are
// injected into a system message under a token budget, dropping the
// lowest-scoring chunks first. Search results arrive score-descending, so
// budget selection walks them in order.
func BuildPrompt(question string, hits []vector.ScoredPoint, maxContextTokens int) []engine.Message {
	if maxContextTokens <= 0 {
		maxContextTokens = defaultMaxContextTokens
	}

	if len(hits) == 0 {
		return []engine.Message{
			{Role: "system", Content: ungroundedSystemPrompt},
			{Role: "user", Content: question},
		}
	}

	var sb strings.Builder
	sb.WriteString(groundedSystemPrompt)

	contextHeader := "\n\n[Context]\n"
	remaining := maxContextTokens - EstimateTokens(sb.String()) - EstimateTokens(contextHeader)

	var selected []string
	for _, h := range hits {
		entry := formatHit(h)
		tokens := EstimateTokens(entry)
		if tokens > remaining {
			continue
		}
		selected = append(selected, entry)
		remaining -= tokens
	}

	if len(selected) > 0 {
		sb.WriteString(contextHeader)
		for _, entry := range selected {
			sb.WriteString(entry)
		}
	}

	return []engine.Message{
		{Role: "system", Content: sb.String()},
		{Role: "user", Content: question},
	}
}

func formatHit(h vector.ScoredPoint) string {
	return fmt.Sprintf("(Score: %.2f, Source: %s)\n%s\n\n", h.Score, h.Filename, h.Text)
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
