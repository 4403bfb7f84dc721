package retrieve

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"ragserv/internal/llm"
)

// QueryRewriter produces additional query formulations to widen recall
// before candidate generation. The first element returned is always the
// original query; implementations append variants to it.
type QueryRewriter interface {
	Rewrite(ctx context.Context, query string) ([]string, error)
}

// NewQueryRewriter selects a rewriter by strategy name ("multi_query" or
// "hyde"). An empty or unrecognized strategy yields a no-op rewriter that
// returns the query unchanged.
func NewQueryRewriter(strategy string, p llm.Provider, model string, numVariants int) QueryRewriter {
	switch strategy {
	case "hyde":
		return &HyDERewriter{llm: p, model: model}
	case "multi_query":
		if numVariants <= 0 {
			numVariants = 3
		}
		return &MultiQueryRewriter{llm: p, model: model, numVariants: numVariants}
	default:
		return noopRewriter{}
	}
}

type noopRewriter struct{}

func (noopRewriter) Rewrite(_ context.Context, query string) ([]string, error) {
	return []string{query}, nil
}

var jsonArray = regexp.MustCompile(`(?s)\[.*?\]`)

// MultiQueryRewriter asks the LLM to restate the question from several
// different angles, widening recall over synonyms and phrasings a single
// query would miss.
type MultiQueryRewriter struct {
	llm         llm.Provider
	model       string
	numVariants int
}

func (r *MultiQueryRewriter) Rewrite(ctx context.Context, query string) ([]string, error) {
	if r.llm == nil {
		return []string{query}, nil
	}
	prompt := fmt.Sprintf(`You are a search query optimization expert. Generate %d variants of the
user's question below, each describing the same need from a different angle, for use
retrieving documents from a knowledge base.

Original question: %s

Requirements:
1. Each variant should describe the same question from a different angle
2. Variants must preserve the original question's intent
3. Use synonyms, alternate phrasing, or focus on different facets of the question
4. Keep variants short and search-friendly

Respond with a JSON array only, no other text:
["variant 1", "variant 2", "variant 3"]`, r.numVariants, query)

	msg, err := r.llm.Chat(ctx, []llm.Message{{Role: "user", Content: prompt}}, nil, r.model)
	if err != nil {
		return []string{query}, nil //nolint:nilerr // best-effort: fall back to the bare query
	}

	match := jsonArray.FindString(msg.Content)
	if match == "" {
		return []string{query}, nil
	}
	var variants []string
	if err := json.Unmarshal([]byte(match), &variants); err != nil || len(variants) == 0 {
		return []string{query}, nil
	}
	if len(variants) > r.numVariants {
		variants = variants[:r.numVariants]
	}
	out := make([]string, 0, len(variants)+1)
	out = append(out, query)
	for _, v := range variants {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out, nil
}

// HyDERewriter implements Hypothetical Document Embeddings: it asks the LLM
// to draft a plausible answer, then embeds that answer (instead of, or
// alongside, the bare question) to improve semantic match against indexed
// passages that read like answers rather than questions.
type HyDERewriter struct {
	llm   llm.Provider
	model string
}

func (r *HyDERewriter) Rewrite(ctx context.Context, query string) ([]string, error) {
	if r.llm == nil {
		return []string{query}, nil
	}
	prompt := fmt.Sprintf(`Write a plausible answer to the question below, as if you already knew it.
The answer will be used to search a knowledge base for related documents.

Question: %s

Write only the answer, with no preface or explanation:`, query)

	msg, err := r.llm.Chat(ctx, []llm.Message{{Role: "user", Content: prompt}}, nil, r.model)
	if err != nil {
		return []string{query}, nil //nolint:nilerr // best-effort: fall back to the bare query
	}
	answer := strings.TrimSpace(msg.Content)
	if len(answer) <= 10 {
		return []string{query}, nil
	}
	return []string{query, answer}, nil
}
