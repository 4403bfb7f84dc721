package qa

import (
	"fmt"
	"strings"

	"ragserv/internal/rag/retrieve"
)

// ContextSource is one retrieved passage as it was actually folded into the
// prompt, after per-source truncation. Kept distinct from
// retrieve.RetrievedItem so citation highlighting matches against exactly
// the text the model saw.
type ContextSource struct {
	Item     retrieve.RetrievedItem
	Text     string // truncated to MaxSingleContentChars
	Included bool   // false if the overall budget was exhausted before this source fit
}

// BuildContext assembles a prompt-ready context string from retrieved
// sources under two budgets: no single source may contribute more than
// MaxSingleContentChars, and the assembled string may not exceed
// MaxContextChars (testable properties 7/8). Sources are taken in the order
// given (callers pass them already ranked) and assembly stops, rather than
// truncates mid-source, once the budget would be exceeded.
func BuildContext(items []retrieve.RetrievedItem, budget ContextBudget) (string, []ContextSource) {
	maxSingle := budget.MaxSingleContentChars
	if maxSingle <= 0 {
		maxSingle = 2000
	}
	maxTotal := budget.MaxContextChars
	if maxTotal <= 0 {
		maxTotal = 8000
	}

	sources := make([]ContextSource, 0, len(items))
	var b strings.Builder
	full := false
	for i, it := range items {
		text := it.Text
		if text == "" {
			text = it.Snippet
		}
		text = truncateRunes(text, maxSingle)

		label := it.Doc.Title
		if label == "" {
			label = it.DocID
		}
		block := fmt.Sprintf("[%d] %s\n%s\n\n", i+1, label, text)

		if full || b.Len()+len(block) > maxTotal {
			full = true
			sources = append(sources, ContextSource{Item: it, Text: text, Included: false})
			continue
		}
		b.WriteString(block)
		sources = append(sources, ContextSource{Item: it, Text: text, Included: true})
	}
	return strings.TrimSpace(b.String()), sources
}

// truncateRunes cuts s to at most n runes, respecting UTF-8 boundaries.
func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
