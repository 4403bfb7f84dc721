package qa

import (
	"context"
	"fmt"
	"strings"

	"ragserv/internal/llm"
)

// Turn is one question/answer pair in a conversation's history.
type Turn struct {
	Question string
	Answer   string
}

// History carries a conversation's prior turns plus a running summary of
// whatever was evicted from the active window.
type History struct {
	Summary string
	Active  []Turn
}

// Summarize enforces testable property 7: after summarization the active
// history has at most KeepRecentTurns*2 messages (KeepRecentTurns turns) and
// the summary has at most MaxSummaryChars. When len(turns) is within
// MaxHistoryTurns, nothing is summarized and all turns stay active.
func Summarize(ctx context.Context, p llm.Provider, model string, turns []Turn, prevSummary string, budget HistoryBudget) (History, error) {
	maxHistory := budget.MaxHistoryTurns
	if maxHistory <= 0 {
		maxHistory = 6
	}
	keepRecent := budget.KeepRecentTurns
	if keepRecent <= 0 {
		keepRecent = 3
	}
	maxSummaryChars := budget.MaxSummaryChars
	if maxSummaryChars <= 0 {
		maxSummaryChars = 600
	}

	if len(turns) <= maxHistory {
		return History{Summary: prevSummary, Active: turns}, nil
	}

	cut := len(turns) - keepRecent
	if cut < 0 {
		cut = 0
	}
	toSummarize := turns[:cut]
	active := turns[cut:]

	summary := summarizeLocally(prevSummary, toSummarize, maxSummaryChars)
	if p != nil {
		if llmSummary, err := summarizeWithLLM(ctx, p, model, prevSummary, toSummarize, maxSummaryChars); err == nil {
			summary = llmSummary
		}
	}
	return History{Summary: summary, Active: active}, nil
}

// summarizeLocally is the deterministic fallback used when no LLM is
// configured or the summarization call fails: a truncated concatenation.
// It guarantees the MaxSummaryChars bound even without a model.
func summarizeLocally(prevSummary string, turns []Turn, maxChars int) string {
	var b strings.Builder
	if prevSummary != "" {
		b.WriteString(prevSummary)
		b.WriteString(" ")
	}
	for _, t := range turns {
		b.WriteString("Q: ")
		b.WriteString(t.Question)
		b.WriteString(" A: ")
		b.WriteString(t.Answer)
		b.WriteString(" ")
	}
	return truncateRunes(strings.TrimSpace(b.String()), maxChars)
}

func summarizeWithLLM(ctx context.Context, p llm.Provider, model string, prevSummary string, turns []Turn, maxChars int) (string, error) {
	var transcript strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&transcript, "User: %s\nAssistant: %s\n", t.Question, t.Answer)
	}
	prompt := fmt.Sprintf(`Summarize the following conversation turns into a concise running summary
of at most %d characters, preserving any facts, names, or decisions a later turn
might need to refer back to. If a prior summary is given, fold it in rather than
discarding it.

Prior summary: %s

Turns:
%s

Respond with the summary text only.`, maxChars, prevSummary, transcript.String())

	msg, err := p.Chat(ctx, []llm.Message{{Role: "user", Content: prompt}}, nil, model)
	if err != nil {
		return "", err
	}
	return truncateRunes(strings.TrimSpace(msg.Content), maxChars), nil
}

// ToMessages renders a History into provider messages, folding the summary
// in as a leading system-style note when present. The caller appends the new
// question.
func (h History) ToMessages(systemPrompt string) []llm.Message {
	msgs := make([]llm.Message, 0, len(h.Active)*2+2)
	sys := systemPrompt
	if h.Summary != "" {
		sys = strings.TrimSpace(sys + "\n\nConversation summary so far: " + h.Summary)
	}
	if sys != "" {
		msgs = append(msgs, llm.Message{Role: "system", Content: sys})
	}
	for _, t := range h.Active {
		msgs = append(msgs, llm.Message{Role: "user", Content: t.Question})
		msgs = append(msgs, llm.Message{Role: "assistant", Content: t.Answer})
	}
	return msgs
}
