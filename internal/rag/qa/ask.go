package qa

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"ragserv/internal/llm"
	"ragserv/internal/rag/audit"
	"ragserv/internal/rag/retrieve"
	"ragserv/internal/ragerrors"
)

const defaultSystemPrompt = `You are a knowledgeable assistant answering questions strictly from the
provided context. Cite sources by their [n] marker when you use them. If the
context does not contain the answer, say so rather than guessing.`

// Ask runs one non-streaming QA turn: consult the semantic cache, then on a
// miss retrieve (if a Retriever is attached), assemble the bounded context,
// call the LLM with retry/backoff, and highlight citations in the answer.
func (c *Chain) Ask(ctx context.Context, req Request) (Answer, error) {
	ctx, cancel := contextTimeout(ctx, c.timeout)
	defer cancel()

	start := c.clock.Now()
	fp := Fingerprint(req.Question, req.GroupIDs, req.Tenant)

	if req.UseCache && c.cache != nil {
		if entry, ok := c.cache.Get(ctx, fp, req.Question); ok {
			c.metrics.IncCounter("qa_cache_hit", map[string]string{"tenant": req.Tenant})
			c.recordAudit(ctx, req, entry.Answer, 0, len(entry.Sources), start, nil)
			return Answer{Text: entry.Answer, FromCache: true}, nil
		}
	}
	c.metrics.IncCounter("qa_cache_miss", map[string]string{"tenant": req.Tenant})

	items, err := c.retrieveSources(ctx, req)
	if err != nil {
		return Answer{}, err
	}

	ctxText, sources := BuildContext(items, c.ctxBudget)
	history, err := Summarize(ctx, c.llmClient, c.model, toTurns(req.History), "", c.histBudget)
	if err != nil {
		c.log.Error("history summarize failed", map[string]any{"error": err.Error()})
	}

	msgs := history.ToMessages(defaultSystemPrompt)
	msgs = append(msgs, llm.Message{Role: "user", Content: fmt.Sprintf("Context:\n%s\n\nQuestion: %s", ctxText, req.Question)})

	reply, err := c.callWithRetry(ctx, msgs)
	if err != nil {
		c.recordAudit(ctx, req, "", 0, len(items), start, err)
		return Answer{}, err
	}

	highlights := HighlightCitations(reply.Content, sources)
	usage := NormalizedUsage{
		InputTokens:  llm.EstimateTokensForMessages(msgs),
		OutputTokens: llm.EstimateTokens(reply.Content),
	}

	if req.UseCache && c.cache != nil {
		docIDs := make([]string, 0, len(items))
		for _, it := range items {
			docIDs = append(docIDs, it.DocID)
		}
		_ = c.cache.Set(ctx, fp, CacheEntry{Question: req.Question, Answer: reply.Content, Sources: docIDs})
	}

	c.recordAudit(ctx, req, reply.Content, usage.OutputTokens, len(items), start, nil)

	return Answer{
		Text:           reply.Content,
		Sources:        items,
		Highlights:     highlights,
		RetrievedCount: len(items),
		Usage:          usage,
	}, nil
}

// StreamEvent is one SSE-shaped event emitted during AskStream, matching the
// sources -> chunk* -> done|error sequence of spec.md §6.
type StreamEvent struct {
	Type string // "sources" | "chunk" | "done" | "error"
	Data any
}

// StreamSink receives StreamEvents as they're produced. Implementations
// typically write them as SSE frames to an http.ResponseWriter.
type StreamSink interface {
	Send(ev StreamEvent) error
}

// AskStream runs a streaming QA turn. On LLM failure mid-stream, an "error"
// event carries the failure and is always followed by a terminal "done"
// event with whatever text had already been accumulated, per spec.md §6's
// ordering guarantee.
func (c *Chain) AskStream(ctx context.Context, req Request, sink StreamSink) error {
	ctx, cancel := contextTimeout(ctx, c.timeout)
	defer cancel()

	start := c.clock.Now()
	fp := Fingerprint(req.Question, req.GroupIDs, req.Tenant)

	if req.UseCache && c.cache != nil {
		if entry, ok := c.cache.Get(ctx, fp, req.Question); ok {
			c.metrics.IncCounter("qa_cache_hit", map[string]string{"tenant": req.Tenant})
			_ = sink.Send(StreamEvent{Type: "sources", Data: []retrieve.RetrievedItem{}})
			_ = sink.Send(StreamEvent{Type: "chunk", Data: entry.Answer})
			_ = sink.Send(StreamEvent{Type: "done", Data: entry.Answer})
			c.recordAudit(ctx, req, entry.Answer, 0, len(entry.Sources), start, nil)
			return nil
		}
	}
	c.metrics.IncCounter("qa_cache_miss", map[string]string{"tenant": req.Tenant})

	items, err := c.retrieveSources(ctx, req)
	if err != nil {
		_ = sink.Send(StreamEvent{Type: "error", Data: err.Error()})
		_ = sink.Send(StreamEvent{Type: "done", Data: ""})
		return err
	}
	if sendErr := sink.Send(StreamEvent{Type: "sources", Data: items}); sendErr != nil {
		return sendErr
	}

	ctxText, sources := BuildContext(items, c.ctxBudget)
	history, err := Summarize(ctx, c.llmClient, c.model, toTurns(req.History), "", c.histBudget)
	if err != nil {
		c.log.Error("history summarize failed", map[string]any{"error": err.Error()})
	}

	msgs := history.ToMessages(defaultSystemPrompt)
	msgs = append(msgs, llm.Message{Role: "user", Content: fmt.Sprintf("Context:\n%s\n\nQuestion: %s", ctxText, req.Question)})

	var accumulated string
	handler := &sinkStreamHandler{sink: sink, onDelta: func(s string) { accumulated += s }}

	streamErr := c.callStreamWithRetry(ctx, msgs, handler)
	if streamErr != nil {
		_ = sink.Send(StreamEvent{Type: "error", Data: streamErr.Error()})
		_ = sink.Send(StreamEvent{Type: "done", Data: accumulated})
		c.recordAudit(ctx, req, accumulated, 0, len(items), start, streamErr)
		return streamErr
	}

	_ = HighlightCitations(accumulated, sources) // computed for parity; callers needing highlights use Ask
	_ = sink.Send(StreamEvent{Type: "done", Data: accumulated})

	if req.UseCache && c.cache != nil {
		docIDs := make([]string, 0, len(items))
		for _, it := range items {
			docIDs = append(docIDs, it.DocID)
		}
		_ = c.cache.Set(ctx, fp, CacheEntry{Question: req.Question, Answer: accumulated, Sources: docIDs})
	}

	c.recordAudit(ctx, req, accumulated, llm.EstimateTokens(accumulated), len(items), start, nil)
	return nil
}

type sinkStreamHandler struct {
	sink    StreamSink
	onDelta func(string)
	err     error
}

func (h *sinkStreamHandler) OnDelta(content string) {
	h.onDelta(content)
	if err := h.sink.Send(StreamEvent{Type: "chunk", Data: content}); err != nil {
		h.err = err
	}
}
func (h *sinkStreamHandler) OnToolCall(llm.ToolCall)          {}
func (h *sinkStreamHandler) OnImage(llm.GeneratedImage)       {}
func (h *sinkStreamHandler) OnThoughtSummary(string)          {}

func (c *Chain) retrieveSources(ctx context.Context, req Request) ([]retrieve.RetrievedItem, error) {
	if c.retriever == nil {
		return nil, nil
	}
	opt := retrieve.RetrieveOptions{
		IncludeText:    true,
		IncludeSnippet: true,
		Tenant:         req.Tenant,
	}
	if len(req.GroupIDs) > 0 {
		opt.Filter = map[string]string{"group_ids": joinGroups(req.GroupIDs)}
	}
	resp, err := c.retriever.Retrieve(ctx, req.Question, opt)
	if err != nil {
		return nil, err
	}
	return resp.Items, nil
}

func joinGroups(groups []string) string {
	out := groups[0]
	for _, g := range groups[1:] {
		out += "," + g
	}
	return out
}

func toTurns(history []Turn) []Turn { return history }

// callWithRetry wraps a single Chat call with exponential backoff, grounded
// on cenkalti/backoff/v5's generic Retry helper. Errors wrapped as
// ragerrors.Error that are not Retryable() short-circuit via Permanent.
func (c *Chain) callWithRetry(ctx context.Context, msgs []llm.Message) (llm.Message, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.retry.BaseDelay
	eb.MaxInterval = c.retry.MaxDelay

	return backoff.Retry(ctx, func() (llm.Message, error) {
		msg, err := c.llmClient.Chat(ctx, msgs, nil, c.model)
		if err != nil {
			if isPermanent(err) {
				return llm.Message{}, backoff.Permanent(err)
			}
			return llm.Message{}, err
		}
		return msg, nil
	}, backoff.WithBackOff(eb), backoff.WithMaxTries(uint(maxTries(c.retry.MaxRetries))))
}

func (c *Chain) callStreamWithRetry(ctx context.Context, msgs []llm.Message, h llm.StreamHandler) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.retry.BaseDelay
	eb.MaxInterval = c.retry.MaxDelay

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if sh, ok := h.(*sinkStreamHandler); ok {
			sh.err = nil
		}
		err := c.llmClient.ChatStream(ctx, msgs, nil, c.model, h)
		if sh, ok := h.(*sinkStreamHandler); ok && sh.err != nil {
			return struct{}{}, backoff.Permanent(sh.err)
		}
		if err != nil {
			if isPermanent(err) {
				return struct{}{}, backoff.Permanent(err)
			}
			return struct{}{}, err
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(eb), backoff.WithMaxTries(uint(maxTries(c.retry.MaxRetries))))
	return err
}

func maxTries(maxRetries int) int {
	if maxRetries <= 0 {
		return 1
	}
	return maxRetries + 1
}

func isPermanent(err error) bool {
	var rerr *ragerrors.Error
	if errors.As(err, &rerr) {
		return !rerr.Retryable()
	}
	return false
}

func (c *Chain) recordAudit(ctx context.Context, req Request, answer string, completionTokens int, retrieved int, start time.Time, callErr error) {
	if c.audit == nil {
		return
	}
	preview := answer
	if len(preview) > 300 {
		preview = preview[:300]
	}
	entry := audit.Entry{
		Provider:         "chat",
		Model:            c.model,
		RequestKind:      "query",
		Question:         req.Question,
		AnswerPreview:    preview,
		CompletionTokens: completionTokens,
		DurationMillis:   c.clock.Now().Sub(start).Milliseconds(),
		RetrievedCount:   retrieved,
		Success:          callErr == nil,
		ClientIP:         req.ClientIP,
		UserAgent:        req.UserAgent,
	}
	if callErr != nil {
		entry.ErrorMessage = callErr.Error()
	}
	if _, err := c.audit.Record(ctx, entry); err != nil {
		c.log.Error("audit record failed", map[string]any{"error": err.Error()})
	}
}
