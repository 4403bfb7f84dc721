// Package qa implements the question-answering chain: context assembly under
// a character budget, LLM-driven history summarization, citation
// highlighting, SSE-style streaming, a semantic answer cache, and LLM
// retry/backoff. It sits downstream of internal/rag/retrieve and upstream
// of the HTTP surface.
package qa

import (
	"context"
	"time"

	"ragserv/internal/llm"
	"ragserv/internal/rag/audit"
	"ragserv/internal/rag/retrieve"
)

// Logger is the minimal logging interface, matching internal/rag/service's
// Clock/Logger/Metrics functional-options convention.
type Logger interface {
	Info(msg string, fields map[string]any)
	Error(msg string, fields map[string]any)
	Debug(msg string, fields map[string]any)
}

// Metrics mirrors internal/rag/service.Metrics so the chain can share the
// same counters/histograms sink as retrieval and ingestion.
type Metrics interface {
	IncCounter(name string, labels map[string]string)
	ObserveHistogram(name string, value float64, labels map[string]string)
}

// Clock abstracts time.Now for deterministic tests.
type Clock interface {
	Now() time.Time
}

type noopLogger struct{}

func (noopLogger) Info(string, map[string]any)  {}
func (noopLogger) Error(string, map[string]any) {}
func (noopLogger) Debug(string, map[string]any) {}

type noopMetrics struct{}

func (noopMetrics) IncCounter(string, map[string]string)               {}
func (noopMetrics) ObserveHistogram(string, float64, map[string]string) {}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// ContextBudget bounds how much retrieved text reaches the prompt.
type ContextBudget struct {
	MaxSingleContentChars int
	MaxContextChars       int
}

// HistoryBudget bounds conversation history carried into each turn.
type HistoryBudget struct {
	MaxHistoryTurns int
	KeepRecentTurns int
	MaxSummaryChars int
}

// RetryPolicy configures LLM call retry/backoff on upstream-transient errors.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// Chain wires retrieval results, conversation history, and an LLM provider
// into grounded answers, with caching, retries, and citation highlighting.
type Chain struct {
	llmClient llm.Provider
	model     string

	ctxBudget ContextBudget
	histBudget HistoryBudget
	retry     RetryPolicy
	timeout   time.Duration

	cache     *SemanticCache
	audit     *audit.Log
	retriever Retriever

	log     Logger
	metrics Metrics
	clock   Clock
}

// Retriever is the subset of internal/rag/service.Service the chain needs to
// fetch grounding sources for a question. Satisfied by *service.Service.
type Retriever interface {
	Retrieve(ctx context.Context, q string, opt retrieve.RetrieveOptions) (retrieve.RetrieveResponse, error)
}

// Option configures a Chain during construction.
type Option func(*Chain)

// WithLogger sets a custom logger.
func WithLogger(l Logger) Option { return func(c *Chain) { c.log = l } }

// WithMetrics sets a custom metrics collector.
func WithMetrics(m Metrics) Option { return func(c *Chain) { c.metrics = m } }

// WithClock sets a custom clock implementation.
func WithClock(cl Clock) Option { return func(c *Chain) { c.clock = cl } }

// WithCache attaches a semantic cache. Nil disables caching.
func WithCache(sc *SemanticCache) Option { return func(c *Chain) { c.cache = sc } }

// WithRetriever attaches the retrieval service used to gather grounding
// sources for each question.
func WithRetriever(r Retriever) Option { return func(c *Chain) { c.retriever = r } }

// WithAudit attaches a usage-audit log. Nil disables audit writes.
func WithAudit(a *audit.Log) Option { return func(c *Chain) { c.audit = a } }

// WithRetry overrides the default retry policy.
func WithRetry(r RetryPolicy) Option { return func(c *Chain) { c.retry = r } }

// WithTimeout overrides the default per-response LLM timeout.
func WithTimeout(d time.Duration) Option { return func(c *Chain) { c.timeout = d } }

// NewChain constructs a Chain. model is the chat-completion model name passed
// through to the provider on every call.
func NewChain(p llm.Provider, model string, ctxBudget ContextBudget, histBudget HistoryBudget, opts ...Option) *Chain {
	c := &Chain{
		llmClient:  p,
		model:      model,
		ctxBudget:  ctxBudget,
		histBudget: histBudget,
		retry:      RetryPolicy{MaxRetries: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second},
		timeout:    120 * time.Second,
		log:        noopLogger{},
		metrics:    noopMetrics{},
		clock:      systemClock{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Request describes a single QA turn.
type Request struct {
	Question  string
	Tenant    string // owner_id: used for tenant isolation in cache keys and source filtering
	GroupIDs  []string
	History   []Turn
	UseCache  bool
	ClientIP  string
	UserAgent string
}

// Answer is the result of a non-streaming Ask call.
type Answer struct {
	Text           string
	Sources        []retrieve.RetrievedItem
	Highlights     []Highlight
	RetrievedCount int
	FromCache      bool
	Usage          NormalizedUsage
}

// NormalizedUsage is the dynamic-typing-resistant shape every LLM provider's
// response is reduced to before reaching the rest of the chain, per the
// upstream-payload design note: providers return loosely typed JSON
// (content-as-string, content-as-parts, OpenAI-style choices) and this is
// the one shape downstream code has to handle.
type NormalizedUsage struct {
	InputTokens  int
	OutputTokens int
}

func contextTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
