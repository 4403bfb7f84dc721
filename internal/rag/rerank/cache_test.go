package rerank

import (
	"context"
	"testing"

	"ragserv/internal/config"
	"ragserv/internal/rag/retrieve"
)

type fakeScorer struct {
	calls  int
	scores []float64
	err    error
}

func (f *fakeScorer) Score(_ context.Context, _ string, contents []string) ([]float64, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.scores, nil
}

func items() []retrieve.RetrievedItem {
	return []retrieve.RetrievedItem{
		{ID: "a", Text: "alpha", Score: 0.1},
		{ID: "b", Text: "beta", Score: 0.2},
		{ID: "c", Text: "gamma", Score: 0.3},
	}
}

func TestRerank_OrdersByScoreAndCaches(t *testing.T) {
	fs := &fakeScorer{scores: []float64{0.1, 0.9, 0.5}}
	r := NewCachingReranker(config.RerankConfig{}, fs)

	out, err := r.Rerank(context.Background(), "q", items())
	if err != nil {
		t.Fatalf("rerank: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 items, got %d", len(out))
	}
	if out[0].ID != "b" || out[1].ID != "c" || out[2].ID != "a" {
		t.Fatalf("unexpected order: %s %s %s", out[0].ID, out[1].ID, out[2].ID)
	}

	// Second call with the same query+candidate set should hit the cache.
	if _, err := r.Rerank(context.Background(), "q", items()); err != nil {
		t.Fatalf("rerank (cached): %v", err)
	}
	if fs.calls != 1 {
		t.Fatalf("expected scorer called once due to caching, got %d calls", fs.calls)
	}
}

func TestRerank_FallsBackToOriginalOrderOnScorerError(t *testing.T) {
	fs := &fakeScorer{err: errScorerDown}
	r := NewCachingReranker(config.RerankConfig{}, fs)

	in := items()
	out, err := r.Rerank(context.Background(), "q", in)
	if err != nil {
		t.Fatalf("rerank should not propagate scorer errors: %v", err)
	}
	for i := range in {
		if out[i].ID != in[i].ID {
			t.Fatalf("expected original order preserved on scorer failure")
		}
	}
}

func TestRerank_EmptyInputIsNoop(t *testing.T) {
	r := NewCachingReranker(config.RerankConfig{}, &fakeScorer{})
	out, err := r.Rerank(context.Background(), "q", nil)
	if err != nil || out != nil {
		t.Fatalf("expected nil, nil for empty input, got %v, %v", out, err)
	}
}

var errScorerDown = errTest("scorer unavailable")

type errTest string

func (e errTest) Error() string { return string(e) }
