package audit

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
)

func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	_ = godotenv.Load("../../../.env")
	_ = godotenv.Load("../../../example.env")
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func TestRecordAndRecent(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	l := NewLog(pool)
	if err := l.InitSchema(ctx); err != nil {
		t.Fatalf("schema: %v", err)
	}

	e, err := l.Record(ctx, Entry{
		Provider: "openai", Model: "gpt-4o-mini", RequestKind: "query",
		Question: "what does this do?", AnswerPreview: "it does x",
		PromptTokens: 120, CompletionTokens: 40, RetrievedCount: 8,
		Reranked: true, Success: true, ClientIP: "127.0.0.1", UserAgent: "test-agent",
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if e.ID == 0 {
		t.Fatalf("expected an assigned id")
	}
	if e.CreatedAt.IsZero() {
		t.Fatalf("expected created_at to be populated")
	}

	recent, err := l.Recent(ctx, nil, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	found := false
	for _, r := range recent {
		if r.ID == e.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected recorded entry to appear in Recent")
	}
}
