package versions

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

func TestCreateVersion_MonotonicNoGaps(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	tr := NewTracker(pool)
	if err := tr.InitSchema(ctx); err != nil {
		t.Fatalf("schema: %v", err)
	}

	entry := "entry:versions-test-1"
	v1, err := tr.CreateVersion(ctx, entry, "hello v1", nil, Create, "alice", "initial")
	if err != nil {
		t.Fatalf("create v1: %v", err)
	}
	if v1.Number != 1 {
		t.Fatalf("expected version 1, got %d", v1.Number)
	}
	v2, err := tr.CreateVersion(ctx, entry, "hello v2", nil, Update, "alice", "edit")
	if err != nil {
		t.Fatalf("create v2: %v", err)
	}
	if v2.Number != 2 {
		t.Fatalf("expected version 2, got %d", v2.Number)
	}

	history, err := tr.History(ctx, entry)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 versions, got %d", len(history))
	}
	for i, v := range history {
		if v.Number != i+1 {
			t.Fatalf("gap in version sequence at index %d: %d", i, v.Number)
		}
	}
}

func TestRollbackTo_CreatesNewVersionWithOldContent(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	tr := NewTracker(pool)
	if err := tr.InitSchema(ctx); err != nil {
		t.Fatalf("schema: %v", err)
	}

	entry := "entry:versions-test-2"
	if _, err := tr.CreateVersion(ctx, entry, "v1 content", nil, Create, "bob", "initial"); err != nil {
		t.Fatalf("create v1: %v", err)
	}
	if _, err := tr.CreateVersion(ctx, entry, "v2 content", nil, Update, "bob", "edit"); err != nil {
		t.Fatalf("create v2: %v", err)
	}

	rolled, err := tr.RollbackTo(ctx, entry, 1, "bob")
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if rolled.Number != 3 {
		t.Fatalf("expected rollback to create version 3, got %d", rolled.Number)
	}
	if rolled.Content != "v1 content" {
		t.Fatalf("expected rollback content to match v1, got %q", rolled.Content)
	}
	if rolled.Change != Update {
		t.Fatalf("expected rollback change_kind=update, got %q", rolled.Change)
	}
	if rolled.Reason != "rollback to v1" {
		t.Fatalf("unexpected rollback reason: %q", rolled.Reason)
	}
}
