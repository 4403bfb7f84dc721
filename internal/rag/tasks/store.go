package tasks

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Record is one persisted task row, surfaced to the
// /add_knowledge/status/{id} endpoint.
type Record struct {
	ID           string
	Status       Status
	Title        string
	Category     string
	ResultID     string
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Store persists task lifecycle rows to the shared relational pool,
// following internal/rag/audit.Log's pgxpool convention.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store { return &Store{pool: pool} }

// InitSchema creates the knowledge_tasks table if it does not exist.
func (s *Store) InitSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS knowledge_tasks (
  id TEXT PRIMARY KEY,
  status TEXT NOT NULL DEFAULT 'pending',
  title TEXT NOT NULL DEFAULT '',
  category TEXT NOT NULL DEFAULT '',
  result_id TEXT NOT NULL DEFAULT '',
  error_message TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS knowledge_tasks_status_idx ON knowledge_tasks(status);
`)
	return err
}

// Create inserts a new pending task row.
func (s *Store) Create(ctx context.Context, id, title, category string) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO knowledge_tasks(id, status, title, category) VALUES ($1, 'pending', $2, $3)
ON CONFLICT (id) DO NOTHING
`, id, title, category)
	return err
}

// SetStatus transitions a task to a new status, optionally recording a
// result id (on completion) or a truncated error message (on failure),
// matching task_queue.py's 500-char error truncation.
func (s *Store) SetStatus(ctx context.Context, id string, status Status, resultID, errMsg string) error {
	if len(errMsg) > 500 {
		errMsg = errMsg[:500]
	}
	_, err := s.pool.Exec(ctx, `
UPDATE knowledge_tasks SET status=$2, result_id=$3, error_message=$4, updated_at=now() WHERE id=$1
`, id, string(status), resultID, errMsg)
	return err
}

// Get fetches a task row by id for status polling.
func (s *Store) Get(ctx context.Context, id string) (Record, bool, error) {
	var r Record
	var status string
	err := s.pool.QueryRow(ctx, `
SELECT id, status, title, category, result_id, error_message, created_at, updated_at
FROM knowledge_tasks WHERE id=$1
`, id).Scan(&r.ID, &status, &r.Title, &r.Category, &r.ResultID, &r.ErrorMessage, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, false, nil
		}
		return Record{}, false, err
	}
	r.Status = Status(status)
	return r, true, nil
}
