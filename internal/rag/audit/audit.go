// Package audit implements the append-only usage log: one row per LLM
// invocation, recording the request, its outcome, and its cost/latency.
package audit

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Entry is one usage-log row.
type Entry struct {
	ID              int64
	Provider        string
	Model           string
	UserID          *int64
	RequestKind     string // e.g. "query", "query_stream", "add_knowledge"
	Question        string
	AnswerPreview   string
	PromptTokens    int
	CompletionTokens int
	CostEstimate    float64
	DurationMillis  int64
	RetrievedCount  int
	Reranked        bool
	Success         bool
	ErrorMessage    string
	ClientIP        string
	UserAgent       string
	CreatedAt       time.Time
}

// Log writes usage entries to the shared relational pool.
type Log struct {
	pool *pgxpool.Pool
}

func NewLog(pool *pgxpool.Pool) *Log { return &Log{pool: pool} }

// InitSchema creates the usage_logs table if it does not exist.
func (l *Log) InitSchema(ctx context.Context) error {
	_, err := l.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS usage_logs (
  id BIGSERIAL PRIMARY KEY,
  provider TEXT NOT NULL DEFAULT '',
  model TEXT NOT NULL DEFAULT '',
  user_id BIGINT REFERENCES users(id) ON DELETE SET NULL,
  request_kind TEXT NOT NULL,
  question TEXT NOT NULL DEFAULT '',
  answer_preview TEXT NOT NULL DEFAULT '',
  prompt_tokens INT NOT NULL DEFAULT 0,
  completion_tokens INT NOT NULL DEFAULT 0,
  cost_estimate DOUBLE PRECISION NOT NULL DEFAULT 0,
  duration_millis BIGINT NOT NULL DEFAULT 0,
  retrieved_count INT NOT NULL DEFAULT 0,
  reranked BOOLEAN NOT NULL DEFAULT false,
  success BOOLEAN NOT NULL DEFAULT true,
  error_message TEXT NOT NULL DEFAULT '',
  client_ip TEXT NOT NULL DEFAULT '',
  user_agent TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS usage_logs_user_id_idx ON usage_logs(user_id);
CREATE INDEX IF NOT EXISTS usage_logs_created_at_idx ON usage_logs(created_at);
`)
	return err
}

// Record inserts a usage-log row. Entry.ID and Entry.CreatedAt are populated
// on the returned copy.
func (l *Log) Record(ctx context.Context, e Entry) (Entry, error) {
	err := l.pool.QueryRow(ctx, `
INSERT INTO usage_logs(
  provider, model, user_id, request_kind, question, answer_preview,
  prompt_tokens, completion_tokens, cost_estimate, duration_millis,
  retrieved_count, reranked, success, error_message, client_ip, user_agent
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
RETURNING id, created_at
`, e.Provider, e.Model, e.UserID, e.RequestKind, e.Question, e.AnswerPreview,
		e.PromptTokens, e.CompletionTokens, e.CostEstimate, e.DurationMillis,
		e.RetrievedCount, e.Reranked, e.Success, e.ErrorMessage, e.ClientIP, e.UserAgent,
	).Scan(&e.ID, &e.CreatedAt)
	return e, err
}

// Recent returns the most recent n usage-log rows for a user (or all users
// when userID is nil), newest first.
func (l *Log) Recent(ctx context.Context, userID *int64, n int) ([]Entry, error) {
	if n <= 0 {
		n = 50
	}
	const cols = `id, provider, model, user_id, request_kind, question, answer_preview,
       prompt_tokens, completion_tokens, cost_estimate, duration_millis,
       retrieved_count, reranked, success, error_message, client_ip, user_agent, created_at`
	var (
		rows pgx.Rows
		err  error
	)
	if userID != nil {
		rows, err = l.pool.Query(ctx, `SELECT `+cols+` FROM usage_logs WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2`, *userID, n)
	} else {
		rows, err = l.pool.Query(ctx, `SELECT `+cols+` FROM usage_logs ORDER BY created_at DESC LIMIT $1`, n)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Provider, &e.Model, &e.UserID, &e.RequestKind, &e.Question, &e.AnswerPreview,
			&e.PromptTokens, &e.CompletionTokens, &e.CostEstimate, &e.DurationMillis,
			&e.RetrievedCount, &e.Reranked, &e.Success, &e.ErrorMessage, &e.ClientIP, &e.UserAgent, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
