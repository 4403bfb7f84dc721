// Package versions implements the append-only knowledge-entry version
// tracker: full-content snapshots with strictly monotonic per-entry version
// numbers and rollback-as-new-version semantics.
package versions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ChangeKind classifies what a version record represents.
type ChangeKind string

const (
	Create ChangeKind = "create"
	Update ChangeKind = "update"
	Delete ChangeKind = "delete"
)

// Version is a full-content snapshot of a knowledge entry at a point in time.
type Version struct {
	EntryID   string
	Number    int
	Content   string
	Metadata  map[string]string
	Change    ChangeKind
	Actor     string
	Reason    string
	CreatedAt time.Time
}

// Tracker persists versions to the shared relational pool.
type Tracker struct {
	pool *pgxpool.Pool
}

func NewTracker(pool *pgxpool.Pool) *Tracker { return &Tracker{pool: pool} }

// InitSchema creates the knowledge_versions table if it does not exist. The
// unique constraint on (entry_id, version) is what makes concurrent
// CreateVersion calls for the same entry safe: a losing writer's insert
// fails with a unique-violation and retries against the new max.
func (t *Tracker) InitSchema(ctx context.Context) error {
	_, err := t.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS knowledge_versions (
  entry_id TEXT NOT NULL,
  version INT NOT NULL,
  content TEXT NOT NULL,
  metadata JSONB NOT NULL DEFAULT '{}',
  change_kind TEXT NOT NULL,
  actor TEXT NOT NULL DEFAULT '',
  reason TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  PRIMARY KEY (entry_id, version)
);
`)
	return err
}

const maxCreateRetries = 5

// CreateVersion assigns next_version = max(version for entry_id) + 1
// (starting at 1) and inserts a row. Retries on a unique-constraint race
// against a concurrent writer for the same entry.
func (t *Tracker) CreateVersion(ctx context.Context, entryID, content string, metadata map[string]string, change ChangeKind, actor, reason string) (*Version, error) {
	if metadata == nil {
		metadata = map[string]string{}
	}
	var last error
	for attempt := 0; attempt < maxCreateRetries; attempt++ {
		next, err := t.nextVersion(ctx, entryID)
		if err != nil {
			return nil, err
		}
		var createdAt time.Time
		err = t.pool.QueryRow(ctx, `
INSERT INTO knowledge_versions(entry_id, version, content, metadata, change_kind, actor, reason)
VALUES ($1,$2,$3,$4,$5,$6,$7)
RETURNING created_at
`, entryID, next, content, metadataJSON(metadata), string(change), actor, reason).Scan(&createdAt)
		if err == nil {
			return &Version{
				EntryID: entryID, Number: next, Content: content, Metadata: metadata,
				Change: change, Actor: actor, Reason: reason, CreatedAt: createdAt,
			}, nil
		}
		if !isUniqueViolation(err) {
			return nil, err
		}
		last = err
	}
	return nil, fmt.Errorf("versions: exhausted retries creating version for %s: %w", entryID, last)
}

// RollbackTo creates a new version for entryID whose content and metadata
// equal targetVersion's snapshot, with change_kind=update and a
// "rollback to vN" reason. It does not touch the vector store; a
// higher-level routine must re-embed if content changed.
func (t *Tracker) RollbackTo(ctx context.Context, entryID string, targetVersion int, actor string) (*Version, error) {
	target, err := t.GetVersion(ctx, entryID, targetVersion)
	if err != nil {
		return nil, err
	}
	reason := fmt.Sprintf("rollback to v%d", targetVersion)
	return t.CreateVersion(ctx, entryID, target.Content, target.Metadata, Update, actor, reason)
}

// GetVersion fetches a specific version snapshot.
func (t *Tracker) GetVersion(ctx context.Context, entryID string, version int) (*Version, error) {
	var v Version
	var md []byte
	var change string
	err := t.pool.QueryRow(ctx, `
SELECT entry_id, version, content, metadata, change_kind, actor, reason, created_at
FROM knowledge_versions WHERE entry_id=$1 AND version=$2
`, entryID, version).Scan(&v.EntryID, &v.Number, &v.Content, &md, &change, &v.Actor, &v.Reason, &v.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("versions: no version %d for entry %s", version, entryID)
	}
	if err != nil {
		return nil, err
	}
	v.Change = ChangeKind(change)
	v.Metadata = parseMetadataJSON(md)
	return &v, nil
}

// History returns all versions for entryID, oldest first.
func (t *Tracker) History(ctx context.Context, entryID string) ([]Version, error) {
	rows, err := t.pool.Query(ctx, `
SELECT entry_id, version, content, metadata, change_kind, actor, reason, created_at
FROM knowledge_versions WHERE entry_id=$1 ORDER BY version ASC
`, entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Version
	for rows.Next() {
		var v Version
		var md []byte
		var change string
		if err := rows.Scan(&v.EntryID, &v.Number, &v.Content, &md, &change, &v.Actor, &v.Reason, &v.CreatedAt); err != nil {
			return nil, err
		}
		v.Change = ChangeKind(change)
		v.Metadata = parseMetadataJSON(md)
		out = append(out, v)
	}
	return out, rows.Err()
}

func (t *Tracker) nextVersion(ctx context.Context, entryID string) (int, error) {
	var max int
	err := t.pool.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM knowledge_versions WHERE entry_id=$1`, entryID).Scan(&max)
	if err != nil {
		return 0, err
	}
	return max + 1, nil
}
