package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNoAdministrator is returned when an unbound (legacy) API key resolves
// and no administrator user exists to fall back to.
var ErrNoAdministrator = errors.New("auth: legacy api key has no bound user and no administrator exists")

// APIKey mirrors the minimal identity model: a key string, an optional owning
// user, an active flag, an optional expiry, and a usage counter.
type APIKey struct {
	Key       string
	OwnerID   *int64
	Active    bool
	ExpiresAt *time.Time
	UsageCnt  int64
	CreatedAt time.Time
}

// APIKeyStore persists API keys in the same relational pool used by Store.
type APIKeyStore struct {
	pool *pgxpool.Pool

	// AllowLegacyAdminFallback gates whether an unbound key resolves to the
	// first administrator user. When false, unbound keys are rejected.
	AllowLegacyAdminFallback bool

	mu            sync.Mutex
	verifiedCache map[string]verifiedEntry
	cacheTTL      time.Duration
}

type verifiedEntry struct {
	user       *User
	verifiedAt time.Time
}

// NewAPIKeyStore constructs a store. cacheTTL bounds how long a successful
// verification is trusted without hitting the database again; the default
// mirrors the reference implementation's single-mutex verification cache.
func NewAPIKeyStore(pool *pgxpool.Pool, allowLegacyAdminFallback bool, cacheTTL time.Duration) *APIKeyStore {
	if cacheTTL <= 0 {
		cacheTTL = 60 * time.Second
	}
	return &APIKeyStore{
		pool:                     pool,
		AllowLegacyAdminFallback: allowLegacyAdminFallback,
		verifiedCache:            make(map[string]verifiedEntry),
		cacheTTL:                 cacheTTL,
	}
}

// InitSchema creates the api_keys table if it does not exist.
func (s *APIKeyStore) InitSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS api_keys (
  key_hash TEXT PRIMARY KEY,
  owner_id BIGINT REFERENCES users(id) ON DELETE SET NULL,
  active BOOLEAN NOT NULL DEFAULT true,
  expires_at TIMESTAMPTZ,
  usage_count BIGINT NOT NULL DEFAULT 0,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`)
	return err
}

// hashKey stores keys by hash, never in plaintext, matching the teacher's
// treatment of OIDC session ids as opaque tokens rather than raw secrets.
func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// GenerateKey returns a new random API key in plaintext, for one-time display
// to the caller; only its hash is ever persisted.
func GenerateKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "sk-" + base64.RawURLEncoding.EncodeToString(b), nil
}

// Issue creates a new API key, optionally bound to ownerID, with an optional
// expiry (zero means never expires).
func (s *APIKeyStore) Issue(ctx context.Context, ownerID *int64, expiresAt *time.Time) (string, error) {
	key, err := GenerateKey()
	if err != nil {
		return "", err
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO api_keys(key_hash, owner_id, active, expires_at)
VALUES ($1,$2,true,$3)
`, hashKey(key), ownerID, expiresAt)
	if err != nil {
		return "", err
	}
	return key, nil
}

// Revoke deactivates a key.
func (s *APIKeyStore) Revoke(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx, `UPDATE api_keys SET active=false WHERE key_hash=$1`, hashKey(key))
	return err
}

// Resolve verifies key and returns the identity it maps to: the bound owner,
// or (only for unbound legacy keys, and only when AllowLegacyAdminFallback)
// the first administrator user. A missing administrator in that fallback
// path is a fatal configuration error, per spec: callers should treat
// ErrNoAdministrator as a 500, not a 401/403.
func (s *APIKeyStore) Resolve(ctx context.Context, key string, store *Store) (*User, error) {
	if cached, ok := s.cached(key); ok {
		return cached, nil
	}

	var ak APIKey
	var ownerID *int64
	err := s.pool.QueryRow(ctx, `
SELECT owner_id, active, expires_at, usage_count
FROM api_keys WHERE key_hash=$1
`, hashKey(key)).Scan(&ownerID, &ak.Active, &ak.ExpiresAt, &ak.UsageCnt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New("auth: unknown api key")
	}
	if err != nil {
		return nil, err
	}
	if !ak.Active {
		return nil, errors.New("auth: api key is not active")
	}
	if ak.ExpiresAt != nil && time.Now().After(*ak.ExpiresAt) {
		return nil, errors.New("auth: api key has expired")
	}

	var user *User
	if ownerID != nil {
		user, err = store.GetUserByID(ctx, *ownerID)
		if err != nil {
			return nil, err
		}
	} else {
		if !s.AllowLegacyAdminFallback {
			return nil, errors.New("auth: api key is unbound and legacy admin fallback is disabled")
		}
		user, err = store.firstAdministrator(ctx)
		if err != nil {
			return nil, err
		}
		if user == nil {
			return nil, ErrNoAdministrator
		}
		log.Printf("auth: warning: unbound legacy api key resolved to administrator user %d", user.ID)
	}

	_, _ = s.pool.Exec(ctx, `UPDATE api_keys SET usage_count = usage_count + 1 WHERE key_hash=$1`, hashKey(key))
	s.cache(key, user)
	return user, nil
}

func (s *APIKeyStore) cached(key string) (*User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.verifiedCache[key]
	if !ok {
		return nil, false
	}
	if time.Since(e.verifiedAt) > s.cacheTTL {
		delete(s.verifiedCache, key)
		return nil, false
	}
	return e.user, true
}

func (s *APIKeyStore) cache(key string, u *User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verifiedCache[key] = verifiedEntry{user: u, verifiedAt: time.Now()}
}

// firstAdministrator returns the lowest-id user holding the "admin" role, or
// nil if none exists.
func (s *Store) firstAdministrator(ctx context.Context) (*User, error) {
	var u User
	err := s.pool.QueryRow(ctx, `
SELECT u.id, u.email, u.name, u.picture, u.provider, u.subject, u.created_at, u.updated_at
FROM users u
JOIN user_roles ur ON ur.user_id = u.id
JOIN roles r ON r.id = ur.role_id
WHERE r.name = 'admin'
ORDER BY u.id ASC
LIMIT 1
`).Scan(&u.ID, &u.Email, &u.Name, &u.Picture, &u.Provider, &u.Subject, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}
