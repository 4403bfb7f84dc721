package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"HOST", "PORT", "LOG_LEVEL", "LOG_PATH", "JWT_SECRET", "JWT_EXPIRY_HOURS",
		"SEARCH_BACKEND", "VECTOR_BACKEND", "VECTOR_DIMENSIONS", "VECTOR_METRIC",
		"SEMANTIC_CACHE_SIMILARITY_THRESHOLD", "RERANK_BATCH_SIZE", "RERANK_MAX_LENGTH",
		"MAX_SINGLE_CONTENT_CHARS", "MAX_CONTEXT_CHARS", "MAX_HISTORY_TURNS",
		"KEEP_RECENT_TURNS", "MAX_SUMMARY_CHARS", "RATE_LIMIT_MAX_FAILED_ATTEMPTS",
		"RATE_LIMIT_LOCKOUT_SECONDS", "SCHEDULER_INTERVAL_MINUTES",
		"AUTH_ALLOW_LEGACY_ADMIN_FALLBACK", "CONFIG_FILE", "EMBED_API_HEADERS",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Port)
	require.Equal(t, "qdrant", cfg.Databases.Vector.Backend)
	require.Equal(t, "bleve", cfg.Databases.Search.Backend)
	require.Equal(t, "cosine", cfg.Databases.Vector.Metric)
	require.Equal(t, 0.92, cfg.SemanticCache.SimilarityThreshold)
	require.Equal(t, 32, cfg.Rerank.BatchSize)
	require.Equal(t, 512, cfg.Rerank.MaxLength)
	require.Equal(t, 2000, cfg.ContextBudget.MaxSingleContentChars)
	require.Equal(t, 8000, cfg.ContextBudget.MaxContextChars)
	require.Equal(t, 6, cfg.History.MaxHistoryTurns)
	require.Equal(t, 3, cfg.History.KeepRecentTurns)
	require.Equal(t, 600, cfg.History.MaxSummaryChars)
	require.True(t, cfg.Auth.AllowLegacyAdminFallback)
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("VECTOR_BACKEND", "memory")
	t.Setenv("SEMANTIC_CACHE_SIMILARITY_THRESHOLD", "0.8")
	t.Setenv("AUTH_ALLOW_LEGACY_ADMIN_FALLBACK", "false")

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Port)
	require.Equal(t, "memory", cfg.Databases.Vector.Backend)
	require.Equal(t, 0.8, cfg.SemanticCache.SimilarityThreshold)
	require.False(t, cfg.Auth.AllowLegacyAdminFallback)
}

func TestLoad_EmbedHeadersList(t *testing.T) {
	clearEnv(t)
	t.Setenv("EMBED_API_HEADERS", "x-api-key=abc, x-org=foo")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, map[string]string{"x-api-key": "abc", "x-org": "foo"}, cfg.Embedding.Headers)
}

func TestLoad_YAMLOverlayFillsEmptyFieldsOnly(t *testing.T) {
	clearEnv(t)
	path := t.TempDir() + "/overlay.yaml"
	contents := "jwt:\n  secret: from-yaml\ndatabases:\n  vector:\n    dsn: qdrant://yaml-host:6334\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "from-yaml", cfg.JWT.Secret)
	require.Equal(t, "qdrant://yaml-host:6334", cfg.Databases.Vector.DSN)

	t.Setenv("JWT_SECRET", "from-env")
	cfg, err = Load()
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.JWT.Secret)
}
