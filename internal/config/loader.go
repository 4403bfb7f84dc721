package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	yaml "gopkg.in/yaml.v3"
)

// Load reads configuration from environment variables, optionally overlaid
// with a YAML file named by CONFIG_FILE. Environment variables always win;
// the YAML file only fills in fields left empty by the environment. Uses
// Overload, so values from a local .env file replace variables that the
// real environment already set.
func Load() (Config, error) {
	_ = godotenv.Overload()

	cfg := Config{}

	cfg.Host = strings.TrimSpace(os.Getenv("HOST"))
	cfg.Port = intFromEnv("PORT", 8080)
	cfg.LogLevel = strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	cfg.LogPath = firstNonEmpty(strings.TrimSpace(os.Getenv("LOG_PATH")), "ragserv.log")

	cfg.JWT.Secret = strings.TrimSpace(os.Getenv("JWT_SECRET"))
	cfg.JWT.ExpiryHours = intFromEnv("JWT_EXPIRY_HOURS", 72)

	cfg.LLMClient.Provider = strings.TrimSpace(os.Getenv("LLM_PROVIDER"))
	cfg.LLMClient.OpenAI.APIKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	cfg.LLMClient.OpenAI.Model = strings.TrimSpace(os.Getenv("OPENAI_MODEL"))
	cfg.LLMClient.OpenAI.BaseURL = firstNonEmpty(strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")), strings.TrimSpace(os.Getenv("OPENAI_API_BASE_URL")))
	cfg.LLMClient.OpenAI.API = strings.TrimSpace(os.Getenv("OPENAI_API"))
	cfg.LLMClient.OpenAI.LogPayloads = boolFromEnv("LOG_PAYLOADS", false)

	cfg.LLMClient.Anthropic.APIKey = strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY"))
	cfg.LLMClient.Anthropic.Model = strings.TrimSpace(os.Getenv("ANTHROPIC_MODEL"))
	cfg.LLMClient.Anthropic.BaseURL = strings.TrimSpace(os.Getenv("ANTHROPIC_BASE_URL"))
	cfg.LLMClient.Anthropic.PromptCache.Enabled = boolFromEnv("ANTHROPIC_PROMPT_CACHE_ENABLED", false)

	cfg.LLMClient.Google.APIKey = strings.TrimSpace(os.Getenv("GOOGLE_LLM_API_KEY"))
	cfg.LLMClient.Google.Model = strings.TrimSpace(os.Getenv("GOOGLE_LLM_MODEL"))
	cfg.LLMClient.Google.BaseURL = strings.TrimSpace(os.Getenv("GOOGLE_LLM_BASE_URL"))
	cfg.LLMClient.Google.Timeout = intFromEnv("GOOGLE_LLM_TIMEOUT_SECONDS", 0)

	cfg.Embedding.BaseURL = strings.TrimSpace(os.Getenv("EMBED_BASE_URL"))
	cfg.Embedding.Model = strings.TrimSpace(os.Getenv("EMBED_MODEL"))
	cfg.Embedding.APIKey = strings.TrimSpace(os.Getenv("EMBED_API_KEY"))
	cfg.Embedding.Timeout = intFromEnv("EMBED_TIMEOUT_SECONDS", 30)
	cfg.Embedding.Dimensions = intFromEnv("EMBED_DIMENSIONS", 1536)
	if v := strings.TrimSpace(os.Getenv("EMBED_API_HEADERS")); v != "" {
		cfg.Embedding.Headers = parseHeaderList(v)
	}

	cfg.Databases.DefaultDSN = firstNonEmpty(strings.TrimSpace(os.Getenv("DATABASE_URL")), strings.TrimSpace(os.Getenv("DB_URL")), strings.TrimSpace(os.Getenv("POSTGRES_DSN")))
	cfg.Databases.Search.Backend = firstNonEmpty(strings.TrimSpace(os.Getenv("SEARCH_BACKEND")), "bleve")
	cfg.Databases.Search.DSN = strings.TrimSpace(os.Getenv("SEARCH_DSN"))
	cfg.Databases.Search.Index = firstNonEmpty(strings.TrimSpace(os.Getenv("SEARCH_INDEX")), "knowledge")
	cfg.Databases.Vector.Backend = firstNonEmpty(strings.TrimSpace(os.Getenv("VECTOR_BACKEND")), "qdrant")
	cfg.Databases.Vector.DSN = strings.TrimSpace(os.Getenv("VECTOR_DSN"))
	cfg.Databases.Vector.Collection = firstNonEmpty(strings.TrimSpace(os.Getenv("VECTOR_COLLECTION")), "knowledge")
	cfg.Databases.Vector.Dimensions = intFromEnv("VECTOR_DIMENSIONS", cfg.Embedding.Dimensions)
	cfg.Databases.Vector.Metric = firstNonEmpty(strings.TrimSpace(os.Getenv("VECTOR_METRIC")), "cosine")
	cfg.Databases.Graph.Backend = strings.TrimSpace(os.Getenv("GRAPH_BACKEND"))
	cfg.Databases.Graph.DSN = strings.TrimSpace(os.Getenv("GRAPH_DSN"))
	cfg.Databases.Relational.DSN = firstNonEmpty(strings.TrimSpace(os.Getenv("RELATIONAL_DSN")), cfg.Databases.DefaultDSN)

	cfg.Obs.Enabled = boolFromEnv("OTEL_ENABLED", false)
	cfg.Obs.ServiceName = firstNonEmpty(strings.TrimSpace(os.Getenv("OTEL_SERVICE_NAME")), "ragserv")
	cfg.Obs.ServiceVersion = firstNonEmpty(strings.TrimSpace(os.Getenv("SERVICE_VERSION")), "dev")
	cfg.Obs.Environment = firstNonEmpty(strings.TrimSpace(os.Getenv("ENVIRONMENT")), "development")

	cfg.Rerank.Enabled = boolFromEnv("RERANK_ENABLED", false)
	cfg.Rerank.Endpoint = strings.TrimSpace(os.Getenv("RERANK_ENDPOINT"))
	cfg.Rerank.Model = strings.TrimSpace(os.Getenv("RERANK_MODEL"))
	cfg.Rerank.CacheSize = intFromEnv("RERANK_CACHE_SIZE", 512)
	cfg.Rerank.CacheTTLSeconds = intFromEnv("RERANK_CACHE_TTL_SECONDS", 300)
	cfg.Rerank.BatchSize = intFromEnv("RERANK_BATCH_SIZE", 32)
	cfg.Rerank.MaxLength = intFromEnv("RERANK_MAX_LENGTH", 512)
	cfg.Rerank.Timeout = intFromEnv("RERANK_TIMEOUT_SECONDS", 10)

	cfg.SemanticCache.Enabled = boolFromEnv("SEMANTIC_CACHE_ENABLED", true)
	cfg.SemanticCache.SimilarityThreshold = floatFromEnv("SEMANTIC_CACHE_SIMILARITY_THRESHOLD", 0.92)
	cfg.SemanticCache.TTLSeconds = intFromEnv("SEMANTIC_CACHE_TTL_SECONDS", 300)
	cfg.SemanticCache.CleanupIntervalSeconds = intFromEnv("SEMANTIC_CACHE_CLEANUP_INTERVAL_SECONDS", 60)
	cfg.SemanticCache.Collection = firstNonEmpty(strings.TrimSpace(os.Getenv("SEMANTIC_CACHE_COLLECTION")), "semantic_cache")
	cfg.SemanticCache.RedisEnabled = boolFromEnv("SEMANTIC_CACHE_REDIS_ENABLED", false)
	cfg.SemanticCache.RedisAddr = strings.TrimSpace(os.Getenv("SEMANTIC_CACHE_REDIS_ADDR"))
	cfg.SemanticCache.RedisPassword = strings.TrimSpace(os.Getenv("SEMANTIC_CACHE_REDIS_PASSWORD"))
	cfg.SemanticCache.RedisDB = intFromEnv("SEMANTIC_CACHE_REDIS_DB", 0)
	cfg.SemanticCache.RedisTTL = intFromEnv("SEMANTIC_CACHE_REDIS_TTL_SECONDS", 300)

	cfg.ContextBudget.MaxSingleContentChars = intFromEnv("MAX_SINGLE_CONTENT_CHARS", 2000)
	cfg.ContextBudget.MaxContextChars = intFromEnv("MAX_CONTEXT_CHARS", 8000)

	cfg.History.MaxHistoryTurns = intFromEnv("MAX_HISTORY_TURNS", 6)
	cfg.History.KeepRecentTurns = intFromEnv("KEEP_RECENT_TURNS", 3)
	cfg.History.MaxSummaryChars = intFromEnv("MAX_SUMMARY_CHARS", 600)

	cfg.RateLimit.MaxFailedAttempts = intFromEnv("RATE_LIMIT_MAX_FAILED_ATTEMPTS", 5)
	cfg.RateLimit.LockoutSeconds = intFromEnv("RATE_LIMIT_LOCKOUT_SECONDS", 300)

	cfg.Tasks.MaxWorkers = intFromEnv("TASK_MAX_WORKERS", 3)
	cfg.Tasks.QueueSize = intFromEnv("TASK_QUEUE_SIZE", 100)

	cfg.Scheduler.IntervalMinutes = intFromEnv("SCHEDULER_INTERVAL_MINUTES", 10)
	cfg.Scheduler.MisfireGraceSeconds = intFromEnv("SCHEDULER_MISFIRE_GRACE_SECONDS", 300)

	cfg.Auth.AllowLegacyAdminFallback = boolFromEnv("AUTH_ALLOW_LEGACY_ADMIN_FALLBACK", true)
	cfg.Auth.PwnedPasswordCheck = boolFromEnv("AUTH_PWNED_PASSWORD_CHECK", false)

	cfg.Ingest.MaxWorkers = intFromEnv("INGEST_MAX_WORKERS", 3)
	cfg.Ingest.DefaultChunkSize = intFromEnv("INGEST_DEFAULT_CHUNK_SIZE", 1000)
	cfg.Ingest.ChunkOverlap = intFromEnv("INGEST_CHUNK_OVERLAP", 150)

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := overlayYAML(&cfg, path); err != nil {
			return cfg, err
		}
	}

	return cfg, nil
}

// overlay is the subset of Config that may be supplied via CONFIG_FILE. Only
// fields left empty by the environment are filled in from it; it exists for
// operators who prefer a checked-in file over a wall of env vars for the
// handful of settings that rarely change per-deploy.
type overlay struct {
	JWT struct {
		Secret string `yaml:"secret"`
	} `yaml:"jwt"`
	Databases struct {
		DefaultDSN string `yaml:"default_dsn"`
		Vector     struct {
			DSN string `yaml:"dsn"`
		} `yaml:"vector"`
		Search struct {
			DSN string `yaml:"dsn"`
		} `yaml:"search"`
	} `yaml:"databases"`
}

func overlayYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var w overlay
	if err := yaml.Unmarshal(data, &w); err != nil {
		return err
	}
	if cfg.JWT.Secret == "" && w.JWT.Secret != "" {
		cfg.JWT.Secret = w.JWT.Secret
	}
	if cfg.Databases.DefaultDSN == "" && w.Databases.DefaultDSN != "" {
		cfg.Databases.DefaultDSN = w.Databases.DefaultDSN
	}
	if cfg.Databases.Vector.DSN == "" && w.Databases.Vector.DSN != "" {
		cfg.Databases.Vector.DSN = w.Databases.Vector.DSN
	}
	if cfg.Databases.Search.DSN == "" && w.Databases.Search.DSN != "" {
		cfg.Databases.Search.DSN = w.Databases.Search.DSN
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func intFromEnv(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func floatFromEnv(key string, def float64) float64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func boolFromEnv(key string, def bool) bool {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// parseHeaderList parses a comma-separated list of key=value pairs into a map,
// e.g. "x-api-key=abc,x-org=foo".
func parseHeaderList(s string) map[string]string {
	out := map[string]string{}
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out
}
