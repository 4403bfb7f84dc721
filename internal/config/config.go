package config

// Config is the process-wide configuration, populated by Load from environment
// variables (and an optional .env file). Nested sections mirror the
// subsystems that consume them; a section with an empty DSN/backend is
// treated as "disabled" by its constructor rather than erroring at load time.
type Config struct {
	Host     string
	Port     int
	LogLevel string
	LogPath  string

	JWT           JWTConfig
	Embedding     EmbeddingConfig
	LLMClient     LLMClientConfig
	Databases     DBConfig
	Obs           ObsConfig
	Rerank        RerankConfig
	SemanticCache SemanticCacheConfig
	ContextBudget ContextBudgetConfig
	History       HistoryConfig
	RateLimit     RateLimitConfig
	Tasks         TasksConfig
	Scheduler     SchedulerConfig
	Auth          AuthConfig
	Ingest        IngestConfig
}

// JWTConfig configures bearer-token issuance and verification for the HTTP API.
type JWTConfig struct {
	Secret      string
	ExpiryHours int
}

// EmbeddingConfig points at an OpenAI-compatible embeddings endpoint.
type EmbeddingConfig struct {
	BaseURL    string
	Model      string
	APIKey     string
	Headers    map[string]string
	Timeout    int
	Dimensions int
}

// OpenAIConfig configures the OpenAI chat-completions backed LLM client.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	API         string
	ExtraParams map[string]any
	LogPayloads bool
}

// AnthropicPromptCacheConfig controls Anthropic prompt-cache breakpoints.
type AnthropicPromptCacheConfig struct {
	Enabled       bool
	CacheSystem   bool
	CacheTools    bool
	CacheMessages bool
}

// AnthropicConfig configures the Anthropic messages-API backed LLM client.
type AnthropicConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	PromptCache AnthropicPromptCacheConfig
	ExtraParams map[string]any
}

// GoogleConfig configures the Gemini backed LLM client.
type GoogleConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout int
}

// LLMClientConfig selects and configures the active chat-completion provider.
// QA orchestration reads Provider to pick which sub-config to dial.
type LLMClientConfig struct {
	Provider  string
	OpenAI    OpenAIConfig
	Anthropic AnthropicConfig
	Google    GoogleConfig
}

// SearchConfig configures the keyword/BM25 index backend.
type SearchConfig struct {
	Backend string
	DSN     string
	Index   string
}

// VectorConfig configures the vector store backend and its default collection.
type VectorConfig struct {
	Backend    string
	DSN        string
	Collection string
	Dimensions int
	Metric     string
}

// GraphConfig configures the optional graph-expansion backend.
type GraphConfig struct {
	Backend string
	DSN     string
}

// RelationalConfig configures the Postgres pool backing users, api keys,
// knowledge entries/groups/versions/tasks and usage logs.
type RelationalConfig struct {
	DSN string
}

// DBConfig groups all persistence backends behind one config section.
type DBConfig struct {
	DefaultDSN string
	Search     SearchConfig
	Vector     VectorConfig
	Graph      GraphConfig
	Relational RelationalConfig
}

// ObsConfig configures OpenTelemetry tracing/metrics.
type ObsConfig struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	Environment    string
}

// RerankConfig configures the optional cross-encoder reranking stage.
type RerankConfig struct {
	Enabled         bool
	Endpoint        string
	Model           string
	CacheSize       int
	CacheTTLSeconds int
	BatchSize       int
	MaxLength       int
	Timeout         int
}

// SemanticCacheConfig configures the vector-backed answer cache and its
// optional Redis front tier.
type SemanticCacheConfig struct {
	Enabled                bool
	SimilarityThreshold    float64
	TTLSeconds             int
	CleanupIntervalSeconds int
	Collection             string

	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTTL      int
}

// ContextBudgetConfig bounds how much retrieved text reaches the LLM prompt.
type ContextBudgetConfig struct {
	MaxSingleContentChars int
	MaxContextChars       int
}

// HistoryConfig bounds conversation history carried into each QA turn.
type HistoryConfig struct {
	MaxHistoryTurns int
	KeepRecentTurns int
	MaxSummaryChars int
}

// RateLimitConfig configures the login attempt limiter.
type RateLimitConfig struct {
	MaxFailedAttempts int
	LockoutSeconds    int
}

// TasksConfig configures the async ingestion task queue.
type TasksConfig struct {
	MaxWorkers int
	QueueSize  int
}

// SchedulerConfig configures the periodic background job runner.
type SchedulerConfig struct {
	IntervalMinutes     int
	MisfireGraceSeconds int
}

// AuthConfig holds authentication feature flags not tied to JWT issuance.
type AuthConfig struct {
	AllowLegacyAdminFallback bool
	PwnedPasswordCheck       bool
}

// IngestConfig configures the ingestion coordinator's chunking defaults.
type IngestConfig struct {
	MaxWorkers       int
	DefaultChunkSize int
	ChunkOverlap     int
}
