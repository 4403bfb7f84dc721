// Command ragserver is the process entry point for the retrieval-augmented
// QA service: it loads configuration, wires persistence/LLM/retrieval/QA
// components, and serves the HTTP surface, following the teacher's
// cmd/webui/main.go graceful-shutdown pattern.
package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"ragserv/internal/auth"
	"ragserv/internal/auth/ratelimit"
	"ragserv/internal/config"
	"ragserv/internal/httpapi"
	"ragserv/internal/llm/providers"
	"ragserv/internal/logging"
	"ragserv/internal/observability"
	"ragserv/internal/persistence/databases"
	"ragserv/internal/rag/audit"
	"ragserv/internal/rag/embedder"
	"ragserv/internal/rag/qa"
	"ragserv/internal/rag/rerank"
	"ragserv/internal/rag/retrieve"
	"ragserv/internal/rag/service"
	"ragserv/internal/rag/tasks"
	"ragserv/internal/rag/versions"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	observability.InitLogger(cfg.LogPath, cfg.LogLevel)
	shutdownOTel, err := observability.InitOTel(context.Background(), cfg.Obs)
	if err != nil {
		log.Fatalf("init otel: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbManager, err := databases.NewManager(ctx, cfg.Databases)
	if err != nil {
		log.Fatalf("init databases: %v", err)
	}
	defer dbManager.Close()

	var relPool *pgxpool.Pool
	if dsn := cfg.Databases.Relational.DSN; dsn != "" {
		relPool, err = pgxpool.New(ctx, dsn)
		if err != nil {
			log.Fatalf("connect relational db: %v", err)
		}
		defer relPool.Close()
	}

	httpClient := &http.Client{Timeout: 60 * time.Second}
	provider, err := providers.Build(cfg, httpClient)
	if err != nil {
		log.Fatalf("build llm provider: %v", err)
	}
	model := chatModel(cfg)

	emb := embedder.NewClient(cfg.Embedding, cfg.Embedding.Dimensions)

	var reranker retrieve.Reranker = retrieve.NoopReranker{}
	if cfg.Rerank.Enabled {
		scorer := rerank.NewHTTPScorer(cfg.Rerank)
		reranker = rerank.NewCachingReranker(cfg.Rerank, scorer)
	}

	rewriter := retrieve.NewQueryRewriter("multi_query", provider, model, 3)

	svcLog := logging.NewAdapter("rag.service")
	ragService := service.New(dbManager,
		service.WithEmbedder(emb),
		service.WithReranker(reranker),
		service.WithQueryRewriter(rewriter),
		service.WithLogger(svcLog),
	)

	var redisClient *redis.Client
	if cfg.SemanticCache.RedisEnabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.SemanticCache.RedisAddr,
			Password: cfg.SemanticCache.RedisPassword,
			DB:       cfg.SemanticCache.RedisDB,
		})
	}

	var semanticCache *qa.SemanticCache
	if cfg.SemanticCache.Enabled {
		semanticCache = qa.NewSemanticCache(dbManager.Vector, emb, redisClient, cfg.SemanticCache)
		semanticCache.RunCleanup(ctx, time.Duration(cfg.SemanticCache.CleanupIntervalSeconds)*time.Second, 10000)
	}

	var auditLog *audit.Log
	var authStore *auth.Store
	var apiKeyStore *auth.APIKeyStore
	var versionTracker *versions.Tracker
	var taskStore *tasks.Store
	var taskQueue *tasks.Queue
	var scheduler *tasks.Scheduler

	if relPool != nil {
		auditLog = audit.NewLog(relPool)
		if err := auditLog.InitSchema(ctx); err != nil {
			log.Fatalf("init audit schema: %v", err)
		}

		authStore = auth.NewStore(relPool, cfg.JWT.ExpiryHours)
		if err := authStore.InitSchema(ctx); err != nil {
			log.Fatalf("init auth schema: %v", err)
		}
		apiKeyStore = auth.NewAPIKeyStore(relPool, cfg.Auth.AllowLegacyAdminFallback, time.Minute)
		if err := apiKeyStore.InitSchema(ctx); err != nil {
			log.Fatalf("init api key schema: %v", err)
		}
		versionTracker = versions.NewTracker(relPool)
		if err := versionTracker.InitSchema(ctx); err != nil {
			log.Fatalf("init versions schema: %v", err)
		}

		taskStore = tasks.NewStore(relPool)
		if err := taskStore.InitSchema(ctx); err != nil {
			log.Fatalf("init task schema: %v", err)
		}
		processor := &tasks.KnowledgeProcessor{
			LLM:      provider,
			Model:    model,
			Search:   dbManager.Search,
			Vector:   dbManager.Vector,
			Embedder: emb,
		}
		taskLog := logging.NewAdapter("rag.tasks")
		taskQueue = tasks.NewQueue(cfg.Tasks, taskStore, processor, taskLog)
		taskQueue.Start(ctx)
		defer taskQueue.Stop()

		scheduler = tasks.NewScheduler(cfg.Scheduler, func(ctx context.Context) (map[string]any, error) {
			return map[string]any{"triggered": "periodic_reindex"}, nil
		}, taskLog)
		scheduler.Start(ctx, false)
		defer scheduler.Stop()
	} else {
		log.Printf("relational DSN not configured: audit log, auth, versions, and task queue are disabled")
	}

	_ = ratelimit.New(ratelimit.Config{
		MaxFailedAttempts: cfg.RateLimit.MaxFailedAttempts,
		LockoutSeconds:    cfg.RateLimit.LockoutSeconds,
	})

	qaLog := logging.NewAdapter("rag.qa")
	chain := qa.NewChain(provider, model,
		qa.ContextBudget{
			MaxSingleContentChars: cfg.ContextBudget.MaxSingleContentChars,
			MaxContextChars:       cfg.ContextBudget.MaxContextChars,
		},
		qa.HistoryBudget{
			MaxHistoryTurns: cfg.History.MaxHistoryTurns,
			KeepRecentTurns: cfg.History.KeepRecentTurns,
			MaxSummaryChars: cfg.History.MaxSummaryChars,
		},
		qa.WithLogger(qaLog),
		qa.WithRetriever(ragService),
		qa.WithCache(semanticCache),
		qa.WithAudit(auditLog),
	)

	issuer := auth.NewJWTIssuer(cfg.JWT.Secret, cfg.JWT.ExpiryHours, cfg.JWT.ExpiryHours*24)

	srv := &httpapi.Server{
		Service:   ragService,
		Chain:     chain,
		TaskQueue: taskQueue,
		TaskStore: taskStore,
		Scheduler: scheduler,
		Versions:  versionTracker,
		Issuer:    issuer,
		AuthStore: authStore,
		APIKeys:   apiKeyStore,
		Version:   "1.0.0",
	}

	addr := cfg.Host
	if addr == "" {
		addr = "0.0.0.0"
	}
	if cfg.Port != 0 {
		addr = addr + ":" + strconv.Itoa(cfg.Port)
	}

	httpSrv := &http.Server{Addr: addr, Handler: srv.Routes()}

	go func() {
		log.Printf("ragserver listening on %s", addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown error: %v", err)
	}
	if shutdownOTel != nil {
		if err := shutdownOTel(shutdownCtx); err != nil {
			log.Printf("otel shutdown error: %v", err)
		}
	}
	log.Printf("ragserver stopped")
}

func chatModel(cfg config.Config) string {
	switch cfg.LLMClient.Provider {
	case "anthropic":
		return cfg.LLMClient.Anthropic.Model
	case "google":
		return cfg.LLMClient.Google.Model
	default:
		return cfg.LLMClient.OpenAI.Model
	}
}

