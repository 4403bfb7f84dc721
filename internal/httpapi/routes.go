// Package httpapi wires the RAG service, QA chain, and task queue into the
// HTTP surface, following the teacher's routes.go/handlers.go split: stdlib
// net/http + ServeMux, no router dependency.
package httpapi

import (
	"net/http"

	"ragserv/internal/auth"
	"ragserv/internal/rag/qa"
	"ragserv/internal/rag/service"
	"ragserv/internal/rag/tasks"
	"ragserv/internal/rag/versions"
)

// Server holds every dependency a handler might need. Fields may be nil to
// disable the corresponding surface (e.g. TaskQueue nil disables
// /add_knowledge when no relational store is configured).
type Server struct {
	Service   *service.Service
	Chain     *qa.Chain
	TaskQueue *tasks.Queue
	TaskStore *tasks.Store
	Scheduler *tasks.Scheduler
	Versions  *versions.Tracker
	Issuer    *auth.JWTIssuer
	AuthStore *auth.Store
	APIKeys   *auth.APIKeyStore
	Log       Logger
	Version   string
}

// Logger is the minimal logging interface for request-level diagnostics.
type Logger interface {
	Info(msg string, fields map[string]any)
	Error(msg string, fields map[string]any)
}

// Routes builds the application's ServeMux. /health and /mcp/verify are
// intentionally unauthenticated: health checks have no credentials to send,
// and /mcp/verify's entire purpose is validating a caller-supplied key.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /mcp/verify", s.handleMCPVerify)

	protected := auth.BearerMiddleware(s.Issuer, s.AuthStore, s.APIKeys, true)

	mux.Handle("POST /query", protected(http.HandlerFunc(s.handleQuery)))
	mux.Handle("POST /query/stream", protected(http.HandlerFunc(s.handleQueryStream)))
	mux.Handle("POST /search", protected(http.HandlerFunc(s.handleSearch)))
	mux.Handle("POST /add_knowledge", protected(http.HandlerFunc(s.handleAddKnowledge)))
	mux.Handle("GET /add_knowledge/status/{id}", protected(http.HandlerFunc(s.handleAddKnowledgeStatus)))

	return mux
}
