package httpapi

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"ragserv/internal/auth"
	"ragserv/internal/rag/qa"
	"ragserv/internal/rag/retrieve"
	"ragserv/internal/rag/tasks"
	"ragserv/internal/ragerrors"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": "ragserv"})
}

func (s *Server) handleMCPVerify(w http.ResponseWriter, r *http.Request) {
	var body struct {
		APIKey string `json:"api_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.APIKey == "" {
		writeJSON(w, http.StatusOK, map[string]any{"valid": false, "message": "missing api_key"})
		return
	}
	if s.APIKeys == nil || s.AuthStore == nil {
		writeJSON(w, http.StatusOK, map[string]any{"valid": false, "message": "api key verification unavailable"})
		return
	}
	user, err := s.APIKeys.Resolve(r.Context(), body.APIKey, s.AuthStore)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"valid": false, "message": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"valid": true, "message": "ok", "name": user.Name})
}

type queryRequest struct {
	Question   string            `json:"question"`
	TopK       int               `json:"top_k"`
	Filters    map[string]string `json:"filters"`
	GroupIDs   []string          `json:"group_ids"`
	UseHistory bool              `json:"use_history"`
	History    []historyTurn     `json:"history"`
}

type historyTurn struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	req, err := decodeQueryRequest(r)
	if err != nil {
		ragerrors.WriteError(w, err)
		return
	}
	if s.Chain == nil {
		ragerrors.WriteError(w, ragerrors.New(ragerrors.KindInternal, "qa chain is not configured"))
		return
	}

	answer, err := s.Chain.Ask(r.Context(), toQARequest(req, r, s))
	if err != nil {
		ragerrors.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"answer":          answer.Text,
		"sources":         answer.Sources,
		"retrieved_count": answer.RetrievedCount,
		"usage":           answer.Usage,
		"highlights":      answer.Highlights,
		"from_cache":      answer.FromCache,
	})
}

func (s *Server) handleQueryStream(w http.ResponseWriter, r *http.Request) {
	req, err := decodeQueryRequest(r)
	if err != nil {
		ragerrors.WriteError(w, err)
		return
	}
	if s.Chain == nil {
		ragerrors.WriteError(w, ragerrors.New(ragerrors.KindInternal, "qa chain is not configured"))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		ragerrors.WriteError(w, ragerrors.New(ragerrors.KindInternal, "streaming unsupported"))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	sink := &sseSink{w: bufio.NewWriter(w), flusher: flusher}
	_ = s.Chain.AskStream(r.Context(), toQARequest(req, r, s), sink)
	sink.w.Flush()
}

// sseSink writes StreamEvents as `data: <json>\n\n` frames, per spec.md §6's
// SSE event schema.
type sseSink struct {
	w       *bufio.Writer
	flusher http.Flusher
}

func (s *sseSink) Send(ev qa.StreamEvent) error {
	body, err := json.Marshal(map[string]any{"type": ev.Type, "data": ev.Data})
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", body); err != nil {
		return err
	}
	if err := s.w.Flush(); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func decodeQueryRequest(r *http.Request) (queryRequest, error) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return queryRequest{}, ragerrors.Wrap(ragerrors.KindValidation, "invalid request body", err)
	}
	if req.Question == "" {
		return queryRequest{}, ragerrors.New(ragerrors.KindValidation, "question is required")
	}
	return req, nil
}

func toQARequest(req queryRequest, r *http.Request, s *Server) qa.Request {
	var turns []qa.Turn
	if req.UseHistory {
		turns = make([]qa.Turn, 0, len(req.History))
		for _, t := range req.History {
			turns = append(turns, qa.Turn{Question: t.Question, Answer: t.Answer})
		}
	}
	return qa.Request{
		Question:  req.Question,
		Tenant:    tenantOf(r),
		GroupIDs:  req.GroupIDs,
		History:   turns,
		UseCache:  true,
		ClientIP:  r.RemoteAddr,
		UserAgent: r.UserAgent(),
	}
}

func tenantOf(r *http.Request) string {
	if u, ok := auth.CurrentUser(r.Context()); ok && u != nil {
		return strconv.FormatInt(u.ID, 10)
	}
	return ""
}

type searchRequest struct {
	Query          string            `json:"query"`
	TopK           int               `json:"top_k"`
	Filters        map[string]string `json:"filters"`
	ScoreThreshold float64           `json:"score_threshold"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ragerrors.WriteError(w, ragerrors.Wrap(ragerrors.KindValidation, "invalid request body", err))
		return
	}
	if req.Query == "" {
		ragerrors.WriteError(w, ragerrors.New(ragerrors.KindValidation, "query is required"))
		return
	}
	if s.Service == nil {
		ragerrors.WriteError(w, ragerrors.New(ragerrors.KindInternal, "retrieval service is not configured"))
		return
	}

	k := req.TopK
	if k <= 0 {
		k = 10
	}
	opt := retrieve.RetrieveOptions{
		K:              k,
		VecK:           k * 2,
		FtK:            k * 2,
		IncludeSnippet: true,
		Tenant:         tenantOf(r),
		Filter:         req.Filters,
	}
	resp, err := s.Service.Retrieve(r.Context(), req.Query, opt)
	if err != nil {
		ragerrors.WriteError(w, err)
		return
	}

	results := make([]retrieve.RetrievedItem, 0, len(resp.Items))
	for _, it := range resp.Items {
		if it.Score < req.ScoreThreshold {
			continue
		}
		results = append(results, it)
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results, "count": len(results)})
}

type addKnowledgeRequest struct {
	Content    string   `json:"content"`
	Title      string   `json:"title"`
	Category   string   `json:"category"`
	GroupNames []string `json:"group_names"`
}

func (s *Server) handleAddKnowledge(w http.ResponseWriter, r *http.Request) {
	var req addKnowledgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ragerrors.WriteError(w, ragerrors.Wrap(ragerrors.KindValidation, "invalid request body", err))
		return
	}
	if req.Content == "" {
		ragerrors.WriteError(w, ragerrors.New(ragerrors.KindValidation, "content is required"))
		return
	}
	if s.TaskQueue == nil {
		ragerrors.WriteError(w, ragerrors.New(ragerrors.KindInternal, "task queue is not configured"))
		return
	}

	taskID, err := newTaskID()
	if err != nil {
		ragerrors.WriteError(w, ragerrors.Wrap(ragerrors.KindInternal, "failed to allocate task id", err))
		return
	}
	payload := tasks.Payload{
		TaskID:     taskID,
		Content:    req.Content,
		Title:      req.Title,
		Category:   req.Category,
		GroupNames: req.GroupNames,
		Tenant:     tenantOf(r),
	}
	if _, err := s.TaskQueue.Enqueue(r.Context(), payload); err != nil {
		ragerrors.WriteError(w, ragerrors.Wrap(ragerrors.KindUpstreamTransient, "failed to enqueue task", err))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"task_id": taskID})
}

func (s *Server) handleAddKnowledgeStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" || s.TaskStore == nil {
		ragerrors.WriteError(w, ragerrors.New(ragerrors.KindNotFound, "task not found"))
		return
	}
	rec, ok, err := s.TaskStore.Get(r.Context(), id)
	if err != nil {
		ragerrors.WriteError(w, ragerrors.Wrap(ragerrors.KindInternal, "failed to look up task", err))
		return
	}
	if !ok {
		ragerrors.WriteError(w, ragerrors.New(ragerrors.KindNotFound, "task not found"))
		return
	}
	resp := map[string]any{"status": rec.Status}
	if rec.ResultID != "" {
		resp["result_id"] = rec.ResultID
	}
	if rec.ErrorMessage != "" {
		resp["message"] = rec.ErrorMessage
	}
	writeJSON(w, http.StatusOK, resp)
}

func newTaskID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
