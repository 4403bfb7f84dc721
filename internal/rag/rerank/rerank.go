// Package rerank implements the optional cross-encoder reranking stage: a
// batched HTTP scoring client fronted by an LRU+TTL cache keyed on the query
// and the candidate id set, so repeated queries over a stable result set skip
// the network round trip entirely.
package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"ragserv/internal/config"
	"ragserv/internal/rag/retrieve"
)

// Scorer computes cross-encoder relevance scores for query/content pairs.
// HTTPScorer is the production implementation; tests substitute a fake.
type Scorer interface {
	Score(ctx context.Context, query string, contents []string) ([]float64, error)
}

// HTTPScorer calls an external cross-encoder scoring endpoint in batches of
// cfg.BatchSize, truncating each document to cfg.MaxLength runes.
type HTTPScorer struct {
	cfg    config.RerankConfig
	client *http.Client
}

// NewHTTPScorer builds a scorer from config, defaulting batch size, max
// length and timeout to the reference implementation's values.
func NewHTTPScorer(cfg config.RerankConfig) *HTTPScorer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = 512
	}
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPScorer{cfg: cfg, client: &http.Client{Timeout: timeout}}
}

type scoreReq struct {
	Model     string   `json:"model,omitempty"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type scoreResp struct {
	Scores []float64 `json:"scores"`
}

// Score computes one relevance score per content string, batching requests
// at cfg.BatchSize and truncating each document to cfg.MaxLength runes.
func (s *HTTPScorer) Score(ctx context.Context, query string, contents []string) ([]float64, error) {
	if s.cfg.Endpoint == "" {
		return nil, fmt.Errorf("rerank: no endpoint configured")
	}
	out := make([]float64, 0, len(contents))
	for i := 0; i < len(contents); i += s.cfg.BatchSize {
		end := i + s.cfg.BatchSize
		if end > len(contents) {
			end = len(contents)
		}
		batch := make([]string, end-i)
		for j, c := range contents[i:end] {
			batch[j] = truncateRunes(c, s.cfg.MaxLength)
		}
		scores, err := s.scoreBatch(ctx, query, batch)
		if err != nil {
			return nil, err
		}
		out = append(out, scores...)
	}
	return out, nil
}

func (s *HTTPScorer) scoreBatch(ctx context.Context, query string, batch []string) ([]float64, error) {
	body, _ := json.Marshal(scoreReq{Model: s.cfg.Model, Query: query, Documents: batch})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("rerank endpoint error: %s: %s", resp.Status, string(b))
	}
	var sr scoreResp
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("rerank: decode response: %w", err)
	}
	if len(sr.Scores) != len(batch) {
		return nil, fmt.Errorf("rerank: got %d scores for %d documents", len(sr.Scores), len(batch))
	}
	return sr.Scores, nil
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// docID mirrors the reference implementation's cache-key id derivation:
// prefer an explicit id, else fall back to the item's DocID.
func docID(it retrieve.RetrievedItem) string {
	if it.ID != "" {
		return it.ID
	}
	return it.DocID
}

// cacheKeyIDs returns the sorted id list used to derive the cache key, so
// the same candidate set hits the cache regardless of input order.
func cacheKeyIDs(items []retrieve.RetrievedItem) []string {
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = docID(it)
	}
	sort.Strings(ids)
	return ids
}
