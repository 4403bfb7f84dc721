package rerank

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"ragserv/internal/config"
	"ragserv/internal/rag/retrieve"
)

// CachingReranker scores candidates with an inner Scorer and caches the
// resulting ordering behind an LRU keyed on query + sorted candidate ids, so
// a repeated query over the same fused candidate set is served from memory.
// Falls back to the incoming order (truncated to top-k by the caller) if the
// scorer errors, rather than failing the whole retrieval.
type CachingReranker struct {
	scorer Scorer
	cache  *lru.LRU[string, []retrieve.RetrievedItem]
}

// NewCachingReranker builds a CachingReranker from config, defaulting cache
// size and TTL to the reference implementation's values (100 entries, 300s).
func NewCachingReranker(cfg config.RerankConfig, scorer Scorer) *CachingReranker {
	size := cfg.CacheSize
	if size <= 0 {
		size = 100
	}
	ttl := cfg.CacheTTLSeconds
	if ttl <= 0 {
		ttl = 300
	}
	return &CachingReranker{
		scorer: scorer,
		cache:  lru.NewLRU[string, []retrieve.RetrievedItem](size, nil, time.Duration(ttl)*time.Second),
	}
}

// Rerank scores items against query, returning them sorted by descending
// rerank score. Order and length are preserved on any scorer failure.
func (c *CachingReranker) Rerank(ctx context.Context, query string, items []retrieve.RetrievedItem) ([]retrieve.RetrievedItem, error) {
	if len(items) == 0 {
		return items, nil
	}
	key := cacheKey(query, cacheKeyIDs(items))
	if cached, ok := c.cache.Get(key); ok {
		return cached, nil
	}

	contents := make([]string, len(items))
	for i, it := range items {
		contents[i] = it.Text
		if contents[i] == "" {
			contents[i] = it.Snippet
		}
	}
	scores, err := c.scorer.Score(ctx, query, contents)
	if err != nil {
		return items, nil
	}

	reranked := make([]retrieve.RetrievedItem, len(items))
	copy(reranked, items)
	for i := range reranked {
		if reranked[i].Explanation == nil {
			reranked[i].Explanation = map[string]any{}
		}
		reranked[i].Explanation["rerank_score"] = scores[i]
	}
	sortByRerankScore(reranked)

	c.cache.Add(key, reranked)
	return reranked, nil
}

// ClearCache drops all cached rerank results.
func (c *CachingReranker) ClearCache() { c.cache.Purge() }

func sortByRerankScore(items []retrieve.RetrievedItem) {
	// insertion sort: item counts per query are small (top-N candidates),
	// and this keeps ties in their original fused order (stable).
	for i := 1; i < len(items); i++ {
		for j := i; j > 0 && scoreOf(items[j]) > scoreOf(items[j-1]); j-- {
			items[j], items[j-1] = items[j-1], items[j]
		}
	}
}

func scoreOf(it retrieve.RetrievedItem) float64 {
	if v, ok := it.Explanation["rerank_score"].(float64); ok {
		return v
	}
	return it.Score
}

// cacheKey mirrors the reference implementation: md5 of "query::sorted,ids".
func cacheKey(query string, ids []string) string {
	h := md5.Sum([]byte(query + "::" + strings.Join(ids, ",")))
	return hex.EncodeToString(h[:])
}
