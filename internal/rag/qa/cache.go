package qa

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"ragserv/internal/config"
	"ragserv/internal/persistence/databases"
	"ragserv/internal/rag/embedder"
)

// CacheEntry is a cached question/answer pair with its sources, grounded on
// original_source/retriever/semantic_cache.py's CacheEntry dataclass.
type CacheEntry struct {
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	Sources   []string  `json:"sources"` // doc ids, for citation replay
	CreatedAt time.Time `json:"created_at"`
	HitCount  int       `json:"hit_count"`
}

// SemanticCache matches near-duplicate questions to a cached answer via
// vector similarity, with an optional Redis front tier for fast exact-ish
// lookups. Per testable property 12 (cache key separation), entries are
// fingerprinted on question||groups||owner_id so two tenants asking the
// same question never collide — this is stricter than the Python original,
// which keyed on the question alone.
type SemanticCache struct {
	vector     databases.VectorStore
	embedder   embedder.Embedder
	threshold  float64
	ttl        time.Duration
	maxEntries int

	redis     *redis.Client
	redisTTL  time.Duration

	mu      sync.Mutex
	hits    int64
	misses  int64
	entries int // approximate local count for max-size enforcement
}

// NewSemanticCache constructs a cache. redisClient may be nil to disable the
// front tier (Redis is always best-effort: see Get/Set).
func NewSemanticCache(vector databases.VectorStore, emb embedder.Embedder, redisClient *redis.Client, cfg config.SemanticCacheConfig) *SemanticCache {
	threshold := cfg.SimilarityThreshold
	if threshold <= 0 {
		threshold = 0.92
	}
	ttl := time.Duration(cfg.TTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = 300 * time.Second
	}
	redisTTL := time.Duration(cfg.RedisTTL) * time.Second
	if redisTTL <= 0 {
		redisTTL = 60 * time.Second
	}
	return &SemanticCache{
		vector:    vector,
		embedder:  emb,
		threshold: threshold,
		ttl:       ttl,
		redis:     redisClient,
		redisTTL:  redisTTL,
	}
}

// Fingerprint computes the cache key per testable property 12: it binds the
// question to the tenant and the exact set of knowledge groups searched, so
// two callers can never observe each other's cached answers.
func Fingerprint(question string, groupIDs []string, ownerID string) string {
	sorted := append([]string(nil), groupIDs...)
	// simple insertion sort; group lists are small
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1] > sorted[j]; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	h := md5.Sum([]byte(question + "||" + strings.Join(sorted, ",") + "||" + ownerID))
	return hex.EncodeToString(h[:])
}

// Get looks up a cached answer for fingerprint fp, trying Redis first (fast
// path) then the vector-backed store. A Redis error is treated as a miss,
// never a failure: the request proceeds to the vector-backed path.
func (c *SemanticCache) Get(ctx context.Context, fp string, question string) (CacheEntry, bool) {
	if c.redis != nil {
		if raw, err := c.redis.Get(ctx, "qa:cache:"+fp).Result(); err == nil {
			var e CacheEntry
			if jsonErr := json.Unmarshal([]byte(raw), &e); jsonErr == nil {
				c.recordHit()
				return e, true
			}
		}
	}

	if c.vector == nil || c.embedder == nil {
		c.recordMiss()
		return CacheEntry{}, false
	}
	vecs, err := c.embedder.EmbedBatch(ctx, []string{question})
	if err != nil || len(vecs) == 0 {
		c.recordMiss()
		return CacheEntry{}, false
	}
	results, err := c.vector.SimilaritySearch(ctx, vecs[0], 1, map[string]string{"fp": fp})
	if err != nil || len(results) == 0 || results[0].Score < c.threshold {
		c.recordMiss()
		return CacheEntry{}, false
	}
	raw, ok := results[0].Metadata["entry"]
	if !ok {
		c.recordMiss()
		return CacheEntry{}, false
	}
	var e CacheEntry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		c.recordMiss()
		return CacheEntry{}, false
	}
	if time.Since(e.CreatedAt) > c.ttl {
		_ = c.vector.Delete(ctx, "cache:"+fp)
		c.recordMiss()
		return CacheEntry{}, false
	}
	e.HitCount++
	c.recordHit()
	c.writeThroughRedis(ctx, fp, e)
	return e, true
}

// Set writes an answer through both tiers. Redis failures are swallowed
// (best-effort front tier); the vector store is the tier of record.
func (c *SemanticCache) Set(ctx context.Context, fp string, entry CacheEntry) error {
	entry.CreatedAt = time.Now()
	c.writeThroughRedis(ctx, fp, entry)

	if c.vector == nil || c.embedder == nil {
		return nil
	}
	vecs, err := c.embedder.EmbedBatch(ctx, []string{entry.Question})
	if err != nil || len(vecs) == 0 {
		return err
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.entries++
	c.mu.Unlock()
	return c.vector.Upsert(ctx, "cache:"+fp, vecs[0], map[string]string{"fp": fp, "entry": string(raw)})
}

func (c *SemanticCache) writeThroughRedis(ctx context.Context, fp string, entry CacheEntry) {
	if c.redis == nil {
		return
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, "qa:cache:"+fp, raw, c.redisTTL).Err()
}

func (c *SemanticCache) recordHit() {
	c.mu.Lock()
	c.hits++
	c.mu.Unlock()
}

func (c *SemanticCache) recordMiss() {
	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
}

// Stats reports hit/miss counters for observability.
func (c *SemanticCache) Stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// scanner is implemented by vector backends that can enumerate stored
// points; used by the background sweep to evict expired/excess entries.
// Not every VectorStore implementation supports it (qdrant's Go client
// surface wired here does not expose scroll), so the sweep degrades to a
// no-op rather than failing when the backend doesn't implement it.
type scanner interface {
	Scroll(ctx context.Context, limit int, filter map[string]string) (ids []string, metadata []map[string]string, err error)
}

// RunCleanup starts a background goroutine that periodically sweeps expired
// entries (TTL) and enforces maxEntries, ported from semantic_cache.py's
// threading.Thread cleanup worker onto a time.Ticker tied to ctx's lifetime.
func (c *SemanticCache) RunCleanup(ctx context.Context, interval time.Duration, maxEntries int) {
	if interval <= 0 {
		interval = time.Minute
	}
	c.maxEntries = maxEntries
	s, ok := c.vector.(scanner)
	if !ok {
		return // nothing to sweep without enumeration support
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.sweep(ctx, s)
			}
		}
	}()
}

func (c *SemanticCache) sweep(ctx context.Context, s scanner) {
	ids, metas, err := s.Scroll(ctx, 1000, nil)
	if err != nil {
		return
	}
	var expired []string
	type aged struct {
		id  string
		at  time.Time
	}
	var all []aged
	for i, id := range ids {
		raw, ok := metas[i]["entry"]
		if !ok {
			continue
		}
		var e CacheEntry
		if json.Unmarshal([]byte(raw), &e) != nil {
			continue
		}
		if time.Since(e.CreatedAt) > c.ttl {
			expired = append(expired, id)
			continue
		}
		all = append(all, aged{id: id, at: e.CreatedAt})
	}
	for _, id := range expired {
		_ = c.vector.Delete(ctx, id)
	}
	if c.maxEntries > 0 && len(all) > c.maxEntries {
		// evict oldest 10%, matching _cleanup_oldest's proportional eviction
		evictN := c.maxEntries / 10
		if evictN < 1 {
			evictN = 1
		}
		for i := 1; i < len(all); i++ {
			for j := i; j > 0 && all[j-1].at.After(all[j].at); j-- {
				all[j-1], all[j] = all[j], all[j-1]
			}
		}
		for i := 0; i < evictN && i < len(all); i++ {
			_ = c.vector.Delete(ctx, all[i].id)
		}
	}
}
