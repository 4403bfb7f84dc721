package databases

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	_ "github.com/blevesearch/bleve/v2/analysis/analyzer/cjk"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
)

// bleveSearch is the BM25-ranked keyword index backend. Documents are
// indexed under two parallel fields: "content" (standard analyzer, for
// Latin-script text) and "content_cjk" (cjk analyzer, which bigrams
// CJK text so short queries still produce useful n-gram overlap). Queries
// search both and bleve's built-in BM25-style scoring picks the best match.
type bleveSearch struct {
	mu  sync.Mutex
	idx bleve.Index
}

type bleveDoc struct {
	Content    string `json:"content"`
	ContentCJK string `json:"content_cjk"`
	Title      string `json:"title"`
	Category   string `json:"category"`
	FilePath   string `json:"file_path"`
	OwnerID    string `json:"owner_id"`
	IsPublic   bool   `json:"is_public"`
	Type       string `json:"type"`
}

// NewBleveSearch opens (or creates) a bleve index at path. An empty path
// creates an in-memory-only index, useful for tests and for single-node
// deployments that don't need the index to survive a restart.
func NewBleveSearch(path string) (FullTextSearch, error) {
	idx, err := openOrCreateBleve(path)
	if err != nil {
		return nil, err
	}
	return &bleveSearch{idx: idx}, nil
}

func openOrCreateBleve(path string) (bleve.Index, error) {
	m := buildIndexMapping()
	if path == "" {
		return bleve.NewMemOnly(m)
	}
	idx, err := bleve.Open(path)
	if err == nil {
		return idx, nil
	}
	return bleve.New(path, m)
}

func buildIndexMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()

	contentField := bleve.NewTextFieldMapping()
	contentField.Analyzer = "standard"

	cjkField := bleve.NewTextFieldMapping()
	cjkField.Analyzer = "cjk"

	keywordField := bleve.NewTextFieldMapping()
	keywordField.Analyzer = "keyword"

	docMapping := bleve.NewDocumentMapping()
	docMapping.AddFieldMappingsAt("content", contentField)
	docMapping.AddFieldMappingsAt("content_cjk", cjkField)
	docMapping.AddFieldMappingsAt("title", contentField)
	docMapping.AddFieldMappingsAt("category", keywordField)
	docMapping.AddFieldMappingsAt("file_path", keywordField)
	docMapping.AddFieldMappingsAt("owner_id", keywordField)
	docMapping.AddFieldMappingsAt("type", keywordField)

	im.DefaultMapping = docMapping
	return im
}

func (b *bleveSearch) Index(_ context.Context, id, text string, metadata map[string]string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	d := bleveDoc{
		Content:    text,
		ContentCJK: text,
		Title:      metadata["title"],
		Category:   metadata["category"],
		FilePath:   metadata["file_path"],
		OwnerID:    metadata["owner_id"],
		IsPublic:   metadata["is_public"] == "true",
		Type:       firstNonEmpty(metadata["type"], "doc"),
	}
	return b.idx.Index(id, d)
}

func (b *bleveSearch) Remove(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.idx.Delete(id)
}

// DeleteByFilePath removes every document whose file_path metadata matches
// path, used by the ingestion coordinator when a source file disappears.
func (b *bleveSearch) DeleteByFilePath(ctx context.Context, path string) error {
	b.mu.Lock()
	q := bleve.NewTermQuery(path)
	q.SetField("file_path")
	req := bleve.NewSearchRequest(q)
	req.Size = 10000
	res, err := b.idx.Search(req)
	b.mu.Unlock()
	if err != nil {
		return err
	}
	for _, hit := range res.Hits {
		if err := b.Remove(ctx, hit.ID); err != nil {
			return err
		}
	}
	return nil
}

func (b *bleveSearch) textQuery(q string) query.Query {
	content := bleve.NewMatchQuery(q)
	content.SetField("content")
	cjk := bleve.NewMatchQuery(q)
	cjk.SetField("content_cjk")
	return bleve.NewDisjunctionQuery(content, cjk)
}

func (b *bleveSearch) Search(ctx context.Context, q string, limit int) ([]SearchResult, error) {
	return b.SearchChunks(ctx, q, "", limit, nil)
}

// SearchChunks runs a ranked keyword search, optionally constrained by a
// "category" filter. Other filter keys are matched by exact metadata equality.
func (b *bleveSearch) SearchChunks(_ context.Context, q string, _ string, limit int, filter map[string]string) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, nil
	}

	textQ := b.textQuery(q)
	finalQ := textQ
	if len(filter) > 0 {
		conj := bleve.NewConjunctionQuery(textQ)
		for k, v := range filter {
			tq := bleve.NewTermQuery(v)
			tq.SetField(k)
			conj.AddQuery(tq)
		}
		finalQ = conj
	}

	req := bleve.NewSearchRequest(finalQ)
	req.Size = limit
	req.Fields = []string{"content", "title", "category", "file_path", "owner_id", "type"}

	b.mu.Lock()
	res, err := b.idx.Search(req)
	b.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("bleve search: %w", err)
	}

	out := make([]SearchResult, 0, len(res.Hits))
	for _, hit := range res.Hits {
		text, _ := hit.Fields["content"].(string)
		out = append(out, SearchResult{
			ID:       hit.ID,
			Score:    hit.Score,
			Snippet:  snippetFrom(text, 120),
			Text:     text,
			Metadata: fieldsToMetadata(hit.Fields),
		})
	}
	return out, nil
}

func (b *bleveSearch) GetByID(_ context.Context, id string) (SearchResult, bool, error) {
	req := bleve.NewSearchRequest(bleve.NewDocIDQuery([]string{id}))
	req.Size = 1
	req.Fields = []string{"content", "title", "category", "file_path", "owner_id", "type"}

	b.mu.Lock()
	res, err := b.idx.Search(req)
	b.mu.Unlock()
	if err != nil {
		return SearchResult{}, false, err
	}
	if len(res.Hits) == 0 {
		return SearchResult{}, false, nil
	}
	hit := res.Hits[0]
	text, _ := hit.Fields["content"].(string)
	return SearchResult{ID: id, Text: text, Metadata: fieldsToMetadata(hit.Fields)}, true, nil
}

// HasChunksTable always reports true: bleve has no notion of separate
// tables, so chunk-prefixed document IDs are always searchable.
func (b *bleveSearch) HasChunksTable(context.Context) (bool, error) { return true, nil }

// UpsertChunk indexes a chunk the same way any other document is indexed;
// the "doc_id"/"idx"/"lang" fields are folded into metadata.
func (b *bleveSearch) UpsertChunk(ctx context.Context, chunkID, docID string, idx int, text string, metadata map[string]string, lang string) error {
	md := copyMap(metadata)
	if md == nil {
		md = map[string]string{}
	}
	md["doc_id"] = docID
	md["type"] = "chunk"
	return b.Index(ctx, chunkID, text, md)
}

// SnippetForID returns a naive substring snippet around the query terms; bleve
// has highlighting support but the simple form is enough for a keyword-index
// snippet fallback (the vector/rerank path is what actually renders citations).
func (b *bleveSearch) SnippetForID(ctx context.Context, id, _ string, query string) (string, bool, error) {
	doc, ok, err := b.GetByID(ctx, id)
	if err != nil || !ok {
		return "", false, err
	}
	return simpleKeywordSnippet(doc.Text, query), true, nil
}

func (b *bleveSearch) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.idx.Close()
}

func snippetFrom(text string, n int) string {
	if len(text) <= n {
		return text
	}
	return text[:n]
}

func fieldsToMetadata(fields map[string]interface{}) map[string]string {
	out := map[string]string{}
	for k, v := range fields {
		if k == "content" {
			continue
		}
		if s, ok := v.(string); ok && s != "" {
			out[k] = s
		}
	}
	return out
}

func simpleKeywordSnippet(text, q string) string {
	lt := strings.ToLower(text)
	for _, term := range strings.Fields(strings.ToLower(q)) {
		if idx := strings.Index(lt, term); idx >= 0 {
			start := idx - 40
			if start < 0 {
				start = 0
			}
			end := idx + len(term) + 80
			if end > len(text) {
				end = len(text)
			}
			return text[start:end]
		}
	}
	return snippetFrom(text, 120)
}
