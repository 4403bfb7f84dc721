package tasks

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"ragserv/internal/llm"
	"ragserv/internal/persistence/databases"
	"ragserv/internal/rag/embedder"
	"ragserv/internal/rag/ingest"
)

// extractedInfo is the LLM's structured read of a knowledge submission,
// mirroring task_queue.py's _extract_info JSON contract.
type extractedInfo struct {
	Title     string   `json:"title"`
	Summary   string   `json:"summary"`
	Keywords  []string `json:"keywords"`
	TechStack []string `json:"tech_stack"`
	Type      string   `json:"type"`
}

var jsonObject = regexp.MustCompile(`(?s)\{.*\}`)

// Processor handles one dequeued Payload end to end.
type Processor interface {
	Process(ctx context.Context, p Payload) (resultID string, err error)
}

// KnowledgeProcessor implements Processor: it extracts structured metadata
// via an LLM (falling back to a deterministic default on any failure),
// builds an enhanced, templated document body, derives an id from a hash of
// the content and the current time, and indexes the result into the
// full-text and vector stores, grounded on task_queue.py's _process_task.
type KnowledgeProcessor struct {
	LLM      llm.Provider
	Model    string
	Search   databases.FullTextSearch
	Vector   databases.VectorStore
	Embedder embedder.Embedder
}

func (kp *KnowledgeProcessor) Process(ctx context.Context, p Payload) (string, error) {
	info := kp.extractInfo(ctx, p)
	enhanced := buildEnhancedContent(p, info)
	docID := contentHashID(p.Content)

	category := info.Type
	if category == "" {
		category = p.Category
	}
	if category == "" {
		category = "general"
	}

	metadata := map[string]any{
		"summary":    info.Summary,
		"keywords":   info.Keywords,
		"tech_stack": info.TechStack,
		"type":       "knowledge",
		"is_public":  p.IsPublic,
	}

	req := ingest.IngestRequest{
		ID:       docID,
		Title:    firstNonEmpty(info.Title, p.Title, "Untitled knowledge"),
		Source:   "knowledge",
		Text:     enhanced,
		Metadata: metadata,
		Tenant:   p.Tenant,
		Options: ingest.IngestOptions{
			Embedding:      ingest.EmbeddingOptions{Enabled: kp.Vector != nil && kp.Embedder != nil},
			ReingestPolicy: ingest.ReingestOverwrite,
		},
	}
	pre := ingest.PreprocessedDoc{Text: enhanced, Hash: docID}
	chunks := []ingest.ChunkRecord{{Index: 0, Text: enhanced}}

	if kp.Search != nil {
		if err := ingest.UpsertDocumentToSearch(ctx, kp.Search, docID, req, pre, 1); err != nil {
			return "", fmt.Errorf("index document: %w", err)
		}
		if _, err := ingest.UpsertChunksToSearch(ctx, kp.Search, docID, "", chunks, req, 1); err != nil {
			return "", fmt.Errorf("index chunks: %w", err)
		}
	}
	if kp.Vector != nil && kp.Embedder != nil {
		if _, err := ingest.UpsertChunkEmbeddings(ctx, kp.Vector, kp.Embedder, docID, "", chunks, req, 1); err != nil {
			return "", fmt.Errorf("upsert embeddings: %w", err)
		}
	}
	return docID, nil
}

func (kp *KnowledgeProcessor) extractInfo(ctx context.Context, p Payload) extractedInfo {
	fallback := extractedInfo{
		Title:   firstNonEmpty(p.Title, "Untitled knowledge"),
		Summary: truncateBytes(p.Content, 100),
		Type:    "general",
	}
	if kp.LLM == nil {
		return fallback
	}
	prompt := fmt.Sprintf(`Analyze the following content and extract key information as JSON
(respond with JSON only, no other text):

Content:
%s

Respond with exactly this shape:
{
  "title": "a concise title (only if the user did not already provide one)",
  "summary": "a summary under 50 words",
  "keywords": ["keyword1", "keyword2", "keyword3"],
  "tech_stack": ["relevant technologies"],
  "type": "one of: project/skill/experience/note/other"
}`, p.Content)

	msg, err := kp.LLM.Chat(ctx, []llm.Message{{Role: "user", Content: prompt}}, nil, kp.Model)
	if err != nil {
		return fallback
	}
	match := jsonObject.FindString(msg.Content)
	if match == "" {
		return fallback
	}
	var info extractedInfo
	if err := json.Unmarshal([]byte(match), &info); err != nil {
		return fallback
	}
	return info
}

func buildEnhancedContent(p Payload, info extractedInfo) string {
	title := firstNonEmpty(info.Title, p.Title, "Knowledge entry")
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "## Summary\n%s\n\n", info.Summary)
	fmt.Fprintf(&b, "## Keywords\n%s\n\n", strings.Join(info.Keywords, ", "))
	fmt.Fprintf(&b, "## Tech stack\n%s\n\n", strings.Join(info.TechStack, ", "))
	fmt.Fprintf(&b, "## Details\n%s\n", p.Content)
	return b.String()
}

// contentHashID derives an id from content plus the current timestamp,
// matching task_queue.py's md5(content:timestamp) scheme; the same content
// gets a different id on each call.
func contentHashID(content string) string {
	h := md5.Sum([]byte(content + ":" + time.Now().UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(h[:])
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func truncateBytes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
