package chunker

import (
	"strings"
	"testing"

	"ragserv/internal/rag/ingest"
)

func genText(words int) string {
	var b strings.Builder
	for i := 0; i < words; i++ {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString("word")
	}
	return b.String()
}

func TestFixedChunk_SizeToleranceAndOverlap(t *testing.T) {
	text := genText(2000) // ~8000 chars
	ch := SimpleChunker{}
	opt := ingest.ChunkingOptions{Strategy: "fixed", MaxTokens: 200, Overlap: 10}
	chunks, err := ch.Chunk("words.txt", text, opt)
	if err != nil {
		t.Fatalf("chunk error: %v", err)
	}
	if len(chunks) == 0 {
		t.Fatalf("expected some chunks")
	}
	tgt := 200 * 4
	tolLow, tolHigh := int(float64(tgt)*0.9), int(float64(tgt)*1.1)
	for i, c := range chunks {
		if i == len(chunks)-1 {
			break
		}
		if l := len(c.Text); !(l >= tolLow && l <= tolHigh) {
			t.Fatalf("chunk %d length %d out of tolerance [%d,%d]", i, l, tolLow, tolHigh)
		}
	}
}

// TestDocumentChunker_S1 exercises the breadcrumb/heading-hierarchy contract.
func TestDocumentChunker_S1(t *testing.T) {
	text := "# Intro\n\nHello\n\n## Setup\n\nRun `make`."
	chunks, err := DocumentChunker{}.Chunk("docs/a.md", text, ingest.ChunkingOptions{MaxTokens: 512})
	if err != nil {
		t.Fatalf("chunk error: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d: %#v", len(chunks), chunks)
	}
	if chunks[0].Heading != "# Intro" {
		t.Fatalf("chunk 0 heading = %q", chunks[0].Heading)
	}
	if got, want := chunks[0].HeadingHierarchy, []string{"# Intro"}; !equalStrs(got, want) {
		t.Fatalf("chunk 0 hierarchy = %v, want %v", got, want)
	}
	if !strings.HasPrefix(chunks[0].Text, "[docs/a.md > Intro]") {
		t.Fatalf("chunk 0 text missing breadcrumb: %q", chunks[0].Text)
	}
	if chunks[1].Heading != "## Setup" {
		t.Fatalf("chunk 1 heading = %q", chunks[1].Heading)
	}
	if got, want := chunks[1].HeadingHierarchy, []string{"# Intro", "## Setup"}; !equalStrs(got, want) {
		t.Fatalf("chunk 1 hierarchy = %v, want %v", got, want)
	}
}

func TestDocumentChunker_SplitsOversizedSection(t *testing.T) {
	var body strings.Builder
	body.WriteString("# Title\n\n")
	for i := 0; i < 50; i++ {
		body.WriteString("This is a sentence that adds some bulk to the section. ")
	}
	chunks, err := DocumentChunker{}.Chunk("docs/big.md", body.String(), ingest.ChunkingOptions{MaxTokens: 20})
	if err != nil {
		t.Fatalf("chunk error: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected the oversized section to split into multiple chunks, got %d", len(chunks))
	}
	for _, c := range chunks {
		if c.Heading != "# Title" {
			t.Fatalf("expected every split piece to retain the section heading, got %q", c.Heading)
		}
	}
}

func TestDocumentChunker_Idempotent(t *testing.T) {
	text := "# A\n\npara one\n\n## B\n\npara two\n\n## C\n\npara three"
	a, err := DocumentChunker{}.Chunk("docs/x.md", text, ingest.ChunkingOptions{MaxTokens: 64})
	if err != nil {
		t.Fatalf("chunk error: %v", err)
	}
	b, err := DocumentChunker{}.Chunk("docs/x.md", text, ingest.ChunkingOptions{MaxTokens: 64})
	if err != nil {
		t.Fatalf("chunk error: %v", err)
	}
	if len(a) != len(b) {
		t.Fatalf("non-deterministic chunk count: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].Text != b[i].Text {
			t.Fatalf("non-deterministic chunk %d text", i)
		}
	}
}

func TestCodeChunker_SplitsOnFunctionBoundaries(t *testing.T) {
	text := "package x\n\nclass Widget:\n    \"\"\"file docstring\"\"\"\n\n    def A():\n        pass\n\n    def B():\n        pass\n"
	chunks, err := CodeChunker{}.Chunk("pkg/widget.py", text, ingest.ChunkingOptions{MaxTokens: 8})
	if err != nil {
		t.Fatalf("chunk error: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	foundClass := false
	for _, c := range chunks {
		if c.ClassContext == "Widget" {
			foundClass = true
		}
		if c.Language != "python" {
			t.Fatalf("expected python language, got %q", c.Language)
		}
	}
	if !foundClass {
		t.Fatalf("expected at least one chunk to carry the enclosing class context")
	}
}

func equalStrs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
