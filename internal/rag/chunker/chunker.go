package chunker

import (
    "regexp"
    "strings"

    "ragserv/internal/rag/ingest"
    "ragserv/internal/textsplitters"
)

// Chunk represents a produced chunk of text, carrying the context needed for
// both the embedded/indexed content (Text) and the display/citation metadata.
type Chunk struct {
    Index int
    // Text is the enhanced content: the raw content, optionally prefixed with
    // a breadcrumb, that gets embedded and indexed.
    Text string
    // Raw is the original section/unit content with no breadcrumb prefix.
    Raw string
    // Kind is "document" or "code".
    Kind string

    // Document fields.
    Heading          string
    Level            int
    HeadingHierarchy []string
    FileTitle        string

    // Code fields.
    Language     string
    Symbol       string
    ClassContext string
    Docstring    string
}

// Chunker interface provides text chunking strategies. path is the source
// file path, used for breadcrumbs and citation display.
type Chunker interface {
    Chunk(path, text string, opt ingest.ChunkingOptions) ([]Chunk, error)
}

// SimpleChunker dispatches to a document or code chunker based on the
// strategy hint, falling back to a fixed-size splitter for anything else.
type SimpleChunker struct{}

// Chunk splits text into chunks using strategy hints in options.
func (SimpleChunker) Chunk(path, text string, opt ingest.ChunkingOptions) ([]Chunk, error) {
    strategy := strings.ToLower(opt.Strategy)
    if strategy == "" {
        strategy = "document"
    }
    switch strategy {
    case "document", "markdown", "md":
        return DocumentChunker{}.Chunk(path, text, opt)
    case "code":
        return CodeChunker{}.Chunk(path, text, opt)
    default:
        return fixedChunk(text, opt), nil
    }
}

func targetLen(opt ingest.ChunkingOptions) int {
    n := opt.MaxTokens
    if n <= 0 {
        n = 512
    }
    // treat as approximate characters per chunk if tokens unknown
    return n * 4 // rough 4 chars per token heuristic
}

func overlapChars(opt ingest.ChunkingOptions) int {
    ov := opt.Overlap
    if ov < 0 {
        ov = 0
    }
    return ov * 4
}

// fixedChunk makes contiguous rune-safe chunks of target size with optional
// overlap, delegating to textsplitters' fixed-length splitter (used only as
// a fallback for strategies other than "document"/"code").
func fixedChunk(text string, opt ingest.ChunkingOptions) []Chunk {
    tgt := targetLen(opt)
    if tgt < 32 {
        tgt = 32
    }
    pieces := splitFixed(text, tgt, overlapChars(opt))
    out := make([]Chunk, 0, len(pieces))
    for i, p := range pieces {
        out = append(out, Chunk{Index: i, Text: p, Raw: p, Kind: "document"})
    }
    return out
}

// splitFixed is a small rune-safe wrapper around textsplitters' fixed-length
// splitter, trimming empty/whitespace-only pieces.
func splitFixed(text string, size, overlap int) []string {
    sp, err := textsplitters.NewFromConfig(textsplitters.Config{
        Kind: textsplitters.KindFixed,
        Fixed: textsplitters.FixedConfig{
            Unit:    textsplitters.UnitChars,
            Size:    size,
            Overlap: overlap,
        },
    })
    if err != nil {
        return []string{text}
    }
    var out []string
    for _, p := range sp.Split(text) {
        if s := strings.TrimSpace(p); s != "" {
            out = append(out, p)
        }
    }
    return out
}

// recursiveSeparators is the cascade tried, in order, to split an
// over-budget section without crossing heading/paragraph boundaries first.
var recursiveSeparators = []string{"\n\n## ", "\n\n# ", "\n\n", "\n", " ", ""}

// recursiveSplit splits text so that every piece is at most maxLen runes,
// preferring to break on the earliest separator in the cascade that
// actually appears, with overlap re-included at the start of each
// subsequent piece.
func recursiveSplit(text string, maxLen, overlap int) []string {
    if len(text) <= maxLen || maxLen <= 0 {
        return []string{text}
    }
    return recursiveSplitSep(text, maxLen, overlap, 0)
}

func recursiveSplitSep(text string, maxLen, overlap, sepIdx int) []string {
    if len(text) <= maxLen {
        return []string{text}
    }
    if sepIdx >= len(recursiveSeparators) {
        return hardSplit(text, maxLen, overlap)
    }
    sep := recursiveSeparators[sepIdx]
    if sep == "" {
        return hardSplit(text, maxLen, overlap)
    }
    parts := strings.Split(text, sep)
    if len(parts) <= 1 {
        return recursiveSplitSep(text, maxLen, overlap, sepIdx+1)
    }
    var out []string
    var buf strings.Builder
    flush := func() {
        if s := buf.String(); strings.TrimSpace(s) != "" {
            out = append(out, s)
        }
        buf.Reset()
    }
    for i, p := range parts {
        piece := p
        if i > 0 {
            piece = sep + p
        }
        if buf.Len() > 0 && buf.Len()+len(piece) > maxLen {
            flush()
        }
        buf.WriteString(piece)
        if buf.Len() > maxLen {
            // this single piece is still too big; recurse with the next separator
            sub := recursiveSplitSep(buf.String(), maxLen, overlap, sepIdx+1)
            out = append(out, sub...)
            buf.Reset()
        }
    }
    flush()
    return applyOverlap(out, overlap)
}

// hardSplit is the cascade's last resort when no separator narrows the
// piece further; it delegates to the rune-safe fixed splitter rather than
// slicing on raw byte offsets, which would risk cutting a multi-byte
// (e.g. CJK) rune in half.
func hardSplit(text string, maxLen, overlap int) []string {
    return splitFixed(text, maxLen, overlap)
}

func applyOverlap(pieces []string, overlap int) []string {
    if overlap <= 0 || len(pieces) < 2 {
        return pieces
    }
    out := make([]string, len(pieces))
    out[0] = pieces[0]
    for i := 1; i < len(pieces); i++ {
        prev := pieces[i-1]
        tail := prev
        if len(tail) > overlap {
            tail = tail[len(tail)-overlap:]
        }
        out[i] = tail + pieces[i]
    }
    return out
}

// headingRe matches an ATX markdown heading line and captures its level marker.
var headingRe = regexp.MustCompile(`^(#{1,6})\s+(.*)$`)

// headingStackEntry is one frame of the heading breadcrumb stack.
type headingStackEntry struct {
    level int
    text  string
}

// DocumentChunker segments prose/markdown documents by heading boundaries,
// maintaining a heading stack so every chunk carries a breadcrumb of the
// section hierarchy it belongs to.
type DocumentChunker struct{}

const maxBreadcrumbLen = 200

func (DocumentChunker) Chunk(path, text string, opt ingest.ChunkingOptions) ([]Chunk, error) {
    tgt := targetLen(opt)
    if tgt < 32 {
        tgt = 32
    }
    ov := overlapChars(opt)
    fileTitle := fileTitleFromPath(path)

    lines := strings.Split(text, "\n")
    var out []Chunk
    var stack []headingStackEntry
    var buf strings.Builder
    curHeading := ""
    curLevel := 0

    emit := func() {
        raw := strings.TrimSpace(buf.String())
        buf.Reset()
        if raw == "" {
            return
        }
        hierarchy := headingHierarchy(stack)
        for _, piece := range recursiveSplit(raw, tgt, ov) {
            piece = strings.TrimSpace(piece)
            if piece == "" {
                continue
            }
            out = append(out, Chunk{
                Index:            len(out),
                Text:             withBreadcrumb(path, hierarchy, piece),
                Raw:              piece,
                Kind:             "document",
                Heading:          curHeading,
                Level:            curLevel,
                HeadingHierarchy: hierarchy,
                FileTitle:        fileTitle,
            })
        }
    }

    for _, ln := range lines {
        if m := headingRe.FindStringSubmatch(ln); m != nil {
            // Heading encountered: flush the current section, then pop the
            // stack down to entries with a strictly lower level and push this one.
            emit()
            level := len(m[1])
            for len(stack) > 0 && stack[len(stack)-1].level >= level {
                stack = stack[:len(stack)-1]
            }
            stack = append(stack, headingStackEntry{level: level, text: ln})
            curHeading = ln
            curLevel = level
            continue
        }
        if buf.Len() > 0 {
            buf.WriteString("\n")
        }
        buf.WriteString(ln)
    }
    emit()
    return out, nil
}

func headingHierarchy(stack []headingStackEntry) []string {
    out := make([]string, len(stack))
    for i, e := range stack {
        out[i] = e.text
    }
    return out
}

// withBreadcrumb prefixes content with "[path > H1 > H2 > ...]" built from
// the heading hierarchy with leading "#" markers stripped, truncated to
// maxBreadcrumbLen.
func withBreadcrumb(path string, hierarchy []string, content string) string {
    if len(hierarchy) == 0 {
        return content
    }
    parts := make([]string, 0, len(hierarchy)+1)
    parts = append(parts, path)
    for _, h := range hierarchy {
        parts = append(parts, strings.TrimSpace(strings.TrimLeft(h, "#")))
    }
    crumb := strings.Join(parts, " > ")
    if len(crumb) > maxBreadcrumbLen {
        crumb = crumb[:maxBreadcrumbLen]
    }
    return "[" + crumb + "]\n" + content
}

func fileTitleFromPath(path string) string {
    if path == "" {
        return ""
    }
    base := path
    if i := strings.LastIndexAny(base, "/\\"); i != -1 {
        base = base[i+1:]
    }
    return base
}

// codeUnitRe detects the start of a function/class/method definition across
// the handful of languages this corpus ingests. It is intentionally
// permissive: a false boundary only means an extra (harmless) split point.
var codeUnitRe = regexp.MustCompile(`(?m)^\s*(func |class |def |public |private |protected |type\s+\w+\s+struct)`)
var classRe = regexp.MustCompile(`(?m)^\s*class\s+([A-Za-z_][A-Za-z0-9_]*)`)
var docstringRe = regexp.MustCompile(`(?s)^\s*(?:"""(.*?)"""|'''(.*?)''')`)

// CodeChunker segments source files on function/class boundaries, carrying
// the enclosing class (if any) and the file-level docstring (the
// triple-quoted block at the start of the file) on every chunk. Docstrings
// of individual functions or classes are not extracted.
type CodeChunker struct{}

func (CodeChunker) Chunk(path, text string, opt ingest.ChunkingOptions) ([]Chunk, error) {
    tgt := targetLen(opt)
    if tgt < 32 {
        tgt = 32
    }
    ov := overlapChars(opt)
    lang := languageFromPath(path)
    fileDocstring := extractFileDocstring(text)

    lines := strings.Split(text, "\n")
    var out []Chunk
    var buf strings.Builder
    currentClass := ""

    flush := func(symbol, classCtx string) {
        raw := strings.TrimSpace(buf.String())
        buf.Reset()
        if raw == "" {
            return
        }
        for _, piece := range recursiveSplit(raw, tgt, ov) {
            piece = strings.TrimSpace(piece)
            if piece == "" {
                continue
            }
            out = append(out, Chunk{
                Index:        len(out),
                Text:         enhanceCode(path, symbol, classCtx, piece),
                Raw:          piece,
                Kind:         "code",
                Language:     lang,
                Symbol:       symbol,
                ClassContext: classCtx,
                Docstring:    fileDocstring,
                FileTitle:    fileTitleFromPath(path),
            })
        }
    }

    curSymbol := ""
    for _, ln := range lines {
        if cm := classRe.FindStringSubmatch(ln); cm != nil {
            currentClass = cm[1]
        }
        if codeUnitRe.MatchString(ln) && buf.Len() > 0 {
            flush(curSymbol, currentClass)
            curSymbol = strings.TrimSpace(ln)
        } else if codeUnitRe.MatchString(ln) && buf.Len() == 0 {
            curSymbol = strings.TrimSpace(ln)
        }
        if buf.Len() > 0 {
            buf.WriteString("\n")
        }
        buf.WriteString(ln)
    }
    flush(curSymbol, currentClass)
    return out, nil
}

func enhanceCode(path, symbol, classCtx, content string) string {
    if symbol == "" && classCtx == "" {
        return content
    }
    crumb := path
    if classCtx != "" {
        crumb += " > " + classCtx
    }
    if symbol != "" {
        crumb += " > " + symbol
    }
    return "[" + crumb + "]\n" + content
}

func languageFromPath(path string) string {
    switch {
    case strings.HasSuffix(path, ".go"):
        return "go"
    case strings.HasSuffix(path, ".py"):
        return "python"
    case strings.HasSuffix(path, ".js"), strings.HasSuffix(path, ".ts"):
        return "javascript"
    case strings.HasSuffix(path, ".java"):
        return "java"
    case strings.HasSuffix(path, ".rb"):
        return "ruby"
    default:
        return ""
    }
}

// extractFileDocstring returns the content of the triple-quoted block at the
// top of the file (only whitespace may precede it). The quote style (''' vs
// """) is decided per scan by the opening delimiter, and the block closes
// only at the same style, so mixed-style files aren't misparsed.
func extractFileDocstring(text string) string {
    head := text
    if len(head) > 2000 {
        head = head[:2000]
    }
    m := docstringRe.FindStringSubmatch(head)
    if m == nil {
        return ""
    }
    body := m[1]
    if body == "" {
        body = m[2]
    }
    return strings.TrimSpace(body)
}
