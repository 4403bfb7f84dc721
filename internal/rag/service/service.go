package service

import (
	"context"
	"strings"
	"time"

	"ragserv/internal/persistence/databases"
	"ragserv/internal/rag/chunker"
	"ragserv/internal/rag/embedder"
	"ragserv/internal/rag/ingest"
	"ragserv/internal/rag/retrieve"
)

// Service provides high-level RAG operations backed by Search, Vector, and Graph.
type Service struct {
	search databases.FullTextSearch
	vector databases.VectorStore
	graph  databases.GraphDB

	log     Logger
	metrics Metrics
	clock   Clock
	emb      embedder.Embedder
	rerank   retrieve.Reranker
	rewriter retrieve.QueryRewriter
}

// New constructs a Service from a databases.Manager and optional observability.
func New(mgr databases.Manager, opts ...Option) *Service {
	s := &Service{
		search:  mgr.Search,
		vector:  mgr.Vector,
		graph:   mgr.Graph,
		log:     defaultLogger{},
		metrics: NoopMetrics{},
		clock:   SystemClock{},
		emb:     embedder.NewDeterministic(64, true, 0),
		rerank:  retrieve.NoopReranker{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Option configures the Service during construction.
type Option func(*Service)

// WithLogger sets a custom logger.
func WithLogger(l Logger) Option { return func(s *Service) { s.log = l } }

// WithMetrics sets a custom metrics collector.
func WithMetrics(m Metrics) Option { return func(s *Service) { s.metrics = m } }

// WithClock sets a custom clock implementation.
func WithClock(c Clock) Option { return func(s *Service) { s.clock = c } }

// WithEmbedder sets a custom embedder implementation used during ingestion.
func WithEmbedder(e embedder.Embedder) Option { return func(s *Service) { s.emb = e } }

// WithReranker sets a reranker implementation used during retrieval.
func WithReranker(r retrieve.Reranker) Option { return func(s *Service) { s.rerank = r } }

// WithQueryRewriter sets a multi-query/HyDE query rewriter used during retrieval.
func WithQueryRewriter(r retrieve.QueryRewriter) Option { return func(s *Service) { s.rewriter = r } }

// Ingest performs chunk-centric ingestion: preprocessing, idempotency
// resolution, chunking, full-text indexing, and optional embedding and graph
// upserts.
func (s *Service) Ingest(ctx context.Context, in ingest.IngestRequest) (ingest.IngestResponse, error) {
	start := s.clock.Now()
	// Metrics: count documents
	s.metrics.IncCounter("ingestion_docs_total", map[string]string{"tenant": in.Tenant})
	// Step 1: preprocess (normalize, language, hash)
	t0 := s.clock.Now()
	pre, err := ingest.Preprocess(ctx, ingest.DefaultLanguageDetector{}, in)
	if err != nil {
		return ingest.IngestResponse{}, err
	}
	s.metrics.ObserveHistogram("ingestion_stage_ms", float64(ms(s.clock.Now().Sub(t0))), map[string]string{"stage": "preprocess", "tenant": in.Tenant})
	// Step 2: idempotency resolution. No DocumentLookup is passed, so every
	// document is unknown to ResolveIdempotency and the decision is create.
	t0 = s.clock.Now()
	decision, err := ingest.ResolveIdempotency(ctx, nil, in.Tenant, in, pre)
	if err != nil {
		return ingest.IngestResponse{}, err
	}
	s.metrics.ObserveHistogram("ingestion_stage_ms", float64(ms(s.clock.Now().Sub(t0))), map[string]string{"stage": "idempotency", "tenant": in.Tenant})
	if decision.Action == "skip" {
		return ingest.IngestResponse{
			DocID:    decision.DocID,
			Version:  decision.Version,
			ChunkIDs: nil,
			Stats: ingest.IngestStats{
				NumChunks:     0,
				TotalTokens:   0,
				VectorUpserts: 0,
				Duration:      s.clock.Now().Sub(start),
			},
		}, nil
	}

	// Step 3: chunking
	ch := chunker.SimpleChunker{}
	t0 = s.clock.Now()
	chunks, err := ch.Chunk(filePath(in), pre.Text, in.Options.Chunking)
	if err != nil {
		return ingest.IngestResponse{}, err
	}
	s.metrics.ObserveHistogram("ingestion_stage_ms", float64(ms(s.clock.Now().Sub(t0))), map[string]string{"stage": "chunk", "tenant": in.Tenant})
	// Metrics: count chunks
	for i := 0; i < len(chunks); i++ {
		s.metrics.IncCounter("ingestion_chunks_total", map[string]string{"tenant": in.Tenant})
	}

	// Step 4: index into Search (documents and chunks) with fallback path
	t0 = s.clock.Now()
	if err := ingest.UpsertDocumentToSearch(ctx, s.search, in.ID, in, pre, decision.Version); err != nil {
		return ingest.IngestResponse{}, err
	}
	s.metrics.ObserveHistogram("ingestion_stage_ms", float64(ms(s.clock.Now().Sub(t0))), map[string]string{"stage": "search_document", "tenant": in.Tenant})
	// adapt chunker.Chunk to ingest.ChunkRecord, carrying per-chunk heading/symbol
	// context so citations can show the section or enclosing symbol a hit came from.
	crecs := make([]ingest.ChunkRecord, 0, len(chunks))
	for _, c := range chunks {
		crecs = append(crecs, ingest.ChunkRecord{Index: c.Index, Text: c.Text, Metadata: chunkMetadata(c)})
	}
	t0 = s.clock.Now()
	chunkIDs, err := ingest.UpsertChunksToSearch(ctx, s.search, in.ID, pre.Language, crecs, in, decision.Version)
	if err != nil {
		return ingest.IngestResponse{}, err
	}
	s.metrics.ObserveHistogram("ingestion_stage_ms", float64(ms(s.clock.Now().Sub(t0))), map[string]string{"stage": "search_chunks", "tenant": in.Tenant})

	// Step 5: embeddings (optional)
	vecUpserts := 0
	if in.Options.Embedding.Enabled && s.vector != nil {
		t0 = s.clock.Now()
		n, err := ingest.UpsertChunkEmbeddings(ctx, s.vector, s.emb, in.ID, pre.Language, crecs, in, decision.Version)
		if err != nil {
			return ingest.IngestResponse{}, err
		}
		vecUpserts = n
		s.metrics.ObserveHistogram("ingestion_stage_ms", float64(ms(s.clock.Now().Sub(t0))), map[string]string{"stage": "embedding", "tenant": in.Tenant})
	}

	// Step 6: graph upserts (optional)
	if in.Options.Graph.Enabled && s.graph != nil {
		t0 = s.clock.Now()
		if _, err := ingest.UpsertDocAndChunksGraph(ctx, s.graph, in.ID, pre, in, crecs, decision.Version); err != nil {
			return ingest.IngestResponse{}, err
		}
		s.metrics.ObserveHistogram("ingestion_stage_ms", float64(ms(s.clock.Now().Sub(t0))), map[string]string{"stage": "graph", "tenant": in.Tenant})
	}

	dur := s.clock.Now().Sub(start)
	s.metrics.ObserveHistogram("ingestion_stage_ms", float64(ms(dur)), map[string]string{"stage": "total", "tenant": in.Tenant})
	return ingest.IngestResponse{
		DocID:    in.ID,
		Version:  decision.Version,
		ChunkIDs: chunkIDs,
		Stats: ingest.IngestStats{
			NumChunks:     len(chunks),
			TotalTokens:   approxTokens(pre.Text),
			VectorUpserts: vecUpserts,
			Duration:      dur,
		},
		Warnings: nil,
	}, nil
}

// Retrieve executes a hybrid retrieval query: planning, optional query
// rewriting, parallel full-text and vector candidates, fusion, graph
// augmentation and optional rerank.
func (s *Service) Retrieve(ctx context.Context, q string, opt retrieve.RetrieveOptions) (retrieve.RetrieveResponse, error) {
	rStart := s.clock.Now()
	// Plan query
	plan := retrieve.BuildQueryPlan(ctx, q, opt)

	// Query rewriting (Multi-Query/HyDE) widens recall before candidate
	// generation. Best-effort: a rewrite failure falls back to the plain plan.
	if opt.QueryRewrite != "" && s.rewriter != nil {
		if variants, err := s.rewriter.Rewrite(ctx, plan.Query); err == nil {
			plan.Variants = variants
		}
	}

	// Embed the query (or, for HyDE, the generated hypothetical answer) to
	// get a vector for similarity search.
	var qvecs [][]float32
	if s.vector != nil && s.emb != nil && plan.VecK > 0 {
		embedTexts := embedTargets(plan, opt)
		embs, err := s.emb.EmbedBatch(ctx, embedTexts)
		if err != nil {
			return retrieve.RetrieveResponse{}, err
		}
		qvecs = embs
	}
	var qvec []float32
	if len(qvecs) > 0 {
		qvec = qvecs[0]
	}

	// Run parallel candidates
	ftRes, vecRes, diag, err := retrieve.ParallelCandidates(ctx, s.search, s.vector, plan, qvec)
	if err != nil {
		return retrieve.RetrieveResponse{}, err
	}

	// Multi-query fan-out: merge vector candidates from any additional
	// variant embeddings beyond the primary query vector, keeping the best
	// score per chunk ID.
	if len(qvecs) > 1 && s.vector != nil {
		for _, v := range qvecs[1:] {
			_, extra, _, err := retrieve.ParallelCandidates(ctx, nil, s.vector, plan, v)
			if err != nil {
				continue
			}
			vecRes = retrieve.MergeVectorCandidates(vecRes, extra)
		}
	}
	// Metrics: candidate timings and counts
	s.metrics.ObserveHistogram("retrieval_stage_ms", float64(ms(diag.FtLatency)), map[string]string{"stage": "fts", "tenant": plan.Tenant})
	s.metrics.ObserveHistogram("retrieval_stage_ms", float64(ms(diag.VecLatency)), map[string]string{"stage": "vec", "tenant": plan.Tenant})
	for i := 0; i < diag.FtCount; i++ {
		s.metrics.IncCounter("retrieval_candidates", map[string]string{"type": "fts", "tenant": plan.Tenant})
	}
	for i := 0; i < diag.VecCount; i++ {
		s.metrics.IncCounter("retrieval_candidates", map[string]string{"type": "vec", "tenant": plan.Tenant})
	}

	// Fusion: RRF when requested, else the weighted sum; optional
	// diversification either way.
	var items []retrieve.RetrievedItem
	var fusionMS int64
	t0 := s.clock.Now()
	items = retrieve.FuseAndDiversify(ftRes, vecRes, plan, opt)
	fusionMS = ms(s.clock.Now().Sub(t0))
	s.metrics.ObserveHistogram("retrieval_stage_ms", float64(fusionMS), map[string]string{"stage": "fusion", "tenant": plan.Tenant})
	// Graph augment + optional rerank + final prune
	items, addDbg, err := retrieve.AssembleResults(ctx, s.graph, s.rerank, plan, opt, items)
	if err != nil {
		return retrieve.RetrieveResponse{}, err
	}
	// Metrics: graph and rerank durations if present
	if gv, ok := addDbg["graph"]; ok {
		if gmap, ok := gv.(map[string]any); ok {
			if msVal, ok := gmap["ms"].(int64); ok {
				s.metrics.ObserveHistogram("retrieval_stage_ms", float64(msVal), map[string]string{"stage": "graph", "tenant": plan.Tenant})
			}
		}
	}
	if rv, ok := addDbg["rerank_ms"].(int64); ok {
		s.metrics.ObserveHistogram("retrieval_stage_ms", float64(rv), map[string]string{"stage": "rerank", "tenant": plan.Tenant})
	}

	// Package results: snippets, optional full text, doc metadata, and explanations
	pkgStart := s.clock.Now()
	if opt.IncludeSnippet {
		items = retrieve.GenerateSnippets(ctx, s.search, items, retrieve.SnippetOptions{Lang: plan.Lang, Query: plan.Query})
	}
	if opt.IncludeText && s.search != nil {
		// ensure Text present for items lacking it
		for i := range items {
			if items[i].Text != "" {
				continue
			}
			if doc, ok, _ := s.search.GetByID(ctx, items[i].ID); ok {
				items[i].Text = doc.Text
			}
		}
	}
	// Attach doc metadata (title, url)
	items = retrieve.AttachDocMetadata(ctx, s.search, items)

	// Add basic per-item explanations when available from fusion diagnostics in metadata
	for i := range items {
		if items[i].Explanation == nil {
			items[i].Explanation = map[string]any{}
		}
		// Carry doc_id for transparency
		if items[i].DocID == "" {
			items[i].DocID = retrieve.DeriveDocIDPublic(items[i].ID, items[i].Metadata)
		}
	}

	pkgMS := ms(s.clock.Now().Sub(pkgStart))
	s.metrics.ObserveHistogram("retrieval_stage_ms", float64(pkgMS), map[string]string{"stage": "package", "tenant": plan.Tenant})
	// Results counter
	for i := 0; i < len(items); i++ {
		s.metrics.IncCounter("retrieval_results_total", map[string]string{"tenant": plan.Tenant})
	}
	totalMS := ms(s.clock.Now().Sub(rStart))
	s.metrics.ObserveHistogram("retrieval_stage_ms", float64(totalMS), map[string]string{"stage": "total", "tenant": plan.Tenant})
	debug := map[string]any{
		"plan":        map[string]any{"lang": plan.Lang, "ftK": plan.FtK, "vecK": plan.VecK},
		"diagnostics": map[string]any{"ft_ms": ms(diag.FtLatency), "vec_ms": ms(diag.VecLatency), "ft_n": diag.FtCount, "vec_n": diag.VecCount, "package_ms": pkgMS, "fusion_ms": fusionMS, "total_ms": totalMS},
	}
	// Integrate addDbg stage timings into diagnostics when available
	if dm, ok := debug["diagnostics"].(map[string]any); ok {
		if gv, ok := addDbg["graph"]; ok {
			if gmap, ok := gv.(map[string]any); ok {
				if msVal, ok := gmap["ms"]; ok {
					dm["graph_ms"] = msVal
				}
			}
		}
		if rv, ok := addDbg["rerank_ms"]; ok {
			dm["rerank_ms"] = rv
		}
	}
	for k, v := range addDbg {
		debug[k] = v
	}
	return retrieve.RetrieveResponse{Query: plan.Query, Items: items, Debug: debug}, nil
}

// embedTargets resolves which text(s) to embed for vector search, applying
// any retrieval-time instruction prefix and folding in rewriter variants:
// for HyDE the hypothetical answer (plan.Variants[1]) replaces the bare
// query as the primary embedding target; for multi-query every variant is
// embedded and fanned in via MergeVectorCandidates.
func embedTargets(plan retrieve.QueryPlan, opt retrieve.RetrieveOptions) []string {
	withInstruction := func(q string) string {
		if opt.Instruction == "" {
			return q
		}
		return "Instruct: " + opt.Instruction + "\n" + "Query: " + q
	}
	if len(plan.Variants) == 0 {
		return []string{withInstruction(plan.Query)}
	}
	switch opt.QueryRewrite {
	case "hyde":
		if len(plan.Variants) > 1 {
			return []string{withInstruction(plan.Variants[1])}
		}
		return []string{withInstruction(plan.Query)}
	case "multi_query":
		out := make([]string, len(plan.Variants))
		for i, v := range plan.Variants {
			out[i] = withInstruction(v)
		}
		return out
	default:
		return []string{withInstruction(plan.Query)}
	}
}

// defaultLogger is a minimal internal logger that drops logs.
type defaultLogger struct{}

func (defaultLogger) Info(string, map[string]any)  {}
func (defaultLogger) Error(string, map[string]any) {}
func (defaultLogger) Debug(string, map[string]any) {}

// approxTokens uses a rough 4 char/token heuristic for metrics only.
func approxTokens(s string) int { return (len(s) + 3) / 4 }

func ms(d time.Duration) int64 { return int64(d / time.Millisecond) }

// filePath derives the source file path used for chunker breadcrumbs. The
// ingestion request carries it under metadata when the caller is the
// filesystem-walking ingestion coordinator; web/API sources fall back to
// URL, then the document id.
func filePath(in ingest.IngestRequest) string {
	if v, ok := in.Metadata["file_path"]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if in.URL != "" {
		return in.URL
	}
	return in.ID
}

// chunkMetadata projects the chunker's breadcrumb/symbol fields into the
// string metadata carried alongside each chunk in the keyword and vector
// stores, so citations can surface the section or enclosing symbol.
func chunkMetadata(c chunker.Chunk) map[string]string {
	md := map[string]string{}
	if c.Heading != "" {
		md["heading"] = c.Heading
	}
	if len(c.HeadingHierarchy) > 0 {
		md["heading_hierarchy"] = strings.Join(c.HeadingHierarchy, " > ")
	}
	if c.FileTitle != "" {
		md["file_title"] = c.FileTitle
	}
	if c.Language != "" {
		md["language"] = c.Language
	}
	if c.Symbol != "" {
		md["symbol"] = c.Symbol
	}
	if c.ClassContext != "" {
		md["class_context"] = c.ClassContext
	}
	if c.Docstring != "" {
		md["docstring"] = c.Docstring
	}
	if c.Kind != "" {
		md["chunk_kind"] = c.Kind
	}
	return md
}
