package index

import (
	"context"
	"fmt"
	"strings"
	"time"

	"docqa/internal/domain"
	"docqa/internal/embedding"
	"docqa/internal/loader"
	"docqa/internal/logger"
)

// EmbedderFactory returns a fresh embedder for one index. Embedders such as
// TF-IDF learn their vocabulary from the corpus they index.
type EmbedderFactory func() (embedding.Embedder, error)

// Result describes a successfully built index.
type Result struct {
	Handle    *Handle
	Files     int
	Documents []domain.Document
	Chunks    int
	FileTypes []string
	Summary   string
	Elapsed   time.Duration
}

// Pipeline runs load, chunk, embed and build over a batch of uploads.
type Pipeline struct {
	loader              *loader.Loader
	chunker             domain.Chunker
	newEmbedder         EmbedderFactory
	builder             *Builder
	summarizer          domain.Summarizer
	summaryMaxSentences int
	log                 logger.Logger
}

type PipelineOption func(*Pipeline)

// WithSummarizer appends a summary of up to maxSentences sentences to each result.
func WithSummarizer(s domain.Summarizer, maxSentences int) PipelineOption {
	return func(p *Pipeline) {
		p.summarizer = s
		p.summaryMaxSentences = maxSentences
	}
}

func WithLogger(l logger.Logger) PipelineOption {
	return func(p *Pipeline) { p.log = l }
}

func NewPipeline(l *loader.Loader, c domain.Chunker, newEmbedder EmbedderFactory, b *Builder, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		loader:      l,
		chunker:     c,
		newEmbedder: newEmbedder,
		builder:     b,
		log:         logger.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Index builds a new index from uploads. Errors keep the sentinel of the
// stage that failed: domain.ErrUnsupportedFormat or domain.ErrParse from
// loading, domain.ErrEmbeddingService from embedding, domain.ErrIndexBuild
// from the build itself.
func (p *Pipeline) Index(ctx context.Context, uploads []domain.Upload) (*Result, error) {
	start := time.Now()
	docs, err := p.loader.LoadAll(uploads)
	if err != nil {
		return nil, err
	}

	var (
		chunks []domain.Chunk
		texts  []string
		corpus strings.Builder
	)
	for _, d := range docs {
		cs, err := p.chunker.Chunk(d)
		if err != nil {
			return nil, fmt.Errorf("%w: chunk %s: %v", domain.ErrIndexBuild, d.Filename, err)
		}
		for _, c := range cs {
			chunks = append(chunks, c)
			texts = append(texts, c.Text)
		}
		corpus.WriteString("\n")
		corpus.WriteString(d.Content)
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: documents produced no text chunks", domain.ErrIndexBuild)
	}

	emb, err := p.newEmbedder()
	if err != nil {
		return nil, err
	}
	if err := emb.Prepare(texts); err != nil {
		return nil, fmt.Errorf("%w: prepare embedder: %v", domain.ErrIndexBuild, err)
	}
	vectors, err := embedding.EmbedAll(ctx, emb, texts)
	if err != nil {
		return nil, err
	}
	p.log.Debug("index", "chunks embedded", map[string]any{"chunks": len(chunks), "embedder": emb.Name()})

	h, err := p.builder.Build(ctx, chunks, vectors, emb)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Handle:    h,
		Files:     len(uploads),
		Documents: docs,
		Chunks:    len(chunks),
		FileTypes: FileTypes(uploads),
	}
	if p.summarizer != nil && p.summaryMaxSentences > 0 {
		summary, err := p.summarizer.Summarize(corpus.String(), p.summaryMaxSentences)
		if err != nil {
			p.log.Warn("index", "summary failed", map[string]any{"error": err})
		} else {
			res.Summary = summary
		}
	}
	res.Elapsed = time.Since(start)
	p.log.Info("index", "index built", map[string]any{
		"index_id":  h.ID(),
		"files":     res.Files,
		"chunks":    res.Chunks,
		"elapsed_s": res.Elapsed.Seconds(),
	})
	return res, nil
}

// FileTypes returns the lower-case extension of every upload, in upload order.
func FileTypes(uploads []domain.Upload) []string {
	out := make([]string, len(uploads))
	for i, u := range uploads {
		out[i] = loader.Extension(u.Filename)
	}
	return out
}
