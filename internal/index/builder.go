package index

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"docqa/internal/domain"
	"docqa/internal/embedding"
	"docqa/internal/vectorstore"
)

// Builder turns embedded chunks into a Handle backed by a fresh storage.
type Builder struct {
	factory vectorstore.Factory
}

func NewBuilder(factory vectorstore.Factory) *Builder {
	return &Builder{factory: factory}
}

// Build stores chunks and their vectors and returns a handle to them.
// Failures wrap domain.ErrIndexBuild.
func (b *Builder) Build(ctx context.Context, chunks []domain.Chunk, vectors [][]float64, embedder embedding.Embedder) (*Handle, error) {
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: no chunks to index", domain.ErrIndexBuild)
	}
	if len(chunks) != len(vectors) {
		return nil, fmt.Errorf("%w: %v", domain.ErrIndexBuild, domain.ErrLengthMismatch)
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: nil embedder", domain.ErrIndexBuild)
	}
	dim := len(vectors[0])
	for _, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("%w: %v", domain.ErrIndexBuild, domain.ErrDimensionMismatch)
		}
	}

	id := uuid.NewString()
	storage, err := b.factory(strings.ReplaceAll(id, "-", ""))
	if err != nil {
		return nil, fmt.Errorf("%w: create storage: %v", domain.ErrIndexBuild, err)
	}
	if err := storage.Init(ctx, dim); err != nil {
		return nil, fmt.Errorf("%w: init storage: %v", domain.ErrIndexBuild, err)
	}
	if err := storage.Upsert(ctx, chunks, vectors); err != nil {
		return nil, fmt.Errorf("%w: upsert: %v", domain.ErrIndexBuild, err)
	}

	docs := make(map[string]struct{})
	for _, c := range chunks {
		docs[c.DocumentID] = struct{}{}
	}
	return &Handle{
		id:        id,
		storage:   storage,
		embedder:  embedder,
		chunks:    append([]domain.Chunk(nil), chunks...),
		documents: len(docs),
	}, nil
}
