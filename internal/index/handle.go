// Package index builds vector indexes over uploaded documents and retrieves
// passages from them.
package index

import (
	"context"
	"sync/atomic"

	"docqa/internal/domain"
	"docqa/internal/embedding"
	"docqa/internal/vectorstore"
)

// Handle is an opaque reference to a built index. Only Builder.Build
// produces one.
type Handle struct {
	id        string
	storage   vectorstore.Storage
	embedder  embedding.Embedder
	chunks    []domain.Chunk
	documents int
	released  atomic.Bool
}

func (h *Handle) ID() string { return h.id }

// Documents returns the number of distinct documents in the index.
func (h *Handle) Documents() int { return h.documents }

// Chunks returns the number of indexed chunks.
func (h *Handle) Chunks() int { return len(h.chunks) }

// EmbedderName identifies the embedder that produced the index vectors.
func (h *Handle) EmbedderName() string { return h.embedder.Name() }

// EmbedQuery embeds text with the same embedder that built the index.
func (h *Handle) EmbedQuery(ctx context.Context, text string) ([]float64, error) {
	if h.Released() {
		return nil, domain.ErrIndexReleased
	}
	return h.embedder.Embed(ctx, text)
}

// Release invalidates the handle. The underlying storage is left alone.
func (h *Handle) Release() { h.released.Store(true) }

func (h *Handle) Released() bool { return h.released.Load() }
