package vectorstore

import (
	"context"
	"math"
	"sort"

	"docqa/internal/domain"
)

// Storage persists vectors and supports similarity search. Search returns at
// most topK results ordered by descending cosine similarity.
type Storage interface {
	Init(ctx context.Context, dimension int) error
	Upsert(ctx context.Context, chunks []domain.Chunk, vectors [][]float64) error
	Search(ctx context.Context, vector []float64, topK int) ([]domain.SearchResult, error)
	Clear(ctx context.Context) error
}

// Factory creates the storage backing one index. name is unique per index.
type Factory func(name string) (Storage, error)

// Cosine returns the cosine similarity of a and b, or 0 if either is a zero vector.
func Cosine(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// SortResults orders results by descending score, breaking ties by chunk id.
func SortResults(results []domain.SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Chunk.ChunkID < results[j].Chunk.ChunkID
	})
}

// Rank scores every chunk against query and keeps the best topK.
func Rank(chunks []domain.Chunk, vectors [][]float64, query []float64, topK int) []domain.SearchResult {
	if topK <= 0 {
		topK = 5
	}
	results := make([]domain.SearchResult, len(chunks))
	for i := range chunks {
		results[i] = domain.SearchResult{Chunk: chunks[i], Score: Cosine(vectors[i], query)}
	}
	SortResults(results)
	if topK < len(results) {
		results = results[:topK]
	}
	return results
}
