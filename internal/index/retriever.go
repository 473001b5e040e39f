package index

import (
	"context"
	"math"
	"regexp"
	"strings"

	"docqa/internal/domain"
	"docqa/internal/embedding"
	"docqa/internal/vectorstore"
)

// Retrieve returns up to topK chunks whose score against vec is at least
// threshold, ordered by descending score.
func Retrieve(ctx context.Context, h *Handle, vec []float64, threshold float64, topK int) ([]domain.SearchResult, error) {
	if h == nil || h.Released() {
		return nil, domain.ErrIndexReleased
	}
	res, err := h.storage.Search(ctx, vec, topK)
	if err != nil {
		return nil, err
	}
	return filter(res, threshold), nil
}

// Search embeds query with the handle's embedder and retrieves matching
// chunks. When the query has no known terms (zero vector) or every
// similarity is zero, it ranks chunks by lexical overlap instead.
func Search(ctx context.Context, h *Handle, query string, threshold float64, topK int) ([]domain.SearchResult, error) {
	vec, err := h.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	if embedding.IsZero(vec) {
		return filter(lexicalSearch(h.chunks, query, topK), threshold), nil
	}
	res, err := h.storage.Search(ctx, vec, topK)
	if err != nil {
		return nil, err
	}
	allZero := true
	for _, r := range res {
		if r.Score > 1e-9 {
			allZero = false
			break
		}
	}
	if allZero {
		return filter(lexicalSearch(h.chunks, query, topK), threshold), nil
	}
	return filter(res, threshold), nil
}

func filter(results []domain.SearchResult, threshold float64) []domain.SearchResult {
	out := make([]domain.SearchResult, 0, len(results))
	for _, r := range results {
		if r.Score >= threshold {
			out = append(out, r)
		}
	}
	vectorstore.SortResults(out)
	return out
}

var unicodeWordRe = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\p{N}+`)

func lexicalSearch(chunks []domain.Chunk, query string, topK int) []domain.SearchResult {
	qset := toTokenSet(query)
	out := make([]domain.SearchResult, len(chunks))
	for i, ch := range chunks {
		out[i] = domain.SearchResult{Chunk: ch, Score: overlapOchiai(qset, ch.Text)}
	}
	vectorstore.SortResults(out)
	if topK <= 0 {
		topK = 5
	}
	if topK < len(out) {
		out = out[:topK]
	}
	return out
}

func toTokenSet(s string) map[string]struct{} {
	tokens := unicodeWordRe.FindAllString(strings.ToLower(s), -1)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

// overlapOchiai returns |A∩B| / sqrt(|A||B|) over the distinct tokens of
// the query and the text.
func overlapOchiai(qset map[string]struct{}, text string) float64 {
	seen := toTokenSet(text)
	if len(qset) == 0 || len(seen) == 0 {
		return 0
	}
	inter := 0
	for t := range seen {
		if _, ok := qset[t]; ok {
			inter++
		}
	}
	return float64(inter) / math.Sqrt(float64(len(qset))*float64(len(seen)))
}
