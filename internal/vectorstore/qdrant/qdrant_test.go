package qdrant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/internal/domain"
)

type recorded struct {
	method string
	path   string
	body   map[string]any
}

func fakeQdrant(t *testing.T) (*httptest.Server, func() []recorded) {
	t.Helper()
	var (
		mu   sync.Mutex
		reqs []recorded
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "k", r.Header.Get("api-key"))
		rec := recorded{method: r.Method, path: r.URL.Path}
		if r.ContentLength > 0 {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&rec.body))
		}
		mu.Lock()
		reqs = append(reqs, rec)
		mu.Unlock()

		if r.Method == http.MethodPost {
			_, _ = w.Write([]byte(`{"result":[
				{"score":0.41,"payload":{"document_id":"d","chunk_id":"d:1","source":"a.txt","index":1,"text":"second"}},
				{"score":0.93,"payload":{"document_id":"d","chunk_id":"d:0","source":"a.txt","index":0,"text":"first"}}
			]}`))
			return
		}
		_, _ = w.Write([]byte(`{"result":true}`))
	}))
	return srv, func() []recorded {
		mu.Lock()
		defer mu.Unlock()
		return append([]recorded(nil), reqs...)
	}
}

func TestStorageRoundTrip(t *testing.T) {
	srv, requests := fakeQdrant(t)
	defer srv.Close()

	st, err := Factory(Config{URL: srv.URL, APIKey: "k", Collection: "docqa"})("abc")
	require.NoError(t, err)
	s := st.(*Storage)
	assert.Equal(t, "docqa_abc", s.Collection())

	ctx := context.Background()
	require.NoError(t, s.Init(ctx, 2))
	require.NoError(t, s.Upsert(ctx, []domain.Chunk{{DocumentID: "d", ChunkID: "d:0", Text: "first"}}, [][]float64{{1, 0}}))
	res, err := s.Search(ctx, []float64{1, 0}, 3)
	require.NoError(t, err)
	require.NoError(t, s.Clear(ctx))

	require.Len(t, res, 2)
	assert.Equal(t, "d:0", res[0].Chunk.ChunkID)
	assert.Equal(t, "a.txt", res[0].Chunk.Source)
	assert.InDelta(t, 0.93, res[0].Score, 1e-9)

	reqs := requests()
	require.Len(t, reqs, 4)
	assert.Equal(t, http.MethodPut, reqs[0].method)
	assert.Equal(t, "/collections/docqa_abc", reqs[0].path)
	assert.Equal(t, "/collections/docqa_abc/points", reqs[1].path)

	points := reqs[1].body["points"].([]any)
	id := points[0].(map[string]any)["id"].(string)
	_, err = uuid.Parse(id)
	assert.NoError(t, err)
	assert.Equal(t, pointID("d:0"), id)

	assert.Equal(t, float64(3), reqs[2].body["limit"])
	assert.Equal(t, http.MethodDelete, reqs[3].method)
}

func TestStorageErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := NewStorage(Config{URL: srv.URL, Collection: "c"})
	ctx := context.Background()
	assert.ErrorIs(t, s.Init(ctx, 0), domain.ErrInvalidDimension)
	assert.Error(t, s.Init(ctx, 4))
	assert.ErrorIs(t, s.Upsert(ctx, []domain.Chunk{{}}, nil), domain.ErrLengthMismatch)
	_, err := s.Search(ctx, []float64{1}, 1)
	assert.Error(t, err)
}
