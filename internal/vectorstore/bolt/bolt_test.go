package bolt

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/internal/domain"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "vectors.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestStorageLifecycle(t *testing.T) {
	db := openTestDB(t)
	st, err := db.Factory()("one")
	require.NoError(t, err)
	s := st.(*Storage)
	ctx := context.Background()

	require.NoError(t, s.Init(ctx, 2))
	chunks := []domain.Chunk{
		{DocumentID: "d", ChunkID: "d:0", Text: "north"},
		{DocumentID: "d", ChunkID: "d:1", Text: "east"},
	}
	require.NoError(t, s.Upsert(ctx, chunks, [][]float64{{0, 1}, {1, 0}}))

	res, err := s.Search(ctx, []float64{0.1, 0.9}, 5)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "north", res[0].Chunk.Text)
	assert.Greater(t, res[0].Score, res[1].Score)

	// upsert replaces by chunk id
	require.NoError(t, s.Upsert(ctx, chunks[:1], [][]float64{{1, 0}}))
	n, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = s.Search(ctx, []float64{1, 0, 0}, 1)
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
	assert.ErrorIs(t, s.Upsert(ctx, chunks[:1], [][]float64{{1}}), domain.ErrDimensionMismatch)
	assert.ErrorIs(t, s.Upsert(ctx, chunks, nil), domain.ErrLengthMismatch)
	assert.ErrorIs(t, s.Init(ctx, 0), domain.ErrInvalidDimension)

	require.NoError(t, s.Clear(ctx))
	n, err = s.Count()
	require.NoError(t, err)
	assert.Zero(t, n)
	res, err = s.Search(ctx, []float64{1, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestFactoryIsolatesIndexes(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	a, _ := db.Factory()("a")
	b, _ := db.Factory()("b")
	require.NoError(t, a.Init(ctx, 1))
	require.NoError(t, b.Init(ctx, 1))
	require.NoError(t, a.Upsert(ctx, []domain.Chunk{{ChunkID: "x"}}, [][]float64{{1}}))
	require.NoError(t, b.Upsert(ctx, []domain.Chunk{{ChunkID: "y"}}, [][]float64{{1}}))

	require.NoError(t, a.Clear(ctx))
	res, err := b.Search(ctx, []float64{1}, 5)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "y", res[0].Chunk.ChunkID)
}
