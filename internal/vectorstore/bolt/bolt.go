package bolt

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.etcd.io/bbolt"

	"docqa/internal/domain"
	"docqa/internal/vectorstore"
)

// DB is a bbolt file shared by every index. Each index lives in its own
// bucket so that clearing one never touches another.
type DB struct {
	db *bbolt.DB
}

func Open(path string) (*DB, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}
	return &DB{db: db}, nil
}

func (d *DB) Close() error { return d.db.Close() }

// Factory returns a vectorstore.Factory writing into bucket "index_<name>".
func (d *DB) Factory() vectorstore.Factory {
	return func(name string) (vectorstore.Storage, error) {
		return &Storage{db: d.db, bucket: []byte("index_" + name)}, nil
	}
}

// Storage keeps vectors in a bbolt bucket and an in-memory copy for
// brute-force search.
type Storage struct {
	db        *bbolt.DB
	bucket    []byte
	mu        sync.RWMutex
	dimension int
	chunks    []domain.Chunk
	vectors   [][]float64
}

type storedVector struct {
	Vector []float64    `json:"v"`
	Chunk  domain.Chunk `json:"c"`
}

func (s *Storage) Init(_ context.Context, dimension int) error {
	if dimension <= 0 {
		return domain.ErrInvalidDimension
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(s.bucket) != nil {
			if err := tx.DeleteBucket(s.bucket); err != nil {
				return err
			}
		}
		_, err := tx.CreateBucket(s.bucket)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", s.bucket, err)
	}
	s.dimension = dimension
	s.chunks = nil
	s.vectors = nil
	return nil
}

func (s *Storage) Upsert(_ context.Context, chunks []domain.Chunk, vectors [][]float64) error {
	if len(chunks) != len(vectors) {
		return domain.ErrLengthMismatch
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return fmt.Errorf("bucket %s not found", s.bucket)
		}
		for i, c := range chunks {
			if len(vectors[i]) != s.dimension {
				return domain.ErrDimensionMismatch
			}
			data, err := json.Marshal(storedVector{Vector: vectors[i], Chunk: c})
			if err != nil {
				return err
			}
			if err := b.Put([]byte(c.ChunkID), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return s.reload()
}

// reload rebuilds the in-memory copy from the bucket. Bucket keys are
// sorted, so the order is stable across restarts.
func (s *Storage) reload() error {
	var (
		chunks  []domain.Chunk
		vectors [][]float64
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			var stored storedVector
			if err := json.Unmarshal(v, &stored); err != nil {
				return nil // skip corrupted entries
			}
			chunks = append(chunks, stored.Chunk)
			vectors = append(vectors, stored.Vector)
			return nil
		})
	})
	if err != nil {
		return err
	}
	s.chunks = chunks
	s.vectors = vectors
	return nil
}

func (s *Storage) Search(_ context.Context, vector []float64, topK int) ([]domain.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.chunks) == 0 {
		return nil, nil
	}
	if len(vector) != s.dimension {
		return nil, domain.ErrDimensionMismatch
	}
	return vectorstore.Rank(s.chunks, s.vectors, vector, topK), nil
}

// Clear drops the bucket.
func (s *Storage) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = nil
	s.vectors = nil
	return s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(s.bucket) == nil {
			return nil
		}
		return tx.DeleteBucket(s.bucket)
	})
}

// Count returns the number of vectors persisted in the bucket.
func (s *Storage) Count() (int, error) {
	var n int
	err := s.db.View(func(tx *bbolt.Tx) error {
		if b := tx.Bucket(s.bucket); b != nil {
			n = b.Stats().KeyN
		}
		return nil
	})
	return n, err
}
