package store

import (
	"context"
	"sync"
)

// MemoryBatchStore is an in-process BatchWriter keyed by row offset.
type MemoryBatchStore struct {
	mu      sync.Mutex
	rows    map[MirrorKey]map[int]map[string]string
	batches int
}

// NewMemoryBatchStore returns an empty mirror store.
func NewMemoryBatchStore() *MemoryBatchStore {
	return &MemoryBatchStore{rows: map[MirrorKey]map[int]map[string]string{}}
}

func (s *MemoryBatchStore) WriteBatch(ctx context.Context, key MirrorKey, start int, rows []map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket, ok := s.rows[key]
	if !ok {
		bucket = map[int]map[string]string{}
		s.rows[key] = bucket
	}
	for i, row := range rows {
		copied := make(map[string]string, len(row))
		for k, v := range row {
			copied[k] = v
		}
		bucket[start+i] = copied
	}
	s.batches++
	return nil
}

func (s *MemoryBatchStore) Count(ctx context.Context, key MirrorKey) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows[key]), nil
}

// Rows returns the stored rows for key in offset order.
func (s *MemoryBatchStore) Rows(key MirrorKey) []map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket := s.rows[key]
	out := make([]map[string]string, 0, len(bucket))
	for i := 0; i < len(bucket); i++ {
		if row, ok := bucket[i]; ok {
			out = append(out, row)
		}
	}
	return out
}

// Batches reports how many WriteBatch calls were committed.
func (s *MemoryBatchStore) Batches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batches
}
