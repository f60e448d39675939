package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"trend-oracle/internal/storage"
)

// KV is an in-memory implementation of storage.KV.
type KV struct {
	mu    sync.RWMutex
	data  map[string][]byte
	locks map[int64]struct{}
}

// New creates an empty in-memory store.
func New() *KV {
	return &KV{data: make(map[string][]byte), locks: make(map[int64]struct{})}
}

// Put writes a copy of value under key.
func (s *KV) Put(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = clone(value)
	return nil
}

// Create writes value only if key is absent.
func (s *KV) Create(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[key]; exists {
		return storage.ErrDuplicateKey
	}
	s.data[key] = clone(value)
	return nil
}

// Get returns a copy of the value under key.
func (s *KV) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.data[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return clone(v), nil
}

// Scan visits matching keys in lexical order. The callback runs on a snapshot
// taken under the read lock, so it may call back into the store.
func (s *KV) Scan(ctx context.Context, prefix string, fn storage.ScanFunc) error {
	type entry struct {
		key   string
		value []byte
	}

	s.mu.RLock()
	snapshot := make([]entry, 0)
	for k, v := range s.data {
		if strings.HasPrefix(k, prefix) {
			snapshot = append(snapshot, entry{key: k, value: clone(v)})
		}
	}
	s.mu.RUnlock()

	sort.Slice(snapshot, func(i, j int) bool {
		return snapshot[i].key < snapshot[j].key
	})

	for _, e := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(e.key, e.value); err != nil {
			return err
		}
	}
	return nil
}

// TryAdvisoryLock takes a lock shared by every user of this store.
func (s *KV) TryAdvisoryLock(_ context.Context, key int64) (func(), bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, held := s.locks[key]; held {
		return nil, false, nil
	}
	s.locks[key] = struct{}{}

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.locks, key)
			s.mu.Unlock()
		})
	}
	return unlock, true, nil
}

// Close is a no-op.
func (s *KV) Close() error {
	return nil
}

func clone(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

var (
	_ storage.KV             = (*KV)(nil)
	_ storage.AdvisoryLocker = (*KV)(nil)
)
