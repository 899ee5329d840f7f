package memory

import (
	"context"
	"sync"

	"github.com/hamed0406/uptimebatch/internal/repo"
)

var _ repo.KV = (*Store)(nil)

// Store keeps values in process memory. Used by tests and STORE_URL=memory://.
type Store struct {
	mu     sync.RWMutex
	values map[string][]byte
	puts   int
}

func New() *Store {
	return &Store{values: make(map[string][]byte)}
}

func (m *Store) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *Store) Put(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = append([]byte(nil), value...)
	m.puts++
	return nil
}

func (m *Store) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

func (m *Store) Close() error { return nil }

// Puts reports how many writes reached the store.
func (m *Store) Puts() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.puts
}
