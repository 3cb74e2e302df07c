package kvstore

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// Store is the local persistent key-value storage used for auto-save
// snapshots and client settings. There are no transactional guarantees
// beyond a single Set.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Close() error
}

var ErrEmptyKey = errors.New("kvstore: key is empty")

// Memory is an in-process Store.
type Memory struct {
	mu     sync.RWMutex
	values map[string][]byte
}

var _ Store = &Memory{}

func NewMemory() *Memory {
	return &Memory{values: map[string][]byte{}}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, false, ErrEmptyKey
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrEmptyKey
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = append([]byte(nil), value...)
	return nil
}

func (m *Memory) Close() error { return nil }
