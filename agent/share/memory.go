package share

import (
	"context"
	"fmt"
	"sync"

	contractx "github.com/recmonkey/scout/agent/contract"
)

// MemoryStore keeps share records in process memory. Used by tests and
// by deployments that run without Postgres.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (m *MemoryStore) Put(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.records[rec.ID]; exists {
		return fmt.Errorf("share %s already exists", rec.ID)
	}
	m.records[rec.ID] = rec
	return nil
}

func (m *MemoryStore) Get(_ context.Context, shareID string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[shareID]
	if !ok {
		return nil, contractx.ErrShareNotFound
	}
	out := rec
	out.Payload = append([]byte(nil), rec.Payload...)
	return &out, nil
}
