package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/overlab/overlab/internal/models"
)

// MemoryRepository is an in-memory Repository used for unit tests and for
// degraded startup when MongoDB is unreachable.
type MemoryRepository struct {
	mu    sync.RWMutex
	store map[string]*models.Binding
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{store: make(map[string]*models.Binding)}
}

func (m *MemoryRepository) Upsert(ctx context.Context, b *models.Binding) (*models.Binding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	if existing, ok := m.store[b.Username]; ok && !existing.CreatedAt.IsZero() {
		b.CreatedAt = existing.CreatedAt
	} else if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
	cp := *b
	m.store[b.Username] = &cp
	ret := cp
	return &ret, nil
}

func (m *MemoryRepository) Get(ctx context.Context, username string) (*models.Binding, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.store[username]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *MemoryRepository) List(ctx context.Context) ([]*models.Binding, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Binding, 0, len(m.store))
	for _, b := range m.store {
		cp := *b
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (m *MemoryRepository) UpdateStatus(ctx context.Context, username string, from, to models.BindingStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.store[username]
	if !ok || b.Status != from {
		return false, nil
	}
	b.Status = to
	b.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (m *MemoryRepository) UpdateCredentials(ctx context.Context, username, apiCredential, ownerID string, validatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.store[username]
	if !ok {
		return ErrNotFound
	}
	b.APICredential = apiCredential
	b.OwnerID = ownerID
	b.LastValidatedAt = validatedAt
	b.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryRepository) Delete(ctx context.Context, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.store, username)
	return nil
}
