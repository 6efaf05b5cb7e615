package db

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kentomson01/stacksbet/internal/model"
)

// MemoryUsers is the user store used alongside the in-memory ledger.
type MemoryUsers struct {
	mu       sync.RWMutex
	byHandle map[string]*model.User
}

func NewMemoryUsers() *MemoryUsers {
	return &MemoryUsers{byHandle: make(map[string]*model.User)}
}

func (m *MemoryUsers) CreateUser(_ context.Context, handle, hash string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byHandle[handle]; ok {
		return nil, fmt.Errorf("user %s: %w", handle, ErrDuplicate)
	}
	u := &model.User{ID: uuid.NewString(), Handle: handle, PasswordHash: hash, CreatedAt: time.Now().UTC()}
	m.byHandle[handle] = u
	cp := *u
	return &cp, nil
}

func (m *MemoryUsers) UpsertUser(ctx context.Context, handle, hash string) error {
	m.mu.Lock()
	if u, ok := m.byHandle[handle]; ok {
		u.PasswordHash = hash
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()
	_, err := m.CreateUser(ctx, handle, hash)
	return err
}

func (m *MemoryUsers) GetUserByHandle(_ context.Context, handle string) (*model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.byHandle[handle]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}
