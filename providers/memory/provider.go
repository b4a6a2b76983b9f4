// Package memory holds an in-process user provider backed by a map.
//
// It is meant for tests, examples and single-node deployments where account
// data does not need to survive a restart.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/tokamak-auth/tokamak"
)

// Provider implements tokamak.UserProvider over an in-memory map.
// Safe for concurrent use.
type Provider struct {
	mu      sync.RWMutex
	byEmail map[string]tokamak.UserRecord
	byID    map[string]tokamak.UserRecord
}

func New() *Provider {
	return &Provider{
		byEmail: make(map[string]tokamak.UserRecord),
		byID:    make(map[string]tokamak.UserRecord),
	}
}

func (p *Provider) CreateUser(_ context.Context, in tokamak.CreateUserInput) (tokamak.UserRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.byEmail[in.Email]; ok {
		return tokamak.UserRecord{}, fmt.Errorf("%w: %s", tokamak.ErrAccountExists, in.Email)
	}

	rec := tokamak.UserRecord{
		UserID:       uuid.NewString(),
		Email:        in.Email,
		Role:         in.Role,
		PasswordHash: in.PasswordHash,
	}
	p.byEmail[rec.Email] = rec
	p.byID[rec.UserID] = rec
	return rec, nil
}

func (p *Provider) GetUserByEmail(_ context.Context, email string) (tokamak.UserRecord, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	rec, ok := p.byEmail[email]
	if !ok {
		return tokamak.UserRecord{}, tokamak.ErrUserNotFound
	}
	return rec, nil
}

func (p *Provider) GetUserByID(_ context.Context, userID string) (tokamak.UserRecord, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	rec, ok := p.byID[userID]
	if !ok {
		return tokamak.UserRecord{}, tokamak.ErrUserNotFound
	}
	return rec, nil
}

func (p *Provider) UpdatePasswordHash(_ context.Context, userID, newHash string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok := p.byID[userID]
	if !ok {
		return tokamak.ErrUserNotFound
	}
	rec.PasswordHash = newHash
	p.byID[userID] = rec
	p.byEmail[rec.Email] = rec
	return nil
}

// Put inserts or replaces a record directly, used to seed test fixtures.
func (p *Provider) Put(rec tokamak.UserRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byEmail[rec.Email] = rec
	p.byID[rec.UserID] = rec
}
