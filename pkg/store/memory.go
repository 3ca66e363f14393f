// Copyright 2024-2026 Aiku AI

package store

import (
	"context"
	"sync"
)

// Memory is an in-process Store. Registrations do not survive a restart, so
// it is meant for local development and tests.
type Memory struct {
	mu         sync.Mutex
	users      map[string]UserRecord
	byPlatform map[string]string
	apps       map[uint32]AppRegistration
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		users:      make(map[string]UserRecord),
		byPlatform: make(map[string]string),
		apps:       make(map[uint32]AppRegistration),
	}
}

func (m *Memory) GetUserByPlatformID(_ context.Context, platformID string) (*UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byPlatform[platformID]
	if !ok {
		return nil, ErrNotFound
	}
	user := m.users[id]
	return &user, nil
}

func (m *Memory) GetUser(_ context.Context, id string) (*UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &user, nil
}

func (m *Memory) CreateUser(_ context.Context, user *UserRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[user.ID]; ok {
		return ErrDuplicate
	}
	if _, ok := m.byPlatform[user.PlatformID]; ok {
		return ErrDuplicate
	}
	m.users[user.ID] = *user
	m.byPlatform[user.PlatformID] = user.ID
	return nil
}

func (m *Memory) InsertApp(_ context.Context, app *AppRegistration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.apps[app.AppID]; ok {
		return ErrDuplicate
	}
	m.apps[app.AppID] = *app
	return nil
}

func (m *Memory) GetApp(_ context.Context, appID uint32) (*AppRegistration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	app, ok := m.apps[appID]
	if !ok {
		return nil, ErrNotFound
	}
	return &app, nil
}

func (m *Memory) GetApprovedApp(_ context.Context, appID uint32) (*AppRegistration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	app, ok := m.apps[appID]
	if !ok || !app.Approved {
		return nil, ErrNotFound
	}
	return &app, nil
}

func (m *Memory) ApproveApp(_ context.Context, appID uint32, hashedToken string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	app, ok := m.apps[appID]
	if !ok || app.Approved {
		return false, nil
	}
	app.Approved = true
	app.HashedToken = hashedToken
	m.apps[appID] = app
	return true, nil
}

func (m *Memory) DeleteApp(_ context.Context, appID uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.apps[appID]; !ok {
		return ErrNotFound
	}
	delete(m.apps, appID)
	return nil
}
