// Copyright 2024-2026 Aiku AI

// Package store persists application registrations and the users who own
// them. Two implementations exist: [SQL] backed by MySQL through sqlx, and
// [Memory] for development and tests.
package store

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a keyed lookup matches nothing.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicate is returned when an insert violates a uniqueness constraint.
	ErrDuplicate = errors.New("store: duplicate key")
)

// UserRecord is a chat platform user that has requested at least one app.
type UserRecord struct {
	ID         string `db:"id"`
	PlatformID string `db:"platform_id"`
	Username   string `db:"username"`
}

// AppRegistration is a third-party application allowed (or asking) to post
// into a channel. HashedToken is non-empty if and only if Approved is true.
type AppRegistration struct {
	AppID       uint32 `db:"app_id"`
	AppName     string `db:"app_name"`
	OwnerID     string `db:"owner_id"`
	ServerID    string `db:"server_id"`
	ChannelID   string `db:"channel_id"`
	HashedToken string `db:"hashed_token"`
	Approved    bool   `db:"approved"`
}

// Store is the persistence boundary used by the registry and the gateway.
// Every mutating method is a single keyed statement.
type Store interface {
	GetUserByPlatformID(ctx context.Context, platformID string) (*UserRecord, error)
	GetUser(ctx context.Context, id string) (*UserRecord, error)
	CreateUser(ctx context.Context, user *UserRecord) error

	InsertApp(ctx context.Context, app *AppRegistration) error
	GetApp(ctx context.Context, appID uint32) (*AppRegistration, error)
	GetApprovedApp(ctx context.Context, appID uint32) (*AppRegistration, error)
	// ApproveApp sets the hash and flips approved, but only if the
	// registration is still pending. It reports whether the row changed.
	ApproveApp(ctx context.Context, appID uint32, hashedToken string) (bool, error)
	DeleteApp(ctx context.Context, appID uint32) error
}
