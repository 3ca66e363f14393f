// Copyright 2024-2026 Aiku AI

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
)

// mysqlDuplicateEntry is ER_DUP_ENTRY.
const mysqlDuplicateEntry = 1062

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id          CHAR(36)     NOT NULL PRIMARY KEY,
		platform_id VARCHAR(64)  NOT NULL UNIQUE,
		username    VARCHAR(255) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS applications (
		app_id       INT UNSIGNED NOT NULL PRIMARY KEY,
		app_name     VARCHAR(255) NOT NULL,
		owner_id     CHAR(36)     NOT NULL,
		server_id    VARCHAR(64)  NOT NULL,
		channel_id   VARCHAR(64)  NOT NULL,
		hashed_token VARCHAR(255) NOT NULL DEFAULT '',
		approved     BOOLEAN      NOT NULL DEFAULT FALSE
	)`,
}

// SQL is a Store backed by MySQL (or any server speaking its wire protocol).
type SQL struct {
	db *sqlx.DB
}

var _ Store = (*SQL)(nil)

// Open connects with conservative pool sizes and pings before returning so
// bootstrap fails fast on a bad DSN.
func Open(ctx context.Context, dsn string, maxOpen, maxIdle int) (*SQL, error) {
	db, err := sqlx.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &SQL{db: db}, nil
}

// NewSQL wraps an existing handle.
func NewSQL(db *sqlx.DB) *SQL {
	return &SQL{db: db}
}

// Migrate creates the tables if they do not exist yet.
func (s *SQL) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// Close releases the connection pool.
func (s *SQL) Close() error {
	return s.db.Close()
}

func (s *SQL) GetUserByPlatformID(ctx context.Context, platformID string) (*UserRecord, error) {
	const q = `SELECT id, platform_id, username FROM users WHERE platform_id = ?`
	var user UserRecord
	if err := s.db.GetContext(ctx, &user, q, platformID); err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

func (s *SQL) GetUser(ctx context.Context, id string) (*UserRecord, error) {
	const q = `SELECT id, platform_id, username FROM users WHERE id = ?`
	var user UserRecord
	if err := s.db.GetContext(ctx, &user, q, id); err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

func (s *SQL) CreateUser(ctx context.Context, user *UserRecord) error {
	const q = `INSERT INTO users (id, platform_id, username) VALUES (?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, user.ID, user.PlatformID, user.Username); err != nil {
		return translate(err)
	}
	return nil
}

func (s *SQL) InsertApp(ctx context.Context, app *AppRegistration) error {
	const q = `INSERT INTO applications
	             (app_id, app_name, owner_id, server_id, channel_id, hashed_token, approved)
	           VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, q,
		app.AppID, app.AppName, app.OwnerID, app.ServerID, app.ChannelID, app.HashedToken, app.Approved)
	if err != nil {
		return translate(err)
	}
	return nil
}

func (s *SQL) GetApp(ctx context.Context, appID uint32) (*AppRegistration, error) {
	const q = `SELECT app_id, app_name, owner_id, server_id, channel_id, hashed_token, approved
	             FROM applications WHERE app_id = ?`
	var app AppRegistration
	if err := s.db.GetContext(ctx, &app, q, appID); err != nil {
		return nil, translate(err)
	}
	return &app, nil
}

func (s *SQL) GetApprovedApp(ctx context.Context, appID uint32) (*AppRegistration, error) {
	const q = `SELECT app_id, app_name, owner_id, server_id, channel_id, hashed_token, approved
	             FROM applications WHERE app_id = ? AND approved = TRUE`
	var app AppRegistration
	if err := s.db.GetContext(ctx, &app, q, appID); err != nil {
		return nil, translate(err)
	}
	return &app, nil
}

func (s *SQL) ApproveApp(ctx context.Context, appID uint32, hashedToken string) (bool, error) {
	const q = `UPDATE applications SET hashed_token = ?, approved = TRUE
	            WHERE app_id = ? AND approved = FALSE`
	res, err := s.db.ExecContext(ctx, q, hashedToken, appID)
	if err != nil {
		return false, translate(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

func (s *SQL) DeleteApp(ctx context.Context, appID uint32) error {
	const q = `DELETE FROM applications WHERE app_id = ?`
	res, err := s.db.ExecContext(ctx, q, appID)
	if err != nil {
		return translate(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// translate maps driver errors onto the package sentinels.
func translate(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry {
		return fmt.Errorf("%w: %s", ErrDuplicate, mysqlErr.Message)
	}
	return err
}
