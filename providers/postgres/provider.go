// Package postgres holds a pgx-backed user provider with embedded goose
// migrations.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/tokamak-auth/tokamak"
)

//go:embed migrations/*.sql
var migrations embed.FS

const queryTimeout = 5 * time.Second

const pgUniqueViolation = "23505"

// Provider implements tokamak.UserProvider against a PostgreSQL pool.
type Provider struct {
	pool *pgxpool.Pool
}

// Open creates a connection pool from the DSN and verifies connectivity.
func Open(ctx context.Context, dsn string) (*Provider, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}

	// Simple protocol keeps the pool compatible with goose.
	cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &Provider{pool: pool}, nil
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool) *Provider {
	return &Provider{pool: pool}
}

// Migrate applies the embedded schema migrations.
func (p *Provider) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}

	connString := p.pool.Config().ConnConfig.ConnString()
	sqlDB, err := goose.OpenDBWithDriver("pgx", connString)
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	return goose.UpContext(ctx, sqlDB, "migrations")
}

func (p *Provider) Close() {
	p.pool.Close()
}

func (p *Provider) CreateUser(ctx context.Context, in tokamak.CreateUserInput) (tokamak.UserRecord, error) {
	query := `
        INSERT INTO users (id, email, role, password_hash, created_at)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING id, email, role, password_hash;
    `

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var rec tokamak.UserRecord
	err := p.pool.QueryRow(ctx, query,
		uuid.NewString(), in.Email, in.Role, in.PasswordHash, time.Now().UTC(),
	).Scan(&rec.UserID, &rec.Email, &rec.Role, &rec.PasswordHash)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return tokamak.UserRecord{}, fmt.Errorf("%w: %s", tokamak.ErrAccountExists, in.Email)
		}
		return tokamak.UserRecord{}, fmt.Errorf("db error: %w", err)
	}

	return rec, nil
}

func (p *Provider) GetUserByEmail(ctx context.Context, email string) (tokamak.UserRecord, error) {
	query := `
        SELECT id, email, role, password_hash FROM users
        WHERE email = $1;
    `
	return p.getUser(ctx, query, email)
}

func (p *Provider) GetUserByID(ctx context.Context, userID string) (tokamak.UserRecord, error) {
	query := `
        SELECT id, email, role, password_hash FROM users
        WHERE id = $1;
    `
	return p.getUser(ctx, query, userID)
}

func (p *Provider) getUser(ctx context.Context, query string, arg any) (tokamak.UserRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var rec tokamak.UserRecord
	err := p.pool.QueryRow(ctx, query, arg).Scan(&rec.UserID, &rec.Email, &rec.Role, &rec.PasswordHash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return tokamak.UserRecord{}, tokamak.ErrUserNotFound
		}
		return tokamak.UserRecord{}, fmt.Errorf("db error: %w", err)
	}
	return rec, nil
}

func (p *Provider) UpdatePasswordHash(ctx context.Context, userID, newHash string) error {
	query := `
        UPDATE users SET password_hash = $2, updated_at = $3
        WHERE id = $1;
    `

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tag, err := p.pool.Exec(ctx, query, userID, newHash, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return tokamak.ErrUserNotFound
	}
	return nil
}
