package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/JonMunkholm/emailclean/internal/core"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX is the subset of pgx used by the Postgres store.
// Satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS email_lists (
    id BIGSERIAL PRIMARY KEY,
    name TEXT NOT NULL,
    total_emails INTEGER NOT NULL,
    valid_emails INTEGER NOT NULL,
    invalid_emails INTEGER NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    user_id TEXT NOT NULL,
    results JSONB NOT NULL DEFAULT '[]'::jsonb,
    CHECK (total_emails = valid_emails + invalid_emails)
);

CREATE INDEX IF NOT EXISTS idx_email_lists_user_created ON email_lists(user_id, created_at DESC);
`

// Postgres is a ListStore backed by a pgx connection pool.
type Postgres struct {
	db  DBTX
	now func() time.Time
}

// NewPostgres wraps an open pool. Call EnsureSchema once at startup.
func NewPostgres(db DBTX) *Postgres {
	return &Postgres{db: db, now: time.Now}
}

// Ping implements Pinger when the underlying handle is a pool or
// connection; a transaction is assumed healthy.
func (p *Postgres) Ping(ctx context.Context) error {
	if pinger, ok := p.db.(interface{ Ping(context.Context) error }); ok {
		return pinger.Ping(ctx)
	}
	return nil
}

// OpenPostgres parses url, applies pool limits, connects and pings.
func OpenPostgres(ctx context.Context, url string, opts PoolOptions) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	if opts.MaxConns > 0 {
		poolConfig.MaxConns = int32(opts.MaxConns)
	}
	poolConfig.MinConns = int32(opts.MinConns)
	poolConfig.MaxConnLifetime = opts.MaxConnLifetime
	poolConfig.MaxConnIdleTime = opts.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// PoolOptions carries connection pool limits.
type PoolOptions struct {
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// EnsureSchema creates the email_lists table if it does not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Save implements core.ListStore.
func (p *Postgres) Save(ctx context.Context, rec core.EmailListRecord) (core.EmailListRecord, error) {
	results, err := json.Marshal(nonNilResults(rec.Results))
	if err != nil {
		return core.EmailListRecord{}, fmt.Errorf("encode results: %w", err)
	}

	err = p.db.QueryRow(ctx, `
		INSERT INTO email_lists (name, total_emails, valid_emails, invalid_emails, created_at, user_id, results)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`,
		rec.Name, rec.TotalEmails, rec.ValidEmails, rec.InvalidEmails, p.now().UTC(), rec.UserID, results,
	).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return core.EmailListRecord{}, fmt.Errorf("save list: %w", err)
	}
	return rec, nil
}

// ListByOwner implements core.ListStore.
func (p *Postgres) ListByOwner(ctx context.Context, userID string) ([]core.EmailListRecord, error) {
	rows, err := p.db.Query(ctx, `
		SELECT id, name, total_emails, valid_emails, invalid_emails, created_at, user_id, results
		FROM email_lists
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list lists: %w", err)
	}
	defer rows.Close()

	out := make([]core.EmailListRecord, 0)
	for rows.Next() {
		rec, err := scanPostgres(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list lists: %w", err)
	}
	return out, nil
}

// GetByID implements core.ListStore.
func (p *Postgres) GetByID(ctx context.Context, id int64) (core.EmailListRecord, error) {
	row := p.db.QueryRow(ctx, `
		SELECT id, name, total_emails, valid_emails, invalid_emails, created_at, user_id, results
		FROM email_lists
		WHERE id = $1`, id)
	rec, err := scanPostgres(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.EmailListRecord{}, core.ErrListNotFound
	}
	return rec, err
}

func scanPostgres(row pgx.Row) (core.EmailListRecord, error) {
	var (
		rec     core.EmailListRecord
		results []byte
	)
	err := row.Scan(&rec.ID, &rec.Name, &rec.TotalEmails, &rec.ValidEmails, &rec.InvalidEmails,
		&rec.CreatedAt, &rec.UserID, &results)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return rec, err
		}
		return rec, fmt.Errorf("scan list: %w", err)
	}
	if err := json.Unmarshal(results, &rec.Results); err != nil {
		return rec, fmt.Errorf("decode results: %w", err)
	}
	return rec, nil
}

func nonNilResults(r []core.ValidationResult) []core.ValidationResult {
	if r == nil {
		return []core.ValidationResult{}
	}
	return r
}
