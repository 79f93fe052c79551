package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/JonMunkholm/emailclean/internal/core"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS email_lists (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    total_emails INTEGER NOT NULL,
    valid_emails INTEGER NOT NULL,
    invalid_emails INTEGER NOT NULL,
    created_at TEXT NOT NULL,
    user_id TEXT NOT NULL,
    results TEXT NOT NULL DEFAULT '[]',
    CHECK (total_emails = valid_emails + invalid_emails)
);

CREATE INDEX IF NOT EXISTS idx_email_lists_user_created ON email_lists(user_id, created_at DESC);
`

// SQLite is a single-node ListStore on modernc.org/sqlite.
// Timestamps are stored as fixed-width RFC 3339 text so they sort correctly.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

// OpenSQLite opens (or creates) the database at path and applies the schema.
// Use ":memory:" for a throwaway database.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection: SQLite serialises writers anyway, and an in-memory
	// database exists only on the connection that created it.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLite{db: db, now: time.Now}, nil
}

// Close releases the database handle.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Ping implements Pinger.
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Save implements core.ListStore.
func (s *SQLite) Save(ctx context.Context, rec core.EmailListRecord) (core.EmailListRecord, error) {
	results, err := json.Marshal(nonNilResults(rec.Results))
	if err != nil {
		return core.EmailListRecord{}, fmt.Errorf("encode results: %w", err)
	}
	rec.CreatedAt = s.now().UTC()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO email_lists (name, total_emails, valid_emails, invalid_emails, created_at, user_id, results)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.Name, rec.TotalEmails, rec.ValidEmails, rec.InvalidEmails,
		rec.CreatedAt.Format(sqliteTimeLayout), rec.UserID, string(results),
	)
	if err != nil {
		return core.EmailListRecord{}, fmt.Errorf("save list: %w", err)
	}
	rec.ID, err = res.LastInsertId()
	if err != nil {
		return core.EmailListRecord{}, fmt.Errorf("save list: %w", err)
	}
	return rec, nil
}

// ListByOwner implements core.ListStore.
func (s *SQLite) ListByOwner(ctx context.Context, userID string) ([]core.EmailListRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, total_emails, valid_emails, invalid_emails, created_at, user_id, results
		FROM email_lists
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list lists: %w", err)
	}
	defer rows.Close()

	out := make([]core.EmailListRecord, 0)
	for rows.Next() {
		rec, err := scanSQLite(rows)
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
func (s *SQLite) GetByID(ctx context.Context, id int64) (core.EmailListRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, total_emails, valid_emails, invalid_emails, created_at, user_id, results
		FROM email_lists
		WHERE id = ?`, id)
	rec, err := scanSQLite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.EmailListRecord{}, core.ErrListNotFound
	}
	return rec, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSQLite(row scanner) (core.EmailListRecord, error) {
	var (
		rec       core.EmailListRecord
		createdAt string
		results   string
	)
	err := row.Scan(&rec.ID, &rec.Name, &rec.TotalEmails, &rec.ValidEmails, &rec.InvalidEmails,
		&createdAt, &rec.UserID, &results)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rec, err
		}
		return rec, fmt.Errorf("scan list: %w", err)
	}
	rec.CreatedAt, err = time.Parse(sqliteTimeLayout, createdAt)
	if err != nil {
		return rec, fmt.Errorf("parse created_at: %w", err)
	}
	if err := json.Unmarshal([]byte(results), &rec.Results); err != nil {
		return rec, fmt.Errorf("decode results: %w", err)
	}
	return rec, nil
}
