package credentials

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS api_keys (
	service TEXT PRIMARY KEY,
	api_key_enc TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
`

// SQLiteStore persists encrypted keys in SQLite.
type SQLiteStore struct {
	db    *sql.DB
	codec *codec
	now   func() time.Time
}

// OpenSQLiteStore opens (or creates) the credentials database at dsn.
func OpenSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("credentials sqlite store open: %w", err)
	}
	db.SetMaxOpenConns(1)
	store, err := NewSQLiteStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLiteStore creates the store on an existing connection.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("credentials sqlite store: db is nil")
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		return nil, fmt.Errorf("credentials sqlite store create schema: %w", err)
	}
	c, err := newCodec("sqlite")
	if err != nil {
		return nil, fmt.Errorf("credentials sqlite store init secrets codec: %w", err)
	}
	return &SQLiteStore{db: db, codec: c, now: time.Now}, nil
}

// APIKey implements Store.
func (s *SQLiteStore) APIKey(ctx context.Context, service string) (string, error) {
	var enc string
	err := s.db.QueryRowContext(ctx, `SELECT api_key_enc FROM api_keys WHERE service = ?`, service).Scan(&enc)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("credentials sqlite store get: %w", err)
	}
	return s.codec.decrypt(enc)
}

// Save encrypts and upserts apiKey for service.
func (s *SQLiteStore) Save(ctx context.Context, service, apiKey string) error {
	if err := checkSave(service, apiKey); err != nil {
		return err
	}
	enc, err := s.codec.encrypt(apiKey)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO api_keys (service, api_key_enc, updated_at) VALUES (?, ?, ?)
ON CONFLICT(service) DO UPDATE SET api_key_enc = excluded.api_key_enc, updated_at = excluded.updated_at`,
		service, enc, s.now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("credentials sqlite store save: %w", err)
	}
	return nil
}

// Delete removes the key for service, returning ErrNotFound when absent.
func (s *SQLiteStore) Delete(ctx context.Context, service string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM api_keys WHERE service = ?`, service)
	if err != nil {
		return fmt.Errorf("credentials sqlite store delete: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// Services lists services with a stored key, sorted.
func (s *SQLiteStore) Services(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT service FROM api_keys ORDER BY service ASC`)
	if err != nil {
		return nil, fmt.Errorf("credentials sqlite store list: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var svc string
		if err := rows.Scan(&svc); err != nil {
			return nil, err
		}
		out = append(out, svc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("credentials sqlite store list rows: %w", err)
	}
	return out, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ Manager = (*SQLiteStore)(nil)
