package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const sessionSchema = `
CREATE TABLE IF NOT EXISTS auth_sessions (
    token_hash TEXT PRIMARY KEY,
    user_id    TEXT NOT NULL,
    expires_at TIMESTAMPTZ NOT NULL,
    issued_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS auth_sessions_expires_at_idx ON auth_sessions (expires_at);
`

// PostgresSessionStore shares session state between replicas through a
// Postgres table. Pair it with the Postgres catalog driver when running
// more than one node.
type PostgresSessionStore struct {
	pool *pgxpool.Pool
}

func NewPostgresSessionStore(ctx context.Context, dsn string) (*PostgresSessionStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres session dsn is required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres session config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres session pool: %w", err)
	}
	if _, err := pool.Exec(ctx, sessionSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply session schema: %w", err)
	}
	return &PostgresSessionStore{pool: pool}, nil
}

// Close releases the connection pool, honouring the context deadline.
func (s *PostgresSessionStore) Close(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		s.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (s *PostgresSessionStore) Save(record SessionRecord) error {
	_, err := s.pool.Exec(context.Background(), `
INSERT INTO auth_sessions (token_hash, user_id, expires_at, issued_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (token_hash) DO UPDATE SET expires_at = EXCLUDED.expires_at
`, record.TokenHash, record.UserID, record.ExpiresAt.UTC(), record.IssuedAt.UTC())
	return err
}

func (s *PostgresSessionStore) Lookup(tokenHash string) (SessionRecord, bool, error) {
	row := s.pool.QueryRow(context.Background(), `
SELECT user_id, expires_at, issued_at
FROM auth_sessions
WHERE token_hash = $1
`, tokenHash)
	record := SessionRecord{TokenHash: tokenHash}
	var expiresAt, issuedAt time.Time
	if err := row.Scan(&record.UserID, &expiresAt, &issuedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SessionRecord{}, false, nil
		}
		return SessionRecord{}, false, err
	}
	record.ExpiresAt = expiresAt.UTC()
	record.IssuedAt = issuedAt.UTC()
	return record, true, nil
}

func (s *PostgresSessionStore) Delete(tokenHash string) error {
	_, err := s.pool.Exec(context.Background(), `DELETE FROM auth_sessions WHERE token_hash = $1`, tokenHash)
	return err
}

func (s *PostgresSessionStore) PurgeExpired(now time.Time) error {
	_, err := s.pool.Exec(context.Background(), `DELETE FROM auth_sessions WHERE expires_at <= $1`, now.UTC())
	return err
}

// Ping verifies the pool can reach the database.
func (s *PostgresSessionStore) Ping(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("postgres session pool not configured")
	}
	return s.pool.Ping(ctx)
}
