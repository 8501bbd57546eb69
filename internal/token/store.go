package token

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when no active row matches a token lookup.
// Callers must treat it identically to a revoked or expired token so the
// response never leaks whether a token ever existed.
var ErrNotFound = errors.New("token not found")

// Store is the persistence surface the validator and admin API need.
type Store interface {
	// LookupActive returns the row whose token column exactly matches
	// value and whose status is active. Expiry is NOT checked here;
	// that is the validator's read-time concern.
	LookupActive(ctx context.Context, value string) (*APIToken, error)
	// TouchLastUsed records usage on the row. Advisory only.
	TouchLastUsed(ctx context.Context, id string) error
	// List returns all rows, newest first, secrets omitted.
	List(ctx context.Context) ([]APIToken, error)
	// Revoke sets the row's status to revoked.
	Revoke(ctx context.Context, id string) error
}

// PostgresStore implements Store on the backend's api_tokens table via
// database/sql (pgx stdlib driver).
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) LookupActive(ctx context.Context, value string) (*APIToken, error) {
	const query = `SELECT id, name, token, permissions, status, expires_at, last_used_at, created_at
	               FROM api_tokens WHERE token = $1 AND status = $2`

	row := s.db.QueryRowContext(ctx, query, value, StatusActive)

	var (
		tok      APIToken
		perms    []byte
		expires  sql.NullTime
		lastUsed sql.NullTime
	)
	err := row.Scan(&tok.ID, &tok.Name, &tok.Token, &perms, &tok.Status, &expires, &lastUsed, &tok.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying api_tokens: %w", err)
	}

	if len(perms) > 0 {
		if err := json.Unmarshal(perms, &tok.Permissions); err != nil {
			return nil, fmt.Errorf("decoding permissions for token %s: %w", tok.ID, err)
		}
	}
	if expires.Valid {
		t := expires.Time
		tok.ExpiresAt = &t
	}
	if lastUsed.Valid {
		t := lastUsed.Time
		tok.LastUsedAt = &t
	}
	return &tok, nil
}

func (s *PostgresStore) TouchLastUsed(ctx context.Context, id string) error {
	const query = `UPDATE api_tokens SET last_used_at = $1 WHERE id = $2`
	if _, err := s.db.ExecContext(ctx, query, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("updating last_used_at for token %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context) ([]APIToken, error) {
	const query = `SELECT id, name, permissions, status, expires_at, last_used_at, created_at
	               FROM api_tokens ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing api_tokens: %w", err)
	}
	defer rows.Close()

	var out []APIToken
	for rows.Next() {
		var (
			tok      APIToken
			perms    []byte
			expires  sql.NullTime
			lastUsed sql.NullTime
		)
		if err := rows.Scan(&tok.ID, &tok.Name, &perms, &tok.Status, &expires, &lastUsed, &tok.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning api_tokens row: %w", err)
		}
		if len(perms) > 0 {
			if err := json.Unmarshal(perms, &tok.Permissions); err != nil {
				return nil, fmt.Errorf("decoding permissions for token %s: %w", tok.ID, err)
			}
		}
		if expires.Valid {
			t := expires.Time
			tok.ExpiresAt = &t
		}
		if lastUsed.Valid {
			t := lastUsed.Time
			tok.LastUsedAt = &t
		}
		out = append(out, tok)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Revoke(ctx context.Context, id string) error {
	const query = `UPDATE api_tokens SET status = $1 WHERE id = $2`
	res, err := s.db.ExecContext(ctx, query, StatusRevoked, id)
	if err != nil {
		return fmt.Errorf("revoking token %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
