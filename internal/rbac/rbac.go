// Package rbac answers role questions against the backend's user_roles
// table. The gateway only ever asks one question: does this user hold
// the admin role.
package rbac

import (
	"context"
	"database/sql"
	"fmt"
)

// RoleAdmin is the role required for gateway admin actions.
const RoleAdmin = "admin"

// Checker reports whether a user holds a role.
type Checker interface {
	HasRole(ctx context.Context, userID, role string) (bool, error)
}

// PostgresChecker implements Checker on the user_roles table.
type PostgresChecker struct {
	db *sql.DB
}

// NewPostgresChecker wraps an open database handle.
func NewPostgresChecker(db *sql.DB) *PostgresChecker {
	return &PostgresChecker{db: db}
}

func (c *PostgresChecker) HasRole(ctx context.Context, userID, role string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM user_roles WHERE user_id = $1 AND role = $2)`

	var exists bool
	if err := c.db.QueryRowContext(ctx, query, userID, role).Scan(&exists); err != nil {
		return false, fmt.Errorf("querying user_roles for %s: %w", userID, err)
	}
	return exists, nil
}
