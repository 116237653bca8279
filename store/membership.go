package store

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"
)

// MembershipRepository reads policy membership lists from Postgres. Users
// are identified by their stable subject or email; either value on a
// wiki_users row participates in the list.
type MembershipRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewMembershipRepository creates a MembershipRepository
func NewMembershipRepository(db *sql.DB, logger *zap.Logger) *MembershipRepository {
	return &MembershipRepository{
		db:     db,
		logger: logger,
	}
}

// ListBanned returns the subjects and emails of banned users
func (r *MembershipRepository) ListBanned(ctx context.Context) ([]string, error) {
	return r.listUsers(ctx, "banned")
}

// ListAdmins returns the subjects and emails of administrators
func (r *MembershipRepository) ListAdmins(ctx context.Context) ([]string, error) {
	return r.listUsers(ctx, "admin")
}

// ListProtectedPages returns the names of pages requiring escalated rights
func (r *MembershipRepository) ListProtectedPages(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT name FROM protected_pages ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query protected pages: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan protected page: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate protected pages: %w", err)
	}

	r.logger.Debug("protected pages loaded", zap.Int("count", len(names)))
	return names, nil
}

// listUsers returns subject and email for users with the given flag set.
// The flag column name is fixed by the callers, never user input.
func (r *MembershipRepository) listUsers(ctx context.Context, flag string) ([]string, error) {
	query := fmt.Sprintf(`SELECT subject, email FROM wiki_users WHERE %s = true ORDER BY subject`, flag)

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s users: %w", flag, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var subject, email string
		if err := rows.Scan(&subject, &email); err != nil {
			return nil, fmt.Errorf("failed to scan %s user: %w", flag, err)
		}
		names = append(names, subject)
		if email != "" {
			names = append(names, email)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s users: %w", flag, err)
	}

	r.logger.Debug("membership list loaded",
		zap.String("flag", flag),
		zap.Int("count", len(names)))
	return names, nil
}
