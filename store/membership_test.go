package store

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRepository(t *testing.T) (*MembershipRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewMembershipRepository(db, zap.NewNop()), mock
}

func TestMembershipRepository_ListBanned(t *testing.T) {
	repo, mock := newTestRepository(t)

	rows := sqlmock.NewRows([]string{"subject", "email"}).
		AddRow("user-666", "mallory@example.com").
		AddRow("user-777", "")

	mock.ExpectQuery(`SELECT subject, email FROM wiki_users WHERE banned = true`).
		WillReturnRows(rows)

	names, err := repo.ListBanned(context.Background())
	require.NoError(t, err)
	// Both identifiers of each row participate; empty emails are skipped.
	assert.Equal(t, []string{"user-666", "mallory@example.com", "user-777"}, names)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMembershipRepository_ListAdmins(t *testing.T) {
	repo, mock := newTestRepository(t)

	rows := sqlmock.NewRows([]string{"subject", "email"}).
		AddRow("user-1", "alice@example.com")

	mock.ExpectQuery(`SELECT subject, email FROM wiki_users WHERE admin = true`).
		WillReturnRows(rows)

	names, err := repo.ListAdmins(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"user-1", "alice@example.com"}, names)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMembershipRepository_ListAdmins_Empty(t *testing.T) {
	repo, mock := newTestRepository(t)

	mock.ExpectQuery(`SELECT subject, email FROM wiki_users WHERE admin = true`).
		WillReturnRows(sqlmock.NewRows([]string{"subject", "email"}))

	names, err := repo.ListAdmins(context.Background())
	require.NoError(t, err)
	assert.Empty(t, names)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMembershipRepository_ListProtectedPages(t *testing.T) {
	repo, mock := newTestRepository(t)

	rows := sqlmock.NewRows([]string{"name"}).
		AddRow("Home").
		AddRow("Infrastructure")

	mock.ExpectQuery(`SELECT name FROM protected_pages`).
		WillReturnRows(rows)

	names, err := repo.ListProtectedPages(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Home", "Infrastructure"}, names)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMembershipRepository_QueryError(t *testing.T) {
	repo, mock := newTestRepository(t)

	mock.ExpectQuery(`SELECT subject, email FROM wiki_users WHERE banned = true`).
		WillReturnError(errors.New("connection reset"))

	_, err := repo.ListBanned(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to query banned users")
	assert.NoError(t, mock.ExpectationsWereMet())
}
