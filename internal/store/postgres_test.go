package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zuevav/pik-tracker/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return &PostgresStore{pool: mock}, mock
}

func TestPostgresStore_GetProject_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .+ FROM projects WHERE external_id = \$1`).
		WithArgs(int64(42)).
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetProject(context.Background(), 42)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetProjectTracked_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE projects SET tracked = \$1`).
		WithArgs(true, pgxmock.AnyArg(), int64(99)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.SetProjectTracked(context.Background(), 99, true)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_MarkSoldExcept_EmptySeen(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	// With no seen ids the NOT IN clause is omitted: every active listing of
	// the project transitions to sold.
	mock.ExpectExec(`UPDATE listings SET status = \$1, last_seen_at = \$2 WHERE project_id = \$3 AND status = \$4$`).
		WithArgs("sold", pgxmock.AnyArg(), int64(42), "active").
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))

	n, err := s.MarkSoldExcept(context.Background(), 42, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_MarkSoldExcept_SeenSet(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE listings SET status = .+ AND NOT \(external_id = ANY\(\$5\)\)`).
		WithArgs("sold", pgxmock.AnyArg(), int64(42), "active", []int64{100, 101}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	n, err := s.MarkSoldExcept(context.Background(), 42, []int64{100, 101})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_HasNotification_Scoping(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	ctx := context.Background()

	subID := int64(7)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM notifications WHERE listing_id = \$1 AND kind = \$2 AND subscription_id = \$3`).
		WithArgs(int64(100), "new", subID).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(1))

	has, err := s.HasNotification(ctx, &subID, 100, model.KindNew)
	require.NoError(t, err)
	assert.True(t, has)

	// The global digest scope matches only NULL subscription ids.
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM notifications WHERE listing_id = \$1 AND kind = \$2 AND subscription_id IS NULL`).
		WithArgs(int64(100), "price_drop").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(0))

	has, err = s.HasNotification(ctx, nil, 100, model.KindPriceDrop)
	require.NoError(t, err)
	assert.False(t, has)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CycleLock(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT pg_try_advisory_lock\(\$1\)`).
		WithArgs(cycleLockKey).
		WillReturnRows(pgxmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))

	got, err := s.AcquireCycleLock(ctx, time.Minute)
	require.NoError(t, err)
	assert.True(t, got)

	mock.ExpectQuery(`SELECT pg_advisory_unlock\(\$1\)`).
		WithArgs(cycleLockKey).
		WillReturnRows(pgxmock.NewRows([]string{"pg_advisory_unlock"}).AddRow(true))

	require.NoError(t, s.ReleaseCycleLock(ctx))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetSetting_Missing(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT value FROM settings WHERE key = \$1`).
		WithArgs("last_check").
		WillReturnError(pgx.ErrNoRows)

	v, err := s.GetSetting(context.Background(), "last_check")
	require.NoError(t, err)
	assert.Empty(t, v)
	assert.NoError(t, mock.ExpectationsWereMet())
}
