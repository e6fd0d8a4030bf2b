package sqlite_test

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdorm/tenancy-engine/store/sqlite"
	"github.com/smartdorm/tenancy-engine/tenancy"
)

// =============================================================================
// DRIVER FAILURE PATHS
// =============================================================================

func newMockStore(t *testing.T) (*sqlite.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlite.Open(db), mock
}

func TestSQLite_ReadFailure_IsNotNotFound(t *testing.T) {
	ctx := context.Background()
	s, mock := newMockStore(t)

	mock.ExpectQuery("FROM rooms WHERE id").WillReturnError(errors.New("disk I/O error"))

	_, err := s.GetRoom(ctx, "room-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, tenancy.ErrNotFound)
	assert.Contains(t, err.Error(), "disk I/O error")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLite_StaleVersion_DetectedAfterZeroRows(t *testing.T) {
	ctx := context.Background()
	s, mock := newMockStore(t)

	mock.ExpectExec("UPDATE bookings SET").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM bookings`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	b := &tenancy.Booking{ID: "b-1", Version: 3}
	err := s.UpdateBooking(ctx, b)
	assert.ErrorIs(t, err, tenancy.ErrConcurrentModification)
	assert.Equal(t, int64(3), b.Version, "version is untouched on failure")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLite_UniqueViolation_IsConflict(t *testing.T) {
	ctx := context.Background()
	s, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO bills").
		WillReturnError(errors.New("UNIQUE constraint failed: bills.room_id, bills.period_month"))

	err := s.InsertBill(ctx, &tenancy.Bill{ID: "bill-1"})
	assert.ErrorIs(t, err, tenancy.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLite_WithTx_CommitFailure(t *testing.T) {
	ctx := context.Background()
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM payments").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit().WillReturnError(errors.New("database is locked"))

	err := s.WithTx(ctx, func(st tenancy.Store) error {
		return st.DeletePayment(ctx, "p-1")
	})
	require.Error(t, err)
	assert.Nil(t, tenancy.KindOf(err), "driver failures stay unclassified until the engine sees them")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLite_WithTx_RollbackOnFnError(t *testing.T) {
	ctx := context.Background()
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := s.WithTx(ctx, func(tenancy.Store) error {
		return tenancy.ErrConflict
	})
	assert.ErrorIs(t, err, tenancy.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLite_EngineClassifiesDriverFailure(t *testing.T) {
	// GIVEN: A database that refuses to start transactions
	// WHEN: An engine operation runs
	// THEN: The caller sees ErrUnavailable

	ctx := context.Background()
	s, mock := newMockStore(t)
	mock.ExpectBegin().WillReturnError(errors.New("unable to open database file"))

	svc := tenancy.NewServices(tenancy.Deps{Store: s}, tenancy.DefaultConfig())
	_, err := svc.Bookings.Approve(ctx, "b-1", "admin")
	assert.ErrorIs(t, err, tenancy.ErrUnavailable)
}
