package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goatkit/phonedesk/internal/models"
)

func newMockStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSQLStore(sqlx.NewDb(db, "sqlite3")), mock
}

var assetCols = []string{
	"phone_number", "status", "applicant_employee_id", "applicant_status_snapshot",
	"current_user_employee_id", "vendor", "purpose", "department_id", "risk_reason",
	"created_at", "updated_at",
}

func TestSQLStore_GetAsset(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM phone_assets WHERE phone_number = ?")).
		WithArgs("13900000000").
		WillReturnRows(sqlmock.NewRows(assetCols).
			AddRow("13900000000", "in_use", 1, "active", 10, "cmcc", "test", 7, nil, t0, t0))
	mock.ExpectQuery(regexp.QuoteMeta("FROM asset_usage_history")).
		WithArgs("13900000000").
		WillReturnRows(sqlmock.NewRows([]string{"phone_number", "employee_id", "start_date", "end_date"}).
			AddRow("13900000000", 9, t0, t0).
			AddRow("13900000000", 10, t0, nil))

	a, err := store.GetAsset(context.Background(), "13900000000")
	require.NoError(t, err)
	assert.Equal(t, models.AssetInUse, a.Status)
	assert.Equal(t, int64(10), a.CurrentHolder())
	require.Len(t, a.UsageHistory, 2)
	assert.True(t, a.CheckUsageInvariant())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_GetAssetNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM phone_assets")).
		WithArgs("1").
		WillReturnRows(sqlmock.NewRows(assetCols))

	_, err := store.GetAsset(context.Background(), "1")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_CreateTransferPendingConflict(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM transfer_requests")).
		WithArgs("1", models.TransferPending).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectRollback()

	err := store.CreateTransfer(context.Background(), &models.TransferRequest{
		ID: "r2", PhoneNumber: "1", State: models.TransferPending,
	})
	assert.ErrorIs(t, err, ErrDuplicate)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_UpdateAssetRewritesHistory(t *testing.T) {
	store, mock := newMockStore(t)

	a := idleAsset("1", 7)
	a.Status = models.AssetInUse
	a.OpenUsage(10, t0)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE phone_assets")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM asset_usage_history WHERE phone_number = ?")).
		WithArgs("1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO asset_usage_history")).
		WithArgs("1", 0, int64(10), t0, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, store.UpdateAsset(context.Background(), a))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_AtomicRollsBackOnError(t *testing.T) {
	store, mock := newMockStore(t)
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE transfer_requests")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	err := store.Atomic(context.Background(), func(tx Store) error {
		if err := tx.UpdateTransfer(context.Background(), &models.TransferRequest{ID: "r1", State: models.TransferAccepted}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_SaveSubmissionExisting(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM task_submissions")).
		WithArgs("t1", int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"task_id", "employee_id", "submitted_at"}).AddRow("t1", 5, t0))
	mock.ExpectCommit()

	stored, created, err := store.SaveSubmission(context.Background(), &models.TaskSubmission{TaskID: "t1", EmployeeID: 5})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, t0, stored.SubmittedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}
