package storage

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgres(sqlx.NewDb(db, "sqlmock"), nil), mock
}

func TestCallMapsRowsByColumn(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT \* FROM wf_applications_get\(\$1\)`).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "payload"}).
			AddRow(int64(42), []byte(`{"status":"open"}`)))

	rows, err := store.Call(context.Background(), "wf_applications_get", int64(42))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, int64(42), rows[0]["id"])
	require.Equal(t, `{"status":"open"}`, rows[0]["payload"], "byte columns normalize to strings")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCallWithoutArguments(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT \* FROM wf_lender_config_get_active\(\)`).
		WillReturnRows(sqlmock.NewRows([]string{"lender_id"}).AddRow(int64(1)).AddRow(int64(2)))

	rows, err := store.Call(context.Background(), "wf_lender_config_get_active")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCallRejectsInvalidProcedureName(t *testing.T) {
	store, _ := newMockStore(t)

	_, err := store.Call(context.Background(), "wf_rules; DROP TABLE rules")
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid procedure name")
}

type recordingObserver struct {
	procedures []string
	errs       []error
}

func (o *recordingObserver) ObserveStoreCall(procedure string, err error, _ time.Duration) {
	o.procedures = append(o.procedures, procedure)
	o.errs = append(o.errs, err)
}

func TestCallNotifiesObserver(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	obs := &recordingObserver{}
	store := NewPostgres(sqlx.NewDb(db, "sqlmock"), nil, WithCallObserver(obs))

	mock.ExpectQuery(`SELECT \* FROM wf_applications_get\(\$1\)`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))
	mock.ExpectQuery(`SELECT \* FROM wf_applications_get\(\$1\)`).
		WithArgs(int64(8)).
		WillReturnError(context.DeadlineExceeded)

	_, err = store.Call(context.Background(), "wf_applications_get", int64(7))
	require.NoError(t, err)
	_, err = store.Call(context.Background(), "wf_applications_get", int64(8))
	require.Error(t, err)

	require.Equal(t, []string{"wf_applications_get", "wf_applications_get"}, obs.procedures)
	require.NoError(t, obs.errs[0])
	require.Error(t, obs.errs[1])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCallPropagatesQueryErrors(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT \* FROM wf_guardrail_rules_get\(\$1, \$2\)`).
		WithArgs("underwriting", "application").
		WillReturnError(context.DeadlineExceeded)

	_, err := store.Call(context.Background(), "wf_guardrail_rules_get", "underwriting", "application")
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
