package source

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/wildfire-lending/guardrail/internal/cache"
	"github.com/wildfire-lending/guardrail/internal/engine/value"
	"github.com/wildfire-lending/guardrail/internal/storage"
)

func newMockStore(t *testing.T) (storage.RecordStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return storage.NewPostgres(sqlx.NewDb(db, "sqlmock"), nil), mock
}

func TestApplicationFetchParsesPayload(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT \* FROM wf_applications_get\(\$1\)`).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "payload"}).
			AddRow(int64(42), `{"status":"approved","credit_score":712,"lender_id":7}`))

	app, err := NewApplication(store, nil, nil, 42)
	require.NoError(t, err)

	payload, err := app.Fetch(context.Background())
	require.NoError(t, err)

	status, ok := payload.Field("status")
	require.True(t, ok)
	text, _ := status.Text()
	require.Equal(t, "approved", text)

	score, ok := payload.Field("credit_score")
	require.True(t, ok)
	n, _ := score.Number()
	require.Equal(t, float64(712), n)
}

func TestApplicationWarmCacheSkipsStore(t *testing.T) {
	store, mock := newMockStore(t)
	kv := cache.NewMemory()

	mock.ExpectQuery(`SELECT \* FROM wf_applications_get\(\$1\)`).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "payload"}).
			AddRow(int64(42), `{"status":"approved","credit_score":712}`))

	app, err := NewApplication(store, kv, nil, 42)
	require.NoError(t, err)

	first, err := app.Fetch(context.Background())
	require.NoError(t, err)

	_, hit, err := kv.Get(context.Background(), ApplicationCacheKey(42))
	require.NoError(t, err)
	require.True(t, hit, "payload cached under the per-application key")

	// The mock registered only one query: a second fetch resolves from cache.
	second, err := app.Fetch(context.Background())
	require.NoError(t, err)
	require.Equal(t, first.Interface(), second.Interface())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplicationFetchMissingRow(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT \* FROM wf_applications_get\(\$1\)`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "payload"}))

	app, err := NewApplication(store, nil, nil, 7)
	require.NoError(t, err)

	_, err = app.Fetch(context.Background())
	var unavailable *UnavailableError
	require.ErrorAs(t, err, &unavailable)
}

func TestApplicationRejectsNonObjectPayload(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT \* FROM wf_applications_get\(\$1\)`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow(`[1,2,3]`))

	app, err := NewApplication(store, nil, nil, 7)
	require.NoError(t, err)

	_, err = app.Fetch(context.Background())
	var unavailable *UnavailableError
	require.ErrorAs(t, err, &unavailable)
}

func TestNewApplicationRequiresPositiveID(t *testing.T) {
	store, _ := newMockStore(t)
	_, err := NewApplication(store, nil, nil, 0)
	require.Error(t, err)
}

func lenderRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"lender_id", "lender_name", "config"}).
		AddRow(int64(7), "First Wildfire", `{"max_loan_amount":500000,"max_closing_days":30}`).
		AddRow(int64(9), "Second Ridge", `{"max_loan_amount":250000}`)
}

func TestLenderConfigurationFetchSelectsLender(t *testing.T) {
	store, mock := newMockStore(t)
	kv := cache.NewMemory()

	mock.ExpectQuery(`SELECT \* FROM wf_lender_config_get_active\(\)`).
		WillReturnRows(lenderRows())

	src, err := NewLenderConfiguration(store, kv, nil, 42, 7)
	require.NoError(t, err)

	payload, err := src.Fetch(context.Background())
	require.NoError(t, err)

	name, ok := payload.Field("lender_name")
	require.True(t, ok)
	text, _ := name.Text()
	require.Equal(t, "First Wildfire", text)

	config, ok := payload.Field("config")
	require.True(t, ok)
	capField, ok := config.Field("max_loan_amount")
	require.True(t, ok)
	capValue, _ := capField.Number()
	require.Equal(t, float64(500000), capValue)

	// The whole table was cached under the shared key.
	_, hit, err := kv.Get(context.Background(), LenderConfigCacheKey)
	require.NoError(t, err)
	require.True(t, hit)
}

func TestLenderConfigurationWarmCacheSkipsStore(t *testing.T) {
	store, mock := newMockStore(t)
	kv := cache.NewMemory()

	mock.ExpectQuery(`SELECT \* FROM wf_lender_config_get_active\(\)`).
		WillReturnRows(lenderRows())

	first, err := NewLenderConfiguration(store, kv, nil, 42, 7)
	require.NoError(t, err)
	_, err = first.Fetch(context.Background())
	require.NoError(t, err)

	// A second lender resolves from the cached table: the mock registered
	// only one query.
	second, err := NewLenderConfiguration(store, kv, nil, 42, 9)
	require.NoError(t, err)
	payload, err := second.Fetch(context.Background())
	require.NoError(t, err)

	name, _ := payload.Field("lender_name")
	text, _ := name.Text()
	require.Equal(t, "Second Ridge", text)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLenderConfigurationUnknownLender(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT \* FROM wf_lender_config_get_active\(\)`).
		WillReturnRows(lenderRows())

	src, err := NewLenderConfiguration(store, cache.NewMemory(), nil, 42, 999)
	require.NoError(t, err)

	_, err = src.Fetch(context.Background())
	var unavailable *UnavailableError
	require.ErrorAs(t, err, &unavailable)
}

func TestNewLenderConfigurationValidatesIDs(t *testing.T) {
	store, _ := newMockStore(t)

	_, err := NewLenderConfiguration(store, nil, nil, 0, 7)
	require.Error(t, err)

	_, err = NewLenderConfiguration(store, nil, nil, 42, 0)
	require.Error(t, err)
}

func TestAuthorizationMatrixShaping(t *testing.T) {
	store, mock := newMockStore(t)
	kv := cache.NewMemory()

	mock.ExpectQuery(`SELECT \* FROM wf_guardrail_user_Authorization_matrix\(\)`).
		WillReturnRows(sqlmock.NewRows([]string{"email", "role", "group_name", "title"}).
			AddRow("  Alice@Example.com ", "underwriter", "west", "Senior Underwriter").
			AddRow("alice@example.com", "underwriter", "east", "Senior Underwriter").
			AddRow("bob@example.com", "processor", "west", "").
			AddRow("", "orphan", "none", "none"))

	src := NewUserAuthorizationMatrix(store, kv, nil)

	matrix, err := src.Fetch(context.Background())
	require.NoError(t, err)

	users, ok := matrix.Field("users")
	require.True(t, ok)
	alice, ok := users.Field("alice@example.com")
	require.True(t, ok, "emails are lowercased and trimmed")

	roles, ok := alice.Field("role")
	require.True(t, ok)
	require.Equal(t, 1, roles.Len(), "duplicate role assignments collapse")

	groups, ok := alice.Field("group")
	require.True(t, ok)
	require.Equal(t, 2, groups.Len())

	reverse, ok := matrix.Field("roles")
	require.True(t, ok)
	underwriters, ok := reverse.Field("underwriter")
	require.True(t, ok)
	require.Equal(t, 1, underwriters.Len())

	byGroup, ok := matrix.Field("groups")
	require.True(t, ok)
	west, ok := byGroup.Field("west")
	require.True(t, ok)
	require.Equal(t, 2, west.Len())

	_, ok = users.Field("")
	require.False(t, ok, "blank emails are skipped")

	_, hit, err := kv.Get(context.Background(), AuthMatrixCacheKey)
	require.NoError(t, err)
	require.True(t, hit)
}

func TestAuthorizationMatrixWarmCacheSkipsStore(t *testing.T) {
	store, mock := newMockStore(t)
	kv := cache.NewMemory()

	mock.ExpectQuery(`SELECT \* FROM wf_guardrail_user_Authorization_matrix\(\)`).
		WillReturnRows(sqlmock.NewRows([]string{"email", "role", "group_name", "title"}).
			AddRow("alice@example.com", "underwriter", "west", "Senior Underwriter"))

	src := NewUserAuthorizationMatrix(store, kv, nil)
	_, err := src.Fetch(context.Background())
	require.NoError(t, err)

	again, err := src.Fetch(context.Background())
	require.NoError(t, err)
	_, ok := again.Field("users")
	require.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBuildBagKeysPayloadsBySourceName(t *testing.T) {
	bag, err := BuildBag(context.Background(), []DataSource{
		NewStatic("test", value.Object(map[string]value.Value{"number_A": value.Int(100)})),
		NewStatic("test2", value.Object(map[string]value.Value{"tolerance_max": value.Int(3)})),
	})
	require.NoError(t, err)
	require.Len(t, bag, 2)

	payload, ok := bag["test"]
	require.True(t, ok)
	field, ok := payload.Field("number_A")
	require.True(t, ok)
	n, _ := field.Number()
	require.Equal(t, float64(100), n)
}
