package rules

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/wildfire-lending/guardrail/internal/cache"
	"github.com/wildfire-lending/guardrail/internal/engine/operator"
	"github.com/wildfire-lending/guardrail/internal/storage"
)

func newMockStore(t *testing.T) (storage.RecordStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return storage.NewPostgres(sqlx.NewDb(db, "sqlmock"), nil), mock
}

func ruleSetRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"type", "area", "sequence", "target", "operator_id", "criteria", "sub_rule", "on_pass", "on_fail", "pass", "fail", "warn"}).
		AddRow("underwriting", "application", int64(20), `["application.status"]`, int64(operator.IDStrEQ), "approved", nil, "", "WARN", "", "not approved", "").
		AddRow("underwriting", "application", int64(10), `["application.credit_score"]`, int64(operator.IDNumGTE), "600", nil, "", "RESTRICT", "score ok", "score below floor", "")
}

func TestGetRuleSetColdLoadFillsCache(t *testing.T) {
	store, mock := newMockStore(t)
	kv := cache.NewMemory()

	mock.ExpectQuery(`SELECT \* FROM wf_guardrail_rules_get\(\$1, \$2\)`).
		WithArgs("underwriting", "application").
		WillReturnRows(ruleSetRows())

	mgr := NewManager(store, kv, nil)
	rules, err := mgr.GetRuleSet(context.Background(), "underwriting", "application")
	require.NoError(t, err)
	require.Len(t, rules, 2)
	require.Equal(t, 10, rules[0].Sequence, "rules come back in sequence order")
	require.Equal(t, 20, rules[1].Sequence)
	require.NoError(t, mock.ExpectationsWereMet())

	_, hit, err := kv.Get(context.Background(), CacheKey("underwriting", "application"))
	require.NoError(t, err)
	require.True(t, hit)
}

func TestGetRuleSetWarmHitSkipsStore(t *testing.T) {
	store, mock := newMockStore(t)
	kv := cache.NewMemory()

	mock.ExpectQuery(`SELECT \* FROM wf_guardrail_rules_get\(\$1, \$2\)`).
		WithArgs("underwriting", "application").
		WillReturnRows(ruleSetRows())

	mgr := NewManager(store, kv, nil)

	first, err := mgr.GetRuleSet(context.Background(), "underwriting", "application")
	require.NoError(t, err)

	// Only one query was registered: a second store call would fail the mock.
	second, err := mgr.GetRuleSet(context.Background(), "underwriting", "application")
	require.NoError(t, err)
	require.Equal(t, len(first), len(second))
	require.Equal(t, first[0].Sequence, second[0].Sequence)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRuleSetEmptyResult(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT \* FROM wf_guardrail_rules_get\(\$1, \$2\)`).
		WithArgs("underwriting", "unknown").
		WillReturnRows(sqlmock.NewRows([]string{"type"}))

	mgr := NewManager(store, cache.NewMemory(), nil)
	rules, err := mgr.GetRuleSet(context.Background(), "underwriting", "unknown")
	require.NoError(t, err)
	require.Empty(t, rules)
}

func TestGetRuleSetRejectsBrokenRows(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT \* FROM wf_guardrail_rules_get\(\$1, \$2\)`).
		WithArgs("underwriting", "application").
		WillReturnRows(sqlmock.NewRows([]string{"type", "area", "sequence", "target", "operator_id"}).
			AddRow("underwriting", "application", int64(10), `["a.b"]`, int64(999)))

	mgr := NewManager(store, cache.NewMemory(), nil)
	_, err := mgr.GetRuleSet(context.Background(), "underwriting", "application")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown operator id 999")
}

func TestGetRuleSetStaticBundleWins(t *testing.T) {
	store, _ := newMockStore(t)

	mgr := NewManager(store, cache.NewMemory(), nil)
	rules, err := CompileRows([]ruleRow{
		{Type: "underwriting", Area: "application", Sequence: 1, Target: `["application.id"]`, OperatorID: operator.IDExists},
	})
	require.NoError(t, err)
	mgr.SetStatic(map[string][]Rule{CacheKey("underwriting", "application"): rules})

	got, err := mgr.GetRuleSet(context.Background(), "underwriting", "application")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, []string{"application.id"}, got[0].Target)
}

func TestInvalidateDropsCachedRuleSet(t *testing.T) {
	store, mock := newMockStore(t)
	kv := cache.NewMemory()

	mock.ExpectQuery(`SELECT \* FROM wf_guardrail_rules_get\(\$1, \$2\)`).
		WithArgs("underwriting", "application").
		WillReturnRows(ruleSetRows())

	mgr := NewManager(store, kv, nil)
	_, err := mgr.GetRuleSet(context.Background(), "underwriting", "application")
	require.NoError(t, err)

	require.NoError(t, mgr.Invalidate(context.Background(), "underwriting", "application"))
	_, hit, err := kv.Get(context.Background(), CacheKey("underwriting", "application"))
	require.NoError(t, err)
	require.False(t, hit)
}
