package rules

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wildfire-lending/guardrail/internal/engine/operator"
	"github.com/wildfire-lending/guardrail/internal/engine/resolver"
	"github.com/wildfire-lending/guardrail/internal/engine/value"
	"github.com/wildfire-lending/guardrail/internal/storage"
)

func strPtr(s string) *string { return &s }

func TestCompileRowBuildsExecutableRule(t *testing.T) {
	row := ruleRow{
		Type:       "underwriting",
		Area:       "application",
		Sequence:   10,
		Target:     `["application.credit_score"]`,
		OperatorID: operator.IDNumGTE,
		Criteria:   strPtr("600"),
		OnFail:     "RESTRICT",
		Pass:       "score ok",
		Fail:       "score below floor",
	}

	rule, err := row.compile()
	require.NoError(t, err)
	require.Equal(t, []string{"application.credit_score"}, rule.Target)
	require.Equal(t, "num_>=", rule.Operator.Name)
	require.Equal(t, ActionContinue, rule.OnPass)
	require.Equal(t, ActionRestrict, rule.OnFail)
	require.True(t, rule.Criteria.Present())
}

func TestCompileRowRejectsUnknownOperator(t *testing.T) {
	row := ruleRow{Sequence: 5, Target: `["a.b"]`, OperatorID: 999}
	_, err := row.compile()
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown operator id 999")
}

func TestCompileRowRejectsMalformedCriteria(t *testing.T) {
	cases := []struct {
		name     string
		operator int
		criteria *string
	}{
		{"numeric operator with text", operator.IDNumGT, strPtr("not-a-number")},
		{"set operator without array", operator.IDInSet, strPtr(`"approved"`)},
		{"between without bounds", operator.IDBetween, strPtr(`{"from": 1}`)},
		{"missing criteria", operator.IDStrEQ, nil},
		{"invalid regex", operator.IDRegex, strPtr("[unclosed")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			row := ruleRow{Sequence: 1, Target: `["a.b"]`, OperatorID: tc.operator, Criteria: tc.criteria}
			_, err := row.compile()
			require.Error(t, err)
		})
	}
}

func TestCompileRowDecodesSubRule(t *testing.T) {
	row := ruleRow{
		Sequence:   20,
		Target:     `["application.status"]`,
		OperatorID: operator.IDStrEQ,
		Criteria:   strPtr("approved"),
		SubRule:    strPtr(`{"depends":["application.signed_at","application.closed_at"],"operator_name":"date_tolerance","criteria":[0, 30],"on_fail":"WARN","fail":"closing outside window"}`),
	}

	rule, err := row.compile()
	require.NoError(t, err)
	require.NotNil(t, rule.Sub)
	require.Equal(t, []string{"application.signed_at", "application.closed_at"}, rule.Sub.Depends)
	require.Equal(t, operator.IDDateTolerance, rule.Sub.Operator.ID)
	require.Equal(t, ActionWarn, rule.Sub.OnFail)
	require.Equal(t, "closing outside window", rule.Sub.FailMessage)
}

func TestCompileRowSubRuleArityEnforced(t *testing.T) {
	row := ruleRow{
		Sequence:   20,
		Target:     `["application.status"]`,
		OperatorID: operator.IDExists,
		SubRule:    strPtr(`{"depends":["application.signed_at"],"operator_name":"date_tolerance","criteria":[0, 30]}`),
	}
	_, err := row.compile()
	require.Error(t, err)
	require.Contains(t, err.Error(), "requires 2 dependencies")
}

func TestCompileRowsOrdersBySequence(t *testing.T) {
	rows := []ruleRow{
		{Sequence: 30, Target: `["a.x"]`, OperatorID: operator.IDExists},
		{Sequence: 10, Target: `["a.y"]`, OperatorID: operator.IDExists},
		{Sequence: 10, Target: `["a.z"]`, OperatorID: operator.IDExists},
	}

	rules, err := CompileRows(rows)
	require.NoError(t, err)
	require.Equal(t, []string{"a.y"}, rules[0].Target)
	require.Equal(t, []string{"a.z"}, rules[1].Target, "equal sequences keep insertion order")
	require.Equal(t, []string{"a.x"}, rules[2].Target)
}

func TestDateToleranceCriteriaResolvesPathBounds(t *testing.T) {
	op, _ := operator.ByID(operator.IDDateTolerance)

	criteria, err := ParseCriteria(op, strPtr(`[0, "lender.config.max_closing_days"]`))
	require.NoError(t, err)

	bag := resolver.Bag{
		"lender": value.Object(map[string]value.Value{
			"config": value.Object(map[string]value.Value{
				"max_closing_days": value.Int(30),
			}),
		}),
	}
	res := resolver.New(bag)

	resolved, err := criteria.Resolve(res)
	require.NoError(t, err)
	items := resolved.Value.Items()
	require.Len(t, items, 2)
	upper, ok := items[1].Number()
	require.True(t, ok)
	require.Equal(t, float64(30), upper)

	described, ok := criteria.Describe().([]any)
	require.True(t, ok)
	require.Equal(t, "lender.config.max_closing_days", described[1], "paths stay symbolic in outcome records")
}

func TestRowFromRecordCoercesDriverTypes(t *testing.T) {
	rec := storage.Row{
		"type":        "underwriting",
		"area":        []byte("application"),
		"sequence":    int64(10),
		"operator_id": float64(5),
		"target":      `["application.credit_score"]`,
		"criteria":    "600",
		"on_fail":     nil,
	}

	row, err := rowFromRecord(rec)
	require.NoError(t, err)
	require.Equal(t, "application", row.Area)
	require.Equal(t, 10, row.Sequence)
	require.Equal(t, 5, row.OperatorID)
	require.NotNil(t, row.Criteria)
	require.Equal(t, "600", *row.Criteria)
}
