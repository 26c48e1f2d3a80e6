package rules

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/wildfire-lending/guardrail/internal/engine/operator"
	"github.com/wildfire-lending/guardrail/internal/engine/resolver"
	"github.com/wildfire-lending/guardrail/internal/storage"
)

// ruleRow is the serializable rule record: the shape the configuration store
// returns and the shape cached under RuleSet keys.
type ruleRow struct {
	Type       string  `json:"type"`
	Area       string  `json:"area"`
	Sequence   int     `json:"sequence"`
	Target     string  `json:"target"`
	OperatorID int     `json:"operator_id"`
	Criteria   *string `json:"criteria"`
	SubRule    *string `json:"sub_rule"`
	OnPass     string  `json:"on_pass"`
	OnFail     string  `json:"on_fail"`
	Pass       string  `json:"pass"`
	Fail       string  `json:"fail"`
	Warn       string  `json:"warn"`
}

// subRuleDoc is the decoded sub_rule column.
type subRuleDoc struct {
	Depends      json.RawMessage `json:"depends"`
	OperatorName string          `json:"operator_name"`
	Criteria     json.RawMessage `json:"criteria"`
	OnFail       string          `json:"on_fail"`
	Fail         string          `json:"fail"`
}

func rowFromRecord(rec storage.Row) (ruleRow, error) {
	row := ruleRow{
		Type:   asString(rec["type"]),
		Area:   asString(rec["area"]),
		Target: asString(rec["target"]),
		OnPass: asString(rec["on_pass"]),
		OnFail: asString(rec["on_fail"]),
		Pass:   asString(rec["pass"]),
		Fail:   asString(rec["fail"]),
		Warn:   asString(rec["warn"]),
	}

	seq, err := asInt(rec["sequence"])
	if err != nil {
		return ruleRow{}, fmt.Errorf("rules: sequence: %w", err)
	}
	row.Sequence = seq

	opID, err := asInt(rec["operator_id"])
	if err != nil {
		return ruleRow{}, fmt.Errorf("rules: operator_id: %w", err)
	}
	row.OperatorID = opID

	if raw, ok := rec["criteria"]; ok && raw != nil {
		s := asString(raw)
		row.Criteria = &s
	}
	if raw, ok := rec["sub_rule"]; ok && raw != nil {
		s := asString(raw)
		if strings.TrimSpace(s) != "" {
			row.SubRule = &s
		}
	}
	return row, nil
}

// compile turns a row into an executable Rule, rejecting unknown operators and
// malformed criteria so broken rulesets fail at load rather than mid-run.
func (r ruleRow) compile() (Rule, error) {
	op, ok := operator.ByID(r.OperatorID)
	if !ok {
		return Rule{}, fmt.Errorf("rules: unknown operator id %d (sequence %d)", r.OperatorID, r.Sequence)
	}

	target, err := resolver.DecodeDescriptor(r.Target)
	if err != nil {
		return Rule{}, fmt.Errorf("rules: sequence %d target: %w", r.Sequence, err)
	}

	criteria, err := ParseCriteria(op, r.Criteria)
	if err != nil {
		return Rule{}, fmt.Errorf("rules: sequence %d: %w", r.Sequence, err)
	}

	onPass, err := parseAction(r.OnPass, ActionContinue)
	if err != nil {
		return Rule{}, fmt.Errorf("rules: sequence %d on_pass: %w", r.Sequence, err)
	}
	onFail, err := parseAction(r.OnFail, ActionRestrict)
	if err != nil {
		return Rule{}, fmt.Errorf("rules: sequence %d on_fail: %w", r.Sequence, err)
	}

	rule := Rule{
		Type:        r.Type,
		Area:        r.Area,
		Sequence:    r.Sequence,
		Target:      target,
		Operator:    op,
		Criteria:    criteria,
		OnPass:      onPass,
		OnFail:      onFail,
		PassMessage: r.Pass,
		FailMessage: r.Fail,
		WarnMessage: r.Warn,
	}

	if r.SubRule != nil {
		sub, err := compileSubRule(*r.SubRule)
		if err != nil {
			return Rule{}, fmt.Errorf("rules: sequence %d sub_rule: %w", r.Sequence, err)
		}
		rule.Sub = sub
	}
	return rule, nil
}

func compileSubRule(raw string) (*SubRule, error) {
	var doc subRuleDoc
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	op, ok := operator.ByName(strings.TrimSpace(doc.OperatorName))
	if !ok {
		return nil, fmt.Errorf("unknown operator name %q", doc.OperatorName)
	}

	depends, err := decodeDepends(doc.Depends)
	if err != nil {
		return nil, err
	}
	if op.Arity >= 2 && len(depends) < 2 {
		return nil, fmt.Errorf("operator %s requires %d dependencies, got %d", op.Name, op.Arity, len(depends))
	}

	var criteriaText *string
	if len(doc.Criteria) > 0 && string(doc.Criteria) != "null" {
		text := string(doc.Criteria)
		// Column convention stores string criteria JSON-quoted; unwrap so
		// ParseCriteria sees the same raw text as primary rules.
		var unquoted string
		if err := json.Unmarshal(doc.Criteria, &unquoted); err == nil {
			text = unquoted
		}
		criteriaText = &text
	}
	criteria, err := ParseCriteria(op, criteriaText)
	if err != nil {
		return nil, err
	}

	onFail, err := parseAction(doc.OnFail, ActionWarn)
	if err != nil {
		return nil, err
	}
	if onFail == ActionContinue {
		return nil, fmt.Errorf("sub_rule on_fail must be WARN or RESTRICT")
	}

	return &SubRule{
		Depends:     depends,
		Operator:    op,
		Criteria:    criteria,
		OnFail:      onFail,
		FailMessage: doc.Fail,
	}, nil
}

// decodeDepends accepts both the inline JSON array form and the
// string-encoded descriptor form used by older rule seeds.
func decodeDepends(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("depends required")
	}
	var paths []string
	if err := json.Unmarshal(raw, &paths); err == nil {
		if len(paths) == 0 {
			return nil, fmt.Errorf("depends holds no paths")
		}
		return paths, nil
	}
	var encoded string
	if err := json.Unmarshal(raw, &encoded); err == nil {
		return resolver.DecodeDescriptor(encoded)
	}
	return nil, fmt.Errorf("depends %s is neither an array nor a descriptor", raw)
}

// CompileRows parses and validates a full ruleset, returning it in execution
// order: ascending sequence, insertion order breaking ties.
func CompileRows(rows []ruleRow) ([]Rule, error) {
	compiled := make([]Rule, 0, len(rows))
	for _, row := range rows {
		rule, err := row.compile()
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, rule)
	}
	sort.SliceStable(compiled, func(i, j int) bool {
		return compiled[i].Sequence < compiled[j].Sequence
	})
	return compiled, nil
}

func asString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return fmt.Sprint(v)
	}
}

func asInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	case json.Number:
		i, err := n.Int64()
		return int(i), err
	case string:
		return strconv.Atoi(strings.TrimSpace(n))
	case []byte:
		return strconv.Atoi(strings.TrimSpace(string(n)))
	default:
		return 0, fmt.Errorf("value %v (%T) is not an integer", v, v)
	}
}
