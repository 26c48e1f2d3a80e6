// Package rules carries the declarative rule model, the load-time criteria
// parsing, and the manager that caches rulesets per (type, area).
package rules

import (
	"fmt"
	"strings"

	"github.com/wildfire-lending/guardrail/internal/engine/operator"
)

// Action is the policy applied when a rule outcome is recorded.
type Action string

const (
	// ActionContinue records the outcome without signalling.
	ActionContinue Action = "CONTINUE"
	// ActionWarn records an advisory outcome.
	ActionWarn Action = "WARN"
	// ActionRestrict records a blocking outcome and halts further
	// evaluation.
	ActionRestrict Action = "RESTRICT"
)

func parseAction(raw string, fallback Action) (Action, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(raw))
	switch trimmed {
	case "":
		return fallback, nil
	case string(ActionContinue), string(ActionWarn), string(ActionRestrict):
		return Action(trimmed), nil
	default:
		return "", fmt.Errorf("rules: unknown action %q", raw)
	}
}

// Result is the boolean verdict of a rule's predicate.
type Result string

const (
	ResultPass Result = "PASS"
	ResultFail Result = "FAIL"
)

// Rule is one immutable evaluation step within a ruleset.
type Rule struct {
	Type     string
	Area     string
	Sequence int
	Target   []string
	Operator operator.Operator
	Criteria Criteria
	Sub      *SubRule
	OnPass   Action
	OnFail   Action

	PassMessage string
	FailMessage string
	WarnMessage string
}

// SubRule is the chained dependency evaluated only after the primary
// predicate passes. Its pass is silent; its failure appends an extra outcome.
// on_pass is implicitly CONTINUE.
type SubRule struct {
	Depends     []string
	Operator    operator.Operator
	Criteria    Criteria
	OnFail      Action
	FailMessage string
}
