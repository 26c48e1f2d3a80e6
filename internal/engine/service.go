// Package engine orchestrates rulesets: sequencing, sub-rules, short-circuit,
// and result accumulation.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/wildfire-lending/guardrail/internal/engine/operator"
	"github.com/wildfire-lending/guardrail/internal/engine/resolver"
	"github.com/wildfire-lending/guardrail/internal/engine/rules"
	"github.com/wildfire-lending/guardrail/internal/engine/value"
)

// Outcome records one evaluated predicate: the primary rule's or, when a
// sub-rule fails, an additional entry carrying the parent's sequence.
type Outcome struct {
	Sequence  int           `json:"sequence"`
	Target    []string      `json:"target"`
	Operator  string        `json:"operator"`
	Evaluated any           `json:"evaluated"`
	Criteria  any           `json:"criteria,omitempty"`
	Result    rules.Result  `json:"result"`
	Action    rules.Action  `json:"action"`
	Message   string        `json:"message,omitempty"`
}

// AggregateResult is the verdict for a whole ruleset evaluation.
type AggregateResult struct {
	Success      bool      `json:"success"`
	Outcomes     []Outcome `json:"outcomes"`
	Warnings     []Outcome `json:"warnings"`
	Restrictions []Outcome `json:"restrictions"`
}

// Service evaluates rulesets against a per-request data-source bag.
type Service struct {
	logger *slog.Logger
}

// NewService builds the evaluation engine.
func NewService(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{logger: logger.With(slog.String("component", "engine"))}
}

// Evaluate runs every rule in sequence order against the bag. A RESTRICT
// outcome disables further rules; cancellation between rules aborts the whole
// evaluation with no partial result.
func (s *Service) Evaluate(ctx context.Context, ruleSet []rules.Rule, bag resolver.Bag) (AggregateResult, error) {
	ordered := make([]rules.Rule, len(ruleSet))
	copy(ordered, ruleSet)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Sequence < ordered[j].Sequence })

	res := resolver.New(bag)
	var outcomes []Outcome

	for _, rule := range ordered {
		if err := ctx.Err(); err != nil {
			return AggregateResult{}, fmt.Errorf("engine: evaluation aborted: %w", err)
		}

		ruleOutcomes := s.evaluateRule(res, rule)
		outcomes = append(outcomes, ruleOutcomes...)

		if containsRestrict(ruleOutcomes) {
			break
		}
	}
	return aggregate(outcomes), nil
}

// evaluateRule produces the primary outcome plus, when the primary passes and
// the sub-rule fails, one additional outcome under the parent's sequence.
func (s *Service) evaluateRule(res *resolver.Resolver, rule rules.Rule) []Outcome {
	outcome := Outcome{
		Sequence: rule.Sequence,
		Target:   rule.Target,
		Operator: rule.Operator.Name,
		Criteria: rule.Criteria.Describe(),
	}

	// Resolution and operator faults both record FAIL/RESTRICT: a rule that
	// cannot evaluate must not silently pass, and RESTRICT halts the rest.
	// Resolution faults carry the rule's own fail message; operator faults
	// carry the error text.
	values, evaluated, err := resolveOperands(res, rule.Target, rule.Operator)
	outcome.Evaluated = evaluated
	if err != nil {
		s.logger.Debug("target resolution failed",
			slog.Int("sequence", rule.Sequence),
			slog.Any("error", err))
		outcome.Result = rules.ResultFail
		outcome.Action = rules.ActionRestrict
		outcome.Message = rule.FailMessage
		return []Outcome{outcome}
	}

	criteria, err := rule.Criteria.Resolve(res)
	if err != nil {
		s.logger.Debug("criteria resolution failed",
			slog.Int("sequence", rule.Sequence),
			slog.Any("error", err))
		outcome.Result = rules.ResultFail
		outcome.Action = rules.ActionRestrict
		outcome.Message = rule.FailMessage
		return []Outcome{outcome}
	}

	pass, err := rule.Operator.Eval(values, criteria)
	if err != nil {
		outcome.Result = rules.ResultFail
		outcome.Action = rules.ActionRestrict
		outcome.Message = err.Error()
		return []Outcome{outcome}
	}

	if !pass {
		outcome.Result = rules.ResultFail
		outcome.Action = rule.OnFail
		outcome.Message = failMessage(rule)
		return []Outcome{outcome}
	}

	outcome.Result = rules.ResultPass
	outcome.Action = rule.OnPass
	outcome.Message = rule.PassMessage
	out := []Outcome{outcome}

	if rule.Sub != nil {
		if sub := s.evaluateSubRule(res, rule); sub != nil {
			out = append(out, *sub)
		}
	}
	return out
}

// evaluateSubRule returns nil when the sub-rule passes: its pass is silent.
func (s *Service) evaluateSubRule(res *resolver.Resolver, rule rules.Rule) *Outcome {
	sub := rule.Sub
	outcome := Outcome{
		Sequence: rule.Sequence,
		Target:   sub.Depends,
		Operator: sub.Operator.Name,
		Criteria: sub.Criteria.Describe(),
		Result:   rules.ResultFail,
		Action:   sub.OnFail,
		Message:  subFailMessage(rule),
	}

	values, evaluated, err := resolveOperands(res, sub.Depends, sub.Operator)
	outcome.Evaluated = evaluated
	if err != nil {
		s.logger.Debug("sub-rule resolution failed",
			slog.Int("sequence", rule.Sequence),
			slog.Any("error", err))
		outcome.Action = rules.ActionRestrict
		return &outcome
	}

	criteria, err := sub.Criteria.Resolve(res)
	if err != nil {
		s.logger.Debug("sub-rule criteria resolution failed",
			slog.Int("sequence", rule.Sequence),
			slog.Any("error", err))
		outcome.Action = rules.ActionRestrict
		return &outcome
	}

	pass, err := sub.Operator.Eval(values, criteria)
	if err != nil {
		outcome.Action = rules.ActionRestrict
		outcome.Message = err.Error()
		return &outcome
	}
	if pass {
		return nil
	}
	return &outcome
}

// resolveOperands resolves a descriptor's paths into the operand list the
// operator expects, plus the rendering recorded in the outcome.
func resolveOperands(res *resolver.Resolver, paths []string, op operator.Operator) ([]value.Value, any, error) {
	if len(paths) == 1 {
		v, err := res.ResolveSingle(paths)
		if err != nil {
			return nil, nil, err
		}
		return []value.Value{v}, v.Interface(), nil
	}

	resolved, err := res.ResolveMany(paths)
	if err != nil {
		return nil, nil, err
	}
	if op.Arity != len(resolved) {
		return nil, nil, fmt.Errorf("engine: operator %s takes %d values, descriptor names %d", op.Name, op.Arity, len(resolved))
	}

	values := make([]value.Value, 0, len(resolved))
	evaluated := make([]any, 0, len(resolved))
	for _, r := range resolved {
		values = append(values, r.Value)
		evaluated = append(evaluated, map[string]any{"path": r.Path, "value": r.Value.Interface()})
	}
	return values, evaluated, nil
}

func failMessage(rule rules.Rule) string {
	if rule.FailMessage == "" && rule.OnFail == rules.ActionWarn {
		return rule.WarnMessage
	}
	return rule.FailMessage
}

func subFailMessage(rule rules.Rule) string {
	if rule.Sub.FailMessage != "" {
		return rule.Sub.FailMessage
	}
	return rule.FailMessage
}

func containsRestrict(outcomes []Outcome) bool {
	for _, o := range outcomes {
		if o.Action == rules.ActionRestrict {
			return true
		}
	}
	return false
}

func aggregate(outcomes []Outcome) AggregateResult {
	result := AggregateResult{
		Success:      true,
		Outcomes:     outcomes,
		Warnings:     []Outcome{},
		Restrictions: []Outcome{},
	}
	for _, o := range outcomes {
		switch o.Action {
		case rules.ActionWarn:
			result.Warnings = append(result.Warnings, o)
		case rules.ActionRestrict:
			result.Restrictions = append(result.Restrictions, o)
			result.Success = false
		}
	}
	if result.Outcomes == nil {
		result.Outcomes = []Outcome{}
	}
	return result
}
