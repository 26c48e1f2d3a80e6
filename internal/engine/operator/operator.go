// Package operator holds the library of pure predicates a rule can select by
// id or name. Operators never touch the cache or the record store; they take
// resolved values plus a criteria and return a boolean or an *Error.
package operator

import (
	"fmt"
	"regexp"

	"github.com/wildfire-lending/guardrail/internal/engine/value"
)

// Error marks a criteria or value shape the chosen operator cannot work with.
// The engine converts it into a FAIL/RESTRICT outcome carrying the text.
type Error struct {
	Op      string
	Message string
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func errf(op, format string, args ...any) error {
	return &Error{Op: op, Message: fmt.Sprintf(format, args...)}
}

// Criteria is the comparand handed to an operator at evaluation time. Literal
// forms are parsed once at ruleset load; path references have already been
// resolved into Value by the engine.
type Criteria struct {
	// Value carries the literal or resolved comparand. Null when the
	// operator takes no criteria.
	Value value.Value
	// Regex is the pattern compiled at load time for the regex operator.
	Regex *regexp.Regexp
}

// Operator pairs the stable id/name contract with its predicate.
type Operator struct {
	ID    int
	Name  string
	Arity int
	Eval  func(args []value.Value, c Criteria) (bool, error)
}

// Operator ids are part of the rule configuration contract and must not be
// renumbered.
const (
	IDExists        = 1
	IDIsTrue        = 2
	IDIsFalse       = 3
	IDRegex         = 4
	IDNumGT         = 5
	IDNumGTE        = 6
	IDNumLT         = 7
	IDNumLTE        = 8
	IDNumEQ         = 9
	IDNumNEQ        = 10
	IDStrEQ         = 11
	IDStrNEQ        = 12
	IDInSet         = 13
	IDNotInSet      = 14
	IDBetween       = 15
	IDDateTolerance = 16
)

var library = []Operator{
	{ID: IDExists, Name: "exists", Arity: 1, Eval: evalExists},
	{ID: IDIsTrue, Name: "is_true", Arity: 1, Eval: evalIsTrue},
	{ID: IDIsFalse, Name: "is_false", Arity: 1, Eval: evalIsFalse},
	{ID: IDRegex, Name: "regex", Arity: 1, Eval: evalRegex},
	{ID: IDNumGT, Name: "num_>", Arity: 1, Eval: numCompare("num_>", func(a, b float64) bool { return a > b })},
	{ID: IDNumGTE, Name: "num_>=", Arity: 1, Eval: numCompare("num_>=", func(a, b float64) bool { return a >= b })},
	{ID: IDNumLT, Name: "num_<", Arity: 1, Eval: numCompare("num_<", func(a, b float64) bool { return a < b })},
	{ID: IDNumLTE, Name: "num_<=", Arity: 1, Eval: numCompare("num_<=", func(a, b float64) bool { return a <= b })},
	{ID: IDNumEQ, Name: "num_=", Arity: 1, Eval: numCompare("num_=", func(a, b float64) bool { return a == b })},
	{ID: IDNumNEQ, Name: "num_!=", Arity: 1, Eval: numCompare("num_!=", func(a, b float64) bool { return a != b })},
	{ID: IDStrEQ, Name: "str_=", Arity: 1, Eval: strCompare("str_=", true)},
	{ID: IDStrNEQ, Name: "str_!=", Arity: 1, Eval: strCompare("str_!=", false)},
	{ID: IDInSet, Name: "in_set", Arity: 1, Eval: setMembership("in_set", true)},
	{ID: IDNotInSet, Name: "not_in_set", Arity: 1, Eval: setMembership("not_in_set", false)},
	{ID: IDBetween, Name: "between", Arity: 1, Eval: evalBetween},
	{ID: IDDateTolerance, Name: "date_tolerance", Arity: 2, Eval: evalDateTolerance},
}

var (
	byID   = map[int]Operator{}
	byName = map[string]Operator{}
)

func init() {
	for _, op := range library {
		byID[op.ID] = op
		byName[op.Name] = op
	}
}

// ByID looks up an operator by its stable id.
func ByID(id int) (Operator, bool) {
	op, ok := byID[id]
	return op, ok
}

// ByName looks up an operator by its stable name. Sub-rules select operators
// this way.
func ByName(name string) (Operator, bool) {
	op, ok := byName[name]
	return op, ok
}

func single(op string, args []value.Value) (value.Value, error) {
	if len(args) != 1 {
		return value.Null(), errf(op, "expected a single value, got %d", len(args))
	}
	return args[0], nil
}

func evalExists(args []value.Value, _ Criteria) (bool, error) {
	v, err := single("exists", args)
	if err != nil {
		return false, err
	}
	if v.IsNull() {
		return false, nil
	}
	if text, ok := v.Text(); ok && v.Kind() == value.KindString && text == "" {
		return false, nil
	}
	return true, nil
}

func evalIsTrue(args []value.Value, _ Criteria) (bool, error) {
	v, err := single("is_true", args)
	if err != nil {
		return false, err
	}
	b, ok := v.Bool()
	return ok && b, nil
}

func evalIsFalse(args []value.Value, _ Criteria) (bool, error) {
	v, err := single("is_false", args)
	if err != nil {
		return false, err
	}
	b, ok := v.Bool()
	return ok && !b, nil
}

func evalRegex(args []value.Value, c Criteria) (bool, error) {
	v, err := single("regex", args)
	if err != nil {
		return false, err
	}
	if c.Regex == nil {
		return false, errf("regex", "criteria pattern missing")
	}
	text, ok := v.Text()
	if !ok {
		return false, errf("regex", "value of kind %s cannot be matched", v.Kind())
	}
	return c.Regex.MatchString(text), nil
}

func numCompare(op string, cmp func(a, b float64) bool) func([]value.Value, Criteria) (bool, error) {
	return func(args []value.Value, c Criteria) (bool, error) {
		v, err := single(op, args)
		if err != nil {
			return false, err
		}
		lhs, ok := v.Number()
		if !ok {
			return false, errf(op, "value %v is not numeric", v.Interface())
		}
		rhs, ok := c.Value.Number()
		if !ok {
			return false, errf(op, "criteria %v is not numeric", c.Value.Interface())
		}
		return cmp(lhs, rhs), nil
	}
}

func strCompare(op string, wantEqual bool) func([]value.Value, Criteria) (bool, error) {
	return func(args []value.Value, c Criteria) (bool, error) {
		v, err := single(op, args)
		if err != nil {
			return false, err
		}
		lhs, ok := v.Text()
		if !ok {
			return false, errf(op, "value of kind %s is not comparable as text", v.Kind())
		}
		rhs, ok := c.Value.Text()
		if !ok {
			return false, errf(op, "criteria of kind %s is not comparable as text", c.Value.Kind())
		}
		return (lhs == rhs) == wantEqual, nil
	}
}

func setMembership(op string, wantMember bool) func([]value.Value, Criteria) (bool, error) {
	return func(args []value.Value, c Criteria) (bool, error) {
		v, err := single(op, args)
		if err != nil {
			return false, err
		}
		if c.Value.Kind() != value.KindArray {
			return false, errf(op, "criteria must be a JSON array, got %s", c.Value.Kind())
		}
		member := false
		for _, item := range c.Value.Items() {
			if v.Equal(item) {
				member = true
				break
			}
		}
		return member == wantMember, nil
	}
}

func evalBetween(args []value.Value, c Criteria) (bool, error) {
	v, err := single("between", args)
	if err != nil {
		return false, err
	}
	n, ok := v.Number()
	if !ok {
		return false, errf("between", "value %v is not numeric", v.Interface())
	}
	if c.Value.Kind() != value.KindObject {
		return false, errf("between", "criteria must be an object with from/to, got %s", c.Value.Kind())
	}
	fromField, ok := c.Value.Field("from")
	if !ok {
		return false, errf("between", "criteria missing from bound")
	}
	toField, ok := c.Value.Field("to")
	if !ok {
		return false, errf("between", "criteria missing to bound")
	}
	from, ok := fromField.Number()
	if !ok {
		return false, errf("between", "from bound %v is not numeric", fromField.Interface())
	}
	to, ok := toField.Number()
	if !ok {
		return false, errf("between", "to bound %v is not numeric", toField.Interface())
	}
	return n >= from && n <= to, nil
}

// dateFormats covers the timestamp renderings the record store and rule seeds
// use. First match wins.
var dateFormats = []string{
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func evalDateTolerance(args []value.Value, c Criteria) (bool, error) {
	if len(args) != 2 {
		return false, errf("date_tolerance", "expected two dates, got %d values", len(args))
	}
	first, err := parseDate("date_tolerance", args[0])
	if err != nil {
		return false, err
	}
	second, err := parseDate("date_tolerance", args[1])
	if err != nil {
		return false, err
	}
	diff := second.Sub(first).Seconds() / 86400
	if diff < 0 {
		diff = -diff
	}

	if c.Value.Kind() != value.KindArray {
		return false, errf("date_tolerance", "criteria must be an array of one or two bounds, got %s", c.Value.Kind())
	}
	bounds := c.Value.Items()
	switch len(bounds) {
	case 1:
		min, ok := bounds[0].Number()
		if !ok {
			return false, errf("date_tolerance", "bound %v is not numeric", bounds[0].Interface())
		}
		return diff >= min, nil
	case 2:
		min, ok := bounds[0].Number()
		if !ok {
			return false, errf("date_tolerance", "min bound %v is not numeric", bounds[0].Interface())
		}
		max, ok := bounds[1].Number()
		if !ok {
			return false, errf("date_tolerance", "max bound %v is not numeric", bounds[1].Interface())
		}
		return diff >= min && diff <= max, nil
	default:
		return false, errf("date_tolerance", "criteria must hold one or two bounds, got %d", len(bounds))
	}
}
