package filter

import (
	"regexp"
	"strconv"
	"strings"
)

// Operator is a comparison operator of a metric condition
type Operator string

const (
	OpGreater      Operator = ">"
	OpGreaterEqual Operator = ">="
	OpLess         Operator = "<"
	OpLessEqual    Operator = "<="
	OpEqual        Operator = "="
)

// Comparator tests a metric value against a parsed condition
type Comparator func(value float64) bool

// Condition is the parsed form of an expression such as ">= 1.5K"
type Condition struct {
	Op        Operator
	Threshold float64
}

// Matches compares value against the threshold
func (c Condition) Matches(value float64) bool {
	switch c.Op {
	case OpGreater:
		return value > c.Threshold
	case OpLess:
		return value < c.Threshold
	case OpLessEqual:
		return value <= c.Threshold
	case OpEqual:
		return value == c.Threshold
	default:
		return value >= c.Threshold
	}
}

var conditionPattern = regexp.MustCompile(`^\s*(>=|<=|>|<|=)?\s*(\d+(?:\.\d*)?|\.\d+)\s*([kKmMgG][bB]?)?\s*$`)

// ParseCondition parses "[op]number[K|M|G[B]]". The operator defaults to >=,
// the suffix multiplies by powers of 1024. ok is false when the expression
// does not match the grammar.
func ParseCondition(expr string) (cond Condition, ok bool) {
	m := conditionPattern.FindStringSubmatch(expr)
	if m == nil {
		return Condition{}, false
	}

	threshold, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		return Condition{}, false
	}

	switch strings.TrimSuffix(strings.ToUpper(m[3]), "B") {
	case "K":
		threshold *= 1024
	case "M":
		threshold *= 1024 * 1024
	case "G":
		threshold *= 1024 * 1024 * 1024
	}

	op := Operator(m[1])
	if op == "" {
		op = OpGreaterEqual
	}
	return Condition{Op: op, Threshold: threshold}, true
}

// Compile turns an expression into a comparator. Malformed input yields a
// comparator that accepts everything so half-typed filters never hide rows.
func Compile(expr string) Comparator {
	cond, ok := ParseCondition(expr)
	if !ok {
		return func(float64) bool { return true }
	}
	return cond.Matches
}
