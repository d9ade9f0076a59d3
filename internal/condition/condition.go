// Package condition provides the gating-expression strategy used by the
// dispatch engine. The engine only depends on the Evaluator interface;
// the expression grammar implemented here is one interchangeable
// strategy, not part of the engine's contract.
package condition

import (
	"strconv"

	"github.com/gyaneshwarpardhi/subwatch/internal/record"
)

// Evaluator produces a string result from an expression evaluated
// against a record. The dispatch engine treats the result as a boolean
// literal; anything unparseable suppresses dispatch.
type Evaluator interface {
	Evaluate(expr string, rec *record.Record) (string, error)
}

// ExprEvaluator is the built-in Evaluator: a boolean expression language
// with comparisons, contains/matches, and AND/OR/NOT combinators over
// record fields.
type ExprEvaluator struct{}

// NewExprEvaluator returns the built-in expression evaluator.
func NewExprEvaluator() *ExprEvaluator {
	return &ExprEvaluator{}
}

// Evaluate parses and evaluates expr against rec, returning "true" or
// "false". Parse and evaluation failures return an error.
func (e *ExprEvaluator) Evaluate(expr string, rec *record.Record) (string, error) {
	node, err := Parse(expr)
	if err != nil {
		return "", err
	}
	v, err := node.Eval(rec)
	if err != nil {
		return "", err
	}
	return strconv.FormatBool(v), nil
}
