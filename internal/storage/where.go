package storage

import (
	"fmt"
	"strings"
	"sync"

	"github.com/hashicorp/go-bexpr"
)

// whereCache stores compiled evaluators keyed by expression.
var whereCache = &sync.Map{}

// Predicate filters rows.
type Predicate func(Row) bool

// Where compiles a boolean expression over row fields, e.g.
// `type == "u" and "g1" in principals`. An empty expression matches every
// row. Rows the expression cannot be evaluated against (a missing field,
// say) do not match.
func Where(expr string) (Predicate, error) {
	if strings.TrimSpace(expr) == "" {
		return func(Row) bool { return true }, nil
	}

	var evaluator *bexpr.Evaluator
	if cached, ok := whereCache.Load(expr); ok {
		evaluator = cached.(*bexpr.Evaluator)
	} else {
		compiled, err := bexpr.CreateEvaluator(expr)
		if err != nil {
			return nil, fmt.Errorf("compile where expression %q: %w", expr, err)
		}
		whereCache.Store(expr, compiled)
		evaluator = compiled
	}

	return func(r Row) bool {
		ok, err := evaluator.Evaluate(map[string]any(r))
		return err == nil && ok
	}, nil
}

// Filter wraps it so only rows accepted by keep are returned.
func Filter(it RowIterator, keep Predicate) RowIterator {
	return NewFuncIterator(func() (string, Row, bool, error) {
		for it.Next() {
			if keep(it.Row()) {
				return it.Key(), it.Row(), true, nil
			}
		}
		return "", nil, false, it.Err()
	}, it.Close)
}
