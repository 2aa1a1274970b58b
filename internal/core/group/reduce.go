package group

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	coreerrors "github.com/tidemark-io/tidemark/internal/core/errors"
	"github.com/tidemark-io/tidemark/internal/core/query"
)

// Reduce collapses the raw contributing values of one collect field into the
// final collected value for a node. sum and mean require numeric inputs and
// fail with InvalidOperationError otherwise; set is the default method.
func Reduce(values []any, method string) (any, error) {
	switch method {
	case query.MethodSum:
		total, err := sumDecimals(values, method)
		if err != nil {
			return nil, err
		}
		return total.InexactFloat64(), nil

	case query.MethodMean:
		if len(values) == 0 {
			return nil, &coreerrors.InvalidOperationError{
				Operation: method,
				Message:   "mean of no values",
			}
		}
		total, err := sumDecimals(values, method)
		if err != nil {
			return nil, err
		}
		mean := total.Div(decimal.NewFromInt(int64(len(values))))
		return mean.InexactFloat64(), nil

	case query.MethodCount:
		return len(values), nil

	case query.MethodSet, "":
		return distinctSorted(values), nil

	default:
		return nil, &coreerrors.InvalidOperationError{
			Operation: method,
			Message:   "unknown collect method",
		}
	}
}

// sumDecimals adds values exactly, rejecting anything non-numeric.
func sumDecimals(values []any, op string) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, v := range values {
		d, ok := toDecimal(v)
		if !ok {
			return decimal.Zero, &coreerrors.InvalidOperationError{
				Operation: op,
				Message:   fmt.Sprintf("non-numeric value %v (%T)", v, v),
			}
		}
		total = total.Add(d)
	}
	return total, nil
}

func toDecimal(v any) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int64:
		return decimal.NewFromInt(n), true
	case float64:
		return decimal.NewFromFloat(n), true
	case float32:
		return decimal.NewFromFloat32(n), true
	case json.Number:
		d, err := decimal.NewFromString(n.String())
		return d, err == nil
	default:
		return decimal.Zero, false
	}
}

func distinctSorted(values []any) []any {
	seen := make(map[string]bool, len(values))
	out := make([]any, 0, len(values))
	for _, v := range values {
		fp := fmt.Sprintf("%T:%v", v, v)
		if seen[fp] {
			continue
		}
		seen[fp] = true
		out = append(out, v)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return CompareValues(out[i], out[j]) < 0
	})
	return out
}

// CompareValues imposes a total order across the scalar value types: nil,
// then booleans (false < true), then numbers, then strings. Within a type the
// natural order applies.
func CompareValues(a, b any) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		return ra - rb
	}
	switch ra {
	case rankBool:
		av, bv := a.(bool), b.(bool)
		switch {
		case av == bv:
			return 0
		case bv:
			return -1
		default:
			return 1
		}
	case rankNumber:
		da, _ := toDecimal(a)
		db, _ := toDecimal(b)
		return da.Cmp(db)
	case rankString:
		return strings.Compare(toString(a), toString(b))
	}
	return 0
}

const (
	rankNil = iota
	rankBool
	rankNumber
	rankString
)

func typeRank(v any) int {
	switch v.(type) {
	case nil:
		return rankNil
	case bool:
		return rankBool
	case int, int64, float32, float64, json.Number:
		return rankNumber
	default:
		return rankString
	}
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
