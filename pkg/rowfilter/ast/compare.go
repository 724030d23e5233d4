package ast

import (
	"fmt"
	"math/big"
)

// CompareValues orders two non-nil decoded column values the same way
// coltype's key codecs order their encodings, so a residual-predicate
// evaluation over decoded Go values agrees with the range bounds a
// controller derived from the same comparison (spec.md testable property
// 4, residual predicate completeness). Exported so pkg/scan can reuse the
// same ordering when deriving range bounds from comparisons on the
// leading key column.
func CompareValues(a, b interface{}) (int, error) {
	switch av := a.(type) {
	case int64:
		bv, err := toInt64(b)
		if err != nil {
			return 0, err
		}
		return cmpInt64(av, bv), nil
	case int:
		bv, err := toInt64(b)
		if err != nil {
			return 0, err
		}
		return cmpInt64(int64(av), bv), nil
	case float64:
		bv, err := toFloat64(b)
		if err != nil {
			return 0, err
		}
		return cmpFloat64(av, bv), nil
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, fmt.Errorf("rowfilter: cannot compare string to %T", b)
		}
		switch {
		case av < bv:
			return -1, nil
		case av > bv:
			return 1, nil
		default:
			return 0, nil
		}
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return 0, fmt.Errorf("rowfilter: cannot compare bool to %T", b)
		}
		if av == bv {
			return 0, nil
		}
		if !av && bv {
			return -1, nil
		}
		return 1, nil
	case *big.Int:
		bv, err := toBigInt(b)
		if err != nil {
			return 0, err
		}
		return av.Cmp(bv), nil
	default:
		return 0, fmt.Errorf("rowfilter: unsupported comparison operand type %T", a)
	}
}

func toInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case float64:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("rowfilter: cannot compare numeric to %T", v)
	}
}

func toFloat64(v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case int:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("rowfilter: cannot compare float to %T", v)
	}
}

func toBigInt(v interface{}) (*big.Int, error) {
	switch n := v.(type) {
	case *big.Int:
		return n, nil
	case int64:
		return big.NewInt(n), nil
	default:
		return nil, fmt.Errorf("rowfilter: cannot compare big.Int to %T", v)
	}
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpFloat64(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
