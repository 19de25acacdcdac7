package native

import (
	"fmt"
	"math"

	"github.com/expr-lang/expr"

	"github.com/vogtb/go-formula-engine/packages/formula"
)

// runtime operator spellings emitted by the translator
const (
	opEqual        = "=="
	opNotEqual     = "!="
	opLess         = "<"
	opLessEqual    = "<="
	opGreater      = ">"
	opGreaterEqual = ">="
	opAdd          = "+"
	opSubtract     = "-"
	opMultiply     = "*"
	opDivide       = "/"
	opPower        = "**"
)

var runtimeOperators = map[formula.BinaryOp]string{
	formula.BinOpEqual:        opEqual,
	formula.BinOpNotEqual:     opNotEqual,
	formula.BinOpLess:         opLess,
	formula.BinOpLessEqual:    opLessEqual,
	formula.BinOpGreater:      opGreater,
	formula.BinOpGreaterEqual: opGreaterEqual,
	formula.BinOpAdd:          opAdd,
	formula.BinOpSubtract:     opSubtract,
	formula.BinOpMultiply:     opMultiply,
	formula.BinOpDivide:       opDivide,
	formula.BinOpPower:        opPower,
}

// broadcast applies fn row by row. scalar arguments repeat on every row; if
// no argument is a Vector the result is a scalar.
func broadcast(args []any, fn func(row []any) any) any {
	n := -1
	for _, arg := range args {
		if v, ok := arg.(Vector); ok {
			n = len(v)
			break
		}
	}
	if n < 0 {
		return fn(args)
	}

	out := make(Vector, n)
	row := make([]any, len(args))
	for i := 0; i < n; i++ {
		for j, arg := range args {
			if v, ok := arg.(Vector); ok {
				if i < len(v) {
					row[j] = v[i]
				} else {
					row[j] = nil
				}
				continue
			}
			row[j] = arg
		}
		out[i] = fn(row)
	}
	return out
}

func scalarOperator(op string, a, b any) any {
	if err := firstError(a, b); err != nil {
		return err
	}
	if _, ok := a.(Cells); ok {
		return cellError(formula.ErrorCodeValue, "range used as a single value")
	}
	if _, ok := b.(Cells); ok {
		return cellError(formula.ErrorCodeValue, "range used as a single value")
	}

	switch op {
	case opEqual:
		return compareValues(a, b) == 0
	case opNotEqual:
		return compareValues(a, b) != 0
	case opLess:
		return compareValues(a, b) < 0
	case opLessEqual:
		return compareValues(a, b) <= 0
	case opGreater:
		return compareValues(a, b) > 0
	case opGreaterEqual:
		return compareValues(a, b) >= 0
	}

	x, ok1 := toNumber(a)
	y, ok2 := toNumber(b)
	if !ok1 || !ok2 {
		return cellError(formula.ErrorCodeValue, fmt.Sprintf("operator %s needs numbers", op))
	}
	switch op {
	case opAdd:
		return numberResult(x + y)
	case opSubtract:
		return numberResult(x - y)
	case opMultiply:
		return numberResult(x * y)
	case opDivide:
		if y == 0 {
			return cellError(formula.ErrorCodeDiv0, "division by zero")
		}
		return numberResult(x / y)
	case opPower:
		if x == 0 && y < 0 {
			return cellError(formula.ErrorCodeDiv0, "division by zero")
		}
		return numberResult(math.Pow(x, y))
	}
	return cellError(formula.ErrorCodeValue, "unknown operator "+op)
}

func scalarNumber(x any, fn func(float64) float64) any {
	if err := checkForError(x); err != nil {
		return err
	}
	if _, ok := x.(Cells); ok {
		return cellError(formula.ErrorCodeValue, "range used as a single value")
	}
	n, ok := toNumber(x)
	if !ok {
		return cellError(formula.ErrorCodeValue, "numeric operand required")
	}
	return numberResult(fn(n))
}

// helpers returns the vector functions a translated program calls, bound
// to one set of builtins.
func helpers(b *Builtins) []expr.Option {
	call := func(name string, args []any) any {
		return broadcast(args, func(row []any) any { return b.Call(name, row...) })
	}
	return []expr.Option{
		expr.Function("v_op", func(params ...any) (any, error) {
			op, _ := params[0].(string)
			return broadcast(params[1:], func(row []any) any { return scalarOperator(op, row[0], row[1]) }), nil
		}),
		expr.Function("v_concat", func(params ...any) (any, error) {
			return broadcast(params, func(row []any) any {
				if err := firstError(row...); err != nil {
					return err
				}
				return toText(row[0]) + toText(row[1])
			}), nil
		}),
		expr.Function("v_neg", func(params ...any) (any, error) {
			return broadcast(params, func(row []any) any {
				return scalarNumber(row[0], func(f float64) float64 { return -f })
			}), nil
		}),
		expr.Function("v_pct", func(params ...any) (any, error) {
			return broadcast(params, func(row []any) any {
				return scalarNumber(row[0], func(f float64) float64 { return f / 100 })
			}), nil
		}),
		expr.Function("v_if", func(params ...any) (any, error) {
			return call("IF", params), nil
		}),
		expr.Function("v_and", func(params ...any) (any, error) {
			return call("AND", params), nil
		}),
		expr.Function("v_or", func(params ...any) (any, error) {
			return call("OR", params), nil
		}),
		expr.Function("v_not", func(params ...any) (any, error) {
			return call("NOT", params), nil
		}),
		expr.Function("v_call", func(params ...any) (any, error) {
			name, _ := params[0].(string)
			return call(name, params[1:]), nil
		}),
		// volatile functions draw a value per row
		expr.Function("v_volatile", func(params ...any) (any, error) {
			name, _ := params[0].(string)
			rows, _ := params[1].(Vector)
			out := make(Vector, len(rows))
			for i := range out {
				out[i] = b.Call(name)
			}
			return out, nil
		}),
	}
}
