package native

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/vogtb/go-formula-engine/packages/dataset"
	"github.com/vogtb/go-formula-engine/packages/formula"
	"github.com/vogtb/go-formula-engine/packages/reference"
)

// FirstDataRow is the sheet row of the first record. row 1 holds the
// column names, so A2 in a formula means "this record".
const FirstDataRow = 2

// env variable name prefixes
const (
	varField    = "f_"
	varCell     = "a_"
	varRange    = "r_"
	varConstant = "k_"
	varRows     = "row_index"
)

// VectorizedExpression is a formula compiled to a column-at-a-time program.
// it holds no table data and can be evaluated against any table.
type VectorizedExpression struct {
	// Formula is the canonical text of the translated tree.
	Formula string
	// Source is the generated expr-lang program text.
	Source string
	// UsedFields lists referenced columns in order of first use.
	UsedFields []string
	// Warnings flags parts that are only evaluated best effort.
	Warnings []string

	program   *vm.Program
	cells     []reference.Address
	ranges    []reference.Range
	constants []any
	usesRows  bool
	vms       vmPool
}

type vmPool interface {
	Get() any
	Put(any)
}

type translator struct {
	formula  string
	fields   map[string]int
	out      *VectorizedExpression
	warnings map[string]bool
}

func newTranslator(node formula.Node) *translator {
	return &translator{
		formula:  formula.Format(node),
		fields:   make(map[string]int),
		out:      &VectorizedExpression{Formula: formula.Format(node)},
		warnings: make(map[string]bool),
	}
}

func (t *translator) translationError(function, reason string) error {
	return &formula.TranslationError{Formula: t.formula, Function: function, Reason: reason}
}

func (t *translator) warn(msg string) {
	if !t.warnings[msg] {
		t.warnings[msg] = true
		t.out.Warnings = append(t.out.Warnings, msg)
	}
}

func (t *translator) constant(value any) string {
	t.out.constants = append(t.out.constants, value)
	return varConstant + strconv.Itoa(len(t.out.constants)-1)
}

func (t *translator) field(name string) string {
	idx, ok := t.fields[name]
	if !ok {
		idx = len(t.out.UsedFields)
		t.fields[name] = idx
		t.out.UsedFields = append(t.out.UsedFields, name)
	}
	return varField + strconv.Itoa(idx)
}

func (t *translator) emit(node formula.Node) (string, error) {
	switch n := node.(type) {
	case *formula.NumberNode:
		return t.constant(n.Value), nil
	case *formula.StringNode:
		return t.constant(n.Value), nil
	case *formula.BooleanNode:
		return t.constant(n.Value), nil
	case *formula.FieldNode:
		return t.field(n.Name), nil
	case *formula.AddressNode:
		if n.Sheet != "" {
			return "", t.translationError(n.String(), "references to other sheets are not supported")
		}
		t.out.cells = append(t.out.cells, n.Address)
		return varCell + strconv.Itoa(len(t.out.cells)-1), nil
	case *formula.RangeNode:
		if n.Sheet != "" {
			return "", t.translationError(n.String(), "references to other sheets are not supported")
		}
		t.out.ranges = append(t.out.ranges, n.Range)
		return varRange + strconv.Itoa(len(t.out.ranges)-1), nil
	case *formula.UnaryNode:
		operand, err := t.emit(n.Operand)
		if err != nil {
			return "", err
		}
		switch n.Op {
		case formula.UnaryOpMinus:
			return "v_neg(" + operand + ")", nil
		case formula.UnaryOpPercent:
			return "v_pct(" + operand + ")", nil
		}
		return operand, nil
	case *formula.BinaryNode:
		return t.emitBinary(n)
	case *formula.CallNode:
		return t.emitCall(n)
	}
	return "", t.translationError("", fmt.Sprintf("unsupported node %T", node))
}

func (t *translator) emitBinary(n *formula.BinaryNode) (string, error) {
	left, err := t.emit(n.Left)
	if err != nil {
		return "", err
	}
	right, err := t.emit(n.Right)
	if err != nil {
		return "", err
	}
	if n.Op == formula.BinOpConcat {
		return "v_concat(" + left + ", " + right + ")", nil
	}
	op, ok := runtimeOperators[n.Op]
	if !ok {
		return "", t.translationError("", "unsupported operator "+n.Op.String())
	}
	return "v_op(" + strconv.Quote(op) + ", " + left + ", " + right + ")", nil
}

func (t *translator) emitCall(n *formula.CallNode) (string, error) {
	if err := n.Func.CheckArity(len(n.Args)); err != nil {
		return "", t.translationError(n.Name, err.Error())
	}

	args := make([]string, len(n.Args))
	for i, arg := range n.Args {
		src, err := t.emit(arg)
		if err != nil {
			return "", err
		}
		args[i] = src
	}

	switch n.Func {
	case formula.FuncIF:
		return "v_if(" + strings.Join(args, ", ") + ")", nil
	case formula.FuncAND:
		return "v_and(" + strings.Join(args, ", ") + ")", nil
	case formula.FuncOR:
		return "v_or(" + strings.Join(args, ", ") + ")", nil
	case formula.FuncNOT:
		return "v_not(" + args[0] + ")", nil
	case formula.FuncTRUE:
		return t.constant(true), nil
	case formula.FuncFALSE:
		return t.constant(false), nil
	case formula.FuncRAND:
		t.out.usesRows = true
		return "v_volatile(" + strconv.Quote(n.Name) + ", " + varRows + ")", nil
	}

	if n.Func == formula.FuncPassthrough || !n.Func.Info().Native {
		if HasScalar(n.Name) {
			t.warn(fmt.Sprintf("%s is not translated natively; evaluated per row best effort", n.Name))
		} else {
			t.warn(fmt.Sprintf("%s is not available natively; rows evaluate to %s", n.Name, formula.ErrorCodeName))
		}
	}
	return "v_call(" + strings.Join(append([]string{strconv.Quote(n.Name)}, args...), ", ") + ")", nil
}

func compileOptions(b *Builtins) []expr.Option {
	return append([]expr.Option{
		expr.Env(map[string]any{}),
		expr.AllowUndefinedVariables(),
		expr.Optimize(false),
		expr.DisableAllBuiltins(),
	}, helpers(b)...)
}

func translate(node formula.Node, b *Builtins, vms vmPool) (*VectorizedExpression, error) {
	t := newTranslator(node)
	src, err := t.emit(node)
	if err != nil {
		return nil, err
	}
	program, err := expr.Compile(src, compileOptions(b)...)
	if err != nil {
		return nil, t.translationError("", fmt.Sprintf("compile %q: %v", src, err))
	}
	t.out.Source = src
	t.out.program = program
	t.out.vms = vms
	return t.out, nil
}

// Eval runs the program against table and returns one value per row. cell
// errors stay in the vector as *formula.CellError.
func (e *VectorizedExpression) Eval(table *dataset.Table) (Vector, error) {
	n := table.NumRows()
	env := make(map[string]any, len(e.UsedFields)+len(e.cells)+len(e.ranges)+len(e.constants)+1)

	var missing []string
	for i, name := range e.UsedFields {
		idx, ok := table.ColumnIndex(name)
		if !ok {
			missing = append(missing, name)
			continue
		}
		env[varField+strconv.Itoa(i)] = Vector(table.Column(idx))
	}
	if len(missing) > 0 {
		return nil, &formula.DependencyError{Formula: e.Formula, Missing: missing}
	}
	for i, addr := range e.cells {
		env[varCell+strconv.Itoa(i)] = cellVector(table, addr)
	}
	for i, rng := range e.ranges {
		env[varRange+strconv.Itoa(i)] = rangeVector(table, rng)
	}
	for i, value := range e.constants {
		env[varConstant+strconv.Itoa(i)] = value
	}
	if e.usesRows {
		rows := make(Vector, n)
		for i := range rows {
			rows[i] = float64(i + FirstDataRow)
		}
		env[varRows] = rows
	}

	var machine *vm.VM
	if e.vms != nil {
		machine = e.vms.Get().(*vm.VM)
		defer e.vms.Put(machine)
	} else {
		machine = &vm.VM{}
	}
	out, err := machine.Run(e.program, env)
	if err != nil {
		return nil, fmt.Errorf("evaluate %s: %w", e.Formula, err)
	}

	result := make(Vector, n)
	if vec, ok := out.(Vector); ok {
		copy(result, vec)
	} else {
		for i := range result {
			result[i] = out
		}
	}
	for i, v := range result {
		if _, isRange := v.(Cells); isRange {
			result[i] = cellError(formula.ErrorCodeValue, "range used as a single value")
		}
	}
	return result, nil
}

// cellAt reads a sheet cell of the table layout: row 1 is the header, data
// starts at FirstDataRow. cells outside the table are empty.
func cellAt(table *dataset.Table, sheetRow, col int) any {
	if col < 1 || col > table.NumColumns() {
		return nil
	}
	if sheetRow == FirstDataRow-1 {
		return table.ColumnNames()[col-1]
	}
	idx := sheetRow - FirstDataRow
	if idx < 0 || idx >= table.NumRows() {
		return nil
	}
	return table.Value(idx, col-1)
}

// shiftRow moves an unlocked row with the record being evaluated.
func shiftRow(row int, locked bool, record int) int {
	if locked {
		return row
	}
	return row + record
}

// cellVector resolves an address written for the first record. a locked row
// is one value for every record.
func cellVector(table *dataset.Table, addr reference.Address) any {
	if addr.RowLocked {
		return cellAt(table, addr.Row, addr.Col)
	}
	out := make(Vector, table.NumRows())
	for i := range out {
		out[i] = cellAt(table, shiftRow(addr.Row, false, i), addr.Col)
	}
	return out
}

func rangeVector(table *dataset.Table, rng reference.Range) any {
	window := func(record int) Cells {
		top := shiftRow(rng.Start.Row, rng.Start.RowLocked, record)
		bottom := shiftRow(rng.End.Row, rng.End.RowLocked, record)
		if top > bottom {
			top, bottom = bottom, top
		}
		left, right := rng.Start.Col, rng.End.Col
		if left > right {
			left, right = right, left
		}
		cells := make(Cells, 0, (bottom-top+1)*(right-left+1))
		for row := top; row <= bottom; row++ {
			for col := left; col <= right; col++ {
				cells = append(cells, cellAt(table, row, col))
			}
		}
		return cells
	}
	if rng.Start.RowLocked && rng.End.RowLocked {
		return window(0)
	}
	out := make(Vector, table.NumRows())
	for i := range out {
		out[i] = window(i)
	}
	return out
}
