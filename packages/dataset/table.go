package dataset

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/vogtb/go-formula-engine/packages/reference"
)

var (
	ErrColumnNotFound  = errors.New("column not found")
	ErrDuplicateColumn = errors.New("duplicate column")
	ErrRowCount        = errors.New("row count mismatch")
)

// Kind is the storage type of a column.
type Kind int

const (
	KindText Kind = iota
	KindNumber
	KindBool
	KindTime
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindBool:
		return "boolean"
	case KindTime:
		return "date"
	default:
		return "text"
	}
}

func (k Kind) dataType() arrow.DataType {
	switch k {
	case KindNumber:
		return arrow.PrimitiveTypes.Float64
	case KindBool:
		return arrow.FixedWidthTypes.Boolean
	case KindTime:
		return &arrow.TimestampType{Unit: arrow.Nanosecond, TimeZone: "UTC"}
	default:
		return arrow.BinaryTypes.String
	}
}

// Table is an immutable, column oriented dataset. values are one of float64,
// string, bool, time.Time or nil. integers are widened to float64.
type Table struct {
	rec   arrow.Record
	names []string
}

// New wraps an arrow record. the table takes its own reference on rec.
func New(rec arrow.Record) *Table {
	rec.Retain()
	names := make([]string, rec.NumCols())
	for i := range names {
		names[i] = rec.ColumnName(i)
	}
	return &Table{rec: rec, names: names}
}

// FromRows builds a table from row major values. a row shorter than the
// header is padded with nil.
func FromRows(names []string, rows [][]any) (*Table, error) {
	columns := make([][]any, len(names))
	for c := range columns {
		columns[c] = make([]any, len(rows))
	}
	for r, row := range rows {
		if len(row) > len(names) {
			return nil, fmt.Errorf("%w: row %d has %d values for %d columns", ErrRowCount, r+1, len(row), len(names))
		}
		for c, v := range row {
			columns[c][r] = v
		}
	}
	return FromColumns(names, columns)
}

// FromColumns builds a table from column major values. the storage kind of
// each column is inferred from its non-nil values; a column mixing kinds is
// stored as text.
func FromColumns(names []string, columns [][]any) (*Table, error) {
	if len(names) != len(columns) {
		return nil, fmt.Errorf("%w: %d names for %d columns", ErrRowCount, len(names), len(columns))
	}
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateColumn, name)
		}
		seen[name] = true
	}

	rows := 0
	if len(columns) > 0 {
		rows = len(columns[0])
	}
	mem := memory.NewGoAllocator()
	fields := make([]arrow.Field, len(names))
	arrays := make([]arrow.Array, len(names))
	defer func() {
		for _, arr := range arrays {
			if arr != nil {
				arr.Release()
			}
		}
	}()
	for i, values := range columns {
		if len(values) != rows {
			return nil, fmt.Errorf("%w: column %q has %d rows, want %d", ErrRowCount, names[i], len(values), rows)
		}
		arr, kind, err := buildArray(mem, values)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", names[i], err)
		}
		arrays[i] = arr
		fields[i] = arrow.Field{Name: names[i], Type: kind.dataType(), Nullable: true}
	}

	rec := array.NewRecord(arrow.NewSchema(fields, nil), arrays, int64(rows))
	defer rec.Release()
	return New(rec), nil
}

// Record exposes the underlying arrow record. callers must not release it.
func (t *Table) Record() arrow.Record { return t.rec }

func (t *Table) Release() {
	if t != nil && t.rec != nil {
		t.rec.Release()
		t.rec = nil
	}
}

func (t *Table) ColumnNames() []string {
	return append([]string(nil), t.names...)
}

func (t *Table) NumRows() int { return int(t.rec.NumRows()) }

func (t *Table) NumColumns() int { return len(t.names) }

// ColumnIndex finds a column by exact name, falling back to a case
// insensitive match.
func (t *Table) ColumnIndex(name string) (int, bool) {
	for i, n := range t.names {
		if n == name {
			return i, true
		}
	}
	for i, n := range t.names {
		if strings.EqualFold(n, name) {
			return i, true
		}
	}
	return -1, false
}

// HasColumn is ColumnIndex without the index.
func (t *Table) HasColumn(name string) bool {
	_, ok := t.ColumnIndex(name)
	return ok
}

// ColumnByLetter maps a sheet column letter (A is the first column) to a
// column index.
func (t *Table) ColumnByLetter(letters string) (int, error) {
	idx, err := reference.ColumnLetterToIndex(letters)
	if err != nil {
		return -1, err
	}
	if idx > len(t.names) {
		return -1, fmt.Errorf("%w: column %s is beyond the last column %d", ErrColumnNotFound, strings.ToUpper(letters), len(t.names))
	}
	return idx - 1, nil
}

// Kind reports the storage kind of column col.
func (t *Table) Kind(col int) Kind {
	switch t.rec.Column(col).DataType().ID() {
	case arrow.FLOAT64, arrow.FLOAT32, arrow.INT64, arrow.INT32, arrow.INT16, arrow.INT8,
		arrow.UINT64, arrow.UINT32, arrow.UINT16, arrow.UINT8:
		return KindNumber
	case arrow.BOOL:
		return KindBool
	case arrow.TIMESTAMP, arrow.DATE32, arrow.DATE64:
		return KindTime
	default:
		return KindText
	}
}

// Value returns the cell at row, col (both 0-based).
func (t *Table) Value(row, col int) any {
	return valueAt(t.rec.Column(col), row)
}

// Column returns every value of column col.
func (t *Table) Column(col int) []any {
	arr := t.rec.Column(col)
	out := make([]any, arr.Len())
	for i := range out {
		out[i] = valueAt(arr, i)
	}
	return out
}

// ColumnByName is Column with a name lookup.
func (t *Table) ColumnByName(name string) ([]any, error) {
	idx, ok := t.ColumnIndex(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrColumnNotFound, name)
	}
	return t.Column(idx), nil
}

// Rows returns the table in row major order.
func (t *Table) Rows() [][]any {
	rows := make([][]any, t.NumRows())
	for r := range rows {
		row := make([]any, len(t.names))
		for c := range row {
			row[c] = t.Value(r, c)
		}
		rows[r] = row
	}
	return rows
}

// WithColumn returns a new table with values appended as column name. the
// receiver is unchanged and still owns its record.
func (t *Table) WithColumn(name string, values []any) (*Table, error) {
	for _, n := range t.names {
		if n == name {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateColumn, name)
		}
	}
	if len(values) != t.NumRows() {
		return nil, fmt.Errorf("%w: column %q has %d rows, want %d", ErrRowCount, name, len(values), t.NumRows())
	}

	arr, kind, err := buildArray(memory.NewGoAllocator(), values)
	if err != nil {
		return nil, fmt.Errorf("column %q: %w", name, err)
	}
	defer arr.Release()

	fields := append(append([]arrow.Field(nil), t.rec.Schema().Fields()...),
		arrow.Field{Name: name, Type: kind.dataType(), Nullable: true})
	arrays := append(append([]arrow.Array(nil), t.rec.Columns()...), arr)

	rec := array.NewRecord(arrow.NewSchema(fields, nil), arrays, t.rec.NumRows())
	defer rec.Release()
	return New(rec), nil
}

func valueAt(arr arrow.Array, i int) any {
	if arr.IsNull(i) {
		return nil
	}
	switch a := arr.(type) {
	case *array.Float64:
		return a.Value(i)
	case *array.Float32:
		return float64(a.Value(i))
	case *array.Int64:
		return float64(a.Value(i))
	case *array.Int32:
		return float64(a.Value(i))
	case *array.Int16:
		return float64(a.Value(i))
	case *array.Int8:
		return float64(a.Value(i))
	case *array.Uint64:
		return float64(a.Value(i))
	case *array.Uint32:
		return float64(a.Value(i))
	case *array.Uint16:
		return float64(a.Value(i))
	case *array.Uint8:
		return float64(a.Value(i))
	case *array.Boolean:
		return a.Value(i)
	case *array.String:
		return a.Value(i)
	case *array.LargeString:
		return a.Value(i)
	case *array.Timestamp:
		unit := a.DataType().(*arrow.TimestampType).Unit
		return a.Value(i).ToTime(unit).UTC()
	case *array.Date32:
		return a.Value(i).ToTime().UTC()
	case *array.Date64:
		return a.Value(i).ToTime().UTC()
	default:
		return a.ValueStr(i)
	}
}

// InferKind picks the storage kind for a set of values. nil values are
// ignored; no values at all is text.
func InferKind(values []any) Kind {
	kind, found := KindText, false
	for _, v := range values {
		if v == nil {
			continue
		}
		k, ok := kindOf(v)
		if !ok {
			return KindText
		}
		if found && k != kind {
			return KindText
		}
		kind, found = k, true
	}
	return kind
}

func kindOf(v any) (Kind, bool) {
	switch v.(type) {
	case float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return KindNumber, true
	case bool:
		return KindBool, true
	case time.Time:
		return KindTime, true
	case string:
		return KindText, true
	}
	return KindText, false
}

func buildArray(mem memory.Allocator, values []any) (arrow.Array, Kind, error) {
	kind := InferKind(values)
	switch kind {
	case KindNumber:
		b := array.NewFloat64Builder(mem)
		defer b.Release()
		for _, v := range values {
			if v == nil {
				b.AppendNull()
				continue
			}
			f, _ := ToFloat(v)
			b.Append(f)
		}
		return b.NewArray(), kind, nil
	case KindBool:
		b := array.NewBooleanBuilder(mem)
		defer b.Release()
		for _, v := range values {
			if v == nil {
				b.AppendNull()
				continue
			}
			b.Append(v.(bool))
		}
		return b.NewArray(), kind, nil
	case KindTime:
		b := array.NewTimestampBuilder(mem, kind.dataType().(*arrow.TimestampType))
		defer b.Release()
		for _, v := range values {
			if v == nil {
				b.AppendNull()
				continue
			}
			b.Append(arrow.Timestamp(v.(time.Time).UnixNano()))
		}
		return b.NewArray(), kind, nil
	default:
		b := array.NewStringBuilder(mem)
		defer b.Release()
		for _, v := range values {
			if v == nil {
				b.AppendNull()
				continue
			}
			b.Append(FormatValue(v))
		}
		return b.NewArray(), KindText, nil
	}
}

// ToFloat widens any numeric value to float64.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

// FormatValue renders a value the way a spreadsheet displays it in a text
// context.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		if x {
			return "TRUE"
		}
		return "FALSE"
	case time.Time:
		if x.Hour() == 0 && x.Minute() == 0 && x.Second() == 0 && x.Nanosecond() == 0 {
			return x.Format(time.DateOnly)
		}
		return x.Format(time.DateTime)
	case error:
		return x.Error()
	}
	if f, ok := ToFloat(v); ok {
		if math.IsInf(f, 0) || math.IsNaN(f) {
			return "#NUM!"
		}
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}
