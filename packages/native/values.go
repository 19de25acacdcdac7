package native

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/vogtb/go-formula-engine/packages/dataset"
	"github.com/vogtb/go-formula-engine/packages/formula"
)

// Vector holds one value per table row. elements are float64, string, bool,
// time.Time, Cells, *formula.CellError or nil.
type Vector []any

// Cells is the content of a range as seen from one row.
type Cells []any

// serial dates count days from 1899-12-30, the epoch of spreadsheet dates
var serialEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

const msPerDay = 86400000

func cellError(code formula.ErrorCode, message string) *formula.CellError {
	return formula.NewCellError(code, message)
}

// checkForError returns the error if value is a cell error, nil otherwise
func checkForError(value any) *formula.CellError {
	if err, ok := value.(*formula.CellError); ok {
		return err
	}
	return nil
}

func firstError(values ...any) *formula.CellError {
	for _, v := range values {
		if err := checkForError(v); err != nil {
			return err
		}
	}
	return nil
}

func toSerial(t time.Time) float64 {
	return float64(t.UTC().Sub(serialEpoch).Milliseconds()) / msPerDay
}

func fromSerial(serial float64) time.Time {
	return serialEpoch.Add(time.Duration(serial * float64(24*time.Hour)))
}

// toNumber converts value to number, returning ok=false if conversion fails
func toNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case nil:
		return 0, true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	case string:
		num, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		return num, true
	case time.Time:
		return toSerial(v), true
	}
	return dataset.ToFloat(value)
}

// toText converts value to its display text
func toText(value any) string {
	if t, ok := value.(time.Time); ok {
		return strconv.FormatFloat(toSerial(t), 'f', -1, 64)
	}
	return dataset.FormatValue(value)
}

// toBool coerces for logical functions. text other than TRUE or FALSE has no
// logical value.
func toBool(value any) (bool, bool) {
	switch v := value.(type) {
	case bool:
		return v, true
	case nil:
		return false, true
	case string:
		switch strings.ToUpper(strings.TrimSpace(v)) {
		case "TRUE":
			return true, true
		case "FALSE":
			return false, true
		}
		return false, false
	}
	if n, ok := toNumber(value); ok {
		return n != 0, true
	}
	return false, false
}

// typeRank orders mixed types the way spreadsheet comparison does: numbers,
// then text, then booleans.
func typeRank(value any) int {
	switch value.(type) {
	case string:
		return 1
	case bool:
		return 2
	}
	return 0
}

// compareValues returns -1, 0 or 1. text compares case insensitively and an
// empty cell equals 0, "" and FALSE.
func compareValues(a, b any) int {
	if a == nil {
		a = emptyLike(b)
	}
	if b == nil {
		b = emptyLike(a)
	}
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		return cmpInt(ra, rb)
	}
	switch x := a.(type) {
	case string:
		return strings.Compare(strings.ToLower(x), strings.ToLower(b.(string)))
	case bool:
		y := b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		}
		return 1
	}
	na, _ := toNumber(a)
	nb, _ := toNumber(b)
	switch {
	case na < nb:
		return -1
	case na > nb:
		return 1
	}
	return 0
}

func emptyLike(other any) any {
	switch other.(type) {
	case string:
		return ""
	case bool:
		return false
	}
	return 0.0
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// flatten expands Cells arguments for aggregates. inRange reports whether a
// value came from a range, where text and booleans are skipped.
func flatten(args []any, fn func(value any, inRange bool)) {
	for _, arg := range args {
		if cells, ok := arg.(Cells); ok {
			for _, v := range cells {
				fn(v, true)
			}
			continue
		}
		fn(arg, false)
	}
}

func numberResult(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return cellError(formula.ErrorCodeNum, "")
	}
	return f
}
