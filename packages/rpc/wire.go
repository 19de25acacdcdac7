package rpc

import (
	"fmt"
	"time"
)

// methods of the automation host
const (
	MethodInitialize     = "application.initialize"
	MethodRestore        = "application.restore"
	MethodCalculate      = "application.calculate"
	MethodWorkbookCreate = "workbook.create"
	MethodWorkbookClose  = "workbook.close"
	MethodRangeWrite     = "range.write"
	MethodRangeRead      = "range.read"
	MethodRangeFillDown  = "range.fillDown"
	MethodSetFormula     = "cell.setFormula"
	MethodCellRead       = "cell.read"
	MethodShutdown       = "shutdown"
)

// calculation modes
const (
	CalculationAutomatic = "automatic"
	CalculationManual    = "manual"
)

// AppSettings are the host application settings a session changes and puts
// back when it closes.
type AppSettings struct {
	DisplayAlerts  bool   `json:"displayAlerts"`
	ScreenUpdating bool   `json:"screenUpdating"`
	Calculation    string `json:"calculation"`
}

type InitializeParams struct {
	ProcessID int         `json:"processId"`
	Settings  AppSettings `json:"settings"`
}

type InitializeResult struct {
	Host     string      `json:"host"`
	Version  string      `json:"version"`
	Previous AppSettings `json:"previous"`
}

type RestoreParams struct {
	Settings AppSettings `json:"settings"`
}

type WorkbookCreateParams struct {
	Path      string `json:"path"`
	SheetName string `json:"sheetName"`
}

type WorkbookCreateResult struct {
	Path      string `json:"path"`
	SheetName string `json:"sheetName"`
}

type WorkbookCloseParams struct {
	Save bool `json:"save"`
}

// RangeWriteParams writes Rows starting at the top-left cell Cell.
type RangeWriteParams struct {
	Cell string        `json:"cell"`
	Rows [][]CellValue `json:"rows"`
}

type SetFormulaParams struct {
	Cell    string `json:"cell"`
	Formula string `json:"formula"`
}

type CellReadParams struct {
	Cell string `json:"cell"`
}

// FillDownParams copies the formula in the first row of Range to every
// other row, adapting relative references.
type FillDownParams struct {
	Range string `json:"range"`
}

type RangeReadParams struct {
	Range string `json:"range"`
}

// RangeReadResult holds the values row by row.
type RangeReadResult struct {
	Rows [][]CellValue `json:"rows"`
}

// cell value kinds on the wire
const (
	KindEmpty  = ""
	KindNumber = "n"
	KindText   = "s"
	KindBool   = "b"
	KindDate   = "d"
	KindError  = "e"
)

// CellValue is a typed cell. errors travel as their display text, for
// example "#DIV/0!".
type CellValue struct {
	Kind   string     `json:"t,omitempty"`
	Number float64    `json:"n,omitempty"`
	Text   string     `json:"s,omitempty"`
	Bool   bool       `json:"b,omitempty"`
	Time   *time.Time `json:"d,omitempty"`
}

// EncodeValue converts a table value to its wire form. values of other
// types become text.
func EncodeValue(v any) CellValue {
	switch x := v.(type) {
	case nil:
		return CellValue{}
	case float64:
		return CellValue{Kind: KindNumber, Number: x}
	case string:
		return CellValue{Kind: KindText, Text: x}
	case bool:
		return CellValue{Kind: KindBool, Bool: x}
	case time.Time:
		t := x.UTC()
		return CellValue{Kind: KindDate, Time: &t}
	case error:
		return CellValue{Kind: KindError, Text: x.Error()}
	}
	return CellValue{Kind: KindText, Text: fmt.Sprint(v)}
}

// Value converts back to a table value. errors decode to their text; use
// IsError to tell them apart.
func (c CellValue) Value() any {
	switch c.Kind {
	case KindNumber:
		return c.Number
	case KindText, KindError:
		return c.Text
	case KindBool:
		return c.Bool
	case KindDate:
		if c.Time == nil {
			return nil
		}
		return c.Time.UTC()
	}
	return nil
}

func (c CellValue) IsError() bool { return c.Kind == KindError }
