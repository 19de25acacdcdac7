package formula

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorCode represents standard spreadsheet error codes following
// Excel conventions
type ErrorCode uint8

const (
	ErrorCodeNull  ErrorCode = 1 // #NULL! - no cells in common between ranges
	ErrorCodeDiv0  ErrorCode = 2 // #DIV/0! - division by zero
	ErrorCodeValue ErrorCode = 3 // #VALUE! - wrong type of argument or operand
	ErrorCodeRef   ErrorCode = 4 // #REF! - invalid cell reference
	ErrorCodeName  ErrorCode = 5 // #NAME? - unrecognized function name
	ErrorCodeNum   ErrorCode = 6 // #NUM! - number too large or small to be represented
	ErrorCodeNA    ErrorCode = 7 // #N/A - value not available
)

// ErrorMapper maps error codes to the host's string representation. these
// strings are part of the wire contract and must not change.
var ErrorMapper = map[ErrorCode]string{
	ErrorCodeNull:  "#NULL!",
	ErrorCodeDiv0:  "#DIV/0!",
	ErrorCodeValue: "#VALUE!",
	ErrorCodeRef:   "#REF!",
	ErrorCodeName:  "#NAME?",
	ErrorCodeNum:   "#NUM!",
	ErrorCodeNA:    "#N/A",
}

// ErrorDescriptions holds a human readable explanation per code.
var ErrorDescriptions = map[ErrorCode]string{
	ErrorCodeNull:  "ranges do not intersect",
	ErrorCodeDiv0:  "division by zero",
	ErrorCodeValue: "wrong type of argument or operand",
	ErrorCodeRef:   "invalid cell reference",
	ErrorCodeName:  "unrecognized function or name",
	ErrorCodeNum:   "invalid numeric value",
	ErrorCodeNA:    "value not available",
}

func (c ErrorCode) String() string {
	if s, ok := ErrorMapper[c]; ok {
		return s
	}
	return "#ERROR!"
}

func (c ErrorCode) Description() string {
	return ErrorDescriptions[c]
}

// ParseErrorCode recognizes a host error string such as "#DIV/0!". it is
// tolerant of surrounding whitespace and case.
func ParseErrorCode(s string) (ErrorCode, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if !strings.HasPrefix(s, "#") {
		return 0, false
	}
	for code, text := range ErrorMapper {
		if s == text {
			return code, true
		}
	}
	return 0, false
}

// CellError is a per-cell error value. it travels through evaluation as a
// value, not as a Go error return.
type CellError struct {
	Code    ErrorCode
	Message string
}

func (e *CellError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Code.String()
}

func NewCellError(code ErrorCode, message string) *CellError {
	if message == "" {
		message = code.String()
	}
	return &CellError{Code: code, Message: message}
}

var (
	ErrSyntax      = errors.New("syntax error")
	ErrDependency  = errors.New("missing dependency")
	ErrTranslation = errors.New("translation error")
	ErrResource    = errors.New("resource error")
)

// SyntaxError is malformed formula text, found before any evaluation.
type SyntaxError struct {
	Formula string
	Reason  string
	Pos     int
}

func (e *SyntaxError) Error() string {
	if e.Formula == "" {
		return fmt.Sprintf("%s: %s", ErrSyntax, e.Reason)
	}
	return fmt.Sprintf("%s in %q: %s", ErrSyntax, e.Formula, e.Reason)
}

func (e *SyntaxError) Unwrap() error { return ErrSyntax }

// DependencyError lists fields a formula reads that the table lacks.
type DependencyError struct {
	Formula string
	Missing []string
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("%s: %q references missing columns: %s", ErrDependency, e.Formula, strings.Join(e.Missing, ", "))
}

func (e *DependencyError) Unwrap() error { return ErrDependency }

// TranslationError is a formula the native backend cannot express.
type TranslationError struct {
	Formula  string
	Function string
	Reason   string
}

func (e *TranslationError) Error() string {
	var sb strings.Builder
	sb.WriteString(ErrTranslation.Error())
	if e.Formula != "" {
		fmt.Fprintf(&sb, " in %q", e.Formula)
	}
	if e.Function != "" {
		fmt.Fprintf(&sb, " at %s", e.Function)
	}
	sb.WriteString(": ")
	sb.WriteString(e.Reason)
	return sb.String()
}

func (e *TranslationError) Unwrap() error { return ErrTranslation }

// ResourceError is a failure of the external host or its scratch files.
type ResourceError struct {
	Op  string
	Err error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrResource, e.Op, e.Err)
}

func (e *ResourceError) Unwrap() []error { return []error{ErrResource, e.Err} }

func NewResourceError(op string, err error) *ResourceError {
	return &ResourceError{Op: op, Err: err}
}

// ErrorTally counts cell errors per code over the rows of one result column.
type ErrorTally struct {
	counts map[ErrorCode]int
	first  map[ErrorCode]int
}

// Add records an error at a sheet row. rows must arrive in ascending order.
func (t *ErrorTally) Add(code ErrorCode, row int) {
	if t.counts == nil {
		t.counts = make(map[ErrorCode]int)
		t.first = make(map[ErrorCode]int)
	}
	if t.counts[code] == 0 {
		t.first[code] = row
	}
	t.counts[code]++
}

// Total is the number of errors recorded.
func (t *ErrorTally) Total() int {
	n := 0
	for _, c := range t.counts {
		n += c
	}
	return n
}

// Warnings renders one line per code, in code order, naming the formula.
func (t *ErrorTally) Warnings(text string) []string {
	codes := make([]ErrorCode, 0, len(t.counts))
	for code := range t.counts {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })

	warnings := make([]string, 0, len(codes))
	for _, code := range codes {
		warnings = append(warnings, fmt.Sprintf("%s: %s (%s) in %d row(s), first at row %d",
			text, code, code.Description(), t.counts[code], t.first[code]))
	}
	return warnings
}
