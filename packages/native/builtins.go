package native

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/vogtb/go-formula-engine/packages/dataset"
	"github.com/vogtb/go-formula-engine/packages/formula"
)

// Clock interface provides time functionality for testing
type Clock interface {
	Now() time.Time
}

// WallClock is the default implementation using system time
type WallClock struct{}

func (w *WallClock) Now() time.Time {
	return time.Now()
}

// RandomGenerator interface provides random number generation for testing
type RandomGenerator interface {
	Float64() float64
}

// DefaultRandomGenerator uses the standard library's rand package
type DefaultRandomGenerator struct{}

func (d *DefaultRandomGenerator) Float64() float64 {
	return rand.Float64()
}

// Builtins evaluates one function call for one row. results are plain
// values or *formula.CellError.
type Builtins struct {
	clock Clock
	rng   RandomGenerator
}

func NewDefaultBuiltins() *Builtins {
	return &Builtins{clock: &WallClock{}, rng: &DefaultRandomGenerator{}}
}

type scalarFunc func(b *Builtins, args []any) any

// scalarFuncs holds every function the native backend can run per row. keys
// are upper case names; passthrough calls use the same table.
var scalarFuncs map[string]scalarFunc

func init() {
	scalarFuncs = map[string]scalarFunc{
		"IF":          (*Builtins).IF,
		"IFERROR":     (*Builtins).IFERROR,
		"AND":         (*Builtins).AND,
		"OR":          (*Builtins).OR,
		"XOR":         (*Builtins).XOR,
		"NOT":         (*Builtins).NOT,
		"TRUE":        func(*Builtins, []any) any { return true },
		"FALSE":       func(*Builtins, []any) any { return false },
		"ISBLANK":     (*Builtins).ISBLANK,
		"ISNUMBER":    (*Builtins).ISNUMBER,
		"ISTEXT":      (*Builtins).ISTEXT,
		"ISERROR":     (*Builtins).ISERROR,
		"ISNA":        (*Builtins).ISNA,
		"NA":          func(*Builtins, []any) any { return cellError(formula.ErrorCodeNA, "") },
		"LEFT":        (*Builtins).LEFT,
		"RIGHT":       (*Builtins).RIGHT,
		"MID":         (*Builtins).MID,
		"LEN":         (*Builtins).LEN,
		"CONCATENATE": (*Builtins).CONCATENATE,
		"CONCAT":      (*Builtins).CONCATENATE,
		"UPPER":       (*Builtins).UPPER,
		"LOWER":       (*Builtins).LOWER,
		"PROPER":      (*Builtins).PROPER,
		"TRIM":        (*Builtins).TRIM,
		"EXACT":       (*Builtins).EXACT,
		"FIND":        (*Builtins).FIND,
		"SEARCH":      (*Builtins).SEARCH,
		"SUBSTITUTE":  (*Builtins).SUBSTITUTE,
		"VALUE":       (*Builtins).VALUE,
		"ABS":         unaryMath(math.Abs),
		"SQRT":        (*Builtins).SQRT,
		"INT":         unaryMath(math.Floor),
		"ROUND":       (*Builtins).ROUND,
		"FLOOR":       (*Builtins).FLOOR,
		"CEILING":     (*Builtins).CEILING,
		"POWER":       (*Builtins).POWER,
		"MOD":         (*Builtins).MOD,
		"PI":          func(*Builtins, []any) any { return math.Pi },
		"RAND":        (*Builtins).RAND,
		"SUM":         (*Builtins).SUM,
		"AVERAGE":     (*Builtins).AVERAGE,
		"COUNT":       (*Builtins).COUNT,
		"COUNTA":      (*Builtins).COUNTA,
		"MAX":         (*Builtins).MAX,
		"MIN":         (*Builtins).MIN,
		"TODAY":       (*Builtins).TODAY,
		"NOW":         (*Builtins).NOW,
		"DATE":        (*Builtins).DATE,
		"YEAR":        datePart(func(t time.Time) int { return t.Year() }),
		"MONTH":       datePart(func(t time.Time) int { return int(t.Month()) }),
		"DAY":         datePart(func(t time.Time) int { return t.Day() }),

		// best effort only, reached through passthrough
		"EDATE":   (*Builtins).EDATE,
		"EOMONTH": (*Builtins).EOMONTH,
		"WEEKDAY": (*Builtins).WEEKDAY,
		"DATEDIF": (*Builtins).DATEDIF,
		"MEDIAN":  (*Builtins).MEDIAN,
		"SIGN": unaryMath(func(x float64) float64 {
			switch {
			case x > 0:
				return 1
			case x < 0:
				return -1
			}
			return 0
		}),
		"EXP":   unaryMath(math.Exp),
		"LN":    unaryMath(math.Log),
		"LOG10": unaryMath(math.Log10),
		"TRUNC": unaryMath(math.Trunc),
		"REPT":  (*Builtins).REPT,
	}
}

// HasScalar reports whether name can be evaluated per row.
func HasScalar(name string) bool {
	_, ok := scalarFuncs[strings.ToUpper(name)]
	return ok
}

// Call invokes a built-in function by name with the arguments of one row
func (b *Builtins) Call(name string, args ...any) any {
	fn, ok := scalarFuncs[strings.ToUpper(name)]
	if !ok {
		return cellError(formula.ErrorCodeName, fmt.Sprintf("unknown function: %s", name))
	}
	for _, arg := range args {
		if _, isRange := arg.(Cells); isRange && !acceptsRange(name) {
			return cellError(formula.ErrorCodeValue, name+" does not accept a range")
		}
	}
	return fn(b, args)
}

func acceptsRange(name string) bool {
	switch strings.ToUpper(name) {
	case "AND", "OR", "XOR", "SUM", "AVERAGE", "COUNT", "COUNTA", "MAX", "MIN", "MEDIAN", "CONCAT":
		return true
	}
	return false
}

func checkArgs(name string, args []any, minArgs, maxArgs int) *formula.CellError {
	if len(args) < minArgs || (maxArgs >= 0 && len(args) > maxArgs) {
		return cellError(formula.ErrorCodeNA, fmt.Sprintf("%s: wrong number of arguments", name))
	}
	return nil
}

func unaryMath(fn func(float64) float64) scalarFunc {
	return func(b *Builtins, args []any) any {
		if err := checkArgs("function", args, 1, 1); err != nil {
			return err
		}
		if err := checkForError(args[0]); err != nil {
			return err
		}
		num, ok := toNumber(args[0])
		if !ok {
			return cellError(formula.ErrorCodeValue, "numeric argument required")
		}
		return numberResult(fn(num))
	}
}

func numbers(args []any) ([]float64, *formula.CellError) {
	out := make([]float64, len(args))
	for i, arg := range args {
		if err := checkForError(arg); err != nil {
			return nil, err
		}
		num, ok := toNumber(arg)
		if !ok {
			return nil, cellError(formula.ErrorCodeValue, "numeric argument required")
		}
		out[i] = num
	}
	return out, nil
}

// logical

func (b *Builtins) IF(args []any) any {
	if err := checkForError(args[0]); err != nil {
		return err
	}
	condition, ok := toBool(args[0])
	if !ok {
		return cellError(formula.ErrorCodeValue, "IF condition is not a logical value")
	}
	if condition {
		return args[1]
	}
	if len(args) == 3 {
		return args[2]
	}
	return false
}

func (b *Builtins) IFERROR(args []any) any {
	if checkForError(args[0]) != nil {
		return args[1]
	}
	return args[0]
}

// logicalValues collects the truth values for AND, OR and XOR. text and
// empty cells inside ranges are skipped.
func logicalValues(name string, args []any) ([]bool, *formula.CellError) {
	var out []bool
	var failure *formula.CellError
	flatten(args, func(v any, inRange bool) {
		if failure != nil {
			return
		}
		if err := checkForError(v); err != nil {
			failure = err
			return
		}
		if v == nil {
			return
		}
		if _, isText := v.(string); isText && inRange {
			return
		}
		truth, ok := toBool(v)
		if !ok {
			failure = cellError(formula.ErrorCodeValue, name+" argument is not a logical value")
			return
		}
		out = append(out, truth)
	})
	if failure != nil {
		return nil, failure
	}
	if len(out) == 0 {
		return nil, cellError(formula.ErrorCodeValue, name+" has no logical values")
	}
	return out, nil
}

func (b *Builtins) AND(args []any) any {
	values, err := logicalValues("AND", args)
	if err != nil {
		return err
	}
	for _, v := range values {
		if !v {
			return false
		}
	}
	return true
}

func (b *Builtins) OR(args []any) any {
	values, err := logicalValues("OR", args)
	if err != nil {
		return err
	}
	for _, v := range values {
		if v {
			return true
		}
	}
	return false
}

func (b *Builtins) XOR(args []any) any {
	values, err := logicalValues("XOR", args)
	if err != nil {
		return err
	}
	count := 0
	for _, v := range values {
		if v {
			count++
		}
	}
	return count%2 == 1
}

func (b *Builtins) NOT(args []any) any {
	if err := checkForError(args[0]); err != nil {
		return err
	}
	truth, ok := toBool(args[0])
	if !ok {
		return cellError(formula.ErrorCodeValue, "NOT argument is not a logical value")
	}
	return !truth
}

// information

func (b *Builtins) ISBLANK(args []any) any { return args[0] == nil }

func (b *Builtins) ISNUMBER(args []any) any {
	switch args[0].(type) {
	case float64, time.Time:
		return true
	}
	return false
}

func (b *Builtins) ISTEXT(args []any) any {
	_, ok := args[0].(string)
	return ok
}

func (b *Builtins) ISERROR(args []any) any { return checkForError(args[0]) != nil }

func (b *Builtins) ISNA(args []any) any {
	err := checkForError(args[0])
	return err != nil && err.Code == formula.ErrorCodeNA
}

// text

func textAndCount(name string, args []any, defaultCount int) (string, int, *formula.CellError) {
	if err := firstError(args...); err != nil {
		return "", 0, err
	}
	count := defaultCount
	if len(args) > 1 {
		n, ok := toNumber(args[1])
		if !ok || n < 0 || math.IsNaN(n) {
			return "", 0, cellError(formula.ErrorCodeValue, name+" count must be a non-negative number")
		}
		count = clampCount(n)
	}
	return toText(args[0]), count, nil
}

// maxTextLength is the longest text a cell can hold.
const maxTextLength = 32767

// clampCount converts a non-negative character count to an int no larger
// than maxTextLength+1, so huge counts never overflow.
func clampCount(n float64) int {
	if n > maxTextLength {
		return maxTextLength + 1
	}
	return int(n)
}

func (b *Builtins) LEFT(args []any) any {
	text, count, err := textAndCount("LEFT", args, 1)
	if err != nil {
		return err
	}
	runes := []rune(text)
	if count > len(runes) {
		count = len(runes)
	}
	return string(runes[:count])
}

func (b *Builtins) RIGHT(args []any) any {
	text, count, err := textAndCount("RIGHT", args, 1)
	if err != nil {
		return err
	}
	runes := []rune(text)
	if count > len(runes) {
		count = len(runes)
	}
	return string(runes[len(runes)-count:])
}

func (b *Builtins) MID(args []any) any {
	if err := firstError(args...); err != nil {
		return err
	}
	start, ok1 := toNumber(args[1])
	count, ok2 := toNumber(args[2])
	if !ok1 || !ok2 || start < 1 || count < 0 || math.IsNaN(start) || math.IsNaN(count) {
		return cellError(formula.ErrorCodeValue, "MID start must be at least 1 and count non-negative")
	}
	runes := []rune(toText(args[0]))
	from := clampCount(start) - 1
	if from >= len(runes) {
		return ""
	}
	to := from + clampCount(count)
	if to > len(runes) {
		to = len(runes)
	}
	return string(runes[from:to])
}

func (b *Builtins) LEN(args []any) any {
	if err := checkForError(args[0]); err != nil {
		return err
	}
	return float64(utf8.RuneCountInString(toText(args[0])))
}

func (b *Builtins) CONCATENATE(args []any) any {
	var sb strings.Builder
	var failure *formula.CellError
	flatten(args, func(v any, _ bool) {
		if failure != nil {
			return
		}
		if err := checkForError(v); err != nil {
			failure = err
			return
		}
		sb.WriteString(toText(v))
	})
	if failure != nil {
		return failure
	}
	return sb.String()
}

func mapText(args []any, fn func(string) string) any {
	if err := checkForError(args[0]); err != nil {
		return err
	}
	return fn(toText(args[0]))
}

// casers are not safe for concurrent use, so each call builds its own

func (b *Builtins) UPPER(args []any) any {
	return mapText(args, func(s string) string { return cases.Upper(language.Und).String(s) })
}

func (b *Builtins) LOWER(args []any) any {
	return mapText(args, func(s string) string { return cases.Lower(language.Und).String(s) })
}

func (b *Builtins) PROPER(args []any) any {
	return mapText(args, func(s string) string { return cases.Title(language.Und).String(s) })
}

func (b *Builtins) TRIM(args []any) any {
	return mapText(args, func(s string) string { return strings.Join(strings.Fields(s), " ") })
}

func (b *Builtins) EXACT(args []any) any {
	if err := firstError(args...); err != nil {
		return err
	}
	return toText(args[0]) == toText(args[1])
}

func findText(name string, args []any, fold bool) any {
	if err := firstError(args...); err != nil {
		return err
	}
	needle, haystack := []rune(toText(args[0])), []rune(toText(args[1]))
	start := 1
	if len(args) == 3 {
		n, ok := toNumber(args[2])
		if !ok || n < 1 || int(n) > len(haystack)+1 {
			return cellError(formula.ErrorCodeValue, name+" start is out of range")
		}
		start = int(n)
	}
	n, h := string(needle), string(haystack[start-1:])
	if fold {
		n, h = strings.ToLower(n), strings.ToLower(h)
	}
	idx := strings.Index(h, n)
	if idx < 0 {
		return cellError(formula.ErrorCodeValue, name+": text not found")
	}
	return float64(utf8.RuneCountInString(h[:idx]) + start)
}

func (b *Builtins) FIND(args []any) any   { return findText("FIND", args, false) }
func (b *Builtins) SEARCH(args []any) any { return findText("SEARCH", args, true) }

func (b *Builtins) SUBSTITUTE(args []any) any {
	if err := firstError(args...); err != nil {
		return err
	}
	text, old, replacement := toText(args[0]), toText(args[1]), toText(args[2])
	if old == "" {
		return text
	}
	if len(args) < 4 {
		return strings.ReplaceAll(text, old, replacement)
	}
	n, ok := toNumber(args[3])
	if !ok || n < 1 {
		return cellError(formula.ErrorCodeValue, "SUBSTITUTE instance must be at least 1")
	}
	offset := 0
	for i := 1; ; i++ {
		idx := strings.Index(text[offset:], old)
		if idx < 0 {
			return text
		}
		if i == int(n) {
			at := offset + idx
			return text[:at] + replacement + text[at+len(old):]
		}
		offset += idx + len(old)
	}
}

func (b *Builtins) VALUE(args []any) any {
	if err := checkForError(args[0]); err != nil {
		return err
	}
	switch v := args[0].(type) {
	case float64:
		return v
	case time.Time:
		return toSerial(v)
	case string:
		switch parsed := dataset.ParseCell(v).(type) {
		case float64:
			return parsed
		case time.Time:
			return toSerial(parsed)
		}
	}
	return cellError(formula.ErrorCodeValue, "VALUE argument is not a number")
}

func (b *Builtins) REPT(args []any) any {
	if err := checkArgs("REPT", args, 2, 2); err != nil {
		return err
	}
	text, count, err := textAndCount("REPT", args, 0)
	if err != nil {
		return err
	}
	if n := utf8.RuneCountInString(text); n > 0 && count > maxTextLength/n {
		return cellError(formula.ErrorCodeValue, "REPT result is longer than 32767 characters")
	}
	return strings.Repeat(text, count)
}

// math

func (b *Builtins) SQRT(args []any) any {
	nums, err := numbers(args)
	if err != nil {
		return err
	}
	if nums[0] < 0 {
		return cellError(formula.ErrorCodeNum, "SQRT requires a non-negative argument")
	}
	return math.Sqrt(nums[0])
}

func (b *Builtins) ROUND(args []any) any {
	nums, err := numbers(args)
	if err != nil {
		return err
	}
	places := 0.0
	if len(nums) == 2 {
		places = math.Trunc(nums[1])
	}
	if places < 0 {
		divisor := math.Pow(10, -places)
		return numberResult(math.Round(nums[0]/divisor) * divisor)
	}
	multiplier := math.Pow(10, places)
	return numberResult(math.Round(nums[0]*multiplier) / multiplier)
}

func roundTo(name string, args []any, fn func(float64) float64) any {
	nums, err := numbers(args)
	if err != nil {
		return err
	}
	if len(nums) == 1 {
		return fn(nums[0])
	}
	significance := nums[1]
	if significance == 0 {
		return cellError(formula.ErrorCodeDiv0, name+" significance is zero")
	}
	return numberResult(fn(nums[0]/significance) * significance)
}

func (b *Builtins) FLOOR(args []any) any   { return roundTo("FLOOR", args, math.Floor) }
func (b *Builtins) CEILING(args []any) any { return roundTo("CEILING", args, math.Ceil) }

func (b *Builtins) POWER(args []any) any {
	nums, err := numbers(args)
	if err != nil {
		return err
	}
	return numberResult(math.Pow(nums[0], nums[1]))
}

// MOD takes the sign of the divisor.
func (b *Builtins) MOD(args []any) any {
	nums, err := numbers(args)
	if err != nil {
		return err
	}
	if nums[1] == 0 {
		return cellError(formula.ErrorCodeDiv0, "division by zero")
	}
	return nums[0] - nums[1]*math.Floor(nums[0]/nums[1])
}

func (b *Builtins) RAND(args []any) any {
	return b.rng.Float64()
}

// aggregates

// aggregateNumbers collects numbers the way SUM does: direct arguments are
// coerced, range cells count only when numeric.
func aggregateNumbers(name string, args []any) ([]float64, *formula.CellError) {
	var out []float64
	var failure *formula.CellError
	flatten(args, func(v any, inRange bool) {
		if failure != nil {
			return
		}
		if err := checkForError(v); err != nil {
			failure = err
			return
		}
		if inRange {
			switch n := v.(type) {
			case float64:
				out = append(out, n)
			case time.Time:
				out = append(out, toSerial(n))
			}
			return
		}
		if v == nil {
			return
		}
		num, ok := toNumber(v)
		if !ok {
			failure = cellError(formula.ErrorCodeValue, name+" argument is not a number")
			return
		}
		out = append(out, num)
	})
	return out, failure
}

func (b *Builtins) SUM(args []any) any {
	nums, err := aggregateNumbers("SUM", args)
	if err != nil {
		return err
	}
	sum := 0.0
	for _, n := range nums {
		sum += n
	}
	return numberResult(sum)
}

func (b *Builtins) AVERAGE(args []any) any {
	nums, err := aggregateNumbers("AVERAGE", args)
	if err != nil {
		return err
	}
	if len(nums) == 0 {
		return cellError(formula.ErrorCodeDiv0, "AVERAGE of no numbers")
	}
	sum := 0.0
	for _, n := range nums {
		sum += n
	}
	return sum / float64(len(nums))
}

func (b *Builtins) COUNT(args []any) any {
	count := 0
	flatten(args, func(v any, inRange bool) {
		switch v.(type) {
		case float64, time.Time:
			count++
		case string, bool:
			if !inRange {
				if _, ok := toNumber(v); ok {
					count++
				}
			}
		}
	})
	return float64(count)
}

func (b *Builtins) COUNTA(args []any) any {
	count := 0
	flatten(args, func(v any, _ bool) {
		if v != nil {
			count++
		}
	})
	return float64(count)
}

func extreme(name string, args []any, better func(a, b float64) bool) any {
	nums, err := aggregateNumbers(name, args)
	if err != nil {
		return err
	}
	if len(nums) == 0 {
		return 0.0
	}
	best := nums[0]
	for _, n := range nums[1:] {
		if better(n, best) {
			best = n
		}
	}
	return best
}

func (b *Builtins) MAX(args []any) any {
	return extreme("MAX", args, func(a, b float64) bool { return a > b })
}

func (b *Builtins) MIN(args []any) any {
	return extreme("MIN", args, func(a, b float64) bool { return a < b })
}

func (b *Builtins) MEDIAN(args []any) any {
	nums, err := aggregateNumbers("MEDIAN", args)
	if err != nil {
		return err
	}
	if len(nums) == 0 {
		return cellError(formula.ErrorCodeNum, "MEDIAN of no numbers")
	}
	sort.Float64s(nums)
	mid := len(nums) / 2
	if len(nums)%2 == 1 {
		return nums[mid]
	}
	return (nums[mid-1] + nums[mid]) / 2
}

// dates

func toTime(value any) (time.Time, *formula.CellError) {
	if err := checkForError(value); err != nil {
		return time.Time{}, err
	}
	switch v := value.(type) {
	case time.Time:
		return v.UTC(), nil
	case string:
		if t, ok := dataset.ParseCell(v).(time.Time); ok {
			return t, nil
		}
	}
	if n, ok := toNumber(value); ok && n >= 0 {
		return fromSerial(n), nil
	}
	return time.Time{}, cellError(formula.ErrorCodeValue, "argument is not a date")
}

func (b *Builtins) TODAY(args []any) any {
	now := b.clock.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

func (b *Builtins) NOW(args []any) any {
	return b.clock.Now().UTC()
}

func (b *Builtins) DATE(args []any) any {
	nums, err := numbers(args)
	if err != nil {
		return err
	}
	year := int(nums[0])
	if year < 1900 {
		year += 1900
	}
	return time.Date(year, time.Month(int(nums[1])), int(nums[2]), 0, 0, 0, 0, time.UTC)
}

func datePart(part func(time.Time) int) scalarFunc {
	return func(b *Builtins, args []any) any {
		t, err := toTime(args[0])
		if err != nil {
			return err
		}
		return float64(part(t))
	}
}

func (b *Builtins) EDATE(args []any) any {
	if err := checkArgs("EDATE", args, 2, 2); err != nil {
		return err
	}
	t, err := toTime(args[0])
	if err != nil {
		return err
	}
	months, ok := toNumber(args[1])
	if !ok {
		return cellError(formula.ErrorCodeValue, "EDATE months is not a number")
	}
	return addMonths(t, int(months))
}

func (b *Builtins) EOMONTH(args []any) any {
	if err := checkArgs("EOMONTH", args, 2, 2); err != nil {
		return err
	}
	t, err := toTime(args[0])
	if err != nil {
		return err
	}
	months, ok := toNumber(args[1])
	if !ok {
		return cellError(formula.ErrorCodeValue, "EOMONTH months is not a number")
	}
	first := time.Date(t.Year(), t.Month()+time.Month(months)+1, 1, 0, 0, 0, 0, time.UTC)
	return first.AddDate(0, 0, -1)
}

// addMonths clamps to the last day of the target month.
func addMonths(t time.Time, months int) time.Time {
	first := time.Date(t.Year(), t.Month()+time.Month(months), 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1).Day()
	day := t.Day()
	if day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, 0, 0, 0, 0, time.UTC)
}

// WEEKDAY supports return types 1 (Sunday is 1) and 2 (Monday is 1).
func (b *Builtins) WEEKDAY(args []any) any {
	if err := checkArgs("WEEKDAY", args, 1, 2); err != nil {
		return err
	}
	t, err := toTime(args[0])
	if err != nil {
		return err
	}
	kind := 1.0
	if len(args) == 2 {
		kind, _ = toNumber(args[1])
	}
	day := int(t.Weekday())
	switch kind {
	case 1:
		return float64(day + 1)
	case 2:
		return float64((day+6)%7 + 1)
	}
	return cellError(formula.ErrorCodeNum, "WEEKDAY return type not supported")
}

func (b *Builtins) DATEDIF(args []any) any {
	if err := checkArgs("DATEDIF", args, 3, 3); err != nil {
		return err
	}
	start, err := toTime(args[0])
	if err != nil {
		return err
	}
	end, err := toTime(args[1])
	if err != nil {
		return err
	}
	if end.Before(start) {
		return cellError(formula.ErrorCodeNum, "DATEDIF end is before start")
	}
	months := (end.Year()-start.Year())*12 + int(end.Month()-start.Month())
	if end.Day() < start.Day() {
		months--
	}
	switch strings.ToUpper(toText(args[2])) {
	case "D":
		return math.Floor(end.Sub(start).Hours() / 24)
	case "M":
		return float64(months)
	case "Y":
		return float64(months / 12)
	}
	return cellError(formula.ErrorCodeNum, "DATEDIF unit not supported")
}
