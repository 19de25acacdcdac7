package formula

import (
	"fmt"
	"sort"
	"strings"
)

// Function is the closed set of functions the engine knows by name. a call
// node is tagged with its variant when parsed; names outside the set are
// tagged FuncPassthrough and keep their spelling on the node.
type Function int

const (
	FuncPassthrough Function = iota

	// logical
	FuncIF
	FuncIFERROR
	FuncAND
	FuncOR
	FuncNOT
	FuncXOR
	FuncTRUE
	FuncFALSE

	// information
	FuncISBLANK
	FuncISNUMBER
	FuncISTEXT
	FuncISERROR
	FuncISNA
	FuncNA

	// text
	FuncLEFT
	FuncRIGHT
	FuncMID
	FuncLEN
	FuncCONCATENATE
	FuncCONCAT
	FuncUPPER
	FuncLOWER
	FuncPROPER
	FuncTRIM
	FuncEXACT
	FuncFIND
	FuncSEARCH
	FuncSUBSTITUTE
	FuncVALUE
	FuncTEXT

	// math
	FuncABS
	FuncROUND
	FuncFLOOR
	FuncCEILING
	FuncSQRT
	FuncPOWER
	FuncMOD
	FuncINT
	FuncPI
	FuncRAND

	// aggregate
	FuncSUM
	FuncAVERAGE
	FuncCOUNT
	FuncCOUNTA
	FuncMAX
	FuncMIN

	// date
	FuncTODAY
	FuncNOW
	FuncDATE
	FuncYEAR
	FuncMONTH
	FuncDAY
	FuncDATEDIF
	FuncEDATE
	FuncEOMONTH
	FuncWEEKDAY
	FuncNETWORKDAYS

	// lookup and conditional aggregates, host only
	FuncVLOOKUP
	FuncHLOOKUP
	FuncINDEX
	FuncMATCH
	FuncCOUNTIF
	FuncSUMIF
	FuncAVERAGEIF
	FuncROW
	FuncCOLUMN
)

// Category groups functions for descriptions and coercion rules.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryLogical
	CategoryInfo
	CategoryText
	CategoryMath
	CategoryAggregate
	CategoryDate
	CategoryLookup
)

func (c Category) String() string {
	names := []string{"unknown", "logical", "information", "text", "math", "aggregate", "date", "lookup"}
	if int(c) < len(names) {
		return names[c]
	}
	return "unknown"
}

// variadic marks an open upper arity bound
const variadic = -1

// FunctionInfo is the static metadata of one variant.
type FunctionInfo struct {
	Name     string
	MinArgs  int
	MaxArgs  int
	Category Category
	// Native is set when the native backend has a translation rule.
	Native bool
}

var functionTable = map[Function]FunctionInfo{
	FuncIF:      {"IF", 2, 3, CategoryLogical, true},
	FuncIFERROR: {"IFERROR", 2, 2, CategoryLogical, true},
	FuncAND:     {"AND", 1, variadic, CategoryLogical, true},
	FuncOR:      {"OR", 1, variadic, CategoryLogical, true},
	FuncNOT:     {"NOT", 1, 1, CategoryLogical, true},
	FuncXOR:     {"XOR", 1, variadic, CategoryLogical, true},
	FuncTRUE:    {"TRUE", 0, 0, CategoryLogical, true},
	FuncFALSE:   {"FALSE", 0, 0, CategoryLogical, true},

	FuncISBLANK:  {"ISBLANK", 1, 1, CategoryInfo, true},
	FuncISNUMBER: {"ISNUMBER", 1, 1, CategoryInfo, true},
	FuncISTEXT:   {"ISTEXT", 1, 1, CategoryInfo, true},
	FuncISERROR:  {"ISERROR", 1, 1, CategoryInfo, true},
	FuncISNA:     {"ISNA", 1, 1, CategoryInfo, true},
	FuncNA:       {"NA", 0, 0, CategoryInfo, true},

	FuncLEFT:        {"LEFT", 1, 2, CategoryText, true},
	FuncRIGHT:       {"RIGHT", 1, 2, CategoryText, true},
	FuncMID:         {"MID", 3, 3, CategoryText, true},
	FuncLEN:         {"LEN", 1, 1, CategoryText, true},
	FuncCONCATENATE: {"CONCATENATE", 1, variadic, CategoryText, true},
	FuncCONCAT:      {"CONCAT", 1, variadic, CategoryText, true},
	FuncUPPER:       {"UPPER", 1, 1, CategoryText, true},
	FuncLOWER:       {"LOWER", 1, 1, CategoryText, true},
	FuncPROPER:      {"PROPER", 1, 1, CategoryText, true},
	FuncTRIM:        {"TRIM", 1, 1, CategoryText, true},
	FuncEXACT:       {"EXACT", 2, 2, CategoryText, true},
	FuncFIND:        {"FIND", 2, 3, CategoryText, true},
	FuncSEARCH:      {"SEARCH", 2, 3, CategoryText, true},
	FuncSUBSTITUTE:  {"SUBSTITUTE", 3, 4, CategoryText, true},
	FuncVALUE:       {"VALUE", 1, 1, CategoryText, true},
	FuncTEXT:        {"TEXT", 2, 2, CategoryText, false},

	FuncABS:     {"ABS", 1, 1, CategoryMath, true},
	FuncROUND:   {"ROUND", 1, 2, CategoryMath, true},
	FuncFLOOR:   {"FLOOR", 1, 2, CategoryMath, true},
	FuncCEILING: {"CEILING", 1, 2, CategoryMath, true},
	FuncSQRT:    {"SQRT", 1, 1, CategoryMath, true},
	FuncPOWER:   {"POWER", 2, 2, CategoryMath, true},
	FuncMOD:     {"MOD", 2, 2, CategoryMath, true},
	FuncINT:     {"INT", 1, 1, CategoryMath, true},
	FuncPI:      {"PI", 0, 0, CategoryMath, true},
	FuncRAND:    {"RAND", 0, 0, CategoryMath, true},

	FuncSUM:     {"SUM", 1, variadic, CategoryAggregate, true},
	FuncAVERAGE: {"AVERAGE", 1, variadic, CategoryAggregate, true},
	FuncCOUNT:   {"COUNT", 1, variadic, CategoryAggregate, true},
	FuncCOUNTA:  {"COUNTA", 1, variadic, CategoryAggregate, true},
	FuncMAX:     {"MAX", 1, variadic, CategoryAggregate, true},
	FuncMIN:     {"MIN", 1, variadic, CategoryAggregate, true},

	FuncTODAY:       {"TODAY", 0, 0, CategoryDate, true},
	FuncNOW:         {"NOW", 0, 0, CategoryDate, true},
	FuncDATE:        {"DATE", 3, 3, CategoryDate, true},
	FuncYEAR:        {"YEAR", 1, 1, CategoryDate, true},
	FuncMONTH:       {"MONTH", 1, 1, CategoryDate, true},
	FuncDAY:         {"DAY", 1, 1, CategoryDate, true},
	FuncDATEDIF:     {"DATEDIF", 3, 3, CategoryDate, false},
	FuncEDATE:       {"EDATE", 2, 2, CategoryDate, false},
	FuncEOMONTH:     {"EOMONTH", 2, 2, CategoryDate, false},
	FuncWEEKDAY:     {"WEEKDAY", 1, 2, CategoryDate, false},
	FuncNETWORKDAYS: {"NETWORKDAYS", 2, 3, CategoryDate, false},

	FuncVLOOKUP:   {"VLOOKUP", 3, 4, CategoryLookup, false},
	FuncHLOOKUP:   {"HLOOKUP", 3, 4, CategoryLookup, false},
	FuncINDEX:     {"INDEX", 2, 3, CategoryLookup, false},
	FuncMATCH:     {"MATCH", 2, 3, CategoryLookup, false},
	FuncCOUNTIF:   {"COUNTIF", 2, 2, CategoryAggregate, false},
	FuncSUMIF:     {"SUMIF", 2, 3, CategoryAggregate, false},
	FuncAVERAGEIF: {"AVERAGEIF", 2, 3, CategoryAggregate, false},
	FuncROW:       {"ROW", 0, 1, CategoryLookup, false},
	FuncCOLUMN:    {"COLUMN", 0, 1, CategoryLookup, false},
}

var functionsByName = func() map[string]Function {
	m := make(map[string]Function, len(functionTable))
	for fn, info := range functionTable {
		m[info.Name] = fn
	}
	return m
}()

// LookupFunction resolves a name case-insensitively. unknown names map to
// FuncPassthrough.
func LookupFunction(name string) Function {
	if fn, ok := functionsByName[strings.ToUpper(name)]; ok {
		return fn
	}
	return FuncPassthrough
}

// IsKnownFunction reports whether name belongs to the known set.
func IsKnownFunction(name string) bool {
	return LookupFunction(name) != FuncPassthrough
}

// KnownFunctionNames returns the sorted names of every known function.
func KnownFunctionNames() []string {
	names := make([]string, 0, len(functionTable))
	for _, info := range functionTable {
		names = append(names, info.Name)
	}
	sort.Strings(names)
	return names
}

func (f Function) Info() FunctionInfo {
	if info, ok := functionTable[f]; ok {
		return info
	}
	return FunctionInfo{Name: "", MinArgs: 0, MaxArgs: variadic, Category: CategoryUnknown}
}

func (f Function) String() string {
	if f == FuncPassthrough {
		return "passthrough"
	}
	return f.Info().Name
}

// Variadic reports whether the variant accepts any number of trailing
// arguments.
func (f Function) Variadic() bool {
	return f.Info().MaxArgs == variadic
}

// CheckArity validates an argument count against the variant's bounds.
// passthrough functions accept anything.
func (f Function) CheckArity(n int) error {
	if f == FuncPassthrough {
		return nil
	}
	info := f.Info()
	if n < info.MinArgs || (info.MaxArgs != variadic && n > info.MaxArgs) {
		return fmt.Errorf("%s expects %s, got %d", info.Name, arityText(info), n)
	}
	return nil
}

func arityText(info FunctionInfo) string {
	switch {
	case info.MaxArgs == variadic:
		return fmt.Sprintf("at least %d argument%s", info.MinArgs, plural(info.MinArgs))
	case info.MinArgs == info.MaxArgs:
		return fmt.Sprintf("exactly %d argument%s", info.MinArgs, plural(info.MinArgs))
	default:
		return fmt.Sprintf("%d to %d arguments", info.MinArgs, info.MaxArgs)
	}
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
