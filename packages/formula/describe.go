package formula

import (
	"fmt"
	"strings"

	"github.com/xuri/efp"
)

// Operator categories reported by OperatorCategories and Describe.
const (
	CategoryArithmetic = "arithmetic"
	CategoryComparison = "comparison"
	CategoryTextOp     = "text"
)

// Describe gives a one-sentence summary of a formula for display. it is
// best effort and never used for evaluation.
func Describe(text string) string {
	node, err := Parse(text)
	if err != nil {
		if se, ok := err.(*SyntaxError); ok {
			return "Invalid formula: " + se.Reason
		}
		return "Invalid formula: " + err.Error()
	}

	if call, ok := node.(*CallNode); ok {
		switch call.Func {
		case FuncIF:
			if len(call.Args) >= 2 {
				otherwise := "FALSE"
				if len(call.Args) == 3 {
					otherwise = exprText(call.Args[2])
				}
				return fmt.Sprintf("If %s, then %s, otherwise %s.", exprText(call.Args[0]), exprText(call.Args[1]), otherwise)
			}
		case FuncAND:
			return "True when all of these hold: " + joinArgs(call.Args) + "."
		case FuncOR:
			return "True when any of these holds: " + joinArgs(call.Args) + "."
		}
	}

	var subject string
	fields := FieldReferences(node)
	switch len(fields) {
	case 0:
		subject = "Evaluates a constant expression"
	case 1:
		subject = "Evaluates field " + fields[0]
	default:
		subject = "Evaluates fields " + strings.Join(fields, ", ")
	}

	categories := OperatorCategories(text)
	if len(categories) > 0 {
		subject += " using " + strings.Join(categories, " and ") + " operators"
	}
	if funcs := calledFunctions(node); len(funcs) > 0 {
		subject += " via " + strings.Join(funcs, ", ")
	}
	return subject + "."
}

// OperatorCategories infers which kinds of infix operators a formula uses
// from an Excel token stream. the result is ordered arithmetic, comparison,
// text and holds each category at most once.
func OperatorCategories(text string) (categories []string) {
	// the tokenizer is not hardened against every malformed input
	defer func() {
		if recover() != nil {
			categories = nil
		}
	}()

	ps := efp.ExcelParser()
	tokens := ps.Parse(tokenizerSafe(Normalize(text)))

	found := map[string]bool{}
	for _, token := range tokens {
		if token.TType != efp.TokenTypeOperatorInfix {
			continue
		}
		switch token.TSubType {
		case efp.TokenSubTypeMath:
			found[CategoryArithmetic] = true
		case efp.TokenSubTypeLogical:
			found[CategoryComparison] = true
		case efp.TokenSubTypeConcatenation:
			found[CategoryTextOp] = true
		}
	}

	for _, c := range []string{CategoryArithmetic, CategoryComparison, CategoryTextOp} {
		if found[c] {
			categories = append(categories, c)
		}
	}
	return categories
}

// tokenizerSafe swaps delimited field names for a plain placeholder, since
// the Excel tokenizer reads spaces inside them as intersections.
func tokenizerSafe(text string) string {
	var sb strings.Builder
	i := 0
	for i < len(text) {
		switch text[i] {
		case '"', '\'':
			end, _ := scanQuoted(text, i, text[i])
			sb.WriteString(text[i:end])
			i = end
		case '[':
			i = closingIndex(text, i+1, ']')
			sb.WriteString("field")
		case '`':
			i = closingIndex(text, i+1, '`')
			sb.WriteString("field")
		case '!':
			// != is not an Excel operator
			if byteAt(text, i+1) == '=' {
				sb.WriteString("<>")
				i += 2
				continue
			}
			sb.WriteByte('!')
			i++
		default:
			sb.WriteByte(text[i])
			i++
		}
	}
	return sb.String()
}

func calledFunctions(node Node) []string {
	var names DependencySet
	Walk(node, func(n Node) bool {
		if call, ok := n.(*CallNode); ok {
			names = names.add(call.Name)
		}
		return true
	})
	return names
}

func joinArgs(args []Node) string {
	parts := make([]string, len(args))
	for i, arg := range args {
		parts[i] = exprText(arg)
	}
	return strings.Join(parts, "; ")
}

func exprText(node Node) string {
	return strings.TrimPrefix(Format(node), "=")
}
