package formula

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/vogtb/go-formula-engine/packages/reference"
)

// ValidationResult is the outcome of Validate. Reason is empty when OK.
// Warnings never fail a formula.
type ValidationResult struct {
	OK       bool     `json:"ok"`
	Reason   string   `json:"reason,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Err returns the failure as a *SyntaxError, or nil when the formula is ok.
func (r ValidationResult) Err(text string) error {
	if r.OK {
		return nil
	}
	return &SyntaxError{Formula: Normalize(text), Reason: r.Reason}
}

// IsSyntacticallyValid is the cheap pre-check: non-empty, balanced
// delimiters, no empty argument lists and no row 0 or negative references.
// it does not build a tree.
func IsSyntacticallyValid(text string) bool {
	return precheck(Normalize(text)) == ""
}

// Validate runs the pre-check, then the full lexer and parser. unknown
// function names are reported as warnings since the host may know them.
func Validate(text string) ValidationResult {
	normalized := Normalize(text)
	if reason := precheck(normalized); reason != "" {
		return ValidationResult{Reason: reason}
	}

	node, err := Parse(normalized)
	if err != nil {
		if se, ok := err.(*SyntaxError); ok {
			return ValidationResult{Reason: se.Reason}
		}
		return ValidationResult{Reason: err.Error()}
	}

	var result ValidationResult
	seen := map[string]bool{}
	Walk(node, func(n Node) bool {
		call, ok := n.(*CallNode)
		if !ok || result.Reason != "" {
			return result.Reason == ""
		}
		if call.Func == FuncPassthrough {
			if !seen[call.Name] {
				seen[call.Name] = true
				result.Warnings = append(result.Warnings, fmt.Sprintf("unknown function %s", call.Name))
			}
			return true
		}
		if err := call.Func.CheckArity(len(call.Args)); err != nil {
			result.Reason = "wrong number of arguments: " + err.Error()
			return false
		}
		return true
	})
	result.OK = result.Reason == ""
	return result
}

// precheck returns the first structural problem in an already normalized
// formula, or "" when there is none.
func precheck(text string) string {
	if strings.TrimSpace(strings.TrimPrefix(text, "=")) == "" {
		return "empty formula"
	}
	if !utf8.ValidString(text) {
		return "formula is not valid UTF-8"
	}
	if reason := checkBalance(text); reason != "" {
		return reason
	}
	return checkWords(text)
}

// checkBalance tracks parentheses outside of quoted runs. quotes, brackets
// and backticks must each close.
func checkBalance(text string) string {
	depth := 0
	i := 0
	for i < len(text) {
		switch text[i] {
		case '"':
			end, ok := scanQuoted(text, i, '"')
			if !ok {
				return "unbalanced quotes: unclosed string literal"
			}
			i = end
			continue
		case '\'':
			end, ok := scanQuoted(text, i, '\'')
			if !ok {
				return "unbalanced quotes: unclosed worksheet name"
			}
			i = end
			continue
		case '[':
			end := strings.IndexByte(text[i+1:], ']')
			if end < 0 {
				return "unbalanced brackets: missing ']'"
			}
			i += end + 2
			continue
		case ']':
			return "unbalanced brackets: unexpected ']'"
		case '`':
			end := strings.IndexByte(text[i+1:], '`')
			if end < 0 {
				return "unbalanced backticks: missing closing '`'"
			}
			i += end + 2
			continue
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return "unbalanced parentheses: unexpected closing parenthesis"
			}
		}
		i++
	}
	if depth > 0 {
		return "unbalanced parentheses: missing closing parenthesis"
	}
	return ""
}

// checkWords looks at the words outside quoted runs for empty argument
// lists and invalid rows.
func checkWords(text string) string {
	reason := ""
	scanWords(text, func(word string, start, end int) bool {
		next := byteAt(text, skipSpaces(text, end))
		switch {
		case next == '(':
			if emptyArgs(text, end) && LookupFunction(word) != FuncPassthrough && LookupFunction(word).Info().MinArgs > 0 {
				reason = "empty function arguments: " + strings.ToUpper(word) + "()"
			}
		case next == '!':
		case reference.IsAddress(word):
			if _, err := reference.ParseAddress(word); errors.Is(err, reference.ErrInvalidRow) {
				reason = "invalid row number: " + word
			}
		case strings.Contains(word, "$") && byteAt(text, end) == '-' && isDigitByte(byteAt(text, end+1)) && isColumnPart(word):
			reason = "invalid row number: " + word + "-" + leadingDigits(text[end+1:])
		}
		return reason == ""
	})
	if reason != "" {
		return reason
	}

	// "(," and ",)" leave an argument slot empty
	for i := 0; i < len(text); {
		switch text[i] {
		case '"', '\'':
			end, _ := scanQuoted(text, i, text[i])
			i = end
			continue
		case '[':
			i = closingIndex(text, i+1, ']')
			continue
		case '`':
			i = closingIndex(text, i+1, '`')
			continue
		case '(', ',':
			next := byteAt(text, skipSpaces(text, i+1))
			if next == ',' || (text[i] == ',' && next == ')') {
				if text[i] == ',' && next == ',' {
					return "consecutive commas"
				}
				return "empty function arguments"
			}
		}
		i++
	}
	return ""
}

// emptyArgs reports whether the '(' after position end is immediately
// closed.
func emptyArgs(text string, end int) bool {
	open := skipSpaces(text, end)
	return byteAt(text, skipSpaces(text, open+1)) == ')'
}

// isColumnPart matches "$A$", "A$" and "$A" style prefixes that can only
// be the front of an address.
func isColumnPart(word string) bool {
	s := strings.Trim(word, "$")
	if s == "" || len(s) > 3 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isLetterByte(s[i]) {
			return false
		}
	}
	return true
}

// ExtractDependencies collects the field names a formula reads. it works on
// the raw text and deliberately over-collects: a call to a function outside
// the known set is reported like any other bare identifier.
func ExtractDependencies(text string) DependencySet {
	var deps DependencySet
	text = Normalize(text)
	scanText(text, func(name string) {
		deps = deps.add(strings.TrimSpace(name))
	}, func(word string, start, end int) bool {
		next := byteAt(text, end)
		if next == '!' || (next == '(' && IsKnownFunction(word)) {
			return true
		}
		upper := strings.ToUpper(word)
		if upper == "TRUE" || upper == "FALSE" || reference.IsAddress(word) || strings.Contains(word, "$") {
			return true
		}
		deps = deps.add(word)
		return true
	})
	return deps
}

// FieldReferences returns the field names in a parsed tree, in order of
// first appearance. unlike ExtractDependencies it never mistakes a function
// name for a field.
func FieldReferences(node Node) []string {
	var set DependencySet
	Walk(node, func(n Node) bool {
		if f, ok := n.(*FieldNode); ok {
			set = set.add(f.Name)
		}
		return true
	})
	return set
}

// DependencySet is an ordered set of field names.
type DependencySet []string

func (d DependencySet) Contains(name string) bool {
	for _, v := range d {
		if v == name {
			return true
		}
	}
	return false
}

func (d DependencySet) add(name string) DependencySet {
	if name == "" || d.Contains(name) {
		return d
	}
	return append(d, name)
}

// Missing returns the members of d that are not in columns.
func (d DependencySet) Missing(columns []string) []string {
	have := make(map[string]bool, len(columns))
	for _, c := range columns {
		have[c] = true
	}
	var missing []string
	for _, name := range d {
		if !have[name] {
			missing = append(missing, name)
		}
	}
	return missing
}

// scanWords calls fn for every identifier-like word outside string
// literals, quoted sheet names, field delimiters and numbers. fn returns
// false to stop.
func scanWords(text string, fn func(word string, start, end int) bool) {
	scanText(text, nil, fn)
}

// scanText walks text once. delimited field names go to field, other
// identifier-like words to word.
func scanText(text string, field func(name string), word func(word string, start, end int) bool) {
	i := 0
	for i < len(text) {
		ch := text[i]
		switch {
		case ch == '"' || ch == '\'':
			end, _ := scanQuoted(text, i, ch)
			i = end
		case ch == '[' || ch == '`':
			closing := byte(']')
			if ch == '`' {
				closing = '`'
			}
			end := closingIndex(text, i+1, closing)
			if field != nil {
				field(strings.TrimSuffix(text[i+1:end], string(closing)))
			}
			i = end
		case isDigitByte(ch) || (ch == '.' && isDigitByte(byteAt(text, i+1))):
			// numbers, including 1E5 and 1E+5, are not words
			start := i
			for i < len(text) && (isWordChar(text[i]) || (i > start && (text[i] == '+' || text[i] == '-') && (text[i-1] == 'e' || text[i-1] == 'E'))) {
				i++
			}
		case isLetterByte(ch) || ch == '_' || ch == '$' || ch >= utf8.RuneSelf:
			start := i
			for i < len(text) && (isWordChar(text[i]) || text[i] == '$' || text[i] >= utf8.RuneSelf) {
				i++
			}
			if !word(text[start:i], start, i) {
				return
			}
		default:
			i++
		}
	}
}

// scanQuoted returns the index past a quoted run starting at start, with a
// doubled quote as escape. ok is false when the run never closes.
func scanQuoted(text string, start int, quote byte) (int, bool) {
	i := start + 1
	for i < len(text) {
		if text[i] == quote {
			if i+1 < len(text) && text[i+1] == quote {
				i += 2
				continue
			}
			return i + 1, true
		}
		i++
	}
	return len(text), false
}

func closingIndex(text string, start int, closing byte) int {
	if start >= len(text) {
		return len(text)
	}
	idx := strings.IndexByte(text[start:], closing)
	if idx < 0 {
		return len(text)
	}
	return start + idx + 1
}

func skipSpaces(text string, i int) int {
	for i < len(text) && (text[i] == ' ' || text[i] == '\t' || text[i] == '\n' || text[i] == '\r') {
		i++
	}
	return i
}

func byteAt(text string, i int) byte {
	if i < 0 || i >= len(text) {
		return 0
	}
	return text[i]
}

func leadingDigits(s string) string {
	i := 0
	for i < len(s) && isDigitByte(s[i]) {
		i++
	}
	return s[:i]
}

func isDigitByte(ch byte) bool  { return ch >= '0' && ch <= '9' }
func isLetterByte(ch byte) bool { return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') }
func isWordChar(ch byte) bool {
	return isLetterByte(ch) || isDigitByte(ch) || ch == '_' || ch == '.'
}
