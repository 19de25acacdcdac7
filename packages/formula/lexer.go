package formula

import (
	"strings"
	"unicode"

	"github.com/vogtb/go-formula-engine/packages/reference"
)

// TokenType represents different types of tokens in formulas
type TokenType int

const (
	TokenEOF TokenType = iota
	TokenEquals
	TokenNumber
	TokenString
	TokenBoolean
	TokenCell
	TokenRange
	TokenField
	TokenFunction
	TokenUnaryPrefixOp
	TokenUnaryPostfixOp
	TokenBinaryOp
	TokenComma
	TokenLeftParen
	TokenRightParen
	TokenIdentifier
	TokenInvalid
)

// BinaryOp represents binary operators in AST nodes
type BinaryOp int

const (
	BinOpAdd BinaryOp = iota
	BinOpSubtract
	BinOpMultiply
	BinOpDivide
	BinOpPower
	BinOpConcat
	BinOpEqual
	BinOpNotEqual
	BinOpLess
	BinOpLessEqual
	BinOpGreater
	BinOpGreaterEqual
)

// UnaryOp represents unary operators in AST nodes
type UnaryOp int

const (
	UnaryOpPlus UnaryOp = iota
	UnaryOpMinus
	UnaryOpPercent
)

// character classification constants. slightly easier to read.
const (
	charNull       = 0
	charTab        = '\t'
	charNewline    = '\n'
	charReturn     = '\r'
	charSpace      = ' '
	charQuote      = '"'
	charApostrophe = '\''
	charBacktick   = '`'
	charLBracket   = '['
	charRBracket   = ']'
	charPercent    = '%'
	charAmpersand  = '&'
	charLParen     = '('
	charRParen     = ')'
	charAsterisk   = '*'
	charPlus       = '+'
	charComma      = ','
	charMinus      = '-'
	charPeriod     = '.'
	charSlash      = '/'
	charColon      = ':'
	charLess       = '<'
	charEqual      = '='
	charGreater    = '>'
	charCaret      = '^'
	charUnderscore = '_'
	charExclaim    = '!'
	charDollar     = '$'
)

// valueTokens may start an operand
var valueTokens = map[TokenType]bool{
	TokenNumber:        true,
	TokenString:        true,
	TokenBoolean:       true,
	TokenCell:          true,
	TokenRange:         true,
	TokenField:         true,
	TokenFunction:      true,
	TokenIdentifier:    true,
	TokenLeftParen:     true,
	TokenUnaryPrefixOp: true,
}

// tokenTransitions maps the current state to valid next token types
var tokenTransitions = map[TokenState]map[TokenType]bool{
	StateStart: {
		TokenEquals: true, // formula prefix
	},
	StateAfterEquals:   valueTokens,
	StateAfterOperator: valueTokens,
	StateAfterComma:    valueTokens,
	StateAfterLeftParen: merge(valueTokens, map[TokenType]bool{
		TokenRightParen: true, // empty parens for arg-less functions like PI()
	}),
	StateAfterValue: { // after number, string, cell, range, field
		TokenBinaryOp:       true,
		TokenUnaryPostfixOp: true, // for %
		TokenRightParen:     true,
		TokenComma:          true, // only if in function
		TokenEOF:            true,
		// whitespace is significant - no consecutive values
	},
	StateAfterRightParen: {
		TokenBinaryOp:       true,
		TokenUnaryPostfixOp: true,
		TokenRightParen:     true,
		TokenComma:          true,
		TokenEOF:            true,
	},
	StateAfterFunction: {
		TokenLeftParen: true,
	},
}

func merge(a, b map[TokenType]bool) map[TokenType]bool {
	out := make(map[TokenType]bool, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

// Token represents a lexical token with position information
type Token struct {
	Type  TokenType
	Value string
	Pos   int // rune position in input
	End   int // rune position just past the token
}

// TokenState represents the lexer state for validation
type TokenState int

const (
	StateStart TokenState = iota
	StateAfterEquals
	StateAfterValue
	StateAfterOperator
	StateAfterLeftParen
	StateAfterRightParen
	StateAfterComma
	StateAfterFunction
)

// Lexer tokenizes spreadsheet formula expressions
type Lexer struct {
	input      string
	runes      []rune // UTF-8 aware representation
	pos        int
	state      TokenState
	parenDepth int
	prev       Token
	tokens     []Token
	error      string
	errorPos   int
}

// NewLexer creates a new lexer for the given formula input. the input must
// already carry the '=' marker, see Normalize.
func NewLexer(input string) *Lexer {
	return &Lexer{
		input:  input,
		runes:  []rune(input), // runes for UTF-8 support. could do without but a real pain
		pos:    0,
		state:  StateStart,
		tokens: []Token{},
	}
}

// Tokenize tokenizes the entire input and returns tokens and any error
func (l *Lexer) Tokenize() ([]Token, []string) {
	if len(l.runes) == 0 || l.runes[0] != charEqual {
		return l.fail(0, "formula must start with '='")
	}

	for {
		l.skipWhitespace()
		if l.pos >= len(l.runes) {
			break
		}
		tok := l.nextToken()
		tok.End = l.pos
		if tok.Type == TokenInvalid {
			return l.fail(tok.Pos, tok.Value)
		}
		if !l.validateTransition(tok.Type) {
			return l.fail(tok.Pos, l.transitionError(tok))
		}
		l.tokens = append(l.tokens, tok)
		l.updateState(tok)
	}

	// check for unbalanced parentheses
	if l.parenDepth > 0 {
		return l.fail(l.pos, "unbalanced parentheses: missing closing parenthesis")
	}

	// a formula may only end after a complete operand
	if !l.validateTransition(TokenEOF) {
		switch l.state {
		case StateAfterEquals:
			return l.fail(l.pos, "empty formula")
		case StateAfterOperator:
			return l.fail(l.pos, "formula ends with an operator")
		default:
			return l.fail(l.pos, "unexpected end of formula")
		}
	}

	l.tokens = append(l.tokens, Token{Type: TokenEOF, Pos: l.pos, End: l.pos})
	return l.tokens, nil
}

// ErrorPos returns the rune position of the last error.
func (l *Lexer) ErrorPos() int {
	return l.errorPos
}

func (l *Lexer) fail(pos int, msg string) ([]Token, []string) {
	l.error = msg
	l.errorPos = pos
	return nil, []string{msg}
}

// validateTransition checks if the token type is valid in current state
func (l *Lexer) validateTransition(tokenType TokenType) bool {
	validTokens, exists := tokenTransitions[l.state]
	if !exists {
		return false
	}
	return validTokens[tokenType]
}

// transitionError explains why tok cannot follow the previous token.
func (l *Lexer) transitionError(tok Token) string {
	prev := l.prev.Type
	switch {
	case prev == TokenBinaryOp && tok.Type == TokenBinaryOp,
		prev == TokenUnaryPrefixOp && tok.Type == TokenBinaryOp:
		return "consecutive operators: " + l.prev.Value + tok.Value
	case prev == TokenComma && tok.Type == TokenComma:
		return "consecutive commas"
	case prev == TokenLeftParen && tok.Type == TokenComma,
		prev == TokenComma && tok.Type == TokenRightParen:
		return "empty function arguments"
	case (prev == TokenBinaryOp || prev == TokenUnaryPrefixOp) && tok.Type == TokenRightParen:
		return "operator before closing parenthesis"
	case l.state == StateAfterEquals && tok.Type == TokenComma:
		return "unexpected ','"
	case l.state == StateAfterValue || l.state == StateAfterRightParen:
		return "missing operator before " + tokenText(tok)
	default:
		return "unexpected token: " + tokenText(tok)
	}
}

func tokenText(tok Token) string {
	switch tok.Type {
	case TokenString:
		return `"` + tok.Value + `"`
	case TokenField:
		return "[" + tok.Value + "]"
	}
	return tok.Value
}

// updateState updates the lexer state based on the token type
func (l *Lexer) updateState(tok Token) {
	switch tok.Type {
	case TokenEquals:
		l.state = StateAfterEquals
	case TokenNumber, TokenString, TokenBoolean, TokenCell, TokenRange, TokenField, TokenIdentifier:
		l.state = StateAfterValue
	case TokenUnaryPrefixOp, TokenBinaryOp:
		l.state = StateAfterOperator
	case TokenUnaryPostfixOp:
		// postfix operators don't change state
	case TokenLeftParen:
		l.state = StateAfterLeftParen
	case TokenRightParen:
		l.state = StateAfterRightParen
	case TokenComma:
		l.state = StateAfterComma
	case TokenFunction:
		l.state = StateAfterFunction
	}
	l.prev = tok
}

// nextToken returns the next token from the input
func (l *Lexer) nextToken() Token {
	startPos := l.pos
	ch := l.current()

	if ch == charQuote {
		return l.scanString()
	}

	if ch == charLBracket {
		return l.scanDelimitedField(charRBracket, "unbalanced brackets: missing ']'")
	}
	if ch == charBacktick {
		return l.scanDelimitedField(charBacktick, "unbalanced backticks: missing closing '`'")
	}
	if ch == charRBracket {
		l.pos++
		return Token{Type: TokenInvalid, Value: "unbalanced brackets: unexpected ']'", Pos: startPos}
	}

	// single-quoted worksheet references
	if ch == charApostrophe {
		return l.scanQuotedWorksheetRef()
	}

	if l.isDigit(ch) || (ch == charPeriod && l.isDigit(l.peek(1))) {
		return l.scanNumber()
	}

	switch ch {
	case charLParen:
		l.pos++
		l.parenDepth++
		return Token{Type: TokenLeftParen, Value: "(", Pos: startPos}
	case charRParen:
		l.pos++
		l.parenDepth--
		if l.parenDepth < 0 {
			return Token{Type: TokenInvalid, Value: "unbalanced parentheses: unexpected closing parenthesis", Pos: startPos}
		}
		return Token{Type: TokenRightParen, Value: ")", Pos: startPos}
	case charComma:
		l.pos++
		return Token{Type: TokenComma, Value: ",", Pos: startPos}
	case charPlus, charMinus:
		return l.scanUnaryPrefixOrBinaryOp()
	case charAsterisk, charSlash, charCaret, charAmpersand, charLess, charGreater, charExclaim:
		return l.scanBinaryOp()
	case charPercent:
		l.pos++
		return Token{Type: TokenUnaryPostfixOp, Value: "%", Pos: startPos}
	case charEqual:
		l.pos++
		// the first character is the formula prefix, later ones compare
		if startPos == 0 {
			return Token{Type: TokenEquals, Value: "=", Pos: startPos}
		}
		return Token{Type: TokenBinaryOp, Value: "=", Pos: startPos}
	case charColon:
		l.pos++
		return Token{Type: TokenInvalid, Value: "unexpected ':' outside a range", Pos: startPos}
	}

	if l.isAlpha(ch) || ch == charUnderscore || ch == charDollar {
		return l.scanIdentifierOrCell()
	}

	l.pos++
	return Token{Type: TokenInvalid, Value: "unexpected character: " + string(ch), Pos: startPos}
}

// helper methods for character navigation and classification

// substring returns a substring of the original input based on rune positions
func (l *Lexer) substring(start, end int) string {
	if start < 0 || end > len(l.runes) || start > end {
		return ""
	}
	return string(l.runes[start:end])
}

func (l *Lexer) current() rune {
	if l.pos >= len(l.runes) {
		return charNull
	}
	return l.runes[l.pos]
}

func (l *Lexer) peek(offset int) rune {
	pos := l.pos + offset
	if pos >= len(l.runes) || pos < 0 {
		return charNull
	}
	return l.runes[pos]
}

func (l *Lexer) skipWhitespace() {
	for l.pos < len(l.runes) {
		ch := l.current()
		if ch == charSpace || ch == charTab || ch == charNewline || ch == charReturn {
			l.pos++
		} else {
			break
		}
	}
}

func (l *Lexer) isDigit(ch rune) bool {
	return ch >= '0' && ch <= '9'
}

func (l *Lexer) isAlpha(ch rune) bool {
	return unicode.IsLetter(ch)
}

func (l *Lexer) isIdentChar(ch rune) bool {
	return l.isAlpha(ch) || l.isDigit(ch) || ch == charUnderscore || ch == charPeriod || ch == charDollar
}

// scanNumber scans a number token including decimals and scientific notation
func (l *Lexer) scanNumber() Token {
	startPos := l.pos

	for l.pos < len(l.runes) && l.isDigit(l.current()) {
		l.pos++
	}

	if l.current() == charPeriod && l.isDigit(l.peek(1)) {
		l.pos++ // consume '.'
		for l.pos < len(l.runes) && l.isDigit(l.current()) {
			l.pos++
		}
	}

	// scientific notation (e or E)
	if l.current() == 'e' || l.current() == 'E' {
		savedPos := l.pos
		l.pos++

		if l.current() == charPlus || l.current() == charMinus {
			l.pos++
		}

		if !l.isDigit(l.current()) {
			// not scientific notation, restore position
			l.pos = savedPos
		} else {
			for l.pos < len(l.runes) && l.isDigit(l.current()) {
				l.pos++
			}
		}
	}

	return Token{Type: TokenNumber, Value: l.substring(startPos, l.pos), Pos: startPos}
}

// scanString scans a string literal with support for double-quote escapes
func (l *Lexer) scanString() Token {
	startPos := l.pos
	l.pos++ // consume opening quote

	var result []rune
	for l.pos < len(l.runes) {
		ch := l.current()
		if ch == charQuote {
			if l.peek(1) == charQuote {
				result = append(result, charQuote)
				l.pos += 2
				continue
			}
			l.pos++ // closing quote
			return Token{Type: TokenString, Value: string(result), Pos: startPos}
		}
		result = append(result, ch)
		l.pos++
	}

	return Token{Type: TokenInvalid, Value: "unbalanced quotes: unclosed string literal", Pos: startPos}
}

// scanDelimitedField scans [Field Name] or `Field Name`.
func (l *Lexer) scanDelimitedField(closing rune, unclosed string) Token {
	startPos := l.pos
	l.pos++ // opening delimiter
	nameStart := l.pos
	for l.pos < len(l.runes) && l.current() != closing {
		l.pos++
	}
	if l.pos >= len(l.runes) {
		return Token{Type: TokenInvalid, Value: unclosed, Pos: startPos}
	}
	name := l.substring(nameStart, l.pos)
	l.pos++ // closing delimiter
	if strings.TrimSpace(name) == "" {
		return Token{Type: TokenInvalid, Value: "empty field name", Pos: startPos}
	}
	return Token{Type: TokenField, Value: name, Pos: startPos}
}

// scanIdentifierOrCell scans identifiers, functions, cells, ranges, and booleans
func (l *Lexer) scanIdentifierOrCell() Token {
	startPos := l.pos

	for l.pos < len(l.runes) && l.isIdentChar(l.current()) {
		l.pos++
	}

	value := l.substring(startPos, l.pos)
	upperValue := strings.ToUpper(value)

	// functions first, so LOG10( and TRUE( are calls rather than values
	if l.current() == charLParen && !strings.Contains(value, "$") {
		return Token{Type: TokenFunction, Value: upperValue, Pos: startPos}
	}

	if l.current() == charExclaim && l.peek(1) != charEqual {
		l.pos++ // consume !
		return l.scanReferenceAfterSheet(startPos)
	}

	if upperValue == "TRUE" || upperValue == "FALSE" {
		return Token{Type: TokenBoolean, Value: upperValue, Pos: startPos}
	}

	if reference.IsAddress(value) {
		return l.finishReference(startPos, value)
	}

	if strings.Contains(value, "$") {
		return Token{Type: TokenInvalid, Value: "invalid reference: " + value, Pos: startPos}
	}

	// a bare field name
	return Token{Type: TokenIdentifier, Value: value, Pos: startPos}
}

// finishReference turns an address into a cell token, or a range token when
// a second address follows a colon.
func (l *Lexer) finishReference(startPos int, first string) Token {
	if l.current() != charColon {
		return Token{Type: TokenCell, Value: l.substring(startPos, l.pos), Pos: startPos}
	}

	savedPos := l.pos
	l.pos++ // consume ':'
	cellStart := l.pos
	for l.pos < len(l.runes) && (l.isAlpha(l.current()) || l.isDigit(l.current()) || l.current() == charDollar) {
		l.pos++
	}
	second := l.substring(cellStart, l.pos)
	if reference.IsAddress(second) {
		return Token{Type: TokenRange, Value: l.substring(startPos, l.pos), Pos: startPos}
	}

	l.pos = savedPos
	return Token{Type: TokenInvalid, Value: "invalid range: " + first + ":" + second, Pos: startPos}
}

// scanQuotedWorksheetRef scans 'Sheet Name'!A1 style references
func (l *Lexer) scanQuotedWorksheetRef() Token {
	startPos := l.pos
	l.pos++ // opening single quote

	for l.pos < len(l.runes) {
		if l.current() == charApostrophe {
			if l.peek(1) == charApostrophe {
				l.pos += 2
				continue
			}
			break
		}
		l.pos++
	}
	if l.pos >= len(l.runes) {
		return Token{Type: TokenInvalid, Value: "unbalanced quotes: unclosed worksheet name", Pos: startPos}
	}
	l.pos++ // closing single quote

	if l.current() != charExclaim {
		return Token{Type: TokenInvalid, Value: "expected '!' after worksheet name", Pos: startPos}
	}
	l.pos++
	return l.scanReferenceAfterSheet(startPos)
}

// scanReferenceAfterSheet scans the cell or range after "Sheet!".
func (l *Lexer) scanReferenceAfterSheet(startPos int) Token {
	cellStart := l.pos
	for l.pos < len(l.runes) && (l.isAlpha(l.current()) || l.isDigit(l.current()) || l.current() == charDollar) {
		l.pos++
	}
	cell := l.substring(cellStart, l.pos)
	if !reference.IsAddress(cell) {
		return Token{Type: TokenInvalid, Value: "invalid cell reference after worksheet", Pos: startPos}
	}
	return l.finishReference(startPos, cell)
}

// scanUnaryPrefixOrBinaryOp scans + and - which can be either unary
// prefix or binary
func (l *Lexer) scanUnaryPrefixOrBinaryOp() Token {
	startPos := l.pos
	ch := l.current()
	l.pos++

	if l.isUnaryContext() {
		return Token{Type: TokenUnaryPrefixOp, Value: string(ch), Pos: startPos}
	}
	return Token{Type: TokenBinaryOp, Value: string(ch), Pos: startPos}
}

// scanBinaryOp scans binary operators
func (l *Lexer) scanBinaryOp() Token {
	startPos := l.pos
	ch := l.current()
	l.pos++

	switch ch {
	case charLess:
		if l.current() == charEqual {
			l.pos++
			return Token{Type: TokenBinaryOp, Value: "<=", Pos: startPos}
		}
		if l.current() == charGreater {
			l.pos++
			return Token{Type: TokenBinaryOp, Value: "<>", Pos: startPos}
		}
		return Token{Type: TokenBinaryOp, Value: "<", Pos: startPos}
	case charGreater:
		if l.current() == charEqual {
			l.pos++
			return Token{Type: TokenBinaryOp, Value: ">=", Pos: startPos}
		}
		return Token{Type: TokenBinaryOp, Value: ">", Pos: startPos}
	case charExclaim:
		// != is accepted as a synonym for <>
		if l.current() == charEqual {
			l.pos++
			return Token{Type: TokenBinaryOp, Value: "!=", Pos: startPos}
		}
		return Token{Type: TokenInvalid, Value: "unexpected '!'", Pos: startPos}
	case charAsterisk:
		return Token{Type: TokenBinaryOp, Value: "*", Pos: startPos}
	case charSlash:
		return Token{Type: TokenBinaryOp, Value: "/", Pos: startPos}
	case charCaret:
		return Token{Type: TokenBinaryOp, Value: "^", Pos: startPos}
	case charAmpersand:
		return Token{Type: TokenBinaryOp, Value: "&", Pos: startPos}
	}

	return Token{Type: TokenInvalid, Value: "unknown operator", Pos: startPos}
}

// isUnaryContext checks if the current context allows for unary operators
func (l *Lexer) isUnaryContext() bool {
	switch l.state {
	case StateStart, StateAfterEquals, StateAfterOperator, StateAfterLeftParen, StateAfterComma:
		return true
	default:
		return false
	}
}
