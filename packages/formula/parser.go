package formula

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/vogtb/go-formula-engine/packages/reference"
)

type NodePosition struct {
	Start int
	End   int
}

// Node is one element of the token tree. trees are built once by Parse and
// shared read-only by everything downstream: dependency extraction, the
// simplifier and both evaluation backends walk the same structure.
type Node interface {
	Position() NodePosition
	// String renders the node fully parenthesized. two formulas with the same
	// String have the same meaning.
	String() string
}

// StringNode represents a string literal
type StringNode struct {
	Value string
	Pos   NodePosition
}

func (n *StringNode) Position() NodePosition { return n.Pos }

func (n *StringNode) String() string {
	// escape quotes in string
	escaped := strings.ReplaceAll(n.Value, `"`, `""`)
	return `"` + escaped + `"`
}

// NumberNode represents a numeric literal
type NumberNode struct {
	Value float64
	Pos   NodePosition
}

func (n *NumberNode) Position() NodePosition { return n.Pos }

func (n *NumberNode) String() string {
	return strconv.FormatFloat(n.Value, 'g', -1, 64)
}

// BooleanNode represents a boolean literal
type BooleanNode struct {
	Value bool
	Pos   NodePosition
}

func (n *BooleanNode) Position() NodePosition { return n.Pos }

func (n *BooleanNode) String() string {
	if n.Value {
		return "TRUE"
	}
	return "FALSE"
}

// FieldStyle records how a field name was written.
type FieldStyle int

const (
	FieldBare FieldStyle = iota
	FieldBracket
	FieldBacktick
)

// FieldNode references a table column by name.
type FieldNode struct {
	Name  string
	Style FieldStyle
	Pos   NodePosition
}

func (n *FieldNode) Position() NodePosition { return n.Pos }

func (n *FieldNode) String() string {
	switch n.Style {
	case FieldBracket:
		return "[" + n.Name + "]"
	case FieldBacktick:
		return "`" + n.Name + "`"
	}
	return n.Name
}

// AddressNode references a single cell, optionally on a named sheet.
type AddressNode struct {
	Sheet   string
	Address reference.Address
	Pos     NodePosition
}

func (n *AddressNode) Position() NodePosition { return n.Pos }

func (n *AddressNode) String() string {
	return sheetPrefix(n.Sheet) + n.Address.String()
}

// RangeNode references a rectangular block of cells.
type RangeNode struct {
	Sheet string
	Range reference.Range
	Pos   NodePosition
}

func (n *RangeNode) Position() NodePosition { return n.Pos }

func (n *RangeNode) String() string {
	return sheetPrefix(n.Sheet) + n.Range.String()
}

// BinaryNode represents a binary operation
type BinaryNode struct {
	Op    BinaryOp
	Left  Node
	Right Node
	Pos   NodePosition
}

func (n *BinaryNode) Position() NodePosition { return n.Pos }

func (n *BinaryNode) String() string {
	return "(" + n.Left.String() + n.Op.String() + n.Right.String() + ")"
}

// UnaryNode represents a unary operation
type UnaryNode struct {
	Op      UnaryOp
	Operand Node
	Pos     NodePosition
}

func (n *UnaryNode) Position() NodePosition { return n.Pos }

func (n *UnaryNode) String() string {
	switch n.Op {
	case UnaryOpMinus:
		return "(-" + n.Operand.String() + ")"
	case UnaryOpPercent:
		return "(" + n.Operand.String() + "%)"
	}
	return "(+" + n.Operand.String() + ")"
}

// CallNode represents a function call. Name keeps the upper-cased spelling
// from the formula so passthrough calls can still be dispatched by name.
type CallNode struct {
	Name string
	Func Function
	Args []Node
	Pos  NodePosition
}

func (n *CallNode) Position() NodePosition { return n.Pos }

func (n *CallNode) String() string {
	args := make([]string, len(n.Args))
	for i, arg := range n.Args {
		args[i] = arg.String()
	}
	return n.Name + "(" + strings.Join(args, ",") + ")"
}

func (op BinaryOp) String() string {
	switch op {
	case BinOpAdd:
		return "+"
	case BinOpSubtract:
		return "-"
	case BinOpMultiply:
		return "*"
	case BinOpDivide:
		return "/"
	case BinOpPower:
		return "^"
	case BinOpConcat:
		return "&"
	case BinOpEqual:
		return "="
	case BinOpNotEqual:
		return "<>"
	case BinOpLess:
		return "<"
	case BinOpLessEqual:
		return "<="
	case BinOpGreater:
		return ">"
	case BinOpGreaterEqual:
		return ">="
	}
	return "?"
}

// IsComparison reports whether op yields a boolean.
func (op BinaryOp) IsComparison() bool {
	return op >= BinOpEqual && op <= BinOpGreaterEqual
}

// IsArithmetic reports whether op is one of + - * / ^.
func (op BinaryOp) IsArithmetic() bool {
	return op <= BinOpPower
}

func sheetPrefix(sheet string) string {
	if sheet == "" {
		return ""
	}
	for i, ch := range sheet {
		plain := ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (i > 0 && ch >= '0' && ch <= '9')
		if !plain {
			return "'" + strings.ReplaceAll(sheet, "'", "''") + "'!"
		}
	}
	return sheet + "!"
}

// Parser parses tokens into a token tree
type Parser struct {
	formula string
	runes   []rune
	tokens  []Token
	pos     int
}

// NewParser creates a new parser over tokens produced by the Lexer. formula
// is only used in error messages.
func NewParser(formula string, tokens []Token) *Parser {
	return &Parser{formula: formula, runes: []rune(formula), tokens: tokens}
}

// Parse lexes and parses formula text. a missing '=' marker is added first.
// every failure is a *SyntaxError.
func Parse(text string) (Node, error) {
	normalized := Normalize(text)
	if normalized == "" {
		return nil, &SyntaxError{Formula: text, Reason: "empty formula"}
	}
	lexer := NewLexer(normalized)
	tokens, errs := lexer.Tokenize()
	if len(errs) > 0 {
		return nil, &SyntaxError{Formula: normalized, Reason: errs[0], Pos: lexer.ErrorPos()}
	}
	return NewParser(normalized, tokens).Parse()
}

// Normalize trims surrounding whitespace and prepends the '=' marker when it
// is absent. blank input stays blank.
func Normalize(text string) string {
	text = strings.TrimSpace(text)
	if text == "" || strings.HasPrefix(text, "=") {
		return text
	}
	return "=" + text
}

func (p *Parser) errorf(pos int, format string, args ...any) error {
	return &SyntaxError{Formula: p.formula, Reason: fmt.Sprintf(format, args...), Pos: pos}
}

func (p *Parser) current() Token {
	if p.pos >= len(p.tokens) {
		return Token{Type: TokenEOF, Pos: len(p.formula)}
	}
	return p.tokens[p.pos]
}

// Parse parses the tokens into a token tree
func (p *Parser) Parse() (Node, error) {
	if len(p.tokens) == 0 {
		return nil, p.errorf(0, "no tokens to parse")
	}

	// expect and skip the equals prefix
	if p.tokens[0].Type != TokenEquals {
		return nil, p.errorf(0, "formula must start with '='")
	}
	p.pos = 1

	node, err := p.parseComparison()
	if err != nil {
		return nil, err
	}

	// ensure we've consumed all tokens except EOF
	if tok := p.current(); tok.Type != TokenEOF {
		return nil, p.errorf(tok.Pos, "unexpected token after expression: %s", tokenText(tok))
	}
	return node, nil
}

func (p *Parser) binary(op BinaryOp, left, right Node) Node {
	return &BinaryNode{
		Op:    op,
		Left:  left,
		Right: right,
		Pos:   NodePosition{Start: left.Position().Start, End: right.Position().End},
	}
}

// parseComparison handles comparison operators (lowest precedence)
func (p *Parser) parseComparison() (Node, error) {
	left, err := p.parseConcatenation()
	if err != nil {
		return nil, err
	}

	for {
		tok := p.current()
		if tok.Type != TokenBinaryOp {
			return left, nil
		}

		var op BinaryOp
		switch tok.Value {
		case "=":
			op = BinOpEqual
		case "<>", "!=":
			op = BinOpNotEqual
		case "<":
			op = BinOpLess
		case "<=":
			op = BinOpLessEqual
		case ">":
			op = BinOpGreater
		case ">=":
			op = BinOpGreaterEqual
		default:
			return left, nil
		}

		p.pos++
		right, err := p.parseConcatenation()
		if err != nil {
			return nil, err
		}
		left = p.binary(op, left, right)
	}
}

// parseConcatenation handles string concatenation operator
func (p *Parser) parseConcatenation() (Node, error) {
	left, err := p.parseAddition()
	if err != nil {
		return nil, err
	}

	for {
		tok := p.current()
		if tok.Type != TokenBinaryOp || tok.Value != "&" {
			return left, nil
		}

		p.pos++
		right, err := p.parseAddition()
		if err != nil {
			return nil, err
		}
		left = p.binary(BinOpConcat, left, right)
	}
}

// parseAddition handles addition and subtraction
func (p *Parser) parseAddition() (Node, error) {
	left, err := p.parseMultiplication()
	if err != nil {
		return nil, err
	}

	for {
		tok := p.current()
		if tok.Type != TokenBinaryOp {
			return left, nil
		}

		var op BinaryOp
		switch tok.Value {
		case "+":
			op = BinOpAdd
		case "-":
			op = BinOpSubtract
		default:
			return left, nil
		}

		p.pos++
		right, err := p.parseMultiplication()
		if err != nil {
			return nil, err
		}
		left = p.binary(op, left, right)
	}
}

// parseMultiplication handles multiplication and division
func (p *Parser) parseMultiplication() (Node, error) {
	left, err := p.parsePower()
	if err != nil {
		return nil, err
	}

	for {
		tok := p.current()
		if tok.Type != TokenBinaryOp {
			return left, nil
		}

		var op BinaryOp
		switch tok.Value {
		case "*":
			op = BinOpMultiply
		case "/":
			op = BinOpDivide
		default:
			return left, nil
		}

		p.pos++
		right, err := p.parsePower()
		if err != nil {
			return nil, err
		}
		left = p.binary(op, left, right)
	}
}

// parsePower handles exponentiation, which groups to the left
func (p *Parser) parsePower() (Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}

	for {
		tok := p.current()
		if tok.Type != TokenBinaryOp || tok.Value != "^" {
			return left, nil
		}

		p.pos++
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = p.binary(BinOpPower, left, right)
	}
}

// parseUnary handles unary operators
func (p *Parser) parseUnary() (Node, error) {
	tok := p.current()
	if tok.Type != TokenUnaryPrefixOp {
		return p.parsePostfix()
	}

	op := UnaryOpPlus
	if tok.Value == "-" {
		op = UnaryOpMinus
	}

	p.pos++
	operand, err := p.parseUnary() // recurse for chained unary operators
	if err != nil {
		return nil, err
	}

	return &UnaryNode{
		Op:      op,
		Operand: operand,
		Pos:     NodePosition{Start: tok.Pos, End: operand.Position().End},
	}, nil
}

// parsePostfix handles postfix operators (percent)
func (p *Parser) parsePostfix() (Node, error) {
	node, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}

	// 50%% is legal and applies twice
	for {
		tok := p.current()
		if tok.Type != TokenUnaryPostfixOp {
			return node, nil
		}
		p.pos++
		node = &UnaryNode{
			Op:      UnaryOpPercent,
			Operand: node,
			Pos:     NodePosition{Start: node.Position().Start, End: tok.End},
		}
	}
}

// parsePrimary handles primary expressions (literals, references,
// functions, parentheses)
func (p *Parser) parsePrimary() (Node, error) {
	tok := p.current()
	span := NodePosition{Start: tok.Pos, End: tok.End}

	switch tok.Type {
	case TokenNumber:
		p.pos++
		val, err := strconv.ParseFloat(tok.Value, 64)
		if err != nil {
			return nil, p.errorf(tok.Pos, "invalid number: %s", tok.Value)
		}
		return &NumberNode{Value: val, Pos: span}, nil

	case TokenString:
		p.pos++
		return &StringNode{Value: tok.Value, Pos: span}, nil

	case TokenBoolean:
		p.pos++
		return &BooleanNode{Value: tok.Value == "TRUE", Pos: span}, nil

	case TokenCell:
		p.pos++
		return p.parseCellReference(tok)

	case TokenRange:
		p.pos++
		return p.parseRange(tok)

	case TokenIdentifier:
		p.pos++
		return &FieldNode{Name: tok.Value, Style: FieldBare, Pos: span}, nil

	case TokenField:
		p.pos++
		style := FieldBracket
		if tok.Pos < len(p.runes) && p.runes[tok.Pos] == charBacktick {
			style = FieldBacktick
		}
		return &FieldNode{Name: tok.Value, Style: style, Pos: span}, nil

	case TokenFunction:
		return p.parseFunctionCall()

	case TokenLeftParen:
		p.pos++
		node, err := p.parseComparison()
		if err != nil {
			return nil, err
		}

		if p.current().Type != TokenRightParen {
			return nil, p.errorf(p.current().Pos, "expected closing parenthesis")
		}
		p.pos++
		return node, nil

	case TokenEOF:
		return nil, p.errorf(tok.Pos, "unexpected end of expression")

	default:
		return nil, p.errorf(tok.Pos, "unexpected token: %s", tokenText(tok))
	}
}

// parseFunctionCall parses a function call
func (p *Parser) parseFunctionCall() (Node, error) {
	funcTok := p.current()
	p.pos++

	// expect opening parenthesis
	if p.current().Type != TokenLeftParen {
		return nil, p.errorf(funcTok.End, "expected '(' after function name")
	}
	p.pos++

	call := &CallNode{
		Name: funcTok.Value,
		Func: LookupFunction(funcTok.Value),
		Args: []Node{},
	}

	// check for empty argument list
	if tok := p.current(); tok.Type == TokenRightParen {
		p.pos++
		call.Pos = NodePosition{Start: funcTok.Pos, End: tok.End}
		return call, nil
	}

	for {
		arg, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		call.Args = append(call.Args, arg)

		tok := p.current()
		switch tok.Type {
		case TokenRightParen:
			p.pos++
			call.Pos = NodePosition{Start: funcTok.Pos, End: tok.End}
			return call, nil
		case TokenComma:
			p.pos++
		case TokenEOF:
			return nil, p.errorf(tok.Pos, "unexpected end in function arguments")
		default:
			return nil, p.errorf(tok.Pos, "expected ',' or ')' in function arguments")
		}
	}
}

// splitSheet separates "Sheet!A1" and "'My Sheet'!A1" into sheet name and
// reference text.
func splitSheet(value string) (string, string) {
	idx := strings.LastIndex(value, "!")
	if idx < 0 {
		return "", value
	}
	sheet := value[:idx]
	if len(sheet) >= 2 && sheet[0] == '\'' && sheet[len(sheet)-1] == '\'' {
		sheet = strings.ReplaceAll(sheet[1:len(sheet)-1], "''", "'")
	}
	return sheet, value[idx+1:]
}

func (p *Parser) parseCellReference(tok Token) (Node, error) {
	sheet, text := splitSheet(tok.Value)
	addr, err := reference.ParseAddress(text)
	if err != nil {
		return nil, p.errorf(tok.Pos, "%v", err)
	}
	return &AddressNode{Sheet: sheet, Address: addr, Pos: NodePosition{Start: tok.Pos, End: tok.End}}, nil
}

func (p *Parser) parseRange(tok Token) (Node, error) {
	sheet, text := splitSheet(tok.Value)
	rng, err := reference.ParseRange(text)
	if err != nil {
		return nil, p.errorf(tok.Pos, "%v", err)
	}
	return &RangeNode{Sheet: sheet, Range: rng, Pos: NodePosition{Start: tok.Pos, End: tok.End}}, nil
}

// Walk visits node and its descendants depth first, parents before
// children. returning false from fn skips the children of that node.
func Walk(node Node, fn func(Node) bool) {
	if node == nil || !fn(node) {
		return
	}
	switch n := node.(type) {
	case *BinaryNode:
		Walk(n.Left, fn)
		Walk(n.Right, fn)
	case *UnaryNode:
		Walk(n.Operand, fn)
	case *CallNode:
		for _, arg := range n.Args {
			Walk(arg, fn)
		}
	}
}
