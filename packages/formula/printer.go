package formula

import "strings"

// binding strength of each grammar level, loosest first
const (
	precComparison = iota + 1
	precConcat
	precAdditive
	precMultiplicative
	precPower
	precUnary
	precPostfix
	precPrimary
)

func precedence(node Node) int {
	switch n := node.(type) {
	case *BinaryNode:
		switch {
		case n.Op.IsComparison():
			return precComparison
		case n.Op == BinOpConcat:
			return precConcat
		case n.Op == BinOpAdd || n.Op == BinOpSubtract:
			return precAdditive
		case n.Op == BinOpMultiply || n.Op == BinOpDivide:
			return precMultiplicative
		default:
			return precPower
		}
	case *UnaryNode:
		if n.Op == UnaryOpPercent {
			return precPostfix
		}
		return precUnary
	}
	return precPrimary
}

// Format renders a tree as formula text with the '=' marker and only the
// parentheses the grammar needs. Parse(Format(n)) yields a tree with the
// same String as n.
func Format(node Node) string {
	var sb strings.Builder
	sb.WriteByte('=')
	format(&sb, node)
	return sb.String()
}

func format(sb *strings.Builder, node Node) {
	switch n := node.(type) {
	case *BinaryNode:
		prec := precedence(n)
		// every binary operator groups to the left
		leftNeeds := precedence(n.Left) < prec
		rightNeeds := precedence(n.Right) <= prec
		formatChild(sb, n.Left, leftNeeds)
		sb.WriteString(n.Op.String())
		formatChild(sb, n.Right, rightNeeds)
	case *UnaryNode:
		switch n.Op {
		case UnaryOpPercent:
			formatChild(sb, n.Operand, precedence(n.Operand) < precPostfix)
			sb.WriteByte('%')
		default:
			if n.Op == UnaryOpMinus {
				sb.WriteByte('-')
			} else {
				sb.WriteByte('+')
			}
			formatChild(sb, n.Operand, precedence(n.Operand) < precUnary)
		}
	case *CallNode:
		sb.WriteString(n.Name)
		sb.WriteByte('(')
		for i, arg := range n.Args {
			if i > 0 {
				sb.WriteByte(',')
			}
			format(sb, arg)
		}
		sb.WriteByte(')')
	default:
		sb.WriteString(node.String())
	}
}

func formatChild(sb *strings.Builder, node Node, parens bool) {
	if parens {
		sb.WriteByte('(')
	}
	format(sb, node)
	if parens {
		sb.WriteByte(')')
	}
}
