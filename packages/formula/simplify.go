package formula

// Simplify rewrites a formula with a fixed set of rules until none applies.
// redundant parentheses disappear because the result is printed with only
// the parentheses the grammar needs. text that does not parse is returned
// unchanged.
//
// rules that drop a TRUE/FALSE operand only fire when the remaining operand
// already yields a boolean, so the value of the formula never changes.
func Simplify(text string) string {
	node, err := Parse(text)
	if err != nil {
		return text
	}
	return Format(SimplifyTree(node))
}

// SimplifyTree applies the rewrite rules bottom up until a fixpoint. the
// input tree is not modified.
func SimplifyTree(node Node) Node {
	for {
		next, changed := rewrite(node)
		if !changed {
			return next
		}
		node = next
	}
}

func rewrite(node Node) (Node, bool) {
	changed := false
	switch n := node.(type) {
	case *BinaryNode:
		left, lc := rewrite(n.Left)
		right, rc := rewrite(n.Right)
		if lc || rc {
			node = &BinaryNode{Op: n.Op, Left: left, Right: right, Pos: n.Pos}
			changed = true
		}
	case *UnaryNode:
		operand, oc := rewrite(n.Operand)
		if oc {
			node = &UnaryNode{Op: n.Op, Operand: operand, Pos: n.Pos}
			changed = true
		}
	case *CallNode:
		args := make([]Node, len(n.Args))
		for i, arg := range n.Args {
			var ac bool
			args[i], ac = rewrite(arg)
			changed = changed || ac
		}
		call := n
		if changed {
			call = &CallNode{Name: n.Name, Func: n.Func, Args: args, Pos: n.Pos}
		}
		if out, ok := applyRules(call); ok {
			return out, true
		}
		return call, changed
	}
	return node, changed
}

func applyRules(call *CallNode) (Node, bool) {
	args := call.Args
	switch call.Func {
	case FuncAND:
		// AND(x,TRUE) and AND(TRUE,x)
		if len(args) == 2 {
			if isBoolConst(args[1], true) && yieldsBool(args[0]) {
				return args[0], true
			}
			if isBoolConst(args[0], true) && yieldsBool(args[1]) {
				return args[1], true
			}
		}
	case FuncOR:
		// OR(x,FALSE) and OR(FALSE,x)
		if len(args) == 2 {
			if isBoolConst(args[1], false) && yieldsBool(args[0]) {
				return args[0], true
			}
			if isBoolConst(args[0], false) && yieldsBool(args[1]) {
				return args[1], true
			}
		}
	case FuncIF:
		if len(args) == 3 {
			if isBoolConst(args[1], true) && isBoolConst(args[2], false) && yieldsBool(args[0]) {
				return args[0], true
			}
			// NOT coerces its operand exactly like the IF condition
			if isBoolConst(args[1], false) && isBoolConst(args[2], true) {
				return &CallNode{Name: "NOT", Func: FuncNOT, Args: []Node{args[0]}, Pos: call.Pos}, true
			}
		}
	case FuncNOT:
		if len(args) == 1 {
			if inner, ok := args[0].(*CallNode); ok && inner.Func == FuncNOT && len(inner.Args) == 1 && yieldsBool(inner.Args[0]) {
				return inner.Args[0], true
			}
		}
	}
	return nil, false
}

// isBoolConst matches TRUE, FALSE, TRUE() and FALSE().
func isBoolConst(node Node, want bool) bool {
	switch n := node.(type) {
	case *BooleanNode:
		return n.Value == want
	case *CallNode:
		if len(n.Args) != 0 {
			return false
		}
		return (want && n.Func == FuncTRUE) || (!want && n.Func == FuncFALSE)
	}
	return false
}

// yieldsBool reports whether node always evaluates to a boolean or an
// error, never to a number or text.
func yieldsBool(node Node) bool {
	switch n := node.(type) {
	case *BooleanNode:
		return true
	case *BinaryNode:
		return n.Op.IsComparison()
	case *CallNode:
		switch n.Func {
		case FuncAND, FuncOR, FuncNOT, FuncXOR, FuncTRUE, FuncFALSE,
			FuncISBLANK, FuncISNUMBER, FuncISTEXT, FuncISERROR, FuncISNA, FuncEXACT:
			return true
		case FuncIF:
			switch len(n.Args) {
			case 2:
				return yieldsBool(n.Args[1])
			case 3:
				return yieldsBool(n.Args[1]) && yieldsBool(n.Args[2])
			}
		}
	}
	return false
}
