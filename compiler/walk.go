package compiler

// Inspect traverses the tree rooted at n in depth-first order, calling f for
// each node. If f returns false the children of that node are skipped.
// It follows the convention of go/ast.Inspect, without the trailing nil
// call.
func Inspect(n Node, f func(Node) bool) {
	if n == nil || !f(n) {
		return
	}
	each := func(es []Expr) {
		for _, e := range es {
			Inspect(e, f)
		}
	}
	switch n := n.(type) {
	case *Program:
		for _, s := range n.Stmts {
			Inspect(s, f)
		}
	case *Block:
		for _, s := range n.Stmts {
			Inspect(s, f)
		}
	case *LetStmt:
		Inspect(n.Value, f)
	case *ExprStmt:
		Inspect(n.X, f)
	case *ListLit:
		each(n.Elems)
	case *TupleLit:
		each(n.Elems)
	case *Unary:
		Inspect(n.X, f)
	case *Binary:
		Inspect(n.L, f)
		Inspect(n.R, f)
	case *Logical:
		Inspect(n.L, f)
		Inspect(n.R, f)
	case *Assign:
		Inspect(n.Target, f)
		Inspect(n.Value, f)
	case *Call:
		Inspect(n.Callee, f)
		each(n.Args)
	case *Index:
		Inspect(n.X, f)
		Inspect(n.Index, f)
	case *FuncLit:
		Inspect(n.Body, f)
	case *If:
		Inspect(n.Cond, f)
		Inspect(n.Then, f)
		if n.Else != nil {
			Inspect(n.Else, f)
		}
	case *While:
		Inspect(n.Cond, f)
		Inspect(n.Body, f)
	case *Loop:
		Inspect(n.Body, f)
	case *Break:
		if n.Value != nil {
			Inspect(n.Value, f)
		}
	case *Return:
		if n.Value != nil {
			Inspect(n.Value, f)
		}
	}
}
