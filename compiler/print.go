package compiler

import (
	"strconv"
	"strings"
)

// Sexpr renders a node as a parenthesized prefix expression, e.g.
// `(+ 1 (* 2 3))`. It is used by `kurt -ast` and in tests.
func Sexpr(n Node) string {
	var sb strings.Builder
	writeSexpr(&sb, n)
	return sb.String()
}

func writeSexpr(sb *strings.Builder, n Node) {
	list := func(head string, parts ...Node) {
		sb.WriteByte('(')
		sb.WriteString(head)
		for _, p := range parts {
			sb.WriteByte(' ')
			writeSexpr(sb, p)
		}
		sb.WriteByte(')')
	}

	switch n := n.(type) {
	case nil:
		sb.WriteString("_")
	case *NilLit:
		sb.WriteString("nil")
	case *BoolLit:
		sb.WriteString(strconv.FormatBool(n.Value))
	case *NumberLit:
		sb.WriteString(strconv.FormatFloat(n.Value, 'g', -1, 64))
	case *StringLit:
		sb.WriteString(strconv.Quote(n.Value))
	case *SymbolLit:
		sb.WriteString(":" + n.Name)
	case *Ident:
		sb.WriteString(n.Name)
	case *BadExpr:
		sb.WriteString("<bad>")
	case *ListLit:
		list("list", exprNodes(n.Elems)...)
	case *TupleLit:
		head := "tuple"
		if n.Tag != "" {
			head += " :" + n.Tag
		}
		list(head, exprNodes(n.Elems)...)
	case *Unary:
		list(n.Op.String(), n.X)
	case *Binary:
		list(n.Op.String(), n.L, n.R)
	case *Logical:
		list(n.Op.String(), n.L, n.R)
	case *Assign:
		list(n.Op.String(), n.Target, n.Value)
	case *Call:
		list("call", append([]Node{n.Callee}, exprNodes(n.Args)...)...)
	case *Index:
		list("index", n.X, n.Index)
	case *FuncLit:
		head := "fn"
		if n.Name != "" {
			head += " " + n.Name
		}
		head += " (" + strings.Join(n.Params, " ") + ")"
		list(head, n.Body)
	case *If:
		if n.Else == nil {
			list("if", n.Cond, n.Then)
		} else {
			list("if", n.Cond, n.Then, n.Else)
		}
	case *While:
		list("while", n.Cond, n.Body)
	case *Loop:
		list("loop", n.Body)
	case *Block:
		list("block", stmtNodes(n.Stmts)...)
	case *Break:
		if n.Value == nil {
			sb.WriteString("(break)")
		} else {
			list("break", n.Value)
		}
	case *Continue:
		sb.WriteString("(continue)")
	case *Return:
		if n.Value == nil {
			sb.WriteString("(return)")
		} else {
			list("return", n.Value)
		}
	case *LetStmt:
		list("let "+n.Name, n.Value)
	case *ExprStmt:
		writeSexpr(sb, n.X)
		if n.Semi {
			sb.WriteByte(';')
		}
	case *Program:
		for i, s := range n.Stmts {
			if i > 0 {
				sb.WriteByte(' ')
			}
			writeSexpr(sb, s)
		}
	default:
		sb.WriteString("?")
	}
}

func exprNodes(es []Expr) []Node {
	out := make([]Node, len(es))
	for i, e := range es {
		out[i] = e
	}
	return out
}

func stmtNodes(ss []Stmt) []Node {
	out := make([]Node, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
