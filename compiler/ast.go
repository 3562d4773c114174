package compiler

import "github.com/chazu/kurt/pkg/source"

// ---------------------------------------------------------------------------
// AST: Abstract Syntax Tree for Kurt
// ---------------------------------------------------------------------------

// Node is the interface implemented by all AST nodes.
type Node interface {
	Span() source.Span
	node() // marker method
}

// ---------------------------------------------------------------------------
// Expression nodes
// ---------------------------------------------------------------------------

// Expr is the interface for expression nodes. Everything in Kurt that is not
// a let binding is an expression.
type Expr interface {
	Node
	expr() // marker method
}

// NilLit is `nil` or `()`.
type NilLit struct {
	SpanVal source.Span
}

func (n *NilLit) Span() source.Span { return n.SpanVal }
func (n *NilLit) node()             {}
func (n *NilLit) expr()             {}

// BoolLit is `true` or `false`.
type BoolLit struct {
	SpanVal source.Span
	Value   bool
}

func (n *BoolLit) Span() source.Span { return n.SpanVal }
func (n *BoolLit) node()             {}
func (n *BoolLit) expr()             {}

// NumberLit represents a number literal.
type NumberLit struct {
	SpanVal source.Span
	Value   float64
}

func (n *NumberLit) Span() source.Span { return n.SpanVal }
func (n *NumberLit) node()             {}
func (n *NumberLit) expr()             {}

// StringLit represents a string literal with its escapes decoded.
type StringLit struct {
	SpanVal source.Span
	Value   string
}

func (n *StringLit) Span() source.Span { return n.SpanVal }
func (n *StringLit) node()             {}
func (n *StringLit) expr()             {}

// SymbolLit represents a symbol literal (:name).
type SymbolLit struct {
	SpanVal source.Span
	Name    string
}

func (n *SymbolLit) Span() source.Span { return n.SpanVal }
func (n *SymbolLit) node()             {}
func (n *SymbolLit) expr()             {}

// ListLit represents a list literal [a, b, c].
type ListLit struct {
	SpanVal source.Span
	Elems   []Expr
}

func (n *ListLit) Span() source.Span { return n.SpanVal }
func (n *ListLit) node()             {}
func (n *ListLit) expr()             {}

// TupleLit represents a tuple literal (a, b), or a tagged tuple :ok(a, b)
// when Tag is set.
type TupleLit struct {
	SpanVal source.Span
	Tag     string
	Elems   []Expr
}

func (n *TupleLit) Span() source.Span { return n.SpanVal }
func (n *TupleLit) node()             {}
func (n *TupleLit) expr()             {}

// Ident represents a variable reference.
type Ident struct {
	SpanVal source.Span
	Name    string
}

func (n *Ident) Span() source.Span { return n.SpanVal }
func (n *Ident) node()             {}
func (n *Ident) expr()             {}

// Unary represents a prefix operator application (-x, !x, ~x).
type Unary struct {
	SpanVal source.Span
	Op      TokenType
	X       Expr
}

func (n *Unary) Span() source.Span { return n.SpanVal }
func (n *Unary) node()             {}
func (n *Unary) expr()             {}

// Binary represents an arithmetic, bitwise or comparison operator.
type Binary struct {
	SpanVal source.Span
	Op      TokenType
	OpSpan  source.Span
	L, R    Expr
}

func (n *Binary) Span() source.Span { return n.SpanVal }
func (n *Binary) node()             {}
func (n *Binary) expr()             {}

// Logical represents the short-circuit operators `and`, `or` and `??`.
type Logical struct {
	SpanVal source.Span
	Op      TokenType
	L, R    Expr
}

func (n *Logical) Span() source.Span { return n.SpanVal }
func (n *Logical) node()             {}
func (n *Logical) expr()             {}

// Assign represents `target = value` or a compound assignment such as
// `target += value`. Op is TokenAssign for plain assignment. The target is
// any expression; the compiler rejects targets that are not an Ident or an
// Index.
type Assign struct {
	SpanVal source.Span
	Op      TokenType
	Target  Expr
	Value   Expr
}

func (n *Assign) Span() source.Span { return n.SpanVal }
func (n *Assign) node()             {}
func (n *Assign) expr()             {}

// Call represents a function call f(a, b).
type Call struct {
	SpanVal source.Span
	Callee  Expr
	Args    []Expr
}

func (n *Call) Span() source.Span { return n.SpanVal }
func (n *Call) node()             {}
func (n *Call) expr()             {}

// Index represents x[i].
type Index struct {
	SpanVal source.Span
	X       Expr
	Index   Expr
}

func (n *Index) Span() source.Span { return n.SpanVal }
func (n *Index) node()             {}
func (n *Index) expr()             {}

// FuncLit represents a function literal (a, b) => body. Name is set when the
// literal is bound directly by a let.
type FuncLit struct {
	SpanVal    source.Span
	Name       string
	Params     []string
	ParamSpans []source.Span
	Body       Expr
}

func (n *FuncLit) Span() source.Span { return n.SpanVal }
func (n *FuncLit) node()             {}
func (n *FuncLit) expr()             {}

// If represents a conditional. Else is nil, a *Block or an *If.
type If struct {
	SpanVal source.Span
	Cond    Expr
	Then    *Block
	Else    Expr
}

func (n *If) Span() source.Span { return n.SpanVal }
func (n *If) node()             {}
func (n *If) expr()             {}

// While represents a while loop. Its value is nil unless left with `break v`.
type While struct {
	SpanVal source.Span
	Cond    Expr
	Body    *Block
}

func (n *While) Span() source.Span { return n.SpanVal }
func (n *While) node()             {}
func (n *While) expr()             {}

// Loop represents an unconditional loop, left only by break or return.
type Loop struct {
	SpanVal source.Span
	Body    *Block
}

func (n *Loop) Span() source.Span { return n.SpanVal }
func (n *Loop) node()             {}
func (n *Loop) expr()             {}

// Block represents a braced statement sequence with its own scope.
type Block struct {
	SpanVal source.Span
	Stmts   []Stmt
}

func (n *Block) Span() source.Span { return n.SpanVal }
func (n *Block) node()             {}
func (n *Block) expr()             {}

// Result returns the expression whose value the block yields, or nil when
// the block yields nil (empty, trailing `;`, or ending in a let).
func (n *Block) Result() Expr {
	return resultOf(n.Stmts)
}

// Break represents `break` with an optional value.
type Break struct {
	SpanVal source.Span
	Value   Expr
}

func (n *Break) Span() source.Span { return n.SpanVal }
func (n *Break) node()             {}
func (n *Break) expr()             {}

// Continue represents `continue`.
type Continue struct {
	SpanVal source.Span
}

func (n *Continue) Span() source.Span { return n.SpanVal }
func (n *Continue) node()             {}
func (n *Continue) expr()             {}

// Return represents `return` with an optional value.
type Return struct {
	SpanVal source.Span
	Value   Expr
}

func (n *Return) Span() source.Span { return n.SpanVal }
func (n *Return) node()             {}
func (n *Return) expr()             {}

// BadExpr stands in for an expression that failed to parse.
type BadExpr struct {
	SpanVal source.Span
}

func (n *BadExpr) Span() source.Span { return n.SpanVal }
func (n *BadExpr) node()             {}
func (n *BadExpr) expr()             {}

// ---------------------------------------------------------------------------
// Statement nodes
// ---------------------------------------------------------------------------

// Stmt is the interface for statement nodes.
type Stmt interface {
	Node
	stmt() // marker method
}

// LetStmt represents `let name = value` (or `var`).
type LetStmt struct {
	SpanVal  source.Span
	Name     string
	NameSpan source.Span
	Value    Expr
}

func (n *LetStmt) Span() source.Span { return n.SpanVal }
func (n *LetStmt) node()             {}
func (n *LetStmt) stmt()             {}

// ExprStmt wraps an expression used as a statement. Semi records whether it
// was terminated by `;`.
type ExprStmt struct {
	X    Expr
	Semi bool
}

func (n *ExprStmt) Span() source.Span { return n.X.Span() }
func (n *ExprStmt) node()             {}
func (n *ExprStmt) stmt()             {}

// ---------------------------------------------------------------------------
// Program
// ---------------------------------------------------------------------------

// Program is the root of a parsed source file or REPL fragment.
type Program struct {
	SpanVal source.Span
	Stmts   []Stmt
}

func (n *Program) Span() source.Span { return n.SpanVal }
func (n *Program) node()             {}

// Result returns the expression whose value the program yields, or nil.
func (n *Program) Result() Expr {
	return resultOf(n.Stmts)
}

func resultOf(stmts []Stmt) Expr {
	if len(stmts) == 0 {
		return nil
	}
	if es, ok := stmts[len(stmts)-1].(*ExprStmt); ok && !es.Semi {
		return es.X
	}
	return nil
}
