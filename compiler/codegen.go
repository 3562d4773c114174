package compiler

import (
	"errors"
	"fmt"

	"github.com/chazu/kurt/pkg/bytecode"
	"github.com/chazu/kurt/pkg/source"
)

// ---------------------------------------------------------------------------
// Codegen: single-pass compilation of the AST to bytecode
// ---------------------------------------------------------------------------

// MainName names the prototype of a compiled program's top level.
const MainName = "<main>"

// Compiler compiles a parsed Program into bytecode.
type Compiler struct {
	fs    *funcState
	diags Diagnostics
}

// Compile lexes, parses and compiles src. The program is nil whenever any
// diagnostic was produced.
func Compile(src string) (*bytecode.Program, Diagnostics) {
	return CompileNamed("", src)
}

// CompileNamed is like Compile and records name (typically a file name) in
// the resulting program.
func CompileNamed(name, src string) (*bytecode.Program, Diagnostics) {
	prog, diags := ParseString(src)
	if diags.HasErrors() {
		diags.Sort()
		return nil, diags
	}
	out, diags := CompileProgram(prog)
	if out != nil {
		out.Name = name
	}
	return out, diags
}

// CompileProgram compiles an AST. It never panics on well-formed trees
// produced by the parser; limit violations become CompileErrors.
func CompileProgram(prog *Program) (*bytecode.Program, Diagnostics) {
	c := &Compiler{}
	main := c.compileMain(prog)
	if c.diags.HasErrors() {
		c.diags.Sort()
		return nil, c.diags
	}
	return &bytecode.Program{Main: main}, nil
}

func (c *Compiler) errorf(span source.Span, format string, args ...any) {
	c.diags = append(c.diags, Diagnostic{
		Kind:    CompileError,
		Message: fmt.Sprintf(format, args...),
		Span:    span,
	})
}

// ---------------------------------------------------------------------------
// Emission helpers. Each one applies the instruction's stack effect to the
// static depth.
// ---------------------------------------------------------------------------

func (c *Compiler) emit(op bytecode.Opcode, span source.Span) {
	c.fs.proto.Emit(op, span)
	c.fs.adjust(op.StackEffect(0))
}

func (c *Compiler) emitU8(op bytecode.Opcode, operand int, span source.Span) {
	c.fs.proto.EmitU8(op, uint8(operand), span)
	c.fs.adjust(op.StackEffect(operand))
}

func (c *Compiler) emitU16(op bytecode.Opcode, operand int, span source.Span) {
	c.fs.proto.EmitU16(op, uint16(operand), span)
	c.fs.adjust(op.StackEffect(operand))
}

func (c *Compiler) emitJump(op bytecode.Opcode, span source.Span) int {
	at := c.fs.proto.EmitJump(op, span)
	c.fs.adjust(op.StackEffect(0))
	return at
}

func (c *Compiler) patchJump(at int, span source.Span) {
	if err := c.fs.proto.PatchJump(at); err != nil {
		c.jumpError(span, err)
	}
}

func (c *Compiler) emitLoop(head int, span source.Span) {
	if err := c.fs.proto.EmitLoop(head, span); err != nil {
		c.jumpError(span, err)
	}
}

func (c *Compiler) jumpError(span source.Span, err error) {
	if errors.Is(err, bytecode.ErrJumpTooFar) && !c.fs.reportedJump {
		c.fs.reportedJump = true
		c.errorf(span, "code too large: %v", err)
	}
}

// emitDrop discards n values, closing any upvalues over them.
func (c *Compiler) emitDrop(n int, span source.Span) {
	for n > 0 {
		k := min(n, 255)
		c.emitU8(bytecode.OpDrop, k, span)
		n -= k
	}
}

// emitCloseScope keeps the top value and discards n values below it.
func (c *Compiler) emitCloseScope(n int, span source.Span) {
	for n > 0 {
		k := min(n, 255)
		c.emitU8(bytecode.OpCloseScope, k, span)
		n -= k
	}
}

func (c *Compiler) constant(k bytecode.Constant, span source.Span) int {
	idx := c.fs.proto.AddConstant(k)
	if idx >= bytecode.MaxConstants {
		if !c.fs.reportedConstants {
			c.fs.reportedConstants = true
			c.errorf(span, "too many constants in one function (limit %d)", bytecode.MaxConstants)
		}
		return 0
	}
	return idx
}

func (c *Compiler) emitConst(k bytecode.Constant, span source.Span) {
	c.emitU16(bytecode.OpConst, c.constant(k, span), span)
}

func (c *Compiler) globalName(name string, span source.Span) int {
	return c.constant(bytecode.SymbolConst(name), span)
}

// ---------------------------------------------------------------------------
// Functions
// ---------------------------------------------------------------------------

func (c *Compiler) compileMain(prog *Program) *bytecode.Proto {
	c.fs = newFuncState(nil, MainName, 0, prog.Span())
	c.compileStmts(prog.Stmts, prog.Result() != nil, prog.Span())
	c.emit(bytecode.OpReturn, prog.Span())
	main := c.fs.proto
	c.fs = nil
	return main
}

func (c *Compiler) compileFuncLit(n *FuncLit) {
	if c.fs.nesting+1 > MaxFunctionNesting {
		c.errorf(n.Span(), "functions nested too deeply (limit %d)", MaxFunctionNesting)
		c.emit(bytecode.OpNil, n.Span())
		return
	}
	if len(n.Params) > bytecode.MaxArgs {
		c.errorf(n.Span(), "too many parameters (limit %d)", bytecode.MaxArgs)
		c.emit(bytecode.OpNil, n.Span())
		return
	}

	parent := c.fs
	fs := newFuncState(parent, n.Name, len(n.Params), n.Span())
	c.fs = fs
	for i, param := range n.Params {
		for _, prev := range n.Params[:i] {
			if prev == param {
				c.errorf(n.ParamSpans[i], "duplicate parameter %q", param)
			}
		}
		fs.declareLocal(param, i)
	}
	fs.adjust(len(n.Params))

	c.compileExpr(n.Body)
	c.emit(bytecode.OpReturn, n.Body.Span())
	fs.proto.Upvalues = fs.upvalues
	c.fs = parent

	idx := c.constant(bytecode.ProtoConst(fs.proto), n.Span())
	c.emitU16(bytecode.OpClosure, idx, n.Span())
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

// compileStmts compiles a statement sequence, leaving exactly one value on
// the stack: the value of the last statement when it yields one, else nil.
func (c *Compiler) compileStmts(stmts []Stmt, yields bool, span source.Span) {
	for i, stmt := range stmts {
		last := i == len(stmts)-1
		switch s := stmt.(type) {
		case *LetStmt:
			c.compileLet(s)
		case *ExprStmt:
			c.compileExpr(s.X)
			if !(last && yields) {
				c.emit(bytecode.OpPop, s.Span())
			}
		}
	}
	if !yields {
		c.emit(bytecode.OpNil, span)
	}
}

func (c *Compiler) compileLet(s *LetStmt) {
	fs := c.fs
	if fs.isGlobalScope() {
		c.compileExpr(s.Value)
		c.emitU16(bytecode.OpDefineGlobal, c.globalName(s.Name, s.NameSpan), s.Span())
		return
	}

	// A function bound by let sees its own name, so the slot is declared
	// before the closure is created in it.
	slot := fs.depth
	if _, isFn := s.Value.(*FuncLit); isFn {
		c.declare(s.Name, slot, s.NameSpan)
		c.compileExpr(s.Value)
		return
	}
	c.compileExpr(s.Value)
	c.declare(s.Name, slot, s.NameSpan)
}

func (c *Compiler) declare(name string, slot int, span source.Span) {
	if !c.fs.declareLocal(name, slot) {
		c.tooManyLocals(span)
	}
}

func (c *Compiler) tooManyLocals(span source.Span) {
	if !c.fs.reportedLocals {
		c.fs.reportedLocals = true
		c.errorf(span, "too many local variables in one function (limit %d)", bytecode.MaxLocals)
	}
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

var binaryOps = map[TokenType]bytecode.Opcode{
	TokenPlus:    bytecode.OpAdd,
	TokenMinus:   bytecode.OpSub,
	TokenStar:    bytecode.OpMul,
	TokenSlash:   bytecode.OpDiv,
	TokenPercent: bytecode.OpRem,
	TokenCaret:   bytecode.OpPow,
	TokenAmp:     bytecode.OpBitAnd,
	TokenPipe:    bytecode.OpBitOr,
	TokenShl:     bytecode.OpShl,
	TokenShr:     bytecode.OpShr,
	TokenEq:      bytecode.OpEq,
	TokenNe:      bytecode.OpNe,
	TokenLt:      bytecode.OpLt,
	TokenLe:      bytecode.OpLe,
	TokenGt:      bytecode.OpGt,
	TokenGe:      bytecode.OpGe,
}

var compoundOps = map[TokenType]bytecode.Opcode{
	TokenPlusEq:    bytecode.OpAdd,
	TokenMinusEq:   bytecode.OpSub,
	TokenStarEq:    bytecode.OpMul,
	TokenSlashEq:   bytecode.OpDiv,
	TokenPercentEq: bytecode.OpRem,
}

var unaryOps = map[TokenType]bytecode.Opcode{
	TokenMinus: bytecode.OpNeg,
	TokenBang:  bytecode.OpNot,
	TokenTilde: bytecode.OpBitNot,
}

// compileExpr compiles e, leaving exactly one value on the stack.
func (c *Compiler) compileExpr(e Expr) {
	sp := e.Span()
	switch n := e.(type) {
	case *NilLit, *BadExpr:
		c.emit(bytecode.OpNil, sp)
	case *BoolLit:
		if n.Value {
			c.emit(bytecode.OpTrue, sp)
		} else {
			c.emit(bytecode.OpFalse, sp)
		}
	case *NumberLit:
		c.emitConst(bytecode.NumberConst(n.Value), sp)
	case *StringLit:
		c.emitConst(bytecode.StringConst(n.Value), sp)
	case *SymbolLit:
		c.emitConst(bytecode.SymbolConst(n.Name), sp)
	case *ListLit:
		if len(n.Elems) > bytecode.MaxListLen {
			c.errorf(sp, "list literal has too many elements (limit %d)", bytecode.MaxListLen)
			c.emit(bytecode.OpNil, sp)
			return
		}
		for _, el := range n.Elems {
			c.compileExpr(el)
		}
		c.emitU16(bytecode.OpList, len(n.Elems), sp)
	case *TupleLit:
		if len(n.Elems) > bytecode.MaxListLen {
			c.errorf(sp, "tuple literal has too many elements (limit %d)", bytecode.MaxListLen)
			c.emit(bytecode.OpNil, sp)
			return
		}
		if n.Tag != "" {
			c.emitConst(bytecode.SymbolConst(n.Tag), sp)
		}
		for _, el := range n.Elems {
			c.compileExpr(el)
		}
		if n.Tag != "" {
			c.emitU16(bytecode.OpTaggedTuple, len(n.Elems), sp)
		} else {
			c.emitU16(bytecode.OpTuple, len(n.Elems), sp)
		}
	case *Ident:
		c.compileGet(n.Name, sp)
	case *Unary:
		c.compileExpr(n.X)
		c.emit(unaryOps[n.Op], sp)
	case *Binary:
		c.compileExpr(n.L)
		c.compileExpr(n.R)
		c.emit(binaryOps[n.Op], sp)
	case *Logical:
		c.compileLogical(n)
	case *Assign:
		c.compileAssign(n)
	case *Call:
		c.compileCall(n)
	case *Index:
		c.compileExpr(n.X)
		c.compileExpr(n.Index)
		c.emit(bytecode.OpIndex, sp)
	case *FuncLit:
		c.compileFuncLit(n)
	case *Block:
		c.compileBlock(n)
	case *If:
		c.compileIf(n)
	case *While:
		c.compileWhile(n)
	case *Loop:
		c.compileLoop(n)
	case *Break:
		c.compileBreak(n)
	case *Continue:
		c.compileContinue(n)
	case *Return:
		c.compileReturn(n)
	default:
		c.errorf(sp, "unsupported expression %T", e)
		c.emit(bytecode.OpNil, sp)
	}
}

func (c *Compiler) compileGet(name string, span source.Span) {
	if li, ok := c.fs.resolveLocal(name); ok {
		c.emitU8(bytecode.OpGetLocal, c.fs.locals[li].slot, span)
		return
	}
	if idx, found := c.upvalue(name, span); found {
		c.emitU8(bytecode.OpGetUpvalue, idx, span)
		return
	}
	c.emitU16(bytecode.OpGetGlobal, c.globalName(name, span), span)
}

// compileSet stores the value on top of the stack into name, leaving it
// there. define permits creating a global at the top level.
func (c *Compiler) compileSet(name string, define bool, span source.Span) {
	if li, ok := c.fs.resolveLocal(name); ok {
		c.emitU8(bytecode.OpSetLocal, c.fs.locals[li].slot, span)
		return
	}
	if idx, found := c.upvalue(name, span); found {
		c.emitU8(bytecode.OpSetUpvalue, idx, span)
		return
	}
	g := c.globalName(name, span)
	if define && c.fs.isMain {
		c.emit(bytecode.OpDup, span)
		c.emitU16(bytecode.OpDefineGlobal, g, span)
		return
	}
	c.emitU16(bytecode.OpSetGlobal, g, span)
}

func (c *Compiler) upvalue(name string, span source.Span) (int, bool) {
	idx, found, ok := c.fs.resolveUpvalue(name)
	if found && !ok {
		if !c.fs.reportedUpvalues {
			c.fs.reportedUpvalues = true
			c.errorf(span, "too many captured variables in one function (limit %d)", bytecode.MaxUpvalues)
		}
		return 0, true
	}
	return idx, found
}

func (c *Compiler) compileLogical(n *Logical) {
	sp := n.Span()
	c.compileExpr(n.L)
	c.emit(bytecode.OpDup, sp)
	switch n.Op {
	case TokenAnd:
		end := c.emitJump(bytecode.OpJumpIfFalse, sp)
		c.emit(bytecode.OpPop, sp)
		c.compileExpr(n.R)
		c.patchJump(end, sp)
	case TokenOr:
		rhs := c.emitJump(bytecode.OpJumpIfFalse, sp)
		end := c.emitJump(bytecode.OpJump, sp)
		c.patchJump(rhs, sp)
		c.emit(bytecode.OpPop, sp)
		c.compileExpr(n.R)
		c.patchJump(end, sp)
	case TokenCoalesce:
		end := c.emitJump(bytecode.OpJumpIfNotNil, sp)
		c.emit(bytecode.OpPop, sp)
		c.compileExpr(n.R)
		c.patchJump(end, sp)
	}
}

func (c *Compiler) compileAssign(n *Assign) {
	sp := n.Span()
	switch t := n.Target.(type) {
	case *Ident:
		if op, compound := compoundOps[n.Op]; compound {
			c.compileGet(t.Name, t.Span())
			c.compileExpr(n.Value)
			c.emit(op, sp)
		} else {
			c.compileExpr(n.Value)
		}
		c.compileSet(t.Name, n.Op == TokenAssign, sp)

	case *Index:
		c.compileExpr(t.X)
		c.compileExpr(t.Index)
		if op, compound := compoundOps[n.Op]; compound {
			// Re-read the list and index from their temporary slots.
			list, idx := c.fs.depth-2, c.fs.depth-1
			if idx >= bytecode.MaxLocals {
				c.tooManyLocals(sp)
			}
			c.emitU8(bytecode.OpGetLocal, list, sp)
			c.emitU8(bytecode.OpGetLocal, idx, sp)
			c.emit(bytecode.OpIndex, t.Span())
			c.compileExpr(n.Value)
			c.emit(op, sp)
		} else {
			c.compileExpr(n.Value)
		}
		c.emit(bytecode.OpSetIndex, sp)

	default:
		c.errorf(n.Target.Span(), "invalid assignment target")
		c.compileExpr(n.Value)
	}
}

func (c *Compiler) compileCall(n *Call) {
	sp := n.Span()
	if len(n.Args) > bytecode.MaxArgs {
		c.errorf(sp, "too many arguments (limit %d)", bytecode.MaxArgs)
		c.emit(bytecode.OpNil, sp)
		return
	}
	c.compileExpr(n.Callee)
	for _, arg := range n.Args {
		c.compileExpr(arg)
	}
	c.emitU8(bytecode.OpCall, len(n.Args), sp)
}

func (c *Compiler) compileBlock(n *Block) {
	fs := c.fs
	fs.beginScope()
	c.compileStmts(n.Stmts, n.Result() != nil, n.Span())
	dropped := fs.endScope()
	c.emitCloseScope(dropped, closingSpan(n.Span()))
}

// closingSpan returns the span of the last byte of s, used for the
// instructions that end a block.
func closingSpan(s source.Span) source.Span {
	if s.End.Offset <= s.Start.Offset {
		return s
	}
	start := s.End
	start.Offset--
	start.Column--
	return source.Span{Start: start, End: s.End}
}

func (c *Compiler) compileIf(n *If) {
	sp := n.Span()
	c.compileExpr(n.Cond)
	elseJump := c.emitJump(bytecode.OpJumpIfFalse, n.Cond.Span())
	base := c.fs.depth
	c.compileBlock(n.Then)
	endJump := c.emitJump(bytecode.OpJump, sp)
	c.patchJump(elseJump, sp)
	c.fs.depth = base
	if n.Else != nil {
		c.compileExpr(n.Else)
	} else {
		c.emit(bytecode.OpNil, sp)
	}
	c.patchJump(endJump, sp)
}

func (c *Compiler) compileWhile(n *While) {
	sp := n.Span()
	fs := c.fs
	loop := &loopState{head: fs.proto.CurrentOffset(), depth: fs.depth}

	c.compileExpr(n.Cond)
	exit := c.emitJump(bytecode.OpJumpIfFalse, n.Cond.Span())

	fs.loops = append(fs.loops, loop)
	c.compileBlock(n.Body)
	fs.loops = fs.loops[:len(fs.loops)-1]

	c.emit(bytecode.OpPop, sp)
	c.emitLoop(loop.head, sp)

	c.patchJump(exit, sp)
	fs.depth = loop.depth
	c.emit(bytecode.OpNil, sp)
	for _, b := range loop.breaks {
		c.patchJump(b, sp)
	}
}

func (c *Compiler) compileLoop(n *Loop) {
	sp := n.Span()
	fs := c.fs
	loop := &loopState{head: fs.proto.CurrentOffset(), depth: fs.depth}

	fs.loops = append(fs.loops, loop)
	c.compileBlock(n.Body)
	fs.loops = fs.loops[:len(fs.loops)-1]

	c.emit(bytecode.OpPop, sp)
	c.emitLoop(loop.head, sp)

	// Only break reaches here, with its value on top.
	fs.depth = loop.depth + 1
	for _, b := range loop.breaks {
		c.patchJump(b, sp)
	}
}

func (c *Compiler) compileBreak(n *Break) {
	sp := n.Span()
	fs := c.fs
	loop := fs.currentLoop()
	if loop == nil {
		c.errorf(sp, "break outside of a loop")
		c.emit(bytecode.OpNil, sp)
		return
	}
	before := fs.depth
	if n.Value != nil {
		c.compileExpr(n.Value)
	} else {
		c.emit(bytecode.OpNil, sp)
	}
	c.emitCloseScope(fs.depth-1-loop.depth, sp)
	loop.breaks = append(loop.breaks, c.emitJump(bytecode.OpJump, sp))
	fs.depth = before + 1
}

func (c *Compiler) compileContinue(n *Continue) {
	sp := n.Span()
	fs := c.fs
	loop := fs.currentLoop()
	if loop == nil {
		c.errorf(sp, "continue outside of a loop")
		c.emit(bytecode.OpNil, sp)
		return
	}
	before := fs.depth
	c.emitDrop(fs.depth-loop.depth, sp)
	c.emitLoop(loop.head, sp)
	fs.depth = before + 1
}

func (c *Compiler) compileReturn(n *Return) {
	sp := n.Span()
	fs := c.fs
	if fs.isMain {
		c.errorf(sp, "return outside of a function")
		c.emit(bytecode.OpNil, sp)
		return
	}
	before := fs.depth
	if n.Value != nil {
		c.compileExpr(n.Value)
	} else {
		c.emit(bytecode.OpNil, sp)
	}
	c.emit(bytecode.OpReturn, sp)
	fs.depth = before + 1
}
