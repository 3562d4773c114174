package compiler

import (
	"fmt"

	"github.com/chazu/kurt/pkg/source"
)

// ---------------------------------------------------------------------------
// Parser: Pratt parser for Kurt
// ---------------------------------------------------------------------------

// MaxNestingDepth bounds how deeply expressions and blocks may nest.
const MaxNestingDepth = 256

// Binding powers, lowest to highest.
const (
	precLowest = iota
	precAssign
	precPipe
	precCoalesce
	precOr
	precAnd
	precEquality
	precComparison
	precBitOr
	precBitAnd
	precShift
	precTerm
	precFactor
	precPower
	precPrefix
	precPostfix
)

type infixRule struct {
	prec       int
	rightAssoc bool
}

var infixRules = map[TokenType]infixRule{
	TokenAssign:    {precAssign, true},
	TokenPlusEq:    {precAssign, true},
	TokenMinusEq:   {precAssign, true},
	TokenStarEq:    {precAssign, true},
	TokenSlashEq:   {precAssign, true},
	TokenPercentEq: {precAssign, true},
	TokenPipeline:  {precPipe, false},
	TokenCoalesce:  {precCoalesce, true},
	TokenOr:        {precOr, false},
	TokenAnd:       {precAnd, false},
	TokenEq:        {precEquality, false},
	TokenNe:        {precEquality, false},
	TokenLt:        {precComparison, false},
	TokenLe:        {precComparison, false},
	TokenGt:        {precComparison, false},
	TokenGe:        {precComparison, false},
	TokenPipe:      {precBitOr, false},
	TokenAmp:       {precBitAnd, false},
	TokenShl:       {precShift, false},
	TokenShr:       {precShift, false},
	TokenPlus:      {precTerm, false},
	TokenMinus:     {precTerm, false},
	TokenStar:      {precFactor, false},
	TokenSlash:     {precFactor, false},
	TokenPercent:   {precFactor, false},
	TokenCaret:     {precPower, true},
	TokenLParen:    {precPostfix, false},
	TokenLBracket:  {precPostfix, false},
}

// Parser turns a token slice into an AST. It never stops at the first
// error: diagnostics are collected and a partial tree is always returned.
type Parser struct {
	tokens   []Token
	pos      int
	curToken Token
	diags    Diagnostics
	depth    int
	tooDeep  bool // nesting limit hit; unwinding to the enclosing statement
	lastErr  int  // token index of the last reported syntax error
}

// NewParser creates a parser over tokens. A missing trailing EOF is added.
func NewParser(tokens []Token) *Parser {
	if len(tokens) == 0 || tokens[len(tokens)-1].Type != TokenEOF {
		eof := Token{Type: TokenEOF}
		if len(tokens) > 0 {
			end := tokens[len(tokens)-1].Span.End
			eof.Span = source.Span{Start: end, End: end}
		} else {
			start := source.Position{Line: 1, Column: 1}
			eof.Span = source.Span{Start: start, End: start}
		}
		tokens = append(tokens[:len(tokens):len(tokens)], eof)
	}
	p := &Parser{tokens: tokens, lastErr: -1}
	p.curToken = tokens[0]

	// Lexical errors are reported once, up front, wherever they occur.
	for _, tok := range tokens {
		if tok.Type == TokenError {
			p.diags = append(p.diags, Diagnostic{Kind: LexError, Message: tok.Str, Span: tok.Span})
		}
	}
	return p
}

// Parse parses a token stream into a Program.
func Parse(tokens []Token) (*Program, Diagnostics) {
	p := NewParser(tokens)
	prog := p.ParseProgram()
	return prog, p.diags
}

// ParseString lexes and parses src.
func ParseString(src string) (*Program, Diagnostics) {
	return Parse(Tokenize(src))
}

// Diagnostics returns the diagnostics collected so far.
func (p *Parser) Diagnostics() Diagnostics {
	return p.diags
}

// nextToken advances to the next token. EOF is never passed.
func (p *Parser) nextToken() {
	if p.pos < len(p.tokens)-1 {
		p.pos++
	}
	p.curToken = p.tokens[p.pos]
}

// peek returns the token n positions ahead of the current one.
func (p *Parser) peek(n int) Token {
	if i := p.pos + n; i < len(p.tokens) {
		return p.tokens[i]
	}
	return p.tokens[len(p.tokens)-1]
}

// prevToken returns the most recently consumed token.
func (p *Parser) prevToken() Token {
	if p.pos == 0 {
		return Token{}
	}
	return p.tokens[p.pos-1]
}

func (p *Parser) curTokenIs(t TokenType) bool {
	return p.curToken.Type == t
}

// spanFrom returns the span from start to the end of the last consumed token.
func (p *Parser) spanFrom(start source.Position) source.Span {
	end := p.prevToken().Span.End
	if end.Offset < start.Offset {
		end = start
	}
	return source.Span{Start: start, End: end}
}

// expect consumes a token of type t or reports an error.
func (p *Parser) expect(t TokenType) bool {
	if p.curTokenIs(t) {
		p.nextToken()
		return true
	}
	p.errorf("expected %q, found %s", t.String(), p.curToken)
	return false
}

// errorf records a syntax error at the current token. Errors following one
// another without any token consumed in between are dropped, as are errors
// at or right after a lexical error token, which is already reported.
func (p *Parser) errorf(format string, args ...any) {
	if p.pos == p.lastErr || p.tooDeep {
		return
	}
	p.lastErr = p.pos
	if p.curTokenIs(TokenError) || p.prevToken().Type == TokenError {
		return
	}
	p.diags = append(p.diags, Diagnostic{
		Kind:    SyntaxError,
		Message: fmt.Sprintf(format, args...),
		Span:    p.curToken.Span,
	})
}

// synchronize skips tokens until a point where a statement can start: after
// a `;`, before a `}` or before a statement keyword.
func (p *Parser) synchronize() {
	for {
		switch p.curToken.Type {
		case TokenEOF, TokenSemicolon, TokenRBrace:
			return
		case TokenLet, TokenVar, TokenIf, TokenWhile, TokenLoop, TokenReturn, TokenBreak, TokenContinue:
			return
		}
		p.nextToken()
	}
}

// enter increments the nesting depth. Once MaxNestingDepth is reached it
// reports an error, skips the rest of the over-deep construct and fails
// until the enclosing statement list recovers.
func (p *Parser) enter() bool {
	if p.tooDeep {
		return false
	}
	if p.depth >= MaxNestingDepth {
		p.errorf("expression nested too deeply")
		p.tooDeep = true
		p.skipNested()
		return false
	}
	p.depth++
	return true
}

// skipNested consumes tokens up to the bracket that closes the enclosing
// construct, or a `;` outside any bracket opened here. The closing token is
// left for the enclosing parser.
func (p *Parser) skipNested() {
	open := 0
	for {
		switch p.curToken.Type {
		case TokenEOF:
			return
		case TokenLParen, TokenLBracket, TokenLBrace:
			open++
		case TokenRParen, TokenRBracket, TokenRBrace:
			if open == 0 {
				return
			}
			open--
		case TokenSemicolon:
			if open == 0 {
				return
			}
		}
		p.nextToken()
	}
}

func (p *Parser) leave() { p.depth-- }

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

// ParseProgram parses the whole token stream.
func (p *Parser) ParseProgram() *Program {
	start := p.curToken.Span.Start
	stmts := p.parseStmts(false)
	return &Program{
		SpanVal: source.Span{Start: start, End: p.curToken.Span.End},
		Stmts:   stmts,
	}
}

// parseStmts parses statements up to EOF, or up to the closing brace when
// inBlock is set.
func (p *Parser) parseStmts(inBlock bool) []Stmt {
	var stmts []Stmt
	for {
		switch p.curToken.Type {
		case TokenEOF:
			return stmts
		case TokenRBrace:
			if inBlock {
				return stmts
			}
			p.errorf("unexpected %s", p.curToken)
			for p.curTokenIs(TokenRBrace) {
				p.nextToken()
			}
			continue
		case TokenSemicolon:
			p.nextToken()
			continue
		}

		startPos := p.pos
		stmt := p.parseStatement()
		if stmt != nil {
			stmts = append(stmts, stmt)
		}

		switch {
		case p.curTokenIs(TokenSemicolon):
			if es, ok := stmt.(*ExprStmt); ok {
				es.Semi = true
			}
			p.nextToken()
		case p.curTokenIs(TokenRBrace), p.curTokenIs(TokenEOF):
		case p.pos > startPos && p.prevToken().Type == TokenRBrace:
			// Block-like statements need no separator.
		default:
			p.errorf("expected %q, found %s", ";", p.curToken)
			p.synchronize()
		}
		if p.tooDeep {
			p.synchronize()
			p.tooDeep = false
		}

		if p.pos == startPos {
			p.nextToken()
		}
	}
}

// parseStatement parses a let binding or an expression statement.
func (p *Parser) parseStatement() Stmt {
	switch p.curToken.Type {
	case TokenLet, TokenVar:
		return p.parseLet()
	case TokenLBrace, TokenIf, TokenWhile, TokenLoop:
		// A block-like expression in statement position ends at its
		// closing brace.
		if e := p.parseBlockLike(); e != nil {
			return &ExprStmt{X: e}
		}
		return nil
	}
	return &ExprStmt{X: p.parseExpr(precLowest)}
}

func (p *Parser) parseLet() Stmt {
	start := p.curToken.Span.Start
	p.nextToken() // let / var

	if !p.curTokenIs(TokenIdentifier) {
		p.errorf("expected identifier, found %s", p.curToken)
		return nil
	}
	name := p.curToken.Literal
	nameSpan := p.curToken.Span
	p.nextToken()

	if !p.expect(TokenAssign) {
		return nil
	}
	value := p.parseExpr(precLowest)
	if fn, ok := value.(*FuncLit); ok && fn.Name == "" {
		fn.Name = name
	}
	return &LetStmt{
		SpanVal:  p.spanFrom(start),
		Name:     name,
		NameSpan: nameSpan,
		Value:    value,
	}
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

// ParseExpression parses a single expression from the current position.
func (p *Parser) ParseExpression() Expr {
	return p.parseExpr(precLowest)
}

// parseExpr parses an expression whose infix operators all bind tighter
// than prec.
func (p *Parser) parseExpr(prec int) Expr {
	if !p.enter() {
		return &BadExpr{SpanVal: p.curToken.Span}
	}
	defer p.leave()

	left := p.parsePrefix()
	for {
		rule, ok := infixRules[p.curToken.Type]
		if !ok || rule.prec <= prec {
			return left
		}
		left = p.parseInfix(left, rule)
	}
}

func (p *Parser) parsePrefix() Expr {
	switch p.curToken.Type {
	case TokenMinus, TokenBang, TokenTilde:
		start := p.curToken.Span.Start
		op := p.curToken.Type
		p.nextToken()
		x := p.parseExpr(precPrefix)
		return &Unary{SpanVal: p.spanFrom(start), Op: op, X: x}
	}
	return p.parsePrimary()
}

func (p *Parser) parseInfix(left Expr, rule infixRule) Expr {
	start := left.Span().Start
	tok := p.curToken

	switch tok.Type {
	case TokenLParen:
		return p.parseCall(left)
	case TokenLBracket:
		p.nextToken()
		idx := p.parseExpr(precLowest)
		p.expect(TokenRBracket)
		return &Index{SpanVal: p.spanFrom(start), X: left, Index: idx}
	}

	p.nextToken()
	rightPrec := rule.prec
	if rule.rightAssoc {
		rightPrec--
	}
	right := p.parseExpr(rightPrec)
	span := p.spanFrom(start)

	switch tok.Type {
	case TokenAssign, TokenPlusEq, TokenMinusEq, TokenStarEq, TokenSlashEq, TokenPercentEq:
		return &Assign{SpanVal: span, Op: tok.Type, Target: left, Value: right}
	case TokenPipeline:
		return &Call{SpanVal: span, Callee: right, Args: []Expr{left}}
	case TokenAnd, TokenOr, TokenCoalesce:
		return &Logical{SpanVal: span, Op: tok.Type, L: left, R: right}
	}
	return &Binary{SpanVal: span, Op: tok.Type, OpSpan: tok.Span, L: left, R: right}
}

func (p *Parser) parseCall(callee Expr) Expr {
	start := callee.Span().Start
	p.nextToken() // (
	args := p.parseExprList(TokenRParen)
	return &Call{SpanVal: p.spanFrom(start), Callee: callee, Args: args}
}

// parseExprList parses comma-separated expressions up to and including the
// closing token. A trailing comma is allowed.
func (p *Parser) parseExprList(closing TokenType) []Expr {
	var list []Expr
	for !p.curTokenIs(closing) && !p.curTokenIs(TokenEOF) {
		list = append(list, p.parseExpr(precLowest))
		if !p.curTokenIs(TokenComma) {
			break
		}
		p.nextToken()
	}
	p.expect(closing)
	return list
}

func (p *Parser) parsePrimary() Expr {
	tok := p.curToken
	switch tok.Type {
	case TokenNumber:
		p.nextToken()
		return &NumberLit{SpanVal: tok.Span, Value: tok.Num}
	case TokenString:
		p.nextToken()
		return &StringLit{SpanVal: tok.Span, Value: tok.Str}
	case TokenSymbol:
		p.nextToken()
		if p.curTokenIs(TokenLParen) {
			p.nextToken()
			elems := p.parseExprList(TokenRParen)
			return &TupleLit{SpanVal: p.spanFrom(tok.Span.Start), Tag: tok.Str, Elems: elems}
		}
		return &SymbolLit{SpanVal: tok.Span, Name: tok.Str}
	case TokenTrue, TokenFalse:
		p.nextToken()
		return &BoolLit{SpanVal: tok.Span, Value: tok.Type == TokenTrue}
	case TokenNil:
		p.nextToken()
		return &NilLit{SpanVal: tok.Span}
	case TokenIdentifier:
		p.nextToken()
		return &Ident{SpanVal: tok.Span, Name: tok.Literal}
	case TokenLParen:
		return p.parseParen()
	case TokenLBracket:
		p.nextToken()
		elems := p.parseExprList(TokenRBracket)
		return &ListLit{SpanVal: p.spanFrom(tok.Span.Start), Elems: elems}
	case TokenLBrace, TokenIf, TokenWhile, TokenLoop:
		if e := p.parseBlockLike(); e != nil {
			return e
		}
		return &BadExpr{SpanVal: p.spanFrom(tok.Span.Start)}
	case TokenBreak:
		p.nextToken()
		var value Expr
		if p.startsOperand() {
			value = p.parseExpr(precLowest)
		}
		return &Break{SpanVal: p.spanFrom(tok.Span.Start), Value: value}
	case TokenContinue:
		p.nextToken()
		return &Continue{SpanVal: tok.Span}
	case TokenReturn:
		p.nextToken()
		var value Expr
		if p.startsOperand() {
			value = p.parseExpr(precLowest)
		}
		return &Return{SpanVal: p.spanFrom(tok.Span.Start), Value: value}
	case TokenError:
		p.nextToken()
		return &BadExpr{SpanVal: tok.Span}
	}
	p.errorf("expected expression, found %s", tok)
	return &BadExpr{SpanVal: tok.Span}
}

// startsOperand reports whether the current token can begin the optional
// value of break or return.
func (p *Parser) startsOperand() bool {
	switch p.curToken.Type {
	case TokenNumber, TokenString, TokenSymbol, TokenIdentifier,
		TokenTrue, TokenFalse, TokenNil,
		TokenLParen, TokenLBracket, TokenLBrace,
		TokenIf, TokenWhile, TokenLoop,
		TokenMinus, TokenBang, TokenTilde:
		return true
	}
	return false
}

// parseParen parses `()`, a parenthesized expression, a tuple, or a function
// literal. A tuple needs at least one comma: `(,)`, `(a,)`, `(a, b)`.
func (p *Parser) parseParen() Expr {
	if p.funcLitAhead() {
		return p.parseFuncLit()
	}
	start := p.curToken.Span.Start
	p.nextToken() // (
	switch {
	case p.curTokenIs(TokenRParen):
		p.nextToken()
		return &NilLit{SpanVal: p.spanFrom(start)}
	case p.curTokenIs(TokenComma) && p.peek(1).Type == TokenRParen:
		p.nextToken()
		p.nextToken()
		return &TupleLit{SpanVal: p.spanFrom(start)}
	}
	e := p.parseExpr(precLowest)
	if p.curTokenIs(TokenComma) {
		p.nextToken()
		elems := append([]Expr{e}, p.parseExprList(TokenRParen)...)
		return &TupleLit{SpanVal: p.spanFrom(start), Elems: elems}
	}
	p.expect(TokenRParen)
	return e
}

// funcLitAhead reports whether the tokens at the current `(` form a
// parameter list followed by `=>`.
func (p *Parser) funcLitAhead() bool {
	i := 1
	if p.peek(i).Type == TokenRParen {
		return p.peek(i+1).Type == TokenArrow
	}
	for {
		if p.peek(i).Type != TokenIdentifier {
			return false
		}
		i++
		switch p.peek(i).Type {
		case TokenComma:
			i++
		case TokenRParen:
			return p.peek(i+1).Type == TokenArrow
		default:
			return false
		}
	}
}

func (p *Parser) parseFuncLit() Expr {
	start := p.curToken.Span.Start
	p.nextToken() // (
	fn := &FuncLit{}
	for p.curTokenIs(TokenIdentifier) {
		fn.Params = append(fn.Params, p.curToken.Literal)
		fn.ParamSpans = append(fn.ParamSpans, p.curToken.Span)
		p.nextToken()
		if p.curTokenIs(TokenComma) {
			p.nextToken()
		}
	}
	p.expect(TokenRParen)
	p.expect(TokenArrow)
	fn.Body = p.parseExpr(precLowest)
	fn.SpanVal = p.spanFrom(start)
	return fn
}

// parseBlockLike parses a block, if, while or loop expression.
func (p *Parser) parseBlockLike() Expr {
	if !p.enter() {
		return nil
	}
	defer p.leave()

	switch p.curToken.Type {
	case TokenLBrace:
		return p.parseBlock()
	case TokenIf:
		return p.parseIf()
	case TokenWhile:
		start := p.curToken.Span.Start
		p.nextToken()
		cond := p.parseExpr(precLowest)
		body := p.parseBlock()
		return &While{SpanVal: p.spanFrom(start), Cond: cond, Body: body}
	case TokenLoop:
		start := p.curToken.Span.Start
		p.nextToken()
		body := p.parseBlock()
		return &Loop{SpanVal: p.spanFrom(start), Body: body}
	}
	return nil
}

// parseBlock parses `{ stmts }`. A missing `{` is reported and yields an
// empty block.
func (p *Parser) parseBlock() *Block {
	start := p.curToken.Span.Start
	if !p.expect(TokenLBrace) {
		return &Block{SpanVal: source.Span{Start: start, End: start}}
	}
	stmts := p.parseStmts(true)
	p.expect(TokenRBrace)
	return &Block{SpanVal: p.spanFrom(start), Stmts: stmts}
}

func (p *Parser) parseIf() Expr {
	start := p.curToken.Span.Start
	p.nextToken() // if
	cond := p.parseExpr(precLowest)
	then := p.parseBlock()
	n := &If{Cond: cond, Then: then}

	if p.curTokenIs(TokenElse) {
		p.nextToken()
		switch p.curToken.Type {
		case TokenIf:
			if p.enter() {
				n.Else = p.parseIf()
				p.leave()
			}
		case TokenLBrace:
			n.Else = p.parseBlock()
		default:
			p.errorf("expected %q or %q after else, found %s", "{", "if", p.curToken)
		}
	}
	n.SpanVal = p.spanFrom(start)
	return n
}
