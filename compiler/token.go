package compiler

import (
	"fmt"

	"github.com/chazu/kurt/pkg/source"
)

// ---------------------------------------------------------------------------
// Token types for the Kurt lexer
// ---------------------------------------------------------------------------

// TokenType represents the type of a token.
type TokenType int

const (
	// Special tokens
	TokenEOF TokenType = iota
	TokenError

	// Literals
	TokenNumber     // 42, 1_000, 3.14, 1e9, 0xFF
	TokenString     // "hello"
	TokenSymbol     // :ok
	TokenIdentifier // foo, _bar

	// Delimiters
	TokenLParen    // (
	TokenRParen    // )
	TokenLBracket  // [
	TokenRBracket  // ]
	TokenLBrace    // {
	TokenRBrace    // }
	TokenComma     // ,
	TokenSemicolon // ;
	TokenArrow     // =>

	// Operators
	TokenPlus      // +
	TokenMinus     // -
	TokenStar      // *
	TokenSlash     // /
	TokenPercent   // %
	TokenCaret     // ^
	TokenBang      // !
	TokenTilde     // ~
	TokenAmp       // &
	TokenPipe      // |
	TokenShl       // <<
	TokenShr       // >>
	TokenEq        // ==
	TokenNe        // !=
	TokenLt        // <
	TokenLe        // <=
	TokenGt        // >
	TokenGe        // >=
	TokenAssign    // =
	TokenPlusEq    // +=
	TokenMinusEq   // -=
	TokenStarEq    // *=
	TokenSlashEq   // /=
	TokenPercentEq // %=
	TokenCoalesce  // ??
	TokenPipeline  // |>

	// Reserved words
	TokenLet
	TokenVar
	TokenIf
	TokenElse
	TokenLoop
	TokenWhile
	TokenBreak
	TokenContinue
	TokenReturn
	TokenTrue
	TokenFalse
	TokenNil
	TokenAnd
	TokenOr
)

var tokenNames = map[TokenType]string{
	TokenEOF:        "end of input",
	TokenError:      "ERROR",
	TokenNumber:     "number",
	TokenString:     "string",
	TokenSymbol:     "symbol",
	TokenIdentifier: "identifier",
	TokenLParen:     "(",
	TokenRParen:     ")",
	TokenLBracket:   "[",
	TokenRBracket:   "]",
	TokenLBrace:     "{",
	TokenRBrace:     "}",
	TokenComma:      ",",
	TokenSemicolon:  ";",
	TokenArrow:      "=>",
	TokenPlus:       "+",
	TokenMinus:      "-",
	TokenStar:       "*",
	TokenSlash:      "/",
	TokenPercent:    "%",
	TokenCaret:      "^",
	TokenBang:       "!",
	TokenTilde:      "~",
	TokenAmp:        "&",
	TokenPipe:       "|",
	TokenShl:        "<<",
	TokenShr:        ">>",
	TokenEq:         "==",
	TokenNe:         "!=",
	TokenLt:         "<",
	TokenLe:         "<=",
	TokenGt:         ">",
	TokenGe:         ">=",
	TokenAssign:     "=",
	TokenPlusEq:     "+=",
	TokenMinusEq:    "-=",
	TokenStarEq:     "*=",
	TokenSlashEq:    "/=",
	TokenPercentEq:  "%=",
	TokenCoalesce:   "??",
	TokenPipeline:   "|>",
	TokenLet:        "let",
	TokenVar:        "var",
	TokenIf:         "if",
	TokenElse:       "else",
	TokenLoop:       "loop",
	TokenWhile:      "while",
	TokenBreak:      "break",
	TokenContinue:   "continue",
	TokenReturn:     "return",
	TokenTrue:       "true",
	TokenFalse:      "false",
	TokenNil:        "nil",
	TokenAnd:        "and",
	TokenOr:         "or",
}

func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Token(%d)", t)
}

// IsKeyword reports whether t is a reserved word.
func (t TokenType) IsKeyword() bool {
	return t >= TokenLet && t <= TokenOr
}

// Token represents a lexical token. Literal values are decoded by the lexer:
// Num holds the value of a number token and Str the decoded text of a string
// or the name of a symbol. For error tokens Str holds the diagnostic message.
type Token struct {
	Type    TokenType
	Literal string // the raw text
	Num     float64
	Str     string
	Span    source.Span
}

func (t Token) String() string {
	switch t.Type {
	case TokenEOF:
		return "end of input"
	case TokenError:
		return fmt.Sprintf("ERROR(%s)", t.Str)
	case TokenNumber, TokenString, TokenSymbol, TokenIdentifier:
		if len(t.Literal) > 20 {
			return fmt.Sprintf("%s %q...", t.Type, t.Literal[:20])
		}
		return fmt.Sprintf("%s %q", t.Type, t.Literal)
	}
	return fmt.Sprintf("%q", t.Literal)
}

// Reserved words mapped to their token types.
var reservedWords = map[string]TokenType{
	"let":      TokenLet,
	"var":      TokenVar,
	"if":       TokenIf,
	"else":     TokenElse,
	"loop":     TokenLoop,
	"while":    TokenWhile,
	"break":    TokenBreak,
	"continue": TokenContinue,
	"return":   TokenReturn,
	"true":     TokenTrue,
	"false":    TokenFalse,
	"nil":      TokenNil,
	"and":      TokenAnd,
	"or":       TokenOr,
}

// Keywords returns the reserved words of the language.
func Keywords() []string {
	out := make([]string, 0, len(reservedWords))
	for t := TokenLet; t <= TokenOr; t++ {
		out = append(out, tokenNames[t])
	}
	return out
}
