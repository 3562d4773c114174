package compiler

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/chazu/kurt/pkg/source"
)

// ---------------------------------------------------------------------------
// Lexer: Tokenizer for Kurt source
// ---------------------------------------------------------------------------

// Lexer tokenizes Kurt source code. It produces one token per NextToken
// call and never fails: malformed input yields TokenError tokens carrying a
// message, after which scanning continues.
type Lexer struct {
	input     string
	pos       int // offset of the next unread byte
	line      int // current line (1-based)
	lineStart int // offset of current line start
}

// NewLexer creates a new lexer for the given input.
func NewLexer(input string) *Lexer {
	return &Lexer{
		input: input,
		line:  1,
	}
}

// Tokenize scans the whole input. The result always ends with a TokenEOF.
func Tokenize(input string) []Token {
	l := NewLexer(input)
	var toks []Token
	for {
		tok := l.NextToken()
		toks = append(toks, tok)
		if tok.Type == TokenEOF {
			return toks
		}
	}
}

// ch returns the current byte, or 0 at end of input.
func (l *Lexer) ch() byte {
	if l.pos >= len(l.input) {
		return 0
	}
	return l.input[l.pos]
}

// peek returns the byte after the current one, or 0.
func (l *Lexer) peek() byte {
	if l.pos+1 >= len(l.input) {
		return 0
	}
	return l.input[l.pos+1]
}

// advance consumes one byte, tracking lines.
func (l *Lexer) advance() {
	if l.pos >= len(l.input) {
		return
	}
	if l.input[l.pos] == '\n' {
		l.line++
		l.lineStart = l.pos + 1
	}
	l.pos++
}

// position returns the current position.
func (l *Lexer) position() source.Position {
	return source.Position{
		Offset: l.pos,
		Line:   l.line,
		Column: l.pos - l.lineStart + 1,
	}
}

func (l *Lexer) token(t TokenType, start source.Position) Token {
	end := l.position()
	return Token{
		Type:    t,
		Literal: l.input[start.Offset:end.Offset],
		Span:    source.Span{Start: start, End: end},
	}
}

func (l *Lexer) errorToken(start source.Position, format string, args ...any) Token {
	tok := l.token(TokenError, start)
	tok.Str = fmt.Sprintf(format, args...)
	return tok
}

// NextToken returns the next token. Once the input is exhausted it returns
// TokenEOF on every call.
func (l *Lexer) NextToken() Token {
	if tok, ok := l.skipWhitespaceAndComments(); !ok {
		return tok
	}

	pos := l.position()
	c := l.ch()

	switch {
	case l.pos >= len(l.input):
		return l.token(TokenEOF, pos)
	case isIdentStart(c):
		return l.readIdentifier(pos)
	case isDigit(c):
		return l.readNumber(pos)
	case c == '"':
		return l.readString(pos)
	case c == ':':
		return l.readSymbol(pos)
	}

	// Two-character operators first
	two := ""
	if l.pos+1 < len(l.input) {
		two = l.input[l.pos : l.pos+2]
	}
	if t, ok := twoCharTokens[two]; ok {
		l.advance()
		l.advance()
		return l.token(t, pos)
	}
	if t, ok := oneCharTokens[c]; ok {
		l.advance()
		return l.token(t, pos)
	}

	if c >= utf8.RuneSelf {
		r, size := utf8.DecodeRuneInString(l.input[l.pos:])
		for i := 0; i < size; i++ {
			l.advance()
		}
		if r == utf8.RuneError && size == 1 {
			return l.errorToken(pos, "invalid UTF-8 byte 0x%02X", c)
		}
		return l.errorToken(pos, "unexpected character %q", r)
	}
	l.advance()
	return l.errorToken(pos, "unexpected character %q", rune(c))
}

var twoCharTokens = map[string]TokenType{
	"=>": TokenArrow,
	"+=": TokenPlusEq,
	"-=": TokenMinusEq,
	"*=": TokenStarEq,
	"/=": TokenSlashEq,
	"%=": TokenPercentEq,
	"<<": TokenShl,
	">>": TokenShr,
	"==": TokenEq,
	"!=": TokenNe,
	"<=": TokenLe,
	">=": TokenGe,
	"??": TokenCoalesce,
	"|>": TokenPipeline,
}

var oneCharTokens = map[byte]TokenType{
	'(': TokenLParen,
	')': TokenRParen,
	'[': TokenLBracket,
	']': TokenRBracket,
	'{': TokenLBrace,
	'}': TokenRBrace,
	',': TokenComma,
	';': TokenSemicolon,
	'+': TokenPlus,
	'-': TokenMinus,
	'*': TokenStar,
	'/': TokenSlash,
	'%': TokenPercent,
	'^': TokenCaret,
	'!': TokenBang,
	'~': TokenTilde,
	'&': TokenAmp,
	'|': TokenPipe,
	'<': TokenLt,
	'>': TokenGt,
	'=': TokenAssign,
}

// skipWhitespaceAndComments skips whitespace, line comments and block
// comments. It returns false with an error token for an unterminated block
// comment.
func (l *Lexer) skipWhitespaceAndComments() (Token, bool) {
	for {
		switch c := l.ch(); {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			l.advance()
		case c == '/' && l.peek() == '/':
			for l.pos < len(l.input) && l.ch() != '\n' {
				l.advance()
			}
		case c == '/' && l.peek() == '*':
			start := l.position()
			l.advance()
			l.advance()
			for {
				if l.pos >= len(l.input) {
					return l.errorToken(start, "unterminated block comment"), false
				}
				if l.ch() == '*' && l.peek() == '/' {
					l.advance()
					l.advance()
					break
				}
				l.advance()
			}
		default:
			return Token{}, true
		}
	}
}

func (l *Lexer) readIdentifier(pos source.Position) Token {
	for isIdentPart(l.ch()) {
		l.advance()
	}
	tok := l.token(TokenIdentifier, pos)
	if t, ok := reservedWords[tok.Literal]; ok {
		tok.Type = t
	}
	return tok
}

func (l *Lexer) readSymbol(pos source.Position) Token {
	l.advance() // ':'
	if !isIdentStart(l.ch()) {
		return l.errorToken(pos, "expected symbol name after ':'")
	}
	for isIdentPart(l.ch()) {
		l.advance()
	}
	tok := l.token(TokenSymbol, pos)
	tok.Str = tok.Literal[1:]
	return tok
}

// errNumberRange marks literals that do not fit a float64 or uint64.
var errNumberRange = errors.New("number literal out of range")

// readNumber scans decimal literals (with optional fraction and exponent)
// and 0x/0o/0b integers. `_` separates digits.
func (l *Lexer) readNumber(pos source.Position) Token {
	if l.ch() == '0' {
		if base := radixOf(l.peek()); base != 0 {
			return l.readRadixNumber(pos, base)
		}
	}

	intStart := l.pos
	l.skipDigits()
	intPart := l.input[intStart:l.pos]

	var frac string
	if l.ch() == '.' && isDigit(l.peek()) {
		l.advance()
		fracStart := l.pos
		l.skipDigits()
		frac = l.input[fracStart:l.pos]
	}

	var exp string
	if c := l.ch(); c == 'e' || c == 'E' {
		expStart := l.pos
		l.advance()
		if c := l.ch(); c == '+' || c == '-' {
			l.advance()
		}
		if !isDigit(l.ch()) {
			l.skipIdentRun()
			return l.errorToken(pos, "malformed number literal: missing exponent digits")
		}
		for isDigit(l.ch()) {
			l.advance()
		}
		exp = l.input[expStart:l.pos]
	}

	if isIdentPart(l.ch()) {
		l.skipIdentRun()
		return l.errorToken(pos, "malformed number literal %q", l.input[pos.Offset:l.pos])
	}
	if strings.HasSuffix(intPart, "_") || strings.HasPrefix(frac, "_") || strings.HasSuffix(frac, "_") {
		return l.errorToken(pos, "malformed number literal %q: misplaced '_'", l.input[pos.Offset:l.pos])
	}

	text := strings.ReplaceAll(intPart, "_", "")
	if frac != "" {
		text += "." + strings.ReplaceAll(frac, "_", "")
	}
	text += exp

	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		if errors.Is(err, strconv.ErrRange) {
			return l.errorToken(pos, "%v", errNumberRange)
		}
		return l.errorToken(pos, "malformed number literal %q", l.input[pos.Offset:l.pos])
	}
	tok := l.token(TokenNumber, pos)
	tok.Num = f
	return tok
}

func (l *Lexer) readRadixNumber(pos source.Position, base int) Token {
	l.advance() // '0'
	l.advance() // x, o, b
	digitsStart := l.pos
	l.skipIdentRun()
	digits := l.input[digitsStart:l.pos]
	literal := l.input[pos.Offset:l.pos]

	if digits == "" || digits[0] == '_' || strings.HasSuffix(digits, "_") {
		return l.errorToken(pos, "malformed number literal %q", literal)
	}
	u, err := strconv.ParseUint(strings.ReplaceAll(digits, "_", ""), base, 64)
	if err != nil {
		if errors.Is(err, strconv.ErrRange) {
			return l.errorToken(pos, "%v", errNumberRange)
		}
		return l.errorToken(pos, "malformed number literal %q", literal)
	}
	tok := l.token(TokenNumber, pos)
	tok.Num = float64(u)
	return tok
}

func radixOf(c byte) int {
	switch c {
	case 'x', 'X':
		return 16
	case 'o', 'O':
		return 8
	case 'b', 'B':
		return 2
	}
	return 0
}

func (l *Lexer) skipDigits() {
	for isDigit(l.ch()) || l.ch() == '_' {
		l.advance()
	}
}

func (l *Lexer) skipIdentRun() {
	for isIdentPart(l.ch()) {
		l.advance()
	}
}

// readString scans a double-quoted, single-line string literal and decodes
// its escapes. An unterminated string ends at the end of its line so that
// scanning resumes on the next line.
func (l *Lexer) readString(pos source.Position) Token {
	l.advance() // opening quote
	var sb strings.Builder
	var firstErr string
	fail := func(format string, args ...any) {
		if firstErr == "" {
			firstErr = fmt.Sprintf(format, args...)
		}
	}

	for {
		c := l.ch()
		switch {
		case l.pos >= len(l.input) || c == '\n':
			return l.errorToken(pos, "unterminated string")

		case c == '"':
			l.advance()
			if firstErr != "" {
				return l.errorToken(pos, "%s", firstErr)
			}
			tok := l.token(TokenString, pos)
			tok.Str = sb.String()
			return tok

		case c == '\\':
			escPos := l.pos
			l.advance()
			e := l.ch()
			if l.pos >= len(l.input) || e == '\n' {
				return l.errorToken(pos, "unterminated string")
			}
			l.advance()
			switch e {
			case 'n':
				sb.WriteByte('\n')
			case 'r':
				sb.WriteByte('\r')
			case 't':
				sb.WriteByte('\t')
			case '0':
				sb.WriteByte(0)
			case '\\', '"', '\'':
				sb.WriteByte(e)
			case 'u':
				r, ok := l.readUnicodeEscape()
				if !ok {
					fail("invalid unicode escape %q", l.input[escPos:l.pos])
				} else {
					sb.WriteRune(r)
				}
			default:
				fail("unknown escape sequence \\%c", e)
			}

		case c >= utf8.RuneSelf:
			r, size := utf8.DecodeRuneInString(l.input[l.pos:])
			if r == utf8.RuneError && size == 1 {
				fail("invalid UTF-8 byte 0x%02X in string", c)
			}
			sb.WriteString(l.input[l.pos : l.pos+size])
			for i := 0; i < size; i++ {
				l.advance()
			}

		default:
			sb.WriteByte(c)
			l.advance()
		}
	}
}

// readUnicodeEscape reads the `{hex}` part of a \u escape.
func (l *Lexer) readUnicodeEscape() (rune, bool) {
	if l.ch() != '{' {
		return 0, false
	}
	l.advance()
	start := l.pos
	for isHexDigit(l.ch()) {
		l.advance()
	}
	hex := l.input[start:l.pos]
	if l.ch() != '}' {
		return 0, false
	}
	l.advance()
	if hex == "" || len(hex) > 6 {
		return 0, false
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil || !utf8.ValidRune(rune(v)) {
		return 0, false
	}
	return rune(v), true
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || isDigit(c)
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isHexDigit(c byte) bool {
	return isDigit(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}
