package compiler

import (
	"strings"
	"testing"

	"github.com/chazu/kurt/pkg/source"
)

func spanAt(offset int) source.Span {
	pos := source.Position{Offset: offset, Line: 1, Column: offset + 1}
	return source.Span{Start: pos, End: pos}
}

func mustParse(t *testing.T, input string) *Program {
	t.Helper()
	prog, diags := ParseString(input)
	if diags.HasErrors() {
		t.Fatalf("ParseString(%q) errors:\n%v", input, diags)
	}
	return prog
}

func TestParserPrecedence(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"1 + 2 * 3", "(+ 1 (* 2 3))"},
		{"1 - 2 - 3", "(- (- 1 2) 3)"},
		{"8 / 4 % 3", "(% (/ 8 4) 3)"},
		{"2 ^ 3 ^ 2", "(^ 2 (^ 3 2))"},
		{"-2 ^ 2", "(^ (- 2) 2)"},
		{"-2 + 3", "(+ (- 2) 3)"},
		{"-f(1)", "(- (call f 1))"},
		{"!a and b", "(and (! a) b)"},
		{"~x & y", "(& (~ x) y)"},
		{"a or b and c", "(or a (and b c))"},
		{"a ?? b ?? c", "(?? a (?? b c))"},
		{"a ?? b or c", "(?? a (or b c))"},
		{"x |> f |> g", "(call g (call f x))"},
		{"a |> f ?? b", "(call (?? f b) a)"},
		{"a = b = c", "(= a (= b c))"},
		{"x += 1 + 2", "(+= x (+ 1 2))"},
		{"x = a or b", "(= x (or a b))"},
		{"1 | 2 & 3", "(| 1 (& 2 3))"},
		{"1 & 2 == 2", "(== (& 1 2) 2)"},
		{"1 << 2 + 3", "(<< 1 (+ 2 3))"},
		{"1 | 2 << 3", "(| 1 (<< 2 3))"},
		{"a == b < c", "(== a (< b c))"},
		{"a < b == c >= d", "(== (< a b) (>= c d))"},
		{"(1 + 2) * 3", "(* (+ 1 2) 3)"},
		{"xs[0][1]", "(index (index xs 0) 1)"},
		{"f(1)(2)", "(call (call f 1) 2)"},
		{"-xs[0]", "(- (index xs 0))"},
	}

	for _, tc := range tests {
		prog := mustParse(t, tc.input)
		if got := Sexpr(prog); got != tc.want {
			t.Errorf("Parse(%q) = %s, want %s", tc.input, got, tc.want)
		}
	}
}

func TestParserPrimaries(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"42", "42"},
		{"1.5", "1.5"},
		{`"hi\n"`, `"hi\n"`},
		{":ok", ":ok"},
		{"true", "true"},
		{"false", "false"},
		{"nil", "nil"},
		{"()", "nil"},
		{"foo", "foo"},
		{"[]", "(list)"},
		{"[1, 2, 3]", "(list 1 2 3)"},
		{"[1, [2],]", "(list 1 (list 2))"},
		{"f()", "(call f)"},
		{"f(1, 2,)", "(call f 1 2)"},
		{"() => 1", "(fn () 1)"},
		{"(a, b) => a + b", "(fn (a b) (+ a b))"},
		{"(x) => (y) => x", "(fn (x) (fn (y) x))"},
		{"x |> (y) => y", "(call (fn (y) y) x)"},
		{"(x)", "x"},
		{"(x,)", "(tuple x)"},
		{"(,)", "(tuple)"},
		{"(1, 2, 3,)", "(tuple 1 2 3)"},
		{"(a, b)", "(tuple a b)"},
		{":ok(1, x)", "(tuple :ok 1 x)"},
		{":ok()", "(tuple :ok)"},
		{"(a, b) => (b, a)", "(fn (a b) (tuple b a))"},
		{"(x) => return x", "(fn (x) (return x))"},
		{"return", "(return)"},
	}

	for _, tc := range tests {
		prog := mustParse(t, tc.input)
		if got := Sexpr(prog); got != tc.want {
			t.Errorf("Parse(%q) = %s, want %s", tc.input, got, tc.want)
		}
	}
}

func TestParserControlFlow(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"if a { 1 }", "(if a (block 1))"},
		{"if a { 1 } else { 2 }", "(if a (block 1) (block 2))"},
		{"if a { 1 } else if b { 2 } else { 3 }", "(if a (block 1) (if b (block 2) (block 3)))"},
		{"while x < 3 { x += 1; }", "(while (< x 3) (block (+= x 1);))"},
		{"loop { break 5 }", "(loop (block (break 5)))"},
		{"loop { break }", "(loop (block (break)))"},
		{"loop { continue }", "(loop (block (continue)))"},
		{"{}", "(block)"},
		{"{ let x = 1; x }", "(block (let x 1) x)"},
		{"let y = if c { 1 } else { 2 }", "(let y (if c (block 1) (block 2)))"},
		{"if {a} {b}", "(if (block a) (block b))"},
	}

	for _, tc := range tests {
		prog := mustParse(t, tc.input)
		if got := Sexpr(prog); got != tc.want {
			t.Errorf("Parse(%q) = %s, want %s", tc.input, got, tc.want)
		}
	}
}

func TestParserStatements(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"", ""},
		{"let a = 1; a", "(let a 1) a"},
		{"var a = 1", "(let a 1)"},
		{"1; 2;", "1; 2;"},
		{"1;; 2", "1; 2"},
		{"if a { 1 } b", "(if a (block 1)) b"},
		{"{ 1 } (2)", "(block 1) 2"},
		{"while c {} 3", "(while c (block)) 3"},
		{"let f = () => { 1 }\nf()", "(let f (fn f () (block 1))) (call f)"},
		{"let f = (x) => x", "(let f (fn f (x) x))"},
	}

	for _, tc := range tests {
		prog := mustParse(t, tc.input)
		if got := Sexpr(prog); got != tc.want {
			t.Errorf("Parse(%q) = %s, want %s", tc.input, got, tc.want)
		}
	}
}

func TestParserResult(t *testing.T) {
	tests := []struct {
		input  string
		yields bool
	}{
		{"", false},
		{"1", true},
		{"1; 2", true},
		{"1; 2;", false},
		{"let x = 1", false},
		{"let x = 1; x", true},
		{"if a { 1 }", true},
	}
	for _, tc := range tests {
		prog := mustParse(t, tc.input)
		if got := prog.Result() != nil; got != tc.yields {
			t.Errorf("Parse(%q).Result() != nil = %v, want %v", tc.input, got, tc.yields)
		}
	}
}

func TestParserSpans(t *testing.T) {
	prog := mustParse(t, "let x = 1 + 2")
	let := prog.Stmts[0].(*LetStmt)
	if let.Span().Start.Offset != 0 || let.Span().End.Offset != 13 {
		t.Errorf("let span = %d..%d, want 0..13", let.Span().Start.Offset, let.Span().End.Offset)
	}
	if let.NameSpan.Start.Offset != 4 || let.NameSpan.End.Offset != 5 {
		t.Errorf("name span = %d..%d, want 4..5", let.NameSpan.Start.Offset, let.NameSpan.End.Offset)
	}
	bin := let.Value.(*Binary)
	if bin.Span().Start.Offset != 8 || bin.Span().End.Offset != 13 {
		t.Errorf("binary span = %d..%d, want 8..13", bin.Span().Start.Offset, bin.Span().End.Offset)
	}
	if bin.OpSpan.Start.Column != 11 {
		t.Errorf("operator column = %d, want 11", bin.OpSpan.Start.Column)
	}

	prog = mustParse(t, "f(\n  1)")
	call := prog.Stmts[0].(*ExprStmt).X.(*Call)
	if call.Span().End.Line != 2 || call.Span().End.Column != 5 {
		t.Errorf("call ends at %v, want 2:5", call.Span().End)
	}
}

func TestParserErrors(t *testing.T) {
	tests := []struct {
		input string
		kind  Kind
		msg   string
	}{
		{"1 +", SyntaxError, "expected expression, found end of input"},
		{"let = 5", SyntaxError, `expected identifier, found "="`},
		{"let x 5", SyntaxError, `expected "=", found number "5"`},
		{"f(1", SyntaxError, `expected ")", found end of input`},
		{"[1, 2", SyntaxError, `expected "]", found end of input`},
		{"(1, 2", SyntaxError, `expected ")", found end of input`},
		{":ok(1", SyntaxError, `expected ")", found end of input`},
		{"1 2", SyntaxError, `expected ";", found number "2"`},
		{"if a { 1 } else 2", SyntaxError, `expected "{" or "if" after else, found number "2"`},
		{"while a 1", SyntaxError, `expected "{", found number "1"`},
		{"} 1", SyntaxError, `unexpected "}"`},
		{"x = @", LexError, "unexpected character '@'"},
		{`"abc`, LexError, "unterminated string"},
	}

	for _, tc := range tests {
		_, diags := ParseString(tc.input)
		if len(diags) != 1 {
			t.Errorf("Parse(%q): got %d diagnostics, want 1:\n%v", tc.input, len(diags), diags)
			continue
		}
		if diags[0].Kind != tc.kind {
			t.Errorf("Parse(%q): kind = %v, want %v", tc.input, diags[0].Kind, tc.kind)
		}
		if diags[0].Message != tc.msg {
			t.Errorf("Parse(%q): message = %q, want %q", tc.input, diags[0].Message, tc.msg)
		}
	}
}

func TestParserRecovery(t *testing.T) {
	input := "let x = ;\nlet y = 2;\ny"
	prog, diags := ParseString(input)
	if len(diags) != 1 {
		t.Fatalf("got %d diagnostics, want 1:\n%v", len(diags), diags)
	}
	if diags[0].Span.Start.Line != 1 || diags[0].Span.Start.Column != 9 {
		t.Errorf("error at %v, want 1:9", diags[0].Span.Start)
	}
	if got, want := Sexpr(prog), "(let x <bad>) (let y 2) y"; got != want {
		t.Errorf("partial AST = %s, want %s", got, want)
	}
}

func TestParserRecoveryReportsEachStatement(t *testing.T) {
	input := "let = 1;\nlet y = 2;\nf(;\nz"
	prog, diags := ParseString(input)
	if len(diags) != 2 {
		t.Fatalf("got %d diagnostics, want 2:\n%v", len(diags), diags)
	}
	if diags[0].Span.Start.Line != 1 || diags[1].Span.Start.Line != 3 {
		t.Errorf("errors on lines %d and %d, want 1 and 3", diags[0].Span.Start.Line, diags[1].Span.Start.Line)
	}
	if got := Sexpr(prog); !strings.HasSuffix(got, "z") || !strings.Contains(got, "(let y 2)") {
		t.Errorf("partial AST = %s, want it to keep let y and z", got)
	}
}

func TestParserRecoveryInsideBlock(t *testing.T) {
	prog, diags := ParseString("{ foo bar baz }\nok")
	if len(diags) != 1 {
		t.Fatalf("got %d diagnostics, want 1:\n%v", len(diags), diags)
	}
	if got, want := Sexpr(prog), "(block foo) ok"; got != want {
		t.Errorf("partial AST = %s, want %s", got, want)
	}
}

func TestParserLexErrorsDoNotCascade(t *testing.T) {
	tests := []string{
		"1 + @",
		"1 @ 2",
		"let s = \"abc\nlet y = 1;\ny",
		"f(1e999)",
	}
	for _, input := range tests {
		_, diags := ParseString(input)
		if len(diags) != 1 || diags[0].Kind != LexError {
			t.Errorf("Parse(%q): got %v, want a single lex error", input, diags)
		}
	}
}

func TestParserLexErrorThenSyntaxError(t *testing.T) {
	_, diags := ParseString("let s = \"abc\nlet x = ;")
	want := []struct {
		kind      Kind
		line, col int
	}{
		{LexError, 1, 9},
		{SyntaxError, 2, 9},
	}
	if len(diags) != len(want) {
		t.Fatalf("got %v, want %d diagnostics", diags, len(want))
	}
	for i, w := range want {
		d := diags[i]
		if d.Kind != w.kind || d.Span.Start.Line != w.line || d.Span.Start.Column != w.col {
			t.Errorf("diagnostic %d = %s at %s, want %s at %d:%d", i, d.Kind, d.Span, w.kind, w.line, w.col)
		}
	}
}

func TestParserUnterminatedStringResumes(t *testing.T) {
	prog, _ := ParseString("let s = \"abc\nlet y = 1;\ny")
	if got, want := Sexpr(prog), "(let s <bad>) (let y 1) y"; got != want {
		t.Errorf("partial AST = %s, want %s", got, want)
	}
}

func TestParserNestingLimit(t *testing.T) {
	tests := []string{
		strings.Repeat("(", 1000) + "1" + strings.Repeat(")", 1000),
		strings.Repeat("-", 1000) + "1",
		strings.Repeat("[", 1000) + strings.Repeat("]", 1000),
		strings.Repeat("{", 1000) + strings.Repeat("}", 1000),
		strings.Repeat("() => ", 1000) + "1",
		"if x {} " + strings.Repeat("else if x {} ", 1000) + "else {}",
		strings.Repeat("if x { ", 300) + "1" + strings.Repeat(" }", 300),
		strings.Repeat("while x { ", 300) + strings.Repeat("}", 300),
		"let a = 1; " + strings.Repeat("[", 300) + strings.Repeat("]", 300) + "; a",
	}
	for i, input := range tests {
		_, diags := ParseString(input)
		if len(diags) != 1 {
			t.Errorf("case %d: got %d diagnostics, want 1: %v", i, len(diags), diags)
			continue
		}
		if got, want := diags[0].Message, "expression nested too deeply"; got != want {
			t.Errorf("case %d: message = %q, want %q", i, got, want)
		}
	}
}

func TestParserNestingLimitRecovers(t *testing.T) {
	input := strings.Repeat("(", 300) + "1" + strings.Repeat(")", 300) + "; let after = 2; after"
	prog, diags := ParseString(input)
	if len(diags) != 1 {
		t.Fatalf("got %v, want a single diagnostic", diags)
	}
	if got := len(prog.Stmts); got != 3 {
		t.Fatalf("got %d statements, want 3", got)
	}
	if got, want := Sexpr(prog.Stmts[2]), "after"; got != want {
		t.Errorf("last statement = %s, want %s", got, want)
	}
}

func TestParserWithinNestingLimit(t *testing.T) {
	input := strings.Repeat("(", 100) + "1" + strings.Repeat(")", 100)
	if got := Sexpr(mustParse(t, input)); got != "1" {
		t.Errorf("Parse = %s, want 1", got)
	}
}

func TestParserFuncLitName(t *testing.T) {
	prog := mustParse(t, "let add = (a, b) => a + b; let id = ((x) => x); (y) => y")
	names := []string{
		prog.Stmts[0].(*LetStmt).Value.(*FuncLit).Name,
		prog.Stmts[1].(*LetStmt).Value.(*FuncLit).Name,
		prog.Stmts[2].(*ExprStmt).X.(*FuncLit).Name,
	}
	want := []string{"add", "id", ""}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("function %d name = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestDiagnosticsRender(t *testing.T) {
	src := "let x = 1;\nlet y = ;"
	_, diags := ParseString(src)
	out := diags.Render(src)
	want := "syntax error at 2:9: expected expression, found \";\"\n" +
		"2 | let y = ;\n" +
		"  | " + strings.Repeat(" ", 8) + "^\n"
	if out != want {
		t.Errorf("Render =\n%s\nwant\n%s", out, want)
	}
}

func TestDiagnosticsSort(t *testing.T) {
	ds := Diagnostics{
		{Kind: CompileError, Message: "b", Span: spanAt(10)},
		{Kind: LexError, Message: "a", Span: spanAt(2)},
		{Kind: SyntaxError, Message: "c", Span: spanAt(10)},
	}
	ds.Sort()
	got := ds[0].Message + ds[1].Message + ds[2].Message
	if got != "abc" {
		t.Errorf("sorted order = %s, want abc", got)
	}
	if ds.Count(CompileError) != 1 {
		t.Errorf("Count(CompileError) = %d, want 1", ds.Count(CompileError))
	}
}
