package vm

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/chazu/kurt/compiler"
	"github.com/chazu/kurt/pkg/bytecode"
)

func compile(t testing.TB, src string) *bytecode.Program {
	t.Helper()
	prog, diags := compiler.Compile(src)
	if diags.HasErrors() {
		t.Fatalf("compile %q: %v", src, diags)
	}
	return prog
}

// run compiles and runs src on a fresh VM with the builtins installed.
func run(t testing.TB, src string, opts ...Option) (Value, error) {
	t.Helper()
	vm := NewVM(opts...)
	InstallBuiltins(vm, &bytes.Buffer{})
	return vm.Run(context.Background(), compile(t, src))
}

func mustRun(t testing.TB, src string) Value {
	t.Helper()
	v, err := run(t, src)
	if err != nil {
		t.Fatalf("run %q: %v", src, err)
	}
	return v
}

func runtimeErr(t *testing.T, err error) *RuntimeError {
	t.Helper()
	var rerr *RuntimeError
	if !errors.As(err, &rerr) {
		t.Fatalf("error = %v (%T), want *RuntimeError", err, err)
	}
	return rerr
}

func TestRunExpressions(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		// Arithmetic and precedence
		{"1 + 2 * 3", "7"},
		{"(1 + 2) * 3", "9"},
		{"-2 + 3", "1"},
		{"10 - 4 - 3", "3"},
		{"2 ^ 10", "1024"},
		{"7 % 3", "1"},
		{"1 / 4", "0.25"},
		{"1 / 0", "inf"},
		{"-1 / 0", "-inf"},

		// Bitwise
		{"5 & 3", "1"},
		{"5 | 3", "7"},
		{"1 << 4", "16"},
		{"-8 >> 1", "-4"},
		{"~0", "-1"},
		{"1 << 64", "0"},

		// Strings, symbols and lists
		{`"ab" + "cd"`, `"abcd"`},
		{`"abc"[1]`, `"b"`},
		{`"abc"[-1]`, `"c"`},
		{":ok", ":ok"},
		{"[1, 2, 3][-1]", "3"},
		{"[]", "[]"},
		{`[1, "two", :three, nil, true]`, `[1, "two", :three, nil, true]`},

		// Comparison and equality
		{"1 < 2", "true"},
		{"2 <= 1", "false"},
		{`"a" < "b"`, "true"},
		{"1 == 1.0", "true"},
		{`:a == "a"`, "false"},
		{`"a" == "a"`, "true"},
		{"[1, [2]] == [1, [2]]", "true"},
		{"[1] != [2]", "true"},
		{"nil == false", "false"},
		{"(0 / 0) == (0 / 0)", "false"},
		{"(0 / 0) < 1", "false"},

		// Logic
		{"!nil", "true"},
		{"!0", "false"},
		{"false or 3", "3"},
		{"1 and 2", "2"},
		{"nil and x", "nil"},
		{"nil ?? 5", "5"},
		{"false ?? 5", "false"},

		// Blocks and control flow
		{"{ let a = 2; a * a }", "4"},
		{"{ let a = 2; }", "nil"},
		{"if 1 > 2 { 1 } else { 2 }", "2"},
		{"if false { 1 }", "nil"},
		{"let i = 0; loop { i += 1; if i == 5 { break i * 2 } }", "10"},
		{"let i = 0; while i < 3 { i += 1 }", "nil"},
		{"let i = 0; while i < 3 { i += 1 }; i", "3"},
		{"let i = 0; let n = 0; while i < 10 { i += 1; if i % 2 == 0 { continue }; n += i }; n", "25"},

		// Functions
		{"let f = (x) => { if x > 0 { return :pos }; :neg }; [f(1), f(-1)]", "[:pos, :neg]"},
		{"let fib = (n) => if n < 2 { n } else { fib(n - 1) + fib(n - 2) }; fib(15)", "610"},
		{"{ let fact = (n) => if n < 2 { 1 } else { n * fact(n - 1) }; fact(10) }", "3628800"},
		{"[1, 2, 3] |> len", "3"},
		{"let add = (a, b) => a + b; add(2, 3)", "5"},
		{"let g = 1; let bump = () => { g = g + 1 }; bump(); bump(); g", "3"},
		{"let xs = [1, 2]; xs[0] = 9; xs[1] += 5; xs", "[9, 7]"},
		{"let f = () => 1; f", "<fn f>"},
		{"() => 1", "<fn>"},
		{"print", "<native print>"},
		{"type(len)", `"native"`},
		{"[type(nil), type(1), type(:a), type(() => 1)]", `["nil", "number", "symbol", "function"]`},
		{`str(12) + str("x") + str([1, "y"])`, `"12x[1, \"y\"]"`},
		{"let xs = [1]; push(xs, 2); xs", "[1, 2]"},

		// Tuples
		{"(1, 2, 3)", "(1, 2, 3)"},
		{"(1,)", "(1,)"},
		{"(,)", "(,)"},
		{":ok(1)", ":ok(1)"},
		{":ok()", ":ok()"},
		{"let x = 0; :foo(1, 2, 3); x", "0"},
		{"let p = (1, \"a\"); [p[0], p[-1], len(p), type(p)]", `[1, "a", 2, "tuple"]`},
		{"[tag(:err(:eof)), tag((1, 2))]", "[:err, nil]"},
		{"[(1, 2) == (1, 2), (1, 2) == (2, 1), :a(1) == (1,), :a(1) == :a(1)]", "[true, false, false, true]"},
		{"let t = :pair([1], 2); t[0][0] = 9; t", ":pair([9], 2)"},
		{"let f = (x) => :ok(x * 2, x); f(3)", ":ok(6, 3)"},

		// Top level
		{"", "nil"},
		{"let x = 1", "nil"},
		{"1;", "nil"},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			if got := mustRun(t, tt.src).String(); got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestRunClosuresShareCells(t *testing.T) {
	src := `let make = () => {
  let n = 0;
  [() => { n += 1; n }, () => n]
};
let pair = make();
let inc = pair[0];
let get = pair[1];
[inc(), inc(), get()]`
	if got, want := mustRun(t, src).String(), "[1, 2, 2]"; got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestRunCounterSurvivesFrame(t *testing.T) {
	src := `let counter = () => { let c = 0; () => { c += 1; c } };
let a = counter();
let b = counter();
[a(), a(), b(), a()]`
	if got, want := mustRun(t, src).String(), "[1, 2, 1, 3]"; got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestRunLoopBindingsAreFresh(t *testing.T) {
	src := `let fs = [];
let i = 0;
while i < 3 { let j = i; push(fs, () => j); i += 1 };
fs[0]() + fs[1]() * 10 + fs[2]() * 100`
	if got, want := mustRun(t, src).String(), "210"; got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestRunNestedCaptures(t *testing.T) {
	src := `let outer = () => {
  let x = 1;
  let middle = () => { let inner = () => { x += 10; x }; inner };
  let f = middle();
  f();
  x
};
outer()`
	if got, want := mustRun(t, src).String(), "11"; got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestRunErrors(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{`1 + "a"`, "operand type mismatch: number + string"},
		{`"a" < 1`, "operand type mismatch: string < number"},
		{`nil * 2`, "operand type mismatch: nil * number"},
		{`-"a"`, "operand type mismatch: -string"},
		{`~true`, "operand type mismatch: ~bool"},
		{"nope", `undefined global "nope"`},
		{"let f = () => { zz = 1 }; f()", `undefined global "zz"`},
		{"1()", "cannot call number"},
		{"let f = (a, b) => a; f(1)", "f expected 2 arguments but got 1"},
		{"let f = (a) => a; f(1, 2)", "f expected 1 argument but got 2"},
		{"(() => 1)(1)", "<anonymous> expected 0 arguments but got 1"},
		{"len(1, 2)", "len expected 1 argument but got 2"},
		{"[1][5]", "index 5 out of range for length 1"},
		{"[1][-2]", "index -2 out of range for length 1"},
		{`[1]["a"]`, "index must be a number, got string"},
		{"[1][0.5]", "index must be an integer, got 0.5"},
		{"1[0]", "cannot index number"},
		{`let s = "ab"; s[0] = "x"`, "cannot assign to an element of string"},
		{"1.5 & 1", "bitwise operand must be an integer, got 1.5"},
		{"1 << -1", "negative shift count -1"},
		{"len(1)", "len: expected a list, tuple or string, got number"},
		{"let t = (1, 2); t[0] = 5", "cannot assign to an element of tuple"},
		{"(1, 2)[2]", "index 2 out of range for length 2"},
		{"tag([1])", "tag: expected a tuple, got list"},
		{`error("boom")`, "error: boom"},
		{"push(1, 2)", "push: expected a list, got number"},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			_, err := run(t, tt.src)
			rerr := runtimeErr(t, err)
			if rerr.Message != tt.want {
				t.Errorf("message = %q, want %q", rerr.Message, tt.want)
			}
		})
	}
}

func TestRuntimeErrorLocation(t *testing.T) {
	src := "let f = () => 1 + nil;\nlet g = () => f();\ng()"
	_, err := run(t, src)
	rerr := runtimeErr(t, err)

	if rerr.Span.Start.Line != 1 {
		t.Errorf("span = %s, want line 1", rerr.Span)
	}
	var fns []string
	for _, f := range rerr.Frames {
		fns = append(fns, f.Function)
	}
	if got, want := strings.Join(fns, " "), "f g <main>"; got != want {
		t.Errorf("frames = %s, want %s", got, want)
	}
	if rerr.Frames[1].Span.Start.Line != 2 || rerr.Frames[2].Span.Start.Line != 3 {
		t.Errorf("caller spans = %s, %s, want lines 2 and 3", rerr.Frames[1].Span, rerr.Frames[2].Span)
	}
	if !strings.HasPrefix(rerr.Error(), "runtime error at 1:") {
		t.Errorf("Error() = %q", rerr.Error())
	}
	trace := rerr.StackTrace()
	if got := strings.Count(trace, "\n"); got != 3 {
		t.Errorf("stack trace has %d lines, want 3:\n%s", got, trace)
	}
	if !strings.Contains(trace, "  at g (2:") {
		t.Errorf("stack trace missing g frame:\n%s", trace)
	}
}

func TestRuntimeErrorWithoutSpan(t *testing.T) {
	err := &RuntimeError{Message: "boom"}
	if got, want := err.Error(), "runtime error: boom"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestStackOverflow(t *testing.T) {
	vm := NewVM()
	_, err := vm.Run(context.Background(), compile(t, "let f = (n) => f(n + 1); f(0)"))
	rerr := runtimeErr(t, err)
	if !errors.Is(err, ErrStackOverflow) {
		t.Errorf("error = %v, want ErrStackOverflow", err)
	}
	if rerr.Message != "stack overflow" {
		t.Errorf("message = %q", rerr.Message)
	}
	if len(rerr.Frames) != DefaultMaxFrames {
		t.Errorf("frames = %d, want %d", len(rerr.Frames), DefaultMaxFrames)
	}

	// The VM is reusable and keeps its globals.
	v, err := vm.Run(context.Background(), compile(t, "let g = (n) => if n == 0 { :done } else { g(n - 1) }; g(100)"))
	if err != nil {
		t.Fatalf("run after overflow: %v", err)
	}
	if v.String() != ":done" {
		t.Errorf("got %s, want :done", v)
	}
	if _, ok := vm.Global("f"); !ok {
		t.Error("global f lost after overflow")
	}
}

func TestStackOverflowCustomBounds(t *testing.T) {
	src := "let f = (n) => if n == 0 { 0 } else { 1 + f(n - 1) }; f(50)"
	if _, err := run(t, src, WithMaxFrames(64)); err != nil {
		t.Fatalf("depth 50 with 64 frames: %v", err)
	}
	_, err := run(t, src, WithMaxFrames(32))
	if !errors.Is(err, ErrStackOverflow) {
		t.Errorf("depth 50 with 32 frames: error = %v, want stack overflow", err)
	}
	_, err = run(t, src, WithMaxStack(40))
	if !errors.Is(err, ErrStackOverflow) {
		t.Errorf("stack of 40 values: error = %v, want stack overflow", err)
	}
}

func TestBudget(t *testing.T) {
	vm := NewVM(WithBudget(100))
	_, err := vm.Run(context.Background(), compile(t, "loop { }"))
	if !errors.Is(err, ErrBudgetExhausted) {
		t.Fatalf("error = %v, want ErrBudgetExhausted", err)
	}
	if vm.Steps() != 101 {
		t.Errorf("steps = %d, want 101", vm.Steps())
	}

	// A program within budget is unaffected, and the next run starts over.
	v, err := vm.Run(context.Background(), compile(t, "1 + 2"))
	if err != nil || v.String() != "3" {
		t.Errorf("got %v, %v, want 3", v, err)
	}
}

func TestContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	vm := NewVM()
	_, err := vm.Run(ctx, compile(t, "loop { }"))
	if !errors.Is(err, ErrInterrupted) || !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want interrupted by context.Canceled", err)
	}
	if runtimeErr(t, err).Message != "interrupted" {
		t.Errorf("message = %q", runtimeErr(t, err).Message)
	}
}

func TestInterrupt(t *testing.T) {
	var vm *VM
	steps := 0
	vm = NewVM(WithTrace(func(TraceEvent) {
		steps++
		if steps == 10 {
			vm.Interrupt()
		}
	}))
	_, err := vm.Run(context.Background(), compile(t, "loop { }"))
	if !errors.Is(err, ErrInterrupted) {
		t.Fatalf("error = %v, want ErrInterrupted", err)
	}
	if vm.Steps() > checkInterval {
		t.Errorf("ran %d steps after interrupt, want at most %d", vm.Steps(), checkInterval)
	}

	// A pending interrupt does not leak into the next run.
	vm.SetTraceHook(nil)
	vm.Interrupt()
	if _, err := vm.Run(context.Background(), compile(t, "let i = 0; while i < 2000 { i += 1 }")); err != nil {
		t.Errorf("run after interrupt: %v", err)
	}
}

func TestGlobals(t *testing.T) {
	vm := NewVM()
	vm.SetGlobal("answer", Number(42))
	v, err := vm.Run(context.Background(), compile(t, "let b = answer + 1; b"))
	if err != nil || v.String() != "43" {
		t.Fatalf("got %v, %v, want 43", v, err)
	}
	if got, want := strings.Join(vm.Globals(), " "), "answer b"; got != want {
		t.Errorf("globals = %s, want %s", got, want)
	}
	vm.ResetGlobals()
	if len(vm.Globals()) != 0 {
		t.Errorf("globals after reset = %v", vm.Globals())
	}
}

func TestDefineNative(t *testing.T) {
	vm := NewVM()
	vm.DefineNative("twice", 1, func(args []Value) (Value, error) {
		n, ok := args[0].AsNumber()
		if !ok {
			return Nil(), errors.New("want a number")
		}
		return Number(2 * n), nil
	})
	v, err := vm.Run(context.Background(), compile(t, "twice(21)"))
	if err != nil || v.String() != "42" {
		t.Fatalf("got %v, %v, want 42", v, err)
	}
}

func TestPrint(t *testing.T) {
	var out bytes.Buffer
	vm := NewVM()
	InstallBuiltins(vm, &out)
	_, err := vm.Run(context.Background(), compile(t, `print(1, "two", :three, [1, "x"]); print()`))
	if err != nil {
		t.Fatal(err)
	}
	if got, want := out.String(), "1 two :three [1, \"x\"]\n\n"; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestBuiltinNames(t *testing.T) {
	got := strings.Join(BuiltinNames(), " ")
	if want := "print len str type push tag error"; got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestRunDecodedProgram(t *testing.T) {
	src := "let make = () => { let c = 0; () => { c += 1; c } }; let f = make(); f(); f()"
	data, err := bytecode.Marshal(compile(t, src))
	if err != nil {
		t.Fatal(err)
	}
	prog, err := bytecode.Unmarshal(data)
	if err != nil {
		t.Fatal(err)
	}
	if err := prog.Validate(); err != nil {
		t.Fatal(err)
	}
	v, err := NewVM().Run(context.Background(), prog)
	if err != nil || v.String() != "2" {
		t.Errorf("got %v, %v, want 2", v, err)
	}
}

func TestRunNilProgram(t *testing.T) {
	if _, err := NewVM().Run(context.Background(), nil); err == nil {
		t.Error("expected an error for a nil program")
	}
}

func TestRunReentry(t *testing.T) {
	vm := NewVM()
	var inner error
	vm.DefineNative("reenter", 0, func([]Value) (Value, error) {
		_, inner = vm.Run(context.Background(), &bytecode.Program{Main: bytecode.NewProto("x", 0)})
		return Nil(), nil
	})
	if _, err := vm.Run(context.Background(), compile(t, "reenter()")); err != nil {
		t.Fatal(err)
	}
	if inner == nil {
		t.Error("re-entrant Run succeeded, want an error")
	}
}

func BenchmarkFib(b *testing.B) {
	prog := compile(b, "let fib = (n) => if n < 2 { n } else { fib(n - 1) + fib(n - 2) }; fib(20)")
	vm := NewVM()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := vm.Run(context.Background(), prog); err != nil {
			b.Fatal(err)
		}
	}
}
