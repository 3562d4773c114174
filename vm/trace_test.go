package vm

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestTraceEvents(t *testing.T) {
	var events []TraceEvent
	vm := NewVM(WithTrace(func(ev TraceEvent) { events = append(events, ev) }))
	if _, err := vm.Run(context.Background(), compile(t, "1 + 2")); err != nil {
		t.Fatal(err)
	}

	var ops []string
	for _, ev := range events {
		ops = append(ops, ev.Op.String())
	}
	if got, want := strings.Join(ops, " "), "CONST CONST ADD RETURN"; got != want {
		t.Fatalf("ops = %s, want %s", got, want)
	}

	add := events[2]
	if add.Function != "<main>" || add.Depth != 1 || add.Operand != -1 {
		t.Errorf("ADD event = %+v", add)
	}
	if len(add.Stack) != 2 || add.Stack[0].String() != "1" || add.Stack[1].String() != "2" {
		t.Errorf("ADD stack = %v, want [1 2]", add.Stack)
	}
	if events[1].Operand != 1 || events[1].Offset != 3 {
		t.Errorf("second CONST = offset %d operand %d, want 3 and 1", events[1].Offset, events[1].Operand)
	}
}

func TestTraceDepth(t *testing.T) {
	maxDepth := 0
	fns := map[string]bool{}
	vm := NewVM(WithTrace(func(ev TraceEvent) {
		maxDepth = max(maxDepth, ev.Depth)
		fns[ev.Function] = true
	}))
	if _, err := vm.Run(context.Background(), compile(t, "let f = (x) => x * 2; f(3)")); err != nil {
		t.Fatal(err)
	}
	if maxDepth != 2 || !fns["f"] {
		t.Errorf("max depth %d, functions %v", maxDepth, fns)
	}
}

func TestTraceStackIsBounded(t *testing.T) {
	var widest int
	vm := NewVM(WithTrace(func(ev TraceEvent) { widest = max(widest, len(ev.Stack)) }))
	if _, err := vm.Run(context.Background(), compile(t, "[1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12]")); err != nil {
		t.Fatal(err)
	}
	if widest != traceStackDepth {
		t.Errorf("widest stack view = %d, want %d", widest, traceStackDepth)
	}
}

func TestTraceDoesNotChangeResult(t *testing.T) {
	src := "let fib = (n) => if n < 2 { n } else { fib(n - 1) + fib(n - 2) }; fib(12)"
	plain := mustRun(t, src)
	traced, err := run(t, src, WithTrace(func(TraceEvent) {}))
	if err != nil {
		t.Fatal(err)
	}
	if !plain.Equal(traced) {
		t.Errorf("traced result %s differs from %s", traced, plain)
	}
}

func TestTextTracer(t *testing.T) {
	var out bytes.Buffer
	vm := NewVM(WithTrace(NewTextTracer(&out)))
	if _, err := vm.Run(context.Background(), compile(t, "1 + 2")); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("trace has %d lines, want 4:\n%s", len(lines), out.String())
	}
	if !strings.HasPrefix(lines[2], "[1] <main>") || !strings.Contains(lines[2], "0006 ADD") {
		t.Errorf("ADD line = %q", lines[2])
	}
	if !strings.HasSuffix(lines[2], "[1, 2]") {
		t.Errorf("ADD line = %q, want stack [1, 2]", lines[2])
	}
	if !strings.Contains(lines[1], "CONST") || !strings.Contains(lines[1], " 1 ") {
		t.Errorf("CONST line = %q", lines[1])
	}
}
