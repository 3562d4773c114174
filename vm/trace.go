package vm

import (
	"fmt"
	"io"
	"strings"

	"github.com/chazu/kurt/pkg/bytecode"
)

// traceStackDepth is how many values from the top of the frame a
// TraceEvent carries.
const traceStackDepth = 8

// TraceEvent describes the instruction about to execute.
type TraceEvent struct {
	Function string
	Offset   int
	Op       bytecode.Opcode
	Operand  int // -1 when the opcode has none
	Depth    int // number of active frames
	Stack    []Value
}

// TraceHook observes execution. It runs on the VM's goroutine, before each
// instruction, and must not retain ev.Stack.
type TraceHook func(ev TraceEvent)

func (vm *VM) traceStep(f *frame) {
	op := bytecode.Opcode(f.code[f.ip])
	operand := -1
	if op.OperandLen() > 0 {
		operand = f.closure.Proto.Operand(f.ip)
	}
	lo := max(f.base, vm.sp-traceStackDepth)
	stack := make([]Value, vm.sp-lo)
	copy(stack, vm.stack[lo:vm.sp])
	vm.trace(TraceEvent{
		Function: f.closure.Proto.DisplayName(),
		Offset:   f.ip,
		Op:       op,
		Operand:  operand,
		Depth:    len(vm.frames),
		Stack:    stack,
	})
}

// NewTextTracer returns a hook writing one line per instruction:
//
//	[1] <main>  0004 ADD             [1, 2]
func NewTextTracer(w io.Writer) TraceHook {
	return func(ev TraceEvent) {
		instr := ev.Op.String()
		if ev.Operand >= 0 {
			instr = fmt.Sprintf("%-14s %d", instr, ev.Operand)
		}
		vals := make([]string, len(ev.Stack))
		for i, v := range ev.Stack {
			vals[i] = v.String()
		}
		fmt.Fprintf(w, "[%d] %-12s %04d %-20s [%s]\n",
			ev.Depth, ev.Function, ev.Offset, instr, strings.Join(vals, ", "))
	}
}
