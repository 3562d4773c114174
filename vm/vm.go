package vm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync/atomic"

	"github.com/chazu/kurt/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// VM: stack machine executing compiled Kurt programs
// ---------------------------------------------------------------------------

// Default execution bounds.
const (
	DefaultMaxFrames = 256
	DefaultMaxStack  = 64 * 1024

	// checkInterval is how many instructions run between checks of the
	// context and the interrupt flag.
	checkInterval = 1024
)

// frame is the execution state of one function invocation.
type frame struct {
	closure *Closure
	code    []byte
	ip      int // next instruction
	at      int // start of the instruction being executed
	base    int // stack index of the first argument; the callee sits at base-1
}

func (f *frame) u8() int {
	v := int(f.code[f.ip])
	f.ip++
	return v
}

func (f *frame) u16() int {
	v := int(f.code[f.ip])<<8 | int(f.code[f.ip+1])
	f.ip += 2
	return v
}

func (f *frame) i16() int {
	v := int(int16(uint16(f.code[f.ip])<<8 | uint16(f.code[f.ip+1])))
	f.ip += 2
	return v
}

// VM executes programs against an operand stack, a call-frame stack and a
// table of globals. Globals persist across calls to Run; everything else is
// reset when a Run ends. A VM is not safe for concurrent use, except for
// Interrupt.
type VM struct {
	globals map[string]Value

	stack  []Value
	sp     int
	frames []frame
	open   []*Upvalue // open cells sorted by slot

	maxFrames int
	maxStack  int
	budget    int64
	steps     int64
	trace     TraceHook

	interrupt atomic.Bool
	running   bool
}

// Option configures a VM.
type Option func(*VM)

// WithMaxFrames bounds the call depth.
func WithMaxFrames(n int) Option {
	return func(vm *VM) {
		if n > 0 {
			vm.maxFrames = n
		}
	}
}

// WithMaxStack bounds the operand stack, in values.
func WithMaxStack(n int) Option {
	return func(vm *VM) {
		if n > 0 {
			vm.maxStack = n
		}
	}
}

// WithBudget limits each Run to n instructions. Zero means unlimited.
func WithBudget(n int64) Option {
	return func(vm *VM) { vm.budget = n }
}

// WithTrace installs a hook called before every instruction.
func WithTrace(hook TraceHook) Option {
	return func(vm *VM) { vm.trace = hook }
}

// NewVM creates a VM with no globals defined.
func NewVM(opts ...Option) *VM {
	vm := &VM{
		globals:   make(map[string]Value),
		stack:     make([]Value, 256),
		frames:    make([]frame, 0, 16),
		maxFrames: DefaultMaxFrames,
		maxStack:  DefaultMaxStack,
	}
	for _, opt := range opts {
		opt(vm)
	}
	return vm
}

// SetTraceHook replaces the trace hook; nil disables tracing.
func (vm *VM) SetTraceHook(hook TraceHook) { vm.trace = hook }

// SetBudget changes the instruction budget for subsequent runs.
func (vm *VM) SetBudget(n int64) { vm.budget = n }

// Steps returns the number of instructions executed by the last Run.
func (vm *VM) Steps() int64 { return vm.steps }

// Interrupt asks the running program to stop. It may be called from any
// goroutine; the run ends with ErrInterrupted within checkInterval
// instructions. Each Run clears a pending interrupt when it starts.
func (vm *VM) Interrupt() { vm.interrupt.Store(true) }

// ---------------------------------------------------------------------------
// Globals
// ---------------------------------------------------------------------------

// DefineNative binds a host function as a global.
func (vm *VM) DefineNative(name string, arity int, fn NativeFunc) {
	vm.globals[name] = NativeValue(&Native{Name: name, Arity: arity, Fn: fn})
}

// SetGlobal defines or replaces a global.
func (vm *VM) SetGlobal(name string, v Value) { vm.globals[name] = v }

// Global looks up a global.
func (vm *VM) Global(name string) (Value, bool) {
	v, ok := vm.globals[name]
	return v, ok
}

// Globals returns the names of all globals, sorted.
func (vm *VM) Globals() []string {
	names := make([]string, 0, len(vm.globals))
	for name := range vm.globals {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResetGlobals removes every global, natives included.
func (vm *VM) ResetGlobals() { clear(vm.globals) }

// ---------------------------------------------------------------------------
// Run
// ---------------------------------------------------------------------------

// Run executes prog to completion and returns the value of its last
// expression. Runtime failures are returned as *RuntimeError; afterwards
// the VM holds only its globals and can run another program.
//
// Programs are trusted to be well formed: compiler output always is, and
// decoded programs must pass Validate. A malformed program may panic.
func (vm *VM) Run(ctx context.Context, prog *bytecode.Program) (Value, error) {
	if prog == nil || prog.Main == nil {
		return Nil(), errors.New("vm: no program to run")
	}
	if vm.running {
		return Nil(), errors.New("vm: Run called while already running")
	}
	vm.running = true
	defer func() { vm.running = false }()

	vm.interrupt.Store(false)
	vm.steps = 0
	vm.reset()

	main := &Closure{Proto: prog.Main}
	if 1+main.Proto.StackSize > vm.maxStack {
		return Nil(), &RuntimeError{Message: "stack overflow", Cause: ErrStackOverflow}
	}
	vm.ensureStack(1 + main.Proto.StackSize)
	vm.stack[0] = closureValue(main)
	vm.sp = 1
	vm.frames = append(vm.frames, frame{closure: main, code: main.Proto.Code, base: 1})

	result, err := vm.execute(ctx)
	if err != nil {
		vm.reset()
		return Nil(), err
	}
	return result, nil
}

// reset discards all execution state but the globals.
func (vm *VM) reset() {
	clear(vm.stack[:vm.sp])
	vm.sp = 0
	vm.frames = vm.frames[:0]
	clear(vm.open)
	vm.open = vm.open[:0]
}

// ensureStack grows the stack to hold at least n values.
func (vm *VM) ensureStack(n int) {
	if n <= len(vm.stack) {
		return
	}
	size := max(n, 2*len(vm.stack))
	size = min(size, vm.maxStack)
	grown := make([]Value, size)
	copy(grown, vm.stack[:vm.sp])
	vm.stack = grown
}

func (vm *VM) push(v Value) {
	vm.stack[vm.sp] = v
	vm.sp++
}

func (vm *VM) pop() Value {
	vm.sp--
	v := vm.stack[vm.sp]
	vm.stack[vm.sp] = Value{}
	return v
}

// replace2 pops two operands and pushes v.
func (vm *VM) replace2(v Value) {
	vm.sp--
	vm.stack[vm.sp] = Value{}
	vm.stack[vm.sp-1] = v
}

func (vm *VM) top() *frame {
	return &vm.frames[len(vm.frames)-1]
}

func (vm *VM) interrupted(ctxErr error) *RuntimeError {
	cause := ErrInterrupted
	if ctxErr != nil {
		cause = fmt.Errorf("%w: %w", ErrInterrupted, ctxErr)
	}
	return vm.runtimeError(cause, "interrupted")
}

// execute is the fetch-decode-execute loop.
func (vm *VM) execute(ctx context.Context) (Value, error) {
	f := vm.top()
	for {
		vm.steps++
		if vm.budget > 0 && vm.steps > vm.budget {
			f.at = f.ip
			return Nil(), vm.runtimeError(ErrBudgetExhausted, "instruction budget exhausted")
		}
		if vm.steps%checkInterval == 0 {
			f.at = f.ip
			if vm.interrupt.Load() {
				return Nil(), vm.interrupted(nil)
			}
			if err := ctx.Err(); err != nil {
				return Nil(), vm.interrupted(err)
			}
		}
		if vm.trace != nil {
			vm.traceStep(f)
		}

		f.at = f.ip
		op := bytecode.Opcode(f.code[f.ip])
		f.ip++

		switch op {
		// ============ Stack ============
		case bytecode.OpNop:

		case bytecode.OpPop:
			vm.pop()

		case bytecode.OpDup:
			vm.push(vm.stack[vm.sp-1])

		case bytecode.OpCloseScope:
			n := f.u8()
			result := vm.stack[vm.sp-1]
			from := vm.sp - 1 - n
			vm.closeUpvalues(from)
			clear(vm.stack[from:vm.sp])
			vm.sp = from
			vm.push(result)

		case bytecode.OpDrop:
			n := f.u8()
			from := vm.sp - n
			vm.closeUpvalues(from)
			clear(vm.stack[from:vm.sp])
			vm.sp = from

		// ============ Constants ============
		case bytecode.OpConst:
			c := &f.closure.Proto.Constants[f.u16()]
			switch c.Kind {
			case bytecode.ConstNumber:
				vm.push(Number(c.Num))
			case bytecode.ConstString:
				vm.push(String(c.Str))
			case bytecode.ConstSymbol:
				vm.push(Symbol(c.Str))
			default:
				panic(fmt.Sprintf("vm: CONST of %s constant", c.Kind))
			}

		case bytecode.OpNil:
			vm.push(Nil())

		case bytecode.OpTrue:
			vm.push(Bool(true))

		case bytecode.OpFalse:
			vm.push(Bool(false))

		// ============ Variables ============
		case bytecode.OpGetLocal:
			vm.push(vm.stack[f.base+f.u8()])

		case bytecode.OpSetLocal:
			vm.stack[f.base+f.u8()] = vm.stack[vm.sp-1]

		case bytecode.OpGetUpvalue:
			vm.push(vm.getUpvalue(f.closure.Upvalues[f.u8()]))

		case bytecode.OpSetUpvalue:
			vm.setUpvalue(f.closure.Upvalues[f.u8()], vm.stack[vm.sp-1])

		case bytecode.OpGetGlobal:
			name := f.closure.Proto.Constants[f.u16()].Str
			v, ok := vm.globals[name]
			if !ok {
				return Nil(), vm.runtimeError(nil, "undefined global %q", name)
			}
			vm.push(v)

		case bytecode.OpSetGlobal:
			name := f.closure.Proto.Constants[f.u16()].Str
			if _, ok := vm.globals[name]; !ok {
				return Nil(), vm.runtimeError(nil, "undefined global %q", name)
			}
			vm.globals[name] = vm.stack[vm.sp-1]

		case bytecode.OpDefineGlobal:
			name := f.closure.Proto.Constants[f.u16()].Str
			vm.globals[name] = vm.pop()

		// ============ Arithmetic ============
		case bytecode.OpAdd:
			a, b := vm.stack[vm.sp-2], vm.stack[vm.sp-1]
			switch {
			case a.kind == KindNumber && b.kind == KindNumber:
				vm.replace2(Number(a.num + b.num))
			case a.kind == KindString && b.kind == KindString:
				vm.replace2(String(a.str + b.str))
			default:
				return Nil(), vm.mismatch(op, a, b)
			}

		case bytecode.OpSub, bytecode.OpMul, bytecode.OpDiv, bytecode.OpRem, bytecode.OpPow:
			a, b := vm.stack[vm.sp-2], vm.stack[vm.sp-1]
			if a.kind != KindNumber || b.kind != KindNumber {
				return Nil(), vm.mismatch(op, a, b)
			}
			vm.replace2(Number(arith(op, a.num, b.num)))

		case bytecode.OpNeg:
			a := vm.stack[vm.sp-1]
			if a.kind != KindNumber {
				return Nil(), vm.unaryMismatch("-", a)
			}
			vm.stack[vm.sp-1] = Number(-a.num)

		// ============ Bitwise ============
		case bytecode.OpBitAnd, bytecode.OpBitOr, bytecode.OpShl, bytecode.OpShr:
			a, b := vm.stack[vm.sp-2], vm.stack[vm.sp-1]
			if a.kind != KindNumber || b.kind != KindNumber {
				return Nil(), vm.mismatch(op, a, b)
			}
			x, err := vm.integer(a)
			if err != nil {
				return Nil(), err
			}
			y, err := vm.integer(b)
			if err != nil {
				return Nil(), err
			}
			var r int64
			switch op {
			case bytecode.OpBitAnd:
				r = x & y
			case bytecode.OpBitOr:
				r = x | y
			case bytecode.OpShl, bytecode.OpShr:
				if y < 0 {
					return Nil(), vm.runtimeError(nil, "negative shift count %d", y)
				}
				if op == bytecode.OpShl {
					r = x << y
				} else {
					r = x >> y
				}
			}
			vm.replace2(Number(float64(r)))

		case bytecode.OpBitNot:
			a := vm.stack[vm.sp-1]
			if a.kind != KindNumber {
				return Nil(), vm.unaryMismatch("~", a)
			}
			x, err := vm.integer(a)
			if err != nil {
				return Nil(), err
			}
			vm.stack[vm.sp-1] = Number(float64(^x))

		// ============ Logic and comparison ============
		case bytecode.OpNot:
			vm.stack[vm.sp-1] = Bool(!vm.stack[vm.sp-1].Truthy())

		case bytecode.OpEq:
			vm.replace2(Bool(vm.stack[vm.sp-2].Equal(vm.stack[vm.sp-1])))

		case bytecode.OpNe:
			vm.replace2(Bool(!vm.stack[vm.sp-2].Equal(vm.stack[vm.sp-1])))

		case bytecode.OpLt, bytecode.OpLe, bytecode.OpGt, bytecode.OpGe:
			a, b := vm.stack[vm.sp-2], vm.stack[vm.sp-1]
			var c int
			switch {
			case a.kind == KindNumber && b.kind == KindNumber:
				if math.IsNaN(a.num) || math.IsNaN(b.num) {
					vm.replace2(Bool(false))
					continue
				}
				c = compare(a.num, b.num)
			case a.kind == KindString && b.kind == KindString:
				c = compare(a.str, b.str)
			default:
				return Nil(), vm.mismatch(op, a, b)
			}
			vm.replace2(Bool(ordered(op, c)))

		// ============ Control flow ============
		case bytecode.OpJump:
			off := f.i16()
			f.ip += off

		case bytecode.OpJumpIfFalse:
			off := f.i16()
			if !vm.pop().Truthy() {
				f.ip += off
			}

		case bytecode.OpJumpIfNotNil:
			off := f.i16()
			if !vm.pop().IsNil() {
				f.ip += off
			}

		// ============ Functions ============
		case bytecode.OpClosure:
			proto := f.closure.Proto.Constants[f.u16()].Proto
			c := &Closure{Proto: proto, Upvalues: make([]*Upvalue, len(proto.Upvalues))}
			for i, d := range proto.Upvalues {
				if d.FromLocal {
					c.Upvalues[i] = vm.captureUpvalue(f.base + int(d.Index))
				} else {
					c.Upvalues[i] = f.closure.Upvalues[d.Index]
				}
			}
			vm.push(closureValue(c))

		case bytecode.OpCall:
			argc := f.u8()
			if err := vm.call(vm.stack[vm.sp-1-argc], argc); err != nil {
				return Nil(), err
			}
			f = vm.top()

		case bytecode.OpReturn:
			result := vm.pop()
			vm.closeUpvalues(f.base)
			callee := f.base - 1
			clear(vm.stack[callee:vm.sp])
			vm.sp = callee
			vm.frames = vm.frames[:len(vm.frames)-1]
			if len(vm.frames) == 0 {
				return result, nil
			}
			vm.push(result)
			f = vm.top()

		// ============ Lists ============
		case bytecode.OpList:
			n := f.u16()
			vm.push(ListValue(&List{Elems: vm.popN(n)}))

		// ============ Tuples ============
		case bytecode.OpTuple:
			n := f.u16()
			vm.push(TupleValue(&Tuple{Elems: vm.popN(n)}))

		case bytecode.OpTaggedTuple:
			n := f.u16()
			elems := vm.popN(n)
			tag, ok := vm.stack[vm.sp-1].AsSymbol()
			if !ok {
				return Nil(), vm.runtimeError(nil, "tuple tag must be a symbol, got %s", vm.stack[vm.sp-1].kind)
			}
			vm.stack[vm.sp-1] = TupleValue(&Tuple{Tag: tag, Elems: elems})

		case bytecode.OpIndex:
			v, err := vm.index(vm.stack[vm.sp-2], vm.stack[vm.sp-1])
			if err != nil {
				return Nil(), err
			}
			vm.replace2(v)

		case bytecode.OpSetIndex:
			x, i, v := vm.stack[vm.sp-3], vm.stack[vm.sp-2], vm.stack[vm.sp-1]
			l, ok := x.AsList()
			if !ok {
				return Nil(), vm.runtimeError(nil, "cannot assign to an element of %s", x.kind)
			}
			k, err := vm.elemIndex(i, len(l.Elems))
			if err != nil {
				return Nil(), err
			}
			l.Elems[k] = v
			clear(vm.stack[vm.sp-3 : vm.sp])
			vm.sp -= 3
			vm.push(v)

		default:
			panic(fmt.Sprintf("vm: unknown opcode 0x%02X at %s+%04d", byte(op), f.closure.Proto.DisplayName(), f.at))
		}
	}
}

// call enters callee with the argc values on top of the stack as
// arguments. Natives run to completion immediately.
func (vm *VM) call(callee Value, argc int) error {
	switch callee.kind {
	case KindClosure:
		c := callee.obj.(*Closure)
		if argc != c.Proto.Arity {
			return vm.runtimeError(nil, "%s expected %s but got %d", c.Name(), arguments(c.Proto.Arity), argc)
		}
		if len(vm.frames) >= vm.maxFrames {
			return vm.runtimeError(ErrStackOverflow, "stack overflow")
		}
		base := vm.sp - argc
		need := base + c.Proto.StackSize
		if need > vm.maxStack {
			return vm.runtimeError(ErrStackOverflow, "stack overflow")
		}
		vm.ensureStack(need)
		vm.frames = append(vm.frames, frame{closure: c, code: c.Proto.Code, base: base})
		return nil

	case KindNative:
		n := callee.obj.(*Native)
		if n.Arity >= 0 && argc != n.Arity {
			return vm.runtimeError(nil, "%s expected %s but got %d", n.Name, arguments(n.Arity), argc)
		}
		args := make([]Value, argc)
		copy(args, vm.stack[vm.sp-argc:vm.sp])
		result, err := n.Fn(args)
		if err != nil {
			return vm.runtimeError(err, "%s: %v", n.Name, err)
		}
		callee := vm.sp - argc - 1
		clear(vm.stack[callee:vm.sp])
		vm.sp = callee
		vm.push(result)
		return nil
	}
	return vm.runtimeError(nil, "cannot call %s", callee.kind)
}

func arguments(n int) string {
	if n == 1 {
		return "1 argument"
	}
	return fmt.Sprintf("%d arguments", n)
}

// ---------------------------------------------------------------------------
// Operators
// ---------------------------------------------------------------------------

var operatorSymbols = map[bytecode.Opcode]string{
	bytecode.OpAdd:    "+",
	bytecode.OpSub:    "-",
	bytecode.OpMul:    "*",
	bytecode.OpDiv:    "/",
	bytecode.OpRem:    "%",
	bytecode.OpPow:    "^",
	bytecode.OpBitAnd: "&",
	bytecode.OpBitOr:  "|",
	bytecode.OpShl:    "<<",
	bytecode.OpShr:    ">>",
	bytecode.OpLt:     "<",
	bytecode.OpLe:     "<=",
	bytecode.OpGt:     ">",
	bytecode.OpGe:     ">=",
}

func (vm *VM) mismatch(op bytecode.Opcode, a, b Value) *RuntimeError {
	return vm.runtimeError(nil, "operand type mismatch: %s %s %s", a.kind, operatorSymbols[op], b.kind)
}

func (vm *VM) unaryMismatch(op string, a Value) *RuntimeError {
	return vm.runtimeError(nil, "operand type mismatch: %s%s", op, a.kind)
}

func arith(op bytecode.Opcode, a, b float64) float64 {
	switch op {
	case bytecode.OpSub:
		return a - b
	case bytecode.OpMul:
		return a * b
	case bytecode.OpDiv:
		return a / b
	case bytecode.OpRem:
		return math.Mod(a, b)
	case bytecode.OpPow:
		return math.Pow(a, b)
	}
	panic("vm: not an arithmetic opcode: " + op.String())
}

func compare[T float64 | string](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func ordered(op bytecode.Opcode, c int) bool {
	switch op {
	case bytecode.OpLt:
		return c < 0
	case bytecode.OpLe:
		return c <= 0
	case bytecode.OpGt:
		return c > 0
	}
	return c >= 0
}

// toInt converts an integral number in int64 range.
func toInt(f float64) (int64, bool) {
	if f != math.Trunc(f) || f < -(1<<63) || f >= 1<<63 {
		return 0, false // NaN fails the first test
	}
	return int64(f), true
}

func (vm *VM) integer(v Value) (int64, *RuntimeError) {
	n, ok := toInt(v.num)
	if !ok {
		return 0, vm.runtimeError(nil, "bitwise operand must be an integer, got %s", v)
	}
	return n, nil
}

// elemIndex resolves i against a sequence of length n. Negative indices
// count from the end.
func (vm *VM) elemIndex(i Value, n int) (int, *RuntimeError) {
	if i.kind != KindNumber {
		return 0, vm.runtimeError(nil, "index must be a number, got %s", i.kind)
	}
	k, ok := toInt(i.num)
	if !ok {
		return 0, vm.runtimeError(nil, "index must be an integer, got %s", i)
	}
	if k < 0 {
		k += int64(n)
	}
	if k < 0 || k >= int64(n) {
		return 0, vm.runtimeError(nil, "index %s out of range for length %d", i, n)
	}
	return int(k), nil
}

// popN removes the top n values and returns them in push order.
func (vm *VM) popN(n int) []Value {
	elems := make([]Value, n)
	copy(elems, vm.stack[vm.sp-n:vm.sp])
	clear(vm.stack[vm.sp-n : vm.sp])
	vm.sp -= n
	return elems
}

func (vm *VM) index(x, i Value) (Value, *RuntimeError) {
	switch x.kind {
	case KindList:
		l := x.obj.(*List)
		k, err := vm.elemIndex(i, len(l.Elems))
		if err != nil {
			return Nil(), err
		}
		return l.Elems[k], nil
	case KindTuple:
		t := x.obj.(*Tuple)
		k, err := vm.elemIndex(i, len(t.Elems))
		if err != nil {
			return Nil(), err
		}
		return t.Elems[k], nil
	case KindString:
		k, err := vm.elemIndex(i, len(x.str))
		if err != nil {
			return Nil(), err
		}
		return String(x.str[k : k+1]), nil
	}
	return Nil(), vm.runtimeError(nil, "cannot index %s", x.kind)
}
