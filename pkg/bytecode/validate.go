package bytecode

import "fmt"

// ValidationError describes a structurally invalid prototype.
type ValidationError struct {
	Proto  string
	Offset int
	Msg    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("bytecode: %s+%04d: %s", e.Proto, e.Offset, e.Msg)
}

// Validate checks every prototype of the program so that executing it can
// never index outside the code, the constant pool, the frame's slots or the
// closure's upvalues, and never pops below the frame base. Programs decoded
// from untrusted bytes must pass Validate before they are run.
func (prog *Program) Validate() error {
	if prog == nil || prog.Main == nil {
		return &ValidationError{Proto: "<program>", Msg: "missing entry function"}
	}
	if prog.Main.Arity != 0 || len(prog.Main.Upvalues) != 0 {
		return &ValidationError{Proto: prog.Main.DisplayName(), Msg: "entry function takes no arguments or upvalues"}
	}
	var err error
	prog.Walk(func(p *Proto) {
		if err == nil {
			err = validateProto(p)
		}
	})
	return err
}

func validateProto(p *Proto) error {
	fail := func(off int, format string, args ...any) error {
		return &ValidationError{Proto: p.DisplayName(), Offset: off, Msg: fmt.Sprintf(format, args...)}
	}

	if p.Arity < 0 || p.Arity > MaxArgs || p.StackSize < p.Arity {
		return fail(0, "bad arity %d or stack size %d", p.Arity, p.StackSize)
	}
	if len(p.Code) == 0 {
		return fail(0, "empty code")
	}

	// Decode instruction boundaries first.
	starts := make(map[int]bool)
	last := 0
	for off := 0; off < len(p.Code); {
		op := Opcode(p.Code[off])
		if !op.Valid() {
			return fail(off, "unknown opcode 0x%02X", byte(op))
		}
		if off+op.InstructionLen() > len(p.Code) {
			return fail(off, "truncated %s", op)
		}
		starts[off] = true
		last = off
		off += op.InstructionLen()
	}
	if final := Opcode(p.Code[last]); final != OpReturn && final != OpJump {
		return fail(last, "code falls off the end after %s", final)
	}

	for _, c := range p.Constants {
		if c.Kind == ConstProto {
			if c.Proto == nil {
				return fail(0, "nil function constant")
			}
			for i, uv := range c.Proto.Upvalues {
				if uv.FromLocal && int(uv.Index) >= p.StackSize {
					return fail(0, "%s upvalue %d captures slot %d beyond stack size %d",
						c.Proto.DisplayName(), i, uv.Index, p.StackSize)
				}
				if !uv.FromLocal && int(uv.Index) >= len(p.Upvalues) {
					return fail(0, "%s upvalue %d forwards missing upvalue %d",
						c.Proto.DisplayName(), i, uv.Index)
				}
			}
		}
	}

	// Abstract interpretation of operand depth along every reachable path.
	depth := make(map[int]int, len(starts))
	work := []int{0}
	depth[0] = p.Arity
	for len(work) > 0 {
		off := work[len(work)-1]
		work = work[:len(work)-1]
		d := depth[off]
		op := Opcode(p.Code[off])
		operand := p.Operand(off)

		if err := checkOperand(p, op, operand, d); err != nil {
			return fail(off, "%s: %v", op, err)
		}

		info := GetOpcodeInfo(op)
		pops := info.StackPop
		switch op {
		case OpCloseScope:
			pops = operand + 1
		case OpDrop, OpList, OpTuple:
			pops = operand
		case OpCall, OpTaggedTuple:
			pops = operand + 1
		}
		if d-pops < 0 {
			return fail(off, "%s pops below frame base (depth %d)", op, d)
		}
		next := d + op.StackEffect(operand)
		if next > p.StackSize {
			return fail(off, "depth %d exceeds stack size %d", next, p.StackSize)
		}

		var succs []int
		end := off + op.InstructionLen()
		switch op {
		case OpReturn:
		case OpJump:
			succs = []int{end + operand}
		case OpJumpIfFalse, OpJumpIfNotNil:
			succs = []int{end, end + operand}
		default:
			succs = []int{end}
		}
		for _, s := range succs {
			if !starts[s] {
				return fail(off, "%s targets %04d, not an instruction", op, s)
			}
			if prev, seen := depth[s]; seen {
				if prev != next {
					return fail(s, "inconsistent stack depth %d vs %d", prev, next)
				}
				continue
			}
			depth[s] = next
			work = append(work, s)
		}
	}
	return nil
}

func checkOperand(p *Proto, op Opcode, operand, depth int) error {
	switch op {
	case OpConst:
		if operand >= len(p.Constants) {
			return fmt.Errorf("constant %d out of range", operand)
		}
		if p.Constants[operand].Kind == ConstProto {
			return fmt.Errorf("constant %d is a function", operand)
		}
	case OpGetGlobal, OpSetGlobal, OpDefineGlobal:
		if operand >= len(p.Constants) || p.Constants[operand].Kind != ConstSymbol {
			return fmt.Errorf("global name %d is not a symbol constant", operand)
		}
	case OpClosure:
		if operand >= len(p.Constants) || p.Constants[operand].Kind != ConstProto {
			return fmt.Errorf("constant %d is not a function", operand)
		}
	case OpGetLocal, OpSetLocal:
		if operand >= depth {
			return fmt.Errorf("slot %d not live at depth %d", operand, depth)
		}
	case OpGetUpvalue, OpSetUpvalue:
		if operand >= len(p.Upvalues) {
			return fmt.Errorf("upvalue %d out of range", operand)
		}
	}
	return nil
}
