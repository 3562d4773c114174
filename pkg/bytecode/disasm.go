package bytecode

import (
	"fmt"
	"strings"
)

// Disassemble returns a human-readable listing of the program: the entry
// function followed by every nested function, parents first. It is a pure
// function of the program.
func Disassemble(prog *Program) string {
	var sb strings.Builder
	if prog.Name != "" {
		fmt.Fprintf(&sb, "; Kurt bytecode v%d: %s\n\n", FormatVersion, prog.Name)
	} else {
		fmt.Fprintf(&sb, "; Kurt bytecode v%d\n\n", FormatVersion)
	}
	first := true
	prog.Walk(func(p *Proto) {
		if !first {
			sb.WriteString("\n")
		}
		first = false
		sb.WriteString(DisassembleProto(p))
	})
	return sb.String()
}

// DisassembleProto returns the listing of a single prototype, without its
// nested functions.
func DisassembleProto(p *Proto) string {
	var sb strings.Builder

	// Header
	fmt.Fprintf(&sb, "; === %s (arity %d, locals %d, stack %d, upvalues %d) ===\n",
		p.DisplayName(), p.Arity, p.LocalCount, p.StackSize, len(p.Upvalues))

	// Constants
	if len(p.Constants) > 0 {
		sb.WriteString("; Constants:\n")
		for i, c := range p.Constants {
			fmt.Fprintf(&sb, ";   [%3d] %-8s %s\n", i, c.Kind, truncate(c.String(), 40))
		}
	}

	// Upvalues
	if len(p.Upvalues) > 0 {
		sb.WriteString("; Upvalues:\n")
		for i, uv := range p.Upvalues {
			src := "upvalue"
			if uv.FromLocal {
				src = "local"
			}
			fmt.Fprintf(&sb, ";   [%3d] %s (%s %d)\n", i, uv.Name, src, uv.Index)
		}
	}

	// Code section
	lastLine := 0
	for offset := 0; offset < len(p.Code); {
		line := p.SpanAt(offset).Start.Line
		lineCol := "   |"
		if line != lastLine {
			lineCol = fmt.Sprintf("%4d", line)
			lastLine = line
		}
		text, n := disassembleInstruction(p, offset)
		fmt.Fprintf(&sb, "%04d %s  %s\n", offset, lineCol, text)
		offset += n
	}

	return sb.String()
}

// disassembleInstruction disassembles a single instruction at the given offset.
// Returns the formatted string and the instruction length.
func disassembleInstruction(p *Proto, offset int) (string, int) {
	op := Opcode(p.Code[offset])
	if !op.Valid() {
		return op.String(), 1
	}
	n := op.InstructionLen()
	if offset+n > len(p.Code) {
		return fmt.Sprintf("%s <truncated>", op), len(p.Code) - offset
	}
	operand := p.Operand(offset)

	switch op {
	case OpConst, OpGetGlobal, OpSetGlobal, OpDefineGlobal, OpClosure:
		return fmt.Sprintf("%-15s %4d ; %s", op, operand, constantComment(p, operand)), n

	case OpJump, OpJumpIfFalse, OpJumpIfNotNil:
		return fmt.Sprintf("%-15s %+4d ; -> %04d", op, operand, offset+n+operand), n

	case OpGetUpvalue, OpSetUpvalue:
		name := ""
		if operand < len(p.Upvalues) {
			name = p.Upvalues[operand].Name
		}
		return fmt.Sprintf("%-15s %4d ; %s", op, operand, name), n
	}

	if op.OperandLen() > 0 {
		return fmt.Sprintf("%-15s %4d", op, operand), n
	}
	return op.String(), n
}

func constantComment(p *Proto, idx int) string {
	if idx >= len(p.Constants) {
		return "<bad constant>"
	}
	return truncate(p.Constants[idx].String(), 30)
}

func truncate(s string, max int) string {
	if len(s) > max {
		return s[:max-3] + "..."
	}
	return s
}
