package bytecode

import (
	"strings"
	"testing"
)

func TestAllOpcodesHaveMetadata(t *testing.T) {
	// Ensure every defined opcode has metadata
	for _, op := range AllOpcodes() {
		info := GetOpcodeInfo(op)
		if info.Name == "" || strings.HasPrefix(info.Name, "UNKNOWN") {
			t.Errorf("Opcode 0x%02X has no metadata", byte(op))
		}
	}
}

func TestOpcodeNamesUnique(t *testing.T) {
	seen := make(map[string]Opcode)
	for _, op := range AllOpcodes() {
		name := op.String()
		if prev, ok := seen[name]; ok {
			t.Errorf("opcodes 0x%02X and 0x%02X share name %q", byte(prev), byte(op), name)
		}
		seen[name] = op
	}
}

func TestOpcodeString(t *testing.T) {
	tests := []struct {
		op   Opcode
		want string
	}{
		{OpNop, "NOP"},
		{OpPop, "POP"},
		{OpCloseScope, "CLOSE_SCOPE"},
		{OpConst, "CONST"},
		{OpGetLocal, "GET_LOCAL"},
		{OpDefineGlobal, "DEFINE_GLOBAL"},
		{OpAdd, "ADD"},
		{OpEq, "EQ"},
		{OpJumpIfFalse, "JUMP_IF_FALSE"},
		{OpClosure, "CLOSURE"},
		{OpReturn, "RETURN"},
		{OpSetIndex, "SET_INDEX"},
	}

	for _, tt := range tests {
		got := tt.op.String()
		if got != tt.want {
			t.Errorf("Opcode(0x%02X).String() = %q, want %q", byte(tt.op), got, tt.want)
		}
	}
}

func TestUnknownOpcodeString(t *testing.T) {
	op := Opcode(0xEE) // Not defined
	if op.Valid() {
		t.Fatalf("Opcode(0xEE).Valid() = true")
	}
	if got := op.String(); !strings.HasPrefix(got, "UNKNOWN") {
		t.Errorf("Unknown opcode should return UNKNOWN, got %q", got)
	}
}

func TestOpcodeOperandLen(t *testing.T) {
	tests := []struct {
		op   Opcode
		want int
	}{
		{OpNop, 0},
		{OpPop, 0},
		{OpConst, 2},      // u16 index
		{OpGetLocal, 1},   // u8 slot
		{OpGetUpvalue, 1}, // u8 index
		{OpGetGlobal, 2},  // u16 name
		{OpJump, 2},       // i16 offset
		{OpCall, 1},       // u8 argc
		{OpClosure, 2},    // u16 proto
		{OpList, 2},       // u16 count
		{OpTuple, 2},      // u16 count
		{OpCloseScope, 1}, // u8 count
	}

	for _, tt := range tests {
		if got := tt.op.OperandLen(); got != tt.want {
			t.Errorf("%s.OperandLen() = %d, want %d", tt.op, got, tt.want)
		}
		if got := tt.op.InstructionLen(); got != tt.want+1 {
			t.Errorf("%s.InstructionLen() = %d, want %d", tt.op, got, tt.want+1)
		}
	}
}

func TestStackEffect(t *testing.T) {
	tests := []struct {
		op      Opcode
		operand int
		want    int
	}{
		{OpConst, 0, 1},
		{OpPop, 0, -1},
		{OpAdd, 0, -1},
		{OpSetLocal, 0, 0},
		{OpDefineGlobal, 0, -1},
		{OpCall, 0, 0},  // callee replaced by result
		{OpCall, 3, -3}, // callee and 3 args replaced by result
		{OpList, 0, 1},
		{OpList, 4, -3},
		{OpTuple, 0, 1},
		{OpTuple, 2, -1},
		{OpTaggedTuple, 0, 0},
		{OpTaggedTuple, 2, -2},
		{OpCloseScope, 2, -2},
		{OpDrop, 3, -3},
		{OpSetIndex, 0, -2},
		{OpJumpIfFalse, 0, -1},
		{OpReturn, 0, -1},
	}

	for _, tt := range tests {
		if got := tt.op.StackEffect(tt.operand); got != tt.want {
			t.Errorf("%s.StackEffect(%d) = %d, want %d", tt.op, tt.operand, got, tt.want)
		}
	}
}

func TestIsJump(t *testing.T) {
	for _, op := range AllOpcodes() {
		want := op == OpJump || op == OpJumpIfFalse || op == OpJumpIfNotNil
		if got := op.IsJump(); got != want {
			t.Errorf("%s.IsJump() = %v, want %v", op, got, want)
		}
	}
}
