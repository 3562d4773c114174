package bytecode

import "fmt"

// Opcode represents a bytecode instruction.
// Opcodes are organized into ranges by category for easy identification.
type Opcode byte

const (
	// ========================================================================
	// Stack manipulation (0x00-0x0F)
	// ========================================================================

	OpNop        Opcode = 0x00 // No operation
	OpPop        Opcode = 0x01 // Pop top of stack
	OpDup        Opcode = 0x02 // Duplicate top of stack
	OpCloseScope Opcode = 0x03 // Keep top, drop n values below it: OpCloseScope <n:u8>
	OpDrop       Opcode = 0x04 // Drop n values: OpDrop <n:u8>

	// ========================================================================
	// Constants (0x10-0x1F)
	// ========================================================================

	OpConst Opcode = 0x10 // Push constant from pool: OpConst <index:u16>
	OpNil   Opcode = 0x11 // Push nil
	OpTrue  Opcode = 0x12 // Push true
	OpFalse Opcode = 0x13 // Push false

	// ========================================================================
	// Variables (0x20-0x2F)
	// ========================================================================

	OpGetLocal     Opcode = 0x20 // Push local slot: OpGetLocal <slot:u8>
	OpSetLocal     Opcode = 0x21 // Store top into local slot, leave it: OpSetLocal <slot:u8>
	OpGetUpvalue   Opcode = 0x22 // Push captured cell value: OpGetUpvalue <index:u8>
	OpSetUpvalue   Opcode = 0x23 // Store top into captured cell, leave it: OpSetUpvalue <index:u8>
	OpGetGlobal    Opcode = 0x24 // Push global: OpGetGlobal <name:u16>
	OpSetGlobal    Opcode = 0x25 // Store top into an existing global, leave it: OpSetGlobal <name:u16>
	OpDefineGlobal Opcode = 0x26 // Pop into global, creating it: OpDefineGlobal <name:u16>

	// ========================================================================
	// Arithmetic (0x30-0x3F)
	// ========================================================================

	OpAdd Opcode = 0x30 // Pop two, push sum or concatenation
	OpSub Opcode = 0x31 // Pop two, push difference (a - b where b is TOS)
	OpMul Opcode = 0x32 // Pop two, push product
	OpDiv Opcode = 0x33 // Pop two, push quotient
	OpRem Opcode = 0x34 // Pop two, push remainder
	OpPow Opcode = 0x35 // Pop two, push a raised to b
	OpNeg Opcode = 0x36 // Negate top

	// ========================================================================
	// Bitwise (0x40-0x4F)
	// ========================================================================

	OpBitAnd Opcode = 0x40
	OpBitOr  Opcode = 0x41
	OpShl    Opcode = 0x42
	OpShr    Opcode = 0x43 // Arithmetic shift
	OpBitNot Opcode = 0x44

	// ========================================================================
	// Logic and comparison (0x50-0x5F)
	// ========================================================================

	OpNot Opcode = 0x50
	OpEq  Opcode = 0x51
	OpNe  Opcode = 0x52
	OpLt  Opcode = 0x53
	OpLe  Opcode = 0x54
	OpGt  Opcode = 0x55
	OpGe  Opcode = 0x56

	// ========================================================================
	// Control flow (0x60-0x6F)
	// ========================================================================

	OpJump         Opcode = 0x60 // Unconditional: OpJump <offset:i16>
	OpJumpIfFalse  Opcode = 0x61 // Pop, jump if falsy: OpJumpIfFalse <offset:i16>
	OpJumpIfNotNil Opcode = 0x62 // Pop, jump if not nil: OpJumpIfNotNil <offset:i16>

	// ========================================================================
	// Functions (0x70-0x7F)
	// ========================================================================

	OpClosure Opcode = 0x70 // Push closure over prototype constant: OpClosure <proto:u16>
	OpCall    Opcode = 0x71 // Call callee below argc arguments: OpCall <argc:u8>
	OpReturn  Opcode = 0x72 // Return top to caller

	// ========================================================================
	// Lists (0x80-0x8F)
	// ========================================================================

	OpList     Opcode = 0x80 // Pop n values into a new list: OpList <n:u16>
	OpIndex    Opcode = 0x81 // Pop list and index, push element
	OpSetIndex Opcode = 0x82 // Pop list, index and value, store, push value

	// ========================================================================
	// Tuples (0x90-0x9F)
	// ========================================================================

	OpTuple       Opcode = 0x90 // Pop n values into a new tuple: OpTuple <n:u16>
	OpTaggedTuple Opcode = 0x91 // Pop a tag symbol and n values above it: OpTaggedTuple <n:u16>
)

// OpcodeInfo contains metadata about an opcode.
type OpcodeInfo struct {
	Name       string // Human-readable name
	StackPop   int    // Number of values popped (-1 = depends on operand)
	StackPush  int    // Number of values pushed
	OperandLen int    // Number of operand bytes
}

// opcodeInfoTable maps opcodes to their metadata.
var opcodeInfoTable = map[Opcode]OpcodeInfo{
	// Stack
	OpNop:        {"NOP", 0, 0, 0},
	OpPop:        {"POP", 1, 0, 0},
	OpDup:        {"DUP", 1, 2, 0},
	OpCloseScope: {"CLOSE_SCOPE", -1, 1, 1}, // Pops n+1
	OpDrop:       {"DROP", -1, 0, 1},

	// Constants
	OpConst: {"CONST", 0, 1, 2},
	OpNil:   {"NIL", 0, 1, 0},
	OpTrue:  {"TRUE", 0, 1, 0},
	OpFalse: {"FALSE", 0, 1, 0},

	// Variables
	OpGetLocal:     {"GET_LOCAL", 0, 1, 1},
	OpSetLocal:     {"SET_LOCAL", 1, 1, 1},
	OpGetUpvalue:   {"GET_UPVALUE", 0, 1, 1},
	OpSetUpvalue:   {"SET_UPVALUE", 1, 1, 1},
	OpGetGlobal:    {"GET_GLOBAL", 0, 1, 2},
	OpSetGlobal:    {"SET_GLOBAL", 1, 1, 2},
	OpDefineGlobal: {"DEFINE_GLOBAL", 1, 0, 2},

	// Arithmetic
	OpAdd: {"ADD", 2, 1, 0},
	OpSub: {"SUB", 2, 1, 0},
	OpMul: {"MUL", 2, 1, 0},
	OpDiv: {"DIV", 2, 1, 0},
	OpRem: {"REM", 2, 1, 0},
	OpPow: {"POW", 2, 1, 0},
	OpNeg: {"NEG", 1, 1, 0},

	// Bitwise
	OpBitAnd: {"BIT_AND", 2, 1, 0},
	OpBitOr:  {"BIT_OR", 2, 1, 0},
	OpShl:    {"SHL", 2, 1, 0},
	OpShr:    {"SHR", 2, 1, 0},
	OpBitNot: {"BIT_NOT", 1, 1, 0},

	// Logic and comparison
	OpNot: {"NOT", 1, 1, 0},
	OpEq:  {"EQ", 2, 1, 0},
	OpNe:  {"NE", 2, 1, 0},
	OpLt:  {"LT", 2, 1, 0},
	OpLe:  {"LE", 2, 1, 0},
	OpGt:  {"GT", 2, 1, 0},
	OpGe:  {"GE", 2, 1, 0},

	// Control flow
	OpJump:         {"JUMP", 0, 0, 2},
	OpJumpIfFalse:  {"JUMP_IF_FALSE", 1, 0, 2},
	OpJumpIfNotNil: {"JUMP_IF_NOT_NIL", 1, 0, 2},

	// Functions
	OpClosure: {"CLOSURE", 0, 1, 2},
	OpCall:    {"CALL", -1, 1, 1}, // Pops callee + argc
	OpReturn:  {"RETURN", 1, 0, 0},

	// Lists
	OpList:     {"LIST", -1, 1, 2},
	OpIndex:    {"INDEX", 2, 1, 0},
	OpSetIndex: {"SET_INDEX", 3, 1, 0},

	// Tuples
	OpTuple:       {"TUPLE", -1, 1, 2},
	OpTaggedTuple: {"TAGGED_TUPLE", -1, 1, 2}, // Pops tag + n
}

// GetOpcodeInfo returns metadata for an opcode.
// Returns a zero OpcodeInfo with name "UNKNOWN" if the opcode is not recognized.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info, ok := opcodeInfoTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))}
}

// Valid reports whether op is a defined opcode.
func (op Opcode) Valid() bool {
	_, ok := opcodeInfoTable[op]
	return ok
}

// String returns the human-readable name of an opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// OperandLen returns the number of operand bytes for this opcode.
func (op Opcode) OperandLen() int {
	return GetOpcodeInfo(op).OperandLen
}

// InstructionLen returns the total length of an instruction (1 + operand bytes).
func (op Opcode) InstructionLen() int {
	return 1 + op.OperandLen()
}

// IsJump returns true if this opcode is a jump instruction.
func (op Opcode) IsJump() bool {
	return op >= OpJump && op <= OpJumpIfNotNil
}

// StackEffect returns the net change in stack depth caused by executing op
// with the given operand.
func (op Opcode) StackEffect(operand int) int {
	switch op {
	case OpCloseScope, OpDrop, OpList, OpTuple, OpTaggedTuple:
		return GetOpcodeInfo(op).StackPush - operand - boolInt(op == OpCloseScope || op == OpTaggedTuple)
	case OpCall:
		return 1 - (operand + 1)
	}
	info := GetOpcodeInfo(op)
	return info.StackPush - info.StackPop
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// AllOpcodes returns a slice of all defined opcodes.
// Useful for testing that all opcodes have metadata.
func AllOpcodes() []Opcode {
	opcodes := make([]Opcode, 0, len(opcodeInfoTable))
	for op := range opcodeInfoTable {
		opcodes = append(opcodes, op)
	}
	return opcodes
}
