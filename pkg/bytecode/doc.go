// Package bytecode defines the compiled form of Kurt programs: the
// instruction set, function prototypes with their constant pools and line
// tables, a disassembler and a CBOR wire format.
//
// # Instruction encoding
//
// Every instruction is a one-byte opcode followed by zero, one or two
// operand bytes. Two-byte operands are big-endian; jump operands are signed
// and relative to the end of the jump instruction.
//
//   - Local slots and upvalue indices are u8, so a function has at most 256
//     live slots and 256 captured cells.
//   - Constant, global-name and closure operands are u16 indices into the
//     prototype's constant pool.
//
// # Calling convention
//
// A call leaves the callee on the stack below its arguments. The callee's
// frame base is the slot of its first argument, so parameters are local
// slots 0..arity-1 and later bindings occupy the slots above them.
//
// # Closures
//
// A Proto lists one UpvalueDesc per captured variable. When OpClosure runs,
// each descriptor takes either the cell of a slot in the creating frame
// (FromLocal) or an already-captured cell of the creating closure. Cells are
// shared, so every closure over one variable observes the same value.
package bytecode
