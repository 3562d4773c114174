package hash

import (
	"encoding/binary"
	"math"

	"github.com/chazu/kurt/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Deterministic binary serialization of compiled programs for hashing.
//
// Only what affects execution is written: arity, frame sizes, upvalue
// capture descriptors, code bytes and constants. Names, spans and line
// tables are skipped, so reformatting a script or renaming its locals does
// not change its hash.
//
// Encoding conventions:
//   - First byte: HashVersion
//   - Integers: big-endian fixed-width (uint16=2B, uint32=4B)
//   - Floats: IEEE 754 bit pattern, big-endian 8B
//   - Strings and byte runs: uint32 big-endian length + bytes
//   - Nested prototypes: serialized inline where their constant appears
// ---------------------------------------------------------------------------

// Serialize produces the hashing serialization of prog.
func Serialize(prog *bytecode.Program) []byte {
	s := &serializer{buf: make([]byte, 0, 256)}
	s.writeByte(HashVersion)
	if prog != nil && prog.Main != nil {
		s.serializeProto(prog.Main)
	}
	return s.buf
}

type serializer struct {
	buf []byte
}

func (s *serializer) writeByte(b byte) {
	s.buf = append(s.buf, b)
}

func (s *serializer) writeUint16(v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	s.buf = append(s.buf, b[:]...)
}

func (s *serializer) writeUint32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	s.buf = append(s.buf, b[:]...)
}

func (s *serializer) writeFloat64(v float64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], math.Float64bits(v))
	s.buf = append(s.buf, b[:]...)
}

func (s *serializer) writeBytes(v []byte) {
	s.writeUint32(uint32(len(v)))
	s.buf = append(s.buf, v...)
}

func (s *serializer) writeString(v string) {
	s.writeUint32(uint32(len(v)))
	s.buf = append(s.buf, v...)
}

func (s *serializer) serializeProto(p *bytecode.Proto) {
	s.writeByte(TagProto)
	s.writeUint16(uint16(p.Arity))
	s.writeUint32(uint32(p.LocalCount))
	s.writeUint32(uint32(p.StackSize))

	s.writeUint16(uint16(len(p.Upvalues)))
	for _, uv := range p.Upvalues {
		s.writeByte(TagUpvalue)
		if uv.FromLocal {
			s.writeByte(1)
		} else {
			s.writeByte(0)
		}
		s.writeByte(uv.Index)
	}

	s.writeByte(TagCode)
	s.writeBytes(p.Code)

	s.writeUint32(uint32(len(p.Constants)))
	for _, c := range p.Constants {
		s.serializeConstant(c)
	}
}

func (s *serializer) serializeConstant(c bytecode.Constant) {
	switch c.Kind {
	case bytecode.ConstNumber:
		s.writeByte(TagNumber)
		s.writeFloat64(c.Num)
	case bytecode.ConstString:
		s.writeByte(TagString)
		s.writeString(c.Str)
	case bytecode.ConstSymbol:
		s.writeByte(TagSymbol)
		s.writeString(c.Str)
	case bytecode.ConstProto:
		s.writeByte(TagNested)
		if c.Proto != nil {
			s.serializeProto(c.Proto)
		}
	}
}
