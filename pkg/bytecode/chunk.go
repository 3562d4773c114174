package bytecode

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/chazu/kurt/pkg/source"
)

// FormatVersion is the current bytecode format version.
// Increment when making incompatible changes to the format.
const FormatVersion uint16 = 1

// Addressing limits imposed by operand widths.
const (
	MaxLocals    = math.MaxUint8 + 1
	MaxUpvalues  = math.MaxUint8 + 1
	MaxConstants = math.MaxUint16 + 1
	MaxArgs      = math.MaxUint8
	MaxListLen   = math.MaxUint16
)

// ErrJumpTooFar is returned when a jump distance does not fit its operand.
var ErrJumpTooFar = errors.New("jump distance exceeds 16-bit offset")

// ConstKind tags a constant pool entry.
type ConstKind uint8

const (
	ConstNumber ConstKind = iota
	ConstString
	ConstSymbol
	ConstProto
)

// String returns a human-readable name for ConstKind.
func (k ConstKind) String() string {
	switch k {
	case ConstNumber:
		return "number"
	case ConstString:
		return "string"
	case ConstSymbol:
		return "symbol"
	case ConstProto:
		return "function"
	default:
		return fmt.Sprintf("ConstKind(%d)", k)
	}
}

// Constant is an immutable constant pool entry.
type Constant struct {
	Kind  ConstKind `cbor:"1,keyasint"`
	Num   float64   `cbor:"2,keyasint"`
	Str   string    `cbor:"3,keyasint,omitempty"`
	Proto *Proto    `cbor:"4,keyasint,omitempty"`
}

// NumberConst returns a number constant.
func NumberConst(f float64) Constant { return Constant{Kind: ConstNumber, Num: f} }

// StringConst returns a string constant.
func StringConst(s string) Constant { return Constant{Kind: ConstString, Str: s} }

// SymbolConst returns a keyword symbol constant, also used for global names.
func SymbolConst(s string) Constant { return Constant{Kind: ConstSymbol, Str: s} }

// ProtoConst returns a nested function constant.
func ProtoConst(p *Proto) Constant { return Constant{Kind: ConstProto, Proto: p} }

// constKey identifies a constant for deduplication. Numbers compare by bit
// pattern, so 0 and -0 stay distinct. Prototypes have no key.
type constKey struct {
	kind ConstKind
	bits uint64
	str  string
}

func (c Constant) key() (constKey, bool) {
	switch c.Kind {
	case ConstNumber:
		return constKey{kind: c.Kind, bits: math.Float64bits(c.Num)}, true
	case ConstString, ConstSymbol:
		return constKey{kind: c.Kind, str: c.Str}, true
	default:
		return constKey{}, false
	}
}

func (c Constant) String() string {
	switch c.Kind {
	case ConstNumber:
		return strconv.FormatFloat(c.Num, 'g', -1, 64)
	case ConstString:
		return strconv.Quote(c.Str)
	case ConstSymbol:
		return ":" + c.Str
	case ConstProto:
		if c.Proto == nil {
			return "<fn ?>"
		}
		return "<fn " + c.Proto.DisplayName() + ">"
	default:
		return "?"
	}
}

// UpvalueDesc describes how a closure obtains one captured cell when it is
// created: from the enclosing frame's local slot Index, or from the
// enclosing closure's upvalue Index.
type UpvalueDesc struct {
	FromLocal bool   `cbor:"1,keyasint"`
	Index     uint8  `cbor:"2,keyasint"`
	Name      string `cbor:"3,keyasint"`
}

// LineEntry maps the instructions starting at Offset to a source span.
// Entries are sorted by Offset; an entry covers every instruction up to the
// next entry.
type LineEntry struct {
	Offset int         `cbor:"1,keyasint"`
	Span   source.Span `cbor:"2,keyasint"`
}

// Proto is a compiled function prototype: the unit the VM executes.
type Proto struct {
	Name       string        `cbor:"1,keyasint"`
	Arity      int           `cbor:"2,keyasint"`
	LocalCount int           `cbor:"3,keyasint"` // distinct local slots, parameters included
	StackSize  int           `cbor:"4,keyasint"` // maximum operand depth relative to the frame base
	Upvalues   []UpvalueDesc `cbor:"5,keyasint"`
	Code       []byte        `cbor:"6,keyasint"`
	Constants  []Constant    `cbor:"7,keyasint"`
	Lines      []LineEntry   `cbor:"8,keyasint"`
	Span       source.Span   `cbor:"9,keyasint"`

	constIndex map[constKey]int
}

// NewProto creates an empty prototype.
func NewProto(name string, arity int) *Proto {
	return &Proto{
		Name:  name,
		Arity: arity,
		Code:  make([]byte, 0, 64),
	}
}

// DisplayName returns the name used in traces and stack traces.
func (p *Proto) DisplayName() string {
	if p.Name == "" {
		return "<anonymous>"
	}
	return p.Name
}

// AddConstant adds a constant to the pool and returns its index.
// If a structurally equal constant already exists, returns the existing index.
// The index may exceed the u16 operand range; callers check MaxConstants.
func (p *Proto) AddConstant(c Constant) int {
	k, ok := c.key()
	if !ok {
		p.Constants = append(p.Constants, c)
		return len(p.Constants) - 1
	}
	if p.constIndex == nil {
		p.indexConstants()
	}
	if i, found := p.constIndex[k]; found {
		return i
	}
	p.Constants = append(p.Constants, c)
	p.constIndex[k] = len(p.Constants) - 1
	return len(p.Constants) - 1
}

// indexConstants builds the dedup index for a pool that was filled without
// it, such as one read back from the wire. The first occurrence wins.
func (p *Proto) indexConstants() {
	p.constIndex = make(map[constKey]int, len(p.Constants))
	for i, c := range p.Constants {
		if k, ok := c.key(); ok {
			if _, dup := p.constIndex[k]; !dup {
				p.constIndex[k] = i
			}
		}
	}
}

// Emit appends a single-byte opcode to the code section.
func (p *Proto) Emit(op Opcode, span source.Span) int {
	offset := len(p.Code)
	p.addLine(offset, span)
	p.Code = append(p.Code, byte(op))
	return offset
}

// EmitU8 appends an opcode with a one-byte operand.
func (p *Proto) EmitU8(op Opcode, operand uint8, span source.Span) int {
	offset := p.Emit(op, span)
	p.Code = append(p.Code, operand)
	return offset
}

// EmitU16 appends an opcode with a big-endian two-byte operand.
func (p *Proto) EmitU16(op Opcode, operand uint16, span source.Span) int {
	offset := p.Emit(op, span)
	p.Code = append(p.Code, byte(operand>>8), byte(operand))
	return offset
}

// EmitJump emits a jump instruction with a placeholder offset.
// Returns the offset of the placeholder for later patching.
func (p *Proto) EmitJump(op Opcode, span source.Span) int {
	offset := p.Emit(op, span)
	p.Code = append(p.Code, 0xFF, 0xFF) // Placeholder
	return offset + 1
}

// PatchJump patches a jump instruction's offset to jump to the current position.
func (p *Proto) PatchJump(placeholderOffset int) error {
	// Relative to the end of the 2-byte operand
	delta := len(p.Code) - (placeholderOffset + 2)
	if delta > math.MaxInt16 {
		return ErrJumpTooFar
	}
	p.Code[placeholderOffset] = byte(delta >> 8)
	p.Code[placeholderOffset+1] = byte(delta)
	return nil
}

// EmitLoop emits a backward jump to the given loop start.
func (p *Proto) EmitLoop(loopStart int, span source.Span) error {
	delta := loopStart - (len(p.Code) + 3)
	if delta < math.MinInt16 {
		return ErrJumpTooFar
	}
	p.Emit(OpJump, span)
	p.Code = append(p.Code, byte(uint16(delta)>>8), byte(uint16(delta)))
	return nil
}

// CurrentOffset returns the current offset in the code section.
func (p *Proto) CurrentOffset() int {
	return len(p.Code)
}

func (p *Proto) addLine(offset int, span source.Span) {
	if n := len(p.Lines); n > 0 && p.Lines[n-1].Span == span {
		return
	}
	p.Lines = append(p.Lines, LineEntry{Offset: offset, Span: span})
}

// SpanAt returns the source span of the instruction at offset.
func (p *Proto) SpanAt(offset int) source.Span {
	i := sort.Search(len(p.Lines), func(i int) bool {
		return p.Lines[i].Offset > offset
	})
	if i == 0 {
		return p.Span
	}
	return p.Lines[i-1].Span
}

// ReadU8 decodes the one-byte operand of the instruction at offset.
func (p *Proto) ReadU8(offset int) int {
	return int(p.Code[offset+1])
}

// ReadU16 decodes the two-byte operand of the instruction at offset.
func (p *Proto) ReadU16(offset int) int {
	return int(p.Code[offset+1])<<8 | int(p.Code[offset+2])
}

// ReadI16 decodes the signed two-byte operand of the instruction at offset.
func (p *Proto) ReadI16(offset int) int {
	return int(int16(uint16(p.Code[offset+1])<<8 | uint16(p.Code[offset+2])))
}

// Operand decodes the operand of the instruction at offset, or 0 when the
// opcode takes none.
func (p *Proto) Operand(offset int) int {
	op := Opcode(p.Code[offset])
	switch {
	case op.IsJump():
		return p.ReadI16(offset)
	case op.OperandLen() == 1:
		return p.ReadU8(offset)
	case op.OperandLen() == 2:
		return p.ReadU16(offset)
	}
	return 0
}

// Program is a compiled, self-contained unit: an entry prototype whose
// constant pools own every nested prototype.
type Program struct {
	Main *Proto `cbor:"1,keyasint"`
	Name string `cbor:"2,keyasint,omitempty"` // e.g. the script file name
}

// Walk calls fn for the entry prototype and every nested prototype,
// parents before children, in constant-pool order.
func (prog *Program) Walk(fn func(*Proto)) {
	var visit func(*Proto)
	visit = func(p *Proto) {
		fn(p)
		for _, c := range p.Constants {
			if c.Kind == ConstProto && c.Proto != nil {
				visit(c.Proto)
			}
		}
	}
	if prog.Main != nil {
		visit(prog.Main)
	}
}
