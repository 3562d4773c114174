package hash

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/chazu/kurt/pkg/bytecode"
)

func TestTags(t *testing.T) {
	if HashVersion == 0 {
		t.Error("HashVersion must be non-zero")
	}
	seen := make(map[byte]bool, len(allTags))
	for _, tag := range allTags {
		if seen[tag] {
			t.Errorf("duplicate tag: 0x%02X", tag)
		}
		if tag >= 0xFE {
			t.Errorf("tag 0x%02X is in reserved range 0xFE-0xFF", tag)
		}
		seen[tag] = true
	}
}

func TestSerializeLayout(t *testing.T) {
	p := &bytecode.Proto{
		Name:      "ignored",
		StackSize: 1,
		Code:      []byte{byte(bytecode.OpNil), byte(bytecode.OpReturn)},
	}
	got := Serialize(&bytecode.Program{Main: p, Name: "also ignored"})
	want := []byte{
		HashVersion,
		TagProto,
		0, 0, // arity
		0, 0, 0, 0, // locals
		0, 0, 0, 1, // stack size
		0, 0, // upvalues
		TagCode, 0, 0, 0, 2, byte(bytecode.OpNil), byte(bytecode.OpReturn),
		0, 0, 0, 0, // constants
	}
	if !bytes.Equal(got, want) {
		t.Errorf("Serialize =\n% x\nwant\n% x", got, want)
	}
}

func TestSerializeConstants(t *testing.T) {
	p := &bytecode.Proto{Code: []byte{byte(bytecode.OpReturn)}}
	p.AddConstant(bytecode.NumberConst(1.5))
	p.AddConstant(bytecode.StringConst("hi"))
	p.AddConstant(bytecode.SymbolConst("hi"))
	data := Serialize(&bytecode.Program{Main: p})

	// Constants follow the 4-byte pool length at the end of the proto header.
	i := bytes.IndexByte(data, TagNumber)
	if i < 0 {
		t.Fatalf("no number tag in % x", data)
	}
	if got := math.Float64frombits(binary.BigEndian.Uint64(data[i+1:])); got != 1.5 {
		t.Errorf("number = %v, want 1.5", got)
	}
	rest := data[i+9:]
	wantRest := []byte{TagString, 0, 0, 0, 2, 'h', 'i', TagSymbol, 0, 0, 0, 2, 'h', 'i'}
	if !bytes.Equal(rest, wantRest) {
		t.Errorf("string and symbol = % x, want % x", rest, wantRest)
	}
}

func TestSerializeIgnoresNamesAndSpans(t *testing.T) {
	mk := func(name, upName string, line int) *bytecode.Program {
		inner := bytecode.NewProto(name, 1)
		inner.Upvalues = []bytecode.UpvalueDesc{{FromLocal: true, Index: 0, Name: upName}}
		inner.StackSize = 2
		inner.Code = []byte{byte(bytecode.OpGetUpvalue), 0, byte(bytecode.OpReturn)}
		inner.Lines = []bytecode.LineEntry{{Offset: 0}}
		inner.Lines[0].Span.Start.Line = line

		main := bytecode.NewProto("<main>", 0)
		main.AddConstant(bytecode.ProtoConst(inner))
		main.StackSize = 1
		main.Code = []byte{byte(bytecode.OpClosure), 0, 0, byte(bytecode.OpReturn)}
		return &bytecode.Program{Main: main}
	}

	a := Serialize(mk("f", "x", 1))
	b := Serialize(mk("g", "y", 7))
	if !bytes.Equal(a, b) {
		t.Error("names or spans changed the serialization")
	}

	c := mk("f", "x", 1)
	c.Main.Constants[0].Proto.Upvalues[0].FromLocal = false
	if bytes.Equal(a, Serialize(c)) {
		t.Error("capture kind did not change the serialization")
	}
}

func TestSerializeSignedZero(t *testing.T) {
	mk := func(f float64) []byte {
		p := &bytecode.Proto{Code: []byte{byte(bytecode.OpReturn)}}
		p.AddConstant(bytecode.NumberConst(f))
		return Serialize(&bytecode.Program{Main: p})
	}
	if bytes.Equal(mk(0), mk(math.Copysign(0, -1))) {
		t.Error("0 and -0 serialize identically")
	}
}

func TestSerializeNilProgram(t *testing.T) {
	if got := Serialize(nil); !bytes.Equal(got, []byte{HashVersion}) {
		t.Errorf("Serialize(nil) = % x, want just the version byte", got)
	}
}
