package vm

import (
	"math"
	"strconv"
	"strings"

	"github.com/chazu/kurt/pkg/bytecode"
)

// Kind identifies the dynamic type of a Value.
type Kind uint8

const (
	KindNil Kind = iota
	KindBool
	KindNumber
	KindString
	KindSymbol
	KindList
	KindTuple
	KindClosure
	KindNative
)

// String returns the type name used in runtime errors and by `type`.
func (k Kind) String() string {
	switch k {
	case KindNil:
		return "nil"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindSymbol:
		return "symbol"
	case KindList:
		return "list"
	case KindTuple:
		return "tuple"
	case KindClosure:
		return "function"
	case KindNative:
		return "native"
	}
	return "unknown"
}

// Value is a Kurt runtime value. The zero Value is nil.
//
// Numbers and booleans live in num, strings and symbol names in str, and
// the reference kinds (*List, *Tuple, *Closure, *Native) in obj.
type Value struct {
	kind Kind
	num  float64
	str  string
	obj  any
}

// ---------------------------------------------------------------------------
// Constructors
// ---------------------------------------------------------------------------

// Nil returns the nil value.
func Nil() Value { return Value{} }

// Bool returns a boolean value.
func Bool(b bool) Value {
	if b {
		return Value{kind: KindBool, num: 1}
	}
	return Value{kind: KindBool}
}

// Number returns a number value.
func Number(f float64) Value { return Value{kind: KindNumber, num: f} }

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Symbol returns a keyword symbol value such as :ok.
func Symbol(name string) Value { return Value{kind: KindSymbol, str: name} }

// NewList returns a list value holding a copy of elems.
func NewList(elems ...Value) Value {
	l := &List{Elems: append([]Value(nil), elems...)}
	return Value{kind: KindList, obj: l}
}

// ListValue wraps an existing list without copying it.
func ListValue(l *List) Value { return Value{kind: KindList, obj: l} }

// NewTuple returns an untagged tuple holding a copy of elems.
func NewTuple(elems ...Value) Value {
	return TupleValue(&Tuple{Elems: append([]Value(nil), elems...)})
}

// NewTaggedTuple returns a tuple tagged with the symbol name tag.
func NewTaggedTuple(tag string, elems ...Value) Value {
	return TupleValue(&Tuple{Tag: tag, Elems: append([]Value(nil), elems...)})
}

// TupleValue wraps an existing tuple without copying it.
func TupleValue(t *Tuple) Value { return Value{kind: KindTuple, obj: t} }

// NativeValue wraps a host function.
func NativeValue(n *Native) Value { return Value{kind: KindNative, obj: n} }

func closureValue(c *Closure) Value { return Value{kind: KindClosure, obj: c} }

// ---------------------------------------------------------------------------
// Reference types
// ---------------------------------------------------------------------------

// List is a mutable sequence shared by every value that refers to it.
type List struct {
	Elems []Value
}

// Tuple is a fixed-length, immutable sequence with an optional symbol tag.
// An empty Tag means the tuple is untagged.
type Tuple struct {
	Tag   string
	Elems []Value
}

// Closure pairs a compiled prototype with its captured cells.
type Closure struct {
	Proto    *bytecode.Proto
	Upvalues []*Upvalue
}

// Name returns the function's display name.
func (c *Closure) Name() string { return c.Proto.DisplayName() }

// NativeFunc implements a native. args is owned by the callee.
type NativeFunc func(args []Value) (Value, error)

// Native is a function implemented by the host. Arity -1 accepts any
// number of arguments.
type Native struct {
	Name  string
	Arity int
	Fn    NativeFunc
}

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

// Kind returns the dynamic type of v.
func (v Value) Kind() Kind { return v.kind }

// IsNil reports whether v is nil.
func (v Value) IsNil() bool { return v.kind == KindNil }

// AsBool returns the boolean payload; ok is false for other kinds.
func (v Value) AsBool() (b, ok bool) { return v.num != 0, v.kind == KindBool }

// AsNumber returns the number payload.
func (v Value) AsNumber() (float64, bool) { return v.num, v.kind == KindNumber }

// AsString returns the string payload.
func (v Value) AsString() (string, bool) { return v.str, v.kind == KindString }

// AsSymbol returns the symbol name.
func (v Value) AsSymbol() (string, bool) { return v.str, v.kind == KindSymbol }

// AsList returns the shared list.
func (v Value) AsList() (*List, bool) {
	l, ok := v.obj.(*List)
	return l, ok && v.kind == KindList
}

// AsTuple returns the tuple.
func (v Value) AsTuple() (*Tuple, bool) {
	t, ok := v.obj.(*Tuple)
	return t, ok && v.kind == KindTuple
}

// AsClosure returns the closure.
func (v Value) AsClosure() (*Closure, bool) {
	c, ok := v.obj.(*Closure)
	return c, ok && v.kind == KindClosure
}

// AsNative returns the native function.
func (v Value) AsNative() (*Native, bool) {
	n, ok := v.obj.(*Native)
	return n, ok && v.kind == KindNative
}

// Truthy reports whether v counts as true in a condition: everything except
// nil and false.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindNil:
		return false
	case KindBool:
		return v.num != 0
	}
	return true
}

// ---------------------------------------------------------------------------
// Equality
// ---------------------------------------------------------------------------

// Equal implements `==`. Values of different kinds are unequal; lists and
// tuples compare element-wise, functions by identity. Tuples with different
// tags are unequal.
func (v Value) Equal(o Value) bool {
	return equal(v, o, nil)
}

type listPair [2]*List

func equal(a, b Value, seen map[listPair]bool) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNil:
		return true
	case KindBool, KindNumber:
		return a.num == b.num
	case KindString, KindSymbol:
		return a.str == b.str
	case KindList:
		la, lb := a.obj.(*List), b.obj.(*List)
		if la == lb {
			return true
		}
		if len(la.Elems) != len(lb.Elems) {
			return false
		}
		// A pair already under comparison is assumed equal, which makes
		// cyclic lists terminate.
		if seen == nil {
			seen = make(map[listPair]bool)
		}
		if seen[listPair{la, lb}] {
			return true
		}
		seen[listPair{la, lb}] = true
		return equalElems(la.Elems, lb.Elems, seen)
	case KindTuple:
		ta, tb := a.obj.(*Tuple), b.obj.(*Tuple)
		if ta == tb {
			return true
		}
		if ta.Tag != tb.Tag || len(ta.Elems) != len(tb.Elems) {
			return false
		}
		return equalElems(ta.Elems, tb.Elems, seen)
	default:
		return a.obj == b.obj
	}
}

func equalElems(a, b []Value, seen map[listPair]bool) bool {
	for i := range a {
		if !equal(a[i], b[i], seen) {
			return false
		}
	}
	return true
}

// ---------------------------------------------------------------------------
// Rendering
// ---------------------------------------------------------------------------

// String renders v the way the REPL prints results. Strings are quoted;
// functions render as an opaque handle.
func (v Value) String() string {
	var sb strings.Builder
	writeValue(&sb, v, nil)
	return sb.String()
}

// Display renders v for output by print: like String, but strings appear
// without quotes.
func (v Value) Display() string {
	if v.kind == KindString {
		return v.str
	}
	return v.String()
}

func writeValue(sb *strings.Builder, v Value, path []*List) {
	switch v.kind {
	case KindNil:
		sb.WriteString("nil")
	case KindBool:
		sb.WriteString(strconv.FormatBool(v.num != 0))
	case KindNumber:
		sb.WriteString(FormatNumber(v.num))
	case KindString:
		sb.WriteString(strconv.Quote(v.str))
	case KindSymbol:
		sb.WriteString(":" + v.str)
	case KindList:
		l := v.obj.(*List)
		for _, p := range path {
			if p == l {
				sb.WriteString("[...]")
				return
			}
		}
		path = append(path, l)
		sb.WriteByte('[')
		for i, el := range l.Elems {
			if i > 0 {
				sb.WriteString(", ")
			}
			writeValue(sb, el, path)
		}
		sb.WriteByte(']')
	case KindTuple:
		t := v.obj.(*Tuple)
		if t.Tag != "" {
			sb.WriteString(":" + t.Tag)
		}
		sb.WriteByte('(')
		for i, el := range t.Elems {
			if i > 0 {
				sb.WriteString(", ")
			}
			writeValue(sb, el, path)
		}
		// An untagged tuple needs a comma to read back as a tuple.
		if t.Tag == "" && len(t.Elems) < 2 {
			sb.WriteByte(',')
		}
		sb.WriteByte(')')
	case KindClosure:
		c := v.obj.(*Closure)
		if c.Proto.Name == "" {
			sb.WriteString("<fn>")
		} else {
			sb.WriteString("<fn " + c.Proto.Name + ">")
		}
	case KindNative:
		sb.WriteString("<native " + v.obj.(*Native).Name + ">")
	}
}

// FormatNumber renders f in the shortest form that reads back to the same
// number. Integral values print without a fraction.
func FormatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	case f == math.Trunc(f) && math.Abs(f) < 1e21:
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
