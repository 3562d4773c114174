package vm

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

// builtin describes a native installed by InstallBuiltins.
type builtin struct {
	name  string
	arity int
	make  func(out io.Writer) NativeFunc
}

var builtins = []builtin{
	{"print", -1, func(out io.Writer) NativeFunc {
		return func(args []Value) (Value, error) {
			parts := make([]string, len(args))
			for i, a := range args {
				parts[i] = a.Display()
			}
			if _, err := io.WriteString(out, strings.Join(parts, " ")+"\n"); err != nil {
				return Nil(), err
			}
			return Nil(), nil
		}
	}},
	{"len", 1, func(io.Writer) NativeFunc {
		return func(args []Value) (Value, error) {
			switch x := args[0]; x.kind {
			case KindList:
				return Number(float64(len(x.obj.(*List).Elems))), nil
			case KindTuple:
				return Number(float64(len(x.obj.(*Tuple).Elems))), nil
			case KindString:
				return Number(float64(len(x.str))), nil
			default:
				return Nil(), fmt.Errorf("expected a list, tuple or string, got %s", x.kind)
			}
		}
	}},
	{"str", 1, func(io.Writer) NativeFunc {
		return func(args []Value) (Value, error) {
			return String(args[0].Display()), nil
		}
	}},
	{"type", 1, func(io.Writer) NativeFunc {
		return func(args []Value) (Value, error) {
			return String(args[0].kind.String()), nil
		}
	}},
	{"push", 2, func(io.Writer) NativeFunc {
		return func(args []Value) (Value, error) {
			l, ok := args[0].AsList()
			if !ok {
				return Nil(), fmt.Errorf("expected a list, got %s", args[0].kind)
			}
			l.Elems = append(l.Elems, args[1])
			return args[0], nil
		}
	}},
	{"tag", 1, func(io.Writer) NativeFunc {
		return func(args []Value) (Value, error) {
			t, ok := args[0].AsTuple()
			if !ok {
				return Nil(), fmt.Errorf("expected a tuple, got %s", args[0].kind)
			}
			if t.Tag == "" {
				return Nil(), nil
			}
			return Symbol(t.Tag), nil
		}
	}},
	{"error", 1, func(io.Writer) NativeFunc {
		return func(args []Value) (Value, error) {
			return Nil(), errors.New(args[0].Display())
		}
	}},
}

// InstallBuiltins defines the standard natives on vm. print writes to out.
func InstallBuiltins(vm *VM, out io.Writer) {
	for _, b := range builtins {
		vm.DefineNative(b.name, b.arity, b.make(out))
	}
}

// BuiltinNames lists the globals InstallBuiltins defines, in definition
// order.
func BuiltinNames() []string {
	names := make([]string, len(builtins))
	for i, b := range builtins {
		names[i] = b.name
	}
	return names
}
