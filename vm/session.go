package vm

import (
	"context"
	"fmt"

	"github.com/chazu/kurt/compiler"
	"github.com/chazu/kurt/pkg/bytecode"
)

// Session evaluates a sequence of source fragments against one VM, the way
// a REPL does. Globals defined by one fragment are visible to the next;
// locals never outlive their fragment.
type Session struct {
	vm    *VM
	setup []func(*VM)
	count int
}

// NewSession wraps v. The setup functions run now and again on every Reset,
// typically to install natives.
func NewSession(v *VM, setup ...func(*VM)) *Session {
	s := &Session{vm: v, setup: setup}
	s.runSetup()
	return s
}

func (s *Session) runSetup() {
	for _, fn := range s.setup {
		fn(s.vm)
	}
}

// Eval compiles and runs one fragment. Compile failures are returned as
// compiler.Diagnostics and leave the session untouched; runtime failures
// are *RuntimeError and keep every global defined before the failure.
func (s *Session) Eval(ctx context.Context, src string) (Value, error) {
	prog, err := s.Compile(src)
	if err != nil {
		return Nil(), err
	}
	return s.vm.Run(ctx, prog)
}

// Compile compiles a fragment without running it. Fragments are numbered so
// that traces and hashes of successive inputs stay distinguishable.
func (s *Session) Compile(src string) (*bytecode.Program, error) {
	s.count++
	prog, diags := compiler.CompileNamed(fmt.Sprintf("<repl:%d>", s.count), src)
	if diags.HasErrors() {
		return nil, diags
	}
	return prog, nil
}

// Reset drops every global and re-runs the setup functions.
func (s *Session) Reset() {
	s.vm.ResetGlobals()
	s.runSetup()
}

// Globals returns the names of the session's globals, sorted.
func (s *Session) Globals() []string { return s.vm.Globals() }

// VM returns the underlying machine.
func (s *Session) VM() *VM { return s.vm }
