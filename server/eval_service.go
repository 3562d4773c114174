package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chazu/kurt/compiler"
	"github.com/chazu/kurt/compiler/hash"
	"github.com/chazu/kurt/pkg/bytecode"
	"github.com/chazu/kurt/store"
	"github.com/chazu/kurt/vm"
)

// Request errors, mapped to transport status codes.
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrUnknownSession  = errors.New("unknown session")
)

// EvalResult is the outcome of one evaluation. Exactly one of Value,
// Diagnostics or Runtime describes how it ended.
type EvalResult struct {
	Value       string
	Kind        string
	Output      string
	Steps       int64
	Hash        string
	Diagnostics compiler.Diagnostics
	Runtime     *vm.RuntimeError
}

// OK reports whether the evaluation produced a value.
func (r *EvalResult) OK() bool {
	return len(r.Diagnostics) == 0 && r.Runtime == nil
}

// CheckResult reports the static problems of a source text.
type CheckResult struct {
	Diagnostics compiler.Diagnostics
	Warnings    []compiler.Warning
}

// EvalService implements evaluation, checking and disassembly. Transports
// (connect, gRPC) are thin adapters over it.
type EvalService struct {
	sessions *SessionStore
	store    *store.Store // optional compile cache
	timeout  time.Duration
	vmOpts   []vm.Option
}

// NewEvalService creates an EvalService. st may be nil.
func NewEvalService(sessions *SessionStore, st *store.Store, timeout time.Duration, opts ...vm.Option) *EvalService {
	return &EvalService{
		sessions: sessions,
		store:    st,
		timeout:  timeout,
		vmOpts:   opts,
	}
}

func (s *EvalService) compile(name, src string) (*bytecode.Program, compiler.Diagnostics, error) {
	if s.store == nil {
		prog, diags := compiler.CompileNamed(name, src)
		return prog, diags, nil
	}
	prog, err := s.store.Compile(name, src)
	var diags compiler.Diagnostics
	if errors.As(err, &diags) {
		return nil, diags, nil
	}
	return prog, nil, err
}

// Eval compiles and runs src. With an empty sessionID the program runs on
// a fresh VM; otherwise it runs in that session and sees its globals.
// Language-level failures are reported in the result; the error is only
// for bad requests and internal failures.
func (s *EvalService) Eval(ctx context.Context, sessionID, src string) (*EvalResult, error) {
	var session *Session
	if sessionID != "" {
		var ok bool
		if session, ok = s.sessions.Get(sessionID); !ok {
			return nil, fmt.Errorf("%w %q", ErrUnknownSession, sessionID)
		}
	}

	prog, diags, err := s.compile("<eval>", src)
	if err != nil {
		return nil, err
	}
	if diags.HasErrors() {
		return &EvalResult{Diagnostics: diags}, nil
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	var out runOutcome
	if session != nil {
		out, err = session.run(ctx, prog)
		if err != nil {
			return nil, err
		}
	} else {
		out = s.runFresh(ctx, prog)
	}

	res := &EvalResult{Output: out.output, Steps: out.steps, Hash: hash.Program(prog).Short()}
	if out.err != nil {
		var rerr *vm.RuntimeError
		if !errors.As(out.err, &rerr) {
			return nil, out.err
		}
		res.Runtime = rerr
		return res, nil
	}
	res.Value = out.value.String()
	res.Kind = out.value.Kind().String()
	return res, nil
}

func (s *EvalService) runFresh(ctx context.Context, prog *bytecode.Program) runOutcome {
	var buf bytes.Buffer
	machine := vm.NewVM(s.vmOpts...)
	vm.InstallBuiltins(machine, &buf)
	v, err := machine.Run(ctx, prog)
	return runOutcome{value: v, output: buf.String(), steps: machine.Steps(), err: err}
}

// Check reports diagnostics and warnings for src without running it.
func (s *EvalService) Check(src string) *CheckResult {
	ast, diags := compiler.ParseString(src)
	if diags.HasErrors() {
		return &CheckResult{Diagnostics: diags}
	}
	if _, diags := compiler.CompileProgram(ast); diags.HasErrors() {
		return &CheckResult{Diagnostics: diags}
	}
	return &CheckResult{Warnings: compiler.Analyze(ast, vm.BuiltinNames())}
}

// Disassemble compiles src and renders its bytecode.
func (s *EvalService) Disassemble(src string) (string, compiler.Diagnostics, error) {
	prog, diags, err := s.compile("<disasm>", src)
	if err != nil || diags.HasErrors() {
		return "", diags, err
	}
	return bytecode.Disassemble(prog), nil, nil
}

// CreateSession starts a named session and returns its ID.
func (s *EvalService) CreateSession(name string) string {
	return s.sessions.Create(name).ID
}

// DestroySession ends a session.
func (s *EvalService) DestroySession(id string) error {
	if !s.sessions.Destroy(id) {
		return fmt.Errorf("%w %q", ErrUnknownSession, id)
	}
	return nil
}

// SessionGlobals lists the globals defined in a session.
func (s *EvalService) SessionGlobals(ctx context.Context, id string) ([]string, error) {
	session, ok := s.sessions.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownSession, id)
	}
	return session.globals(ctx)
}
