package vm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/chazu/kurt/pkg/source"
)

// Sentinel causes of runtime errors, matched with errors.Is.
var (
	ErrInterrupted     = errors.New("interrupted")
	ErrBudgetExhausted = errors.New("instruction budget exhausted")
	ErrStackOverflow   = errors.New("stack overflow")
)

// FrameInfo describes one active call at the time of an error.
type FrameInfo struct {
	Function string
	Span     source.Span
}

// RuntimeError terminates a Run. Span locates the failing instruction and
// Frames holds the call chain, innermost first.
type RuntimeError struct {
	Message string
	Span    source.Span
	Frames  []FrameInfo
	Cause   error
}

func (e *RuntimeError) Error() string {
	if e.Span.IsZero() {
		return "runtime error: " + e.Message
	}
	return fmt.Sprintf("runtime error at %s: %s", e.Span, e.Message)
}

func (e *RuntimeError) Unwrap() error { return e.Cause }

// StackTrace renders the call chain, one `  at name (line:col)` line per
// frame.
func (e *RuntimeError) StackTrace() string {
	var sb strings.Builder
	for _, f := range e.Frames {
		fmt.Fprintf(&sb, "  at %s (%s)\n", f.Function, f.Span)
	}
	return sb.String()
}

// runtimeError builds an error located at the current instruction.
func (vm *VM) runtimeError(cause error, format string, args ...any) *RuntimeError {
	err := &RuntimeError{Message: fmt.Sprintf(format, args...), Cause: cause}
	for i := len(vm.frames) - 1; i >= 0; i-- {
		f := &vm.frames[i]
		info := FrameInfo{
			Function: f.closure.Proto.DisplayName(),
			Span:     f.closure.Proto.SpanAt(f.at),
		}
		err.Frames = append(err.Frames, info)
	}
	if len(err.Frames) > 0 {
		err.Span = err.Frames[0].Span
	}
	return err
}
