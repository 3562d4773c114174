package compiler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/chazu/kurt/pkg/source"
)

// Kind classifies a diagnostic by the phase that produced it.
type Kind int

const (
	LexError Kind = iota
	SyntaxError
	CompileError
)

func (k Kind) String() string {
	switch k {
	case LexError:
		return "lex error"
	case SyntaxError:
		return "syntax error"
	case CompileError:
		return "compile error"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Diagnostic is a single error found while lexing, parsing or compiling.
type Diagnostic struct {
	Kind    Kind
	Message string
	Span    source.Span
}

func (d Diagnostic) Error() string {
	return fmt.Sprintf("%s at %s: %s", d.Kind, d.Span, d.Message)
}

// Diagnostics is an ordered collection of diagnostics. A non-empty value is
// usable as an error.
type Diagnostics []Diagnostic

func (ds Diagnostics) Error() string {
	msgs := make([]string, len(ds))
	for i, d := range ds {
		msgs[i] = d.Error()
	}
	return strings.Join(msgs, "\n")
}

// HasErrors reports whether any diagnostic was recorded.
func (ds Diagnostics) HasErrors() bool {
	return len(ds) > 0
}

// Sort orders the diagnostics by source offset, keeping the emission order of
// diagnostics at the same offset.
func (ds Diagnostics) Sort() {
	sort.SliceStable(ds, func(i, j int) bool {
		return ds[i].Span.Start.Offset < ds[j].Span.Start.Offset
	})
}

// Render formats each diagnostic followed by the source line it points at.
func (ds Diagnostics) Render(src string) string {
	var sb strings.Builder
	for _, d := range ds {
		sb.WriteString(d.Error())
		sb.WriteByte('\n')
		sb.WriteString(source.Window(src, d.Span))
	}
	return sb.String()
}

// Count returns the number of diagnostics of kind k.
func (ds Diagnostics) Count(k Kind) int {
	n := 0
	for _, d := range ds {
		if d.Kind == k {
			n++
		}
	}
	return n
}
