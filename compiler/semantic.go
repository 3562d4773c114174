package compiler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/chazu/kurt/pkg/source"
)

// ---------------------------------------------------------------------------
// Semantic Analyzer: advisory checks over a parsed program
// ---------------------------------------------------------------------------

// Warning is an advisory finding. Warnings never prevent compilation.
type Warning struct {
	Message string
	Span    source.Span
}

func (w Warning) String() string {
	return fmt.Sprintf("warning at %s: %s", w.Span, w.Message)
}

// binding is a local name tracked by the analyzer.
type binding struct {
	span source.Span
	used bool
}

// SemanticAnalyzer reports unreachable code, unused locals and names that
// resolve to no local and no known global.
type SemanticAnalyzer struct {
	warnings []Warning

	// Known globals that are always defined, e.g. host natives.
	knownGlobals map[string]bool
	// Globals defined somewhere in the program being analyzed.
	definedGlobals map[string]bool

	scopes []map[string]*binding
}

// NewSemanticAnalyzer creates an analyzer that treats the given names as
// defined globals.
func NewSemanticAnalyzer(known ...string) *SemanticAnalyzer {
	s := &SemanticAnalyzer{knownGlobals: make(map[string]bool)}
	for _, name := range known {
		s.knownGlobals[name] = true
	}
	return s
}

// AddKnownGlobal adds a global to the known globals set.
func (s *SemanticAnalyzer) AddKnownGlobal(name string) {
	s.knownGlobals[name] = true
}

// Warnings returns accumulated warnings sorted by position.
func (s *SemanticAnalyzer) Warnings() []Warning {
	sort.SliceStable(s.warnings, func(i, j int) bool {
		return s.warnings[i].Span.Start.Offset < s.warnings[j].Span.Start.Offset
	})
	return s.warnings
}

func (s *SemanticAnalyzer) warnAt(span source.Span, format string, args ...any) {
	s.warnings = append(s.warnings, Warning{Message: fmt.Sprintf(format, args...), Span: span})
}

// AnalyzeProgram analyzes a whole program.
func (s *SemanticAnalyzer) AnalyzeProgram(prog *Program) {
	s.definedGlobals = collectGlobals(prog)
	s.scopes = nil
	s.analyzeStmts(prog.Stmts)
}

// collectGlobals finds every name the program may define as a global: the
// names of top-level lets and the targets of plain assignments.
func collectGlobals(prog *Program) map[string]bool {
	globals := make(map[string]bool)
	for _, st := range prog.Stmts {
		if let, ok := st.(*LetStmt); ok {
			globals[let.Name] = true
		}
	}
	Inspect(prog, func(n Node) bool {
		if a, ok := n.(*Assign); ok && a.Op == TokenAssign {
			if id, ok := a.Target.(*Ident); ok {
				globals[id.Name] = true
			}
		}
		return true
	})
	return globals
}

func (s *SemanticAnalyzer) pushScope() {
	s.scopes = append(s.scopes, make(map[string]*binding))
}

func (s *SemanticAnalyzer) popScope() {
	top := s.scopes[len(s.scopes)-1]
	s.scopes = s.scopes[:len(s.scopes)-1]
	var unused []string
	for name, b := range top {
		if !b.used && !strings.HasPrefix(name, "_") {
			unused = append(unused, name)
		}
	}
	sort.Strings(unused)
	for _, name := range unused {
		s.warnAt(top[name].span, "local %q is never used", name)
	}
}

func (s *SemanticAnalyzer) declare(name string, span source.Span) {
	if len(s.scopes) == 0 {
		return // top-level lets are globals
	}
	s.scopes[len(s.scopes)-1][name] = &binding{span: span}
}

func (s *SemanticAnalyzer) lookup(name string) *binding {
	for i := len(s.scopes) - 1; i >= 0; i-- {
		if b, ok := s.scopes[i][name]; ok {
			return b
		}
	}
	return nil
}

func (s *SemanticAnalyzer) analyzeStmts(stmts []Stmt) {
	for i, stmt := range stmts {
		switch st := stmt.(type) {
		case *LetStmt:
			if _, isFn := st.Value.(*FuncLit); isFn {
				s.declare(st.Name, st.NameSpan)
				s.analyzeExpr(st.Value)
			} else {
				s.analyzeExpr(st.Value)
				s.declare(st.Name, st.NameSpan)
			}
		case *ExprStmt:
			s.analyzeExpr(st.X)
			if jumpName(st.X) != "" && i < len(stmts)-1 {
				s.warnAt(stmts[i+1].Span(), "unreachable code after %s", jumpName(st.X))
				for _, rest := range stmts[i+1:] {
					s.analyzeStmtQuiet(rest)
				}
				return
			}
		}
	}
}

// analyzeStmtQuiet still resolves names in unreachable statements so their
// uses count, without reporting anything else about them.
func (s *SemanticAnalyzer) analyzeStmtQuiet(stmt Stmt) {
	saved := len(s.warnings)
	switch st := stmt.(type) {
	case *LetStmt:
		s.analyzeExpr(st.Value)
	case *ExprStmt:
		s.analyzeExpr(st.X)
	}
	s.warnings = s.warnings[:saved]
}

func jumpName(e Expr) string {
	switch e.(type) {
	case *Return:
		return "return"
	case *Break:
		return "break"
	case *Continue:
		return "continue"
	}
	return ""
}

func (s *SemanticAnalyzer) analyzeExpr(expr Expr) {
	switch e := expr.(type) {
	case *Ident:
		s.checkDefined(e)
	case *Assign:
		if id, ok := e.Target.(*Ident); ok {
			if v, ok := e.Value.(*Ident); ok && e.Op == TokenAssign && v.Name == id.Name {
				s.warnAt(e.Span(), "self-assignment of %q", id.Name)
			}
			if e.Op != TokenAssign {
				s.checkDefined(id)
			}
		} else {
			s.analyzeExpr(e.Target)
		}
		s.analyzeExpr(e.Value)
	case *Unary:
		s.analyzeExpr(e.X)
	case *Binary:
		s.analyzeExpr(e.L)
		s.analyzeExpr(e.R)
	case *Logical:
		s.analyzeExpr(e.L)
		s.analyzeExpr(e.R)
	case *Call:
		s.analyzeExpr(e.Callee)
		for _, arg := range e.Args {
			s.analyzeExpr(arg)
		}
	case *Index:
		s.analyzeExpr(e.X)
		s.analyzeExpr(e.Index)
	case *ListLit:
		for _, el := range e.Elems {
			s.analyzeExpr(el)
		}
	case *TupleLit:
		for _, el := range e.Elems {
			s.analyzeExpr(el)
		}
	case *FuncLit:
		s.pushScope()
		for i, p := range e.Params {
			// Parameters are part of the signature; only lets are reported.
			s.scopes[len(s.scopes)-1][p] = &binding{span: e.ParamSpans[i], used: true}
		}
		s.analyzeExpr(e.Body)
		s.popScope()
	case *Block:
		s.pushScope()
		s.analyzeStmts(e.Stmts)
		s.popScope()
	case *If:
		s.analyzeExpr(e.Cond)
		s.analyzeExpr(e.Then)
		if e.Else != nil {
			s.analyzeExpr(e.Else)
		}
	case *While:
		s.analyzeExpr(e.Cond)
		s.analyzeExpr(e.Body)
	case *Loop:
		s.analyzeExpr(e.Body)
	case *Break:
		if e.Value != nil {
			s.analyzeExpr(e.Value)
		}
	case *Return:
		if e.Value != nil {
			s.analyzeExpr(e.Value)
		}
	}
}

func (s *SemanticAnalyzer) isGlobal(name string) bool {
	return s.knownGlobals[name] || s.definedGlobals[name]
}

// checkDefined marks a local use, or warns when the name resolves nowhere.
// This is a warning, not an error, since globals can be defined at runtime.
func (s *SemanticAnalyzer) checkDefined(id *Ident) {
	if b := s.lookup(id.Name); b != nil {
		b.used = true
		return
	}
	if s.isGlobal(id.Name) {
		return
	}
	s.warnAt(id.Span(), "variable %q may be undefined (assuming global)", id.Name)
}

// ---------------------------------------------------------------------------
// Integration with Compile function
// ---------------------------------------------------------------------------

// Analyze runs semantic analysis on a program. known lists globals that the
// host defines, such as natives or names from earlier REPL inputs.
func Analyze(prog *Program, known []string) []Warning {
	analyzer := NewSemanticAnalyzer(known...)
	analyzer.AnalyzeProgram(prog)
	return analyzer.Warnings()
}
