package compiler

import (
	"github.com/chazu/kurt/pkg/bytecode"
	"github.com/chazu/kurt/pkg/source"
)

// ---------------------------------------------------------------------------
// Scopes: per-function compilation state and name resolution
// ---------------------------------------------------------------------------

// MaxFunctionNesting bounds how deeply function literals may nest.
const MaxFunctionNesting = bytecode.MaxProtoNesting

// local is a named stack slot.
type local struct {
	name     string
	slot     int
	scope    int // block depth that declared it
	captured bool
}

// loopState tracks the enclosing loop for break and continue.
type loopState struct {
	head   int   // offset continue jumps back to
	depth  int   // static stack depth at the loop head
	breaks []int // placeholder offsets of break jumps
}

// funcState is the compilation state of one function literal (or of the
// top-level program). The static depth counts values above the frame base;
// it decides which slot a new local gets and how many values break and
// continue must discard.
type funcState struct {
	enclosing *funcState
	proto     *bytecode.Proto
	locals    []local
	upvalues  []bytecode.UpvalueDesc
	scope     int
	loops     []*loopState
	depth     int
	isMain    bool
	nesting   int

	// Each limit is reported once per function.
	reportedLocals, reportedUpvalues, reportedConstants, reportedJump bool
}

func newFuncState(enclosing *funcState, name string, arity int, span source.Span) *funcState {
	fs := &funcState{enclosing: enclosing, proto: bytecode.NewProto(name, arity)}
	fs.proto.Span = span
	fs.isMain = enclosing == nil
	if enclosing != nil {
		fs.nesting = enclosing.nesting + 1
	}
	return fs
}

// adjust applies a stack effect and tracks the maximum depth.
func (fs *funcState) adjust(delta int) {
	fs.depth += delta
	if fs.depth > fs.proto.StackSize {
		fs.proto.StackSize = fs.depth
	}
}

// isGlobalScope reports whether a let here binds a global.
func (fs *funcState) isGlobalScope() bool {
	return fs.isMain && fs.scope == 0
}

func (fs *funcState) beginScope() {
	fs.scope++
}

// endScope forgets the locals of the innermost block and returns how many
// there were.
func (fs *funcState) endScope() int {
	fs.scope--
	n := 0
	for len(fs.locals) > 0 && fs.locals[len(fs.locals)-1].scope > fs.scope {
		fs.locals = fs.locals[:len(fs.locals)-1]
		n++
	}
	return n
}

// declareLocal binds name to slot. It returns false when the slot does not
// fit a one-byte operand.
func (fs *funcState) declareLocal(name string, slot int) bool {
	if slot >= bytecode.MaxLocals {
		return false
	}
	fs.locals = append(fs.locals, local{name: name, slot: slot, scope: fs.scope})
	if slot+1 > fs.proto.LocalCount {
		fs.proto.LocalCount = slot + 1
	}
	return true
}

// resolveLocal finds the innermost local called name.
func (fs *funcState) resolveLocal(name string) (int, bool) {
	for i := len(fs.locals) - 1; i >= 0; i-- {
		if fs.locals[i].name == name {
			return i, true
		}
	}
	return -1, false
}

// resolveUpvalue finds name in an enclosing function and threads it through
// every intermediate function as an upvalue. The second result is false
// when name is not a local anywhere up the chain. ok is false with a
// non-negative index when the upvalue table is full.
func (fs *funcState) resolveUpvalue(name string) (index int, found, ok bool) {
	if fs.enclosing == nil {
		return -1, false, true
	}
	if li, found := fs.enclosing.resolveLocal(name); found {
		fs.enclosing.locals[li].captured = true
		idx, ok := fs.addUpvalue(true, fs.enclosing.locals[li].slot, name)
		return idx, true, ok
	}
	up, found, ok := fs.enclosing.resolveUpvalue(name)
	if !found || !ok {
		return -1, found, ok
	}
	idx, ok := fs.addUpvalue(false, up, name)
	return idx, true, ok
}

func (fs *funcState) addUpvalue(fromLocal bool, index int, name string) (int, bool) {
	for i, uv := range fs.upvalues {
		if uv.FromLocal == fromLocal && int(uv.Index) == index {
			return i, true
		}
	}
	if len(fs.upvalues) >= bytecode.MaxUpvalues {
		return 0, false
	}
	fs.upvalues = append(fs.upvalues, bytecode.UpvalueDesc{
		FromLocal: fromLocal,
		Index:     uint8(index),
		Name:      name,
	})
	return len(fs.upvalues) - 1, true
}

func (fs *funcState) currentLoop() *loopState {
	if len(fs.loops) == 0 {
		return nil
	}
	return fs.loops[len(fs.loops)-1]
}
