package vm

import "sort"

// Upvalue is a captured variable with reference semantics. While the
// variable's frame is live the cell is open and reads and writes go to the
// stack slot; once the slot is discarded the cell is closed and owns the
// value. Every closure capturing the same slot shares one cell.
type Upvalue struct {
	slot   int // stack index while open
	open   bool
	closed Value
}

func (vm *VM) getUpvalue(u *Upvalue) Value {
	if u.open {
		return vm.stack[u.slot]
	}
	return u.closed
}

func (vm *VM) setUpvalue(u *Upvalue, v Value) {
	if u.open {
		vm.stack[u.slot] = v
		return
	}
	u.closed = v
}

// captureUpvalue returns the open cell for slot, creating it if needed.
// vm.open is kept sorted by slot.
func (vm *VM) captureUpvalue(slot int) *Upvalue {
	i := sort.Search(len(vm.open), func(i int) bool { return vm.open[i].slot >= slot })
	if i < len(vm.open) && vm.open[i].slot == slot {
		return vm.open[i]
	}
	u := &Upvalue{slot: slot, open: true}
	vm.open = append(vm.open, nil)
	copy(vm.open[i+1:], vm.open[i:])
	vm.open[i] = u
	return u
}

// closeUpvalues closes every open cell at or above stack index from.
func (vm *VM) closeUpvalues(from int) {
	n := len(vm.open)
	for n > 0 && vm.open[n-1].slot >= from {
		u := vm.open[n-1]
		u.closed = vm.stack[u.slot]
		u.open = false
		vm.open[n-1] = nil
		n--
	}
	vm.open = vm.open[:n]
}
