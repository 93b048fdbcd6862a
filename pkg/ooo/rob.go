package ooo

import (
	"github.com/oisee/rv64sim/pkg/debug"
	"github.com/oisee/rv64sim/pkg/isa"
)

// ROBSize is the reorder-buffer capacity.
const ROBSize = 32

// ROB is the program-order ring of in-flight instructions. The head is the
// oldest non-retired instruction; retirement frees slots from the head,
// allocation fills them at the tail.
type ROB struct {
	slots [ROBSize]*DynInst
	head  int
	tail  int
	count int

	allocated uint64
	committed uint64
	flushed   uint64
}

// NewROB returns an empty reorder buffer.
func NewROB() *ROB { return &ROB{} }

func (r *ROB) Empty() bool     { return r.count == 0 }
func (r *ROB) Full() bool      { return r.count >= ROBSize }
func (r *ROB) Len() int        { return r.count }
func (r *ROB) FreeSlots() int  { return ROBSize - r.count }

// Allocate creates a DynInst in the tail slot. Returns nil when full.
func (r *ROB) Allocate(d isa.Decoded, pc, id uint64) *DynInst {
	if r.Full() {
		return nil
	}
	inst := newDynInst(d, pc, id)
	inst.ROBSlot = r.tail
	r.slots[r.tail] = inst
	r.tail = (r.tail + 1) % ROBSize
	r.count++
	r.allocated++
	debug.Tracef(debug.CatROB, "allocate rob[%d] inst#%d pc=0x%x", inst.ROBSlot, id, pc)
	return inst
}

// Head returns the oldest instruction, or nil.
func (r *ROB) Head() *DynInst {
	if r.Empty() {
		return nil
	}
	return r.slots[r.head]
}

// Dispatchable returns the oldest Allocated instruction, or nil.
func (r *ROB) Dispatchable() *DynInst {
	for i := 0; i < r.count; i++ {
		slot := (r.head + i) % ROBSize
		if inst := r.slots[slot]; inst != nil && inst.Status == StatusAllocated {
			return inst
		}
	}
	return nil
}

// CanCommit reports whether the head instruction has completed.
func (r *ROB) CanCommit() bool {
	h := r.Head()
	return h != nil && h.Status == StatusCompleted
}

// CommitHead retires and removes the head instruction. The caller must have
// checked CanCommit.
func (r *ROB) CommitHead() *DynInst {
	inst := r.slots[r.head]
	inst.Status = StatusRetired
	r.slots[r.head] = nil
	r.head = (r.head + 1) % ROBSize
	r.count--
	r.committed++
	debug.Tracef(debug.CatROB, "commit rob head inst#%d pc=0x%x result=0x%x", inst.ID, inst.PC, inst.Result)
	return inst
}

// Flush discards every in-flight instruction. The just-retired head has
// already left the ring, so this resets the whole structure.
func (r *ROB) Flush() {
	r.flushed += uint64(r.count)
	r.slots = [ROBSize]*DynInst{}
	r.head = 0
	r.tail = 0
	r.count = 0
}

// HasOlderStoreUncommitted reports whether any store or AMO older than id is
// still in flight. AMO dispatch is held until this clears.
func (r *ROB) HasOlderStoreUncommitted(id uint64) bool {
	for i := 0; i < r.count; i++ {
		inst := r.slots[(r.head+i)%ROBSize]
		if inst == nil {
			continue
		}
		if inst.ID >= id {
			break
		}
		if inst.Decoded.IsStoreLike() {
			return true
		}
	}
	return false
}

// HasOlderStorePending reports whether a store-like instruction older than id
// has not yet computed its address (not completed). Loads replay until the
// older store's bytes are visible to the forwarding probe.
func (r *ROB) HasOlderStorePending(id uint64) bool {
	for i := 0; i < r.count; i++ {
		inst := r.slots[(r.head+i)%ROBSize]
		if inst == nil {
			continue
		}
		if inst.ID >= id {
			break
		}
		if inst.Decoded.IsStoreLike() && inst.Status != StatusCompleted {
			return true
		}
	}
	return false
}

// Stats returns allocation/commit/flush totals.
func (r *ROB) Stats() (allocated, committed, flushed uint64) {
	return r.allocated, r.committed, r.flushed
}
