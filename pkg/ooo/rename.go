package ooo

import (
	"github.com/oisee/rv64sim/pkg/debug"
	"github.com/oisee/rv64sim/pkg/isa"
)

const (
	// NumLogicalRegs is the architectural integer register count.
	NumLogicalRegs = 32
	// NumPhysRegs is the unified physical register file size. The low 32
	// registers hold the initial architectural image and never return to
	// the free list.
	NumPhysRegs = 128
)

type physReg struct {
	value    uint64
	ready    bool
	producer int // ROB slot that will publish the value
}

// RenameUnit owns the speculative rename table, the committed arch map, the
// physical register file and the free list.
type RenameUnit struct {
	renameTable [NumLogicalRegs]uint8
	archMap     [NumLogicalRegs]uint8
	phys        [NumPhysRegs]physReg
	freeList    []uint8

	renames uint64
	stalls  uint64
}

// NewRenameUnit returns a rename unit in the reset state: identity mappings
// and physregs 32..127 free.
func NewRenameUnit() *RenameUnit {
	u := &RenameUnit{}
	u.Reset()
	return u
}

// Reset restores identity mappings and rebuilds the free list.
func (u *RenameUnit) Reset() {
	for i := 0; i < NumLogicalRegs; i++ {
		u.renameTable[i] = uint8(i)
		u.archMap[i] = uint8(i)
	}
	for i := range u.phys {
		u.phys[i] = physReg{ready: true}
	}
	u.freeList = u.freeList[:0]
	for i := NumLogicalRegs; i < NumPhysRegs; i++ {
		u.freeList = append(u.freeList, uint8(i))
	}
}

// RenameResult is the outcome of renaming one instruction.
type RenameResult struct {
	Src1, Src2 uint8
	Dest       uint8
	Src1Ready  bool
	Src2Ready  bool
	Src1Value  uint64
	Src2Value  uint64
}

// Rename maps an instruction's sources to the current physical registers and
// allocates a destination physreg for rd != x0. Self-dependencies read the
// prior producer, not the newly allocated register. Returns ok=false when the
// free list is exhausted.
func (u *RenameUnit) Rename(d *isa.Decoded) (RenameResult, bool) {
	var res RenameResult

	needsDest := d.Rd != 0 && d.WritesIntReg()
	if needsDest && len(u.freeList) == 0 {
		u.stalls++
		debug.Tracef(debug.CatRename, "rename stall: no free physreg for x%d", d.Rd)
		return res, false
	}

	res.Src1 = u.renameTable[d.Rs1]
	res.Src1Ready = u.phys[res.Src1].ready
	res.Src1Value = u.phys[res.Src1].value

	if needsSrc2(d) {
		res.Src2 = u.renameTable[d.Rs2]
		res.Src2Ready = u.phys[res.Src2].ready
		res.Src2Value = u.phys[res.Src2].value
	} else {
		res.Src2 = 0
		res.Src2Ready = true
	}

	if needsDest {
		oldPhys := u.renameTable[d.Rd]
		res.Dest = u.freeList[0]
		u.freeList = u.freeList[1:]
		u.renameTable[d.Rd] = res.Dest
		u.phys[res.Dest].ready = false

		// Self-dependency: sources naming rd must still see the prior
		// producer, not the register just allocated.
		if d.Rs1 == d.Rd {
			res.Src1 = oldPhys
			res.Src1Ready = u.phys[oldPhys].ready
			res.Src1Value = u.phys[oldPhys].value
		}
		if needsSrc2(d) && d.Rs2 == d.Rd {
			res.Src2 = oldPhys
			res.Src2Ready = u.phys[oldPhys].ready
			res.Src2Value = u.phys[oldPhys].value
		}
		debug.Tracef(debug.CatRename, "rename x%d: p%d -> p%d", d.Rd, oldPhys, res.Dest)
	}

	u.renames++
	return res, true
}

// needsSrc2 reports whether the encoding reads rs2 from the register file.
func needsSrc2(d *isa.Decoded) bool {
	switch d.Type {
	case isa.TypeR, isa.TypeS, isa.TypeB:
		return true
	default:
		return false
	}
}

// Publish writes a completed value to a physical register.
func (u *RenameUnit) Publish(reg uint8, value uint64, robSlot int) {
	if reg == 0 {
		return
	}
	u.phys[reg].value = value
	u.phys[reg].ready = true
	u.phys[reg].producer = robSlot
}

// Value reads a physical register.
func (u *RenameUnit) Value(reg uint8) uint64 { return u.phys[reg].value }

// Ready reports whether a physical register holds a published value.
func (u *RenameUnit) Ready(reg uint8) bool { return u.phys[reg].ready }

// Release returns a physreg to the free list. The architectural baseline
// (p0..p31) is never released.
func (u *RenameUnit) Release(reg uint8) {
	if reg < NumLogicalRegs {
		return
	}
	u.phys[reg].ready = true
	u.phys[reg].value = 0
	u.freeList = append(u.freeList, reg)
}

// Commit moves the committed mapping of a logical register to phys and frees
// the previous architectural register.
func (u *RenameUnit) Commit(logical uint8, phys uint8) {
	if logical == 0 {
		return
	}
	old := u.archMap[logical]
	u.archMap[logical] = phys

	// Keep the speculative table coherent when it still points at the
	// retiring chain.
	if u.renameTable[logical] == phys || u.renameTable[logical] == old {
		u.renameTable[logical] = phys
	}
	if old >= NumLogicalRegs {
		u.Release(old)
	}
}

// SetArchValue forces a committed architectural value (DiffTest sync and
// syscalls that mutate registers out of band).
func (u *RenameUnit) SetArchValue(logical uint8, value uint64) {
	if logical == 0 {
		return
	}
	u.phys[u.archMap[logical]].value = value
}

// FlushRestore recovers from a pipeline flush: the speculative table is
// restored from the arch map, and the free list is rebuilt as every physreg
// in 32..127 not reachable through the arch map. Rebuilding (rather than
// replaying frees) cannot double-free the architectural baseline.
func (u *RenameUnit) FlushRestore() {
	inUse := [NumPhysRegs]bool{}
	for i := 0; i < NumLogicalRegs; i++ {
		u.renameTable[i] = u.archMap[i]
		inUse[u.archMap[i]] = true
	}
	u.freeList = u.freeList[:0]
	for i := NumLogicalRegs; i < NumPhysRegs; i++ {
		if !inUse[i] {
			u.freeList = append(u.freeList, uint8(i))
			u.phys[i].ready = true
		}
	}
	debug.Tracef(debug.CatRename, "flush: rename table restored from arch map, %d physregs free", len(u.freeList))
}

// FreeCount returns the free-list length.
func (u *RenameUnit) FreeCount() int { return len(u.freeList) }

// ArchPhys returns the committed physical register of a logical register.
func (u *RenameUnit) ArchPhys(logical uint8) uint8 { return u.archMap[logical] }

// Stats returns rename and stall totals.
func (u *RenameUnit) Stats() (renames, stalls uint64) { return u.renames, u.stalls }
