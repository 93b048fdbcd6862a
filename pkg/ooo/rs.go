package ooo

import "github.com/oisee/rv64sim/pkg/debug"

// Reservation-station pool sizes per unit class.
const (
	RSALUEntries    = 8
	RSBranchEntries = 4
	RSLoadEntries   = 4
	RSStoreEntries  = 4
	RSTotalEntries  = RSALUEntries + RSBranchEntries + RSLoadEntries + RSStoreEntries
)

type rsEntry struct {
	busy  bool
	class UnitClass
	inst  *DynInst
}

// ReservationStation holds the per-class wake-up pools. Entries are keyed by
// a flat index; the class ranges partition the array.
type ReservationStation struct {
	entries [RSTotalEntries]rsEntry
}

// NewReservationStation returns empty pools.
func NewReservationStation() *ReservationStation { return &ReservationStation{} }

func classRange(class UnitClass) (int, int) {
	switch class {
	case UnitALU:
		return 0, RSALUEntries
	case UnitBranch:
		return RSALUEntries, RSALUEntries + RSBranchEntries
	case UnitLoad:
		return RSALUEntries + RSBranchEntries, RSALUEntries + RSBranchEntries + RSLoadEntries
	default:
		return RSALUEntries + RSBranchEntries + RSLoadEntries, RSTotalEntries
	}
}

// HasFree reports whether the pool for class has a free slot.
func (rs *ReservationStation) HasFree(class UnitClass) bool {
	lo, hi := classRange(class)
	for i := lo; i < hi; i++ {
		if !rs.entries[i].busy {
			return true
		}
	}
	return false
}

// Insert places an issued instruction into its class pool and records the
// slot on the instruction. Returns false when the pool is full.
func (rs *ReservationStation) Insert(inst *DynInst) bool {
	class := inst.RequiredUnit()
	lo, hi := classRange(class)
	for i := lo; i < hi; i++ {
		if rs.entries[i].busy {
			continue
		}
		rs.entries[i] = rsEntry{busy: true, class: class, inst: inst}
		inst.RSSlot = i
		debug.Tracef(debug.CatRS, "insert inst#%d into rs[%d] (%s)", inst.ID, i, class)
		return true
	}
	return false
}

// Release frees a reservation-station slot.
func (rs *ReservationStation) Release(slot int) {
	if slot >= 0 && slot < RSTotalEntries {
		rs.entries[slot] = rsEntry{}
	}
}

// OldestReady returns the Issued entry with both sources ready and the
// smallest instruction id whose unit class passes unitFree, or nil.
func (rs *ReservationStation) OldestReady(unitFree func(UnitClass) bool) *DynInst {
	var oldest *DynInst
	for i := range rs.entries {
		e := &rs.entries[i]
		if !e.busy || e.inst == nil || e.inst.Status != StatusIssued || !e.inst.Ready() {
			continue
		}
		if !unitFree(e.class) {
			continue
		}
		if oldest == nil || e.inst.ID < oldest.ID {
			oldest = e.inst
		}
	}
	return oldest
}

// Broadcast wakes up every waiting source that matches the producing physical
// register of a completed instruction.
func (rs *ReservationStation) Broadcast(producer uint8, value uint64) {
	if producer == 0 {
		return
	}
	for i := range rs.entries {
		e := &rs.entries[i]
		if !e.busy || e.inst == nil {
			continue
		}
		if !e.inst.Src1Ready && e.inst.PhysSrc1 == producer {
			e.inst.Src1Ready = true
			e.inst.Src1Value = value
			debug.Tracef(debug.CatRS, "wakeup inst#%d src1 <- p%d = 0x%x", e.inst.ID, producer, value)
		}
		if !e.inst.Src2Ready && e.inst.PhysSrc2 == producer {
			e.inst.Src2Ready = true
			e.inst.Src2Value = value
			debug.Tracef(debug.CatRS, "wakeup inst#%d src2 <- p%d = 0x%x", e.inst.ID, producer, value)
		}
	}
}

// Occupied counts busy entries; ReadyCount counts entries eligible to
// dispatch. The execute stage uses both for its stall breakdown.
func (rs *ReservationStation) Occupied() int {
	n := 0
	for i := range rs.entries {
		if rs.entries[i].busy {
			n++
		}
	}
	return n
}

func (rs *ReservationStation) ReadyCount() int {
	n := 0
	for i := range rs.entries {
		e := &rs.entries[i]
		if e.busy && e.inst != nil && e.inst.Status == StatusIssued && e.inst.Ready() {
			n++
		}
	}
	return n
}

// Flush clears every pool.
func (rs *ReservationStation) Flush() {
	rs.entries = [RSTotalEntries]rsEntry{}
}

// ExecUnit models one busy/idle execution unit with a countdown.
type ExecUnit struct {
	Busy      bool
	Remaining int
	Inst      *DynInst

	Result     uint64
	HasExc     bool
	ExcMsg     string
	IsJump     bool
	JumpTarget uint64

	// Load/store progress.
	MemAddr       uint64
	MemSize       uint8
	DcacheSent    bool
	WaitingDcache bool
}

// reset returns the unit to idle.
func (u *ExecUnit) reset() { *u = ExecUnit{} }
