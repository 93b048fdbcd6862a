package ooo

import (
	"github.com/oisee/rv64sim/pkg/isa"
	"github.com/oisee/rv64sim/pkg/mem"
	"github.com/oisee/rv64sim/pkg/sys"
)

// FetchBufferSize bounds the fetch queue between fetch and decode.
const FetchBufferSize = 4

// Execution unit counts.
const (
	NumALUUnits    = 2
	NumBranchUnits = 1
	NumLoadUnits   = 1
	NumStoreUnits  = 1
)

// fetchedInst is one fetch-buffer record.
type fetchedInst struct {
	pc           uint64
	raw          uint32
	isCompressed bool
	predNextPC   uint64
}

// icacheWait models the blocking I-cache miss: the fetched word is parked
// with a countdown and handed to fetch when the wait drains. A zero-latency
// reuse is allowed on the cycle the wait expires.
type icacheWait struct {
	waitCycles int
	valid      bool
	pc         uint64
	raw        uint32
}

func (w *icacheWait) startMiss(pc uint64, raw uint32, latency int) {
	w.valid = true
	w.pc = pc
	w.raw = raw
	w.waitCycles = latency - 1
}

func (w *icacheWait) consumeIfMatch(pc uint64) (uint32, bool) {
	if w.valid && w.pc == pc {
		raw := w.raw
		w.reset()
		return raw, true
	}
	return 0, false
}

func (w *icacheWait) reset() {
	w.valid = false
	w.pc = 0
	w.raw = 0
	w.waitCycles = 0
}

// State is the shared mutable core state every pipeline stage operates on.
// It is mutated only through the stages, in commit→fetch order, once per
// cycle.
type State struct {
	PC         uint64
	Halted     bool
	InstCount  uint64
	CycleCount uint64
	Ext        isa.Extension

	ArchRegs  [32]uint64
	ArchFRegs [32]uint64
	CSRs      *isa.CSRFile

	Mem     *mem.Memory
	Syscall *sys.Handler

	FetchBuffer []fetchedInst
	CDB         []*DynInst

	Rename   *RenameUnit
	RS       *ReservationStation
	ROB      *ROB
	StoreBuf *StoreBuffer
	Pred     *Predictor

	L1I       *BlockingCache
	L1D       *BlockingCache
	ICacheReq icacheWait

	ALUUnits    [NumALUUnits]ExecUnit
	BranchUnits [NumBranchUnits]ExecUnit
	LoadUnits   [NumLoadUnits]ExecUnit
	StoreUnits  [NumStoreUnits]ExecUnit

	Counters Counters

	// LR/SC reservation. Lives in core state, cleared on flush so a
	// squashed SC cannot leave a stale reservation behind.
	ResValid bool
	ResAddr  uint64

	nextInstID uint64

	// fetchStopped is set when fetch sees the zero-word end-of-stream
	// sentinel or a fetch fault; the pipeline drains and then halts.
	fetchStopped bool
}

// Reg and SetReg access the committed architectural registers. SetReg also
// repairs the rename unit's committed view so DiffTest sync and syscalls stay
// coherent.
func (s *State) Reg(n int) uint64 { return s.ArchRegs[n&31] }

func (s *State) SetReg(n int, v uint64) {
	if n&31 == 0 {
		return
	}
	s.ArchRegs[n&31] = v
	s.Rename.SetArchValue(uint8(n&31), v)
}

func (s *State) allocInstID() uint64 {
	s.nextInstID++
	return s.nextInstID
}

// unitsFor returns the unit array for a class.
func (s *State) unitsFor(class UnitClass) []ExecUnit {
	switch class {
	case UnitALU:
		return s.ALUUnits[:]
	case UnitBranch:
		return s.BranchUnits[:]
	case UnitLoad:
		return s.LoadUnits[:]
	default:
		return s.StoreUnits[:]
	}
}

func (s *State) freeUnit(class UnitClass) *ExecUnit {
	units := s.unitsFor(class)
	for i := range units {
		if !units[i].Busy {
			return &units[i]
		}
	}
	return nil
}

func (s *State) hasFreeUnit(class UnitClass) bool { return s.freeUnit(class) != nil }

func (s *State) anyUnitBusy() bool {
	for _, us := range [][]ExecUnit{s.ALUUnits[:], s.BranchUnits[:], s.LoadUnits[:], s.StoreUnits[:]} {
		for i := range us {
			if us[i].Busy {
				return true
			}
		}
	}
	return false
}

func (s *State) resetUnits() {
	for _, us := range [][]ExecUnit{s.ALUUnits[:], s.BranchUnits[:], s.LoadUnits[:], s.StoreUnits[:]} {
		for i := range us {
			us[i].reset()
		}
	}
}
