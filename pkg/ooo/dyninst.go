package ooo

import (
	"fmt"

	"github.com/oisee/rv64sim/pkg/isa"
)

// Status tracks the lifecycle of an in-flight instruction.
type Status uint8

const (
	StatusAllocated Status = iota // in the ROB, waiting to issue
	StatusIssued                  // in a reservation station
	StatusExecuting               // in an execution unit
	StatusCompleted               // result written back, waiting to retire
	StatusRetired
)

func (s Status) String() string {
	switch s {
	case StatusAllocated:
		return "ALLOCATED"
	case StatusIssued:
		return "ISSUED"
	case StatusExecuting:
		return "EXECUTING"
	case StatusCompleted:
		return "COMPLETED"
	case StatusRetired:
		return "RETIRED"
	}
	return "UNKNOWN"
}

// UnitClass is the execution-unit class an instruction needs.
type UnitClass uint8

const (
	UnitALU UnitClass = iota
	UnitBranch
	UnitLoad
	UnitStore
)

func (u UnitClass) String() string {
	switch u {
	case UnitALU:
		return "ALU"
	case UnitBranch:
		return "BRANCH"
	case UnitLoad:
		return "LOAD"
	default:
		return "STORE"
	}
}

// BranchInfo carries prediction bookkeeping from fetch to commit.
type BranchInfo struct {
	PredictedNextPC uint64
	BHTUsed         bool
	BHTPredTaken    bool
	BTBUsed         bool
	BTBHit          bool
	ActualTaken     bool
}

// MemInfo carries load/store details.
type MemInfo struct {
	Addr           uint64
	Value          uint64
	Size           uint8
	StoreForwarded bool
	ReplayCount    uint32
}

// FPInfo is the floating-point writeback record: which register class the
// result targets and the fflags delta to merge at commit.
type FPInfo struct {
	Value       uint64
	WriteIntReg bool
	WriteFPReg  bool
	Fflags      uint8
}

// AtomicInfo is the deferred memory effect of an AMO/LR/SC.
type AtomicInfo struct {
	Addr       uint64
	StoreValue uint64
	DoStore    bool
	AcquireRes bool
	ReleaseRes bool
}

// DynInst is the single shared record for one in-flight dynamic instruction.
// ROB slots, reservation-station entries, execution units and the CDB all
// point at the same object; the per-cycle stage order gives each field a
// single writer.
type DynInst struct {
	Decoded isa.Decoded
	ID      uint64 // monotonically increasing in dispatch order
	PC      uint64
	Status  Status

	// Rename.
	LogicalDest uint8
	PhysDest    uint8
	PhysSrc1    uint8
	PhysSrc2    uint8

	Src1Ready bool
	Src2Ready bool
	Src1Value uint64
	Src2Value uint64

	// Result.
	Result      uint64
	ResultReady bool
	ExcMsg      string // simulator fault, fatal at commit
	HasExc      bool
	HasTrap     bool // architectural trap, redirected at commit
	TrapCause   uint64
	TrapTval    uint64

	// Control flow.
	IsJump     bool
	JumpTarget uint64

	// Optional per-kind records.
	Branch  BranchInfo
	Mem     MemInfo
	FP      *FPInfo
	Atomic  *AtomicInfo

	// Back-references.
	ROBSlot int
	RSSlot  int

	// Cycle stamps for trace output.
	DecodeCycle  uint64
	IssueCycle   uint64
	ExecCycle    uint64
	DoneCycle    uint64
	RetireCycle  uint64
}

func newDynInst(d isa.Decoded, pc, id uint64) *DynInst {
	inst := &DynInst{
		Decoded:     d,
		ID:          id,
		PC:          pc,
		Status:      StatusAllocated,
		LogicalDest: d.Rd,
		RSSlot:      -1,
	}
	return inst
}

// Ready reports whether both sources are available.
func (i *DynInst) Ready() bool { return i.Src1Ready && i.Src2Ready }

// SetResult latches the execution result.
func (i *DynInst) SetResult(v uint64) {
	i.Result = v
	i.ResultReady = true
}

// SetTrap records an architectural trap, clearing any simulator fault.
func (i *DynInst) SetTrap(cause, tval uint64) {
	i.HasExc = false
	i.ExcMsg = ""
	i.HasTrap = true
	i.TrapCause = cause
	i.TrapTval = tval
}

// SetExc records a simulator fault.
func (i *DynInst) SetExc(msg string) {
	i.HasExc = true
	i.ExcMsg = msg
	i.HasTrap = false
}

// RequiredUnit maps the decoded opcode onto an execution-unit class.
func (i *DynInst) RequiredUnit() UnitClass {
	switch i.Decoded.Opcode {
	case isa.OpLoad, isa.OpLoadFP:
		return UnitLoad
	case isa.OpStore, isa.OpStoreFP:
		return UnitStore
	case isa.OpBranch, isa.OpJAL, isa.OpJALR:
		return UnitBranch
	default:
		return UnitALU
	}
}

func (i *DynInst) String() string {
	return fmt.Sprintf("inst#%d pc=0x%x op=0x%02x %s", i.ID, i.PC, uint8(i.Decoded.Opcode), i.Status)
}
