package ooo

import (
	"github.com/oisee/rv64sim/pkg/debug"
	"github.com/oisee/rv64sim/pkg/isa"
)

// issueStage renames at most one Allocated instruction per cycle and installs
// it into a reservation station. CSR and OP_FP instructions issue only from
// the ROB head so their reads of committed state are order-safe.
func (c *Core) issueStage() {
	s := &c.state
	if s.ROB.Empty() {
		return
	}
	inst := s.ROB.Dispatchable()
	if inst == nil {
		return
	}

	head := s.ROB.Head()
	d := &inst.Decoded

	// Nothing issues past an OP_FP instruction at the ROB head; the other
	// head-only instructions wait below until they reach the head.
	if head != nil && head != inst && head.Decoded.Opcode == isa.OpFP {
		s.Counters.Inc(CntStallFPHeadWait)
		s.Counters.Inc(CntPipelineStalls)
		debug.Tracef(debug.CatIssue, "fp instruction at rob head, hold younger issue")
		return
	}
	if d.IsCSR() && head != inst {
		s.Counters.Inc(CntStallCSRHeadWait)
		s.Counters.Inc(CntPipelineStalls)
		debug.Tracef(debug.CatIssue, "csr inst#%d waits for rob head", inst.ID)
		return
	}
	// OP_FP, FMA and FP stores read the architectural FP file at execute,
	// so they only issue from the ROB head.
	if fpOrderSensitive(d) && head != inst {
		s.Counters.Inc(CntStallFPHeadWait)
		s.Counters.Inc(CntPipelineStalls)
		debug.Tracef(debug.CatIssue, "fp inst#%d waits for rob head", inst.ID)
		return
	}

	if !s.RS.HasFree(inst.RequiredUnit()) {
		s.Counters.Inc(CntStallRSFull)
		s.Counters.Inc(CntPipelineStalls)
		debug.Tracef(debug.CatIssue, "reservation station full for %s", inst.RequiredUnit())
		return
	}

	// FP-destination instructions read the architectural FP file at
	// execute (safe: they issue head-only), so they bypass integer rename
	// entirely and are born ready.
	if (d.Opcode == isa.OpFP && !isa.FPWritesIntReg(d)) || isFMA(d) {
		inst.PhysSrc1 = 0
		inst.PhysSrc2 = 0
		inst.PhysDest = 0
		inst.Src1Ready = true
		inst.Src2Ready = true
		if !s.RS.Insert(inst) {
			s.Counters.Inc(CntStallRSFull)
			return
		}
		inst.Status = StatusIssued
		inst.IssueCycle = s.CycleCount
		debug.Tracef(debug.CatIssue, "issued fp inst#%d to rs[%d]", inst.ID, inst.RSSlot)
		return
	}

	res, ok := s.Rename.Rename(d)
	if !ok {
		s.Counters.Inc(CntStallRename)
		s.Counters.Inc(CntPipelineStalls)
		return
	}
	inst.PhysSrc1 = res.Src1
	inst.PhysSrc2 = res.Src2
	inst.PhysDest = res.Dest
	inst.Src1Ready = res.Src1Ready
	inst.Src1Value = res.Src1Value
	inst.Src2Ready = res.Src2Ready
	inst.Src2Value = res.Src2Value

	// Immediate-operand forms carry their operand in the encoding; the
	// source slots are repointed so execute reads uniform fields.
	fillImmediateSources(inst)

	if !s.RS.Insert(inst) {
		s.Rename.Release(res.Dest)
		s.Counters.Inc(CntStallRSFull)
		s.Counters.Inc(CntPipelineStalls)
		return
	}
	inst.Status = StatusIssued
	inst.IssueCycle = s.CycleCount
	debug.Tracef(debug.CatIssue, "issued inst#%d to rs[%d] (p%d,p%d -> p%d)",
		inst.ID, inst.RSSlot, inst.PhysSrc1, inst.PhysSrc2, inst.PhysDest)
}

// fillImmediateSources marks operands that do not come from the register
// file as ready: x0 reads as zero and U/J-type instructions have no register
// sources at all.
func fillImmediateSources(inst *DynInst) {
	d := &inst.Decoded
	if d.Rs1 == 0 && !inst.Src1Ready {
		inst.Src1Ready = true
		inst.Src1Value = 0
	}
	switch d.Type {
	case isa.TypeU, isa.TypeJ:
		inst.Src1Ready = true
		inst.Src2Ready = true
	}
	// CSR immediate forms carry zimm in the rs1 field; ECALL/EBREAK/MRET
	// and FENCE read no register at all. None of these may wait on a
	// spurious rename of those encoding bits.
	if d.IsCSRImmediate() ||
		(d.Opcode == isa.OpSystem && d.Funct3 == isa.F3PrivOrEcall) ||
		d.Opcode == isa.OpMiscMem {
		inst.Src1Ready = true
		inst.Src2Ready = true
	}
	// FP store data comes from the architectural FP file at execute, not
	// from the integer rename of the rs2 field bits.
	if d.Opcode == isa.OpStoreFP {
		inst.Src2Ready = true
	}
}

// fpOrderSensitive reports instructions that sample the architectural FP
// register file at execute time and therefore must issue head-only.
func fpOrderSensitive(d *isa.Decoded) bool {
	return d.Opcode == isa.OpFP || d.Opcode == isa.OpStoreFP || isFMA(d)
}

func isFMA(d *isa.Decoded) bool {
	switch d.Opcode {
	case isa.OpFMAdd, isa.OpFMSub, isa.OpFNMSub, isa.OpFNMAdd:
		return true
	}
	return false
}
