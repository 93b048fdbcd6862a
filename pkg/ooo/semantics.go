package ooo

import (
	"github.com/oisee/rv64sim/pkg/debug"
	"github.com/oisee/rv64sim/pkg/isa"
)

// execSemantics evaluates an instruction's semantics at dispatch time. The
// result is latched in the unit and published when the countdown expires, so
// evaluation happens exactly once and timing is a separate concern.
func (c *Core) execSemantics(u *ExecUnit, inst *DynInst) {
	s := &c.state
	d := &inst.Decoded

	if d.DecodeErr != "" {
		u.HasExc = true
		u.ExcMsg = d.DecodeErr
		return
	}

	switch d.Opcode {
	case isa.OpImm:
		u.Result = isa.ExecImm(d, inst.Src1Value)
	case isa.OpImm32:
		u.Result = isa.ExecImm32(d, inst.Src1Value)
	case isa.OpReg:
		if d.Funct7 == isa.F7MExt {
			u.Result = isa.ExecMulDiv(d, inst.Src1Value, inst.Src2Value)
		} else {
			u.Result = isa.ExecReg(d, inst.Src1Value, inst.Src2Value)
		}
	case isa.OpReg32:
		if d.Funct7 == isa.F7MExt {
			u.Result = isa.ExecMulDiv32(d, inst.Src1Value, inst.Src2Value)
		} else {
			u.Result = isa.ExecReg32(d, inst.Src1Value, inst.Src2Value)
		}
	case isa.OpLUI, isa.OpAUIPC:
		u.Result = isa.ExecUpperImm(d, inst.PC)

	case isa.OpLoad, isa.OpLoadFP:
		addr := inst.Src1Value + uint64(int64(d.Imm))
		u.MemAddr = addr
		u.MemSize = d.MemSize
		inst.Mem.Addr = addr
		inst.Mem.Size = d.MemSize
		if addr%uint64(d.MemSize) != 0 {
			inst.SetTrap(isa.CauseMisalignedLoad, addr)
			debug.Tracef(debug.CatExecute, "inst#%d misaligned load addr=0x%x", inst.ID, addr)
		}

	case isa.OpStore, isa.OpStoreFP:
		c.execStore(u, inst)

	case isa.OpBranch:
		s.Counters.Inc(CntBranches)
		taken := isa.BranchTaken(d, inst.Src1Value, inst.Src2Value)
		inst.Branch.ActualTaken = taken
		u.Result = 0
		if taken {
			target := isa.JumpTarget(d, inst.PC)
			if isa.MisalignedTarget(target, s.Ext) {
				inst.SetTrap(isa.CauseMisalignedFetch, target)
				return
			}
			u.IsJump = true
			u.JumpTarget = target
			debug.Tracef(debug.CatBranch, "inst#%d branch taken -> 0x%x", inst.ID, target)
		} else {
			debug.Tracef(debug.CatBranch, "inst#%d branch not taken", inst.ID)
		}

	case isa.OpJAL:
		target := isa.JumpTarget(d, inst.PC)
		if isa.MisalignedTarget(target, s.Ext) {
			inst.SetTrap(isa.CauseMisalignedFetch, target)
			return
		}
		u.Result = d.NextPC(inst.PC)
		u.IsJump = true
		u.JumpTarget = target

	case isa.OpJALR:
		target := isa.JALRTarget(d, inst.Src1Value)
		if isa.MisalignedTarget(target, s.Ext) {
			inst.SetTrap(isa.CauseMisalignedFetch, target)
			return
		}
		u.Result = d.NextPC(inst.PC)
		u.IsJump = true
		u.JumpTarget = target

	case isa.OpAMO:
		c.execAtomic(u, inst)

	case isa.OpFP:
		// Head-only issue makes the architectural files current here.
		res := isa.ExecFP(d, s.ArchFRegs[d.Rs1], s.ArchFRegs[d.Rs2], s.ArchRegs[d.Rs1], s.CSRs.Frm())
		u.Result = res.Value
		inst.FP = &FPInfo{Value: res.Value, WriteIntReg: res.WriteIntReg, WriteFPReg: res.WriteFPReg, Fflags: res.Fflags}

	case isa.OpFMAdd, isa.OpFMSub, isa.OpFNMSub, isa.OpFNMAdd:
		res := isa.ExecFMA(d, s.ArchFRegs[d.Rs1], s.ArchFRegs[d.Rs2], s.ArchFRegs[d.Rs3], s.CSRs.Frm())
		u.Result = res.Value
		inst.FP = &FPInfo{Value: res.Value, WriteIntReg: res.WriteIntReg, WriteFPReg: res.WriteFPReg, Fflags: res.Fflags}

	case isa.OpMiscMem:
		// FENCE orders nothing on one hart; FENCE.I redirects at commit.
		u.Result = 0

	case isa.OpSystem:
		if d.IsCSR() {
			// Read now, write at commit so CSR order follows program order
			// (guaranteed by head-only issue).
			u.Result = s.CSRs.Read(isa.CSRAddr(d))
		} else {
			// ECALL/EBREAK/MRET and friends act at commit.
			u.Result = 0
		}

	default:
		u.HasExc = true
		u.ExcMsg = "unsupported opcode"
	}
}

// execStore computes the address and pushes the pending bytes into the store
// buffer; the memory write happens at commit.
func (c *Core) execStore(u *ExecUnit, inst *DynInst) {
	s := &c.state
	d := &inst.Decoded
	addr := inst.Src1Value + uint64(int64(d.Imm))
	value := inst.Src2Value
	if d.Opcode == isa.OpStoreFP {
		// FP stores issue head-only, so the architectural FP file is
		// current here.
		value = s.ArchFRegs[d.Rs2]
	}

	u.MemAddr = addr
	u.MemSize = d.MemSize
	inst.Mem.Addr = addr
	inst.Mem.Size = d.MemSize
	inst.Mem.Value = value

	if addr%uint64(d.MemSize) != 0 {
		inst.SetTrap(isa.CauseMisalignedStore, addr)
		debug.Tracef(debug.CatExecute, "inst#%d misaligned store addr=0x%x", inst.ID, addr)
		return
	}

	s.StoreBuf.Add(inst, addr, value, d.MemSize)
	s.Counters.Inc(CntStoresToBuffer)
	debug.Tracef(debug.CatExecute, "inst#%d store addr=0x%x value=0x%x size=%d", inst.ID, addr, value, d.MemSize)
}

// execAtomic performs the AMO read-modify at execute time. LR/SC reservation
// bits are updated immediately so a following SC observes them; the memory
// write is deferred to commit through the store buffer.
func (c *Core) execAtomic(u *ExecUnit, inst *DynInst) {
	s := &c.state
	d := &inst.Decoded
	addr := inst.Src1Value

	u.MemAddr = addr
	u.MemSize = d.MemSize
	inst.Mem.Addr = addr
	inst.Mem.Size = d.MemSize

	if addr%uint64(d.MemSize) != 0 {
		inst.SetTrap(isa.CauseMisalignedLoad, addr)
		return
	}

	// Dispatch ordering guarantees no older store-like op is in flight,
	// so memory is authoritative here.
	memVal, err := s.Mem.Read(addr, int(d.MemSize))
	if err != nil {
		u.HasExc = true
		u.ExcMsg = err.Error()
		return
	}

	res := isa.ExecAMO(d, memVal, inst.Src2Value, s.ResValid && s.ResAddr == addr)
	if res.AcquireRes {
		s.ResValid = true
		s.ResAddr = addr
	}
	if res.ReleaseRes {
		s.ResValid = false
	}
	info := &AtomicInfo{Addr: addr, StoreValue: res.StoreValue, DoStore: res.DoStore,
		AcquireRes: res.AcquireRes, ReleaseRes: res.ReleaseRes}
	inst.Atomic = info
	if res.DoStore {
		s.StoreBuf.Add(inst, addr, res.StoreValue, d.MemSize)
		s.Counters.Inc(CntStoresToBuffer)
	}
	u.Result = res.RdValue
	debug.Tracef(debug.CatExecute, "inst#%d amo addr=0x%x mem=0x%x rd=0x%x store=%v",
		inst.ID, addr, memVal, res.RdValue, res.DoStore)
}
