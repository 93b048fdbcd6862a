package ooo

import (
	"fmt"

	"github.com/oisee/rv64sim/pkg/debug"
	"github.com/oisee/rv64sim/pkg/isa"
)

// commitStage retires the ROB head in program order: architectural register
// and memory updates, CSR writes, trap entry, redirect flushes, predictor
// training and the DiffTest checkpoint all happen here.
func (c *Core) commitStage() {
	s := &c.state
	if !s.ROB.CanCommit() {
		return
	}
	inst := s.ROB.CommitHead()
	inst.RetireCycle = s.CycleCount
	d := &inst.Decoded

	if inst.HasExc {
		// Simulator fault with precise ordering: everything older has
		// retired, everything younger is squashed.
		c.fault = fmt.Errorf("inst#%d pc=0x%x: %s", inst.ID, inst.PC, inst.ExcMsg)
		c.flushPipeline()
		s.Halted = true
		return
	}

	s.InstCount++
	s.Counters.Inc(CntRetired)

	if inst.HasTrap {
		target := s.CSRs.EnterMachineTrap(inst.PC, inst.TrapCause, inst.TrapTval)
		debug.Tracef(debug.CatCommit, "inst#%d trap cause=%d tval=0x%x -> 0x%x",
			inst.ID, inst.TrapCause, inst.TrapTval, target)
		c.redirect(target)
		c.notifyCommit(inst, false)
		return
	}

	c.commitRegisters(inst)

	if d.IsStoreLike() {
		if !c.commitMemory(inst) {
			return
		}
	}

	if d.IsCSR() {
		addr := isa.CSRAddr(d)
		old := s.CSRs.Read(addr)
		s.CSRs.Write(addr, isa.CSRUpdate(d, inst.Src1Value, old))
		debug.Tracef(debug.CatCommit, "inst#%d csr[0x%03x] <- 0x%x", inst.ID, addr, s.CSRs.Read(addr))
	}

	// Predictor training uses the committed outcome.
	if d.IsBranch() {
		s.Pred.Update(inst.PC, d, inst.Branch.ActualTaken, inst.JumpTarget)
	} else if d.Opcode == isa.OpJALR {
		s.Pred.Update(inst.PC, d, true, inst.JumpTarget)
	}

	ecall := false
	var redirectTo uint64
	redirected := false

	switch {
	case d.IsEcall():
		ecall = true
		c.handleEcall()
		// The syscall rewrote registers underneath the rename table;
		// refetch so younger instructions observe the new values.
		if !s.Halted {
			redirectTo = d.NextPC(inst.PC)
			redirected = true
		}
	case d.IsEbreak():
		debug.Tracef(debug.CatCommit, "inst#%d ebreak, halting", inst.ID)
		s.Halted = true
	case d.IsMRET():
		redirectTo = s.CSRs.Read(isa.CsrMepc)
		redirected = true
		debug.Tracef(debug.CatCommit, "inst#%d mret -> 0x%x", inst.ID, redirectTo)
	case d.IsFenceI():
		// Later fetches must observe updated memory; restart the front
		// end from the next sequential PC with a clean I-cache.
		if s.L1I != nil {
			s.L1I.Reset()
		}
		redirectTo = d.NextPC(inst.PC)
		redirected = true
		debug.Tracef(debug.CatCommit, "inst#%d fence.i, refetch from 0x%x", inst.ID, redirectTo)
	}

	// Misprediction check: the committed next PC must match what fetch
	// speculated after this instruction; any difference flushes.
	if !redirected && !s.Halted {
		actualNext := d.NextPC(inst.PC)
		if inst.IsJump {
			actualNext = inst.JumpTarget
		}
		if actualNext != inst.Branch.PredictedNextPC {
			s.Counters.Inc(CntBranchMispredicts)
			redirectTo = actualNext
			redirected = true
			debug.Tracef(debug.CatCommit, "inst#%d redirect: predicted=0x%x actual=0x%x",
				inst.ID, inst.Branch.PredictedNextPC, actualNext)
		}
	}

	if redirected {
		c.redirect(redirectTo)
	}

	c.notifyCommit(inst, ecall)

	if ok, code := s.Mem.ExitRequested(); ok {
		debug.Tracef(debug.CatCommit, "tohost exit with code %d", code)
		s.Halted = true
	}
}

// commitRegisters applies the architectural register writeback and releases
// the previous rename mapping.
func (c *Core) commitRegisters(inst *DynInst) {
	s := &c.state
	d := &inst.Decoded

	if inst.FP != nil {
		s.CSRs.AccumulateFflags(inst.FP.Fflags)
		switch {
		case inst.FP.WriteIntReg && d.Rd != 0:
			s.ArchRegs[d.Rd] = inst.Result
			s.Rename.Commit(inst.LogicalDest, inst.PhysDest)
			s.Rename.SetArchValue(d.Rd, inst.Result)
			debug.Tracef(debug.CatCommit, "inst#%d x%d = 0x%x", inst.ID, d.Rd, inst.Result)
		case inst.FP.WriteFPReg:
			s.ArchFRegs[d.Rd] = inst.FP.Value
			debug.Tracef(debug.CatCommit, "inst#%d f%d = 0x%x", inst.ID, d.Rd, inst.FP.Value)
		}
		return
	}

	if d.Opcode == isa.OpLoadFP {
		s.ArchFRegs[d.Rd] = inst.Result
		debug.Tracef(debug.CatCommit, "inst#%d f%d = 0x%x", inst.ID, d.Rd, inst.Result)
		return
	}

	wrote := false
	if d.WritesIntReg() && d.Rd != 0 {
		s.ArchRegs[d.Rd] = inst.Result
		wrote = true
		debug.Tracef(debug.CatCommit, "inst#%d x%d = 0x%x", inst.ID, d.Rd, inst.Result)
	}
	// PhysDest is nonzero exactly when issue allocated a destination.
	if inst.PhysDest != 0 {
		s.Rename.Commit(inst.LogicalDest, inst.PhysDest)
	}
	if wrote {
		s.Rename.SetArchValue(d.Rd, inst.Result)
	}
}

// commitMemory performs the retiring store's (or AMO's) buffered write and
// invalidates its store-buffer entries. Returns false on a fatal memory
// fault.
func (c *Core) commitMemory(inst *DynInst) bool {
	s := &c.state
	d := &inst.Decoded

	write := func(addr, value uint64, size uint8) bool {
		if err := s.Mem.Write(addr, value, int(size)); err != nil {
			c.fault = fmt.Errorf("inst#%d pc=0x%x store: %v", inst.ID, inst.PC, err)
			c.flushPipeline()
			s.Halted = true
			return false
		}
		return true
	}

	switch {
	case d.Opcode == isa.OpAMO:
		if inst.Atomic != nil && inst.Atomic.DoStore {
			if !write(inst.Atomic.Addr, inst.Atomic.StoreValue, d.MemSize) {
				return false
			}
		}
	default:
		if !write(inst.Mem.Addr, inst.Mem.Value, inst.Mem.Size) {
			return false
		}
	}

	// A committed store to the reserved address breaks the reservation.
	if s.ResValid && inst.Mem.Addr == s.ResAddr && d.Opcode != isa.OpAMO {
		s.ResValid = false
	}

	s.StoreBuf.RetireBefore(inst.ID)
	return true
}

// handleEcall invokes the syscall collaborator against committed state. The
// handler mutates a0 (and memory) out of band; DiffTest resynchronises after.
func (c *Core) handleEcall() {
	s := &c.state
	debug.Tracef(debug.CatCommit, "ecall: a7=%d a0=0x%x", s.ArchRegs[17], s.ArchRegs[10])
	if s.Syscall == nil {
		s.Halted = true
		return
	}
	if halt := s.Syscall.Handle(s); halt {
		s.Halted = true
	}
}

// redirect points fetch at target and squashes all younger state.
func (c *Core) redirect(target uint64) {
	c.state.PC = target
	c.flushPipeline()
}

// flushPipeline discards all speculative state: fetch buffer, CDB,
// reservation stations, ROB, store buffer and execution units. The rename
// table is restored from the committed map and the free list rebuilt around
// the architectural physregs. Predictor state survives; the LR reservation
// does not.
func (c *Core) flushPipeline() {
	s := &c.state
	s.FetchBuffer = s.FetchBuffer[:0]
	s.CDB = s.CDB[:0]
	s.RS.Flush()
	s.ROB.Flush()
	s.Rename.FlushRestore()
	s.StoreBuf.Flush()
	s.resetUnits()
	s.ICacheReq.reset()
	s.ResValid = false
	s.fetchStopped = false
	s.Counters.Inc(CntPipelineFlushes)
	debug.Tracef(debug.CatCommit, "pipeline flush, refetch from 0x%x", s.PC)
}

func (c *Core) notifyCommit(inst *DynInst, ecall bool) {
	if c.observer != nil {
		c.observer.AfterCommit(inst.PC, ecall)
	}
}
