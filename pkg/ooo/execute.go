package ooo

import (
	"github.com/oisee/rv64sim/pkg/debug"
	"github.com/oisee/rv64sim/pkg/isa"
)

// executeStage advances every busy unit, completing instructions whose
// countdown expired, then dispatches at most one ready reservation-station
// entry to a free unit. Semantics run at dispatch; the countdown only delays
// publication.
func (c *Core) executeStage() {
	c.updateUnits()
	c.dispatchOne()
}

func (c *Core) dispatchOne() {
	s := &c.state
	inst := s.RS.OldestReady(s.hasFreeUnit)
	if inst == nil {
		s.Counters.Inc(CntStallExecNoReady)
		switch {
		case s.RS.Occupied() == 0:
			s.Counters.Inc(CntStallExecFrontendStarved)
		case s.RS.ReadyCount() == 0:
			s.Counters.Inc(CntStallExecDependencyBlocked)
		default:
			s.Counters.Inc(CntStallExecResourceBlocked)
		}
		return
	}

	// Store-like ops need a free store-buffer slot; dispatching without one
	// would overwrite a live pre-commit store.
	if inst.Decoded.IsStoreLike() && s.StoreBuf.Occupancy() >= StoreBufferSize {
		s.Counters.Inc(CntStallExecSBFull)
		s.Counters.Inc(CntPipelineStalls)
		return
	}

	// AMO ordering: hold until no older store-like op is in flight, so the
	// memory read at execute cannot observe stale bytes.
	if inst.Decoded.Opcode == isa.OpAMO && s.ROB.HasOlderStoreUncommitted(inst.ID) {
		s.Counters.Inc(CntStallExecAMOWait)
		s.Counters.Inc(CntPipelineStalls)
		debug.Tracef(debug.CatExecute, "inst#%d AMO waits on older store-like op", inst.ID)
		return
	}

	unit := s.freeUnit(inst.RequiredUnit())
	unit.Busy = true
	unit.Inst = inst
	unit.Remaining = inst.Decoded.ExecCycles
	inst.Status = StatusExecuting
	inst.ExecCycle = s.CycleCount
	s.Counters.Inc(CntDispatched)
	debug.Tracef(debug.CatExecute, "dispatch inst#%d to %s, cycles=%d",
		inst.ID, inst.RequiredUnit(), unit.Remaining)

	c.execSemantics(unit, inst)
}

func (c *Core) updateUnits() {
	s := &c.state

	for i := range s.ALUUnits {
		u := &s.ALUUnits[i]
		if !u.Busy {
			continue
		}
		u.Remaining--
		if u.Remaining > 0 {
			continue
		}
		if u.Inst.Decoded.Opcode == isa.OpAMO && s.ROB.HasOlderStoreUncommitted(u.Inst.ID) {
			// The ordering check at dispatch can be invalidated by a
			// replayed older store; delay completion instead.
			u.Remaining = 1
			s.Counters.Inc(CntStallExecAMOWait)
			continue
		}
		c.completeUnit(u)
	}

	for i := range s.BranchUnits {
		u := &s.BranchUnits[i]
		if !u.Busy {
			continue
		}
		u.Remaining--
		if u.Remaining <= 0 {
			c.completeUnit(u)
		}
	}

	for i := range s.LoadUnits {
		u := &s.LoadUnits[i]
		if !u.Busy {
			continue
		}
		u.Remaining--
		if u.Remaining > 0 {
			continue
		}
		c.finishLoadUnit(u)
	}

	for i := range s.StoreUnits {
		u := &s.StoreUnits[i]
		if !u.Busy {
			continue
		}
		u.Remaining--
		if u.Remaining > 0 {
			continue
		}
		if !u.Inst.HasTrap && !u.HasExc {
			if !c.startOrWaitDcache(u, true, CntL1DStallCyclesStore) {
				debug.Tracef(debug.CatExecute, "inst#%d store waits for dcache", u.Inst.ID)
				continue
			}
		}
		u.Result = 0
		c.completeUnit(u)
	}
}

// finishLoadUnit runs the load completion protocol: replay when an older
// store's address is unknown, then the forwarding probe, then the D-cache.
func (c *Core) finishLoadUnit(u *ExecUnit) {
	s := &c.state
	inst := u.Inst

	if inst.HasTrap || u.HasExc {
		s.Counters.recordReplayBucket(inst.Mem.ReplayCount)
		c.completeUnit(u)
		return
	}

	if s.ROB.HasOlderStorePending(inst.ID) {
		c.replayLoad(u)
		return
	}

	switch c.performLoad(u) {
	case loadBlockedByStore:
		s.Counters.Inc(CntLoadsBlockedByStore)
		c.replayLoad(u)
	case loadWaitingForCache:
		debug.Tracef(debug.CatExecute, "inst#%d load waits for dcache, remaining=%d", inst.ID, u.Remaining)
	case loadException:
		s.Counters.recordReplayBucket(inst.Mem.ReplayCount)
		c.completeUnit(u)
	default:
		s.Counters.recordReplayBucket(inst.Mem.ReplayCount)
		c.completeUnit(u)
	}
}

// replayLoad returns a blocked load to Issued and frees the unit on the same
// cycle. Holding the only load unit here would deadlock behind an older store
// that still has to execute.
func (c *Core) replayLoad(u *ExecUnit) {
	s := &c.state
	inst := u.Inst
	inst.Status = StatusIssued
	inst.Mem.ReplayCount++
	s.Counters.Inc(CntLoadReplays)
	debug.Tracef(debug.CatExecute, "inst#%d load replays (count=%d), release load unit",
		inst.ID, inst.Mem.ReplayCount)
	u.reset()
}

type loadOutcome int

const (
	loadFromMemory loadOutcome = iota
	loadForwarded
	loadBlockedByStore
	loadWaitingForCache
	loadException
)

// performLoad probes the store buffer and falls back to the D-cache.
func (c *Core) performLoad(u *ExecUnit) loadOutcome {
	s := &c.state
	inst := u.Inst
	d := &inst.Decoded

	if u.DcacheSent {
		// The earlier cache access already produced the value; this cycle
		// only drained the extra latency.
		u.WaitingDcache = false
		return loadFromMemory
	}

	value, status := s.StoreBuf.Forward(u.MemAddr, u.MemSize, inst.ID)
	switch status {
	case ForwardBlocked:
		return loadBlockedByStore
	case ForwardHit:
		inst.Mem.StoreForwarded = true
		u.Result = isa.ExtendLoad(d, value)
		inst.Mem.Value = u.Result
		s.Counters.Inc(CntLoadsForwarded)
		debug.Tracef(debug.CatExecute, "inst#%d store-to-load forward: addr=0x%x value=0x%x",
			inst.ID, u.MemAddr, u.Result)
		return loadForwarded
	}

	inst.Mem.StoreForwarded = false
	var res CacheAccess
	if s.L1D != nil {
		res = s.L1D.Access(u.MemAddr, u.MemSize, false)
		if res.Blocked {
			u.WaitingDcache = true
			u.Remaining = 1
			s.Counters.Inc(CntL1DStallCyclesLoad)
			return loadWaitingForCache
		}
		s.Counters.Inc(CntL1DAccesses)
		s.Counters.Inc(CntL1DReadAccesses)
		if res.Hit {
			s.Counters.Inc(CntL1DHits)
		} else {
			s.Counters.Inc(CntL1DMisses)
		}
		if res.DirtyEviction {
			s.Counters.Inc(CntL1DDirtyEvictions)
		}
	} else {
		res = CacheAccess{Hit: true, Latency: 1}
	}

	raw, err := s.Mem.Read(u.MemAddr, int(u.MemSize))
	if err != nil {
		u.HasExc = true
		u.ExcMsg = err.Error()
		u.Result = 0
		return loadException
	}
	u.Result = isa.ExtendLoad(d, raw)
	inst.Mem.Value = u.Result
	s.Counters.Inc(CntLoadsFromMemory)
	u.DcacheSent = true

	if extra := res.Latency - 1; extra > 0 {
		u.Remaining = extra
		u.WaitingDcache = true
		s.Counters.Add(CntL1DStallCyclesLoad, uint64(extra))
		return loadWaitingForCache
	}
	u.WaitingDcache = false
	return loadFromMemory
}

// startOrWaitDcache models the store's write-allocate probe. Returns true
// once the cache access has fully drained.
func (c *Core) startOrWaitDcache(u *ExecUnit, write bool, stallCnt CounterID) bool {
	s := &c.state
	if s.L1D == nil || u.DcacheSent {
		u.WaitingDcache = false
		return true
	}
	res := s.L1D.Access(u.MemAddr, u.MemSize, write)
	if res.Blocked {
		u.WaitingDcache = true
		u.Remaining = 1
		s.Counters.Inc(stallCnt)
		return false
	}
	s.Counters.Inc(CntL1DAccesses)
	if write {
		s.Counters.Inc(CntL1DWriteAccesses)
	} else {
		s.Counters.Inc(CntL1DReadAccesses)
	}
	if res.Hit {
		s.Counters.Inc(CntL1DHits)
	} else {
		s.Counters.Inc(CntL1DMisses)
	}
	if res.DirtyEviction {
		s.Counters.Inc(CntL1DDirtyEvictions)
	}
	u.DcacheSent = true
	if extra := res.Latency - 1; extra > 0 {
		u.Remaining = extra
		u.WaitingDcache = true
		s.Counters.Add(stallCnt, uint64(extra))
		return false
	}
	u.WaitingDcache = false
	return true
}

// completeUnit publishes the unit's outcome onto the shared instruction,
// pushes it to the CDB and frees the unit and its reservation-station slot.
func (c *Core) completeUnit(u *ExecUnit) {
	s := &c.state
	inst := u.Inst
	if u.HasExc {
		inst.SetExc(u.ExcMsg)
	}
	inst.SetResult(u.Result)
	inst.IsJump = u.IsJump
	inst.JumpTarget = u.JumpTarget

	s.CDB = append(s.CDB, inst)
	s.Counters.Inc(CntCDBEnqueued)
	debug.Tracef(debug.CatExecute, "inst#%d done, result=0x%x -> cdb", inst.ID, u.Result)

	s.RS.Release(inst.RSSlot)
	inst.RSSlot = -1
	u.reset()
}
