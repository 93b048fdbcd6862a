package ooo

import "github.com/oisee/rv64sim/pkg/debug"

// writebackStage drains the common data bus: each completion publishes its
// physical-register value, wakes up waiting reservation-station sources and
// marks the ROB entry Completed.
func (c *Core) writebackStage() {
	s := &c.state
	for len(s.CDB) > 0 {
		inst := s.CDB[0]
		s.CDB = s.CDB[1:]

		s.RS.Broadcast(inst.PhysDest, inst.Result)
		s.Rename.Publish(inst.PhysDest, inst.Result, inst.ROBSlot)

		inst.Status = StatusCompleted
		inst.DoneCycle = s.CycleCount
		debug.Tracef(debug.CatWriteback, "cdb: inst#%d p%d = 0x%x, rob[%d] completed",
			inst.ID, inst.PhysDest, inst.Result, inst.ROBSlot)
	}
}
