package ooo

import (
	"github.com/oisee/rv64sim/pkg/debug"
	"github.com/oisee/rv64sim/pkg/isa"
)

// decodeStage pops one fetch-buffer entry, decodes it fully, allocates a ROB
// slot and stamps a fresh instruction id. A full ROB pushes the entry back.
func (c *Core) decodeStage() {
	s := &c.state
	if len(s.FetchBuffer) == 0 {
		return
	}
	if s.ROB.Full() {
		s.Counters.Inc(CntStallROBFull)
		s.Counters.Inc(CntPipelineStalls)
		debug.Tracef(debug.CatDecode, "rob full, decode stalled")
		return
	}

	f := s.FetchBuffer[0]
	s.FetchBuffer = s.FetchBuffer[1:]

	var d isa.Decoded
	if f.isCompressed {
		d = isa.DecodeCompressed(uint16(f.raw), s.Ext)
	} else {
		d = isa.Decode(f.raw, s.Ext)
	}

	id := s.allocInstID()
	inst := s.ROB.Allocate(d, f.pc, id)
	if inst == nil {
		// Lost the race for the slot; retry next cycle.
		s.FetchBuffer = append([]fetchedInst{f}, s.FetchBuffer...)
		s.Counters.Inc(CntStallROBFull)
		s.Counters.Inc(CntPipelineStalls)
		return
	}
	inst.Branch.PredictedNextPC = f.predNextPC
	inst.DecodeCycle = s.CycleCount
	debug.Tracef(debug.CatDecode, "decode inst#%d pc=0x%x op=0x%02x%s",
		id, f.pc, uint8(d.Opcode), compressedSuffix(d.IsCompressed))
}

func compressedSuffix(compressed bool) string {
	if compressed {
		return " (compressed)"
	}
	return ""
}
