package ooo

import (
	"github.com/oisee/rv64sim/pkg/debug"
	"github.com/oisee/rv64sim/pkg/isa"
)

// fetchStage reads one instruction per cycle through the I-cache, consults
// the branch predictor, and enqueues a fetch-buffer record with the predicted
// next PC. A fetched all-zero word is the end-of-stream sentinel: fetch stops
// and the core halts once the pipeline drains.
func (c *Core) fetchStage() {
	s := &c.state
	if s.Halted {
		return
	}

	// I-cache miss wait: the cycle the countdown reaches zero may continue
	// into a fetch, avoiding a wasted cycle.
	if s.ICacheReq.waitCycles > 0 {
		s.ICacheReq.waitCycles--
		s.Counters.Inc(CntL1IStallCycles)
		if s.ICacheReq.waitCycles > 0 {
			debug.Tracef(debug.CatFetch, "icache miss wait, remaining=%d", s.ICacheReq.waitCycles)
			return
		}
	}

	if !s.fetchStopped && len(s.FetchBuffer) < FetchBufferSize {
		c.fetchOne()
	} else if len(s.FetchBuffer) >= FetchBufferSize {
		s.Counters.Inc(CntStallFetchBufferFull)
		s.Counters.Inc(CntPipelineStalls)
	}

	c.maybeHaltDrained()
}

func (c *Core) fetchOne() {
	s := &c.state
	fetchPC := s.PC

	raw, reused := s.ICacheReq.consumeIfMatch(fetchPC)
	if !reused {
		if s.PC >= s.Mem.Size() {
			s.fetchStopped = true
			return
		}
		word, err := s.Mem.FetchInstruction(fetchPC)
		if err != nil {
			// Fetch faults drain the pipeline; no trap is injected.
			debug.Tracef(debug.CatFetch, "fetch fault at pc=0x%x: %v", fetchPC, err)
			s.fetchStopped = true
			return
		}

		if s.L1I != nil {
			res := s.L1I.Access(fetchPC, instrBytes(word), false)
			if res.Blocked {
				s.Counters.Inc(CntL1IStallCycles)
				debug.Tracef(debug.CatFetch, "icache blocked by in-flight miss, pc=0x%x", fetchPC)
				return
			}
			s.Counters.Inc(CntL1IAccesses)
			if res.Hit {
				s.Counters.Inc(CntL1IHits)
			} else {
				s.Counters.Inc(CntL1IMisses)
				s.ICacheReq.startMiss(fetchPC, word, res.Latency)
				debug.Tracef(debug.CatFetch, "icache miss: pc=0x%x latency=%d", fetchPC, res.Latency)
				if s.ICacheReq.waitCycles > 0 {
					return
				}
				// Zero extra wait: consume the pending word directly.
				word, _ = s.ICacheReq.consumeIfMatch(fetchPC)
			}
		}
		raw = word
	} else {
		debug.Tracef(debug.CatFetch, "reuse resolved icache miss, pc=0x%x", fetchPC)
	}

	if raw == 0 {
		debug.Tracef(debug.CatFetch, "zero instruction at pc=0x%x, stop fetching and drain", fetchPC)
		s.fetchStopped = true
		return
	}

	f := fetchedInst{pc: fetchPC, raw: raw, isCompressed: raw&0x3 != 0x3}
	fallthrough_ := f.pc + 4
	if f.isCompressed {
		fallthrough_ = f.pc + 2
	}
	f.predNextPC = fallthrough_

	// Minimal decode for the predictor. Undecodable words fall through
	// sequentially; the real decode error surfaces in the decode stage.
	var d isa.Decoded
	if f.isCompressed {
		d = isa.DecodeCompressed(uint16(raw), s.Ext)
	} else {
		d = isa.Decode(raw, s.Ext)
	}
	if d.DecodeErr == "" && s.Pred != nil {
		pred := s.Pred.Predict(f.pc, &d, fallthrough_)
		f.predNextPC = pred.NextPC
		switch d.Opcode {
		case isa.OpJALR:
			s.Counters.Inc(CntBTBLookups)
			if pred.BTBHit {
				s.Counters.Inc(CntBTBHits)
			} else {
				s.Counters.Inc(CntBTBMisses)
			}
		case isa.OpBranch:
			s.Counters.Inc(CntBHTLookups)
		}
	}

	s.PC = f.predNextPC
	s.FetchBuffer = append(s.FetchBuffer, f)
	s.Counters.Inc(CntFetched)
	debug.Tracef(debug.CatFetch, "fetch pc=0x%x raw=0x%08x pred_next=0x%x", f.pc, f.raw, f.predNextPC)
}

// maybeHaltDrained halts the core once fetch has stopped and no instruction
// remains anywhere in the pipeline.
func (c *Core) maybeHaltDrained() {
	s := &c.state
	if !s.fetchStopped {
		return
	}
	if s.ROB.Empty() && len(s.FetchBuffer) == 0 && len(s.CDB) == 0 && !s.anyUnitBusy() {
		debug.Tracef(debug.CatFetch, "pipeline drained, halting")
		s.Halted = true
	}
}

func instrBytes(raw uint32) uint8 {
	if raw&0x3 != 0x3 {
		return 2
	}
	return 4
}
