package ooo

import "github.com/oisee/rv64sim/pkg/isa"

// Predictor sizes. Both tables are direct-mapped and indexed by PC bits above
// the compressed-instruction alignment bit.
const (
	BTBEntries = 512
	BHTEntries = 2048

	bhtInit = 1 // weakly not-taken
)

type btbEntry struct {
	valid  bool
	tagPC  uint64
	target uint64
}

// Predictor is the minimal front-end predictor: a 2-bit BHT for conditional
// branch direction and a tagged BTB for JALR targets. JAL resolves statically.
type Predictor struct {
	btb [BTBEntries]btbEntry
	bht [BHTEntries]uint8
}

// NewPredictor returns a predictor with all counters weakly not-taken.
func NewPredictor() *Predictor {
	p := &Predictor{}
	p.Reset()
	return p
}

// Reset restores the initial state. Flushes do NOT reset the predictor;
// only a full core reset does.
func (p *Predictor) Reset() {
	p.btb = [BTBEntries]btbEntry{}
	for i := range p.bht {
		p.bht[i] = bhtInit
	}
}

func btbIndex(pc uint64) int { return int(pc >> 1 & (BTBEntries - 1)) }
func bhtIndex(pc uint64) int { return int(pc >> 1 & (BHTEntries - 1)) }

// Prediction is the fetch-time next-PC guess plus the lookup bookkeeping the
// counters and commit stage need.
type Prediction struct {
	NextPC    uint64
	BHTUsed   bool
	BHTTaken  bool
	BTBUsed   bool
	BTBHit    bool
}

// Predict consults the tables for the decoded instruction at pc.
func (p *Predictor) Predict(pc uint64, d *isa.Decoded, fallthrough_ uint64) Prediction {
	pred := Prediction{NextPC: fallthrough_}
	switch d.Opcode {
	case isa.OpBranch:
		pred.BHTUsed = true
		pred.BHTTaken = p.bht[bhtIndex(pc)] >= 2
		if pred.BHTTaken {
			pred.NextPC = pc + uint64(int64(d.Imm))
		}
	case isa.OpJAL:
		pred.NextPC = pc + uint64(int64(d.Imm))
	case isa.OpJALR:
		pred.BTBUsed = true
		e := &p.btb[btbIndex(pc)]
		if e.valid && e.tagPC == pc {
			pred.BTBHit = true
			pred.NextPC = e.target
		}
	}
	return pred
}

// Update trains the tables at commit: saturating BHT counters for conditional
// branches, BTB tag+target for taken JALR. JAL needs no training.
func (p *Predictor) Update(pc uint64, d *isa.Decoded, taken bool, target uint64) {
	switch d.Opcode {
	case isa.OpBranch:
		c := &p.bht[bhtIndex(pc)]
		if taken {
			if *c < 3 {
				*c++
			}
		} else if *c > 0 {
			*c--
		}
	case isa.OpJALR:
		if taken {
			p.btb[btbIndex(pc)] = btbEntry{valid: true, tagPC: pc, target: target}
		}
	}
}

// BHTCounter exposes one direction counter (test hook).
func (p *Predictor) BHTCounter(pc uint64) uint8 { return p.bht[bhtIndex(pc)] }
