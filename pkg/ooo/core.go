// Package ooo implements the speculative out-of-order RV64GC engine:
// register renaming, reservation stations, a reorder buffer, store-to-load
// forwarding, blocking L1 caches, branch prediction and a precise-exception
// commit stage.
package ooo

import (
	"fmt"

	"github.com/oisee/rv64sim/pkg/debug"
	"github.com/oisee/rv64sim/pkg/isa"
	"github.com/oisee/rv64sim/pkg/mem"
	"github.com/oisee/rv64sim/pkg/sys"
)

// CommitObserver is notified after every retired instruction, once all of its
// architectural side effects are visible. The DiffTest harness implements it.
type CommitObserver interface {
	AfterCommit(committedPC uint64, wasEcall bool)
}

// Config selects the cache geometries for a core.
type Config struct {
	L1I CacheConfig
	L1D CacheConfig
}

// DefaultConfig returns the standard core configuration.
func DefaultConfig() Config {
	return Config{L1I: DefaultL1IConfig(), L1D: DefaultL1DConfig()}
}

// Core is the out-of-order CPU.
type Core struct {
	state    State
	observer CommitObserver
	fault    error
}

// New builds a core over the given memory and syscall handler.
func New(m *mem.Memory, handler *sys.Handler, cfg Config) (*Core, error) {
	l1i, err := NewBlockingCache(cfg.L1I)
	if err != nil {
		return nil, fmt.Errorf("l1i: %w", err)
	}
	l1d, err := NewBlockingCache(cfg.L1D)
	if err != nil {
		return nil, fmt.Errorf("l1d: %w", err)
	}
	c := &Core{}
	s := &c.state
	s.Mem = m
	s.Syscall = handler
	s.Ext = isa.ExtAll
	s.CSRs = isa.NewCSRFile()
	s.Rename = NewRenameUnit()
	s.RS = NewReservationStation()
	s.ROB = NewROB()
	s.StoreBuf = NewStoreBuffer()
	s.Pred = NewPredictor()
	s.L1I = l1i
	s.L1D = l1d
	return c, nil
}

// SetCommitObserver installs the post-commit hook (DiffTest).
func (c *Core) SetCommitObserver(o CommitObserver) { c.observer = o }

// Step advances simulated time by one cycle. Stages run commit-first so each
// upstream stage observes the state its consumer just produced, modelling the
// one-cycle pipeline register without an explicit latch. A simulator fault
// surfaced at commit is returned after the cycle completes.
func (c *Core) Step() error {
	s := &c.state
	if s.Halted {
		return c.fault
	}

	debug.SetContext(s.CycleCount, s.PC)

	c.commitStage()
	c.writebackStage()
	c.executeStage()
	c.issueStage()
	c.decodeStage()
	c.fetchStage()

	s.L1I.Tick()
	s.L1D.Tick()

	s.CycleCount++
	s.Counters.Inc(CntCycles)

	return c.fault
}

// Run steps until halt or until maxCycles is exceeded (0 means no limit).
func (c *Core) Run(maxCycles uint64) error {
	s := &c.state
	for !s.Halted {
		if err := c.Step(); err != nil {
			return err
		}
		if maxCycles > 0 && s.CycleCount >= maxCycles {
			s.Halted = true
			return fmt.Errorf("cycle limit %d reached", maxCycles)
		}
	}
	return c.fault
}

// Reset restores the power-on core state. Memory is left untouched. Two
// consecutive resets are equivalent to one.
func (c *Core) Reset() {
	s := &c.state
	s.PC = 0
	s.Halted = false
	s.InstCount = 0
	s.CycleCount = 0
	s.ArchRegs = [32]uint64{}
	s.ArchFRegs = [32]uint64{}
	s.CSRs.Reset()
	s.FetchBuffer = s.FetchBuffer[:0]
	s.CDB = s.CDB[:0]
	s.Rename.Reset()
	s.RS.Flush()
	s.ROB.Flush()
	s.StoreBuf.Flush()
	s.Pred.Reset()
	s.L1I.Reset()
	s.L1D.Reset()
	s.ICacheReq.reset()
	s.resetUnits()
	s.Counters.Reset()
	s.ResValid = false
	s.ResAddr = 0
	s.nextInstID = 0
	s.fetchStopped = false
	c.fault = nil
}

// Architectural accessors (committed state), shared with DiffTest and the
// simulator harness.

func (c *Core) PC() uint64                  { return c.state.PC }
func (c *Core) SetPC(pc uint64)             { c.state.PC = pc }
func (c *Core) Halted() bool                { return c.state.Halted }
func (c *Core) RequestHalt()                { c.state.Halted = true }
func (c *Core) InstructionCount() uint64    { return c.state.InstCount }
func (c *Core) CycleCount() uint64          { return c.state.CycleCount }
func (c *Core) Reg(n int) uint64            { return c.state.Reg(n) }
func (c *Core) SetReg(n int, v uint64)      { c.state.SetReg(n, v) }
func (c *Core) FReg(n int) uint64           { return c.state.ArchFRegs[n&31] }
func (c *Core) SetFReg(n int, v uint64)     { c.state.ArchFRegs[n&31] = v }
func (c *Core) CSR(addr uint16) uint64      { return c.state.CSRs.Read(addr) }
func (c *Core) SetCSR(addr uint16, v uint64) { c.state.CSRs.Write(addr, v) }

// Counters exposes the performance-counter bank.
func (c *Core) Counters() *Counters { return &c.state.Counters }

// IPC returns retired instructions per cycle.
func (c *Core) IPC() float64 {
	if c.state.CycleCount == 0 {
		return 0
	}
	return float64(c.state.InstCount) / float64(c.state.CycleCount)
}

// state accessors used by white-box tests.
func (c *Core) testState() *State { return &c.state }
