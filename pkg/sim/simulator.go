// Package sim assembles the cores, memory images and DiffTest harness into a
// runnable simulator and reports statistics.
package sim

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/oisee/rv64sim/pkg/cpu"
	"github.com/oisee/rv64sim/pkg/mem"
	"github.com/oisee/rv64sim/pkg/ooo"
	"github.com/oisee/rv64sim/pkg/sys"
)

// Engine selects the execution engine.
type Engine int

const (
	EngineOutOfOrder Engine = iota
	EngineInOrder
)

// Config holds simulator construction options.
type Config struct {
	MemSize        uint64
	Engine         Engine
	DiffTest       bool // effective for the out-of-order engine only
	StopOnMismatch bool
	MaxCycles      uint64
	Cores          ooo.Config
}

// DefaultConfig returns the standard configuration: OoO engine with DiffTest.
func DefaultConfig() Config {
	return Config{
		MemSize:        mem.DefaultSize,
		Engine:         EngineOutOfOrder,
		DiffTest:       true,
		StopOnMismatch: true,
		Cores:          ooo.DefaultConfig(),
	}
}

// Simulator owns the memory images, the selected engine and the optional
// DiffTest pair.
type Simulator struct {
	cfg Config

	mem     *mem.Memory
	handler *sys.Handler
	core    CPU

	// DiffTest reference (out-of-order engine only): an independent
	// in-order core on a separate image loaded with the same ELF.
	refMem     *mem.Memory
	refHandler *sys.Handler
	ref        *cpu.CPU
	difftest   *DiffTest

	entry uint64
}

// New builds a simulator for the given configuration.
func New(cfg Config) (*Simulator, error) {
	s := &Simulator{cfg: cfg}
	s.mem = mem.New(cfg.MemSize)
	s.handler = sys.NewHandler(s.mem)

	switch cfg.Engine {
	case EngineInOrder:
		s.core = cpu.New(s.mem, s.handler)
	case EngineOutOfOrder:
		core, err := ooo.New(s.mem, s.handler, cfg.Cores)
		if err != nil {
			return nil, err
		}
		s.core = core
		if cfg.DiffTest {
			s.refMem = mem.New(cfg.MemSize)
			s.refMem.SetConsole(io.Discard)
			s.refHandler = sys.NewQuietHandler(s.refMem)
			s.ref = cpu.New(s.refMem, s.refHandler)
			s.difftest = NewDiffTest(s.core, s.ref)
			s.difftest.SetStopOnMismatch(cfg.StopOnMismatch)
			core.SetCommitObserver(s.difftest)
		}
	default:
		return nil, fmt.Errorf("unknown engine %d", cfg.Engine)
	}
	return s, nil
}

// LoadELF loads the program into the main image (and the reference image when
// DiffTest is active), points both cores at the entry PC and sets up the
// stack and frame pointers near the top of memory.
func (s *Simulator) LoadELF(path string) error {
	info, err := mem.LoadELF(path, s.mem)
	if err != nil {
		return err
	}
	s.entry = info.Entry
	s.core.Reset()
	s.core.SetPC(info.Entry)
	s.initABIRegisters(s.core)

	if s.difftest != nil {
		if _, err := mem.LoadELF(path, s.refMem); err != nil {
			return fmt.Errorf("reference image: %w", err)
		}
		s.ref.Reset()
		s.ref.SetPC(info.Entry)
		s.difftest.SyncRefState()
	}
	return nil
}

// LoadBytes loads a raw program at the given address (both images).
func (s *Simulator) LoadBytes(addr uint64, program []byte) error {
	if err := s.mem.LoadBytes(addr, program); err != nil {
		return err
	}
	s.entry = addr
	s.core.Reset()
	s.core.SetPC(addr)
	s.initABIRegisters(s.core)
	if s.difftest != nil {
		if err := s.refMem.LoadBytes(addr, program); err != nil {
			return err
		}
		s.ref.Reset()
		s.ref.SetPC(addr)
		s.difftest.SyncRefState()
	}
	return nil
}

// initABIRegisters places sp (x2) and fp (x8) just under the top of memory.
func (s *Simulator) initABIRegisters(c CPU) {
	top := s.mem.Size() - 16
	c.SetReg(2, top)
	c.SetReg(8, top)
}

// Step advances one cycle (OoO) or one instruction (in-order).
func (s *Simulator) Step() error { return s.core.Step() }

// Run executes until the core halts.
func (s *Simulator) Run() error {
	switch c := s.core.(type) {
	case *ooo.Core:
		return c.Run(s.cfg.MaxCycles)
	case *cpu.CPU:
		return c.Run(s.cfg.MaxCycles)
	default:
		for !s.core.Halted() {
			if err := s.core.Step(); err != nil {
				return err
			}
		}
		return nil
	}
}

// Halted reports whether the engine has stopped.
func (s *Simulator) Halted() bool { return s.core.Halted() }

// Core exposes the active engine.
func (s *Simulator) Core() CPU { return s.core }

// DiffTest returns the harness, or nil when disabled.
func (s *Simulator) DiffTest() *DiffTest { return s.difftest }

// Memory returns the main memory image.
func (s *Simulator) Memory() *mem.Memory { return s.mem }

// ExitCode derives the guest's exit status: an exit syscall or a tohost exit
// wins; otherwise 0.
func (s *Simulator) ExitCode() int {
	if exited, code := s.handler.Exited(); exited {
		return code
	}
	if requested, code := s.mem.ExitRequested(); requested {
		return code
	}
	return 0
}

// Stats is the JSON-serialisable run summary.
type Stats struct {
	Engine       string            `json:"engine"`
	Instructions uint64            `json:"instructions"`
	Cycles       uint64            `json:"cycles"`
	IPC          float64           `json:"ipc,omitempty"`
	DiffTest     *DiffTestStats    `json:"difftest,omitempty"`
	Counters     map[string]uint64 `json:"counters,omitempty"`
}

// DiffTestStats summarises the cross-check.
type DiffTestStats struct {
	Comparisons uint64 `json:"comparisons"`
	Mismatches  uint64 `json:"mismatches"`
}

// CollectStats gathers the run summary.
func (s *Simulator) CollectStats() Stats {
	st := Stats{
		Instructions: s.core.InstructionCount(),
		Cycles:       s.core.CycleCount(),
	}
	switch c := s.core.(type) {
	case *ooo.Core:
		st.Engine = "out-of-order"
		st.IPC = c.IPC()
		st.Counters = c.Counters().Snapshot()
	default:
		st.Engine = "in-order"
	}
	if s.difftest != nil {
		cmp, mis := s.difftest.Stats()
		st.DiffTest = &DiffTestStats{Comparisons: cmp, Mismatches: mis}
	}
	return st
}

// PrintStats writes the human-readable summary.
func (s *Simulator) PrintStats(w io.Writer) {
	st := s.CollectStats()
	fmt.Fprintf(w, "\n=== execution statistics ===\n")
	fmt.Fprintf(w, "engine:        %s\n", st.Engine)
	fmt.Fprintf(w, "instructions:  %d\n", st.Instructions)
	fmt.Fprintf(w, "cycles:        %d\n", st.Cycles)
	if st.Engine == "out-of-order" && st.Cycles > 0 {
		fmt.Fprintf(w, "ipc:           %.2f\n", st.IPC)
	}
	if st.DiffTest != nil {
		fmt.Fprintf(w, "difftest:      %d comparisons, %d mismatches\n",
			st.DiffTest.Comparisons, st.DiffTest.Mismatches)
	}
	if len(st.Counters) > 0 {
		fmt.Fprintf(w, "\n=== performance counters ===\n")
		names := make([]string, 0, len(st.Counters))
		for n := range st.Counters {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			if st.Counters[n] != 0 {
				fmt.Fprintf(w, "%-32s %d\n", n, st.Counters[n])
			}
		}
	}
}

// WriteStatsJSON writes the summary as indented JSON.
func (s *Simulator) WriteStatsJSON(w io.Writer) error {
	st := s.CollectStats()
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(st)
}
