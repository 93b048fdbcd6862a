package sim

import (
	"fmt"
	"io"
	"os"

	"github.com/oisee/rv64sim/pkg/debug"
	"github.com/oisee/rv64sim/pkg/isa"
)

// CPU is the architectural-state view shared by both engines. DiffTest and
// the harness drive cores exclusively through it.
type CPU interface {
	Step() error
	Reset()
	PC() uint64
	SetPC(uint64)
	Reg(n int) uint64
	SetReg(n int, v uint64)
	FReg(n int) uint64
	SetFReg(n int, v uint64)
	CSR(addr uint16) uint64
	SetCSR(addr uint16, v uint64)
	Halted() bool
	RequestHalt()
	InstructionCount() uint64
	CycleCount() uint64
}

// DiffTest cross-checks the out-of-order core against an in-order reference
// running on an identical, separate memory image. After every OoO commit the
// reference steps one instruction and all of GPR/FPR plus a selected CSR set
// must match bit-exactly.
type DiffTest struct {
	main CPU
	ref  CPU

	enabled        bool
	stopOnMismatch bool

	comparisons uint64
	mismatches  uint64
	failed      bool

	out io.Writer

	// exit is called on a fatal mismatch; overridable for tests.
	exit func(int)
}

// NewDiffTest pairs the main core with its reference oracle.
func NewDiffTest(main, ref CPU) *DiffTest {
	return &DiffTest{
		main:           main,
		ref:            ref,
		enabled:        true,
		stopOnMismatch: true,
		out:            os.Stderr,
		exit:           os.Exit,
	}
}

// SetEnabled toggles checking; SetStopOnMismatch controls whether a mismatch
// terminates the process (the default) or only counts.
func (d *DiffTest) SetEnabled(on bool)        { d.enabled = on }
func (d *DiffTest) SetStopOnMismatch(on bool) { d.stopOnMismatch = on }

// Stats returns comparison and mismatch totals.
func (d *DiffTest) Stats() (comparisons, mismatches uint64) {
	return d.comparisons, d.mismatches
}

// Failed reports whether any mismatch was seen.
func (d *DiffTest) Failed() bool { return d.failed }

// SyncRefState copies the main core's architectural GPRs, FPRs and the
// checked CSR subset into the reference. Used at initialisation and after any
// out-of-band mutation of the main core's state (host syscalls).
func (d *DiffTest) SyncRefState() {
	for r := 0; r < 32; r++ {
		d.ref.SetReg(r, d.main.Reg(r))
		d.ref.SetFReg(r, d.main.FReg(r))
	}
	for _, addr := range isa.DiffTestCSRs {
		d.ref.SetCSR(addr, d.main.CSR(addr))
	}
}

// AfterCommit implements ooo.CommitObserver: verify the reference is at the
// committed PC, step it, and compare state. ECALL commits mutate registers
// through the host, so the reference is resynchronised instead of compared.
func (d *DiffTest) AfterCommit(committedPC uint64, wasEcall bool) {
	if !d.enabled {
		return
	}
	d.comparisons++

	if refPC := d.ref.PC(); refPC != committedPC {
		d.report("pc divergence: ref=0x%x committed=0x%x", refPC, committedPC)
		d.fail()
		return
	}

	if err := d.ref.Step(); err != nil {
		d.report("reference step failed at pc=0x%x: %v", committedPC, err)
		d.fail()
		return
	}

	if wasEcall {
		// The host syscall layer changed a0 (and possibly memory) on both
		// sides through different paths; force agreement.
		d.SyncRefState()
		if d.ref.Halted() {
			d.main.RequestHalt()
		}
		return
	}

	if !d.compare() {
		d.fail()
	}
}

func (d *DiffTest) compare() bool {
	ok := true
	for r := 1; r < 32; r++ {
		if rv, mv := d.ref.Reg(r), d.main.Reg(r); rv != mv {
			d.report("x%d mismatch: ref=0x%x ooo=0x%x", r, rv, mv)
			ok = false
		}
	}
	for r := 0; r < 32; r++ {
		if rv, mv := d.ref.FReg(r), d.main.FReg(r); rv != mv {
			d.report("f%d mismatch: ref=0x%x ooo=0x%x", r, rv, mv)
			ok = false
		}
	}
	for _, addr := range isa.DiffTestCSRs {
		if rv, mv := d.ref.CSR(addr), d.main.CSR(addr); rv != mv {
			d.report("csr[0x%03x] mismatch: ref=0x%x ooo=0x%x", addr, rv, mv)
			ok = false
		}
	}
	return ok
}

func (d *DiffTest) fail() {
	d.mismatches++
	d.failed = true
	if d.stopOnMismatch {
		fmt.Fprintf(d.out, "difftest: fatal state divergence after %d comparisons\n", d.comparisons)
		d.exit(1)
	}
}

func (d *DiffTest) report(format string, args ...any) {
	fmt.Fprintf(d.out, "difftest: "+format+"\n", args...)
	debug.Tracef(debug.CatDiffTest, format, args...)
}
