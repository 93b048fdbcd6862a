// Package cpu implements the in-order architectural RV64GC core. It executes
// one instruction per Step with no timing model and serves as the DiffTest
// oracle for the out-of-order engine.
package cpu

import (
	"errors"
	"fmt"

	"github.com/oisee/rv64sim/pkg/debug"
	"github.com/oisee/rv64sim/pkg/isa"
	"github.com/oisee/rv64sim/pkg/mem"
	"github.com/oisee/rv64sim/pkg/sys"
)

// CPU is the in-order reference core.
type CPU struct {
	mem  *mem.Memory
	csrs *isa.CSRFile
	sysc *sys.Handler

	regs  [32]uint64
	fregs [32]uint64
	pc    uint64

	halted    bool
	instCount uint64
	ext       isa.Extension

	// LR/SC reservation.
	resValid bool
	resAddr  uint64
}

// New creates a reference core over the given memory, using the given syscall
// handler (pass a quiet handler for the DiffTest oracle).
func New(m *mem.Memory, handler *sys.Handler) *CPU {
	return &CPU{mem: m, csrs: isa.NewCSRFile(), sysc: handler, ext: isa.ExtAll}
}

// Reset restores power-on state. The memory image is left untouched.
func (c *CPU) Reset() {
	c.regs = [32]uint64{}
	c.fregs = [32]uint64{}
	c.pc = 0
	c.halted = false
	c.instCount = 0
	c.resValid = false
	c.resAddr = 0
	c.csrs.Reset()
}

// Accessors used by the simulator harness and DiffTest.

func (c *CPU) PC() uint64            { return c.pc }
func (c *CPU) SetPC(pc uint64)       { c.pc = pc }
func (c *CPU) Halted() bool          { return c.halted }
func (c *CPU) RequestHalt()          { c.halted = true }
func (c *CPU) InstructionCount() uint64 { return c.instCount }
func (c *CPU) CycleCount() uint64    { return c.instCount }

func (c *CPU) Reg(n int) uint64 { return c.regs[n&31] }

func (c *CPU) SetReg(n int, v uint64) {
	if n&31 != 0 {
		c.regs[n&31] = v
	}
}

func (c *CPU) FReg(n int) uint64         { return c.fregs[n&31] }
func (c *CPU) SetFReg(n int, v uint64)   { c.fregs[n&31] = v }
func (c *CPU) CSR(addr uint16) uint64    { return c.csrs.Read(addr) }
func (c *CPU) SetCSR(addr uint16, v uint64) { c.csrs.Write(addr, v) }

// Step fetches, decodes and executes one instruction. Simulator faults are
// returned as errors; architectural traps redirect through mtvec internally.
func (c *CPU) Step() error {
	if c.halted {
		return nil
	}

	raw, err := c.mem.FetchInstruction(c.pc)
	if err != nil {
		c.halted = true
		return fmt.Errorf("fetch at pc=0x%x: %w", c.pc, err)
	}
	if raw == 0 {
		debug.Tracef(debug.CatInOrder, "zero instruction at pc=0x%x, halt", c.pc)
		c.halted = true
		return nil
	}

	var d isa.Decoded
	if raw&0x3 != 0x3 {
		d = isa.DecodeCompressed(uint16(raw), c.ext)
	} else {
		d = isa.Decode(raw, c.ext)
	}
	if d.DecodeErr != "" {
		c.halted = true
		return &isa.IllegalInstError{Raw: raw, Msg: fmt.Sprintf("pc=0x%x: %s", c.pc, d.DecodeErr)}
	}

	if err := c.execute(&d); err != nil {
		c.halted = true
		return err
	}
	c.instCount++
	if ok, _ := c.mem.ExitRequested(); ok {
		c.halted = true
	}
	return nil
}

// Run steps until halt or the instruction limit is hit.
func (c *CPU) Run(maxInstructions uint64) error {
	for !c.halted {
		if err := c.Step(); err != nil {
			return err
		}
		if maxInstructions > 0 && c.instCount >= maxInstructions {
			c.halted = true
			return errors.New("instruction limit reached")
		}
	}
	return nil
}

func (c *CPU) execute(d *isa.Decoded) error {
	pc := c.pc
	next := d.NextPC(pc)

	switch d.Opcode {
	case isa.OpImm:
		c.SetReg(int(d.Rd), isa.ExecImm(d, c.regs[d.Rs1]))
	case isa.OpImm32:
		c.SetReg(int(d.Rd), isa.ExecImm32(d, c.regs[d.Rs1]))
	case isa.OpReg:
		if d.Funct7 == isa.F7MExt {
			c.SetReg(int(d.Rd), isa.ExecMulDiv(d, c.regs[d.Rs1], c.regs[d.Rs2]))
		} else {
			c.SetReg(int(d.Rd), isa.ExecReg(d, c.regs[d.Rs1], c.regs[d.Rs2]))
		}
	case isa.OpReg32:
		if d.Funct7 == isa.F7MExt {
			c.SetReg(int(d.Rd), isa.ExecMulDiv32(d, c.regs[d.Rs1], c.regs[d.Rs2]))
		} else {
			c.SetReg(int(d.Rd), isa.ExecReg32(d, c.regs[d.Rs1], c.regs[d.Rs2]))
		}
	case isa.OpLUI, isa.OpAUIPC:
		c.SetReg(int(d.Rd), isa.ExecUpperImm(d, pc))

	case isa.OpLoad, isa.OpLoadFP:
		addr := c.regs[d.Rs1] + uint64(int64(d.Imm))
		if addr%uint64(d.MemSize) != 0 {
			c.enterTrap(pc, isa.CauseMisalignedLoad, addr)
			return nil
		}
		raw, err := c.mem.Read(addr, int(d.MemSize))
		if err != nil {
			return err
		}
		v := isa.ExtendLoad(d, raw)
		if d.Opcode == isa.OpLoadFP {
			c.fregs[d.Rd] = v
		} else {
			c.SetReg(int(d.Rd), v)
		}

	case isa.OpStore, isa.OpStoreFP:
		addr := c.regs[d.Rs1] + uint64(int64(d.Imm))
		if addr%uint64(d.MemSize) != 0 {
			c.enterTrap(pc, isa.CauseMisalignedStore, addr)
			return nil
		}
		v := c.regs[d.Rs2]
		if d.Opcode == isa.OpStoreFP {
			v = c.fregs[d.Rs2]
		}
		if err := c.mem.Write(addr, v, int(d.MemSize)); err != nil {
			return err
		}
		// A store to the reserved address invalidates the reservation.
		if c.resValid && addr == c.resAddr {
			c.resValid = false
		}

	case isa.OpBranch:
		if isa.BranchTaken(d, c.regs[d.Rs1], c.regs[d.Rs2]) {
			target := isa.JumpTarget(d, pc)
			if isa.MisalignedTarget(target, c.ext) {
				c.enterTrap(pc, isa.CauseMisalignedFetch, target)
				return nil
			}
			next = target
		}

	case isa.OpJAL:
		target := isa.JumpTarget(d, pc)
		if isa.MisalignedTarget(target, c.ext) {
			c.enterTrap(pc, isa.CauseMisalignedFetch, target)
			return nil
		}
		c.SetReg(int(d.Rd), next)
		next = target

	case isa.OpJALR:
		target := isa.JALRTarget(d, c.regs[d.Rs1])
		if isa.MisalignedTarget(target, c.ext) {
			c.enterTrap(pc, isa.CauseMisalignedFetch, target)
			return nil
		}
		c.SetReg(int(d.Rd), next)
		next = target

	case isa.OpAMO:
		v, err := c.executeAMO(d)
		if err != nil {
			return err
		}
		c.SetReg(int(d.Rd), v)

	case isa.OpFP:
		res := isa.ExecFP(d, c.fregs[d.Rs1], c.fregs[d.Rs2], c.regs[d.Rs1], c.csrs.Frm())
		c.csrs.AccumulateFflags(res.Fflags)
		if res.WriteIntReg {
			c.SetReg(int(d.Rd), res.Value)
		} else if res.WriteFPReg {
			c.fregs[d.Rd] = res.Value
		}

	case isa.OpFMAdd, isa.OpFMSub, isa.OpFNMSub, isa.OpFNMAdd:
		res := isa.ExecFMA(d, c.fregs[d.Rs1], c.fregs[d.Rs2], c.fregs[d.Rs3], c.csrs.Frm())
		c.csrs.AccumulateFflags(res.Fflags)
		c.fregs[d.Rd] = res.Value

	case isa.OpMiscMem:
		// FENCE and FENCE.I are no-ops on a single in-order hart.

	case isa.OpSystem:
		var err error
		next, err = c.executeSystem(d, pc, next)
		if err != nil {
			return err
		}

	default:
		return &isa.IllegalInstError{Raw: 0, Msg: fmt.Sprintf("unhandled opcode 0x%02x", uint8(d.Opcode))}
	}

	c.pc = next
	return nil
}

func (c *CPU) executeAMO(d *isa.Decoded) (uint64, error) {
	addr := c.regs[d.Rs1]
	if addr%uint64(d.MemSize) != 0 {
		c.enterTrap(c.pc, isa.CauseMisalignedLoad, addr)
		return c.regs[d.Rd], nil
	}
	memVal, err := c.mem.Read(addr, int(d.MemSize))
	if err != nil {
		return 0, err
	}
	res := isa.ExecAMO(d, memVal, c.regs[d.Rs2], c.resValid && c.resAddr == addr)
	if res.AcquireRes {
		c.resValid = true
		c.resAddr = addr
	}
	if res.ReleaseRes {
		c.resValid = false
	}
	if res.DoStore {
		if err := c.mem.Write(addr, res.StoreValue, int(d.MemSize)); err != nil {
			return 0, err
		}
	}
	return res.RdValue, nil
}

// executeSystem handles ECALL/EBREAK/MRET/CSRR*. It returns the next PC.
func (c *CPU) executeSystem(d *isa.Decoded, pc, next uint64) (uint64, error) {
	switch {
	case d.IsCSR():
		addr := isa.CSRAddr(d)
		old := c.csrs.Read(addr)
		c.csrs.Write(addr, isa.CSRUpdate(d, c.regs[d.Rs1], old))
		c.SetReg(int(d.Rd), old)
		return next, nil

	case d.IsEcall():
		if c.sysc != nil {
			if halt := c.sysc.Handle(c); halt {
				c.halted = true
			}
		} else {
			c.halted = true
		}
		return next, nil

	case d.IsEbreak():
		debug.Tracef(debug.CatInOrder, "ebreak at pc=0x%x, halt", pc)
		c.halted = true
		return next, nil

	case d.IsMRET():
		return c.csrs.Read(isa.CsrMepc), nil

	default:
		// SRET/URET/WFI are accepted and act as no-ops in this M-mode model.
		return next, nil
	}
}

// enterTrap routes an architectural trap through mtvec.
func (c *CPU) enterTrap(pc, cause, tval uint64) {
	target := c.csrs.EnterMachineTrap(pc, cause, tval)
	debug.Tracef(debug.CatInOrder, "trap cause=%d tval=0x%x pc=0x%x -> 0x%x", cause, tval, pc, target)
	c.pc = target
}

// DumpRegisters prints the architectural register file.
func (c *CPU) DumpRegisters() string {
	s := ""
	for i := 0; i < 32; i += 4 {
		for j := 0; j < 4; j++ {
			s += fmt.Sprintf("x%-2d: 0x%016x  ", i+j, c.regs[i+j])
		}
		s += "\n"
	}
	return s
}
