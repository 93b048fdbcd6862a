package cpu

import (
	"math"
	"testing"

	"github.com/oisee/rv64sim/pkg/isa"
	"github.com/oisee/rv64sim/pkg/mem"
	"github.com/oisee/rv64sim/pkg/sys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Instruction builders for hand-assembled test programs.

func iType(op isa.Opcode, rd, f3, rs1 uint32, imm int32) uint32 {
	return uint32(imm)<<20 | rs1<<15 | f3<<12 | rd<<7 | uint32(op)
}

func rType(op isa.Opcode, rd, f3, rs1, rs2, f7 uint32) uint32 {
	return f7<<25 | rs2<<20 | rs1<<15 | f3<<12 | rd<<7 | uint32(op)
}

func sType(op isa.Opcode, f3, rs1, rs2 uint32, imm int32) uint32 {
	u := uint32(imm)
	return (u>>5&0x7F)<<25 | rs2<<20 | rs1<<15 | f3<<12 | (u&0x1F)<<7 | uint32(op)
}

func bType(f3, rs1, rs2 uint32, imm int32) uint32 {
	u := uint32(imm)
	return (u>>12&0x1)<<31 | (u>>5&0x3F)<<25 | rs2<<20 | rs1<<15 |
		f3<<12 | (u>>1&0xF)<<8 | (u>>11&0x1)<<7 | uint32(isa.OpBranch)
}

func jType(rd uint32, imm int32) uint32 {
	u := uint32(imm)
	return (u>>20&0x1)<<31 | (u>>1&0x3FF)<<21 | (u>>11&0x1)<<20 | (u>>12&0xFF)<<12 |
		rd<<7 | uint32(isa.OpJAL)
}

func uType(op isa.Opcode, rd uint32, imm int32) uint32 {
	return uint32(imm)&0xFFFFF000 | rd<<7 | uint32(op)
}

const ecall = 0x00000073

// loadProgram writes 32-bit words starting at base and returns a CPU with a
// quiet syscall handler and PC at base.
func loadProgram(t *testing.T, base uint64, words ...uint32) (*CPU, *mem.Memory) {
	t.Helper()
	m := mem.New(0x10000)
	for i, w := range words {
		require.NoError(t, m.WriteWord(base+uint64(i)*4, w))
	}
	c := New(m, sys.NewQuietHandler(m))
	c.SetPC(base)
	return c, m
}

func run(t *testing.T, c *CPU) {
	t.Helper()
	require.NoError(t, c.Run(10000))
}

func TestArithmeticProgram(t *testing.T) {
	c, _ := loadProgram(t, 0x1000,
		iType(isa.OpImm, 1, isa.F3AddSub, 0, 7),              // addi x1, x0, 7
		iType(isa.OpImm, 2, isa.F3AddSub, 0, 5),              // addi x2, x0, 5
		rType(isa.OpReg, 3, isa.F3AddSub, 1, 2, 0),           // add  x3, x1, x2
		rType(isa.OpReg, 4, isa.F3AddSub, 1, 2, isa.F7SubSra), // sub x4, x1, x2
		rType(isa.OpReg, 5, isa.F3Mul, 1, 2, isa.F7MExt),     // mul x5, x1, x2
		ecall,
	)
	c.SetReg(17, sys.SysExit)
	run(t, c)
	assert.Equal(t, uint64(12), c.Reg(3))
	assert.Equal(t, uint64(2), c.Reg(4))
	assert.Equal(t, uint64(35), c.Reg(5))
}

func TestBranchLoop(t *testing.T) {
	// for (x1 = 0; x1 != 5; x1++)
	c, _ := loadProgram(t, 0x1000,
		iType(isa.OpImm, 2, isa.F3AddSub, 0, 5), // addi x2, x0, 5
		iType(isa.OpImm, 1, isa.F3AddSub, 1, 1), // loop: addi x1, x1, 1
		bType(isa.F3BNE, 1, 2, -4),              // bne x1, x2, loop
		ecall,
	)
	c.SetReg(17, sys.SysExit)
	run(t, c)
	assert.Equal(t, uint64(5), c.Reg(1))
	assert.Equal(t, uint64(12), c.InstructionCount(), "setup + 5 iterations + ecall")
}

func TestLoadStoreSignExtension(t *testing.T) {
	c, _ := loadProgram(t, 0x1000,
		iType(isa.OpImm, 1, isa.F3AddSub, 0, -1),       // x1 = -1
		iType(isa.OpImm, 2, isa.F3AddSub, 0, 0x200),    // x2 = 0x200
		sType(isa.OpStore, isa.F3LB, 2, 1, 0),          // sb x1, 0(x2)
		iType(isa.OpLoad, 3, isa.F3LB, 2, 0),           // lb x3, 0(x2)
		iType(isa.OpLoad, 4, isa.F3LBU, 2, 0),          // lbu x4, 0(x2)
		ecall,
	)
	c.SetReg(17, sys.SysExit)
	run(t, c)
	assert.Equal(t, ^uint64(0), c.Reg(3))
	assert.Equal(t, uint64(0xFF), c.Reg(4))
}

func TestJALLinksAndJumps(t *testing.T) {
	c, _ := loadProgram(t, 0x1000,
		jType(1, 8),                             // jal x1, +8
		iType(isa.OpImm, 2, isa.F3AddSub, 0, 1), // skipped
		iType(isa.OpImm, 3, isa.F3AddSub, 0, 2), // target
		ecall,
	)
	c.SetReg(17, sys.SysExit)
	run(t, c)
	assert.Equal(t, uint64(0x1004), c.Reg(1), "link register")
	assert.Zero(t, c.Reg(2))
	assert.Equal(t, uint64(2), c.Reg(3))
}

func TestMisalignedJALRTraps(t *testing.T) {
	// mtvec = 0x2000; with the C extension disabled (4-byte instruction
	// alignment) a jalr to a target that is not 4-byte aligned must trap
	// there. JALR clears only bit 0, so 0x402 stays misaligned.
	c, m := loadProgram(t, 0x1000,
		uType(isa.OpLUI, 1, 0x2000),                     // lui x1, 0x2 -> x1 = 0x2000
		rType(isa.OpSystem, 0, isa.F3CSRRW, 1, 0, 0)|uint32(isa.CsrMtvec)<<20, // csrrw x0, mtvec, x1
		iType(isa.OpImm, 2, isa.F3AddSub, 0, 0x402),     // x2 = 0x402 (not 4-byte aligned)
		iType(isa.OpJALR, 0, 0, 2, 0),                   // jalr x0, 0(x2)
	)
	c.ext = isa.ExtAll &^ isa.ExtC
	// Trap handler at 0x2000: ecall to stop.
	require.NoError(t, m.WriteWord(0x2000, ecall))
	c.SetReg(17, sys.SysExit)
	run(t, c)

	assert.Equal(t, uint64(0x100C), c.CSR(isa.CsrMepc))
	assert.Equal(t, uint64(isa.CauseMisalignedFetch), c.CSR(isa.CsrMcause))
	assert.Equal(t, uint64(0x402), c.CSR(isa.CsrMtval))
}

func TestMRETRestoresPC(t *testing.T) {
	c, m := loadProgram(t, 0x1000,
		uType(isa.OpLUI, 1, 0x2000),                     // x1 = 0x2000
		rType(isa.OpSystem, 0, isa.F3CSRRW, 1, 0, 0)|uint32(isa.CsrMepc)<<20, // csrrw x0, mepc, x1
		0x30200073,                                      // mret
		iType(isa.OpImm, 5, isa.F3AddSub, 0, 1),         // skipped
	)
	require.NoError(t, m.WriteWord(0x2000, iType(isa.OpImm, 6, isa.F3AddSub, 0, 9)))
	require.NoError(t, m.WriteWord(0x2004, ecall))
	c.SetReg(17, sys.SysExit)
	run(t, c)
	assert.Zero(t, c.Reg(5))
	assert.Equal(t, uint64(9), c.Reg(6))
}

func TestCSRReadWrite(t *testing.T) {
	c, _ := loadProgram(t, 0x1000,
		iType(isa.OpImm, 1, isa.F3AddSub, 0, 0x55),      // x1 = 0x55
		rType(isa.OpSystem, 0, isa.F3CSRRW, 1, 0, 0)|uint32(isa.CsrMscratch)<<20, // csrrw x0, mscratch, x1
		rType(isa.OpSystem, 2, isa.F3CSRRS, 0, 0, 0)|uint32(isa.CsrMscratch)<<20, // csrrs x2, mscratch, x0
		ecall,
	)
	c.SetReg(17, sys.SysExit)
	run(t, c)
	assert.Equal(t, uint64(0x55), c.Reg(2))
}

func TestFloatingPointFlow(t *testing.T) {
	bits := math.Float32bits(1.5)
	c, _ := loadProgram(t, 0x1000,
		uType(isa.OpLUI, 1, int32(bits)),                 // x1 = 0x3FC00000
		rType(isa.OpFP, 1, 0, 1, 0, 0b1111000),           // fmv.w.x f1, x1
		rType(isa.OpFP, 2, 0, 1, 1, 0b0000000),           // fadd.s f2, f1, f1
		rType(isa.OpFP, 2, 0, 2, 0, 0b1110000),           // fmv.x.w x2, f2
		ecall,
	)
	c.SetReg(17, sys.SysExit)
	run(t, c)
	assert.Equal(t, uint64(int64(int32(math.Float32bits(3.0)))), c.Reg(2))
}

func TestAMOSwapAndLRSC(t *testing.T) {
	c, m := loadProgram(t, 0x1000,
		iType(isa.OpImm, 1, isa.F3AddSub, 0, 0x400),       // x1 = 0x400
		iType(isa.OpImm, 2, isa.F3AddSub, 0, 7),           // x2 = 7
		rType(isa.OpAMO, 3, isa.F3LW, 1, 2, isa.AmoSwap<<2), // amoswap.w x3, x2, (x1)
		rType(isa.OpAMO, 4, isa.F3LW, 1, 0, isa.AmoLR<<2),   // lr.w x4, (x1)
		rType(isa.OpAMO, 5, isa.F3LW, 1, 2, isa.AmoSC<<2),   // sc.w x5, x2, (x1)
		rType(isa.OpAMO, 6, isa.F3LW, 1, 2, isa.AmoSC<<2),   // sc.w x6, x2, (x1) - no reservation
		ecall,
	)
	require.NoError(t, m.WriteWord(0x400, 3))
	c.SetReg(17, sys.SysExit)
	run(t, c)

	assert.Equal(t, uint64(3), c.Reg(3), "amoswap returns old value")
	word, _ := m.ReadWord(0x400)
	assert.Equal(t, uint32(7), word)
	assert.Equal(t, uint64(7), c.Reg(4), "lr reads stored value")
	assert.Zero(t, c.Reg(5), "sc with reservation succeeds")
	assert.Equal(t, uint64(1), c.Reg(6), "sc without reservation fails")
}

func TestZeroInstructionHalts(t *testing.T) {
	c, _ := loadProgram(t, 0x1000,
		iType(isa.OpImm, 1, isa.F3AddSub, 0, 1),
	)
	require.NoError(t, c.Run(100))
	assert.True(t, c.Halted())
	assert.Equal(t, uint64(1), c.InstructionCount())
}

func TestResetIdempotent(t *testing.T) {
	c, _ := loadProgram(t, 0x1000, iType(isa.OpImm, 1, isa.F3AddSub, 0, 1), ecall)
	c.SetReg(17, sys.SysExit)
	run(t, c)

	c.Reset()
	pc1, r1 := c.PC(), c.Reg(1)
	c.Reset()
	assert.Equal(t, pc1, c.PC())
	assert.Equal(t, r1, c.Reg(1))
	assert.Zero(t, c.Reg(1))
	assert.False(t, c.Halted())
}
