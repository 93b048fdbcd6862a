package sim

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/oisee/rv64sim/pkg/isa"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func iw(op isa.Opcode, rd, f3, rs1 uint32, imm int32) uint32 {
	return uint32(imm)<<20 | rs1<<15 | f3<<12 | rd<<7 | uint32(op)
}

func rword(op isa.Opcode, rd, f3, rs1, rs2, f7 uint32) uint32 {
	return f7<<25 | rs2<<20 | rs1<<15 | f3<<12 | rd<<7 | uint32(op)
}

func sword(f3, rs1, rs2 uint32, imm int32) uint32 {
	u := uint32(imm)
	return (u>>5&0x7F)<<25 | rs2<<20 | rs1<<15 | f3<<12 | (u&0x1F)<<7 | uint32(isa.OpStore)
}

func bword(f3, rs1, rs2 uint32, imm int32) uint32 {
	u := uint32(imm)
	return (u>>12&0x1)<<31 | (u>>5&0x3F)<<25 | rs2<<20 | rs1<<15 |
		f3<<12 | (u>>1&0xF)<<8 | (u>>11&0x1)<<7 | uint32(isa.OpBranch)
}

func jword(rd uint32, imm int32) uint32 {
	u := uint32(imm)
	return (u>>20&0x1)<<31 | (u>>1&0x3FF)<<21 | (u>>11&0x1)<<20 | (u>>12&0xFF)<<12 |
		rd<<7 | uint32(isa.OpJAL)
}

const ecallWord = 0x00000073

func programBytes(words ...uint32) []byte {
	buf := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(buf[4*i:], w)
	}
	return buf
}

// exerciseProgram covers arithmetic, control flow, memory traffic, CSRs and
// M-extension ops, then exits cleanly via ECALL.
func exerciseProgram() []byte {
	return programBytes(
		iw(isa.OpImm, 1, isa.F3AddSub, 0, 7),                  // x1 = 7
		iw(isa.OpImm, 2, isa.F3AddSub, 0, 0),                  // x2 = 0
		// loop: x2 += x1; x1--
		rword(isa.OpReg, 2, isa.F3AddSub, 2, 1, 0),            // add x2, x2, x1
		iw(isa.OpImm, 1, isa.F3AddSub, 1, -1),                 // addi x1, x1, -1
		bword(isa.F3BNE, 1, 0, -8),                            // bne x1, x0, loop
		iw(isa.OpImm, 3, isa.F3AddSub, 0, 0x700),              // x3 = 0x700
		sword(isa.F3LD, 3, 2, 0),                              // sd x2, 0(x3)
		iw(isa.OpLoad, 4, isa.F3LD, 3, 0),                     // ld x4, 0(x3)
		rword(isa.OpReg, 5, isa.F3Mul, 4, 4, isa.F7MExt),      // mul x5, x4, x4
		iw(isa.OpSystem, 6, isa.F3CSRRS, 0, int32(isa.CsrMhartid)), // csrr x6, mhartid
		jword(7, 8),                                           // jal x7, +8
		iw(isa.OpImm, 8, isa.F3AddSub, 0, 0xBB),               // skipped
		iw(isa.OpImm, 17, isa.F3AddSub, 0, 93),                // a7 = exit
		iw(isa.OpImm, 10, isa.F3AddSub, 0, 0),                 // a0 = 0
		ecallWord,
	)
}

func newTestSim(t *testing.T, cfg Config) *Simulator {
	t.Helper()
	s, err := New(cfg)
	require.NoError(t, err)
	return s
}

func TestDiffTestCleanRun(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MemSize = 0x20000
	cfg.StopOnMismatch = false
	cfg.MaxCycles = 50000
	s := newTestSim(t, cfg)

	require.NoError(t, s.LoadBytes(0x100, exerciseProgram()))
	require.NoError(t, s.Run())

	dt := s.DiffTest()
	require.NotNil(t, dt)
	assert.False(t, dt.Failed(), "OoO and in-order engines must agree at every commit")
	cmp, mis := dt.Stats()
	assert.Zero(t, mis)
	assert.Equal(t, s.Core().InstructionCount(), cmp, "one comparison per retired instruction")

	// 7+6+5+4+3+2+1 accumulated, squared by the mul.
	assert.Equal(t, uint64(28), s.Core().Reg(4))
	assert.Equal(t, uint64(784), s.Core().Reg(5))
	assert.Equal(t, uint64(0x12C), s.Core().Reg(7), "jal link")
	assert.Zero(t, s.Core().Reg(8))
	assert.Zero(t, s.ExitCode())
}

func TestEnginesProduceIdenticalState(t *testing.T) {
	prog := exerciseProgram()

	runEngine := func(engine Engine) CPU {
		cfg := DefaultConfig()
		cfg.Engine = engine
		cfg.MemSize = 0x20000
		cfg.DiffTest = false
		cfg.MaxCycles = 50000
		s := newTestSim(t, cfg)
		require.NoError(t, s.LoadBytes(0x100, prog))
		require.NoError(t, s.Run())
		return s.Core()
	}

	ooo := runEngine(EngineOutOfOrder)
	ref := runEngine(EngineInOrder)

	for r := 1; r < 32; r++ {
		assert.Equal(t, ref.Reg(r), ooo.Reg(r), "x%d", r)
	}
	assert.Equal(t, ref.InstructionCount(), ooo.InstructionCount())
}

func TestDiffTestDetectsDivergence(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MemSize = 0x20000
	cfg.StopOnMismatch = false
	cfg.MaxCycles = 50000
	s := newTestSim(t, cfg)
	require.NoError(t, s.LoadBytes(0x100, exerciseProgram()))

	// Corrupt the reference after load; the first commit must notice.
	s.ref.SetReg(20, 0xBAD)
	require.NoError(t, s.Run())

	assert.True(t, s.DiffTest().Failed())
	_, mis := s.DiffTest().Stats()
	assert.Greater(t, mis, uint64(0))
}

func TestSyncRefState(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MemSize = 0x20000
	s := newTestSim(t, cfg)
	require.NoError(t, s.LoadBytes(0x100, programBytes(ecallWord)))

	s.Core().SetReg(15, 0x1234)
	s.Core().SetFReg(3, 0x5678)
	s.Core().SetCSR(isa.CsrMscratch, 0x9A)
	s.DiffTest().SyncRefState()

	assert.Equal(t, uint64(0x1234), s.ref.Reg(15))
	assert.Equal(t, uint64(0x5678), s.ref.FReg(3))
	assert.Equal(t, uint64(0x9A), s.ref.CSR(isa.CsrMscratch))
}

func TestInOrderEngineRun(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Engine = EngineInOrder
	cfg.MemSize = 0x20000
	s := newTestSim(t, cfg)
	require.NoError(t, s.LoadBytes(0x100, exerciseProgram()))
	require.NoError(t, s.Run())

	st := s.CollectStats()
	assert.Equal(t, "in-order", st.Engine)
	assert.NotZero(t, st.Instructions)
	assert.Nil(t, st.DiffTest)
}

func TestStatsReporting(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MemSize = 0x20000
	cfg.StopOnMismatch = false
	s := newTestSim(t, cfg)
	require.NoError(t, s.LoadBytes(0x100, exerciseProgram()))
	require.NoError(t, s.Run())

	var human bytes.Buffer
	s.PrintStats(&human)
	assert.Contains(t, human.String(), "out-of-order")
	assert.Contains(t, human.String(), "difftest")

	var js bytes.Buffer
	require.NoError(t, s.WriteStatsJSON(&js))
	assert.Contains(t, js.String(), "\"engine\": \"out-of-order\"")
	assert.Contains(t, js.String(), "\"counters\"")
}

// buildELF64 produces a minimal RV64 executable around the given words.
func buildELF64(t *testing.T, entry uint64, words ...uint32) string {
	t.Helper()
	le := binary.LittleEndian
	code := programBytes(words...)

	const ehSize, phSize = 64, 56
	dataOff := uint64(ehSize + phSize)
	buf := make([]byte, dataOff+uint64(len(code)))
	copy(buf, []byte{0x7F, 'E', 'L', 'F', 2, 1, 1, 0})
	le.PutUint16(buf[16:], 2)
	le.PutUint16(buf[18:], 243)
	le.PutUint32(buf[20:], 1)
	le.PutUint64(buf[24:], entry)
	le.PutUint64(buf[32:], ehSize)
	le.PutUint16(buf[52:], ehSize)
	le.PutUint16(buf[54:], phSize)
	le.PutUint16(buf[56:], 1)

	ph := buf[ehSize:]
	le.PutUint32(ph[0:], 1)
	le.PutUint32(ph[4:], 5)
	le.PutUint64(ph[8:], dataOff)
	le.PutUint64(ph[16:], entry)
	le.PutUint64(ph[24:], entry)
	le.PutUint64(ph[32:], uint64(len(code)))
	le.PutUint64(ph[40:], uint64(len(code)))

	path := filepath.Join(t.TempDir(), "prog.elf")
	require.NoError(t, os.WriteFile(path, buf, 0o644))
	return path
}

func TestLoadELFEndToEnd(t *testing.T) {
	path := buildELF64(t, 0x1000,
		iw(isa.OpImm, 5, isa.F3AddSub, 0, 77),
		iw(isa.OpImm, 17, isa.F3AddSub, 0, 93),
		iw(isa.OpImm, 10, isa.F3AddSub, 0, 0),
		ecallWord,
	)

	cfg := DefaultConfig()
	cfg.MemSize = 0x20000
	cfg.StopOnMismatch = false
	s := newTestSim(t, cfg)
	require.NoError(t, s.LoadELF(path))

	// ABI registers are set near the top of memory.
	assert.Equal(t, s.Memory().Size()-16, s.Core().Reg(2))

	require.NoError(t, s.Run())
	assert.Equal(t, uint64(77), s.Core().Reg(5))
	assert.False(t, s.DiffTest().Failed())
	assert.Zero(t, s.ExitCode())
}
