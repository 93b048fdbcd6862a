package mem

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildELF64 assembles a minimal statically linked RV64 executable with one
// PT_LOAD segment.
func buildELF64(t *testing.T, entry, vaddr uint64, code []byte, memsz uint64) string {
	t.Helper()
	le := binary.LittleEndian

	const ehSize = 64
	const phSize = 56
	dataOff := uint64(ehSize + phSize)

	buf := make([]byte, dataOff+uint64(len(code)))
	copy(buf[0:], []byte{0x7F, 'E', 'L', 'F', 2, 1, 1, 0})
	le.PutUint16(buf[16:], 2)   // ET_EXEC
	le.PutUint16(buf[18:], 243) // EM_RISCV
	le.PutUint32(buf[20:], 1)
	le.PutUint64(buf[24:], entry)
	le.PutUint64(buf[32:], ehSize) // phoff
	le.PutUint16(buf[52:], ehSize)
	le.PutUint16(buf[54:], phSize)
	le.PutUint16(buf[56:], 1) // phnum

	ph := buf[ehSize:]
	le.PutUint32(ph[0:], 1) // PT_LOAD
	le.PutUint32(ph[4:], 5) // R+X
	le.PutUint64(ph[8:], dataOff)
	le.PutUint64(ph[16:], vaddr)
	le.PutUint64(ph[24:], vaddr)
	le.PutUint64(ph[32:], uint64(len(code)))
	le.PutUint64(ph[40:], memsz)

	copy(buf[dataOff:], code)

	path := filepath.Join(t.TempDir(), "prog.elf")
	require.NoError(t, os.WriteFile(path, buf, 0o644))
	return path
}

func TestLoadELF(t *testing.T) {
	code := []byte{0x13, 0x05, 0xA0, 0x00} // addi a0, x0, 10
	path := buildELF64(t, 0x1000, 0x1000, code, uint64(len(code))+16)

	m := New(0x10000)
	// Pre-dirty the BSS range to prove zero-filling.
	require.NoError(t, m.WriteByte(0x1000+uint64(len(code)), 0xFF))

	info, err := LoadELF(path, m)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x1000), info.Entry)
	require.Len(t, info.Segments, 1)

	word, err := m.ReadWord(0x1000)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x00A00513), word)

	bss, err := m.ReadByte(0x1000 + uint64(len(code)))
	require.NoError(t, err)
	assert.Zero(t, bss, "bss must be zero-filled")
}

func TestLoadELFRejectsWrongMachine(t *testing.T) {
	path := buildELF64(t, 0x1000, 0x1000, []byte{1, 2, 3, 4}, 4)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	binary.LittleEndian.PutUint16(raw[18:], 62) // EM_X86_64
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	_, err = LoadELF(path, New(0x10000))
	assert.ErrorContains(t, err, "RISC-V")
}

func TestLoadELFRejectsBigEndian(t *testing.T) {
	path := buildELF64(t, 0x1000, 0x1000, []byte{1, 2, 3, 4}, 4)
	raw, _ := os.ReadFile(path)
	raw[5] = 2
	require.NoError(t, os.WriteFile(path, raw, 0o644))
	_, err := LoadELF(path, New(0x10000))
	assert.ErrorContains(t, err, "little-endian")
}

func TestRecommendedMemorySize(t *testing.T) {
	code := make([]byte, 64)
	path := buildELF64(t, 0x4000, 0x4000, code, 64)

	got := RecommendedMemorySize(path, 0x1000, 0x10000)
	assert.Equal(t, uint64(0x4000+64+0x10000), got)

	// Minimum wins when larger.
	got = RecommendedMemorySize(path, 1<<30, 0x10000)
	assert.Equal(t, uint64(1<<30), got)

	// Unreadable file falls back to the minimum.
	got = RecommendedMemorySize(filepath.Join(t.TempDir(), "nope"), 0x1234, 0)
	assert.Equal(t, uint64(0x1234), got)
}
