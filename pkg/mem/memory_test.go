package mem

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadWriteRoundTrip(t *testing.T) {
	m := New(4096)
	tests := []struct {
		name string
		addr uint64
		val  uint64
		size int
	}{
		{"byte", 0x10, 0xAB, 1},
		{"half", 0x20, 0xBEEF, 2},
		{"word", 0x30, 0xDEADBEEF, 4},
		{"double", 0x40, 0x0123456789ABCDEF, 8},
		{"unaligned half", 0x51, 0x1234, 2},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.NoError(t, m.Write(tc.addr, tc.val, tc.size))
			got, err := m.Read(tc.addr, tc.size)
			require.NoError(t, err)
			assert.Equal(t, tc.val, got)
		})
	}
}

func TestLittleEndianLayout(t *testing.T) {
	m := New(64)
	require.NoError(t, m.WriteWord(0, 0x11223344))
	b0, _ := m.ReadByte(0)
	b3, _ := m.ReadByte(3)
	assert.Equal(t, uint8(0x44), b0)
	assert.Equal(t, uint8(0x11), b3)
}

func TestOutOfRangeAccess(t *testing.T) {
	m := New(64)
	_, err := m.Read(64, 1)
	var accessErr *AccessError
	require.Error(t, err)
	assert.True(t, errors.As(err, &accessErr))

	err = m.Write(60, 0, 8)
	assert.Error(t, err)
}

func TestFetchInstruction(t *testing.T) {
	m := New(64)
	// 32-bit instruction straddling a word boundary (2-byte aligned).
	require.NoError(t, m.WriteWord(2, 0x00A00513)) // li a0, 10
	raw, err := m.FetchInstruction(2)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x00A00513), raw)

	// Compressed instruction returns the low halfword only.
	require.NoError(t, m.WriteHalf(8, 0x4505)) // c.li a0, 1
	raw, err = m.FetchInstruction(8)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x4505), raw)

	_, err = m.FetchInstruction(1)
	assert.Error(t, err, "odd fetch address")
}

func TestTohostExit(t *testing.T) {
	m := New(0x1000)
	m.SetHostAddrs(0x800, 0x840)

	require.NoError(t, m.WriteDouble(0x800, 0)) // ignored
	exited, _ := m.ExitRequested()
	assert.False(t, exited)

	require.NoError(t, m.WriteDouble(0x800, 5<<1|1))
	exited, code := m.ExitRequested()
	assert.True(t, exited)
	assert.Equal(t, 5, code)
}

func TestTohostSyscallBlock(t *testing.T) {
	m := New(0x1000)
	m.SetHostAddrs(0x800, 0x840)
	var out bytes.Buffer
	m.SetConsole(&out)

	// Magic memory block at 0x100: write(1, 0x200, 5)
	require.NoError(t, m.WriteDouble(0x100, 64))
	require.NoError(t, m.WriteDouble(0x108, 1))
	require.NoError(t, m.WriteDouble(0x110, 0x200))
	require.NoError(t, m.WriteDouble(0x118, 5))
	require.NoError(t, m.LoadBytes(0x200, []byte("hello")))

	require.NoError(t, m.WriteDouble(0x800, 0x100))

	assert.Equal(t, "hello", out.String())
	ret, _ := m.ReadDouble(0x100)
	assert.Equal(t, uint64(5), ret, "bytes written echoed into the block")
	fromhost, _ := m.ReadByte(0x840)
	assert.Equal(t, uint8(1), fromhost)
}

func TestClearResetsExitState(t *testing.T) {
	m := New(0x1000)
	m.SetHostAddrs(0x800, 0x840)
	require.NoError(t, m.WriteDouble(0x800, 1))
	m.Clear()
	exited, _ := m.ExitRequested()
	assert.False(t, exited)
}
