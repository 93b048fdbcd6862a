// Package sys emulates the small Linux-style syscall surface the guest
// programs use, invoked from the commit stage on ECALL.
package sys

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/oisee/rv64sim/pkg/debug"
	"github.com/oisee/rv64sim/pkg/mem"
)

// RISC-V Linux ABI syscall numbers honoured by the emulator.
const (
	SysRead  = 63
	SysWrite = 64
	SysExit  = 93
	SysBrk   = 214
)

// Machine is the view of a core's architectural state the handler needs:
// argument registers in, return value out.
type Machine interface {
	Reg(n int) uint64
	SetReg(n int, v uint64)
}

// Handler services guest syscalls against a memory image. The reference core
// in a DiffTest pair uses a quiet handler so guest output is not duplicated.
type Handler struct {
	mem   *mem.Memory
	in    *bufio.Reader
	out   io.Writer
	errw  io.Writer
	quiet bool

	exited   bool
	exitCode int
}

// NewHandler creates a handler bound to the given memory image, talking to the
// process stdio.
func NewHandler(m *mem.Memory) *Handler {
	return &Handler{mem: m, in: bufio.NewReader(os.Stdin), out: os.Stdout, errw: os.Stderr}
}

// NewQuietHandler creates a handler that performs the same register and memory
// effects but emits no host output and consumes no host input.
func NewQuietHandler(m *mem.Memory) *Handler {
	return &Handler{mem: m, in: bufio.NewReader(&emptyReader{}), out: io.Discard, errw: io.Discard, quiet: true}
}

type emptyReader struct{}

func (*emptyReader) Read([]byte) (int, error) { return 0, io.EOF }

// Exited reports whether an exit syscall was seen and its code.
func (h *Handler) Exited() (bool, int) { return h.exited, h.exitCode }

// Handle services the syscall selected by a7. It returns true when the core
// must halt (exit).
func (h *Handler) Handle(m Machine) bool {
	num := m.Reg(17) // a7
	a0 := m.Reg(10)
	a1 := m.Reg(11)
	a2 := m.Reg(12)
	debug.Tracef(debug.CatSyscall, "syscall %d a0=0x%x a1=0x%x a2=0x%x", num, a0, a1, a2)

	switch num {
	case SysExit:
		h.exited = true
		h.exitCode = int(a0)
		if !h.quiet {
			if a0 == 0 {
				fmt.Fprintf(h.out, "\n=== PASS === (exit code 0)\n")
			} else {
				fmt.Fprintf(h.out, "\n=== FAIL === (exit code %d)\n", a0)
			}
		}
		return true

	case SysWrite:
		m.SetReg(10, h.write(a0, a1, a2))

	case SysRead:
		m.SetReg(10, h.read(a0, a1, a2))

	case SysBrk:
		// No heap management in this model; echo the requested break.
		m.SetReg(10, a0)

	default:
		// Unknown syscalls return 0 so newlib-style stubs do not spin.
		m.SetReg(10, 0)
	}
	return false
}

func (h *Handler) write(fd, buf, count uint64) uint64 {
	if fd != 1 && fd != 2 {
		return ^uint64(0)
	}
	w := h.out
	if fd == 2 {
		w = h.errw
	}
	data := make([]byte, count)
	for i := uint64(0); i < count; i++ {
		b, err := h.mem.ReadByte(buf + i)
		if err != nil {
			return ^uint64(0)
		}
		data[i] = b
	}
	w.Write(data)
	return count
}

func (h *Handler) read(fd, buf, count uint64) uint64 {
	if fd != 0 {
		return ^uint64(0)
	}
	data := make([]byte, count)
	n, err := h.in.Read(data)
	if n == 0 && err != nil {
		return 0
	}
	for i := 0; i < n; i++ {
		if h.mem.WriteByte(buf+uint64(i), data[i]) != nil {
			return ^uint64(0)
		}
	}
	return uint64(n)
}
