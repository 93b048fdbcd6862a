package mem

import (
	"encoding/binary"
	"fmt"
	"os"
)

// ELF constants, limited to what a statically linked RISC-V executable needs.
const (
	elfMagic   = 0x464C457F // "\x7FELF" little-endian
	elfClass32 = 1
	elfClass64 = 2
	elfData2L  = 1
	etExec     = 2
	emRISCV    = 243
	ptLoad     = 1
)

// DefaultStackReserve is the headroom added above the highest PT_LOAD segment
// when recommending a memory size for an ELF.
const DefaultStackReserve = 1 * 1024 * 1024

// ELFInfo describes a loaded executable.
type ELFInfo struct {
	Entry    uint64
	Segments []Segment
}

// Segment records one loaded PT_LOAD range.
type Segment struct {
	Vaddr    uint64
	FileSize uint64
	MemSize  uint64
	Flags    uint32
}

type elfHeader struct {
	class     byte
	entry     uint64
	phoff     uint64
	phentsize uint16
	phnum     uint16
}

type progHeader struct {
	ptype  uint32
	flags  uint32
	offset uint64
	vaddr  uint64
	filesz uint64
	memsz  uint64
}

// LoadELF loads a statically linked RV32/RV64 little-endian executable into
// the memory image and returns the entry PC. BSS ranges (p_memsz beyond
// p_filesz) are zero-filled.
func LoadELF(path string, m *Memory) (*ELFInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read elf: %w", err)
	}
	hdr, err := parseELFHeader(data)
	if err != nil {
		return nil, err
	}

	info := &ELFInfo{Entry: hdr.entry}
	for i := 0; i < int(hdr.phnum); i++ {
		ph, err := parseProgHeader(data, hdr, i)
		if err != nil {
			return nil, err
		}
		if ph.ptype != ptLoad {
			continue
		}
		if ph.offset+ph.filesz > uint64(len(data)) {
			return nil, fmt.Errorf("elf segment %d exceeds file size", i)
		}
		if ph.filesz > 0 {
			if err := m.LoadBytes(ph.vaddr, data[ph.offset:ph.offset+ph.filesz]); err != nil {
				return nil, fmt.Errorf("elf segment %d: %w", i, err)
			}
		}
		if ph.memsz > ph.filesz {
			if err := m.ZeroFill(ph.vaddr+ph.filesz, ph.memsz-ph.filesz); err != nil {
				return nil, fmt.Errorf("elf bss of segment %d: %w", i, err)
			}
		}
		info.Segments = append(info.Segments, Segment{
			Vaddr:    ph.vaddr,
			FileSize: ph.filesz,
			MemSize:  ph.memsz,
			Flags:    ph.flags,
		})
	}
	return info, nil
}

// RecommendedMemorySize returns max(highest segment end + stackReserve,
// minSize) for the ELF at path, or minSize if the file cannot be parsed.
func RecommendedMemorySize(path string, minSize, stackReserve uint64) uint64 {
	data, err := os.ReadFile(path)
	if err != nil {
		return minSize
	}
	hdr, err := parseELFHeader(data)
	if err != nil {
		return minSize
	}
	var maxEnd uint64
	for i := 0; i < int(hdr.phnum); i++ {
		ph, err := parseProgHeader(data, hdr, i)
		if err != nil || ph.ptype != ptLoad {
			continue
		}
		if end := ph.vaddr + ph.memsz; end > maxEnd {
			maxEnd = end
		}
	}
	total := maxEnd + stackReserve
	if total < maxEnd { // overflow
		return minSize
	}
	if total > minSize {
		return total
	}
	return minSize
}

func parseELFHeader(data []byte) (*elfHeader, error) {
	if len(data) < 64 {
		return nil, fmt.Errorf("elf file too short (%d bytes)", len(data))
	}
	le := binary.LittleEndian
	if le.Uint32(data[0:]) != elfMagic {
		return nil, fmt.Errorf("not an ELF file")
	}
	class := data[4]
	if class != elfClass32 && class != elfClass64 {
		return nil, fmt.Errorf("unsupported ELF class %d", class)
	}
	if data[5] != elfData2L {
		return nil, fmt.Errorf("only little-endian ELF is supported")
	}
	if data[6] != 1 {
		return nil, fmt.Errorf("unsupported ELF version %d", data[6])
	}
	if typ := le.Uint16(data[16:]); typ != etExec {
		return nil, fmt.Errorf("not an executable ELF (type %d)", typ)
	}
	if machine := le.Uint16(data[18:]); machine != emRISCV {
		return nil, fmt.Errorf("not a RISC-V ELF (machine %d)", machine)
	}

	h := &elfHeader{class: class}
	if class == elfClass32 {
		h.entry = uint64(le.Uint32(data[24:]))
		h.phoff = uint64(le.Uint32(data[28:]))
		h.phentsize = le.Uint16(data[42:])
		h.phnum = le.Uint16(data[44:])
	} else {
		h.entry = le.Uint64(data[24:])
		h.phoff = le.Uint64(data[32:])
		h.phentsize = le.Uint16(data[54:])
		h.phnum = le.Uint16(data[56:])
	}
	return h, nil
}

func parseProgHeader(data []byte, hdr *elfHeader, i int) (*progHeader, error) {
	off := hdr.phoff + uint64(i)*uint64(hdr.phentsize)
	need := uint64(32)
	if hdr.class == elfClass64 {
		need = 56
	}
	if off+need > uint64(len(data)) {
		return nil, fmt.Errorf("program header %d out of range", i)
	}
	le := binary.LittleEndian
	ph := &progHeader{}
	if hdr.class == elfClass32 {
		ph.ptype = le.Uint32(data[off:])
		ph.offset = uint64(le.Uint32(data[off+4:]))
		ph.vaddr = uint64(le.Uint32(data[off+8:]))
		ph.filesz = uint64(le.Uint32(data[off+16:]))
		ph.memsz = uint64(le.Uint32(data[off+20:]))
		ph.flags = le.Uint32(data[off+24:])
	} else {
		ph.ptype = le.Uint32(data[off:])
		ph.flags = le.Uint32(data[off+4:])
		ph.offset = le.Uint64(data[off+8:])
		ph.vaddr = le.Uint64(data[off+16:])
		ph.filesz = le.Uint64(data[off+32:])
		ph.memsz = le.Uint64(data[off+40:])
	}
	return ph, nil
}
