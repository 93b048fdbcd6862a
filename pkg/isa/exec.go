package isa

import "math/bits"

// Pure integer execution semantics. Both cores call these so a DiffTest
// mismatch always means a pipeline bug, never divergent arithmetic.

// ExecImm evaluates an OP-IMM instruction.
func ExecImm(d *Decoded, rs1 uint64) uint64 {
	imm := uint64(int64(d.Imm))
	switch d.Funct3 {
	case F3AddSub:
		return rs1 + imm
	case F3SLT:
		if int64(rs1) < int64(d.Imm) {
			return 1
		}
		return 0
	case F3SLTU:
		if rs1 < imm {
			return 1
		}
		return 0
	case F3XOR:
		return rs1 ^ imm
	case F3OR:
		return rs1 | imm
	case F3AND:
		return rs1 & imm
	case F3SLL:
		return rs1 << (d.Imm & 0x3F)
	case F3SRLSRA:
		sh := uint(d.Imm & 0x3F)
		if d.Imm>>10&1 != 0 {
			return uint64(int64(rs1) >> sh)
		}
		return rs1 >> sh
	}
	return 0
}

// ExecImm32 evaluates an OP-IMM-32 instruction (W forms, sign-extended).
func ExecImm32(d *Decoded, rs1 uint64) uint64 {
	v := int32(rs1)
	switch d.Funct3 {
	case F3AddSub:
		v += d.Imm
	case F3SLL:
		v <<= uint(d.Imm & 0x1F)
	case F3SRLSRA:
		sh := uint(d.Imm & 0x1F)
		if d.Imm>>10&1 != 0 {
			v >>= sh
		} else {
			v = int32(uint32(v) >> sh)
		}
	}
	return uint64(int64(v))
}

// ExecReg evaluates an OP instruction (base integer forms).
func ExecReg(d *Decoded, rs1, rs2 uint64) uint64 {
	switch d.Funct3 {
	case F3AddSub:
		if d.Funct7 == F7SubSra {
			return rs1 - rs2
		}
		return rs1 + rs2
	case F3SLL:
		return rs1 << (rs2 & 0x3F)
	case F3SLT:
		if int64(rs1) < int64(rs2) {
			return 1
		}
		return 0
	case F3SLTU:
		if rs1 < rs2 {
			return 1
		}
		return 0
	case F3XOR:
		return rs1 ^ rs2
	case F3SRLSRA:
		sh := uint(rs2 & 0x3F)
		if d.Funct7 == F7SubSra {
			return uint64(int64(rs1) >> sh)
		}
		return rs1 >> sh
	case F3OR:
		return rs1 | rs2
	case F3AND:
		return rs1 & rs2
	}
	return 0
}

// ExecReg32 evaluates an OP-32 instruction (W forms).
func ExecReg32(d *Decoded, rs1, rs2 uint64) uint64 {
	a := int32(rs1)
	b := int32(rs2)
	var v int32
	switch d.Funct3 {
	case F3AddSub:
		if d.Funct7 == F7SubSra {
			v = a - b
		} else {
			v = a + b
		}
	case F3SLL:
		v = a << (uint(b) & 0x1F)
	case F3SRLSRA:
		sh := uint(b) & 0x1F
		if d.Funct7 == F7SubSra {
			v = a >> sh
		} else {
			v = int32(uint32(a) >> sh)
		}
	}
	return uint64(int64(v))
}

// ExecMulDiv evaluates an M-extension OP instruction. Division by zero and
// signed overflow follow the RISC-V defined results (all-ones / dividend /
// MININT / zero).
func ExecMulDiv(d *Decoded, rs1, rs2 uint64) uint64 {
	switch d.Funct3 {
	case F3Mul:
		return rs1 * rs2
	case F3MulH:
		hi, lo := bits.Mul64(absU(int64(rs1)), absU(int64(rs2)))
		if (int64(rs1) < 0) != (int64(rs2) < 0) {
			return negHi(hi, lo)
		}
		return hi
	case F3MulHSU:
		hi, lo := bits.Mul64(absU(int64(rs1)), rs2)
		if int64(rs1) < 0 {
			return negHi(hi, lo)
		}
		return hi
	case F3MulHU:
		hi, _ := bits.Mul64(rs1, rs2)
		return hi
	case F3Div:
		if rs2 == 0 {
			return ^uint64(0)
		}
		if int64(rs1) == -1<<63 && int64(rs2) == -1 {
			return rs1
		}
		return uint64(int64(rs1) / int64(rs2))
	case F3DivU:
		if rs2 == 0 {
			return ^uint64(0)
		}
		return rs1 / rs2
	case F3Rem:
		if rs2 == 0 {
			return rs1
		}
		if int64(rs1) == -1<<63 && int64(rs2) == -1 {
			return 0
		}
		return uint64(int64(rs1) % int64(rs2))
	case F3RemU:
		if rs2 == 0 {
			return rs1
		}
		return rs1 % rs2
	}
	return 0
}

func absU(v int64) uint64 {
	if v < 0 {
		return uint64(-v)
	}
	return uint64(v)
}

// negHi returns the high word of the two's-complement negation of hi:lo.
func negHi(hi, lo uint64) uint64 {
	nlo := ^lo + 1
	nhi := ^hi
	if nlo == 0 {
		nhi++
	}
	return nhi
}

// ExecMulDiv32 evaluates an M-extension OP-32 instruction.
func ExecMulDiv32(d *Decoded, rs1, rs2 uint64) uint64 {
	a := int32(rs1)
	b := int32(rs2)
	var v int32
	switch d.Funct3 {
	case F3Mul:
		v = a * b
	case F3Div:
		switch {
		case b == 0:
			v = -1
		case a == -1<<31 && b == -1:
			v = a
		default:
			v = a / b
		}
	case F3DivU:
		if b == 0 {
			v = -1
		} else {
			v = int32(uint32(a) / uint32(b))
		}
	case F3Rem:
		switch {
		case b == 0:
			v = a
		case a == -1<<31 && b == -1:
			v = 0
		default:
			v = a % b
		}
	case F3RemU:
		if b == 0 {
			v = a
		} else {
			v = int32(uint32(a) % uint32(b))
		}
	}
	return uint64(int64(v))
}

// BranchTaken evaluates a conditional branch.
func BranchTaken(d *Decoded, rs1, rs2 uint64) bool {
	switch d.Funct3 {
	case F3BEQ:
		return rs1 == rs2
	case F3BNE:
		return rs1 != rs2
	case F3BLT:
		return int64(rs1) < int64(rs2)
	case F3BGE:
		return int64(rs1) >= int64(rs2)
	case F3BLTU:
		return rs1 < rs2
	case F3BGEU:
		return rs1 >= rs2
	}
	return false
}

// JumpTarget computes a PC-relative target (JAL, branches).
func JumpTarget(d *Decoded, pc uint64) uint64 {
	return pc + uint64(int64(d.Imm))
}

// JALRTarget computes an indirect target with the low bit cleared.
func JALRTarget(d *Decoded, rs1 uint64) uint64 {
	return (rs1 + uint64(int64(d.Imm))) &^ uint64(1)
}

// ExecUpperImm evaluates LUI and AUIPC.
func ExecUpperImm(d *Decoded, pc uint64) uint64 {
	if d.Opcode == OpLUI {
		return uint64(int64(d.Imm))
	}
	return pc + uint64(int64(d.Imm))
}

// MisalignedTarget reports whether a control-flow target violates the
// instruction alignment. With the C extension IALIGN is 16, otherwise 32.
func MisalignedTarget(target uint64, ext Extension) bool {
	if ext&ExtC != 0 {
		return target&0x1 != 0
	}
	return target&0x3 != 0
}

// MisalignedCause returns the trap cause for a misaligned data access of the
// given kind.
func MisalignedCause(store bool) uint64 {
	if store {
		return CauseMisalignedStore
	}
	return CauseMisalignedLoad
}

// ExtendLoad applies the load's zero/sign extension to raw memory bytes.
func ExtendLoad(d *Decoded, raw uint64) uint64 {
	if d.Opcode == OpLoadFP {
		if d.MemSize == 4 {
			return NanBox32(uint32(raw))
		}
		return raw
	}
	if d.IsSignedLoad {
		switch d.MemSize {
		case 1:
			return uint64(int64(int8(raw)))
		case 2:
			return uint64(int64(int16(raw)))
		case 4:
			return uint64(int64(int32(raw)))
		}
		return raw
	}
	switch d.MemSize {
	case 1:
		return raw & 0xFF
	case 2:
		return raw & 0xFFFF
	case 4:
		return raw & 0xFFFFFFFF
	}
	return raw
}
