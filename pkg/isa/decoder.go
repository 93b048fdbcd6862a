package isa

// Decode decodes a 32-bit instruction word. Illegal encodings or instructions
// from disabled extensions produce a Decoded with DecodeErr set rather than an
// error: the pipeline carries them to commit so exception ordering is precise.
func Decode(raw uint32, ext Extension) Decoded {
	d := Decoded{
		Opcode: Opcode(raw & 0x7F),
		Rd:     uint8(raw >> 7 & 0x1F),
		Funct3: uint8(raw >> 12 & 0x7),
		Rs1:    uint8(raw >> 15 & 0x1F),
		Rs2:    uint8(raw >> 20 & 0x1F),
		Rs3:    uint8(raw >> 27 & 0x1F),
		Funct7: uint8(raw >> 25 & 0x7F),
		RM:     uint8(raw >> 12 & 0x7),
	}
	d.Type = typeForOpcode(d.Opcode)

	switch d.Type {
	case TypeI, TypeSystem:
		d.Imm = immI(raw)
	case TypeS:
		d.Imm = immS(raw)
	case TypeB:
		d.Imm = immB(raw)
	case TypeU:
		d.Imm = immU(raw)
	case TypeJ:
		d.Imm = immJ(raw)
	}

	if err := validate(&d, raw, ext); err != nil {
		d.DecodeErr = err.Error()
	}
	d.initExecProperties()
	return d
}

func typeForOpcode(op Opcode) InstType {
	switch op {
	case OpReg, OpReg32, OpAMO, OpFP:
		return TypeR
	case OpFMAdd, OpFMSub, OpFNMSub, OpFNMAdd:
		return TypeR4
	case OpImm, OpImm32, OpLoad, OpLoadFP, OpJALR, OpMiscMem:
		return TypeI
	case OpStore, OpStoreFP:
		return TypeS
	case OpBranch:
		return TypeB
	case OpLUI, OpAUIPC:
		return TypeU
	case OpJAL:
		return TypeJ
	case OpSystem:
		return TypeSystem
	default:
		return TypeUnknown
	}
}

func immI(raw uint32) int32 { return int32(raw) >> 20 }

func immS(raw uint32) int32 {
	imm := int32(raw>>7&0x1F) | int32(raw>>25)<<5
	return imm << 20 >> 20
}

func immB(raw uint32) int32 {
	imm := int32(raw>>8&0xF)<<1 |
		int32(raw>>25&0x3F)<<5 |
		int32(raw>>7&0x1)<<11 |
		int32(raw>>31&0x1)<<12
	return imm << 19 >> 19
}

func immU(raw uint32) int32 { return int32(raw & 0xFFFFF000) }

func immJ(raw uint32) int32 {
	imm := int32(raw>>21&0x3FF)<<1 |
		int32(raw>>20&0x1)<<11 |
		int32(raw>>12&0xFF)<<12 |
		int32(raw>>31&0x1)<<20
	return imm << 11 >> 11
}

func validate(d *Decoded, raw uint32, ext Extension) error {
	switch d.Type {
	case TypeUnknown:
		return illegal(raw, "unknown opcode 0x%02x", uint8(d.Opcode))
	}

	need := func(e Extension, name string) error {
		if ext&e == 0 {
			return illegal(raw, "%s extension disabled", name)
		}
		return nil
	}

	switch d.Opcode {
	case OpReg, OpReg32:
		if d.Funct7 == F7MExt {
			return need(ExtM, "M")
		}
		if d.Funct7 != F7Normal && d.Funct7 != F7SubSra {
			return illegal(raw, "bad funct7 0x%02x", d.Funct7)
		}
		if d.Funct7 == F7SubSra && d.Funct3 != F3AddSub && d.Funct3 != F3SRLSRA {
			return illegal(raw, "funct7 0x20 only valid for SUB/SRA")
		}
		if d.Opcode == OpReg32 {
			switch d.Funct3 {
			case F3AddSub, F3SLL, F3SRLSRA:
			default:
				return illegal(raw, "bad OP-32 funct3 0x%x", d.Funct3)
			}
		}
	case OpImm32:
		switch d.Funct3 {
		case F3AddSub, F3SLL, F3SRLSRA:
		default:
			return illegal(raw, "bad OP-IMM-32 funct3 0x%x", d.Funct3)
		}
	case OpLoad:
		if d.Funct3 == 0b111 {
			return illegal(raw, "bad load funct3")
		}
	case OpStore:
		if d.Funct3 > F3LD {
			return illegal(raw, "bad store funct3")
		}
	case OpBranch:
		if d.Funct3 == 0b010 || d.Funct3 == 0b011 {
			return illegal(raw, "bad branch funct3")
		}
	case OpAMO:
		if err := need(ExtA, "A"); err != nil {
			return err
		}
		if d.Funct3 != F3LW && d.Funct3 != F3LD {
			return illegal(raw, "A extension supports W/D widths only")
		}
		switch d.AmoFunct5() {
		case AmoLR, AmoSC, AmoSwap, AmoAdd, AmoXor, AmoAnd, AmoOr, AmoMin, AmoMax, AmoMinU, AmoMaxU:
		default:
			return illegal(raw, "bad AMO funct5 0x%02x", d.AmoFunct5())
		}
		if d.AmoFunct5() == AmoLR && d.Rs2 != 0 {
			return illegal(raw, "LR requires rs2=0")
		}
	case OpLoadFP, OpStoreFP:
		if d.Funct3 == F3LW {
			return need(ExtF, "F")
		}
		if d.Funct3 == F3LD {
			return need(ExtD, "D")
		}
		return illegal(raw, "bad FP load/store width")
	case OpFP, OpFMAdd, OpFMSub, OpFNMSub, OpFNMAdd:
		if isDoubleFP(d) {
			return need(ExtD, "D")
		}
		return need(ExtF, "F")
	case OpSystem:
		if d.Funct3 == F3PrivOrEcall {
			switch d.sysImm() {
			case SysEcall, SysEbreak, SysMRET, SysSRET, SysURET, SysWFI:
			default:
				return illegal(raw, "unsupported system function 0x%03x", d.sysImm())
			}
		} else if d.Funct3 == 0b100 {
			return illegal(raw, "bad system funct3")
		}
	}
	return nil
}

// isDoubleFP reports whether an FP-opcode instruction operates on the double
// format (fmt field, bits [26:25], == 01).
func isDoubleFP(d *Decoded) bool { return d.Funct7&0x3 == 0x1 }
