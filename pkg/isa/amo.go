package isa

// AMOResult describes the effect of an A-extension instruction: the value for
// rd, the optional store-back, and how the LR/SC reservation changes.
type AMOResult struct {
	RdValue    uint64
	StoreValue uint64
	DoStore    bool
	AcquireRes bool
	ReleaseRes bool
}

// ExecAMO evaluates an AMO/LR/SC on the current memory value. The caller
// supplies whether the LR reservation covers the access (for SC) and performs
// the store at commit through the store buffer.
func ExecAMO(d *Decoded, memVal, rs2 uint64, reservationHit bool) AMOResult {
	word := d.Funct3 == F3LW
	loaded := memVal
	if word {
		loaded = uint64(int64(int32(memVal)))
	}

	switch d.AmoFunct5() {
	case AmoLR:
		return AMOResult{RdValue: loaded, AcquireRes: true}
	case AmoSC:
		if !reservationHit {
			return AMOResult{RdValue: 1, ReleaseRes: true}
		}
		return AMOResult{RdValue: 0, StoreValue: rs2, DoStore: true, ReleaseRes: true}
	}

	var newVal uint64
	switch d.AmoFunct5() {
	case AmoSwap:
		newVal = rs2
	case AmoAdd:
		newVal = loaded + rs2
	case AmoXor:
		newVal = loaded ^ rs2
	case AmoAnd:
		newVal = loaded & rs2
	case AmoOr:
		newVal = loaded | rs2
	case AmoMin:
		newVal = rs2
		if word {
			if int32(loaded) < int32(rs2) {
				newVal = loaded
			}
		} else if int64(loaded) < int64(rs2) {
			newVal = loaded
		}
	case AmoMax:
		newVal = rs2
		if word {
			if int32(loaded) > int32(rs2) {
				newVal = loaded
			}
		} else if int64(loaded) > int64(rs2) {
			newVal = loaded
		}
	case AmoMinU:
		newVal = rs2
		if word {
			if uint32(loaded) < uint32(rs2) {
				newVal = loaded
			}
		} else if loaded < rs2 {
			newVal = loaded
		}
	case AmoMaxU:
		newVal = rs2
		if word {
			if uint32(loaded) > uint32(rs2) {
				newVal = loaded
			}
		} else if loaded > rs2 {
			newVal = loaded
		}
	}
	return AMOResult{RdValue: loaded, StoreValue: newVal, DoStore: true}
}
