package isa

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fpDecoded(funct7, funct3, rs2 uint8) *Decoded {
	return &Decoded{Opcode: OpFP, Funct7: funct7, Funct3: funct3, Rs2: rs2, Type: TypeR}
}

func TestNanBoxing(t *testing.T) {
	boxed := NanBox32(0x3F800000)
	assert.Equal(t, uint64(0xFFFFFFFF3F800000), boxed)
	assert.Equal(t, uint32(0x3F800000), Unbox32(boxed))
	// Improperly boxed singles read as the canonical NaN.
	assert.Equal(t, uint32(canonicalNaN32), Unbox32(0x3F800000))
}

func TestFPAddSingle(t *testing.T) {
	// fadd.s: funct7 fmt=S
	d := fpDecoded(0b0000000, 0, 0)
	res := ExecFP(d, NanBox32(b32(1.5)), NanBox32(b32(2.25)), 0, 0)
	require.True(t, res.WriteFPReg)
	assert.Equal(t, NanBox32(b32(3.75)), res.Value)
	assert.Zero(t, res.Fflags)
}

func TestFPDivByZero(t *testing.T) {
	// fdiv.s 1.0 / 0.0 -> +inf with DZ
	d := fpDecoded(0b0001100, 0, 0)
	res := ExecFP(d, NanBox32(b32(1.0)), NanBox32(b32(0.0)), 0, 0)
	assert.Equal(t, uint8(FflagDZ), res.Fflags)
	assert.Equal(t, NanBox32(b32(float32(math.Inf(1)))), res.Value)

	// 0/0 -> canonical NaN with NV
	res = ExecFP(d, NanBox32(b32(0.0)), NanBox32(b32(0.0)), 0, 0)
	assert.Equal(t, uint8(FflagNV), res.Fflags)
	assert.Equal(t, NanBox32(canonicalNaN32), res.Value)
}

func TestFPMinMaxCanonicalisation(t *testing.T) {
	negZero := NanBox32(0x80000000)
	posZero := NanBox32(0x00000000)

	fmin := fpDecoded(0b0010100, 0, 0)
	res := ExecFP(fmin, negZero, posZero, 0, 0)
	assert.Equal(t, negZero, res.Value, "fmin(-0,+0) = -0")

	fmax := fpDecoded(0b0010100, 1, 0)
	res = ExecFP(fmax, negZero, posZero, 0, 0)
	assert.Equal(t, posZero, res.Value, "fmax(-0,+0) = +0")

	// One NaN selects the other operand.
	res = ExecFP(fmin, NanBox32(canonicalNaN32), NanBox32(b32(2.0)), 0, 0)
	assert.Equal(t, NanBox32(b32(2.0)), res.Value)

	// Two NaNs canonicalise.
	res = ExecFP(fmax, NanBox32(canonicalNaN32), NanBox32(canonicalNaN32), 0, 0)
	assert.Equal(t, NanBox32(canonicalNaN32), res.Value)
}

func TestFPCompare(t *testing.T) {
	feq := fpDecoded(0b1010000, 0b010, 0)
	res := ExecFP(feq, NanBox32(b32(1.0)), NanBox32(b32(1.0)), 0, 0)
	require.True(t, res.WriteIntReg)
	assert.Equal(t, uint64(1), res.Value)

	// FEQ with quiet NaN: result 0, no NV.
	res = ExecFP(feq, NanBox32(canonicalNaN32), NanBox32(b32(1.0)), 0, 0)
	assert.Equal(t, uint64(0), res.Value)
	assert.Zero(t, res.Fflags)

	// FLT with any NaN raises NV.
	flt := fpDecoded(0b1010000, 0b001, 0)
	res = ExecFP(flt, NanBox32(canonicalNaN32), NanBox32(b32(1.0)), 0, 0)
	assert.Equal(t, uint64(0), res.Value)
	assert.Equal(t, uint8(FflagNV), res.Fflags)
}

func TestFPSignInjection(t *testing.T) {
	one := NanBox32(b32(1.0))
	negTwo := NanBox32(b32(-2.0))

	fsgnj := fpDecoded(0b0010000, 0, 0)
	res := ExecFP(fsgnj, one, negTwo, 0, 0)
	assert.Equal(t, NanBox32(b32(-1.0)), res.Value)

	fsgnjn := fpDecoded(0b0010000, 1, 0)
	res = ExecFP(fsgnjn, one, negTwo, 0, 0)
	assert.Equal(t, one, res.Value)

	fsgnjx := fpDecoded(0b0010000, 2, 0)
	res = ExecFP(fsgnjx, negTwo, negTwo, 0, 0)
	assert.Equal(t, NanBox32(b32(2.0)), res.Value)
}

func TestFPClassify(t *testing.T) {
	fclass := fpDecoded(0b1110000, 1, 0)
	tests := []struct {
		name string
		bits uint32
		want uint64
	}{
		{"negative infinity", b32(float32(math.Inf(-1))), 1 << 0},
		{"negative normal", b32(-1.5), 1 << 1},
		{"negative zero", 0x80000000, 1 << 3},
		{"positive zero", 0, 1 << 4},
		{"positive subnormal", 1, 1 << 5},
		{"positive normal", b32(1.5), 1 << 6},
		{"positive infinity", b32(float32(math.Inf(1))), 1 << 7},
		{"signaling nan", 0x7F800001, 1 << 8},
		{"quiet nan", canonicalNaN32, 1 << 9},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := ExecFP(fclass, NanBox32(tc.bits), 0, 0, 0)
			require.True(t, res.WriteIntReg)
			assert.Equal(t, tc.want, res.Value)
		})
	}
}

func TestFMVXWSignExtends(t *testing.T) {
	fmv := fpDecoded(0b1110000, 0, 0)
	res := ExecFP(fmv, NanBox32(0x80000001), 0, 0, 0)
	require.True(t, res.WriteIntReg)
	assert.Equal(t, uint64(0xFFFFFFFF80000001), res.Value)
}

func TestFPConvertSaturates(t *testing.T) {
	// fcvt.w.s of NaN -> INT32_MAX with NV.
	fcvtW := fpDecoded(0b1100000, 0, 0)
	res := ExecFP(fcvtW, NanBox32(canonicalNaN32), 0, 0, 0)
	assert.Equal(t, uint64(int64(math.MaxInt32)), res.Value)
	assert.Equal(t, uint8(FflagNV), res.Fflags)

	// fcvt.wu.s of a negative value -> 0 with NV.
	fcvtWU := fpDecoded(0b1100000, 0, 1)
	res = ExecFP(fcvtWU, NanBox32(b32(-3.0)), 0, 0, 0)
	assert.Equal(t, uint64(0), res.Value)
	assert.Equal(t, uint8(FflagNV), res.Fflags)

	// fcvt.w.s truncates toward zero and flags inexact.
	res = ExecFP(fcvtW, NanBox32(b32(-3.7)), 0, 0, 0)
	assert.Equal(t, uint64(0xFFFFFFFFFFFFFFFD), res.Value)
	assert.Equal(t, uint8(FflagNX), res.Fflags)
}

func TestFPDoubleArithmetic(t *testing.T) {
	// fadd.d: fmt=D
	d := fpDecoded(0b0000001, 0, 0)
	res := ExecFP(d, b64(1.5), b64(2.25), 0, 0)
	require.True(t, res.WriteFPReg)
	assert.Equal(t, b64(3.75), res.Value)

	// fmv.x.d
	fmv := fpDecoded(0b1110001, 0, 0)
	res = ExecFP(fmv, b64(-1.0), 0, 0, 0)
	require.True(t, res.WriteIntReg)
	assert.Equal(t, b64(-1.0), res.Value)
}

func TestFPFormatConversions(t *testing.T) {
	// fcvt.d.s (funct7 0100001, rs2=0)
	d := fpDecoded(0b0100001, 0, 0)
	res := ExecFP(d, NanBox32(b32(1.5)), 0, 0, 0)
	assert.Equal(t, b64(1.5), res.Value)

	// fcvt.s.d (funct7 0100000, rs2=1)
	s := fpDecoded(0b0100000, 0, 1)
	res = ExecFP(s, b64(2.5), 0, 0, 0)
	assert.Equal(t, NanBox32(b32(2.5)), res.Value)
}

func TestExecFMA(t *testing.T) {
	d := &Decoded{Opcode: OpFMAdd, Funct7: 0} // fmadd.s
	res := ExecFMA(d, NanBox32(b32(2.0)), NanBox32(b32(3.0)), NanBox32(b32(1.0)), 0)
	require.True(t, res.WriteFPReg)
	assert.Equal(t, NanBox32(b32(7.0)), res.Value)

	dd := &Decoded{Opcode: OpFNMAdd, Funct7: 1} // fnmadd.d
	res = ExecFMA(dd, b64(2.0), b64(3.0), b64(1.0), 0)
	assert.Equal(t, b64(-7.0), res.Value)
}

func TestFPWritesIntReg(t *testing.T) {
	assert.True(t, FPWritesIntReg(fpDecoded(0b1010000, 0b010, 0))) // feq.s
	assert.True(t, FPWritesIntReg(fpDecoded(0b1100000, 0, 0)))     // fcvt.w.s
	assert.True(t, FPWritesIntReg(fpDecoded(0b1110000, 0, 0)))     // fmv.x.w
	assert.True(t, FPWritesIntReg(fpDecoded(0b1110000, 1, 0)))     // fclass.s
	assert.False(t, FPWritesIntReg(fpDecoded(0b0000000, 0, 0)))    // fadd.s
	assert.False(t, FPWritesIntReg(fpDecoded(0b1111000, 0, 0)))    // fmv.w.x
	assert.False(t, FPWritesIntReg(fpDecoded(0b1101000, 0, 0)))    // fcvt.s.w
}
