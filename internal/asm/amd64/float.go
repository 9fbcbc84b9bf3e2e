package amd64

import (
	"github.com/tinyrange/wasmjit/internal/asm"
	"github.com/tinyrange/wasmjit/internal/wasm"
)

// RoundMode is the immediate of roundss/roundsd.
type RoundMode uint8

const (
	RoundToNearest RoundMode = 0
	RoundDown      RoundMode = 1
	RoundUp        RoundMode = 2
	RoundToZero    RoundMode = 3
)

// FloatOp is a scalar SSE arithmetic opcode.
type FloatOp uint8

const (
	FloatSqrt FloatOp = 0x51
	FloatAdd  FloatOp = 0x58
	FloatMul  FloatOp = 0x59
	FloatSub  FloatOp = 0x5C
	FloatMin  FloatOp = 0x5D
	FloatDiv  FloatOp = 0x5E
	FloatMax  FloatOp = 0x5F
)

// FloatRR emits "op{ss,sd} dst, src".
func FloatRR(b *asm.Buffer, op FloatOp, t wasm.ValueType, dst, src Register) {
	if !checkFloat(b, "sse", t) || !checkFP(b, "sse", dst, src) {
		return
	}
	inst{prefix: scalarPrefix(t), opcode: op2(0x0F, byte(op))}.rr(b, dst, src)
}

func Adds(b *asm.Buffer, t wasm.ValueType, dst, src Register) { FloatRR(b, FloatAdd, t, dst, src) }
func Subs(b *asm.Buffer, t wasm.ValueType, dst, src Register) { FloatRR(b, FloatSub, t, dst, src) }
func Muls(b *asm.Buffer, t wasm.ValueType, dst, src Register) { FloatRR(b, FloatMul, t, dst, src) }
func Divs(b *asm.Buffer, t wasm.ValueType, dst, src Register) { FloatRR(b, FloatDiv, t, dst, src) }
func Sqrts(b *asm.Buffer, t wasm.ValueType, dst, src Register) { FloatRR(b, FloatSqrt, t, dst, src) }

// BitOp is a packed logical opcode used on scalar values.
type BitOp uint8

const (
	BitAnd  BitOp = 0x54
	BitAndn BitOp = 0x55
	BitOr   BitOp = 0x56
	BitXor  BitOp = 0x57
)

// FloatBitRR emits "op{ps,pd} dst, src".
func FloatBitRR(b *asm.Buffer, op BitOp, t wasm.ValueType, dst, src Register) {
	if !checkFloat(b, "logic", t) || !checkFP(b, "logic", dst, src) {
		return
	}
	inst{prefix: packedPrefix(t), opcode: op2(0x0F, byte(op))}.rr(b, dst, src)
}

func Andp(b *asm.Buffer, t wasm.ValueType, dst, src Register) { FloatBitRR(b, BitAnd, t, dst, src) }
func Orp(b *asm.Buffer, t wasm.ValueType, dst, src Register) { FloatBitRR(b, BitOr, t, dst, src) }
func Xorp(b *asm.Buffer, t wasm.ValueType, dst, src Register) { FloatBitRR(b, BitXor, t, dst, src) }

// Andnp computes dst = ^dst & src.
func Andnp(b *asm.Buffer, t wasm.ValueType, dst, src Register) { FloatBitRR(b, BitAndn, t, dst, src) }

// Ucomis compares two scalars and sets ZF, PF and CF.
func Ucomis(b *asm.Buffer, t wasm.ValueType, a, c Register) {
	if !checkFloat(b, "ucomis", t) || !checkFP(b, "ucomis", a, c) {
		return
	}
	inst{prefix: packedPrefix(t), opcode: op2(0x0F, 0x2E)}.rr(b, a, c)
}

// MovsRM loads a scalar float.
func MovsRM(b *asm.Buffer, t wasm.ValueType, dst Register, m Mem) {
	if !checkFloat(b, "movs", t) || !checkFP(b, "movs", dst) {
		return
	}
	inst{prefix: scalarPrefix(t), opcode: op2(0x0F, 0x10)}.rm(b, dst, m)
}

// MovsMR stores a scalar float.
func MovsMR(b *asm.Buffer, t wasm.ValueType, m Mem, src Register) {
	if !checkFloat(b, "movs", t) || !checkFP(b, "movs", src) {
		return
	}
	inst{prefix: scalarPrefix(t), opcode: op2(0x0F, 0x11)}.rm(b, src, m)
}

// MovdToFP moves a 32-bit (I32) or 64-bit (I64) general-purpose register
// into an XMM register.
func MovdToFP(b *asm.Buffer, t wasm.ValueType, dst, src Register) {
	if !checkInt(b, "movd", t) || !checkFP(b, "movd", dst) || !checkGP(b, "movd", src) {
		return
	}
	inst{prefix: 0x66, w: t == wasm.I64, opcode: op2(0x0F, 0x6E)}.rr(b, dst, src)
}

// MovdFromFP moves the low 32 or 64 bits of an XMM register into a
// general-purpose register.
func MovdFromFP(b *asm.Buffer, t wasm.ValueType, dst, src Register) {
	if !checkInt(b, "movd", t) || !checkGP(b, "movd", dst) || !checkFP(b, "movd", src) {
		return
	}
	inst{prefix: 0x66, w: t == wasm.I64, opcode: op2(0x0F, 0x7E)}.rr(b, src, dst)
}

// Cvtsi2s converts a signed integer of type from into float type to.
func Cvtsi2s(b *asm.Buffer, to, from wasm.ValueType, dst, src Register) {
	if !checkFloat(b, "cvtsi2s", to) || !checkInt(b, "cvtsi2s", from) ||
		!checkFP(b, "cvtsi2s", dst) || !checkGP(b, "cvtsi2s", src) {
		return
	}
	inst{prefix: scalarPrefix(to), w: from == wasm.I64, opcode: op2(0x0F, 0x2A)}.rr(b, dst, src)
}

// Cvtts2si truncates float type from into a signed integer of type to.
func Cvtts2si(b *asm.Buffer, to, from wasm.ValueType, dst, src Register) {
	if !checkInt(b, "cvtts2si", to) || !checkFloat(b, "cvtts2si", from) ||
		!checkGP(b, "cvtts2si", dst) || !checkFP(b, "cvtts2si", src) {
		return
	}
	inst{prefix: scalarPrefix(from), w: to == wasm.I64, opcode: op2(0x0F, 0x2C)}.rr(b, dst, src)
}

// Cvtss2sd widens a single to a double.
func Cvtss2sd(b *asm.Buffer, dst, src Register) {
	if !checkFP(b, "cvtss2sd", dst, src) {
		return
	}
	inst{prefix: 0xF3, opcode: op2(0x0F, 0x5A)}.rr(b, dst, src)
}

// Cvtsd2ss narrows a double to a single.
func Cvtsd2ss(b *asm.Buffer, dst, src Register) {
	if !checkFP(b, "cvtsd2ss", dst, src) {
		return
	}
	inst{prefix: 0xF2, opcode: op2(0x0F, 0x5A)}.rr(b, dst, src)
}

// Rounds emits roundss/roundsd with the precision exception suppressed.
func Rounds(b *asm.Buffer, t wasm.ValueType, dst, src Register, mode RoundMode) {
	if !checkFloat(b, "rounds", t) || !checkFP(b, "rounds", dst, src) {
		return
	}
	o := byte(0x0A)
	if t == wasm.F64 {
		o = 0x0B
	}
	inst{prefix: 0x66, opcode: op3(0x0F, 0x3A, o)}.rr(b, dst, src)
	b.EmitU8(byte(mode) | 0x08)
}

// Movmskp copies the sign bits of src into dst.
func Movmskp(b *asm.Buffer, t wasm.ValueType, dst, src Register) {
	if !checkFloat(b, "movmskp", t) || !checkGP(b, "movmskp", dst) || !checkFP(b, "movmskp", src) {
		return
	}
	inst{prefix: packedPrefix(t), opcode: op2(0x0F, 0x50)}.rr(b, dst, src)
}

// Pcmpeqd sets every bit of dst when dst == src, used to build masks.
func Pcmpeqd(b *asm.Buffer, dst, src Register) {
	if !checkFP(b, "pcmpeqd", dst, src) {
		return
	}
	inst{prefix: 0x66, opcode: op2(0x0F, 0x76)}.rr(b, dst, src)
}

// Psll and Psrl shift each 32-bit (F32) or 64-bit (F64) lane.
func Psll(b *asm.Buffer, t wasm.ValueType, r Register, imm uint8) { packedShift(b, t, 6, r, imm) }
func Psrl(b *asm.Buffer, t wasm.ValueType, r Register, imm uint8) { packedShift(b, t, 2, r, imm) }

func packedShift(b *asm.Buffer, t wasm.ValueType, sub byte, r Register, imm uint8) {
	if !checkFloat(b, "pshift", t) || !checkFP(b, "pshift", r) {
		return
	}
	o := byte(0x72)
	if t == wasm.F64 {
		o = 0x73
	}
	inst{prefix: 0x66, opcode: op2(0x0F, o)}.ext(b, sub, r)
	b.EmitU8(imm)
}
