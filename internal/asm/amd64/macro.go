package amd64

import (
	"math"
	"math/bits"

	"github.com/tinyrange/wasmjit/internal/asm"
	"github.com/tinyrange/wasmjit/internal/wasm"
)

// Move copies src into dst. It emits nothing when they are the same register.
func Move(b *asm.Buffer, t wasm.ValueType, dst, src Register) {
	if dst == src {
		return
	}
	MovRR(b, t, dst, src)
}

// LoadConstant materialises the raw bits of a value of type t in dst.
// Float masks with a single run of set bits are built from pcmpeqd and
// shifts; other float constants go through ScratchGP.
func LoadConstant(b *asm.Buffer, t wasm.ValueType, dst Register, v uint64) {
	switch t {
	case wasm.I32, wasm.I64:
		if v == 0 {
			XorRR(b, wasm.I32, dst, dst)
			return
		}
		if t == wasm.I32 {
			v = uint64(uint32(v))
		}
		MovRI(b, t, dst, int64(v))
	case wasm.F32, wasm.F64:
		width := 32
		if t == wasm.F64 {
			width = 64
		} else {
			v = uint64(uint32(v))
		}
		if v == 0 {
			Xorp(b, t, dst, dst)
			return
		}
		nlz := bits.LeadingZeros64(v) - (64 - width)
		ntz := bits.TrailingZeros64(v)
		pop := bits.OnesCount64(v)
		if pop+ntz+nlz == width {
			Pcmpeqd(b, dst, dst)
			if ntz != 0 {
				Psll(b, t, dst, uint8(ntz+nlz))
			}
			if nlz != 0 {
				Psrl(b, t, dst, uint8(nlz))
			}
			return
		}
		if t == wasm.F32 {
			MovRI(b, wasm.I32, ScratchGP, int64(v))
			MovdToFP(b, wasm.I32, dst, ScratchGP)
			return
		}
		MovRI(b, wasm.I64, ScratchGP, int64(v))
		MovdToFP(b, wasm.I64, dst, ScratchGP)
	default:
		b.Failf("load constant of type %s", t)
	}
}

// Spill stores src into spill slot index.
func Spill(b *asm.Buffer, t wasm.ValueType, index int, src Register) {
	m := SlotMem(index)
	if t.IsFloat() {
		MovsMR(b, t, m, src)
		return
	}
	MovMR(b, t, m, src)
}

// SpillConst stores an integer constant into spill slot index.
func SpillConst(b *asm.Buffer, t wasm.ValueType, index int, v uint64) {
	m := SlotMem(index)
	switch t {
	case wasm.I32:
		MovMI(b, wasm.I32, m, int32(uint32(v)))
	case wasm.I64:
		iv := int64(v)
		if fitsInt32(iv) {
			MovMI(b, wasm.I64, m, int32(iv))
			return
		}
		MovRI(b, wasm.I64, ScratchGP, iv)
		MovMR(b, wasm.I64, m, ScratchGP)
	default:
		b.Failf("spill constant of type %s", t)
	}
}

// Fill loads spill slot index into dst.
func Fill(b *asm.Buffer, t wasm.ValueType, dst Register, index int) {
	loadSlot(b, t, dst, SlotMem(index))
}

// LoadCallerFrameSlot loads the index-th stack argument into dst.
func LoadCallerFrameSlot(b *asm.Buffer, t wasm.ValueType, dst Register, index int) {
	loadSlot(b, t, dst, CallerSlotMem(index))
}

func loadSlot(b *asm.Buffer, t wasm.ValueType, dst Register, m Mem) {
	if t.IsFloat() {
		MovsRM(b, t, dst, m)
		return
	}
	MovRM(b, t, dst, m)
}

// MemOperand returns [addr + index + offset]. Offsets that do not fit a
// signed 32-bit displacement are added to the index in ScratchGP.
func MemOperand(b *asm.Buffer, addr, index Register, offset uint32) Mem {
	if offset <= math.MaxInt32 {
		if index == RegUnknown {
			return MemAt(addr, int32(offset))
		}
		return MemIndex(addr, index, 1, int32(offset))
	}
	MovRI(b, wasm.I32, ScratchGP, int64(offset))
	if index != RegUnknown {
		AddRR(b, wasm.I64, ScratchGP, index)
	}
	return MemIndex(addr, ScratchGP, 1, 0)
}

// Load reads a value of type t that is size bytes wide in memory, extending
// narrow values according to signed.
func Load(b *asm.Buffer, t wasm.ValueType, size uint8, signed bool, dst Register, m Mem) {
	switch {
	case t == wasm.F32 || t == wasm.F64:
		MovsRM(b, t, dst, m)
	case size == 1 && signed:
		MovxRM(b, SignExtend8, t, dst, m)
	case size == 1:
		MovxRM(b, ZeroExtend8, wasm.I32, dst, m)
	case size == 2 && signed:
		MovxRM(b, SignExtend16, t, dst, m)
	case size == 2:
		MovxRM(b, ZeroExtend16, wasm.I32, dst, m)
	case size == 4 && t == wasm.I64 && signed:
		MovxRM(b, SignExtend32, wasm.I64, dst, m)
	case size == 4:
		MovRM(b, wasm.I32, dst, m)
	case size == 8:
		MovRM(b, wasm.I64, dst, m)
	default:
		b.Failf("load of %d bytes into %s", size, t)
	}
}

// Store writes the low size bytes of src.
func Store(b *asm.Buffer, t wasm.ValueType, size uint8, m Mem, src Register) {
	switch {
	case t == wasm.F32 || t == wasm.F64:
		MovsMR(b, t, m, src)
	case size == 1:
		MovbMR(b, m, src)
	case size == 2:
		MovwMR(b, m, src)
	case size == 4:
		MovMR(b, wasm.I32, m, src)
	case size == 8:
		MovMR(b, wasm.I64, m, src)
	default:
		b.Failf("store of %d bytes from %s", size, t)
	}
}

// PushValue pushes src as one 8-byte stack argument.
func PushValue(b *asm.Buffer, t wasm.ValueType, src Register) {
	if !t.IsFloat() {
		Push(b, src)
		return
	}
	ALURI(b, ALUSub, wasm.I64, RSP, StackSlotSize)
	MovsMR(b, t, MemAt(RSP, 0), src)
}

// SetCond compares lhs with rhs and writes the 0/1 result of cc into dst.
func SetCond(b *asm.Buffer, t wasm.ValueType, cc Condition, dst, lhs, rhs Register) {
	CmpRR(b, t, lhs, rhs)
	Setcc(b, cc, dst)
	MovxRR(b, ZeroExtend8, wasm.I32, dst, dst)
}

// FloatSetCond is SetCond for floats. An unordered comparison yields 1 for
// CondNe and 0 for every other condition.
func FloatSetCond(b *asm.Buffer, t wasm.ValueType, cc Condition, dst, lhs, rhs Register) {
	var notNaN, cont asm.Label
	Ucomis(b, t, lhs, rhs)
	Jcc(b, CondOdd, &notNaN, Near)
	if cc == CondNe {
		MovRI(b, wasm.I32, dst, 1)
	} else {
		XorRR(b, wasm.I32, dst, dst)
	}
	Jmp(b, &cont, Near)
	b.Bind(&notNaN)
	Setcc(b, cc, dst)
	MovxRR(b, ZeroExtend8, wasm.I32, dst, dst)
	b.Bind(&cont)
}

// CondJump jumps to l when "lhs cc rhs" holds. With rhs == RegUnknown it
// tests lhs against zero.
func CondJump(b *asm.Buffer, cc Condition, l *asm.Label, t wasm.ValueType, lhs, rhs Register) {
	if rhs != RegUnknown {
		CmpRR(b, t, lhs, rhs)
	} else {
		TestRR(b, t, lhs, lhs)
	}
	Jcc(b, cc, l, Far)
}

// DivKind selects the quotient or the remainder.
type DivKind uint8

const (
	DivQuotient DivKind = iota
	DivRemainder
)

// DivOrRem emits an integer division. RAX and RDX are clobbered and must not
// hold live values other than lhs or rhs. A zero divisor jumps to divByZero;
// signed INT_MIN / -1 jumps to unrepresentable. Signed remainder by -1 is 0
// without executing a divide.
func DivOrRem(b *asm.Buffer, kind DivKind, t wasm.ValueType, signed bool, dst, lhs, rhs Register, divByZero, unrepresentable *asm.Label) {
	if !checkInt(b, "div", t) || !checkGP(b, "div", dst, lhs, rhs) {
		return
	}
	if rhs == RAX || rhs == RDX {
		MovRR(b, t, ScratchGP, rhs)
		rhs = ScratchGP
	}
	TestRR(b, t, rhs, rhs)
	Jcc(b, CondEq, divByZero, Far)

	var done asm.Label
	usedDone := false
	if signed {
		var doDiv asm.Label
		ALURI(b, ALUCmp, t, rhs, -1)
		Jcc(b, CondNe, &doDiv, Near)
		if kind == DivQuotient {
			ALURI(b, ALUCmp, t, lhs, 1)
			Jcc(b, CondOverflow, unrepresentable, Far)
		} else {
			XorRR(b, wasm.I32, dst, dst)
			Jmp(b, &done, Near)
			usedDone = true
		}
		b.Bind(&doDiv)
	}

	Move(b, t, RAX, lhs)
	switch {
	case signed && t == wasm.I32:
		Cdq(b)
		Idiv(b, t, rhs)
	case signed:
		Cqo(b)
		Idiv(b, t, rhs)
	default:
		XorRR(b, wasm.I32, RDX, RDX)
		Div(b, t, rhs)
	}
	if kind == DivQuotient {
		Move(b, t, dst, RAX)
	} else {
		Move(b, t, dst, RDX)
	}
	if usedDone {
		b.Bind(&done)
	}
}

// Cvtqui2s converts an unsigned 64-bit integer to float type t. Values with
// the top bit set are halved with the low bit kept sticky, converted and
// doubled, so the result rounds exactly like a direct conversion.
func Cvtqui2s(b *asm.Buffer, t wasm.ValueType, dst, src Register) {
	var msbNotSet, done asm.Label
	Cvtsi2s(b, t, wasm.I64, dst, src)
	TestRR(b, wasm.I64, src, src)
	Jcc(b, CondPositive, &done, Near)

	MovRR(b, wasm.I64, ScratchGP, src)
	ShiftRI(b, ShiftShr, wasm.I64, ScratchGP, 1)
	Jcc(b, CondGeU, &msbNotSet, Near)
	ALURI(b, ALUOr, wasm.I64, ScratchGP, 1)
	b.Bind(&msbNotSet)
	Cvtsi2s(b, t, wasm.I64, dst, ScratchGP)
	Adds(b, t, dst, dst)
	b.Bind(&done)
}

// ConvertFloatToUint64 truncates float type t into an unsigned 64-bit
// integer, jumping to fail when the value is out of range or NaN.
func ConvertFloatToUint64(b *asm.Buffer, t wasm.ValueType, dst, src Register, fail *asm.Label) {
	var success asm.Label
	Cvtts2si(b, wasm.I64, t, dst, src)
	TestRR(b, wasm.I64, dst, dst)
	Jcc(b, CondPositive, &success, Far)

	// Retry with 2^63 subtracted; only 0x8000000000000000 can come back
	// negative, and that is the overflow marker.
	if t == wasm.F64 {
		LoadConstant(b, t, ScratchFP, math.Float64bits(-9223372036854775808.0))
	} else {
		LoadConstant(b, t, ScratchFP, uint64(math.Float32bits(-9223372036854775808.0)))
	}
	Adds(b, t, ScratchFP, src)
	Cvtts2si(b, wasm.I64, t, dst, ScratchFP)
	TestRR(b, wasm.I64, dst, dst)
	if fail != nil {
		Jcc(b, CondNegative, fail, Far)
	} else {
		Jcc(b, CondNegative, &success, Far)
	}
	MovRI(b, wasm.I64, ScratchGP, math.MinInt64)
	OrRR(b, wasm.I64, dst, ScratchGP)
	b.Bind(&success)
}

// TruncateFloatToInt implements the trapping float to integer conversions:
// round toward zero, convert, convert back and compare with the rounded
// value. NaN (unordered) or any mismatch jumps to trap.
func TruncateFloatToInt(b *asm.Buffer, to, from wasm.ValueType, signed bool, dst, src Register, trap *asm.Label) {
	if to == wasm.I64 && !signed {
		ConvertFloatToUint64(b, from, dst, src, trap)
		return
	}
	rounded, back := ScratchFP, ScratchFP2
	Rounds(b, from, rounded, src, RoundToZero)
	switch {
	case to == wasm.I32 && signed:
		Cvtts2si(b, wasm.I32, from, dst, rounded)
		Cvtsi2s(b, from, wasm.I32, back, dst)
	case to == wasm.I32:
		Cvtts2si(b, wasm.I64, from, dst, rounded)
		MovRR(b, wasm.I32, dst, dst)
		Cvtsi2s(b, from, wasm.I64, back, dst)
	default:
		Cvtts2si(b, wasm.I64, from, dst, rounded)
		Cvtsi2s(b, from, wasm.I64, back, dst)
	}
	Ucomis(b, from, back, rounded)
	Jcc(b, CondEven, trap, Far)
	Jcc(b, CondNe, trap, Far)
}

// FloatMinOrMax implements IEEE min and max with NaN propagation and the
// -0 < +0 ordering. Equal operands are disambiguated with the sign bit of
// rhs.
func FloatMinOrMax(b *asm.Buffer, t wasm.ValueType, min bool, dst, lhs, rhs Register) {
	var isNaN, below, above, done asm.Label
	Ucomis(b, t, lhs, rhs)
	Jcc(b, CondEven, &isNaN, Near)
	Jcc(b, CondLtU, &below, Near)
	Jcc(b, CondGtU, &above, Near)

	Movmskp(b, t, ScratchGP, rhs)
	TestRI(b, wasm.I32, ScratchGP, 1)
	Jcc(b, CondEq, &below, Near)
	Jmp(b, &above, Near)

	b.Bind(&isNaN)
	Xorp(b, t, dst, dst)
	Divs(b, t, dst, dst)
	Jmp(b, &done, Near)

	b.Bind(&below)
	if min {
		Move(b, t, dst, lhs)
	} else {
		Move(b, t, dst, rhs)
	}
	Jmp(b, &done, Near)

	b.Bind(&above)
	if min {
		Move(b, t, dst, rhs)
	} else {
		Move(b, t, dst, lhs)
	}
	b.Bind(&done)
}

// signMask returns the sign bit of float type t.
func signMask(t wasm.ValueType) uint64 {
	if t == wasm.F64 {
		return 1 << 63
	}
	return 1 << 31
}

// FloatAbsNeg clears (abs) or flips (neg) the sign bit of src.
func FloatAbsNeg(b *asm.Buffer, t wasm.ValueType, neg bool, dst, src Register) {
	mask := signMask(t)
	if !neg {
		mask = ^mask
		if t == wasm.F32 {
			mask &= math.MaxUint32
		}
	}
	it := wasm.I32
	if t == wasm.F64 {
		it = wasm.I64
	}
	MovRI(b, it, ScratchGP, int64(mask))
	tmp := ScratchFP
	if dst != src {
		tmp = dst
	}
	MovdToFP(b, it, tmp, ScratchGP)
	if tmp == dst {
		if neg {
			Xorp(b, t, dst, src)
		} else {
			Andp(b, t, dst, src)
		}
		return
	}
	if neg {
		Xorp(b, t, dst, tmp)
	} else {
		Andp(b, t, dst, tmp)
	}
}

// Copysign writes the magnitude of lhs with the sign of rhs into dst.
func Copysign(b *asm.Buffer, t wasm.ValueType, dst, lhs, rhs Register) {
	LoadConstant(b, t, ScratchFP, signMask(t))
	MovRR(b, t, ScratchFP2, ScratchFP)
	Andp(b, t, ScratchFP2, rhs)
	Andnp(b, t, ScratchFP, lhs)
	Orp(b, t, ScratchFP, ScratchFP2)
	MovRR(b, t, dst, ScratchFP)
}

// Clz counts leading zeros with bsr, which leaves the destination undefined
// for a zero source, so zero is handled on its own path.
func Clz(b *asm.Buffer, t wasm.ValueType, dst, src Register) {
	var nonZero, cont asm.Label
	width := int64(32)
	if t == wasm.I64 {
		width = 64
	}
	TestRR(b, t, src, src)
	Jcc(b, CondNe, &nonZero, Near)
	MovRI(b, wasm.I32, dst, width)
	Jmp(b, &cont, Near)
	b.Bind(&nonZero)
	Bsr(b, t, dst, src)
	ALURI(b, ALUXor, t, dst, int32(width-1))
	b.Bind(&cont)
}

// Ctz counts trailing zeros with bsf.
func Ctz(b *asm.Buffer, t wasm.ValueType, dst, src Register) {
	var nonZero, cont asm.Label
	width := int64(32)
	if t == wasm.I64 {
		width = 64
	}
	TestRR(b, t, src, src)
	Jcc(b, CondNe, &nonZero, Near)
	MovRI(b, wasm.I32, dst, width)
	Jmp(b, &cont, Near)
	b.Bind(&nonZero)
	Bsf(b, t, dst, src)
	b.Bind(&cont)
}

// EmitShift shifts src by amount into dst. The hardware takes the count in
// CL, so RCX is saved in ScratchGP when it holds another live value
// (rcxLive) or the source. A dst of RCX is computed in ScratchGP first.
func EmitShift(b *asm.Buffer, op ShiftOp, t wasm.ValueType, dst, src, amount Register, rcxLive bool) {
	if dst == RCX {
		Move(b, t, ScratchGP, src)
		if amount != RCX {
			MovRR(b, wasm.I64, RCX, amount)
		}
		ShiftCL(b, op, t, ScratchGP)
		MovRR(b, t, RCX, ScratchGP)
		return
	}
	saved := false
	if amount != RCX && (src == RCX || rcxLive) {
		MovRR(b, wasm.I64, ScratchGP, RCX)
		saved = true
		if src == RCX {
			src = ScratchGP
		}
	}
	if amount != RCX {
		MovRR(b, wasm.I64, RCX, amount)
	}
	Move(b, t, dst, src)
	ShiftCL(b, op, t, dst)
	if saved {
		MovRR(b, wasm.I64, RCX, ScratchGP)
	}
}

// TypeConversion lowers a conversion opcode. trap receives the trapping
// truncations.
func TypeConversion(b *asm.Buffer, op wasm.Opcode, dst, src Register, trap *asm.Label) {
	info := op.Info()
	switch op {
	case wasm.I32WrapI64:
		MovRR(b, wasm.I32, dst, src)
	case wasm.I32TruncF32S, wasm.I32TruncF32U, wasm.I32TruncF64S, wasm.I32TruncF64U,
		wasm.I64TruncF32S, wasm.I64TruncF32U, wasm.I64TruncF64S, wasm.I64TruncF64U:
		TruncateFloatToInt(b, info.Result, info.Type, info.Signed, dst, src, trap)
	case wasm.I64ExtendI32S:
		MovxRR(b, SignExtend32, wasm.I64, dst, src)
	case wasm.I64ExtendI32U:
		MovRR(b, wasm.I32, dst, src)
	case wasm.F32ConvertI32S, wasm.F64ConvertI32S:
		Cvtsi2s(b, info.Result, wasm.I32, dst, src)
	case wasm.F32ConvertI32U, wasm.F64ConvertI32U:
		MovRR(b, wasm.I32, ScratchGP, src)
		Cvtsi2s(b, info.Result, wasm.I64, dst, ScratchGP)
	case wasm.F32ConvertI64S, wasm.F64ConvertI64S:
		Cvtsi2s(b, info.Result, wasm.I64, dst, src)
	case wasm.F32ConvertI64U, wasm.F64ConvertI64U:
		Cvtqui2s(b, info.Result, dst, src)
	case wasm.F32DemoteF64:
		Cvtsd2ss(b, dst, src)
	case wasm.F64PromoteF32:
		Cvtss2sd(b, dst, src)
	case wasm.I32ReinterpretF32:
		MovdFromFP(b, wasm.I32, dst, src)
	case wasm.I64ReinterpretF64:
		MovdFromFP(b, wasm.I64, dst, src)
	case wasm.F32ReinterpretI32:
		MovdToFP(b, wasm.I32, dst, src)
	case wasm.F64ReinterpretI64:
		MovdToFP(b, wasm.I64, dst, src)
	default:
		b.Failf("%s is not a conversion", op)
	}
}
