//go:build linux && amd64

package amd64

import (
	"math"
	"runtime"
	"testing"
	"unsafe"

	"github.com/ebitengine/purego"
	"github.com/google/go-cmp/cmp"
	"github.com/tinyrange/wasmjit/internal/asm"
	"github.com/tinyrange/wasmjit/internal/wasm"
)

const trapSentinel = 0xdead

// execute assembles emit followed by ret, maps it and calls it with args in
// the System V integer argument registers. It returns RAX.
func execute(t *testing.T, emit func(b *asm.Buffer), args ...uintptr) uint64 {
	t.Helper()
	b := asm.NewBuffer(512)
	emit(b)
	Ret(b)
	if err := b.Err(); err != nil {
		t.Fatalf("assemble: %v", err)
	}
	entry, release, err := MapExecutable(b.Bytes())
	if err != nil {
		t.Fatalf("MapExecutable failed: %v", err)
	}
	defer release()
	r1, _, _ := purego.SyscallN(entry, args...)
	return uint64(r1)
}

// withTrap emits body, a return, and a trap label that returns trapSentinel.
func withTrap(body func(b *asm.Buffer, trap *asm.Label)) func(b *asm.Buffer) {
	return func(b *asm.Buffer) {
		var trap asm.Label
		body(b, &trap)
		Ret(b)
		b.Bind(&trap)
		MovRI(b, wasm.I32, RAX, trapSentinel)
		Ret(b)
	}
}

func TestExecuteReturns(t *testing.T) {
	if got := execute(t, func(b *asm.Buffer) { MovRI(b, wasm.I64, RAX, 42) }); got != 42 {
		t.Fatalf("got %d, want 42", got)
	}
	if got := execute(t, func(b *asm.Buffer) { MovRR(b, wasm.I64, RAX, RSI) }, 1, 9); got != 9 {
		t.Fatalf("got %d, want 9", got)
	}
}

func i32Arg(v int32) uintptr { return uintptr(uint32(v)) }

func u32(v int32) uint64 { return uint64(uint32(v)) }

func f64Arg(v float64) uintptr { return uintptr(math.Float64bits(v)) }

func f32Arg(v float32) uintptr { return uintptr(math.Float32bits(v)) }

func TestDivOrRemExecution(t *testing.T) {
	type divCase struct {
		name   string
		kind   DivKind
		t      wasm.ValueType
		signed bool
		lhs    uintptr
		rhs    uintptr
		want   uint64
	}
	for _, tc := range []divCase{
		{"i32.div_s", DivQuotient, wasm.I32, true, i32Arg(-7), i32Arg(2), u32(-3)},
		{"i32.rem_s", DivRemainder, wasm.I32, true, i32Arg(-7), i32Arg(2), u32(-1)},
		{"i32.div_u", DivQuotient, wasm.I32, false, i32Arg(-1), i32Arg(2), 0x7fffffff},
		{"i32.rem_u", DivRemainder, wasm.I32, false, 17, 5, 2},
		{"i32.div_s by zero", DivQuotient, wasm.I32, true, 7, 0, trapSentinel},
		{"i32.rem_u by zero", DivRemainder, wasm.I32, false, 7, 0, trapSentinel},
		{"i32.div_s overflow", DivQuotient, wasm.I32, true, i32Arg(math.MinInt32), i32Arg(-1), trapSentinel + 1},
		{"i32.rem_s min by -1", DivRemainder, wasm.I32, true, i32Arg(math.MinInt32), i32Arg(-1), 0},
		{"i64.div_s", DivQuotient, wasm.I64, true, uintptr(1 << 40), ^uintptr(0), uint64(1<<64 - 1<<40)},
		{"i64.div_u", DivQuotient, wasm.I64, false, ^uintptr(0), 16, 1<<60 - 1},
		{"i64.div_s overflow", DivQuotient, wasm.I64, true, uintptr(1 << 63), ^uintptr(0), trapSentinel + 1},
		{"i64.rem_s", DivRemainder, wasm.I64, true, uintptr(1 << 63), 3, uint64(1<<64 - 2)},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got := execute(t, func(b *asm.Buffer) {
				var divByZero, overflow asm.Label
				DivOrRem(b, tc.kind, tc.t, tc.signed, RAX, RDI, RSI, &divByZero, &overflow)
				Ret(b)
				b.Bind(&divByZero)
				MovRI(b, wasm.I32, RAX, trapSentinel)
				Ret(b)
				b.Bind(&overflow)
				MovRI(b, wasm.I32, RAX, trapSentinel+1)
				Ret(b)
			}, tc.lhs, tc.rhs)
			if got != tc.want {
				t.Fatalf("got %#x, want %#x", got, tc.want)
			}
		})
	}
}

func TestDivOrRemOperandsInRaxRdx(t *testing.T) {
	// lhs in RDX and rhs in RAX exercises the scratch copy of the divisor.
	got := execute(t, func(b *asm.Buffer) {
		var trap asm.Label
		MovRR(b, wasm.I64, RDX, RDI)
		MovRR(b, wasm.I64, RAX, RSI)
		DivOrRem(b, DivQuotient, wasm.I64, false, RCX, RDX, RAX, &trap, &trap)
		MovRR(b, wasm.I64, RAX, RCX)
		Ret(b)
		b.Bind(&trap)
		Int3(b)
	}, 100, 7)
	if got != 14 {
		t.Fatalf("100/7=%d, want 14", got)
	}
}

func TestFloatMinMaxExecution(t *testing.T) {
	nan := math.NaN()
	negZero := math.Copysign(0, -1)
	for _, tc := range []struct {
		name     string
		min      bool
		lhs, rhs float64
		want     float64
	}{
		{"min", true, 1, 2, 1},
		{"max", false, 1, 2, 2},
		{"min swapped", true, 2, 1, 1},
		{"min -0 +0", true, negZero, 0, negZero},
		{"min +0 -0", true, 0, negZero, negZero},
		{"max -0 +0", false, negZero, 0, 0},
		{"max +0 -0", false, 0, negZero, 0},
		{"min nan", true, nan, 1, nan},
		{"max nan", false, 1, nan, nan},
	} {
		t.Run(tc.name, func(t *testing.T) {
			bits := execute(t, func(b *asm.Buffer) {
				MovdToFP(b, wasm.I64, XMM0, RDI)
				MovdToFP(b, wasm.I64, XMM1, RSI)
				FloatMinOrMax(b, wasm.F64, tc.min, XMM2, XMM0, XMM1)
				MovdFromFP(b, wasm.I64, RAX, XMM2)
			}, f64Arg(tc.lhs), f64Arg(tc.rhs))
			got := math.Float64frombits(bits)
			if math.IsNaN(tc.want) {
				if !math.IsNaN(got) {
					t.Fatalf("got %v, want NaN", got)
				}
				return
			}
			if bits != math.Float64bits(tc.want) {
				t.Fatalf("got %v (%#x), want %v", got, bits, tc.want)
			}
		})
	}
}

func TestTruncateExecution(t *testing.T) {
	for _, tc := range []struct {
		name   string
		to     wasm.ValueType
		signed bool
		in     float64
		want   uint64
	}{
		{"i32.trunc_s 3.9", wasm.I32, true, 3.9, 3},
		{"i32.trunc_s -3.9", wasm.I32, true, -3.9, u32(-3)},
		{"i32.trunc_s min", wasm.I32, true, -2147483648, 0x80000000},
		{"i32.trunc_s overflow", wasm.I32, true, 2147483648, trapSentinel},
		{"i32.trunc_s nan", wasm.I32, true, math.NaN(), trapSentinel},
		{"i32.trunc_u max", wasm.I32, false, 4294967295, 0xffffffff},
		{"i32.trunc_u -0.5", wasm.I32, false, -0.5, 0},
		{"i32.trunc_u -1", wasm.I32, false, -1, trapSentinel},
		{"i32.trunc_u overflow", wasm.I32, false, 4294967296, trapSentinel},
		{"i64.trunc_s", wasm.I64, true, -1e18, uint64(1<<64 - 1000000000000000000)},
		{"i64.trunc_s overflow", wasm.I64, true, 9.3e18, trapSentinel},
		{"i64.trunc_u high", wasm.I64, false, 9.3e18, 9300000000000000000},
		{"i64.trunc_u largest", wasm.I64, false, 18446744073709549568, 18446744073709549568},
		{"i64.trunc_u 2^64", wasm.I64, false, 18446744073709551616, trapSentinel},
		{"i64.trunc_u -1", wasm.I64, false, -1, trapSentinel},
		{"i64.trunc_u nan", wasm.I64, false, math.NaN(), trapSentinel},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got := execute(t, withTrap(func(b *asm.Buffer, trap *asm.Label) {
				MovdToFP(b, wasm.I64, XMM0, RDI)
				TruncateFloatToInt(b, tc.to, wasm.F64, tc.signed, RAX, XMM0, trap)
			}), f64Arg(tc.in))
			if got != tc.want {
				t.Fatalf("got %#x, want %#x", got, tc.want)
			}
		})
	}
}

func TestTruncateF32Execution(t *testing.T) {
	got := execute(t, withTrap(func(b *asm.Buffer, trap *asm.Label) {
		MovdToFP(b, wasm.I32, XMM0, RDI)
		TruncateFloatToInt(b, wasm.I64, wasm.F32, false, RAX, XMM0, trap)
	}), f32Arg(1.5e19))
	in := float32(1.5e19)
	if want := uint64(in); got != want {
		t.Fatalf("got %d, want %d", got, want)
	}
}

func TestCvtqui2sExecution(t *testing.T) {
	for _, v := range []uint64{0, 12345, 1 << 63, 0x8000000000000401, 0xfffffffffffffbff, math.MaxUint64} {
		bits := execute(t, func(b *asm.Buffer) {
			Cvtqui2s(b, wasm.F64, XMM0, RDI)
			MovdFromFP(b, wasm.I64, RAX, XMM0)
		}, uintptr(v))
		if want := math.Float64bits(float64(v)); bits != want {
			t.Fatalf("f64(%#x)=%v, want %v", v, math.Float64frombits(bits), float64(v))
		}
		bits = execute(t, func(b *asm.Buffer) {
			Cvtqui2s(b, wasm.F32, XMM0, RDI)
			MovdFromFP(b, wasm.I32, RAX, XMM0)
		}, uintptr(v))
		if want := uint64(math.Float32bits(float32(v))); bits != want {
			t.Fatalf("f32(%#x)=%v, want %v", v, math.Float32frombits(uint32(bits)), float32(v))
		}
	}
}

func TestBitCountExecution(t *testing.T) {
	for _, tc := range []struct {
		name string
		emit func(b *asm.Buffer, t wasm.ValueType, dst, src Register)
		t    wasm.ValueType
		in   uint64
		want uint64
	}{
		{"i32.clz 0", Clz, wasm.I32, 0, 32},
		{"i32.clz 1", Clz, wasm.I32, 1, 31},
		{"i32.clz msb", Clz, wasm.I32, 0x80000000, 0},
		{"i64.clz 0", Clz, wasm.I64, 0, 64},
		{"i64.clz 0x100", Clz, wasm.I64, 0x100, 55},
		{"i32.ctz 0", Ctz, wasm.I32, 0, 32},
		{"i32.ctz msb", Ctz, wasm.I32, 0x80000000, 31},
		{"i64.ctz 0", Ctz, wasm.I64, 0, 64},
		{"i64.ctz 1<<40", Ctz, wasm.I64, 1 << 40, 40},
	} {
		got := execute(t, func(b *asm.Buffer) {
			tc.emit(b, tc.t, RAX, RDI)
		}, uintptr(tc.in))
		if got != tc.want {
			t.Fatalf("%s: got %d, want %d", tc.name, got, tc.want)
		}
	}
}

func TestShiftExecution(t *testing.T) {
	// Arguments arrive as RDI=value, RSI=amount, RDX=unused, RCX=extra.
	for _, tc := range []struct {
		name string
		emit func(b *asm.Buffer)
		want uint64
	}{
		{"shl", func(b *asm.Buffer) {
			EmitShift(b, ShiftShl, wasm.I32, RAX, RDI, RSI, false)
		}, 0x30},
		{"dst rcx", func(b *asm.Buffer) {
			EmitShift(b, ShiftShl, wasm.I32, RCX, RDI, RSI, false)
			MovRR(b, wasm.I64, RAX, RCX)
		}, 0x30},
		{"src rcx", func(b *asm.Buffer) {
			EmitShift(b, ShiftShl, wasm.I64, RAX, RCX, RSI, false)
			SubRR(b, wasm.I64, RAX, RCX)
		}, 0x100*8 - 0x100},
		{"rcx live", func(b *asm.Buffer) {
			EmitShift(b, ShiftShl, wasm.I32, RAX, RDI, RSI, true)
			AddRR(b, wasm.I64, RAX, RCX)
		}, 0x30 + 0x100},
		{"amount in rcx", func(b *asm.Buffer) {
			MovRR(b, wasm.I64, RCX, RSI)
			EmitShift(b, ShiftShr, wasm.I64, RAX, RDI, RCX, false)
		}, 0},
		{"masked count", func(b *asm.Buffer) {
			MovRI(b, wasm.I32, RSI, 35)
			EmitShift(b, ShiftShl, wasm.I32, RAX, RDI, RSI, false)
		}, 0x30},
		{"masked count i64", func(b *asm.Buffer) {
			MovRI(b, wasm.I32, RSI, 65)
			EmitShift(b, ShiftShl, wasm.I64, RAX, RDI, RSI, false)
		}, 12},
		{"rotl", func(b *asm.Buffer) {
			MovRI(b, wasm.I32, RDI, math.MinInt32)
			EmitShift(b, ShiftRol, wasm.I32, RAX, RDI, RSI, false)
		}, 4},
	} {
		got := execute(t, tc.emit, 6, 3, 0, 0x100)
		if got != tc.want {
			t.Fatalf("%s: got %#x, want %#x", tc.name, got, tc.want)
		}
	}
}

func TestLoadConstantExecution(t *testing.T) {
	f64s := []float64{0, 1.5, -2.25, math.Copysign(0, -1), math.Inf(1), math.Inf(-1), math.MaxFloat64}
	for _, v := range f64s {
		bits := math.Float64bits(v)
		got := execute(t, func(b *asm.Buffer) {
			LoadConstant(b, wasm.F64, XMM3, bits)
			MovdFromFP(b, wasm.I64, RAX, XMM3)
		})
		if got != bits {
			t.Fatalf("f64 %v: got %#x, want %#x", v, got, bits)
		}
	}
	f32s := []float32{0, 3.5, float32(math.Inf(1)), float32(math.Copysign(0, -1)), math.Float32frombits(0x7fffffff)}
	for _, v := range f32s {
		bits := uint64(math.Float32bits(v))
		got := execute(t, func(b *asm.Buffer) {
			LoadConstant(b, wasm.F32, XMM9, bits)
			MovdFromFP(b, wasm.I32, RAX, XMM9)
		})
		if got != bits {
			t.Fatalf("f32 %v: got %#x, want %#x", v, got, bits)
		}
	}
	for _, tc := range []struct {
		t    wasm.ValueType
		bits uint64
		want uint64
	}{
		{wasm.I64, 0x1122334455667788, 0x1122334455667788},
		{wasm.I64, math.MaxUint64, math.MaxUint64},
		{wasm.I64, 0xffffffff, 0xffffffff},
		{wasm.I32, 0xffffffff, 0xffffffff},
		{wasm.I32, 0, 0},
	} {
		got := execute(t, func(b *asm.Buffer) {
			MovRI(b, wasm.I64, RAX, -1)
			LoadConstant(b, tc.t, RAX, tc.bits)
		})
		if got != tc.want {
			t.Fatalf("%s %#x: got %#x", tc.t, tc.bits, got)
		}
	}
}

func TestFloatSignExecution(t *testing.T) {
	for _, tc := range []struct {
		name string
		emit func(b *asm.Buffer)
		want float64
	}{
		{"abs", func(b *asm.Buffer) { FloatAbsNeg(b, wasm.F64, false, XMM1, XMM0) }, 2.5},
		{"abs in place", func(b *asm.Buffer) {
			FloatAbsNeg(b, wasm.F64, false, XMM0, XMM0)
			MovRR(b, wasm.F64, XMM1, XMM0)
		}, 2.5},
		{"neg", func(b *asm.Buffer) { FloatAbsNeg(b, wasm.F64, true, XMM1, XMM0) }, 2.5},
		{"copysign", func(b *asm.Buffer) {
			LoadConstant(b, wasm.F64, XMM2, math.Float64bits(7))
			Copysign(b, wasm.F64, XMM1, XMM2, XMM0)
		}, -7},
	} {
		bits := execute(t, func(b *asm.Buffer) {
			MovdToFP(b, wasm.I64, XMM0, RDI)
			tc.emit(b)
			MovdFromFP(b, wasm.I64, RAX, XMM1)
		}, f64Arg(-2.5))
		if got := math.Float64frombits(bits); got != tc.want {
			t.Fatalf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestFloatSetCondExecution(t *testing.T) {
	nan := math.NaN()
	for _, tc := range []struct {
		name     string
		cc       Condition
		lhs, rhs float64
		want     uint64
	}{
		{"eq", CondEq, 1, 1, 1},
		{"eq nan", CondEq, nan, nan, 0},
		{"ne nan", CondNe, nan, 1, 1},
		{"lt", CondLtU, 1, 2, 1},
		{"lt nan", CondLtU, nan, 2, 0},
		{"ge", CondGeU, 2, 2, 1},
		{"ge nan", CondGeU, 2, nan, 0},
	} {
		got := execute(t, func(b *asm.Buffer) {
			MovdToFP(b, wasm.I64, XMM0, RDI)
			MovdToFP(b, wasm.I64, XMM1, RSI)
			FloatSetCond(b, wasm.F64, tc.cc, RAX, XMM0, XMM1)
		}, f64Arg(tc.lhs), f64Arg(tc.rhs))
		if got != tc.want {
			t.Fatalf("%s: got %d, want %d", tc.name, got, tc.want)
		}
	}
}

func TestTypeConversionExecution(t *testing.T) {
	for _, tc := range []struct {
		op   wasm.Opcode
		in   uintptr
		want uint64
	}{
		{wasm.I64ExtendI32S, 0xffffffff, math.MaxUint64},
		{wasm.I64ExtendI32U, ^uintptr(0), 0xffffffff},
		{wasm.I32WrapI64, 0x1_0000_0005, 5},
		{wasm.F64ConvertI32U, 0xffffffff, math.Float64bits(4294967295)},
		{wasm.F64ConvertI32S, 0xffffffff, math.Float64bits(-1)},
		{wasm.I64ReinterpretF64, f64Arg(1.25), math.Float64bits(1.25)},
	} {
		got := execute(t, withTrap(func(b *asm.Buffer, trap *asm.Label) {
			info := tc.op.Info()
			src, dst := RDI, RAX
			if info.Type.IsFloat() {
				MovdToFP(b, wasm.I64, XMM0, RDI)
				src = XMM0
			}
			if info.Result.IsFloat() {
				dst = XMM1
			}
			TypeConversion(b, tc.op, dst, src, trap)
			if dst == XMM1 {
				MovdFromFP(b, wasm.I64, RAX, XMM1)
			}
		}), tc.in)
		if got != tc.want {
			t.Fatalf("%s: got %#x, want %#x", tc.op, got, tc.want)
		}
	}
}

func TestFrameSpillFillExecution(t *testing.T) {
	got := execute(t, func(b *asm.Buffer) {
		off := Prologue(b)
		Spill(b, wasm.I64, 0, RDI)
		SpillConst(b, wasm.I64, 1, 0x123456789)
		SpillConst(b, wasm.I32, 2, 40)
		MovdToFP(b, wasm.I64, XMM4, RSI)
		Spill(b, wasm.F64, 3, XMM4)
		XorRR(b, wasm.I32, RDI, RDI)
		Fill(b, wasm.I64, RAX, 0)
		Fill(b, wasm.I64, RCX, 1)
		AddRR(b, wasm.I64, RAX, RCX)
		Fill(b, wasm.I32, RCX, 2)
		AddRR(b, wasm.I64, RAX, RCX)
		Fill(b, wasm.F64, XMM5, 3)
		Cvtts2si(b, wasm.I64, wasm.F64, RCX, XMM5)
		AddRR(b, wasm.I64, RAX, RCX)
		PatchFrame(b, off, 4)
		Epilogue(b)
	}, 2, f64Arg(100))
	if want := uint64(2 + 0x123456789 + 40 + 100); got != want {
		t.Fatalf("got %#x, want %#x", got, want)
	}
}

func TestLoadStoreExecution(t *testing.T) {
	mem := make([]byte, 32)
	for i := range mem {
		mem[i] = byte(0x80 + i)
	}
	base := uintptr(unsafe.Pointer(&mem[0]))

	for _, tc := range []struct {
		name   string
		t      wasm.ValueType
		size   uint8
		signed bool
		offset uint32
		want   uint64
	}{
		{"i32.load8_s", wasm.I32, 1, true, 0, 0xffffff80},
		{"i32.load8_u", wasm.I32, 1, false, 1, 0x81},
		{"i32.load16_s", wasm.I32, 2, true, 2, 0xffff8382},
		{"i64.load16_u", wasm.I64, 2, false, 2, 0x8382},
		{"i64.load32_s", wasm.I64, 4, true, 4, 0xffffffff87868584},
		{"i64.load32_u", wasm.I64, 4, false, 4, 0x87868584},
		{"i64.load", wasm.I64, 8, false, 8, 0x8f8e8d8c8b8a8988},
	} {
		got := execute(t, func(b *asm.Buffer) {
			MovRI(b, wasm.I64, RAX, -1)
			Load(b, tc.t, tc.size, tc.signed, RAX, MemOperand(b, RDI, RSI, tc.offset))
		}, base, 0)
		if got != tc.want {
			t.Fatalf("%s: got %#x, want %#x", tc.name, got, tc.want)
		}
	}

	execute(t, func(b *asm.Buffer) {
		MovRI(b, wasm.I64, RAX, 0x0102030405060708)
		Store(b, wasm.I64, 1, MemOperand(b, RDI, RSI, 16), RAX)
		Store(b, wasm.I64, 2, MemOperand(b, RDI, RSI, 18), RAX)
		Store(b, wasm.I32, 4, MemOperand(b, RDI, RSI, 20), RAX)
		MovdToFP(b, wasm.I64, XMM0, RAX)
		Store(b, wasm.F64, 8, MemOperand(b, RDI, RegUnknown, 24), XMM0)
	}, base, 0)
	runtime.KeepAlive(mem)

	want := []byte{0x08, 0x91, 0x08, 0x07, 0x08, 0x07, 0x06, 0x05, 0x08, 0x07, 0x06, 0x05, 0x04, 0x03, 0x02, 0x01}
	if diff := cmp.Diff(want, mem[16:]); diff != "" {
		t.Fatalf("stored bytes mismatch (-want +got):\n%s", diff)
	}
}
