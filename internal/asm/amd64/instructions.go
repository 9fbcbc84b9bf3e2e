package amd64

import (
	"github.com/tinyrange/wasmjit/internal/asm"
	"github.com/tinyrange/wasmjit/internal/wasm"
)

// Integer emitters take the operand type to select 32- or 64-bit forms.
// Address arithmetic uses wasm.I64.

// ALUOp selects one of the classic two-operand integer instructions.
type ALUOp uint8

const (
	ALUAdd ALUOp = 0
	ALUOr  ALUOp = 1
	ALUAnd ALUOp = 4
	ALUSub ALUOp = 5
	ALUXor ALUOp = 6
	ALUCmp ALUOp = 7
)

// ShiftOp is the ModRM extension of the rotate and shift group.
type ShiftOp uint8

const (
	ShiftRol ShiftOp = 0
	ShiftRor ShiftOp = 1
	ShiftShl ShiftOp = 4
	ShiftShr ShiftOp = 5
	ShiftSar ShiftOp = 7
)

// ALURR emits "op dst, src".
func ALURR(b *asm.Buffer, op ALUOp, t wasm.ValueType, dst, src Register) {
	if !checkInt(b, "alu", t) || !checkGP(b, "alu", dst, src) {
		return
	}
	inst{w: t == wasm.I64, opcode: op1(byte(op)<<3 | 0x01)}.rr(b, src, dst)
}

// ALURM emits "op dst, [m]".
func ALURM(b *asm.Buffer, op ALUOp, t wasm.ValueType, dst Register, m Mem) {
	if !checkInt(b, "alu", t) || !checkGP(b, "alu", dst) {
		return
	}
	inst{w: t == wasm.I64, opcode: op1(byte(op)<<3 | 0x03)}.rm(b, dst, m)
}

// ALURI emits "op dst, imm" using the sign-extended 8-bit form when it fits.
func ALURI(b *asm.Buffer, op ALUOp, t wasm.ValueType, dst Register, imm int32) {
	if !checkInt(b, "alu", t) || !checkGP(b, "alu", dst) {
		return
	}
	in := inst{w: t == wasm.I64}
	if fitsInt8(int64(imm)) {
		in.opcode = op1(0x83)
		in.ext(b, byte(op), dst)
		b.EmitU8(uint8(int8(imm)))
		return
	}
	in.opcode = op1(0x81)
	in.ext(b, byte(op), dst)
	b.EmitU32(uint32(imm))
}

// ALUMI emits "op width [m], imm".
func ALUMI(b *asm.Buffer, op ALUOp, t wasm.ValueType, m Mem, imm int32) {
	if !checkInt(b, "alu", t) {
		return
	}
	in := inst{w: t == wasm.I64}
	if fitsInt8(int64(imm)) {
		in.opcode = op1(0x83)
		in.extMem(b, byte(op), m)
		b.EmitU8(uint8(int8(imm)))
		return
	}
	in.opcode = op1(0x81)
	in.extMem(b, byte(op), m)
	b.EmitU32(uint32(imm))
}

func AddRR(b *asm.Buffer, t wasm.ValueType, dst, src Register) { ALURR(b, ALUAdd, t, dst, src) }
func SubRR(b *asm.Buffer, t wasm.ValueType, dst, src Register) { ALURR(b, ALUSub, t, dst, src) }
func AndRR(b *asm.Buffer, t wasm.ValueType, dst, src Register) { ALURR(b, ALUAnd, t, dst, src) }
func OrRR(b *asm.Buffer, t wasm.ValueType, dst, src Register) { ALURR(b, ALUOr, t, dst, src) }
func XorRR(b *asm.Buffer, t wasm.ValueType, dst, src Register) { ALURR(b, ALUXor, t, dst, src) }
func CmpRR(b *asm.Buffer, t wasm.ValueType, dst, src Register) { ALURR(b, ALUCmp, t, dst, src) }

// TestRR emits "test a, b".
func TestRR(b *asm.Buffer, t wasm.ValueType, a, c Register) {
	if !checkInt(b, "test", t) || !checkGP(b, "test", a, c) {
		return
	}
	inst{w: t == wasm.I64, opcode: op1(0x85)}.rr(b, c, a)
}

// TestRI emits "test r, imm32".
func TestRI(b *asm.Buffer, t wasm.ValueType, r Register, imm int32) {
	if !checkInt(b, "test", t) || !checkGP(b, "test", r) {
		return
	}
	inst{w: t == wasm.I64, opcode: op1(0xF7)}.ext(b, 0, r)
	b.EmitU32(uint32(imm))
}

// ImulRR emits "imul dst, src".
func ImulRR(b *asm.Buffer, t wasm.ValueType, dst, src Register) {
	if !checkInt(b, "imul", t) || !checkGP(b, "imul", dst, src) {
		return
	}
	inst{w: t == wasm.I64, opcode: op2(0x0F, 0xAF)}.rr(b, dst, src)
}

func unaryF7(b *asm.Buffer, name string, sub byte, t wasm.ValueType, r Register) {
	if !checkInt(b, name, t) || !checkGP(b, name, r) {
		return
	}
	inst{w: t == wasm.I64, opcode: op1(0xF7)}.ext(b, sub, r)
}

func Not(b *asm.Buffer, t wasm.ValueType, r Register) { unaryF7(b, "not", 2, t, r) }
func Neg(b *asm.Buffer, t wasm.ValueType, r Register) { unaryF7(b, "neg", 3, t, r) }
func Div(b *asm.Buffer, t wasm.ValueType, r Register) { unaryF7(b, "div", 6, t, r) }
func Idiv(b *asm.Buffer, t wasm.ValueType, r Register) { unaryF7(b, "idiv", 7, t, r) }

// Cdq sign-extends eax into edx.
func Cdq(b *asm.Buffer) { b.Emit(0x99) }

// Cqo sign-extends rax into rdx.
func Cqo(b *asm.Buffer) { b.Emit(0x48, 0x99) }

// ShiftCL emits "op r, cl".
func ShiftCL(b *asm.Buffer, op ShiftOp, t wasm.ValueType, r Register) {
	if !checkInt(b, "shift", t) || !checkGP(b, "shift", r) {
		return
	}
	inst{w: t == wasm.I64, opcode: op1(0xD3)}.ext(b, byte(op), r)
}

// ShiftRI emits "op r, imm8".
func ShiftRI(b *asm.Buffer, op ShiftOp, t wasm.ValueType, r Register, imm uint8) {
	if !checkInt(b, "shift", t) || !checkGP(b, "shift", r) {
		return
	}
	inst{w: t == wasm.I64, opcode: op1(0xC1)}.ext(b, byte(op), r)
	b.EmitU8(imm)
}

// Lea emits "lea dst, [m]".
func Lea(b *asm.Buffer, t wasm.ValueType, dst Register, m Mem) {
	if !checkInt(b, "lea", t) || !checkGP(b, "lea", dst) {
		return
	}
	inst{w: t == wasm.I64, opcode: op1(0x8D)}.rm(b, dst, m)
}

// MovRR emits a register copy. Integer types use mov, float types movaps or
// movapd.
func MovRR(b *asm.Buffer, t wasm.ValueType, dst, src Register) {
	if t.IsFloat() {
		if !checkFP(b, "mov", dst, src) {
			return
		}
		inst{prefix: packedPrefix(t), opcode: op2(0x0F, 0x28)}.rr(b, dst, src)
		return
	}
	if !checkInt(b, "mov", t) || !checkGP(b, "mov", dst, src) {
		return
	}
	inst{w: t == wasm.I64, opcode: op1(0x89)}.rr(b, src, dst)
}

// MovRI loads an immediate. 64-bit values use the sign-extended 32-bit form
// when they fit in int32, the zero-extending 32-bit form when they fit in
// uint32 and movabs otherwise. Zero is loaded with mov, not xor, so flags are
// preserved.
func MovRI(b *asm.Buffer, t wasm.ValueType, dst Register, imm int64) {
	if !checkInt(b, "mov", t) || !checkGP(b, "mov", dst) {
		return
	}
	if t == wasm.I32 {
		movOI(b, false, dst)
		b.EmitU32(uint32(imm))
		return
	}
	switch {
	case fitsInt32(imm):
		inst{w: true, opcode: op1(0xC7)}.ext(b, 0, dst)
		b.EmitU32(uint32(int32(imm)))
	case fitsUint32(uint64(imm)):
		movOI(b, false, dst)
		b.EmitU32(uint32(imm))
	default:
		movOI(b, true, dst)
		b.EmitU64(uint64(imm))
	}
}

// Movabs always emits the ten byte "mov r64, imm64" form and returns the
// offset of the immediate.
func Movabs(b *asm.Buffer, dst Register, imm uint64) int {
	if !checkGP(b, "movabs", dst) {
		return -1
	}
	movOI(b, true, dst)
	off := b.Len()
	b.EmitU64(imm)
	return off
}

func movOI(b *asm.Buffer, w bool, dst Register) {
	rex := byte(0)
	if w {
		rex |= 0x48
	}
	if dst.high() {
		rex |= 0x41
	}
	if rex != 0 {
		b.Emit(rex)
	}
	b.Emit(0xB8 + dst.low())
}

// MovRM loads a 32- or 64-bit value.
func MovRM(b *asm.Buffer, t wasm.ValueType, dst Register, m Mem) {
	if !checkInt(b, "mov", t) || !checkGP(b, "mov", dst) {
		return
	}
	inst{w: t == wasm.I64, opcode: op1(0x8B)}.rm(b, dst, m)
}

// MovMR stores a 32- or 64-bit value.
func MovMR(b *asm.Buffer, t wasm.ValueType, m Mem, src Register) {
	if !checkInt(b, "mov", t) || !checkGP(b, "mov", src) {
		return
	}
	inst{w: t == wasm.I64, opcode: op1(0x89)}.rm(b, src, m)
}

// MovMI stores a sign-extended 32-bit immediate.
func MovMI(b *asm.Buffer, t wasm.ValueType, m Mem, imm int32) {
	if !checkInt(b, "mov", t) {
		return
	}
	inst{w: t == wasm.I64, opcode: op1(0xC7)}.extMem(b, 0, m)
	b.EmitU32(uint32(imm))
}

// MovbMR stores the low byte of src.
func MovbMR(b *asm.Buffer, m Mem, src Register) {
	if !checkGP(b, "movb", src) {
		return
	}
	inst{force: needsByteREX(src), opcode: op1(0x88)}.rm(b, src, m)
}

// MovwMR stores the low word of src.
func MovwMR(b *asm.Buffer, m Mem, src Register) {
	if !checkGP(b, "movw", src) {
		return
	}
	inst{prefix: 0x66, opcode: op1(0x89)}.rm(b, src, m)
}

// Extend describes a zero or sign extending move.
type Extend uint8

const (
	ZeroExtend8 Extend = iota
	ZeroExtend16
	SignExtend8
	SignExtend16
	SignExtend32
)

func (e Extend) opcode() []byte {
	switch e {
	case ZeroExtend8:
		return op2(0x0F, 0xB6)
	case ZeroExtend16:
		return op2(0x0F, 0xB7)
	case SignExtend8:
		return op2(0x0F, 0xBE)
	case SignExtend16:
		return op2(0x0F, 0xBF)
	default:
		return op1(0x63)
	}
}

// MovxRR emits movzx/movsx/movsxd from a register.
func MovxRR(b *asm.Buffer, e Extend, t wasm.ValueType, dst, src Register) {
	if !checkInt(b, "movx", t) || !checkGP(b, "movx", dst, src) {
		return
	}
	force := (e == ZeroExtend8 || e == SignExtend8) && needsByteREX(src)
	inst{w: t == wasm.I64 || e == SignExtend32, force: force, opcode: e.opcode()}.rr(b, dst, src)
}

// MovxRM emits movzx/movsx/movsxd from memory.
func MovxRM(b *asm.Buffer, e Extend, t wasm.ValueType, dst Register, m Mem) {
	if !checkInt(b, "movx", t) || !checkGP(b, "movx", dst) {
		return
	}
	inst{w: t == wasm.I64 || e == SignExtend32, opcode: e.opcode()}.rm(b, dst, m)
}

// Setcc writes 1 or 0 into the low byte of dst.
func Setcc(b *asm.Buffer, cc Condition, dst Register) {
	if !checkGP(b, "setcc", dst) {
		return
	}
	inst{force: needsByteREX(dst), opcode: op2(0x0F, 0x90|byte(cc))}.ext(b, 0, dst)
}

// Bsr, Bsf and Popcnt take dst in the reg field.
func Bsr(b *asm.Buffer, t wasm.ValueType, dst, src Register) {
	if !checkInt(b, "bsr", t) || !checkGP(b, "bsr", dst, src) {
		return
	}
	inst{w: t == wasm.I64, opcode: op2(0x0F, 0xBD)}.rr(b, dst, src)
}

func Bsf(b *asm.Buffer, t wasm.ValueType, dst, src Register) {
	if !checkInt(b, "bsf", t) || !checkGP(b, "bsf", dst, src) {
		return
	}
	inst{w: t == wasm.I64, opcode: op2(0x0F, 0xBC)}.rr(b, dst, src)
}

func Popcnt(b *asm.Buffer, t wasm.ValueType, dst, src Register) {
	if !checkInt(b, "popcnt", t) || !checkGP(b, "popcnt", dst, src) {
		return
	}
	inst{prefix: 0xF3, w: t == wasm.I64, opcode: op2(0x0F, 0xB8)}.rr(b, dst, src)
}

func Push(b *asm.Buffer, r Register) {
	if !checkGP(b, "push", r) {
		return
	}
	if r.high() {
		b.Emit(0x41)
	}
	b.Emit(0x50 + r.low())
}

func Pop(b *asm.Buffer, r Register) {
	if !checkGP(b, "pop", r) {
		return
	}
	if r.high() {
		b.Emit(0x41)
	}
	b.Emit(0x58 + r.low())
}

// PushImm pushes a sign-extended 32-bit immediate.
func PushImm(b *asm.Buffer, imm int32) {
	if fitsInt8(int64(imm)) {
		b.Emit(0x6A, byte(int8(imm)))
		return
	}
	b.Emit(0x68)
	b.EmitU32(uint32(imm))
}

// PushMem pushes the quadword at m.
func PushMem(b *asm.Buffer, m Mem) {
	inst{opcode: op1(0xFF)}.extMem(b, 6, m)
}

// CallReg emits an indirect call through r.
func CallReg(b *asm.Buffer, r Register) {
	if !checkGP(b, "call", r) {
		return
	}
	inst{opcode: op1(0xFF)}.ext(b, 2, r)
}

// JmpReg emits an indirect jump through r.
func JmpReg(b *asm.Buffer, r Register) {
	if !checkGP(b, "jmp", r) {
		return
	}
	inst{opcode: op1(0xFF)}.ext(b, 4, r)
}

// JmpMem emits an indirect jump through the quadword at m.
func JmpMem(b *asm.Buffer, m Mem) {
	inst{opcode: op1(0xFF)}.extMem(b, 4, m)
}

func Ret(b *asm.Buffer) { b.Emit(0xC3) }

func Int3(b *asm.Buffer) { b.Emit(0xCC) }
