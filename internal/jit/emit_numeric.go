package jit

import (
	"github.com/tinyrange/wasmjit/internal/asm"
	"github.com/tinyrange/wasmjit/internal/asm/amd64"
	"github.com/tinyrange/wasmjit/internal/wasm"
)

var compareConditions = map[wasm.Opcode]amd64.Condition{
	wasm.I32Eq: amd64.CondEq, wasm.I32Ne: amd64.CondNe,
	wasm.I32LtS: amd64.CondLtS, wasm.I32LtU: amd64.CondLtU,
	wasm.I32GtS: amd64.CondGtS, wasm.I32GtU: amd64.CondGtU,
	wasm.I32LeS: amd64.CondLeS, wasm.I32LeU: amd64.CondLeU,
	wasm.I32GeS: amd64.CondGeS, wasm.I32GeU: amd64.CondGeU,

	wasm.I64Eq: amd64.CondEq, wasm.I64Ne: amd64.CondNe,
	wasm.I64LtS: amd64.CondLtS, wasm.I64LtU: amd64.CondLtU,
	wasm.I64GtS: amd64.CondGtS, wasm.I64GtU: amd64.CondGtU,
	wasm.I64LeS: amd64.CondLeS, wasm.I64LeU: amd64.CondLeU,
	wasm.I64GeS: amd64.CondGeS, wasm.I64GeU: amd64.CondGeU,

	// ucomis sets the flags of an unsigned compare.
	wasm.F32Eq: amd64.CondEq, wasm.F32Ne: amd64.CondNe,
	wasm.F32Lt: amd64.CondLtU, wasm.F32Gt: amd64.CondGtU,
	wasm.F32Le: amd64.CondLeU, wasm.F32Ge: amd64.CondGeU,
	wasm.F64Eq: amd64.CondEq, wasm.F64Ne: amd64.CondNe,
	wasm.F64Lt: amd64.CondLtU, wasm.F64Gt: amd64.CondGtU,
	wasm.F64Le: amd64.CondLeU, wasm.F64Ge: amd64.CondGeU,
}

var shiftOps = map[wasm.Opcode]amd64.ShiftOp{
	wasm.I32Shl: amd64.ShiftShl, wasm.I32ShrS: amd64.ShiftSar, wasm.I32ShrU: amd64.ShiftShr,
	wasm.I32Rotl: amd64.ShiftRol, wasm.I32Rotr: amd64.ShiftRor,
	wasm.I64Shl: amd64.ShiftShl, wasm.I64ShrS: amd64.ShiftSar, wasm.I64ShrU: amd64.ShiftShr,
	wasm.I64Rotl: amd64.ShiftRol, wasm.I64Rotr: amd64.ShiftRor,
}

var roundModes = map[wasm.Opcode]amd64.RoundMode{
	wasm.F32Ceil: amd64.RoundUp, wasm.F32Floor: amd64.RoundDown,
	wasm.F32Trunc: amd64.RoundToZero, wasm.F32Nearest: amd64.RoundToNearest,
	wasm.F64Ceil: amd64.RoundUp, wasm.F64Floor: amd64.RoundDown,
	wasm.F64Trunc: amd64.RoundToZero, wasm.F64Nearest: amd64.RoundToNearest,
}

func (c *compiler) emitBinOp(op wasm.Opcode, info wasm.OpInfo) {
	t := info.Type
	c.expect(0, t)
	c.expect(1, t)
	rhs := c.popToRegister(0)
	lhs := c.popToRegister(amd64.RegListOf(rhs))

	if isDivOrRem(op) {
		c.emitDivOrRem(op, info, lhs, rhs)
		return
	}

	rc := amd64.ClassOf(info.Result)
	var tryFirst []amd64.Register
	if amd64.ClassOf(t) == rc {
		tryFirst = []amd64.Register{lhs, rhs}
	}
	dst := c.unusedRegister(rc, tryFirst, 0)
	b := c.buf

	if cc, ok := compareConditions[op]; ok {
		if t.IsFloat() {
			amd64.FloatSetCond(b, t, cc, dst, lhs, rhs)
		} else {
			amd64.SetCond(b, t, cc, dst, lhs, rhs)
		}
		c.state.PushRegister(info.Result, dst)
		return
	}
	if sh, ok := shiftOps[op]; ok {
		amd64.EmitShift(b, sh, t, dst, lhs, rhs, c.state.Used.Has(amd64.RCX))
		c.state.PushRegister(t, dst)
		return
	}

	switch op {
	case wasm.I32Add, wasm.I64Add:
		switch dst {
		case lhs:
			amd64.AddRR(b, t, dst, rhs)
		case rhs:
			amd64.AddRR(b, t, dst, lhs)
		default:
			amd64.Lea(b, t, dst, amd64.MemIndex(lhs, rhs, 1, 0))
		}
	case wasm.I32Sub, wasm.I64Sub:
		if dst == rhs && dst != lhs {
			amd64.Neg(b, t, dst)
			amd64.AddRR(b, t, dst, lhs)
		} else {
			amd64.Move(b, t, dst, lhs)
			amd64.SubRR(b, t, dst, rhs)
		}
	case wasm.I32Mul, wasm.I64Mul:
		c.commutative(amd64.ImulRR, t, dst, lhs, rhs)
	case wasm.I32And, wasm.I64And:
		c.commutative(amd64.AndRR, t, dst, lhs, rhs)
	case wasm.I32Or, wasm.I64Or:
		c.commutative(amd64.OrRR, t, dst, lhs, rhs)
	case wasm.I32Xor, wasm.I64Xor:
		c.commutative(amd64.XorRR, t, dst, lhs, rhs)

	case wasm.F32Add, wasm.F64Add:
		c.commutative(amd64.Adds, t, dst, lhs, rhs)
	case wasm.F32Mul, wasm.F64Mul:
		c.commutative(amd64.Muls, t, dst, lhs, rhs)
	case wasm.F32Sub, wasm.F64Sub:
		c.nonCommutativeFloat(amd64.Subs, t, dst, lhs, rhs)
	case wasm.F32Div, wasm.F64Div:
		c.nonCommutativeFloat(amd64.Divs, t, dst, lhs, rhs)
	case wasm.F32Min, wasm.F64Min:
		amd64.FloatMinOrMax(b, t, true, dst, lhs, rhs)
	case wasm.F32Max, wasm.F64Max:
		amd64.FloatMinOrMax(b, t, false, dst, lhs, rhs)
	case wasm.F32Copysign, wasm.F64Copysign:
		amd64.Copysign(b, t, dst, lhs, rhs)
	default:
		c.fail(ErrUnsupported, "binary operator %s", op)
	}
	c.state.PushRegister(info.Result, dst)
}

type rrFunc func(b *asm.Buffer, t wasm.ValueType, dst, src amd64.Register)

func (c *compiler) commutative(emit rrFunc, t wasm.ValueType, dst, lhs, rhs amd64.Register) {
	if dst == rhs {
		emit(c.buf, t, dst, lhs)
		return
	}
	amd64.Move(c.buf, t, dst, lhs)
	emit(c.buf, t, dst, rhs)
}

func (c *compiler) nonCommutativeFloat(emit rrFunc, t wasm.ValueType, dst, lhs, rhs amd64.Register) {
	if dst == rhs && dst != lhs {
		amd64.Move(c.buf, t, amd64.ScratchFP, rhs)
		rhs = amd64.ScratchFP
	}
	amd64.Move(c.buf, t, dst, lhs)
	emit(c.buf, t, dst, rhs)
}

func isDivOrRem(op wasm.Opcode) bool {
	switch op {
	case wasm.I32DivS, wasm.I32DivU, wasm.I32RemS, wasm.I32RemU,
		wasm.I64DivS, wasm.I64DivU, wasm.I64RemS, wasm.I64RemU:
		return true
	}
	return false
}

// emitDivOrRem lowers the integer divisions, which need RAX and RDX.
func (c *compiler) emitDivOrRem(op wasm.Opcode, info wasm.OpInfo, lhs, rhs amd64.Register) {
	t := info.Type
	kind := amd64.DivQuotient
	switch op {
	case wasm.I32RemS, wasm.I32RemU, wasm.I64RemS, wasm.I64RemU:
		kind = amd64.DivRemainder
	}
	divByZero := c.addTrap(TrapDivByZero)
	unrepresentable := divByZero
	if info.Signed && kind == amd64.DivQuotient {
		unrepresentable = c.addTrap(TrapUnrepresentable)
	}
	for _, r := range []amd64.Register{amd64.RAX, amd64.RDX} {
		if c.state.Used.Has(r) {
			c.spillRegister(r)
		}
	}
	dst := c.unusedRegister(amd64.GPReg, []amd64.Register{lhs, rhs}, 0)
	amd64.DivOrRem(c.buf, kind, t, info.Signed, dst, lhs, rhs, divByZero, unrepresentable)
	c.state.PushRegister(t, dst)
}

func (c *compiler) emitUnOp(op wasm.Opcode, info wasm.OpInfo) {
	t := info.Type
	c.expect(0, t)
	src := c.popToRegister(0)
	dst := c.unusedRegister(amd64.ClassOf(info.Result), []amd64.Register{src}, 0)
	b := c.buf

	if mode, ok := roundModes[op]; ok {
		amd64.Rounds(b, t, dst, src, mode)
		c.state.PushRegister(info.Result, dst)
		return
	}
	switch op {
	case wasm.I32Eqz, wasm.I64Eqz:
		amd64.TestRR(b, t, src, src)
		amd64.Setcc(b, amd64.CondEq, dst)
		amd64.MovxRR(b, amd64.ZeroExtend8, wasm.I32, dst, dst)
	case wasm.I32Clz, wasm.I64Clz:
		amd64.Clz(b, t, dst, src)
	case wasm.I32Ctz, wasm.I64Ctz:
		amd64.Ctz(b, t, dst, src)
	case wasm.I32Popcnt, wasm.I64Popcnt:
		amd64.Popcnt(b, t, dst, src)
	case wasm.F32Abs, wasm.F64Abs:
		amd64.FloatAbsNeg(b, t, false, dst, src)
	case wasm.F32Neg, wasm.F64Neg:
		amd64.FloatAbsNeg(b, t, true, dst, src)
	case wasm.F32Sqrt, wasm.F64Sqrt:
		amd64.Sqrts(b, t, dst, src)
	default:
		c.fail(ErrUnsupported, "unary operator %s", op)
	}
	c.state.PushRegister(info.Result, dst)
}

func (c *compiler) emitConversion(op wasm.Opcode, info wasm.OpInfo) {
	c.expect(0, info.Type)
	src := c.popToRegister(0)
	rc := amd64.ClassOf(info.Result)
	var tryFirst []amd64.Register
	if src.Class() == rc {
		tryFirst = []amd64.Register{src}
	}
	dst := c.unusedRegister(rc, tryFirst, 0)
	trap := c.conversionTrap(op)
	amd64.TypeConversion(c.buf, op, dst, src, trap)
	c.state.PushRegister(info.Result, dst)
}

func (c *compiler) conversionTrap(op wasm.Opcode) *asm.Label {
	switch op {
	case wasm.I32TruncF32S, wasm.I32TruncF32U, wasm.I32TruncF64S, wasm.I32TruncF64U,
		wasm.I64TruncF32S, wasm.I64TruncF32U, wasm.I64TruncF64S, wasm.I64TruncF64U:
		return c.addTrap(TrapFloatUnrepresentable)
	}
	return nil
}
