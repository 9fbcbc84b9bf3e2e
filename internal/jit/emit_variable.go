package jit

import (
	"math"

	"github.com/tinyrange/wasmjit/internal/asm"
	"github.com/tinyrange/wasmjit/internal/asm/amd64"
	"github.com/tinyrange/wasmjit/internal/wasm"
)

func (c *compiler) emitVariable(in *wasm.Instr, op wasm.Opcode) {
	switch op {
	case wasm.LocalGet:
		c.emitLocalGet(in.Index)
	case wasm.LocalSet:
		c.emitLocalSet(in.Index, false)
	case wasm.LocalTee:
		c.emitLocalSet(in.Index, true)
	case wasm.GlobalGet:
		c.emitGlobalGet(in.Index)
	case wasm.GlobalSet:
		c.emitGlobalSet(in.Index)
	}
}

func (c *compiler) emitDrop() {
	slot := c.pop()
	if slot.Loc == LocRegister {
		c.state.DecUsed(slot.Reg)
	}
}

func (c *compiler) emitSelect() {
	c.expect(0, wasm.I32)
	t := c.topType(1)
	c.expect(2, t)
	cond := c.popToRegister(0)
	pinned := amd64.RegListOf(cond)
	fv := c.popToRegister(pinned)
	tv := c.popToRegister(pinned.Set(fv))
	dst := c.unusedRegister(amd64.ClassOf(t), []amd64.Register{fv, tv}, pinned)

	var caseFalse, cont asm.Label
	amd64.TestRR(c.buf, wasm.I32, cond, cond)
	amd64.Jcc(c.buf, amd64.CondEq, &caseFalse, amd64.Near)
	amd64.Move(c.buf, t, dst, tv)
	amd64.Jmp(c.buf, &cont, amd64.Near)
	c.buf.Bind(&caseFalse)
	amd64.Move(c.buf, t, dst, fv)
	c.buf.Bind(&cont)
	c.state.PushRegister(t, dst)
}

func (c *compiler) local(index uint32) *StackSlot {
	if int(index) >= c.numLocals {
		c.malformed("local %d of %d", index, c.numLocals)
	}
	return &c.state.Stack[index]
}

func (c *compiler) emitLocalGet(index uint32) {
	slot := *c.local(index)
	switch slot.Loc {
	case LocRegister:
		c.state.PushRegister(slot.Type, slot.Reg)
	case LocConst:
		c.state.PushConst(slot.Type, slot.Const)
	case LocStack:
		r := c.unusedRegister(amd64.ClassOf(slot.Type), nil, 0)
		amd64.Fill(c.buf, slot.Type, r, int(index))
		c.state.PushRegister(slot.Type, r)
	}
}

// emitLocalSet implements local.set and local.tee. The popped operand's
// register reference moves to the local instead of being released.
func (c *compiler) emitLocalSet(index uint32, tee bool) {
	t := c.local(index).Type
	c.expect(0, t)
	top := *c.state.Peek(0)
	switch top.Loc {
	case LocRegister:
		c.releaseLocal(index)
		c.state.Stack[index] = top
		if tee {
			c.state.IncUsed(top.Reg)
		}
	case LocConst:
		c.releaseLocal(index)
		c.state.Stack[index] = top
	case LocStack:
		c.setLocalFromStackSlot(index)
	}
	if !tee {
		c.state.Pop()
	}
}

func (c *compiler) releaseLocal(index uint32) {
	if dst := c.state.Stack[index]; dst.Loc == LocRegister {
		c.state.DecUsed(dst.Reg)
	}
}

func (c *compiler) setLocalFromStackSlot(index uint32) {
	dst := &c.state.Stack[index]
	top := c.state.Height() - 1
	t := dst.Type
	if dst.Loc == LocRegister && c.state.UseCount[dst.Reg] == 1 {
		amd64.Fill(c.buf, t, dst.Reg, top)
		return
	}
	c.releaseLocal(index)
	*dst = stackSlot(t)
	r := c.unusedRegister(amd64.ClassOf(t), nil, 0)
	amd64.Fill(c.buf, t, r, top)
	c.state.Stack[index] = registerSlot(t, r)
	c.state.IncUsed(r)
}

func (c *compiler) global(index uint32) wasm.Global {
	if int(index) >= len(c.module.Globals) {
		c.malformed("global %d of %d", index, len(c.module.Globals))
	}
	return c.module.Globals[index]
}

func (c *compiler) emitGlobalGet(index uint32) {
	g := c.global(index)
	c.machine(MachineInst{Kind: MachineMemoryAccess, Index: index}, func() {
		addr := c.unusedRegister(amd64.GPReg, nil, 0)
		c.loadRef(addr, asm.RefGlobal, index)
		dst := c.unusedRegister(amd64.ClassOf(g.Type), nil, amd64.RegListOf(addr))
		amd64.Load(c.buf, g.Type, uint8(g.Type.Size()), false, dst, amd64.MemAt(addr, 0))
		c.state.PushRegister(g.Type, dst)
	})
}

func (c *compiler) emitGlobalSet(index uint32) {
	g := c.global(index)
	if !g.Mutable {
		c.malformed("global.set of immutable global %d", index)
	}
	c.expect(0, g.Type)
	c.machine(MachineInst{Kind: MachineMemoryAccess, Index: index}, func() {
		value := c.popToRegister(0)
		addr := c.unusedRegister(amd64.GPReg, nil, amd64.RegListOf(value))
		c.loadRef(addr, asm.RefGlobal, index)
		amd64.Store(c.buf, g.Type, uint8(g.Type.Size()), amd64.MemAt(addr, 0), value)
	})
}

func (c *compiler) emitConst(in *wasm.Instr, op wasm.Opcode) {
	switch op {
	case wasm.I32Const:
		c.state.PushConst(wasm.I32, int32(uint32(in.Value)))
	case wasm.I64Const:
		if v := int64(in.Value); v >= math.MinInt32 && v <= math.MaxInt32 {
			c.state.PushConst(wasm.I64, int32(v))
			return
		}
		c.pushConstRegister(wasm.I64, in.Value)
	case wasm.F32Const:
		c.pushConstRegister(wasm.F32, in.Value&math.MaxUint32)
	case wasm.F64Const:
		c.pushConstRegister(wasm.F64, in.Value)
	}
}

func (c *compiler) pushConstRegister(t wasm.ValueType, bits uint64) {
	r := c.unusedRegister(amd64.ClassOf(t), nil, 0)
	amd64.LoadConstant(c.buf, t, r, bits)
	c.state.PushRegister(t, r)
}
