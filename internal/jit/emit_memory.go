package jit

import (
	"github.com/tinyrange/wasmjit/internal/asm"
	"github.com/tinyrange/wasmjit/internal/asm/amd64"
	"github.com/tinyrange/wasmjit/internal/wasm"
)

func (c *compiler) requireMemory() {
	if c.module.Memory == nil {
		c.malformed("%s without a memory", c.op)
	}
}

func (c *compiler) emitLoad(in *wasm.Instr, info wasm.OpInfo) {
	c.requireMemory()
	c.expect(0, wasm.I32)
	index := c.popToRegister(0)
	c.boundsCheck(index, in.Offset, info.Mem)
	c.machine(MachineInst{Kind: MachineMemoryAccess}, func() {
		addr := c.unusedRegister(amd64.GPReg, nil, amd64.RegListOf(index))
		c.loadRef(addr, asm.RefMemory, 0)
		var tryFirst []amd64.Register
		if !info.Result.IsFloat() {
			tryFirst = []amd64.Register{index}
		}
		dst := c.unusedRegister(amd64.ClassOf(info.Result), tryFirst, amd64.RegListOf(addr))
		m := amd64.MemOperand(c.buf, addr, index, in.Offset)
		amd64.Load(c.buf, info.Result, info.Mem, info.Signed, dst, m)
		c.state.PushRegister(info.Result, dst)
	})
}

func (c *compiler) emitStore(in *wasm.Instr, info wasm.OpInfo) {
	c.requireMemory()
	c.expect(0, info.Type)
	c.expect(1, wasm.I32)
	value := c.popToRegister(0)
	index := c.popToRegister(amd64.RegListOf(value))
	c.boundsCheck(index, in.Offset, info.Mem)
	c.machine(MachineInst{Kind: MachineMemoryAccess, Index: 1}, func() {
		addr := c.unusedRegister(amd64.GPReg, nil, amd64.RegListOf(value, index))
		c.loadRef(addr, asm.RefMemory, 0)
		m := amd64.MemOperand(c.buf, addr, index, in.Offset)
		amd64.Store(c.buf, info.Type, info.Mem, m, value)
	})
}

// boundsCheck guards an access of size bytes at index+offset. Registers in
// use are not touched; the check runs in the scratch registers.
// With no memory reserved at all every access traps, even unchecked ones.
func (c *compiler) boundsCheck(index amd64.Register, offset uint32, size uint8) {
	limit := c.host.MemoryLimit()
	if c.host.BoundsChecks == BoundsNone && limit != 0 {
		return
	}
	end := uint64(offset) + uint64(size)
	if end > limit {
		amd64.Jmp(c.buf, c.addTrap(TrapMemOutOfBounds), amd64.Far)
		if top := c.control.Top(); top.Reached() {
			top.Reachability = SpecOnlyReachable
		}
		return
	}
	if c.host.BoundsChecks == BoundsStatic {
		return
	}
	trap := c.addTrap(TrapMemOutOfBounds)
	// i32 values are kept zero-extended, so index is valid as a 64-bit
	// register.
	amd64.MovRI(c.buf, wasm.I64, amd64.ScratchGP, int64(end))
	amd64.AddRR(c.buf, wasm.I64, amd64.ScratchGP, index)
	c.loadRef(amd64.ScratchGP2, asm.RefMemorySize, 0)
	amd64.ALURM(c.buf, amd64.ALUCmp, wasm.I64, amd64.ScratchGP, amd64.MemAt(amd64.ScratchGP2, 0))
	amd64.Jcc(c.buf, amd64.CondGtU, trap, amd64.Far)
}

func (c *compiler) emitMemorySize() {
	c.requireMemory()
	dst := c.unusedRegister(amd64.GPReg, nil, 0)
	if c.host.MaxMemoryPages == 0 {
		amd64.LoadConstant(c.buf, wasm.I32, dst, uint64(c.host.MinMemoryPages))
	} else {
		c.machine(MachineInst{Kind: MachineMemoryAccess}, func() {
			c.loadRef(dst, asm.RefMemorySize, 0)
			amd64.MovRM(c.buf, wasm.I64, dst, amd64.MemAt(dst, 0))
			amd64.ShiftRI(c.buf, amd64.ShiftShr, wasm.I64, dst, 16)
		})
	}
	c.state.PushRegister(wasm.I32, dst)
}

// emitMemoryGrow updates the byte size cell in place. The runtime reserves
// MaxMemoryPages up front, so growing never moves memory.
func (c *compiler) emitMemoryGrow() {
	c.requireMemory()
	c.expect(0, wasm.I32)
	if c.host.MaxMemoryPages == 0 {
		c.emitDrop()
		dst := c.unusedRegister(amd64.GPReg, nil, 0)
		amd64.LoadConstant(c.buf, wasm.I32, dst, 0xFFFFFFFF)
		c.state.PushRegister(wasm.I32, dst)
		return
	}
	delta := c.popToRegister(0)
	c.machine(MachineInst{Kind: MachineMemoryAccess, Index: 1}, func() {
		cell := c.unusedRegister(amd64.GPReg, nil, amd64.RegListOf(delta))
		dst := c.unusedRegister(amd64.GPReg, nil, amd64.RegListOf(delta, cell))
		c.loadRef(cell, asm.RefMemorySize, 0)
		amd64.MovRM(c.buf, wasm.I64, dst, amd64.MemAt(cell, 0))
		amd64.ShiftRI(c.buf, amd64.ShiftShr, wasm.I64, dst, 16)

		var fail, done asm.Label
		amd64.MovRR(c.buf, wasm.I64, amd64.ScratchGP, dst)
		amd64.AddRR(c.buf, wasm.I64, amd64.ScratchGP, delta)
		amd64.ALURI(c.buf, amd64.ALUCmp, wasm.I64, amd64.ScratchGP, int32(c.host.MaxMemoryPages))
		amd64.Jcc(c.buf, amd64.CondGtU, &fail, amd64.Near)
		amd64.ShiftRI(c.buf, amd64.ShiftShl, wasm.I64, amd64.ScratchGP, 16)
		amd64.MovMR(c.buf, wasm.I64, amd64.MemAt(cell, 0), amd64.ScratchGP)
		amd64.Jmp(c.buf, &done, amd64.Near)
		c.buf.Bind(&fail)
		amd64.MovRI(c.buf, wasm.I32, dst, -1)
		c.buf.Bind(&done)
		c.state.PushRegister(wasm.I32, dst)
	})
}
