package jit

import (
	"github.com/tinyrange/wasmjit/internal/asm"
	"github.com/tinyrange/wasmjit/internal/asm/amd64"
	"github.com/tinyrange/wasmjit/internal/wasm"
)

func (c *compiler) callSignature(ft wasm.FuncType) LocationSignature {
	if len(ft.Results) > 1 {
		c.fail(ErrUnsupported, "call of function with %d results", len(ft.Results))
	}
	return NewLocationSignature(ft)
}

func (c *compiler) emitCall(index uint32) {
	ft, err := c.module.FuncType(index)
	if err != nil {
		c.malformed("%v", err)
	}
	sig := c.callSignature(ft)
	c.prepareCall(ft, sig, amd64.RegUnknown)
	c.machine(MachineInst{Kind: MachineCall, Index: index}, func() {
		addr := c.unusedRegister(amd64.GPReg, nil, sig.ParamRegisters())
		c.loadRef(addr, asm.RefFunc, index)
		amd64.CallReg(c.buf, addr)
	})
	c.finishCall(sig)
}

func (c *compiler) emitCallIndirect(typeIndex uint32) {
	ft, err := c.module.Type(typeIndex)
	if err != nil {
		c.malformed("%v", err)
	}
	sig := c.callSignature(ft)
	canonical := c.module.CanonicalType(typeIndex)

	c.expect(0, wasm.I32)
	index := c.popToRegister(0)
	pinned := amd64.RegListOf(index)
	table := c.unusedRegister(amd64.GPReg, nil, pinned)
	pinned = pinned.Set(table)
	target := c.unusedRegister(amd64.GPReg, nil, pinned)

	invalid := c.addTrap(TrapFuncInvalid)
	c.loadRef(table, asm.RefTableSize, 0)
	amd64.MovRM(c.buf, wasm.I32, table, amd64.MemAt(table, 0))
	amd64.CmpRR(c.buf, wasm.I32, index, table)
	amd64.Jcc(c.buf, amd64.CondGeU, invalid, amd64.Far)

	mismatch := c.addTrap(TrapFuncSigMismatch)
	c.loadRef(table, asm.RefTableSigs, 0)
	amd64.MovRM(c.buf, wasm.I32, table, amd64.MemIndex(table, index, 4, 0))
	amd64.ALURI(c.buf, amd64.ALUCmp, wasm.I32, table, int32(canonical))
	amd64.Jcc(c.buf, amd64.CondNe, mismatch, amd64.Far)

	c.loadRef(table, asm.RefTable, 0)
	amd64.MovRM(c.buf, wasm.I64, target, amd64.MemIndex(table, index, 8, 0))

	target = c.prepareCall(ft, sig, target)
	c.machine(MachineInst{Kind: MachineCall, Index: typeIndex}, func() {
		amd64.CallReg(c.buf, target)
	})
	c.finishCall(sig)
}

// prepareCall spills everything below the arguments, pushes the stack
// arguments and loads the register arguments. A target held in an argument
// register is moved out of the way; the register that holds it at the call
// is returned. The arguments are popped and no register is in use afterwards.
func (c *compiler) prepareCall(ft wasm.FuncType, sig LocationSignature, target amd64.Register) amd64.Register {
	n := len(ft.Params)
	if c.state.Height()-n < c.control.Top().StackBase {
		c.malformed("call needs %d arguments, %d on the stack", n, c.state.Height()-c.control.Top().StackBase)
	}
	base := c.state.Height() - n
	for i, t := range ft.Params {
		c.expect(n-1-i, t)
	}

	for i := 0; i < base; i++ {
		slot := &c.state.Stack[i]
		if slot.Loc != LocRegister {
			continue
		}
		amd64.Spill(c.buf, slot.Type, i, slot.Reg)
		c.noteSpill(i)
		*slot = stackSlot(slot.Type)
	}

	if sig.StackPadding() {
		amd64.Push(c.buf, amd64.RAX)
	}
	r := c.newRecipe(&c.state)
	for i := n - 1; i >= 0; i-- {
		loc := sig.Params[i]
		slot := c.state.Stack[base+i]
		if loc.Loc == LocRegister {
			r.LoadIntoRegister(loc.Reg, slot, base+i)
			continue
		}
		switch slot.Loc {
		case LocStack:
			if slot.Type == wasm.I32 {
				amd64.MovRM(c.buf, wasm.I32, amd64.ScratchGP, amd64.SlotMem(base+i))
				amd64.Push(c.buf, amd64.ScratchGP)
			} else {
				amd64.PushMem(c.buf, amd64.SlotMem(base+i))
			}
		case LocRegister:
			amd64.PushValue(c.buf, slot.Type, slot.Reg)
		case LocConst:
			amd64.PushImm(c.buf, slot.Const)
		}
	}
	if target != amd64.RegUnknown && sig.ParamRegisters().Has(target) {
		free := amd64.ClassMask(amd64.GPReg) &^ sig.ParamRegisters() &^ amd64.NonAllocable
		moved := free.First()
		r.MoveRegister(moved, target, wasm.I64)
		target = moved
	}
	r.Execute()

	c.state.Stack = c.state.Stack[:base]
	c.state.ResetUsed()
	return target
}

// finishCall pops the stack arguments and pushes the result.
func (c *compiler) finishCall(sig LocationSignature) {
	if slots := sig.StackParams; slots > 0 {
		if sig.StackPadding() {
			slots++
		}
		amd64.ALURI(c.buf, amd64.ALUAdd, wasm.I64, amd64.RSP, int32(slots*amd64.StackSlotSize))
	}
	if sig.HasResult {
		c.state.PushRegister(sig.ResultType, sig.Result)
	}
}
