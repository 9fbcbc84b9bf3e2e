package jit

import (
	"github.com/tinyrange/wasmjit/internal/asm/amd64"
	"github.com/tinyrange/wasmjit/internal/wasm"
)

// noteSpill records that frame slot index is written.
func (c *compiler) noteSpill(index int) {
	if index+1 > c.frameSlots {
		c.frameSlots = index + 1
	}
}

// unusedRegister returns a free register of class rc, preferring tryFirst and
// never returning a pinned one. When the class is exhausted it spills.
func (c *compiler) unusedRegister(rc amd64.RegClass, tryFirst []amd64.Register, pinned amd64.RegList) amd64.Register {
	for _, r := range tryFirst {
		if r.Valid() && r.Class() == rc && c.state.IsFree(r) && !pinned.Has(r) {
			return r
		}
	}
	if free := c.state.Unused(rc, pinned); !free.Empty() {
		return free.First()
	}
	return c.spillOneRegister(rc, pinned)
}

// spillOneRegister frees a register of class rc, rotating through the
// candidates so repeated pressure does not keep evicting the same value.
func (c *compiler) spillOneRegister(rc amd64.RegClass, pinned amd64.RegList) amd64.Register {
	candidates := c.state.Used & amd64.ClassMask(rc) &^ pinned &^ amd64.NonAllocable
	if candidates.Empty() {
		c.internal("no %s register left to spill (pinned %s)", rc, pinned)
	}
	unspilled := candidates &^ c.state.LastSpilled
	if unspilled.Empty() {
		c.state.LastSpilled = 0
		unspilled = candidates
	}
	r := unspilled.First()
	c.state.LastSpilled = c.state.LastSpilled.Set(r)
	c.spillRegister(r)
	return r
}

// spillRegister writes every slot held in r to its frame slot.
func (c *compiler) spillRegister(r amd64.Register) {
	remaining := c.state.UseCount[r]
	for i := c.state.Height() - 1; i >= 0 && remaining > 0; i-- {
		slot := &c.state.Stack[i]
		if slot.Loc != LocRegister || slot.Reg != r {
			continue
		}
		amd64.Spill(c.buf, slot.Type, i, r)
		c.noteSpill(i)
		*slot = stackSlot(slot.Type)
		remaining--
	}
	if remaining != 0 {
		c.internal("register %s use count exceeds its slots", r)
	}
	c.state.ClearUsed(r)
}

// spillSlot moves slot index to its frame slot.
func (c *compiler) spillSlot(index int) {
	slot := &c.state.Stack[index]
	switch slot.Loc {
	case LocRegister:
		amd64.Spill(c.buf, slot.Type, index, slot.Reg)
		c.state.DecUsed(slot.Reg)
	case LocConst:
		amd64.SpillConst(c.buf, slot.Type, index, constBits(*slot))
	default:
		return
	}
	c.noteSpill(index)
	*slot = stackSlot(slot.Type)
}

func (c *compiler) spillLocals() {
	for i := 0; i < c.numLocals; i++ {
		c.spillSlot(i)
	}
}

// pop removes the top operand, refusing to reach into the enclosing block.
func (c *compiler) pop() StackSlot {
	if c.state.Height() <= c.control.Top().StackBase {
		c.malformed("operand stack underflow")
	}
	return c.state.Pop()
}

// popToRegister pops the top operand into a register that is not pinned. The
// register is released in the state; callers pin it while they need it.
func (c *compiler) popToRegister(pinned amd64.RegList) amd64.Register {
	slot := c.pop()
	if slot.Loc == LocRegister {
		c.state.DecUsed(slot.Reg)
		return slot.Reg
	}
	r := c.unusedRegister(amd64.ClassOf(slot.Type), nil, pinned)
	c.materialize(r, slot, c.state.Height())
	return r
}

// materialize loads a stack or constant slot at index into r.
func (c *compiler) materialize(r amd64.Register, slot StackSlot, index int) {
	switch slot.Loc {
	case LocStack:
		amd64.Fill(c.buf, slot.Type, r, index)
	case LocConst:
		amd64.LoadConstant(c.buf, slot.Type, r, constBits(slot))
	case LocRegister:
		amd64.Move(c.buf, slot.Type, r, slot.Reg)
	}
}

// constBits returns the raw bits of a constant slot.
func constBits(slot StackSlot) uint64 {
	if slot.Type == wasm.I64 {
		return uint64(int64(slot.Const))
	}
	return uint64(uint32(slot.Const))
}
