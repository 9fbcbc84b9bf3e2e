package jit

import (
	"github.com/tinyrange/wasmjit/internal/asm"
	"github.com/tinyrange/wasmjit/internal/asm/amd64"
	"github.com/tinyrange/wasmjit/internal/wasm"
)

// machine wraps the emission of one machine level construct in observer
// callbacks.
func (c *compiler) machine(mi MachineInst, emit func()) {
	for _, o := range c.ctx.Observers {
		o.MachineInstStart(c.event(), mi)
	}
	emit()
	for _, o := range c.ctx.Observers {
		o.MachineInstEnd(c.event(), mi)
	}
}

func (c *compiler) uncondBranch(l *asm.Label, depth int) {
	c.machine(MachineInst{Kind: MachineUncondBranch, Depth: depth}, func() {
		amd64.Jmp(c.buf, l, amd64.Far)
	})
}

func (c *compiler) condBranch(cc amd64.Condition, l *asm.Label, t wasm.ValueType, lhs, rhs amd64.Register, depth int) {
	c.machine(MachineInst{Kind: MachineCondBranch, Depth: depth}, func() {
		amd64.CondJump(c.buf, cc, l, t, lhs, rhs)
	})
}

func (c *compiler) brTableBranch(cc amd64.Condition, l *asm.Label, value, bound amd64.Register) {
	c.machine(MachineInst{Kind: MachineBrTableBranch}, func() {
		amd64.CondJump(c.buf, cc, l, wasm.I32, value, bound)
	})
}

func (c *compiler) bind(l *asm.Label, depth int) {
	c.machine(MachineInst{Kind: MachineBind, Depth: depth}, func() {
		c.buf.Bind(l)
	})
}

func (c *compiler) controlStart(kind ControlKind) {
	for _, o := range c.ctx.Observers {
		o.ControlStart(c.event(), kind)
	}
}

func (c *compiler) controlEnd(kind ControlKind) {
	for _, o := range c.ctx.Observers {
		o.ControlEnd(c.event(), kind)
	}
}

// pushBlock opens a frame for in whose operand stack starts at the current
// height.
func (c *compiler) pushBlock(kind ControlKind, in *wasm.Instr) *ControlBlock {
	if in.Block.Arity() > 1 {
		c.fail(ErrUnsupported, "block with %d results", in.Block.Arity())
	}
	b := c.control.Push(kind, in.Block.Results)
	b.StackBase = c.state.Height()
	b.LabelState.StackBase = b.StackBase
	b.instr = in
	b.body = in.Body
	return b
}

func (c *compiler) emitBlock(in *wasm.Instr) {
	c.pushBlock(KindBlock, in)
	c.controlStart(KindBlock)
}

func (c *compiler) emitLoop(in *wasm.Instr) {
	b := c.pushBlock(KindLoop, in)
	c.spillLocals()
	c.controlStart(KindLoop)
	c.bind(&b.Label, 0)
	b.LabelState = c.state.Clone()
	b.LabelState.StackBase = b.StackBase
	b.StartReached = true
}

func (c *compiler) emitIf(in *wasm.Instr) {
	c.expect(0, wasm.I32)
	cond := c.popToRegister(0)
	b := c.pushBlock(KindIf, in)
	c.controlStart(KindIf)
	c.condBranch(amd64.CondEq, &b.ElseLabel, wasm.I32, cond, amd64.RegUnknown, 0)
	es := c.state.Clone()
	b.ElseState = &es
}

func (c *compiler) emitElse() {
	b := c.control.Top()
	if b.Kind != KindIf {
		c.malformed("else outside of if")
	}
	if b.Reached() {
		if !b.EndReached {
			c.initMerge(&b.LabelState, &c.state, b.OutArity)
		}
		c.mergeFull(&b.LabelState, &c.state)
		c.uncondBranch(&b.Label, 0)
		b.EndReached = true
	}
	b.Kind = KindElse
	c.bind(&b.ElseLabel, 0)
	c.state.Steal(b.ElseState)
	b.ElseState = nil
	b.Reachability = c.control.At(1).InnerReachability()
	b.body = b.instr.Else
	b.pos = 0
}

func (c *compiler) emitEnd() {
	b := c.control.Top()
	if c.control.Depth() == 1 {
		if b.Reachability != Unreachable {
			if c.state.Height() != b.StackBase+b.OutArity {
				c.malformed("stack height %d at end, expected %d", c.state.Height(), b.StackBase+b.OutArity)
			}
			c.returnImpl()
		}
		c.controlEnd(b.Kind)
		c.control.Pop()
		return
	}

	parentReached := b.Reached() || b.EndReached || b.OneArmedIf()
	switch {
	case b.OneArmedIf():
		c.finishOneArmedIf(b)
	case !b.Reached() && (b.Kind == KindLoop || !b.EndReached):
		c.resetToResults(b)
	case b.EndReached:
		if b.Reached() {
			c.mergeFull(&b.LabelState, &c.state)
		}
		c.state.Steal(&b.LabelState)
	default:
		if c.state.Height() != b.StackBase+b.OutArity {
			c.malformed("stack height %d at end, expected %d", c.state.Height(), b.StackBase+b.OutArity)
		}
	}
	if b.OneArmedIf() {
		c.postFinishOneArmedIf(b)
	}

	c.controlEnd(b.Kind)
	if b.Kind != KindLoop {
		c.bind(&b.Label, 0)
	}
	c.control.Pop()
	if parent := c.control.Top(); !parentReached && parent.Reached() {
		parent.Reachability = SpecOnlyReachable
	}
}

// resetToResults replaces the dead state at the end of b with its results
// in frame slots, so the code that follows sees a consistent height.
func (c *compiler) resetToResults(b *ControlBlock) {
	c.state.Truncate(b.StackBase)
	for _, t := range b.Results {
		c.noteSpill(c.state.Height())
		c.state.Push(stackSlot(t))
	}
}

func (c *compiler) finishOneArmedIf(b *ControlBlock) {
	if b.OutArity != 0 {
		c.malformed("if without else produces %d values", b.OutArity)
	}
	if b.EndReached {
		if b.Reached() {
			c.mergeFull(&b.LabelState, &c.state)
			c.uncondBranch(&b.Label, 0)
		}
		return
	}
	if b.Reached() {
		c.initMerge(&b.LabelState, b.ElseState, 0)
		c.mergeFull(&b.LabelState, &c.state)
		c.uncondBranch(&b.Label, 0)
	}
}

// postFinishOneArmedIf joins the implicit empty else with the end label.
func (c *compiler) postFinishOneArmedIf(b *ControlBlock) {
	c.bind(&b.ElseLabel, 0)
	if b.EndReached || b.Reached() {
		c.mergeFull(&b.LabelState, b.ElseState)
		c.state.Steal(&b.LabelState)
	} else {
		c.state.Steal(b.ElseState)
	}
	b.ElseState = nil
}

func (c *compiler) target(depth int) *ControlBlock {
	if depth < 0 || depth >= c.control.Depth() {
		c.malformed("branch depth %d with %d open blocks", depth, c.control.Depth())
	}
	return c.control.At(depth)
}

func (c *compiler) emitBr(depth int) {
	c.target(depth)
	if c.control.Top().Reached() || depth == c.control.Depth()-1 {
		c.brOrRet(depth)
	}
	c.control.Top().End()
}

// brOrRet branches to depth, which returns for the function block.
func (c *compiler) brOrRet(depth int) {
	if depth == c.control.Depth()-1 {
		c.returnImpl()
		return
	}
	b := c.target(depth)
	c.brImpl(b, depth)
	b.MarkTargetReached()
}

func (c *compiler) brImpl(b *ControlBlock, depth int) {
	arity := b.BranchArity()
	if !b.TargetReached() {
		if b.LabelState.Height() != 0 {
			base := b.LabelState.StackBase
			b.LabelState = NewCacheState()
			b.LabelState.StackBase = base
		}
		c.initMerge(&b.LabelState, &c.state, arity)
	}
	c.mergeStackWith(&b.LabelState, &c.state, arity)
	c.uncondBranch(&b.Label, depth)
}

func (c *compiler) emitBrIf(depth int) {
	c.target(depth)
	c.expect(0, wasm.I32)
	if !c.control.Top().Reached() {
		c.state.Drop()
		return
	}
	cond := c.popToRegister(0)
	var cont asm.Label
	c.condBranch(amd64.CondEq, &cont, wasm.I32, cond, amd64.RegUnknown, depth)
	c.brOrRet(depth)
	c.bind(&cont, depth)
}

func (c *compiler) emitBrTable(in *wasm.Instr) {
	def := c.target(int(in.Default))
	for _, d := range in.Targets {
		if t := c.target(int(d)); t.BranchArity() != def.BranchArity() {
			c.malformed("br_table target %d carries %d values, default carries %d", d, t.BranchArity(), def.BranchArity())
		}
	}
	c.expect(0, wasm.I32)
	top := c.control.Top()
	if !top.Reached() {
		c.state.Drop()
		top.End()
		return
	}

	value := c.popToRegister(0)
	labels := make([]asm.Label, c.control.Depth())
	if n := len(in.Targets); n > 0 {
		tmp := c.unusedRegister(amd64.GPReg, nil, amd64.RegListOf(value))
		var caseDefault asm.Label
		amd64.LoadConstant(c.buf, wasm.I32, tmp, uint64(n))
		c.brTableBranch(amd64.CondGeU, &caseDefault, value, tmp)
		c.generateBrTable(labels, in.Targets, value, tmp, 0, n)
		c.bind(&caseDefault, int(in.Default))
	}
	c.generateBrCase(labels, int(in.Default))
	top.End()
}

// generateBrTable emits a binary search over targets[min:max] on value.
func (c *compiler) generateBrTable(labels []asm.Label, targets []uint32, value, tmp amd64.Register, min, max int) {
	if max-min == 1 {
		c.generateBrCase(labels, int(targets[min]))
		return
	}
	split := min + (max-min)/2
	var upper asm.Label
	amd64.LoadConstant(c.buf, wasm.I32, tmp, uint64(split))
	c.brTableBranch(amd64.CondGeU, &upper, value, tmp)
	c.generateBrTable(labels, targets, value, tmp, min, split)
	c.bind(&upper, 0)
	c.generateBrTable(labels, targets, value, tmp, split, max)
}

// generateBrCase emits the branch to depth once and reuses it for later
// cases with the same target.
func (c *compiler) generateBrCase(labels []asm.Label, depth int) {
	l := &labels[depth]
	if l.Bound() {
		c.uncondBranch(l, depth)
		return
	}
	c.bind(l, depth)
	c.brOrRet(depth)
}

// returnImpl moves the result into the return register and leaves the
// function.
func (c *compiler) returnImpl() {
	results := 0
	if c.sig.HasResult {
		results = 1
	}
	if h := c.state.Height(); h < c.control.Top().StackBase+results || h < c.numLocals+results {
		c.malformed("return needs %d values, stack height is %d", results, h)
	}
	if c.sig.HasResult {
		c.expect(0, c.sig.ResultType)
		r := c.newRecipe(&c.state)
		r.LoadIntoRegister(c.sig.Result, *c.state.Peek(0), c.state.Height()-1)
		r.Execute()
	}
	c.machine(MachineInst{Kind: MachineReturn}, func() {
		amd64.Epilogue(c.buf)
	})
}

func (c *compiler) emitUnreachable() {
	l := c.addTrap(TrapUnreachable)
	amd64.Jmp(c.buf, l, amd64.Far)
	c.control.Top().End()
}
