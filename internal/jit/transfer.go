package jit

import (
	"slices"

	"github.com/tinyrange/wasmjit/internal/asm/amd64"
	"github.com/tinyrange/wasmjit/internal/wasm"
)

type registerMove struct {
	src amd64.Register
	typ wasm.ValueType
}

type registerLoad struct {
	loc   Location
	typ   wasm.ValueType
	value int32
	index int
}

// StackTransferRecipe collects the register moves and loads that turn one
// stack layout into another. Writes to frame slots are emitted as soon as
// they are recorded; register moves are ordered so that no register is
// overwritten before every move reading it ran, with cycles broken through
// a free frame slot; loads into registers run last.
//
// Because frame writes are not deferred, a slot must not be written after
// a reload from it was recorded, nor reloaded after it was written. Branches
// carry at most one value, so only the moved tail value and locals (which
// keep their index) are involved and the two never meet; the recipe checks
// it anyway.
type StackTransferRecipe struct {
	c *compiler

	moveDst amd64.RegList
	moves   [amd64.NumRegisters]registerMove
	srcUse  [amd64.NumRegisters]int

	loadDst amd64.RegList
	loads   [amd64.NumRegisters]registerLoad

	slotWrites []int
	slotReads  []int

	// spillBase is the first frame slot free for breaking move cycles.
	spillBase int
}

// newRecipe starts a recipe reading from src. Cycle breaking uses frame
// slots above both src and the live state.
func (c *compiler) newRecipe(src *CacheState) *StackTransferRecipe {
	base := max(c.state.Height(), src.Height())
	return &StackTransferRecipe{c: c, spillBase: base}
}

// MoveRegister records dst <- src.
func (r *StackTransferRecipe) MoveRegister(dst, src amd64.Register, t wasm.ValueType) {
	if r.moveDst.Has(dst) {
		if r.moves[dst].src != src {
			r.c.internal("conflicting moves into %s from %s and %s", dst, r.moves[dst].src, src)
		}
		// One register can hold the zero of both float widths.
		if t.Is64() {
			r.moves[dst].typ = t
		}
		return
	}
	r.moveDst = r.moveDst.Set(dst)
	r.srcUse[src]++
	r.moves[dst] = registerMove{src: src, typ: t}
}

// LoadConst records dst <- constant.
func (r *StackTransferRecipe) LoadConst(dst amd64.Register, t wasm.ValueType, v int32) {
	if r.loadDst.Has(dst) {
		r.c.internal("register %s loaded twice", dst)
	}
	r.loadDst = r.loadDst.Set(dst)
	r.loads[dst] = registerLoad{loc: LocConst, typ: t, value: v}
}

// LoadStackSlot records dst <- frame slot index.
func (r *StackTransferRecipe) LoadStackSlot(dst amd64.Register, index int, t wasm.ValueType) {
	if slices.Contains(r.slotWrites, index) {
		r.c.internal("frame slot %d reloaded after the transfer overwrote it", index)
	}
	r.slotReads = append(r.slotReads, index)
	if r.loadDst.Has(dst) {
		// The same register spilled to several slots reloads from any one.
		return
	}
	r.loadDst = r.loadDst.Set(dst)
	r.loads[dst] = registerLoad{loc: LocStack, typ: t, index: index}
}

// LoadIntoRegister records dst <- the value of src, which lives at index.
func (r *StackTransferRecipe) LoadIntoRegister(dst amd64.Register, src StackSlot, index int) {
	switch src.Loc {
	case LocStack:
		r.LoadStackSlot(dst, index, src.Type)
	case LocRegister:
		if dst.Class() != src.Reg.Class() {
			r.c.internal("move %s into %s across register classes", src.Reg, dst)
		}
		if dst != src.Reg {
			r.MoveRegister(dst, src.Reg, src.Type)
		}
	case LocConst:
		r.LoadConst(dst, src.Type, src.Const)
	}
}

// TransferStackSlot makes dst (at dstIndex in the target layout) hold the
// value src has at srcIndex in the current layout.
func (r *StackTransferRecipe) TransferStackSlot(dst, src StackSlot, dstIndex, srcIndex int) {
	b := r.c.buf
	switch dst.Loc {
	case LocStack:
		if src.Loc == LocStack && dstIndex == srcIndex {
			return
		}
		if slices.Contains(r.slotReads, dstIndex) {
			r.c.internal("frame slot %d overwritten before its pending reload", dstIndex)
		}
		switch src.Loc {
		case LocStack:
			if slices.Contains(r.slotWrites, srcIndex) {
				r.c.internal("frame slot %d read after the transfer overwrote it", srcIndex)
			}
			scratch := amd64.ScratchGP
			if src.Type.IsFloat() {
				scratch = amd64.ScratchFP
			}
			amd64.Fill(b, src.Type, scratch, srcIndex)
			amd64.Spill(b, src.Type, dstIndex, scratch)
		case LocRegister:
			amd64.Spill(b, src.Type, dstIndex, src.Reg)
		case LocConst:
			amd64.SpillConst(b, src.Type, dstIndex, constBits(src))
		}
		r.c.noteSpill(dstIndex)
		r.slotWrites = append(r.slotWrites, dstIndex)
	case LocRegister:
		r.LoadIntoRegister(dst.Reg, src, srcIndex)
	case LocConst:
		if src.Loc != LocConst || src.Const != dst.Const {
			r.c.internal("merge of %s into constant slot %s", src, dst)
		}
	}
}

// Execute emits the recorded moves and loads.
func (r *StackTransferRecipe) Execute() {
	r.executeMoves()
	r.executeLoads()
}

func (r *StackTransferRecipe) executeMoves() {
	for _, dst := range r.moveDst.Registers() {
		if r.moveDst.Has(dst) && r.srcUse[dst] == 0 {
			r.executeMove(dst)
		}
	}
	// What is left forms cycles. Save one source of each cycle in a frame
	// slot, which unblocks the rest of the cycle.
	next := r.spillBase
	for !r.moveDst.Empty() {
		dst := r.moveDst.First()
		m := r.moves[dst]
		amd64.Spill(r.c.buf, m.typ, next, m.src)
		r.c.noteSpill(next)
		r.LoadStackSlot(dst, next, m.typ)
		next++
		r.clearExecutedMove(dst)
	}
}

func (r *StackTransferRecipe) executeMove(dst amd64.Register) {
	m := r.moves[dst]
	amd64.Move(r.c.buf, m.typ, dst, m.src)
	r.clearExecutedMove(dst)
}

func (r *StackTransferRecipe) clearExecutedMove(dst amd64.Register) {
	src := r.moves[dst].src
	r.moveDst = r.moveDst.Clear(dst)
	r.srcUse[src]--
	if r.srcUse[src] == 0 && r.moveDst.Has(src) {
		r.executeMove(src)
	}
}

func (r *StackTransferRecipe) executeLoads() {
	for _, dst := range r.loadDst.Registers() {
		l := r.loads[dst]
		switch l.loc {
		case LocConst:
			amd64.LoadConstant(r.c.buf, l.typ, dst, constBits(constSlot(l.typ, l.value)))
		case LocStack:
			amd64.Fill(r.c.buf, l.typ, dst, l.index)
		}
	}
	r.loadDst = 0
}
