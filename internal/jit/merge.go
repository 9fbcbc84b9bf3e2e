package jit

import "github.com/tinyrange/wasmjit/internal/asm/amd64"

// initMerge lays out dst, an empty join state, for control arriving from
// src with arity values on top:
//
//	|--locals--|--in between--|--discarded--|--merge--|
//	                           ^dst.StackBase
//
// Locals and merged values try to stay in their registers, the region in
// between keeps constants and shares registers the way src does.
func (c *compiler) initMerge(dst, src *CacheState, arity int) {
	target := dst.StackBase + arity
	discarded := src.Height() - target
	if dst.Height() != 0 {
		c.internal("join state initialised twice")
	}
	if discarded < 0 || src.Height() < dst.StackBase {
		c.malformed("branch carries %d values but only %d are on the stack", arity, src.Height()-dst.StackBase)
	}
	dst.Stack = make([]StackSlot, target)

	used := amd64.NonAllocable
	for i := 0; i < c.numLocals; i++ {
		if s := src.Stack[i]; s.Loc == LocRegister {
			used = used.Set(s.Reg)
		}
	}
	mergeBegin := dst.StackBase + discarded
	for i := 0; i < arity; i++ {
		if s := src.Stack[mergeBegin+i]; s.Loc == LocRegister {
			used = used.Set(s.Reg)
		}
	}

	// A merge region that moves has to be loaded anyway, so turn its stack
	// slots into registers.
	initMergeRegion(dst, dst.StackBase, src, mergeBegin, arity, discarded == 0, false, false, used)
	initMergeRegion(dst, 0, src, 0, c.numLocals, true, false, false, used)
	if used&dst.Used != used {
		c.internal("merge registers %s not all in use after merge (%s)", used, dst.Used)
	}
	initMergeRegion(dst, c.numLocals, src, c.numLocals, dst.StackBase-c.numLocals, true, true, true, used)
}

func initMergeRegion(dst *CacheState, dstBegin int, src *CacheState, srcBegin, count int, keepStack, allowConst, reuse bool, used amd64.RegList) {
	var reused map[amd64.Register]amd64.Register
	if reuse {
		reused = make(map[amd64.Register]amd64.Register)
	}
	for i := 0; i < count; i++ {
		s := src.Stack[srcBegin+i]
		d := &dst.Stack[dstBegin+i]
		if (s.Loc == LocStack && keepStack) || (s.Loc == LocConst && allowConst) {
			*d = s
			continue
		}
		reg := amd64.RegUnknown
		if s.Loc == LocRegister && dst.IsFree(s.Reg) {
			reg = s.Reg
		}
		if reg == amd64.RegUnknown && reuse && s.Loc == LocRegister {
			if r, ok := reused[s.Reg]; ok {
				reg = r
			}
		}
		if reg == amd64.RegUnknown {
			if free := dst.Unused(amd64.ClassOf(s.Type), used); !free.Empty() {
				reg = free.First()
			}
		}
		if reg == amd64.RegUnknown {
			*d = stackSlot(s.Type)
			continue
		}
		if reuse && s.Loc == LocRegister {
			reused[s.Reg] = reg
		}
		dst.IncUsed(reg)
		*d = registerSlot(s.Type, reg)
	}
}

// mergeFull moves every slot of src into the layout of dst.
func (c *compiler) mergeFull(dst, src *CacheState) {
	if dst.Height() != src.Height() {
		c.malformed("stack height %d at join, expected %d", src.Height(), dst.Height())
	}
	r := c.newRecipe(src)
	for i := range src.Stack {
		r.TransferStackSlot(dst.Stack[i], src.Stack[i], i, i)
	}
	r.Execute()
}

// mergeStackWith moves the state of a branch carrying arity values into dst.
// Values between the target height and the branch values are discarded.
func (c *compiler) mergeStackWith(dst, src *CacheState, arity int) {
	dstHeight, srcHeight := dst.Height(), src.Height()
	if dstHeight > srcHeight || arity > dstHeight {
		c.malformed("branch from height %d to height %d with %d values", srcHeight, dstHeight, arity)
	}
	dstBase, srcBase := dstHeight-arity, srcHeight-arity
	r := c.newRecipe(src)
	for i := 0; i < dstBase; i++ {
		r.TransferStackSlot(dst.Stack[i], src.Stack[i], i, i)
	}
	for i := 0; i < arity; i++ {
		r.TransferStackSlot(dst.Stack[dstBase+i], src.Stack[srcBase+i], dstBase+i, srcBase+i)
	}
	r.Execute()
}
