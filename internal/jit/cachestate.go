package jit

import (
	"fmt"
	"strings"

	"github.com/tinyrange/wasmjit/internal/asm/amd64"
	"github.com/tinyrange/wasmjit/internal/wasm"
)

// Location says where the value of a stack slot lives.
type Location uint8

const (
	// LocStack values live in the frame slot with the same index.
	LocStack Location = iota
	LocRegister
	// LocConst values are 32-bit immediates, sign-extended for i64.
	LocConst
)

func (l Location) String() string {
	switch l {
	case LocStack:
		return "stack"
	case LocRegister:
		return "reg"
	case LocConst:
		return "const"
	default:
		return fmt.Sprintf("Location(%d)", uint8(l))
	}
}

// StackSlot is the compiler's view of one local or operand stack entry.
type StackSlot struct {
	Type  wasm.ValueType
	Loc   Location
	Reg   amd64.Register
	Const int32
}

func (s StackSlot) String() string {
	switch s.Loc {
	case LocRegister:
		return fmt.Sprintf("%s:%s", s.Type, s.Reg)
	case LocConst:
		return fmt.Sprintf("%s:#%d", s.Type, s.Const)
	default:
		return fmt.Sprintf("%s:stack", s.Type)
	}
}

func stackSlot(t wasm.ValueType) StackSlot {
	return StackSlot{Type: t, Loc: LocStack, Reg: amd64.RegUnknown}
}

func registerSlot(t wasm.ValueType, r amd64.Register) StackSlot {
	return StackSlot{Type: t, Loc: LocRegister, Reg: r}
}

func constSlot(t wasm.ValueType, v int32) StackSlot {
	return StackSlot{Type: t, Loc: LocConst, Reg: amd64.RegUnknown, Const: v}
}

// CacheState models the locals and the operand stack. Slot i is backed by
// frame slot i whenever it is spilled. Used always contains
// amd64.NonAllocable; every other register is in Used exactly when its
// UseCount is non-zero, and UseCount counts the slots holding it.
type CacheState struct {
	Stack       []StackSlot
	StackBase   int
	Used        amd64.RegList
	UseCount    [amd64.NumRegisters]uint32
	LastSpilled amd64.RegList
}

// NewCacheState returns an empty state with only the reserved registers in
// use.
func NewCacheState() CacheState {
	return CacheState{Used: amd64.NonAllocable}
}

// Height returns the number of slots, locals included.
func (s *CacheState) Height() int { return len(s.Stack) }

// Clone returns an independent copy of s.
func (s *CacheState) Clone() CacheState {
	out := *s
	out.Stack = append([]StackSlot(nil), s.Stack...)
	return out
}

// Steal moves src into s and leaves src empty.
func (s *CacheState) Steal(src *CacheState) {
	*s = *src
	*src = CacheState{}
}

func (s *CacheState) IncUsed(r amd64.Register) {
	s.Used = s.Used.Set(r)
	s.UseCount[r]++
}

func (s *CacheState) DecUsed(r amd64.Register) {
	if s.UseCount[r] == 0 {
		return
	}
	s.UseCount[r]--
	if s.UseCount[r] == 0 {
		s.Used = s.Used.Clear(r)
	}
}

// ClearUsed forgets every reference to r.
func (s *CacheState) ClearUsed(r amd64.Register) {
	s.UseCount[r] = 0
	s.Used = s.Used.Clear(r)
}

// ResetUsed forgets every register reference.
func (s *CacheState) ResetUsed() {
	s.Used = amd64.NonAllocable
	s.UseCount = [amd64.NumRegisters]uint32{}
}

// IsFree reports whether r can be handed out without spilling.
func (s *CacheState) IsFree(r amd64.Register) bool {
	return r.Valid() && !s.Used.Has(r)
}

// Unused returns the free registers of class c that are not pinned.
func (s *CacheState) Unused(c amd64.RegClass, pinned amd64.RegList) amd64.RegList {
	return amd64.ClassMask(c) &^ s.Used &^ pinned
}

func (s *CacheState) Push(slot StackSlot) {
	if slot.Loc == LocRegister {
		s.IncUsed(slot.Reg)
	}
	s.Stack = append(s.Stack, slot)
}

func (s *CacheState) PushRegister(t wasm.ValueType, r amd64.Register) {
	s.Push(registerSlot(t, r))
}

func (s *CacheState) PushConst(t wasm.ValueType, v int32) {
	s.Push(constSlot(t, v))
}

// Pop removes the top slot without touching register counts.
func (s *CacheState) Pop() StackSlot {
	top := s.Stack[len(s.Stack)-1]
	s.Stack = s.Stack[:len(s.Stack)-1]
	return top
}

// Drop removes the top slot and releases its register.
func (s *CacheState) Drop() StackSlot {
	top := s.Pop()
	if top.Loc == LocRegister {
		s.DecUsed(top.Reg)
	}
	return top
}

// Truncate drops slots down to height.
func (s *CacheState) Truncate(height int) {
	for len(s.Stack) > height {
		s.Drop()
	}
}

// Peek returns the slot depth entries below the top.
func (s *CacheState) Peek(depth int) *StackSlot {
	return &s.Stack[len(s.Stack)-1-depth]
}

// Check verifies that Used and UseCount agree with the slots.
func (s *CacheState) Check() error {
	var counts [amd64.NumRegisters]uint32
	for i, slot := range s.Stack {
		if slot.Loc != LocRegister {
			continue
		}
		if !slot.Reg.Valid() || amd64.NonAllocable.Has(slot.Reg) {
			return fmt.Errorf("slot %d holds reserved register %s", i, slot.Reg)
		}
		if slot.Reg.Class() != amd64.ClassOf(slot.Type) {
			return fmt.Errorf("slot %d of type %s in register %s", i, slot.Type, slot.Reg)
		}
		counts[slot.Reg]++
	}
	for r := amd64.Register(0); r < amd64.RegUnknown; r++ {
		if amd64.NonAllocable.Has(r) {
			if !s.Used.Has(r) {
				return fmt.Errorf("reserved register %s not marked used", r)
			}
			continue
		}
		if counts[r] != s.UseCount[r] {
			return fmt.Errorf("register %s referenced %d times, use count %d", r, counts[r], s.UseCount[r])
		}
		if (counts[r] != 0) != s.Used.Has(r) {
			return fmt.Errorf("register %s use count %d disagrees with used set %s", r, counts[r], s.Used)
		}
	}
	return nil
}

func (s *CacheState) String() string {
	var sb strings.Builder
	sb.WriteString("[")
	for i, slot := range s.Stack {
		if i > 0 {
			sb.WriteString(" ")
		}
		if i == s.StackBase && i != 0 {
			sb.WriteString("| ")
		}
		sb.WriteString(slot.String())
	}
	sb.WriteString("]")
	return sb.String()
}
