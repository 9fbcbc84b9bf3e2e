package jit

import (
	"fmt"

	"github.com/tinyrange/wasmjit/internal/asm"
	"github.com/tinyrange/wasmjit/internal/wasm"
)

// ControlKind is the kind of a structured control frame.
type ControlKind uint8

const (
	KindBlock ControlKind = iota
	KindLoop
	KindIf
	KindElse
)

func (k ControlKind) String() string {
	switch k {
	case KindBlock:
		return "block"
	case KindLoop:
		return "loop"
	case KindIf:
		return "if"
	case KindElse:
		return "else"
	default:
		return fmt.Sprintf("ControlKind(%d)", uint8(k))
	}
}

// Reachability of the code currently being compiled in a frame.
type Reachability uint8

const (
	Reachable Reachability = iota
	// SpecOnlyReachable code is compiled but never executed: the only ways
	// into it are type-checking paths.
	SpecOnlyReachable
	Unreachable
)

func (r Reachability) String() string {
	switch r {
	case Reachable:
		return "reachable"
	case SpecOnlyReachable:
		return "spec-only"
	case Unreachable:
		return "unreachable"
	default:
		return fmt.Sprintf("Reachability(%d)", uint8(r))
	}
}

// ControlBlock is one structured control frame.
type ControlBlock struct {
	Kind         ControlKind
	OutArity     int
	Results      []wasm.ValueType
	Reachability Reachability
	// StartReached is set when a branch targets the loop header (or, for
	// other kinds, when the block was entered reachably).
	StartReached bool
	// EndReached is set once LabelState describes the join point.
	EndReached bool
	// StackBase is the operand stack height at entry, locals included.
	StackBase int

	Label      asm.Label
	LabelState CacheState

	ElseLabel asm.Label
	ElseState *CacheState

	// Instruction cursor over the owned body.
	instr *wasm.Instr
	body  []wasm.Instr
	pos   int
}

func (b *ControlBlock) Reached() bool { return b.Reachability == Reachable }

// InnerReachability is the reachability of a frame nested in b.
func (b *ControlBlock) InnerReachability() Reachability {
	if b.Reachability == Reachable {
		return Reachable
	}
	return SpecOnlyReachable
}

// OneArmedIf reports an if frame that never saw an else.
func (b *ControlBlock) OneArmedIf() bool { return b.Kind == KindIf }

// BranchArity is the number of values a branch to b carries. Block types
// have no parameters, so a branch back to a loop header carries none.
func (b *ControlBlock) BranchArity() int {
	if b.Kind == KindLoop {
		return 0
	}
	return b.OutArity
}

// TargetReached reports whether a branch to b already set up LabelState.
func (b *ControlBlock) TargetReached() bool {
	if b.Kind == KindLoop {
		return b.StartReached
	}
	return b.EndReached
}

// MarkTargetReached records that a branch to b was emitted.
func (b *ControlBlock) MarkTargetReached() {
	if b.Kind == KindLoop {
		b.StartReached = true
	} else {
		b.EndReached = true
	}
}

// End marks the rest of the frame as dead code.
func (b *ControlBlock) End() { b.Reachability = Unreachable }

// ControlStack holds the frames from the function block (bottom) to the
// innermost construct (top). Frames are heap allocated so labels keep their
// address while the stack grows.
type ControlStack struct {
	blocks []*ControlBlock
}

func (s *ControlStack) Depth() int { return len(s.blocks) }

// Push opens a frame whose reachability is inherited from the parent.
func (s *ControlStack) Push(kind ControlKind, results []wasm.ValueType) *ControlBlock {
	reach := Reachable
	if len(s.blocks) > 0 {
		reach = s.Top().InnerReachability()
	}
	b := &ControlBlock{
		Kind:         kind,
		OutArity:     len(results),
		Results:      results,
		Reachability: reach,
		StartReached: reach == Reachable,
		LabelState:   NewCacheState(),
	}
	s.blocks = append(s.blocks, b)
	return b
}

func (s *ControlStack) Pop() *ControlBlock {
	b := s.blocks[len(s.blocks)-1]
	s.blocks[len(s.blocks)-1] = nil
	s.blocks = s.blocks[:len(s.blocks)-1]
	return b
}

func (s *ControlStack) Top() *ControlBlock { return s.blocks[len(s.blocks)-1] }

// At returns the frame depth levels below the top; 0 is the top.
func (s *ControlStack) At(depth int) *ControlBlock {
	return s.blocks[len(s.blocks)-1-depth]
}
