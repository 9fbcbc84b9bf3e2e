package amd64

import (
	"github.com/tinyrange/wasmjit/internal/asm"
)

// Condition is the 4-bit x86 condition code.
type Condition uint8

const (
	CondOverflow Condition = 0
	CondLtU      Condition = 2
	CondGeU      Condition = 3
	CondEq       Condition = 4
	CondNe       Condition = 5
	CondLeU      Condition = 6
	CondGtU      Condition = 7
	CondNegative Condition = 8
	CondPositive Condition = 9
	// CondEven is PF=1, the unordered result of ucomis.
	CondEven Condition = 10
	CondOdd  Condition = 11
	CondLtS  Condition = 12
	CondGeS  Condition = 13
	CondLeS  Condition = 14
	CondGtS  Condition = 15
)

// Negate returns the opposite condition.
func (c Condition) Negate() Condition { return c ^ 1 }

var conditionNames = [16]string{
	"o", "no", "b", "ae", "e", "ne", "be", "a",
	"s", "ns", "p", "np", "l", "ge", "le", "g",
}

func (c Condition) String() string { return conditionNames[c&0x0f] }

// Distance selects the encoding of a jump to a label that is not bound yet.
type Distance uint8

const (
	// Far jumps use a 32-bit displacement, or 8 bits when the label is bound
	// and close enough.
	Far Distance = iota
	// Near jumps always use an 8-bit displacement.
	Near
)

const (
	JmpShortSize = 2
	JmpLongSize  = 5
	JccShortSize = 2
	JccLongSize  = 6
)

// Jmp emits an unconditional jump to l.
func Jmp(b *asm.Buffer, l *asm.Label, dist Distance) {
	if l.Bound() {
		off := int64(l.Pos() - b.Len())
		if fitsInt8(off - JmpShortSize) {
			b.Emit(0xEB, byte(int8(off-JmpShortSize)))
			return
		}
		if dist == Near {
			b.Fail(asm.ErrNearRange)
			return
		}
		b.Emit(0xE9)
		b.EmitU32(uint32(int32(off - JmpLongSize)))
		return
	}
	if dist == Near {
		b.Emit(0xEB)
		b.LinkNear(l)
		return
	}
	b.Emit(0xE9)
	b.LinkFar(l)
}

// Jcc emits a conditional jump to l.
func Jcc(b *asm.Buffer, cc Condition, l *asm.Label, dist Distance) {
	if l.Bound() {
		off := int64(l.Pos() - b.Len())
		if fitsInt8(off - JccShortSize) {
			b.Emit(0x70|byte(cc), byte(int8(off-JccShortSize)))
			return
		}
		if dist == Near {
			b.Fail(asm.ErrNearRange)
			return
		}
		b.Emit(0x0F, 0x80|byte(cc))
		b.EmitU32(uint32(int32(off - JccLongSize)))
		return
	}
	if dist == Near {
		b.Emit(0x70 | byte(cc))
		b.LinkNear(l)
		return
	}
	b.Emit(0x0F, 0x80|byte(cc))
	b.LinkFar(l)
}
