package amd64

import (
	"fmt"

	"github.com/tinyrange/wasmjit/internal/asm"
)

// Mem describes an effective address [Base + Index*Scale + Disp]. Base or
// Index may be RegUnknown.
type Mem struct {
	Base  Register
	Index Register
	Scale uint8
	Disp  int32
}

// MemAt returns [base + disp].
func MemAt(base Register, disp int32) Mem {
	return Mem{Base: base, Index: RegUnknown, Scale: 1, Disp: disp}
}

// MemIndex returns [base + index*scale + disp].
func MemIndex(base, index Register, scale uint8, disp int32) Mem {
	return Mem{Base: base, Index: index, Scale: scale, Disp: disp}
}

// MemScaled returns [index*scale + disp] with no base register.
func MemScaled(index Register, scale uint8, disp int32) Mem {
	return Mem{Base: RegUnknown, Index: index, Scale: scale, Disp: disp}
}

func (m Mem) String() string {
	s := "["
	sep := ""
	if m.Base != RegUnknown {
		s += m.Base.String()
		sep = "+"
	}
	if m.Index != RegUnknown {
		s += fmt.Sprintf("%s%s*%d", sep, m.Index, m.Scale)
		sep = "+"
	}
	if m.Disp != 0 || sep == "" {
		s += fmt.Sprintf("%s%#x", sep, m.Disp)
	}
	return s + "]"
}

// Operand is an encoded r/m operand: ModRM with a zero reg field, an optional
// SIB byte, a displacement and the REX.X/REX.B bits it needs.
type Operand struct {
	modrm    byte
	sib      byte
	hasSIB   bool
	disp     int32
	dispSize uint8
	rex      byte
}

// Bytes returns the ModRM, SIB and displacement bytes.
func (o Operand) Bytes() []byte {
	return o.appendTo(nil, 0)
}

// Rex returns the REX.X and REX.B bits required by the operand.
func (o Operand) Rex() byte { return o.rex }

func (o Operand) appendTo(out []byte, reg byte) []byte {
	out = append(out, o.modrm|(reg&7)<<3)
	if o.hasSIB {
		out = append(out, o.sib)
	}
	switch o.dispSize {
	case 1:
		out = append(out, byte(int8(o.disp)))
	case 4:
		d := uint32(o.disp)
		out = append(out, byte(d), byte(d>>8), byte(d>>16), byte(d>>24))
	}
	return out
}

func scaleBits(scale uint8) (byte, bool) {
	switch scale {
	case 0, 1:
		return 0, true
	case 2:
		return 1, true
	case 4:
		return 2, true
	case 8:
		return 3, true
	}
	return 0, false
}

func fitsInt8(v int64) bool { return v >= -128 && v <= 127 }

func fitsInt32(v int64) bool { return v >= -1<<31 && v <= 1<<31-1 }

func fitsUint32(v uint64) bool { return v <= 1<<32-1 }

// BuildOperand encodes m. It picks the shortest displacement, forces a SIB
// byte for RSP and R12 bases and a displacement for RBP and R13 bases.
func BuildOperand(m Mem) (Operand, error) {
	hasBase := m.Base != RegUnknown
	hasIndex := m.Index != RegUnknown
	if !hasBase && !hasIndex {
		return Operand{}, asm.ErrRIPRelative
	}
	if hasBase && !m.Base.IsGP() {
		return Operand{}, fmt.Errorf("asm: base register %s is not general purpose", m.Base)
	}
	var op Operand
	if hasIndex {
		if !m.Index.IsGP() {
			return Operand{}, fmt.Errorf("asm: index register %s is not general purpose", m.Index)
		}
		if m.Index == RSP {
			return Operand{}, fmt.Errorf("asm: rsp cannot be used as an index register")
		}
		ss, ok := scaleBits(m.Scale)
		if !ok {
			return Operand{}, fmt.Errorf("asm: invalid index scale %d", m.Scale)
		}
		if m.Index.high() {
			op.rex |= 0x02
		}
		op.hasSIB = true
		if !hasBase {
			op.modrm = 0x04
			op.sib = ss<<6 | m.Index.low()<<3 | 0x05
			op.disp = m.Disp
			op.dispSize = 4
			return op, nil
		}
		op.sib = ss<<6 | m.Index.low()<<3 | m.Base.low()
		op.modrm = 0x04
	} else {
		op.modrm = m.Base.low()
		if m.Base.low() == 4 {
			op.hasSIB = true
			op.sib = 0x24
		}
	}
	if m.Base.high() {
		op.rex |= 0x01
	}
	switch {
	case m.Disp == 0 && m.Base.low() != 5:
	case fitsInt8(int64(m.Disp)):
		op.modrm |= 0x40
		op.disp = m.Disp
		op.dispSize = 1
	default:
		op.modrm |= 0x80
		op.disp = m.Disp
		op.dispSize = 4
	}
	return op, nil
}

// regOperand encodes a register-direct r/m operand.
func regOperand(r Register) Operand {
	op := Operand{modrm: 0xC0 | r.low()}
	if r.high() {
		op.rex = 0x01
	}
	return op
}
