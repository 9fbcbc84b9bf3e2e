package amd64

import (
	"github.com/tinyrange/wasmjit/internal/asm"
	"github.com/tinyrange/wasmjit/internal/wasm"
)

type rexState struct {
	w     bool
	r     bool
	force bool
}

func (r rexState) prefix(rm byte) byte {
	if !r.w && !r.r && !r.force && rm == 0 {
		return 0
	}
	p := byte(0x40) | rm
	if r.w {
		p |= 0x08
	}
	if r.r {
		p |= 0x04
	}
	return p
}

// needsByteREX reports whether the low byte of r is only addressable with a
// REX prefix (SPL, BPL, SIL, DIL and R8B-R15B).
func needsByteREX(r Register) bool {
	return r.IsGP() && r >= RSP
}

// inst describes one ModRM-form instruction.
type inst struct {
	prefix byte
	w      bool
	force  bool
	opcode []byte
}

// emit writes prefix, REX, opcode, ModRM, SIB and displacement.
func (in inst) emit(b *asm.Buffer, reg byte, rm Operand) {
	var buf [16]byte
	out := buf[:0]
	if in.prefix != 0 {
		out = append(out, in.prefix)
	}
	rex := rexState{w: in.w, r: reg&0x08 != 0, force: in.force}
	if p := rex.prefix(rm.rex); p != 0 {
		out = append(out, p)
	}
	out = append(out, in.opcode...)
	out = rm.appendTo(out, reg)
	b.Emit(out...)
}

func (in inst) rr(b *asm.Buffer, reg, rm Register) {
	in.emit(b, reg.code(), regOperand(rm))
}

func (in inst) rm(b *asm.Buffer, reg Register, m Mem) {
	op, err := BuildOperand(m)
	if err != nil {
		b.Fail(err)
		return
	}
	in.emit(b, reg.code(), op)
}

func (in inst) ext(b *asm.Buffer, sub byte, rm Register) {
	in.emit(b, sub, regOperand(rm))
}

func (in inst) extMem(b *asm.Buffer, sub byte, m Mem) {
	op, err := BuildOperand(m)
	if err != nil {
		b.Fail(err)
		return
	}
	in.emit(b, sub, op)
}

func op1(o byte) []byte { return []byte{o} }
func op2(a, o byte) []byte { return []byte{a, o} }
func op3(a, c, o byte) []byte { return []byte{a, c, o} }

func checkGP(b *asm.Buffer, what string, regs ...Register) bool {
	for _, r := range regs {
		if !r.IsGP() {
			b.Failf("%s: %s is not a general-purpose register", what, r)
			return false
		}
	}
	return true
}

func checkFP(b *asm.Buffer, what string, regs ...Register) bool {
	for _, r := range regs {
		if !r.IsFP() {
			b.Failf("%s: %s is not a floating-point register", what, r)
			return false
		}
	}
	return true
}

func checkInt(b *asm.Buffer, what string, t wasm.ValueType) bool {
	if t != wasm.I32 && t != wasm.I64 {
		b.Failf("%s: want integer type, got %s", what, t)
		return false
	}
	return true
}

func checkFloat(b *asm.Buffer, what string, t wasm.ValueType) bool {
	if !t.IsFloat() {
		b.Failf("%s: want float type, got %s", what, t)
		return false
	}
	return true
}

// scalarPrefix returns F3 for single and F2 for double precision.
func scalarPrefix(t wasm.ValueType) byte {
	if t == wasm.F64 {
		return 0xF2
	}
	return 0xF3
}

// packedPrefix returns the 66 prefix for double precision packed forms.
func packedPrefix(t wasm.ValueType) byte {
	if t == wasm.F64 {
		return 0x66
	}
	return 0
}
