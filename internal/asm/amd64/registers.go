package amd64

import (
	"fmt"
	"math/bits"

	"github.com/tinyrange/wasmjit/internal/wasm"
)

// Register numbers general-purpose registers in hardware order followed by
// the sixteen XMM registers.
type Register uint8

const (
	RAX Register = iota
	RCX
	RDX
	RBX
	RSP
	RBP
	RSI
	RDI
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
	XMM0
	XMM1
	XMM2
	XMM3
	XMM4
	XMM5
	XMM6
	XMM7
	XMM8
	XMM9
	XMM10
	XMM11
	XMM12
	XMM13
	XMM14
	XMM15

	// RegUnknown marks an absent register in operands and signatures.
	RegUnknown
)

// FPGroupOffset is the number of the first floating-point register.
const FPGroupOffset = XMM0

// NumRegisters is the size of the register file.
const NumRegisters = int(RegUnknown)

const (
	ScratchGP  = R10
	ScratchGP2 = R11
	ScratchFP  = XMM15
	ScratchFP2 = XMM14
)

var registerNames = [...]string{
	"rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi",
	"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15",
	"xmm0", "xmm1", "xmm2", "xmm3", "xmm4", "xmm5", "xmm6", "xmm7",
	"xmm8", "xmm9", "xmm10", "xmm11", "xmm12", "xmm13", "xmm14", "xmm15",
}

func (r Register) String() string {
	if int(r) < len(registerNames) {
		return registerNames[r]
	}
	if r == RegUnknown {
		return "unknown"
	}
	return fmt.Sprintf("Register(%d)", uint8(r))
}

// Valid reports whether r names a machine register.
func (r Register) Valid() bool { return r < RegUnknown }

func (r Register) IsFP() bool { return r >= FPGroupOffset && r < RegUnknown }

func (r Register) IsGP() bool { return r < FPGroupOffset }

// code returns the 4-bit hardware encoding.
func (r Register) code() byte { return byte(r) & 0x0f }

func (r Register) low() byte { return byte(r) & 0x07 }

func (r Register) high() bool { return byte(r)&0x08 != 0 }

// RegClass is the register bank a value lives in.
type RegClass uint8

const (
	GPReg RegClass = iota
	FPReg
)

func (c RegClass) String() string {
	if c == FPReg {
		return "fp"
	}
	return "gp"
}

// ClassOf returns the register class used for values of type t.
func ClassOf(t wasm.ValueType) RegClass {
	if t.IsFloat() {
		return FPReg
	}
	return GPReg
}

func (r Register) Class() RegClass {
	if r.IsFP() {
		return FPReg
	}
	return GPReg
}

// RegList is a set of registers.
type RegList uint32

const (
	GPMask RegList = 0x0000ffff
	FPMask RegList = 0xffff0000
)

// NonAllocable holds the scratch registers and the stack and frame pointers.
// RBX is reserved as well.
var NonAllocable = RegListOf(ScratchGP, ScratchGP2, ScratchFP, ScratchFP2, RBX, RBP, RSP)

// GPParams and FPParams are the System V argument registers in order.
var (
	GPParams = []Register{RDI, RSI, RDX, RCX, R8, R9}
	FPParams = []Register{XMM0, XMM1, XMM2, XMM3, XMM4, XMM5, XMM6, XMM7}
)

// RegListOf builds a set from regs, ignoring RegUnknown.
func RegListOf(regs ...Register) RegList {
	var l RegList
	for _, r := range regs {
		l = l.Set(r)
	}
	return l
}

// ClassMask returns every register of class c.
func ClassMask(c RegClass) RegList {
	if c == FPReg {
		return FPMask
	}
	return GPMask
}

func (l RegList) Has(r Register) bool {
	return r.Valid() && l&(1<<r) != 0
}

func (l RegList) Set(r Register) RegList {
	if !r.Valid() {
		return l
	}
	return l | 1<<r
}

func (l RegList) Clear(r Register) RegList {
	if !r.Valid() {
		return l
	}
	return l &^ (1 << r)
}

func (l RegList) Empty() bool { return l == 0 }

func (l RegList) Count() int { return bits.OnesCount32(uint32(l)) }

// First returns the lowest numbered register in l, or RegUnknown.
func (l RegList) First() Register {
	if l == 0 {
		return RegUnknown
	}
	return Register(bits.TrailingZeros32(uint32(l)))
}

// Registers lists the members of l in ascending order.
func (l RegList) Registers() []Register {
	out := make([]Register, 0, l.Count())
	for l != 0 {
		r := l.First()
		out = append(out, r)
		l = l.Clear(r)
	}
	return out
}

func (l RegList) String() string {
	return fmt.Sprint(l.Registers())
}
