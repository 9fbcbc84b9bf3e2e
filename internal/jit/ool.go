package jit

import (
	"fmt"

	"github.com/tinyrange/wasmjit/internal/asm"
	"github.com/tinyrange/wasmjit/internal/asm/amd64"
	"github.com/tinyrange/wasmjit/internal/wasm"
)

// TrapKind identifies the runtime fault a trap stub reports. Zero means no
// trap.
type TrapKind uint32

const (
	TrapNone TrapKind = iota
	TrapUnreachable
	TrapDivByZero
	TrapUnrepresentable
	TrapFloatUnrepresentable
	TrapMemOutOfBounds
	TrapFuncInvalid
	TrapFuncSigMismatch
)

var trapNames = [...]string{
	TrapNone:                 "none",
	TrapUnreachable:          "unreachable executed",
	TrapDivByZero:            "integer divide by zero",
	TrapUnrepresentable:      "integer overflow",
	TrapFloatUnrepresentable: "invalid conversion to integer",
	TrapMemOutOfBounds:       "out of bounds memory access",
	TrapFuncInvalid:          "undefined table element",
	TrapFuncSigMismatch:      "indirect call type mismatch",
}

func (k TrapKind) String() string {
	if int(k) < len(trapNames) {
		return trapNames[k]
	}
	return fmt.Sprintf("TrapKind(%d)", uint32(k))
}

// Trap cell layout. The runtime owns the cell; a stub fills in the fault and
// unwinds to the host.
const (
	TrapCellKind   = 0  // u32 TrapKind
	TrapCellInstr  = 4  // u32 instruction index
	TrapCellSP     = 8  // u64 host stack pointer to restore
	TrapCellResume = 16 // u64 address to jump to
	TrapCellFunc   = 24 // u32 function index
	TrapCellSize   = 32
)

// TrapSite describes one out-of-line trap stub of a compiled function.
type TrapSite struct {
	Kind   TrapKind
	Instr  int
	Offset int
}

// outOfLineCode is a trap stub. Stubs never fall back into the function,
// so they have no continuation and preserve no registers.
type outOfLineCode struct {
	label asm.Label
	kind  TrapKind
	instr int
}

// addTrap registers a stub for kind at the current instruction and returns
// its entry label.
func (c *compiler) addTrap(kind TrapKind) *asm.Label {
	ool := &outOfLineCode{kind: kind, instr: c.instr}
	c.ool = append(c.ool, ool)
	return &ool.label
}

// emitOutOfLineCode appends the stub bodies after the function.
func (c *compiler) emitOutOfLineCode() []TrapSite {
	sites := make([]TrapSite, 0, len(c.ool))
	for _, ool := range c.ool {
		if ool.label.State() == asm.LabelUnused {
			continue
		}
		sites = append(sites, TrapSite{Kind: ool.kind, Instr: ool.instr, Offset: c.buf.Len()})
		c.buf.Bind(&ool.label)
		cell := amd64.ScratchGP
		c.loadRef(cell, asm.RefTrap, 0)
		amd64.MovMI(c.buf, wasm.I32, amd64.MemAt(cell, TrapCellKind), int32(ool.kind))
		amd64.MovMI(c.buf, wasm.I32, amd64.MemAt(cell, TrapCellInstr), int32(ool.instr))
		amd64.MovMI(c.buf, wasm.I32, amd64.MemAt(cell, TrapCellFunc), int32(c.funcIndex))
		amd64.MovRM(c.buf, wasm.I64, amd64.RSP, amd64.MemAt(cell, TrapCellSP))
		amd64.JmpMem(c.buf, amd64.MemAt(cell, TrapCellResume))
	}
	return sites
}

// loadRef emits a placeholder address load for a runtime object.
func (c *compiler) loadRef(dst amd64.Register, kind asm.RefKind, index uint32) {
	off := amd64.Movabs(c.buf, dst, asm.Placeholder)
	c.refs = append(c.refs, asm.MemoryRef{Offset: off, Kind: kind, Index: index})
}
