package asm

import (
	"encoding/binary"
	"fmt"
)

// Placeholder is the 64-bit immediate emitted for every memory reference
// before the loader resolves it.
const Placeholder uint64 = 0xFFFFFFFFFFFFFFFF

// RefKind names the runtime object a memory reference points at.
type RefKind uint8

const (
	RefGlobal RefKind = iota
	RefMemory
	RefMemorySize
	RefFunc
	RefTable
	RefTableSize
	RefTableSigs
	RefTrap
)

func (k RefKind) String() string {
	switch k {
	case RefGlobal:
		return "global"
	case RefMemory:
		return "memory"
	case RefMemorySize:
		return "memory_size"
	case RefFunc:
		return "func"
	case RefTable:
		return "table"
	case RefTableSize:
		return "table_size"
	case RefTableSigs:
		return "table_sigs"
	case RefTrap:
		return "trap"
	default:
		return fmt.Sprintf("RefKind(%d)", uint8(k))
	}
}

// MemoryRef records a placeholder immediate at Offset that must be replaced
// by the address of the Kind object with the given Index.
type MemoryRef struct {
	Offset int
	Kind   RefKind
	Index  uint32
}

// Program is the output of compiling one function: position independent code
// with unresolved memory references and the frame size already patched in.
type Program struct {
	code       []byte
	refs       []MemoryRef
	frameSlots int
}

// NewProgram copies code and refs into a Program.
func NewProgram(code []byte, refs []MemoryRef, frameSlots int) *Program {
	return &Program{
		code:       append([]byte(nil), code...),
		refs:       append([]MemoryRef(nil), refs...),
		frameSlots: frameSlots,
	}
}

func (p *Program) Bytes() []byte {
	return append([]byte(nil), p.code...)
}

func (p *Program) Len() int { return len(p.code) }

func (p *Program) Refs() []MemoryRef {
	return append([]MemoryRef(nil), p.refs...)
}

// FrameSlots returns the number of 8-byte spill slots the function uses.
func (p *Program) FrameSlots() int { return p.frameSlots }

// FrameSize returns the stack adjustment emitted in the prologue.
func FrameSize(slots int) uint32 {
	size := uint32(slots+1) * 8
	return (size + 15) &^ 15
}

// Resolve returns a copy of the code with every memory reference replaced by
// the address returned from lookup.
func (p *Program) Resolve(lookup func(MemoryRef) (uint64, error)) ([]byte, error) {
	out := append([]byte(nil), p.code...)
	for _, ref := range p.refs {
		if ref.Offset < 0 || ref.Offset+8 > len(out) {
			return nil, fmt.Errorf("asm: %s ref %d at offset %d outside code of length %d", ref.Kind, ref.Index, ref.Offset, len(out))
		}
		if got := binary.LittleEndian.Uint64(out[ref.Offset:]); got != Placeholder {
			return nil, fmt.Errorf("asm: %s ref %d at offset %d holds 0x%x, not a placeholder", ref.Kind, ref.Index, ref.Offset, got)
		}
		addr, err := lookup(ref)
		if err != nil {
			return nil, fmt.Errorf("asm: resolve %s ref %d: %w", ref.Kind, ref.Index, err)
		}
		binary.LittleEndian.PutUint64(out[ref.Offset:], addr)
	}
	return out, nil
}

// Clone returns a deep copy of p.
func (p *Program) Clone() *Program {
	return NewProgram(p.code, p.refs, p.frameSlots)
}
