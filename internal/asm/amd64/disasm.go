package amd64

import (
	"fmt"
	"strings"

	"golang.org/x/arch/x86/x86asm"
)

// DisasmInst is one decoded instruction.
type DisasmInst struct {
	Offset int
	Len    int
	Inst   x86asm.Inst
	Text   string
}

// Disassemble decodes code in 64-bit mode and renders each instruction in
// GNU (AT&T) syntax. pc is the address of code[0], used for branch targets.
func Disassemble(code []byte, pc uint64) ([]DisasmInst, error) {
	var out []DisasmInst
	for off := 0; off < len(code); {
		inst, err := x86asm.Decode(code[off:], 64)
		if err != nil {
			return out, fmt.Errorf("decode at offset %#x: %w", off, err)
		}
		text := x86asm.GNUSyntax(inst, pc+uint64(off), nil)
		out = append(out, DisasmInst{
			Offset: off,
			Len:    inst.Len,
			Inst:   inst,
			Text:   text,
		})
		off += inst.Len
	}
	return out, nil
}

// FormatDisassembly renders code as "offset: bytes  text" lines.
func FormatDisassembly(code []byte, pc uint64) (string, error) {
	insts, err := Disassemble(code, pc)
	var sb strings.Builder
	for _, in := range insts {
		fmt.Fprintf(&sb, "%6x: %-30x %s\n", in.Offset, code[in.Offset:in.Offset+in.Len], in.Text)
	}
	return sb.String(), err
}

// x86Reg maps a register to its x86asm name.
func x86Reg(r Register) x86asm.Reg {
	switch {
	case r.IsGP():
		return x86asm.RAX + x86asm.Reg(r)
	case r.IsFP():
		return x86asm.X0 + x86asm.Reg(r-XMM0)
	}
	return 0
}
