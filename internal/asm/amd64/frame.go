package amd64

import (
	"github.com/tinyrange/wasmjit/internal/asm"
	"github.com/tinyrange/wasmjit/internal/wasm"
)

// StackSlotSize is the size of one spill slot.
const StackSlotSize = 8

// SlotMem addresses spill slot index, [rbp - 8*index - 8].
func SlotMem(index int) Mem {
	return MemAt(RBP, int32(-StackSlotSize*index-StackSlotSize))
}

// CallerSlotMem addresses the index-th stack argument passed by the caller,
// [rbp + 16 + 8*index].
func CallerSlotMem(index int) Mem {
	return MemAt(RBP, int32(16+StackSlotSize*index))
}

// Prologue emits "push rbp; mov rbp, rsp; sub rsp, imm32" with a zero frame
// size and returns the offset of the immediate for PatchFrame.
func Prologue(b *asm.Buffer) int {
	Push(b, RBP)
	MovRR(b, wasm.I64, RBP, RSP)
	inst{w: true, opcode: op1(0x81)}.ext(b, byte(ALUSub), RSP)
	off := b.Len()
	b.EmitU32(0)
	return off
}

// PatchFrame writes the final frame size for slots spill slots.
func PatchFrame(b *asm.Buffer, off int, slots int) {
	b.PatchU32(off, asm.FrameSize(slots))
}

// Epilogue emits "mov rsp, rbp; pop rbp; ret".
func Epilogue(b *asm.Buffer) {
	MovRR(b, wasm.I64, RSP, RBP)
	Pop(b, RBP)
	Ret(b)
}
