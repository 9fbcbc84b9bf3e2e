package runtime

import (
	"github.com/tinyrange/wasmjit/internal/asm"
	"github.com/tinyrange/wasmjit/internal/asm/amd64"
	"github.com/tinyrange/wasmjit/internal/jit"
	"github.com/tinyrange/wasmjit/internal/wasm"
)

// calleeSaved are the System V registers generated code may clobber but
// the host expects preserved.
var calleeSaved = []amd64.Register{amd64.RBX, amd64.RBP, amd64.R12, amd64.R13, amd64.R14, amd64.R15}

// thunk is the host entry point of one function. It is called as
// thunk(argv *uint64) and returns the raw result in RAX.
type thunk struct {
	code []byte
	// resume is the offset of the 64-bit resume address immediate and
	// resumeAt the code offset it must point at.
	resume   int
	resumeAt int
}

// emitThunk builds the entry thunk for a function with signature sig at
// target. It records the host stack pointer and its resume address in the
// trap cell so a trap stub can unwind straight back to it.
func emitThunk(sig jit.LocationSignature, target, trapCell uint64) (*thunk, error) {
	b := asm.NewBuffer(128)
	for _, r := range calleeSaved {
		amd64.Push(b, r)
	}
	// Six pushes over the return address leave rsp 8 bytes off alignment.
	amd64.ALURI(b, amd64.ALUSub, wasm.I64, amd64.RSP, amd64.StackSlotSize)
	amd64.MovRR(b, wasm.I64, amd64.RBX, amd64.RDI)
	amd64.Movabs(b, amd64.ScratchGP, trapCell)
	amd64.MovMR(b, wasm.I64, amd64.MemAt(amd64.ScratchGP, jit.TrapCellSP), amd64.RSP)
	resume := amd64.Movabs(b, amd64.ScratchGP2, asm.Placeholder)
	amd64.MovMR(b, wasm.I64, amd64.MemAt(amd64.ScratchGP, jit.TrapCellResume), amd64.ScratchGP2)

	if sig.StackPadding() {
		amd64.PushImm(b, 0)
	}
	for i := len(sig.Params) - 1; i >= 0; i-- {
		if sig.Params[i].Loc == jit.LocStack {
			amd64.PushMem(b, amd64.MemAt(amd64.RBX, int32(8*i)))
		}
	}
	for i, p := range sig.Params {
		if p.Loc != jit.LocRegister {
			continue
		}
		if p.Type.IsFloat() {
			amd64.MovsRM(b, p.Type, p.Reg, amd64.MemAt(amd64.RBX, int32(8*i)))
		} else {
			amd64.MovRM(b, p.Type, p.Reg, amd64.MemAt(amd64.RBX, int32(8*i)))
		}
	}
	amd64.Movabs(b, amd64.RAX, target)
	amd64.CallReg(b, amd64.RAX)
	if slots := sig.StackParams; slots > 0 {
		if sig.StackPadding() {
			slots++
		}
		amd64.ALURI(b, amd64.ALUAdd, wasm.I64, amd64.RSP, int32(slots*amd64.StackSlotSize))
	}
	if sig.HasResult && sig.ResultType.IsFloat() {
		it := wasm.I32
		if sig.ResultType == wasm.F64 {
			it = wasm.I64
		}
		amd64.MovdFromFP(b, it, amd64.RAX, amd64.XMM0)
	}

	resumeAt := b.Len()
	amd64.ALURI(b, amd64.ALUAdd, wasm.I64, amd64.RSP, amd64.StackSlotSize)
	for i := len(calleeSaved) - 1; i >= 0; i-- {
		amd64.Pop(b, calleeSaved[i])
	}
	amd64.Ret(b)
	if err := b.Err(); err != nil {
		return nil, err
	}
	return &thunk{code: b.Bytes(), resume: resume, resumeAt: resumeAt}, nil
}

// link patches the resume address for a thunk placed at addr.
func (t *thunk) link(addr uintptr) []byte {
	out := append([]byte(nil), t.code...)
	v := uint64(addr) + uint64(t.resumeAt)
	for i := 0; i < 8; i++ {
		out[t.resume+i] = byte(v >> (8 * i))
	}
	return out
}
