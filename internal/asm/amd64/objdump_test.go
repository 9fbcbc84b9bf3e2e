package amd64

import (
	"testing"

	"github.com/tinyrange/wasmjit/internal/asm"
	"github.com/tinyrange/wasmjit/internal/asm/testutil"
	"github.com/tinyrange/wasmjit/internal/wasm"
)

func TestKitchenSinkDisassemblyAMD64(t *testing.T) {
	code, expect := buildAMD64KitchenSink(t)

	testutil.Match(t, testutil.Objdump(t, code), expect)
}

func TestKitchenSinkDecodeAMD64(t *testing.T) {
	code, expect := buildAMD64KitchenSink(t)

	testutil.Match(t, testutil.Decode(t, code), expect)
}

type sinkBuilder struct {
	buf          *asm.Buffer
	wants []testutil.Want
}

func (s *sinkBuilder) add(name string, emit func(b *asm.Buffer), contains ...string) {
	emit(s.buf)
	s.wants = append(s.wants, testutil.Want{Name: name, Has: contains})
}

func buildAMD64KitchenSink(t *testing.T) ([]byte, []testutil.Want) {
	t.Helper()
	s := sinkBuilder{buf: asm.NewBuffer(256)}

	s.add("mov_imm", func(b *asm.Buffer) { MovRI(b, wasm.I64, RAX, 0x1122334455667788) }, "$0x1122334455667788,%rax")
	s.add("mov_reg", func(b *asm.Buffer) { MovRR(b, wasm.I64, R9, R10) }, "mov", "%r10,%r9")
	s.add("mov_to_memory", func(b *asm.Buffer) { MovMR(b, wasm.I64, MemAt(RSP, 0x28), RAX) }, "%rax,0x28(%rsp)")
	s.add("mov_from_memory", func(b *asm.Buffer) { MovRM(b, wasm.I64, RBX, MemAt(RSP, 0x18)) }, "0x18(%rsp),%rbx")
	s.add("mov_sib", func(b *asm.Buffer) { MovRM(b, wasm.I64, RAX, MemIndex(RAX, RCX, 8, 0x100)) }, "0x100(%rax,%rcx,8),%rax")
	s.add("mov_index_only", func(b *asm.Buffer) { MovRM(b, wasm.I32, RAX, MemScaled(RCX, 4, 0x10)) }, "0x10(,%rcx,4),%eax")
	s.add("mov_r13_base", func(b *asm.Buffer) { MovRM(b, wasm.I32, RDX, MemAt(R13, 0)) }, "(%r13),%edx")
	s.add("movzx8", func(b *asm.Buffer) { MovxRM(b, ZeroExtend8, wasm.I64, R12, MemAt(RDI, 0x10)) }, "movz", "0x10(%rdi)", "%r12")
	s.add("movsxd", func(b *asm.Buffer) { MovxRR(b, SignExtend32, wasm.I64, RAX, RCX) }, "%ecx,%rax")
	s.add("lea", func(b *asm.Buffer) { Lea(b, wasm.I64, RAX, MemIndex(RCX, RDX, 1, 4)) }, "lea", "0x4(%rcx,%rdx,1),%rax")
	s.add("add", func(b *asm.Buffer) { AddRR(b, wasm.I64, R9, R10) }, "add", "%r10,%r9")
	s.add("sub_imm", func(b *asm.Buffer) { ALURI(b, ALUSub, wasm.I64, RSP, 8) }, "sub", "$0x8,%rsp")
	s.add("cmp_imm32", func(b *asm.Buffer) { ALURI(b, ALUCmp, wasm.I32, RAX, 0x1000) }, "cmp", "$0x1000,%eax")
	s.add("imul", func(b *asm.Buffer) { ImulRR(b, wasm.I32, RAX, RCX) }, "imul", "%ecx,%eax")
	s.add("idiv", func(b *asm.Buffer) { Idiv(b, wasm.I64, RCX) }, "idiv", "%rcx")
	s.add("shr_imm", func(b *asm.Buffer) { ShiftRI(b, ShiftShr, wasm.I64, R10, 3) }, "shr", "%r10")
	s.add("sar_cl", func(b *asm.Buffer) { ShiftCL(b, ShiftSar, wasm.I32, RDX) }, "sar", "%edx")
	s.add("sete", func(b *asm.Buffer) { Setcc(b, CondEq, RSI) }, "sete", "%sil")
	s.add("popcnt", func(b *asm.Buffer) { Popcnt(b, wasm.I64, RAX, RCX) }, "popcnt", "%rcx,%rax")
	s.add("bsf", func(b *asm.Buffer) { Bsf(b, wasm.I32, RAX, RDX) }, "bsf", "%edx,%eax")
	s.add("store_byte", func(b *asm.Buffer) { MovbMR(b, MemAt(RAX, 0), RSI) }, "%sil,(%rax)")
	s.add("store_word", func(b *asm.Buffer) { MovwMR(b, MemAt(RDI, 2), RAX) }, "%ax,0x2(%rdi)")
	s.add("addsd", func(b *asm.Buffer) { Adds(b, wasm.F64, XMM0, XMM1) }, "addsd", "%xmm1,%xmm0")
	s.add("subss", func(b *asm.Buffer) { Subs(b, wasm.F32, XMM8, XMM15) }, "subss", "%xmm15,%xmm8")
	s.add("movsd_load", func(b *asm.Buffer) { MovsRM(b, wasm.F64, XMM1, MemAt(RBP, -16)) }, "movsd", "-0x10(%rbp),%xmm1")
	s.add("movq_to_xmm", func(b *asm.Buffer) { MovdToFP(b, wasm.I64, XMM0, RAX) }, "%rax,%xmm0")
	s.add("cvtsi2sd", func(b *asm.Buffer) { Cvtsi2s(b, wasm.F64, wasm.I64, XMM0, RAX) }, "cvtsi2sd", "%rax,%xmm0")
	s.add("cvttss2si", func(b *asm.Buffer) { Cvtts2si(b, wasm.I32, wasm.F32, RAX, XMM1) }, "cvttss2si", "%xmm1,%eax")
	s.add("roundsd", func(b *asm.Buffer) { Rounds(b, wasm.F64, XMM15, XMM0, RoundToZero) }, "roundsd", "$0xb,%xmm0,%xmm15")
	s.add("ucomisd", func(b *asm.Buffer) { Ucomis(b, wasm.F64, XMM0, XMM1) }, "ucomisd", "%xmm1,%xmm0")
	s.add("push", func(b *asm.Buffer) { Push(b, R12) }, "push", "%r12")
	s.add("pop", func(b *asm.Buffer) { Pop(b, RBP) }, "pop", "%rbp")
	s.add("call_reg", func(b *asm.Buffer) { CallReg(b, R11) }, "call", "*%r11")
	s.add("jmp_mem", func(b *asm.Buffer) { JmpMem(b, MemAt(R10, 16)) }, "jmp", "*0x10(%r10)")
	s.add("ret", Ret, "ret")

	if err := s.buf.Err(); err != nil {
		t.Fatalf("kitchen sink failed to assemble: %v", err)
	}
	return s.buf.Bytes(), s.wants
}
