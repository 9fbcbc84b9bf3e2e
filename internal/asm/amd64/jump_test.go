package amd64

import (
	"errors"
	"testing"

	"github.com/tinyrange/wasmjit/internal/asm"
	"golang.org/x/arch/x86/x86asm"
)

func nops(b *asm.Buffer, n int) {
	for i := 0; i < n; i++ {
		b.Emit(0x90)
	}
}

func TestBoundJumps(t *testing.T) {
	b := asm.NewBuffer(512)
	var l asm.Label
	b.Bind(&l)
	Jmp(b, &l, Far)
	if got := b.Bytes(); got[0] != 0xEB || got[1] != 0xFE {
		t.Fatalf("short backward jmp = % x, want eb fe", got)
	}

	nops(b, 200)
	start := b.Len()
	Jmp(b, &l, Far)
	if got, want := b.Len()-start, JmpLongSize; got != want {
		t.Fatalf("long jmp size=%d, want %d", got, want)
	}
	if got, want := int32(b.U32At(start+1)), int32(-start-JmpLongSize); got != want {
		t.Fatalf("long jmp displacement=%d, want %d", got, want)
	}

	start = b.Len()
	Jcc(b, CondNe, &l, Far)
	if b.At(start) != 0x0F || b.At(start+1) != 0x85 {
		t.Fatalf("long jne opcode = %x %x", b.At(start), b.At(start+1))
	}
	if got, want := int32(b.U32At(start+2)), int32(-start-JccLongSize); got != want {
		t.Fatalf("long jne displacement=%d, want %d", got, want)
	}

	Jmp(b, &l, Near)
	if !errors.Is(b.Err(), asm.ErrNearRange) {
		t.Fatalf("near jump out of range err=%v, want %v", b.Err(), asm.ErrNearRange)
	}
}

func TestForwardJumps(t *testing.T) {
	b := asm.NewBuffer(64)
	var far, near asm.Label

	Jmp(b, &far, Far)
	Jcc(b, CondEq, &near, Near)
	nops(b, 3)
	b.Bind(&near)
	nops(b, 4)
	b.Bind(&far)

	if err := b.Err(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	code := b.Bytes()
	if code[0] != 0xE9 {
		t.Fatalf("far jump opcode=%#x, want 0xe9", code[0])
	}
	if got, want := b.U32At(1), uint32(far.Pos()-JmpLongSize); got != want {
		t.Fatalf("far displacement=%d, want %d", got, want)
	}
	if code[5] != 0x74 || code[6] != 3 {
		t.Fatalf("near jcc = % x, want 74 03", code[5:7])
	}

	insts, err := Disassemble(code, 0)
	if err != nil {
		t.Fatalf("disassemble: %v", err)
	}
	if insts[0].Inst.Op != x86asm.JMP || insts[0].Inst.Args[0] != x86asm.Rel(far.Pos()-JmpLongSize) {
		t.Fatalf("first instruction %s, want jmp to %#x", insts[0].Text, far.Pos())
	}
	if insts[1].Inst.Op != x86asm.JE || insts[1].Len != JccShortSize {
		t.Fatalf("second instruction %s, want short je", insts[1].Text)
	}
}

func TestConditionNegate(t *testing.T) {
	for _, tc := range []struct{ cc, neg Condition }{
		{CondEq, CondNe},
		{CondLtS, CondGeS},
		{CondLtU, CondGeU},
		{CondGtS, CondLeS},
		{CondEven, CondOdd},
	} {
		if got := tc.cc.Negate(); got != tc.neg {
			t.Fatalf("%s.Negate()=%s, want %s", tc.cc, got, tc.neg)
		}
		if got := tc.neg.Negate(); got != tc.cc {
			t.Fatalf("%s.Negate()=%s, want %s", tc.neg, got, tc.cc)
		}
	}
}
