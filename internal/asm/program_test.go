package asm

import (
	"encoding/binary"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestFrameSize(t *testing.T) {
	for _, tc := range []struct {
		slots int
		want  uint32
	}{
		{0, 16},
		{1, 16},
		{2, 32},
		{3, 32},
		{4, 48},
	} {
		if got := FrameSize(tc.slots); got != tc.want {
			t.Fatalf("FrameSize(%d)=%d, want %d", tc.slots, got, tc.want)
		}
	}
}

func TestResolve(t *testing.T) {
	b := NewBuffer(32)
	b.Emit(0x49, 0xBA)
	first := b.Len()
	b.EmitU64(Placeholder)
	b.Emit(0x49, 0xBB)
	second := b.Len()
	b.EmitU64(Placeholder)
	refs := []MemoryRef{
		{Offset: first, Kind: RefGlobal, Index: 2},
		{Offset: second, Kind: RefFunc, Index: 7},
	}
	p := NewProgram(b.Bytes(), refs, 0)
	if diff := cmp.Diff(refs, p.Refs()); diff != "" {
		t.Fatalf("refs mismatch (-want +got):\n%s", diff)
	}

	code, err := p.Resolve(func(ref MemoryRef) (uint64, error) {
		return uint64(ref.Kind)<<32 | uint64(ref.Index), nil
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got, want := binary.LittleEndian.Uint64(code[first:]), uint64(RefGlobal)<<32|2; got != want {
		t.Fatalf("global=0x%x, want 0x%x", got, want)
	}
	if got, want := binary.LittleEndian.Uint64(code[second:]), uint64(RefFunc)<<32|7; got != want {
		t.Fatalf("func=0x%x, want 0x%x", got, want)
	}
	if got := binary.LittleEndian.Uint64(p.Bytes()[first:]); got != Placeholder {
		t.Fatalf("Resolve modified program code: 0x%x", got)
	}
}

func TestResolveRejectsNonPlaceholder(t *testing.T) {
	p := NewProgram(make([]byte, 8), []MemoryRef{{Offset: 0, Kind: RefTrap}}, 0)
	_, err := p.Resolve(func(MemoryRef) (uint64, error) { return 0, nil })
	if err == nil || !strings.Contains(err.Error(), "not a placeholder") {
		t.Fatalf("err=%v, want placeholder error", err)
	}
}

func TestResolvePropagatesLookupError(t *testing.T) {
	b := NewBuffer(8)
	b.EmitU64(Placeholder)
	p := NewProgram(b.Bytes(), []MemoryRef{{Offset: 0, Kind: RefTable, Index: 1}}, 0)
	_, err := p.Resolve(func(MemoryRef) (uint64, error) { return 0, fmt.Errorf("no table") })
	if err == nil || !strings.Contains(err.Error(), "resolve table ref 1: no table") {
		t.Fatalf("err=%v", err)
	}
}
