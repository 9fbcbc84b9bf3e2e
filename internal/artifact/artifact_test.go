package artifact

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/tinyrange/wasmjit/internal/asm"
	"github.com/tinyrange/wasmjit/internal/jit"
	"github.com/tinyrange/wasmjit/internal/wasm"
)

const testModule = `
types:
  - params: [i32, i32]
    results: [i32]
  - results: [i32]
memory:
  min: 1
  max: 2
globals:
  - type: i32
    mutable: true
functions:
  - name: div
    type: 0
    export: true
    body: |
      local.get 0
      local.get 1
      i32.div_u
  - name: load
    type: 1
    export: true
    body: |
      i32.const 16
      i32.load offset=4
      global.get 0
      i32.add
`

func compileTestModule(t *testing.T) (*wasm.ModuleTypes, []*jit.Compiled) {
	t.Helper()
	mod, err := wasm.ParseModule([]byte(testModule))
	if err != nil {
		t.Fatalf("ParseModule failed: %v", err)
	}
	funcs, err := jit.CompileModule(context.Background(), &jit.CompileContext{
		Module: mod,
		Host:   jit.HostConfig{BoundsChecks: jit.BoundsDynamic, MinMemoryPages: 1, MaxMemoryPages: 2},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, jit.ModuleOptions{})
	if err != nil {
		t.Fatalf("CompileModule failed: %v", err)
	}
	return mod, funcs
}

func TestRoundTrip(t *testing.T) {
	mod, funcs := compileTestModule(t)
	a, err := FromCompiled(mod, funcs)
	if err != nil {
		t.Fatalf("FromCompiled failed: %v", err)
	}
	if len(a.Functions) != 2 {
		t.Fatalf("got %d functions, want 2", len(a.Functions))
	}
	if len(a.Functions[0].Traps) == 0 {
		t.Fatalf("div has no trap stubs")
	}
	if len(a.Functions[1].Refs) == 0 {
		t.Fatalf("load has no memory references")
	}

	data, err := Marshal(a)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if !bytes.HasPrefix(data, []byte(Magic)) {
		t.Fatalf("missing magic: % x", data[:8])
	}
	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if diff := cmp.Diff(a, got, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
	if got.CodeSize() != a.CodeSize() {
		t.Fatalf("CodeSize=%d, want %d", got.CodeSize(), a.CodeSize())
	}
}

func TestCompiledRebuildsPrograms(t *testing.T) {
	mod, funcs := compileTestModule(t)
	a, err := FromCompiled(mod, funcs)
	if err != nil {
		t.Fatalf("FromCompiled failed: %v", err)
	}
	rebuilt := a.Compiled()
	for i, fn := range rebuilt {
		orig := funcs[i]
		if fn.Index != orig.Index {
			t.Fatalf("func %d: index %d, want %d", i, fn.Index, orig.Index)
		}
		if !bytes.Equal(fn.Program.Bytes(), orig.Program.Bytes()) {
			t.Fatalf("func %d: code differs", i)
		}
		if diff := cmp.Diff(orig.Program.Refs(), fn.Program.Refs(), cmpopts.EquateEmpty()); diff != "" {
			t.Fatalf("func %d: refs (-want +got):\n%s", i, diff)
		}
		if fn.Program.FrameSlots() != orig.Program.FrameSlots() {
			t.Fatalf("func %d: frame slots %d, want %d", i, fn.Program.FrameSlots(), orig.Program.FrameSlots())
		}
		if diff := cmp.Diff(orig.SourceMap.Entries(), fn.SourceMap.Entries(), cmpopts.EquateEmpty()); diff != "" {
			t.Fatalf("func %d: source map (-want +got):\n%s", i, diff)
		}
	}
	var sawMemory bool
	for _, r := range rebuilt[1].Program.Refs() {
		if r.Kind == asm.RefMemory {
			sawMemory = true
		}
	}
	if !sawMemory {
		t.Fatalf("load refs lack a memory base: %+v", rebuilt[1].Program.Refs())
	}
}

func TestReadRejectsBadHeader(t *testing.T) {
	for _, tc := range []struct {
		name string
		data []byte
	}{
		{"magic", []byte("NOPE\x01\x00\x00\x00")},
		{"version", []byte("WJIT\x09\x00\x00\x00")},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Unmarshal(tc.data)
			if !errors.Is(err, ErrFormat) {
				t.Fatalf("err=%v, want ErrFormat", err)
			}
		})
	}
}

func TestReadTruncated(t *testing.T) {
	mod, funcs := compileTestModule(t)
	a, err := FromCompiled(mod, funcs)
	if err != nil {
		t.Fatalf("FromCompiled failed: %v", err)
	}
	data, err := Marshal(a)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	for _, n := range []int{0, 4, 8, len(data) / 2} {
		if _, err := Unmarshal(data[:n]); err == nil {
			t.Fatalf("Unmarshal of %d/%d bytes succeeded", n, len(data))
		}
	}
}
