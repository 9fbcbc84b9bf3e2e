//go:build linux && amd64

package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/tinyrange/wasmjit/internal/artifact"
	"github.com/tinyrange/wasmjit/internal/jit"
	"github.com/tinyrange/wasmjit/internal/wasm"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

var defaultHost = jit.HostConfig{BoundsChecks: jit.BoundsDynamic, MinMemoryPages: 1, MaxMemoryPages: 4}

func instantiate(t *testing.T, src string, host jit.HostConfig) *Instance {
	t.Helper()
	mod, err := wasm.ParseModule([]byte(src))
	if err != nil {
		t.Fatalf("ParseModule failed: %v", err)
	}
	funcs, err := jit.CompileModule(context.Background(), &jit.CompileContext{
		Module: mod,
		Host:   host,
		Logger: quietLogger,
	}, jit.ModuleOptions{})
	if err != nil {
		t.Fatalf("CompileModule failed: %v", err)
	}
	inst, err := New(mod, funcs, Options{Host: host, Logger: quietLogger})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() {
		if err := inst.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
	})
	return inst
}

func call(t *testing.T, inst *Instance, name string, args ...wasm.Value) wasm.Value {
	t.Helper()
	out, err := inst.Call(name, args...)
	if err != nil {
		t.Fatalf("%s%v failed: %v", name, args, err)
	}
	if len(out) != 1 {
		t.Fatalf("%s%v returned %d values", name, args, len(out))
	}
	return out[0]
}

func expectTrap(t *testing.T, inst *Instance, kind jit.TrapKind, name string, args ...wasm.Value) *TrapError {
	t.Helper()
	_, err := inst.Call(name, args...)
	if !errors.Is(err, ErrTrap) {
		t.Fatalf("%s%v: err=%v, want a trap", name, args, err)
	}
	var te *TrapError
	if !errors.As(err, &te) {
		t.Fatalf("%s%v: err %T is not a *TrapError", name, args, err)
	}
	if te.Kind != kind {
		t.Fatalf("%s%v: trap %s, want %s", name, args, te.Kind, kind)
	}
	return te
}

const arithmeticModule = `
types:
  - results: [i32]
  - params: [i32]
    results: [i32]
  - params: [i32, i32]
    results: [i32]
  - results: [f64]
  - params: [i64]
    results: [i64]
functions:
  - name: sub
    type: 0
    export: true
    body: |
      i32.const 5
      i32.const 3
      i32.sub
  - name: countdown
    type: 1
    export: true
    body: |
      block
        loop
          local.get 0
          i32.eqz
          br_if 1
          local.get 0
          i32.const 1
          i32.sub
          local.set 0
          br 0
        end
      end
      local.get 0
  - name: sum
    type: 1
    export: true
    locals: [i32]
    body: |
      block
        loop
          local.get 0
          i32.eqz
          br_if 1
          local.get 1
          local.get 0
          i32.add
          local.set 1
          local.get 0
          i32.const 1
          i32.sub
          local.set 0
          br 0
        end
      end
      local.get 1
  - name: inf
    type: 3
    export: true
    body: |
      f64.const 1
      f64.const 0
      f64.div
  - name: div_s
    type: 2
    export: true
    body: |
      local.get 0
      local.get 1
      i32.div_s
  - name: rem_s
    type: 2
    export: true
    body: |
      local.get 0
      local.get 1
      i32.rem_s
  - name: choose
    type: 1
    export: true
    body: |
      local.get 0
      if (result i32)
        i32.const 10
      else
        i32.const 20
      end
      i32.const 1
      i32.add
  - name: select
    type: 2
    export: true
    body: |
      local.get 0
      local.get 1
      local.get 0
      local.get 1
      i32.lt_s
      select
  - name: fact
    type: 4
    export: true
    body: |
      local.get 0
      i64.eqz
      if (result i64)
        i64.const 1
      else
        local.get 0
        local.get 0
        i64.const 1
        i64.sub
        call 9
        i64.mul
      end
  - name: fact_inner
    type: 4
    body: |
      local.get 0
      call 8
  - name: bits
    type: 4
    export: true
    body: |
      local.get 0
      i64.const 13
      i64.rotl
      i64.clz
      local.get 0
      i64.popcnt
      i64.const 8
      i64.shl
      i64.or
  - name: early
    type: 1
    export: true
    body: |
      block
        local.get 0
        i32.const 3
        i32.gt_u
        br_if 0
        i32.const 7
        return
      end
      local.get 0
  - name: dead
    type: 0
    export: true
    body: |
      unreachable
      i32.const 1
      i32.add
`

func TestArithmetic(t *testing.T) {
	inst := instantiate(t, arithmeticModule, defaultHost)
	i32 := wasm.ValueI32
	i64 := wasm.ValueI64
	for _, tc := range []struct {
		name string
		args []wasm.Value
		want wasm.Value
	}{
		{"sub", nil, i32(2)},
		{"countdown", []wasm.Value{i32(10)}, i32(0)},
		{"sum", []wasm.Value{i32(10)}, i32(55)},
		{"sum", []wasm.Value{i32(0)}, i32(0)},
		{"inf", nil, wasm.Value{Type: wasm.F64, Bits: 0x7FF0000000000000}},
		{"div_s", []wasm.Value{i32(-7), i32(2)}, i32(-3)},
		{"rem_s", []wasm.Value{i32(math.MinInt32), i32(-1)}, i32(0)},
		{"choose", []wasm.Value{i32(1)}, i32(11)},
		{"choose", []wasm.Value{i32(0)}, i32(21)},
		{"select", []wasm.Value{i32(3), i32(9)}, i32(3)},
		{"select", []wasm.Value{i32(9), i32(-4)}, i32(-4)},
		{"fact", []wasm.Value{i64(10)}, i64(3628800)},
		{"fact", []wasm.Value{i64(0)}, i64(1)},
		{"bits", []wasm.Value{i64(1)}, i64(1<<8 | 50)},
		{"early", []wasm.Value{i32(2)}, i32(7)},
		{"early", []wasm.Value{i32(9)}, i32(9)},
	} {
		t.Run(fmt.Sprintf("%s%v", tc.name, tc.args), func(t *testing.T) {
			got := call(t, inst, tc.name, tc.args...)
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Fatalf("result (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTraps(t *testing.T) {
	inst := instantiate(t, arithmeticModule, defaultHost)
	te := expectTrap(t, inst, jit.TrapDivByZero, "div_s", wasm.ValueI32(7), wasm.ValueI32(0))
	if te.Op != wasm.I32DivS || te.Instr != 2 {
		t.Fatalf("trap at instr %d (%s), want 2 (i32.div_s)", te.Instr, te.Op)
	}
	if got, want := te.Error(), "runtime: trap integer divide by zero in func[4] instr 2 (i32.div_s)"; got != want {
		t.Fatalf("Error()=%q, want %q", got, want)
	}
	expectTrap(t, inst, jit.TrapUnrepresentable, "div_s", wasm.ValueI32(math.MinInt32), wasm.ValueI32(-1))
	expectTrap(t, inst, jit.TrapUnreachable, "dead")

	// The instance stays usable after a trap.
	if got := call(t, inst, "div_s", wasm.ValueI32(9), wasm.ValueI32(3)); got.I32() != 3 {
		t.Fatalf("div_s after trap=%d, want 3", got.I32())
	}
}

func TestBrTable(t *testing.T) {
	inst := instantiate(t, `
types:
  - params: [i32]
    results: [i32]
functions:
  - name: switch
    type: 0
    export: true
    body: |
      block
        block
          block
            block
              block
                block
                  local.get 0
                  br_table 0 1 2 3 4 5
                end
                i32.const 100
                return
              end
              i32.const 101
              return
            end
            i32.const 102
            return
          end
          i32.const 103
          return
        end
        i32.const 104
        return
      end
      i32.const 105
`, defaultHost)
	for _, tc := range []struct {
		in   int32
		want int32
	}{
		{0, 100}, {1, 101}, {2, 102}, {3, 103}, {4, 104},
		{5, 105}, {6, 105}, {1000, 105}, {-1, 105},
	} {
		if got := call(t, inst, "switch", wasm.ValueI32(tc.in)); got.I32() != tc.want {
			t.Fatalf("switch(%d)=%d, want %d", tc.in, got.I32(), tc.want)
		}
	}
}

func TestBrTableWithValue(t *testing.T) {
	inst := instantiate(t, `
types:
  - params: [i32, i32]
    results: [i32]
functions:
  - name: pick
    type: 0
    export: true
    body: |
      block (result i32)
        block (result i32)
          local.get 1
          local.get 0
          br_table 0 1 0
        end
        i32.const 1000
        i32.add
      end
`, defaultHost)
	for _, tc := range []struct {
		sel, v, want int32
	}{
		{0, 5, 1005},
		{1, 5, 5},
		{2, 5, 1005},
	} {
		if got := call(t, inst, "pick", wasm.ValueI32(tc.sel), wasm.ValueI32(tc.v)); got.I32() != tc.want {
			t.Fatalf("pick(%d, %d)=%d, want %d", tc.sel, tc.v, got.I32(), tc.want)
		}
	}
}

func TestFloats(t *testing.T) {
	inst := instantiate(t, `
types:
  - params: [f64, f64]
    results: [f64]
  - params: [f64]
    results: [i32]
  - params: [i64]
    results: [f64]
  - params: [f32]
    results: [f32]
functions:
  - name: hypot
    type: 0
    export: true
    body: |
      local.get 0
      local.get 0
      f64.mul
      local.get 1
      local.get 1
      f64.mul
      f64.add
      f64.sqrt
  - name: trunc
    type: 1
    export: true
    body: |
      local.get 0
      i32.trunc_f64_s
  - name: convert
    type: 2
    export: true
    body: |
      local.get 0
      f64.convert_i64_u
  - name: round
    type: 3
    export: true
    body: |
      local.get 0
      f32.nearest
      f32.neg
  - name: lt
    type: 0
    export: true
    body: |
      local.get 0
      local.get 1
      f64.lt
      f64.convert_i32_u
`, defaultHost)
	if got := call(t, inst, "hypot", wasm.ValueF64(3), wasm.ValueF64(4)); got.F64() != 5 {
		t.Fatalf("hypot(3, 4)=%v", got.F64())
	}
	if got := call(t, inst, "trunc", wasm.ValueF64(-3.9)); got.I32() != -3 {
		t.Fatalf("trunc(-3.9)=%d", got.I32())
	}
	if got := call(t, inst, "convert", wasm.ValueI64(math.MinInt64)); got.F64() != 9223372036854775808 {
		t.Fatalf("convert(1<<63)=%v", got.F64())
	}
	if got := call(t, inst, "round", wasm.ValueF32(2.5)); got.F32() != -2 {
		t.Fatalf("round(2.5)=%v", got.F32())
	}
	if got := call(t, inst, "lt", wasm.ValueF64(1), wasm.ValueF64(2)); got.F64() != 1 {
		t.Fatalf("lt(1, 2)=%v", got.F64())
	}
	if got := call(t, inst, "lt", wasm.ValueF64(math.NaN()), wasm.ValueF64(2)); got.F64() != 0 {
		t.Fatalf("lt(NaN, 2)=%v", got.F64())
	}
	expectTrap(t, inst, jit.TrapFloatUnrepresentable, "trunc", wasm.ValueF64(math.NaN()))
	expectTrap(t, inst, jit.TrapFloatUnrepresentable, "trunc", wasm.ValueF64(1e10))
}

const memoryModule = `
types:
  - params: [i32, i32]
  - params: [i32]
    results: [i32]
  - params: [i32]
    results: [i64]
  - results: [i32]
memory:
  min: 1
  max: 3
globals:
  - type: i32
    mutable: true
    init: "40"
  - type: i64
    init: "-2"
functions:
  - name: store
    type: 0
    export: true
    body: |
      local.get 0
      local.get 1
      i32.store offset=4
  - name: load
    type: 1
    export: true
    body: |
      local.get 0
      i32.load offset=4
  - name: load8_s
    type: 2
    export: true
    body: |
      local.get 0
      i64.load8_s
  - name: grow
    type: 1
    export: true
    body: |
      local.get 0
      memory.grow
  - name: size
    type: 3
    export: true
    body: |
      memory.size
  - name: bump
    type: 1
    export: true
    body: |
      global.get 0
      local.get 0
      i32.add
      global.set 0
      global.get 0
`

func TestMemory(t *testing.T) {
	inst := instantiate(t, memoryModule, defaultHost)
	if _, err := inst.Call("store", wasm.ValueI32(16), wasm.ValueI32(0x11223344)); err != nil {
		t.Fatalf("store failed: %v", err)
	}
	if got := inst.Memory()[20:24]; !cmp.Equal(got, []byte{0x44, 0x33, 0x22, 0x11}) {
		t.Fatalf("memory after store: % x", got)
	}
	if got := call(t, inst, "load", wasm.ValueI32(16)); got.I32() != 0x11223344 {
		t.Fatalf("load(16)=%#x", got.I32())
	}
	inst.Memory()[100] = 0xfe
	if got := call(t, inst, "load8_s", wasm.ValueI32(100)); got.I64() != -2 {
		t.Fatalf("load8_s(100)=%d", got.I64())
	}

	te := expectTrap(t, inst, jit.TrapMemOutOfBounds, "load", wasm.ValueI32(wasm.PageSize-6))
	if te.Op != wasm.I32Load {
		t.Fatalf("trap op %s", te.Op)
	}
	expectTrap(t, inst, jit.TrapMemOutOfBounds, "load", wasm.ValueI32(-1))
	if got := call(t, inst, "load", wasm.ValueI32(wasm.PageSize-8)); got.I32() != 0 {
		t.Fatalf("load at the last word=%d", got.I32())
	}
}

func TestMemoryGrow(t *testing.T) {
	inst := instantiate(t, memoryModule, defaultHost)
	for _, step := range []struct {
		name string
		arg  int32
		want int32
	}{
		{"size", 0, 1},
		{"grow", 1, 1},
		{"size", 0, 2},
		{"grow", 5, -1},
		{"grow", 1, 2},
		{"grow", 1, -1},
		{"grow", 0, 3},
	} {
		var args []wasm.Value
		if step.name == "grow" {
			args = append(args, wasm.ValueI32(step.arg))
		}
		if got := call(t, inst, step.name, args...); got.I32() != step.want {
			t.Fatalf("%s(%d)=%d, want %d", step.name, step.arg, got.I32(), step.want)
		}
	}
	if got, want := inst.MemorySize(), uint64(3*wasm.PageSize); got != want {
		t.Fatalf("MemorySize()=%d, want %d", got, want)
	}
	// Grown pages are addressable.
	if got := call(t, inst, "load", wasm.ValueI32(2*wasm.PageSize+8)); got.I32() != 0 {
		t.Fatalf("load in grown page=%d", got.I32())
	}
}

func TestMemoryFixedSize(t *testing.T) {
	inst := instantiate(t, memoryModule, jit.HostConfig{BoundsChecks: jit.BoundsDynamic, MinMemoryPages: 1})
	if got := call(t, inst, "grow", wasm.ValueI32(1)); got.I32() != -1 {
		t.Fatalf("grow(1)=%d, want -1", got.I32())
	}
	if got := call(t, inst, "size"); got.I32() != 1 {
		t.Fatalf("size()=%d, want 1", got.I32())
	}
}

func TestEmptyMemoryTraps(t *testing.T) {
	const src = `
types:
  - params: [i32]
    results: [i32]
  - params: [i32, i32]
memory:
  min: 0
functions:
  - name: load
    type: 0
    export: true
    body: |
      local.get 0
      i32.load
  - name: store
    type: 1
    export: true
    body: |
      local.get 0
      local.get 1
      i32.store8
`
	for _, mode := range []jit.BoundsCheckMode{jit.BoundsNone, jit.BoundsStatic, jit.BoundsDynamic} {
		t.Run(mode.String(), func(t *testing.T) {
			inst := instantiate(t, src, jit.HostConfig{BoundsChecks: mode})
			if len(inst.Memory()) != 0 {
				t.Fatalf("memory of %d bytes reserved", len(inst.Memory()))
			}
			expectTrap(t, inst, jit.TrapMemOutOfBounds, "load", wasm.ValueI32(0))
			expectTrap(t, inst, jit.TrapMemOutOfBounds, "store", wasm.ValueI32(0), wasm.ValueI32(1))
		})
	}
}

func TestGlobals(t *testing.T) {
	inst := instantiate(t, memoryModule, defaultHost)
	if got := call(t, inst, "bump", wasm.ValueI32(2)); got.I32() != 42 {
		t.Fatalf("bump(2)=%d", got.I32())
	}
	if got := call(t, inst, "bump", wasm.ValueI32(-50)); got.I32() != -8 {
		t.Fatalf("bump(-50)=%d", got.I32())
	}
	g, err := inst.Global(0)
	if err != nil {
		t.Fatalf("Global failed: %v", err)
	}
	if g.I32() != -8 {
		t.Fatalf("global 0=%d", g.I32())
	}
	g, err = inst.Global(1)
	if err != nil || g.I64() != -2 {
		t.Fatalf("global 1=%v, %v", g, err)
	}
	if _, err := inst.Global(2); err == nil {
		t.Fatalf("Global(2) succeeded")
	}
}

const callModule = `
types:
  - params: [i32, i32]
    results: [i32]
  - params: [i32]
    results: [i32]
  - params: [i32, i32, i32, i32, i32, i32, i32, i32, f64, i32]
    results: [i32]
  - params: [i32, i32]
    results: [i32]
table: [0, 1, 3, 0]
functions:
  - name: add
    type: 0
    export: true
    body: |
      local.get 0
      local.get 1
      i32.add
  - name: twice
    type: 1
    export: true
    body: |
      local.get 0
      local.get 0
      call 0
  - name: dispatch
    type: 0
    export: true
    body: |
      local.get 1
      i32.const 3
      local.get 0
      call_indirect 3
  - name: weights
    type: 2
    export: true
    body: |
      local.get 0
      local.get 1
      i32.const 2
      i32.mul
      i32.add
      local.get 2
      i32.const 3
      i32.mul
      i32.add
      local.get 3
      i32.const 4
      i32.mul
      i32.add
      local.get 4
      i32.const 5
      i32.mul
      i32.add
      local.get 5
      i32.const 6
      i32.mul
      i32.add
      local.get 6
      i32.const 7
      i32.mul
      i32.add
      local.get 7
      i32.const 8
      i32.mul
      i32.add
      local.get 8
      i32.trunc_f64_s
      i32.const 9
      i32.mul
      i32.add
      local.get 9
      i32.const 10
      i32.mul
      i32.add
  - name: call_weights
    type: 1
    export: true
    body: |
      local.get 0
      i32.const 1
      i32.const 1
      i32.const 1
      i32.const 1
      i32.const 1
      i32.const 1
      local.get 0
      f64.const 2
      i32.const 1
      call 3
      local.get 0
      i32.const 100
      call 0
      i32.add
  - name: dispatch1
    type: 0
    export: true
    body: |
      local.get 1
      local.get 0
      call_indirect 1
`

func TestCalls(t *testing.T) {
	inst := instantiate(t, callModule, defaultHost)
	i32 := wasm.ValueI32
	if got := call(t, inst, "twice", i32(21)); got.I32() != 42 {
		t.Fatalf("twice(21)=%d", got.I32())
	}
	args := []wasm.Value{i32(1), i32(1), i32(1), i32(1), i32(1), i32(1), i32(1), i32(1), wasm.ValueF64(1.5), i32(1)}
	if got := call(t, inst, "weights", args...); got.I32() != 1+2+3+4+5+6+7+8+9+10 {
		t.Fatalf("weights(1...)=%d", got.I32())
	}
	// 3 + 2+3+4+5+6+7 + 8*3 + 9*2 + 10, then 3+100.
	if got := call(t, inst, "call_weights", i32(3)); got.I32() != 3+27+24+18+10+103 {
		t.Fatalf("call_weights(3)=%d", got.I32())
	}
}

func TestCallIndirect(t *testing.T) {
	inst := instantiate(t, callModule, defaultHost)
	i32 := wasm.ValueI32
	// Type 3 is identical to type 0, so add (table slots 0 and 3) matches.
	for _, slot := range []int32{0, 3} {
		if got := call(t, inst, "dispatch", i32(slot), i32(4)); got.I32() != 7 {
			t.Fatalf("dispatch(%d, 4)=%d, want 7", slot, got.I32())
		}
	}
	if got := call(t, inst, "dispatch1", i32(1), i32(8)); got.I32() != 16 {
		t.Fatalf("dispatch1(1, 8)=%d, want 16", got.I32())
	}
	expectTrap(t, inst, jit.TrapFuncSigMismatch, "dispatch", i32(1), i32(4))
	expectTrap(t, inst, jit.TrapFuncSigMismatch, "dispatch", i32(2), i32(4))
	expectTrap(t, inst, jit.TrapFuncInvalid, "dispatch", i32(4), i32(4))
	expectTrap(t, inst, jit.TrapFuncInvalid, "dispatch", i32(-1), i32(4))
}

func TestRegisterPressure(t *testing.T) {
	const n = 20
	var body strings.Builder
	for k := 1; k <= n; k++ {
		fmt.Fprintf(&body, "      local.get 0\n      i32.const %d\n      i32.add\n", k)
	}
	for k := 1; k < n; k++ {
		body.WriteString("      i32.add\n")
	}
	inst := instantiate(t, `
types:
  - params: [i32]
    results: [i32]
functions:
  - name: spill
    type: 0
    export: true
    body: |
`+body.String(), defaultHost)
	if got, want := call(t, inst, "spill", wasm.ValueI32(3)).I32(), int32(n*3+n*(n+1)/2); got != want {
		t.Fatalf("spill(3)=%d, want %d", got, want)
	}
}

func TestCallErrors(t *testing.T) {
	inst := instantiate(t, callModule, defaultHost)
	if _, err := inst.Call("missing"); err == nil || !strings.Contains(err.Error(), "no export") {
		t.Fatalf("err=%v", err)
	}
	if _, err := inst.Call("add", wasm.ValueI32(1)); err == nil {
		t.Fatalf("call with too few arguments succeeded")
	}
	if _, err := inst.Call("add", wasm.ValueI32(1), wasm.ValueI64(2)); err == nil {
		t.Fatalf("call with a mistyped argument succeeded")
	}
	if _, err := inst.CallIndex(99); err == nil {
		t.Fatalf("CallIndex(99) succeeded")
	}
}

func TestLoadFromArtifact(t *testing.T) {
	mod, err := wasm.ParseModule([]byte(arithmeticModule))
	if err != nil {
		t.Fatalf("ParseModule failed: %v", err)
	}
	funcs, err := jit.CompileModule(context.Background(), &jit.CompileContext{Module: mod, Host: defaultHost, Logger: quietLogger}, jit.ModuleOptions{})
	if err != nil {
		t.Fatalf("CompileModule failed: %v", err)
	}
	a, err := artifact.FromCompiled(mod, funcs)
	if err != nil {
		t.Fatalf("FromCompiled failed: %v", err)
	}
	data, err := artifact.Marshal(a)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	loaded, err := artifact.Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	inst, err := New(mod, loaded.Compiled(), Options{Host: defaultHost, Logger: quietLogger})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer inst.Close()
	if got := call(t, inst, "sum", wasm.ValueI32(4)); got.I32() != 10 {
		t.Fatalf("sum(4)=%d", got.I32())
	}
	te := expectTrap(t, inst, jit.TrapDivByZero, "div_s", wasm.ValueI32(1), wasm.ValueI32(0))
	if te.Op != wasm.I32DivS {
		t.Fatalf("trap op %s after reload", te.Op)
	}
}
