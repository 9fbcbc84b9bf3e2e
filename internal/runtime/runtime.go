// Package runtime loads compiled functions into executable memory and runs
// them against a linear memory, globals and a function table.
package runtime

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/tinyrange/wasmjit/internal/jit"
	"github.com/tinyrange/wasmjit/internal/wasm"
)

var (
	// ErrTrap is matched by every *TrapError.
	ErrTrap = errors.New("trap")
	// ErrUnsupportedPlatform is returned where generated code cannot run.
	ErrUnsupportedPlatform = errors.New("runtime: generated code runs only on linux/amd64")
)

// TrapError reports a trap raised by generated code.
type TrapError struct {
	Kind  jit.TrapKind
	Func  uint32
	Instr int
	Op    wasm.Opcode
}

func (e *TrapError) Error() string {
	return fmt.Sprintf("runtime: trap %s in func[%d] instr %d (%s)", e.Kind, e.Func, e.Instr, e.Op)
}

func (e *TrapError) Is(target error) bool { return target == ErrTrap }

// Options configures an Instance.
type Options struct {
	Host jit.HostConfig
	// CodeArenaSize is the size of the executable region. Zero sizes it to
	// fit the compiled code.
	CodeArenaSize int
	Logger        *slog.Logger
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// trapOp finds the opcode of instruction instr in fn's source map.
func trapOp(fn *jit.Compiled, instr int) wasm.Opcode {
	if fn == nil || fn.SourceMap == nil {
		return wasm.Unreachable
	}
	for _, e := range fn.SourceMap.Entries() {
		if e.Instr == instr {
			return e.Op
		}
	}
	return wasm.Unreachable
}

// checkArgs verifies args against the parameters of ft.
func checkArgs(ft wasm.FuncType, args []wasm.Value) error {
	if len(args) != len(ft.Params) {
		return fmt.Errorf("runtime: %d arguments for %s", len(args), ft)
	}
	for i, a := range args {
		if a.Type != ft.Params[i] {
			return fmt.Errorf("runtime: argument %d has type %s, want %s", i, a.Type, ft.Params[i])
		}
	}
	return nil
}

// resultValue masks the raw return register to the width of t.
func resultValue(t wasm.ValueType, bits uint64) wasm.Value {
	if t == wasm.I32 || t == wasm.F32 {
		bits &= 0xFFFFFFFF
	}
	return wasm.Value{Type: t, Bits: bits}
}
