package jit

import (
	"errors"
	"fmt"

	"github.com/tinyrange/wasmjit/internal/wasm"
)

var (
	// ErrUnsupported reports a construct the compiler does not lower.
	ErrUnsupported = errors.New("unsupported")
	// ErrMalformed reports arity or type violations that validation should
	// have rejected.
	ErrMalformed = errors.New("malformed function")
	// ErrInternal reports a broken allocator, label or stack invariant.
	ErrInternal = errors.New("internal compiler error")
)

// CompileError is the only error CompileFunction returns. Instr is the
// instruction index in visiting order (see wasm.Count), -1 when the failure
// is not tied to an instruction.
type CompileError struct {
	Func  uint32
	Instr int
	Op    wasm.Opcode
	Err   error
}

func (e *CompileError) Error() string {
	if e.Instr < 0 {
		return fmt.Sprintf("jit: func[%d]: %v", e.Func, e.Err)
	}
	return fmt.Sprintf("jit: func[%d] instr %d (%s): %v", e.Func, e.Instr, e.Op, e.Err)
}

func (e *CompileError) Unwrap() error { return e.Err }

// bailout carries an error out of deeply nested emitters. It never escapes
// CompileFunction.
type bailout struct{ err error }

func (c *compiler) fail(kind error, format string, args ...any) {
	panic(bailout{fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))})
}

func (c *compiler) malformed(format string, args ...any) {
	c.fail(ErrMalformed, format, args...)
}

func (c *compiler) internal(format string, args ...any) {
	c.fail(ErrInternal, format, args...)
}
