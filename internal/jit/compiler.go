package jit

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/tinyrange/wasmjit/internal/asm"
	"github.com/tinyrange/wasmjit/internal/asm/amd64"
	"github.com/tinyrange/wasmjit/internal/wasm"
)

// Compiled is the result of compiling one function.
type Compiled struct {
	Index     uint32
	Program   *asm.Program
	Signature LocationSignature
	SourceMap *SourceMap
	Traps     []TrapSite
}

type compiler struct {
	ctx       *CompileContext
	module    *wasm.ModuleTypes
	host      HostConfig
	log       *slog.Logger
	funcIndex uint32
	fn        *wasm.Function
	ftype     wasm.FuncType
	sig       LocationSignature
	numLocals int

	buf        *asm.Buffer
	state      CacheState
	control    ControlStack
	refs       []asm.MemoryRef
	ool        []*outOfLineCode
	srcmap     *SourceMap
	frameSlots int

	// instr is the index of the instruction being compiled, op its opcode.
	instr int
	op    wasm.Opcode
}

// CompileFunction compiles function index of ctx.Module into position
// independent amd64 code. Every failure is returned as a *CompileError.
func CompileFunction(ctx *CompileContext, index uint32) (*Compiled, error) {
	c, err := newCompiler(ctx, index)
	if err != nil {
		return nil, &CompileError{Func: index, Instr: -1, Err: err}
	}
	return c.run()
}

func newCompiler(ctx *CompileContext, index uint32) (*compiler, error) {
	if ctx == nil || ctx.Module == nil {
		return nil, fmt.Errorf("%w: no module", ErrMalformed)
	}
	m := ctx.Module
	if int(index) >= len(m.Functions) {
		return nil, fmt.Errorf("%w: function index %d out of range", ErrMalformed, index)
	}
	ft, err := m.FuncType(index)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(ft.Results) > 1 {
		return nil, fmt.Errorf("%w: %d results", ErrUnsupported, len(ft.Results))
	}
	fn := &m.Functions[index]
	return &compiler{
		ctx:       ctx,
		module:    m,
		host:      ctx.Host.ForModule(m),
		log:       ctx.logger(),
		funcIndex: index,
		fn:        fn,
		ftype:     ft,
		sig:       NewLocationSignature(ft),
		numLocals: len(ft.Params) + len(fn.Locals),
		buf:       asm.NewBuffer(64 + 16*wasm.Count(fn.Body)),
		state:     NewCacheState(),
		srcmap:    NewSourceMap(),
		instr:     -1,
	}, nil
}

func (c *compiler) run() (out *Compiled, err error) {
	defer func() {
		if r := recover(); r != nil {
			b, ok := r.(bailout)
			if !ok {
				panic(r)
			}
			out, err = nil, c.wrap(b.err)
		}
	}()

	for _, o := range c.ctx.Observers {
		o.FunctionStart(c.event(), c.fn)
	}
	frameOff := amd64.Prologue(c.buf)
	c.setupLocals()

	b := c.control.Push(KindBlock, c.ftype.Results)
	b.StackBase = c.numLocals
	b.LabelState.StackBase = c.numLocals
	b.body = c.fn.Body
	c.state.StackBase = c.numLocals
	c.instr = 0

	for c.control.Depth() > 0 {
		top := c.control.Top()
		var in *wasm.Instr
		op := wasm.End
		switch {
		case top.pos < len(top.body):
			in = &top.body[top.pos]
			top.pos++
			op = in.Op
		case top.Kind == KindIf && top.instr != nil && top.instr.HasElse:
			op = wasm.Else
		}
		c.step(in, op)
	}

	traps := c.emitOutOfLineCode()
	amd64.PatchFrame(c.buf, frameOff, c.frameSlots)
	if err := c.buf.Err(); err != nil {
		return nil, c.wrap(err)
	}
	c.instr = -1
	for _, o := range c.ctx.Observers {
		o.FunctionEnd(c.event(), c.fn)
	}
	c.log.Debug("compiled function", "func", c.funcIndex, "size", c.buf.Len(), "slots", c.frameSlots, "refs", len(c.refs), "traps", len(traps))
	return &Compiled{
		Index:     c.funcIndex,
		Program:   asm.NewProgram(c.buf.Bytes(), c.refs, c.frameSlots),
		Signature: c.sig,
		SourceMap: c.srcmap,
		Traps:     traps,
	}, nil
}

func (c *compiler) wrap(err error) error {
	var ce *CompileError
	if errors.As(err, &ce) {
		return ce
	}
	return &CompileError{Func: c.funcIndex, Instr: c.instr, Op: c.op, Err: err}
}

// setupLocals places parameters where the caller passed them and
// initialises the declared locals to zero.
func (c *compiler) setupLocals() {
	for _, p := range c.sig.Params {
		if p.Loc == LocRegister {
			c.state.PushRegister(p.Type, p.Reg)
			continue
		}
		r := c.unusedRegister(amd64.ClassOf(p.Type), nil, 0)
		amd64.LoadCallerFrameSlot(c.buf, p.Type, r, p.StackOffset)
		c.state.PushRegister(p.Type, r)
	}
	zero := amd64.RegUnknown
	for _, t := range c.fn.Locals {
		if !t.Valid() {
			c.malformed("local of invalid type")
		}
		if !t.IsFloat() {
			c.state.PushConst(t, 0)
			continue
		}
		// Float zeros share one register until the first write.
		if zero == amd64.RegUnknown || !c.state.Used.Has(zero) {
			zero = c.unusedRegister(amd64.FPReg, nil, 0)
			amd64.LoadConstant(c.buf, wasm.F64, zero, 0)
		}
		c.state.PushRegister(t, zero)
	}
}

func (c *compiler) event() Event {
	return Event{
		Func:   c.funcIndex,
		Instr:  c.instr,
		Op:     c.op,
		Depth:  c.control.Depth(),
		Offset: c.buf.Len(),
	}
}

// step compiles one instruction. In is nil for the else and end markers the
// driver synthesises at the end of a body.
func (c *compiler) step(in *wasm.Instr, op wasm.Opcode) {
	c.op = op
	top := c.control.Top()
	if top.Reachability == Unreachable && op != wasm.End && op != wasm.Else {
		c.instr += wasm.Count([]wasm.Instr{*in})
		return
	}
	c.srcmap.Add(c.buf.Len(), c.instr, op)
	for _, o := range c.ctx.Observers {
		o.InstructionStart(c.event(), in)
	}
	c.emit(in, op)
	if err := c.buf.Err(); err != nil {
		panic(bailout{err})
	}
	for _, o := range c.ctx.Observers {
		o.InstructionEnd(c.event(), in)
	}
	c.instr++
}

func (c *compiler) emit(in *wasm.Instr, op wasm.Opcode) {
	if !op.Valid() {
		c.fail(ErrUnsupported, "opcode %d", uint16(op))
	}
	info := op.Info()
	switch info.Kind {
	case wasm.KindControl:
		c.emitControl(in, op)
	case wasm.KindParametric:
		if op == wasm.Drop {
			c.emitDrop()
		} else {
			c.emitSelect()
		}
	case wasm.KindVariable:
		c.emitVariable(in, op)
	case wasm.KindLoad:
		c.emitLoad(in, info)
	case wasm.KindStore:
		c.emitStore(in, info)
	case wasm.KindMemory:
		if op == wasm.MemorySize {
			c.emitMemorySize()
		} else {
			c.emitMemoryGrow()
		}
	case wasm.KindConst:
		c.emitConst(in, op)
	case wasm.KindCompare, wasm.KindBinary:
		c.emitBinOp(op, info)
	case wasm.KindUnary:
		c.emitUnOp(op, info)
	case wasm.KindConvert:
		c.emitConversion(op, info)
	default:
		c.fail(ErrUnsupported, "opcode %s", op)
	}
}

func (c *compiler) emitControl(in *wasm.Instr, op wasm.Opcode) {
	switch op {
	case wasm.Nop:
	case wasm.Unreachable:
		c.emitUnreachable()
	case wasm.Block:
		c.emitBlock(in)
	case wasm.Loop:
		c.emitLoop(in)
	case wasm.If:
		c.emitIf(in)
	case wasm.Else:
		c.emitElse()
	case wasm.End:
		c.emitEnd()
	case wasm.Br:
		c.emitBr(int(in.Index))
	case wasm.BrIf:
		c.emitBrIf(int(in.Index))
	case wasm.BrTable:
		c.emitBrTable(in)
	case wasm.Return:
		c.returnImpl()
		c.control.Top().End()
	case wasm.Call:
		c.emitCall(in.Index)
	case wasm.CallIndirect:
		c.emitCallIndirect(in.Index)
	default:
		c.fail(ErrUnsupported, "control opcode %s", op)
	}
}

// topType returns the type of the operand depth entries below the top.
func (c *compiler) topType(depth int) wasm.ValueType {
	if c.state.Height()-depth <= c.control.Top().StackBase {
		c.malformed("operand stack underflow")
	}
	return c.state.Peek(depth).Type
}

// expect checks the type of the operand depth entries below the top.
func (c *compiler) expect(depth int, t wasm.ValueType) {
	if got := c.topType(depth); got != t {
		c.malformed("operand %d has type %s, expected %s", depth, got, t)
	}
}
