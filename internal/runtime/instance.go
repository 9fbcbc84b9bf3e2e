//go:build linux && amd64

package runtime

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	"github.com/docker/go-units"
	"github.com/ebitengine/purego"
	"golang.org/x/sys/unix"

	"github.com/tinyrange/wasmjit/internal/asm"
	"github.com/tinyrange/wasmjit/internal/asm/amd64"
	"github.com/tinyrange/wasmjit/internal/jit"
	"github.com/tinyrange/wasmjit/internal/wasm"
)

// Layout of the data region shared with generated code.
const (
	dataTrapCell   = 0
	dataMemorySize = jit.TrapCellSize
	dataTableSize  = dataMemorySize + 8
	dataGlobals    = dataTableSize + 8
)

// Instance is a module loaded into executable memory. It is not safe for
// concurrent use: all calls share one trap cell.
type Instance struct {
	module *wasm.ModuleTypes
	funcs  []*jit.Compiled
	host   jit.HostConfig
	opts   Options

	arena  *amd64.Arena
	data   []byte
	memory []byte

	tableSigs int
	table     int
	argv      int

	entries []uintptr
	thunks  []uintptr
}

// New maps memory for m and loads the compiled functions, which must be
// indexed by function index.
func New(m *wasm.ModuleTypes, funcs []*jit.Compiled, opts Options) (inst *Instance, err error) {
	if len(funcs) != len(m.Functions) {
		return nil, fmt.Errorf("runtime: %d compiled functions for %d functions", len(funcs), len(m.Functions))
	}
	i := &Instance{module: m, funcs: funcs, host: opts.Host.ForModule(m), opts: opts}
	defer func() {
		if err != nil {
			_ = i.Close()
		}
	}()
	if err := i.mapData(); err != nil {
		return nil, err
	}
	if err := i.mapMemory(); err != nil {
		return nil, err
	}
	if err := i.loadCode(); err != nil {
		return nil, err
	}
	i.initTable()
	opts.logger().Debug("instance ready",
		"functions", len(funcs),
		"code", units.HumanSize(float64(i.arena.Used())),
		"memory", units.HumanSize(float64(len(i.memory))))
	return i, nil
}

func (i *Instance) mapData() error {
	maxParams := 1
	for _, ft := range i.module.Types {
		maxParams = max(maxParams, len(ft.Params))
	}
	n := len(i.module.Table)
	i.tableSigs = dataGlobals + 8*len(i.module.Globals)
	i.table = i.tableSigs + (4*n+7)&^7
	i.argv = i.table + 8*n
	size := i.argv + 8*maxParams

	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return fmt.Errorf("runtime: map data region: %w", err)
	}
	i.data = data
	for idx, g := range i.module.Globals {
		binary.LittleEndian.PutUint64(data[dataGlobals+8*idx:], g.Init.Bits)
	}
	binary.LittleEndian.PutUint32(data[dataTableSize:], uint32(n))
	return nil
}

func (i *Instance) mapMemory() error {
	if i.module.Memory == nil {
		return nil
	}
	limit := i.host.MemoryLimit()
	binary.LittleEndian.PutUint64(i.data[dataMemorySize:], uint64(i.host.MinMemoryPages)*wasm.PageSize)
	if limit == 0 {
		return nil
	}
	mem, err := unix.Mmap(-1, 0, int(limit), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON|unix.MAP_NORESERVE)
	if err != nil {
		return fmt.Errorf("runtime: map %s of linear memory: %w", units.BytesSize(float64(limit)), err)
	}
	i.memory = mem
	return nil
}

// loadCode reserves room for every function, resolves the memory references
// against the final addresses and writes the entry thunks.
func (i *Instance) loadCode() error {
	total := 0
	for _, fn := range i.funcs {
		total += fn.Program.Len() + 16
	}
	thunkBudget := 256 * len(i.funcs)
	size := i.opts.CodeArenaSize
	if size == 0 {
		size = total + thunkBudget
	}
	arena, err := amd64.NewArena(size)
	if err != nil {
		return fmt.Errorf("runtime: %w", err)
	}
	i.arena = arena

	slots := make([][]byte, len(i.funcs))
	i.entries = make([]uintptr, len(i.funcs))
	for idx, fn := range i.funcs {
		addr, dst, err := arena.Reserve(fn.Program.Len())
		if err != nil {
			return fmt.Errorf("runtime: func[%d]: %w", idx, err)
		}
		i.entries[idx] = addr
		slots[idx] = dst
	}
	for idx, fn := range i.funcs {
		code, err := fn.Program.Resolve(i.lookup)
		if err != nil {
			return fmt.Errorf("runtime: func[%d]: %w", idx, err)
		}
		copy(slots[idx], code)
	}

	i.thunks = make([]uintptr, len(i.funcs))
	for idx, fn := range i.funcs {
		th, err := emitThunk(fn.Signature, uint64(i.entries[idx]), uint64(i.dataAddr(dataTrapCell)))
		if err != nil {
			return fmt.Errorf("runtime: thunk for func[%d]: %w", idx, err)
		}
		addr, dst, err := arena.Reserve(len(th.code))
		if err != nil {
			return fmt.Errorf("runtime: thunk for func[%d]: %w", idx, err)
		}
		copy(dst, th.link(addr))
		i.thunks[idx] = addr
	}
	return arena.Seal()
}

func (i *Instance) initTable() {
	for idx, fidx := range i.module.Table {
		sig := i.module.CanonicalType(i.module.Functions[fidx].Type)
		binary.LittleEndian.PutUint32(i.data[i.tableSigs+4*idx:], sig)
		binary.LittleEndian.PutUint64(i.data[i.table+8*idx:], uint64(i.entries[fidx]))
	}
}

func (i *Instance) dataAddr(off int) uintptr {
	return uintptr(unsafe.Pointer(&i.data[0])) + uintptr(off)
}

func (i *Instance) lookup(ref asm.MemoryRef) (uint64, error) {
	switch ref.Kind {
	case asm.RefGlobal:
		if int(ref.Index) >= len(i.module.Globals) {
			return 0, fmt.Errorf("no global %d", ref.Index)
		}
		return uint64(i.dataAddr(dataGlobals + 8*int(ref.Index))), nil
	case asm.RefMemory:
		if len(i.memory) == 0 {
			return 0, nil
		}
		return uint64(uintptr(unsafe.Pointer(&i.memory[0]))), nil
	case asm.RefMemorySize:
		return uint64(i.dataAddr(dataMemorySize)), nil
	case asm.RefFunc:
		if int(ref.Index) >= len(i.entries) {
			return 0, fmt.Errorf("no function %d", ref.Index)
		}
		return uint64(i.entries[ref.Index]), nil
	case asm.RefTable:
		return uint64(i.dataAddr(i.table)), nil
	case asm.RefTableSize:
		return uint64(i.dataAddr(dataTableSize)), nil
	case asm.RefTableSigs:
		return uint64(i.dataAddr(i.tableSigs)), nil
	case asm.RefTrap:
		return uint64(i.dataAddr(dataTrapCell)), nil
	default:
		return 0, fmt.Errorf("unknown reference kind %s", ref.Kind)
	}
}

// Call runs the exported function name.
func (i *Instance) Call(name string, args ...wasm.Value) ([]wasm.Value, error) {
	idx, ok := i.module.Export(name)
	if !ok {
		return nil, fmt.Errorf("runtime: no export %q", name)
	}
	return i.CallIndex(idx, args...)
}

// CallIndex runs function idx. A trap is returned as a *TrapError.
func (i *Instance) CallIndex(idx uint32, args ...wasm.Value) ([]wasm.Value, error) {
	if int(idx) >= len(i.thunks) {
		return nil, fmt.Errorf("runtime: no function %d", idx)
	}
	ft, err := i.module.FuncType(idx)
	if err != nil {
		return nil, fmt.Errorf("runtime: %w", err)
	}
	if err := checkArgs(ft, args); err != nil {
		return nil, err
	}
	for n, a := range args {
		binary.LittleEndian.PutUint64(i.data[i.argv+8*n:], a.Bits)
	}
	clear(i.data[dataTrapCell : dataTrapCell+jit.TrapCellSize])

	r1, _, _ := purego.SyscallN(i.thunks[idx], i.dataAddr(i.argv))

	cell := i.data[dataTrapCell:]
	if kind := jit.TrapKind(binary.LittleEndian.Uint32(cell[jit.TrapCellKind:])); kind != jit.TrapNone {
		fn := binary.LittleEndian.Uint32(cell[jit.TrapCellFunc:])
		instr := int(binary.LittleEndian.Uint32(cell[jit.TrapCellInstr:]))
		var compiled *jit.Compiled
		if int(fn) < len(i.funcs) {
			compiled = i.funcs[fn]
		}
		return nil, &TrapError{Kind: kind, Func: fn, Instr: instr, Op: trapOp(compiled, instr)}
	}
	if len(ft.Results) == 0 {
		return nil, nil
	}
	return []wasm.Value{resultValue(ft.Results[0], uint64(r1))}, nil
}

// Memory returns the linear memory. Its length is the reserved size; the
// current size is MemorySize.
func (i *Instance) Memory() []byte { return i.memory }

// MemorySize returns the current linear memory size in bytes.
func (i *Instance) MemorySize() uint64 {
	return binary.LittleEndian.Uint64(i.data[dataMemorySize:])
}

// Global returns the current value of global idx.
func (i *Instance) Global(idx uint32) (wasm.Value, error) {
	if int(idx) >= len(i.module.Globals) {
		return wasm.Value{}, fmt.Errorf("runtime: no global %d", idx)
	}
	g := i.module.Globals[idx]
	return resultValue(g.Type, binary.LittleEndian.Uint64(i.data[dataGlobals+8*int(idx):])), nil
}

// Close releases the code, data and memory mappings.
func (i *Instance) Close() error {
	var first error
	if i.arena != nil {
		first = i.arena.Close()
		i.arena = nil
	}
	for _, m := range []*[]byte{&i.memory, &i.data} {
		if *m == nil {
			continue
		}
		if err := unix.Munmap(*m); err != nil && first == nil {
			first = fmt.Errorf("runtime: unmap: %w", err)
		}
		*m = nil
	}
	return first
}
