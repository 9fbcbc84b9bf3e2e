package jit

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/tinyrange/wasmjit/internal/wasm"
)

// MachineInstKind classifies the machine level events observers see.
type MachineInstKind uint8

const (
	MachineUncondBranch MachineInstKind = iota
	MachineCondBranch
	MachineBrTableBranch
	MachineBind
	MachineCall
	MachineReturn
	MachineMemoryAccess
)

var machineInstNames = [...]string{
	MachineUncondBranch:  "uncond_branch",
	MachineCondBranch:    "cond_branch",
	MachineBrTableBranch: "br_table_branch",
	MachineBind:          "bind",
	MachineCall:          "call",
	MachineReturn:        "return",
	MachineMemoryAccess:  "memory_access",
}

func (k MachineInstKind) String() string {
	if int(k) < len(machineInstNames) {
		return machineInstNames[k]
	}
	return fmt.Sprintf("MachineInstKind(%d)", uint8(k))
}

// MachineInst describes one machine level event. Depth is the branch depth
// for branches and binds, Index the callee for direct calls.
type MachineInst struct {
	Kind  MachineInstKind
	Depth int
	Index uint32
}

// Event locates an observer callback in the function being compiled. Offset
// is the code offset when the callback runs.
type Event struct {
	Func   uint32
	Instr  int
	Op     wasm.Opcode
	Depth  int
	Offset int
}

// Observer receives compilation events in program order. Observers shared
// between concurrent compilations must be safe for concurrent use.
type Observer interface {
	FunctionStart(ev Event, fn *wasm.Function)
	FunctionEnd(ev Event, fn *wasm.Function)
	ControlStart(ev Event, kind ControlKind)
	ControlEnd(ev Event, kind ControlKind)
	InstructionStart(ev Event, in *wasm.Instr)
	InstructionEnd(ev Event, in *wasm.Instr)
	MachineInstStart(ev Event, mi MachineInst)
	MachineInstEnd(ev Event, mi MachineInst)
}

// NopObserver implements Observer with empty methods for embedding.
type NopObserver struct{}

func (NopObserver) FunctionStart(Event, *wasm.Function) {}
func (NopObserver) FunctionEnd(Event, *wasm.Function) {}
func (NopObserver) ControlStart(Event, ControlKind) {}
func (NopObserver) ControlEnd(Event, ControlKind) {}
func (NopObserver) InstructionStart(Event, *wasm.Instr) {}
func (NopObserver) InstructionEnd(Event, *wasm.Instr) {}
func (NopObserver) MachineInstStart(Event, MachineInst) {}
func (NopObserver) MachineInstEnd(Event, MachineInst) {}

// TracePass logs every event at debug level.
type TracePass struct {
	Logger *slog.Logger
}

func (p TracePass) log() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

func (p TracePass) FunctionStart(ev Event, fn *wasm.Function) {
	p.log().Debug("function start", "func", ev.Func, "name", fn.Name, "locals", len(fn.Locals))
}

func (p TracePass) FunctionEnd(ev Event, fn *wasm.Function) {
	p.log().Debug("function end", "func", ev.Func, "size", ev.Offset)
}

func (p TracePass) ControlStart(ev Event, kind ControlKind) {
	p.log().Debug("control start", "func", ev.Func, "instr", ev.Instr, "kind", kind, "depth", ev.Depth)
}

func (p TracePass) ControlEnd(ev Event, kind ControlKind) {
	p.log().Debug("control end", "func", ev.Func, "instr", ev.Instr, "kind", kind, "depth", ev.Depth)
}

func (p TracePass) InstructionStart(ev Event, in *wasm.Instr) {
	p.log().Debug("instr", "func", ev.Func, "instr", ev.Instr, "op", ev.Op, "offset", ev.Offset)
}

func (TracePass) InstructionEnd(Event, *wasm.Instr) {}

func (p TracePass) MachineInstStart(ev Event, mi MachineInst) {
	p.log().Debug("machine", "func", ev.Func, "instr", ev.Instr, "kind", mi.Kind, "depth", mi.Depth, "offset", ev.Offset)
}

func (TracePass) MachineInstEnd(Event, MachineInst) {}

// Access is one recorded variable access.
type Access struct {
	Func   uint32
	Instr  int
	Global bool
	Index  uint32
	Write  bool
}

// StatsPass counts events and records local and global accesses.
type StatsPass struct {
	NopObserver

	mu        sync.Mutex
	functions int
	instrs    map[wasm.Opcode]int
	controls  map[ControlKind]int
	machine   map[MachineInstKind]int
	accesses  []Access
	codeBytes int
}

func NewStatsPass() *StatsPass {
	return &StatsPass{
		instrs:   make(map[wasm.Opcode]int),
		controls: make(map[ControlKind]int),
		machine:  make(map[MachineInstKind]int),
	}
}

func (p *StatsPass) FunctionStart(Event, *wasm.Function) {
	p.mu.Lock()
	p.functions++
	p.mu.Unlock()
}

func (p *StatsPass) FunctionEnd(ev Event, _ *wasm.Function) {
	p.mu.Lock()
	p.codeBytes += ev.Offset
	p.mu.Unlock()
}

func (p *StatsPass) ControlStart(_ Event, kind ControlKind) {
	p.mu.Lock()
	p.controls[kind]++
	p.mu.Unlock()
}

func (p *StatsPass) InstructionStart(ev Event, in *wasm.Instr) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.instrs[ev.Op]++
	if in == nil {
		return
	}
	acc := Access{Func: ev.Func, Instr: ev.Instr, Index: in.Index}
	switch in.Op {
	case wasm.LocalGet:
	case wasm.LocalSet, wasm.LocalTee:
		acc.Write = true
	case wasm.GlobalGet:
		acc.Global = true
	case wasm.GlobalSet:
		acc.Global, acc.Write = true, true
	default:
		return
	}
	p.accesses = append(p.accesses, acc)
}

func (p *StatsPass) MachineInstStart(_ Event, mi MachineInst) {
	p.mu.Lock()
	p.machine[mi.Kind]++
	p.mu.Unlock()
}

// Stats is a snapshot of a StatsPass.
type Stats struct {
	Functions    int
	CodeBytes    int
	Instructions map[wasm.Opcode]int
	Controls     map[ControlKind]int
	Machine      map[MachineInstKind]int
	Accesses     []Access
}

func (p *StatsPass) Snapshot() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := Stats{
		Functions:    p.functions,
		CodeBytes:    p.codeBytes,
		Instructions: make(map[wasm.Opcode]int, len(p.instrs)),
		Controls:     make(map[ControlKind]int, len(p.controls)),
		Machine:      make(map[MachineInstKind]int, len(p.machine)),
		Accesses:     append([]Access(nil), p.accesses...),
	}
	for k, v := range p.instrs {
		s.Instructions[k] = v
	}
	for k, v := range p.controls {
		s.Controls[k] = v
	}
	for k, v := range p.machine {
		s.Machine[k] = v
	}
	sort.Slice(s.Accesses, func(i, j int) bool {
		a, b := s.Accesses[i], s.Accesses[j]
		if a.Func != b.Func {
			return a.Func < b.Func
		}
		return a.Instr < b.Instr
	})
	return s
}
