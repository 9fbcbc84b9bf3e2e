package jit

import (
	"github.com/tinyrange/wasmjit/internal/asm/amd64"
	"github.com/tinyrange/wasmjit/internal/wasm"
)

// LinkageLocation is where one parameter is passed: a register, or the
// StackOffset-th 8-byte slot above the return address.
type LinkageLocation struct {
	Type        wasm.ValueType
	Loc         Location
	Reg         amd64.Register
	StackOffset int
}

// LocationSignature is the System V placement of a function's parameters
// and result.
type LocationSignature struct {
	Params      []LinkageLocation
	Result      amd64.Register
	ResultType  wasm.ValueType
	HasResult   bool
	StackParams int
}

// ParameterAllocator hands out argument registers in order and falls back to
// stack slots.
type ParameterAllocator struct {
	gp, fp, stack int
}

func (a *ParameterAllocator) Next(t wasm.ValueType) LinkageLocation {
	if t.IsFloat() {
		if a.fp < len(amd64.FPParams) {
			r := amd64.FPParams[a.fp]
			a.fp++
			return LinkageLocation{Type: t, Loc: LocRegister, Reg: r}
		}
	} else if a.gp < len(amd64.GPParams) {
		r := amd64.GPParams[a.gp]
		a.gp++
		return LinkageLocation{Type: t, Loc: LocRegister, Reg: r}
	}
	off := a.stack
	a.stack++
	return LinkageLocation{Type: t, Loc: LocStack, Reg: amd64.RegUnknown, StackOffset: off}
}

// NewLocationSignature classifies the parameters of ft.
func NewLocationSignature(ft wasm.FuncType) LocationSignature {
	var a ParameterAllocator
	sig := LocationSignature{Result: amd64.RegUnknown}
	for _, t := range ft.Params {
		sig.Params = append(sig.Params, a.Next(t))
	}
	sig.StackParams = a.stack
	if len(ft.Results) > 0 {
		sig.HasResult = true
		sig.ResultType = ft.Results[0]
		sig.Result = returnRegister(ft.Results[0])
	}
	return sig
}

// ParamRegisters returns the registers the signature passes values in.
func (s LocationSignature) ParamRegisters() amd64.RegList {
	var l amd64.RegList
	for _, p := range s.Params {
		if p.Loc == LocRegister {
			l = l.Set(p.Reg)
		}
	}
	return l
}

// StackPadding reports whether the caller pushes an extra slot to keep the
// stack 16-byte aligned at the call.
func (s LocationSignature) StackPadding() bool { return s.StackParams%2 == 1 }

func returnRegister(t wasm.ValueType) amd64.Register {
	if t.IsFloat() {
		return amd64.XMM0
	}
	return amd64.RAX
}
