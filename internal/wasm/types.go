// Package wasm holds the parsed form of WebAssembly modules consumed by the
// compiler: value and function types, the opcode table and instruction trees.
package wasm

import (
	"fmt"
	"strings"
)

// ValueType is a WebAssembly numeric type.
type ValueType uint8

const (
	I32 ValueType = iota + 1
	I64
	F32
	F64
)

func (t ValueType) String() string {
	switch t {
	case I32:
		return "i32"
	case I64:
		return "i64"
	case F32:
		return "f32"
	case F64:
		return "f64"
	default:
		return fmt.Sprintf("ValueType(%d)", uint8(t))
	}
}

// Valid reports whether t is one of the four numeric types.
func (t ValueType) Valid() bool { return t >= I32 && t <= F64 }

// IsFloat reports whether values of type t live in floating-point registers.
func (t ValueType) IsFloat() bool { return t == F32 || t == F64 }

// Is64 reports whether t is a 64-bit type.
func (t ValueType) Is64() bool { return t == I64 || t == F64 }

// Size returns the width of t in bytes.
func (t ValueType) Size() int {
	if t.Is64() {
		return 8
	}
	return 4
}

// ParseValueType parses the text name of a value type.
func ParseValueType(s string) (ValueType, error) {
	switch s {
	case "i32":
		return I32, nil
	case "i64":
		return I64, nil
	case "f32":
		return F32, nil
	case "f64":
		return F64, nil
	}
	return 0, fmt.Errorf("wasm: unknown value type %q", s)
}

// FuncType is a function signature. WebAssembly 1.0 allows at most one result.
type FuncType struct {
	Params  []ValueType
	Results []ValueType
}

// Equal reports whether two signatures are structurally identical.
func (f FuncType) Equal(o FuncType) bool {
	return typesEqual(f.Params, o.Params) && typesEqual(f.Results, o.Results)
}

func (f FuncType) String() string {
	return "(" + joinTypes(f.Params) + ") -> (" + joinTypes(f.Results) + ")"
}

// BlockType is the result signature of a block, loop or if.
type BlockType struct {
	Results []ValueType
}

// Arity returns the number of values the block leaves on the stack.
func (b BlockType) Arity() int { return len(b.Results) }

func typesEqual(a, b []ValueType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func joinTypes(ts []ValueType) string {
	parts := make([]string, len(ts))
	for i, t := range ts {
		parts[i] = t.String()
	}
	return strings.Join(parts, ", ")
}
