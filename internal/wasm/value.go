package wasm

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Value is a typed WebAssembly value stored as raw bits.
type Value struct {
	Type ValueType
	Bits uint64
}

func ValueI32(v int32) Value { return Value{Type: I32, Bits: uint64(uint32(v))} }
func ValueI64(v int64) Value { return Value{Type: I64, Bits: uint64(v)} }
func ValueF32(v float32) Value { return Value{Type: F32, Bits: uint64(math.Float32bits(v))} }
func ValueF64(v float64) Value { return Value{Type: F64, Bits: math.Float64bits(v)} }

func (v Value) I32() int32 { return int32(uint32(v.Bits)) }
func (v Value) I64() int64 { return int64(v.Bits) }
func (v Value) F32() float32 { return math.Float32frombits(uint32(v.Bits)) }
func (v Value) F64() float64 { return math.Float64frombits(v.Bits) }

func (v Value) String() string {
	switch v.Type {
	case I32:
		return fmt.Sprintf("i32:%d", v.I32())
	case I64:
		return fmt.Sprintf("i64:%d", v.I64())
	case F32:
		return fmt.Sprintf("f32:%g", v.F32())
	case F64:
		return fmt.Sprintf("f64:%g", v.F64())
	default:
		return fmt.Sprintf("invalid:0x%x", v.Bits)
	}
}

// ParseValue parses a literal of type t. Integers accept decimal, hex and
// unsigned forms; floats accept Go float syntax plus inf, nan and the
// nan:0x... payload form.
func ParseValue(t ValueType, s string) (Value, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), "_", "")
	switch t {
	case I32:
		n, err := parseInt(s, 32)
		if err != nil {
			return Value{}, err
		}
		return Value{Type: I32, Bits: uint64(uint32(n))}, nil
	case I64:
		n, err := parseInt(s, 64)
		if err != nil {
			return Value{}, err
		}
		return Value{Type: I64, Bits: n}, nil
	case F32:
		if bits, ok := parseNaN(s, 32); ok {
			return Value{Type: F32, Bits: bits}, nil
		}
		f, err := strconv.ParseFloat(fixInf(s), 32)
		if err != nil {
			return Value{}, fmt.Errorf("wasm: bad f32 literal %q: %w", s, err)
		}
		return ValueF32(float32(f)), nil
	case F64:
		if bits, ok := parseNaN(s, 64); ok {
			return Value{Type: F64, Bits: bits}, nil
		}
		f, err := strconv.ParseFloat(fixInf(s), 64)
		if err != nil {
			return Value{}, fmt.Errorf("wasm: bad f64 literal %q: %w", s, err)
		}
		return ValueF64(f), nil
	}
	return Value{}, fmt.Errorf("wasm: cannot parse literal of type %s", t)
}

func parseInt(s string, bits int) (uint64, error) {
	if strings.HasPrefix(s, "-") {
		n, err := strconv.ParseInt(s, 0, bits)
		if err != nil {
			return 0, fmt.Errorf("wasm: bad i%d literal %q: %w", bits, s, err)
		}
		return uint64(n), nil
	}
	n, err := strconv.ParseUint(strings.TrimPrefix(s, "+"), 0, bits)
	if err != nil {
		return 0, fmt.Errorf("wasm: bad i%d literal %q: %w", bits, s, err)
	}
	return n, nil
}

func fixInf(s string) string {
	switch s {
	case "inf", "+inf":
		return "+Inf"
	case "-inf":
		return "-Inf"
	}
	return s
}

func parseNaN(s string, bits int) (uint64, bool) {
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimLeft(s, "+-")
	if !strings.HasPrefix(s, "nan") {
		return 0, false
	}
	var sign, exp, payload uint64
	if bits == 32 {
		sign, exp, payload = 1<<31, 0xff<<23, 1<<22
	} else {
		sign, exp, payload = 1<<63, 0x7ff<<52, 1<<51
	}
	if p, ok := strings.CutPrefix(s, "nan:"); ok {
		n, err := strconv.ParseUint(p, 0, bits)
		if err != nil || n == 0 {
			return 0, false
		}
		payload = n
	} else if s != "nan" {
		return 0, false
	}
	out := exp | payload
	if neg {
		out |= sign
	}
	return out, true
}
