package jit

import (
	"fmt"
	"log/slog"

	"github.com/tinyrange/wasmjit/internal/wasm"
)

// BoundsCheckMode selects how linear memory accesses are guarded.
type BoundsCheckMode uint8

const (
	// BoundsNone trusts the runtime to map enough memory. A module whose
	// memory limit is zero still traps on every access.
	BoundsNone BoundsCheckMode = iota
	// BoundsStatic rejects accesses whose constant offset can never be in
	// bounds.
	BoundsStatic
	// BoundsDynamic also compares every effective address with the current
	// memory size.
	BoundsDynamic
)

func (m BoundsCheckMode) String() string {
	switch m {
	case BoundsNone:
		return "none"
	case BoundsStatic:
		return "static"
	case BoundsDynamic:
		return "dynamic"
	default:
		return fmt.Sprintf("BoundsCheckMode(%d)", uint8(m))
	}
}

// ParseBoundsCheckMode parses the names printed by String.
func ParseBoundsCheckMode(s string) (BoundsCheckMode, error) {
	switch s {
	case "none":
		return BoundsNone, nil
	case "static":
		return BoundsStatic, nil
	case "dynamic", "":
		return BoundsDynamic, nil
	default:
		return 0, fmt.Errorf("jit: unknown bounds check mode %q", s)
	}
}

// HostConfig describes the execution environment the generated code runs
// in. Memory sizes are in wasm pages.
type HostConfig struct {
	BoundsChecks   BoundsCheckMode
	MinMemoryPages uint32
	// MaxMemoryPages caps memory.grow. Zero means memory never grows.
	MaxMemoryPages uint32
}

// MemoryLimit returns the largest byte size linear memory can reach.
func (h HostConfig) MemoryLimit() uint64 {
	pages := h.MinMemoryPages
	if h.MaxMemoryPages > pages {
		pages = h.MaxMemoryPages
	}
	return uint64(pages) * wasm.PageSize
}

// ForModule narrows h to the memory limits declared by m: the declared
// minimum is always available and growth never passes the declared maximum.
func (h HostConfig) ForModule(m *wasm.ModuleTypes) HostConfig {
	if m == nil || m.Memory == nil {
		return h
	}
	if m.Memory.Min > h.MinMemoryPages {
		h.MinMemoryPages = m.Memory.Min
	}
	if m.Memory.HasMax && h.MaxMemoryPages > m.Memory.Max {
		h.MaxMemoryPages = m.Memory.Max
	}
	return h
}

// CompileContext is everything a compilation reads besides the function
// body. It is not modified by the compiler and may be shared by concurrent
// compilations as long as every observer is safe for concurrent use.
type CompileContext struct {
	Module    *wasm.ModuleTypes
	Host      HostConfig
	Logger    *slog.Logger
	Observers []Observer
}

func (ctx *CompileContext) logger() *slog.Logger {
	if ctx.Logger != nil {
		return ctx.Logger
	}
	return slog.Default()
}
