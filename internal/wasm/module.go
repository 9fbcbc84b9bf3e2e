package wasm

import "fmt"

// PageSize is the size of one linear memory page.
const PageSize = 64 * 1024

// Global is a module global with its initial value.
type Global struct {
	Type    ValueType
	Mutable bool
	Init    Value
}

// Limits bounds a linear memory in pages.
type Limits struct {
	Min    uint32
	Max    uint32
	HasMax bool
}

// ModuleTypes is everything the compiler needs to know about the module that
// encloses a function.
type ModuleTypes struct {
	Types     []FuncType
	Functions []Function
	Globals   []Global
	Table     []uint32
	Memory    *Limits
	Exports   map[string]uint32

	canonical []uint32
}

// FuncType returns the signature of function idx.
func (m *ModuleTypes) FuncType(idx uint32) (FuncType, error) {
	if int(idx) >= len(m.Functions) {
		return FuncType{}, fmt.Errorf("wasm: function index %d out of range (%d functions)", idx, len(m.Functions))
	}
	return m.Type(m.Functions[idx].Type)
}

// Type returns the signature with the given type index.
func (m *ModuleTypes) Type(idx uint32) (FuncType, error) {
	if int(idx) >= len(m.Types) {
		return FuncType{}, fmt.Errorf("wasm: type index %d out of range (%d types)", idx, len(m.Types))
	}
	return m.Types[idx], nil
}

// CanonicalType maps a type index to the first structurally identical type,
// so signature checks compare canonical indices. Validate caches the mapping;
// CanonicalType never writes to m and is safe for concurrent use.
func (m *ModuleTypes) CanonicalType(idx uint32) uint32 {
	if int(idx) >= len(m.Types) {
		return idx
	}
	if len(m.canonical) == len(m.Types) {
		return m.canonical[idx]
	}
	for j := uint32(0); j < idx; j++ {
		if m.Types[idx].Equal(m.Types[j]) {
			return j
		}
	}
	return idx
}

func (m *ModuleTypes) dedupTypes() {
	m.canonical = make([]uint32, len(m.Types))
	for i := range m.Types {
		m.canonical[i] = uint32(i)
		for j := 0; j < i; j++ {
			if m.Types[i].Equal(m.Types[j]) {
				m.canonical[i] = uint32(j)
				break
			}
		}
	}
}

// Export returns the function index exported under name.
func (m *ModuleTypes) Export(name string) (uint32, bool) {
	idx, ok := m.Exports[name]
	return idx, ok
}

// Validate checks the cross references of the module. It does not type check
// function bodies.
func (m *ModuleTypes) Validate() error {
	m.dedupTypes()
	for i, t := range m.Types {
		if len(t.Results) > 1 {
			return fmt.Errorf("wasm: type %d has %d results, at most one allowed", i, len(t.Results))
		}
	}
	for i, fn := range m.Functions {
		if int(fn.Type) >= len(m.Types) {
			return fmt.Errorf("wasm: function %d uses undefined type %d", i, fn.Type)
		}
	}
	for i, idx := range m.Table {
		if int(idx) >= len(m.Functions) {
			return fmt.Errorf("wasm: table entry %d references undefined function %d", i, idx)
		}
	}
	for name, idx := range m.Exports {
		if int(idx) >= len(m.Functions) {
			return fmt.Errorf("wasm: export %q references undefined function %d", name, idx)
		}
	}
	for i, g := range m.Globals {
		if !g.Type.Valid() {
			return fmt.Errorf("wasm: global %d has invalid type", i)
		}
		if g.Init.Type != g.Type {
			return fmt.Errorf("wasm: global %d of type %s initialised with %s", i, g.Type, g.Init.Type)
		}
	}
	if m.Memory != nil && m.Memory.HasMax && m.Memory.Max < m.Memory.Min {
		return fmt.Errorf("wasm: memory max %d below min %d", m.Memory.Max, m.Memory.Min)
	}
	return nil
}
