package jit

import (
	"github.com/google/btree"

	"github.com/tinyrange/wasmjit/internal/wasm"
)

// SourceEntry maps the first byte of an instruction's code to the
// instruction.
type SourceEntry struct {
	Offset int
	Instr  int
	Op     wasm.Opcode
}

// SourceMap is an ordered index from code offsets to instructions. When
// several instructions start at the same offset the one emitted last wins,
// since earlier ones produced no code.
type SourceMap struct {
	tree *btree.BTreeG[SourceEntry]
}

func NewSourceMap() *SourceMap {
	return &SourceMap{tree: btree.NewG(16, func(a, b SourceEntry) bool { return a.Offset < b.Offset })}
}

func (m *SourceMap) Add(offset, instr int, op wasm.Opcode) {
	m.tree.ReplaceOrInsert(SourceEntry{Offset: offset, Instr: instr, Op: op})
}

// Lookup returns the instruction whose code contains pc.
func (m *SourceMap) Lookup(pc int) (SourceEntry, bool) {
	var out SourceEntry
	found := false
	m.tree.DescendLessOrEqual(SourceEntry{Offset: pc}, func(e SourceEntry) bool {
		out, found = e, true
		return false
	})
	return out, found
}

func (m *SourceMap) Len() int { return m.tree.Len() }

// Entries returns every entry in offset order.
func (m *SourceMap) Entries() []SourceEntry {
	out := make([]SourceEntry, 0, m.tree.Len())
	m.tree.Ascend(func(e SourceEntry) bool {
		out = append(out, e)
		return true
	})
	return out
}
