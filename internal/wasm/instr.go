package wasm

// Instr is one node of a function body.
//
// Structured instructions (block, loop, if) own their bodies; the tree has no
// explicit end or else nodes. Index holds the local, global, function, type or
// branch depth operand depending on Op. Value holds the raw bits of constants.
type Instr struct {
	Op      Opcode
	Block   BlockType
	Body    []Instr
	Else    []Instr
	HasElse bool

	Index   uint32
	Targets []uint32
	Default uint32

	Offset uint32
	Align  uint32

	Value uint64
}

// Function is a parsed function body.
type Function struct {
	Name   string
	Type   uint32
	Locals []ValueType
	Body   []Instr
}

// Count returns the number of instructions in body, including nested ones and
// the implicit end and else markers the compiler visits.
func Count(body []Instr) int {
	n := 0
	for i := range body {
		n++
		in := &body[i]
		switch in.Op {
		case Block, Loop, If:
			n += Count(in.Body) + 1
			if in.HasElse {
				n += Count(in.Else) + 1
			}
		}
	}
	return n
}
