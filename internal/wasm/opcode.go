package wasm

import "fmt"

// Opcode identifies an instruction. The set is closed: every value below
// numOpcodes has an entry in the descriptor table.
type Opcode uint16

const (
	Unreachable Opcode = iota
	Nop
	Block
	Loop
	If
	Else
	End
	Br
	BrIf
	BrTable
	Return
	Call
	CallIndirect
	Drop
	Select
	LocalGet
	LocalSet
	LocalTee
	GlobalGet
	GlobalSet
	I32Load
	I64Load
	F32Load
	F64Load
	I32Load8S
	I32Load8U
	I32Load16S
	I32Load16U
	I64Load8S
	I64Load8U
	I64Load16S
	I64Load16U
	I64Load32S
	I64Load32U
	I32Store
	I64Store
	F32Store
	F64Store
	I32Store8
	I32Store16
	I64Store8
	I64Store16
	I64Store32
	MemorySize
	MemoryGrow
	I32Const
	I64Const
	F32Const
	F64Const
	I32Eqz
	I32Eq
	I32Ne
	I32LtS
	I32LtU
	I32GtS
	I32GtU
	I32LeS
	I32LeU
	I32GeS
	I32GeU
	I64Eqz
	I64Eq
	I64Ne
	I64LtS
	I64LtU
	I64GtS
	I64GtU
	I64LeS
	I64LeU
	I64GeS
	I64GeU
	F32Eq
	F32Ne
	F32Lt
	F32Gt
	F32Le
	F32Ge
	F64Eq
	F64Ne
	F64Lt
	F64Gt
	F64Le
	F64Ge
	I32Clz
	I32Ctz
	I32Popcnt
	I32Add
	I32Sub
	I32Mul
	I32DivS
	I32DivU
	I32RemS
	I32RemU
	I32And
	I32Or
	I32Xor
	I32Shl
	I32ShrS
	I32ShrU
	I32Rotl
	I32Rotr
	I64Clz
	I64Ctz
	I64Popcnt
	I64Add
	I64Sub
	I64Mul
	I64DivS
	I64DivU
	I64RemS
	I64RemU
	I64And
	I64Or
	I64Xor
	I64Shl
	I64ShrS
	I64ShrU
	I64Rotl
	I64Rotr
	F32Abs
	F32Neg
	F32Ceil
	F32Floor
	F32Trunc
	F32Nearest
	F32Sqrt
	F32Add
	F32Sub
	F32Mul
	F32Div
	F32Min
	F32Max
	F32Copysign
	F64Abs
	F64Neg
	F64Ceil
	F64Floor
	F64Trunc
	F64Nearest
	F64Sqrt
	F64Add
	F64Sub
	F64Mul
	F64Div
	F64Min
	F64Max
	F64Copysign
	I32WrapI64
	I32TruncF32S
	I32TruncF32U
	I32TruncF64S
	I32TruncF64U
	I64ExtendI32S
	I64ExtendI32U
	I64TruncF32S
	I64TruncF32U
	I64TruncF64S
	I64TruncF64U
	F32ConvertI32S
	F32ConvertI32U
	F32ConvertI64S
	F32ConvertI64U
	F32DemoteF64
	F64ConvertI32S
	F64ConvertI32U
	F64ConvertI64S
	F64ConvertI64U
	F64PromoteF32
	I32ReinterpretF32
	I64ReinterpretF64
	F32ReinterpretI32
	F64ReinterpretI64

	numOpcodes
)

// OpKind groups opcodes that the compiler lowers the same way.
type OpKind uint8

const (
	KindControl OpKind = iota
	KindParametric
	KindVariable
	KindLoad
	KindStore
	KindMemory
	KindConst
	KindCompare
	KindUnary
	KindBinary
	KindConvert
)

// OpInfo describes an opcode. Type is the operand type of numeric and store
// instructions, Result the type it pushes. Mem is the access width in bytes for
// loads and stores.
type OpInfo struct {
	Name   string
	Kind   OpKind
	Type   ValueType
	Result ValueType
	Mem    uint8
	Signed bool
}

var opcodes = [numOpcodes]OpInfo{
	Unreachable: {Name: "unreachable", Kind: KindControl},
	Nop: {Name: "nop", Kind: KindControl},
	Block: {Name: "block", Kind: KindControl},
	Loop: {Name: "loop", Kind: KindControl},
	If: {Name: "if", Kind: KindControl},
	Else: {Name: "else", Kind: KindControl},
	End: {Name: "end", Kind: KindControl},
	Br: {Name: "br", Kind: KindControl},
	BrIf: {Name: "br_if", Kind: KindControl},
	BrTable: {Name: "br_table", Kind: KindControl},
	Return: {Name: "return", Kind: KindControl},
	Call: {Name: "call", Kind: KindControl},
	CallIndirect: {Name: "call_indirect", Kind: KindControl},
	Drop: {Name: "drop", Kind: KindParametric},
	Select: {Name: "select", Kind: KindParametric},
	LocalGet: {Name: "local.get", Kind: KindVariable},
	LocalSet: {Name: "local.set", Kind: KindVariable},
	LocalTee: {Name: "local.tee", Kind: KindVariable},
	GlobalGet: {Name: "global.get", Kind: KindVariable},
	GlobalSet: {Name: "global.set", Kind: KindVariable},
	I32Load: {Name: "i32.load", Kind: KindLoad, Result: I32, Mem: 4},
	I64Load: {Name: "i64.load", Kind: KindLoad, Result: I64, Mem: 8},
	F32Load: {Name: "f32.load", Kind: KindLoad, Result: F32, Mem: 4},
	F64Load: {Name: "f64.load", Kind: KindLoad, Result: F64, Mem: 8},
	I32Load8S: {Name: "i32.load8_s", Kind: KindLoad, Result: I32, Mem: 1, Signed: true},
	I32Load8U: {Name: "i32.load8_u", Kind: KindLoad, Result: I32, Mem: 1},
	I32Load16S: {Name: "i32.load16_s", Kind: KindLoad, Result: I32, Mem: 2, Signed: true},
	I32Load16U: {Name: "i32.load16_u", Kind: KindLoad, Result: I32, Mem: 2},
	I64Load8S: {Name: "i64.load8_s", Kind: KindLoad, Result: I64, Mem: 1, Signed: true},
	I64Load8U: {Name: "i64.load8_u", Kind: KindLoad, Result: I64, Mem: 1},
	I64Load16S: {Name: "i64.load16_s", Kind: KindLoad, Result: I64, Mem: 2, Signed: true},
	I64Load16U: {Name: "i64.load16_u", Kind: KindLoad, Result: I64, Mem: 2},
	I64Load32S: {Name: "i64.load32_s", Kind: KindLoad, Result: I64, Mem: 4, Signed: true},
	I64Load32U: {Name: "i64.load32_u", Kind: KindLoad, Result: I64, Mem: 4},
	I32Store: {Name: "i32.store", Kind: KindStore, Type: I32, Mem: 4},
	I64Store: {Name: "i64.store", Kind: KindStore, Type: I64, Mem: 8},
	F32Store: {Name: "f32.store", Kind: KindStore, Type: F32, Mem: 4},
	F64Store: {Name: "f64.store", Kind: KindStore, Type: F64, Mem: 8},
	I32Store8: {Name: "i32.store8", Kind: KindStore, Type: I32, Mem: 1},
	I32Store16: {Name: "i32.store16", Kind: KindStore, Type: I32, Mem: 2},
	I64Store8: {Name: "i64.store8", Kind: KindStore, Type: I64, Mem: 1},
	I64Store16: {Name: "i64.store16", Kind: KindStore, Type: I64, Mem: 2},
	I64Store32: {Name: "i64.store32", Kind: KindStore, Type: I64, Mem: 4},
	MemorySize: {Name: "memory.size", Kind: KindMemory, Result: I32},
	MemoryGrow: {Name: "memory.grow", Kind: KindMemory, Type: I32, Result: I32},
	I32Const: {Name: "i32.const", Kind: KindConst, Result: I32},
	I64Const: {Name: "i64.const", Kind: KindConst, Result: I64},
	F32Const: {Name: "f32.const", Kind: KindConst, Result: F32},
	F64Const: {Name: "f64.const", Kind: KindConst, Result: F64},
	I32Eqz: {Name: "i32.eqz", Kind: KindUnary, Type: I32, Result: I32},
	I32Eq: {Name: "i32.eq", Kind: KindCompare, Type: I32, Result: I32},
	I32Ne: {Name: "i32.ne", Kind: KindCompare, Type: I32, Result: I32},
	I32LtS: {Name: "i32.lt_s", Kind: KindCompare, Type: I32, Result: I32, Signed: true},
	I32LtU: {Name: "i32.lt_u", Kind: KindCompare, Type: I32, Result: I32},
	I32GtS: {Name: "i32.gt_s", Kind: KindCompare, Type: I32, Result: I32, Signed: true},
	I32GtU: {Name: "i32.gt_u", Kind: KindCompare, Type: I32, Result: I32},
	I32LeS: {Name: "i32.le_s", Kind: KindCompare, Type: I32, Result: I32, Signed: true},
	I32LeU: {Name: "i32.le_u", Kind: KindCompare, Type: I32, Result: I32},
	I32GeS: {Name: "i32.ge_s", Kind: KindCompare, Type: I32, Result: I32, Signed: true},
	I32GeU: {Name: "i32.ge_u", Kind: KindCompare, Type: I32, Result: I32},
	I64Eqz: {Name: "i64.eqz", Kind: KindUnary, Type: I64, Result: I32},
	I64Eq: {Name: "i64.eq", Kind: KindCompare, Type: I64, Result: I32},
	I64Ne: {Name: "i64.ne", Kind: KindCompare, Type: I64, Result: I32},
	I64LtS: {Name: "i64.lt_s", Kind: KindCompare, Type: I64, Result: I32, Signed: true},
	I64LtU: {Name: "i64.lt_u", Kind: KindCompare, Type: I64, Result: I32},
	I64GtS: {Name: "i64.gt_s", Kind: KindCompare, Type: I64, Result: I32, Signed: true},
	I64GtU: {Name: "i64.gt_u", Kind: KindCompare, Type: I64, Result: I32},
	I64LeS: {Name: "i64.le_s", Kind: KindCompare, Type: I64, Result: I32, Signed: true},
	I64LeU: {Name: "i64.le_u", Kind: KindCompare, Type: I64, Result: I32},
	I64GeS: {Name: "i64.ge_s", Kind: KindCompare, Type: I64, Result: I32, Signed: true},
	I64GeU: {Name: "i64.ge_u", Kind: KindCompare, Type: I64, Result: I32},
	F32Eq: {Name: "f32.eq", Kind: KindCompare, Type: F32, Result: I32},
	F32Ne: {Name: "f32.ne", Kind: KindCompare, Type: F32, Result: I32},
	F32Lt: {Name: "f32.lt", Kind: KindCompare, Type: F32, Result: I32},
	F32Gt: {Name: "f32.gt", Kind: KindCompare, Type: F32, Result: I32},
	F32Le: {Name: "f32.le", Kind: KindCompare, Type: F32, Result: I32},
	F32Ge: {Name: "f32.ge", Kind: KindCompare, Type: F32, Result: I32},
	F64Eq: {Name: "f64.eq", Kind: KindCompare, Type: F64, Result: I32},
	F64Ne: {Name: "f64.ne", Kind: KindCompare, Type: F64, Result: I32},
	F64Lt: {Name: "f64.lt", Kind: KindCompare, Type: F64, Result: I32},
	F64Gt: {Name: "f64.gt", Kind: KindCompare, Type: F64, Result: I32},
	F64Le: {Name: "f64.le", Kind: KindCompare, Type: F64, Result: I32},
	F64Ge: {Name: "f64.ge", Kind: KindCompare, Type: F64, Result: I32},
	I32Clz: {Name: "i32.clz", Kind: KindUnary, Type: I32, Result: I32},
	I32Ctz: {Name: "i32.ctz", Kind: KindUnary, Type: I32, Result: I32},
	I32Popcnt: {Name: "i32.popcnt", Kind: KindUnary, Type: I32, Result: I32},
	I32Add: {Name: "i32.add", Kind: KindBinary, Type: I32, Result: I32},
	I32Sub: {Name: "i32.sub", Kind: KindBinary, Type: I32, Result: I32},
	I32Mul: {Name: "i32.mul", Kind: KindBinary, Type: I32, Result: I32},
	I32DivS: {Name: "i32.div_s", Kind: KindBinary, Type: I32, Result: I32, Signed: true},
	I32DivU: {Name: "i32.div_u", Kind: KindBinary, Type: I32, Result: I32},
	I32RemS: {Name: "i32.rem_s", Kind: KindBinary, Type: I32, Result: I32, Signed: true},
	I32RemU: {Name: "i32.rem_u", Kind: KindBinary, Type: I32, Result: I32},
	I32And: {Name: "i32.and", Kind: KindBinary, Type: I32, Result: I32},
	I32Or: {Name: "i32.or", Kind: KindBinary, Type: I32, Result: I32},
	I32Xor: {Name: "i32.xor", Kind: KindBinary, Type: I32, Result: I32},
	I32Shl: {Name: "i32.shl", Kind: KindBinary, Type: I32, Result: I32},
	I32ShrS: {Name: "i32.shr_s", Kind: KindBinary, Type: I32, Result: I32, Signed: true},
	I32ShrU: {Name: "i32.shr_u", Kind: KindBinary, Type: I32, Result: I32},
	I32Rotl: {Name: "i32.rotl", Kind: KindBinary, Type: I32, Result: I32},
	I32Rotr: {Name: "i32.rotr", Kind: KindBinary, Type: I32, Result: I32},
	I64Clz: {Name: "i64.clz", Kind: KindUnary, Type: I64, Result: I64},
	I64Ctz: {Name: "i64.ctz", Kind: KindUnary, Type: I64, Result: I64},
	I64Popcnt: {Name: "i64.popcnt", Kind: KindUnary, Type: I64, Result: I64},
	I64Add: {Name: "i64.add", Kind: KindBinary, Type: I64, Result: I64},
	I64Sub: {Name: "i64.sub", Kind: KindBinary, Type: I64, Result: I64},
	I64Mul: {Name: "i64.mul", Kind: KindBinary, Type: I64, Result: I64},
	I64DivS: {Name: "i64.div_s", Kind: KindBinary, Type: I64, Result: I64, Signed: true},
	I64DivU: {Name: "i64.div_u", Kind: KindBinary, Type: I64, Result: I64},
	I64RemS: {Name: "i64.rem_s", Kind: KindBinary, Type: I64, Result: I64, Signed: true},
	I64RemU: {Name: "i64.rem_u", Kind: KindBinary, Type: I64, Result: I64},
	I64And: {Name: "i64.and", Kind: KindBinary, Type: I64, Result: I64},
	I64Or: {Name: "i64.or", Kind: KindBinary, Type: I64, Result: I64},
	I64Xor: {Name: "i64.xor", Kind: KindBinary, Type: I64, Result: I64},
	I64Shl: {Name: "i64.shl", Kind: KindBinary, Type: I64, Result: I64},
	I64ShrS: {Name: "i64.shr_s", Kind: KindBinary, Type: I64, Result: I64, Signed: true},
	I64ShrU: {Name: "i64.shr_u", Kind: KindBinary, Type: I64, Result: I64},
	I64Rotl: {Name: "i64.rotl", Kind: KindBinary, Type: I64, Result: I64},
	I64Rotr: {Name: "i64.rotr", Kind: KindBinary, Type: I64, Result: I64},
	F32Abs: {Name: "f32.abs", Kind: KindUnary, Type: F32, Result: F32},
	F32Neg: {Name: "f32.neg", Kind: KindUnary, Type: F32, Result: F32},
	F32Ceil: {Name: "f32.ceil", Kind: KindUnary, Type: F32, Result: F32},
	F32Floor: {Name: "f32.floor", Kind: KindUnary, Type: F32, Result: F32},
	F32Trunc: {Name: "f32.trunc", Kind: KindUnary, Type: F32, Result: F32},
	F32Nearest: {Name: "f32.nearest", Kind: KindUnary, Type: F32, Result: F32},
	F32Sqrt: {Name: "f32.sqrt", Kind: KindUnary, Type: F32, Result: F32},
	F32Add: {Name: "f32.add", Kind: KindBinary, Type: F32, Result: F32},
	F32Sub: {Name: "f32.sub", Kind: KindBinary, Type: F32, Result: F32},
	F32Mul: {Name: "f32.mul", Kind: KindBinary, Type: F32, Result: F32},
	F32Div: {Name: "f32.div", Kind: KindBinary, Type: F32, Result: F32},
	F32Min: {Name: "f32.min", Kind: KindBinary, Type: F32, Result: F32},
	F32Max: {Name: "f32.max", Kind: KindBinary, Type: F32, Result: F32},
	F32Copysign: {Name: "f32.copysign", Kind: KindBinary, Type: F32, Result: F32},
	F64Abs: {Name: "f64.abs", Kind: KindUnary, Type: F64, Result: F64},
	F64Neg: {Name: "f64.neg", Kind: KindUnary, Type: F64, Result: F64},
	F64Ceil: {Name: "f64.ceil", Kind: KindUnary, Type: F64, Result: F64},
	F64Floor: {Name: "f64.floor", Kind: KindUnary, Type: F64, Result: F64},
	F64Trunc: {Name: "f64.trunc", Kind: KindUnary, Type: F64, Result: F64},
	F64Nearest: {Name: "f64.nearest", Kind: KindUnary, Type: F64, Result: F64},
	F64Sqrt: {Name: "f64.sqrt", Kind: KindUnary, Type: F64, Result: F64},
	F64Add: {Name: "f64.add", Kind: KindBinary, Type: F64, Result: F64},
	F64Sub: {Name: "f64.sub", Kind: KindBinary, Type: F64, Result: F64},
	F64Mul: {Name: "f64.mul", Kind: KindBinary, Type: F64, Result: F64},
	F64Div: {Name: "f64.div", Kind: KindBinary, Type: F64, Result: F64},
	F64Min: {Name: "f64.min", Kind: KindBinary, Type: F64, Result: F64},
	F64Max: {Name: "f64.max", Kind: KindBinary, Type: F64, Result: F64},
	F64Copysign: {Name: "f64.copysign", Kind: KindBinary, Type: F64, Result: F64},
	I32WrapI64: {Name: "i32.wrap_i64", Kind: KindConvert, Type: I64, Result: I32},
	I32TruncF32S: {Name: "i32.trunc_f32_s", Kind: KindConvert, Type: F32, Result: I32, Signed: true},
	I32TruncF32U: {Name: "i32.trunc_f32_u", Kind: KindConvert, Type: F32, Result: I32},
	I32TruncF64S: {Name: "i32.trunc_f64_s", Kind: KindConvert, Type: F64, Result: I32, Signed: true},
	I32TruncF64U: {Name: "i32.trunc_f64_u", Kind: KindConvert, Type: F64, Result: I32},
	I64ExtendI32S: {Name: "i64.extend_i32_s", Kind: KindConvert, Type: I32, Result: I64, Signed: true},
	I64ExtendI32U: {Name: "i64.extend_i32_u", Kind: KindConvert, Type: I32, Result: I64},
	I64TruncF32S: {Name: "i64.trunc_f32_s", Kind: KindConvert, Type: F32, Result: I64, Signed: true},
	I64TruncF32U: {Name: "i64.trunc_f32_u", Kind: KindConvert, Type: F32, Result: I64},
	I64TruncF64S: {Name: "i64.trunc_f64_s", Kind: KindConvert, Type: F64, Result: I64, Signed: true},
	I64TruncF64U: {Name: "i64.trunc_f64_u", Kind: KindConvert, Type: F64, Result: I64},
	F32ConvertI32S: {Name: "f32.convert_i32_s", Kind: KindConvert, Type: I32, Result: F32, Signed: true},
	F32ConvertI32U: {Name: "f32.convert_i32_u", Kind: KindConvert, Type: I32, Result: F32},
	F32ConvertI64S: {Name: "f32.convert_i64_s", Kind: KindConvert, Type: I64, Result: F32, Signed: true},
	F32ConvertI64U: {Name: "f32.convert_i64_u", Kind: KindConvert, Type: I64, Result: F32},
	F32DemoteF64: {Name: "f32.demote_f64", Kind: KindConvert, Type: F64, Result: F32},
	F64ConvertI32S: {Name: "f64.convert_i32_s", Kind: KindConvert, Type: I32, Result: F64, Signed: true},
	F64ConvertI32U: {Name: "f64.convert_i32_u", Kind: KindConvert, Type: I32, Result: F64},
	F64ConvertI64S: {Name: "f64.convert_i64_s", Kind: KindConvert, Type: I64, Result: F64, Signed: true},
	F64ConvertI64U: {Name: "f64.convert_i64_u", Kind: KindConvert, Type: I64, Result: F64},
	F64PromoteF32: {Name: "f64.promote_f32", Kind: KindConvert, Type: F32, Result: F64},
	I32ReinterpretF32: {Name: "i32.reinterpret_f32", Kind: KindConvert, Type: F32, Result: I32},
	I64ReinterpretF64: {Name: "i64.reinterpret_f64", Kind: KindConvert, Type: F64, Result: I64},
	F32ReinterpretI32: {Name: "f32.reinterpret_i32", Kind: KindConvert, Type: I32, Result: F32},
	F64ReinterpretI64: {Name: "f64.reinterpret_i64", Kind: KindConvert, Type: I64, Result: F64},
}

var opcodesByName = func() map[string]Opcode {
	m := make(map[string]Opcode, numOpcodes)
	for op := Opcode(0); op < numOpcodes; op++ {
		m[opcodes[op].Name] = op
	}
	return m
}()

// Info returns the descriptor for op.
func (op Opcode) Info() OpInfo {
	if op >= numOpcodes {
		return OpInfo{Name: fmt.Sprintf("Opcode(%d)", uint16(op))}
	}
	return opcodes[op]
}

// Valid reports whether op is a member of the opcode set.
func (op Opcode) Valid() bool { return op < numOpcodes }

func (op Opcode) String() string { return op.Info().Name }

// LookupOpcode returns the opcode with the given text name.
func LookupOpcode(name string) (Opcode, bool) {
	op, ok := opcodesByName[name]
	return op, ok
}

// Opcodes returns every opcode in table order.
func Opcodes() []Opcode {
	out := make([]Opcode, numOpcodes)
	for i := range out {
		out[i] = Opcode(i)
	}
	return out
}
