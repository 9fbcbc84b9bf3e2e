package wasm

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
)

// ParseBody parses the line-oriented text form of a function body:
//
//	local.get 0
//	block (result i32)
//	  i32.const 1
//	  br_if 0
//	end
//
// One instruction per line, ";;" starts a comment. Structured instructions
// are closed with "end"; br_table lists its targets followed by the default.
func ParseBody(src string) ([]Instr, error) {
	type frame struct {
		instr  Instr
		inElse bool
		line   int
	}
	var (
		stack []frame
		top   []Instr
	)
	appendInstr := func(in Instr) {
		if len(stack) == 0 {
			top = append(top, in)
			return
		}
		f := &stack[len(stack)-1]
		if f.inElse {
			f.instr.Else = append(f.instr.Else, in)
		} else {
			f.instr.Body = append(f.instr.Body, in)
		}
	}

	scanner := bufio.NewScanner(strings.NewReader(src))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if idx := strings.Index(line, ";;"); idx >= 0 {
			line = line[:idx]
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		name, args := fields[0], fields[1:]
		switch name {
		case "end":
			if len(stack) == 0 {
				return nil, fmt.Errorf("wasm: line %d: end without open block", lineNo)
			}
			f := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			appendInstr(f.instr)
			continue
		case "else":
			if len(stack) == 0 || stack[len(stack)-1].instr.Op != If || stack[len(stack)-1].inElse {
				return nil, fmt.Errorf("wasm: line %d: else outside if", lineNo)
			}
			stack[len(stack)-1].inElse = true
			stack[len(stack)-1].instr.HasElse = true
			continue
		}

		op, ok := LookupOpcode(name)
		if !ok {
			return nil, fmt.Errorf("wasm: line %d: unknown instruction %q", lineNo, name)
		}
		in, err := parseOperands(op, args)
		if err != nil {
			return nil, fmt.Errorf("wasm: line %d: %s: %w", lineNo, name, err)
		}
		switch op {
		case Block, Loop, If:
			stack = append(stack, frame{instr: in, line: lineNo})
		default:
			appendInstr(in)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("wasm: read body: %w", err)
	}
	if len(stack) != 0 {
		f := stack[len(stack)-1]
		return nil, fmt.Errorf("wasm: line %d: %s is never closed", f.line, f.instr.Op)
	}
	return top, nil
}

func parseOperands(op Opcode, args []string) (Instr, error) {
	in := Instr{Op: op}
	info := op.Info()
	need := func(n int) error {
		if len(args) != n {
			return fmt.Errorf("want %d operands, got %d", n, len(args))
		}
		return nil
	}
	switch {
	case op == Block || op == Loop || op == If:
		bt, err := parseBlockType(args)
		if err != nil {
			return in, err
		}
		in.Block = bt
	case op == Br || op == BrIf || op == Call || op == CallIndirect ||
		info.Kind == KindVariable:
		if err := need(1); err != nil {
			return in, err
		}
		n, err := strconv.ParseUint(args[0], 0, 32)
		if err != nil {
			return in, err
		}
		in.Index = uint32(n)
	case op == BrTable:
		if len(args) == 0 {
			return in, fmt.Errorf("br_table needs a default target")
		}
		for i, a := range args {
			n, err := strconv.ParseUint(a, 0, 32)
			if err != nil {
				return in, err
			}
			if i == len(args)-1 {
				in.Default = uint32(n)
			} else {
				in.Targets = append(in.Targets, uint32(n))
			}
		}
	case info.Kind == KindConst:
		if err := need(1); err != nil {
			return in, err
		}
		v, err := ParseValue(info.Result, args[0])
		if err != nil {
			return in, err
		}
		in.Value = v.Bits
	case info.Kind == KindLoad || info.Kind == KindStore:
		for _, a := range args {
			key, val, ok := strings.Cut(a, "=")
			if !ok {
				return in, fmt.Errorf("bad memory argument %q", a)
			}
			n, err := strconv.ParseUint(val, 0, 32)
			if err != nil {
				return in, err
			}
			switch key {
			case "offset":
				in.Offset = uint32(n)
			case "align":
				in.Align = uint32(n)
			default:
				return in, fmt.Errorf("bad memory argument %q", a)
			}
		}
	default:
		if err := need(0); err != nil {
			return in, err
		}
	}
	return in, nil
}

func parseBlockType(args []string) (BlockType, error) {
	var bt BlockType
	joined := strings.Join(args, " ")
	joined = strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(joined, "(result"), ")"))
	for _, f := range strings.Fields(joined) {
		t, err := ParseValueType(f)
		if err != nil {
			return bt, err
		}
		bt.Results = append(bt.Results, t)
	}
	if len(bt.Results) > 1 {
		return bt, fmt.Errorf("block has %d results, at most one allowed", len(bt.Results))
	}
	return bt, nil
}
