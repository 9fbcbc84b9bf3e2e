package artifact

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/tinyrange/wasmjit/internal/asm"
	"github.com/tinyrange/wasmjit/internal/jit"
	"github.com/tinyrange/wasmjit/internal/wasm"
)

// maxCount bounds every length prefix so a corrupt file cannot request a
// huge allocation.
const maxCount = 1 << 26

type encoder struct {
	w   io.Writer
	err error
}

func (e *encoder) bytes(b []byte) {
	if e.err == nil {
		_, e.err = e.w.Write(b)
	}
}

func (e *encoder) u32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	e.bytes(b[:])
}

func (e *encoder) types(ts []wasm.ValueType) {
	e.u32(uint32(len(ts)))
	for _, t := range ts {
		e.bytes([]byte{byte(t)})
	}
}

func (e *encoder) function(f Function) {
	e.u32(f.Index)
	e.types(f.Type.Params)
	e.types(f.Type.Results)
	e.u32(uint32(f.FrameSlots))
	e.u32(uint32(len(f.Code)))
	e.bytes(f.Code)
	e.u32(uint32(len(f.Refs)))
	for _, r := range f.Refs {
		e.u32(uint32(r.Offset))
		e.u32(uint32(r.Kind))
		e.u32(r.Index)
	}
	e.u32(uint32(len(f.Traps)))
	for _, t := range f.Traps {
		e.u32(uint32(t.Kind))
		e.u32(uint32(t.Instr))
		e.u32(uint32(t.Offset))
	}
	e.u32(uint32(len(f.Source)))
	for _, s := range f.Source {
		e.u32(uint32(s.Offset))
		e.u32(uint32(s.Instr))
		e.u32(uint32(s.Op))
	}
}

type decoder struct {
	r   io.Reader
	err error
}

func (d *decoder) read(n int) []byte {
	if d.err != nil {
		return nil
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(d.r, b); err != nil {
		d.err = err
		return nil
	}
	return b
}

func (d *decoder) u32() uint32 {
	b := d.read(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (d *decoder) count() int {
	n := d.u32()
	if n > maxCount && d.err == nil {
		d.err = fmt.Errorf("%w: length %d", ErrFormat, n)
		return 0
	}
	return int(n)
}

func (d *decoder) types() []wasm.ValueType {
	b := d.read(d.count())
	var out []wasm.ValueType
	for _, v := range b {
		t := wasm.ValueType(v)
		if !t.Valid() && d.err == nil {
			d.err = fmt.Errorf("%w: value type %d", ErrFormat, v)
		}
		out = append(out, t)
	}
	return out
}

func (d *decoder) function() Function {
	var f Function
	f.Index = d.u32()
	f.Type.Params = d.types()
	f.Type.Results = d.types()
	f.FrameSlots = int(d.u32())
	f.Code = d.read(d.count())
	for n := d.count(); n > 0 && d.err == nil; n-- {
		f.Refs = append(f.Refs, asm.MemoryRef{Offset: int(d.u32()), Kind: asm.RefKind(d.u32()), Index: d.u32()})
	}
	for n := d.count(); n > 0 && d.err == nil; n-- {
		f.Traps = append(f.Traps, jit.TrapSite{Kind: jit.TrapKind(d.u32()), Instr: int(d.u32()), Offset: int(d.u32())})
	}
	for n := d.count(); n > 0 && d.err == nil; n-- {
		f.Source = append(f.Source, jit.SourceEntry{Offset: int(d.u32()), Instr: int(d.u32()), Op: wasm.Opcode(d.u32())})
	}
	return f
}
