// Package artifact stores compiled modules on disk.
//
// A file is the 4-byte magic "WJIT", a little-endian u32 version and an lz4
// frame holding the function records.
package artifact

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"

	"github.com/tinyrange/wasmjit/internal/asm"
	"github.com/tinyrange/wasmjit/internal/jit"
	"github.com/tinyrange/wasmjit/internal/wasm"
)

const (
	Magic   = "WJIT"
	Version = 1
)

var ErrFormat = errors.New("artifact: bad format")

// Function is the stored form of one compiled function.
type Function struct {
	Index      uint32
	Type       wasm.FuncType
	Code       []byte
	Refs       []asm.MemoryRef
	FrameSlots int
	Traps      []jit.TrapSite
	Source     []jit.SourceEntry
}

// Artifact is a compiled module.
type Artifact struct {
	Functions []Function
}

// FromCompiled captures funcs, which were compiled from m.
func FromCompiled(m *wasm.ModuleTypes, funcs []*jit.Compiled) (*Artifact, error) {
	a := &Artifact{}
	for _, fn := range funcs {
		ft, err := m.FuncType(fn.Index)
		if err != nil {
			return nil, fmt.Errorf("artifact: %w", err)
		}
		f := Function{
			Index:      fn.Index,
			Type:       ft,
			Code:       fn.Program.Bytes(),
			Refs:       fn.Program.Refs(),
			FrameSlots: fn.Program.FrameSlots(),
			Traps:      fn.Traps,
		}
		if fn.SourceMap != nil {
			f.Source = fn.SourceMap.Entries()
		}
		a.Functions = append(a.Functions, f)
	}
	return a, nil
}

// Compiled rebuilds the compiler output the runtime loads.
func (a *Artifact) Compiled() []*jit.Compiled {
	out := make([]*jit.Compiled, 0, len(a.Functions))
	for _, f := range a.Functions {
		sm := jit.NewSourceMap()
		for _, e := range f.Source {
			sm.Add(e.Offset, e.Instr, e.Op)
		}
		out = append(out, &jit.Compiled{
			Index:     f.Index,
			Program:   asm.NewProgram(f.Code, f.Refs, f.FrameSlots),
			Signature: jit.NewLocationSignature(f.Type),
			SourceMap: sm,
			Traps:     f.Traps,
		})
	}
	return out
}

// CodeSize returns the total machine code size.
func (a *Artifact) CodeSize() int {
	n := 0
	for _, f := range a.Functions {
		n += len(f.Code)
	}
	return n
}

// Write encodes a to w.
func Write(w io.Writer, a *Artifact) error {
	var hdr [8]byte
	copy(hdr[:4], Magic)
	binary.LittleEndian.PutUint32(hdr[4:], Version)
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("artifact: write header: %w", err)
	}
	zw := lz4.NewWriter(w)
	bw := bufio.NewWriter(zw)
	e := encoder{w: bw}
	e.u32(uint32(len(a.Functions)))
	for _, f := range a.Functions {
		e.function(f)
	}
	if e.err != nil {
		return fmt.Errorf("artifact: write: %w", e.err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("artifact: write: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("artifact: close lz4 stream: %w", err)
	}
	return nil
}

// Read decodes an artifact written by Write.
func Read(r io.Reader) (*Artifact, error) {
	var hdr [8]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("artifact: read header: %w", err)
	}
	if string(hdr[:4]) != Magic {
		return nil, fmt.Errorf("%w: magic %q", ErrFormat, hdr[:4])
	}
	if v := binary.LittleEndian.Uint32(hdr[4:]); v != Version {
		return nil, fmt.Errorf("%w: version %d", ErrFormat, v)
	}
	d := decoder{r: bufio.NewReader(lz4.NewReader(r))}
	n := d.u32()
	a := &Artifact{}
	for i := uint32(0); i < n && d.err == nil; i++ {
		a.Functions = append(a.Functions, d.function())
	}
	if d.err != nil {
		return nil, fmt.Errorf("artifact: read: %w", d.err)
	}
	return a, nil
}

// Marshal is Write into a byte slice.
func Marshal(a *Artifact) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, a); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal is Read from a byte slice.
func Unmarshal(data []byte) (*Artifact, error) {
	return Read(bytes.NewReader(data))
}
