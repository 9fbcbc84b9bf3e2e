package asm

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrRIPRelative is returned for memory operands that have neither a base
	// nor an index register. PC-relative addressing is not supported.
	ErrRIPRelative = errors.New("asm: rip-relative addressing is not supported")
	// ErrLabelBound is recorded when a label is bound a second time.
	ErrLabelBound = errors.New("asm: label already bound")
	// ErrNearRange is recorded when a near (8-bit) jump cannot reach its target.
	ErrNearRange = errors.New("asm: near jump out of range")
)

// Buffer is the growable target of all code emission.
//
// Buffer keeps the first error reported by an encoder. Once an error has been
// recorded all further writes are dropped and Err returns that error, so
// callers can emit a run of instructions and check once.
type Buffer struct {
	code []byte
	err  error
}

// NewBuffer returns an empty buffer with room for capacity bytes.
func NewBuffer(capacity int) *Buffer {
	return &Buffer{code: make([]byte, 0, capacity)}
}

// Len returns the current emission offset.
func (b *Buffer) Len() int { return len(b.code) }

// Err returns the first error recorded on the buffer.
func (b *Buffer) Err() error { return b.err }

// Fail records err unless an earlier error is already present.
func (b *Buffer) Fail(err error) {
	if b.err == nil && err != nil {
		b.err = err
	}
}

// Failf records a formatted error.
func (b *Buffer) Failf(format string, args ...any) {
	b.Fail(fmt.Errorf("asm: "+format, args...))
}

// Bytes returns the emitted code. The slice aliases the buffer.
func (b *Buffer) Bytes() []byte { return b.code }

// Reset discards all emitted code and the recorded error.
func (b *Buffer) Reset() {
	b.code = b.code[:0]
	b.err = nil
}

// Emit appends raw bytes.
func (b *Buffer) Emit(data ...byte) {
	if b.err != nil {
		return
	}
	b.code = append(b.code, data...)
}

func (b *Buffer) EmitU8(v uint8) { b.Emit(v) }

func (b *Buffer) EmitU16(v uint16) {
	if b.err != nil {
		return
	}
	b.code = binary.LittleEndian.AppendUint16(b.code, v)
}

func (b *Buffer) EmitU32(v uint32) {
	if b.err != nil {
		return
	}
	b.code = binary.LittleEndian.AppendUint32(b.code, v)
}

func (b *Buffer) EmitU64(v uint64) {
	if b.err != nil {
		return
	}
	b.code = binary.LittleEndian.AppendUint64(b.code, v)
}

// At returns the byte at off, or 0 when off is outside the buffer.
func (b *Buffer) At(off int) byte {
	if off < 0 || off >= len(b.code) {
		return 0
	}
	return b.code[off]
}

// U32At reads a little-endian word at off.
func (b *Buffer) U32At(off int) uint32 {
	if off < 0 || off+4 > len(b.code) {
		b.Failf("read of 4 bytes at %d outside code of length %d", off, len(b.code))
		return 0
	}
	return binary.LittleEndian.Uint32(b.code[off:])
}

// PatchU8 overwrites the byte at off.
func (b *Buffer) PatchU8(off int, v uint8) {
	if off < 0 || off >= len(b.code) {
		b.Failf("patch of 1 byte at %d outside code of length %d", off, len(b.code))
		return
	}
	b.code[off] = v
}

// PatchU32 overwrites a little-endian word at off.
func (b *Buffer) PatchU32(off int, v uint32) {
	if off < 0 || off+4 > len(b.code) {
		b.Failf("patch of 4 bytes at %d outside code of length %d", off, len(b.code))
		return
	}
	binary.LittleEndian.PutUint32(b.code[off:], v)
}

// PatchU64 overwrites a little-endian double word at off.
func (b *Buffer) PatchU64(off int, v uint64) {
	if off < 0 || off+8 > len(b.code) {
		b.Failf("patch of 8 bytes at %d outside code of length %d", off, len(b.code))
		return
	}
	binary.LittleEndian.PutUint64(b.code[off:], v)
}
