//go:build linux && amd64

package amd64

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Arena is an mmap-backed region that receives generated code. Code is
// written while the arena is writable and becomes executable after Seal.
type Arena struct {
	mem    []byte
	used   int
	sealed bool
}

// NewArena maps a read-write region of at least size bytes.
func NewArena(size int) (*Arena, error) {
	if size <= 0 {
		return nil, fmt.Errorf("code arena size %d must be positive", size)
	}
	pageSize := unix.Getpagesize()
	allocSize := ((size + pageSize - 1) / pageSize) * pageSize
	mem, err := unix.Mmap(-1, 0, allocSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("mmap code arena: %w", err)
	}
	return &Arena{mem: mem}, nil
}

// Base returns the address of the first byte of the arena.
func (a *Arena) Base() uintptr { return uintptr(unsafe.Pointer(&a.mem[0])) }

func (a *Arena) Size() int { return len(a.mem) }

func (a *Arena) Used() int { return a.used }

// Reserve returns the address of n bytes aligned to 16 and the writable
// slice backing them.
func (a *Arena) Reserve(n int) (uintptr, []byte, error) {
	if a.sealed {
		return 0, nil, fmt.Errorf("code arena is sealed")
	}
	start := (a.used + 15) &^ 15
	if n <= 0 || start+n > len(a.mem) {
		return 0, nil, fmt.Errorf("code arena exhausted: need %d bytes at %d, have %d", n, start, len(a.mem))
	}
	a.used = start + n
	return a.Base() + uintptr(start), a.mem[start : start+n], nil
}

// Write copies code into the arena and returns its address.
func (a *Arena) Write(code []byte) (uintptr, error) {
	if len(code) == 0 {
		return 0, fmt.Errorf("empty code")
	}
	addr, dst, err := a.Reserve(len(code))
	if err != nil {
		return 0, err
	}
	copy(dst, code)
	return addr, nil
}

// Seal makes the arena read-execute. No more code can be written.
func (a *Arena) Seal() error {
	if a.sealed {
		return nil
	}
	if err := unix.Mprotect(a.mem, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		return fmt.Errorf("mprotect code arena: %w", err)
	}
	a.sealed = true
	return nil
}

// Close unmaps the arena. Code in it must not run afterwards.
func (a *Arena) Close() error {
	if a.mem == nil {
		return nil
	}
	err := unix.Munmap(a.mem)
	a.mem = nil
	if err != nil {
		return fmt.Errorf("munmap code arena: %w", err)
	}
	return nil
}

// MapExecutable copies code into a fresh executable mapping and returns its
// entry point with a release function.
func MapExecutable(code []byte) (uintptr, func(), error) {
	if len(code) == 0 {
		return 0, nil, fmt.Errorf("empty code")
	}
	arena, err := NewArena(len(code))
	if err != nil {
		return 0, nil, err
	}
	release := true
	defer func() {
		if release {
			_ = arena.Close()
		}
	}()
	entry, err := arena.Write(code)
	if err != nil {
		return 0, nil, err
	}
	if err := arena.Seal(); err != nil {
		return 0, nil, err
	}
	release = false
	return entry, func() { _ = arena.Close() }, nil
}
