//go:build !(linux && amd64)

package runtime

import (
	"github.com/tinyrange/wasmjit/internal/jit"
	"github.com/tinyrange/wasmjit/internal/wasm"
)

// Instance is unavailable on this platform.
type Instance struct{}

func New(m *wasm.ModuleTypes, funcs []*jit.Compiled, opts Options) (*Instance, error) {
	return nil, ErrUnsupportedPlatform
}

func (i *Instance) Call(name string, args ...wasm.Value) ([]wasm.Value, error) {
	return nil, ErrUnsupportedPlatform
}

func (i *Instance) CallIndex(idx uint32, args ...wasm.Value) ([]wasm.Value, error) {
	return nil, ErrUnsupportedPlatform
}

func (i *Instance) Memory() []byte { return nil }

func (i *Instance) MemorySize() uint64 { return 0 }

func (i *Instance) Global(idx uint32) (wasm.Value, error) {
	return wasm.Value{}, ErrUnsupportedPlatform
}

func (i *Instance) Close() error { return nil }
