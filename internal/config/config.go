// Package config reads the wasmjit YAML configuration file.
package config

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/docker/go-units"
	"gopkg.in/yaml.v3"

	"github.com/tinyrange/wasmjit/internal/jit"
	"github.com/tinyrange/wasmjit/internal/wasm"
)

const DefaultFilename = "wasmjit.yaml"

// Config is the on-disk configuration.
type Config struct {
	Compiler CompilerConfig `yaml:"compiler"`
	Runtime  RuntimeConfig  `yaml:"runtime"`
	Log      LogConfig      `yaml:"log"`
}

type CompilerConfig struct {
	// BoundsChecks is one of none, static or dynamic.
	BoundsChecks string       `yaml:"bounds_checks,omitempty"`
	Memory       MemoryConfig `yaml:"memory,omitempty"`
	// Parallel bounds concurrent function compilations; 0 uses every CPU.
	Parallel int `yaml:"parallel,omitempty"`
}

// MemoryConfig is in wasm pages.
type MemoryConfig struct {
	Min uint32 `yaml:"min,omitempty"`
	Max uint32 `yaml:"max,omitempty"`
}

type RuntimeConfig struct {
	// CodeArena and MaxMemory are sizes such as "1MiB". An empty CodeArena
	// sizes the arena to the code; an empty MaxMemory leaves Compiler.Memory
	// unchanged.
	CodeArena string `yaml:"code_arena,omitempty"`
	MaxMemory string `yaml:"max_memory,omitempty"`
}

type LogConfig struct {
	Level string `yaml:"level,omitempty"`
}

func (c *Config) normalize() {
	if c.Compiler.BoundsChecks == "" {
		c.Compiler.BoundsChecks = jit.BoundsDynamic.String()
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Default returns the configuration used without a file.
func Default() Config {
	var c Config
	c.normalize()
	return c
}

// Load reads and normalizes the file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return c, nil
}

// Parse decodes YAML and checks every field.
func Parse(data []byte) (Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, err
	}
	c.normalize()
	if _, err := c.Host(); err != nil {
		return Config{}, err
	}
	if _, err := c.CodeArenaSize(); err != nil {
		return Config{}, err
	}
	if _, err := c.LogLevel(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Host returns the compiler's view of the configuration.
func (c Config) Host() (jit.HostConfig, error) {
	mode, err := jit.ParseBoundsCheckMode(c.Compiler.BoundsChecks)
	if err != nil {
		return jit.HostConfig{}, err
	}
	h := jit.HostConfig{
		BoundsChecks:   mode,
		MinMemoryPages: c.Compiler.Memory.Min,
		MaxMemoryPages: c.Compiler.Memory.Max,
	}
	if h.MaxMemoryPages != 0 && h.MaxMemoryPages < h.MinMemoryPages {
		return jit.HostConfig{}, fmt.Errorf("compiler.memory.max %d below min %d", h.MaxMemoryPages, h.MinMemoryPages)
	}
	if c.Runtime.MaxMemory != "" {
		n, err := units.RAMInBytes(c.Runtime.MaxMemory)
		if err != nil {
			return jit.HostConfig{}, fmt.Errorf("runtime.max_memory: %w", err)
		}
		pages := uint32(n / wasm.PageSize)
		if h.MaxMemoryPages == 0 || pages < h.MaxMemoryPages {
			h.MaxMemoryPages = pages
		}
		if h.MinMemoryPages > h.MaxMemoryPages {
			return jit.HostConfig{}, fmt.Errorf("runtime.max_memory %s is below compiler.memory.min", c.Runtime.MaxMemory)
		}
	}
	return h, nil
}

// CodeArenaSize returns the configured arena size in bytes, 0 for automatic.
func (c Config) CodeArenaSize() (int, error) {
	if c.Runtime.CodeArena == "" {
		return 0, nil
	}
	n, err := units.RAMInBytes(c.Runtime.CodeArena)
	if err != nil {
		return 0, fmt.Errorf("runtime.code_arena: %w", err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("runtime.code_arena %q must be positive", c.Runtime.CodeArena)
	}
	return int(n), nil
}

func (c Config) LogLevel() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return l, nil
}

// Write encodes c to path.
func Write(path string, c Config) error {
	c.normalize()
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create config: %w", err)
	}
	defer f.Close()

	enc := yaml.NewEncoder(f)
	enc.SetIndent(2)
	if err := enc.Encode(&c); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close config: %w", err)
	}
	return nil
}
