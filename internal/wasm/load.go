package wasm

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ModuleFile is the YAML form of a module used for fixtures and the CLI.
type ModuleFile struct {
	Types     []TypeFile     `yaml:"types"`
	Memory    *MemoryFile    `yaml:"memory,omitempty"`
	Globals   []GlobalFile   `yaml:"globals,omitempty"`
	Table     []uint32       `yaml:"table,omitempty"`
	Functions []FunctionFile `yaml:"functions"`
}

type TypeFile struct {
	Params  []string `yaml:"params,omitempty"`
	Results []string `yaml:"results,omitempty"`
}

type MemoryFile struct {
	Min uint32  `yaml:"min"`
	Max *uint32 `yaml:"max,omitempty"`
}

type GlobalFile struct {
	Type    string `yaml:"type"`
	Mutable bool   `yaml:"mutable,omitempty"`
	Init    string `yaml:"init,omitempty"`
}

type FunctionFile struct {
	Name   string   `yaml:"name"`
	Type   uint32   `yaml:"type"`
	Locals []string `yaml:"locals,omitempty"`
	Export bool     `yaml:"export,omitempty"`
	Body   string   `yaml:"body"`
}

// LoadModuleFile reads and parses a YAML module from path.
func LoadModuleFile(path string) (*ModuleTypes, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("wasm: read module: %w", err)
	}
	mod, err := ParseModule(data)
	if err != nil {
		return nil, fmt.Errorf("wasm: %s: %w", path, err)
	}
	return mod, nil
}

// ParseModule decodes a YAML module and parses every function body.
func ParseModule(data []byte) (*ModuleTypes, error) {
	var file ModuleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse module yaml: %w", err)
	}
	return file.Build()
}

// Build converts the file form into ModuleTypes and validates it.
func (f *ModuleFile) Build() (*ModuleTypes, error) {
	mod := &ModuleTypes{Exports: map[string]uint32{}}
	for i, t := range f.Types {
		params, err := parseTypes(t.Params)
		if err != nil {
			return nil, fmt.Errorf("type %d: %w", i, err)
		}
		results, err := parseTypes(t.Results)
		if err != nil {
			return nil, fmt.Errorf("type %d: %w", i, err)
		}
		mod.Types = append(mod.Types, FuncType{Params: params, Results: results})
	}
	if f.Memory != nil {
		lim := &Limits{Min: f.Memory.Min}
		if f.Memory.Max != nil {
			lim.Max = *f.Memory.Max
			lim.HasMax = true
		}
		mod.Memory = lim
	}
	for i, g := range f.Globals {
		t, err := ParseValueType(g.Type)
		if err != nil {
			return nil, fmt.Errorf("global %d: %w", i, err)
		}
		init := Value{Type: t}
		if g.Init != "" {
			if init, err = ParseValue(t, g.Init); err != nil {
				return nil, fmt.Errorf("global %d: %w", i, err)
			}
		}
		mod.Globals = append(mod.Globals, Global{Type: t, Mutable: g.Mutable, Init: init})
	}
	mod.Table = append(mod.Table, f.Table...)
	for i, fn := range f.Functions {
		locals, err := parseTypes(fn.Locals)
		if err != nil {
			return nil, fmt.Errorf("function %d: %w", i, err)
		}
		body, err := ParseBody(fn.Body)
		if err != nil {
			return nil, fmt.Errorf("function %d (%s): %w", i, fn.Name, err)
		}
		mod.Functions = append(mod.Functions, Function{
			Name:   fn.Name,
			Type:   fn.Type,
			Locals: locals,
			Body:   body,
		})
		if fn.Export {
			if fn.Name == "" {
				return nil, fmt.Errorf("function %d: exported function needs a name", i)
			}
			mod.Exports[fn.Name] = uint32(i)
		}
	}
	if err := mod.Validate(); err != nil {
		return nil, err
	}
	return mod, nil
}

func parseTypes(names []string) ([]ValueType, error) {
	var out []ValueType
	for _, n := range names {
		t, err := ParseValueType(n)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}
