package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/docker/go-units"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/tinyrange/wasmjit/internal/artifact"
	"github.com/tinyrange/wasmjit/internal/asm/amd64"
	"github.com/tinyrange/wasmjit/internal/config"
	"github.com/tinyrange/wasmjit/internal/jit"
	"github.com/tinyrange/wasmjit/internal/runtime"
	"github.com/tinyrange/wasmjit/internal/wasm"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "wasmjit: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "Configuration file (default: ./"+config.DefaultFilename+" if present)")
	out := flag.String("o", "", "Write the compiled module to this artifact file")
	load := flag.String("load", "", "Load compiled code from an artifact instead of compiling")
	disasm := flag.Bool("disasm", false, "Print the disassembly of every function")
	runName := flag.String("run", "", "Call this exported function after loading")
	runArgs := flag.String("args", "", "Comma separated arguments for -run")
	bounds := flag.String("bounds", "", "Bounds check mode (none, static, dynamic); overrides the config")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error); overrides the config")
	stats := flag.Bool("stats", false, "Print compilation statistics")
	trace := flag.Bool("trace", false, "Log every compiler event at debug level")
	writeConfig := flag.String("write-config", "", "Write the effective configuration to this file and exit")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <module.yaml>\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Compile a wasm module to x86-64 and optionally run one of its exports.\n\n")
		fmt.Fprintf(os.Stderr, "Examples:\n")
		fmt.Fprintf(os.Stderr, "  %s -disasm add.yaml\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -run add -args 2,3 add.yaml\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -o add.wjit add.yaml && %s -load add.wjit -run add -args 2,3 add.yaml\n\n", os.Args[0], os.Args[0])
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *bounds != "" {
		cfg.Compiler.BoundsChecks = *bounds
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	level, err := cfg.LogLevel()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	host, err := cfg.Host()
	if err != nil {
		return err
	}
	arenaSize, err := cfg.CodeArenaSize()
	if err != nil {
		return err
	}

	if *writeConfig != "" {
		if err := config.Write(*writeConfig, cfg); err != nil {
			return err
		}
		slog.Info("Wrote configuration", "path", *writeConfig)
		return nil
	}

	if flag.NArg() != 1 {
		flag.Usage()
		return fmt.Errorf("module file required")
	}
	mod, err := wasm.LoadModuleFile(flag.Arg(0))
	if err != nil {
		return err
	}
	slog.Info("Loaded module", "path", flag.Arg(0), "functions", len(mod.Functions), "types", len(mod.Types))

	cctx := &jit.CompileContext{Module: mod, Host: host, Logger: logger}
	var statsPass *jit.StatsPass
	if *stats {
		statsPass = jit.NewStatsPass()
		cctx.Observers = append(cctx.Observers, statsPass)
	}
	if *trace {
		cctx.Observers = append(cctx.Observers, jit.TracePass{Logger: logger})
	}

	var funcs []*jit.Compiled
	if *load != "" {
		funcs, err = loadArtifact(*load, mod)
	} else {
		funcs, err = compile(cctx, cfg.Compiler.Parallel)
	}
	if err != nil {
		return err
	}

	if statsPass != nil {
		printStats(statsPass.Snapshot())
	}
	if *disasm {
		for _, fn := range funcs {
			if err := printDisassembly(mod, fn); err != nil {
				return err
			}
		}
	}
	if *out != "" {
		if err := writeArtifact(*out, mod, funcs); err != nil {
			return err
		}
	}
	if *runName == "" {
		return nil
	}

	inst, err := runtime.New(mod, funcs, runtime.Options{Host: host, CodeArenaSize: arenaSize, Logger: logger})
	if err != nil {
		return err
	}
	defer inst.Close()

	idx, ok := mod.Export(*runName)
	if !ok {
		return fmt.Errorf("no export named %q", *runName)
	}
	ft, err := mod.FuncType(idx)
	if err != nil {
		return err
	}
	args, err := parseArgs(ft, *runArgs)
	if err != nil {
		return err
	}
	results, err := inst.CallIndex(idx, args...)
	if err != nil {
		var te *runtime.TrapError
		if errors.As(err, &te) {
			slog.Error("Trapped", "kind", te.Kind, "func", te.Func, "instr", te.Instr, "op", te.Op)
		}
		return err
	}
	for _, v := range results {
		fmt.Println(v)
	}
	return nil
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		if _, err := os.Stat(config.DefaultFilename); err != nil {
			return config.Default(), nil
		}
		path = config.DefaultFilename
	}
	return config.Load(path)
}

func compile(cctx *jit.CompileContext, parallel int) ([]*jit.Compiled, error) {
	opts := jit.ModuleOptions{Parallel: parallel}
	if term.IsTerminal(int(os.Stderr.Fd())) && len(cctx.Module.Functions) > 1 {
		bar := progressbar.NewOptions(len(cctx.Module.Functions),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription("compiling"),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
		defer bar.Finish()
		opts.Progress = func(uint32) { _ = bar.Add(1) }
	}
	funcs, err := jit.CompileModule(context.Background(), cctx, opts)
	if err != nil {
		return nil, fmt.Errorf("compile: %w", err)
	}
	size := 0
	for _, fn := range funcs {
		size += fn.Program.Len()
	}
	slog.Info("Compiled module", "functions", len(funcs), "code", units.HumanSize(float64(size)))
	return funcs, nil
}

func loadArtifact(path string, mod *wasm.ModuleTypes) ([]*jit.Compiled, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()
	a, err := artifact.Read(f)
	if err != nil {
		return nil, err
	}
	if len(a.Functions) != len(mod.Functions) {
		return nil, fmt.Errorf("artifact %s holds %d functions, module has %d", path, len(a.Functions), len(mod.Functions))
	}
	for _, fn := range a.Functions {
		ft, err := mod.FuncType(fn.Index)
		if err != nil {
			return nil, err
		}
		if !ft.Equal(fn.Type) {
			return nil, fmt.Errorf("artifact %s: func[%d] has type %s, module says %s", path, fn.Index, fn.Type, ft)
		}
	}
	slog.Info("Loaded artifact", "path", path, "code", units.HumanSize(float64(a.CodeSize())))
	return a.Compiled(), nil
}

func writeArtifact(path string, mod *wasm.ModuleTypes, funcs []*jit.Compiled) error {
	a, err := artifact.FromCompiled(mod, funcs)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create artifact: %w", err)
	}
	if err := artifact.Write(f, a); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close artifact: %w", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	slog.Info("Wrote artifact", "path", path,
		"code", units.HumanSize(float64(a.CodeSize())),
		"file", units.HumanSize(float64(info.Size())))
	return nil
}

func printDisassembly(mod *wasm.ModuleTypes, fn *jit.Compiled) error {
	name := mod.Functions[fn.Index].Name
	ft, _ := mod.FuncType(fn.Index)
	fmt.Printf("func[%d] %s %s: %d bytes, %d spill slots\n", fn.Index, name, ft, fn.Program.Len(), fn.Program.FrameSlots())
	text, err := amd64.FormatDisassembly(fn.Program.Bytes(), 0)
	fmt.Print(text)
	for _, t := range fn.Traps {
		fmt.Printf("  trap %-30s at %#x (instr %d)\n", t.Kind, t.Offset, t.Instr)
	}
	fmt.Println()
	if err != nil {
		return fmt.Errorf("disassemble func[%d]: %w", fn.Index, err)
	}
	return nil
}

func printStats(s jit.Stats) {
	fmt.Printf("functions: %d, code: %s, accesses: %d\n", s.Functions, units.HumanSize(float64(s.CodeBytes)), len(s.Accesses))
	ops := make([]wasm.Opcode, 0, len(s.Instructions))
	for op := range s.Instructions {
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool { return s.Instructions[ops[i]] > s.Instructions[ops[j]] })
	for _, op := range ops {
		fmt.Printf("  %-20s %d\n", op, s.Instructions[op])
	}
	for kind := jit.MachineUncondBranch; kind <= jit.MachineMemoryAccess; kind++ {
		if n := s.Machine[kind]; n > 0 {
			fmt.Printf("  machine %-16s %d\n", kind, n)
		}
	}
}

func parseArgs(ft wasm.FuncType, s string) ([]wasm.Value, error) {
	var fields []string
	if s = strings.TrimSpace(s); s != "" {
		fields = strings.Split(s, ",")
	}
	if len(fields) != len(ft.Params) {
		return nil, fmt.Errorf("function %s takes %d arguments, got %d", ft, len(ft.Params), len(fields))
	}
	args := make([]wasm.Value, len(fields))
	for i, f := range fields {
		v, err := wasm.ParseValue(ft.Params[i], f)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		args[i] = v
	}
	return args, nil
}
