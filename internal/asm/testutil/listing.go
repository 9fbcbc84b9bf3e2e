// Package testutil disassembles emitted machine code for assembler tests.
package testutil

import (
	"bufio"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"golang.org/x/arch/x86/x86asm"
)

// Line is one decoded instruction in AT&T syntax.
type Line struct {
	Offset int
	Text   string
	Op     string
}

func newLine(off int, text string) (Line, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return Line{}, false
	}
	return Line{Offset: off, Text: strings.Join(fields, " "), Op: strings.ToLower(fields[0])}, true
}

// Decode disassembles code with x86asm. It fails the test on the first
// byte sequence that does not decode.
func Decode(t *testing.T, code []byte) []Line {
	t.Helper()
	var lines []Line
	for off := 0; off < len(code); {
		inst, err := x86asm.Decode(code[off:], 64)
		if err != nil {
			t.Fatalf("decode at %#x: %v", off, err)
		}
		if l, ok := newLine(off, x86asm.GNUSyntax(inst, uint64(off), nil)); ok {
			lines = append(lines, l)
		}
		off += inst.Len
	}
	return lines
}

// Objdump disassembles code as a raw x86-64 image with GNU objdump.
// The test is skipped when objdump is not installed.
func Objdump(t *testing.T, code []byte) []Line {
	t.Helper()
	tool, err := exec.LookPath("objdump")
	if err != nil {
		t.Skipf("objdump not found: %v", err)
	}
	path := filepath.Join(t.TempDir(), "code.bin")
	if err := os.WriteFile(path, code, 0o644); err != nil {
		t.Fatalf("write code image: %v", err)
	}
	out, err := exec.Command(tool, "-D", "-b", "binary", "-m", "i386:x86-64", "-M", "att", "--no-show-raw-insn", path).CombinedOutput()
	if err != nil {
		t.Fatalf("objdump failed: %v\n\n%s", err, out)
	}

	var lines []Line
	sc := bufio.NewScanner(strings.NewReader(string(out)))
	for sc.Scan() {
		addr, text, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			continue
		}
		off, err := strconv.ParseInt(strings.TrimSpace(addr), 16, 64)
		if err != nil {
			continue
		}
		if l, ok := newLine(int(off), text); ok {
			lines = append(lines, l)
		}
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("read objdump output: %v", err)
	}
	if len(lines) == 0 {
		t.Fatalf("objdump produced no instructions:\n%s", out)
	}
	return lines
}
