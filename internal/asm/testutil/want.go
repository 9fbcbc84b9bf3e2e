package testutil

import (
	"strings"
	"testing"
)

// Want describes the instruction expected at one position of a listing.
type Want struct {
	Name string
	Op   string
	Has  []string
}

// Match checks lines against want position by position. Lines beyond the
// last Want are ignored.
func Match(t *testing.T, lines []Line, want []Want) {
	t.Helper()
	if len(lines) < len(want) {
		t.Fatalf("got %d instructions, want at least %d", len(lines), len(want))
	}
	for i, w := range want {
		l := lines[i]
		if w.Op != "" && l.Op != w.Op {
			t.Fatalf("%s at %#x: op %s, want %s (%s)", w.Name, l.Offset, l.Op, w.Op, l.Text)
		}
		for _, s := range w.Has {
			if !strings.Contains(l.Text, s) {
				t.Fatalf("%s at %#x: %q does not contain %q", w.Name, l.Offset, l.Text, s)
			}
		}
	}
}
