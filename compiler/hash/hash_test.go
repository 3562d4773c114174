package hash

import (
	"strings"
	"testing"

	"github.com/chazu/kurt/compiler"
)

func programHash(t *testing.T, src string) Sum {
	t.Helper()
	prog, diags := compiler.Compile(src)
	if diags.HasErrors() {
		t.Fatalf("Compile(%q): %v", src, diags)
	}
	return Program(prog)
}

func TestProgramHashEquivalent(t *testing.T) {
	tests := []struct {
		name string
		a, b string
	}{
		{"whitespace", "let x = 1 + 2", "let   x=1+\n\n 2"},
		{"comments", "print(1)", "// say one\nprint(1) // done"},
		{"local names", "{ let a = 1; a * 2 }", "{ let b = 1; b * 2 }"},
		{"parameter names", "let f = (x, y) => x - y", "let f = (p, q) => p - q"},
		{"captured names", "let mk = () => { let n = 0; () => n }", "let mk = () => { let m = 0; () => m }"},
		{"local function names", "{ let go = (n) => go(n); go }", "{ let run = (n) => run(n); run }"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if ha, hb := programHash(t, tc.a), programHash(t, tc.b); ha != hb {
				t.Errorf("hashes differ: %s vs %s", ha.Short(), hb.Short())
			}
		})
	}
}

func TestProgramHashDistinct(t *testing.T) {
	tests := []struct {
		name string
		a, b string
	}{
		{"constant", "1 + 2", "1 + 3"},
		{"operator", "1 + 2", "1 - 2"},
		{"global names", "let x = 1", "let y = 1"},
		{"string vs symbol", `"a"`, ":a"},
		{"nested body", "let f = () => 1", "let f = () => 2"},
		{"arity", "let f = (a) => 1", "let f = (a, b) => 1"},
		{"statement value", "1", "1;"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if programHash(t, tc.a) == programHash(t, tc.b) {
				t.Errorf("%q and %q hash equal", tc.a, tc.b)
			}
		})
	}
}

func TestSourceHash(t *testing.T) {
	a, b := Source("let x = 1"), Source("let x = 1 ")
	if a == b {
		t.Error("source hash ignores trailing space")
	}
	if Source("let x = 1") != a {
		t.Error("source hash not deterministic")
	}
}

func TestSumString(t *testing.T) {
	h := Source("")
	s := h.String()
	if len(s) != 64 || strings.ToLower(s) != s {
		t.Errorf("String() = %q, want 64 lowercase hex digits", s)
	}
	// Well-known SHA-256 of the empty input.
	if want := "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"; s != want {
		t.Errorf("String() = %s, want %s", s, want)
	}
	if h.Short() != s[:12] {
		t.Errorf("Short() = %s, want %s", h.Short(), s[:12])
	}
	back, ok := Parse(s)
	if !ok || back != h {
		t.Errorf("Parse(String()) = %v, %v", back, ok)
	}
	for _, bad := range []string{"", "zz", s[:10], s + "00"} {
		if _, ok := Parse(bad); ok {
			t.Errorf("Parse(%q) succeeded", bad)
		}
	}
}
