package store

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/chazu/kurt/compiler"
	"github.com/chazu/kurt/compiler/hash"
	"github.com/chazu/kurt/pkg/bytecode"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "programs.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustCompile(t *testing.T, src string) *bytecode.Program {
	t.Helper()
	prog, diags := compiler.CompileNamed("test.kurt", src)
	if diags.HasErrors() {
		t.Fatalf("compile: %v", diags)
	}
	return prog
}

func TestPutGet(t *testing.T) {
	s := openTemp(t)
	src := "let f = (n) => n * 2; f(21)"
	prog := mustCompile(t, src)

	if err := s.Put(src, prog); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := s.Get(src)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "test.kurt" {
		t.Errorf("name = %q, want test.kurt", got.Name)
	}
	if bytecode.Disassemble(got) != bytecode.Disassemble(prog) {
		t.Errorf("round trip changed the program:\n%s\nwant:\n%s", bytecode.Disassemble(got), bytecode.Disassemble(prog))
	}
}

func TestGetNotFound(t *testing.T) {
	s := openTemp(t)
	if _, err := s.Get("1 + 1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestCompileCachesThrough(t *testing.T) {
	s := openTemp(t)
	src := "1 + 2"

	first, err := s.Compile("a.kurt", src)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if n, _ := s.Len(); n != 1 {
		t.Errorf("len after miss = %d, want 1", n)
	}

	second, err := s.Compile("b.kurt", src)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if second.Name != "b.kurt" {
		t.Errorf("name = %q, want the caller's name", second.Name)
	}
	if hash.Program(first) != hash.Program(second) {
		t.Error("cached program differs from the compiled one")
	}
	if n, _ := s.Len(); n != 1 {
		t.Errorf("len after hit = %d, want 1", n)
	}
}

func TestCompileDoesNotCacheDiagnostics(t *testing.T) {
	s := openTemp(t)
	_, err := s.Compile("bad.kurt", "let = 1")
	var diags compiler.Diagnostics
	if !errors.As(err, &diags) {
		t.Fatalf("error = %v (%T), want compiler.Diagnostics", err, err)
	}
	if n, _ := s.Len(); n != 0 {
		t.Errorf("len = %d, want 0", n)
	}
}

func TestCorruptEntryIsRecompiled(t *testing.T) {
	s := openTemp(t)
	src := "[1, 2, 3]"
	_, err := s.db.Exec(
		`INSERT INTO programs (hash, code_hash, name, data, created_at) VALUES (?, '', '', ?, 0)`,
		hash.Source(src).String(), []byte("garbage"),
	)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.Get(src); err == nil || errors.Is(err, ErrNotFound) {
		t.Errorf("Get of corrupt entry: error = %v", err)
	}
	if _, err := s.Compile("x.kurt", src); err != nil {
		t.Fatalf("Compile over corrupt entry: %v", err)
	}
	if _, err := s.Get(src); err != nil {
		t.Errorf("entry not repaired: %v", err)
	}
}

func TestEntries(t *testing.T) {
	s := openTemp(t)
	for _, src := range []string{"1", "2", "3"} {
		if err := s.Put(src, mustCompile(t, src)); err != nil {
			t.Fatal(err)
		}
	}
	entries, err := s.Entries()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}
	for _, e := range entries {
		if e.Name != "test.kurt" || e.Created.IsZero() {
			t.Errorf("entry = %+v", e)
		}
		var zero hash.Sum
		if e.Source == zero || e.Program == zero {
			t.Errorf("entry hashes not parsed: %+v", e)
		}
	}
}

func TestDelete(t *testing.T) {
	s := openTemp(t)
	if err := s.Put("1", mustCompile(t, "1")); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete("1"); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete("1"); err != nil {
		t.Errorf("second Delete: %v", err)
	}
	if _, err := s.Get("1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestPersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "programs.db")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Put("42", mustCompile(t, "42")); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if _, err := s.Get("42"); err != nil {
		t.Errorf("Get after reopen: %v", err)
	}
}

func TestInMemory(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if _, err := s.Compile("m", "1"); err != nil {
		t.Fatal(err)
	}
	if n, _ := s.Len(); n != 1 {
		t.Errorf("len = %d, want 1", n)
	}
}
