// Package store caches compiled programs in SQLite, keyed by the hash of
// their source text.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/chazu/kurt/compiler"
	"github.com/chazu/kurt/compiler/hash"
	"github.com/chazu/kurt/pkg/bytecode"
)

// ErrNotFound indicates no program is cached for the requested source.
var ErrNotFound = errors.New("program not found")

var log = commonlog.GetLogger("kurt.store")

// Entry describes one cached program.
type Entry struct {
	Source  hash.Sum // key: hash of the source text
	Program hash.Sum // hash of the compiled code
	Name    string
	Created time.Time
}

// Store is a SQLite-backed program cache. It is safe for concurrent use.
type Store struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Open opens or creates the cache at path. ":memory:" gives a private
// in-memory cache.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection keeps an in-memory database alive and shared.
	db.SetMaxOpenConns(1)

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS programs (
		hash TEXT PRIMARY KEY,
		code_hash TEXT NOT NULL,
		name TEXT NOT NULL,
		data BLOB NOT NULL,
		created_at INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	log.Debugf("opened program store %s", path)
	return &Store{db: db, path: path}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Put caches prog as the compilation of src, replacing any previous entry.
func (s *Store) Put(src string, prog *bytecode.Program) error {
	data, err := bytecode.Marshal(prog)
	if err != nil {
		return fmt.Errorf("encoding program: %w", err)
	}
	key := hash.Source(src)

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO programs (hash, code_hash, name, data, created_at) VALUES (?, ?, ?, ?, ?)`,
		key.String(), hash.Program(prog).String(), prog.Name, data, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("storing program %s: %w", key.Short(), err)
	}
	return nil
}

// Get returns the cached compilation of src. Stored programs are validated
// before they are returned, so they are safe to run.
func (s *Store) Get(src string) (*bytecode.Program, error) {
	key := hash.Source(src)

	s.mu.Lock()
	var data []byte
	err := s.db.QueryRow(`SELECT data FROM programs WHERE hash = ?`, key.String()).Scan(&data)
	s.mu.Unlock()

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading program %s: %w", key.Short(), err)
	}

	prog, err := bytecode.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("decoding program %s: %w", key.Short(), err)
	}
	if err := prog.Validate(); err != nil {
		return nil, fmt.Errorf("cached program %s is invalid: %w", key.Short(), err)
	}
	return prog, nil
}

// Compile returns the cached program for src, compiling and caching it on a
// miss. Diagnostics are returned as compiler.Diagnostics and never cached.
func (s *Store) Compile(name, src string) (*bytecode.Program, error) {
	prog, err := s.Get(src)
	switch {
	case err == nil:
		log.Debugf("cache hit %s", hash.Source(src).Short())
		prog.Name = name
		return prog, nil
	case !errors.Is(err, ErrNotFound):
		// A corrupt or unreadable entry is recompiled and overwritten.
		log.Warningf("%s", err)
	}

	prog, diags := compiler.CompileNamed(name, src)
	if diags.HasErrors() {
		return nil, diags
	}
	if err := s.Put(src, prog); err != nil {
		return nil, err
	}
	return prog, nil
}

// Entries lists the cached programs, newest first.
func (s *Store) Entries() ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT hash, code_hash, name, created_at FROM programs ORDER BY created_at DESC, hash`)
	if err != nil {
		return nil, fmt.Errorf("listing programs: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var src, code, name string
		var created int64
		if err := rows.Scan(&src, &code, &name, &created); err != nil {
			return nil, fmt.Errorf("scanning program: %w", err)
		}
		e := Entry{Name: name, Created: time.Unix(created, 0)}
		e.Source, _ = hash.Parse(src)
		e.Program, _ = hash.Parse(code)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Len returns the number of cached programs.
func (s *Store) Len() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM programs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting programs: %w", err)
	}
	return n, nil
}

// Delete removes the entry for src. Deleting a missing entry is not an
// error.
func (s *Store) Delete(src string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`DELETE FROM programs WHERE hash = ?`, hash.Source(src).String()); err != nil {
		return fmt.Errorf("deleting program: %w", err)
	}
	return nil
}
