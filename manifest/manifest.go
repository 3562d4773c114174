// Package manifest handles kurt.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/chazu/kurt/vm"
)

// FileName is the name of the project configuration file.
const FileName = "kurt.toml"

// Manifest represents a kurt.toml project configuration.
type Manifest struct {
	VM     VMConfig     `toml:"vm" json:"vm"`
	REPL   REPLConfig   `toml:"repl" json:"repl"`
	Log    LogConfig    `toml:"log" json:"log"`
	Store  StoreConfig  `toml:"store" json:"store"`
	Server ServerConfig `toml:"server" json:"server"`

	// Dir is the directory containing the kurt.toml file (set at load time).
	Dir string `toml:"-" json:"-"`
}

// VMConfig bounds program execution.
type VMConfig struct {
	MaxFrames         int   `toml:"max_frames" json:"max_frames"`
	MaxStack          int   `toml:"max_stack" json:"max_stack"`
	InstructionBudget int64 `toml:"instruction_budget" json:"instruction_budget"`
	Trace             bool  `toml:"trace" json:"trace"`
}

// REPLConfig configures the interactive prompt.
type REPLConfig struct {
	Prompt  string `toml:"prompt" json:"prompt"`
	History string `toml:"history" json:"history"`
}

// LogConfig configures logging.
type LogConfig struct {
	Verbosity int `toml:"verbosity" json:"verbosity"`
}

// StoreConfig configures the compiled-program cache. An empty path
// disables it.
type StoreConfig struct {
	Path string `toml:"path" json:"path"`
}

// ServerConfig configures the RPC servers.
type ServerConfig struct {
	Addr     string `toml:"addr" json:"addr"`
	GRPCAddr string `toml:"grpc_addr" json:"grpc_addr"`
	Timeout  string `toml:"timeout" json:"timeout"`
}

// Default returns the configuration used when no kurt.toml exists.
func Default() *Manifest {
	return &Manifest{
		VM: VMConfig{
			MaxFrames: vm.DefaultMaxFrames,
			MaxStack:  vm.DefaultMaxStack,
		},
		REPL: REPLConfig{
			Prompt:  "kurt> ",
			History: "~/.kurt_history",
		},
		Log: LogConfig{Verbosity: 1},
		Server: ServerConfig{
			Addr:    "127.0.0.1:7420",
			Timeout: "5s",
		},
	}
}

// Parse decodes a configuration over the defaults and validates it.
func Parse(data []byte) (*Manifest, error) {
	m := Default()
	md, err := toml.Decode(string(data), m)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		sort.Strings(keys)
		return nil, fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Load parses a kurt.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	return m, nil
}

// FindAndLoad walks up from startDir to find a kurt.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// VMOptions translates the [vm] section into VM options.
func (m *Manifest) VMOptions() []vm.Option {
	return []vm.Option{
		vm.WithMaxFrames(m.VM.MaxFrames),
		vm.WithMaxStack(m.VM.MaxStack),
		vm.WithBudget(m.VM.InstructionBudget),
	}
}

// Timeout returns the per-evaluation server timeout; zero means none.
func (m *Manifest) Timeout() time.Duration {
	if m.Server.Timeout == "" {
		return 0
	}
	d, err := time.ParseDuration(m.Server.Timeout)
	if err != nil {
		return 0 // rejected by Validate
	}
	return d
}

// HistoryPath returns the REPL history file with a leading ~ expanded,
// or "" when history is disabled.
func (m *Manifest) HistoryPath() string {
	return m.expand(m.REPL.History)
}

// StorePath returns the program cache path. Relative paths are taken from
// the manifest's directory.
func (m *Manifest) StorePath() string {
	p := m.expand(m.Store.Path)
	if p != "" && !filepath.IsAbs(p) && m.Dir != "" {
		p = filepath.Join(m.Dir, p)
	}
	return p
}

func (m *Manifest) expand(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		return filepath.Join(home, p[1:])
	}
	return p
}
