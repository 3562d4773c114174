// Kurt CLI - runs Kurt scripts, the REPL, and the language servers
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/tliron/commonlog"

	"github.com/chazu/kurt/compiler"
	"github.com/chazu/kurt/manifest"
	"github.com/chazu/kurt/pkg/bytecode"
	"github.com/chazu/kurt/server"
	"github.com/chazu/kurt/store"
	"github.com/chazu/kurt/vm"

	_ "github.com/tliron/commonlog/simple"
)

// Exit codes.
const (
	exitOK          = 0
	exitRuntime     = 1
	exitUsage       = 2
	exitDiagnostics = 65
)

var log = commonlog.GetLogger("kurt.cli")

// options holds the parsed command line.
type options struct {
	eval        string
	ast         bool
	trace       bool
	disasm      bool
	output      string
	runCompiled string
	lsp         bool
	serve       string
	grpcAddr    string
	budget      int64
	verbosity   int
	configDir   string
	args        []string
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("kurt", flag.ContinueOnError)
	fs.SetOutput(stderr)

	o := &options{}
	fs.StringVar(&o.eval, "e", "", "Evaluate `source` and print the result")
	fs.BoolVar(&o.ast, "ast", false, "Print the syntax tree instead of running")
	fs.BoolVar(&o.trace, "trace", false, "Trace every instruction to stderr")
	fs.BoolVar(&o.disasm, "disasm", false, "Print the bytecode instead of running")
	fs.StringVar(&o.output, "o", "", "Write the compiled program to `file` instead of running")
	fs.StringVar(&o.runCompiled, "run-compiled", "", "Run a compiled program `file`")
	fs.BoolVar(&o.lsp, "lsp", false, "Start the language server on stdio")
	fs.StringVar(&o.serve, "serve", "", "Serve the evaluation API (connect HTTP/JSON) on `addr`")
	fs.StringVar(&o.grpcAddr, "grpc", "", "Serve the evaluation API over gRPC on `addr`")
	fs.Int64Var(&o.budget, "budget", -1, "Instruction budget, 0 for unlimited (default from kurt.toml)")
	fs.IntVar(&o.verbosity, "v", -1, "Log verbosity 0-5 (default from kurt.toml)")
	fs.StringVar(&o.configDir, "config", "", "Directory holding kurt.toml (default: search upward from the working directory)")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: kurt [options] [script.kurt]\n\n")
		fmt.Fprintf(stderr, "Runs a Kurt script, or starts the REPL when no script is given.\n\n")
		fmt.Fprintf(stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nExamples:\n")
		fmt.Fprintf(stderr, "  kurt                          # Start REPL\n")
		fmt.Fprintf(stderr, "  kurt fib.kurt                 # Run a script\n")
		fmt.Fprintf(stderr, "  kurt -e '1 + 2'               # Evaluate an expression\n")
		fmt.Fprintf(stderr, "  kurt -disasm fib.kurt         # Show bytecode\n")
		fmt.Fprintf(stderr, "  kurt -o fib.kbc fib.kurt      # Compile to a file\n")
		fmt.Fprintf(stderr, "  kurt -run-compiled fib.kbc    # Run a compiled file\n")
		fmt.Fprintf(stderr, "\nServers:\n")
		fmt.Fprintf(stderr, "  kurt -serve 127.0.0.1:7420    # connect HTTP/JSON API\n")
		fmt.Fprintf(stderr, "  kurt -grpc 127.0.0.1:7421     # gRPC API\n")
		fmt.Fprintf(stderr, "  kurt -lsp                     # Language server on stdio\n")
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	o.args = fs.Args()
	if len(o.args) > 1 {
		fs.Usage()
		return nil, errors.New("at most one script may be given")
	}
	if o.eval != "" && len(o.args) > 0 {
		return nil, errors.New("-e and a script are mutually exclusive")
	}
	return o, nil
}

// interactive reports whether no mode flag or script was given.
func (o *options) interactive() bool {
	return !o.lsp && o.serve == "" && o.grpcAddr == "" && o.runCompiled == "" && o.eval == "" && len(o.args) == 0
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// run is main without the process exit, returning the exit code.
func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	o, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintf(stderr, "kurt: %v\n", err)
		return exitUsage
	}

	m, err := loadManifest(o.configDir)
	if err != nil {
		fmt.Fprintf(stderr, "kurt: %v\n", err)
		return exitUsage
	}
	if o.budget >= 0 {
		m.VM.InstructionBudget = o.budget
	}
	if o.verbosity >= 0 {
		m.Log.Verbosity = o.verbosity
	}
	if o.trace {
		m.VM.Trace = true
	}
	commonlog.Configure(m.Log.Verbosity, nil)

	app := &cli{opts: o, manifest: m, stdin: stdin, stdout: stdout, stderr: stderr}
	defer app.close()

	if o.interactive() {
		return app.repl()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case o.lsp:
		if err := server.NewLSP().RunStdio(); err != nil {
			fmt.Fprintf(stderr, "LSP error: %v\n", err)
			return exitRuntime
		}
		return exitOK
	case o.serve != "" || o.grpcAddr != "":
		return app.serveAPI(ctx)
	case o.runCompiled != "":
		return app.runCompiled(ctx, o.runCompiled)
	case o.eval != "":
		return app.runSource(ctx, "<eval>", o.eval, true)
	case len(o.args) == 1:
		path := o.args[0]
		data, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(stderr, "kurt: %v\n", err)
			return exitUsage
		}
		return app.runSource(ctx, filepath.Base(path), string(data), false)
	}
	return exitOK
}

func loadManifest(dir string) (*manifest.Manifest, error) {
	if dir != "" {
		return manifest.Load(dir)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return manifest.Default(), nil
	}
	m, err := manifest.FindAndLoad(cwd)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return manifest.Default(), nil
	}
	return m, nil
}

// cli carries the state shared by the run modes.
type cli struct {
	opts     *options
	manifest *manifest.Manifest
	stdin    io.Reader
	stdout   io.Writer
	stderr   io.Writer

	store *store.Store
}

func (c *cli) close() {
	if c.store != nil {
		c.store.Close()
	}
}

// openStore opens the program cache when one is configured. A cache that
// cannot be opened is logged and skipped.
func (c *cli) openStore() *store.Store {
	if c.store != nil {
		return c.store
	}
	path := c.manifest.StorePath()
	if path == "" {
		return nil
	}
	st, err := store.Open(path)
	if err != nil {
		log.Warningf("program cache disabled: %v", err)
		return nil
	}
	c.store = st
	return st
}

func (c *cli) newVM() *vm.VM {
	opts := c.manifest.VMOptions()
	if c.manifest.VM.Trace {
		opts = append(opts, vm.WithTrace(vm.NewTextTracer(c.stderr)))
	}
	machine := vm.NewVM(opts...)
	vm.InstallBuiltins(machine, c.stdout)
	return machine
}

func (c *cli) compile(name, src string) (*bytecode.Program, compiler.Diagnostics, error) {
	if st := c.openStore(); st != nil {
		prog, err := st.Compile(name, src)
		var diags compiler.Diagnostics
		if errors.As(err, &diags) {
			return nil, diags, nil
		}
		return prog, nil, err
	}
	prog, diags := compiler.CompileNamed(name, src)
	return prog, diags, nil
}

// runSource handles a script or -e source. printResult echoes a non-nil
// result the way the REPL does.
func (c *cli) runSource(ctx context.Context, name, src string, printResult bool) int {
	if c.opts.ast {
		prog, diags := compiler.ParseString(src)
		if diags.HasErrors() {
			return c.reportDiagnostics(src, diags)
		}
		fmt.Fprintln(c.stdout, compiler.Sexpr(prog))
		return exitOK
	}

	prog, diags, err := c.compile(name, src)
	if err != nil {
		fmt.Fprintf(c.stderr, "kurt: %v\n", err)
		return exitRuntime
	}
	if diags.HasErrors() {
		return c.reportDiagnostics(src, diags)
	}

	switch {
	case c.opts.disasm:
		fmt.Fprint(c.stdout, bytecode.Disassemble(prog))
		return exitOK
	case c.opts.output != "":
		return c.writeCompiled(prog)
	}
	return c.execute(ctx, prog, printResult)
}

func (c *cli) writeCompiled(prog *bytecode.Program) int {
	data, err := bytecode.Marshal(prog)
	if err != nil {
		fmt.Fprintf(c.stderr, "kurt: %v\n", err)
		return exitRuntime
	}
	if err := os.WriteFile(c.opts.output, data, 0o644); err != nil {
		fmt.Fprintf(c.stderr, "kurt: %v\n", err)
		return exitRuntime
	}
	log.Infof("wrote %s (%d bytes)", c.opts.output, len(data))
	return exitOK
}

func (c *cli) runCompiled(ctx context.Context, path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(c.stderr, "kurt: %v\n", err)
		return exitUsage
	}
	prog, err := bytecode.Unmarshal(data)
	if err == nil {
		err = prog.Validate()
	}
	if err != nil {
		fmt.Fprintf(c.stderr, "kurt: %s: %v\n", path, err)
		return exitDiagnostics
	}
	if c.opts.disasm {
		fmt.Fprint(c.stdout, bytecode.Disassemble(prog))
		return exitOK
	}
	return c.execute(ctx, prog, false)
}

func (c *cli) execute(ctx context.Context, prog *bytecode.Program, printResult bool) int {
	machine := c.newVM()
	v, err := machine.Run(ctx, prog)
	if err != nil {
		c.reportRuntimeError(err)
		return exitRuntime
	}
	if printResult && !v.IsNil() {
		fmt.Fprintln(c.stdout, v.String())
	}
	return exitOK
}

func (c *cli) reportDiagnostics(src string, diags compiler.Diagnostics) int {
	diags.Sort()
	fmt.Fprint(c.stderr, diags.Render(src))
	return exitDiagnostics
}

func (c *cli) reportRuntimeError(err error) {
	var rerr *vm.RuntimeError
	if errors.As(err, &rerr) {
		fmt.Fprintln(c.stderr, rerr.Error())
		fmt.Fprint(c.stderr, rerr.StackTrace())
		return
	}
	fmt.Fprintf(c.stderr, "kurt: %v\n", err)
}

// serveAPI runs the connect and/or gRPC servers until ctx ends.
func (c *cli) serveAPI(ctx context.Context) int {
	opts := []server.Option{
		server.WithTimeout(c.manifest.Timeout()),
		server.WithVMOptions(c.manifest.VMOptions()...),
	}
	if st := c.openStore(); st != nil {
		opts = append(opts, server.WithStore(st))
	}
	srv := server.New(opts...)

	errc := make(chan error, 2)
	if c.opts.serve != "" {
		go func() { errc <- srv.ListenAndServe(c.opts.serve) }()
	}
	if c.opts.grpcAddr != "" {
		lis, err := net.Listen("tcp", c.opts.grpcAddr)
		if err != nil {
			srv.Stop()
			fmt.Fprintf(c.stderr, "Server error: %v\n", err)
			return exitRuntime
		}
		go func() { errc <- srv.ServeGRPC(lis) }()
	}

	var err error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err = <-errc:
	}
	srv.Stop()
	if err != nil {
		fmt.Fprintf(c.stderr, "Server error: %v\n", err)
		return exitRuntime
	}
	return exitOK
}
