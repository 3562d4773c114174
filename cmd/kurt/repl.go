package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/peterh/liner"

	"github.com/chazu/kurt/compiler"
	"github.com/chazu/kurt/pkg/bytecode"
	"github.com/chazu/kurt/vm"
)

const continuationPrompt = "...   "

// repl runs the interactive read-eval-print loop. Ctrl-C while a program
// runs interrupts it; at the prompt it discards the pending input.
func (c *cli) repl() int {
	fmt.Fprintln(c.stdout, "Kurt REPL (type :help for commands, :quit or Ctrl-D to exit)")

	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)
	ln.SetMultiLineMode(true)

	histPath := c.manifest.HistoryPath()
	if histPath != "" {
		if f, err := os.Open(histPath); err == nil {
			ln.ReadHistory(f)
			f.Close()
		}
		defer func() {
			f, err := os.Create(histPath)
			if err != nil {
				log.Warningf("could not save history: %v", err)
				return
			}
			ln.WriteHistory(f)
			f.Close()
		}()
	}

	machine := c.newVM()
	session := vm.NewSession(machine, func(v *vm.VM) { vm.InstallBuiltins(v, c.stdout) })

	prompt := c.manifest.REPL.Prompt
	for {
		src, ok := readFragment(ln, prompt, continuationPrompt)
		if !ok {
			fmt.Fprintln(c.stdout)
			return exitOK
		}
		trimmed := strings.TrimSpace(src)
		if trimmed == "" {
			continue
		}
		ln.AppendHistory(strings.ReplaceAll(src, "\n", " "))

		if strings.HasPrefix(trimmed, ":") && !isSymbolLiteral(trimmed) {
			if quit := c.command(session, trimmed); quit {
				return exitOK
			}
			continue
		}
		c.evalAndPrint(session, src)
	}
}

// readFragment reads lines until the input no longer ends mid-construct.
// It returns false at end of input.
func readFragment(ln *liner.State, prompt, cont string) (string, bool) {
	var b strings.Builder
	for {
		p := prompt
		if b.Len() > 0 {
			p = cont
		}
		line, err := ln.Prompt(p)
		if errors.Is(err, liner.ErrPromptAborted) {
			b.Reset()
			continue
		}
		if err != nil {
			if errors.Is(err, io.EOF) && b.Len() > 0 {
				return b.String(), true
			}
			return "", false
		}

		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
		if !incomplete(b.String()) {
			return b.String(), true
		}
	}
}

// incomplete reports whether src ends inside an open bracket, string or
// block comment, so that more lines should be read before compiling.
func incomplete(src string) bool {
	depth := 0
	for _, tok := range compiler.Tokenize(src) {
		switch tok.Type {
		case compiler.TokenLParen, compiler.TokenLBracket, compiler.TokenLBrace:
			depth++
		case compiler.TokenRParen, compiler.TokenRBracket, compiler.TokenRBrace:
			depth--
		case compiler.TokenError:
			if strings.HasPrefix(tok.Str, "unterminated block comment") {
				return true
			}
		}
	}
	return depth > 0
}

// isSymbolLiteral distinguishes `:name` expressions from REPL commands.
func isSymbolLiteral(s string) bool {
	switch strings.Fields(s)[0] {
	case ":help", ":h", ":?", ":quit", ":q", ":globals", ":reset", ":disasm":
		return false
	}
	return true
}

// command handles a REPL meta-command, reporting whether to exit.
func (c *cli) command(session *vm.Session, line string) bool {
	name, arg, _ := strings.Cut(line, " ")
	switch name {
	case ":help", ":h", ":?":
		fmt.Fprintln(c.stdout, "REPL Commands:")
		fmt.Fprintln(c.stdout, "  :help, :h, :?     Show this help")
		fmt.Fprintln(c.stdout, "  :globals          List defined globals")
		fmt.Fprintln(c.stdout, "  :reset            Drop every global")
		fmt.Fprintln(c.stdout, "  :disasm <source>  Show the bytecode for source")
		fmt.Fprintln(c.stdout, "  :quit, :q         Exit REPL")
	case ":quit", ":q":
		return true
	case ":globals":
		fmt.Fprintln(c.stdout, strings.Join(session.Globals(), " "))
	case ":reset":
		session.Reset()
		fmt.Fprintln(c.stdout, "globals cleared")
	case ":disasm":
		prog, err := session.Compile(arg)
		if err != nil {
			c.reportError(arg, err)
			return false
		}
		fmt.Fprint(c.stdout, bytecode.Disassemble(prog))
	}
	return false
}

// evalAndPrint runs one fragment, printing its result or error.
func (c *cli) evalAndPrint(session *vm.Session, src string) {
	machine := session.VM()
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt)
	done := make(chan struct{})
	go func() {
		select {
		case <-sigc:
			machine.Interrupt()
		case <-done:
		}
	}()

	v, err := session.Eval(context.Background(), src)
	close(done)
	signal.Stop(sigc)

	if err != nil {
		c.reportError(src, err)
		return
	}
	if !v.IsNil() {
		fmt.Fprintln(c.stdout, v.String())
	}
}

func (c *cli) reportError(src string, err error) {
	var diags compiler.Diagnostics
	if errors.As(err, &diags) {
		c.reportDiagnostics(src, diags)
		return
	}
	c.reportRuntimeError(err)
}
