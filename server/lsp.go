package server

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/chazu/kurt/compiler"
	"github.com/chazu/kurt/pkg/source"
	"github.com/chazu/kurt/vm"

	_ "github.com/tliron/commonlog/simple"
)

const lspName = "kurt-lsp"

var lspLog = commonlog.GetLogger("kurt.lsp")

// LspServer provides diagnostics, completion, hover and go-to-definition
// for Kurt documents. It works on source text only and never runs code.
type LspServer struct {
	mu   sync.Mutex
	docs map[string]string // URI → full document content

	handler protocol.Handler
	server  *glspserver.Server
	version string
	notify  func(method string, params any) // replaced in tests
}

// NewLSP creates a new LSP server.
func NewLSP() *LspServer {
	s := &LspServer{
		docs:    make(map[string]string),
		version: "0.1.0",
	}

	s.handler = protocol.Handler{
		Initialize:  s.initialize,
		Initialized: s.initialized,
		Shutdown:    s.shutdown,
		SetTrace:    s.setTrace,

		TextDocumentDidOpen:   s.textDocumentDidOpen,
		TextDocumentDidChange: s.textDocumentDidChange,
		TextDocumentDidClose:  s.textDocumentDidClose,

		TextDocumentCompletion: s.textDocumentCompletion,
		TextDocumentHover:      s.textDocumentHover,
		TextDocumentDefinition: s.textDocumentDefinition,
	}

	s.server = glspserver.NewServer(&s.handler, lspName, false)
	return s
}

// RunStdio starts the LSP server on stdio. Blocks until the client
// disconnects.
func (s *LspServer) RunStdio() error {
	return s.server.RunStdio()
}

// --- LSP lifecycle handlers ---

func (s *LspServer) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	lspLog.Info("Kurt LSP initializing")

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
	}
	capabilities.CompletionProvider = &protocol.CompletionOptions{}
	capabilities.HoverProvider = true
	capabilities.DefinitionProvider = true

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    lspName,
			Version: &s.version,
		},
	}, nil
}

func (s *LspServer) initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	return nil
}

func (s *LspServer) shutdown(ctx *glsp.Context) error {
	protocol.SetTraceValue(protocol.TraceValueOff)
	return nil
}

func (s *LspServer) setTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	protocol.SetTraceValue(params.Value)
	return nil
}

// --- Document synchronization ---

func (s *LspServer) sender(ctx *glsp.Context) func(string, any) {
	if s.notify != nil {
		return s.notify
	}
	return func(method string, params any) { go ctx.Notify(method, params) }
}

func (s *LspServer) textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	uri := params.TextDocument.URI
	text := params.TextDocument.Text

	s.mu.Lock()
	s.docs[string(uri)] = text
	s.mu.Unlock()

	s.publishDiagnostics(s.sender(ctx), uri, text)
	return nil
}

func (s *LspServer) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	uri := params.TextDocument.URI

	// With Full sync, the last change event contains the full text
	if len(params.ContentChanges) > 0 {
		last := params.ContentChanges[len(params.ContentChanges)-1]
		if whole, ok := last.(protocol.TextDocumentContentChangeEventWhole); ok {
			s.mu.Lock()
			s.docs[string(uri)] = whole.Text
			s.mu.Unlock()

			s.publishDiagnostics(s.sender(ctx), uri, whole.Text)
		}
	}
	return nil
}

func (s *LspServer) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI

	s.mu.Lock()
	delete(s.docs, string(uri))
	s.mu.Unlock()

	// Clear diagnostics for the closed document
	s.sender(ctx)(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: []protocol.Diagnostic{},
	})
	return nil
}

func (s *LspServer) document(uri protocol.DocumentUri) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	text, ok := s.docs[string(uri)]
	return text, ok
}

// --- Language features ---

func (s *LspServer) textDocumentCompletion(ctx *glsp.Context, params *protocol.CompletionParams) (any, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}
	prefix := extractPrefix(text, params.Position)
	if prefix == "" {
		return nil, nil
	}
	return complete(text, prefix), nil
}

func (s *LspServer) textDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}
	word := extractWord(text, params.Position)
	if word == "" {
		return nil, nil
	}
	return hover(text, word), nil
}

func (s *LspServer) textDocumentDefinition(ctx *glsp.Context, params *protocol.DefinitionParams) (any, error) {
	uri := params.TextDocument.URI
	text, ok := s.document(uri)
	if !ok {
		return nil, nil
	}
	word := extractWord(text, params.Position)
	if word == "" {
		return nil, nil
	}
	b, ok := definition(text, word, params.Position)
	if !ok {
		return nil, nil
	}
	return []protocol.Location{{URI: uri, Range: toRange(b.span)}}, nil
}

// --- Source-backed logic ---

// binding is a name introduced by let or as a parameter.
type binding struct {
	name  string
	span  source.Span
	param bool
	fn    *compiler.FuncLit // set when the bound value is a function literal
}

// bindings lists every let and parameter of the document in source order.
// Documents with syntax errors still yield the bindings the parser
// recovered.
func bindings(text string) []binding {
	prog, _ := compiler.ParseString(text)
	if prog == nil {
		return nil
	}
	var out []binding
	compiler.Inspect(prog, func(n compiler.Node) bool {
		switch n := n.(type) {
		case *compiler.LetStmt:
			b := binding{name: n.Name, span: n.NameSpan}
			b.fn, _ = n.Value.(*compiler.FuncLit)
			out = append(out, b)
		case *compiler.FuncLit:
			for i, p := range n.Params {
				out = append(out, binding{name: p, span: n.ParamSpans[i], param: true})
			}
		}
		return true
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].span.Start.Offset < out[j].span.Start.Offset })
	return out
}

func complete(text, prefix string) []protocol.CompletionItem {
	var items []protocol.CompletionItem
	seen := map[string]bool{}
	add := func(label, detail string, kind protocol.CompletionItemKind) {
		if seen[label] || !strings.HasPrefix(label, prefix) {
			return
		}
		seen[label] = true
		items = append(items, protocol.CompletionItem{
			Label:      label,
			Kind:       &kind,
			Detail:     &detail,
			InsertText: &label,
		})
	}

	for _, b := range bindings(text) {
		switch {
		case b.fn != nil:
			add(b.name, signature(b.name, b.fn), protocol.CompletionItemKindFunction)
		case b.param:
			add(b.name, "parameter", protocol.CompletionItemKindVariable)
		default:
			add(b.name, "let", protocol.CompletionItemKindVariable)
		}
	}
	for _, name := range vm.BuiltinNames() {
		add(name, "native", protocol.CompletionItemKindFunction)
	}
	for _, kw := range compiler.Keywords() {
		add(kw, "keyword", protocol.CompletionItemKindKeyword)
	}

	// Limit results
	const maxItems = 100
	if len(items) > maxItems {
		items = items[:maxItems]
	}
	return items
}

func signature(name string, fn *compiler.FuncLit) string {
	return fmt.Sprintf("%s(%s)", name, strings.Join(fn.Params, ", "))
}

func hover(text, word string) *protocol.Hover {
	var value string
	for _, b := range bindings(text) {
		if b.name != word {
			continue
		}
		switch {
		case b.fn != nil:
			value = fmt.Sprintf("**%s**\n\nfunction defined at line %d", signature(b.name, b.fn), b.span.Start.Line)
		case b.param:
			value = fmt.Sprintf("**%s**\n\nparameter (line %d)", b.name, b.span.Start.Line)
		default:
			value = fmt.Sprintf("**%s**\n\nlet binding at line %d", b.name, b.span.Start.Line)
		}
		break
	}
	if value == "" {
		for _, name := range vm.BuiltinNames() {
			if name == word {
				value = fmt.Sprintf("**%s**\n\nbuilt-in native function", name)
			}
		}
	}
	if value == "" {
		for _, kw := range compiler.Keywords() {
			if kw == word {
				value = fmt.Sprintf("**%s**\n\nkeyword", kw)
			}
		}
	}
	if value == "" {
		return nil
	}
	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: value,
		},
	}
}

// definition finds the nearest binding of word that starts before the
// cursor, falling back to the first binding after it.
func definition(text, word string, pos protocol.Position) (binding, bool) {
	var best binding
	found := false
	for _, b := range bindings(text) {
		if b.name != word {
			continue
		}
		start := toPosition(b.span.Start)
		before := start.Line < pos.Line || (start.Line == pos.Line && start.Character <= pos.Character)
		if before || !found {
			best, found = b, true
		}
		if !before {
			break
		}
	}
	return best, found
}

// --- Diagnostics ---

// collectDiagnostics converts compiler diagnostics and analyzer warnings
// into LSP diagnostics.
func collectDiagnostics(text string) []protocol.Diagnostic {
	diagnostics := []protocol.Diagnostic{}
	src := lspName

	newDiag := func(span source.Span, sev protocol.DiagnosticSeverity, msg string) protocol.Diagnostic {
		return protocol.Diagnostic{
			Range:    toRange(span),
			Severity: &sev,
			Source:   &src,
			Message:  msg,
		}
	}

	prog, diags := compiler.ParseString(text)
	if !diags.HasErrors() {
		_, diags = compiler.CompileProgram(prog)
	}
	for _, d := range diags {
		diagnostics = append(diagnostics, newDiag(d.Span, protocol.DiagnosticSeverityError, fmt.Sprintf("%s: %s", d.Kind, d.Message)))
	}
	if !diags.HasErrors() {
		for _, w := range compiler.Analyze(prog, vm.BuiltinNames()) {
			diagnostics = append(diagnostics, newDiag(w.Span, protocol.DiagnosticSeverityWarning, w.Message))
		}
	}
	return diagnostics
}

func (s *LspServer) publishDiagnostics(notify func(string, any), uri protocol.DocumentUri, text string) {
	diagnostics := collectDiagnostics(text)
	lspLog.Debugf("%s: %d diagnostics", uri, len(diagnostics))
	notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: diagnostics,
	})
}

// --- Position conversion ---

// toPosition converts a 1-based line and column to LSP's 0-based position.
// Columns count bytes, which matches UTF-16 units for ASCII source.
func toPosition(p source.Position) protocol.Position {
	line, col := p.Line-1, p.Column-1
	if line < 0 {
		line = 0
	}
	if col < 0 {
		col = 0
	}
	return protocol.Position{Line: protocol.UInteger(line), Character: protocol.UInteger(col)}
}

func toRange(span source.Span) protocol.Range {
	start := toPosition(span.Start)
	end := start
	if span.End.Line > 0 {
		end = toPosition(span.End)
	}
	if end == start {
		end.Character++
	}
	return protocol.Range{Start: start, End: end}
}

// --- Text extraction helpers ---

func isWordChar(ch rune) bool {
	return unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_'
}

// extractPrefix returns the word fragment before the cursor for completion.
func extractPrefix(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := lines[pos.Line]
	col := min(int(pos.Character), len(line))

	// Walk backwards from cursor to find the start of the identifier
	start := col
	for start > 0 && isWordChar(rune(line[start-1])) {
		start--
	}
	return line[start:col]
}

// extractWord returns the full identifier under the cursor.
func extractWord(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := lines[pos.Line]
	col := min(int(pos.Character), len(line))

	start := col
	for start > 0 && isWordChar(rune(line[start-1])) {
		start--
	}
	end := col
	for end < len(line) && isWordChar(rune(line[end])) {
		end++
	}
	return line[start:end]
}

func boolPtr(b bool) *bool {
	return &b
}
