// Package lspserver implements a Language Server Protocol front end over
// .gctf documents: diagnostics on open/change/save, document formatting, and
// document symbols. Grounded on the jsonrpc2.Handler/lsp.* dispatch pattern
// (method switch in handle, typed param structs per method) used by the
// pack's own LSP implementation for another domain-specific language.
package lspserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/sourcegraph/go-lsp"
	"github.com/sourcegraph/jsonrpc2"
	"go.uber.org/zap"

	"github.com/gripmock/grpctestify/internal/ast"
	"github.com/gripmock/grpctestify/internal/diagnostics"
	"github.com/gripmock/grpctestify/internal/gctffmt"
	"github.com/gripmock/grpctestify/internal/gctfparser"
	"github.com/gripmock/grpctestify/internal/validate"
)

// doc is the server's in-memory view of one open .gctf file.
type doc struct {
	text    string
	version int
}

// Handler implements jsonrpc2.Handler for .gctf documents.
type Handler struct {
	conn   *jsonrpc2.Conn
	log    *zap.Logger
	mu     sync.Mutex
	docs   map[string]*doc
	envVar string
}

// NewHandler builds a Handler. envVar names the environment variable the
// validator accepts as an ADDRESS fallback (e.g. "GRPCTESTIFY_ADDRESS").
func NewHandler(log *zap.Logger, envVar string) *Handler {
	return &Handler{log: log, docs: map[string]*doc{}, envVar: envVar}
}

// Handle dispatches one jsonrpc2 request or notification.
func (h *Handler) Handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	h.conn = conn
	result, err := h.dispatch(ctx, req.Method, req.Params)
	if req.Notif {
		if err != nil {
			h.log.Warn("notification handler failed", zap.String("method", req.Method), zap.Error(err))
		}
		return
	}
	if err != nil {
		jsonErr, ok := err.(*jsonrpc2.Error)
		if !ok {
			jsonErr = &jsonrpc2.Error{Code: jsonrpc2.CodeInternalError, Message: err.Error()}
		}
		if replyErr := conn.ReplyWithError(ctx, req.ID, jsonErr); replyErr != nil {
			h.log.Error("failed to send error reply", zap.Error(replyErr))
		}
		return
	}
	if err := conn.Reply(ctx, req.ID, result); err != nil {
		h.log.Error("failed to send reply", zap.Error(err))
	}
}

func (h *Handler) dispatch(ctx context.Context, method string, params *json.RawMessage) (any, error) {
	switch method {
	case "initialize":
		return h.initialize()
	case "initialized", "shutdown":
		return nil, nil
	case "exit":
		if h.conn != nil {
			return nil, h.conn.Close()
		}
		return nil, nil
	case "textDocument/didOpen":
		var p lsp.DidOpenTextDocumentParams
		if err := json.Unmarshal(*params, &p); err != nil {
			return nil, invalidParams(err)
		}
		h.open(ctx, string(p.TextDocument.URI), p.TextDocument.Text, p.TextDocument.Version)
		return nil, nil
	case "textDocument/didChange":
		var p lsp.DidChangeTextDocumentParams
		if err := json.Unmarshal(*params, &p); err != nil {
			return nil, invalidParams(err)
		}
		if len(p.ContentChanges) == 0 {
			return nil, nil
		}
		h.open(ctx, string(p.TextDocument.URI), p.ContentChanges[len(p.ContentChanges)-1].Text, p.TextDocument.Version)
		return nil, nil
	case "textDocument/didSave":
		var p lsp.DidSaveTextDocumentParams
		if err := json.Unmarshal(*params, &p); err != nil {
			return nil, invalidParams(err)
		}
		h.publishDiagnostics(ctx, string(p.TextDocument.URI))
		return nil, nil
	case "textDocument/didClose":
		var p lsp.DidCloseTextDocumentParams
		if err := json.Unmarshal(*params, &p); err != nil {
			return nil, invalidParams(err)
		}
		h.mu.Lock()
		delete(h.docs, string(p.TextDocument.URI))
		h.mu.Unlock()
		return nil, nil
	case "textDocument/formatting":
		var p lsp.DocumentFormattingParams
		if err := json.Unmarshal(*params, &p); err != nil {
			return nil, invalidParams(err)
		}
		return h.formatting(string(p.TextDocument.URI))
	case "textDocument/documentSymbol":
		var p lsp.DocumentSymbolParams
		if err := json.Unmarshal(*params, &p); err != nil {
			return nil, invalidParams(err)
		}
		return h.symbols(string(p.TextDocument.URI))
	default:
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeMethodNotFound, Message: method}
	}
}

func invalidParams(err error) *jsonrpc2.Error {
	return &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: err.Error()}
}

func (h *Handler) initialize() (*lsp.InitializeResult, error) {
	full := lsp.TDSKFull
	return &lsp.InitializeResult{
		Capabilities: lsp.ServerCapabilities{
			TextDocumentSync: &lsp.TextDocumentSyncOptionsOrKind{
				Options: &lsp.TextDocumentSyncOptions{OpenClose: true, Change: full},
			},
			DocumentFormattingProvider: true,
			DocumentSymbolProvider:     true,
		},
	}, nil
}

func (h *Handler) open(ctx context.Context, uri, text string, version int) {
	h.mu.Lock()
	h.docs[uri] = &doc{text: text, version: version}
	h.mu.Unlock()
	h.publishDiagnostics(ctx, uri)
}

func (h *Handler) getText(uri string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	d, ok := h.docs[uri]
	if !ok {
		return "", false
	}
	return d.text, true
}

// publishDiagnostics re-parses and re-validates uri, pushing a
// textDocument/publishDiagnostics notification (empty Diagnostics clears
// stale markers, per LSP convention).
func (h *Handler) publishDiagnostics(ctx context.Context, uri string) {
	text, ok := h.getText(uri)
	if !ok {
		return
	}
	res := gctfparser.ParseWithRecovery(fromURI(uri), text)
	items := res.Diagnostics
	if res.Document != nil {
		items = append(items, validate.Diagnose(res.Document, validate.Options{EnvAddressVar: h.envVar})...)
	}
	if h.conn == nil {
		return
	}
	params := lsp.PublishDiagnosticsParams{URI: lsp.DocumentURI(uri), Diagnostics: toLSPDiagnostics(items)}
	if err := h.conn.Notify(ctx, "textDocument/publishDiagnostics", params); err != nil {
		h.log.Warn("failed to publish diagnostics", zap.Error(err))
	}
}

func toLSPDiagnostics(items []diagnostics.Diagnostic) []lsp.Diagnostic {
	out := make([]lsp.Diagnostic, 0, len(items))
	for _, d := range items {
		out = append(out, lsp.Diagnostic{
			Range:    lineRangeToLSP(d.Range),
			Severity: severityToLSP(d.Severity),
			Code:     d.Code,
			Source:   "grpctestify",
			Message:  d.Message,
		})
	}
	return out
}

func lineRangeToLSP(r ast.LineRange) lsp.Range {
	start := r.Start - 1
	end := r.End - 1
	if start < 0 {
		start = 0
	}
	if end < start {
		end = start
	}
	return lsp.Range{
		Start: lsp.Position{Line: start, Character: 0},
		End:   lsp.Position{Line: end, Character: 1 << 20},
	}
}

func severityToLSP(s diagnostics.Severity) lsp.DiagnosticSeverity {
	switch s {
	case diagnostics.SeverityError:
		return lsp.Error
	case diagnostics.SeverityWarning:
		return lsp.Warning
	case diagnostics.SeverityInfo:
		return lsp.Information
	default:
		return lsp.Hint
	}
}

func (h *Handler) formatting(uri string) ([]lsp.TextEdit, error) {
	text, ok := h.getText(uri)
	if !ok {
		return nil, fmt.Errorf("document not open: %s", uri)
	}
	doc, err := gctfparser.Parse(fromURI(uri), text)
	if err != nil {
		return nil, err
	}
	formatted, err := gctffmt.Format(doc)
	if err != nil {
		return nil, err
	}
	if formatted == text {
		return nil, nil
	}
	lineCount := strings.Count(text, "\n") + 1
	return []lsp.TextEdit{{
		Range: lsp.Range{
			Start: lsp.Position{Line: 0, Character: 0},
			End:   lsp.Position{Line: lineCount, Character: 0},
		},
		NewText: formatted,
	}}, nil
}

func (h *Handler) symbols(uri string) ([]lsp.SymbolInformation, error) {
	text, ok := h.getText(uri)
	if !ok {
		return nil, fmt.Errorf("document not open: %s", uri)
	}
	doc, err := gctfparser.Parse(fromURI(uri), text)
	if err != nil {
		return nil, err
	}
	out := make([]lsp.SymbolInformation, 0, len(doc.Sections))
	for _, s := range doc.Sections {
		out = append(out, lsp.SymbolInformation{
			Name: s.Type.String(),
			Kind: lsp.SKField,
			Location: lsp.Location{
				URI:   lsp.DocumentURI(uri),
				Range: lineRangeToLSP(s.Range),
			},
		})
	}
	return out, nil
}

func fromURI(uri string) string {
	return strings.TrimPrefix(uri, "file://")
}
