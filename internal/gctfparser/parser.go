// Package gctfparser turns .gctf source text into an ast.Document with
// section-level diagnostics and error recovery (spec.md §4.1). It is pure
// and deterministic: same bytes in, same Document out, no side effects —
// mirroring the way the teacher's protoparse.Parser turns .proto source
// into descriptors without touching the network or filesystem beyond the
// files it's explicitly given.
package gctfparser

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gripmock/grpctestify/internal/ast"
	"github.com/gripmock/grpctestify/internal/diagnostics"
)

var headerRe = regexp.MustCompile(`^---\s*([A-Z][A-Z_]*)(\s+.*?)?\s*---$`)

var knownSections = map[string]ast.SectionType{
	"ADDRESS":         ast.Address,
	"ENDPOINT":        ast.Endpoint,
	"REQUEST":         ast.Request,
	"RESPONSE":        ast.Response,
	"ERROR":           ast.Error,
	"REQUEST_HEADERS": ast.RequestHeaders,
	"HEADERS":         ast.RequestHeaders, // deprecated alias
	"ASSERTS":         ast.Asserts,
	"PROTO":           ast.Proto,
	"TLS":             ast.Tls,
	"OPTIONS":         ast.Options,
	"EXTRACT":         ast.Extract,
}

// ParseError is returned by Parse (the strict entry point) on the first
// unrecoverable failure; it carries the offending line range.
type ParseError struct {
	Range   ast.LineRange
	Code    string
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s (lines %d-%d): %s", e.Code, e.Range.Start, e.Range.End, e.Message)
}

// rawSection is a header match plus its raw body lines, before content dispatch.
type rawSection struct {
	typeName    string
	inlineOpts  string
	headerLine  int
	bodyStart   int
	bodyEnd     int // inclusive
	bodyLines   []string
}

// splitRaw scans source lines into header/body chunks. It never fails: an
// unrecognized header line is just treated as part of the current section's
// body (or dropped if no section has started yet), and failures surface
// later as typed diagnostics from the caller.
func splitRaw(lines []string) []rawSection {
	var out []rawSection
	var cur *rawSection
	flush := func(endLine int) {
		if cur != nil {
			cur.bodyEnd = endLine
			out = append(out, *cur)
			cur = nil
		}
	}
	for i, line := range lines {
		lineNo := i + 1
		if m := headerRe.FindStringSubmatch(strings.TrimRight(line, "\r")); m != nil {
			flush(lineNo - 1)
			cur = &rawSection{
				typeName:   m[1],
				inlineOpts: strings.TrimSpace(m[2]),
				headerLine: lineNo,
				bodyStart:  lineNo + 1,
			}
			continue
		}
		if cur != nil {
			cur.bodyLines = append(cur.bodyLines, line)
		}
	}
	flush(len(lines))
	return out
}

// Parse is the strict entry point: it fails on the first per-section error.
func Parse(filename, source string) (*ast.Document, error) {
	doc, bag := parseRecover(filename, source)
	for _, d := range bag.Items {
		if d.Severity == diagnostics.SeverityError {
			return nil, &ParseError{Range: d.Range, Code: d.Code, Message: d.Message}
		}
	}
	return doc, nil
}

// RecoverResult is the output of the error-recovery entry point.
type RecoverResult struct {
	Document      *ast.Document
	Diagnostics   []diagnostics.Diagnostic
	Recovered     int
	Failed        int
}

// ParseWithRecovery never returns a Go error: on any per-section failure it
// emits a diagnostic, discards the broken section, and resumes at the next
// header line.
func ParseWithRecovery(filename, source string) RecoverResult {
	doc, bag := parseRecover(filename, source)
	recovered, failed := 0, 0
	for _, d := range bag.Items {
		if d.Severity == diagnostics.SeverityError {
			failed++
		}
	}
	recovered = failed // every failure that reached here was discarded, i.e. "recovered from"
	return RecoverResult{Document: doc, Diagnostics: bag.Items, Recovered: recovered, Failed: failed}
}

func parseRecover(filename, source string) (*ast.Document, *diagnostics.Bag) {
	bag := &diagnostics.Bag{}
	lines := strings.Split(source, "\n")
	raws := splitRaw(lines)

	doc := &ast.Document{
		Meta: ast.Metadata{
			SourcePath: filename,
			SourceText: source,
			ParsedAt:   time.Now(),
		},
	}

	for idx, raw := range raws {
		st, known := knownSections[raw.typeName]
		rng := ast.LineRange{Start: raw.headerLine, End: raw.bodyEnd}
		if !known {
			bag.Warnf(filename, rng, diagnostics.CodeUnknownSectionType,
				"unknown section type %q", raw.typeName)
			continue
		}
		if raw.typeName == "HEADERS" {
			bag.Add(diagnostics.Diagnostic{
				File: filename, Range: rng, Code: diagnostics.CodeDeprecatedSection,
				Severity: diagnostics.SeverityWarning,
				Message:  "--- HEADERS --- is deprecated; use --- REQUEST_HEADERS ---",
				Hint:     "rename to REQUEST_HEADERS",
				Fix:      &diagnostics.QuickFix{Title: "Rename to REQUEST_HEADERS", Replacement: "REQUEST_HEADERS"},
			})
		}

		opts, optsOK := parseInlineOptions(raw.inlineOpts)
		if raw.inlineOpts != "" && st != ast.Response {
			bag.Warnf(filename, rng, diagnostics.CodeInvalidSyntax,
				"inline options are only meaningful on RESPONSE sections")
		}
		if raw.inlineOpts != "" && !optsOK {
			bag.Warnf(filename, rng, diagnostics.CodeInvalidSyntax, "malformed inline options %q", raw.inlineOpts)
		}

		body := strings.Join(raw.bodyLines, "\n")
		content, cerr := dispatchBody(st, body)
		if cerr != nil {
			bag.Add(diagnostics.Diagnostic{
				File: filename, Range: rng, Code: cerr.code,
				Severity: diagnostics.SeverityError, Message: cerr.msg,
			})
			continue
		}

		doc.Sections = append(doc.Sections, ast.Section{
			Type:    st,
			Options: opts,
			Content: content,
			Raw:     body,
			Range:   rng,
		})
		_ = idx
	}

	return doc, bag
}

type contentError struct {
	code string
	msg  string
}

func dispatchBody(t ast.SectionType, body string) (ast.Content, *contentError) {
	switch t {
	case ast.Address, ast.Endpoint:
		trimmed := strings.TrimSpace(body)
		if trimmed == "" {
			return ast.EmptyContent{}, nil
		}
		return ast.StringContent(trimmed), nil

	case ast.Request, ast.Error:
		trimmed := strings.TrimSpace(body)
		if trimmed == "" {
			return ast.EmptyContent{}, nil
		}
		v, err := parseJSON5Value(body)
		if err != nil {
			return nil, &contentError{diagnostics.CodeJSONParseError, fmt.Sprintf("invalid JSON in section body: %v", err)}
		}
		return ast.JSONContent{Value: v}, nil

	case ast.Response:
		return dispatchResponseBody(body)

	case ast.RequestHeaders, ast.Tls, ast.Proto, ast.Options:
		return parseKeyValues(body), nil

	case ast.Extract:
		return parseExtract(body), nil

	case ast.Asserts:
		return parseAsserts(body), nil
	}
	return ast.EmptyContent{}, nil
}

func dispatchResponseBody(body string) (ast.Content, *contentError) {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return ast.EmptyContent{}, nil
	}
	if v, err := parseJSON5Value(body); err == nil {
		return ast.JSONContent{Value: v}, nil
	} else if linesAreJSONLines(body) {
		var values []any
		for _, line := range nonEmptyLines(body) {
			v, lerr := parseJSON5Value(line)
			if lerr != nil {
				// should not happen: linesAreJSONLines already validated each line
				return nil, &contentError{diagnostics.CodeJSONParseError, lerr.Error()}
			}
			values = append(values, v)
		}
		if len(values) == 0 {
			return nil, &contentError{diagnostics.CodeJSONParseError, "RESPONSE section with JSON-lines body must contain at least one message"}
		}
		return ast.JSONLinesContent{Values: values}, nil
	} else {
		return nil, &contentError{diagnostics.CodeJSONParseError, fmt.Sprintf("invalid JSON in RESPONSE section body: %v", err)}
	}
}

func linesAreJSONLines(body string) bool {
	lines := nonEmptyLines(body)
	if len(lines) == 0 {
		return false
	}
	for _, line := range lines {
		if _, err := parseJSON5Value(line); err != nil {
			return false
		}
	}
	return true
}

func nonEmptyLines(body string) []string {
	var out []string
	for _, l := range strings.Split(body, "\n") {
		if strings.TrimSpace(l) == "" {
			continue
		}
		out = append(out, l)
	}
	return out
}

var kvLineRe = regexp.MustCompile(`^\s*([^:#]+?)\s*:\s*(.*?)\s*$`)

func parseKeyValues(body string) ast.Content {
	values := map[string]string{}
	var keys []string
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		m := kvLineRe.FindStringSubmatch(line)
		if m == nil {
			// unparseable line: skipped without a diagnostic; the rest of the section still parses
			continue
		}
		k, v := m[1], m[2]
		if _, exists := values[k]; !exists {
			keys = append(keys, k)
		}
		values[k] = v
	}
	if len(values) == 0 {
		return ast.EmptyContent{}
	}
	sort.Strings(keys)
	return ast.KeyValuesContent{Keys: keys, Values: values}
}

var extractLineRe = regexp.MustCompile(`^\s*([A-Za-z_][A-Za-z0-9_]*)\s*=\s*(.+?)\s*$`)

func parseExtract(body string) ast.Content {
	var entries []ast.ExtractEntry
	for _, line := range strings.Split(body, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		m := extractLineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		entries = append(entries, ast.ExtractEntry{Name: m[1], Expression: m[2]})
	}
	if len(entries) == 0 {
		return ast.EmptyContent{}
	}
	return ast.ExtractContent{Entries: entries}
}

var regexLiteralRe = regexp.MustCompile(`/((?:\\.|[^/\\])*)/`)

// normalizeRegexLiterals rewrites a `/pattern/` token outside of string
// literals to the JSON string "pattern" (spec.md §4.1 "regex-literal
// normalization"), so the assertion engine always sees a string argument.
func normalizeRegexLiterals(line string) string {
	var out strings.Builder
	inString := false
	var quote byte
	i := 0
	for i < len(line) {
		c := line[i]
		if inString {
			out.WriteByte(c)
			if c == '\\' && i+1 < len(line) {
				out.WriteByte(line[i+1])
				i += 2
				continue
			}
			if c == quote {
				inString = false
			}
			i++
			continue
		}
		if c == '"' || c == '\'' {
			inString = true
			quote = c
			out.WriteByte(c)
			i++
			continue
		}
		if c == '/' {
			rest := line[i:]
			if m := regexLiteralRe.FindStringSubmatch(rest); m != nil && strings.HasPrefix(rest, m[0]) {
				out.WriteString(strconv.Quote(m[1]))
				i += len(m[0])
				continue
			}
		}
		out.WriteByte(c)
		i++
	}
	return out.String()
}

func parseAsserts(body string) ast.Content {
	var lines []string
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		lines = append(lines, normalizeRegexLiterals(trimmed))
	}
	if len(lines) == 0 {
		return ast.EmptyContent{}
	}
	return ast.AssertsContent{Lines: lines}
}

// parseInlineOptions tokenizes a whitespace-separated key=value list with
// quote-aware tokenization: double-quoted values may contain spaces,
// backslash escapes the next character (spec.md §4.1).
func parseInlineOptions(raw string) (ast.ResponseOptions, bool) {
	var opts ast.ResponseOptions
	if raw == "" {
		return opts, true
	}
	tokens, ok := tokenizeOptions(raw)
	if !ok {
		return opts, false
	}
	for _, tok := range tokens {
		k, v, found := strings.Cut(tok, "=")
		if !found {
			continue
		}
		switch k {
		case "with_asserts":
			opts.WithAsserts = v == "true"
		case "partial":
			opts.Partial = v == "true"
		case "unordered_arrays":
			opts.UnorderedArrays = v == "true"
		case "tolerance":
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				opts.Tolerance = &f
			}
		case "redact":
			opts.Redact = splitRedactList(v)
		}
	}
	return opts, true
}

func splitRedactList(v string) []string {
	v = strings.Trim(v, "[]")
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		p = strings.Trim(p, `"'`)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func tokenizeOptions(raw string) ([]string, bool) {
	var tokens []string
	var cur strings.Builder
	inQuote := false
	escaped := false
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if escaped {
			cur.WriteByte(c)
			escaped = false
			continue
		}
		switch {
		case c == '\\':
			escaped = true
		case c == '"':
			inQuote = !inQuote
		case c == ' ' && !inQuote:
			flush()
		default:
			cur.WriteByte(c)
		}
	}
	if inQuote {
		flush()
		return tokens, false
	}
	flush()
	return tokens, true
}
