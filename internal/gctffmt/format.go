// Package gctffmt is the canonical .gctf pretty-printer (spec.md §4.9): an
// idempotent serializer such that parse ∘ serialize ∘ parse == parse,
// mirroring the shape of the teacher's own Formatter func type in format.go
// (a pure proto.Message -> string transform), generalized to a whole
// Document -> string transform.
package gctffmt

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/gripmock/grpctestify/internal/ast"
)

// Format renders doc as canonical .gctf source text. Section order is
// preserved; inline options are only re-emitted on RESPONSE sections.
func Format(doc *ast.Document) (string, error) {
	var b strings.Builder
	for _, s := range doc.Sections {
		header, err := formatHeader(s)
		if err != nil {
			return "", err
		}
		b.WriteString(header)
		b.WriteString("\n")
		body, err := formatBody(s)
		if err != nil {
			return "", err
		}
		if body != "" {
			b.WriteString(body)
			if !strings.HasSuffix(body, "\n") {
				b.WriteString("\n")
			}
		}
	}
	out := b.String()
	if !strings.HasSuffix(out, "\n") {
		out += "\n"
	}
	return out, nil
}

func formatHeader(s ast.Section) (string, error) {
	if s.Type == ast.Response {
		opts := formatInlineOptions(s.Options)
		if opts != "" {
			return fmt.Sprintf("--- %s %s ---", s.Type, opts), nil
		}
	}
	return fmt.Sprintf("--- %s ---", s.Type), nil
}

func formatInlineOptions(o ast.ResponseOptions) string {
	var parts []string
	if o.WithAsserts {
		parts = append(parts, "with_asserts=true")
	}
	if o.Partial {
		parts = append(parts, "partial=true")
	}
	if o.Tolerance != nil {
		parts = append(parts, fmt.Sprintf("tolerance=%g", *o.Tolerance))
	}
	if o.UnorderedArrays {
		parts = append(parts, "unordered_arrays=true")
	}
	if len(o.Redact) > 0 {
		parts = append(parts, fmt.Sprintf("redact=[%s]", strings.Join(o.Redact, ",")))
	}
	return strings.Join(parts, " ")
}

func formatBody(s ast.Section) (string, error) {
	switch c := s.Content.(type) {
	case ast.EmptyContent:
		return "", nil
	case ast.StringContent:
		return string(c), nil
	case ast.JSONContent:
		pretty, err := prettyJSON(c.Value)
		if err != nil {
			// Fall back to preserved raw text when the value can't be
			// re-serialized (rare JSON5-with-comments inputs).
			return s.Raw, nil
		}
		return pretty, nil
	case ast.JSONLinesContent:
		var lines []string
		for _, v := range c.Values {
			compact, err := compactJSON(v)
			if err != nil {
				return s.Raw, nil
			}
			lines = append(lines, compact)
		}
		return strings.Join(lines, "\n"), nil
	case ast.KeyValuesContent:
		keys := append([]string(nil), c.Keys...)
		sort.Strings(keys)
		var lines []string
		for _, k := range keys {
			lines = append(lines, fmt.Sprintf("%s: %s", k, c.Values[k]))
		}
		return strings.Join(lines, "\n"), nil
	case ast.ExtractContent:
		entries := append([]ast.ExtractEntry(nil), c.Entries...)
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
		var lines []string
		for _, e := range entries {
			lines = append(lines, fmt.Sprintf("%s = %s", e.Name, e.Expression))
		}
		return strings.Join(lines, "\n"), nil
	case ast.AssertsContent:
		return strings.Join(c.Lines, "\n"), nil
	default:
		return "", fmt.Errorf("gctffmt: unknown content type %T", c)
	}
}

func prettyJSON(v any) (string, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func compactJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
