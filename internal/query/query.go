// Package query implements the jq-subset required by spec.md §4.7: path
// access, piping, select, length, arithmetic/comparison, literals, and a
// handful of standard-library functions. It compiles expressions with
// github.com/itchyny/gojq — a real jq engine — and wraps it behind a
// narrow Run API so the rest of the system never imports gojq directly,
// which also lets us reject jq features outside the mandated surface.
package query

import (
	"fmt"
	"regexp"

	"github.com/itchyny/gojq"
)

// allowedBuiltins is the standard-library surface spec.md §4.7 mandates.
// gojq itself supports the full jq language; this package narrows it to
// the mandated subset by rejecting source text that calls an identifier
// outside this set (an identifier followed by an opening paren), since this is explicitly not a
// general-purpose jq engine (spec.md §1 Non-goals).
var allowedBuiltins = map[string]bool{
	"select": true, "length": true, "map": true, "keys": true,
	"contains": true, "startswith": true, "endswith": true, "type": true,
	"not": true, "empty": true, "first": true, "last": true, "has": true,
	"values": true, "add": true, "any": true, "all": true, "sort": true,
	"unique": true, "reverse": true, "min": true, "max": true,
	"tostring": true, "tonumber": true,
}

// disallowedKeywords are jq features explicitly outside the mandated
// subset: user-defined functions, reduce/foreach loops, module imports.
var disallowedKeywords = []string{"def ", "reduce ", "foreach ", "import ", "include "}

var identifierRe = regexp.MustCompile(`\b([a-zA-Z_][a-zA-Z0-9_]*)\s*(?:\(|\b)`)

// grammarWords are jq-language keywords and known builtins not in our subset
// list but that also aren't "a function call we must validate" (they're
// part of the grammar itself or common and harmless enough to allow
// through unchecked, e.g. "if/then/else/end", "and/or").
var grammarWords = map[string]bool{
	"if": true, "then": true, "elif": true, "else": true, "end": true,
	"and": true, "or": true, "as": true, "null": true, "true": true, "false": true,
}

// Query is a compiled jq-subset expression.
type Query struct {
	code *gojq.Code
	src  string
}

// Compile parses and compiles expr, rejecting syntax outside the mandated
// subset before handing it to gojq.
func Compile(expr string) (*Query, error) {
	if bad := disallowedSyntax(expr); bad != "" {
		return nil, fmt.Errorf("query: %q is outside the supported jq subset", bad)
	}
	parsed, err := gojq.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("query: parse error in %q: %w", expr, err)
	}
	code, err := gojq.Compile(parsed)
	if err != nil {
		return nil, fmt.Errorf("query: compile error in %q: %w", expr, err)
	}
	return &Query{code: code, src: expr}, nil
}

func disallowedSyntax(expr string) string {
	for _, kw := range disallowedKeywords {
		if containsWord(expr, kw) {
			return kw
		}
	}
	for _, m := range identifierRe.FindAllStringSubmatch(expr, -1) {
		name := m[1]
		if grammarWords[name] || allowedBuiltins[name] {
			continue
		}
		if looksLikeFunctionCall(expr, m[0], name) {
			return name
		}
	}
	return ""
}

func containsWord(expr, kw string) bool {
	for i := 0; i+len(kw) <= len(expr); i++ {
		if expr[i:i+len(kw)] == kw {
			return true
		}
	}
	return false
}

// looksLikeFunctionCall reports whether the matched identifier is used in
// call position (immediately followed by '(' in the original match) rather
// than as, e.g., an object key or a string fragment.
func looksLikeFunctionCall(expr, match, name string) bool {
	return len(match) > len(name) && match[len(match)-1] == '('
}

// Run evaluates the compiled query against value and returns every output
// in order. Evaluation errors (e.g. indexing a non-indexable) are returned
// as an error, not folded into the output sequence (spec.md §4.7).
func (q *Query) Run(value any) ([]any, error) {
	iter := q.code.Run(value)
	var out []any
	for {
		v, ok := iter.Next()
		if !ok {
			return out, nil
		}
		if err, isErr := v.(error); isErr {
			if he, ok := err.(*gojq.HaltError); ok && he.Value() == nil {
				return out, nil
			}
			return out, fmt.Errorf("query: evaluation error: %w", err)
		}
		out = append(out, v)
	}
}

// RunPath resolves a dot-path-only expression (".a.b[0].c" style, no pipes
// or filters) as a total function into value ∪ {null}: missing paths yield
// nil, never an error (spec.md §8 "jq path access is a total function").
func RunPath(expr string, value any) (any, error) {
	q, err := Compile(expr)
	if err != nil {
		return nil, err
	}
	results, err := q.Run(value)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	return results[0], nil
}

// String returns the original expression text.
func (q *Query) String() string { return q.src }
