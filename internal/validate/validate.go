// Package validate implements the structural rules of spec.md §4.2 in two
// modes: a hard form that fails on the first error, and a diagnostic form
// that returns every issue it can find — mirroring the two validation
// postures the teacher's own protoparse.Parser offers (fail-fast parsing vs.
// ErrorReporter-collected diagnostics).
package validate

import (
	"fmt"
	"os"
	"strings"

	"github.com/gripmock/grpctestify/internal/ast"
	"github.com/gripmock/grpctestify/internal/diagnostics"
)

// Options configures validation with information only the caller has:
// whether an address default is available from the environment or from a
// caller-supplied fallback (spec.md §4.2 "Address is required from SOME source").
type Options struct {
	EnvAddressVar    string // e.g. "GRPCTESTIFY_ADDRESS"
	CallerAddress    string
}

// Diagnose runs every rule and returns the full diagnostic set; it never
// stops early.
func Diagnose(doc *ast.Document, opts Options) []diagnostics.Diagnostic {
	bag := &diagnostics.Bag{}
	file := doc.Meta.SourcePath

	checkEndpoint(doc, bag, file)
	checkAddress(doc, bag, file, opts)
	checkResultSections(doc, bag, file)
	checkResponseErrorConflict(doc, bag, file)
	checkDuplicates(doc, bag, file)
	checkJSONShapes(doc, bag, file)
	checkResponseJSONLines(doc, bag, file)
	checkInlineOptionPlacement(doc, bag, file)
	checkWithAssertsPairing(doc, bag, file)

	return bag.Items
}

// ValidateHard returns the first Error-severity diagnostic as a Go error, or
// nil if the document is structurally valid (warnings are not fatal).
func ValidateHard(doc *ast.Document, opts Options) error {
	for _, d := range Diagnose(doc, opts) {
		if d.Severity == diagnostics.SeverityError {
			return fmt.Errorf("%s: %s (lines %d-%d): %s", d.File, d.Code, d.Range.Start, d.Range.End, d.Message)
		}
	}
	return nil
}

func checkEndpoint(doc *ast.Document, bag *diagnostics.Bag, file string) {
	if !doc.Has(ast.Endpoint) {
		bag.Errorf(file, ast.LineRange{}, diagnostics.CodeValidationError, "ENDPOINT section is required")
		return
	}
	sec, _ := doc.First(ast.Endpoint)
	s, ok := sec.Content.(ast.StringContent)
	if !ok || !strings.Contains(string(s), "/") {
		bag.Errorf(file, sec.Range, diagnostics.CodeValidationError, "ENDPOINT must be of the form service/method")
	}
}

func checkAddress(doc *ast.Document, bag *diagnostics.Bag, file string, opts Options) {
	sec, hasSection := doc.First(ast.Address)
	if hasSection {
		s, ok := sec.Content.(ast.StringContent)
		if !ok || !strings.Contains(string(s), ":") {
			bag.Errorf(file, sec.Range, diagnostics.CodeValidationError, "ADDRESS must contain a colon")
			return
		}
		return
	}
	envVal := ""
	if opts.EnvAddressVar != "" {
		envVal = os.Getenv(opts.EnvAddressVar)
	}
	if envVal == "" && opts.CallerAddress == "" {
		bag.Warnf(file, ast.LineRange{}, diagnostics.CodeValidationError,
			"no ADDRESS section, env var, or caller default provided; a later layer must supply one")
	}
}

func checkResultSections(doc *ast.Document, bag *diagnostics.Bag, file string) {
	if !doc.Has(ast.Response) && !doc.Has(ast.Error) && !doc.Has(ast.Asserts) {
		bag.Errorf(file, ast.LineRange{}, diagnostics.CodeValidationError,
			"at least one of RESPONSE, ERROR, or ASSERTS is required")
	}
}

func checkResponseErrorConflict(doc *ast.Document, bag *diagnostics.Bag, file string) {
	if doc.Has(ast.Response) && doc.Has(ast.Error) {
		sec, _ := doc.First(ast.Error)
		bag.Errorf(file, sec.Range, diagnostics.CodeValidationError, "RESPONSE and ERROR sections cannot coexist")
	}
}

func checkDuplicates(doc *ast.Document, bag *diagnostics.Bag, file string) {
	seen := map[ast.SectionType]int{}
	for _, s := range doc.Sections {
		if s.Type.Multiple() {
			continue
		}
		seen[s.Type]++
		if seen[s.Type] == 2 {
			bag.Errorf(file, s.Range, diagnostics.CodeValidationError,
				"duplicate %s section (only one allowed)", s.Type)
		}
	}
}

func checkJSONShapes(doc *ast.Document, bag *diagnostics.Bag, file string) {
	for _, s := range doc.Sections {
		if s.Type != ast.Request && s.Type != ast.Error {
			continue
		}
		jc, ok := s.Content.(ast.JSONContent)
		if !ok {
			continue // Empty is allowed
		}
		switch jc.Value.(type) {
		case map[string]any, []any:
			// ok
		case string:
			if s.Type != ast.Error {
				bag.Errorf(file, s.Range, diagnostics.CodeInvalidFieldValue,
					"%s JSON body must be an object or array", s.Type)
			}
		default:
			bag.Errorf(file, s.Range, diagnostics.CodeInvalidFieldValue,
				"%s JSON body must be an object or array", s.Type)
		}
	}
}

func checkResponseJSONLines(doc *ast.Document, bag *diagnostics.Bag, file string) {
	for _, s := range doc.Find(ast.Response) {
		jl, ok := s.Content.(ast.JSONLinesContent)
		if !ok {
			continue
		}
		if len(jl.Values) == 0 {
			bag.Errorf(file, s.Range, diagnostics.CodeInvalidFieldValue,
				"RESPONSE JSON-lines body must not be empty")
		}
		// len < 2 degenerate case is handled at parse time by falling back to
		// JSONContent whenever a single-value parse also succeeds; by the
		// time it reaches here a length-1 JSONLinesContent is intentional
		// (the single-value parse failed but the line-wise parse succeeded).
	}
}

func checkInlineOptionPlacement(doc *ast.Document, bag *diagnostics.Bag, file string) {
	for _, s := range doc.Sections {
		if s.Type == ast.Response {
			continue
		}
		o := s.Options
		if o.WithAsserts || o.Partial || o.UnorderedArrays || o.Tolerance != nil || len(o.Redact) > 0 {
			bag.Warnf(file, s.Range, diagnostics.CodeInvalidSyntax, "inline options have no effect outside RESPONSE")
		}
	}
}

func checkWithAssertsPairing(doc *ast.Document, bag *diagnostics.Bag, file string) {
	for i, s := range doc.Sections {
		if (s.Type == ast.Response || s.Type == ast.Error) && s.Options.WithAsserts {
			if i+1 >= len(doc.Sections) || doc.Sections[i+1].Type != ast.Asserts {
				bag.Warnf(file, s.Range, diagnostics.CodeValidationError,
					"%s with with_asserts=true must be immediately followed by an ASSERTS section", s.Type)
			}
		}
	}
}
