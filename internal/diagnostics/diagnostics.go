// Package diagnostics defines the single schema every producer (parser,
// validator, semantic analyzer, optimizer) emits against: file, line range,
// stable code, severity, message, optional hint, optional quick-fix edit.
// This is the schema the LSP integration consumes (spec.md §4.11).
package diagnostics

import (
	"fmt"

	"github.com/gripmock/grpctestify/internal/ast"
)

// Severity classifies a diagnostic's importance.
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
	SeverityInfo
	SeverityHint
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	case SeverityInfo:
		return "info"
	case SeverityHint:
		return "hint"
	default:
		return "unknown"
	}
}

// Stable codes, partitioned by producer per spec.md §4.11.
const (
	CodeParseError         = "PARSE_ERROR"
	CodeUnknownSectionType = "UNKNOWN_SECTION_TYPE"
	CodeDeprecatedSection  = "DEPRECATED_SECTION"
	CodeInvalidSyntax      = "INVALID_SYNTAX"
	CodeJSONParseError     = "JSON_PARSE_ERROR"
	CodeInvalidFieldValue  = "INVALID_FIELD_VALUE"
	CodeValidationError    = "VALIDATION_ERROR"
	CodeFileNotFound       = "FILE_NOT_FOUND"
)

// Semantic analyzer codes (spec.md §4.3).
const (
	CodeSemTypeEquality     = "SEM_T001"
	CodeSemTypeOrdering     = "SEM_T002"
	CodeSemTypeStringOp     = "SEM_T003"
	CodeSemTypeContains     = "SEM_T004"
	CodeSemUnknownPlugin    = "SEM_U001"
)

// Optimizer codes (spec.md §4.4).
const (
	CodeOptBoolEqTrue     = "OPT_B001"
	CodeOptBoolEqFalse    = "OPT_B002"
	CodeOptTrueEqBool     = "OPT_B003"
	CodeOptFalseEqBool    = "OPT_B004"
	CodeOptDoubleNegation = "OPT_B005"
	CodeOptConstantFold   = "OPT_B006"
	CodeOptOperatorAlias  = "OPT_N001"
)

// QuickFix is an optional machine-applicable edit attached to a diagnostic.
type QuickFix struct {
	Title       string
	Replacement string
}

// Diagnostic is the shape every component in the system emits.
type Diagnostic struct {
	File     string
	Range    ast.LineRange
	Code     string
	Severity Severity
	Message  string
	Hint     string
	Fix      *QuickFix
}

// Bag accumulates diagnostics and reports whether any Error-severity one was seen.
type Bag struct {
	Items []Diagnostic
}

func (b *Bag) Add(d Diagnostic) {
	b.Items = append(b.Items, d)
}

func (b *Bag) Errorf(file string, rng ast.LineRange, code, msg string, args ...any) {
	b.addf(file, rng, code, SeverityError, msg, args...)
}

func (b *Bag) Warnf(file string, rng ast.LineRange, code, msg string, args ...any) {
	b.addf(file, rng, code, SeverityWarning, msg, args...)
}

func (b *Bag) Hintf(file string, rng ast.LineRange, code, msg string, args ...any) {
	b.addf(file, rng, code, SeverityHint, msg, args...)
}

func (b *Bag) addf(file string, rng ast.LineRange, code string, sev Severity, msg string, args ...any) {
	b.Add(Diagnostic{
		File:     file,
		Range:    rng,
		Code:     code,
		Severity: sev,
		Message:  sprintf(msg, args...),
	})
}

func (b *Bag) HasErrors() bool {
	for _, d := range b.Items {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

func (b *Bag) CountBySeverity(sev Severity) int {
	n := 0
	for _, d := range b.Items {
		if d.Severity == sev {
			n++
		}
	}
	return n
}

func sprintf(format string, args ...any) string {
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}
