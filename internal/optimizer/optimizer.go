// Package optimizer emits safe rewrite hints for ASSERTS expressions
// (spec.md §4.4). It never rewrites anything in place; every hint carries
// its rule id, a message, and the span it applies to, for the `inspect`
// command.
package optimizer

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/gripmock/grpctestify/internal/ast"
	"github.com/gripmock/grpctestify/internal/diagnostics"
	"github.com/gripmock/grpctestify/internal/plugins"
)

var boolEqTrueRe = regexp.MustCompile(`^(.+?)\s*==\s*true$`)
var boolEqFalseRe = regexp.MustCompile(`^(.+?)\s*==\s*false$`)
var trueEqBoolRe = regexp.MustCompile(`^true\s*==\s*(.+)$`)
var falseEqBoolRe = regexp.MustCompile(`^false\s*==\s*(.+)$`)
var doubleNegRe = regexp.MustCompile(`^!!(.+)$`)
var pluginCallRe = regexp.MustCompile(`^@([A-Za-z_][A-Za-z0-9_]*)\(`)
var numericLiteralRe = regexp.MustCompile(`^-?\d+(\.\d+)?$`)
var binaryCompareRe = regexp.MustCompile(`^(.+?)\s*(==|!=|>=|<=|>|<)\s*(.+)$`)

// operatorAliases maps a lower-cased operator spelling to its canonical form
// (spec.md §4.4 OPT_N001).
var operatorAliases = map[string]string{
	"startswith": "startsWith",
	"endswith":   "endsWith",
}

// Hint is one optimizer suggestion.
type Hint struct {
	Range   ast.LineRange
	Code    string
	Message string
	Proof   string
}

// Analyze scans every ASSERTS line and returns rewrite hints.
func Analyze(doc *ast.Document, registry *plugins.Registry) []Hint {
	var hints []Hint
	for _, s := range doc.Find(ast.Asserts) {
		ac, ok := s.Content.(ast.AssertsContent)
		if !ok {
			continue
		}
		for _, line := range ac.Lines {
			hints = append(hints, analyzeLine(s.Range, line, registry)...)
		}
	}
	return hints
}

func analyzeLine(rng ast.LineRange, line string, registry *plugins.Registry) []Hint {
	var hints []Hint
	trimmed := strings.TrimSpace(line)

	if m := doubleNegRe.FindStringSubmatch(trimmed); m != nil {
		hints = append(hints, Hint{Range: rng, Code: diagnostics.CodeOptDoubleNegation,
			Message: "!!" + m[1] + " simplifies to " + m[1],
			Proof:   "double negation is the identity on booleans"})
	}

	if boolSafe(trimmed, boolEqTrueRe, registry) {
		m := boolEqTrueRe.FindStringSubmatch(trimmed)
		hints = append(hints, Hint{Range: rng, Code: diagnostics.CodeOptBoolEqTrue,
			Message: m[1] + " == true simplifies to " + m[1],
			Proof:   "plugin is boolean-returning, safe_for_rewrite, deterministic, idempotent"})
	}
	if boolSafe(trimmed, boolEqFalseRe, registry) {
		m := boolEqFalseRe.FindStringSubmatch(trimmed)
		hints = append(hints, Hint{Range: rng, Code: diagnostics.CodeOptBoolEqFalse,
			Message: m[1] + " == false simplifies to !" + m[1],
			Proof:   "plugin is boolean-returning, safe_for_rewrite, deterministic, idempotent"})
	}
	if boolSafe(trimmed, trueEqBoolRe, registry) {
		m := trueEqBoolRe.FindStringSubmatch(trimmed)
		hints = append(hints, Hint{Range: rng, Code: diagnostics.CodeOptTrueEqBool,
			Message: "true == " + m[1] + " simplifies to " + m[1],
			Proof:   "plugin is boolean-returning, safe_for_rewrite, deterministic, idempotent"})
	}
	if boolSafe(trimmed, falseEqBoolRe, registry) {
		m := falseEqBoolRe.FindStringSubmatch(trimmed)
		hints = append(hints, Hint{Range: rng, Code: diagnostics.CodeOptFalseEqBool,
			Message: "false == " + m[1] + " simplifies to !" + m[1],
			Proof:   "plugin is boolean-returning, safe_for_rewrite, deterministic, idempotent"})
	}

	if m := binaryCompareRe.FindStringSubmatch(trimmed); m != nil {
		lhs, op, rhs := strings.TrimSpace(m[1]), m[2], strings.TrimSpace(m[3])
		if numericLiteralRe.MatchString(lhs) && numericLiteralRe.MatchString(rhs) {
			if result, ok := foldNumericCompare(lhs, op, rhs); ok {
				hints = append(hints, Hint{Range: rng, Code: diagnostics.CodeOptConstantFold,
					Message: trimmed + " constant-folds to " + strconv.FormatBool(result),
					Proof:   "both operands are numeric literals"})
			}
		}
	}

	lower := strings.ToLower(trimmed)
	for alias, canonical := range operatorAliases {
		if strings.Contains(lower, alias) && !strings.Contains(trimmed, canonical) {
			hints = append(hints, Hint{Range: rng, Code: diagnostics.CodeOptOperatorAlias,
				Message: "operator alias " + alias + " canonicalizes to " + canonical,
				Proof:   "case-insensitive operator aliasing"})
		}
	}

	return hints
}

func boolSafe(line string, re *regexp.Regexp, registry *plugins.Registry) bool {
	m := re.FindStringSubmatch(line)
	if m == nil {
		return false
	}
	expr := strings.TrimSpace(m[1])
	call := pluginCallRe.FindStringSubmatch(expr)
	if call == nil {
		return false
	}
	p, ok := registry.Lookup(call[1])
	if !ok {
		return false
	}
	sig := p.Signature()
	return sig.ReturnKind == plugins.ReturnBoolean && sig.SafeForRewrite && sig.Deterministic && sig.Idempotent
}

func foldNumericCompare(lhs, op, rhs string) (bool, bool) {
	a, err1 := strconv.ParseFloat(lhs, 64)
	b, err2 := strconv.ParseFloat(rhs, 64)
	if err1 != nil || err2 != nil {
		return false, false
	}
	switch op {
	case "==":
		return a == b, true
	case "!=":
		return a != b, true
	case ">":
		return a > b, true
	case "<":
		return a < b, true
	case ">=":
		return a >= b, true
	case "<=":
		return a <= b, true
	}
	return false, false
}
