// Package semantics infers a value kind for each operand of an assertion
// line and flags operator/operand-kind mismatches (spec.md §4.3). It never
// rejects an assertion on an Unknown operand — that would produce false
// positives the spec explicitly forbids.
package semantics

import (
	"regexp"
	"strings"

	"github.com/gripmock/grpctestify/internal/ast"
	"github.com/gripmock/grpctestify/internal/diagnostics"
	"github.com/gripmock/grpctestify/internal/plugins"
)

// Kind is the inferred value kind of an assertion operand.
type Kind int

const (
	Unknown Kind = iota
	Boolean
	Number
	String
	Array
	Object
)

// operators in priority order, longer/more-specific first (spec.md §4.6).
var operatorOrder = []string{"contains", "matches", "startsWith", "endsWith", "==", "!=", ">=", "<=", ">", "<"}

var pluginCallRe = regexp.MustCompile(`^@([A-Za-z_][A-Za-z0-9_]*)\(`)

// Analyze runs type inference over every ASSERTS line in the document and
// returns the resulting diagnostics.
func Analyze(doc *ast.Document, registry *plugins.Registry) []diagnostics.Diagnostic {
	bag := &diagnostics.Bag{}
	file := doc.Meta.SourcePath
	for _, s := range doc.Find(ast.Asserts) {
		ac, ok := s.Content.(ast.AssertsContent)
		if !ok {
			continue
		}
		for _, line := range ac.Lines {
			analyzeLine(file, s.Range, line, registry, bag)
		}
	}
	return bag.Items
}

func analyzeLine(file string, rng ast.LineRange, line string, registry *plugins.Registry, bag *diagnostics.Bag) {
	op, lhs, rhs, ok := splitOperator(line)
	if !ok {
		// boolean plugin call or jq fallback: no type contract to check here.
		checkPluginName(file, rng, line, registry, bag)
		return
	}

	lk := inferKind(lhs, registry, file, rng, bag)
	rk := inferKind(rhs, registry, file, rng, bag)
	checkPluginName(file, rng, lhs, registry, bag)
	checkPluginName(file, rng, rhs, registry, bag)

	if lk == Unknown || rk == Unknown {
		return
	}

	switch op {
	case "==", "!=":
		if lk != rk {
			bag.Errorf(file, rng, diagnostics.CodeSemTypeEquality,
				"%q compares operands of different kinds (%v vs %v)", op, lk, rk)
		}
	case ">", "<", ">=", "<=":
		if lk != Number || rk != Number {
			bag.Errorf(file, rng, diagnostics.CodeSemTypeOrdering,
				"%q requires both operands to be numbers", op)
		}
	case "matches", "startsWith", "endsWith":
		if lk != String || rk != String {
			bag.Errorf(file, rng, diagnostics.CodeSemTypeStringOp,
				"%q requires both operands to be strings", op)
		}
	case "contains":
		if lk == String && rk != String {
			bag.Errorf(file, rng, diagnostics.CodeSemTypeContains,
				"contains requires a string RHS when LHS is a string")
		}
	}
}

func checkPluginName(file string, rng ast.LineRange, expr string, registry *plugins.Registry, bag *diagnostics.Bag) {
	m := pluginCallRe.FindStringSubmatch(strings.TrimSpace(expr))
	if m == nil {
		return
	}
	name := m[1]
	if registry.Has(name) {
		return
	}
	suggestion := registry.ClosestName(name)
	msg := "unknown plugin @" + name
	d := diagnostics.Diagnostic{
		File: file, Range: rng, Code: diagnostics.CodeSemUnknownPlugin,
		Severity: diagnostics.SeverityError, Message: msg,
	}
	if suggestion != "" {
		d.Hint = "did you mean @" + suggestion + "?"
	}
	bag.Add(d)
}

// splitOperator finds the first operator occurrence per the priority list.
// A line containing `|` anywhere (unless it also contains the quoted string
// "|") is not split at all, even when the `|` sits on the RHS; otherwise
// occurrences that are part of a non-plugin function call (a paren not
// immediately preceded by `@...`) are skipped — spec.md §4.6.
func splitOperator(line string) (op, lhs, rhs string, ok bool) {
	if strings.Contains(line, "|") && !strings.Contains(line, "\"|\"") {
		return "", "", "", false
	}
	for _, candidate := range operatorOrder {
		idx := strings.Index(line, candidate)
		for idx >= 0 {
			left := strings.TrimSpace(line[:idx])
			if parenNotOwned(left) {
				next := strings.Index(line[idx+1:], candidate)
				if next < 0 {
					idx = -1
					break
				}
				idx = idx + 1 + next
				continue
			}
			return candidate, left, strings.TrimSpace(line[idx+len(candidate):]), true
		}
	}
	return "", "", "", false
}

func parenNotOwned(left string) bool {
	if !strings.Contains(left, "(") {
		return false
	}
	return !pluginCallRe.MatchString(left) && !strings.Contains(left, ")")
}

func inferKind(expr string, registry *plugins.Registry, file string, rng ast.LineRange, bag *diagnostics.Bag) Kind {
	expr = strings.TrimSpace(expr)
	switch {
	case expr == "true" || expr == "false":
		return Boolean
	case strings.HasPrefix(expr, `"`) && strings.HasSuffix(expr, `"`) && len(expr) >= 2:
		return String
	case strings.HasPrefix(expr, "[") && strings.HasSuffix(expr, "]"):
		return Array
	case strings.HasPrefix(expr, "{") && strings.HasSuffix(expr, "}"):
		return Object
	case isNumericLiteral(expr):
		return Number
	}
	if m := pluginCallRe.FindStringSubmatch(expr); m != nil {
		if p, ok := registry.Lookup(m[1]); ok {
			return pluginKind(p.Signature().ReturnKind)
		}
		return Unknown
	}
	return Unknown
}

func pluginKind(rk plugins.ReturnKind) Kind {
	switch rk {
	case plugins.ReturnBoolean:
		return Boolean
	case plugins.ReturnNumber:
		return Number
	case plugins.ReturnString:
		return String
	default:
		return Unknown
	}
}

func isNumericLiteral(s string) bool {
	if s == "" {
		return false
	}
	i := 0
	if s[0] == '-' || s[0] == '+' {
		i++
	}
	if i == len(s) {
		return false
	}
	seenDigit, seenDot := false, false
	for ; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			seenDigit = true
		case c == '.' && !seenDot:
			seenDot = true
		default:
			return false
		}
	}
	return seenDigit
}

func (k Kind) String() string {
	switch k {
	case Boolean:
		return "Boolean"
	case Number:
		return "Number"
	case String:
		return "String"
	case Array:
		return "Array"
	case Object:
		return "Object"
	default:
		return "Unknown"
	}
}
