// Package assertengine implements the dual-dialect evaluator of spec.md
// §4.6: an operator/plugin dialect tried first, falling back to the
// jq-subset query engine. A single Evaluate call answers Pass, Fail (with
// expected/actual), or Error.
package assertengine

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/gripmock/grpctestify/internal/plugins"
	"github.com/gripmock/grpctestify/internal/query"
)

// Verdict is the outcome of evaluating one assertion expression.
type Verdict int

const (
	Pass Verdict = iota
	Fail
	Err
)

// Outcome is the full result of Evaluate.
type Outcome struct {
	Verdict  Verdict
	Message  string
	Expected any
	Actual   any
}

// operatorPriority lists operators longest/most-specific first (spec.md §4.6).
var operatorPriority = []string{"contains", "matches", "startsWith", "endsWith", "==", "!=", ">=", "<=", ">", "<"}

var pluginCallRe = regexp.MustCompile(`^@([A-Za-z_][A-Za-z0-9_]*)\((.*)\)$`)
var jsonPathRe = regexp.MustCompile(`^\.[A-Za-z_][A-Za-z0-9_.\[\]]*$`)

// Engine evaluates assertion expressions against a response value plus
// headers/trailers.
type Engine struct {
	Registry *plugins.Registry
}

func New(registry *plugins.Registry) *Engine {
	return &Engine{Registry: registry}
}

// Evaluate implements spec.md §4.6's dual dispatch.
func (e *Engine) Evaluate(expr string, response any, headers, trailers map[string][]string) Outcome {
	expr = strings.TrimSpace(expr)
	ctx := &plugins.Context{Response: response, Headers: headers, Trailers: trailers}

	if strings.HasPrefix(expr, "@") && !e.containsTopLevelOperator(expr) {
		return e.evalPluginBoolean(expr, ctx)
	}

	if op, lhs, rhs, ok := e.splitOperator(expr); ok {
		return e.evalOperator(op, lhs, rhs, response, ctx)
	}

	return e.evalJQFallback(expr, response)
}

func (e *Engine) containsTopLevelOperator(expr string) bool {
	_, _, _, ok := e.splitOperator(expr)
	return ok
}

// splitOperator mirrors semantics.splitOperator's priority scan. An
// expression containing a pipe anywhere is not split at all and is left to
// the jq dialect, even when the pipe sits on the RHS; otherwise occurrences
// whose LHS contains an unowned paren (a non-plugin function call) are
// skipped per spec.md §4.6.
func (e *Engine) splitOperator(expr string) (op, lhs, rhs string, ok bool) {
	if strings.Contains(expr, "|") {
		return "", "", "", false
	}
	for _, candidate := range operatorPriority {
		idx := strings.Index(expr, candidate)
		for idx >= 0 {
			left := strings.TrimSpace(expr[:idx])
			if left != "" && strings.Contains(left, "(") && !strings.Contains(left, ")") && !strings.HasPrefix(left, "@") {
				next := strings.Index(expr[idx+1:], candidate)
				if next < 0 {
					idx = -1
					break
				}
				idx = idx + 1 + next
				continue
			}
			return candidate, left, strings.TrimSpace(expr[idx+len(candidate):]), true
		}
	}
	return "", "", "", false
}

func (e *Engine) evalPluginBoolean(expr string, ctx *plugins.Context) Outcome {
	v, err := e.evalOperand(expr, nil, ctx)
	if err != nil {
		return Outcome{Verdict: Err, Message: err.Error()}
	}
	b, ok := v.(bool)
	if !ok {
		return Outcome{Verdict: Err, Message: fmt.Sprintf("expression %q did not evaluate to a boolean", expr)}
	}
	if b {
		return Outcome{Verdict: Pass}
	}
	return Outcome{Verdict: Fail, Message: fmt.Sprintf("%q was false", expr)}
}

func (e *Engine) evalOperator(op, lhsExpr, rhsExpr string, response any, ctx *plugins.Context) Outcome {
	lv, lerr := e.evalOperand(lhsExpr, response, ctx)
	if lerr != nil {
		return Outcome{Verdict: Err, Message: lerr.Error()}
	}
	rv, rerr := e.evalOperand(rhsExpr, response, ctx)
	if rerr != nil {
		return Outcome{Verdict: Err, Message: rerr.Error()}
	}

	switch op {
	case "==":
		return boolOutcome(valuesEqual(lv, rv), lv, rv, "%v == %v")
	case "!=":
		return boolOutcome(!valuesEqual(lv, rv), lv, rv, "%v != %v")
	case ">", "<", ">=", "<=":
		ln, lok := toFloat(lv)
		rn, rok := toFloat(rv)
		if !lok || !rok {
			return Outcome{Verdict: Err, Message: fmt.Sprintf("%s requires numeric operands", op)}
		}
		var ok bool
		switch op {
		case ">":
			ok = ln > rn
		case "<":
			ok = ln < rn
		case ">=":
			ok = ln >= rn
		case "<=":
			ok = ln <= rn
		}
		return boolOutcome(ok, lv, rv, op)
	case "matches":
		ls, lok := lv.(string)
		rs, rok := rv.(string)
		if !lok || !rok {
			return Outcome{Verdict: Err, Message: "matches requires string operands"}
		}
		re, err := regexp.Compile(rs)
		if err != nil {
			return Outcome{Verdict: Err, Message: fmt.Sprintf("invalid regex %q: %v", rs, err)}
		}
		return boolOutcome(re.MatchString(ls), lv, rv, "matches")
	case "startsWith":
		ls, lok := lv.(string)
		rs, rok := rv.(string)
		if !lok || !rok {
			return Outcome{Verdict: Err, Message: "startsWith requires string operands"}
		}
		return boolOutcome(strings.HasPrefix(ls, rs), lv, rv, "startsWith")
	case "endsWith":
		ls, lok := lv.(string)
		rs, rok := rv.(string)
		if !lok || !rok {
			return Outcome{Verdict: Err, Message: "endsWith requires string operands"}
		}
		return boolOutcome(strings.HasSuffix(ls, rs), lv, rv, "endsWith")
	case "contains":
		return e.evalContains(lv, rv)
	}
	return Outcome{Verdict: Err, Message: "unsupported operator " + op}
}

func (e *Engine) evalContains(lv, rv any) Outcome {
	switch l := lv.(type) {
	case string:
		rs, ok := rv.(string)
		if !ok {
			return Outcome{Verdict: Err, Message: "contains on a string requires a string RHS"}
		}
		return boolOutcome(strings.Contains(l, rs), lv, rv, "contains")
	case []any:
		for _, item := range l {
			if valuesEqual(item, rv) {
				return Outcome{Verdict: Pass}
			}
		}
		return Outcome{Verdict: Fail, Message: "array does not contain expected value", Expected: rv, Actual: lv}
	default:
		return Outcome{Verdict: Err, Message: fmt.Sprintf("contains not supported on %T", lv)}
	}
}

func boolOutcome(ok bool, actual, expected any, _ string) Outcome {
	if ok {
		return Outcome{Verdict: Pass}
	}
	return Outcome{Verdict: Fail, Actual: actual, Expected: expected, Message: "assertion failed"}
}

func (e *Engine) evalJQFallback(expr string, response any) Outcome {
	q, err := query.Compile(expr)
	if err != nil {
		return Outcome{Verdict: Err, Message: err.Error()}
	}
	results, err := q.Run(response)
	if err != nil {
		return Outcome{Verdict: Err, Message: err.Error()}
	}
	if len(results) == 0 {
		return Outcome{Verdict: Fail, Message: fmt.Sprintf("expression %q produced no output", expr)}
	}
	for _, r := range results {
		if !truthy(r) {
			return Outcome{Verdict: Fail, Message: fmt.Sprintf("expression %q produced a falsy value", expr), Actual: r}
		}
	}
	return Outcome{Verdict: Pass}
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	default:
		return true
	}
}

// evalOperand resolves one side of an operator expression: a JSON-path
// string resolves against response, a plugin call invokes the plugin, and
// anything else parses as a JSON literal.
func (e *Engine) evalOperand(expr string, response any, ctx *plugins.Context) (any, error) {
	expr = strings.TrimSpace(expr)

	if m := pluginCallRe.FindStringSubmatch(expr); m != nil {
		return e.evalPluginCall(m[1], m[2], ctx)
	}
	if jsonPathRe.MatchString(expr) {
		return query.RunPath(expr, response)
	}
	return parseLiteral(expr)
}

func (e *Engine) evalPluginCall(name, argStr string, ctx *plugins.Context) (any, error) {
	p, ok := e.Registry.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("unknown plugin @%s", name)
	}
	args := splitArgs(argStr)
	sig := p.Signature()
	rawArgs := isRawArgPlugin(name)
	evaluated := make([]string, len(args))
	for i, a := range args {
		if rawArgs {
			evaluated[i] = strings.Trim(strings.TrimSpace(a), `"`)
			continue
		}
		v, err := e.evalOperand(a, ctx.Response, ctx)
		if err != nil {
			return nil, err
		}
		evaluated[i] = literalToString(v)
	}
	res, err := p.Execute(evaluated, ctx)
	if err != nil {
		return nil, err
	}
	if res.IsAssertion {
		return res.Pass, nil
	}
	_ = sig
	return res.Value, nil
}

// isRawArgPlugin reports whether a plugin's arguments are raw strings, not
// evaluated expressions (header/trailer/env — spec.md §4.6).
func isRawArgPlugin(name string) bool {
	switch name {
	case "header", "has_header", "trailer", "has_trailer", "env":
		return true
	default:
		return false
	}
}

func splitArgs(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var args []string
	depth := 0
	inStr := false
	var quote byte
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inStr {
			if c == '\\' {
				i++
				continue
			}
			if c == quote {
				inStr = false
			}
			continue
		}
		switch c {
		case '"', '\'':
			inStr = true
			quote = c
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case ',':
			if depth == 0 {
				args = append(args, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	args = append(args, strings.TrimSpace(s[start:]))
	return args
}

func parseLiteral(expr string) (any, error) {
	switch expr {
	case "true":
		return true, nil
	case "false":
		return false, nil
	case "null":
		return nil, nil
	}
	if len(expr) >= 2 && expr[0] == '"' && expr[len(expr)-1] == '"' {
		return strconv.Unquote(expr)
	}
	if f, err := strconv.ParseFloat(expr, 64); err == nil {
		return f, nil
	}
	return nil, fmt.Errorf("cannot parse literal %q", expr)
}

func literalToString(v any) string {
	switch t := v.(type) {
	case string:
		return strconv.Quote(t)
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%v", t)
	}
}

func valuesEqual(a, b any) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b) && sameType(a, b)
}

func sameType(a, b any) bool {
	switch a.(type) {
	case string:
		_, ok := b.(string)
		return ok
	case bool:
		_, ok := b.(bool)
		return ok
	case nil:
		return b == nil
	default:
		return true
	}
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	default:
		return 0, false
	}
}
