package plugins

import (
	"fmt"
	"net"
	"net/mail"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewBuiltinRegistry returns the registry of mandatory built-in plugins
// (spec.md §4.6): uuid, email, ip, url, timestamp, len, empty, header,
// has_header, trailer, has_trailer, regex, env.
func NewBuiltinRegistry() *Registry {
	return NewRegistry(
		uuidPlugin{}, emailPlugin{}, ipPlugin{}, urlPlugin{}, timestampPlugin{},
		lenPlugin{}, emptyPlugin{}, headerPlugin{}, hasHeaderPlugin{},
		trailerPlugin{}, hasTrailerPlugin{}, regexPlugin{}, envPlugin{},
	)
}

func arg(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return ""
}

// --- uuid ---

type uuidPlugin struct{}

func (uuidPlugin) Name() string        { return "uuid" }
func (uuidPlugin) Description() string { return "asserts the value is a valid UUID" }
func (uuidPlugin) Signature() Signature {
	return Signature{ReturnKind: ReturnBoolean, Purity: Pure, Deterministic: true, Idempotent: true, SafeForRewrite: true, ArgNames: []string{"value"}}
}
func (uuidPlugin) Execute(args []string, _ *Context) (Result, error) {
	_, err := uuid.Parse(arg(args, 0))
	return Result{IsAssertion: true, Pass: err == nil}, nil
}

// --- email ---

type emailPlugin struct{}

func (emailPlugin) Name() string        { return "email" }
func (emailPlugin) Description() string { return "asserts the value is a valid email address" }
func (emailPlugin) Signature() Signature {
	return Signature{ReturnKind: ReturnBoolean, Purity: Pure, Deterministic: true, Idempotent: true, SafeForRewrite: true, ArgNames: []string{"value"}}
}
func (emailPlugin) Execute(args []string, _ *Context) (Result, error) {
	_, err := mail.ParseAddress(arg(args, 0))
	return Result{IsAssertion: true, Pass: err == nil}, nil
}

// --- ip ---

type ipPlugin struct{}

func (ipPlugin) Name() string        { return "ip" }
func (ipPlugin) Description() string { return "asserts the value is a valid IPv4 or IPv6 address" }
func (ipPlugin) Signature() Signature {
	return Signature{ReturnKind: ReturnBoolean, Purity: Pure, Deterministic: true, Idempotent: true, SafeForRewrite: true, ArgNames: []string{"value"}}
}
func (ipPlugin) Execute(args []string, _ *Context) (Result, error) {
	return Result{IsAssertion: true, Pass: net.ParseIP(arg(args, 0)) != nil}, nil
}

// --- url ---

type urlPlugin struct{}

func (urlPlugin) Name() string        { return "url" }
func (urlPlugin) Description() string { return "asserts the value is a valid, absolute URL" }
func (urlPlugin) Signature() Signature {
	return Signature{ReturnKind: ReturnBoolean, Purity: Pure, Deterministic: true, Idempotent: true, SafeForRewrite: true, ArgNames: []string{"value"}}
}
func (urlPlugin) Execute(args []string, _ *Context) (Result, error) {
	u, err := url.ParseRequestURI(arg(args, 0))
	return Result{IsAssertion: true, Pass: err == nil && u.Scheme != "" && u.Host != ""}, nil
}

// --- timestamp ---

type timestampPlugin struct{}

func (timestampPlugin) Name() string        { return "timestamp" }
func (timestampPlugin) Description() string { return "asserts the value is an RFC 3339 timestamp" }
func (timestampPlugin) Signature() Signature {
	return Signature{ReturnKind: ReturnBoolean, Purity: Pure, Deterministic: true, Idempotent: true, SafeForRewrite: true, ArgNames: []string{"value"}}
}
func (timestampPlugin) Execute(args []string, _ *Context) (Result, error) {
	_, err := time.Parse(time.RFC3339, arg(args, 0))
	return Result{IsAssertion: true, Pass: err == nil}, nil
}

// --- len ---

type lenPlugin struct{}

func (lenPlugin) Name() string        { return "len" }
func (lenPlugin) Description() string { return "returns the length of a string, array, or object" }
func (lenPlugin) Signature() Signature {
	return Signature{ReturnKind: ReturnNumber, Purity: Pure, Deterministic: true, Idempotent: true, SafeForRewrite: false, ArgNames: []string{"value"}}
}
func (lenPlugin) Execute(args []string, ctx *Context) (Result, error) {
	v := resolveArgValue(arg(args, 0), ctx)
	switch t := v.(type) {
	case string:
		return Result{Value: float64(len(t))}, nil
	case []any:
		return Result{Value: float64(len(t))}, nil
	case map[string]any:
		return Result{Value: float64(len(t))}, nil
	default:
		return Result{}, fmt.Errorf("len: unsupported value type %T", v)
	}
}

// --- empty ---

type emptyPlugin struct{}

func (emptyPlugin) Name() string        { return "empty" }
func (emptyPlugin) Description() string { return "asserts a string, array, or object is empty" }
func (emptyPlugin) Signature() Signature {
	return Signature{ReturnKind: ReturnBoolean, Purity: Pure, Deterministic: true, Idempotent: true, SafeForRewrite: true, ArgNames: []string{"value"}}
}
func (emptyPlugin) Execute(args []string, ctx *Context) (Result, error) {
	v := resolveArgValue(arg(args, 0), ctx)
	switch t := v.(type) {
	case nil:
		return Result{IsAssertion: true, Pass: true}, nil
	case string:
		return Result{IsAssertion: true, Pass: t == ""}, nil
	case []any:
		return Result{IsAssertion: true, Pass: len(t) == 0}, nil
	case map[string]any:
		return Result{IsAssertion: true, Pass: len(t) == 0}, nil
	default:
		return Result{IsAssertion: true, Pass: false}, nil
	}
}

// --- header / has_header ---
//
// Header/trailer/env plugins receive their name as a raw string (no
// expression evaluation) per spec.md §4.6.

type headerPlugin struct{}

func (headerPlugin) Name() string        { return "header" }
func (headerPlugin) Description() string { return "returns a response header value by case-insensitive name" }
func (headerPlugin) Signature() Signature {
	return Signature{ReturnKind: ReturnString, Purity: ContextDependent, ArgNames: []string{"name"}}
}
func (headerPlugin) Execute(args []string, ctx *Context) (Result, error) {
	v, ok := lookupCI(ctx.Headers, arg(args, 0))
	if !ok {
		return Result{}, fmt.Errorf("header %q not found", arg(args, 0))
	}
	return Result{Value: v}, nil
}

type hasHeaderPlugin struct{}

func (hasHeaderPlugin) Name() string        { return "has_header" }
func (hasHeaderPlugin) Description() string { return "asserts a response header exists by case-insensitive name" }
func (hasHeaderPlugin) Signature() Signature {
	return Signature{ReturnKind: ReturnBoolean, Purity: ContextDependent, SafeForRewrite: false, ArgNames: []string{"name"}}
}
func (hasHeaderPlugin) Execute(args []string, ctx *Context) (Result, error) {
	_, ok := lookupCI(ctx.Headers, arg(args, 0))
	return Result{IsAssertion: true, Pass: ok}, nil
}

type trailerPlugin struct{}

func (trailerPlugin) Name() string        { return "trailer" }
func (trailerPlugin) Description() string { return "returns a response trailer value by case-insensitive name" }
func (trailerPlugin) Signature() Signature {
	return Signature{ReturnKind: ReturnString, Purity: ContextDependent, ArgNames: []string{"name"}}
}
func (trailerPlugin) Execute(args []string, ctx *Context) (Result, error) {
	v, ok := lookupCI(ctx.Trailers, arg(args, 0))
	if !ok {
		return Result{}, fmt.Errorf("trailer %q not found", arg(args, 0))
	}
	return Result{Value: v}, nil
}

type hasTrailerPlugin struct{}

func (hasTrailerPlugin) Name() string        { return "has_trailer" }
func (hasTrailerPlugin) Description() string { return "asserts a response trailer exists by case-insensitive name" }
func (hasTrailerPlugin) Signature() Signature {
	return Signature{ReturnKind: ReturnBoolean, Purity: ContextDependent, ArgNames: []string{"name"}}
}
func (hasTrailerPlugin) Execute(args []string, ctx *Context) (Result, error) {
	_, ok := lookupCI(ctx.Trailers, arg(args, 0))
	return Result{IsAssertion: true, Pass: ok}, nil
}

func lookupCI(m map[string][]string, name string) (string, bool) {
	for k, v := range m {
		if strings.EqualFold(k, name) && len(v) > 0 {
			return v[0], true
		}
	}
	return "", false
}

// --- regex ---

type regexPlugin struct{}

func (regexPlugin) Name() string        { return "regex" }
func (regexPlugin) Description() string { return "asserts a value matches a regular expression" }
func (regexPlugin) Signature() Signature {
	return Signature{ReturnKind: ReturnBoolean, Purity: Pure, Deterministic: true, Idempotent: true, SafeForRewrite: true, ArgNames: []string{"pattern", "value"}}
}
func (regexPlugin) Execute(args []string, ctx *Context) (Result, error) {
	re, err := regexp.Compile(arg(args, 0))
	if err != nil {
		return Result{}, fmt.Errorf("regex: invalid pattern: %w", err)
	}
	v := resolveArgValue(arg(args, 1), ctx)
	s, _ := v.(string)
	return Result{IsAssertion: true, Pass: re.MatchString(s)}, nil
}

// --- env ---

type envPlugin struct{}

func (envPlugin) Name() string        { return "env" }
func (envPlugin) Description() string { return "reads a process environment variable" }
func (envPlugin) Signature() Signature {
	return Signature{ReturnKind: ReturnString, Purity: ContextDependent, ArgNames: []string{"name"}}
}
func (envPlugin) Execute(args []string, _ *Context) (Result, error) {
	name := arg(args, 0)
	v, ok := os.LookupEnv(name)
	if !ok {
		return Result{}, fmt.Errorf("env: %q is not set", name)
	}
	return Result{Value: v}, nil
}

// resolveArgValue is a best-effort helper for plugins whose argument may be
// a JSON-path expression into the active response rather than a literal;
// the assertion engine is the canonical evaluator of such expressions, but
// plugins like len/empty/regex are commonly invoked directly with a path
// argument in a jq-fallback-free context, so they accept either a literal
// string (quoted) or fall back to treating the raw text as a literal.
func resolveArgValue(raw string, ctx *Context) any {
	trimmed := strings.TrimSpace(raw)
	if len(trimmed) >= 2 && trimmed[0] == '"' && trimmed[len(trimmed)-1] == '"' {
		unquoted, err := strconv.Unquote(trimmed)
		if err == nil {
			return unquoted
		}
	}
	if trimmed == "true" {
		return true
	}
	if trimmed == "false" {
		return false
	}
	if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return f
	}
	return trimmed
}
