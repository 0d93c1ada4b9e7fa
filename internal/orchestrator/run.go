// Package orchestrator drives one parsed Document against a live gRPC
// server: resolve address/endpoint/TLS/proto, dial (through a shared
// connection cache), invoke with the mode plan.Build selected, compare
// responses, run EXTRACT and ASSERTS, and report a pass/fail verdict with
// per-phase timing (spec.md §4.10, SUPPLEMENTED "Per-phase timing").
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jhump/protoreflect/grpcreflect"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	reflectpb "google.golang.org/grpc/reflection/grpc_reflection_v1alpha"
	"google.golang.org/grpc/status"

	"github.com/gripmock/grpctestify/internal/assertengine"
	"github.com/gripmock/grpctestify/internal/ast"
	"github.com/gripmock/grpctestify/internal/compare"
	"github.com/gripmock/grpctestify/internal/grpcdial"
	"github.com/gripmock/grpctestify/internal/plan"
	"github.com/gripmock/grpctestify/internal/plugins"
	"github.com/gripmock/grpctestify/internal/query"
)

// RunOptions configures one document's execution.
type RunOptions struct {
	EnvAddressVar string // GRPCTESTIFY_ADDRESS by default
	EnvAddress    string // the env var's current value, pre-read by the CLI
	CallerAddress string // --address flag fallback
	DryRun        bool
	NoAssert      bool
	Timeout       time.Duration
	Vars          map[string]any
	ConnCache     *grpcdial.ConnCache
	Registry      *plugins.Registry
	ImportPaths   []string
}

// Timing is the SUPPLEMENTED per-phase breakdown of one test's wall time.
type Timing struct {
	Connect time.Duration
	Send    time.Duration
	Wait    time.Duration
	Assert  time.Duration
}

// AssertionResult is the outcome of one ASSERTS line.
type AssertionResult struct {
	Expr    string
	Verdict assertengine.Verdict
	Message string
}

// Result is the full outcome of running one document.
type Result struct {
	Mode        plan.Mode
	Endpoint    ast.EndpointRef
	Passed      bool
	Diffs       []compare.Diff
	Assertions  []AssertionResult
	Extracted   map[string]any
	Timing      Timing
	StatusError error // non-nil only for an unexpected (not ERROR-section-matched) RPC failure
}

// Run executes doc end to end.
func Run(ctx context.Context, doc *ast.Document, opts RunOptions) (*Result, error) {
	endpoint, hasEndpoint, err := doc.ParseEndpoint()
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	if !hasEndpoint {
		return nil, fmt.Errorf("document has no ENDPOINT section")
	}

	address, err := resolveAddress(doc, opts)
	if err != nil {
		return nil, err
	}

	p := plan.Build(doc)
	result := &Result{Mode: p.Mode, Endpoint: endpoint, Extracted: map[string]any{}}

	if opts.DryRun {
		result.Passed = true
		return result, nil
	}

	env := NewEnvironment(opts.Vars)

	connectStart := time.Now()
	tlsCfg := tlsConfigFromDoc(doc)
	dialOpts := grpcdial.DialOptions{Address: address, TLS: tlsCfg, ConnectTimeout: opts.Timeout, UserAgent: "grpctestify"}

	var cc = opts.ConnCache
	if cc == nil {
		cc = grpcdial.NewConnCache()
	}
	conn, err := cc.Get(ctx, dialOpts)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	descSource, err := descriptorSource(ctx, doc, conn, opts.ImportPaths)
	if err != nil {
		return nil, fmt.Errorf("descriptor source: %w", err)
	}

	md, err := grpcdial.ResolveMethod(descSource, endpoint.FullService(), endpoint.Method)
	if err != nil {
		return nil, err
	}
	result.Timing.Connect = time.Since(connectStart)

	headers := headersFromDoc(doc, env)

	invoker := NewInvoker(conn)
	call := newCall()
	handler := &callHandler{call: call}

	runCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	// Streaming modes drive sections in document order against the live
	// stream (spec.md §4.10 step 4), so a REQUEST can consume a variable an
	// earlier RESPONSE's EXTRACT just captured. Unary and UnaryError have one
	// request and at most one response, so the flat buffer-then-compare path
	// below is exact for them. MultiStep documents take the same flat path:
	// only the first REQUEST body is sent, as one unary call, and later
	// REQUEST bodies are not sent.
	var walk *walkResult
	var reqBodies []any
	if p.Mode != plan.ServerStreaming && p.Mode != plan.ClientStreaming && p.Mode != plan.Bidirectional {
		reqBodies, err = requestBodies(doc, env)
		if err != nil {
			return nil, err
		}
	}

	sendStart := time.Now()
	go func() {
		var invokeErr error
		switch p.Mode {
		case plan.ServerStreaming:
			walk, invokeErr = driveServerStreaming(runCtx, invoker, md, doc, env, headers, handler)
		case plan.ClientStreaming:
			walk, invokeErr = driveClientStreaming(runCtx, invoker, md, doc, env, headers, handler)
		case plan.Bidirectional:
			walk, invokeErr = driveBidirectional(runCtx, invoker, md, doc, env, headers, handler)
		default:
			invokeErr = invoker.InvokeUnary(runCtx, md, firstOrNil(reqBodies), headers, handler)
		}
		call.finish(invokeErr)
	}()
	result.Timing.Send = time.Since(sendStart)

	waitStart := time.Now()
	callErr := call.Wait(runCtx)
	result.Timing.Wait = time.Since(waitStart)

	assertStart := time.Now()
	defer func() { result.Timing.Assert = time.Since(assertStart) }()

	if errors.Is(callErr, context.DeadlineExceeded) || errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		result.StatusError = callErr
		result.Passed = false
		result.Diffs = []compare.Diff{{Path: "$", Kind: compare.DiffValueMismatch, Message: fmt.Sprintf("test timed out after %s", opts.Timeout)}}
		return result, nil
	}

	switch p.Mode {
	case plan.ServerStreaming, plan.ClientStreaming, plan.Bidirectional:
		return finishStreamingResult(doc, walk, call, callErr, opts, result)
	}

	responses := call.Responses()
	decoded := make([]any, len(responses))
	for i, dm := range responses {
		v, err := MessageToJSON(dm)
		if err != nil {
			return nil, fmt.Errorf("decode response %d: %w", i, err)
		}
		decoded[i] = v
	}

	errSection, hasErrorSection := doc.First(ast.Error)
	stat := call.Status()

	if hasErrorSection {
		if callErr == nil || stat == nil || stat.Code() == 0 {
			result.Passed = false
			result.Diffs = []compare.Diff{{Path: "$", Kind: compare.DiffValueMismatch, Message: "expected an error status, RPC succeeded"}}
			return result, nil
		}
		diffs, err := compareErrorSection(errSection, stat)
		if err != nil {
			return nil, err
		}
		result.Diffs = diffs
	} else if callErr != nil {
		result.StatusError = callErr
		result.Passed = false
		return result, nil
	} else {
		diffs, err := compareResponseSections(doc, decoded)
		if err != nil {
			return nil, err
		}
		result.Diffs = diffs
	}

	if err := runExtract(doc, decoded, call, env, result); err != nil {
		return nil, err
	}

	if !opts.NoAssert {
		assertions, err := runAsserts(doc, decoded, call, opts.Registry)
		if err != nil {
			return nil, err
		}
		result.Assertions = assertions
	}

	result.Passed = len(result.Diffs) == 0 && allPass(result.Assertions)
	return result, nil
}

// finishStreamingResult turns a walkResult from one of the interleaved
// streaming drivers into a Result, running ASSERTS over the messages the
// driver actually observed.
func finishStreamingResult(doc *ast.Document, walk *walkResult, call *Call, callErr error, opts RunOptions, result *Result) (*Result, error) {
	if walk == nil {
		result.StatusError = callErr
		result.Passed = false
		return result, nil
	}
	if walk.statusErr != nil {
		result.StatusError = walk.statusErr
		result.Passed = false
		return result, nil
	}

	result.Diffs = walk.diffs
	result.Extracted = walk.extracted

	if !opts.NoAssert {
		assertions, err := runAsserts(doc, walk.decoded, call, opts.Registry)
		if err != nil {
			return nil, err
		}
		result.Assertions = assertions
	}

	result.Passed = len(result.Diffs) == 0 && allPass(result.Assertions)
	return result, nil
}

func firstOrNil(bodies []any) any {
	if len(bodies) == 0 {
		return nil
	}
	return bodies[0]
}

func allPass(assertions []AssertionResult) bool {
	for _, a := range assertions {
		if a.Verdict != assertengine.Pass {
			return false
		}
	}
	return true
}

func resolveAddress(doc *ast.Document, opts RunOptions) (string, error) {
	if s, ok := doc.First(ast.Address); ok {
		if sc, ok := s.Content.(ast.StringContent); ok && strings.TrimSpace(string(sc)) != "" {
			return strings.TrimSpace(string(sc)), nil
		}
	}
	if opts.EnvAddress != "" {
		return opts.EnvAddress, nil
	}
	if opts.CallerAddress != "" {
		return opts.CallerAddress, nil
	}
	return "", fmt.Errorf("no address: document has no ADDRESS section, %s is unset, and no caller default was given", envAddressVarOrDefault(opts))
}

func envAddressVarOrDefault(opts RunOptions) string {
	if opts.EnvAddressVar != "" {
		return opts.EnvAddressVar
	}
	return "GRPCTESTIFY_ADDRESS"
}

func tlsConfigFromDoc(doc *ast.Document) grpcdial.TLSConfig {
	s, ok := doc.First(ast.Tls)
	if !ok {
		return grpcdial.TLSConfig{}
	}
	kv, ok := s.Content.(ast.KeyValuesContent)
	if !ok {
		return grpcdial.TLSConfig{}
	}
	cfg := grpcdial.TLSConfig{Enabled: true}
	if v, ok := kv.Values["enabled"]; ok {
		cfg.Enabled = v != "false"
	}
	cfg.CACert = kv.Values["ca_cert"]
	cfg.ClientCert = kv.Values["client_cert"]
	cfg.ClientKey = kv.Values["client_key"]
	cfg.ServerNameOverride = kv.Values["server_name_override"]
	cfg.InsecureSkipVerify, _ = strconv.ParseBool(kv.Values["insecure_skip_verify"])
	return cfg
}

func descriptorSource(ctx context.Context, doc *ast.Document, conn *grpc.ClientConn, importPaths []string) (grpcdial.DescriptorSource, error) {
	if s, ok := doc.First(ast.Proto); ok {
		if kv, ok := s.Content.(ast.KeyValuesContent); ok {
			if files := kv.Values["files"]; files != "" {
				names := strings.Split(files, ",")
				for i := range names {
					names[i] = strings.TrimSpace(names[i])
				}
				paths := importPaths
				if ip := kv.Values["import_paths"]; ip != "" {
					paths = strings.Split(ip, ",")
					for i := range paths {
						paths[i] = strings.TrimSpace(paths[i])
					}
				}
				return grpcdial.FromProtoFiles(paths, names...)
			}
		}
	}
	client := grpcreflect.NewClient(ctx, reflectpb.NewServerReflectionClient(conn))
	return grpcdial.FromServer(ctx, client), nil
}

func requestBodies(doc *ast.Document, env *Environment) ([]any, error) {
	var bodies []any
	for _, s := range doc.Find(ast.Request) {
		switch c := s.Content.(type) {
		case ast.JSONContent:
			v, err := SubstituteJSON(c.Value, env)
			if err != nil {
				return nil, err
			}
			bodies = append(bodies, v)
		case ast.JSONLinesContent:
			for _, raw := range c.Values {
				v, err := SubstituteJSON(raw, env)
				if err != nil {
					return nil, err
				}
				bodies = append(bodies, v)
			}
		case ast.EmptyContent:
			bodies = append(bodies, nil)
		}
	}
	return bodies, nil
}

func headersFromDoc(doc *ast.Document, env *Environment) metadata.MD {
	md := metadata.MD{}
	for _, s := range doc.Find(ast.RequestHeaders) {
		kv, ok := s.Content.(ast.KeyValuesContent)
		if !ok {
			continue
		}
		for _, k := range kv.Keys {
			v, err := Substitute(kv.Values[k], env)
			if err != nil {
				v = kv.Values[k]
			}
			md.Append(k, v)
		}
	}
	return md
}

func compareResponseSections(doc *ast.Document, decoded []any) ([]compare.Diff, error) {
	var diffs []compare.Diff
	idx := 0
	for _, s := range doc.Find(ast.Response) {
		opts := compare.Options{
			Partial:         s.Options.Partial,
			Tolerance:       s.Options.Tolerance,
			Redact:          s.Options.Redact,
			UnorderedArrays: s.Options.UnorderedArrays,
		}
		switch c := s.Content.(type) {
		case ast.JSONContent:
			if idx >= len(decoded) {
				diffs = append(diffs, compare.Diff{Path: "$", Kind: compare.DiffMissingItem, Message: "expected a response message, none received"})
				break
			}
			diffs = append(diffs, compare.Compare(decoded[idx], c.Value, opts)...)
			idx++
		case ast.JSONLinesContent:
			for _, expected := range c.Values {
				if idx >= len(decoded) {
					diffs = append(diffs, compare.Diff{Path: "$", Kind: compare.DiffMissingItem, Message: "expected a response message, none received"})
					continue
				}
				diffs = append(diffs, compare.Compare(decoded[idx], expected, opts)...)
				idx++
			}
		}
	}
	return diffs, nil
}

// compareErrorSection checks an ERROR section's {"code": <int>, "message":
// <substring>} against the status actually returned (spec.md example 5: the
// message is a substring-containment match, not exact equality).
func compareErrorSection(s ast.Section, stat *status.Status) ([]compare.Diff, error) {
	jc, ok := s.Content.(ast.JSONContent)
	if !ok {
		return nil, fmt.Errorf("ERROR section body must be a JSON object")
	}
	expected, ok := jc.Value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("ERROR section body must be a JSON object")
	}

	var diffs []compare.Diff
	if wantCode, ok := expected["code"]; ok {
		wantFloat, ok := wantCode.(float64)
		if !ok {
			return nil, fmt.Errorf("ERROR section's code field must be numeric")
		}
		if codes.Code(wantFloat) != stat.Code() {
			diffs = append(diffs, compare.Diff{
				Path: "$.code", Kind: compare.DiffValueMismatch,
				Actual: float64(stat.Code()), Expected: wantFloat,
				Message: fmt.Sprintf("expected status code %s, got %s", codes.Code(wantFloat), stat.Code()),
			})
		}
	}
	if wantMsg, ok := expected["message"]; ok {
		wantStr, ok := wantMsg.(string)
		if !ok {
			return nil, fmt.Errorf("ERROR section's message field must be a string")
		}
		if !strings.Contains(stat.Message(), wantStr) {
			diffs = append(diffs, compare.Diff{
				Path: "$.message", Kind: compare.DiffValueMismatch,
				Actual: stat.Message(), Expected: wantStr,
				Message: fmt.Sprintf("expected status message to contain %q, got %q", wantStr, stat.Message()),
			})
		}
	}
	return diffs, nil
}

func runExtract(doc *ast.Document, decoded []any, call *Call, env *Environment, result *Result) error {
	for _, s := range doc.Find(ast.Extract) {
		ec, ok := s.Content.(ast.ExtractContent)
		if !ok {
			continue
		}
		var last any
		if len(decoded) > 0 {
			last = decoded[len(decoded)-1]
		}
		for _, entry := range ec.Entries {
			v, err := query.RunPath(entry.Expression, last)
			if err != nil {
				return fmt.Errorf("extract %s: %w", entry.Name, err)
			}
			env.Set(entry.Name, v)
			result.Extracted[entry.Name] = v
		}
	}
	return nil
}

func runAsserts(doc *ast.Document, decoded []any, call *Call, registry *plugins.Registry) ([]AssertionResult, error) {
	engine := assertengine.New(registry)
	headers := mdToMap(call.Headers())
	trailers := mdToMap(call.Trailers())

	var last any
	if len(decoded) > 0 {
		last = decoded[len(decoded)-1]
	}

	var out []AssertionResult
	for i, s := range doc.Sections {
		if s.Type != ast.Asserts {
			continue
		}
		ac, ok := s.Content.(ast.AssertsContent)
		if !ok {
			continue
		}
		fanOut := i > 0 && (doc.Sections[i-1].Type == ast.Response || doc.Sections[i-1].Type == ast.Error) && doc.Sections[i-1].Options.WithAsserts

		for _, line := range ac.Lines {
			if strings.TrimSpace(line) == "" {
				continue
			}
			if fanOut && len(decoded) > 1 {
				allPassed := true
				var msg string
				for _, resp := range decoded {
					oc := engine.Evaluate(line, resp, headers, trailers)
					if oc.Verdict != assertengine.Pass {
						allPassed = false
						msg = oc.Message
						break
					}
				}
				v := assertengine.Pass
				if !allPassed {
					v = assertengine.Fail
				}
				out = append(out, AssertionResult{Expr: line, Verdict: v, Message: msg})
				continue
			}
			oc := engine.Evaluate(line, last, headers, trailers)
			out = append(out, AssertionResult{Expr: line, Verdict: oc.Verdict, Message: oc.Message})
		}
	}
	return out, nil
}

func mdToMap(md metadata.MD) map[string][]string {
	if md == nil {
		return map[string][]string{}
	}
	return map[string][]string(md)
}
