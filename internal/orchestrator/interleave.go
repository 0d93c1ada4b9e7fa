// Section-interleaved driving of the three multi-message RPC shapes
// (ServerStreaming, ClientStreaming, Bidirectional). spec.md §4.10 step 4
// requires REQUEST/RESPONSE/EXTRACT sections to be processed in source
// order against the live stream, not buffered and reconciled afterward:
// a REQUEST substitutes against whatever an earlier RESPONSE's EXTRACT
// has captured so far, and an EXTRACT resolves against the response
// actually observed at its point in the document (Testable Properties
// scenario 6).
package orchestrator

import (
	"context"
	"fmt"
	"io"

	"github.com/jhump/protoreflect/desc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/gripmock/grpctestify/internal/ast"
	"github.com/gripmock/grpctestify/internal/compare"
	"github.com/gripmock/grpctestify/internal/query"
)

// walkResult accumulates the outcome of driving one document's sections
// against a live stream in source order.
type walkResult struct {
	decoded   []any
	diffs     []compare.Diff
	extracted map[string]any
	statusErr error // unexpected (not ERROR-section-matched) RPC failure
}

func newWalkResult() *walkResult {
	return &walkResult{extracted: map[string]any{}}
}

func sectionMessageCount(s ast.Section) int {
	if jl, ok := s.Content.(ast.JSONLinesContent); ok {
		return len(jl.Values)
	}
	return 1
}

// requestSectionBodies substitutes one REQUEST section's variables against
// env as it stands right now, so a section processed earlier in the
// document is free to have changed env in the meantime.
func requestSectionBodies(s ast.Section, env *Environment) ([]any, error) {
	switch c := s.Content.(type) {
	case ast.JSONContent:
		v, err := SubstituteJSON(c.Value, env)
		if err != nil {
			return nil, err
		}
		return []any{v}, nil
	case ast.JSONLinesContent:
		out := make([]any, 0, len(c.Values))
		for _, raw := range c.Values {
			v, err := SubstituteJSON(raw, env)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	default:
		return []any{nil}, nil
	}
}

func compareOneSection(s ast.Section, got []any) []compare.Diff {
	opts := compare.Options{
		Partial:         s.Options.Partial,
		Tolerance:       s.Options.Tolerance,
		Redact:          s.Options.Redact,
		UnorderedArrays: s.Options.UnorderedArrays,
	}
	var diffs []compare.Diff
	switch c := s.Content.(type) {
	case ast.JSONContent:
		if len(got) == 0 {
			diffs = append(diffs, compare.Diff{Path: "$", Kind: compare.DiffMissingItem, Message: "expected a response message, none received"})
			break
		}
		diffs = append(diffs, compare.Compare(got[0], c.Value, opts)...)
	case ast.JSONLinesContent:
		for i, expected := range c.Values {
			if i >= len(got) {
				diffs = append(diffs, compare.Diff{Path: "$", Kind: compare.DiffMissingItem, Message: "expected a response message, none received"})
				continue
			}
			diffs = append(diffs, compare.Compare(got[i], expected, opts)...)
		}
	}
	return diffs
}

func extractSection(ec ast.ExtractContent, last any, env *Environment, result *walkResult) error {
	for _, entry := range ec.Entries {
		v, err := query.RunPath(entry.Expression, last)
		if err != nil {
			return fmt.Errorf("extract %s: %w", entry.Name, err)
		}
		env.Set(entry.Name, v)
		result.extracted[entry.Name] = v
	}
	return nil
}

// handleUnexpectedStreamErr folds a mid-stream failure into an ERROR
// section's expectation if the document has one, the same fallback the
// flat Unary path applies.
func handleUnexpectedStreamErr(doc *ast.Document, err error, result *walkResult) error {
	errSection, hasErrorSection := doc.First(ast.Error)
	if !hasErrorSection {
		result.statusErr = err
		return nil
	}
	diffs, cerr := compareErrorSection(errSection, statusFromErr(err))
	if cerr != nil {
		return cerr
	}
	result.diffs = append(result.diffs, diffs...)
	return nil
}

func driveServerStreaming(ctx context.Context, inv *Invoker, md *desc.MethodDescriptor, doc *ast.Document, env *Environment, headers metadata.MD, handler *callHandler) (*walkResult, error) {
	handler.OnResolveMethod(md)
	result := newWalkResult()

	reqSection, hasReq := doc.First(ast.Request)
	var body any
	if hasReq {
		bodies, err := requestSectionBodies(reqSection, env)
		if err != nil {
			return nil, err
		}
		if len(bodies) > 0 {
			body = bodies[0]
		}
	}

	req, err := jsonToMessage(md, true, body)
	if err != nil {
		return nil, err
	}
	ctx = metadata.NewOutgoingContext(ctx, headers)
	handler.OnSendHeaders(headers)

	stream, err := inv.stub.InvokeRpcServerStream(ctx, md, req)
	if err != nil {
		return nil, err
	}
	respHeaders, _ := stream.Header()
	handler.OnReceiveHeaders(respHeaders)

	done := false
	recvNext := func() (any, bool, error) {
		if done {
			return nil, false, nil
		}
		resp, err := stream.RecvMsg()
		if err == io.EOF {
			done = true
			handler.OnReceiveTrailers(status.New(0, ""), stream.Trailer())
			return nil, false, nil
		}
		if err != nil {
			done = true
			handler.OnReceiveTrailers(statusFromErr(err), stream.Trailer())
			return nil, false, err
		}
		dm, convErr := toDynamicMessage(md, resp)
		if convErr != nil {
			done = true
			return nil, false, convErr
		}
		handler.OnReceiveResponse(dm)
		v, convErr := MessageToJSON(dm)
		if convErr != nil {
			return nil, false, convErr
		}
		return v, true, nil
	}

	for _, s := range doc.Sections {
		switch s.Type {
		case ast.Response:
			n := sectionMessageCount(s)
			got := make([]any, 0, n)
			for i := 0; i < n; i++ {
				v, ok, err := recvNext()
				if err != nil {
					if herr := handleUnexpectedStreamErr(doc, err, result); herr != nil {
						return nil, herr
					}
					return result, nil
				}
				if !ok {
					break
				}
				result.decoded = append(result.decoded, v)
				got = append(got, v)
			}
			result.diffs = append(result.diffs, compareOneSection(s, got)...)
		case ast.Error:
			for {
				_, ok, err := recvNext()
				if err != nil {
					diffs, cerr := compareErrorSection(s, statusFromErr(err))
					if cerr != nil {
						return nil, cerr
					}
					result.diffs = append(result.diffs, diffs...)
					return result, nil
				}
				if !ok {
					result.diffs = append(result.diffs, compare.Diff{Path: "$", Kind: compare.DiffValueMismatch, Message: "expected an error status, RPC succeeded"})
					return result, nil
				}
			}
		case ast.Extract:
			ec, ok := s.Content.(ast.ExtractContent)
			if !ok {
				continue
			}
			var last any
			if len(result.decoded) > 0 {
				last = result.decoded[len(result.decoded)-1]
			}
			if err := extractSection(ec, last, env, result); err != nil {
				return nil, err
			}
		}
	}

	for !done {
		if _, _, err := recvNext(); err != nil {
			break
		}
	}
	return result, nil
}

func driveClientStreaming(ctx context.Context, inv *Invoker, md *desc.MethodDescriptor, doc *ast.Document, env *Environment, headers metadata.MD, handler *callHandler) (*walkResult, error) {
	handler.OnResolveMethod(md)
	result := newWalkResult()

	ctx = metadata.NewOutgoingContext(ctx, headers)
	handler.OnSendHeaders(headers)

	stream, err := inv.stub.InvokeRpcClientStream(ctx, md)
	if err != nil {
		return nil, err
	}

	sentAny := false
	for _, s := range doc.Sections {
		if s.Type != ast.Request {
			continue
		}
		bodies, err := requestSectionBodies(s, env)
		if err != nil {
			return nil, err
		}
		for _, body := range bodies {
			req, err := jsonToMessage(md, true, body)
			if err != nil {
				return nil, err
			}
			if err := stream.SendMsg(req); err != nil && err != io.EOF {
				return nil, err
			}
			sentAny = true
		}
	}
	if !sentAny {
		req, err := jsonToMessage(md, true, nil) // no REQUEST section: legacy single empty-object convention
		if err != nil {
			return nil, err
		}
		if err := stream.SendMsg(req); err != nil && err != io.EOF {
			return nil, err
		}
	}

	resp, err := stream.CloseAndReceive()
	respHeaders, _ := stream.Header()
	handler.OnReceiveHeaders(respHeaders)
	stat := statusFromErr(err)

	var last any
	if err == nil {
		dm, convErr := toDynamicMessage(md, resp)
		if convErr != nil {
			return nil, convErr
		}
		handler.OnReceiveResponse(dm)
		v, convErr := MessageToJSON(dm)
		if convErr != nil {
			return nil, convErr
		}
		result.decoded = append(result.decoded, v)
		last = v
	}
	handler.OnReceiveTrailers(stat, stream.Trailer())

	if errSection, hasErrorSection := doc.First(ast.Error); hasErrorSection {
		if err == nil {
			result.diffs = append(result.diffs, compare.Diff{Path: "$", Kind: compare.DiffValueMismatch, Message: "expected an error status, RPC succeeded"})
		} else {
			diffs, cerr := compareErrorSection(errSection, stat)
			if cerr != nil {
				return nil, cerr
			}
			result.diffs = append(result.diffs, diffs...)
		}
	} else if err != nil {
		result.statusErr = err
		return result, nil
	} else {
		for _, s := range doc.Find(ast.Response) {
			result.diffs = append(result.diffs, compareOneSection(s, result.decoded)...)
		}
	}

	for _, s := range doc.Sections {
		if s.Type != ast.Extract {
			continue
		}
		ec, ok := s.Content.(ast.ExtractContent)
		if !ok {
			continue
		}
		if err := extractSection(ec, last, env, result); err != nil {
			return nil, err
		}
	}

	return result, nil
}

func driveBidirectional(ctx context.Context, inv *Invoker, md *desc.MethodDescriptor, doc *ast.Document, env *Environment, headers metadata.MD, handler *callHandler) (*walkResult, error) {
	handler.OnResolveMethod(md)
	result := newWalkResult()

	ctx = metadata.NewOutgoingContext(ctx, headers)
	handler.OnSendHeaders(headers)

	stream, err := inv.stub.InvokeRpcBidiStream(ctx, md)
	if err != nil {
		return nil, err
	}

	lastReqIdx := -1
	for i, s := range doc.Sections {
		if s.Type == ast.Request {
			lastReqIdx = i
		}
	}

	closedSend := false
	closeSend := func() error {
		if closedSend {
			return nil
		}
		closedSend = true
		return stream.CloseSend()
	}

	headersCaptured := false
	done := false
	recvNext := func() (any, bool, error) {
		if done {
			return nil, false, nil
		}
		resp, err := stream.RecvMsg()
		if !headersCaptured {
			respHeaders, _ := stream.Header()
			handler.OnReceiveHeaders(respHeaders)
			headersCaptured = true
		}
		if err == io.EOF {
			done = true
			handler.OnReceiveTrailers(status.New(0, ""), stream.Trailer())
			return nil, false, nil
		}
		if err != nil {
			done = true
			handler.OnReceiveTrailers(statusFromErr(err), stream.Trailer())
			return nil, false, err
		}
		dm, convErr := toDynamicMessage(md, resp)
		if convErr != nil {
			done = true
			return nil, false, convErr
		}
		handler.OnReceiveResponse(dm)
		v, convErr := MessageToJSON(dm)
		if convErr != nil {
			return nil, false, convErr
		}
		return v, true, nil
	}

	if !doc.Has(ast.Request) {
		req, err := jsonToMessage(md, true, nil) // no REQUEST section: legacy single empty-object convention
		if err != nil {
			return nil, err
		}
		if err := stream.SendMsg(req); err != nil {
			return nil, err
		}
	}

	for i, s := range doc.Sections {
		switch s.Type {
		case ast.Request:
			bodies, err := requestSectionBodies(s, env)
			if err != nil {
				return nil, err
			}
			for _, body := range bodies {
				req, err := jsonToMessage(md, true, body)
				if err != nil {
					return nil, err
				}
				if err := stream.SendMsg(req); err != nil {
					return nil, err
				}
			}
			if i == lastReqIdx {
				if err := closeSend(); err != nil {
					return nil, err
				}
			}
		case ast.Response:
			if i > lastReqIdx {
				if err := closeSend(); err != nil {
					return nil, err
				}
			}
			n := sectionMessageCount(s)
			got := make([]any, 0, n)
			for j := 0; j < n; j++ {
				v, ok, err := recvNext()
				if err != nil {
					if herr := handleUnexpectedStreamErr(doc, err, result); herr != nil {
						return nil, herr
					}
					return result, nil
				}
				if !ok {
					break
				}
				result.decoded = append(result.decoded, v)
				got = append(got, v)
			}
			result.diffs = append(result.diffs, compareOneSection(s, got)...)
		case ast.Error:
			if i > lastReqIdx {
				if err := closeSend(); err != nil {
					return nil, err
				}
			}
			for {
				_, ok, err := recvNext()
				if err != nil {
					diffs, cerr := compareErrorSection(s, statusFromErr(err))
					if cerr != nil {
						return nil, cerr
					}
					result.diffs = append(result.diffs, diffs...)
					return result, nil
				}
				if !ok {
					result.diffs = append(result.diffs, compare.Diff{Path: "$", Kind: compare.DiffValueMismatch, Message: "expected an error status, RPC succeeded"})
					return result, nil
				}
			}
		case ast.Extract:
			ec, ok := s.Content.(ast.ExtractContent)
			if !ok {
				continue
			}
			var last any
			if len(result.decoded) > 0 {
				last = result.decoded[len(result.decoded)-1]
			}
			if err := extractSection(ec, last, env, result); err != nil {
				return nil, err
			}
		}
	}

	if err := closeSend(); err != nil {
		return nil, err
	}
	for !done {
		if _, _, err := recvNext(); err != nil {
			break
		}
	}
	return result, nil
}
