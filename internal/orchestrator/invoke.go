// Dynamic RPC invocation across all four streaming shapes, grounded on the
// teacher's InvocationEventHandler callback surface (format.go's
// DefaultEventHandler) and its DescriptorSource abstraction, generalized
// here to run any of Unary/ServerStreaming/ClientStreaming/Bidirectional
// against a dynamic.Message built from decoded JSON (spec.md §4.8).
package orchestrator

import (
	"context"
	"fmt"

	"github.com/golang/protobuf/jsonpb" //lint:ignore SA1019 required by protoreflect/dynamic's json helpers
	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/dynamic"
	"github.com/jhump/protoreflect/dynamic/grpcdynamic"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// EventHandler receives callbacks during one RPC invocation, mirroring the
// teacher's InvocationEventHandler shape.
type EventHandler interface {
	OnResolveMethod(md *desc.MethodDescriptor)
	OnSendHeaders(md metadata.MD)
	OnReceiveHeaders(md metadata.MD)
	OnReceiveResponse(resp *dynamic.Message)
	OnReceiveTrailers(stat *status.Status, md metadata.MD)
}

// NullEventHandler implements EventHandler with no-op methods; embed it to
// receive only the callbacks you care about.
type NullEventHandler struct{}

func (NullEventHandler) OnResolveMethod(*desc.MethodDescriptor)        {}
func (NullEventHandler) OnSendHeaders(metadata.MD)                     {}
func (NullEventHandler) OnReceiveHeaders(metadata.MD)                  {}
func (NullEventHandler) OnReceiveResponse(*dynamic.Message)            {}
func (NullEventHandler) OnReceiveTrailers(*status.Status, metadata.MD) {}

// Invoker drives dynamic RPCs against one connection.
type Invoker struct {
	stub grpcdynamic.Stub
}

func NewInvoker(cc *grpc.ClientConn) *Invoker {
	return &Invoker{stub: grpcdynamic.NewStub(cc)}
}

func jsonToMessage(md *desc.MethodDescriptor, input bool, body any) (*dynamic.Message, error) {
	var msgDesc *desc.MessageDescriptor
	if input {
		msgDesc = md.GetInputType()
	} else {
		msgDesc = md.GetOutputType()
	}
	msg := dynamic.NewMessage(msgDesc)
	if body == nil {
		return msg, nil
	}
	raw, err := marshalToJSON(body)
	if err != nil {
		return nil, err
	}
	if err := msg.UnmarshalJSON(raw); err != nil {
		return nil, fmt.Errorf("could not unmarshal request into %s: %w", msgDesc.GetFullyQualifiedName(), err)
	}
	return msg, nil
}

// InvokeUnary performs a single request/single response call.
func (inv *Invoker) InvokeUnary(ctx context.Context, md *desc.MethodDescriptor, reqBody any, headers metadata.MD, h EventHandler) error {
	h.OnResolveMethod(md)
	req, err := jsonToMessage(md, true, reqBody)
	if err != nil {
		return err
	}
	ctx = metadata.NewOutgoingContext(ctx, headers)
	h.OnSendHeaders(headers)

	var respHeaders, respTrailers metadata.MD
	resp, err := inv.stub.InvokeRpc(ctx, md, req,
		grpc.Header(&respHeaders), grpc.Trailer(&respTrailers))
	h.OnReceiveHeaders(respHeaders)
	stat := statusFromErr(err)
	if err == nil {
		dm, convErr := toDynamicMessage(md, resp)
		if convErr != nil {
			return convErr
		}
		h.OnReceiveResponse(dm)
	}
	h.OnReceiveTrailers(stat, respTrailers)
	if stat.Err() != nil {
		return stat.Err()
	}
	return nil
}

// toDynamicMessage relies on grpcdynamic.Stub's dynamic codec, which hands
// back a *dynamic.Message whenever the request was built with one (which
// jsonToMessage always does here).
func toDynamicMessage(md *desc.MethodDescriptor, resp any) (*dynamic.Message, error) {
	if dm, ok := resp.(*dynamic.Message); ok {
		return dm, nil
	}
	return nil, fmt.Errorf("unexpected response type %T for method %s", resp, md.GetFullyQualifiedName())
}

func statusFromErr(err error) *status.Status {
	if err == nil {
		return status.New(0, "")
	}
	if s, ok := status.FromError(err); ok {
		return s
	}
	return status.New(2, err.Error())
}

// MessageToJSON decodes a dynamic message back into a plain any value for
// the comparator (spec.md §4.5 works on decoded JSON, not proto messages).
func MessageToJSON(dm *dynamic.Message) (any, error) {
	m := jsonpb.Marshaler{}
	raw, err := dm.MarshalJSONPB(&m)
	if err != nil {
		return nil, err
	}
	var v any
	if err := unmarshalJSON(string(raw), &v); err != nil {
		return nil, err
	}
	return v, nil
}
