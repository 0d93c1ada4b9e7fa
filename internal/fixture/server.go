// Package fixture starts an in-process gRPC server implementing the
// standard grpc_testing.TestService, with reflection enabled, for
// exercising internal/orchestrator and internal/grpcdial end-to-end
// against a real (if synthetic) service. Adapted from the teacher's own
// interop test server (cmd/testserver and its TestServer implementation),
// generalized from the teacher's locally-generated proto types to the
// standard google.golang.org/grpc/interop/grpc_testing package so it needs
// no protoc step of its own.
package fixture

import (
	"context"
	"io"
	"net"
	"strconv"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/interop/grpc_testing"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

// Server implements grpc_testing.TestServiceServer the same way the
// teacher's interop test server does: EmptyCall and UnaryCall echo their
// request payload, the output-streaming calls send one zero-filled payload
// per requested response size, StreamingInputCall replies with the summed
// payload size, and two request-header conventions (reply-with-headers,
// fail-early) let a caller drive header/trailer and error-path behavior
// without a second service.
type Server struct {
	grpc_testing.UnimplementedTestServiceServer
}

const (
	HeaderReplyHeaders = "reply-with-headers"
	HeaderFailEarly    = "fail-early"
)

func (Server) EmptyCall(ctx context.Context, req *grpc_testing.Empty) (*grpc_testing.Empty, error) {
	if err := applyMetadata(ctx); err != nil {
		return nil, err
	}
	return req, nil
}

func (Server) UnaryCall(ctx context.Context, req *grpc_testing.SimpleRequest) (*grpc_testing.SimpleResponse, error) {
	if err := applyMetadata(ctx); err != nil {
		return nil, err
	}
	return &grpc_testing.SimpleResponse{Payload: req.GetPayload()}, nil
}

func (Server) StreamingOutputCall(req *grpc_testing.StreamingOutputCallRequest, str grpc_testing.TestService_StreamingOutputCallServer) error {
	if err := applyMetadata(str.Context()); err != nil {
		return err
	}
	for _, param := range req.GetResponseParameters() {
		body := make([]byte, param.GetSize())
		resp := &grpc_testing.StreamingOutputCallResponse{
			Payload: &grpc_testing.Payload{Type: req.GetResponseType(), Body: body},
		}
		if err := str.Send(resp); err != nil {
			return err
		}
	}
	return nil
}

func (Server) StreamingInputCall(str grpc_testing.TestService_StreamingInputCallServer) error {
	if err := applyMetadata(str.Context()); err != nil {
		return err
	}
	total := 0
	for {
		req, err := str.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		total += len(req.GetPayload().GetBody())
	}
	return str.SendAndClose(&grpc_testing.StreamingInputCallResponse{AggregatedPayloadSize: int32(total)})
}

func (Server) FullDuplexCall(str grpc_testing.TestService_FullDuplexCallServer) error {
	if err := applyMetadata(str.Context()); err != nil {
		return err
	}
	for {
		req, err := str.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		for _, param := range req.GetResponseParameters() {
			body := make([]byte, param.GetSize())
			resp := &grpc_testing.StreamingOutputCallResponse{
				Payload: &grpc_testing.Payload{Type: req.GetResponseType(), Body: body},
			}
			if err := str.Send(resp); err != nil {
				return err
			}
		}
	}
}

func applyMetadata(ctx context.Context) error {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return nil
	}
	if vals := md.Get(HeaderReplyHeaders); len(vals) > 0 {
		_ = grpc.SetHeader(ctx, metadata.Pairs(HeaderReplyHeaders, vals[0]))
	}
	if vals := md.Get(HeaderFailEarly); len(vals) > 0 {
		if code, err := strconv.Atoi(vals[0]); err == nil && codes.Code(code) != codes.OK {
			return status.Error(codes.Code(code), "fail-early requested")
		}
	}
	return nil
}

// Start listens on an ephemeral loopback port, registers Server with
// reflection enabled, and serves in the background. The caller must call
// the returned stop func to shut the listener down.
func Start() (addr string, stop func(), err error) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", nil, err
	}
	srv := grpc.NewServer()
	grpc_testing.RegisterTestServiceServer(srv, Server{})
	reflection.Register(srv)

	go func() { _ = srv.Serve(lis) }()

	return lis.Addr().String(), srv.Stop, nil
}
