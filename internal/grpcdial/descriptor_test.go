package grpcdial

import (
	"context"
	"testing"
	"time"

	"github.com/jhump/protoreflect/grpcreflect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	reflectpb "google.golang.org/grpc/reflection/grpc_reflection_v1alpha"

	"github.com/gripmock/grpctestify/internal/fixture"
)

func TestFromServerListsServicesViaReflection(t *testing.T) {
	addr, stop, err := fixture.Start()
	require.NoError(t, err)
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cc, err := Dial(ctx, DialOptions{Address: addr, ConnectTimeout: 5 * time.Second})
	require.NoError(t, err)
	defer cc.Close()

	refClient := grpcreflect.NewClient(ctx, reflectpb.NewServerReflectionClient(cc))
	defer refClient.Reset()

	src := FromServer(ctx, refClient)
	svcs, err := src.ListServices()
	require.NoError(t, err)
	assert.Contains(t, svcs, "grpc.testing.TestService")
}

func TestResolveMethodFindsMethodDescriptor(t *testing.T) {
	addr, stop, err := fixture.Start()
	require.NoError(t, err)
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cc, err := Dial(ctx, DialOptions{Address: addr, ConnectTimeout: 5 * time.Second})
	require.NoError(t, err)
	defer cc.Close()

	refClient := grpcreflect.NewClient(ctx, reflectpb.NewServerReflectionClient(cc))
	defer refClient.Reset()
	src := FromServer(ctx, refClient)

	mtd, err := ResolveMethod(src, "grpc.testing.TestService", "UnaryCall")
	require.NoError(t, err)
	assert.Equal(t, "UnaryCall", mtd.GetName())
}

func TestResolveMethodUnknownService(t *testing.T) {
	addr, stop, err := fixture.Start()
	require.NoError(t, err)
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cc, err := Dial(ctx, DialOptions{Address: addr, ConnectTimeout: 5 * time.Second})
	require.NoError(t, err)
	defer cc.Close()

	refClient := grpcreflect.NewClient(ctx, reflectpb.NewServerReflectionClient(cc))
	defer refClient.Reset()
	src := FromServer(ctx, refClient)

	_, err = ResolveMethod(src, "does.not.Exist", "Method")
	assert.Error(t, err)
}
