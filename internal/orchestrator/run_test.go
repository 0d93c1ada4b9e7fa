package orchestrator

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gripmock/grpctestify/internal/assertengine"
	"github.com/gripmock/grpctestify/internal/fixture"
	"github.com/gripmock/grpctestify/internal/gctfparser"
	"github.com/gripmock/grpctestify/internal/grpcdial"
	"github.com/gripmock/grpctestify/internal/plan"
	"github.com/gripmock/grpctestify/internal/plugins"
)

func runOpts(cache *grpcdial.ConnCache) RunOptions {
	return RunOptions{
		Timeout:   5 * time.Second,
		Registry:  plugins.NewBuiltinRegistry(),
		ConnCache: cache,
	}
}

func TestRunUnaryCallAgainstFixtureServer(t *testing.T) {
	addr, stop, err := fixture.Start()
	require.NoError(t, err)
	defer stop()

	src := fmt.Sprintf(`--- ADDRESS ---
%s

--- ENDPOINT ---
grpc.testing.TestService/EmptyCall

--- REQUEST ---
{}

--- RESPONSE ---
{}
`, addr)
	doc, err := gctfparser.Parse("t.gctf", src)
	require.NoError(t, err)

	cache := grpcdial.NewConnCache()
	defer cache.CloseAll()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := Run(ctx, doc, runOpts(cache))
	require.NoError(t, err)
	assert.True(t, result.Passed)
	assert.Equal(t, plan.Unary, result.Mode)
	assert.Empty(t, result.Diffs)
	assert.True(t, result.Timing.Connect >= 0)
}

func TestRunErrorSectionMatchesStatus(t *testing.T) {
	addr, stop, err := fixture.Start()
	require.NoError(t, err)
	defer stop()

	src := fmt.Sprintf(`--- ADDRESS ---
%s

--- ENDPOINT ---
grpc.testing.TestService/EmptyCall

--- REQUEST_HEADERS ---
fail-early: 5

--- REQUEST ---
{}

--- ERROR ---
{"code": 5, "message": "fail-early"}
`, addr)
	doc, err := gctfparser.Parse("t.gctf", src)
	require.NoError(t, err)

	cache := grpcdial.NewConnCache()
	defer cache.CloseAll()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := Run(ctx, doc, runOpts(cache))
	require.NoError(t, err)
	assert.True(t, result.Passed)
	assert.Empty(t, result.Diffs)
}

func TestRunErrorSectionMismatchFails(t *testing.T) {
	addr, stop, err := fixture.Start()
	require.NoError(t, err)
	defer stop()

	src := fmt.Sprintf(`--- ADDRESS ---
%s

--- ENDPOINT ---
grpc.testing.TestService/EmptyCall

--- REQUEST_HEADERS ---
fail-early: 5

--- REQUEST ---
{}

--- ERROR ---
{"code": 7, "message": "fail-early"}
`, addr)
	doc, err := gctfparser.Parse("t.gctf", src)
	require.NoError(t, err)

	cache := grpcdial.NewConnCache()
	defer cache.CloseAll()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := Run(ctx, doc, runOpts(cache))
	require.NoError(t, err)
	assert.False(t, result.Passed)
	require.Len(t, result.Diffs, 1)
}

func TestRunSuccessfulCallAgainstErrorExpectationFails(t *testing.T) {
	addr, stop, err := fixture.Start()
	require.NoError(t, err)
	defer stop()

	src := fmt.Sprintf(`--- ADDRESS ---
%s

--- ENDPOINT ---
grpc.testing.TestService/EmptyCall

--- REQUEST ---
{}

--- ERROR ---
{"code": 5}
`, addr)
	doc, err := gctfparser.Parse("t.gctf", src)
	require.NoError(t, err)

	cache := grpcdial.NewConnCache()
	defer cache.CloseAll()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := Run(ctx, doc, runOpts(cache))
	require.NoError(t, err)
	assert.False(t, result.Passed)
}

func TestRunAssertsSection(t *testing.T) {
	addr, stop, err := fixture.Start()
	require.NoError(t, err)
	defer stop()

	src := fmt.Sprintf(`--- ADDRESS ---
%s

--- ENDPOINT ---
grpc.testing.TestService/EmptyCall

--- REQUEST ---
{}

--- RESPONSE ---
{}

--- ASSERTS ---
1 == 1
`, addr)
	doc, err := gctfparser.Parse("t.gctf", src)
	require.NoError(t, err)

	cache := grpcdial.NewConnCache()
	defer cache.CloseAll()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := Run(ctx, doc, runOpts(cache))
	require.NoError(t, err)
	assert.True(t, result.Passed)
	require.Len(t, result.Assertions, 1)
	assert.Equal(t, assertengine.Pass, result.Assertions[0].Verdict)
}

func TestRunFailingAssertFailsOverall(t *testing.T) {
	addr, stop, err := fixture.Start()
	require.NoError(t, err)
	defer stop()

	src := fmt.Sprintf(`--- ADDRESS ---
%s

--- ENDPOINT ---
grpc.testing.TestService/EmptyCall

--- REQUEST ---
{}

--- RESPONSE ---
{}

--- ASSERTS ---
1 == 2
`, addr)
	doc, err := gctfparser.Parse("t.gctf", src)
	require.NoError(t, err)

	cache := grpcdial.NewConnCache()
	defer cache.CloseAll()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := Run(ctx, doc, runOpts(cache))
	require.NoError(t, err)
	assert.False(t, result.Passed)
	require.Len(t, result.Assertions, 1)
	assert.Equal(t, assertengine.Fail, result.Assertions[0].Verdict)
}

func TestRunNoAssertSkipsAssertions(t *testing.T) {
	addr, stop, err := fixture.Start()
	require.NoError(t, err)
	defer stop()

	src := fmt.Sprintf(`--- ADDRESS ---
%s

--- ENDPOINT ---
grpc.testing.TestService/EmptyCall

--- REQUEST ---
{}

--- RESPONSE ---
{}

--- ASSERTS ---
1 == 2
`, addr)
	doc, err := gctfparser.Parse("t.gctf", src)
	require.NoError(t, err)

	cache := grpcdial.NewConnCache()
	defer cache.CloseAll()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	opts := runOpts(cache)
	opts.NoAssert = true
	result, err := Run(ctx, doc, opts)
	require.NoError(t, err)
	assert.True(t, result.Passed)
	assert.Empty(t, result.Assertions)
}

func TestRunDryRunSkipsNetwork(t *testing.T) {
	src := `--- ADDRESS ---
127.0.0.1:1

--- ENDPOINT ---
grpc.testing.TestService/EmptyCall

--- REQUEST ---
{}

--- RESPONSE ---
{}
`
	doc, err := gctfparser.Parse("t.gctf", src)
	require.NoError(t, err)

	opts := runOpts(nil)
	opts.DryRun = true
	result, err := Run(context.Background(), doc, opts)
	require.NoError(t, err)
	assert.True(t, result.Passed)
	assert.Equal(t, plan.Unary, result.Mode)
}

func TestRunMissingAddressErrors(t *testing.T) {
	src := `--- ENDPOINT ---
grpc.testing.TestService/EmptyCall

--- REQUEST ---
{}
`
	doc, err := gctfparser.Parse("t.gctf", src)
	require.NoError(t, err)

	_, err = Run(context.Background(), doc, runOpts(nil))
	assert.Error(t, err)
}

func TestRunMissingEndpointErrors(t *testing.T) {
	src := `--- ADDRESS ---
127.0.0.1:1
`
	doc, err := gctfparser.Parse("t.gctf", src)
	require.NoError(t, err)

	_, err = Run(context.Background(), doc, runOpts(nil))
	assert.Error(t, err)
}

func TestRunExtractFeedsAsserts(t *testing.T) {
	addr, stop, err := fixture.Start()
	require.NoError(t, err)
	defer stop()

	src := fmt.Sprintf(`--- ADDRESS ---
%s

--- ENDPOINT ---
grpc.testing.TestService/UnaryCall

--- REQUEST ---
{}

--- RESPONSE with_asserts=true ---
{}

--- EXTRACT ---
marker = .

--- ASSERTS ---
1 == 1
`, addr)
	doc, err := gctfparser.Parse("t.gctf", src)
	require.NoError(t, err)

	cache := grpcdial.NewConnCache()
	defer cache.CloseAll()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := Run(ctx, doc, runOpts(cache))
	require.NoError(t, err)
	assert.True(t, result.Passed)
	assert.Contains(t, result.Extracted, "marker")
}

// A RESPONSE section "{}" marked partial=true passes regardless of the actual
// payload (no expected keys to check), so these streaming tests lean on it
// to isolate what they actually exercise: the interleaved section order.

func TestRunServerStreamingExtractsFromCorrectResponse(t *testing.T) {
	addr, stop, err := fixture.Start()
	require.NoError(t, err)
	defer stop()

	src := fmt.Sprintf(`--- ADDRESS ---
%s

--- ENDPOINT ---
grpc.testing.TestService/StreamingOutputCall

--- REQUEST ---
{"response_parameters": [{"size": 0}, {"size": 3}]}

--- RESPONSE partial=true ---
{}

--- EXTRACT ---
first = .

--- RESPONSE partial=true ---
{}

--- EXTRACT ---
second = .
`, addr)
	doc, err := gctfparser.Parse("t.gctf", src)
	require.NoError(t, err)

	cache := grpcdial.NewConnCache()
	defer cache.CloseAll()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := Run(ctx, doc, runOpts(cache))
	require.NoError(t, err)
	assert.True(t, result.Passed)
	assert.Equal(t, plan.ServerStreaming, result.Mode)
	require.Contains(t, result.Extracted, "first")
	require.Contains(t, result.Extracted, "second")
	assert.NotEqual(t, result.Extracted["first"], result.Extracted["second"],
		"EXTRACT must resolve against the response observed at its own position, not the last response of the whole stream")
}

func TestRunClientStreamingSendsAllRequests(t *testing.T) {
	addr, stop, err := fixture.Start()
	require.NoError(t, err)
	defer stop()

	src := fmt.Sprintf(`--- ADDRESS ---
%s

--- ENDPOINT ---
grpc.testing.TestService/StreamingInputCall

--- REQUEST ---
{}

--- REQUEST ---
{}

--- RESPONSE ---
{}
`, addr)
	doc, err := gctfparser.Parse("t.gctf", src)
	require.NoError(t, err)

	cache := grpcdial.NewConnCache()
	defer cache.CloseAll()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := Run(ctx, doc, runOpts(cache))
	require.NoError(t, err)
	assert.True(t, result.Passed)
	assert.Equal(t, plan.ClientStreaming, result.Mode)
}

// TestRunBidirectionalExtractFeedsLaterRequest is Testable Properties
// scenario 6: a RESPONSE's EXTRACT output must be available to a REQUEST
// appearing later in the same document, across the request/response
// boundary of a live bidirectional call.
func TestRunBidirectionalExtractFeedsLaterRequest(t *testing.T) {
	addr, stop, err := fixture.Start()
	require.NoError(t, err)
	defer stop()

	src := fmt.Sprintf(`--- ADDRESS ---
%s

--- ENDPOINT ---
grpc.testing.TestService/FullDuplexCall

--- REQUEST ---
{"response_parameters": [{"size": 3}], "response_type": "RANDOM"}

--- RESPONSE partial=true ---
{}

--- EXTRACT ---
auth = .payload.type

--- REQUEST ---
{"response_parameters": [{"size": 1}], "response_type": "{{ auth }}"}

--- RESPONSE partial=true ---
{}
`, addr)
	doc, err := gctfparser.Parse("t.gctf", src)
	require.NoError(t, err)

	cache := grpcdial.NewConnCache()
	defer cache.CloseAll()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := Run(ctx, doc, runOpts(cache))
	require.NoError(t, err, "the second REQUEST substitutes {{ auth }}, which only the first RESPONSE's EXTRACT provides")
	assert.True(t, result.Passed)
	assert.Equal(t, plan.Bidirectional, result.Mode)
	assert.Equal(t, "RANDOM", result.Extracted["auth"])
}
