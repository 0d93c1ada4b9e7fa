package assertengine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gripmock/grpctestify/internal/plugins"
)

func newEngine() *Engine {
	return New(plugins.NewBuiltinRegistry())
}

func TestEvaluateJSONPathEquality(t *testing.T) {
	e := newEngine()
	resp := map[string]any{"name": "bob"}
	out := e.Evaluate(`.name == "bob"`, resp, nil, nil)
	assert.Equal(t, Pass, out.Verdict)

	out = e.Evaluate(`.name == "alice"`, resp, nil, nil)
	assert.Equal(t, Fail, out.Verdict)
}

func TestEvaluateNumericComparison(t *testing.T) {
	e := newEngine()
	resp := map[string]any{"count": 5.0}
	assert.Equal(t, Pass, e.Evaluate(".count > 1", resp, nil, nil).Verdict)
	assert.Equal(t, Fail, e.Evaluate(".count > 10", resp, nil, nil).Verdict)
}

func TestEvaluateMatchesStartsEndsWith(t *testing.T) {
	e := newEngine()
	resp := map[string]any{"name": "hello world"}
	assert.Equal(t, Pass, e.Evaluate(`.name matches "^hello"`, resp, nil, nil).Verdict)
	assert.Equal(t, Pass, e.Evaluate(`.name startsWith "hello"`, resp, nil, nil).Verdict)
	assert.Equal(t, Pass, e.Evaluate(`.name endsWith "world"`, resp, nil, nil).Verdict)
	assert.Equal(t, Fail, e.Evaluate(`.name startsWith "bye"`, resp, nil, nil).Verdict)
}

func TestEvaluateContainsOnArray(t *testing.T) {
	e := newEngine()
	resp := map[string]any{"tags": []any{"a", "b", "c"}}
	assert.Equal(t, Pass, e.Evaluate(`.tags contains "b"`, resp, nil, nil).Verdict)
	assert.Equal(t, Fail, e.Evaluate(`.tags contains "z"`, resp, nil, nil).Verdict)
}

func TestEvaluatePluginBooleanCall(t *testing.T) {
	e := newEngine()
	resp := map[string]any{"id": "550e8400-e29b-41d4-a716-446655440000"}
	out := e.Evaluate(`@uuid(.id)`, resp, nil, nil)
	assert.Equal(t, Pass, out.Verdict)

	resp2 := map[string]any{"id": "not-a-uuid"}
	out2 := e.Evaluate(`@uuid(.id)`, resp2, nil, nil)
	assert.Equal(t, Fail, out2.Verdict)
}

func TestEvaluateHeaderPlugin(t *testing.T) {
	e := newEngine()
	headers := map[string][]string{"X-Request-Id": {"abc123"}}
	out := e.Evaluate(`@header(x-request-id) == "abc123"`, nil, headers, nil)
	assert.Equal(t, Pass, out.Verdict)
}

func TestEvaluateHasHeaderPlugin(t *testing.T) {
	e := newEngine()
	headers := map[string][]string{"X-Trace": {"1"}}
	assert.Equal(t, Pass, e.Evaluate(`@has_header(x-trace)`, nil, headers, nil).Verdict)
	assert.Equal(t, Fail, e.Evaluate(`@has_header(x-missing)`, nil, headers, nil).Verdict)
}

func TestEvaluateUnknownPluginErrors(t *testing.T) {
	e := newEngine()
	out := e.Evaluate(`@nope(.id)`, map[string]any{}, nil, nil)
	assert.Equal(t, Err, out.Verdict)
}

func TestEvaluateJQFallback(t *testing.T) {
	e := newEngine()
	resp := map[string]any{"items": []any{1.0, 2.0, 3.0}}
	out := e.Evaluate(`.items | length == 3`, resp, nil, nil)
	assert.Equal(t, Pass, out.Verdict)
}
