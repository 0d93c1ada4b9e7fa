package plugins

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPlugin struct{ name string }

func (s stubPlugin) Name() string         { return s.name }
func (s stubPlugin) Description() string  { return "" }
func (s stubPlugin) Signature() Signature { return Signature{} }
func (s stubPlugin) Execute([]string, *Context) (Result, error) {
	return Result{}, nil
}

func TestRegistryHasAndLookup(t *testing.T) {
	r := NewRegistry(stubPlugin{name: "uuid"}, stubPlugin{name: "email"})
	assert.True(t, r.Has("uuid"))
	assert.False(t, r.Has("nope"))

	p, ok := r.Lookup("email")
	require.True(t, ok)
	assert.Equal(t, "email", p.Name())

	_, ok = r.Lookup("missing")
	assert.False(t, ok)
}

func TestRegistryClosestNameWithinThreshold(t *testing.T) {
	r := NewBuiltinRegistry()
	assert.Equal(t, "uuid", r.ClosestName("uuidd"))
	assert.Equal(t, "header", r.ClosestName("headr"))
}

func TestRegistryClosestNameBeyondThreshold(t *testing.T) {
	r := NewBuiltinRegistry()
	assert.Equal(t, "", r.ClosestName("completely_unrelated_name"))
}

func TestUUIDPlugin(t *testing.T) {
	p := uuidPlugin{}
	res, err := p.Execute([]string{"550e8400-e29b-41d4-a716-446655440000"}, &Context{})
	require.NoError(t, err)
	assert.True(t, res.Pass)

	res, err = p.Execute([]string{"not-a-uuid"}, &Context{})
	require.NoError(t, err)
	assert.False(t, res.Pass)
}

func TestEmailPlugin(t *testing.T) {
	p := emailPlugin{}
	res, _ := p.Execute([]string{"a@b.com"}, &Context{})
	assert.True(t, res.Pass)
	res, _ = p.Execute([]string{"not-an-email"}, &Context{})
	assert.False(t, res.Pass)
}

func TestIPPlugin(t *testing.T) {
	p := ipPlugin{}
	res, _ := p.Execute([]string{"127.0.0.1"}, &Context{})
	assert.True(t, res.Pass)
	res, _ = p.Execute([]string{"::1"}, &Context{})
	assert.True(t, res.Pass)
	res, _ = p.Execute([]string{"not-an-ip"}, &Context{})
	assert.False(t, res.Pass)
}

func TestURLPlugin(t *testing.T) {
	p := urlPlugin{}
	res, _ := p.Execute([]string{"https://example.com/path"}, &Context{})
	assert.True(t, res.Pass)
	res, _ = p.Execute([]string{"/just/a/path"}, &Context{})
	assert.False(t, res.Pass)
}

func TestTimestampPlugin(t *testing.T) {
	p := timestampPlugin{}
	res, _ := p.Execute([]string{"2024-01-01T00:00:00Z"}, &Context{})
	assert.True(t, res.Pass)
	res, _ = p.Execute([]string{"not-a-timestamp"}, &Context{})
	assert.False(t, res.Pass)
}

func TestLenPlugin(t *testing.T) {
	p := lenPlugin{}
	res, err := p.Execute([]string{`"hello"`}, &Context{})
	require.NoError(t, err)
	assert.Equal(t, float64(5), res.Value)

	_, err = p.Execute([]string{"true"}, &Context{})
	assert.Error(t, err)
}

func TestEmptyPlugin(t *testing.T) {
	p := emptyPlugin{}
	res, _ := p.Execute([]string{`""`}, &Context{})
	assert.True(t, res.Pass)
	res, _ = p.Execute([]string{`"x"`}, &Context{})
	assert.False(t, res.Pass)
}

func TestHeaderPlugins(t *testing.T) {
	ctx := &Context{Headers: map[string][]string{"X-Request-Id": {"abc123"}}}

	h := headerPlugin{}
	res, err := h.Execute([]string{"x-request-id"}, ctx)
	require.NoError(t, err)
	assert.Equal(t, "abc123", res.Value)

	_, err = h.Execute([]string{"missing"}, ctx)
	assert.Error(t, err)

	hh := hasHeaderPlugin{}
	res, _ = hh.Execute([]string{"X-REQUEST-ID"}, ctx)
	assert.True(t, res.Pass)
	res, _ = hh.Execute([]string{"nope"}, ctx)
	assert.False(t, res.Pass)
}

func TestTrailerPlugins(t *testing.T) {
	ctx := &Context{Trailers: map[string][]string{"grpc-status-details": {"ok"}}}

	tr := trailerPlugin{}
	res, err := tr.Execute([]string{"grpc-status-details"}, ctx)
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Value)

	ht := hasTrailerPlugin{}
	res, _ = ht.Execute([]string{"grpc-status-details"}, ctx)
	assert.True(t, res.Pass)
	res, _ = ht.Execute([]string{"nope"}, ctx)
	assert.False(t, res.Pass)
}

func TestRegexPlugin(t *testing.T) {
	p := regexPlugin{}
	res, err := p.Execute([]string{"^hel+o$", `"hello"`}, &Context{})
	require.NoError(t, err)
	assert.True(t, res.Pass)

	_, err = p.Execute([]string{"(unclosed", `"x"`}, &Context{})
	assert.Error(t, err)
}

func TestEnvPlugin(t *testing.T) {
	t.Setenv("GRPCTESTIFY_PLUGIN_TEST_VAR", "hi")
	p := envPlugin{}
	res, err := p.Execute([]string{"GRPCTESTIFY_PLUGIN_TEST_VAR"}, &Context{})
	require.NoError(t, err)
	assert.Equal(t, "hi", res.Value)

	_, err = p.Execute([]string{"GRPCTESTIFY_PLUGIN_TEST_VAR_UNSET"}, &Context{})
	assert.Error(t, err)
}

func TestResolveArgValueLiterals(t *testing.T) {
	assert.Equal(t, "hi", resolveArgValue(`"hi"`, &Context{}))
	assert.Equal(t, true, resolveArgValue("true", &Context{}))
	assert.Equal(t, false, resolveArgValue("false", &Context{}))
	assert.Equal(t, 42.0, resolveArgValue("42", &Context{}))
	assert.Equal(t, "raw", resolveArgValue("raw", &Context{}))
}

func TestExternalPluginSuccess(t *testing.T) {
	p := &externalPlugin{
		manifest: ExternalManifest{PluginName: "custom", Executable: "custom-bin", Sig: Signature{ReturnKind: ReturnBoolean}},
		runCmd: func(name string, args []string, stdin []byte) ([]byte, error) {
			assert.Equal(t, "custom-bin", name)
			return []byte(`{"result": true}`), nil
		},
	}
	res, err := p.Execute([]string{"arg1"}, &Context{})
	require.NoError(t, err)
	assert.True(t, res.IsAssertion)
	assert.True(t, res.Pass)
}

func TestExternalPluginValueResult(t *testing.T) {
	p := &externalPlugin{
		manifest: ExternalManifest{PluginName: "custom", Executable: "custom-bin"},
		runCmd: func(name string, args []string, stdin []byte) ([]byte, error) {
			return []byte(`{"result": "hello"}`), nil
		},
	}
	res, err := p.Execute(nil, &Context{})
	require.NoError(t, err)
	assert.False(t, res.IsAssertion)
	assert.Equal(t, "hello", res.Value)
}

func TestExternalPluginErrorResult(t *testing.T) {
	p := &externalPlugin{
		manifest: ExternalManifest{PluginName: "custom", Executable: "custom-bin"},
		runCmd: func(name string, args []string, stdin []byte) ([]byte, error) {
			return []byte(`{"error": "boom"}`), nil
		},
	}
	_, err := p.Execute(nil, &Context{})
	assert.Error(t, err)
}

func TestExternalPluginRunCmdFailure(t *testing.T) {
	p := &externalPlugin{
		manifest: ExternalManifest{PluginName: "custom", Executable: "custom-bin"},
		runCmd: func(name string, args []string, stdin []byte) ([]byte, error) {
			return nil, fmt.Errorf("exec failed")
		},
	}
	_, err := p.Execute(nil, &Context{})
	assert.Error(t, err)
}
