package gctffmt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gripmock/grpctestify/internal/ast"
	"github.com/gripmock/grpctestify/internal/gctfparser"
)

func TestFormatStringAndJSONSections(t *testing.T) {
	doc := &ast.Document{Sections: []ast.Section{
		{Type: ast.Address, Content: ast.StringContent("localhost:1")},
		{Type: ast.Endpoint, Content: ast.StringContent("pkg.Svc/Method")},
		{Type: ast.Request, Content: ast.JSONContent{Value: map[string]any{"a": 1.0}}},
		{Type: ast.Response, Content: ast.JSONContent{Value: map[string]any{"b": 2.0}}},
	}}
	out, err := Format(doc)
	require.NoError(t, err)
	assert.Contains(t, out, "--- ADDRESS ---")
	assert.Contains(t, out, "localhost:1")
	assert.Contains(t, out, "--- ENDPOINT ---")
	assert.Contains(t, out, "--- REQUEST ---")
	assert.Contains(t, out, "--- RESPONSE ---")
	assert.True(t, out[len(out)-1] == '\n')
}

func TestFormatResponseInlineOptions(t *testing.T) {
	tol := 0.5
	doc := &ast.Document{Sections: []ast.Section{
		{Type: ast.Response, Content: ast.JSONContent{Value: map[string]any{}},
			Options: ast.ResponseOptions{WithAsserts: true, Partial: true, Tolerance: &tol, Redact: []string{"a", "b"}}},
	}}
	out, err := Format(doc)
	require.NoError(t, err)
	assert.Contains(t, out, "with_asserts=true")
	assert.Contains(t, out, "partial=true")
	assert.Contains(t, out, "tolerance=0.5")
	assert.Contains(t, out, "redact=[a,b]")
}

func TestFormatKeyValuesSorted(t *testing.T) {
	doc := &ast.Document{Sections: []ast.Section{
		{Type: ast.RequestHeaders, Content: ast.KeyValuesContent{
			Keys:   []string{"zeta", "alpha"},
			Values: map[string]string{"zeta": "1", "alpha": "2"},
		}},
	}}
	out, err := Format(doc)
	require.NoError(t, err)
	alphaIdx := indexOf(out, "alpha:")
	zetaIdx := indexOf(out, "zeta:")
	assert.True(t, alphaIdx >= 0 && zetaIdx >= 0 && alphaIdx < zetaIdx)
}

func TestFormatExtractSorted(t *testing.T) {
	doc := &ast.Document{Sections: []ast.Section{
		{Type: ast.Extract, Content: ast.ExtractContent{Entries: []ast.ExtractEntry{
			{Name: "zeta", Expression: ".z"},
			{Name: "alpha", Expression: ".a"},
		}}},
	}}
	out, err := Format(doc)
	require.NoError(t, err)
	assert.Contains(t, out, "alpha = .a")
	assert.Contains(t, out, "zeta = .z")
}

func TestFormatRoundTripIsIdempotent(t *testing.T) {
	src := `--- ADDRESS ---
localhost:50051

--- ENDPOINT ---
pkg.Svc/Method

--- REQUEST ---
{"name": "world"}

--- RESPONSE ---
{"greeting": "hello"}
`
	doc, err := gctfparser.Parse("t.gctf", src)
	require.NoError(t, err)
	out1, err := Format(doc)
	require.NoError(t, err)

	doc2, err := gctfparser.Parse("t.gctf", out1)
	require.NoError(t, err)
	out2, err := Format(doc2)
	require.NoError(t, err)

	assert.Equal(t, out1, out2)
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
