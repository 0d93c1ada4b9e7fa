package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gripmock/grpctestify/internal/ast"
	"github.com/gripmock/grpctestify/internal/diagnostics"
)

func validDoc() *ast.Document {
	return &ast.Document{Sections: []ast.Section{
		{Type: ast.Address, Content: ast.StringContent("localhost:50051")},
		{Type: ast.Endpoint, Content: ast.StringContent("pkg.Svc/Method")},
		{Type: ast.Request, Content: ast.JSONContent{Value: map[string]any{"a": 1}}},
		{Type: ast.Response, Content: ast.JSONContent{Value: map[string]any{"b": 2}}},
	}}
}

func TestDiagnoseValidDocHasNoErrors(t *testing.T) {
	diags := Diagnose(validDoc(), Options{})
	for _, d := range diags {
		assert.NotEqual(t, diagnostics.SeverityError, d.Severity, d.Message)
	}
	assert.NoError(t, ValidateHard(validDoc(), Options{}))
}

func TestMissingEndpointIsError(t *testing.T) {
	doc := &ast.Document{Sections: []ast.Section{
		{Type: ast.Response, Content: ast.JSONContent{Value: map[string]any{}}},
	}}
	err := ValidateHard(doc, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ENDPOINT")
}

func TestMalformedEndpointIsError(t *testing.T) {
	doc := &ast.Document{Sections: []ast.Section{
		{Type: ast.Endpoint, Content: ast.StringContent("no-slash-here")},
		{Type: ast.Response, Content: ast.JSONContent{Value: map[string]any{}}},
	}}
	err := ValidateHard(doc, Options{})
	require.Error(t, err)
}

func TestMissingAddressWarnsWithoutEnvOrCaller(t *testing.T) {
	doc := &ast.Document{Sections: []ast.Section{
		{Type: ast.Endpoint, Content: ast.StringContent("pkg.Svc/Method")},
		{Type: ast.Response, Content: ast.JSONContent{Value: map[string]any{}}},
	}}
	diags := Diagnose(doc, Options{})
	found := false
	for _, d := range diags {
		if d.Severity == diagnostics.SeverityWarning {
			found = true
		}
	}
	assert.True(t, found, "expected a warning when ADDRESS is absent with no fallback")

	diags2 := Diagnose(doc, Options{CallerAddress: "localhost:1"})
	for _, d := range diags2 {
		assert.NotContains(t, d.Message, "no ADDRESS section")
	}
}

func TestMissingResultSectionIsError(t *testing.T) {
	doc := &ast.Document{Sections: []ast.Section{
		{Type: ast.Address, Content: ast.StringContent("localhost:1")},
		{Type: ast.Endpoint, Content: ast.StringContent("pkg.Svc/Method")},
	}}
	err := ValidateHard(doc, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RESPONSE")
}

func TestResponseAndErrorConflict(t *testing.T) {
	doc := &ast.Document{Sections: []ast.Section{
		{Type: ast.Address, Content: ast.StringContent("localhost:1")},
		{Type: ast.Endpoint, Content: ast.StringContent("pkg.Svc/Method")},
		{Type: ast.Response, Content: ast.JSONContent{Value: map[string]any{}}},
		{Type: ast.Error, Content: ast.JSONContent{Value: map[string]any{}}},
	}}
	err := ValidateHard(doc, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot coexist")
}

func TestDuplicateSingletonSection(t *testing.T) {
	doc := &ast.Document{Sections: []ast.Section{
		{Type: ast.Address, Content: ast.StringContent("localhost:1")},
		{Type: ast.Address, Content: ast.StringContent("localhost:2")},
		{Type: ast.Endpoint, Content: ast.StringContent("pkg.Svc/Method")},
		{Type: ast.Response, Content: ast.JSONContent{Value: map[string]any{}}},
	}}
	err := ValidateHard(doc, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestRequestJSONShapeMustBeObjectOrArray(t *testing.T) {
	doc := &ast.Document{Sections: []ast.Section{
		{Type: ast.Address, Content: ast.StringContent("localhost:1")},
		{Type: ast.Endpoint, Content: ast.StringContent("pkg.Svc/Method")},
		{Type: ast.Request, Content: ast.JSONContent{Value: "just a string"}},
		{Type: ast.Response, Content: ast.JSONContent{Value: map[string]any{}}},
	}}
	err := ValidateHard(doc, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be an object or array")
}

func TestWithAssertsMustBeFollowedByAsserts(t *testing.T) {
	doc := &ast.Document{Sections: []ast.Section{
		{Type: ast.Address, Content: ast.StringContent("localhost:1")},
		{Type: ast.Endpoint, Content: ast.StringContent("pkg.Svc/Method")},
		{Type: ast.Response, Content: ast.JSONContent{Value: map[string]any{}}, Options: ast.ResponseOptions{WithAsserts: true}},
	}}
	diags := Diagnose(doc, Options{CallerAddress: "x"})
	found := false
	for _, d := range diags {
		if d.Code == diagnostics.CodeValidationError && d.Severity == diagnostics.SeverityWarning {
			found = true
		}
	}
	assert.True(t, found)

	doc.Sections = append(doc.Sections, ast.Section{Type: ast.Asserts, Content: ast.AssertsContent{Lines: []string{".a == 1"}}})
	diags2 := Diagnose(doc, Options{CallerAddress: "x"})
	for _, d := range diags2 {
		assert.NotContains(t, d.Message, "must be immediately followed")
	}
}

func TestInlineOptionsOutsideResponseWarns(t *testing.T) {
	doc := &ast.Document{Sections: []ast.Section{
		{Type: ast.Address, Content: ast.StringContent("localhost:1")},
		{Type: ast.Endpoint, Content: ast.StringContent("pkg.Svc/Method")},
		{Type: ast.Error, Content: ast.JSONContent{Value: map[string]any{}}, Options: ast.ResponseOptions{Partial: true}},
	}}
	diags := Diagnose(doc, Options{CallerAddress: "x"})
	found := false
	for _, d := range diags {
		if d.Message == "inline options have no effect outside RESPONSE" {
			found = true
		}
	}
	assert.True(t, found)
}
