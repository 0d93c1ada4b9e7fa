package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gripmock/grpctestify/internal/plan"
)

func TestExplainActionTextFormat(t *testing.T) {
	path := writeTempFile(t, "a.gctf", `--- ADDRESS ---
localhost:1

--- ENDPOINT ---
pkg.Svc/Method

--- REQUEST ---
{}

--- RESPONSE ---
{}
`)
	cmd := &cobra.Command{}
	var out bytes.Buffer
	cmd.SetOut(&out)

	err := explainAction(cmd, path, "text")
	require.NoError(t, err)
	assert.Contains(t, out.String(), "mode: Unary")
	assert.Contains(t, out.String(), "step")
}

func TestExplainActionJSONFormat(t *testing.T) {
	path := writeTempFile(t, "b.gctf", `--- ADDRESS ---
localhost:1

--- ENDPOINT ---
pkg.Svc/Method

--- REQUEST ---
{}

--- RESPONSE ---
{}
`)
	cmd := &cobra.Command{}
	var out bytes.Buffer
	cmd.SetOut(&out)

	err := explainAction(cmd, path, "json")
	require.NoError(t, err)

	var p plan.Plan
	require.NoError(t, json.Unmarshal(out.Bytes(), &p))
	assert.Equal(t, plan.Unary, p.Mode)
}

func TestExplainActionMissingFileErrors(t *testing.T) {
	cmd := &cobra.Command{}
	var out bytes.Buffer
	cmd.SetOut(&out)

	err := explainAction(cmd, "/nonexistent/path.gctf", "text")
	assert.Error(t, err)
}
