package main

import (
	"bytes"
	"os"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFmtActionPrintsFormattedDocToStdout(t *testing.T) {
	path := writeTempFile(t, "a.gctf", `--- ADDRESS ---
localhost:1

--- ENDPOINT ---
pkg.Svc/Method
`)
	cmd := &cobra.Command{}
	var out bytes.Buffer
	cmd.SetOut(&out)

	err := fmtAction(cmd, []string{path}, false)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "--- ADDRESS ---")

	original, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `--- ADDRESS ---
localhost:1

--- ENDPOINT ---
pkg.Svc/Method
`, string(original))
}

func TestFmtActionWriteInPlace(t *testing.T) {
	path := writeTempFile(t, "b.gctf", "--- ADDRESS ---\nlocalhost:1\n\n--- ENDPOINT ---\npkg.Svc/Method\n")
	cmd := &cobra.Command{}
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)

	err := fmtAction(cmd, []string{path}, true)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "formatted")

	rewritten, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotEmpty(t, rewritten)
}

func TestFmtActionWriteInPlaceSkipsAlreadyFormatted(t *testing.T) {
	path := writeTempFile(t, "c.gctf", "--- ADDRESS ---\nlocalhost:1\n\n--- ENDPOINT ---\npkg.Svc/Method\n")
	cmd := &cobra.Command{}
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)

	require.NoError(t, fmtAction(cmd, []string{path}, true))
	out.Reset()
	require.NoError(t, fmtAction(cmd, []string{path}, true))
	assert.Empty(t, out.String())
}

func TestFmtActionInvalidDocumentErrors(t *testing.T) {
	path := writeTempFile(t, "bad.gctf", "--- REQUEST ---\nnot json\n")
	cmd := &cobra.Command{}
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)

	err := fmtAction(cmd, []string{path}, false)
	assert.Error(t, err)
}
