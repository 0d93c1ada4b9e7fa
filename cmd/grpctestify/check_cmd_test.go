package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestCheckActionValidDocumentSucceeds(t *testing.T) {
	path := writeTempFile(t, "ok.gctf", `--- ADDRESS ---
localhost:50051

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
	cmd.SetErr(&out)

	err := checkAction(cmd, []string{path}, "")
	assert.NoError(t, err)
}

func TestCheckActionMissingEndpointFails(t *testing.T) {
	path := writeTempFile(t, "bad.gctf", `--- ADDRESS ---
localhost:50051
`)
	cmd := &cobra.Command{}
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)

	err := checkAction(cmd, []string{path}, "")
	assert.Error(t, err)
	assert.Contains(t, out.String(), "error")
}

func TestCheckActionAddressFlagSilencesMissingAddressWarning(t *testing.T) {
	path := writeTempFile(t, "noaddr.gctf", `--- ENDPOINT ---
pkg.Svc/Method

--- REQUEST ---
{}

--- RESPONSE ---
{}
`)
	cmd := &cobra.Command{}
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)

	err := checkAction(cmd, []string{path}, "localhost:50051")
	assert.NoError(t, err)
	assert.NotContains(t, out.String(), "no ADDRESS section")
}
