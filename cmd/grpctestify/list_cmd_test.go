package main

import (
	"bytes"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gripmock/grpctestify/internal/fixture"
	"github.com/gripmock/grpctestify/internal/grpcdial"
)

func TestListActionListsServices(t *testing.T) {
	addr, stop, err := fixture.Start()
	require.NoError(t, err)
	defer stop()

	cmd := &cobra.Command{}
	var out bytes.Buffer
	cmd.SetOut(&out)

	err = listAction(cmd, addr, "", grpcdial.TLSConfig{})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "grpc.testing.TestService")
}

func TestListActionListsMethodsOfService(t *testing.T) {
	addr, stop, err := fixture.Start()
	require.NoError(t, err)
	defer stop()

	cmd := &cobra.Command{}
	var out bytes.Buffer
	cmd.SetOut(&out)

	err = listAction(cmd, addr, "grpc.testing.TestService", grpcdial.TLSConfig{})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "grpc.testing.TestService.EmptyCall")
}

func TestListActionUnknownServiceErrors(t *testing.T) {
	addr, stop, err := fixture.Start()
	require.NoError(t, err)
	defer stop()

	cmd := &cobra.Command{}
	var out bytes.Buffer
	cmd.SetOut(&out)

	err = listAction(cmd, addr, "does.not.Exist", grpcdial.TLSConfig{})
	assert.Error(t, err)
}
