package config

import (
	"os"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	v, err := Load(nil)
	require.NoError(t, err)
	cfg := FromViper(v)

	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, 0, cfg.Parallel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "name", cfg.Sort)
	assert.Equal(t, "text", cfg.CoverageFormat)
}

func TestLoadBindsFlags(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String(KeyAddress, "", "")
	flags.Int(KeyParallel, 0, "")
	require.NoError(t, flags.Set(KeyAddress, "localhost:9999"))
	require.NoError(t, flags.Set(KeyParallel, "4"))

	v, err := Load(flags)
	require.NoError(t, err)
	cfg := FromViper(v)

	assert.Equal(t, "localhost:9999", cfg.Address)
	assert.Equal(t, 4, cfg.Parallel)
}

func TestLoadReadsEnvVar(t *testing.T) {
	t.Setenv("GRPCTESTIFY_ADDRESS", "envhost:1234")
	v, err := Load(nil)
	require.NoError(t, err)
	cfg := FromViper(v)
	assert.Equal(t, "envhost:1234", cfg.Address)
}

func TestEnvAddressHelper(t *testing.T) {
	os.Unsetenv("GRPCTESTIFY_ADDRESS")
	v, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, "", EnvAddress(v))
}
