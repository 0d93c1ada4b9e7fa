package applog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewDefaultLevelIsInfo(t *testing.T) {
	logger, err := New(false)
	require.NoError(t, err)
	defer logger.Sync() //nolint:errcheck

	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))
	assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))
}

func TestNewVerboseEnablesDebug(t *testing.T) {
	logger, err := New(true)
	require.NoError(t, err)
	defer logger.Sync() //nolint:errcheck

	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))
}

func TestNewNopDiscardsEverything(t *testing.T) {
	logger := NewNop()
	require.NotNil(t, logger)
	logger.Info("this should be discarded")
}
