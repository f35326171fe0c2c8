package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew_ProductionAndDevelopment(t *testing.T) {
	prod, err := New(false, "warn")
	require.NoError(t, err)
	require.NotNil(t, prod)
	require.False(t, prod.Core().Enabled(zapcore.InfoLevel))

	dev, err := New(true, "")
	require.NoError(t, err)
	require.NotNil(t, dev)
}

func TestNew_RejectsBadLevel(t *testing.T) {
	_, err := New(false, "chatty")
	require.Error(t, err)
}
