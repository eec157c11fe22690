package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestInitialize(t *testing.T) {
	tests := []struct {
		name      string
		level     string
		enabled   zapcore.Level
		expectErr bool
	}{
		{name: "info level", level: "info", enabled: zapcore.InfoLevel},
		{name: "debug level", level: "debug", enabled: zapcore.DebugLevel},
		{name: "upper case warn", level: " WARN ", enabled: zapcore.WarnLevel},
		{name: "unknown level", level: "verbose", expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Initialize(tt.level)
			if tt.expectErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Same(t, Logger, zap.L())
			assert.True(t, Logger.Core().Enabled(tt.enabled))
			assert.False(t, Logger.Core().Enabled(tt.enabled-1))
			Sync()
		})
	}
}

func TestInitializeFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	require.NoError(t, InitializeFromEnv())
	assert.False(t, Logger.Core().Enabled(zapcore.DebugLevel))

	t.Setenv("LOG_LEVEL", "error")
	require.NoError(t, InitializeFromEnv())
	assert.False(t, Logger.Core().Enabled(zapcore.WarnLevel))
}

func TestFor(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	defer restore()

	For("ledger", "Record").Info("Deployment recorded", zap.String("operation", "ledger_record"))

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "ledger", fields["package"])
	assert.Equal(t, "Record", fields["function"])
	assert.Equal(t, "ledger_record", fields["operation"])
}
