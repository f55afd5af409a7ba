package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLevels(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		enabled zapcore.Level
		muted   zapcore.Level
	}{
		{"debug level", "debug", zapcore.DebugLevel, zapcore.DebugLevel - 1},
		{"warn level", "WARN", zapcore.WarnLevel, zapcore.InfoLevel},
		{"default info", "", zapcore.InfoLevel, zapcore.DebugLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.level)
			require.NoError(t, err)
			assert.True(t, l.Core().Enabled(tt.enabled))
			assert.False(t, l.Core().Enabled(tt.muted))
		})
	}
}

func TestOrNop(t *testing.T) {
	l := OrNop(nil)
	require.NotNil(t, l.Logger)
	l.Info("discarded", zap.String("k", "v"))

	real := Nop()
	assert.Same(t, real, OrNop(real))
}

func TestWithSession(t *testing.T) {
	l := Nop().WithSession("abc")
	require.NotNil(t, l.Logger)
	l.Debug("tagged")
}
