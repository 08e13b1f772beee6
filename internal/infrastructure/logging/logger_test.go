package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		level   zapcore.Level
		wantErr bool
	}{
		{name: "default", cfg: DefaultConfig(), level: zapcore.InfoLevel},
		{name: "development", cfg: DevelopmentConfig(), level: zapcore.DebugLevel},
		{name: "no output paths", cfg: Config{Level: "warn"}, level: zapcore.WarnLevel},
		{name: "bad level", cfg: Config{Level: "loud"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.level, logger.Level())
		})
	}
}

func TestSetLevel(t *testing.T) {
	logger, err := New(DefaultConfig())
	require.NoError(t, err)

	require.NoError(t, logger.SetLevel("debug"))
	assert.Equal(t, zapcore.DebugLevel, logger.Level())
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	// derived loggers share the level
	named := logger.Named("terminal")
	require.NoError(t, logger.SetLevel("error"))
	assert.False(t, named.Core().Enabled(zapcore.WarnLevel))

	assert.Error(t, logger.SetLevel("nope"))
	assert.Equal(t, zapcore.ErrorLevel, logger.Level())
}

func TestNopFallbacks(t *testing.T) {
	assert.NotNil(t, NewNop().Logger)
	assert.NotNil(t, NewDefault().Logger)
	assert.NotNil(t, NewDevelopment().Logger)
}
