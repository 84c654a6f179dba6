package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

// TestNew tests the New function.
func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		level zapcore.LevelEnabler
	}{
		{
			name:  "with debug level",
			level: zapcore.DebugLevel,
		},
		{
			name:  "with info level",
			level: zapcore.InfoLevel,
		},
		{
			name:  "with error level",
			level: zapcore.ErrorLevel,
		},
		{
			name:  "with nil level",
			level: nil,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			logger := New(tt.level)
			assert.NotNil(t, logger)
		})
	}
}

// TestParseLogLevel tests the ParseLogLevel function.
func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		expected zapcore.Level
		valid    bool
	}{
		{
			name:     "debug level",
			input:    "debug",
			expected: zapcore.DebugLevel,
			valid:    true,
		},
		{
			name:     "info level",
			input:    "info",
			expected: zapcore.InfoLevel,
			valid:    true,
		},
		{
			name:     "warn level",
			input:    "warn",
			expected: zapcore.WarnLevel,
			valid:    true,
		},
		{
			name:     "error level",
			input:    "error",
			expected: zapcore.ErrorLevel,
			valid:    true,
		},
		{
			name:     "dpanic level",
			input:    "dpanic",
			expected: zapcore.DPanicLevel,
			valid:    true,
		},
		{
			name:     "panic level",
			input:    "panic",
			expected: zapcore.PanicLevel,
			valid:    true,
		},
		{
			name:     "fatal level",
			input:    "fatal",
			expected: zapcore.FatalLevel,
			valid:    true,
		},
		{
			name:     "uppercase debug",
			input:    "DEBUG",
			expected: zapcore.DebugLevel,
			valid:    true,
		},
		{
			name:     "mixed case info",
			input:    "Info",
			expected: zapcore.InfoLevel,
			valid:    true,
		},
		{
			name:     "with spaces",
			input:    " debug ",
			expected: zapcore.DebugLevel,
			valid:    true,
		},
		{
			name:     "invalid level",
			input:    "invalid",
			expected: zapcore.InfoLevel,
			valid:    false,
		},
		{
			name:     "empty string",
			input:    "",
			expected: zapcore.InfoLevel,
			valid:    false,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			level, ok := ParseLogLevel(tt.input)
			assert.Equal(t, tt.expected, level)
			assert.Equal(t, tt.valid, ok)
		})
	}
}

// TestFromContext tests logger retrieval from context.
func TestFromContext(t *testing.T) {
	t.Parallel()

	// A bare context falls back to the global logger.
	assert.Equal(t, Logger(), FromContext(context.Background()))

	// A nil context also falls back to the global logger.
	assert.Equal(t, Logger(), FromContext(nil)) //nolint:staticcheck // Testing nil context handling on purpose.

	// A context carrying a logger returns that logger.
	custom := New(zapcore.ErrorLevel)
	ctx := ToContext(context.Background(), custom)
	assert.Equal(t, custom, FromContext(ctx))
}

// TestSetLevel tests runtime level changes.
func TestSetLevel(t *testing.T) { //nolint:paralleltest // Mutates the global level.
	original := Level()
	defer SetLevel(original)

	SetLevel(zapcore.DebugLevel)
	assert.True(t, IsDebugLevel())

	SetLevel(zapcore.WarnLevel)
	assert.False(t, IsDebugLevel())
}
