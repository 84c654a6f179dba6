package logger

import (
	"context"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type loggerContextKey struct{}

//nolint:gochecknoglobals // The package keeps a single process-wide logger, guarded by an atomic level.
var (
	// globalLevel controls the level of the global logger and can be changed at runtime.
	globalLevel = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	// globalLogger is the process-wide logger used by the package-level helpers.
	globalLogger = New(globalLevel)
)

// New creates a new sugared Zap logger writing to stderr with the given level.
// A nil level enabler defaults to the package's global level.
func New(level zapcore.LevelEnabler, options ...zap.Option) *zap.SugaredLogger {
	if level == nil {
		level = globalLevel
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.Lock(os.Stderr),
		level)

	return zap.New(core, options...).Sugar()
}

// Logger returns the global logger.
func Logger() *zap.SugaredLogger {
	return globalLogger
}

// SetLogger replaces the global logger.
func SetLogger(logger *zap.SugaredLogger) {
	if logger != nil {
		globalLogger = logger
	}
}

// SetLevel changes the level of the global logger at runtime.
func SetLevel(level zapcore.Level) {
	globalLevel.SetLevel(level)
}

// Level returns the current level of the global logger.
func Level() zapcore.Level {
	return globalLevel.Level()
}

// IsDebugLevel reports whether the global logger emits debug entries.
func IsDebugLevel() bool {
	return globalLevel.Enabled(zapcore.DebugLevel)
}

// ParseLogLevel converts a textual log level into a Zap level.
// It returns the info level and false when the input is not recognized.
func ParseLogLevel(level string) (zapcore.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel, true
	case "info":
		return zapcore.InfoLevel, true
	case "warn", "warning":
		return zapcore.WarnLevel, true
	case "error":
		return zapcore.ErrorLevel, true
	case "dpanic":
		return zapcore.DPanicLevel, true
	case "panic":
		return zapcore.PanicLevel, true
	case "fatal":
		return zapcore.FatalLevel, true
	default:
		return zapcore.InfoLevel, false
	}
}

// ToContext stores a logger in the context,
// making it the logger of choice for all package-level helpers called with that context.
func ToContext(ctx context.Context, logger *zap.SugaredLogger) context.Context {
	return context.WithValue(ctx, loggerContextKey{}, logger)
}

// FromContext retrieves the logger stored in the context, falling back to the global one.
func FromContext(ctx context.Context) *zap.SugaredLogger {
	if ctx != nil {
		if logger, ok := ctx.Value(loggerContextKey{}).(*zap.SugaredLogger); ok && logger != nil {
			return logger
		}
	}

	return globalLogger
}

// Debugf logs a formatted message at debug level using the context's logger.
func Debugf(ctx context.Context, format string, args ...any) {
	FromContext(ctx).Debugf(format, args...)
}

// Infof logs a formatted message at info level using the context's logger.
func Infof(ctx context.Context, format string, args ...any) {
	FromContext(ctx).Infof(format, args...)
}

// Warnf logs a formatted message at warn level using the context's logger.
func Warnf(ctx context.Context, format string, args ...any) {
	FromContext(ctx).Warnf(format, args...)
}

// Errorf logs a formatted message at error level using the context's logger.
func Errorf(ctx context.Context, format string, args ...any) {
	FromContext(ctx).Errorf(format, args...)
}

// Fatalf logs a formatted message at fatal level using the context's logger and exits.
func Fatalf(ctx context.Context, format string, args ...any) {
	FromContext(ctx).Fatalf(format, args...)
}
