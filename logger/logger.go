package logger

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DefaultLevel is used when LOG_LEVEL is unset
const DefaultLevel = "info"

var (
	// Logger is the global logger instance. It discards everything until
	// Initialize runs, so packages can log from tests without setup.
	Logger *zap.Logger = zap.NewNop()
)

// Initialize installs the global logger at level. "debug" selects the
// development encoder; every other level logs JSON.
func Initialize(level string) error {
	level = strings.ToLower(strings.TrimSpace(level))

	var config zap.Config
	if level == "debug" {
		config = zap.NewDevelopmentConfig()
	} else {
		config = zap.NewProductionConfig()
	}
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return err
	}
	config.Level = zap.NewAtomicLevelAt(zapLevel)

	built, err := config.Build()
	if err != nil {
		return err
	}
	Logger = built
	zap.ReplaceGlobals(Logger)
	return nil
}

// InitializeFromEnv reads LOG_LEVEL directly. Entry points call it before the
// configuration is loaded so that configuration errors are logged too.
func InitializeFromEnv() error {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = DefaultLevel
	}
	return Initialize(level)
}

// For returns the global logger tagged with the package and function fields
// every log line of this module carries.
func For(pkg, function string) *zap.Logger {
	return zap.L().With(
		zap.String("package", pkg),
		zap.String("function", function),
	)
}

// Sync flushes any buffered log entries
func Sync() {
	if Logger != nil {
		_ = Logger.Sync()
	}
}
