// Package logging contains the structured logger used by the stage controller and its tools.
package logging

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

// GlobalLogLevel is shared by every logger built through this package so that a single debug
// flag raises all of them at once.
var GlobalLogLevel = zap.NewAtomicLevelAt(zap.InfoLevel)

// Logger is a leveled, structured logger. The "w" variants take alternating key/value pairs.
type Logger interface {
	Debug(args ...interface{})
	Debugf(template string, args ...interface{})
	Debugw(msg string, keysAndValues ...interface{})
	Info(args ...interface{})
	Infof(template string, args ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warn(args ...interface{})
	Warnf(template string, args ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Error(args ...interface{})
	Errorf(template string, args ...interface{})
	Errorw(msg string, keysAndValues ...interface{})

	// Sublogger returns a child logger named "<parent>.<subname>".
	Sublogger(subname string) Logger
	Desugar() *zap.Logger
	Sync() error
}

// NewLoggerConfig returns the console configuration used for stdout logging.
func NewLoggerConfig() zap.Config {
	// from https://github.com/uber-go/zap/blob/2314926ec34c23ee21f3dd4399438469668f8097/config.go#L135
	// but disable stacktraces, use same keys as prod, and color levels.
	return zap.Config{
		Level:    GlobalLogLevel,
		Encoding: "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			FunctionKey:    zapcore.OmitKey,
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		DisableStacktrace: true,
		OutputPaths:       []string{"stdout"},
		ErrorOutputPaths:  []string{"stderr"},
	}
}

// NewLogger returns a new logger that outputs Info+ logs to stdout.
func NewLogger(name string) Logger {
	return fromZap(name, zap.Must(NewLoggerConfig().Build()))
}

// NewStderrLogger is like NewLogger but writes to stderr, leaving stdout to command output.
func NewStderrLogger(name string) Logger {
	return fromZap(name, zap.Must(NewStderrLoggerConfig().Build()))
}

// NewStderrLoggerConfig returns NewLoggerConfig with its output moved to stderr.
func NewStderrLoggerConfig() zap.Config {
	cfg := NewLoggerConfig()
	cfg.OutputPaths = []string{"stderr"}
	return cfg
}

// NewDebugLogger returns a new logger that outputs Debug+ logs to stdout. It also lowers the
// global level.
func NewDebugLogger(name string) Logger {
	GlobalLogLevel.SetLevel(zap.DebugLevel)
	return NewLogger(name)
}

// NewTestLogger returns a new logger that writes Debug+ logs through the test's Log method.
func NewTestLogger(tb testing.TB) Logger {
	logger, _ := NewObservedTestLogger(tb)
	return logger
}

// NewObservedTestLogger is like NewTestLogger but also saves logs to an in memory observer.
func NewObservedTestLogger(tb testing.TB) (Logger, *observer.ObservedLogs) {
	observerCore, observedLogs := observer.New(zap.LevelEnablerFunc(zapcore.DebugLevel.Enabled))
	base := zaptest.NewLogger(tb, zaptest.Level(zap.DebugLevel), zaptest.WrapOptions(
		zap.WrapCore(func(c zapcore.Core) zapcore.Core {
			return zapcore.NewTee(c, observerCore)
		}),
	))
	return fromZap("", base), observedLogs
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() Logger {
	return fromZap("", zap.NewNop())
}
