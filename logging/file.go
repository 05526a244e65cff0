package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileConfig describes a rotated JSON log file written next to the console output.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	Compress   bool
}

// NewFileLogger returns a logger that writes through console and additionally appends JSON lines
// to a size-rotated file. The returned closer flushes and closes the file.
func NewFileLogger(name string, console zap.Config, fileCfg FileConfig) (Logger, func() error) {
	rotator := &lumberjack.Logger{
		Filename:   fileCfg.Path,
		MaxSize:    fileCfg.MaxSizeMB,
		MaxBackups: fileCfg.MaxBackups,
		Compress:   fileCfg.Compress,
	}
	if rotator.MaxSize == 0 {
		rotator.MaxSize = 16
	}
	if rotator.MaxBackups == 0 {
		rotator.MaxBackups = 2
	}

	encCfg := NewLoggerConfig().EncoderConfig
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(rotator), GlobalLogLevel)

	base := zap.Must(console.Build()).WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, fileCore)
	}))
	logger := fromZap(name, base)
	return logger, func() error {
		//nolint:errcheck
		logger.Sync()
		return rotator.Close()
	}
}
