package monitoring

import (
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// TimeLayout is the timestamp format of every log line.
const TimeLayout = "2006-01-02 15:04:05"

func encoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout(TimeLayout)
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.ConsoleSeparator = " - "
	cfg.CallerKey = ""
	return cfg
}

// NewLogger returns a logger writing human-readable lines to console and,
// if file is not nil, the same lines to file.
func NewLogger(console, file io.Writer, debug bool) *zap.Logger {
	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}
	enc := zapcore.NewConsoleEncoder(encoderConfig())
	cores := []zapcore.Core{zapcore.NewCore(enc, zapcore.AddSync(console), level)}
	if file != nil {
		cores = append(cores, zapcore.NewCore(enc.Clone(), zapcore.AddSync(file), level))
	}
	return zap.New(zapcore.NewTee(cores...))
}
