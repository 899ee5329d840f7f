package logging

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogFile is the rotated JSON log written under the log directory.
const LogFile = "uptimebatch.log"

// NewLogger writes JSON logs to a rotated file in logDir and, when console is
// set, human-readable lines to stderr. An unknown level means info.
func NewLogger(logDir, level string, console bool) (*zap.Logger, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, err
	}
	lvl := zap.InfoLevel
	if l, err := zapcore.ParseLevel(level); err == nil {
		lvl = l
	}

	w := zapcore.AddSync(&lumberjack.Logger{
		Filename:   filepath.Join(logDir, LogFile),
		MaxSize:    10, // MB
		MaxBackups: 5,
		MaxAge:     14, // days
		Compress:   true,
	})
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cores := []zapcore.Core{zapcore.NewCore(zapcore.NewJSONEncoder(cfg), w, lvl)}

	if console {
		ccfg := zap.NewDevelopmentEncoderConfig()
		ccfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(ccfg), zapcore.Lock(os.Stderr), lvl))
	}
	return zap.New(zapcore.NewTee(cores...)), nil
}
