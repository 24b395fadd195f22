// Package logging constructs the process-wide zap.Logger. It is intentionally
// a thin package: cmd/tgdl calls Init twice, exactly as the bootstrap/run
// split in the teacher's runApp does — once with hardcoded defaults before
// config is available, and again once Dev/LogLevel are known.
package logging

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

var (
	mu     sync.RWMutex
	logger *zap.Logger
)

// Init (re)configures the package-wide logger. In dev mode it builds a
// colorized console logger; otherwise it builds a JSON logger that writes to
// stdout and to a rotated file under logs/tgdl.log.
func Init(dev bool, level string) *zap.Logger {
	lvl := parseLevel(level)

	var core zapcore.Core
	if dev {
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		core = zapcore.NewCore(zapcore.NewConsoleEncoder(cfg), zapcore.Lock(os.Stdout), lvl)
	} else {
		cfg := zap.NewProductionEncoderConfig()
		cfg.TimeKey = "ts"
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		jsonEncoder := zapcore.NewJSONEncoder(cfg)

		rotator := &lumberjack.Logger{
			Filename:   "logs/tgdl.log",
			MaxSize:    50, // MB
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		}
		core = zapcore.NewTee(
			zapcore.NewCore(jsonEncoder, zapcore.Lock(os.Stdout), lvl),
			zapcore.NewCore(jsonEncoder, zapcore.AddSync(rotator), lvl),
		)
	}

	l := zap.New(core, zap.AddCaller())

	mu.Lock()
	logger = l
	mu.Unlock()
	return l
}

// L returns the current logger. Safe to call before Init (returns a no-op
// logger) so package-init-time code never panics on a nil logger.
func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}

func parseLevel(level string) zapcore.Level {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}
