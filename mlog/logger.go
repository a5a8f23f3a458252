package mlog

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LogConfig struct {
	// Level, accepts "debug", "info", "warn", "error".
	// Default is "info".
	Level string `yaml:"level"`

	// File that logger will be writen into.
	// Default is stderr.
	File string `yaml:"file"`

	// Production enables json output.
	Production bool `yaml:"production"`
}

var (
	stderr = zapcore.Lock(os.Stderr)

	lvl = zap.NewAtomicLevelAt(zap.InfoLevel)

	l = newLogger(lvl, stderr, false)

	s = l.Sugar()

	once sync.Once
)

func NewLogger(lc *LogConfig) (*zap.Logger, error) {
	lvl, err := parseLevel(lc.Level)
	if err != nil {
		return nil, err
	}

	var out zapcore.WriteSyncer
	if lf := lc.File; len(lf) > 0 {
		f, err := os.OpenFile(lf, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		out = zapcore.Lock(f)
	} else {
		out = stderr
	}

	return newLogger(lvl, out, lc.Production), nil
}

// L returns the global logger. It is the stderr fallback until
// InitGlobalLogger replaces it.
func L() *zap.Logger {
	return l
}

// S returns the global sugared logger.
func S() *zap.SugaredLogger {
	return s
}

// InitGlobalLogger replaces the global logger. It has effect only once.
func InitGlobalLogger(lc *LogConfig) error {
	var initErr error
	once.Do(func() {
		logger, err := NewLogger(lc)
		if err != nil {
			initErr = err
			return
		}
		l = logger
		s = l.Sugar()
	})
	return initErr
}

func newLogger(lvl zapcore.LevelEnabler, out zapcore.WriteSyncer, production bool) *zap.Logger {
	var core zapcore.Core
	if production {
		core = zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), out, lvl)
	} else {
		ec := zap.NewDevelopmentEncoderConfig()
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		core = zapcore.NewCore(zapcore.NewConsoleEncoder(ec), out, lvl)
	}
	return zap.New(core)
}

func parseLevel(s string) (zapcore.Level, error) {
	switch s {
	case "debug":
		return zap.DebugLevel, nil
	case "", "info":
		return zap.InfoLevel, nil
	case "warn":
		return zap.WarnLevel, nil
	case "error":
		return zap.ErrorLevel, nil
	default:
		return 0, fmt.Errorf("invalid log level [%s]", s)
	}
}
