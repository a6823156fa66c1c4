package utils

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	String   = zap.String
	Int      = zap.Int
	Duration = zap.Duration
	Bool     = zap.Bool
	ErrorF   = zap.Error
	Any      = zap.Any
)

type Field = zap.Field

// Logger provides structured, leveled logging throughout the application.
// The printf-style methods keep call sites short; With attaches structured context.
type Logger struct {
	z *zap.Logger
	s *zap.SugaredLogger
}

// NewLogger creates a Logger writing to stdout at the given level.
// asJSON switches from the coloured console encoder to JSON lines.
func NewLogger(level string, asJSON bool) (*Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("logger: parse level %q: %w", level, err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")

	var enc zapcore.Encoder
	if asJSON {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, zapcore.Lock(os.Stdout), lvl)
	return wrap(zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))), nil
}

// NewNopLogger returns a Logger that discards everything.
func NewNopLogger() *Logger { return wrap(zap.NewNop()) }

func wrap(z *zap.Logger) *Logger {
	return &Logger{z: z, s: z.Sugar()}
}

// With returns a child logger that adds fields to every entry.
func (l *Logger) With(fields ...Field) *Logger {
	return wrap(l.z.With(fields...))
}

func (l *Logger) Info(format string, args ...any)  { l.s.Infof(format, args...) }
func (l *Logger) Warn(format string, args ...any)  { l.s.Warnf(format, args...) }
func (l *Logger) Error(format string, args ...any) { l.s.Errorf(format, args...) }
func (l *Logger) Debug(format string, args ...any) { l.s.Debugf(format, args...) }

// Sync flushes buffered entries.
func (l *Logger) Sync() error { return l.z.Sync() }
