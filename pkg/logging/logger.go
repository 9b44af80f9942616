// Package logging provides structured logging on top of zap. There is no
// package-level global logger: every component that needs one receives it
// explicitly at construction, per spec §9's instruction to replace
// module-level singletons with passed-in context.
package logging

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the structured logging interface consumed throughout the
// engine. Implementations must be safe for concurrent use.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	WithField(key string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
	Sync() error
}

// ZapLogger implements Logger over a *zap.Logger.
type ZapLogger struct {
	logger *zap.Logger
}

// New creates a ZapLogger at the given level ("DEBUG", "INFO", "WARN",
// "ERROR"), writing ISO8601-timestamped console lines to stdout.
func New(levelStr string) (*ZapLogger, error) {
	level, err := ParseLevel(levelStr)
	if err != nil {
		return nil, err
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.AddSync(os.Stdout),
		level,
	)

	logger := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	return &ZapLogger{logger: logger}, nil
}

// ParseLevel parses a log level string into a zapcore.Level.
func ParseLevel(levelStr string) (zapcore.Level, error) {
	switch strings.ToUpper(levelStr) {
	case "", "INFO":
		return zap.InfoLevel, nil
	case "DEBUG":
		return zap.DebugLevel, nil
	case "WARN":
		return zap.WarnLevel, nil
	case "ERROR":
		return zap.ErrorLevel, nil
	default:
		return zap.InfoLevel, fmt.Errorf("invalid log level: %s", levelStr)
	}
}

func toZapFields(fields []interface{}) []zap.Field {
	out := make([]zap.Field, 0, len(fields)/2)
	for i := 0; i+1 < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", fields[i])
		}
		out = append(out, zap.Any(key, fields[i+1]))
	}
	return out
}

func (l *ZapLogger) Debug(msg string, fields ...interface{}) { l.logger.Debug(msg, toZapFields(fields)...) }
func (l *ZapLogger) Info(msg string, fields ...interface{})  { l.logger.Info(msg, toZapFields(fields)...) }
func (l *ZapLogger) Warn(msg string, fields ...interface{})  { l.logger.Warn(msg, toZapFields(fields)...) }
func (l *ZapLogger) Error(msg string, fields ...interface{}) { l.logger.Error(msg, toZapFields(fields)...) }

func (l *ZapLogger) WithField(key string, value interface{}) Logger {
	return &ZapLogger{logger: l.logger.With(zap.Any(key, value))}
}

func (l *ZapLogger) WithFields(fields map[string]interface{}) Logger {
	zfs := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		zfs = append(zfs, zap.Any(k, v))
	}
	return &ZapLogger{logger: l.logger.With(zfs...)}
}

func (l *ZapLogger) Sync() error { return l.logger.Sync() }

// Nop returns a Logger that discards everything, handy for tests.
func Nop() Logger { return &ZapLogger{logger: zap.NewNop()} }
