// Package logger provides the structured logger shared by every service.
package logger

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Logger interface {
	Info(message string, fields map[string]interface{})
	Error(message string, fields map[string]interface{})
	Warn(message string, fields map[string]interface{})
	Debug(message string, fields map[string]interface{})
	Fatal(message string, fields map[string]interface{})
}

type zapLogger struct {
	logger *zap.Logger
}

// New returns a JSON logger tagged with serviceName. LOG_LEVEL selects the
// minimum level (debug, info, warn, error).
func New(serviceName string) Logger {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(os.Getenv("LOG_LEVEL")))

	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		l = zap.NewExample()
	}

	return &zapLogger{logger: l.With(zap.String("service", serviceName))}
}

// FromZap adapts an existing zap logger.
func FromZap(l *zap.Logger) Logger {
	return &zapLogger{logger: l}
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func toZapFields(fields map[string]interface{}) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	out := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		out = append(out, zap.Any(k, v))
	}
	return out
}

func (l *zapLogger) Info(message string, fields map[string]interface{}) {
	l.logger.Info(message, toZapFields(fields)...)
}

func (l *zapLogger) Error(message string, fields map[string]interface{}) {
	l.logger.Error(message, toZapFields(fields)...)
}

func (l *zapLogger) Warn(message string, fields map[string]interface{}) {
	l.logger.Warn(message, toZapFields(fields)...)
}

func (l *zapLogger) Debug(message string, fields map[string]interface{}) {
	l.logger.Debug(message, toZapFields(fields)...)
}

func (l *zapLogger) Fatal(message string, fields map[string]interface{}) {
	l.logger.Fatal(message, toZapFields(fields)...)
}

func NewNop() Logger {
	return &nopLogger{}
}

type nopLogger struct{}

func (l *nopLogger) Info(message string, fields map[string]interface{})  {}
func (l *nopLogger) Error(message string, fields map[string]interface{}) {}
func (l *nopLogger) Warn(message string, fields map[string]interface{})  {}
func (l *nopLogger) Debug(message string, fields map[string]interface{}) {}
func (l *nopLogger) Fatal(message string, fields map[string]interface{}) {}
