package utils

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel represents an enumeration of log levels
type LogLevel int

const (
	Critical LogLevel = 50
	Fatal    LogLevel = Critical
	Error    LogLevel = 40
	Warning  LogLevel = 30
	Info     LogLevel = 20
	Debug    LogLevel = 10
	NotSet   LogLevel = 0
)

func (l LogLevel) zapLevel() zapcore.Level {
	switch {
	case l >= Error:
		return zapcore.ErrorLevel
	case l >= Warning:
		return zapcore.WarnLevel
	case l >= Info:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}

// ParseLogLevel maps a level name ("debug", "info", "warn", "error") to a LogLevel.
// Unknown names fall back to Info.
func ParseLogLevel(name string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return Debug
	case "warn", "warning":
		return Warning
	case "error":
		return Error
	case "critical", "fatal":
		return Critical
	default:
		return Info
	}
}

// output is shared by every Logger created through NewLogger.
var output = struct {
	sync.RWMutex
	encoder zapcore.Encoder
	sink    zapcore.WriteSyncer
	level   LogLevel
}{
	encoder: zapcore.NewConsoleEncoder(encoderConfig()),
	sink:    zapcore.Lock(os.Stdout),
	level:   Info,
}

func encoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return cfg
}

// ConfigureLogging sets the default level and encoding for loggers created afterwards.
// format is "json" or "console".
func ConfigureLogging(level string, format string) error {
	var encoder zapcore.Encoder
	switch strings.ToLower(format) {
	case "", "console":
		encoder = zapcore.NewConsoleEncoder(encoderConfig())
	case "json":
		encoder = zapcore.NewJSONEncoder(encoderConfig())
	default:
		return fmt.Errorf("unsupported log format: %s", format)
	}

	output.Lock()
	defer output.Unlock()
	output.encoder = encoder
	output.level = ParseLogLevel(level)
	return nil
}

// Logger provides structured logging with context
type Logger struct {
	prefix string
	level  zap.AtomicLevel
	sugar  *zap.SugaredLogger
}

// NewLogger creates a new logger with a given prefix
func NewLogger(prefix string, logLevel ...LogLevel) *Logger {
	output.RLock()
	encoder := output.encoder.Clone()
	sink := output.sink
	levelValue := output.level
	output.RUnlock()

	if len(logLevel) > 0 {
		levelValue = logLevel[0]
	}
	level := zap.NewAtomicLevelAt(levelValue.zapLevel())

	core := zapcore.NewCore(encoder, sink, level)
	return &Logger{
		prefix: prefix,
		level:  level,
		sugar:  zap.New(core).Named(prefix).Sugar(),
	}
}

// NewLoggerFromZap wraps an existing zap logger, e.g. an observer in tests.
func NewLoggerFromZap(prefix string, z *zap.Logger) *Logger {
	return &Logger{
		prefix: prefix,
		level:  zap.NewAtomicLevelAt(zapcore.DebugLevel),
		sugar:  z.Named(prefix).Sugar(),
	}
}

// SetLogLevel sets the logging level
func (l *Logger) SetLogLevel(logLevel LogLevel) {
	l.level.SetLevel(logLevel.zapLevel())
}

// Info logs an informational message
func (l *Logger) Info(msg string, keyvals ...interface{}) {
	l.sugar.Infow(msg, keyvals...)
}

// Error logs an error message
func (l *Logger) Error(msg string, keyvals ...interface{}) {
	l.sugar.Errorw(msg, keyvals...)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, keyvals ...interface{}) {
	l.sugar.Warnw(msg, keyvals...)
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, keyvals ...interface{}) {
	l.sugar.Debugw(msg, keyvals...)
}

// Sync flushes buffered log entries.
func (l *Logger) Sync() error {
	return l.sugar.Sync()
}
