package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggerConfig holds the logger settings
type LoggerConfig struct {
	Level    string // debug, info, warn, error
	Encoding string // json or console
	File     string // optional log file, stdout is always written
}

// Logger is a structured logger backed by zap
type Logger struct {
	mu  sync.RWMutex
	zap *zap.Logger
}

var (
	globalLogger *Logger
	loggerOnce   sync.Once
)

// GetLogger returns the global logger instance
func GetLogger() *Logger {
	loggerOnce.Do(func() {
		z, err := buildZap(LoggerConfig{Level: "info", Encoding: "console"})
		if err != nil {
			z = zap.NewNop()
		}
		globalLogger = &Logger{zap: z}
	})
	return globalLogger
}

// InitLogger reconfigures the global logger
func InitLogger(cfg LoggerConfig) error {
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	z, err := buildZap(cfg)
	if err != nil {
		return err
	}

	logger := GetLogger()
	logger.mu.Lock()
	old := logger.zap
	logger.zap = z
	logger.mu.Unlock()

	_ = old.Sync()
	return nil
}

// NewNopLogger returns a logger that discards everything, used by tests
func NewNopLogger() *Logger {
	return &Logger{zap: zap.NewNop()}
}

func buildZap(cfg LoggerConfig) (*zap.Logger, error) {
	level := zap.NewAtomicLevel()
	levelName := strings.ToLower(cfg.Level)
	if levelName == "" {
		levelName = "info"
	}
	if err := level.UnmarshalText([]byte(levelName)); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid log level '%s', using 'info'. Error: %v\n", cfg.Level, err)
		level.SetLevel(zap.InfoLevel)
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "timestamp"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	encoding := strings.ToLower(cfg.Encoding)
	if encoding != "console" && encoding != "json" {
		encoding = "console"
	}

	outputs := []string{"stdout"}
	if cfg.File != "" {
		outputs = append(outputs, cfg.File)
	}

	zapCfg := zap.Config{
		Level:             level,
		DisableStacktrace: true,
		Encoding:          encoding,
		EncoderConfig:     encoderCfg,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
	}

	z, err := zapCfg.Build(zap.AddCallerSkip(2))
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return z, nil
}

// Zap exposes the underlying zap logger
func (l *Logger) Zap() *zap.Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.zap
}

// Sync flushes buffered entries
func (l *Logger) Sync() error {
	return l.Zap().Sync()
}

func toZapFields(fields map[string]interface{}) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	out := make([]zap.Field, 0, len(fields))
	for key, value := range fields {
		if err, ok := value.(error); ok {
			out = append(out, zap.NamedError(key, err))
			continue
		}
		out = append(out, zap.Any(key, value))
	}
	return out
}

func (l *Logger) log(level zapcore.Level, message string, fields map[string]interface{}) {
	z := l.Zap()
	if ce := z.Check(level, message); ce != nil {
		ce.Write(toZapFields(fields)...)
	}
}

// Debug logs a debug message
func (l *Logger) Debug(message string, fields map[string]interface{}) {
	l.log(zapcore.DebugLevel, message, fields)
}

// Info logs an info message
func (l *Logger) Info(message string, fields map[string]interface{}) {
	l.log(zapcore.InfoLevel, message, fields)
}

// Warn logs a warning message
func (l *Logger) Warn(message string, fields map[string]interface{}) {
	l.log(zapcore.WarnLevel, message, fields)
}

// Error logs an error message
func (l *Logger) Error(message string, fields map[string]interface{}) {
	l.log(zapcore.ErrorLevel, message, fields)
}

// Fatal logs a fatal message and exits
func (l *Logger) Fatal(message string, fields map[string]interface{}) {
	l.log(zapcore.FatalLevel, message, fields)
}

// Debugf logs a formatted debug message
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.log(zapcore.DebugLevel, fmt.Sprintf(format, args...), nil)
}

// Infof logs a formatted info message
func (l *Logger) Infof(format string, args ...interface{}) {
	l.log(zapcore.InfoLevel, fmt.Sprintf(format, args...), nil)
}

// Warnf logs a formatted warning message
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.log(zapcore.WarnLevel, fmt.Sprintf(format, args...), nil)
}

// Errorf logs a formatted error message
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.log(zapcore.ErrorLevel, fmt.Sprintf(format, args...), nil)
}

// Fatalf logs a formatted fatal message and exits
func (l *Logger) Fatalf(format string, args ...interface{}) {
	l.log(zapcore.FatalLevel, fmt.Sprintf(format, args...), nil)
}
