package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the printf-style sink used by fetchers and the scanner.
// Warn is for detections a run should surface, Error for fatal conditions.
type Logger interface {
	Log(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// zapLogger adapts a zap SugaredLogger to Logger.
type zapLogger struct {
	sugar *zap.SugaredLogger
}

func (z *zapLogger) Log(format string, args ...any) {
	z.sugar.Infof(format, args...)
}

func (z *zapLogger) Warn(format string, args ...any) {
	z.sugar.Warnf(format, args...)
}

func (z *zapLogger) Error(format string, args ...any) {
	z.sugar.Errorf(format, args...)
}

// nopLogger discards everything.
type nopLogger struct{}

func (nopLogger) Log(string, ...any)   {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// workerLogger wraps a logger with worker ID prefix.
type workerLogger struct {
	id   string
	base Logger
}

func (w *workerLogger) Log(format string, args ...any) {
	w.base.Log("[%s] "+format, append([]any{w.id}, args...)...)
}

func (w *workerLogger) Warn(format string, args ...any) {
	w.base.Warn("[%s] "+format, append([]any{w.id}, args...)...)
}

func (w *workerLogger) Error(format string, args ...any) {
	w.base.Error("[%s] "+format, append([]any{w.id}, args...)...)
}

// NewLogger builds a zap logger writing console output to stderr and, when
// logFile is set, JSON lines to that file.
func NewLogger(level, logFile string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("failed to parse log level: %w", err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stderr), lvl),
	}

	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(f), lvl))
	}

	return zap.New(zapcore.NewTee(cores...)), nil
}
