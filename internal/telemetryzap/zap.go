// Package telemetryzap adapts go.uber.org/zap to the telemetry.Logger seam.
package telemetryzap

import (
	"context"

	"go.uber.org/zap"

	"github.com/ulifeai/agentb/telemetry"
)

// Logger wraps a *zap.SugaredLogger for runtime logging. The variadic
// keyvals a caller passes to Debug/Info/Warn/Error map onto zap's own
// alternating key/value convention unchanged.
type Logger struct {
	sugar *zap.SugaredLogger
}

// New wraps an already-configured *zap.Logger.
func New(l *zap.Logger) telemetry.Logger {
	return &Logger{sugar: l.Sugar()}
}

// NewProduction builds a Logger from zap's production defaults (JSON
// encoding, info level, sampling).
func NewProduction() (telemetry.Logger, error) {
	l, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return New(l), nil
}

func (l *Logger) Debug(_ context.Context, msg string, keyvals ...any) {
	l.sugar.Debugw(msg, keyvals...)
}

func (l *Logger) Info(_ context.Context, msg string, keyvals ...any) {
	l.sugar.Infow(msg, keyvals...)
}

func (l *Logger) Warn(_ context.Context, msg string, keyvals ...any) {
	l.sugar.Warnw(msg, keyvals...)
}

func (l *Logger) Error(_ context.Context, msg string, keyvals ...any) {
	l.sugar.Errorw(msg, keyvals...)
}
