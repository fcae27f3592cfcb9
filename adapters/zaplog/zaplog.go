// Package zaplog adapts *zap.Logger to shared.Logger.
package zaplog

import (
	"go.uber.org/zap"

	"github.com/kolosys/pipelinekit/shared"
)

// Logger wraps a *zap.Logger as a shared.Logger.
type Logger struct {
	z *zap.Logger
}

// New wraps z. A nil z uses zap.NewNop().
func New(z *zap.Logger) *Logger {
	if z == nil {
		z = zap.NewNop()
	}
	return &Logger{z: z}
}

func (l *Logger) Debug(msg string, kv ...any) { l.z.Sugar().Debugw(msg, kv...) }
func (l *Logger) Info(msg string, kv ...any)  { l.z.Sugar().Infow(msg, kv...) }
func (l *Logger) Warn(msg string, kv ...any)  { l.z.Sugar().Warnw(msg, kv...) }

func (l *Logger) Error(msg string, err error, kv ...any) {
	if err != nil {
		kv = append(kv, "error", err)
	}
	l.z.Sugar().Errorw(msg, kv...)
}

var _ shared.Logger = (*Logger)(nil)
