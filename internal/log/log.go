// Package log wraps go.uber.org/zap with a context-aware, package-level API:
// every call site passes the request's context.Context so that hooks can
// attach correlation fields (trace ID, operation name) without plumbing them
// through every function signature.
package log

import (
	"context"
	"os"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Field is a re-export of zap.Field so call sites never import zap directly.
type Field = zap.Field

var (
	String = zap.String
	Int    = zap.Int
	Int64  = zap.Int64
	Bool   = zap.Bool
	Any    = zap.Any
	Error_ = zap.Error
)

// Cause attaches err under the conventional "error" key.
func Cause(err error) Field {
	return zap.Error(err)
}

// Hook runs against every log call, contributing extra fields derived from
// ctx. Hooks let cross-cutting concerns (trace correlation) stay out of call
// sites.
type Hook interface {
	Apply(ctx context.Context, msg string) []Field
}

// HookFunc adapts a plain function to Hook.
type HookFunc func(ctx context.Context, msg string, fields ...Field) []Field

func (f HookFunc) Apply(ctx context.Context, msg string) []Field {
	return f(ctx, msg)
}

// Logger wraps a *zap.Logger plus a set of hooks.
type Logger struct {
	mu    sync.RWMutex
	zl    *zap.Logger
	hooks []Hook
	level zap.AtomicLevel
}

func newLogger(zl *zap.Logger, level zap.AtomicLevel) *Logger {
	return &Logger{zl: zl, level: level}
}

// New builds a Logger writing JSON to stdout (and, if rotatePath is set, to a
// rotated file via lumberjack) at the given level ("debug", "info", "warn",
// "error").
func New(levelName string, rotatePath string) *Logger {
	level := zap.NewAtomicLevel()

	if err := level.UnmarshalText([]byte(levelName)); err != nil {
		level.SetLevel(zapcore.InfoLevel)
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	writers := []zapcore.WriteSyncer{zapcore.AddSync(os.Stdout)}

	if rotatePath != "" {
		writers = append(writers, zapcore.AddSync(&lumberjack.Logger{
			Filename:   rotatePath,
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     28,
			Compress:   true,
		}))
	}

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderCfg),
		zapcore.NewMultiWriteSyncer(writers...),
		level,
	)

	return newLogger(zap.New(core, zap.AddCaller()), level)
}

// AddHook registers an extra field-contributing hook.
func (l *Logger) AddHook(h Hook) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hooks = append(l.hooks, h)
}

func (l *Logger) collect(ctx context.Context, msg string, fields []Field) []Field {
	l.mu.RLock()
	hooks := l.hooks
	l.mu.RUnlock()

	for _, h := range hooks {
		fields = append(fields, h.Apply(ctx, msg)...)
	}

	return fields
}

func (l *Logger) Debug(ctx context.Context, msg string, fields ...Field) {
	l.zl.Debug(msg, l.collect(ctx, msg, fields)...)
}

func (l *Logger) Info(ctx context.Context, msg string, fields ...Field) {
	l.zl.Info(msg, l.collect(ctx, msg, fields)...)
}

func (l *Logger) Warn(ctx context.Context, msg string, fields ...Field) {
	l.zl.Warn(msg, l.collect(ctx, msg, fields)...)
}

func (l *Logger) Error(ctx context.Context, msg string, fields ...Field) {
	l.zl.Error(msg, l.collect(ctx, msg, fields)...)
}

// DebugEnabled reports whether debug-level logs would actually be emitted,
// so callers can skip serializing expensive payloads (full request/response
// bodies) when they'd be discarded anyway.
func (l *Logger) DebugEnabled(ctx context.Context) bool {
	return l.level.Enabled(zapcore.DebugLevel)
}

var defaultLogger atomic.Pointer[Logger]

func init() {
	defaultLogger.Store(New("info", ""))
}

// SetDefault installs l as the package-level default logger used by the
// free functions below.
func SetDefault(l *Logger) {
	defaultLogger.Store(l)
}

func Default() *Logger {
	return defaultLogger.Load()
}

func Debug(ctx context.Context, msg string, fields ...Field) { Default().Debug(ctx, msg, fields...) }
func Info(ctx context.Context, msg string, fields ...Field)  { Default().Info(ctx, msg, fields...) }
func Warn(ctx context.Context, msg string, fields ...Field)  { Default().Warn(ctx, msg, fields...) }
func Error(ctx context.Context, msg string, fields ...Field) { Default().Error(ctx, msg, fields...) }

func DebugEnabled(ctx context.Context) bool { return Default().DebugEnabled(ctx) }
