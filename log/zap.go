package log

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapConfig configures NewZap.
type ZapConfig struct {
	Level       Level
	Development bool // console encoding with caller info instead of JSON
	Name        string
}

// ZapLogger implements Logger on top of zap.
type ZapLogger struct {
	logger *zap.Logger
	level  zap.AtomicLevel
}

var _ Logger = (*ZapLogger)(nil)

// NewZap builds a zap-backed logger writing to stderr.
func NewZap(cfg ZapConfig) (*ZapLogger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(levelToZap(cfg.Level))
	l, err := zc.Build()
	if err != nil {
		return nil, err
	}
	if cfg.Name != "" {
		l = l.Named(cfg.Name)
	}
	return &ZapLogger{logger: l, level: zc.Level}, nil
}

// WrapZap wraps an existing zap logger. The level controls Enabled and
// SetLevel; it should be the level the logger's core was built with.
func WrapZap(l *zap.Logger, level zap.AtomicLevel) *ZapLogger {
	return &ZapLogger{logger: l, level: level}
}

func (l *ZapLogger) must() *zap.Logger {
	if l == nil || l.logger == nil {
		return zap.NewNop()
	}
	return l.logger
}

// Log dispatches to the zap level matching level. If ctx carries an active
// OpenTelemetry span, trace_id and span_id are appended.
func (l *ZapLogger) Log(ctx context.Context, level Level, msg string, fields ...Field) {
	zf := fieldsToZap(fields)
	if ctx != nil {
		if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
			zf = append(zf,
				zap.String("trace_id", sc.TraceID().String()),
				zap.String("span_id", sc.SpanID().String()),
			)
		}
	}
	switch level {
	case LevelDebug:
		l.must().Debug(msg, zf...)
	case LevelWarn:
		l.must().Warn(msg, zf...)
	case LevelError:
		l.must().Error(msg, zf...)
	default:
		l.must().Info(msg, zf...)
	}
}

// With returns a child logger with additional fields.
func (l *ZapLogger) With(fields ...Field) Logger {
	return &ZapLogger{logger: l.must().With(fieldsToZap(fields)...), level: l.level}
}

// WithGroup returns a child logger that nests subsequent fields under name.
func (l *ZapLogger) WithGroup(name string) Logger {
	return &ZapLogger{logger: l.must().With(zap.Namespace(name)), level: l.level}
}

// Enabled reports whether the logger would emit at level.
func (l *ZapLogger) Enabled(level Level) bool {
	return l.must().Core().Enabled(levelToZap(level))
}

// SetLevel changes the level of this logger and every logger derived from it.
func (l *ZapLogger) SetLevel(level Level) {
	l.level.SetLevel(levelToZap(level))
}

// Sync flushes buffered logs, respecting context cancellation.
func (l *ZapLogger) Sync(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() {
		done <- l.must().Sync()
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

func levelToZap(level Level) zapcore.Level {
	switch level {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func fieldsToZap(fields []Field) []zap.Field {
	zf := make([]zap.Field, len(fields))
	for i, f := range fields {
		if err, ok := f.Value.(error); ok && f.Key == "error" {
			zf[i] = zap.Error(err)
			continue
		}
		zf[i] = zap.Any(f.Key, f.Value)
	}
	return zf
}
