package log

import "context"

// NopLogger drops every event.
type NopLogger struct{}

// NewNop creates a no-op logger.
func NewNop() Logger {
	return &NopLogger{}
}

// Log drops all log events.
func (l *NopLogger) Log(context.Context, Level, string, ...Field) {}

// With returns the same no-op logger.
func (l *NopLogger) With(...Field) Logger {
	return l
}

// WithGroup returns the same no-op logger.
func (l *NopLogger) WithGroup(string) Logger {
	return l
}

// Enabled always returns false.
func (l *NopLogger) Enabled(Level) bool {
	return false
}

// Sync is a no-op and always returns nil.
func (l *NopLogger) Sync(context.Context) error { return nil }

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l Logger) Logger {
	if l == nil {
		return NewNop()
	}
	return l
}
