// Package logger defines the small keyval logging contract the rule
// engine writes to, with backends for the phuslu-style log package,
// log/slog, and a no-op logger for tests.
package logger

type Logger interface {
	Error(msg string, keyvals ...any)
	Warn(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Debug(msg string, keyvals ...any)
}
