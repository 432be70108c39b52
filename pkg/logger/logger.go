// Package logger defines the logging surface used across the SDK.
// Implementations exist for log/slog and zerolog; anything that can accept
// a message plus alternating key/value args satisfies it.
package logger

// Logger accepts a message and alternating key/value arguments, in the
// style of log/slog.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	Info(msg string, args ...any)
	Debug(msg string, args ...any)
}

// Nop discards everything. Used as the default when the caller does not
// configure logging.
type Nop struct{}

func (Nop) Error(msg string, args ...any) {}
func (Nop) Warn(msg string, args ...any)  {}
func (Nop) Info(msg string, args ...any)  {}
func (Nop) Debug(msg string, args ...any) {}
