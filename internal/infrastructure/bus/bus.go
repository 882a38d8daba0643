package bus

// Handler is the callback signature for received events.
//
// It is a type alias so that packages consuming a bus through their own
// minimal interface do not need to import this one. Handlers may be
// invoked from separate goroutines and should not block for extended
// periods.
type Handler = func(event string, payload map[string]any)

// Logger is the optional logging interface used by bus implementations.
type Logger interface {
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
