package udstore

// Fields are structured log attributes.
type Fields map[string]any

// With returns f with k set, allocating when f is nil.
func (f Fields) With(k string, v any) Fields {
	if f == nil {
		f = make(Fields, 1)
	}
	f[k] = v
	return f
}

// recordFields names one stored record.
func recordFields(ns, key, backend string) Fields {
	return Fields{"ns": ns, "key": key, "backend": backend}
}

// Logger is the leveled logger the store writes to. Adapters for zap,
// logrus and slog live under log/. A nil Logger in Options disables logging.
type Logger interface {
	Debug(msg string, f Fields)
	Info(msg string, f Fields)
	Warn(msg string, f Fields)
	Error(msg string, f Fields)
}

type NopLogger struct{}

func (NopLogger) Debug(string, Fields) {}
func (NopLogger) Info(string, Fields)  {}
func (NopLogger) Warn(string, Fields)  {}
func (NopLogger) Error(string, Fields) {}
