// Package logrus adapts a *logrus.Entry to udstore.Logger.
package logrus

import (
	"github.com/sirupsen/logrus"
	"github.com/unkn0wn-root/udstore"
)

var _ udstore.Logger = Logger{}

type Logger struct{ E *logrus.Entry }

func New(l *logrus.Logger) Logger {
	return Logger{E: l.WithField("component", "udstore")}
}

func (l Logger) Debug(msg string, f udstore.Fields) { l.with(f).Debug(msg) }
func (l Logger) Info(msg string, f udstore.Fields)  { l.with(f).Info(msg) }
func (l Logger) Warn(msg string, f udstore.Fields)  { l.with(f).Warn(msg) }
func (l Logger) Error(msg string, f udstore.Fields) { l.with(f).Error(msg) }

// with moves an "err" field to logrus' own error key.
func (l Logger) with(f udstore.Fields) *logrus.Entry {
	e := l.E
	if len(f) == 0 {
		return e
	}
	fs := make(logrus.Fields, len(f))
	for k, v := range f {
		if err, ok := v.(error); ok && k == "err" {
			e = e.WithError(err)
			continue
		}
		if v == nil {
			continue
		}
		fs[k] = v
	}
	return e.WithFields(fs)
}
