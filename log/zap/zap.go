// Package zap adapts a *zap.Logger to udstore.Logger.
package zap

import (
	"sort"
	"time"

	"github.com/unkn0wn-root/udstore"
	"go.uber.org/zap"
)

var _ udstore.Logger = Logger{}

type Logger struct{ L *zap.Logger }

// New names the logger "udstore" so store output can be filtered.
func New(l *zap.Logger) Logger { return Logger{L: l.Named("udstore")} }

func (z Logger) Debug(msg string, f udstore.Fields) { z.L.Debug(msg, fields(f)...) }
func (z Logger) Info(msg string, f udstore.Fields)  { z.L.Info(msg, fields(f)...) }
func (z Logger) Warn(msg string, f udstore.Fields)  { z.L.Warn(msg, fields(f)...) }
func (z Logger) Error(msg string, f udstore.Fields) { z.L.Error(msg, fields(f)...) }

// fields sorts keys so encoded lines are stable.
func fields(f udstore.Fields) []zap.Field {
	if len(f) == 0 {
		return nil
	}
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]zap.Field, 0, len(f))
	for _, k := range keys {
		switch v := f[k].(type) {
		case nil:
			// skip; a nil err is noise
		case error:
			out = append(out, zap.NamedError(k, v))
		case string:
			out = append(out, zap.String(k, v))
		case int:
			out = append(out, zap.Int(k, v))
		case time.Duration:
			out = append(out, zap.Duration(k, v))
		default:
			out = append(out, zap.Any(k, v))
		}
	}
	return out
}
