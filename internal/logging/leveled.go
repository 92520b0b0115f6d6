package logging

import "github.com/rs/zerolog"

// Leveled adapts Logger to the key/value leveled logger interface used by
// go-retryablehttp. Info and Debug messages go to debug level; retryablehttp
// logs every request at that level.
type Leveled struct {
	l *Logger
}

// Leveled returns the key/value adapter for l.
func (l *Logger) Leveled() *Leveled {
	return &Leveled{l: l}
}

func (a *Leveled) Error(msg string, keysAndValues ...interface{}) {
	withFields(a.l.Error(), keysAndValues).Msg(msg)
}

func (a *Leveled) Warn(msg string, keysAndValues ...interface{}) {
	withFields(a.l.Warn(), keysAndValues).Msg(msg)
}

func (a *Leveled) Info(msg string, keysAndValues ...interface{}) {
	withFields(a.l.Debug(), keysAndValues).Msg(msg)
}

func (a *Leveled) Debug(msg string, keysAndValues ...interface{}) {
	withFields(a.l.Debug(), keysAndValues).Msg(msg)
}

func withFields(e *zerolog.Event, kv []interface{}) *zerolog.Event {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		e = e.Interface(key, kv[i+1])
	}
	return e
}
