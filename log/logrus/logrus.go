// Package logrus adapts a logrus entry to fetchcache.Logger.
package logrus

import (
	"github.com/sirupsen/logrus"

	"github.com/unkn0wn-root/fetchcache"
)

var _ fetchcache.Logger = LogrusLogger{}

type LogrusLogger struct{ E *logrus.Entry }

func New(l *logrus.Logger) LogrusLogger { return LogrusLogger{E: logrus.NewEntry(l)} }

func (l LogrusLogger) Debug(msg string, f fetchcache.Fields) { l.with(f).Debug(msg) }
func (l LogrusLogger) Info(msg string, f fetchcache.Fields)  { l.with(f).Info(msg) }
func (l LogrusLogger) Warn(msg string, f fetchcache.Fields)  { l.with(f).Warn(msg) }
func (l LogrusLogger) Error(msg string, f fetchcache.Fields) { l.with(f).Error(msg) }

// with maps an "err" field onto logrus' error key.
func (l LogrusLogger) with(f fetchcache.Fields) *logrus.Entry {
	if len(f) == 0 {
		return l.E
	}
	fields := make(logrus.Fields, len(f))
	for k, v := range f {
		if k == "err" {
			if err, ok := v.(error); ok {
				fields[logrus.ErrorKey] = err
				continue
			}
		}
		fields[k] = v
	}
	return l.E.WithFields(fields)
}
