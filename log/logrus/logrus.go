package logrus

import (
	"github.com/sirupsen/logrus"

	"github.com/unkn0wn-root/dualcache"
)

var _ dualcache.Logger = LogrusLogger{}

type LogrusLogger struct{ E *logrus.Entry }

func (l LogrusLogger) Debug(msg string, f dualcache.Fields) { l.with(f).Debug(msg) }
func (l LogrusLogger) Info(msg string, f dualcache.Fields)  { l.with(f).Info(msg) }
func (l LogrusLogger) Warn(msg string, f dualcache.Fields)  { l.with(f).Warn(msg) }
func (l LogrusLogger) Error(msg string, f dualcache.Fields) { l.with(f).Error(msg) }

func (l LogrusLogger) with(f dualcache.Fields) *logrus.Entry {
	if len(f) == 0 {
		return l.E
	}
	return l.E.WithFields(logrus.Fields(f))
}
