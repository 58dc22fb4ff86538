package rediscluster

import "github.com/sirupsen/logrus"

// Logger is the injected sink for events the core wants observed: a
// topology refresh that failed is reported through Warnf. A refresh skipped
// because another is in progress, and a failed latency-strategy probe, are
// not logged. It is never used for request/response data.
type Logger interface {
	Debugf(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// noopLogger is the default: the core stays silent unless a caller opts in,
// matching the teacher's library-not-application posture.
type noopLogger struct{}

func (noopLogger) Debugf(string, ...interface{}) {}
func (noopLogger) Warnf(string, ...interface{})  {}
func (noopLogger) Errorf(string, ...interface{}) {}

// LogrusLogger adapts a *logrus.Logger (or logrus.StandardLogger()) to the
// Logger interface.
type LogrusLogger struct {
	Entry *logrus.Logger
}

// NewLogrusLogger wraps l as a Logger. If l is nil, logrus.StandardLogger()
// is used.
func NewLogrusLogger(l *logrus.Logger) *LogrusLogger {
	if l == nil {
		l = logrus.StandardLogger()
	}
	return &LogrusLogger{Entry: l}
}

func (l *LogrusLogger) Debugf(format string, args ...interface{}) {
	l.Entry.Debugf(format, args...)
}

func (l *LogrusLogger) Warnf(format string, args ...interface{}) {
	l.Entry.Warnf(format, args...)
}

func (l *LogrusLogger) Errorf(format string, args ...interface{}) {
	l.Entry.Errorf(format, args...)
}
