// Package retracklog provides the structured logging used across the
// engine. It generalizes the teacher's logger.New, which returned a
// minimal Infof/Warnf/Errorf logger compatible with the scheduler's
// Logger interface, into a logrus-backed logger that also carries
// structured fields (tracker id/name, job id/type) as required by
// spec.md §7's user-visible error reporting.
package retracklog

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the minimal interface consumed by the engine's components.
// A bare *logrus.Entry does not satisfy it (its WithField/WithFields
// return *logrus.Entry); entryLogger wraps one so WithField/WithFields
// return a Logger and chains compose. Components that only log (no
// field-tagging) can take this interface directly.
type Logger interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	WithField(key string, value any) Logger
	WithFields(fields map[string]any) Logger
}

type entryLogger struct {
	entry *logrus.Entry
}

// New builds a Logger. format is "json" or "text"; level is a logrus
// level string ("debug", "info", "warn", "error"); an empty level
// defaults to "info". component is attached as a static "component" field.
func New(component, level, format string) Logger {
	base := logrus.New()
	base.SetOutput(os.Stdout)
	if format == "text" {
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		base.SetFormatter(&logrus.JSONFormatter{})
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	base.SetLevel(lvl)

	entry := logrus.NewEntry(base)
	if component != "" {
		entry = entry.WithField("component", component)
	}
	return &entryLogger{entry: entry}
}

// NewSilent returns a Logger that discards all output, for tests.
func NewSilent() Logger {
	base := logrus.New()
	base.SetOutput(io.Discard)
	return &entryLogger{entry: logrus.NewEntry(base)}
}

func (l *entryLogger) Infof(format string, args ...any)  { l.entry.Infof(format, args...) }
func (l *entryLogger) Warnf(format string, args ...any)  { l.entry.Warnf(format, args...) }
func (l *entryLogger) Errorf(format string, args ...any) { l.entry.Errorf(format, args...) }

func (l *entryLogger) WithField(key string, value any) Logger {
	return &entryLogger{entry: l.entry.WithField(key, value)}
}

func (l *entryLogger) WithFields(fields map[string]any) Logger {
	return &entryLogger{entry: l.entry.WithFields(logrus.Fields(fields))}
}

// WithTracker returns a Logger carrying tracker_id/tracker_name
// fields, used for the tracker-scoped error reporting of §7.
func WithTracker(l Logger, id, name string) Logger {
	return l.WithFields(map[string]any{"tracker_id": id, "tracker_name": name})
}

// WithJob returns a Logger carrying job_id/job_type fields.
func WithJob(l Logger, id string, jobType any) Logger {
	return l.WithFields(map[string]any{"job_id": id, "job_type": jobType})
}
