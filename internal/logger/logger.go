package logger

import (
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// Logger writes leveled, structured lines either as text or as one JSON
// object per line. A nil *Logger discards everything.
type Logger struct {
	l      *logrus.Logger
	fields logrus.Fields
	json   bool
}

func New(jsonOutput bool) *Logger {
	return NewWithWriter(os.Stdout, jsonOutput)
}

func NewWithWriter(w io.Writer, jsonOutput bool) *Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(logrus.InfoLevel)
	if jsonOutput {
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap:        logrus.FieldMap{logrus.FieldKeyTime: "ts"},
		})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, DisableColors: true})
	}
	return &Logger{l: l, json: jsonOutput}
}

// SetVerbose enables debug output.
func (l *Logger) SetVerbose(v bool) {
	if l == nil {
		return
	}
	if v {
		l.l.SetLevel(logrus.DebugLevel)
	} else {
		l.l.SetLevel(logrus.InfoLevel)
	}
}

// With returns a logger that adds fields to every line.
func (l *Logger) With(fields map[string]any) *Logger {
	if l == nil {
		return nil
	}
	merged := make(logrus.Fields, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Logger{l: l.l, fields: merged, json: l.json}
}

func (l *Logger) log(level logrus.Level, msg string, fields map[string]any) {
	if l == nil {
		return
	}
	l.l.WithFields(l.fields).WithFields(logrus.Fields(fields)).Log(level, msg)
}

func (l *Logger) Debug(msg string, fields map[string]any) { l.log(logrus.DebugLevel, msg, fields) }
func (l *Logger) Info(msg string, fields map[string]any)  { l.log(logrus.InfoLevel, msg, fields) }
func (l *Logger) Warn(msg string, fields map[string]any)  { l.log(logrus.WarnLevel, msg, fields) }
func (l *Logger) Error(msg string, fields map[string]any) { l.log(logrus.ErrorLevel, msg, fields) }

// JSONEnabled reports whether this logger is configured to emit JSON output.
func (l *Logger) JSONEnabled() bool { return l != nil && l.json }
